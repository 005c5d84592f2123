package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/session"
	"github.com/muesli/reflow/wordwrap"
)

const (
	AgentName       = "Narrator"
	PlaceHolderText = "What do you do? (quit or exit to leave)"
)

// game is the part of the session manager the chat view drives.
type game interface {
	Submit(ctx context.Context, id uuid.UUID, message string) (session.TurnResult, error)
	End(ctx context.Context, id uuid.UUID) (session.TurnResult, error)
	Get(id uuid.UUID) (session.Snapshot, error)
}

type entry struct {
	user bool
	text string
}

// ConsoleUI is the BubbleTea model for one play session.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	game      game
	sessionID uuid.UUID
	record    character.Record
	entries   []entry
	notice    string

	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool
	ended        bool

	showQuitModal bool
	progressTick  int
}

type turnResultMsg struct {
	result session.TurnResult
	record *character.Record
	err    error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

// NewConsoleUI opens the chat view on a started session. opening is the
// result of session.Manager.Start.
func NewConsoleUI(g game, opening session.TurnResult, rec character.Record) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	return ConsoleUI{
		game:         g,
		sessionID:    opening.SessionID,
		record:       rec,
		entries:      []entry{{text: opening.DisplayText}},
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: viewport.New(20, 20),
	}
}

// writeChatContent rebuilds the chat for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding
	if chatWidth < 10 {
		chatWidth = 10
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("DUNGEON LEDGER") + "\n\n")
	content.WriteString("Type /help for commands.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth)) + "\n\n")

	for _, e := range m.entries {
		if e.user {
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(e.text, chatWidth-5) + "\n\n")
			continue
		}
		content.WriteString(formatNarratorResponse(e.text, chatWidth) + "\n\n")
	}

	if m.notice != "" {
		content.WriteString(m.notice + "\n\n")
	}
	if m.err != nil {
		content.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n\n")
	}
	if m.loading {
		content.WriteString(m.renderProgressBar())
	}
	if m.ended {
		content.WriteString(promptStyle.Render("The session is over. Press any key to return to the menu.") + "\n")
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func (m *ConsoleUI) writeMetadata() {
	m.metaViewport.SetContent(renderSheet(m.record, m.metaViewport.Width-2))
}

func (m *ConsoleUI) resize() {
	chatWidth := int(float64(m.width)*0.70) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m ConsoleUI) Init() tea.Cmd {
	return textarea.Blink
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.writeChatContent()
		m.writeMetadata()

	case tea.KeyMsg:
		if m.ended {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()
			if strings.HasPrefix(input, "/") {
				m.handleCommand(input)
				return m, nil
			}

			m.entries = append(m.entries, entry{user: true, text: input})
			m.err = nil
			m.notice = ""
			m.loading = true
			m.progressTick = 0
			m.writeChatContent()
			return m, tea.Batch(m.submit(input), progressTick())
		}

	case turnResultMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.entries = append(m.entries, entry{text: msg.result.DisplayText})
			if msg.record != nil {
				m.record = *msg.record
			}
			if !msg.result.Synced {
				m.notice = loadingStyle.Render("The ledger could not be updated this turn. Your progress will catch up later.")
			}
			if msg.result.State == session.StateEnded {
				m.ended = true
				m.textarea.Blur()
			}
		}
		m.writeChatContent()
		m.writeMetadata()
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func formatNarratorResponse(response string, width int) string {
	prefix := AgentName + ": "
	wrapped := wordwrap.String(response, width-len(prefix))
	return narratorStyle.Render(prefix) + wrapped
}

func (m *ConsoleUI) handleCommand(input string) {
	switch strings.ToLower(input) {
	case "/help":
		m.notice = titleStyle.Render("Commands:") + `
• /sheet - Show your character sheet
• /copy  - Copy the last narration to the clipboard
• quit or exit - End the session and save your adventure log
• Ctrl+C - Leave without a summary`

	case "/sheet":
		m.notice = renderSheet(m.record, m.chatViewport.Width-6)

	case "/copy":
		last := m.lastNarration()
		if err := clipboard.WriteAll(last); err != nil {
			m.notice = errorStyle.Render("Clipboard unavailable: " + err.Error())
		} else {
			m.notice = promptStyle.Render("Copied the last narration to the clipboard.")
		}

	default:
		m.notice = errorStyle.Render(fmt.Sprintf("Unknown command %q. Try /help.", input))
	}
	m.writeChatContent()
}

func (m ConsoleUI) lastNarration() string {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if !m.entries[i].user {
			return m.entries[i].text
		}
	}
	return ""
}

// submit runs one turn off the UI goroutine and reloads the sheet.
func (m ConsoleUI) submit(input string) tea.Cmd {
	g, id := m.game, m.sessionID
	return func() tea.Msg {
		res, err := g.Submit(context.Background(), id, input)
		if err != nil {
			return turnResultMsg{err: err}
		}
		out := turnResultMsg{result: res}
		if snap, err := g.Get(id); err == nil {
			out.record = &snap.Record
		}
		return out
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N", "esc":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Leave the Dungeon?"))
	content.WriteString("\n\n")
	content.WriteString("Leaving this way skips the adventure log. Type quit instead to have it written.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to leave, N to continue"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.70) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar while the narrator works
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
