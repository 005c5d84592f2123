package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwebster45206/dungeon-ledger/internal/app"
	"github.com/jwebster45206/dungeon-ledger/internal/config"
	"github.com/jwebster45206/dungeon-ledger/internal/logger"
	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/roster"
)

const defaultLogFile = "dungeon-console.log"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if cfg.LogFile == "" {
		cfg.LogFile = defaultLogFile
	}
	log := logger.SetupWriter(cfg, logger.RotatingFile(cfg.LogFile))

	fmt.Println("Connecting to the ledger and the narrator...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	engine, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\nSee %s for details.\n", err, cfg.LogFile)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("Error closing backends", "error", err)
		}
	}()

	m := &menu{engine: engine, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	if err := m.run(); err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

type menu struct {
	engine *app.App
	in     *bufio.Reader
	out    io.Writer
}

func (m *menu) run() error {
	for {
		fmt.Fprintf(m.out, "\nDungeon Ledger (owner %s)\n", m.engine.Owner)
		fmt.Fprintln(m.out, "  1 - Create a character")
		fmt.Fprintln(m.out, "  2 - Start an adventure")
		fmt.Fprintln(m.out, "  3 - List my characters")
		fmt.Fprintln(m.out, "  4 - Burn a character")
		fmt.Fprintln(m.out, "  0 - Exit")

		choice, err := m.prompt("Select: ")
		if err != nil {
			return err
		}

		switch choice {
		case "1":
			err = m.create()
		case "2":
			err = m.play()
		case "3":
			err = m.list()
		case "4":
			err = m.burn()
		case "0", "exit", "quit":
			fmt.Fprintln(m.out, "Farewell.")
			return nil
		default:
			fmt.Fprintln(m.out, "Invalid selection")
			continue
		}
		if errors.Is(err, io.EOF) {
			return err
		}
		if err != nil {
			fmt.Fprintf(m.out, "Error: %v\n", err)
		}
	}
}

func (m *menu) prompt(label string) (string, error) {
	fmt.Fprint(m.out, label)
	line, err := m.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (m *menu) create() error {
	name, err := m.prompt("Name: ")
	if err != nil {
		return err
	}
	desc, err := m.prompt("Description: ")
	if err != nil {
		return err
	}

	fmt.Fprintln(m.out, "Rolling abilities and minting your token...")
	rec, err := m.engine.Roster.Create(context.Background(), roster.CreateRequest{
		Owner:       m.engine.Owner,
		Name:        name,
		Description: desc,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "\n%s\n", renderSheet(rec, 60))
	return nil
}

func (m *menu) list() error {
	records, err := m.engine.Roster.List(context.Background(), m.engine.Owner)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(m.out, "You have no living characters.")
		return nil
	}
	for i, rec := range records {
		fmt.Fprintln(m.out, summaryLine(i+1, rec))
	}
	return nil
}

// choose lists the owner's characters and reads a selection.
func (m *menu) choose() (*character.Record, error) {
	records, err := m.engine.Roster.List(context.Background(), m.engine.Owner)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		fmt.Fprintln(m.out, "You have no living characters. Create one first.")
		return nil, nil
	}
	for i, rec := range records {
		fmt.Fprintln(m.out, summaryLine(i+1, rec))
	}
	answer, err := m.prompt("Character number: ")
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(records) {
		fmt.Fprintln(m.out, "Invalid selection")
		return nil, nil
	}
	return &records[n-1], nil
}

func (m *menu) play() error {
	rec, err := m.choose()
	if err != nil || rec == nil {
		return err
	}

	opening, err := m.engine.Sessions.Start(context.Background(), *rec)
	if err != nil {
		return err
	}
	defer m.engine.Sessions.Remove(opening.SessionID)

	p := tea.NewProgram(NewConsoleUI(m.engine.Sessions, opening, *rec),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running chat view: %w", err)
	}
	return nil
}

func (m *menu) burn() error {
	rec, err := m.choose()
	if err != nil || rec == nil {
		return err
	}
	answer, err := m.prompt(fmt.Sprintf("Burn %s forever? Type the name to confirm: ", rec.Name))
	if err != nil {
		return err
	}
	if !strings.EqualFold(answer, rec.Name) {
		fmt.Fprintln(m.out, "Cancelled.")
		return nil
	}
	if err := m.engine.Roster.Burn(context.Background(), rec.TokenID); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "%s has been burned.\n", rec.Name)
	return nil
}
