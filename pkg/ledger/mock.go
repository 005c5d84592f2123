package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

type mockToken struct {
	owner    string
	ref      metadata.Ref
	progress Progress
	burned   bool
}

// MockLedger is an in-memory Ledger for tests. Func fields override the
// default behavior; every call is recorded in Calls.
type MockLedger struct {
	mu     sync.Mutex
	tokens map[TokenID]*mockToken
	nextID TokenID

	CreateCharacterFunc func(ctx context.Context, owner string, ref metadata.Ref) (TokenID, error)
	ApplyExperienceFunc func(ctx context.Context, id TokenID, amount int) (Progress, error)
	SetMetadataRefFunc  func(ctx context.Context, id TokenID, ref metadata.Ref) error
	BurnFunc            func(ctx context.Context, id TokenID) error

	Calls []string
}

// Ensure MockLedger implements Ledger interface
var _ Ledger = (*MockLedger)(nil)

func NewMockLedger() *MockLedger {
	return &MockLedger{tokens: make(map[TokenID]*mockToken)}
}

// Seed registers an existing token.
func (m *MockLedger) Seed(id TokenID, owner string, ref metadata.Ref, p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[id] = &mockToken{owner: strings.ToLower(owner), ref: ref, progress: p}
	if id >= m.nextID {
		m.nextID = id + 1
	}
}

// CallCount returns how many times method was called.
func (m *MockLedger) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *MockLedger) record(method string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, method)
	m.mu.Unlock()
}

func (m *MockLedger) live(id TokenID) (*mockToken, error) {
	tok, ok := m.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	if tok.burned {
		return nil, fmt.Errorf("%w: %s", ErrBurned, id)
	}
	return tok, nil
}

func (m *MockLedger) CreateCharacter(ctx context.Context, owner string, ref metadata.Ref) (TokenID, error) {
	m.record("CreateCharacter")
	if m.CreateCharacterFunc != nil {
		return m.CreateCharacterFunc(ctx, owner, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.tokens[id] = &mockToken{owner: strings.ToLower(owner), ref: ref, progress: Progress{Level: 1}}
	return id, nil
}

func (m *MockLedger) ApplyExperience(ctx context.Context, id TokenID, amount int) (Progress, error) {
	m.record("ApplyExperience")
	if m.ApplyExperienceFunc != nil {
		return m.ApplyExperienceFunc(ctx, id, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.live(id)
	if err != nil {
		return Progress{}, err
	}
	tok.progress = Advance(tok.progress, amount)
	return tok.progress, nil
}

func (m *MockLedger) SetMetadataRef(ctx context.Context, id TokenID, ref metadata.Ref) error {
	m.record("SetMetadataRef")
	if m.SetMetadataRefFunc != nil {
		return m.SetMetadataRefFunc(ctx, id, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.live(id)
	if err != nil {
		return err
	}
	tok.ref = ref
	return nil
}

func (m *MockLedger) Burn(ctx context.Context, id TokenID) error {
	m.record("Burn")
	if m.BurnFunc != nil {
		return m.BurnFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.live(id)
	if err != nil {
		return err
	}
	tok.burned = true
	return nil
}

func (m *MockLedger) OwnerOf(ctx context.Context, id TokenID) (string, error) {
	m.record("OwnerOf")
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.live(id)
	if err != nil {
		return "", err
	}
	return tok.owner, nil
}

func (m *MockLedger) TotalSupply(ctx context.Context) (uint64, error) {
	m.record("TotalSupply")
	m.mu.Lock()
	defer m.mu.Unlock()
	var n uint64
	for _, tok := range m.tokens {
		if !tok.burned {
			n++
		}
	}
	return n, nil
}

func (m *MockLedger) TokensOfOwner(ctx context.Context, owner string) ([]TokenID, error) {
	m.record("TokensOfOwner")
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = strings.ToLower(owner)
	var ids []TokenID
	for id, tok := range m.tokens {
		if tok.owner == owner && !tok.burned {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MockLedger) Progress(ctx context.Context, id TokenID) (Progress, error) {
	m.record("Progress")
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.live(id)
	if err != nil {
		return Progress{}, err
	}
	return tok.progress, nil
}

func (m *MockLedger) MetadataRef(ctx context.Context, id TokenID) (metadata.Ref, error) {
	m.record("MetadataRef")
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.live(id)
	if err != nil {
		return "", err
	}
	return tok.ref, nil
}

// IsBurned reports whether id has been burned through the default path.
func (m *MockLedger) IsBurned(id TokenID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	return ok && tok.burned
}
