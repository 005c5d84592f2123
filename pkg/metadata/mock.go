package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockStore is an in-memory Store for testing. It records every call so
// tests can assert ordering and arguments.
type MockStore struct {
	mu       sync.Mutex
	docs     map[Ref][]byte
	released map[Ref]bool
	next     int

	PublishFunc func(ctx context.Context, doc *Document) (Ref, error)
	FetchFunc   func(ctx context.Context, ref Ref) (*Document, error)
	ReleaseFunc func(ctx context.Context, ref Ref) error

	Published   []Document
	ReleasedRef []Ref
	FetchCalls  int
	Calls       []string // "publish", "fetch", "release" in call order
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		docs:     make(map[Ref][]byte),
		released: make(map[Ref]bool),
	}
}

// Put seeds a document under a fixed ref.
func (m *MockStore) Put(ref Ref, doc *Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := json.Marshal(doc)
	m.docs[ref] = data
}

func (m *MockStore) Publish(ctx context.Context, doc *Document) (Ref, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, "publish")
	m.Published = append(m.Published, *doc)
	fn := m.PublishFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, doc)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := Ref(fmt.Sprintf("mock-cid-%d", m.next))
	m.docs[ref] = data
	return ref, nil
}

func (m *MockStore) Fetch(ctx context.Context, ref Ref) (*Document, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, "fetch")
	m.FetchCalls++
	fn := m.FetchFunc
	data, ok := m.docs[ref]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, ref)
	}
	if !ok {
		return nil, ErrNotFound
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *MockStore) Release(ctx context.Context, ref Ref) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, "release")
	m.ReleasedRef = append(m.ReleasedRef, ref)
	fn := m.ReleaseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, ref)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.released[ref] = true
	return nil
}

// IsReleased reports whether ref was released through the default path.
func (m *MockStore) IsReleased(ref Ref) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released[ref]
}
