package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinata serves the pinning endpoints and a gateway from one server.
type fakePinata struct {
	mu       sync.Mutex
	pinned   map[string][]byte
	unpinned []string
	requests []pinJSONRequest
}

func newFakePinata(t *testing.T) (*fakePinata, *httptest.Server) {
	f := &fakePinata{pinned: map[string][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pinning/pinJSONToIPFS", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		var req pinJSONRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		content, _ := json.Marshal(req.PinataContent)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		cid := "bafy" + strings.Repeat("a", len(f.requests))
		f.pinned[cid] = content
		f.mu.Unlock()

		_, _ = w.Write([]byte(`{"IpfsHash":"` + cid + `","PinSize":120,"Timestamp":"2024-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("DELETE /pinning/unpin/{cid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cid := r.PathValue("cid")
		if _, ok := f.pinned[cid]; !ok {
			http.Error(w, "not pinned", http.StatusNotFound)
			return
		}
		delete(f.pinned, cid)
		f.unpinned = append(f.unpinned, cid)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /ipfs/{cid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		data, ok := f.pinned[r.PathValue("cid")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return f, server
}

func sampleDocument() *metadata.Document {
	return &metadata.Document{
		Name:        "Aria Stormwind",
		Description: "A wandering bard",
		Image:       "ipfs://bafyimage",
		Attributes: []metadata.Trait{
			{TraitType: "level", Value: 1},
			{TraitType: "hit point", Value: 12},
		},
	}
}

func TestPinataStore_PublishFetchRelease(t *testing.T) {
	fake, server := newFakePinata(t)
	store := NewPinataStore("jwt-token", server.URL, server.URL+"/ipfs", discardLogger())
	ctx := context.Background()

	ref, err := store.Publish(ctx, sampleDocument())
	require.NoError(t, err)
	assert.Equal(t, metadata.Ref("bafya"), ref)
	assert.Equal(t, server.URL+"/ipfs/bafya", store.TokenURI(ref))

	require.Len(t, fake.requests, 1)
	assert.Equal(t, 1, fake.requests[0].PinataOptions.CIDVersion)
	assert.Equal(t, "aria-stormwind.json", fake.requests[0].PinataMetadata.Name)

	doc, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Aria Stormwind", doc.Name)
	hp, err := doc.IntTrait("hit point")
	require.NoError(t, err)
	assert.Equal(t, 12, hp)

	require.NoError(t, store.Release(ctx, ref))
	assert.Equal(t, []string{"bafya"}, fake.unpinned)

	// second release and fetch after unpin
	assert.NoError(t, store.Release(ctx, ref))
	_, err = store.Fetch(ctx, ref)
	assert.True(t, errors.Is(err, metadata.ErrNotFound))
}

func TestPinataStore_PublishRejectsInvalidDocument(t *testing.T) {
	fake, server := newFakePinata(t)
	store := NewPinataStore("jwt-token", server.URL, server.URL+"/ipfs/", discardLogger())

	_, err := store.Publish(context.Background(), &metadata.Document{Name: "Nobody"})
	assert.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestPinataStore_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Invalid authentication"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	store := NewPinataStore("bad", server.URL, server.URL, discardLogger())
	ctx := context.Background()

	_, err := store.Publish(ctx, sampleDocument())
	assert.ErrorContains(t, err, "status 401")

	err = store.Release(ctx, "bafyx")
	assert.ErrorContains(t, err, "status 401")

	_, err = store.Fetch(ctx, "")
	assert.True(t, errors.Is(err, metadata.ErrNotFound))
}
