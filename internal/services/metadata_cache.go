package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

const metadataKeyPrefix = "dungeon:metadata:"

// CachedStore wraps a metadata.Store and keeps fetched documents in a cache.
// Documents are immutable per reference, so entries never go stale; they are
// dropped when the reference is released. Cache failures only cost a round
// trip to the inner store.
type CachedStore struct {
	inner  metadata.Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ metadata.Store = (*CachedStore)(nil)

func NewCachedStore(inner metadata.Store, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedStore) Publish(ctx context.Context, doc *metadata.Document) (metadata.Ref, error) {
	ref, err := c.inner.Publish(ctx, doc)
	if err != nil {
		return "", err
	}
	c.store(ctx, ref, doc)
	return ref, nil
}

func (c *CachedStore) Fetch(ctx context.Context, ref metadata.Ref) (*metadata.Document, error) {
	cached, err := c.cache.Get(ctx, metadataKeyPrefix+ref.String())
	if err != nil {
		c.logger.Warn("Metadata cache read failed", "metadata_ref", ref, "error", err)
	}
	if cached != "" {
		var doc metadata.Document
		if err := json.Unmarshal([]byte(cached), &doc); err == nil {
			return &doc, nil
		}
		c.logger.Warn("Discarding corrupt metadata cache entry", "metadata_ref", ref)
	}

	doc, err := c.inner.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.store(ctx, ref, doc)
	return doc, nil
}

func (c *CachedStore) Release(ctx context.Context, ref metadata.Ref) error {
	if err := c.inner.Release(ctx, ref); err != nil {
		return err
	}
	if err := c.cache.Del(ctx, metadataKeyPrefix+ref.String()); err != nil {
		c.logger.Warn("Metadata cache delete failed", "metadata_ref", ref, "error", err)
	}
	return nil
}

func (c *CachedStore) store(ctx context.Context, ref metadata.Ref, doc *metadata.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, metadataKeyPrefix+ref.String(), data, c.ttl); err != nil {
		c.logger.Warn("Metadata cache write failed", "metadata_ref", ref, "error", err)
	}
}
