package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheStore is the subset of the redis client the cache needs
type cacheStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedRetriever memoizes search results in redis. Cache failures are logged
// and the underlying retriever is used directly.
type CachedRetriever struct {
	next   Retriever
	store  cacheStore
	ttl    time.Duration
	prefix string
}

// NewCachedRetriever wraps next with a redis cache
func NewCachedRetriever(next Retriever, client *redis.Client, ttl time.Duration) *CachedRetriever {
	return newCachedRetriever(next, client, ttl)
}

func newCachedRetriever(next Retriever, store cacheStore, ttl time.Duration) *CachedRetriever {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedRetriever{next: next, store: store, ttl: ttl, prefix: "wyvern:rules:"}
}

func (c *CachedRetriever) key(query string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", limit, strings.ToLower(strings.TrimSpace(query)))))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Search returns cached documents when present, otherwise searches and caches
func (c *CachedRetriever) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	key := c.key(query, limit)

	raw, err := c.store.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var docs []Document
		if jerr := json.Unmarshal(raw, &docs); jerr == nil {
			return docs, nil
		}
		slog.Warn("discarding corrupt rules cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		slog.Warn("rules cache read failed", "error", err)
	}

	docs, err := c.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if body, jerr := json.Marshal(docs); jerr == nil {
		if serr := c.store.Set(ctx, key, body, c.ttl).Err(); serr != nil {
			slog.Warn("rules cache write failed", "error", serr)
		}
	}
	return docs, nil
}
