// Package respcache keeps the last good provider response per prompt so a
// failed call can fall back to it.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-analyzer/internal/model"
)

const (
	// DefaultTTL is how long a cached response may be served.
	DefaultTTL = 24 * time.Hour
	// DefaultSize bounds the number of cached prompts.
	DefaultSize = 4096
)

type entry struct {
	call     model.LLMCall
	storedAt time.Time
}

// Cache is a bounded, TTL-checked response cache. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, entry]
	ttl     time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a cache holding at most size entries, each honored for ttl.
func New(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entries, err := lru.New[string, entry](size)
	if err != nil {
		return nil, eris.Wrap(err, "respcache: create lru")
	}
	return &Cache{entries: entries, ttl: ttl, nowFunc: time.Now}, nil
}

// WithClock replaces the cache's time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.nowFunc = now
	return c
}

// Key returns the cache key for a provider and fully rendered prompt.
func Key(providerKey, prompt string) string {
	return providerKey + ":" + PromptHash(prompt)
}

// PromptHash returns the hex SHA-256 of prompt.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Put stores call under key, replacing any previous entry.
func (c *Cache) Put(key string, call model.LLMCall) {
	call.Mentions = append([]string(nil), call.Mentions...)
	c.entries.Add(key, entry{call: call, storedAt: c.nowFunc()})
}

// Get returns a cached copy of the call stored under key, marked Cached.
// An entry older than the TTL is evicted and reported as a miss; an entry
// exactly TTL old is still served.
func (c *Cache) Get(key string) (model.LLMCall, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return model.LLMCall{}, false
	}
	if c.nowFunc().Sub(e.storedAt) > c.ttl {
		c.entries.Remove(key)
		return model.LLMCall{}, false
	}
	return e.call.AsCached(), true
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}
