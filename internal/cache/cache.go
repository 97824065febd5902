// Package cache keeps recent pipeline results in memory for a bounded time.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// entry holds a cached result together with its expiry
type entry struct {
	result    *aemet.Result
	expiresAt time.Time
}

// Stats describes the cache state
type Stats struct {
	Entries   int       `json:"entries"`
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Enabled   bool      `json:"enabled"`
	TTL       string    `json:"ttl"`
	LastWrite time.Time `json:"last_write"`
}

// Cache manages pipeline results with thread-safe operations
type Cache struct {
	ttl     time.Duration
	entries map[string]entry
	hits    int64
	misses  int64
	written time.Time
	swept   time.Time
	now     func() time.Time
	logger  *logger.Logger
	mu      sync.RWMutex
}

// New creates a new result cache. A zero TTL disables caching.
func New(ttl time.Duration, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNop()
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
		logger:  log.Named("result-cache"),
	}
}

// Key identifies a request. The API key only contributes its hash.
func Key(req aemet.DatasetRequest) string {
	sum := sha256.Sum256([]byte(req.APIKey))
	return string(req.Kind) + "|" + req.MunicipalityCode + "|" + hex.EncodeToString(sum[:8])
}

// Get returns the cached result for req if it has not expired
func (c *Cache) Get(req aemet.DatasetRequest) (*aemet.Result, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[Key(req)]
	if !ok || !c.now().Before(e.expiresAt) {
		if ok {
			delete(c.entries, Key(req))
		}
		c.misses++
		return nil, false
	}
	c.hits++
	return e.result, true
}

// Set stores res under its own request
func (c *Cache) Set(res *aemet.Result) {
	if c.ttl <= 0 || res == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.swept) >= c.ttl {
		c.sweep(now)
	}
	c.entries[Key(res.Request)] = entry{result: res, expiresAt: now.Add(c.ttl)}
	c.written = now

	c.logger.Debug("Result cached",
		logger.String("dataset", string(res.Request.Kind)),
		logger.String("municipality", res.Request.MunicipalityCode),
		logger.Int("rows", len(res.Rows)),
		logger.Time("expires_at", now.Add(c.ttl)))
}

// sweep drops every expired entry. Set runs it at most once per TTL, so
// entries never outlive two TTLs. Callers hold the write lock.
func (c *Cache) sweep(now time.Time) {
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.swept = now
	if removed > 0 {
		c.logger.Debug("Expired results evicted",
			logger.Int("removed", removed),
			logger.Int("remaining", len(c.entries)))
	}
}

// Invalidate clears the cache
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.logger.Info("Result cache invalidated")
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Enabled:   c.ttl > 0,
		TTL:       c.ttl.String(),
		LastWrite: c.written,
	}
}
