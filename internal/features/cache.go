package features

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

const maxCachedScores = 10000

type cacheEntry struct {
	expiry time.Time
	score  float64
}

// scoreCache remembers remote sentiment scores per session and transcript.
// A nil cache stores nothing.
type scoreCache struct {
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

func newScoreCache(ttl time.Duration) *scoreCache {
	if ttl <= 0 {
		return nil
	}
	return &scoreCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// cacheKey identifies a transcript of a session without keeping its text.
func cacheKey(id, text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return id + ":" + strconv.FormatUint(h.Sum64(), 16)
}

func (c *scoreCache) get(key string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiry) {
		return 0, false
	}
	return entry.score, true
}

func (c *scoreCache) set(key string, score float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.entries) >= maxCachedScores {
		for k, e := range c.entries {
			if now.After(e.expiry) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cacheEntry{score: score, expiry: now.Add(c.ttl)}
}

func (c *scoreCache) size() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
