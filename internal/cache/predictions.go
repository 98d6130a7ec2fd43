// Package cache provides a bounded prediction memo. Explanation estimators
// evaluate the model on many repeated feature vectors (grids, permutations,
// neighbor profiles); memoizing by vector hash keeps those passes cheap
// without unbounded memory growth.
package cache

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Predictions is a size-bounded, TTL-expiring LRU of model predictions
// keyed by feature-vector hash. Safe for concurrent use.
type Predictions struct {
	cache *lru.Cache[string, *entry]
	ttl   time.Duration

	mu      sync.Mutex
	hits    uint64
	misses  uint64
	evicted uint64
}

type entry struct {
	value     float64
	expiresAt time.Time
}

// NewPredictions creates a cache holding at most size entries. ttl of 0
// disables expiration.
func NewPredictions(size int, ttl time.Duration) (*Predictions, error) {
	c, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &Predictions{cache: c, ttl: ttl}, nil
}

// Key hashes a feature vector into a cache key. Exact bit equality; vectors
// differing in any position map to different keys.
func Key(x []float64) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Get returns the cached prediction if present and unexpired.
func (c *Predictions) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok {
		c.misses++
		return 0, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.cache.Remove(key)
		c.misses++
		return 0, false
	}
	c.hits++
	return e.value, true
}

// Set stores a prediction, evicting the least recently used entry when
// full.
func (c *Predictions) Set(key string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	if c.cache.Add(key, &entry{value: value, expiresAt: expiresAt}) {
		c.evicted++
	}
}

// Len returns the current entry count.
func (c *Predictions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a counters snapshot.
func (c *Predictions) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
		Size:    c.cache.Len(),
		HitRate: rate,
	}
}

// CleanupExpired removes expired entries. O(n); intended for a periodic
// background sweep.
func (c *Predictions) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && now.After(e.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// Close purges the cache.
func (c *Predictions) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	return nil
}
