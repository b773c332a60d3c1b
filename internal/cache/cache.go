// Package cache provides a small LRU cache with per-entry TTLs. The git
// service uses it to absorb bursts of status requests against the same
// repository; anything else with a string key and a short shelf life fits.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Config defines cache behavior.
type Config struct {
	MaxSize       int           `json:"max_size"`
	DefaultTTL    time.Duration `json:"default_ttl"`
	CleanupPeriod time.Duration `json:"cleanup_period"`
	EnableStats   bool          `json:"enable_stats"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:       100,
		DefaultTTL:    5 * time.Minute,
		CleanupPeriod: 5 * time.Minute,
		EnableStats:   true,
	}
}

// Stats represents cache performance metrics.
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Evictions   int64     `json:"evictions"`
	Size        int       `json:"size"`
	MaxSize     int       `json:"max_size"`
	HitRate     float64   `json:"hit_rate"`
	LastCleanup time.Time `json:"last_cleanup"`
}

type entry struct {
	key       string
	value     interface{}
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired() bool {
	if e.ttl == 0 {
		return false
	}
	return time.Since(e.createdAt) > e.ttl
}

// LRU is a mutex-guarded LRU cache with TTL expiry and optional background
// cleanup. Construct one per concern and inject it; there is no global.
type LRU struct {
	config       Config
	items        map[string]*list.Element
	evictionList *list.List
	stats        Stats
	mu           sync.RWMutex
	stopCleanup  chan struct{}
	cleanupDone  chan struct{}
}

// New creates an LRU cache. A CleanupPeriod > 0 starts a background sweeper
// that Close stops.
func New(config Config) *LRU {
	c := &LRU{
		config:       config,
		items:        make(map[string]*list.Element),
		evictionList: list.New(),
		stats: Stats{
			MaxSize:     config.MaxSize,
			LastCleanup: time.Now(),
		},
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	if config.CleanupPeriod > 0 {
		go c.backgroundCleanup()
	}
	return c
}

// NewWithDefaults creates an LRU cache with DefaultConfig.
func NewWithDefaults() *LRU {
	return New(DefaultConfig())
}

// Get retrieves a live entry, refreshing its recency. Expired entries are
// removed on the way out and count as misses.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		if c.config.EnableStats {
			c.stats.Misses++
		}
		return nil, false
	}

	e := element.Value.(*entry)
	if e.expired() {
		c.removeElementLocked(element)
		if c.config.EnableStats {
			c.stats.Misses++
		}
		return nil, false
	}

	c.evictionList.MoveToFront(element)
	if c.config.EnableStats {
		c.stats.Hits++
	}
	return e.value, true
}

// Set stores a value under the default TTL.
func (c *LRU) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with its own TTL. A ttl of 0 never expires.
func (c *LRU) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		e := element.Value.(*entry)
		e.value = value
		e.createdAt = time.Now()
		e.ttl = ttl
		c.evictionList.MoveToFront(element)
		return
	}

	element := c.evictionList.PushFront(&entry{
		key:       key,
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
	})
	c.items[key] = element

	if c.evictionList.Len() > c.config.MaxSize {
		c.evictOldestLocked()
	}
}

// Delete removes one entry.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, exists := c.items[key]; exists {
		c.removeElementLocked(element)
	}
}

// Clear removes every entry whose key starts with prefix. An empty prefix
// clears the whole cache.
func (c *LRU) Clear(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0)
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		if element, exists := c.items[key]; exists {
			c.removeElementLocked(element)
		}
	}
}

// Cleanup removes expired entries. maxAge > 0 additionally expires anything
// older than maxAge regardless of its own TTL.
func (c *LRU) Cleanup(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0)
	for key, element := range c.items {
		e := element.Value.(*entry)
		if e.expired() || (maxAge > 0 && now.Sub(e.createdAt) > maxAge) {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		if element, exists := c.items[key]; exists {
			c.removeElementLocked(element)
		}
	}
	c.stats.LastCleanup = now
}

// Size returns the number of entries, expired ones included until swept.
func (c *LRU) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters.
func (c *LRU) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = len(c.items)
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close stops the background sweeper and drops every entry.
func (c *LRU) Close() error {
	if c.config.CleanupPeriod > 0 {
		close(c.stopCleanup)
		<-c.cleanupDone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictionList = list.New()
	return nil
}

func (c *LRU) removeElementLocked(element *list.Element) {
	e := element.Value.(*entry)
	delete(c.items, e.key)
	c.evictionList.Remove(element)
}

func (c *LRU) evictOldestLocked() {
	oldest := c.evictionList.Back()
	if oldest != nil {
		c.removeElementLocked(oldest)
		if c.config.EnableStats {
			c.stats.Evictions++
		}
	}
}

func (c *LRU) backgroundCleanup() {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup(0)
		case <-c.stopCleanup:
			return
		}
	}
}
