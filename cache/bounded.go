package cache

import (
	"container/list"
	"math"
	"sync"
	"time"
)

// Default sizing for the exact-match response cache.
const (
	DefaultMaxSize = 200
	DefaultTTL     = time.Hour
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size       int     `json:"size"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	MaxSize    int     `json:"max_size"`
	TTLSeconds int64   `json:"ttl"`
	Threshold  float64 `json:"threshold,omitempty"`
}

// Options configures a Bounded cache.
type Options struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

type entry[V any] struct {
	key       string
	value     V
	timestamp time.Time
}

// Bounded is a TTL cache with a hard capacity. It is safe for concurrent use.
type Bounded[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = oldest write
	maxSize int
	ttl     time.Duration
	hits    int64
	misses  int64
	now     func() time.Time
}

// NewBounded creates a cache holding at most maxSize entries for ttl each.
// Non-positive arguments fall back to DefaultMaxSize and DefaultTTL.
func NewBounded[V any](maxSize int, ttl time.Duration, optFns ...func(o *Options)) *Bounded[V] {
	opts := Options{Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bounded[V]{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     opts.Clock,
	}
}

// Get returns the value for key. Expired entries are removed and reported as
// a miss.
func (c *Bounded[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Peek reports whether key holds a live entry without touching the counters.
func (c *Bounded[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e) {
		c.removeElement(el)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key and stamps it with the current time. Writing a
// new key into a full cache evicts the entry with the oldest timestamp.
func (c *Bounded[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(el)
		return
	}

	if len(c.items) >= c.maxSize {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, timestamp: now})
}

// Delete removes key and reports whether it was present.
func (c *Bounded[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry and resets the hit and miss counters.
func (c *Bounded[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
	c.hits = 0
	c.misses = 0
}

// Len returns the number of stored entries, including ones that have expired
// but were not read since.
func (c *Bounded[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the current counters. HitRate is a percentage rounded to two
// decimals.
func (c *Bounded[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}
	return Stats{
		Size:       len(c.items),
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
		MaxSize:    c.maxSize,
		TTLSeconds: int64(c.ttl / time.Second),
	}
}

func (c *Bounded[V]) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Bounded[V]) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Bounded[V]) expired(e *entry[V]) bool {
	return c.now().Sub(e.timestamp) > c.ttl
}

func (c *Bounded[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}
