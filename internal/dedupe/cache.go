// ABOUTME: Bounded TTL set of recently seen keys, generic over the key type
// ABOUTME: The dispatcher uses it to route each Matrix event ID at most once

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults sized for a bot that sees a few thousand events per hour.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10_000
)

type entry[K comparable] struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers keys for ttl, holding at most maxSize of them. When full,
// the least recently marked key is evicted. Safe for concurrent use.
type Cache[K comparable] struct {
	mu      sync.Mutex
	seen    map[K]*entry[K]
	order   *list.List // keys, least recently marked at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Option customises a Cache.
type Option[K comparable] func(*Cache[K])

// WithClock replaces time.Now, for tests.
func WithClock[K comparable](now func() time.Time) Option[K] {
	return func(c *Cache[K]) { c.now = now }
}

// WithoutJanitor disables the background sweep. Expired keys are still
// ignored on lookup and can be purged with Sweep.
func WithoutJanitor[K comparable]() Option[K] {
	return func(c *Cache[K]) { c.done = nil }
}

// New creates a cache. Unless WithoutJanitor is given, a goroutine sweeps
// expired keys every minute until Close is called.
func New[K comparable](ttl time.Duration, maxSize int, opts ...Option[K]) *Cache[K] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache[K]{
		seen:    make(map[K]*entry[K]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.done != nil {
		go c.janitor()
	}
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Mark records key as seen now.
func (c *Cache[K]) Mark(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// CheckAndMark marks key and reports whether it had already been seen.
// Exactly one of several concurrent callers with the same new key gets false.
func (c *Cache[K]) CheckAndMark(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget drops key so the next CheckAndMark treats it as new.
func (c *Cache[K]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of stored keys, expired ones included until swept.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache[K]) liveLocked(key K) bool {
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache[K]) markLocked(key K) {
	now := c.now()

	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(K)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry[K]{seenAt: now, element: c.order.PushBack(key)}
}

// Sweep removes expired keys and returns how many were dropped.
func (c *Cache[K]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	// Keys are ordered by mark time, so stop at the first live one.
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(K)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.seen, key)
		dropped++
	}
	return dropped
}

func (c *Cache[K]) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the janitor. Safe to call more than once.
func (c *Cache[K]) Close() {
	c.closeOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
	})
}
