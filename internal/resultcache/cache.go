// Package resultcache deduplicates enhancement work by fingerprint. It plays
// two roles: a single-flight table that coalesces concurrent submissions of
// identical content onto one job, and a bounded TTL cache of completed
// results so repeat submissions skip the pipeline entirely.
package resultcache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Result is a cached completed enhancement.
type Result struct {
	JobID      string
	ArtifactID string
}

type entry struct {
	fingerprint string
	result      Result
	expiresAt   time.Time
	element     *list.Element
}

type flight struct {
	jobID string
	done  chan struct{}
}

// Cache coordinates fingerprint ownership across concurrent submissions.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List
	inflight map[string]*flight
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// New builds a cache holding at most capacity completed results, each living
// for ttl after insertion.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[string]*entry),
		order:    list.New(),
		inflight: make(map[string]*flight),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Lookup returns the cached result for a fingerprint, refreshing its
// recency. Expired entries are dropped on access.
func (c *Cache) Lookup(fingerprint string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return Result{}, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		return Result{}, false
	}
	c.order.MoveToFront(e.element)
	return e.result, true
}

// Acquire claims the in-flight slot for a fingerprint. The first caller
// becomes the leader and must eventually call Complete or Abandon; later
// callers get the leader's job ID back and leader=false.
func (c *Cache) Acquire(fingerprint, jobID string) (ownerJobID string, leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.inflight[fingerprint]; ok {
		return f.jobID, false
	}
	c.inflight[fingerprint] = &flight{jobID: jobID, done: make(chan struct{})}
	return jobID, true
}

// InFlight reports the job currently owning a fingerprint, if any.
func (c *Cache) InFlight(fingerprint string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.inflight[fingerprint]
	if !ok {
		return "", false
	}
	return f.jobID, true
}

// Complete releases the in-flight slot and records the successful result.
// Waiters are released after the result is visible, so a woken waiter always
// observes the cache hit.
func (c *Cache) Complete(fingerprint, jobID, artifactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeLocked(fingerprint, Result{JobID: jobID, ArtifactID: artifactID})
	if f, ok := c.inflight[fingerprint]; ok {
		delete(c.inflight, fingerprint)
		close(f.done)
	}
}

// Abandon releases the in-flight slot without caching anything. Failed and
// expired jobs go through here so a later identical upload gets a fresh run.
func (c *Cache) Abandon(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.inflight[fingerprint]; ok {
		delete(c.inflight, fingerprint)
		close(f.done)
	}
}

// Wait blocks until the fingerprint's in-flight job settles or the context
// is cancelled. Returns immediately when nothing is in flight.
func (c *Cache) Wait(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	f, ok := c.inflight[fingerprint]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate drops a cached result, for example when its artifact was swept.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fingerprint]; ok {
		c.removeLocked(e)
	}
}

// Len reports the number of cached completed results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) storeLocked(fingerprint string, result Result) {
	if existing, ok := c.entries[fingerprint]; ok {
		existing.result = result
		existing.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(existing.element)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}

	e := &entry{
		fingerprint: fingerprint,
		result:      result,
		expiresAt:   c.now().Add(c.ttl),
	}
	e.element = c.order.PushFront(e)
	c.entries[fingerprint] = e
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.fingerprint)
}
