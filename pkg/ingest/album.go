package ingest

import (
	"sync"
	"time"

	"github.com/telarch/telarch/internal/logger"
)

// albumBucket collects messages sharing one media group id.
type albumBucket struct {
	startedAt time.Time
	items     []*Message
	done      bool
}

// Aggregator coalesces album members that arrive as separate messages into a
// single batch. Messages sharing a group id are held for a window; the first
// arrival opens the bucket and later arrivals join it. A bucket whose window
// elapsed is finalized either by the next arrival or by the periodic flusher.
type Aggregator struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*albumBucket
	locks   map[string]*sync.Mutex
}

// NewAggregator creates an Aggregator with the given window.
func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*albumBucket),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) guard(mgid string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[mgid]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[mgid] = lock
	}
	return lock
}

func (a *Aggregator) remove(mgid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buckets, mgid)
	delete(a.locks, mgid)
}

// Add routes a message through album aggregation.
//
// Messages without a group id come back immediately as a singleton batch.
// Otherwise the message joins its group's bucket and Add returns nil until
// the window elapses. When an arrival finds its bucket already expired, the
// expired bucket is finalized and returned without the arriving message and
// consumed is false: the caller must call Add again so the arrival opens a
// fresh bucket. Finalized buckets are never reopened.
func (a *Aggregator) Add(msg *Message) (batch []*Message, consumed bool) {
	mgid := msg.MediaGroupID
	if mgid == "" {
		return []*Message{msg}, true
	}

	lock := a.guard(mgid)
	lock.Lock()
	defer lock.Unlock()

	a.mu.Lock()
	bucket := a.buckets[mgid]
	a.mu.Unlock()
	now := a.now()

	if bucket != nil && !bucket.done && now.Sub(bucket.startedAt) >= a.window {
		bucket.done = true
		items := bucket.items
		a.remove(mgid)
		logger.Info("Album window elapsed", "media_group_id", mgid, "items", len(items))
		return items, false
	}

	if bucket == nil {
		bucket = &albumBucket{startedAt: now}
		a.mu.Lock()
		a.buckets[mgid] = bucket
		a.mu.Unlock()
	}

	if bucket.done {
		return []*Message{msg}, true
	}

	bucket.items = append(bucket.items, msg)

	if now.Sub(bucket.startedAt) >= a.window {
		bucket.done = true
		items := bucket.items
		a.remove(mgid)
		return items, true
	}
	return nil, true
}

// FlushReady finalizes and returns every bucket whose window has elapsed.
// Buckets whose guard is held by a concurrent Add are skipped; the next tick
// picks them up.
func (a *Aggregator) FlushReady() [][]*Message {
	now := a.now()

	a.mu.Lock()
	candidates := make([]string, 0, len(a.buckets))
	for mgid, bucket := range a.buckets {
		if bucket.done || now.Sub(bucket.startedAt) >= a.window {
			candidates = append(candidates, mgid)
		}
	}
	a.mu.Unlock()

	var ready [][]*Message
	for _, mgid := range candidates {
		lock := a.guard(mgid)
		if !lock.TryLock() {
			continue
		}

		a.mu.Lock()
		bucket := a.buckets[mgid]
		a.mu.Unlock()
		if bucket == nil {
			lock.Unlock()
			continue
		}
		if !bucket.done && now.Sub(bucket.startedAt) < a.window {
			lock.Unlock()
			continue
		}

		items := bucket.items
		a.remove(mgid)
		lock.Unlock()
		logger.Info("Album finalized by flusher", "media_group_id", mgid, "items", len(items))
		ready = append(ready, items)
	}
	return ready
}

// Pending returns the number of open buckets. Used by status reporting.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}
