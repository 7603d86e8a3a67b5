// Package dedupe tracks run submission request ids so a retried request maps
// back to the run it already created.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// defaultMaxSize bounds the tracked request ids when no option is given.
const defaultMaxSize = 10_000

// Deduper remembers which run a request id created.
type Deduper interface {
	// Claim atomically records requestID -> runID unless requestID is already
	// known. It returns the run id recorded first and whether it was already seen.
	Claim(ctx context.Context, requestID, runID string) (string, bool)

	// Release forgets a request id, allowing it to be retried. Used when a
	// claimed submission could not be enqueued.
	Release(ctx context.Context, requestID string)

	// Lookup returns the run id recorded for requestID.
	Lookup(ctx context.Context, requestID string) (string, bool)

	Size() int
}

type claim struct {
	requestID string
	runID     string
}

// inMemoryDeduper keeps claims in insertion order and evicts the oldest
// once maxSize is reached. maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	claims  map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.claims = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, requestID, runID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.claims[requestID]; ok {
		return el.Value.(*claim).runID, true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.evictOldest()
	}
	d.claims[requestID] = d.order.PushBack(&claim{requestID: requestID, runID: runID})
	return runID, false
}

func (d *inMemoryDeduper) Release(_ context.Context, requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.claims[requestID]; ok {
		d.order.Remove(el)
		delete(d.claims, requestID)
	}
}

func (d *inMemoryDeduper) Lookup(_ context.Context, requestID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.claims[requestID]; ok {
		return el.Value.(*claim).runID, true
	}
	return "", false
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.claims, front.Value.(*claim).requestID)
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
