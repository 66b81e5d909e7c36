package rbac

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultBurstWindow is how long a resolved read is served from cache.
const DefaultBurstWindow = 500 * time.Millisecond

// Clock returns the current time.
type Clock func() time.Time

type burstEntry struct {
	at    time.Time
	value any
}

// Deduper collapses identical reads: concurrent callers share one
// in-flight request and results are reused for a short burst window.
// Entries expire passively on read and are never swept.
type Deduper struct {
	window  time.Duration
	now     Clock
	metrics *DedupeMetrics

	group singleflight.Group

	mu          sync.Mutex
	results     map[string]burstEntry
	generations map[string]uint64
}

// DeduperOption customises a Deduper.
type DeduperOption func(*Deduper)

// WithClock injects the time source.
func WithClock(clock Clock) DeduperOption {
	return func(d *Deduper) {
		if clock != nil {
			d.now = clock
		}
	}
}

// WithBurstWindow overrides DefaultBurstWindow.
func WithBurstWindow(window time.Duration) DeduperOption {
	return func(d *Deduper) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithDedupeMetrics records hit/shared/miss outcomes.
func WithDedupeMetrics(m *DedupeMetrics) DeduperOption {
	return func(d *Deduper) {
		d.metrics = m
	}
}

// NewDeduper constructs a Deduper.
func NewDeduper(opts ...DeduperOption) *Deduper {
	d := &Deduper{
		window:      DefaultBurstWindow,
		now:         time.Now,
		results:     make(map[string]burstEntry),
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Forget drops the cached result for key and detaches any in-flight
// request: later callers start a new one, and the detached request's
// result is returned to its waiters but never cached.
func (d *Deduper) Forget(key string) {
	d.mu.Lock()
	delete(d.results, key)
	d.generations[key]++
	d.mu.Unlock()
	d.group.Forget(key)
}

func (d *Deduper) generation(key string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generations[key]
}

func (d *Deduper) cached(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.results[key]
	if !ok {
		return nil, false
	}
	if d.now().Sub(entry.at) >= d.window {
		delete(d.results, key)
		return nil, false
	}
	return entry.value, true
}

// store caches value unless key was forgotten after gen was read.
func (d *Deduper) store(key string, gen uint64, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generations[key] != gen {
		return
	}
	d.results[key] = burstEntry{at: d.now(), value: value}
}

// Dedupe runs fn under key. A fresh cached result is returned without
// calling fn; otherwise callers arriving while a request for key is in
// flight wait for it and receive the same value or error. Failures are
// not cached.
//
// fn runs with a context detached from the caller's cancellation, so a
// caller giving up does not abort the request other callers share.
// Returned values are shared between callers and must not be mutated.
func Dedupe[T any](ctx context.Context, d *Deduper, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := d.cached(key); ok {
		if typed, ok := v.(T); ok {
			d.metrics.observe(key, outcomeHit)
			return typed, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	results := d.group.DoChan(key, func() (interface{}, error) {
		// A request that finished between the lookup above and this
		// registration has already cached its result.
		if v, ok := d.cached(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
		gen := d.generation(key)
		v, err := fn(detached)
		if err != nil {
			return nil, err
		}
		d.store(key, gen, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			d.metrics.observe(key, outcomeError)
			return zero, res.Err
		}
		if res.Shared {
			d.metrics.observe(key, outcomeShared)
		} else {
			d.metrics.observe(key, outcomeMiss)
		}
		typed, _ := res.Val.(T)
		return typed, nil
	}
}

// keyFamily strips ids and scopes so metric labels stay bounded.
func keyFamily(key string) string {
	if i := strings.IndexAny(key, ":@"); i >= 0 {
		return key[:i]
	}
	return key
}
