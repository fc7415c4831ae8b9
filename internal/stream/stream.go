// Package stream implements the per-request Streaming Response: a
// handle over an SPMC chunk ring plus producer-finished/done state and
// a wakeup primitive, so several consumer goroutines can drain events
// while the transport is still writing them.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmbench/scale/internal/ring"
)

// LatencyMetrics records time-to-first-token and end-to-end latency
// for one request.
type LatencyMetrics struct {
	TTFT time.Duration
	E2E  time.Duration
}

// chunkRingCapacity is the per-request chunk ring size: 10,000 slots,
// rounded up to the next power of 2 by ring.NewSPMC.
const chunkRingCapacity = 10_000

// Response is the per-request streaming handle. It owns one SPMC ring
// of raw chunk-event strings. The transport constructs a Response per
// outbound request; the pipeline discards it once all consumers have drained it
// and the awaiter has returned — no other goroutine retains a
// reference past that point.
type Response struct {
	ring *ring.SPMC[string]

	mu   sync.Mutex
	cond *sync.Cond

	producerFinished atomic.Bool
	done             atomic.Bool

	latMu     sync.Mutex
	latencies LatencyMetrics
}

// New creates a Response ready to receive pushed chunk events.
func New() *Response {
	r := &Response{ring: ring.NewSPMC[string](chunkRingCapacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push forwards event to the chunk ring and wakes any consumer
// blocked in Fetch. Single-producer only.
func (r *Response) Push(event string) error {
	if err := r.ring.Push(event); err != nil {
		return err
	}
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// Fetch drains one event from the chunk ring, blocking until one is
// available or the producer has finished and the ring is empty (the
// ready-to-fetch predicate). Returns ring.ErrEmpty only once Finalize
// has been called and no events remain — it never blocks indefinitely
// past that point, matching the Response state machine.
//
// The retry-under-lock below is what makes the wakeup lost-free: Push
// and Finalize both take r.mu around their broadcast, so a Fetch that
// re-checks the ring while holding r.mu cannot miss a push that raced
// in right before it parked on the condition variable.
func (r *Response) Fetch() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		v, err := r.ring.Fetch()
		if err == nil {
			return v, nil
		}
		if r.done.Load() {
			return "", ring.ErrEmpty
		}
		r.cond.Wait()
	}
}

// ReadyToFetch reports whether the producer has finished. It does not
// attempt a non-destructive peek at the ring — this ring has no Len,
// since an accurate lock-free count is expensive to maintain — so it
// only ever reports the half of the "ring non-empty OR done" predicate
// that can be observed without consuming a slot. Callers that need the
// full predicate call Fetch, which implements it internally by
// retrying under the wakeup lock instead of probing first.
func (r *Response) ReadyToFetch() bool {
	return r.done.Load()
}

// Finalize marks the stream terminated: no more events will be
// pushed, and any backlog already in the ring remains fetchable.
// Finalize is idempotent and wakes every goroutine parked in Fetch.
func (r *Response) Finalize(lat LatencyMetrics) {
	r.latMu.Lock()
	r.latencies = lat
	r.latMu.Unlock()

	r.producerFinished.Store(true)
	r.done.Store(true)

	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

// ProducerFinished reports whether Finalize has been called.
func (r *Response) ProducerFinished() bool {
	return r.producerFinished.Load()
}

// Latencies returns the latencies recorded by Finalize. Only valid
// after ProducerFinished reports true.
func (r *Response) Latencies() LatencyMetrics {
	r.latMu.Lock()
	defer r.latMu.Unlock()
	return r.latencies
}
