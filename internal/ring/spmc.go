package ring

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SPMC is a single-producer, multi-consumer bounded ring buffer. It
// backs the per-request chunk ring: one producer goroutine
// feeds parsed chunk events, W consumer goroutines drain them.
//
// Consumers claim slots with fetch-and-add (SCQ-style), which is why
// SPMC carries a threshold-based livelock guard that MPSC (whose sole
// consumer never races another claimant) does not need.
type SPMC[T any] struct {
	_         pad
	head      atomix.Uint64 // next-write index, advanced by the sole producer
	_         pad
	tail      atomix.Uint64 // next-read index, claimed via FAA by consumers
	_         pad
	threshold atomix.Int64 // livelock guard for consumers racing an empty ring
	_         pad
	core      ringCore[T]
}

// NewSPMC creates an SPMC ring. Capacity rounds up to the next power
// of 2; panics if capacity < 2.
func NewSPMC[T any](capacity int) *SPMC[T] {
	if capacity < 2 {
		panic("ring: capacity must be >= 2")
	}

	q := &SPMC[T]{core: newRingCore[T](capacity)}
	q.threshold.StoreRelaxed(3*int64(q.core.capacity) - 1)
	return q
}

// Push adds an element to the ring. Single-producer only. Returns
// ErrFull if the ring has no free slot for the current head.
func (q *SPMC[T]) Push(v T) error {
	head := q.head.LoadRelaxed()
	tail := q.tail.LoadAcquire()

	if head >= tail+q.core.capacity {
		return ErrFull
	}

	cycle := head / q.core.capacity
	if published, _ := q.core.tryPublish(head, cycle, v); !published {
		// A single producer never races another claimant for this
		// exact slot, so any mismatch here means the ring is full.
		return ErrFull
	}

	q.head.StoreRelaxed(head + 1)
	q.threshold.StoreRelaxed(3*int64(q.core.capacity) - 1)

	return nil
}

// Fetch removes and returns an element. Multiple consumers safe.
// Returns (zero-value, ErrEmpty) if nothing is published yet.
func (q *SPMC[T]) Fetch() (T, error) {
	if q.threshold.LoadRelaxed() < 0 {
		var zero T
		return zero, ErrEmpty
	}

	sw := spin.Wait{}
	for {
		myTail := q.tail.AddAcqRel(1) - 1
		expectedCycle := myTail/q.core.capacity + 1

		slot, slotCycle := q.core.loadSlotCycle(myTail)
		if slotCycle == expectedCycle {
			return q.core.take(myTail, slot), nil
		}

		if int64(slotCycle) < int64(expectedCycle) {
			// This consumer has claimed a slot the producer hasn't
			// reached yet. Repair the slot for that producer's next
			// lap, and nudge the producer's head back in line if it
			// has fallen behind every consumer claim so far.
			q.core.repairStale(myTail, slotCycle)

			head := q.head.LoadRelaxed()
			if head <= myTail+1 {
				q.catchUp(head, myTail+1)
				q.threshold.AddAcqRel(-1)
				var zero T
				return zero, ErrEmpty
			}
			if q.threshold.AddAcqRel(-1) <= 0 {
				var zero T
				return zero, ErrEmpty
			}
		}
		sw.Once()
	}
}

// catchUp nudges the producer's head index back in line after a
// consumer discovers it has outrun the producer.
func (q *SPMC[T]) catchUp(head, tail uint64) {
	for head < tail {
		if q.head.CompareAndSwapRelaxed(head, tail) {
			return
		}
		head = q.head.LoadRelaxed()
		tail = q.tail.LoadRelaxed()
	}
}

// Cap returns the usable capacity n.
func (q *SPMC[T]) Cap() int {
	return int(q.core.capacity)
}
