package ring

import "code.hybscloud.com/atomix"

// ringCore is the padded slot array and cycle-based slot-repair
// machinery shared by SPMC and MPSC. Both rings are FAA/CAS queues
// over 2n physically indexed slots carrying a per-slot sequence
// number in place of a boolean ready flag; they differ only in which
// cursor is FAA-contended (claimed by several racing goroutines) and
// which is advanced by a sole owner. Factoring that shared machinery
// into one generic type keeps spmc.go/mpsc.go down to just the cursor
// arithmetic and livelock bookkeeping that actually differs between
// the two shapes.
type ringCore[T any] struct {
	buffer   []coreSlot[T]
	capacity uint64 // n, usable capacity
	size     uint64 // 2n, physical slot count
}

type coreSlot[T any] struct {
	cycle atomix.Uint64 // round number this slot is valid for
	data  T
	_     padShort
}

// newRingCore allocates a slot array for capacity, rounded up to the
// next power of 2, and primes every slot's cycle to its initial round.
func newRingCore[T any](capacity int) ringCore[T] {
	n := uint64(roundToPow2(capacity))
	size := n * 2

	c := ringCore[T]{
		buffer:   make([]coreSlot[T], size),
		capacity: n,
		size:     size,
	}
	for i := uint64(0); i < size; i++ {
		c.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return c
}

func (c *ringCore[T]) mask() uint64 {
	return c.size - 1
}

func (c *ringCore[T]) slot(pos uint64) *coreSlot[T] {
	return &c.buffer[pos&c.mask()]
}

// loadSlotCycle returns the slot at pos together with its currently
// published cycle, for a caller that needs to inspect the cycle
// before deciding how to repair or retry.
func (c *ringCore[T]) loadSlotCycle(pos uint64) (*coreSlot[T], uint64) {
	slot := c.slot(pos)
	return slot, slot.cycle.LoadAcquire()
}

// tryPublish writes v into the slot at pos, which the caller has
// already claimed (by FAA or sole ownership), if the slot is still
// waiting for cycle — i.e. its previous occupant has round-tripped it
// back to exactly this round. stale reports whether the slot was
// instead observed behind cycle, which a multi-claimant caller (MPSC's
// producers) uses to tell "genuinely full" from "lost the race for
// this slot, claim another".
func (c *ringCore[T]) tryPublish(pos, cycle uint64, v T) (published, stale bool) {
	slot, slotCycle := c.loadSlotCycle(pos)
	if slotCycle != cycle {
		return false, slotCycle < cycle
	}
	slot.data = v
	slot.cycle.StoreRelease(cycle + 1)
	return true, false
}

// take destructively reads slot (already known to carry the data the
// caller wants), clearing it and republishing its cycle for the
// producer's next lap at pos+size.
func (c *ringCore[T]) take(pos uint64, slot *coreSlot[T]) T {
	v := slot.data
	var zero T
	slot.data = zero
	slot.cycle.StoreRelease((pos + c.size) / c.capacity)
	return v
}

// repairStale CAS-advances a slot observed behind expectedCycle to the
// producer's next-lap cycle, so a producer blocked on this exact slot
// is not starved by a consumer that raced ahead of it. Only meaningful
// for a ring with several consumers claiming positions via FAA (SPMC);
// a single consumer can never observe a slot behind its own expected
// cycle, since it only ever advances past a slot it just consumed.
func (c *ringCore[T]) repairStale(pos, observedCycle uint64) {
	slot := c.slot(pos)
	slot.cycle.CompareAndSwapAcqRel(observedCycle, (pos+c.size)/c.capacity)
}
