package ring_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/llmbench/scale/internal/ring"
)

func TestSPMCBasic(t *testing.T) {
	q := ring.NewSPMC[int](3)

	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4", q.Cap())
	}

	for i := range 4 {
		if err := q.Push(i + 100); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if err := q.Push(999); !errors.Is(err, ring.ErrFull) {
		t.Fatalf("Push on full: got %v, want ErrFull", err)
	}

	for i := range 4 {
		v, err := q.Fetch()
		if err != nil {
			t.Fatalf("Fetch(%d): %v", i, err)
		}
		if v != i+100 {
			t.Fatalf("Fetch(%d): got %d, want %d", i, v, i+100)
		}
	}
	if _, err := q.Fetch(); !errors.Is(err, ring.ErrEmpty) {
		t.Fatalf("Fetch on empty: got %v, want ErrEmpty", err)
	}
}

func TestSPMCFIFOSingleProducer(t *testing.T) {
	q := ring.NewSPMC[int](64)
	for i := range 50 {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := range 50 {
		v, err := q.Fetch()
		if err != nil {
			t.Fatalf("Fetch(%d): %v", i, err)
		}
		if v != i {
			t.Fatalf("FIFO violated: got %d at position %d, want %d", v, i, i)
		}
	}
}

// TestSPMCMultiConsumer checks the multiset invariant: every pushed
// value is consumed exactly once across concurrent consumers.
func TestSPMCMultiConsumer(t *testing.T) {
	const n = 2000
	const consumers = 8

	q := ring.NewSPMC[int](256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			for q.Push(i) != nil {
			}
		}
	}()

	results := make(chan int, n)
	var cwg sync.WaitGroup
	done := make(chan struct{})
	for range consumers {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, err := q.Fetch()
				if err == nil {
					results <- v
					continue
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	got := make(map[int]int, n)
	for len(got) < n {
		v := <-results
		got[v]++
	}
	close(done)
	cwg.Wait()

	for i := range n {
		if got[i] != 1 {
			t.Fatalf("value %d consumed %d times, want 1", i, got[i])
		}
	}
}

func TestMPSCBasic(t *testing.T) {
	q := ring.NewMPSC[string](2)
	if err := q.Push("a"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push("b"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push("c"); !errors.Is(err, ring.ErrFull) {
		t.Fatalf("Push on full: got %v, want ErrFull", err)
	}

	v, err := q.Fetch()
	if err != nil || v != "a" {
		t.Fatalf("Fetch: got (%q, %v), want (\"a\", nil)", v, err)
	}
	v, err = q.Fetch()
	if err != nil || v != "b" {
		t.Fatalf("Fetch: got (%q, %v), want (\"b\", nil)", v, err)
	}
	if _, err := q.Fetch(); !errors.Is(err, ring.ErrEmpty) {
		t.Fatalf("Fetch on empty: got %v, want ErrEmpty", err)
	}
}

// TestMPSCConcurrentProducers checks that the multiset consumed
// equals the multiset produced, including across index wraps.
func TestMPSCConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 1250
	const total = producers * perProducer

	q := ring.NewMPSC[int](64)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := range perProducer {
				v := base*perProducer + i
				for q.Push(v) != nil {
				}
			}
		}(p)
	}

	got := make([]int, 0, total)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for len(got) < total {
		v, err := q.Fetch()
		if err == nil {
			got = append(got, v)
			continue
		}
		select {
		case <-done:
			// Drain any stragglers published after the producers joined.
			for {
				v, err := q.Fetch()
				if err != nil {
					if len(got) != total {
						t.Fatalf("consumed %d values, want %d", len(got), total)
					}
					return
				}
				got = append(got, v)
			}
		default:
		}
	}

	seen := make(map[int]bool, total)
	for _, v := range got {
		if seen[v] {
			t.Fatalf("value %d consumed more than once", v)
		}
		seen[v] = true
	}
}

func TestRoundsCapacityToPow2(t *testing.T) {
	cases := map[int]int{2: 2, 3: 4, 4: 4, 1000: 1024, 1024: 1024}
	for in, want := range cases {
		if got := ring.NewSPMC[int](in).Cap(); got != want {
			t.Fatalf("NewSPMC(%d).Cap(): got %d, want %d", in, got, want)
		}
		if got := ring.NewMPSC[int](in).Cap(); got != want {
			t.Fatalf("NewMPSC(%d).Cap(): got %d, want %d", in, got, want)
		}
	}
}

func TestPanicsOnSmallCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewSPMC(1) should have panicked")
		}
	}()
	ring.NewSPMC[int](1)
}
