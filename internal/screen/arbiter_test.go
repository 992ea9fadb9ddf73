package screen

import (
	"fmt"
	"sync"
	"testing"
)

func TestArbiter_PerRunMonotonic(t *testing.T) {
	var transitions []bool
	a := NewArbiter(WithObserver(ObserverFunc(func(active bool) {
		transitions = append(transitions, active)
	})))

	if !a.Acquire("run-1") {
		t.Fatal("first Acquire should succeed")
	}
	if a.Acquire("run-1") {
		t.Fatal("second Acquire for the same run should be a no-op")
	}
	a.Acquire("run-2")
	if a.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", a.Count())
	}

	if a.Release("unknown") {
		t.Fatal("Release of unknown run should be a no-op")
	}
	a.Release("run-1")
	if a.Release("run-1") {
		t.Fatal("double Release should be a no-op")
	}
	a.Release("run-2")
	if a.Count() != 0 || a.Active() {
		t.Fatalf("Count() = %d after all releases", a.Count())
	}

	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Fatalf("transitions = %v, want [true false]", transitions)
	}
}

func TestArbiter_ConcurrentRuns(t *testing.T) {
	var mu sync.Mutex
	negative := false
	a := NewArbiter()
	a.Subscribe(ObserverFunc(func(bool) {
		mu.Lock()
		defer mu.Unlock()
		if a.countLocked() < 0 {
			negative = true
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i%10)
			a.Acquire(id)
			a.Acquire(id)
			a.Release(id)
			a.Release(id)
		}(i)
	}
	wg.Wait()

	if a.Count() != 0 {
		t.Fatalf("Count() = %d after all runs finished", a.Count())
	}
	if negative {
		t.Fatal("count went negative")
	}
}

// countLocked is only safe from inside an observer callback.
func (a *Arbiter) countLocked() int { return len(a.runs) }
