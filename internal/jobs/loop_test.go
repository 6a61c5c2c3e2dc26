package jobs

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// TestLoopRunsInOrder verifies FIFO execution on one goroutine.
func TestLoopRunsInOrder(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	defer loop.Close()

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.Do(func() {})

	if len(got) != 50 {
		t.Fatalf("ran %d funcs, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, out of order", i, v)
		}
	}
}

// TestLoopPostFromManyGoroutines checks no posts are lost.
func TestLoopPostFromManyGoroutines(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	defer loop.Close()

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				loop.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()
	loop.Do(func() {})

	if count != 200 {
		t.Fatalf("count = %d, want 200", count)
	}
}

// TestLoopSurvivesPanics verifies one bad callback does not stop the loop.
func TestLoopSurvivesPanics(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	defer loop.Close()

	loop.Post(func() { panic("boom") })
	ran := false
	if !loop.Do(func() { ran = true }) || !ran {
		t.Fatal("loop stopped after panic")
	}
}

// TestLoopCloseDrainsQueue verifies queued work runs and later posts are refused.
func TestLoopCloseDrainsQueue(t *testing.T) {
	loop := NewLoop(zerolog.Nop())
	ran := 0
	gate := make(chan struct{})
	loop.Post(func() { <-gate })
	loop.Post(func() { ran++ })
	loop.Post(func() { ran++ })

	closed := make(chan struct{})
	go func() {
		loop.Close()
		close(closed)
	}()
	close(gate)
	<-closed

	if ran != 2 {
		t.Fatalf("ran = %d, want 2", ran)
	}
	if loop.Post(func() {}) {
		t.Fatal("Post after Close should fail")
	}
	if loop.Do(func() {}) {
		t.Fatal("Do after Close should fail")
	}
}
