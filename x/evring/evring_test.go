package evring

import (
	"sync"
	"testing"
)

func TestPushPopOrderAcrossWrap(t *testing.T) {
	r := New[int](8)
	next := 0
	want := 0
	for round := 0; round < 50; round++ {
		// Partial progress on both sides to force wraps.
		for i := 0; i < 5; i++ {
			if !r.Push(next) {
				t.Fatalf("push %d rejected with len=%d", next, r.Len())
			}
			next++
		}
		for i := 0; i < 5; i++ {
			v, ok := r.Pop()
			if !ok {
				t.Fatal("pop on non-empty ring failed")
			}
			if v != want {
				t.Fatalf("got %d want %d", v, want)
			}
			want++
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("ring should be empty")
	}
}

func TestFullRingRejects(t *testing.T) {
	r := New[byte](4)
	for i := 0; i < 4; i++ {
		if !r.Push(byte(i)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if r.Push(9) {
		t.Fatal("push into full ring accepted")
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped=%d", r.Dropped())
	}
	if v, _ := r.Pop(); v != 0 {
		t.Fatalf("oldest value overwritten: %d", v)
	}
}

func TestReadableEdge(t *testing.T) {
	r := New[int](4)
	select {
	case <-r.Readable():
		t.Fatal("readable on empty ring")
	default:
	}
	r.Push(1)
	r.Push(2)
	select {
	case <-r.Readable():
	default:
		t.Fatal("no readable edge after first push")
	}
	select {
	case <-r.Readable():
		t.Fatal("second push must not signal again")
	default:
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 5000
	r := New[int](16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Push(i) {
				i++
			}
		}
	}()
	for want := 0; want < n; {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v != want {
			t.Fatalf("got %d want %d", v, want)
		}
		want++
	}
	wg.Wait()
}

func TestNewPanicsOnBadSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	_ = New[int](6)
}
