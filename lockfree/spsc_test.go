package lockfree

import (
	"sync"
	"testing"
)

func TestQ2_SPSCFIFOOrder(t *testing.T) {
	q := NewSPSCQueue[int](16)
	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) failed unexpectedly", i)
		}
	}
	for i := 0; i < 10; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
}

func TestSPSCQueue_RejectsZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic constructing a zero-capacity queue")
		}
	}()
	NewSPSCQueue[int](0)
}

func TestSPSCQueue_PushFailsWhenFull(t *testing.T) {
	q := NewSPSCQueue[int](2) // rounds up to 2
	if !q.Push(1) || !q.Push(2) {
		t.Fatal("expected first two pushes to succeed")
	}
	if q.Push(3) {
		t.Fatal("expected push to fail once the queue is full")
	}
	if _, ok := q.Pop(); !ok {
		t.Fatal("expected a pop to succeed after filling the queue")
	}
	if !q.Push(3) {
		t.Fatal("expected push to succeed again after freeing a slot")
	}
}

func TestSPSCQueue_AcquireProducerIsSingleOwner(t *testing.T) {
	q := NewSPSCQueue[int](4)
	p1, ok := q.AcquireProducer()
	if !ok {
		t.Fatal("expected first AcquireProducer to succeed")
	}
	if _, ok := q.AcquireProducer(); ok {
		t.Fatal("expected second concurrent AcquireProducer to fail")
	}
	p1.Release()
	if _, ok := q.AcquireProducer(); !ok {
		t.Fatal("expected AcquireProducer to succeed again after Release")
	}
}

func TestS2_OverflowMultisetPreserved(t *testing.T) {
	q := NewSPSCQueue[int](4)
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	displaced, overflowed := q.PushWithOverflow(99)
	if !overflowed || displaced != 0 {
		t.Fatalf("expected oldest element 0 displaced, got %d (overflowed=%v)", displaced, overflowed)
	}
	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{1, 2, 3, 99}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FIFO order not preserved after overflow: expected %v, got %v", want, got)
		}
	}
}

func TestSPSCQueue_ConcurrentProducerConsumer(t *testing.T) {
	const n = 20000
	q := NewSPSCQueue[int](256)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.Push(i) {
			}
		}
	}()

	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(received) < n {
			if v, ok := q.Pop(); ok {
				received = append(received, v)
			}
		}
	}()

	wg.Wait()
	for i, v := range received {
		if v != i {
			t.Fatalf("FIFO order violated at index %d: got %d", i, v)
		}
	}
}
