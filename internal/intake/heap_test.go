package intake

import (
	"context"
	"testing"
	"time"

	"github.com/cexcore/matching-engine/internal/domain"
)

func TestHeapQueuePriorityOrdering(t *testing.T) {
	q := NewHeapQueue()

	// Pushed out of order: a limit order first, then a cancel, then a stop.
	// ClassStop < ClassCancel < ClassLimitOrder, so Get must return stop,
	// then cancel, then the limit order regardless of push order.
	q.Put(domain.IntakeMessage{Kind: domain.IntakeNewOrder, Priority: domain.ClassLimitOrder, Timestamp: 1})
	q.Put(domain.IntakeMessage{Kind: domain.IntakeCancel, Priority: domain.ClassCancel, Timestamp: 2})
	q.Put(domain.IntakeMessage{Kind: domain.IntakeStop, Priority: domain.ClassStop, Timestamp: domain.StopTimestamp})

	ctx := context.Background()
	msg, ok := q.Get(ctx)
	if !ok || msg.Kind != domain.IntakeStop {
		t.Fatalf("first = %v, want Stop", msg.Kind)
	}
	msg, ok = q.Get(ctx)
	if !ok || msg.Kind != domain.IntakeCancel {
		t.Fatalf("second = %v, want Cancel", msg.Kind)
	}
	msg, ok = q.Get(ctx)
	if !ok || msg.Kind != domain.IntakeNewOrder {
		t.Fatalf("third = %v, want NewOrder", msg.Kind)
	}
}

func TestHeapQueueTiesBrokenByTimestamp(t *testing.T) {
	q := NewHeapQueue()
	q.Put(domain.IntakeMessage{Kind: domain.IntakeNewOrder, Priority: domain.ClassLimitOrder, Timestamp: 20})
	q.Put(domain.IntakeMessage{Kind: domain.IntakeNewOrder, Priority: domain.ClassLimitOrder, Timestamp: 10})

	ctx := context.Background()
	msg, _ := q.Get(ctx)
	if msg.Timestamp != 10 {
		t.Fatalf("first timestamp = %d, want 10", msg.Timestamp)
	}
	msg, _ = q.Get(ctx)
	if msg.Timestamp != 20 {
		t.Fatalf("second timestamp = %d, want 20", msg.Timestamp)
	}
}

func TestHeapQueueGetBlocksUntilPut(t *testing.T) {
	q := NewHeapQueue()
	ctx := context.Background()

	result := make(chan domain.IntakeMessage, 1)
	go func() {
		msg, ok := q.Get(ctx)
		if ok {
			result <- msg
		}
	}()

	select {
	case <-result:
		t.Fatal("Get returned before anything was Put")
	case <-time.After(30 * time.Millisecond):
	}

	q.Put(domain.IntakeMessage{Kind: domain.IntakeStop, Priority: domain.ClassStop, Timestamp: domain.StopTimestamp})

	select {
	case msg := <-result:
		if msg.Kind != domain.IntakeStop {
			t.Errorf("got %v, want Stop", msg.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Put")
	}
}

func TestHeapQueueGetUnblocksOnContextCancel(t *testing.T) {
	q := NewHeapQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Get to return ok=false on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Get never unblocked after context cancellation")
	}
}

func TestHeapQueueSize(t *testing.T) {
	q := NewHeapQueue()
	if q.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", q.Size())
	}
	q.Put(domain.IntakeMessage{Kind: domain.IntakeNewOrder, Priority: domain.ClassLimitOrder, Timestamp: 1})
	q.Put(domain.IntakeMessage{Kind: domain.IntakeNewOrder, Priority: domain.ClassLimitOrder, Timestamp: 2})
	if q.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", q.Size())
	}
	q.Get(context.Background())
	if q.Size() != 1 {
		t.Fatalf("Size() after one Get = %d, want 1", q.Size())
	}
}
