package queue

import (
	"testing"
	"time"

	"github.com/aistudio-bridge/bridge/internal/protocol"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New()
	ev := &protocol.UpstreamEvent{RequestID: "r1", Kind: protocol.EventChunk}
	q.Enqueue(ev)

	got, err := q.Dequeue(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RequestID != "r1" {
		t.Fatalf("got RequestID %q, want r1", got.RequestID)
	}
}

func TestDequeueTimesOutWithoutValue(t *testing.T) {
	q := New()
	_, err := q.Dequeue(20 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestEnqueueOnClosedQueueIsNoop(t *testing.T) {
	q := New()
	q.Close()
	q.Enqueue(&protocol.UpstreamEvent{RequestID: "r1"})

	_, err := q.Dequeue(20 * time.Millisecond)
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDequeueOnClosedQueueFailsImmediately(t *testing.T) {
	q := New()
	q.Close()

	start := time.Now()
	_, err := q.Dequeue(time.Second)
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Dequeue on a closed queue should return immediately, not wait for the timeout")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New()
	q.Close()
	q.Close()
}

func TestTimedOutWaiterNeverReceivesLateValue(t *testing.T) {
	q := New()
	_, err := q.Dequeue(10 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// A value enqueued after the timeout must not be silently lost either:
	// a fresh Dequeue call should observe it.
	q.Enqueue(&protocol.UpstreamEvent{RequestID: "late"})
	got, err := q.Dequeue(time.Second)
	if err != nil {
		t.Fatalf("unexpected error on fresh dequeue: %v", err)
	}
	if got.RequestID != "late" {
		t.Fatalf("got %q, want late", got.RequestID)
	}
}
