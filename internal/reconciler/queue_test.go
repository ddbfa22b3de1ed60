package reconciler

import (
	"testing"
	"time"
)

func TestQueueDeduplicates(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	q.Add("env-a")
	q.Add("env-a")
	q.Add("env-b")

	if got := q.Len(); got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}

	first, ok := q.Get()
	if !ok || first != "env-a" {
		t.Fatalf("expected env-a, got %q ok=%v", first, ok)
	}
	second, ok := q.Get()
	if !ok || second != "env-b" {
		t.Fatalf("expected env-b, got %q ok=%v", second, ok)
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestQueueInFlightLease(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	q.Add("env-a")
	id, _ := q.Get()

	// Re-adding a held ID must not hand it to another worker yet.
	q.Add("env-a")
	if got := q.Len(); got != 0 {
		t.Fatalf("held ID leaked back into the queue, len=%d", got)
	}

	q.Done(id)
	if got := q.Len(); got != 1 {
		t.Fatalf("dirty ID was not re-queued, len=%d", got)
	}
	again, ok := q.Get()
	if !ok || again != "env-a" {
		t.Fatalf("expected env-a after release, got %q", again)
	}
}

func TestQueueDoneWithoutDirtyDropsLease(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	q.Add("env-a")
	id, _ := q.Get()
	q.Done(id)
	if got := q.Len(); got != 0 {
		t.Fatalf("clean release should not re-queue, len=%d", got)
	}
}

func TestQueueAddAfter(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	q.AddAfter("env-a", 10*time.Millisecond)
	if got := q.Len(); got != 0 {
		t.Fatalf("delayed add fired immediately, len=%d", got)
	}

	id, ok := q.Get()
	if !ok || id != "env-a" {
		t.Fatalf("expected env-a from delayed add, got %q ok=%v", id, ok)
	}
}

func TestQueueAddCancelsPendingTimer(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	q.AddAfter("env-a", 20*time.Millisecond)
	q.Add("env-a")

	id, _ := q.Get()
	q.Done(id)

	time.Sleep(40 * time.Millisecond)
	if got := q.Len(); got != 0 {
		t.Fatalf("cancelled timer still fired, len=%d", got)
	}
}

func TestQueueCloseUnblocksGet(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.Get(); ok {
			t.Error("expected closed queue to return ok=false")
		}
	}()

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Close")
	}
}

func TestQueueAddAfterZeroDelay(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	q.AddAfter("env-a", 0)
	if got := q.Len(); got != 1 {
		t.Fatalf("zero delay should enqueue immediately, len=%d", got)
	}
}
