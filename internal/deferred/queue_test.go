package deferred

import (
	"testing"
	"time"

	"github.com/patterncache/patterncache/internal/engine/enginetest"
	"github.com/patterncache/patterncache/internal/handle"
	"github.com/patterncache/patterncache/internal/key"
)

func newRetiredHandle(t *testing.T, adapter *enginetest.Fake, pattern string, retiredAt int64) *handle.Handle {
	t.Helper()
	program, err := adapter.Compile([]byte(pattern), true)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	h := handle.New(adapter, program)
	h.Retire(retiredAt)
	return h
}

// newHeldRetiredHandle builds a handle that was acquired while Live and
// then retired, the shape an in-flight grant leaves behind when its
// entry is evicted.
func newHeldRetiredHandle(t *testing.T, adapter *enginetest.Fake, pattern string, retiredAt int64) *handle.Handle {
	t.Helper()
	program, err := adapter.Compile([]byte(pattern), true)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	h := handle.New(adapter, program)
	if _, err := h.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Retire(retiredAt)
	return h
}

func TestSweepDestroysZeroRefcountRecords(t *testing.T) {
	q := New()
	adapter := enginetest.NewFake()
	h := newRetiredHandle(t, adapter, "foo", 0)
	q.Enqueue(key.New([]byte("foo"), true), h)

	result := q.Sweep(1000, int64(1)<<40)
	if len(result.Destroyed) != 1 {
		t.Fatalf("expected 1 destroyed record, got %d", len(result.Destroyed))
	}
	if q.Len() != 0 {
		t.Fatalf("a destroyed record must be removed from the queue, Len() = %d", q.Len())
	}
	if adapter.DestroyCount.Load() != 1 {
		t.Fatalf("adapter.Destroy must be invoked once, got %d", adapter.DestroyCount.Load())
	}
}

func TestSweepKeepsRecordsWithNonzeroRefcount(t *testing.T) {
	q := New()
	adapter := enginetest.NewFake()
	h := newHeldRetiredHandle(t, adapter, "foo", 0)
	q.Enqueue(key.New([]byte("foo"), true), h)

	result := q.Sweep(1000, int64(1)<<40)
	if len(result.Destroyed) != 0 {
		t.Fatal("a still-referenced handle must not be destroyed")
	}
	if q.Len() != 1 {
		t.Fatalf("the record must remain queued, Len() = %d", q.Len())
	}
}

func TestSweepReportsPastDeadlineWithoutForcingDestruction(t *testing.T) {
	q := New()
	adapter := enginetest.NewFake()
	h := newHeldRetiredHandle(t, adapter, "foo", 0)
	q.Enqueue(key.New([]byte("foo"), true), h)

	const forcedDeadline = int64(100)
	result := q.Sweep(forcedDeadline+1, forcedDeadline)
	if len(result.PastDeadline) != 1 {
		t.Fatalf("expected 1 past-deadline record, got %d", len(result.PastDeadline))
	}
	if len(result.Destroyed) != 0 {
		t.Fatal("a past-deadline record must still not be force-destroyed while referenced")
	}
	if q.Len() != 1 {
		t.Fatal("a past-deadline record must remain in the queue, only logged")
	}
}

func TestSweepDropsRecordAlreadyDestroyedByReleasingThread(t *testing.T) {
	q := New()
	adapter := enginetest.NewFake()
	h := newRetiredHandle(t, adapter, "foo", 0)
	q.Enqueue(key.New([]byte("foo"), true), h)

	// Simulate the last releaser destroying the handle directly, as the
	// root façade's Grant.Release does, before the queue's own sweep runs.
	if !h.DestroyIfZero() {
		t.Fatal("setup: DestroyIfZero must succeed")
	}

	result := q.Sweep(1000, int64(1)<<40)
	if len(result.Destroyed) != 0 {
		t.Fatal("a record destroyed elsewhere must not be double-counted in Destroyed")
	}
	if q.Len() != 0 {
		t.Fatalf("the stale record must still be dropped from the queue, Len() = %d", q.Len())
	}
	if adapter.DestroyCount.Load() != 1 {
		t.Fatalf("adapter.Destroy must have been called exactly once overall, got %d", adapter.DestroyCount.Load())
	}
}

func TestDrainStopsOnceEmpty(t *testing.T) {
	q := New()
	adapter := enginetest.NewFake()
	h := newRetiredHandle(t, adapter, "foo", 0)
	q.Enqueue(key.New([]byte("foo"), true), h)

	clockFn := func() int64 { return 0 }
	result := q.Drain(clockFn, time.Second, int64(1)<<40)
	if result.RemainingCount != 0 {
		t.Fatalf("Drain must empty a queue of only-zero-refcount records, RemainingCount = %d", result.RemainingCount)
	}
}
