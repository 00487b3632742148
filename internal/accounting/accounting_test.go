package accounting

import (
	"errors"
	"math"
	"testing"
)

func TestTryReserveActivePatternRejectsAtCap(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 2, MaxMatchersPerHandle: 10})

	if err := a.TryReserveActivePattern(); err != nil {
		t.Fatalf("1st reservation: %v", err)
	}
	if err := a.TryReserveActivePattern(); err != nil {
		t.Fatalf("2nd reservation: %v", err)
	}
	if err := a.TryReserveActivePattern(); err == nil {
		t.Fatal("3rd reservation must be rejected once the cap is reached")
	}
	if got := a.Snapshot().ActivePatterns; got != 2 {
		t.Fatalf("a rejected reservation must roll back its increment, ActivePatterns = %d, want 2", got)
	}
}

func TestReleaseActivePatternFreesCapacity(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 1, MaxMatchersPerHandle: 10})
	if err := a.TryReserveActivePattern(); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	a.ReleaseActivePattern()
	if err := a.TryReserveActivePattern(); err != nil {
		t.Fatalf("reservation after release must succeed, got %v", err)
	}
}

func TestTryReserveActivePatternDetectsSaturation(t *testing.T) {
	a := New(Limits{})
	a.activePatterns.Store(math.MaxInt64)

	err := a.TryReserveActivePattern()
	var overflow *ErrCounterOverflow
	if !errors.As(err, &overflow) {
		t.Fatalf("a wrapped counter must report ErrCounterOverflow, got %v", err)
	}
	if overflow.Counter != "active_patterns" {
		t.Fatalf("Counter = %q, want %q", overflow.Counter, "active_patterns")
	}
	if got := a.activePatterns.Load(); got != math.MaxInt64 {
		t.Fatalf("the saturating increment must be rolled back, counter = %d", got)
	}
	if got := a.Snapshot().ResourceRejections; got != 1 {
		t.Fatalf("ResourceRejections = %d, want 1: saturation fails as resource exhaustion", got)
	}
}

func TestTryReserveMatcherDetectsSaturation(t *testing.T) {
	a := New(Limits{})
	a.activeMatchers.Store(math.MaxInt64)

	err := a.TryReserveMatcher(1)
	var overflow *ErrCounterOverflow
	if !errors.As(err, &overflow) {
		t.Fatalf("a wrapped counter must report ErrCounterOverflow, got %v", err)
	}
	if got := a.activeMatchers.Load(); got != math.MaxInt64 {
		t.Fatalf("the saturating increment must be rolled back, counter = %d", got)
	}
}

func TestTryReserveMatcherEnforcesPerHandleCap(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 10, MaxMatchersPerHandle: 2})
	if err := a.TryReserveMatcher(1); err != nil {
		t.Fatalf("refcount 1 vs cap 2 must be allowed: %v", err)
	}
	if err := a.TryReserveMatcher(3); err == nil {
		t.Fatal("refcount 3 vs cap 2 must be rejected")
	}
}

func TestUnboundedCapWhenZero(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 0, MaxMatchersPerHandle: 0})
	for i := 0; i < 1000; i++ {
		if err := a.TryReserveActivePattern(); err != nil {
			t.Fatalf("a zero cap must mean unbounded, failed at iteration %d: %v", i, err)
		}
	}
}

func TestAddLiveBytesTracksPeak(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 10, MaxMatchersPerHandle: 10})
	a.AddLiveBytes(100)
	a.AddLiveBytes(50)
	a.AddLiveBytes(-120)

	snap := a.Snapshot()
	if snap.LiveBytes != 30 {
		t.Fatalf("LiveBytes = %d, want 30", snap.LiveBytes)
	}
	if snap.LiveBytesPeak != 150 {
		t.Fatalf("LiveBytesPeak = %d, want 150 (the peak must never decrease)", snap.LiveBytesPeak)
	}
}

func TestAddDeferredBytesTracksBothPeaks(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 10, MaxMatchersPerHandle: 10})
	a.AddDeferredBytes(200, 1)
	a.AddDeferredBytes(-50, 1)
	a.AddDeferredBytes(-150, -1)

	snap := a.Snapshot()
	if snap.DeferredBytes != 0 {
		t.Fatalf("DeferredBytes = %d, want 0", snap.DeferredBytes)
	}
	if snap.DeferredCount != 1 {
		t.Fatalf("DeferredCount = %d, want 1", snap.DeferredCount)
	}
	if snap.DeferredPeakBytes != 200 {
		t.Fatalf("DeferredPeakBytes = %d, want 200", snap.DeferredPeakBytes)
	}
	if snap.DeferredPeakCount != 2 {
		t.Fatalf("DeferredPeakCount = %d, want 2", snap.DeferredPeakCount)
	}
}

func TestRecordCountersIncrement(t *testing.T) {
	a := New(Limits{MaxActivePatterns: 10, MaxMatchersPerHandle: 10})
	a.RecordHit()
	a.RecordHit()
	a.RecordMiss()
	a.RecordEvictionLRU()
	a.RecordEvictionIdle()
	a.RecordEvictionDeferred()
	a.RecordInvalidRecompiled()
	a.RecordCompilationFailure()

	snap := a.Snapshot()
	switch {
	case snap.Hits != 2:
		t.Errorf("Hits = %d, want 2", snap.Hits)
	case snap.Misses != 1:
		t.Errorf("Misses = %d, want 1", snap.Misses)
	case snap.EvictionsLRU != 1:
		t.Errorf("EvictionsLRU = %d, want 1", snap.EvictionsLRU)
	case snap.EvictionsIdle != 1:
		t.Errorf("EvictionsIdle = %d, want 1", snap.EvictionsIdle)
	case snap.EvictionsDeferred != 1:
		t.Errorf("EvictionsDeferred = %d, want 1", snap.EvictionsDeferred)
	case snap.InvalidRecompiled != 1:
		t.Errorf("InvalidRecompiled = %d, want 1", snap.InvalidRecompiled)
	case snap.CompilationFailures != 1:
		t.Errorf("CompilationFailures = %d, want 1", snap.CompilationFailures)
	}
}
