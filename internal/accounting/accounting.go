// Package accounting implements the resource accounting subsystem:
// atomic counters for active patterns/matchers, live and deferred byte
// totals, peaks, and cumulative eviction/refcount events.
//
// Every field is independently atomic so accounting can be updated
// before an event becomes externally observable, without serializing
// against the cache map's own locking.
package accounting

import "sync/atomic"

// ErrResourceExhausted is returned by TryReserve* when a cap would be
// exceeded; it carries which cap tripped.
type ErrResourceExhausted struct {
	Kind string
}

func (e *ErrResourceExhausted) Error() string {
	return "accounting: resource exhausted: " + e.Kind
}

// ErrCounterOverflow is returned by TryReserve* when an increment wraps
// a counter negative. The increment is rolled back; callers log the
// saturation and fail the operation as resource exhaustion.
type ErrCounterOverflow struct {
	Counter string
}

func (e *ErrCounterOverflow) Error() string {
	return "accounting: counter saturated: " + e.Counter
}

// Limits are the hard, synchronously enforced caps. The soft caps
// (max_entries, max_live_bytes) are the LRU governor's job and never
// reject an operation.
type Limits struct {
	MaxActivePatterns    int64
	MaxMatchersPerHandle int64
}

// Accounting holds every Snapshot field as an independent atomic, plus
// the two hard caps it enforces.
type Accounting struct {
	limits Limits

	activePatterns atomic.Int64
	activeMatchers atomic.Int64
	liveBytes      atomic.Int64
	liveBytesPeak  atomic.Int64

	deferredCount     atomic.Int64
	deferredBytes     atomic.Int64
	deferredPeakBytes atomic.Int64
	deferredPeakCount atomic.Int64

	hits               atomic.Uint64
	misses             atomic.Uint64
	evictionsLRU       atomic.Uint64
	evictionsIdle      atomic.Uint64
	evictionsDeferred  atomic.Uint64
	invalidRecompiled  atomic.Uint64
	compilationFailed  atomic.Uint64
	resourceRejections atomic.Uint64
}

// New constructs an Accounting instance enforcing the given limits.
func New(limits Limits) *Accounting {
	return &Accounting{limits: limits}
}

// Snapshot is a point-in-time, field-wise-consistent (not
// cross-field-consistent) copy of every counter.
type Snapshot struct {
	ActivePatterns      int64
	ActiveMatchers      int64
	LiveBytes           int64
	LiveBytesPeak       int64
	DeferredCount       int64
	DeferredBytes       int64
	DeferredPeakBytes   int64
	DeferredPeakCount   int64
	Hits                uint64
	Misses              uint64
	EvictionsLRU        uint64
	EvictionsIdle       uint64
	EvictionsDeferred   uint64
	InvalidRecompiled   uint64
	CompilationFailures uint64
	ResourceRejections  uint64
}

// Snapshot reads every counter into a value copy.
func (a *Accounting) Snapshot() Snapshot {
	return Snapshot{
		ActivePatterns:      a.activePatterns.Load(),
		ActiveMatchers:      a.activeMatchers.Load(),
		LiveBytes:           a.liveBytes.Load(),
		LiveBytesPeak:       a.liveBytesPeak.Load(),
		DeferredCount:       a.deferredCount.Load(),
		DeferredBytes:       a.deferredBytes.Load(),
		DeferredPeakBytes:   a.deferredPeakBytes.Load(),
		DeferredPeakCount:   a.deferredPeakCount.Load(),
		Hits:                a.hits.Load(),
		Misses:              a.misses.Load(),
		EvictionsLRU:        a.evictionsLRU.Load(),
		EvictionsIdle:       a.evictionsIdle.Load(),
		EvictionsDeferred:   a.evictionsDeferred.Load(),
		InvalidRecompiled:   a.invalidRecompiled.Load(),
		CompilationFailures: a.compilationFailed.Load(),
		ResourceRejections:  a.resourceRejections.Load(),
	}
}

// TryReserveActivePattern reserves an active-pattern slot via
// increment-then-check-then-rollback. Callers take the slot on the
// acquire that raises a handle's refcount from zero, so the cap bounds
// the number of simultaneously referenced patterns, not the number
// resident in the cache and not a cumulative total.
func (a *Accounting) TryReserveActivePattern() error {
	n := a.activePatterns.Add(1)
	if n < 0 {
		a.activePatterns.Add(-1)
		a.resourceRejections.Add(1)
		return &ErrCounterOverflow{Counter: "active_patterns"}
	}
	if a.limits.MaxActivePatterns > 0 && n > a.limits.MaxActivePatterns {
		a.activePatterns.Add(-1)
		a.resourceRejections.Add(1)
		return &ErrResourceExhausted{Kind: "max_active_patterns"}
	}
	return nil
}

// ForceActivePattern increments active_patterns without a cap check. It
// exists for one narrow window: a reservation rolled back by a failed
// cap check whose refcount rollback finds a concurrent acquirer already
// piggybacking — the surviving reference inherits the slot rather than
// going uncounted.
func (a *Accounting) ForceActivePattern() {
	a.activePatterns.Add(1)
}

// ReleaseActivePattern returns an active-pattern slot; callers invoke it
// on the release that drops a handle's refcount back to zero.
func (a *Accounting) ReleaseActivePattern() {
	a.activePatterns.Add(-1)
}

// TryReserveMatcher enforces max_matchers_per_pattern, checked against
// the specific handle's own refcount at matcher-creation time. Per
// DESIGN.md Open Question #2, this cap is interpreted per-handle, not
// cumulative across cache churn.
func (a *Accounting) TryReserveMatcher(currentHandleRefcount int64) error {
	if a.limits.MaxMatchersPerHandle > 0 && currentHandleRefcount > a.limits.MaxMatchersPerHandle {
		a.resourceRejections.Add(1)
		return &ErrResourceExhausted{Kind: "max_matchers_per_pattern"}
	}
	if n := a.activeMatchers.Add(1); n < 0 {
		a.activeMatchers.Add(-1)
		a.resourceRejections.Add(1)
		return &ErrCounterOverflow{Counter: "active_matchers"}
	}
	return nil
}

// ReleaseMatcher records a matcher closing.
func (a *Accounting) ReleaseMatcher() {
	a.activeMatchers.Add(-1)
}

// AddLiveBytes adjusts the live byte total (positive on insert, negative
// on destroy) and updates the peak via a CAS-retry loop.
func (a *Accounting) AddLiveBytes(delta int64) {
	v := a.liveBytes.Add(delta)
	casMaxInt64(&a.liveBytesPeak, v)
}

// AddDeferredBytes adjusts the deferred byte/count totals and their
// peaks, mirroring AddLiveBytes for the Deferred Queue's own tier.
func (a *Accounting) AddDeferredBytes(bytesDelta, countDelta int64) {
	b := a.deferredBytes.Add(bytesDelta)
	c := a.deferredCount.Add(countDelta)
	casMaxInt64(&a.deferredPeakBytes, b)
	casMaxInt64(&a.deferredPeakCount, c)
}

func casMaxInt64(target *atomic.Int64, candidate int64) {
	for {
		cur := target.Load()
		if candidate <= cur {
			return
		}
		if target.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func (a *Accounting) RecordHit()                { a.hits.Add(1) }
func (a *Accounting) RecordMiss()               { a.misses.Add(1) }
func (a *Accounting) RecordEvictionLRU()        { a.evictionsLRU.Add(1) }
func (a *Accounting) RecordEvictionIdle()       { a.evictionsIdle.Add(1) }
func (a *Accounting) RecordEvictionDeferred()   { a.evictionsDeferred.Add(1) }
func (a *Accounting) RecordInvalidRecompiled()  { a.invalidRecompiled.Add(1) }
func (a *Accounting) RecordCompilationFailure() { a.compilationFailed.Add(1) }
