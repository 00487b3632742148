// Package deferred implements the deferred queue: a multi-producer
// collection of retired handles, held until their refcount reaches
// zero, swept by a dedicated periodic worker.
//
// A handle is never destroyed while referenced and never revived once
// retired — the queue only sweeps until the refcount hits zero.
package deferred

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/patterncache/patterncache/internal/handle"
	"github.com/patterncache/patterncache/internal/key"
)

// record is one deferred record: a handle plus its pattern key, keyed
// in the queue by an opaque sequence number so the same pattern key can
// appear more than once (e.g. recompiled after invalidation) without
// colliding.
type record struct {
	key    key.Key
	handle *handle.Handle
}

// Queue is the deferred queue. It never re-enters the cache map: a
// retired handle cannot be revived.
type Queue struct {
	mu      sync.Mutex
	records map[uint64]*record
	seq     atomic.Uint64
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{records: make(map[uint64]*record)}
}

// Enqueue adds a Retired handle to the queue. The handle must already be
// in the Retired state; Enqueue does not itself call Retire.
func (q *Queue) Enqueue(k key.Key, h *handle.Handle) {
	id := q.seq.Add(1)
	q.mu.Lock()
	q.records[id] = &record{key: k, handle: h}
	q.mu.Unlock()
}

// Len returns the number of records currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// SweepResult summarizes one sweep pass, for accounting updates and
// logging at the caller's discretion.
type SweepResult struct {
	Destroyed      []DestroyedRecord
	PastDeadline   []StaleRecord
	RemainingCount int
	RemainingBytes int64
}

// DestroyedRecord names a handle this sweep finished destroying.
type DestroyedRecord struct {
	Key   key.Key
	Bytes int64
}

// StaleRecord names a handle that has been Retired longer than the
// forced-eviction deadline, purely for diagnostic logging — destruction
// is never forced while refcount > 0.
type StaleRecord struct {
	Key      key.Key
	AgeNanos int64
}

// Sweep attempts DestroyIfZero on every held record; successes are
// removed and reported in Destroyed. Records whose age exceeds
// forcedDeadlineNanos are reported in PastDeadline (diagnostic only —
// they remain in the queue either way).
func (q *Queue) Sweep(nowNanos, forcedDeadlineNanos int64) SweepResult {
	q.mu.Lock()
	ids := make([]uint64, 0, len(q.records))
	for id := range q.records {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	var result SweepResult
	for _, id := range ids {
		q.mu.Lock()
		rec, ok := q.records[id]
		q.mu.Unlock()
		if !ok {
			continue
		}

		if rec.handle.State() == handle.Destroyed {
			// Destroyed by the last releaser, on its own thread, before
			// this sweep got to it. Already accounted for there; just
			// drop the stale record, uncounted, so the queue doesn't
			// grow unboundedly.
			q.mu.Lock()
			delete(q.records, id)
			q.mu.Unlock()
			continue
		}

		if rec.handle.DestroyIfZero() {
			q.mu.Lock()
			delete(q.records, id)
			q.mu.Unlock()
			result.Destroyed = append(result.Destroyed, DestroyedRecord{
				Key:   rec.key,
				Bytes: rec.handle.FootprintBytes(),
			})
			continue
		}

		age := nowNanos - rec.handle.RetiredAtNanos()
		if age >= forcedDeadlineNanos {
			result.PastDeadline = append(result.PastDeadline, StaleRecord{Key: rec.key, AgeNanos: age})
		}
	}

	q.mu.Lock()
	result.RemainingCount = len(q.records)
	for _, rec := range q.records {
		result.RemainingBytes += rec.handle.FootprintBytes()
	}
	q.mu.Unlock()
	return result
}

// Drain repeatedly sweeps until the queue is empty or the wall-clock
// deadline elapses, used by Shutdown to give in-flight releases a
// bounded window to let the queue empty out before returning — any
// handles still held past that window remain valid for their holders
// and are destroyed by the releasing thread itself. The deadline is
// wall time, not the injected clock: Shutdown must return within a
// bounded real-time interval even under a test clock that never
// advances.
func (q *Queue) Drain(nowNanos func() int64, deadline time.Duration, forcedDeadlineNanos int64) SweepResult {
	wallDeadline := time.Now().Add(deadline)
	for {
		last := q.Sweep(nowNanos(), forcedDeadlineNanos)
		if last.RemainingCount == 0 || !time.Now().Before(wallDeadline) {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
}
