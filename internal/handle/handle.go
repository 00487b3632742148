// Package handle implements the pattern handle: the reference-counted,
// three-state owner of one compiled automaton.
//
// All mutation is via atomic state transitions — the cache's hot path
// (acquire/release on every match) must never block on a map-wide or
// entry-wide mutex.
package handle

import (
	"sync/atomic"

	"github.com/patterncache/patterncache/internal/engine"
)

// State is the three-phase lifecycle of a Handle: Live -> Retired ->
// Destroyed, with Retired skippable when refcount is already zero at
// eviction time.
type State int32

const (
	Live State = iota
	Retired
	Destroyed
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Retired:
		return "retired"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ErrPoisoned is returned by Acquire when the handle is no longer Live.
var ErrPoisoned = poisonedError{}

type poisonedError struct{}

func (poisonedError) Error() string { return "handle: poisoned (not live)" }

// Handle owns one compiled automaton (an *engine.Program) plus its
// refcount and lifecycle state. All mutation is via atomics: no mutex
// guards a Handle, so acquire/release never block.
type Handle struct {
	adapter  engine.Adapter
	program  *engine.Program
	refcount atomic.Int64
	state    atomic.Int32

	// retiredAtNanos is set exactly once, when Retire succeeds, and read
	// by the Deferred Queue to compute staleness against the
	// forced-eviction deadline.
	retiredAtNanos atomic.Int64
}

// New constructs a Live handle with refcount 0 around an already
// compiled program.
func New(adapter engine.Adapter, program *engine.Program) *Handle {
	h := &Handle{adapter: adapter, program: program}
	h.state.Store(int32(Live))
	return h
}

// Program returns the underlying opaque compiled automaton. Safe to call
// only while holding an acquired Grant (refcount > 0 guarantees it has
// not been destroyed).
func (h *Handle) Program() *engine.Program {
	return h.program
}

// FootprintBytes returns the immutable compile-time byte footprint.
func (h *Handle) FootprintBytes() int64 {
	return h.program.FootprintBytes()
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Refcount returns the current reference count. Intended for eviction
// candidate selection and tests; not for correctness decisions by
// callers outside this package (those must go through Acquire/Release).
func (h *Handle) Refcount() int64 {
	return h.refcount.Load()
}

// Acquire increments the refcount and returns whether this acquire took
// the refcount from zero to one, so the caller can tie per-pattern
// bookkeeping (the active-pattern slot) to the boundary transitions. It
// fails with ErrPoisoned if the handle is not Live.
//
// The increment happens before the state check is finalized so that a
// concurrent Retire racing with Acquire is resolved conservatively: if
// Retire wins, Acquire rolls its increment back and reports poisoned,
// guaranteeing no acquirer ever observes success on a handle that is
// about to be destroyed with refcount truly zero.
func (h *Handle) Acquire() (first bool, err error) {
	rc := h.refcount.Add(1)
	if State(h.state.Load()) != Live {
		// Lost the race with Retire (or the handle was never Live):
		// undo the increment and report poisoned.
		h.refcount.Add(-1)
		return false, ErrPoisoned
	}
	return rc == 1, nil
}

// Release decrements the refcount and reports whether this release
// brought it to zero. If the handle is Retired and last is true, the
// caller becomes responsible for completing destruction — it should
// call DestroyIfZero next. The decrement-then-destroy ordering is what
// makes every write performed while holding the handle happen-before
// the destroy.
func (h *Handle) Release() (last bool) {
	return h.refcount.Add(-1) == 0
}

// Retire performs the atomic Live -> Retired transition. It is
// idempotent against concurrent callers: exactly one caller's
// CompareAndSwap succeeds, and that caller alone receives retired=true.
func (h *Handle) Retire(nowNanos int64) (retired bool) {
	if h.state.CompareAndSwap(int32(Live), int32(Retired)) {
		h.retiredAtNanos.Store(nowNanos)
		return true
	}
	return false
}

// RetiredAtNanos returns the instant Retire succeeded, valid only once
// State() == Retired or Destroyed.
func (h *Handle) RetiredAtNanos() int64 {
	return h.retiredAtNanos.Load()
}

// DestroyIfZero transitions Retired -> Destroyed and invokes the engine
// adapter's Destroy, but only if refcount has reached zero. It is a
// no-op otherwise (including when already Destroyed). The
// CompareAndSwap on state is the single point that can ever call
// adapter.Destroy from this path, so destruction runs exactly once.
func (h *Handle) DestroyIfZero() (destroyed bool) {
	if h.refcount.Load() != 0 {
		return false
	}
	if !h.state.CompareAndSwap(int32(Retired), int32(Destroyed)) {
		return false
	}
	h.adapter.Destroy(h.program)
	return true
}

// DestroyNow is used by the fast path (eviction finds refcount already
// zero on a still-Live handle): it skips the Retired intermediate state
// entirely.
func (h *Handle) DestroyNow() (destroyed bool) {
	if h.refcount.Load() != 0 {
		return false
	}
	if !h.state.CompareAndSwap(int32(Live), int32(Destroyed)) {
		return false
	}
	h.adapter.Destroy(h.program)
	return true
}
