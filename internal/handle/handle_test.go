package handle

import (
	"testing"

	"github.com/patterncache/patterncache/internal/engine/enginetest"
)

func newTestHandle(t *testing.T) (*Handle, *enginetest.Fake) {
	t.Helper()
	adapter := enginetest.NewFake()
	program, err := adapter.Compile([]byte(`foo`), true)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return New(adapter, program), adapter
}

func TestAcquireSucceedsWhileLive(t *testing.T) {
	h, _ := newTestHandle(t)
	first, err := h.Acquire()
	if err != nil {
		t.Fatalf("Acquire on a live handle must succeed, got %v", err)
	}
	if !first {
		t.Fatal("the acquire that raises refcount from zero must report first")
	}
	if got := h.Refcount(); got != 1 {
		t.Fatalf("Refcount() = %d, want 1", got)
	}
}

func TestAcquireReleaseReportBoundaryTransitions(t *testing.T) {
	h, _ := newTestHandle(t)
	if first, _ := h.Acquire(); !first {
		t.Fatal("refcount 0 -> 1 must report first")
	}
	if first, _ := h.Acquire(); first {
		t.Fatal("refcount 1 -> 2 must not report first")
	}
	if h.Release() {
		t.Fatal("refcount 2 -> 1 must not report last")
	}
	if !h.Release() {
		t.Fatal("refcount 1 -> 0 must report last")
	}
}

func TestAcquireFailsAfterDestroyNow(t *testing.T) {
	h, _ := newTestHandle(t)
	if !h.DestroyNow() {
		t.Fatal("DestroyNow on a zero-refcount live handle must succeed")
	}
	if _, err := h.Acquire(); err != ErrPoisoned {
		t.Fatalf("Acquire on a destroyed handle must fail with ErrPoisoned, got %v", err)
	}
	if got := h.Refcount(); got != 0 {
		t.Fatalf("a failed Acquire must not leave the refcount incremented, got %d", got)
	}
}

func TestRetireIsIdempotentAcrossCallers(t *testing.T) {
	h, _ := newTestHandle(t)
	first := h.Retire(100)
	second := h.Retire(200)
	if !first {
		t.Fatal("the first Retire call must observe the transition")
	}
	if second {
		t.Fatal("a second Retire call must not observe the transition again")
	}
	if h.RetiredAtNanos() != 100 {
		t.Fatalf("RetiredAtNanos() = %d, want 100 (set by the winning caller only)", h.RetiredAtNanos())
	}
}

func TestDestroyIfZeroRequiresRetiredAndZeroRefcount(t *testing.T) {
	h, adapter := newTestHandle(t)
	if _, err := h.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Retire(1)
	if h.DestroyIfZero() {
		t.Fatal("DestroyIfZero must not destroy while refcount > 0")
	}
	h.Release()
	if !h.DestroyIfZero() {
		t.Fatal("DestroyIfZero must destroy once refcount reaches zero on a Retired handle")
	}
	if adapter.DestroyCount.Load() != 1 {
		t.Fatalf("adapter.Destroy must be called exactly once, got %d", adapter.DestroyCount.Load())
	}
	if h.DestroyIfZero() {
		t.Fatal("DestroyIfZero must be a no-op once already Destroyed")
	}
	if adapter.DestroyCount.Load() != 1 {
		t.Fatal("a second DestroyIfZero call must not invoke adapter.Destroy again")
	}
}

func TestDestroyNowSkipsRetiredState(t *testing.T) {
	h, _ := newTestHandle(t)
	if !h.DestroyNow() {
		t.Fatal("DestroyNow on a zero-refcount live handle must succeed")
	}
	if h.State() != Destroyed {
		t.Fatalf("State() = %v, want Destroyed", h.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Live: "live", Retired: "retired", Destroyed: "destroyed", State(99): "unknown"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
