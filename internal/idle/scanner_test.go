package idle

import (
	"testing"
	"time"

	"github.com/patterncache/patterncache/internal/accounting"
	"github.com/patterncache/patterncache/internal/cachemap"
	"github.com/patterncache/patterncache/internal/clock"
	"github.com/patterncache/patterncache/internal/deferred"
	"github.com/patterncache/patterncache/internal/engine/enginetest"
	"github.com/patterncache/patterncache/internal/handle"
	"github.com/patterncache/patterncache/internal/key"
	"github.com/patterncache/patterncache/internal/obslog"
	"github.com/patterncache/patterncache/internal/obsmetrics"
)

func insert(t *testing.T, m *cachemap.Map, adapter *enginetest.Fake, pattern string, nowNanos int64) *handle.Handle {
	t.Helper()
	k := key.New([]byte(pattern), true)
	entry, _, err := m.GetOrInsert(k, nowNanos, func() (*handle.Handle, error) {
		program, cerr := adapter.Compile([]byte(pattern), true)
		if cerr != nil {
			return nil, cerr
		}
		return handle.New(adapter, program), nil
	})
	if err != nil {
		t.Fatalf("insert %q: %v", pattern, err)
	}
	return entry.Handle
}

func TestSweepEvictsEntriesPastIdleThreshold(t *testing.T) {
	m := cachemap.New()
	adapter := enginetest.NewFake()
	acct := accounting.New(accounting.Limits{MaxActivePatterns: 10, MaxMatchersPerHandle: 10})
	clk := clock.NewFake(0)
	dq := deferred.New()

	insert(t, m, adapter, "stale", 0)
	clk.Advance(10 * time.Minute)
	insert(t, m, adapter, "fresh", clk.NowNanos())

	s := New(m, dq, acct, clk, obslog.Noop{}, obsmetrics.Noop{}, Config{
		IdleThreshold: 5 * time.Minute,
		ScanInterval:  time.Minute,
	})
	s.sweep()

	if _, ok := m.Get(key.New([]byte("stale"), true), clk.NowNanos()); ok {
		t.Fatal("an entry idle past the threshold must be evicted")
	}
	if _, ok := m.Get(key.New([]byte("fresh"), true), clk.NowNanos()); !ok {
		t.Fatal("a recently-touched entry must survive the sweep")
	}
}

func TestSweepDefersReferencedEntries(t *testing.T) {
	m := cachemap.New()
	adapter := enginetest.NewFake()
	acct := accounting.New(accounting.Limits{MaxActivePatterns: 10, MaxMatchersPerHandle: 10})
	clk := clock.NewFake(0)
	dq := deferred.New()

	h := insert(t, m, adapter, "held", 0)
	if _, err := h.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	clk.Advance(10 * time.Minute)

	s := New(m, dq, acct, clk, obslog.Noop{}, obsmetrics.Noop{}, Config{
		IdleThreshold: 5 * time.Minute,
		ScanInterval:  time.Minute,
	})
	s.sweep()

	if _, ok := m.Get(key.New([]byte("held"), true), clk.NowNanos()); ok {
		t.Fatal("the entry must be removed from the map even though it is deferred, not destroyed")
	}
	if dq.Len() != 1 {
		t.Fatalf("a referenced idle entry must be retired into the deferred queue, Len() = %d", dq.Len())
	}
	if acct.Snapshot().EvictionsDeferred != 1 {
		t.Fatal("a referenced idle eviction counts as deferred, not idle")
	}
}
