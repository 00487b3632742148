// Package patterncache exposes a process-wide compiled-pattern cache in
// front of a linear-time regular-expression engine: compile once per
// distinct (pattern, case-sensitivity) key, match/extract/replace many
// times against a shared, reference-counted, automatically-evicted
// compiled automaton.
//
// ================================================================================
// ARCHITECTURAL OVERVIEW
// ================================================================================
//
// Cache combines:
//
//  1. A sharded concurrent map (internal/cachemap) from pattern Key to a
//     shared, refcounted Pattern Handle (internal/handle) — provides
//     O(1)-amortized lookup and per-key compile deduplication.
//
//  2. An LRU Governor (internal/lru) that asynchronously evicts the
//     oldest unreferenced entries once the entry-count or live-byte cap
//     is exceeded.
//
//  3. An Idle Scanner (internal/idle) that periodically retires entries
//     that have gone unused past a configurable age.
//
//  4. A Deferred Queue (internal/deferred) holding Retired handles that
//     are still referenced, until their last caller releases them.
//
//  5. Atomic Resource Accounting (internal/accounting) tracking active
//     patterns/matchers, live/deferred bytes, peaks, and cumulative
//     eviction/compile events.
//
// ================================================================================
// CONCURRENCY MODEL
// ================================================================================
//
// No global mutex guards the cache. The map is sharded; eviction workers
// take at most one shard's lock at a time; handle refcounts and
// accounting counters are all atomics. GetOrCompile only ever blocks a
// caller on a concurrent compilation of the very same key (via
// singleflight), never on unrelated keys or on background eviction.
package patterncache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patterncache/patterncache/internal/accounting"
	"github.com/patterncache/patterncache/internal/cachemap"
	"github.com/patterncache/patterncache/internal/clock"
	"github.com/patterncache/patterncache/internal/config"
	"github.com/patterncache/patterncache/internal/deferred"
	"github.com/patterncache/patterncache/internal/engine"
	"github.com/patterncache/patterncache/internal/handle"
	"github.com/patterncache/patterncache/internal/idle"
	"github.com/patterncache/patterncache/internal/key"
	"github.com/patterncache/patterncache/internal/lru"
	"github.com/patterncache/patterncache/internal/obslog"
	"github.com/patterncache/patterncache/internal/obsmetrics"
)

// Cache is the Cache Façade. Construct one with New; each instance owns
// its own map, workers, and accounting — there is no hidden process-wide
// registry.
type Cache struct {
	// mu guards cfg and the worker pointers, which Reconfigure swaps
	// while client operations are in flight. The hot path takes only the
	// read side, once, at operation entry.
	mu      sync.RWMutex
	cfg     config.Config
	adapter engine.Adapter
	logger  obslog.Logger
	metrics obsmetrics.Sink
	clk     clock.Clock

	m         *cachemap.Map
	acct      *accounting.Accounting
	deferredQ *deferred.Queue

	governor       *lru.Governor
	scanner        *idle.Scanner
	deferredWorker *deferred.Worker

	shuttingDown atomic.Bool
}

// New constructs and initializes a configured Cache instance.
//
// CONFIGURATION MODEL:
// Uses the functional options pattern (options.go): a builder over the
// full configuration schema plus the engine/logger/metrics/clock
// capability contracts.
//
// INITIALIZATION STEPS:
//  1. Apply options over sensible defaults.
//  2. Validate the resulting configuration.
//  3. Allocate the cache map, deferred queue, and accounting.
//  4. Start the LRU Governor, Idle Scanner, and Deferred Queue worker.
func New(opts ...Option) (*Cache, error) {
	b := &buildState{
		cfg:     config.Default(),
		adapter: engine.NewCoregexAdapter(),
		logger:  obslog.Noop{},
		metrics: obsmetrics.Noop{},
		clk:     clock.Real{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("patterncache: invalid configuration: %w", err)
	}

	acct := accounting.New(accounting.Limits{
		MaxActivePatterns:    b.cfg.MaxActivePatterns,
		MaxMatchersPerHandle: b.cfg.MaxMatchersPerPattern,
	})

	c := &Cache{
		cfg:       b.cfg,
		adapter:   b.adapter,
		logger:    b.logger,
		metrics:   b.metrics,
		clk:       b.clk,
		m:         cachemap.New(),
		acct:      acct,
		deferredQ: deferred.New(),
	}

	c.startWorkers()
	return c, nil
}

func (c *Cache) startWorkers() {
	c.governor = lru.New(c.m, c.deferredQ, c.acct, c.clk, c.logger, c.metrics, lru.Config{
		MaxEntries:             c.cfg.MaxEntries,
		MaxLiveBytes:           c.cfg.MaxLiveBytes,
		BatchSize:              c.cfg.LRUBatchSize,
		EvictionProtectionMs:   c.cfg.EvictionProtectionMs,
		PeriodicSafetyNetEvery: periodicSafetyNetInterval(c.cfg),
	})
	c.scanner = idle.New(c.m, c.deferredQ, c.acct, c.clk, c.logger, c.metrics, idle.Config{
		IdleThreshold: time.Duration(c.cfg.IdleThresholdSeconds) * time.Second,
		ScanInterval:  time.Duration(c.cfg.IdleScanIntervalSeconds) * time.Second,
	})
	c.deferredWorker = deferred.NewWorker(c.deferredQ, c.acct, c.clk, c.logger, c.metrics, deferred.WorkerConfig{
		CleanupInterval:        time.Duration(c.cfg.DeferredCleanupIntervalSeconds) * time.Second,
		ForcedDeferredDeadline: time.Duration(c.cfg.ForcedDeferredDeadlineSeconds) * time.Second,
	})

	c.governor.Start()
	c.scanner.Start()
	c.deferredWorker.Start()
}

// periodicSafetyNetInterval implements DESIGN.md Open Question #3: the
// LRU Governor also runs on a low-frequency timer (not just on insert)
// so a byte-cap breach with no further inserts still recovers.
func periodicSafetyNetInterval(cfg config.Config) time.Duration {
	d := time.Duration(cfg.IdleScanIntervalSeconds) * time.Second
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// GetOrCompile returns a Grant for pattern, compiling it if it is not
// already cached.
//
// EXECUTION FLOW:
//
//  1. Build the lookup Key (no normalization).
//  2. If caching is disabled, compile fresh every call.
//  3. Otherwise look up or insert via the sharded map, deduplicating
//     concurrent compiles of the same key.
//  4. If a cache hit's handle is no longer live, retire it and
//     recompile.
//  5. Acquire the handle; a lost race against a concurrent Retire is
//     retried exactly once before surfacing as poisoned.
func (c *Cache) GetOrCompile(pattern []byte, caseSensitive bool) (*Grant, error) {
	if c.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	k := key.New(pattern, caseSensitive)
	now := c.clk.NowNanos()

	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	if !cfg.CacheEnabled {
		return c.compileOneShot(k)
	}

	entry, hit, err := c.m.GetOrInsert(k, now, func() (*handle.Handle, error) {
		return c.compileHandle(k)
	})
	if err != nil {
		return nil, c.translateErr(err)
	}
	if !hit {
		c.wakeGovernorIfOverCaps(cfg)
	}

	if hit && cfg.ValidateCachedHandles && !c.adapter.IsLive(entry.Handle.Program()) {
		entry, hit, err = c.recompileInvalid(k, entry, now)
		if err != nil {
			return nil, c.translateErr(err)
		}
	}

	if err := c.acquireGoverned(entry.Handle); err != nil {
		if !errors.Is(err, handle.ErrPoisoned) {
			return nil, c.translateErr(err)
		}
		grant, retryErr := c.retryAfterPoisoned(k, now)
		if retryErr != nil {
			return nil, retryErr
		}
		c.acct.RecordMiss()
		c.metrics.IncMiss()
		return grant, nil
	}

	if hit {
		c.acct.RecordHit()
		c.metrics.IncHit()
	} else {
		c.acct.RecordMiss()
		c.metrics.IncMiss()
	}

	return &Grant{cache: c, key: k, entry: entry}, nil
}

// wakeGovernorIfOverCaps implements the post-insert trigger from the
// data-flow contract: if the entry count or live byte total exceeds its
// soft cap after a successful insert, the LRU Governor is woken
// asynchronously; the inserting caller never blocks on eviction.
func (c *Cache) wakeGovernorIfOverCaps(cfg config.Config) {
	over := cfg.MaxEntries > 0 && c.m.Len() > cfg.MaxEntries
	if !over && cfg.MaxLiveBytes > 0 {
		over = c.acct.Snapshot().LiveBytes > cfg.MaxLiveBytes
	}
	if !over {
		return
	}
	c.mu.RLock()
	g := c.governor
	c.mu.RUnlock()
	if g != nil {
		g.Wake()
	}
}

// acquireGoverned acquires h and, when that acquire is the one that
// raises the handle's refcount from zero, reserves an active-pattern
// slot; the matching last release returns it. Enforcing
// max_active_patterns here, rather than at compile time, makes the cap
// bound the simultaneously referenced patterns: releasing any grant
// frees a slot immediately, even while its pattern stays cached.
func (c *Cache) acquireGoverned(h *handle.Handle) error {
	first, err := h.Acquire()
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	if err := c.acct.TryReserveActivePattern(); err != nil {
		if re, ok := err.(*accounting.ErrResourceExhausted); ok {
			c.metrics.IncResourceRejection(re.Kind)
		}
		if last := h.Release(); !last {
			// Another caller acquired between our refcount increment and
			// this rollback. The pattern is still referenced, so the
			// surviving reference inherits the slot this caller was
			// denied; the cap may be briefly exceeded, but no reference
			// ever goes uncounted.
			c.acct.ForceActivePattern()
		}
		return err
	}
	return nil
}

// recompileInvalid handles a cache hit whose underlying program is no
// longer live: the stale entry is removed and retired out of the map
// (deferred if still referenced), and the key is recompiled fresh.
func (c *Cache) recompileInvalid(k key.Key, entry *cachemap.Entry, now int64) (*cachemap.Entry, bool, error) {
	c.acct.RecordInvalidRecompiled()
	c.metrics.IncInvalidRecompiled()
	if c.m.Remove(k, entry) {
		bytes := entry.Handle.FootprintBytes()
		if entry.Handle.Retire(now) {
			if entry.Handle.DestroyIfZero() {
				c.acct.AddLiveBytes(-bytes)
			} else {
				c.deferredQ.Enqueue(k, entry.Handle)
				c.acct.AddLiveBytes(-bytes)
				c.acct.AddDeferredBytes(bytes, 1)
			}
		}
	}
	newEntry, _, err := c.m.GetOrInsert(k, now, func() (*handle.Handle, error) {
		return c.compileHandle(k)
	})
	return newEntry, false, err
}

// retryAfterPoisoned re-runs the miss path once after an Acquire raced
// against Retire and lost. A second poisoned acquire in a row is a fatal
// invariant violation, logged with the pattern's fingerprint only.
func (c *Cache) retryAfterPoisoned(k key.Key, now int64) (*Grant, error) {
	entry, _, err := c.m.GetOrInsert(k, now, func() (*handle.Handle, error) {
		return c.compileHandle(k)
	})
	if err != nil {
		return nil, c.translateErr(err)
	}
	if err := c.acquireGoverned(entry.Handle); err != nil {
		if !errors.Is(err, handle.ErrPoisoned) {
			return nil, c.translateErr(err)
		}
		c.logger.Error("handle poisoned on retry, fatal invariant violation",
			"fingerprint", k.FingerprintHex())
		return nil, ErrHandlePoisoned
	}
	return &Grant{cache: c, key: k, entry: entry}, nil
}

// compileHandle is the compile_fn passed to cachemap.GetOrInsert: it
// compiles pattern via the engine adapter and wraps the result in a
// Handle. The active-pattern cap is not checked here — it governs
// references, not residency, and is enforced by acquireGoverned.
func (c *Cache) compileHandle(k key.Key) (*handle.Handle, error) {
	program, err := c.adapter.Compile(k.Bytes(), k.CaseSensitive())
	if err != nil {
		c.acct.RecordCompilationFailure()
		c.metrics.IncCompilationFailure()
		return nil, err
	}
	c.acct.AddLiveBytes(program.FootprintBytes())
	return handle.New(c.adapter, program), nil
}

// compileOneShot implements cache_enabled=false: every call compiles and
// returns a handle that is never inserted into the map; accounting
// limits still apply.
func (c *Cache) compileOneShot(k key.Key) (*Grant, error) {
	h, err := c.compileHandle(k)
	if err != nil {
		return nil, c.translateErr(err)
	}
	if err := c.acquireGoverned(h); err != nil {
		// The handle is reachable from nowhere else; destroy it before
		// surfacing the rejection.
		h.Retire(c.clk.NowNanos())
		if h.DestroyIfZero() {
			c.acct.AddLiveBytes(-h.FootprintBytes())
		}
		return nil, c.translateErr(err)
	}
	c.acct.RecordMiss()
	c.metrics.IncMiss()
	return &Grant{cache: c, key: k, entry: &cachemap.Entry{Key: k, Handle: h}, oneShot: true}, nil
}

// translateErr maps internal errors onto the public taxonomy. A
// detected counter saturation is logged here and surfaces as an Error
// that errors.Is-matches ErrResourceExhausted (see Error.Is).
func (c *Cache) translateErr(err error) error {
	switch e := err.(type) {
	case *engine.CompileError:
		return compileError(e)
	case *accounting.ErrResourceExhausted:
		return resourceExhausted(e.Kind)
	case *accounting.ErrCounterOverflow:
		c.logger.Error("accounting counter saturated", "counter", e.Counter)
		return &Error{Kind: KindAccountingOverflow, Message: "counter saturation: " + e.Counter}
	default:
		if errors.Is(err, handle.ErrPoisoned) {
			return ErrHandlePoisoned
		}
		return &Error{Kind: KindCompileError, Message: err.Error()}
	}
}

// Clear retires every cache entry: handles with refcount > 0 move to the
// Deferred Queue; others are destroyed immediately.
func (c *Cache) Clear() {
	now := c.clk.NowNanos()
	c.m.ClearAll(func(k key.Key, e *cachemap.Entry) {
		bytes := e.Handle.FootprintBytes()
		if e.Handle.DestroyNow() {
			c.acct.AddLiveBytes(-bytes)
			return
		}
		if e.Handle.Retire(now) {
			c.deferredQ.Enqueue(k, e.Handle)
			c.acct.AddLiveBytes(-bytes)
			c.acct.AddDeferredBytes(bytes, 1)
		}
	})
}

// Reconfigure stops the background workers, clears the cache,
// applies the new configuration, and restarts the workers under it.
//
// Per DESIGN.md Open Question #1, this clears unconditionally rather
// than migrating live entries under the old config — no migration
// semantics is specified anywhere else in this system.
func (c *Cache) Reconfigure(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("patterncache: invalid configuration: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.governor.Stop()
	c.scanner.Stop()
	c.deferredWorker.Stop()

	c.Clear()
	c.cfg = cfg
	c.startWorkers()
	return nil
}

// SnapshotStats returns a point-in-time Accounting Snapshot and pushes
// the current gauge values to the metrics sink.
func (c *Cache) SnapshotStats() accounting.Snapshot {
	snap := c.acct.Snapshot()
	c.metrics.SetLiveBytes(float64(snap.LiveBytes))
	c.metrics.SetLiveBytesPeak(float64(snap.LiveBytesPeak))
	c.metrics.SetActivePatterns(float64(snap.ActivePatterns))
	c.metrics.SetDeferredCount(float64(snap.DeferredCount))
	return snap
}

// Shutdown stops all background workers, clears the cache, and drains
// the Deferred Queue by polling until empty or a bounded deadline.
// Handles still held by in-flight Grants remain valid until their
// holders Release them; destruction then happens on the releasing
// thread.
func (c *Cache) Shutdown() {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	c.governor.Stop()
	c.scanner.Stop()
	c.deferredWorker.Stop()
	forcedDeadline := time.Duration(c.cfg.ForcedDeferredDeadlineSeconds) * time.Second
	c.mu.Unlock()

	c.Clear()

	const drainDeadline = 2 * time.Second
	c.deferredQ.Drain(c.clk.NowNanos, drainDeadline, int64(forcedDeadline))
}
