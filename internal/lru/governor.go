// Package lru implements the LRU governor: asynchronous batch eviction
// triggered when, after an insert, the entry count or live byte total
// exceeds the configured soft caps.
//
// Candidate selection is a per-shard snapshot scan; when the pool is
// larger than the batch, the whole pool is sorted by last access and the
// oldest entries are kept. There is no single global recency list to splice —
// the cache map is sharded, and a map-wide exclusive lock during
// candidate collection would stall every reader.
package lru

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patterncache/patterncache/internal/accounting"
	"github.com/patterncache/patterncache/internal/cachemap"
	"github.com/patterncache/patterncache/internal/clock"
	"github.com/patterncache/patterncache/internal/deferred"
	"github.com/patterncache/patterncache/internal/key"
	"github.com/patterncache/patterncache/internal/obslog"
	"github.com/patterncache/patterncache/internal/obsmetrics"
)

// Config is the subset of the configuration schema the governor needs.
type Config struct {
	MaxEntries             int
	MaxLiveBytes           int64 // 0 means unbounded
	BatchSize              int
	EvictionProtectionMs   int
	PeriodicSafetyNetEvery time.Duration // periodic recovery tick, 0 disables
}

// Governor is the LRU Governor. Callers Wake it after an insert; it runs
// entirely on its own goroutine and never blocks the caller.
type Governor struct {
	mapRef    *cachemap.Map
	deferredQ *deferred.Queue
	acct      *accounting.Accounting
	clk       clock.Clock
	log       obslog.Logger
	metrics   obsmetrics.Sink
	cfg       Config

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Governor. Call Start to begin its background loop.
func New(m *cachemap.Map, dq *deferred.Queue, acct *accounting.Accounting, clk clock.Clock, log obslog.Logger, metrics obsmetrics.Sink, cfg Config) *Governor {
	return &Governor{
		mapRef:    m,
		deferredQ: dq,
		acct:      acct,
		clk:       clk,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start launches the background worker goroutine.
func (g *Governor) Start() {
	g.wg.Add(1)
	go g.loop()
}

// Stop signals the worker to exit and waits for it to do so.
func (g *Governor) Stop() {
	close(g.stop)
	g.wg.Wait()
}

// Wake asynchronously requests an eviction pass. Never blocks: if a wake
// is already pending, this is a no-op.
func (g *Governor) Wake() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Governor) loop() {
	defer g.wg.Done()

	var ticker *time.Ticker
	var tickerC <-chan time.Time
	if g.cfg.PeriodicSafetyNetEvery > 0 {
		ticker = time.NewTicker(g.cfg.PeriodicSafetyNetEvery)
		tickerC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-g.stop:
			return
		case <-g.wake:
			g.safeRunCycle()
		case <-tickerC:
			g.safeRunCycle()
		}
	}
}

// safeRunCycle keeps a panicking eviction pass from killing the worker:
// the failure is logged at warn and the loop continues on its next wake.
func (g *Governor) safeRunCycle() {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("lru eviction cycle panicked", "panic", fmt.Sprint(r))
		}
	}()
	g.runCycle()
}

type candidate struct {
	key        key.Key
	entry      *cachemap.Entry
	lastAccess int64
}

func roundUpToBatch(n, batch int) int {
	if batch <= 0 {
		batch = 1
	}
	if n <= 0 {
		return batch
	}
	rem := n % batch
	if rem == 0 {
		return n
	}
	return n + (batch - rem)
}

// runCycle executes one eviction pass. It never takes a map-wide
// exclusive lock: candidate collection uses cachemap.ForEach, which
// locks at most one shard at a time.
func (g *Governor) runCycle() {
	now := g.clk.NowNanos()
	protectionNanos := int64(g.cfg.EvictionProtectionMs) * int64(time.Millisecond)

	entryCount := g.mapRef.Len()
	snap := g.acct.Snapshot()
	liveBytes := snap.LiveBytes
	g.metrics.SetLiveBytes(float64(liveBytes))
	g.metrics.SetLiveBytesPeak(float64(snap.LiveBytesPeak))
	g.metrics.SetActivePatterns(float64(snap.ActivePatterns))

	overEntries := g.cfg.MaxEntries > 0 && entryCount > g.cfg.MaxEntries
	overBytes := g.cfg.MaxLiveBytes > 0 && liveBytes > g.cfg.MaxLiveBytes
	if !overEntries && !overBytes {
		return
	}

	excess := 0
	if overEntries {
		excess = entryCount - g.cfg.MaxEntries
	}
	target := roundUpToBatch(excess, g.cfg.BatchSize)

	var candidates []candidate
	g.mapRef.ForEach(func(k key.Key, e *cachemap.Entry) {
		if e.Handle.Refcount() != 0 {
			return
		}
		la := e.LastAccessNanos()
		if now-la < protectionNanos {
			return
		}
		candidates = append(candidates, candidate{key: k, entry: e, lastAccess: la})
	})

	if len(candidates) > target {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].lastAccess < candidates[j].lastAccess
		})
		candidates = candidates[:target]
	}

	for _, c := range candidates {
		if !g.mapRef.Remove(c.key, c.entry) {
			continue // already removed by a concurrent pass
		}

		bytes := c.entry.Handle.FootprintBytes()
		if c.entry.Handle.DestroyNow() {
			g.acct.AddLiveBytes(-bytes)
			g.acct.RecordEvictionLRU()
			g.metrics.IncEvictionLRU()
		} else if c.entry.Handle.Retire(now) {
			g.deferredQ.Enqueue(c.key, c.entry.Handle)
			g.acct.AddLiveBytes(-bytes)
			g.acct.AddDeferredBytes(bytes, 1)
			g.acct.RecordEvictionDeferred()
			g.metrics.IncEvictionDeferred()
		}
		// If Retire lost its CAS race (someone else retired/destroyed the
		// handle first), there is nothing left for this cycle to do —
		// the entry is already gone from the map either way.

		// Stop early once the caps are satisfied again.
		entryCount--
		if (!overEntries || entryCount <= g.cfg.MaxEntries) &&
			(!overBytes || g.acct.Snapshot().LiveBytes <= g.cfg.MaxLiveBytes) {
			break
		}
	}
}
