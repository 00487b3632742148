// Package idle implements the idle scanner: a periodic worker that
// walks the cache map and retires or destroys entries whose last access
// is older than the idle threshold.
//
// The worker is a time.Ticker plus a select loop over a stop channel.
// An expired entry is destroyed immediately when unreferenced and
// retired into the deferred queue otherwise.
package idle

import (
	"fmt"
	"time"

	"github.com/patterncache/patterncache/internal/accounting"
	"github.com/patterncache/patterncache/internal/cachemap"
	"github.com/patterncache/patterncache/internal/clock"
	"github.com/patterncache/patterncache/internal/deferred"
	"github.com/patterncache/patterncache/internal/key"
	"github.com/patterncache/patterncache/internal/obslog"
	"github.com/patterncache/patterncache/internal/obsmetrics"
)

// Config is the subset of the configuration schema the scanner needs.
type Config struct {
	IdleThreshold time.Duration
	ScanInterval  time.Duration
}

// Scanner is the Idle Scanner background worker.
type Scanner struct {
	mapRef    *cachemap.Map
	deferredQ *deferred.Queue
	acct      *accounting.Accounting
	clk       clock.Clock
	log       obslog.Logger
	metrics   obsmetrics.Sink
	cfg       Config

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scanner. Call Start to begin its background loop.
func New(m *cachemap.Map, dq *deferred.Queue, acct *accounting.Accounting, clk clock.Clock, log obslog.Logger, metrics obsmetrics.Sink, cfg Config) *Scanner {
	return &Scanner{
		mapRef:    m,
		deferredQ: dq,
		acct:      acct,
		clk:       clk,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background worker goroutine.
func (s *Scanner) Start() {
	go s.loop()
}

// Stop signals the worker to exit and waits for it to do so.
func (s *Scanner) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scanner) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-s.stop:
			return
		}
	}
}

// safeSweep keeps a panicking sweep from killing the worker: the failure
// is logged at warn and the loop continues on its next tick.
func (s *Scanner) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("idle sweep panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep()
}

// sweep walks every shard once, expiring entries past the idle
// threshold. Expired entries with refcount==0 are destroyed immediately;
// others are retired and handed to the deferred queue, counted as
// deferred rather than idle in that case.
func (s *Scanner) sweep() {
	now := s.clk.NowNanos()
	thresholdNanos := int64(s.cfg.IdleThreshold)

	var expired []struct {
		key   key.Key
		entry *cachemap.Entry
	}
	s.mapRef.ForEach(func(k key.Key, e *cachemap.Entry) {
		select {
		case <-s.stop:
			return
		default:
		}
		if now-e.LastAccessNanos() >= thresholdNanos {
			expired = append(expired, struct {
				key   key.Key
				entry *cachemap.Entry
			}{k, e})
		}
	})

	for _, ex := range expired {
		select {
		case <-s.stop:
			return
		default:
		}
		if !s.mapRef.Remove(ex.key, ex.entry) {
			continue
		}
		bytes := ex.entry.Handle.FootprintBytes()
		if ex.entry.Handle.DestroyNow() {
			s.acct.AddLiveBytes(-bytes)
			s.acct.RecordEvictionIdle()
			s.metrics.IncEvictionIdle()
		} else if ex.entry.Handle.Retire(now) {
			s.deferredQ.Enqueue(ex.key, ex.entry.Handle)
			s.acct.AddLiveBytes(-bytes)
			s.acct.AddDeferredBytes(bytes, 1)
			s.acct.RecordEvictionDeferred()
			s.metrics.IncEvictionDeferred()
		}
	}
}
