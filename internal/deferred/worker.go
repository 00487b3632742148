package deferred

import (
	"fmt"
	"time"

	"github.com/patterncache/patterncache/internal/accounting"
	"github.com/patterncache/patterncache/internal/clock"
	"github.com/patterncache/patterncache/internal/obslog"
	"github.com/patterncache/patterncache/internal/obsmetrics"
)

// WorkerConfig is the subset of the configuration schema the deferred
// worker needs.
type WorkerConfig struct {
	CleanupInterval        time.Duration
	ForcedDeferredDeadline time.Duration
}

// Worker periodically sweeps a Queue: attempt DestroyIfZero on every
// record, and log (never force-destroy) any record that has lingered
// past the forced-eviction deadline.
type Worker struct {
	queue   *Queue
	acct    *accounting.Accounting
	clk     clock.Clock
	log     obslog.Logger
	metrics obsmetrics.Sink
	cfg     WorkerConfig

	stop chan struct{}
	done chan struct{}
}

// NewWorker constructs a Worker over queue. Call Start to begin its
// background loop.
func NewWorker(queue *Queue, acct *accounting.Accounting, clk clock.Clock, log obslog.Logger, metrics obsmetrics.Sink, cfg WorkerConfig) *Worker {
	return &Worker{
		queue:   queue,
		acct:    acct,
		clk:     clk,
		log:     log,
		metrics: metrics,
		cfg:     cfg,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background worker goroutine.
func (w *Worker) Start() {
	go w.loop()
}

// Stop signals the worker to exit and waits for it to do so.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.safeSweepOnce()
		case <-w.stop:
			return
		}
	}
}

// safeSweepOnce keeps a panicking sweep from killing the worker: the
// failure is logged at warn and the loop continues on its next tick.
func (w *Worker) safeSweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn("deferred sweep panicked", "panic", fmt.Sprint(r))
		}
	}()
	w.sweepOnce()
}

func (w *Worker) sweepOnce() {
	now := w.clk.NowNanos()
	result := w.queue.Sweep(now, int64(w.cfg.ForcedDeferredDeadline))

	for _, d := range result.Destroyed {
		w.acct.AddDeferredBytes(-d.Bytes, -1)
		w.acct.RecordEvictionDeferred()
		w.metrics.IncEvictionDeferred()
	}
	for _, stale := range result.PastDeadline {
		w.log.Warn("deferred handle past forced-eviction deadline",
			"fingerprint", stale.Key.FingerprintHex(),
			"age_ms", stale.AgeNanos/int64(time.Millisecond))
	}
	w.metrics.SetDeferredCount(float64(result.RemainingCount))
}
