package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus is the default Sink implementation.
type Prometheus struct {
	hits               prometheus.Counter
	misses             prometheus.Counter
	evictionsLRU       prometheus.Counter
	evictionsIdle      prometheus.Counter
	evictionsDeferred  prometheus.Counter
	invalidRecompiled  prometheus.Counter
	compileFailures    prometheus.Counter
	resourceRejections prometheus.Counter

	liveBytes      prometheus.Gauge
	liveBytesPeak  prometheus.Gauge
	deferredCount  prometheus.Gauge
	activePatterns prometheus.Gauge
}

// NewPrometheus registers and returns a Sink on the given registerer. A
// caller with no preference can pass prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		hits:              prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "hits_total", Help: "Cache hits."}),
		misses:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "misses_total", Help: "Cache misses."}),
		evictionsLRU:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "evictions_lru_total", Help: "Entries evicted by the LRU governor."}),
		evictionsIdle:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "evictions_idle_total", Help: "Entries evicted by the idle scanner."}),
		evictionsDeferred: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "evictions_deferred_total", Help: "Handles destroyed by the deferred queue."}),
		invalidRecompiled: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "invalid_recompiled_total", Help: "Cached handles found dead on validation and recompiled."}),
		compileFailures:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "patterncache", Name: "compilation_failures_total", Help: "Pattern compilations that failed."}),
		resourceRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patterncache", Name: "resource_rejections_total", Help: "Operations rejected by a resource cap.",
		}),
		liveBytes:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "patterncache", Name: "live_bytes", Help: "Current live off-heap-equivalent byte total."}),
		liveBytesPeak:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "patterncache", Name: "live_bytes_peak", Help: "Peak live byte total."}),
		deferredCount:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "patterncache", Name: "deferred_count", Help: "Handles currently awaiting zero refcount."}),
		activePatterns: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "patterncache", Name: "active_patterns", Help: "Simultaneously active compiled patterns."}),
	}
	if reg != nil {
		reg.MustRegister(p.hits, p.misses, p.evictionsLRU, p.evictionsIdle, p.evictionsDeferred,
			p.invalidRecompiled, p.compileFailures, p.resourceRejections,
			p.liveBytes, p.liveBytesPeak, p.deferredCount, p.activePatterns)
	}
	return p
}

func (p *Prometheus) IncHit()                          { p.hits.Inc() }
func (p *Prometheus) IncMiss()                         { p.misses.Inc() }
func (p *Prometheus) IncEvictionLRU()                  { p.evictionsLRU.Inc() }
func (p *Prometheus) IncEvictionIdle()                 { p.evictionsIdle.Inc() }
func (p *Prometheus) IncEvictionDeferred()             { p.evictionsDeferred.Inc() }
func (p *Prometheus) IncInvalidRecompiled()            { p.invalidRecompiled.Inc() }
func (p *Prometheus) IncCompilationFailure()           { p.compileFailures.Inc() }
func (p *Prometheus) IncResourceRejection(string)      { p.resourceRejections.Inc() }
func (p *Prometheus) SetLiveBytes(v float64)           { p.liveBytes.Set(v) }
func (p *Prometheus) SetLiveBytesPeak(v float64)       { p.liveBytesPeak.Set(v) }
func (p *Prometheus) SetDeferredCount(v float64)       { p.deferredCount.Set(v) }
func (p *Prometheus) SetActivePatterns(v float64)      { p.activePatterns.Set(v) }
