// Package obsmetrics defines the metrics sink capability contract
// (label-free counters and gauges), selected once at cache construction
// time. The default wired implementation is backed by
// github.com/prometheus/client_golang.
package obsmetrics

// Sink is the metrics capability contract. Every method name maps
// directly onto an accounting snapshot field or event.
type Sink interface {
	IncHit()
	IncMiss()
	IncEvictionLRU()
	IncEvictionIdle()
	IncEvictionDeferred()
	IncInvalidRecompiled()
	IncCompilationFailure()
	IncResourceRejection(kind string)
	SetLiveBytes(v float64)
	SetLiveBytesPeak(v float64)
	SetDeferredCount(v float64)
	SetActivePatterns(v float64)
}

// Noop discards every metric. It is the zero-value default so the core
// cache never requires Prometheus to be wired.
type Noop struct{}

func (Noop) IncHit()                     {}
func (Noop) IncMiss()                    {}
func (Noop) IncEvictionLRU()             {}
func (Noop) IncEvictionIdle()            {}
func (Noop) IncEvictionDeferred()        {}
func (Noop) IncInvalidRecompiled()       {}
func (Noop) IncCompilationFailure()      {}
func (Noop) IncResourceRejection(string) {}
func (Noop) SetLiveBytes(float64)        {}
func (Noop) SetLiveBytesPeak(float64)    {}
func (Noop) SetDeferredCount(float64)    {}
func (Noop) SetActivePatterns(float64)   {}
