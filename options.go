package patterncache

import (
	"github.com/patterncache/patterncache/internal/clock"
	"github.com/patterncache/patterncache/internal/config"
	"github.com/patterncache/patterncache/internal/engine"
	"github.com/patterncache/patterncache/internal/obslog"
	"github.com/patterncache/patterncache/internal/obsmetrics"
)

/*
Option configures a Cache at construction time.

DESIGN PATTERN

Functional options cover the full configuration schema plus the
capability contracts the cache depends on — the engine adapter, the
logger, the metrics sink, and the clock — each selected once, here,
rather than looked up per call.
*/
type Option func(*buildState)

type buildState struct {
	cfg     config.Config
	adapter engine.Adapter
	logger  obslog.Logger
	metrics obsmetrics.Sink
	clk     clock.Clock
}

// WithConfig overrides the default configuration. The config is
// validated at New() time; an invalid config causes New() to return an
// error.
func WithConfig(cfg config.Config) Option {
	return func(b *buildState) { b.cfg = cfg }
}

// WithEngineAdapter overrides the default regex engine adapter. Intended
// for tests that substitute a fake engine to control compile/match
// behavior deterministically.
func WithEngineAdapter(a engine.Adapter) Option {
	return func(b *buildState) { b.adapter = a }
}

// WithLogger overrides the default (no-op) logger.
func WithLogger(l obslog.Logger) Option {
	return func(b *buildState) { b.logger = l }
}

// WithMetrics overrides the default (no-op) metrics sink.
func WithMetrics(m obsmetrics.Sink) Option {
	return func(b *buildState) { b.metrics = m }
}

// WithClock overrides the default (real) clock. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(b *buildState) { b.clk = c }
}
