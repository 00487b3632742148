// Package enginetest provides a deterministic fake of
// engine.Adapter for tests that want to control compile/match behavior
// precisely instead of depending on the real coregex-backed engine.
package enginetest

import (
	"bytes"
	"strings"
	"sync/atomic"

	"github.com/patterncache/patterncache/internal/engine"
)

// Fake is a test double for engine.Adapter. Patterns containing the
// substring "BADPATTERN" fail to compile with a syntax CompileError;
// every other pattern "compiles" to a program that does plain
// substring containment instead of real regex matching, which is
// sufficient to exercise the cache's lifecycle and accounting logic.
type Fake struct {
	CompileCount   atomic.Int64
	DestroyCount   atomic.Int64
	FixedFootprint int64 // 0 means derive from pattern length

	// FailLiveness, while set, makes IsLive report false for every
	// program, simulating an engine whose compiled handles were
	// invalidated out from under the cache.
	FailLiveness atomic.Bool
}

// NewFake constructs a Fake adapter.
func NewFake() *Fake {
	return &Fake{}
}

type fakeState struct {
	pattern   string
	footprint int64
}

// Compile implements engine.Adapter.
func (f *Fake) Compile(pattern []byte, caseSensitive bool) (*engine.Program, error) {
	f.CompileCount.Add(1)
	p := string(pattern)
	if strings.Contains(p, "BADPATTERN") {
		return nil, &engine.CompileError{Reason: engine.ReasonSyntax, Message: "fake: rejected", Excerpt: p}
	}
	footprint := f.FixedFootprint
	if footprint == 0 {
		footprint = int64(len(p)*8 + 64)
	}
	return engine.NewFakeProgram(fakeState{pattern: p, footprint: footprint}, footprint), nil
}

// IsLive implements engine.Adapter.
func (f *Fake) IsLive(p *engine.Program) bool {
	return !f.FailLiveness.Load() && engine.FakeProgramLive(p)
}

// Run implements engine.Adapter: substring containment regardless of op.
func (f *Fake) Run(p *engine.Program, op engine.Op, input []byte, groups int) (*engine.Match, error) {
	st := engine.FakeProgramState(p).(fakeState)
	idx := bytes.Index(input, []byte(st.pattern))
	if idx < 0 {
		return &engine.Match{Groups: []engine.Span{{Start: -1, End: -1}}}, nil
	}
	if op == engine.OpFullMatch && (idx != 0 || idx+len(st.pattern) != len(input)) {
		return &engine.Match{Groups: []engine.Span{{Start: -1, End: -1}}}, nil
	}
	return &engine.Match{Groups: []engine.Span{{Start: idx, End: idx + len(st.pattern)}}}, nil
}

// Replace implements engine.Adapter: replaces every (or first) literal
// occurrence of the pattern text.
func (f *Fake) Replace(p *engine.Program, op engine.Op, input, replacement []byte) (*engine.ReplaceResult, error) {
	st := engine.FakeProgramState(p).(fakeState)
	count := -1
	if op == engine.OpReplaceFirst {
		count = 1
	}
	out := bytes.Replace(input, []byte(st.pattern), replacement, count)
	n := bytes.Count(input, []byte(st.pattern))
	if op == engine.OpReplaceFirst && n > 0 {
		n = 1
	}
	return &engine.ReplaceResult{Output: out, Replacements: n}, nil
}

// Destroy implements engine.Adapter.
func (f *Fake) Destroy(p *engine.Program) {
	f.DestroyCount.Add(1)
	engine.FakeProgramDestroy(p)
}
