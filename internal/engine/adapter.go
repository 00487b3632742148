// Package engine adapts the repository's regex engine — coregex, a
// linear-time NFA/DFA meta-engine — behind an opaque contract:
// compile/run/destroy/is-live plus byte-footprint reporting. Everything
// else in this repository treats a *Program as an opaque handle; no
// caller outside this package imports coregex directly.
package engine

import (
	"bytes"
	"sync/atomic"

	coreregex "github.com/coregx/coregex/meta"
)

// Program is the opaque compiled automaton owned by a Pattern Handle. It
// wraps one coregex *meta.Engine plus the bookkeeping the adapter needs
// to answer IsLive and report a footprint without the underlying engine
// exposing those directly.
type Program struct {
	eng       *coreregex.Engine
	footprint int64
	numGroups int
	live      atomic.Bool

	// custom carries an opaque test-double state for fake Adapters built
	// via NewFakeProgram (testsupport.go); the production Coregex adapter
	// never sets or reads it.
	custom any
}

// FootprintBytes returns the immutable off-heap-equivalent byte size
// fixed at compile time. For the Coregex adapter this is an estimate,
// not a size reported by the engine (see adapter comment on Compile for
// how it is derived).
func (p *Program) FootprintBytes() int64 {
	return p.footprint
}

// Adapter is the engine capability contract consumed by the rest of the
// cache. It is selected once, at cache construction time, never looked
// up per call.
type Adapter interface {
	Compile(pattern []byte, caseSensitive bool) (*Program, error)
	IsLive(p *Program) bool
	Run(p *Program, op Op, input []byte, groups int) (*Match, error)
	Replace(p *Program, op Op, input, replacement []byte) (*ReplaceResult, error)
	Destroy(p *Program)
}

// Coregex is the production Adapter backed by github.com/coregx/coregex.
type Coregex struct{}

// NewCoregexAdapter constructs the default engine adapter.
func NewCoregexAdapter() *Coregex {
	return &Coregex{}
}

// Compile compiles pattern into a coregex program. coregex has no
// separate case-insensitive entry point, so case-insensitivity is
// expressed the same way Go's own stdlib regexp syntax does: a `(?i)`
// flag group prepended to the pattern text, applied exactly once before
// the pattern ever reaches the engine.
//
// Footprint accounting: the retrieved coregex fragment (meta.Engine)
// exposes execution Stats but not a byte-size accessor for the compiled
// program. Rather than guess at internals we don't have, the adapter
// derives a conservative, deterministic estimate from observable
// properties of the compiled engine — pattern length, capture count, and
// a fixed per-program overhead — documented here as an approximation. This
// is the one place this repository's accounting is not an exact reading
// of engine-reported bytes (see DESIGN.md).
func (c *Coregex) Compile(pattern []byte, caseSensitive bool) (*Program, error) {
	effective := pattern
	if !caseSensitive {
		effective = make([]byte, 0, len(pattern)+4)
		effective = append(effective, "(?i)"...)
		effective = append(effective, pattern...)
	}

	eng, err := coreregex.Compile(string(effective))
	if err != nil {
		return nil, classifyCompileError(err, pattern)
	}

	groups := eng.NumCaptures()
	prog := &Program{
		eng:       eng,
		numGroups: groups,
		footprint: estimateFootprint(len(effective), groups),
	}
	prog.live.Store(true)
	return prog, nil
}

const (
	perByteOverhead  = 16
	perCaptureBytes  = 24
	fixedOverheadMin = 512
)

func estimateFootprint(patternLen, numGroups int) int64 {
	return int64(patternLen*perByteOverhead + numGroups*perCaptureBytes + fixedOverheadMin)
}

func classifyCompileError(err error, pattern []byte) *CompileError {
	// coregex does not (in the fragment available to this repository)
	// export a typed error taxonomy, so the adapter classifies by message
	// shape. Unrecognized shapes fall back to ReasonSyntax, the most
	// common real-world cause of a regex compile failure.
	msg := err.Error()
	switch {
	case bytes.Contains([]byte(msg), []byte("too large")), bytes.Contains([]byte(msg), []byte("program size")):
		return newCompileError(ReasonTooLarge, msg, pattern)
	case bytes.Contains([]byte(msg), []byte("unsupported")):
		return newCompileError(ReasonUnsupported, msg, pattern)
	default:
		return newCompileError(ReasonSyntax, msg, pattern)
	}
}

// IsLive reports whether Destroy has not yet been called on p. coregex
// programs carry no liveness bit of their own; the adapter is the source
// of truth.
func (c *Coregex) IsLive(p *Program) bool {
	return p.live.Load()
}

// Run dispatches a single-input search/extract operation to the
// underlying coregex engine. groups is part of the Adapter contract but
// is not consulted here: every successful match reports the overall
// span plus every capture group's span.
func (c *Coregex) Run(p *Program, op Op, input []byte, groups int) (*Match, error) {
	switch op {
	case OpFullMatch:
		return runFullMatch(p, input)
	case OpPartialMatch, OpBulkPartialMatch:
		return runPartialMatch(p, input)
	case OpExtractGroups, OpBulkExtractGroups:
		return runExtractGroups(p, input)
	case OpFindAll:
		return runFindFirst(p, input)
	default:
		return runPartialMatch(p, input)
	}
}

func runFullMatch(p *Program, input []byte) (*Match, error) {
	m := p.eng.FindSubmatch(input)
	if m == nil {
		return &Match{Groups: []Span{{Start: -1, End: -1}}}, nil
	}
	span := spanFromSubmatch(m, 0)
	if span.Start != 0 || span.End != len(input) {
		return &Match{Groups: []Span{{Start: -1, End: -1}}}, nil
	}
	return matchFromSubmatch(m, p.numGroups), nil
}

func runPartialMatch(p *Program, input []byte) (*Match, error) {
	if !p.eng.IsMatch(input) {
		return &Match{Groups: []Span{{Start: -1, End: -1}}}, nil
	}
	m := p.eng.FindSubmatch(input)
	return matchFromSubmatch(m, p.numGroups), nil
}

func runExtractGroups(p *Program, input []byte) (*Match, error) {
	m := p.eng.FindSubmatch(input)
	if m == nil {
		return &Match{Groups: []Span{{Start: -1, End: -1}}}, nil
	}
	return matchFromSubmatch(m, p.numGroups), nil
}

func runFindFirst(p *Program, input []byte) (*Match, error) {
	return runExtractGroups(p, input)
}

// Replace implements replace-first/replace-all on top of the engine's
// match primitive, the same approach Go's stdlib regexp package uses:
// repeatedly find the next match, copy the gap, copy the replacement,
// advance past the match (advancing by one byte on a zero-width match to
// guarantee forward progress).
func (c *Coregex) Replace(p *Program, op Op, input, replacement []byte) (*ReplaceResult, error) {
	var out bytes.Buffer
	count := 0
	pos := 0
	for pos <= len(input) {
		m := p.eng.FindSubmatch(input[pos:])
		if m == nil {
			break
		}
		span := spanFromSubmatch(m, 0)
		start, end := span.Start+pos, span.End+pos

		out.Write(input[pos:start])
		out.Write(replacement)
		count++

		if end == start {
			if end < len(input) {
				out.WriteByte(input[end])
			}
			pos = end + 1
		} else {
			pos = end
		}

		if op == OpReplaceFirst {
			break
		}
	}
	if pos <= len(input) {
		out.Write(input[pos:])
	}
	return &ReplaceResult{Output: out.Bytes(), Replacements: count}, nil
}

// Destroy releases the engine's reference to the compiled program.
// coregex is pure Go (no cgo allocation to free explicitly), so "destroy"
// here means marking the program dead — future IsLive calls report
// false and the program becomes eligible for ordinary GC — while the
// atomic flag keeps destruction observable exactly once, and the
// cache's own byte accounting treats the footprint as reclaimed the
// instant Destroy returns.
func (c *Coregex) Destroy(p *Program) {
	p.live.Store(false)
	p.eng = nil
}

func spanFromSubmatch(m coreregex.SubmatchResult, group int) Span {
	s, e, ok := m.Group(group)
	if !ok {
		return Span{Start: -1, End: -1}
	}
	return Span{Start: s, End: e}
}

func matchFromSubmatch(m coreregex.SubmatchResult, numGroups int) *Match {
	groups := make([]Span, numGroups+1)
	for i := 0; i <= numGroups; i++ {
		groups[i] = spanFromSubmatch(m, i)
	}
	return &Match{Groups: groups}
}
