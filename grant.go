package patterncache

import (
	"sync/atomic"

	"github.com/patterncache/patterncache/internal/accounting"
	"github.com/patterncache/patterncache/internal/cachemap"
	"github.com/patterncache/patterncache/internal/engine"
	"github.com/patterncache/patterncache/internal/key"
)

// Span is a half-open byte range [Start, End) into a searched input.
type Span = engine.Span

// ReplaceResult is the output of a replace operation: the rewritten
// input plus the number of replacements made.
type ReplaceResult = engine.ReplaceResult

// Grant is a scoped acquisition of a compiled pattern: the caller holds
// a reference on the underlying Pattern Handle from GetOrCompile until
// Release. Operations (FullMatch, PartialMatch, ...) are only valid
// between those two calls.
//
// A Grant is not safe for concurrent use by multiple goroutines; callers
// that want to share one compiled pattern across goroutines should call
// GetOrCompile once per goroutine (the cache map dedups the underlying
// compile) or hand out Matchers, see NewMatcher.
type Grant struct {
	cache   *Cache
	key     key.Key
	entry   *cachemap.Entry
	oneShot bool

	released atomic.Bool
}

// Release returns the Grant's reference. Only the first call has any
// effect; later calls are no-ops. If the underlying handle has been
// Retired (by LRU eviction, idle eviction, or a recompile) and this
// Release brings its refcount to zero, destruction completes
// synchronously on this call, matching the "destruction happens on the
// releasing thread" contract.
func (g *Grant) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	h := g.entry.Handle
	if h.Release() {
		// Dropping the refcount to zero returns the pattern's
		// active-pattern slot, whether or not the pattern stays cached.
		g.cache.acct.ReleaseActivePattern()
	}

	if g.oneShot {
		// One-shot handles never enter the map or the deferred queue;
		// their bytes stay in the live total until the last holder (this
		// Grant or a Matcher fanned out from it) destroys them here.
		h.Retire(g.cache.clk.NowNanos())
		if h.DestroyIfZero() {
			g.cache.acct.AddLiveBytes(-h.FootprintBytes())
		}
		return
	}

	// A cached handle can only be Retired here by an eviction that
	// already moved its bytes from the live total to the deferred tier,
	// so the last releaser settles the deferred accounting, not the live.
	if h.DestroyIfZero() {
		g.cache.acct.AddDeferredBytes(-h.FootprintBytes(), -1)
		g.cache.acct.RecordEvictionDeferred()
		g.cache.metrics.IncEvictionDeferred()
	}
}

func (g *Grant) program() *engine.Program {
	return g.entry.Handle.Program()
}

// FullMatch reports whether the pattern matches input in its entirety.
func (g *Grant) FullMatch(input []byte) (bool, error) {
	m, err := g.cache.adapter.Run(g.program(), engine.OpFullMatch, input, 0)
	if err != nil {
		return false, err
	}
	return m.Matched(), nil
}

// PartialMatch reports whether the pattern matches anywhere in input.
func (g *Grant) PartialMatch(input []byte) (bool, error) {
	m, err := g.cache.adapter.Run(g.program(), engine.OpPartialMatch, input, 0)
	if err != nil {
		return false, err
	}
	return m.Matched(), nil
}

// ExtractGroups returns the full match and every capture group's span,
// or nil if the pattern does not match input at all.
func (g *Grant) ExtractGroups(input []byte) ([]Span, error) {
	m, err := g.cache.adapter.Run(g.program(), engine.OpExtractGroups, input, -1)
	if err != nil {
		return nil, err
	}
	if !m.Matched() {
		return nil, nil
	}
	return m.Groups, nil
}

// FindFirst returns the span of the first match in input, or nil if
// there is none.
func (g *Grant) FindFirst(input []byte) (*Span, error) {
	m, err := g.cache.adapter.Run(g.program(), engine.OpFindAll, input, 0)
	if err != nil {
		return nil, err
	}
	if !m.Matched() {
		return nil, nil
	}
	return &m.Groups[0], nil
}

// ReplaceFirst replaces the first match of the pattern in input with
// replacement.
func (g *Grant) ReplaceFirst(input, replacement []byte) (*ReplaceResult, error) {
	return g.cache.adapter.Replace(g.program(), engine.OpReplaceFirst, input, replacement)
}

// ReplaceAll replaces every non-overlapping match of the pattern in
// input with replacement.
func (g *Grant) ReplaceAll(input, replacement []byte) (*ReplaceResult, error) {
	return g.cache.adapter.Replace(g.program(), engine.OpReplaceAll, input, replacement)
}

// BulkPartialMatch reports, for each input, whether the pattern matches
// anywhere in it. Results are index-aligned with inputs.
func (g *Grant) BulkPartialMatch(inputs [][]byte) ([]bool, error) {
	results := make([]bool, len(inputs))
	for i, input := range inputs {
		m, err := g.cache.adapter.Run(g.program(), engine.OpBulkPartialMatch, input, 0)
		if err != nil {
			return nil, err
		}
		results[i] = m.Matched()
	}
	return results, nil
}

// BulkExtractGroups runs ExtractGroups over every input. Results are
// index-aligned with inputs; a nil element means that input did not
// match.
func (g *Grant) BulkExtractGroups(inputs [][]byte) ([][]Span, error) {
	results := make([][]Span, len(inputs))
	for i, input := range inputs {
		m, err := g.cache.adapter.Run(g.program(), engine.OpBulkExtractGroups, input, -1)
		if err != nil {
			return nil, err
		}
		if m.Matched() {
			results[i] = m.Groups
		}
	}
	return results, nil
}

// Matcher is a second-level handle obtained from a Grant, representing
// one concurrent matching context against the same compiled pattern. It
// exists purely to let max_matchers_per_pattern cap the number of
// simultaneous matchers fanned out from a single Grant (e.g. one per
// worker goroutine), independent of max_active_patterns, which caps
// distinct compiled patterns instead.
//
// Per DESIGN.md Open Question #2, the cap is enforced against the
// handle's current refcount at matcher-creation time — a Matcher itself
// holds an additional acquire on the handle for the duration of its use.
type Matcher struct {
	*Grant
	parent *Grant
}

// NewMatcher creates a Matcher scoped to g's compiled pattern, enforcing
// max_matchers_per_pattern. The returned Matcher must be closed with
// Close, separately from the parent Grant's own Release.
func (g *Grant) NewMatcher() (*Matcher, error) {
	h := g.entry.Handle
	if err := g.cache.acct.TryReserveMatcher(h.Refcount()); err != nil {
		if _, ok := err.(*accounting.ErrResourceExhausted); ok {
			g.cache.metrics.IncResourceRejection("max_matchers_per_pattern")
		}
		return nil, g.cache.translateErr(err)
	}
	if err := g.cache.acquireGoverned(h); err != nil {
		g.cache.acct.ReleaseMatcher()
		return nil, g.cache.translateErr(err)
	}
	return &Matcher{
		Grant:  &Grant{cache: g.cache, key: g.key, entry: g.entry, oneShot: g.oneShot},
		parent: g,
	}, nil
}

// Close releases the Matcher's own reference on the compiled pattern and
// its accounting slot. Safe to call at most once.
func (mt *Matcher) Close() {
	mt.Grant.Release()
	mt.parent.cache.acct.ReleaseMatcher()
}
