package patterncache

import (
	"errors"
	"fmt"

	"github.com/patterncache/patterncache/internal/engine"
)

// Kind classifies a Cache error.
type Kind int

const (
	// KindCompileError: the engine rejected the pattern; not retried, no
	// cache entry left behind.
	KindCompileError Kind = iota
	// KindResourceExhausted: a configured cap was reached.
	KindResourceExhausted
	// KindShuttingDown: acquire attempted after Shutdown.
	KindShuttingDown
	// KindHandlePoisoned: internal — surfaces only after the façade's
	// single retry also fails, a fatal invariant violation.
	KindHandlePoisoned
	// KindAccountingOverflow: a counter saturation was detected.
	KindAccountingOverflow
)

func (k Kind) String() string {
	switch k {
	case KindCompileError:
		return "compile_error"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindShuttingDown:
		return "shutting_down"
	case KindHandlePoisoned:
		return "handle_poisoned"
	case KindAccountingOverflow:
		return "accounting_overflow"
	default:
		return "unknown"
	}
}

// Error is the single error type every façade operation returns.
// Callers branch on Kind, or compare with errors.Is against the
// sentinels below, instead of parsing messages.
type Error struct {
	Kind    Kind
	Message string
	Excerpt string // bounded-length pattern excerpt, set only for CompileError
}

func (e *Error) Error() string {
	if e.Excerpt != "" {
		return fmt.Sprintf("patterncache: %s: %s: %q", e.Kind, e.Message, e.Excerpt)
	}
	return fmt.Sprintf("patterncache: %s: %s", e.Kind, e.Message)
}

// Is supports errors.Is(err, cache.ErrShuttingDown) and friends by
// comparing Kind, the idiomatic sentinel-style check for a taxonomy
// rendered as a single struct rather than one type per kind.
//
// A detected counter saturation fails the operation as resource
// exhaustion, so an AccountingOverflow error also matches
// ErrResourceExhausted; callers capping on the latter need no special
// case for the former.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	if e.Kind == other.Kind {
		return true
	}
	return e.Kind == KindAccountingOverflow && other.Kind == KindResourceExhausted
}

// Sentinel Errors for errors.Is comparisons against a bare Kind, e.g.
// errors.Is(err, cache.ErrShuttingDown).
var (
	ErrShuttingDown       = &Error{Kind: KindShuttingDown, Message: "cache is shutting down"}
	ErrHandlePoisoned     = &Error{Kind: KindHandlePoisoned, Message: "handle poisoned"}
	ErrResourceExhausted  = &Error{Kind: KindResourceExhausted, Message: "resource exhausted"}
	ErrAccountingOverflow = &Error{Kind: KindAccountingOverflow, Message: "counter overflow"}
)

func compileError(ce *engine.CompileError) *Error {
	return &Error{Kind: KindCompileError, Message: ce.Reason.String() + ": " + ce.Message, Excerpt: ce.Excerpt}
}

func resourceExhausted(kind string) *Error {
	return &Error{Kind: KindResourceExhausted, Message: kind}
}
