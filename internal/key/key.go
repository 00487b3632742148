// Package key implements the pattern cache's value-typed lookup key and
// its companion fingerprint, used anywhere a pattern must be named without
// exposing its bytes (logs, metric labels).
package key

import (
	"github.com/cespare/xxhash/v2"
)

// Key identifies one compiled pattern: the raw pattern bytes plus the
// case-sensitivity flag it was compiled with. Keys are value-equal and
// immutable for the lifetime of any cache entry built from them.
type Key struct {
	pattern       string
	caseSensitive bool
}

// New builds a Key from pattern bytes and a case-sensitivity flag. The
// bytes are copied into an immutable string; callers may reuse their
// buffer afterward.
func New(pattern []byte, caseSensitive bool) Key {
	return Key{pattern: string(pattern), caseSensitive: caseSensitive}
}

// NewFromString is a convenience constructor for callers that already
// hold the pattern as a string (no normalization is applied, matching
// the data model's "no normalization" invariant).
func NewFromString(pattern string, caseSensitive bool) Key {
	return Key{pattern: pattern, caseSensitive: caseSensitive}
}

// Bytes returns the pattern bytes. Only the engine adapter and the
// cache's own compile path should call this; every other consumer
// (logging, metrics) must use Fingerprint instead.
func (k Key) Bytes() []byte {
	return []byte(k.pattern)
}

// String returns the pattern text. Same caller restriction as Bytes.
func (k Key) String() string {
	return k.pattern
}

// CaseSensitive reports the flag the pattern was compiled with.
func (k Key) CaseSensitive() bool {
	return k.caseSensitive
}

// Hash returns a deterministic 64-bit digest of the full pattern bytes
// and the case-sensitivity flag, suitable for an expected working set of
// 10^5+ keys without pathological collision behavior.
func (k Key) Hash() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.pattern)
	if k.caseSensitive {
		_, _ = h.Write(caseSensitiveTag)
	} else {
		_, _ = h.Write(caseInsensitiveTag)
	}
	return h.Sum64()
}

var (
	caseSensitiveTag   = []byte{1}
	caseInsensitiveTag = []byte{0}
)

// Fingerprint returns a short, non-reversible identifier for this key,
// safe to place in logs and metric labels. It reuses the same digest as
// Hash: it needs only to be stable and to never leak pattern bytes, not
// to differ from the lookup hash.
func (k Key) Fingerprint() uint64 {
	return k.Hash()
}

// FingerprintHex renders the fingerprint as a fixed-width hex string for
// structured log fields.
func (k Key) FingerprintHex() string {
	const hexDigits = "0123456789abcdef"
	v := k.Fingerprint()
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Equal reports whether two keys are value-equal.
func (k Key) Equal(other Key) bool {
	return k.caseSensitive == other.caseSensitive && k.pattern == other.pattern
}
