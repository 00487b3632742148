// Package clock provides the time-source capability contract, selected
// at cache construction time. Tests substitute Fake to exercise
// idle/LRU timing deterministically without sleeping.
package clock

import "time"

// Clock reports the current monotonic instant as nanoseconds, the unit
// every timestamp in this repository (last-access, retired-at) is
// stored in.
type Clock interface {
	NowNanos() int64
}

// Real is the production Clock, backed by time.Now().
type Real struct{}

// NowNanos returns time.Now().UnixNano().
func (Real) NowNanos() int64 { return time.Now().UnixNano() }

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	nanos int64
}

// NewFake constructs a Fake starting at the given instant.
func NewFake(startNanos int64) *Fake {
	return &Fake{nanos: startNanos}
}

// NowNanos returns the current fake instant.
func (f *Fake) NowNanos() int64 { return f.nanos }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.nanos += int64(d)
}

// Set pins the fake clock to an absolute instant.
func (f *Fake) Set(nanos int64) {
	f.nanos = nanos
}
