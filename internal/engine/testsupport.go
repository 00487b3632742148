package engine

// The functions in this file exist solely so internal/engine/enginetest
// can construct and inspect Program values without this package exposing
// its internal fields to every caller. Production adapters (Coregex)
// never call these.

// NewFakeProgram builds a Program around an opaque test-double state
// value and a declared footprint, for use by a fake Adapter.
func NewFakeProgram(state any, footprint int64) *Program {
	p := &Program{footprint: footprint, custom: state}
	p.live.Store(true)
	return p
}

// FakeProgramState returns the opaque state a fake Adapter stored via
// NewFakeProgram.
func FakeProgramState(p *Program) any {
	return p.custom
}

// FakeProgramLive reports p's liveness bit, for a fake Adapter's IsLive.
func FakeProgramLive(p *Program) bool {
	return p.live.Load()
}

// FakeProgramDestroy clears p's liveness bit, for a fake Adapter's Destroy.
func FakeProgramDestroy(p *Program) {
	p.live.Store(false)
}
