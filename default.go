package patterncache

import "sync"

var (
	defaultOnce sync.Once
	defaultInst *Cache
	defaultErr  error
)

// Default returns a process-wide Cache instance built with default
// configuration, constructed lazily on first call. The cache type
// remains independently instantiable via New; Default exists only for
// callers that want a convenient shared instance (see the configuration
// schema's documented defaults).
func Default() *Cache {
	defaultOnce.Do(func() {
		defaultInst, defaultErr = New()
		if defaultErr != nil {
			// Default configuration is always valid; a failure here means
			// the defaults themselves were broken at compile time.
			panic("patterncache: default cache construction failed: " + defaultErr.Error())
		}
	})
	return defaultInst
}
