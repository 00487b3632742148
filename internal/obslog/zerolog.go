package obslog

import (
	"os"

	"github.com/rs/zerolog"
)

// Zerolog is the default Logger implementation, wrapping
// github.com/rs/zerolog's zero-allocation structured logger.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog constructs a Logger writing structured JSON to stderr.
func NewZerolog() *Zerolog {
	return &Zerolog{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (z *Zerolog) Debug(msg string, kv ...any) { z.event(z.logger.Debug(), msg, kv) }
func (z *Zerolog) Info(msg string, kv ...any)  { z.event(z.logger.Info(), msg, kv) }
func (z *Zerolog) Warn(msg string, kv ...any)  { z.event(z.logger.Warn(), msg, kv) }
func (z *Zerolog) Error(msg string, kv ...any) { z.event(z.logger.Error(), msg, kv) }

func (z *Zerolog) event(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
