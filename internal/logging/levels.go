// internal/logging/levels.go
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Sync logs each inserted batch at this level
// and retrieval each selected memory.
const TraceLevel = zapcore.Level(-2)

// Level is a zap level that also understands "trace" in config files and
// RECALLD_LOGGING__LEVEL.
type Level zapcore.Level

// Zap returns the zapcore level.
func (l Level) Zap() zapcore.Level { return zapcore.Level(l) }

func (l Level) String() string {
	if zapcore.Level(l) == TraceLevel {
		return "trace"
	}
	return zapcore.Level(l).String()
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "trace" {
		return Level(TraceLevel), nil
	}
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(s)); err != nil {
		return Level(zapcore.InfoLevel), fmt.Errorf("unknown log level %q", s)
	}
	return Level(zl), nil
}

// encodeLevel prints TraceLevel as "trace"; zap would print "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
