// internal/logging/sampling.go
package logging

import (
	"go.uber.org/zap/zapcore"
)

// LevelSampling keeps the first Initial entries with the same message in
// each tick, then every Thereafter-th. Thereafter 0 drops the rest.
type LevelSampling struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

// DefaultSampling keeps sync progress from flooding the log while a large
// chat is vectorized.
func DefaultSampling() map[Level]LevelSampling {
	return map[Level]LevelSampling{
		Level(TraceLevel):         {Initial: 1},
		Level(zapcore.DebugLevel): {Initial: 10},
		Level(zapcore.InfoLevel):  {Initial: 100, Thereafter: 10},
		Level(zapcore.WarnLevel):  {Initial: 100, Thereafter: 100},
	}
}

// newSampledCore gives every configured level below error its own sampler
// over core. Other levels bypass sampling.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	sampled := make(map[zapcore.Level]bool, len(cfg.Levels))
	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	for lvl, s := range cfg.Levels {
		zl := lvl.Zap()
		if zl >= zapcore.ErrorLevel {
			continue
		}
		sampled[zl] = true
		only := &levelCore{Core: core, accept: func(l zapcore.Level) bool { return l == zl }}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	cores = append(cores, &levelCore{Core: core, accept: func(l zapcore.Level) bool { return !sampled[l] }})
	return zapcore.NewTee(cores...)
}

// levelCore passes through only the levels accept allows.
type levelCore struct {
	zapcore.Core
	accept func(zapcore.Level) bool
}

func (c *levelCore) Enabled(lvl zapcore.Level) bool {
	return c.accept(lvl) && c.Core.Enabled(lvl)
}

func (c *levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.accept(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), accept: c.accept}
}
