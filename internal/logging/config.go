// internal/logging/config.go
package logging

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig wraps every logging config validation failure.
var ErrInvalidConfig = errors.New("invalid logging config")

// Config is the logging section of recalld.yaml.
type Config struct {
	Level      Level             `koanf:"level"`
	Format     string            `koanf:"format"`
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     bool              `koanf:"caller"`
	Stacktrace Level             `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects log sinks. File is appended to, not rotated.
type OutputConfig struct {
	Stdout bool   `koanf:"stdout"`
	File   string `koanf:"file"`
	OTEL   bool   `koanf:"otel"`
}

// SamplingConfig holds per-level sampling. Levels missing from the map,
// and everything from error up, are never sampled.
type SamplingConfig struct {
	Enabled bool                    `koanf:"enabled"`
	Tick    config.Duration         `koanf:"tick"`
	Levels  map[Level]LevelSampling `koanf:"levels"`
}

// NewDefaultConfig returns the defaults used when recalld.yaml has no
// logging section.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  Level(zapcore.InfoLevel),
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultSampling(),
		},
		Caller:     true,
		Stacktrace: Level(zapcore.ErrorLevel),
		Fields:     map[string]string{"service": "recalld"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields:  []string{"api_key", "authorization", "password", "secret", "token"},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`\bsk-[A-Za-z0-9_-]{16,}`,
			},
		},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Output.Stdout && c.Output.File == "" && !c.Output.OTEL {
		errs = append(errs, errors.New("no output enabled (stdout, file or otel)"))
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			errs = append(errs, errors.New("sampling tick must be positive"))
		}
		for lvl, s := range c.Sampling.Levels {
			if s.Initial < 1 || s.Thereafter < 0 {
				errs = append(errs, fmt.Errorf("sampling %s: initial must be >= 1 and thereafter >= 0", lvl))
			}
		}
	}
	if c.Redaction.Enabled {
		if _, err := compilePatterns(c.Redaction.Patterns); err != nil {
			errs = append(errs, err)
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("constant field %q needs a key and a value", k))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
