package retrieval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/host"
)

// PromptTag is the extension-prompt slot the pipeline writes to.
const PromptTag = "recalld"

// TextPlaceholder marks where retrieved text goes in Template.
const TextPlaceholder = "{{text}}"

// ErrInvalidConfig indicates a retrieval option out of range.
var ErrInvalidConfig = errors.New("invalid retrieval configuration")

// Config controls retrieval and injection.
type Config struct {
	Enabled bool

	// Query is how many recent messages form the query text.
	// Default: 2
	Query int

	// Insert is how many results to request (topK).
	// Default: 3
	Insert int

	// Protect is how many of the newest messages are never moved into
	// the injected block.
	// Default: 5
	Protect int

	// ScoreThreshold drops results whose raw similarity is lower.
	// Default: 0.25
	ScoreThreshold float64

	// Template wraps the injected text; it must contain {{text}}.
	// Default: "Past events:\n{{text}}"
	Template string

	Position host.Position
	Depth    int

	Decay      DecayConfig
	Importance ImportanceConfig

	// ExtraCollections are queried alongside the chat. Their results
	// have no live message and are injected as text only.
	ExtraCollections []collection.TenantKey
}

// ImportanceConfig controls importance weighting.
type ImportanceConfig struct {
	Enabled bool

	// Tiered ranks critical, high, normal and low tiers in that order
	// before score.
	Tiered bool
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Query:          2,
		Insert:         3,
		Protect:        5,
		ScoreThreshold: 0.25,
		Template:       "Past events:\n" + TextPlaceholder,
		Position:       host.PositionInPrompt,
		Depth:          2,
		Decay: DecayConfig{
			Mode:       DecayExponential,
			HalfLife:   50,
			LinearRate: 0.01,
		},
	}
}

// Validate checks option ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Query < 1 {
		errs = append(errs, fmt.Errorf("query must be >= 1, got %d", c.Query))
	}
	if c.Insert < 1 {
		errs = append(errs, fmt.Errorf("insert must be >= 1, got %d", c.Insert))
	}
	if c.Protect < 0 {
		errs = append(errs, fmt.Errorf("protect must be >= 0, got %d", c.Protect))
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("score_threshold must be in [0,1], got %v", c.ScoreThreshold))
	}
	if !strings.Contains(c.Template, TextPlaceholder) {
		errs = append(errs, fmt.Errorf("template must contain %s", TextPlaceholder))
	}
	if c.Depth < 0 {
		errs = append(errs, fmt.Errorf("depth must be >= 0, got %d", c.Depth))
	}
	if c.Decay.Enabled {
		switch c.Decay.Mode {
		case DecayExponential:
			if c.Decay.HalfLife <= 0 {
				errs = append(errs, fmt.Errorf("temporal_decay.half_life must be > 0, got %v", c.Decay.HalfLife))
			}
		case DecayLinear:
			if c.Decay.LinearRate <= 0 || c.Decay.LinearRate > 1 {
				errs = append(errs, fmt.Errorf("temporal_decay.linear_rate must be in (0,1], got %v", c.Decay.LinearRate))
			}
		default:
			errs = append(errs, fmt.Errorf("temporal_decay.mode must be exponential or linear, got %q", c.Decay.Mode))
		}
	}
	for _, k := range c.ExtraCollections {
		if err := k.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("extra collection %q: %w", k.String(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
