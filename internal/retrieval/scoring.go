package retrieval

import (
	"cmp"
	"math"
	"slices"
)

// DecayMode selects the temporal decay curve.
type DecayMode string

const (
	DecayExponential DecayMode = "exponential"
	DecayLinear      DecayMode = "linear"
)

// DecayConfig controls temporal decay.
type DecayConfig struct {
	Enabled bool
	Mode    DecayMode

	// HalfLife is the age in messages at which an exponential score halves.
	HalfLife float64

	// LinearRate is the fraction of the score lost per message of age.
	LinearRate float64
}

// ApplyDecay attenuates score by the age of its message, counted in
// messages behind the newest one. Age 0 and disabled decay return score
// unchanged.
func ApplyDecay(score float64, age int, cfg DecayConfig) float64 {
	if !cfg.Enabled || age <= 0 {
		return score
	}

	switch cfg.Mode {
	case DecayLinear:
		return math.Max(0, score*(1-cfg.LinearRate*float64(age)))
	default:
		if cfg.HalfLife <= 0 {
			return score
		}
		return score * math.Pow(0.5, float64(age)/cfg.HalfLife)
	}
}

// ApplyImportance reweights score by importance (0..200, 100 neutral) and
// clamps the result to [0, 1]. Importance 100 returns score as is.
func ApplyImportance(score float64, importance int) float64 {
	if importance == NeutralImportance {
		return score
	}
	multiplier := float64(importance) / 100
	boost := float64(importance-NeutralImportance) / 1000
	return clamp01(score*multiplier + boost)
}

// NeutralImportance leaves scores untouched.
const NeutralImportance = 100

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Tier buckets results by importance for tiered ranking.
type Tier int

// Tiers in ranking priority order.
const (
	TierCritical Tier = iota
	TierHigh
	TierNormal
	TierLow
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	default:
		return "low"
	}
}

// TierOf classifies an importance value.
func TierOf(importance int) Tier {
	switch {
	case importance >= 175:
		return TierCritical
	case importance >= 125:
		return TierHigh
	case importance >= 75:
		return TierNormal
	default:
		return TierLow
	}
}

// rankByScore orders candidates by descending final score. Ties keep their
// query order.
func rankByScore(cs []*candidate) {
	slices.SortStableFunc(cs, func(a, b *candidate) int {
		return cmp.Compare(b.final, a.final)
	})
}

// rankTiered orders candidates tier by tier, critical first, each tier by
// descending final score.
func rankTiered(cs []*candidate) {
	slices.SortStableFunc(cs, func(a, b *candidate) int {
		if c := cmp.Compare(a.tier, b.tier); c != 0 {
			return c
		}
		return cmp.Compare(b.final, a.final)
	})
}
