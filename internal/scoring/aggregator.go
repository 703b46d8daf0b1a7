package scoring

import (
	"riskwatch/internal/domain"
)

// FraudScore combines the per-alert-type base score with the product of all
// axis multipliers. The product compounds risk and is deliberately left
// unclamped here; only classification clamps, so the raw value survives for
// audit. Pure and bit-reproducible for identical inputs.
func FraudScore(baseScore float64, set domain.DeviationSet) (multiplier, finalScore float64) {
	multiplier = set.Multiplier()
	return multiplier, baseScore * multiplier
}

// TradingScore is the weighted sum of the five pressure factors scaled into
// [0,100] and clamped. Factor values outside [0,1] are clamped per factor so a
// bad input cannot push the score out of range.
func TradingScore(factors, weights map[string]float64) float64 {
	sum := 0.0
	for _, name := range domain.SortedFactorNames(factors) {
		sum += clamp01(factors[name]) * weights[name]
	}
	return ClampScore(sum * 100)
}

// ClampScore bounds a score into [0,100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
