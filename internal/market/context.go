package market

import (
	"math"

	"riskwatch/internal/domain"
)

const flatBandPct = 2.0

// Classify buckets the most recent completed candle into a movement
// classification with magnitude. Moves inside the flat band (±2% open to
// close) are flat.
func Classify(c domain.OHLC) domain.MarketContext {
	ctx := domain.MarketContext{
		Movement: domain.MovementFlat,
		Candle:   c,
	}
	if c.Open <= 0 {
		return ctx
	}

	changePct := (c.Close - c.Open) / c.Open * 100
	ctx.MagnitudePct = math.Abs(changePct)
	switch {
	case changePct >= flatBandPct:
		ctx.Movement = domain.MovementSurge
	case changePct <= -flatBandPct:
		ctx.Movement = domain.MovementDrop
	}
	return ctx
}

// Bucket maps a movement classification onto the [0,1] feature scale used by
// the pattern matcher.
func Bucket(movement string) float64 {
	switch movement {
	case domain.MovementSurge:
		return 1.0
	case domain.MovementDrop:
		return 0.0
	default:
		return 0.5
	}
}
