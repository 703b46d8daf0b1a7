package pattern

import (
	"math"
	"sort"

	"riskwatch/internal/domain"
	"riskwatch/internal/market"
)

const (
	featureCount     = 4
	sizeRatioScale   = 4.0
	spacingScaleMins = 360.0
	epsilon          = 0.01
)

// Features is the per-trade fingerprint: market-condition bucket, relative
// position size, time-of-day bucket, trade spacing. All components live in
// [0,1] so the weighted distance is bounded.
type Features [featureCount]float64

// Matcher compares current behavior against historical losing-trade
// fingerprints. The "you're repeating pattern X from date Y" evidence consumed
// by the narrative comes from here.
type Matcher struct {
	weights       [featureCount]float64
	minSimilarity float64
	maxMatches    int
}

func NewMatcher(weights [featureCount]float64, minSimilarity float64, maxMatches int) *Matcher {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		weights = [featureCount]float64{0.3, 0.3, 0.2, 0.2}
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		minSimilarity = 0.7
	}
	if maxMatches <= 0 {
		maxMatches = 5
	}
	return &Matcher{weights: weights, minSimilarity: minSimilarity, maxMatches: maxMatches}
}

// TradeFeatures extracts the fingerprint for one trade. prev is the trade
// immediately before it in the subject's ordered history, nil for the first.
func TradeFeatures(tr domain.Trade, prev *domain.Trade, avgSize float64) Features {
	return Features{
		marketBucket(tr, prev),
		relativeSize(tr.Size, avgSize),
		float64(tr.OpenedAt.UTC().Hour()) / 23.0,
		spacing(tr, prev),
	}
}

// Match ranks historical losing trades by similarity to the current
// fingerprint, dropping candidates below the minimum similarity and capping
// the result count. Results are sorted descending by similarity.
func (m *Matcher) Match(history []domain.Trade, current Features, avgSize float64) []domain.PatternMatch {
	matches := make([]domain.PatternMatch, 0, m.maxMatches)
	for i := range history {
		if !history[i].IsLoss() {
			continue
		}
		var prev *domain.Trade
		if i > 0 {
			prev = &history[i-1]
		}
		sim := m.Similarity(TradeFeatures(history[i], prev, avgSize), current)
		if sim < m.minSimilarity {
			continue
		}
		matches = append(matches, domain.PatternMatch{
			TradeID:    history[i].ID,
			ClosedAt:   history[i].ClosedAt.UTC(),
			Similarity: sim,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ClosedAt.After(matches[j].ClosedAt)
	})
	if len(matches) > m.maxMatches {
		matches = matches[:m.maxMatches]
	}
	return matches
}

// Similarity is 1 minus the normalized weighted Euclidean distance, so an
// identical feature vector scores exactly 1.0.
func (m *Matcher) Similarity(a, b Features) float64 {
	var weightedSq float64
	var weightSum float64
	for i := 0; i < featureCount; i++ {
		d := a[i] - b[i]
		weightedSq += m.weights[i] * d * d
		weightSum += m.weights[i]
	}
	if weightSum == 0 {
		return 0
	}
	sim := 1 - math.Sqrt(weightedSq/weightSum)
	if sim < 0 {
		return 0
	}
	return sim
}

// marketBucket treats the previous trade's price as the open and the current
// one as the close, then reuses the candle movement classification.
func marketBucket(tr domain.Trade, prev *domain.Trade) float64 {
	if prev == nil || prev.Price <= 0 {
		return 0.5
	}
	ctx := market.Classify(domain.OHLC{Open: prev.Price, Close: tr.Price})
	return market.Bucket(ctx.Movement)
}

func relativeSize(size, avgSize float64) float64 {
	if avgSize < epsilon {
		avgSize = epsilon
	}
	return clamp01(size / avgSize / sizeRatioScale)
}

func spacing(tr domain.Trade, prev *domain.Trade) float64 {
	if prev == nil {
		return 0
	}
	gap := tr.OpenedAt.Sub(prev.OpenedAt).Minutes()
	if gap < 0 {
		gap = 0
	}
	return clamp01(1 - gap/spacingScaleMins)
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
