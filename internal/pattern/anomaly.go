package pattern

import (
	"errors"
	"math"

	goiforest "github.com/narumiruna/go-iforest/pkg/iforest"
)

const minAnomalySamples = 32

// AnomalyScorer wraps an isolation forest trained on a trader's historical
// trade fingerprints. Its score is an advisory hint attached to insights; it
// never feeds the deterministic pressure score, since forest training is
// randomized.
type AnomalyScorer struct {
	forest *goiforest.IsolationForest
	means  []float64
	stds   []float64
}

type AnomalyOptions struct {
	NumTrees   int
	SampleSize int
}

func DefaultAnomalyOptions() AnomalyOptions {
	return AnomalyOptions{NumTrees: 100, SampleSize: 128}
}

// TrainAnomaly fits a forest over historical feature vectors. Returns an error
// when the history is too thin to be meaningful.
func TrainAnomaly(samples []Features, opts AnomalyOptions) (*AnomalyScorer, error) {
	if len(samples) < minAnomalySamples {
		return nil, errors.New("not enough samples for anomaly scoring")
	}
	if opts.NumTrees <= 0 {
		opts.NumTrees = DefaultAnomalyOptions().NumTrees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultAnomalyOptions().SampleSize
	}
	if opts.SampleSize > len(samples) {
		opts.SampleSize = len(samples)
	}

	raw := make([][]float64, len(samples))
	for i := range samples {
		raw[i] = samples[i][:]
	}
	means, stds := fitNormalizer(raw)
	normalized := normalizeBatch(raw, means, stds)

	forest := goiforest.NewWithOptions(goiforest.Options{
		DetectionType: goiforest.DetectionTypeThreshold,
		Threshold:     0.6,
		NumTrees:      opts.NumTrees,
		SampleSize:    opts.SampleSize,
	})
	forest.Fit(normalized)

	return &AnomalyScorer{forest: forest, means: means, stds: stds}, nil
}

// Score returns the anomaly score in [0,1] for one fingerprint.
func (a *AnomalyScorer) Score(sample Features) float64 {
	if a == nil || a.forest == nil {
		return 0
	}
	normalized := normalize(sample[:], a.means, a.stds)
	scores := a.forest.Score([][]float64{normalized})
	if len(scores) == 0 {
		return 0
	}
	score := scores[0]
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return clamp01(score)
}

func fitNormalizer(samples [][]float64) ([]float64, []float64) {
	cols := len(samples[0])
	means := make([]float64, cols)
	stds := make([]float64, cols)
	for j := 0; j < cols; j++ {
		for i := range samples {
			means[j] += samples[i][j]
		}
		means[j] /= float64(len(samples))
		for i := range samples {
			d := samples[i][j] - means[j]
			stds[j] += d * d
		}
		stds[j] = math.Sqrt(stds[j] / float64(len(samples)))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}

func normalizeBatch(samples [][]float64, means, stds []float64) [][]float64 {
	out := make([][]float64, len(samples))
	for i := range samples {
		out[i] = normalize(samples[i], means, stds)
	}
	return out
}

func normalize(in, means, stds []float64) []float64 {
	out := make([]float64, len(in))
	for i := range in {
		out[i] = (in[i] - means[i]) / stds[i]
	}
	return out
}
