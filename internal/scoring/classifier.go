package scoring

import (
	"riskwatch/internal/domain"
)

// SeverityTable is the ordered fraud threshold table, evaluated
// lowest-to-highest with first match winning. A score exactly on a threshold
// lands in the higher band.
type SeverityTable struct {
	T1 float64
	T2 float64
	T3 float64
}

func (t SeverityTable) Classify(score float64) domain.SeverityLevel {
	score = ClampScore(score)
	switch {
	case score < t.T1:
		return domain.SeverityLow
	case score < t.T2:
		return domain.SeverityMedium
	case score < t.T3:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}

// PressureTable is the trading-path counterpart.
type PressureTable struct {
	P1 float64
	P2 float64
}

func (t PressureTable) Classify(score float64) domain.PressureLevel {
	score = ClampScore(score)
	switch {
	case score < t.P1:
		return domain.PressureStable
	case score < t.P2:
		return domain.PressureElevated
	default:
		return domain.PressureHigh
	}
}

// ActionTable maps each severity level to its fixed ordered remediation list.
// This is configuration, not scoring logic; allowed actions depend on the
// level alone.
type ActionTable map[domain.SeverityLevel][]string

func (a ActionTable) For(level domain.SeverityLevel) []string {
	actions := a[level]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

func (a ActionTable) Allows(level domain.SeverityLevel, action string) bool {
	for _, allowed := range a[level] {
		if allowed == action {
			return true
		}
	}
	return false
}

// Justify builds the immutable audit artifact for one fraud evaluation.
func Justify(baseScore float64, set domain.DeviationSet, t SeverityTable) domain.SeverityJustification {
	multiplier, finalScore := FraudScore(baseScore, set)
	return domain.SeverityJustification{
		BaseScore:           baseScore,
		DeviationMultiplier: multiplier,
		FinalScore:          finalScore,
		ThresholdT1:         t.T1,
		ThresholdT2:         t.T2,
		ThresholdT3:         t.T3,
		TriggeredDeviations: set.TriggeredNames(),
	}
}
