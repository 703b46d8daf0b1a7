package narrative

import (
	"context"
	"fmt"
	"strings"

	"riskwatch/internal/domain"
)

const (
	KindInvestigation = "investigation"
	KindInsight       = "insight"
)

// Evidence is the structured request handed to the narrative collaborator:
// the computed signals plus classification, never free text.
type Evidence struct {
	Kind                string                `json:"kind"`
	SubjectID           string                `json:"subject_id"`
	Classification      string                `json:"classification"`
	FinalScore          float64               `json:"final_score"`
	Deviations          domain.DeviationSet   `json:"deviations"`
	Factors             map[string]float64    `json:"factors,omitempty"`
	ContributingFactors []string              `json:"contributing_factors,omitempty"`
	PatternMatches      []domain.PatternMatch `json:"pattern_matches,omitempty"`
	MarketMovement      string                `json:"market_movement,omitempty"`
}

// Narrator turns evidence into prose. Implementations may fail; callers must
// recover with the template narrator and never block an evaluation on it.
type Narrator interface {
	Narrate(ctx context.Context, ev Evidence) (string, error)
}

// TemplateNarrator is the deterministic fallback. Identical evidence always
// yields identical text.
type TemplateNarrator struct{}

func NewTemplateNarrator() *TemplateNarrator {
	return &TemplateNarrator{}
}

func (n *TemplateNarrator) Narrate(_ context.Context, ev Evidence) (string, error) {
	var sb strings.Builder

	switch ev.Kind {
	case KindInsight:
		fmt.Fprintf(&sb, "Trader %s is at %s pressure (score %.1f).", ev.SubjectID, ev.Classification, ev.FinalScore)
		if len(ev.ContributingFactors) > 0 {
			fmt.Fprintf(&sb, " Contributing factors: %s.", strings.Join(ev.ContributingFactors, ", "))
		}
		if len(ev.PatternMatches) > 0 {
			top := ev.PatternMatches[0]
			fmt.Fprintf(&sb, " Current behavior matches %d historical losing pattern(s); closest is trade %s from %s (similarity %.2f).",
				len(ev.PatternMatches), top.TradeID, top.ClosedAt.Format("2006-01-02"), top.Similarity)
		}
		if ev.MarketMovement != "" {
			fmt.Fprintf(&sb, " Market context: %s.", ev.MarketMovement)
		}
	default:
		fmt.Fprintf(&sb, "Alert for user %s classified %s (final score %.1f).", ev.SubjectID, ev.Classification, ev.FinalScore)
		if triggered := ev.Deviations.TriggeredNames(); len(triggered) > 0 {
			fmt.Fprintf(&sb, " Triggered deviations: %s.", strings.Join(triggered, ", "))
		} else {
			sb.WriteString(" No deviations triggered.")
		}
	}

	return sb.String(), nil
}
