package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"riskwatch/internal/baseline"
	"riskwatch/internal/config"
	"riskwatch/internal/deviation"
	"riskwatch/internal/domain"
	"riskwatch/internal/narrative"
	"riskwatch/internal/scoring"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type InvestigationStore interface {
	InsertInvestigation(ctx context.Context, inv domain.Investigation) (domain.Investigation, error)
	GetInvestigation(ctx context.Context, id string) (*domain.Investigation, error)
	ListInvestigations(ctx context.Context, filter domain.InvestigationFilter) ([]domain.Investigation, error)
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	ListAuditEntries(ctx context.Context, investigationID string) ([]domain.AuditEntry, error)
}

type BaselineCache interface {
	Get(ctx context.Context, subjectID string) (*domain.Baseline, error)
	Set(ctx context.Context, subjectID string, b domain.Baseline) error
}

type InvestigationNotifier interface {
	NotifyInvestigation(ctx context.Context, inv domain.Investigation) error
}

// InvestigationService orchestrates baseline, deviation detection, scoring,
// classification, and narrative into one persisted investigation. Assembly is
// atomic: either a complete record is stored or an error is returned.
type InvestigationService struct {
	tracer     trace.Tracer
	store      InvestigationStore
	cache      BaselineCache
	narrator   narrative.Narrator
	fallback   narrative.Narrator
	notifier   InvestigationNotifier
	thresholds config.Thresholds
	now        func() time.Time
}

func NewInvestigationService(
	tracer trace.Tracer,
	store InvestigationStore,
	cache BaselineCache,
	narrator narrative.Narrator,
	notifier InvestigationNotifier,
	thresholds config.Thresholds,
	now func() time.Time,
) *InvestigationService {
	if now == nil {
		now = time.Now
	}
	if narrator == nil {
		narrator = narrative.NewTemplateNarrator()
	}
	return &InvestigationService{
		tracer:     tracer,
		store:      store,
		cache:      cache,
		narrator:   narrator,
		fallback:   narrative.NewTemplateNarrator(),
		notifier:   notifier,
		thresholds: thresholds,
		now:        now,
	}
}

// SetNotifier attaches the critical-investigation notifier. The dispatcher is
// created after the services it reads from, so it is bound late.
func (s *InvestigationService) SetNotifier(n InvestigationNotifier) {
	s.notifier = n
}

// Evaluate runs the full fraud pipeline for one alert against the supplied
// activity snapshot.
func (s *InvestigationService) Evaluate(ctx context.Context, alert domain.Alert, activity domain.UserActivity) (*domain.Investigation, error) {
	ctx, span := s.tracer.Start(ctx, "investigation-service.evaluate")
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("investigation service is not fully initialized")
	}
	if err := validateAlert(alert, activity); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b, err := s.baselineFor(ctx, activity, now)
	if err != nil {
		return nil, err
	}

	event := deviation.Event{
		Amount:      alert.Transaction.Amount,
		Timestamp:   alert.Transaction.Timestamp,
		Location:    alert.Transaction.Location,
		DeviceID:    alert.Transaction.DeviceID,
		RecentCount: recentTransactionCount(activity, alert.Transaction, s.thresholds.FrequencyWindowHrs),
	}
	set, err := deviation.Detect(b, event, s.deviationTable())
	if err != nil {
		return nil, err
	}

	baseScore := s.thresholds.BaseScoreFor(alert.AlertType)
	sevTable := scoring.SeverityTable{T1: s.thresholds.SeverityT1, T2: s.thresholds.SeverityT2, T3: s.thresholds.SeverityT3}
	justification := scoring.Justify(baseScore, set, sevTable)
	severity := sevTable.Classify(justification.FinalScore)
	actions := scoring.ActionTable(s.thresholds.AllowedActions).For(severity)

	timeline := buildTimeline(set, now)
	narrativeText := s.narrate(ctx, narrative.Evidence{
		Kind:           narrative.KindInvestigation,
		SubjectID:      activity.UserID,
		Classification: string(severity),
		FinalScore:     justification.FinalScore,
		Deviations:     set,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inv := domain.Investigation{
		ID:             uuid.NewString(),
		Alert:          alert,
		Activity:       activity,
		Baseline:       b,
		Deviations:     set,
		Severity:       severity,
		Timeline:       timeline,
		Narrative:      narrativeText,
		AllowedActions: actions,
		Justification:  justification,
		Audit: domain.AuditRecord{
			Justification: justification,
			EvaluatedBy:   "riskwatch-engine",
			EvaluatedAt:   now,
		},
		CreatedAt: now,
	}

	persisted, err := s.store.InsertInvestigation(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("insert investigation: %w", err)
	}

	if s.notifier != nil && persisted.Severity == domain.SeverityCritical {
		if err := s.notifier.NotifyInvestigation(ctx, persisted); err != nil {
			log.Printf("investigation notify error for %s: %v", persisted.ID, err)
		}
	}

	return &persisted, nil
}

// RecordAction appends an audit entry for a remediation action. The action
// must be allowed for the investigation's severity; the severity itself never
// changes.
func (s *InvestigationService) RecordAction(ctx context.Context, investigationID, actionType, actionDetails, actor string) (*domain.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "investigation-service.record-action")
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("investigation service is not fully initialized")
	}
	actionType = strings.TrimSpace(actionType)
	if investigationID == "" || actionType == "" {
		return nil, fmt.Errorf("investigation id and action type are required")
	}

	inv, err := s.store.GetInvestigation(ctx, investigationID)
	if err != nil {
		return nil, fmt.Errorf("get investigation: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("investigation not found: %s", investigationID)
	}
	if !scoring.ActionTable(s.thresholds.AllowedActions).Allows(inv.Severity, actionType) {
		return nil, fmt.Errorf("action %q is not allowed for severity %s", actionType, inv.Severity)
	}

	entry, err := s.store.AppendAuditEntry(ctx, domain.AuditEntry{
		InvestigationID: investigationID,
		ActionType:      actionType,
		ActionDetails:   actionDetails,
		Actor:           actor,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return &entry, nil
}

func (s *InvestigationService) Get(ctx context.Context, id string) (*domain.Investigation, []domain.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "investigation-service.get")
	defer span.End()

	if s.store == nil {
		return nil, nil, fmt.Errorf("investigation service is not fully initialized")
	}
	inv, err := s.store.GetInvestigation(ctx, id)
	if err != nil || inv == nil {
		return inv, nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return inv, entries, nil
}

func (s *InvestigationService) List(ctx context.Context, filter domain.InvestigationFilter) ([]domain.Investigation, error) {
	ctx, span := s.tracer.Start(ctx, "investigation-service.list")
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("investigation service is not fully initialized")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Severity != nil && !filter.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity level: %s", *filter.Severity)
	}
	return s.store.ListInvestigations(ctx, filter)
}

// baselineFor reads the cached baseline or recomputes it. Empty history is
// substituted with the configured conservative default; with no default the
// evaluation is rejected rather than run against an undefined baseline.
func (s *InvestigationService) baselineFor(ctx context.Context, activity domain.UserActivity, now time.Time) (domain.Baseline, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, activity.UserID); err != nil {
			log.Printf("baseline cache read error for %s: %v", activity.UserID, err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	b, err := baseline.Build(activity, now, s.baselineConfig())
	if err != nil {
		if err == domain.ErrInsufficientHistory && s.thresholds.DefaultAvgAmount > 0 {
			return baseline.Default(s.thresholds.DefaultAvgAmount), nil
		}
		return domain.Baseline{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, activity.UserID, b); err != nil {
			log.Printf("baseline cache write error for %s: %v", activity.UserID, err)
		}
	}
	return b, nil
}

func (s *InvestigationService) baselineConfig() baseline.Config {
	return baseline.Config{
		TypicalHourMass:   s.thresholds.TypicalHourMass,
		MinSamples:        s.thresholds.MinHistorySamples,
		AccountAgeCapDays: s.thresholds.AccountAgeCapDays,
	}
}

func (s *InvestigationService) deviationTable() deviation.Table {
	return deviation.Table{
		AmountEpsilon:     s.thresholds.AmountEpsilon,
		AmountCeiling:     s.thresholds.AmountMultCeiling,
		FreqCeiling:       s.thresholds.FreqMultCeiling,
		TemporalBonus:     s.thresholds.TemporalBonus,
		LocationBonus:     s.thresholds.LocationBonus,
		DeviceBonus:       s.thresholds.DeviceBonus,
		VelocityAxisCount: s.thresholds.VelocityAxisCount,
		NewAccountDays:    s.thresholds.NewAccountDays,
	}
}

func (s *InvestigationService) narrate(ctx context.Context, ev narrative.Evidence) string {
	text, err := s.narrator.Narrate(ctx, ev)
	if err == nil {
		return text
	}
	log.Printf("narrative collaborator failed for %s, using template: %v", ev.SubjectID, err)
	text, _ = s.fallback.Narrate(ctx, ev)
	return text
}

func validateAlert(alert domain.Alert, activity domain.UserActivity) error {
	if strings.TrimSpace(alert.ID) == "" {
		return fmt.Errorf("%w: alert id is required", domain.ErrInvalidEvent)
	}
	if strings.TrimSpace(activity.UserID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidEvent)
	}
	if alert.Transaction.Amount <= 0 {
		return fmt.Errorf("%w: transaction amount must be positive", domain.ErrInvalidEvent)
	}
	if alert.Transaction.Timestamp.IsZero() {
		return fmt.Errorf("%w: transaction timestamp is required", domain.ErrInvalidEvent)
	}
	return nil
}

// recentTransactionCount counts completed transactions inside the trailing
// frequency window ending at the event, plus the event itself.
func recentTransactionCount(activity domain.UserActivity, event domain.Transaction, windowHours int) int {
	if windowHours <= 0 {
		windowHours = 24
	}
	cutoff := event.Timestamp.Add(-time.Duration(windowHours) * time.Hour)
	count := 1
	for _, tx := range activity.Transactions {
		if tx.ID == event.ID || tx.Status != domain.TransactionCompleted {
			continue
		}
		if !tx.Timestamp.Before(cutoff) && !tx.Timestamp.After(event.Timestamp) {
			count++
		}
	}
	return count
}

// buildTimeline emits one entry per detected signal in insertion order, which
// is also the order the signals were computed within the evaluation.
func buildTimeline(set domain.DeviationSet, at time.Time) []domain.TimelineEvent {
	timeline := make([]domain.TimelineEvent, 0, len(set.Deviations)+2)
	seq := 0
	add := func(label, detail string) {
		seq++
		timeline = append(timeline, domain.TimelineEvent{Seq: seq, Label: label, Detail: detail, At: at})
	}
	for _, d := range set.Deviations {
		if !d.Triggered {
			continue
		}
		add(string(d.Axis)+"_deviation", fmt.Sprintf("baseline %s, current %s, multiplier %.2f", d.BaselineValue, d.CurrentValue, d.Multiplier))
	}
	if set.NewAccountFlag {
		add("new_account_flag", "account younger than the configured maturity threshold")
	}
	if set.VelocityFlag {
		add("velocity_flag", "multiple deviation axes triggered on one event")
	}
	return timeline
}
