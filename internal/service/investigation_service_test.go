package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"riskwatch/internal/config"
	"riskwatch/internal/domain"
	"riskwatch/internal/narrative"

	"go.opentelemetry.io/otel/trace"
)

var evalTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		BaseScores:       map[string]float64{"large_transaction": 40, "account_takeover": 55},
		DefaultBaseScore: 40,

		AmountEpsilon:      0.01,
		AmountMultCeiling:  5.0,
		FreqMultCeiling:    4.0,
		TemporalBonus:      1.5,
		LocationBonus:      1.4,
		DeviceBonus:        1.3,
		VelocityAxisCount:  2,
		NewAccountDays:     30,
		AccountAgeCapDays:  365,
		TypicalHourMass:    0.8,
		MinHistorySamples:  10,
		DefaultAvgAmount:   100,
		FrequencyWindowHrs: 24,

		SeverityT1: 40,
		SeverityT2: 60,
		SeverityT3: 80,
		PressureP1: 30,
		PressureP2: 60,

		FactorWeights: map[string]float64{
			domain.FactorTradeFrequencySpike:   0.25,
			domain.FactorPositionSizeDeviation: 0.25,
			domain.FactorLossClustering:        0.25,
			domain.FactorUnusualHours:          0.10,
			domain.FactorShortIntervals:        0.15,
		},
		FactorWeightTarget:   1.0,
		ContributingFactor:   0.3,
		ShortIntervalMinutes: 5,

		PatternMinSimilarity: 0.7,
		PatternMaxMatches:    5,
		PatternWeights:       [4]float64{0.3, 0.3, 0.2, 0.2},

		AllowedActions: map[domain.SeverityLevel][]string{
			domain.SeverityLow:      {"monitor"},
			domain.SeverityMedium:   {"monitor", "request_verification"},
			domain.SeverityHigh:     {"monitor", "request_verification", "limit_account", "escalate"},
			domain.SeverityCritical: {"freeze_account", "escalate", "notify_compliance"},
		},
	}
}

type stubInvestigationStore struct {
	insertCalls   int
	lastInserted  domain.Investigation
	insertErr     error
	investigation *domain.Investigation
	auditEntries  []domain.AuditEntry
	lastFilter    domain.InvestigationFilter
}

func (s *stubInvestigationStore) InsertInvestigation(_ context.Context, inv domain.Investigation) (domain.Investigation, error) {
	s.insertCalls++
	if s.insertErr != nil {
		return domain.Investigation{}, s.insertErr
	}
	s.lastInserted = inv
	return inv, nil
}

func (s *stubInvestigationStore) GetInvestigation(_ context.Context, id string) (*domain.Investigation, error) {
	if s.investigation != nil && s.investigation.ID == id {
		return s.investigation, nil
	}
	return nil, nil
}

func (s *stubInvestigationStore) ListInvestigations(_ context.Context, filter domain.InvestigationFilter) ([]domain.Investigation, error) {
	s.lastFilter = filter
	return nil, nil
}

func (s *stubInvestigationStore) AppendAuditEntry(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	entry.ID = int64(len(s.auditEntries) + 1)
	s.auditEntries = append(s.auditEntries, entry)
	return entry, nil
}

func (s *stubInvestigationStore) ListAuditEntries(_ context.Context, _ string) ([]domain.AuditEntry, error) {
	return s.auditEntries, nil
}

type stubBaselineCache struct {
	baseline *domain.Baseline
	getCalls int
	setCalls int
	getErr   error
}

func (c *stubBaselineCache) Get(_ context.Context, _ string) (*domain.Baseline, error) {
	c.getCalls++
	return c.baseline, c.getErr
}

func (c *stubBaselineCache) Set(_ context.Context, _ string, _ domain.Baseline) error {
	c.setCalls++
	return nil
}

type stubNarrator struct {
	text  string
	err   error
	calls int
}

func (n *stubNarrator) Narrate(_ context.Context, _ narrative.Evidence) (string, error) {
	n.calls++
	return n.text, n.err
}

type stubNotifier struct {
	notifyCalls int
	last        domain.Investigation
}

func (n *stubNotifier) NotifyInvestigation(_ context.Context, inv domain.Investigation) error {
	n.notifyCalls++
	n.last = inv
	return nil
}

func newTestInvestigationService(store *stubInvestigationStore, cache *stubBaselineCache, narrator narrative.Narrator, notifier InvestigationNotifier) *InvestigationService {
	var baselineCache BaselineCache
	if cache != nil {
		baselineCache = cache
	}
	return NewInvestigationService(
		trace.NewNoopTracerProvider().Tracer("test"),
		store, baselineCache, narrator, notifier,
		testThresholds(),
		func() time.Time { return evalTime },
	)
}

func largeTransactionAlert(amount float64) domain.Alert {
	return domain.Alert{
		ID:        "a1",
		UserID:    "u1",
		AlertType: "large_transaction",
		Transaction: domain.Transaction{
			ID:        "tx-event",
			Amount:    amount,
			Status:    domain.TransactionCompleted,
			Timestamp: evalTime,
		},
		CreatedAt: evalTime,
	}
}

func TestEvaluateEmptyHistoryUsesDefaultBaseline(t *testing.T) {
	store := &stubInvestigationStore{}
	notifier := &stubNotifier{}
	svc := newTestInvestigationService(store, nil, nil, notifier)

	inv, err := svc.Evaluate(context.Background(), largeTransactionAlert(4500), domain.UserActivity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Amount 4500 against the substituted avg of 100 clamps the amount
	// multiplier to 5.0; base 40 gives a raw score of 200.
	if inv.Justification.DeviationMultiplier != 5.0 {
		t.Fatalf("expected multiplier 5.0, got %.4f", inv.Justification.DeviationMultiplier)
	}
	if inv.Justification.FinalScore != 200 {
		t.Fatalf("expected raw final score 200, got %.2f", inv.Justification.FinalScore)
	}
	if inv.Severity != domain.SeverityCritical {
		t.Fatalf("expected CRITICAL, got %s", inv.Severity)
	}
	if !inv.Deviations.NewAccountFlag {
		t.Fatal("expected new account flag from the default baseline")
	}
	if store.insertCalls != 1 {
		t.Fatalf("expected one insert, got %d", store.insertCalls)
	}
	if notifier.notifyCalls != 1 {
		t.Fatalf("expected one critical notification, got %d", notifier.notifyCalls)
	}
}

func TestEvaluateRejectsInvalidAlerts(t *testing.T) {
	store := &stubInvestigationStore{}
	svc := newTestInvestigationService(store, nil, nil, nil)

	alert := largeTransactionAlert(0)
	if _, err := svc.Evaluate(context.Background(), alert, domain.UserActivity{UserID: "u1"}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	alert = largeTransactionAlert(100)
	alert.ID = ""
	if _, err := svc.Evaluate(context.Background(), alert, domain.UserActivity{UserID: "u1"}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing alert id, got %v", err)
	}
	if store.insertCalls != 0 {
		t.Fatalf("expected no inserts on rejected alerts, got %d", store.insertCalls)
	}
}

func TestEvaluateNarrativeFailureIsNonBlocking(t *testing.T) {
	store := &stubInvestigationStore{}
	failing := &stubNarrator{err: domain.ErrNarrativeUnavailable}
	svc := newTestInvestigationService(store, nil, failing, nil)

	inv, err := svc.Evaluate(context.Background(), largeTransactionAlert(150), domain.UserActivity{UserID: "u1"})
	if err != nil {
		t.Fatalf("expected evaluation to survive narrator failure, got %v", err)
	}
	if failing.calls != 1 {
		t.Fatalf("expected narrator attempted once, got %d", failing.calls)
	}
	if inv.Narrative == "" {
		t.Fatal("expected template fallback narrative")
	}
	if !strings.Contains(inv.Narrative, "u1") {
		t.Fatalf("expected fallback narrative to describe the subject, got %q", inv.Narrative)
	}
}

func TestEvaluateDeterministicForIdenticalInputs(t *testing.T) {
	store := &stubInvestigationStore{}
	svc := newTestInvestigationService(store, nil, nil, nil)
	activity := domain.UserActivity{UserID: "u1"}

	first, err := svc.Evaluate(context.Background(), largeTransactionAlert(900), activity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Evaluate(context.Background(), largeTransactionAlert(900), activity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first.Justification, second.Justification) {
		t.Fatalf("expected identical justifications, got %+v vs %+v", first.Justification, second.Justification)
	}
	if first.Severity != second.Severity {
		t.Fatalf("expected identical severity, got %s vs %s", first.Severity, second.Severity)
	}
	if first.ID == second.ID {
		t.Fatal("expected each evaluation to get a fresh id")
	}
}

func TestEvaluateUsesCachedBaseline(t *testing.T) {
	cached := domain.Baseline{
		AvgTransactionAmount:  1000,
		AvgTransactionsPerDay: 2,
		AllHoursTypical:       true,
		DeviceConsistency:     1.0,
		AccountAgeDays:        200,
		SampleCount:           50,
	}
	store := &stubInvestigationStore{}
	cache := &stubBaselineCache{baseline: &cached}
	svc := newTestInvestigationService(store, cache, nil, nil)

	inv, err := svc.Evaluate(context.Background(), largeTransactionAlert(1000), domain.UserActivity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.getCalls != 1 {
		t.Fatalf("expected one cache read, got %d", cache.getCalls)
	}
	if cache.setCalls != 0 {
		t.Fatalf("expected no cache write on hit, got %d", cache.setCalls)
	}
	// At-baseline amount against the cached profile: nothing triggers.
	if inv.Justification.DeviationMultiplier != 1.0 {
		t.Fatalf("expected neutral multiplier from cached baseline, got %.4f", inv.Justification.DeviationMultiplier)
	}
	if inv.Severity != domain.SeverityMedium {
		t.Fatalf("expected MEDIUM at base score 40, got %s", inv.Severity)
	}
}

func TestEvaluateTimelineCoversTriggeredSignals(t *testing.T) {
	store := &stubInvestigationStore{}
	svc := newTestInvestigationService(store, nil, nil, nil)

	inv, err := svc.Evaluate(context.Background(), largeTransactionAlert(4500), domain.UserActivity{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	labels := make(map[string]bool, len(inv.Timeline))
	for i, ev := range inv.Timeline {
		if ev.Seq != i+1 {
			t.Fatalf("expected contiguous seq numbers, got %d at index %d", ev.Seq, i)
		}
		labels[ev.Label] = true
	}
	if !labels["amount_deviation"] {
		t.Fatal("expected amount deviation timeline entry")
	}
	if !labels["new_account_flag"] {
		t.Fatal("expected new account flag timeline entry")
	}
}

func TestRecordActionEnforcesSeverityPolicy(t *testing.T) {
	critical := &domain.Investigation{ID: "inv1", Severity: domain.SeverityCritical}
	store := &stubInvestigationStore{investigation: critical}
	svc := newTestInvestigationService(store, nil, nil, nil)

	if _, err := svc.RecordAction(context.Background(), "inv1", "monitor", "", "analyst"); err == nil {
		t.Fatal("expected monitor rejected for CRITICAL")
	}
	if len(store.auditEntries) != 0 {
		t.Fatal("expected no audit entry for a rejected action")
	}

	entry, err := svc.RecordAction(context.Background(), "inv1", "escalate", "paging on-call", "analyst")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ActionType != "escalate" || entry.Actor != "analyst" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if len(store.auditEntries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(store.auditEntries))
	}
}

func TestRecordActionUnknownInvestigation(t *testing.T) {
	svc := newTestInvestigationService(&stubInvestigationStore{}, nil, nil, nil)
	if _, err := svc.RecordAction(context.Background(), "missing", "monitor", "", ""); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestListAppliesDefaultsAndValidatesSeverity(t *testing.T) {
	store := &stubInvestigationStore{}
	svc := newTestInvestigationService(store, nil, nil, nil)

	if _, err := svc.List(context.Background(), domain.InvestigationFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastFilter.Limit != 50 {
		t.Fatalf("expected default limit 50, got %d", store.lastFilter.Limit)
	}

	if _, err := svc.List(context.Background(), domain.InvestigationFilter{Limit: 5000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastFilter.Limit != 200 {
		t.Fatalf("expected limit capped at 200, got %d", store.lastFilter.Limit)
	}

	bad := domain.SeverityLevel("SPICY")
	if _, err := svc.List(context.Background(), domain.InvestigationFilter{Severity: &bad}); err == nil {
		t.Fatal("expected invalid severity error")
	}
}
