package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskwatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type stubTraderActivityReader struct {
	activity *domain.TraderActivity
	err      error
}

func (r *stubTraderActivityReader) GetTraderActivity(_ context.Context, _ string) (*domain.TraderActivity, error) {
	return r.activity, r.err
}

type stubMarketReader struct {
	candle *domain.OHLC
	err    error
	calls  int
}

func (r *stubMarketReader) LatestCandle(_ context.Context, _ string) (*domain.OHLC, error) {
	r.calls++
	return r.candle, r.err
}

type stubInsightStore struct {
	insertCalls  int
	lastInserted domain.TradingInsight
	lastFilter   domain.InsightFilter
}

func (s *stubInsightStore) InsertInsight(_ context.Context, insight domain.TradingInsight) (domain.TradingInsight, error) {
	s.insertCalls++
	s.lastInserted = insight
	return insight, nil
}

func (s *stubInsightStore) ListInsights(_ context.Context, filter domain.InsightFilter) ([]domain.TradingInsight, error) {
	s.lastFilter = filter
	return nil, nil
}

func newTestInsightService(activity *stubTraderActivityReader, markets *stubMarketReader, store *stubInsightStore) *InsightService {
	var marketReader MarketReader
	if markets != nil {
		marketReader = markets
	}
	return NewInsightService(
		trace.NewNoopTracerProvider().Tracer("test"),
		activity, marketReader, store, nil,
		testThresholds(),
		func() time.Time { return evalTime },
	)
}

// stressedTrader builds a history whose latest trade sits on top of a cluster
// of recent losses at oversized positions.
func stressedTrader() *domain.TraderActivity {
	base := evalTime.Add(-6 * time.Hour)
	activity := &domain.TraderActivity{
		TraderID:         "tr1",
		AccountCreatedAt: evalTime.AddDate(0, -8, 0),
	}
	for i := 0; i < 10; i++ {
		tr := domain.Trade{
			ID:         "h" + string(rune('a'+i)),
			TraderID:   "tr1",
			Instrument: "EURUSD",
			Size:       100,
			Price:      50,
			OpenedAt:   base.Add(time.Duration(i) * 2 * time.Minute),
		}
		if i%2 == 0 {
			tr.ClosedAt = tr.OpenedAt.Add(time.Minute)
			tr.PnL = -20
		}
		activity.Trades = append(activity.Trades, tr)
	}
	activity.Trades = append(activity.Trades, domain.Trade{
		ID:         "latest",
		TraderID:   "tr1",
		Instrument: "EURUSD",
		Size:       400,
		Price:      50,
		OpenedAt:   evalTime.Add(-time.Minute),
	})
	return activity
}

func TestScanTraderRequiresHistory(t *testing.T) {
	svc := newTestInsightService(&stubTraderActivityReader{}, nil, &stubInsightStore{})
	if _, err := svc.ScanTrader(context.Background(), "tr1"); !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}

	empty := &stubTraderActivityReader{activity: &domain.TraderActivity{TraderID: "tr1"}}
	svc = newTestInsightService(empty, nil, &stubInsightStore{})
	if _, err := svc.ScanTrader(context.Background(), "tr1"); !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory for empty trade list, got %v", err)
	}
}

func TestScanTraderRejectsBlankID(t *testing.T) {
	svc := newTestInsightService(&stubTraderActivityReader{}, nil, &stubInsightStore{})
	if _, err := svc.ScanTrader(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestScanTraderPersistsAssembledInsight(t *testing.T) {
	store := &stubInsightStore{}
	markets := &stubMarketReader{candle: &domain.OHLC{Instrument: "EURUSD", Open: 100, Close: 95}}
	svc := newTestInsightService(&stubTraderActivityReader{activity: stressedTrader()}, markets, store)

	insight, err := svc.ScanTrader(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.insertCalls != 1 {
		t.Fatalf("expected one insert, got %d", store.insertCalls)
	}
	if insight.TraderID != "tr1" || insight.Instrument != "EURUSD" {
		t.Fatalf("unexpected identity fields: %+v", insight)
	}
	if insight.DeterministicScore < 0 || insight.DeterministicScore > 100 {
		t.Fatalf("deterministic score out of range: %.2f", insight.DeterministicScore)
	}
	if insight.DeterministicScore != insight.Pressure.Score {
		t.Fatal("deterministic score must equal the pressure score")
	}
	if !insight.Pressure.Level.IsValid() {
		t.Fatalf("invalid pressure level %q", insight.Pressure.Level)
	}
	if insight.Market.Movement != domain.MovementDrop {
		t.Fatalf("expected drop market context, got %s", insight.Market.Movement)
	}
	if len(insight.Pressure.Factors) != len(domain.FactorNames) {
		t.Fatalf("expected all %d factors reported, got %d", len(domain.FactorNames), len(insight.Pressure.Factors))
	}
	if insight.Narrative == "" {
		t.Fatal("expected a narrative")
	}
}

func TestScanTraderLossClusterRaisesPressure(t *testing.T) {
	store := &stubInsightStore{}
	svc := newTestInsightService(&stubTraderActivityReader{activity: stressedTrader()}, nil, store)

	insight, err := svc.ScanTrader(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	factors := insight.Pressure.Factors
	if factors[domain.FactorLossClustering] <= 0 {
		t.Fatalf("expected loss clustering factor above zero, got %.2f", factors[domain.FactorLossClustering])
	}
	if factors[domain.FactorShortIntervals] <= 0 {
		t.Fatalf("expected short intervals factor above zero, got %.2f", factors[domain.FactorShortIntervals])
	}
	if factors[domain.FactorPositionSizeDeviation] <= 0 {
		t.Fatalf("expected position size factor above zero, got %.2f", factors[domain.FactorPositionSizeDeviation])
	}
	if insight.Pressure.Level == domain.PressureStable {
		t.Fatalf("expected elevated pressure for a stressed trader, got %s with score %.2f", insight.Pressure.Level, insight.Pressure.Score)
	}
}

func TestScanTraderDeterministicScoreRepeats(t *testing.T) {
	activity := &stubTraderActivityReader{activity: stressedTrader()}
	store := &stubInsightStore{}
	svc := newTestInsightService(activity, nil, store)

	first, err := svc.ScanTrader(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.ScanTrader(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.DeterministicScore != second.DeterministicScore {
		t.Fatalf("deterministic score drifted: %.10f vs %.10f", first.DeterministicScore, second.DeterministicScore)
	}
	if first.Pressure.Level != second.Pressure.Level {
		t.Fatalf("pressure level drifted: %s vs %s", first.Pressure.Level, second.Pressure.Level)
	}
	if first.ID == second.ID {
		t.Fatal("expected fresh insight ids per scan")
	}
}

func TestScanTraderMarketReadFailureIsNonBlocking(t *testing.T) {
	store := &stubInsightStore{}
	markets := &stubMarketReader{err: errors.New("market store down")}
	svc := newTestInsightService(&stubTraderActivityReader{activity: stressedTrader()}, markets, store)

	insight, err := svc.ScanTrader(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("expected scan to survive market read failure, got %v", err)
	}
	if markets.calls != 1 {
		t.Fatalf("expected one market read attempt, got %d", markets.calls)
	}
	if insight.Market.Movement != domain.MovementFlat {
		t.Fatalf("expected flat fallback context, got %s", insight.Market.Movement)
	}
}

func TestScanTraderMatchesHistoricalLosingPatterns(t *testing.T) {
	// Two identical past losing trades plus a current trade with the same
	// fingerprint: same size, price, hour of day, and spacing.
	base := evalTime.AddDate(0, 0, -3)
	activity := &domain.TraderActivity{TraderID: "tr1", AccountCreatedAt: evalTime.AddDate(0, -8, 0)}
	for i := 0; i < 3; i++ {
		tr := domain.Trade{
			ID:         "p" + string(rune('a'+i)),
			TraderID:   "tr1",
			Instrument: "EURUSD",
			Size:       100,
			Price:      50,
			OpenedAt:   base.AddDate(0, 0, i),
		}
		if i < 2 {
			tr.ClosedAt = tr.OpenedAt.Add(30 * time.Minute)
			tr.PnL = -15
		}
		activity.Trades = append(activity.Trades, tr)
	}

	store := &stubInsightStore{}
	svc := newTestInsightService(&stubTraderActivityReader{activity: activity}, nil, store)

	insight, err := svc.ScanTrader(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(insight.PatternMatches) == 0 {
		t.Fatal("expected historical losing pattern matches")
	}
	if insight.PatternMatches[0].Similarity < 0.99 {
		t.Fatalf("expected near-identical top match, got %.4f", insight.PatternMatches[0].Similarity)
	}
}

func TestInsightListAppliesLimits(t *testing.T) {
	store := &stubInsightStore{}
	svc := newTestInsightService(&stubTraderActivityReader{}, nil, store)

	if _, err := svc.List(context.Background(), domain.InsightFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastFilter.Limit != 50 {
		t.Fatalf("expected default limit 50, got %d", store.lastFilter.Limit)
	}

	if _, err := svc.List(context.Background(), domain.InsightFilter{Limit: 999}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastFilter.Limit != 200 {
		t.Fatalf("expected limit capped at 200, got %d", store.lastFilter.Limit)
	}
}
