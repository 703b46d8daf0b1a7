package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"riskwatch/internal/baseline"
	"riskwatch/internal/config"
	"riskwatch/internal/deviation"
	"riskwatch/internal/domain"
	"riskwatch/internal/market"
	"riskwatch/internal/narrative"
	"riskwatch/internal/pattern"
	"riskwatch/internal/scoring"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const recentTradeWindow = 10

type TraderActivityReader interface {
	GetTraderActivity(ctx context.Context, traderID string) (*domain.TraderActivity, error)
}

type MarketReader interface {
	LatestCandle(ctx context.Context, instrument string) (*domain.OHLC, error)
}

type InsightStore interface {
	InsertInsight(ctx context.Context, insight domain.TradingInsight) (domain.TradingInsight, error)
	ListInsights(ctx context.Context, filter domain.InsightFilter) ([]domain.TradingInsight, error)
}

// InsightService is the autonomous scoring pass over a trader's behavior:
// pressure factors, deviations against the trading baseline, losing-pattern
// matches, and the assembled insight record.
type InsightService struct {
	tracer     trace.Tracer
	activity   TraderActivityReader
	markets    MarketReader
	store      InsightStore
	matcher    *pattern.Matcher
	narrator   narrative.Narrator
	fallback   narrative.Narrator
	thresholds config.Thresholds
	now        func() time.Time
}

func NewInsightService(
	tracer trace.Tracer,
	activity TraderActivityReader,
	markets MarketReader,
	store InsightStore,
	narrator narrative.Narrator,
	thresholds config.Thresholds,
	now func() time.Time,
) *InsightService {
	if now == nil {
		now = time.Now
	}
	if narrator == nil {
		narrator = narrative.NewTemplateNarrator()
	}
	return &InsightService{
		tracer:     tracer,
		activity:   activity,
		markets:    markets,
		store:      store,
		matcher:    pattern.NewMatcher(thresholds.PatternWeights, thresholds.PatternMinSimilarity, thresholds.PatternMaxMatches),
		narrator:   narrator,
		fallback:   narrative.NewTemplateNarrator(),
		thresholds: thresholds,
		now:        now,
	}
}

// ScanTrader runs one scoring pass for a trader and persists the insight.
func (s *InsightService) ScanTrader(ctx context.Context, traderID string) (*domain.TradingInsight, error) {
	ctx, span := s.tracer.Start(ctx, "insight-service.scan-trader")
	defer span.End()

	if s.activity == nil || s.store == nil {
		return nil, fmt.Errorf("insight service is not fully initialized")
	}
	traderID = strings.TrimSpace(traderID)
	if traderID == "" {
		return nil, fmt.Errorf("%w: trader id is required", domain.ErrInvalidEvent)
	}

	activity, err := s.activity.GetTraderActivity(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("get trader activity: %w", err)
	}
	if activity == nil || len(activity.Trades) == 0 {
		return nil, domain.ErrInsufficientHistory
	}

	trades := orderedTrades(activity.Trades)
	latest := trades[len(trades)-1]
	now := s.now().UTC()

	b, err := baseline.BuildFromTrades(domain.TraderActivity{
		TraderID:         activity.TraderID,
		AccountCreatedAt: activity.AccountCreatedAt,
		Trades:           trades,
	}, now, baseline.Config{
		TypicalHourMass:   s.thresholds.TypicalHourMass,
		MinSamples:        s.thresholds.MinHistorySamples,
		AccountAgeCapDays: s.thresholds.AccountAgeCapDays,
	})
	if err != nil {
		return nil, err
	}

	marketCtx := s.marketContext(ctx, latest.Instrument)

	event := deviation.Event{
		Amount:      latest.Size,
		Timestamp:   latest.OpenedAt,
		RecentCount: recentTradeCount(trades, latest.OpenedAt, s.thresholds.FrequencyWindowHrs),
	}
	set, err := deviation.Detect(b, event, deviation.Table{
		AmountEpsilon:     s.thresholds.AmountEpsilon,
		AmountCeiling:     s.thresholds.AmountMultCeiling,
		FreqCeiling:       s.thresholds.FreqMultCeiling,
		TemporalBonus:     s.thresholds.TemporalBonus,
		LocationBonus:     s.thresholds.LocationBonus,
		DeviceBonus:       s.thresholds.DeviceBonus,
		VelocityAxisCount: s.thresholds.VelocityAxisCount,
		NewAccountDays:    s.thresholds.NewAccountDays,
	})
	if err != nil {
		return nil, err
	}

	factors := pressureFactors(trades, latest, b, s.thresholds)
	score := scoring.TradingScore(factors, s.thresholds.FactorWeights)
	level := scoring.PressureTable{P1: s.thresholds.PressureP1, P2: s.thresholds.PressureP2}.Classify(score)
	pressure := domain.PressureScore{Score: score, Level: level, Factors: factors}

	var prev *domain.Trade
	if len(trades) > 1 {
		prev = &trades[len(trades)-2]
	}
	currentFeatures := pattern.TradeFeatures(latest, prev, b.AvgTransactionAmount)
	matches := s.matcher.Match(trades, currentFeatures, b.AvgTransactionAmount)

	anomalyScore := s.anomalyHint(trades, currentFeatures, b.AvgTransactionAmount)

	narrativeText := s.narrate(ctx, narrative.Evidence{
		Kind:                narrative.KindInsight,
		SubjectID:           traderID,
		Classification:      string(level),
		FinalScore:          score,
		Deviations:          set,
		Factors:             factors,
		ContributingFactors: pressure.ContributingFactors(s.thresholds.ContributingFactor),
		PatternMatches:      matches,
		MarketMovement:      marketCtx.Movement,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	insight := domain.TradingInsight{
		ID:                 uuid.NewString(),
		TraderID:           traderID,
		Instrument:         latest.Instrument,
		Market:             marketCtx,
		Baseline:           b,
		Deviations:         set,
		Pressure:           pressure,
		DeterministicScore: score,
		PatternMatches:     matches,
		AnomalyScore:       anomalyScore,
		Narrative:          narrativeText,
		CreatedAt:          now,
	}

	persisted, err := s.store.InsertInsight(ctx, insight)
	if err != nil {
		return nil, fmt.Errorf("insert insight: %w", err)
	}
	return &persisted, nil
}

func (s *InsightService) List(ctx context.Context, filter domain.InsightFilter) ([]domain.TradingInsight, error) {
	ctx, span := s.tracer.Start(ctx, "insight-service.list")
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("insight service is not fully initialized")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	return s.store.ListInsights(ctx, filter)
}

func (s *InsightService) marketContext(ctx context.Context, instrument string) domain.MarketContext {
	if s.markets == nil || instrument == "" {
		return domain.MarketContext{Movement: domain.MovementFlat}
	}
	candle, err := s.markets.LatestCandle(ctx, instrument)
	if err != nil || candle == nil {
		if err != nil {
			log.Printf("market context read error for %s: %v", instrument, err)
		}
		return domain.MarketContext{Movement: domain.MovementFlat}
	}
	return market.Classify(*candle)
}

// anomalyHint trains an isolation forest over the trader's own fingerprints
// and scores the current one. Best effort and advisory only.
func (s *InsightService) anomalyHint(trades []domain.Trade, current pattern.Features, avgSize float64) float64 {
	samples := make([]pattern.Features, 0, len(trades))
	for i := range trades {
		var prev *domain.Trade
		if i > 0 {
			prev = &trades[i-1]
		}
		samples = append(samples, pattern.TradeFeatures(trades[i], prev, avgSize))
	}
	scorer, err := pattern.TrainAnomaly(samples, pattern.DefaultAnomalyOptions())
	if err != nil {
		return 0
	}
	return scorer.Score(current)
}

func (s *InsightService) narrate(ctx context.Context, ev narrative.Evidence) string {
	text, err := s.narrator.Narrate(ctx, ev)
	if err == nil {
		return text
	}
	log.Printf("narrative collaborator failed for %s, using template: %v", ev.SubjectID, err)
	text, _ = s.fallback.Narrate(ctx, ev)
	return text
}

func orderedTrades(in []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func recentTradeCount(trades []domain.Trade, at time.Time, windowHours int) int {
	if windowHours <= 0 {
		windowHours = 24
	}
	cutoff := at.Add(-time.Duration(windowHours) * time.Hour)
	count := 0
	for _, tr := range trades {
		if !tr.OpenedAt.Before(cutoff) && !tr.OpenedAt.After(at) {
			count++
		}
	}
	return count
}

// pressureFactors computes the five named behavioral factors, each in [0,1].
func pressureFactors(trades []domain.Trade, latest domain.Trade, b domain.Baseline, t config.Thresholds) map[string]float64 {
	eps := t.AmountEpsilon
	if eps <= 0 {
		eps = 0.01
	}

	recent := recentTradeCount(trades, latest.OpenedAt, t.FrequencyWindowHrs)
	expected := b.AvgTransactionsPerDay
	if expected < eps {
		expected = eps
	}
	frequencySpike := clamp01((float64(recent)/expected - 1) / 4)

	avgSize := b.AvgTransactionAmount
	if avgSize < eps {
		avgSize = eps
	}
	sizeDeviation := clamp01((latest.Size/avgSize - 1) / 4)

	window := trades
	if len(window) > recentTradeWindow {
		window = window[len(window)-recentTradeWindow:]
	}
	closed := 0
	losses := 0
	shortGaps := 0
	gaps := 0
	shortGap := time.Duration(t.ShortIntervalMinutes) * time.Minute
	if shortGap <= 0 {
		shortGap = 5 * time.Minute
	}
	for i := range window {
		if !window[i].ClosedAt.IsZero() {
			closed++
			if window[i].IsLoss() {
				losses++
			}
		}
		if i > 0 {
			gaps++
			if window[i].OpenedAt.Sub(window[i-1].OpenedAt) < shortGap {
				shortGaps++
			}
		}
	}
	lossClustering := 0.0
	if closed > 0 {
		lossClustering = float64(losses) / float64(closed)
	}
	shortIntervals := 0.0
	if gaps > 0 {
		shortIntervals = float64(shortGaps) / float64(gaps)
	}

	unusualHours := 0.0
	if !b.IsTypicalHour(latest.OpenedAt.UTC().Hour()) {
		unusualHours = 1.0
	}

	return map[string]float64{
		domain.FactorTradeFrequencySpike:   frequencySpike,
		domain.FactorPositionSizeDeviation: sizeDeviation,
		domain.FactorLossClustering:        lossClustering,
		domain.FactorUnusualHours:          unusualHours,
		domain.FactorShortIntervals:        shortIntervals,
	}
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
