package service

import (
	"context"
	"fmt"
	"strings"

	"riskwatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type MarketStore interface {
	UpsertCandles(ctx context.Context, candles []domain.OHLC) error
}

// MarketService ingests candle data so trader evaluations have market context.
// Re-submitting a candle for the same instrument and open time overwrites it.
type MarketService struct {
	tracer trace.Tracer
	store  MarketStore
}

func NewMarketService(tracer trace.Tracer, store MarketStore) *MarketService {
	return &MarketService{tracer: tracer, store: store}
}

func (s *MarketService) RecordCandles(ctx context.Context, candles []domain.OHLC) error {
	ctx, span := s.tracer.Start(ctx, "market-service.record-candles")
	defer span.End()

	if s.store == nil {
		return fmt.Errorf("market service is not fully initialized")
	}
	if len(candles) == 0 {
		return fmt.Errorf("%w: at least one candle is required", domain.ErrInvalidEvent)
	}
	for i := range candles {
		candles[i].Instrument = strings.TrimSpace(candles[i].Instrument)
		if candles[i].Instrument == "" {
			return fmt.Errorf("%w: candle instrument is required", domain.ErrInvalidEvent)
		}
		if candles[i].OpenTime.IsZero() {
			return fmt.Errorf("%w: candle open time is required", domain.ErrInvalidEvent)
		}
	}
	if err := s.store.UpsertCandles(ctx, candles); err != nil {
		return fmt.Errorf("upsert candles: %w", err)
	}
	return nil
}
