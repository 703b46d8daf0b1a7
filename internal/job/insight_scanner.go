package job

import (
	"context"
	"errors"
	"log"
	"time"

	"riskwatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const tradersPerPass = 25

type TraderLister interface {
	ListActiveTraders(ctx context.Context, limit int) ([]string, error)
}

type TraderScanner interface {
	ScanTrader(ctx context.Context, traderID string) (*domain.TradingInsight, error)
}

// InsightScanner periodically re-scores recently active traders.
type InsightScanner struct {
	tracer   trace.Tracer
	traders  TraderLister
	scanner  TraderScanner
	interval time.Duration
}

func NewInsightScanner(tracer trace.Tracer, traders TraderLister, scanner TraderScanner, pollSecs int) *InsightScanner {
	if pollSecs <= 0 {
		pollSecs = 300
	}
	return &InsightScanner{
		tracer:   tracer,
		traders:  traders,
		scanner:  scanner,
		interval: time.Duration(pollSecs) * time.Second,
	}
}

// Start runs scan passes until ctx is cancelled. Blocks.
func (s *InsightScanner) Start(ctx context.Context) {
	if s.traders == nil || s.scanner == nil {
		log.Println("Insight scanner disabled: missing trader source or scanner")
		<-ctx.Done()
		return
	}

	log.Println("Insight scanner starting...")
	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Insight scanner stopped")
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *InsightScanner) runPass(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "insight-scanner.pass")
	defer span.End()

	traderIDs, err := s.traders.ListActiveTraders(ctx, tradersPerPass)
	if err != nil {
		log.Printf("insight scan: listing active traders: %v", err)
		return
	}

	for _, traderID := range traderIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.scanner.ScanTrader(ctx, traderID); err != nil {
			// Thin histories are expected for new traders; skip quietly.
			if errors.Is(err, domain.ErrInsufficientHistory) {
				continue
			}
			log.Printf("insight scan error for trader %s: %v", traderID, err)
		}
	}
}
