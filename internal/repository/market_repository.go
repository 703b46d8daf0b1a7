package repository

import (
	"context"
	"errors"
	"time"

	"riskwatch/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

type MarketRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewMarketRepository(pool PgxPool, tracer trace.Tracer) *MarketRepository {
	return &MarketRepository{pool: pool, tracer: tracer}
}

func (r *MarketRepository) RunMigrations(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS market_candles (
			instrument TEXT NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (instrument, open_time)
		);
	`)
	return err
}

func (r *MarketRepository) UpsertCandles(ctx context.Context, candles []domain.OHLC) error {
	if len(candles) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "market-repo.upsert-candles")
	defer span.End()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO market_candles (instrument, open_time, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (instrument, open_time) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume`,
			c.Instrument, c.OpenTime.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *MarketRepository) LatestCandle(ctx context.Context, instrument string) (*domain.OHLC, error) {
	ctx, span := r.tracer.Start(ctx, "market-repo.latest-candle")
	defer span.End()

	var c domain.OHLC
	var openTime time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT instrument, open_time, open, high, low, close, volume
		 FROM market_candles
		 WHERE instrument = $1
		 ORDER BY open_time DESC
		 LIMIT 1`,
		instrument,
	).Scan(&c.Instrument, &openTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.OpenTime = openTime.UTC()
	return &c, nil
}
