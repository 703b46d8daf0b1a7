package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"riskwatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type InsightRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewInsightRepository(pool PgxPool, tracer trace.Tracer) *InsightRepository {
	return &InsightRepository{pool: pool, tracer: tracer}
}

func (r *InsightRepository) RunMigrations(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trading_insights (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			instrument TEXT NOT NULL DEFAULT '',
			pressure_level TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trading_insights_trader_created
			ON trading_insights (trader_id, created_at DESC);
	`)
	return err
}

func (r *InsightRepository) InsertInsight(ctx context.Context, insight domain.TradingInsight) (domain.TradingInsight, error) {
	ctx, span := r.tracer.Start(ctx, "insight-repo.insert")
	defer span.End()

	record, err := json.Marshal(insight)
	if err != nil {
		return domain.TradingInsight{}, fmt.Errorf("marshal insight: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO trading_insights (id, trader_id, instrument, pressure_level, score, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		insight.ID,
		insight.TraderID,
		insight.Instrument,
		string(insight.Pressure.Level),
		insight.DeterministicScore,
		record,
		insight.CreatedAt.UTC(),
	)
	if err != nil {
		return domain.TradingInsight{}, err
	}
	return insight, nil
}

// ListInsights returns insights most recent first.
func (r *InsightRepository) ListInsights(ctx context.Context, filter domain.InsightFilter) ([]domain.TradingInsight, error) {
	ctx, span := r.tracer.Start(ctx, "insight-repo.list")
	defer span.End()

	args := make([]any, 0, 2)
	var sb strings.Builder
	sb.WriteString(`SELECT record FROM trading_insights WHERE 1=1`)

	if filter.TraderID != "" {
		args = append(args, filter.TraderID)
		sb.WriteString(fmt.Sprintf(" AND trader_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TradingInsight, 0, limit)
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var insight domain.TradingInsight
		if err := json.Unmarshal(record, &insight); err != nil {
			return nil, fmt.Errorf("unmarshal insight: %w", err)
		}
		out = append(out, insight)
	}
	return out, rows.Err()
}
