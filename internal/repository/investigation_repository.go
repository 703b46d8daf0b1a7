package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"riskwatch/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

type InvestigationRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewInvestigationRepository(pool PgxPool, tracer trace.Tracer) *InvestigationRepository {
	return &InvestigationRepository{pool: pool, tracer: tracer}
}

func (r *InvestigationRepository) RunMigrations(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS investigations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			final_score DOUBLE PRECISION NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_investigations_user_created
			ON investigations (user_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGSERIAL PRIMARY KEY,
			investigation_id TEXT NOT NULL REFERENCES investigations(id),
			action_type TEXT NOT NULL,
			action_details TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_investigation
			ON audit_entries (investigation_id, created_at);
	`)
	return err
}

// InsertInvestigation stores the complete record in one statement, so a
// failed insert leaves nothing behind.
func (r *InvestigationRepository) InsertInvestigation(ctx context.Context, inv domain.Investigation) (domain.Investigation, error) {
	ctx, span := r.tracer.Start(ctx, "investigation-repo.insert")
	defer span.End()

	record, err := json.Marshal(inv)
	if err != nil {
		return domain.Investigation{}, fmt.Errorf("marshal investigation: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO investigations (id, user_id, severity, final_score, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID,
		inv.Activity.UserID,
		string(inv.Severity),
		inv.Justification.FinalScore,
		record,
		inv.CreatedAt.UTC(),
	)
	if err != nil {
		return domain.Investigation{}, err
	}
	return inv, nil
}

func (r *InvestigationRepository) GetInvestigation(ctx context.Context, id string) (*domain.Investigation, error) {
	ctx, span := r.tracer.Start(ctx, "investigation-repo.get")
	defer span.End()

	var record []byte
	err := r.pool.QueryRow(ctx,
		`SELECT record FROM investigations WHERE id = $1`, id,
	).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var inv domain.Investigation
	if err := json.Unmarshal(record, &inv); err != nil {
		return nil, fmt.Errorf("unmarshal investigation %s: %w", id, err)
	}
	return &inv, nil
}

func (r *InvestigationRepository) ListInvestigations(ctx context.Context, filter domain.InvestigationFilter) ([]domain.Investigation, error) {
	ctx, span := r.tracer.Start(ctx, "investigation-repo.list")
	defer span.End()

	args := make([]any, 0, 3)
	var sb strings.Builder
	sb.WriteString(`SELECT record FROM investigations WHERE 1=1`)

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		sb.WriteString(fmt.Sprintf(" AND user_id = $%d", len(args)))
	}
	if filter.Severity != nil {
		args = append(args, string(*filter.Severity))
		sb.WriteString(fmt.Sprintf(" AND severity = $%d", len(args)))
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

	out := make([]domain.Investigation, 0, limit)
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var inv domain.Investigation
		if err := json.Unmarshal(record, &inv); err != nil {
			return nil, fmt.Errorf("unmarshal investigation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *InvestigationRepository) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	ctx, span := r.tracer.Start(ctx, "investigation-repo.append-audit")
	defer span.End()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO audit_entries (investigation_id, action_type, action_details, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		entry.InvestigationID,
		entry.ActionType,
		entry.ActionDetails,
		entry.Actor,
		entry.CreatedAt.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return entry, nil
}

func (r *InvestigationRepository) ListAuditEntries(ctx context.Context, investigationID string) ([]domain.AuditEntry, error) {
	ctx, span := r.tracer.Start(ctx, "investigation-repo.list-audit")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT id, investigation_id, action_type, action_details, actor, created_at
		 FROM audit_entries
		 WHERE investigation_id = $1
		 ORDER BY created_at, id`,
		investigationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.InvestigationID, &e.ActionType, &e.ActionDetails, &e.Actor, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = ts.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
