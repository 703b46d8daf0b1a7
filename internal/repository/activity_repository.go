package repository

import (
	"context"
	"errors"
	"time"

	"riskwatch/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

// ActivityRepository owns the append-only history: accounts, transactions,
// logins, trades. Nothing here is ever updated or deleted.
type ActivityRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewActivityRepository(pool PgxPool, tracer trace.Tracer) *ActivityRepository {
	return &ActivityRepository{pool: pool, tracer: tracer}
}

func (r *ActivityRepository) RunMigrations(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			subject_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			city TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions (user_id, ts);
		CREATE TABLE IF NOT EXISTS logins (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_logins_user_ts ON logins (user_id, ts);
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			instrument TEXT NOT NULL DEFAULT '',
			size DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_trades_trader_opened ON trades (trader_id, opened_at);
	`)
	return err
}

func (r *ActivityRepository) GetUserActivity(ctx context.Context, userID string) (*domain.UserActivity, error) {
	ctx, span := r.tracer.Start(ctx, "activity-repo.get-user-activity")
	defer span.End()

	activity := &domain.UserActivity{UserID: userID}

	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT created_at FROM accounts WHERE subject_id = $1`, userID,
	).Scan(&createdAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	activity.AccountCreatedAt = createdAt.UTC()

	rows, err := r.pool.Query(ctx,
		`SELECT id, amount, currency, status, city, country, device_id, ts
		 FROM transactions WHERE user_id = $1 ORDER BY ts`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tx domain.Transaction
		var ts time.Time
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.Currency, &tx.Status, &tx.Location.City, &tx.Location.Country, &tx.DeviceID, &ts); err != nil {
			return nil, err
		}
		tx.Timestamp = ts.UTC()
		activity.Transactions = append(activity.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	loginRows, err := r.pool.Query(ctx,
		`SELECT device_id, city, country, ts FROM logins WHERE user_id = $1 ORDER BY ts`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer loginRows.Close()
	for loginRows.Next() {
		var login domain.Login
		var ts time.Time
		if err := loginRows.Scan(&login.DeviceID, &login.Location.City, &login.Location.Country, &ts); err != nil {
			return nil, err
		}
		login.Timestamp = ts.UTC()
		activity.Logins = append(activity.Logins, login)
	}
	return activity, loginRows.Err()
}

func (r *ActivityRepository) GetTraderActivity(ctx context.Context, traderID string) (*domain.TraderActivity, error) {
	ctx, span := r.tracer.Start(ctx, "activity-repo.get-trader-activity")
	defer span.End()

	activity := &domain.TraderActivity{TraderID: traderID}

	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT created_at FROM accounts WHERE subject_id = $1`, traderID,
	).Scan(&createdAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	activity.AccountCreatedAt = createdAt.UTC()

	rows, err := r.pool.Query(ctx,
		`SELECT id, instrument, size, price, pnl, opened_at, closed_at
		 FROM trades WHERE trader_id = $1 ORDER BY opened_at`,
		traderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tr domain.Trade
		var openedAt time.Time
		var closedAt *time.Time
		if err := rows.Scan(&tr.ID, &tr.Instrument, &tr.Size, &tr.Price, &tr.PnL, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		tr.TraderID = traderID
		tr.OpenedAt = openedAt.UTC()
		if closedAt != nil {
			tr.ClosedAt = closedAt.UTC()
		}
		activity.Trades = append(activity.Trades, tr)
	}
	return activity, rows.Err()
}

// ensureAccount records when a subject was first seen. The first append wins;
// later appends never move created_at.
func (r *ActivityRepository) ensureAccount(ctx context.Context, subjectID string, seenAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (subject_id, created_at)
		 VALUES ($1, $2)
		 ON CONFLICT (subject_id) DO NOTHING`,
		subjectID, seenAt.UTC(),
	)
	return err
}

func (r *ActivityRepository) AppendTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	ctx, span := r.tracer.Start(ctx, "activity-repo.append-transaction")
	defer span.End()

	if err := r.ensureAccount(ctx, userID, tx.Timestamp); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, amount, currency, status, city, country, device_id, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, userID, tx.Amount, tx.Currency, tx.Status,
		tx.Location.City, tx.Location.Country, tx.DeviceID, tx.Timestamp.UTC(),
	)
	return err
}

func (r *ActivityRepository) AppendLogin(ctx context.Context, userID string, login domain.Login) error {
	ctx, span := r.tracer.Start(ctx, "activity-repo.append-login")
	defer span.End()

	if err := r.ensureAccount(ctx, userID, login.Timestamp); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO logins (user_id, device_id, city, country, ts)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, login.DeviceID, login.Location.City, login.Location.Country, login.Timestamp.UTC(),
	)
	return err
}

func (r *ActivityRepository) AppendTrade(ctx context.Context, trade domain.Trade) error {
	ctx, span := r.tracer.Start(ctx, "activity-repo.append-trade")
	defer span.End()

	if err := r.ensureAccount(ctx, trade.TraderID, trade.OpenedAt); err != nil {
		return err
	}
	var closedAt *time.Time
	if !trade.ClosedAt.IsZero() {
		t := trade.ClosedAt.UTC()
		closedAt = &t
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trades (id, trader_id, instrument, size, price, pnl, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trade.ID, trade.TraderID, trade.Instrument, trade.Size, trade.Price, trade.PnL,
		trade.OpenedAt.UTC(), closedAt,
	)
	return err
}

// ListActiveTraders returns trader ids with the most recent trade activity,
// for the scheduled scan pass.
func (r *ActivityRepository) ListActiveTraders(ctx context.Context, limit int) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "activity-repo.list-active-traders")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT trader_id FROM trades
		 GROUP BY trader_id
		 ORDER BY MAX(opened_at) DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
