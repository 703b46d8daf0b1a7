package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// stubPool records statements and replays canned rows, shared by the
// repository tests in this package.
type stubPool struct {
	execSQL  []string
	execArgs [][]any
	execErr  error

	queuedBatch  *pgx.Batch
	batchResults pgx.BatchResults

	querySQL  []string
	queryArgs [][]any
	rowSets   [][][]any
	queryErr  error

	rowData []any
	rowErr  error
}

func (s *stubPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execSQL = append(s.execSQL, sql)
	s.execArgs = append(s.execArgs, args)
	return pgconn.CommandTag{}, s.execErr
}

func (s *stubPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	s.queuedBatch = b
	if s.batchResults != nil {
		return s.batchResults
	}
	return &stubBatchResults{}
}

func (s *stubPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.querySQL = append(s.querySQL, sql)
	s.queryArgs = append(s.queryArgs, args)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if len(s.rowSets) == 0 {
		return &stubRows{}, nil
	}
	data := s.rowSets[0]
	s.rowSets = s.rowSets[1:]
	return &stubRows{data: data}, nil
}

func (s *stubPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &stubRow{data: s.rowData, err: s.rowErr}
}

type stubBatchResults struct {
	execCalls int
	execErr   error
	closed    bool
}

func (s *stubBatchResults) Exec() (pgconn.CommandTag, error) {
	s.execCalls++
	return pgconn.CommandTag{}, s.execErr
}

func (s *stubBatchResults) Query() (pgx.Rows, error) { return &stubRows{}, nil }

func (s *stubBatchResults) QueryRow() pgx.Row { return &stubRow{} }

func (s *stubBatchResults) Close() error {
	s.closed = true
	return nil
}

type stubRows struct {
	data [][]any
	idx  int
}

func (r *stubRows) Close() {}

func (r *stubRows) Err() error { return nil }

func (r *stubRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("invalid scan index")
	}
	return scanInto(dest, r.data[r.idx-1])
}

func (r *stubRows) Values() ([]any, error) { return nil, nil }

func (r *stubRows) RawValues() [][]byte { return nil }

func (r *stubRows) Conn() *pgx.Conn { return nil }

type stubRow struct {
	data []any
	err  error
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.data == nil {
		return pgx.ErrNoRows
	}
	return scanInto(dest, r.data)
}

func scanInto(dest []any, row []any) error {
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = row[i].(string)
		case *float64:
			*ptr = row[i].(float64)
		case *int64:
			*ptr = row[i].(int64)
		case *[]byte:
			*ptr = row[i].([]byte)
		case *time.Time:
			*ptr = row[i].(time.Time)
		case **time.Time:
			if row[i] == nil {
				*ptr = nil
			} else {
				t := row[i].(time.Time)
				*ptr = &t
			}
		default:
			return fmt.Errorf("unsupported dest type %T", d)
		}
	}
	return nil
}
