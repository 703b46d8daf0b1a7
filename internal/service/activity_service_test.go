package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskwatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type stubActivityStore struct {
	activity     *domain.UserActivity
	transactions []domain.Transaction
	logins       []domain.Login
	trades       []domain.Trade
	appendErr    error
}

func (s *stubActivityStore) GetUserActivity(_ context.Context, _ string) (*domain.UserActivity, error) {
	return s.activity, nil
}

func (s *stubActivityStore) AppendTransaction(_ context.Context, _ string, tx domain.Transaction) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.transactions = append(s.transactions, tx)
	return nil
}

func (s *stubActivityStore) AppendLogin(_ context.Context, _ string, login domain.Login) error {
	s.logins = append(s.logins, login)
	return nil
}

func (s *stubActivityStore) AppendTrade(_ context.Context, trade domain.Trade) error {
	s.trades = append(s.trades, trade)
	return nil
}

type stubInvalidator struct {
	calls    int
	subjects []string
}

func (i *stubInvalidator) Invalidate(_ context.Context, subjectID string) error {
	i.calls++
	i.subjects = append(i.subjects, subjectID)
	return nil
}

func newTestActivityService(store *stubActivityStore, inv *stubInvalidator) *ActivityService {
	return NewActivityService(
		trace.NewNoopTracerProvider().Tracer("test"),
		store, inv,
		func() time.Time { return evalTime },
	)
}

func TestRecordTransactionInvalidatesBaseline(t *testing.T) {
	store := &stubActivityStore{}
	inv := &stubInvalidator{}
	svc := newTestActivityService(store, inv)

	tx := domain.Transaction{ID: "t1", Amount: 75, Timestamp: evalTime}
	if err := svc.RecordTransaction(context.Background(), "u1", tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.transactions) != 1 {
		t.Fatalf("expected one stored transaction, got %d", len(store.transactions))
	}
	if store.transactions[0].Status != domain.TransactionCompleted {
		t.Fatalf("expected default completed status, got %q", store.transactions[0].Status)
	}
	if inv.calls != 1 || inv.subjects[0] != "u1" {
		t.Fatalf("expected baseline invalidated for u1, got %+v", inv)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	store := &stubActivityStore{}
	inv := &stubInvalidator{}
	svc := newTestActivityService(store, inv)

	if err := svc.RecordTransaction(context.Background(), "", domain.Transaction{ID: "t1", Amount: 10}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing user, got %v", err)
	}
	if err := svc.RecordTransaction(context.Background(), "u1", domain.Transaction{ID: "t1", Amount: 0}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for zero amount, got %v", err)
	}
	if len(store.transactions) != 0 || inv.calls != 0 {
		t.Fatal("expected rejected appends to touch nothing")
	}
}

func TestRecordTransactionStoreFailureSkipsInvalidation(t *testing.T) {
	store := &stubActivityStore{appendErr: errors.New("db down")}
	inv := &stubInvalidator{}
	svc := newTestActivityService(store, inv)

	err := svc.RecordTransaction(context.Background(), "u1", domain.Transaction{ID: "t1", Amount: 10, Timestamp: evalTime})
	if err == nil {
		t.Fatal("expected store error surfaced")
	}
	if inv.calls != 0 {
		t.Fatal("expected no invalidation when the append failed")
	}
}

func TestRecordLoginInvalidatesBaseline(t *testing.T) {
	store := &stubActivityStore{}
	inv := &stubInvalidator{}
	svc := newTestActivityService(store, inv)

	if err := svc.RecordLogin(context.Background(), "u2", domain.Login{DeviceID: "d1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.logins) != 1 {
		t.Fatalf("expected one stored login, got %d", len(store.logins))
	}
	if store.logins[0].Timestamp != evalTime.UTC() {
		t.Fatalf("expected login timestamp defaulted to now, got %v", store.logins[0].Timestamp)
	}
	if inv.calls != 1 || inv.subjects[0] != "u2" {
		t.Fatalf("expected baseline invalidated for u2, got %+v", inv)
	}
}

func TestRecordTradeInvalidatesTraderBaseline(t *testing.T) {
	store := &stubActivityStore{}
	inv := &stubInvalidator{}
	svc := newTestActivityService(store, inv)

	trade := domain.Trade{ID: "tr-t1", TraderID: "tr1", Size: 250}
	if err := svc.RecordTrade(context.Background(), trade); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.trades) != 1 {
		t.Fatalf("expected one stored trade, got %d", len(store.trades))
	}
	if store.trades[0].OpenedAt != evalTime.UTC() {
		t.Fatalf("expected opened-at defaulted to now, got %v", store.trades[0].OpenedAt)
	}
	if inv.calls != 1 || inv.subjects[0] != "tr1" {
		t.Fatalf("expected baseline invalidated for tr1, got %+v", inv)
	}

	if err := svc.RecordTrade(context.Background(), domain.Trade{ID: "x", TraderID: "tr1", Size: 0}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for zero size, got %v", err)
	}
}

func TestActivityServiceTolerantOfMissingCache(t *testing.T) {
	store := &stubActivityStore{}
	svc := NewActivityService(trace.NewNoopTracerProvider().Tracer("test"), store, nil, func() time.Time { return evalTime })

	if err := svc.RecordTransaction(context.Background(), "u1", domain.Transaction{ID: "t1", Amount: 5, Timestamp: evalTime}); err != nil {
		t.Fatalf("expected append to work without a cache, got %v", err)
	}
}
