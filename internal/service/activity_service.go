package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"riskwatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type ActivityStore interface {
	GetUserActivity(ctx context.Context, userID string) (*domain.UserActivity, error)
	AppendTransaction(ctx context.Context, userID string, tx domain.Transaction) error
	AppendLogin(ctx context.Context, userID string, login domain.Login) error
	AppendTrade(ctx context.Context, trade domain.Trade) error
}

type BaselineInvalidator interface {
	Invalidate(ctx context.Context, subjectID string) error
}

// ActivityService appends to the behavioral history. Every append invalidates
// the subject's cached baseline so the next evaluation recomputes it.
type ActivityService struct {
	tracer trace.Tracer
	store  ActivityStore
	cache  BaselineInvalidator
	now    func() time.Time
}

func NewActivityService(tracer trace.Tracer, store ActivityStore, cache BaselineInvalidator, now func() time.Time) *ActivityService {
	if now == nil {
		now = time.Now
	}
	return &ActivityService{
		tracer: tracer,
		store:  store,
		cache:  cache,
		now:    now,
	}
}

func (s *ActivityService) GetUserActivity(ctx context.Context, userID string) (*domain.UserActivity, error) {
	ctx, span := s.tracer.Start(ctx, "activity-service.get-user-activity")
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("activity service is not fully initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEvent)
	}
	return s.store.GetUserActivity(ctx, userID)
}

func (s *ActivityService) RecordTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	ctx, span := s.tracer.Start(ctx, "activity-service.record-transaction")
	defer span.End()

	if s.store == nil {
		return fmt.Errorf("activity service is not fully initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(tx.ID) == "" {
		return fmt.Errorf("%w: user id and transaction id are required", domain.ErrInvalidEvent)
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: transaction amount must be positive", domain.ErrInvalidEvent)
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionCompleted
	}
	if err := s.store.AppendTransaction(ctx, userID, tx); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *ActivityService) RecordLogin(ctx context.Context, userID string, login domain.Login) error {
	ctx, span := s.tracer.Start(ctx, "activity-service.record-login")
	defer span.End()

	if s.store == nil {
		return fmt.Errorf("activity service is not fully initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidEvent)
	}
	if login.Timestamp.IsZero() {
		login.Timestamp = s.now().UTC()
	}
	if err := s.store.AppendLogin(ctx, userID, login); err != nil {
		return fmt.Errorf("append login: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *ActivityService) RecordTrade(ctx context.Context, trade domain.Trade) error {
	ctx, span := s.tracer.Start(ctx, "activity-service.record-trade")
	defer span.End()

	if s.store == nil {
		return fmt.Errorf("activity service is not fully initialized")
	}
	if strings.TrimSpace(trade.ID) == "" || strings.TrimSpace(trade.TraderID) == "" {
		return fmt.Errorf("%w: trade id and trader id are required", domain.ErrInvalidEvent)
	}
	if trade.Size <= 0 {
		return fmt.Errorf("%w: trade size must be positive", domain.ErrInvalidEvent)
	}
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = s.now().UTC()
	}
	if err := s.store.AppendTrade(ctx, trade); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	s.invalidate(ctx, trade.TraderID)
	return nil
}

func (s *ActivityService) invalidate(ctx context.Context, subjectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, subjectID); err != nil {
		log.Printf("baseline cache invalidation error for %s: %v", subjectID, err)
	}
}
