// Package service grants and checks delegate spend allowances. The ledger
// consults CanSpend before a delegate spend, calls Consume while committing
// it and Restore when that commit fails.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"spendwise/internal/delegation/models"
	"spendwise/internal/delegation/store"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store     store.Store
	publisher AuditPublisher
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func New(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("allowance store is required")
	}
	s := &Service{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GrantRequest describes a new allowance. It replaces any existing one for
// the same delegate.
type GrantRequest struct {
	Delegate  id.UserID  `json:"delegate"`
	Bucket    string     `json:"bucket,omitempty"`
	Limit     int64      `json:"limit"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Service) Grant(ctx context.Context, user id.UserID, req GrantRequest) (*models.Allowance, error) {
	if err := requireOwner(ctx, user); err != nil {
		return nil, err
	}
	if req.Delegate.IsNil() || req.Delegate == user {
		return nil, id.KindInvalidOperation.Err("delegate must be another user")
	}
	if req.Limit <= 0 {
		return nil, id.KindInvalidLimit.Errf("allowance must be positive, got %d", req.Limit)
	}
	now := requestcontext.Now(ctx)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, id.KindInvalidOperation.Err("allowance expiry must be in the future")
	}

	a := models.Allowance{
		Delegate:  req.Delegate,
		User:      user,
		Bucket:    strings.TrimSpace(req.Bucket),
		Remaining: req.Limit,
		ExpiresAt: req.ExpiresAt,
		GrantedAt: now,
	}
	if err := s.store.Put(ctx, a); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save allowance")
	}
	s.emit(ctx, audit.Event{
		Operation:   string(audit.OpDelegateAllowanceSet),
		UserID:      user,
		AccountType: "SPENDING",
		Identifier:  a.Bucket,
		Amount:      a.Remaining,
		ActorID:     a.Delegate.String(),
	})
	audit.LogAudit(ctx, s.logger, string(audit.OpDelegateAllowanceSet),
		"user_id", user.String(), "delegate_id", a.Delegate.String(), "limit", a.Remaining)
	return &a, nil
}

func (s *Service) Revoke(ctx context.Context, user, delegate id.UserID) error {
	if err := requireOwner(ctx, user); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, delegate, user); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke allowance")
	}
	s.emit(ctx, audit.Event{
		Operation:   string(audit.OpDelegateAllowanceRevoked),
		UserID:      user,
		AccountType: "SPENDING",
		ActorID:     delegate.String(),
	})
	audit.LogAudit(ctx, s.logger, string(audit.OpDelegateAllowanceRevoked), "user_id", user.String(), "delegate_id", delegate.String())
	return nil
}

func (s *Service) List(ctx context.Context, user id.UserID) ([]models.Allowance, error) {
	if err := requireOwner(ctx, user); err != nil {
		return nil, err
	}
	list, err := s.store.ListByUser(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list allowances")
	}
	now := requestcontext.Now(ctx)
	out := list[:0]
	for _, a := range list {
		if a.ExpiresAt == nil || now.Before(*a.ExpiresAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

// CanSpend reports whether delegate may spend amount from user's bucket.
func (s *Service) CanSpend(ctx context.Context, delegate, user id.UserID, bucket string, amount int64) (bool, error) {
	a, err := s.store.Get(ctx, delegate, user)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load allowance")
	}
	return a.Covers(bucket, requestcontext.Now(ctx)) && a.Remaining >= amount, nil
}

// Consume charges amount against the allowance. A concurrent spend that
// drained it first fails with Unauthorized.
func (s *Service) Consume(ctx context.Context, delegate, user id.UserID, bucket string, amount int64) error {
	remaining, err := s.store.Consume(ctx, delegate, user, amount)
	switch {
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrInvalidState):
		return id.KindUnauthorized.Errf("delegate allowance does not cover %d", amount)
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume allowance")
	}
	s.emit(ctx, audit.Event{
		Operation:   string(audit.OpDelegateAllowanceUsed),
		UserID:      user,
		AccountType: "SPENDING",
		Identifier:  bucket,
		Amount:      amount,
		ActorID:     delegate.String(),
	})
	s.logger.DebugContext(ctx, "delegate allowance consumed", "user_id", user.String(), "delegate_id", delegate.String(), "remaining", remaining)
	return nil
}

// Restore returns an amount taken by Consume whose spend did not commit.
func (s *Service) Restore(ctx context.Context, delegate, user id.UserID, amount int64) error {
	if err := s.store.Restore(ctx, delegate, user, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to restore allowance")
	}
	s.logger.InfoContext(ctx, "delegate allowance restored", "user_id", user.String(), "delegate_id", delegate.String(), "amount", amount)
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.publisher == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit allowance event", "operation", event.Operation, "error", err)
	}
}

func requireOwner(ctx context.Context, user id.UserID) error {
	if requestcontext.IsOperator(ctx) || requestcontext.UserID(ctx) == user {
		return nil
	}
	return id.KindUnauthorized.Err("only the account owner may manage delegates")
}
