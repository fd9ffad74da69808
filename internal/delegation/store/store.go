// Package store defines allowance persistence.
package store

import (
	"context"

	"spendwise/internal/delegation/models"
	id "spendwise/pkg/domain"
)

type Store interface {
	Put(ctx context.Context, a models.Allowance) error
	// Get returns sentinel.ErrNotFound when no allowance exists.
	Get(ctx context.Context, delegate, user id.UserID) (*models.Allowance, error)
	Delete(ctx context.Context, delegate, user id.UserID) error
	ListByUser(ctx context.Context, user id.UserID) ([]models.Allowance, error)
	// Consume atomically lowers Remaining by amount. It returns
	// sentinel.ErrInvalidState when Remaining is short and
	// sentinel.ErrNotFound when no allowance exists.
	Consume(ctx context.Context, delegate, user id.UserID, amount int64) (int64, error)
	// Restore gives back a consumed amount. It is a no-op when the allowance
	// was revoked or expired in the meantime.
	Restore(ctx context.Context, delegate, user id.UserID, amount int64) error
}
