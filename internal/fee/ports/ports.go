// Package ports defines the fee engine's collaborators.
package ports

import (
	"context"

	"spendwise/internal/fee/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Store persists fee configuration, registered policies and per-user volume.
type Store interface {
	// LoadConfig returns sentinel.ErrNotFound before the first SaveConfig.
	LoadConfig(ctx context.Context) (*models.Config, error)
	SaveConfig(ctx context.Context, cfg models.Config) error

	ListPolicies(ctx context.Context) ([]models.PolicySpec, error)
	// SavePolicy returns sentinel.ErrConflict when the id is taken.
	SavePolicy(ctx context.Context, spec models.PolicySpec) error

	AddVolume(ctx context.Context, userID id.UserID, amount int64) error
	Volume(ctx context.Context, userID id.UserID) (int64, error)

	AddCollected(ctx context.Context, kind models.Kind, split models.Split) error
	Collected(ctx context.Context) (models.Collected, error)
}

// PositionChecker reports whether a user holds yield-bearing positions.
type PositionChecker interface {
	HasPositions(ctx context.Context, userID id.UserID) (bool, error)
}
