// Package store defines profile persistence.
package store

import (
	"context"

	"spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
)

// Store persists profiles. Profiles are never deleted.
type Store interface {
	// Get returns sentinel.ErrNotFound for users never seen.
	Get(ctx context.Context, userID id.UserID) (*models.Profile, error)
	Save(ctx context.Context, p models.Profile) error
}
