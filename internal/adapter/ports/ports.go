// Package ports defines the adapter registry's collaborators.
package ports

import (
	"context"
	"time"

	"spendwise/internal/adapter/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Store persists adapter descriptors. Live adapter handles stay in memory.
type Store interface {
	// Save inserts or replaces the descriptor.
	Save(ctx context.Context, d models.Descriptor) error
	// Get returns sentinel.ErrNotFound for unknown ids.
	Get(ctx context.Context, adapterID id.AdapterID) (*models.Descriptor, error)
	List(ctx context.Context) ([]models.Descriptor, error)
	// SetActive flips the active flag; deactivatedAt is nil when reactivating.
	SetActive(ctx context.Context, adapterID id.AdapterID, active bool, deactivatedAt *time.Time) error
}
