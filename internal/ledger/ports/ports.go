// Package ports defines the ledger's collaborators.
package ports

import (
	"context"

	adaptermodels "spendwise/internal/adapter/models"
	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/lock"
	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
)

// Store owns every user's sub-account collections. Reads return
// sentinel.ErrNotFound for missing entities.
type Store interface {
	Available(ctx context.Context, user id.UserID) (int64, error)
	Bucket(ctx context.Context, user id.UserID, name string) (*models.Bucket, error)
	ListBuckets(ctx context.Context, user id.UserID) ([]models.Bucket, error)
	Position(ctx context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error)
	PositionByAdapter(ctx context.Context, user id.UserID, adapterID id.AdapterID) (*models.Position, error)
	ListPositions(ctx context.Context, user id.UserID) ([]models.Position, error)
	Goal(ctx context.Context, user id.UserID, goalID id.GoalID) (*models.Goal, error)
	ListGoals(ctx context.Context, user id.UserID) ([]models.Goal, error)
	HasPositions(ctx context.Context, user id.UserID) (bool, error)
	// PositionHolders lists users holding at least one position.
	PositionHolders(ctx context.Context) ([]id.UserID, error)

	// Apply writes a changeset for one user.
	Apply(ctx context.Context, user id.UserID, cs models.Changeset) error
}

type ProfileStore interface {
	Get(ctx context.Context, user id.UserID) (*profilemodels.Profile, error)
	Save(ctx context.Context, p profilemodels.Profile) error
}

type FeeEngine interface {
	CalculateFee(ctx context.Context, amount int64, kind feemodels.Kind, user id.UserID) (feemodels.Quote, error)
	Record(ctx context.Context, user id.UserID, q feemodels.Quote) error
}

type AdapterRegistry interface {
	Resolve(adapterID id.AdapterID) (adaptermodels.ProtocolAdapter, error)
	ResolveForDeposit(adapterID id.AdapterID) (adaptermodels.ProtocolAdapter, error)
}

// Delegates is the external access-control collaborator for delegate spends.
type Delegates interface {
	CanSpend(ctx context.Context, delegate, user id.UserID, bucket string, amount int64) (bool, error)
	Consume(ctx context.Context, delegate, user id.UserID, bucket string, amount int64) error
	Restore(ctx context.Context, delegate, user id.UserID, amount int64) error
}

type Locker interface {
	Lock(ctx context.Context, key string) (lock.Unlock, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
