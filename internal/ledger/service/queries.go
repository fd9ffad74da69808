package service

import (
	"context"
	"errors"

	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/requestcontext"
)

// Queries read without the user lock. Buckets are reported as they read
// now, with elapsed windows reset; the reset itself is not persisted.

// Profile returns the user's profile, or a fresh uninitialized one for a
// user never seen.
func (s *Service) Profile(ctx context.Context, user id.UserID) (*profilemodels.Profile, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	return s.profile(ctx, user)
}

func (s *Service) profile(ctx context.Context, user id.UserID) (*profilemodels.Profile, error) {
	p, err := s.profiles.Get(ctx, user)
	if errors.Is(err, sentinel.ErrNotFound) {
		return profilemodels.New(user, requestcontext.Now(ctx)), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return p, nil
}

func (s *Service) Bucket(ctx context.Context, user id.UserID, name string) (*models.Bucket, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	b, err := s.store.Bucket(ctx, user, name)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, id.KindBucketNotFound.Errf("bucket %q not found", name)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load bucket")
	}
	effective := b.Effective(requestcontext.Now(ctx))
	return &effective, nil
}

func (s *Service) ListBuckets(ctx context.Context, user id.UserID) ([]models.Bucket, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	return s.listBuckets(ctx, user)
}

func (s *Service) listBuckets(ctx context.Context, user id.UserID) ([]models.Bucket, error) {
	buckets, err := s.store.ListBuckets(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list buckets")
	}
	now := requestcontext.Now(ctx)
	for i := range buckets {
		buckets[i] = buckets[i].Effective(now)
	}
	return buckets, nil
}

func (s *Service) Position(ctx context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	p, err := s.store.Position(ctx, user, positionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, id.KindPositionNotFound.Errf("position %s not found", positionID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load position")
	}
	return p, nil
}

func (s *Service) ListPositions(ctx context.Context, user id.UserID) ([]models.Position, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list positions")
	}
	return positions, nil
}

func (s *Service) Goal(ctx context.Context, user id.UserID, goalID id.GoalID) (*models.Goal, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	g, err := s.store.Goal(ctx, user, goalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, id.KindGoalNotFound.Errf("goal %s not found", goalID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load goal")
	}
	return g, nil
}

func (s *Service) ListGoals(ctx context.Context, user id.UserID) ([]models.Goal, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	goals, err := s.store.ListGoals(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list goals")
	}
	return goals, nil
}

// Snapshot returns the user's full state. It is taken under the user lock
// so the parts agree with each other.
func (s *Service) Snapshot(ctx context.Context, user id.UserID) (*models.Snapshot, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, "user:"+user.String())
	if err != nil {
		return nil, id.KindCancelled.Wrap(err, "could not acquire user lock")
	}
	defer unlock()

	profile, err := s.profile(ctx, user)
	if err != nil {
		return nil, err
	}
	available, err := s.store.Available(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load liquid balance")
	}
	buckets, err := s.listBuckets(ctx, user)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list positions")
	}
	goals, err := s.store.ListGoals(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list goals")
	}
	return &models.Snapshot{
		Profile:   *profile,
		Available: available,
		Buckets:   buckets,
		Positions: positions,
		Goals:     goals,
	}, nil
}

// PositionHolders lists users with open positions. Operator only.
func (s *Service) PositionHolders(ctx context.Context) ([]id.UserID, error) {
	if !requestcontext.IsOperator(ctx) {
		return nil, id.KindUnauthorized.Err("operator access required")
	}
	users, err := s.store.PositionHolders(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list position holders")
	}
	return users, nil
}
