package service

import (
	"context"
	"errors"
	"strings"

	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/requestcontext"
)

func (o *op) loadBucket(name string) (*models.Bucket, error) {
	b, err := o.s.store.Bucket(o.ctx, o.user, name)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, id.KindBucketNotFound.Errf("bucket %q not found", name)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load bucket")
	}
	return b, nil
}

func (o *op) loadActiveBucket(name string) (*models.Bucket, error) {
	b, err := o.loadBucket(name)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, id.KindBucketInactive.Errf("bucket %q is inactive", name)
	}
	return b, nil
}

func normalizeBucketName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", id.KindInvalidOperation.Err("bucket name is required")
	}
	if len(name) > maxBucketName {
		return "", id.KindInvalidOperation.Errf("bucket name exceeds %d characters", maxBucketName)
	}
	return name, nil
}

// CreateBucket opens a named spending bucket with a monthly cap. Names stay
// reserved after deactivation.
func (s *Service) CreateBucket(ctx context.Context, user id.UserID, name string, monthlyLimit int64) (*models.Bucket, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return nil, err
	}
	name, err = normalizeBucketName(name)
	if err != nil {
		return nil, err
	}
	if monthlyLimit <= 0 {
		return nil, id.KindInvalidLimit.Errf("monthly limit must be positive, got %d", monthlyLimit)
	}

	var created models.Bucket
	err = s.mutate(ctx, "create_bucket", user, actor, func(o *op) error {
		_, err := o.s.store.Bucket(o.ctx, user, name)
		switch {
		case err == nil:
			return id.KindDuplicateBucket.Errf("bucket %q already exists", name)
		case !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check bucket")
		}
		o.enable(profilemodels.AccountSpending)
		created = models.Bucket{
			Name:         name,
			MonthlyLimit: monthlyLimit,
			LastReset:    o.now,
			Active:       true,
			CreatedAt:    o.now,
		}
		o.putBucket(0, created)
		o.event(audit.OpBucketCreated, profilemodels.AccountSpending, name, monthlyLimit, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// DepositToBucket credits a bucket with the amount net of the spending fee.
func (s *Service) DepositToBucket(ctx context.Context, user id.UserID, name string, amount int64, token string) (feemodels.Quote, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return feemodels.Quote{}, err
	}
	if err := positive(amount); err != nil {
		return feemodels.Quote{}, err
	}

	var quote feemodels.Quote
	err = s.mutate(ctx, "deposit_bucket", user, actor, func(o *op) error {
		b, err := o.loadActiveBucket(name)
		if err != nil {
			return err
		}
		quote, err = o.charge(amount, feemodels.KindSpending)
		if err != nil {
			return err
		}
		o.initialize()
		before := b.Balance
		b.Balance += quote.Net
		o.putBucket(before, *b)
		o.event(audit.OpBucketDeposit, profilemodels.AccountSpending, b.Name, amount, s.token(token))
		return nil
	})
	if err != nil {
		return feemodels.Quote{}, err
	}
	return quote, nil
}

// SpendFromBucket pays out of a bucket against its monthly limit. A caller
// other than the owner must hold a delegate allowance covering the spend.
//
// An elapsed window is reset before the limit check. The reset belongs to
// the access, so it is committed even when the spend is then refused.
func (s *Service) SpendFromBucket(ctx context.Context, user id.UserID, name string, amount int64) error {
	if err := positive(amount); err != nil {
		return err
	}
	actor, delegate, err := s.authorizeSpend(ctx, user, name, amount)
	if err != nil {
		return err
	}

	reset := false
	var refused error
	err = s.mutate(ctx, "spend_bucket", user, actor, func(o *op) error {
		b, err := o.loadActiveBucket(name)
		if err != nil {
			return err
		}
		before := b.Balance
		if b.ResetDue(o.now) {
			*b = b.Effective(o.now)
			reset = true
			o.initialize()
			o.event(audit.OpMonthlyLimitReset, profilemodels.AccountSpending, b.Name, 0, "")
		}
		switch {
		case b.MonthlySpent+amount > b.MonthlyLimit:
			refused = id.KindLimitExceeded.Errf("spend of %d exceeds remaining monthly limit %d", amount, b.Remaining())
		case amount > b.Balance:
			refused = id.KindInsufficientBalance.Errf("bucket balance %d is below %d", b.Balance, amount)
		}
		if refused != nil {
			if reset {
				o.putBucket(before, *b)
				return nil
			}
			return refused
		}

		o.initialize()
		b.Balance -= amount
		b.MonthlySpent += amount
		o.putBucket(before, *b)
		o.event(audit.OpBucketSpend, profilemodels.AccountSpending, b.Name, amount, s.asset)

		if !delegate.IsNil() {
			o.delegate = delegate
			o.delegateFrom = b.Name
			o.delegateSpend = amount
		}
		return nil
	})
	if err != nil {
		return err
	}
	if reset && s.metrics != nil {
		s.metrics.WindowResets.Inc()
	}
	return refused
}

// authorizeSpend returns the acting delegate when the caller is neither
// the owner nor an operator.
func (s *Service) authorizeSpend(ctx context.Context, user id.UserID, bucket string, amount int64) (string, id.UserID, error) {
	actor, err := authorizeOwner(ctx, user)
	if err == nil {
		return actor, id.UserID{}, nil
	}
	caller := requestcontext.UserID(ctx)
	if caller.IsNil() || s.delegates == nil {
		return "", id.UserID{}, err
	}
	ok, cerr := s.delegates.CanSpend(ctx, caller, user, bucket, amount)
	if cerr != nil {
		return "", id.UserID{}, cerr
	}
	if !ok {
		return "", id.UserID{}, id.KindUnauthorized.Err("caller holds no allowance for this spend")
	}
	return caller.String(), caller, nil
}

// DeactivateBucket soft-disables a bucket. Its balance stays part of the
// spending total and can still be moved out with Transfer.
func (s *Service) DeactivateBucket(ctx context.Context, user id.UserID, name string) error {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "deactivate_bucket", user, actor, func(o *op) error {
		b, err := o.loadBucket(name)
		if err != nil {
			return err
		}
		if !b.Active {
			return nil
		}
		b.Active = false
		o.putBucket(b.Balance, *b)
		o.event(audit.OpBucketDeactivated, profilemodels.AccountSpending, b.Name, 0, "")
		return nil
	})
}
