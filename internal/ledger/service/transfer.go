package service

import (
	"context"

	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
)

// Transfer moves value between the user's own liquid pool, buckets and
// goals. It is fee-free and does not count against monthly limits. An
// inactive bucket can be drained but not credited.
func (s *Service) Transfer(ctx context.Context, user id.UserID, from, to models.Endpoint, amount int64) error {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if from == to {
		return id.KindInvalidOperation.Err("transfer source and destination are the same")
	}

	return s.mutate(ctx, "transfer", user, actor, func(o *op) error {
		moved, err := o.debit(from, amount)
		if err != nil {
			return err
		}
		account, completed, err := o.credit(to, moved)
		if err != nil {
			return err
		}
		o.event(audit.OpTransfer, account, from.String()+"->"+to.String(), amount, s.asset)
		if completed != nil {
			o.goalCompleted(completed)
		}
		return nil
	})
}

// debit stages taking amount out of e and returns the value released.
func (o *op) debit(e models.Endpoint, amount int64) (int64, error) {
	switch e.Kind {
	case models.EndpointLiquid:
		available, err := o.loadAvailable()
		if err != nil {
			return 0, err
		}
		if amount > available {
			return 0, id.KindInsufficientBalance.Errf("liquid balance %d is below %d", available, amount)
		}
		o.setAvailable(available - amount)
		return amount, nil
	case models.EndpointBucket:
		b, err := o.loadBucket(e.Bucket)
		if err != nil {
			return 0, err
		}
		if amount > b.Balance {
			return 0, id.KindInsufficientBalance.Errf("bucket balance %d is below %d", b.Balance, amount)
		}
		before := b.Balance
		b.Balance -= amount
		o.putBucket(before, *b)
		return amount, nil
	case models.EndpointGoal:
		g, err := o.loadGoal(e.Goal)
		if err != nil {
			return 0, err
		}
		return o.drainGoal(g, amount)
	}
	return 0, id.KindInvalidOperation.Errf("unknown transfer endpoint %q", e.Kind)
}

// credit stages adding amount to e. It returns the goal completed by the
// credit, if any.
func (o *op) credit(e models.Endpoint, amount int64) (profilemodels.AccountType, *models.Goal, error) {
	switch e.Kind {
	case models.EndpointLiquid:
		available, err := o.loadAvailable()
		if err != nil {
			return "", nil, err
		}
		o.enable(profilemodels.AccountSpending)
		o.setAvailable(available + amount)
		return profilemodels.AccountSpending, nil, nil
	case models.EndpointBucket:
		b, err := o.loadActiveBucket(e.Bucket)
		if err != nil {
			return "", nil, err
		}
		o.enable(profilemodels.AccountSpending)
		before := b.Balance
		b.Balance += amount
		o.putBucket(before, *b)
		return profilemodels.AccountSpending, nil, nil
	case models.EndpointGoal:
		g, err := o.loadGoal(e.Goal)
		if err != nil {
			return "", nil, err
		}
		completed, err := o.fundGoal(g, amount)
		if err != nil {
			return "", nil, err
		}
		if completed {
			return profilemodels.AccountSavings, g, nil
		}
		return profilemodels.AccountSavings, nil, nil
	}
	return "", nil, id.KindInvalidOperation.Errf("unknown transfer endpoint %q", e.Kind)
}
