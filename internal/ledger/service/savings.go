package service

import (
	"context"
	"errors"
	"strings"
	"time"

	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/sentinel"
)

func (o *op) loadGoal(goalID id.GoalID) (*models.Goal, error) {
	g, err := o.s.store.Goal(o.ctx, o.user, goalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, id.KindGoalNotFound.Errf("goal %s not found", goalID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load goal")
	}
	return g, nil
}

// markCompleted flips a funded goal to completed and reports whether it
// did. Completion is permanent.
func (o *op) markCompleted(g *models.Goal) bool {
	if g.Completed || g.CurrentAmount < g.TargetAmount {
		return false
	}
	at := o.now
	g.Completed = true
	g.CompletedAt = &at
	return true
}

func (o *op) goalCompleted(g *models.Goal) {
	o.event(audit.OpGoalCompleted, profilemodels.AccountSavings, g.ID.String(), g.CurrentAmount, "")
}

// CreateGoal opens a savings goal. A backing adapter, when named, must be
// registered and accepting deposits.
func (s *Service) CreateGoal(ctx context.Context, user id.UserID, name string, target int64, targetDate *time.Time, adapterID *id.AdapterID) (*models.Goal, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGoalName {
		return nil, id.KindInvalidOperation.Errf("goal name must be 1 to %d characters", maxGoalName)
	}
	if target <= 0 {
		return nil, id.KindInvalidTarget.Errf("target must be positive, got %d", target)
	}

	var created models.Goal
	err = s.mutate(ctx, "create_goal", user, actor, func(o *op) error {
		if targetDate != nil && !targetDate.After(o.now) {
			return id.KindInvalidTarget.Err("target date must be in the future")
		}
		if adapterID != nil {
			if _, err := s.adapters.ResolveForDeposit(*adapterID); err != nil {
				return err
			}
		}
		o.enable(profilemodels.AccountSavings)
		created = models.Goal{
			ID:           id.NewGoalID(),
			Name:         name,
			TargetAmount: target,
			TargetDate:   targetDate,
			AdapterID:    adapterID,
			CreatedAt:    o.now,
		}
		o.putGoal(0, created)
		o.event(audit.OpGoalCreated, profilemodels.AccountSavings, created.ID.String(), target, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ContributeToGoal adds the amount net of the savings fee. Adapter-backed
// goals forward the net amount to the adapter first.
func (s *Service) ContributeToGoal(ctx context.Context, user id.UserID, goalID id.GoalID, amount int64) (*models.Goal, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}

	var updated models.Goal
	err = s.mutate(ctx, "contribute_goal", user, actor, func(o *op) error {
		g, err := o.loadGoal(goalID)
		if err != nil {
			return err
		}
		quote, err := o.charge(amount, feemodels.KindSavings)
		if err != nil {
			return err
		}
		completed, err := o.fundGoal(g, quote.Net)
		if err != nil {
			return err
		}
		o.event(audit.OpGoalContribution, profilemodels.AccountSavings, g.ID.String(), amount, s.asset)
		if completed {
			o.goalCompleted(g)
		}
		updated = *g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// fundGoal stages amount into g, through its adapter when it has one, and
// reports whether the goal became completed.
func (o *op) fundGoal(g *models.Goal, amount int64) (bool, error) {
	if amount <= 0 {
		return false, id.KindInvalidAmount.Errf("amount %d leaves nothing to save after fees", amount)
	}
	if g.AdapterID != nil {
		adapter, err := o.s.adapters.ResolveForDeposit(*g.AdapterID)
		if err != nil {
			return false, err
		}
		shares, err := adapter.Deposit(o.ctx, o.s.asset, amount)
		if err != nil {
			return false, err
		}
		o.onAbort(refundShares(adapter, shares))
		g.Shares += shares
	}
	o.enable(profilemodels.AccountSavings)
	before := g.CurrentAmount
	g.CurrentAmount += amount
	completed := o.markCompleted(g)
	o.putGoal(before, *g)
	return completed, nil
}

// drainGoal stages removing amount from g and returns what was realized.
// For adapter-backed goals the realized amount is the redemption value of
// the pro rata shares; anything above the booked amount is interest.
func (o *op) drainGoal(g *models.Goal, amount int64) (int64, error) {
	if amount > g.CurrentAmount {
		return 0, id.KindInsufficientBalance.Errf("goal holds %d, %d requested", g.CurrentAmount, amount)
	}
	realized := amount
	if g.AdapterID != nil && g.Shares > 0 {
		shares := g.Shares
		if amount < g.CurrentAmount {
			shares = max(mulDiv(g.Shares, amount, g.CurrentAmount), 1)
		}
		adapter, err := o.s.adapters.Resolve(*g.AdapterID)
		if err != nil {
			return 0, err
		}
		redeemed, err := adapter.Withdraw(o.ctx, shares)
		if err != nil {
			return 0, err
		}
		o.onAbort(redeposit(adapter, o.s.asset, redeemed))
		g.Shares -= shares
		g.InterestEarned += max(redeemed-amount, 0)
		realized = redeemed
	}
	before := g.CurrentAmount
	g.CurrentAmount -= amount
	o.putGoal(before, *g)
	return realized, nil
}

// WithdrawFromGoal moves funds from a goal to the liquid pool. A completed
// goal stays completed.
func (s *Service) WithdrawFromGoal(ctx context.Context, user id.UserID, goalID id.GoalID, amount int64) (int64, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return 0, err
	}
	if err := positive(amount); err != nil {
		return 0, err
	}

	var credited int64
	err = s.mutate(ctx, "withdraw_goal", user, actor, func(o *op) error {
		g, err := o.loadGoal(goalID)
		if err != nil {
			return err
		}
		available, err := o.loadAvailable()
		if err != nil {
			return err
		}
		realized, err := o.drainGoal(g, amount)
		if err != nil {
			return err
		}
		o.enable(profilemodels.AccountSpending)
		o.setAvailable(available + realized)
		o.event(audit.OpGoalWithdraw, profilemodels.AccountSavings, g.ID.String(), amount, s.asset)
		credited = realized
		return nil
	})
	if err != nil {
		return 0, err
	}
	return credited, nil
}
