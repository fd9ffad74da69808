package service

import (
	"context"

	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
)

// InitializeUser creates the user's profile. Calling it again is a no-op.
func (s *Service) InitializeUser(ctx context.Context, user id.UserID) error {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return err
	}
	return s.mutate(ctx, "initialize_user", user, actor, func(o *op) error {
		o.initialize()
		return nil
	})
}

func (s *Service) EnableInvestmentAccount(ctx context.Context, user id.UserID) error {
	return s.enableAccount(ctx, "enable_investment", user, profilemodels.AccountInvestment)
}

func (s *Service) EnableSavingsAccount(ctx context.Context, user id.UserID) error {
	return s.enableAccount(ctx, "enable_savings", user, profilemodels.AccountSavings)
}

// EnableAccount flips any account type on; SPENDING has no event of its own.
func (s *Service) EnableAccount(ctx context.Context, user id.UserID, t profilemodels.AccountType) error {
	return s.enableAccount(ctx, "enable_"+string(t), user, t)
}

func (s *Service) enableAccount(ctx context.Context, name string, user id.UserID, t profilemodels.AccountType) error {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return err
	}
	return s.mutate(ctx, name, user, actor, func(o *op) error {
		o.enable(t)
		return nil
	})
}

// WithdrawLiquid pays out part of the liquid pool. No fee applies; the
// pool was already charged on the way in.
func (s *Service) WithdrawLiquid(ctx context.Context, user id.UserID, amount int64, token string) error {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	return s.mutate(ctx, "withdraw_liquid", user, actor, func(o *op) error {
		available, err := o.loadAvailable()
		if err != nil {
			return err
		}
		if amount > available {
			return id.KindInsufficientBalance.Errf("liquid balance %d is below %d", available, amount)
		}
		o.initialize()
		o.setAvailable(available - amount)
		o.event(audit.OpLiquidWithdraw, profilemodels.AccountSpending, "liquid", amount, s.token(token))
		return nil
	})
}
