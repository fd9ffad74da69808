package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	adaptermodels "spendwise/internal/adapter/models"
	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/sentinel"
)

var secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)

// accrue grows value by simple interest at apy over elapsed, truncated.
func accrue(value int64, apy decimal.Decimal, elapsed time.Duration) int64 {
	if elapsed <= 0 || value <= 0 || !apy.IsPositive() {
		return value
	}
	growth := apy.Mul(decimal.NewFromFloat(elapsed.Seconds())).Div(secondsPerYear)
	return decimal.NewFromInt(value).Mul(decimal.NewFromInt(1).Add(growth)).Truncate(0).IntPart()
}

func (o *op) loadPosition(positionID id.PositionID) (*models.Position, error) {
	p, err := o.s.store.Position(o.ctx, o.user, positionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, id.KindPositionNotFound.Errf("position %s not found", positionID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load position")
	}
	return p, nil
}

// refundShares undoes a deposit the ledger could not book.
func refundShares(a adaptermodels.ProtocolAdapter, shares int64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.Withdraw(ctx, shares)
		return err
	}
}

// redeposit undoes a withdrawal the ledger could not book.
func redeposit(a adaptermodels.ProtocolAdapter, asset string, amount int64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if amount <= 0 {
			return nil
		}
		_, err := a.Deposit(ctx, asset, amount)
		return err
	}
}

// DepositToPosition forwards the amount net of the investment fee to the
// adapter and books the minted shares. Deposits into the same adapter
// accumulate in one position.
func (s *Service) DepositToPosition(ctx context.Context, user id.UserID, adapterID id.AdapterID, amount int64) (*models.Position, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}

	var booked models.Position
	err = s.mutate(ctx, "deposit_position", user, actor, func(o *op) error {
		adapter, err := s.adapters.ResolveForDeposit(adapterID)
		if err != nil {
			return err
		}
		quote, err := o.charge(amount, feemodels.KindInvestment)
		if err != nil {
			return err
		}
		if quote.Net <= 0 {
			return id.KindInvalidAmount.Errf("amount %d leaves nothing to invest after fees", amount)
		}

		pos, err := s.store.PositionByAdapter(o.ctx, user, adapterID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			pos = &models.Position{
				ID:           id.NewPositionID(),
				AdapterID:    adapterID,
				LastValuedAt: o.now,
				OpenedAt:     o.now,
			}
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load position")
		}

		shares, err := adapter.Deposit(o.ctx, s.asset, quote.Net)
		if err != nil {
			return err
		}
		o.onAbort(refundShares(adapter, shares))

		o.enable(profilemodels.AccountInvestment)
		before := pos.Principal
		pos.Principal += quote.Net
		pos.Shares += shares
		pos.LastValuation += quote.Net
		o.putPosition(before, *pos)
		o.event(audit.OpPositionDeposit, profilemodels.AccountInvestment, pos.ID.String(), amount, s.asset)
		booked = *pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &booked, nil
}

// WithdrawFromPosition redeems shares and credits the liquid pool with the
// realized amount net of the investment fee. It works against deactivated
// adapters so users can always exit.
func (s *Service) WithdrawFromPosition(ctx context.Context, user id.UserID, positionID id.PositionID, shares int64) (int64, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return 0, err
	}
	if shares <= 0 {
		return 0, id.KindInvalidAmount.Errf("shares must be positive, got %d", shares)
	}

	var credited int64
	err = s.mutate(ctx, "withdraw_position", user, actor, func(o *op) error {
		pos, err := o.loadPosition(positionID)
		if err != nil {
			return err
		}
		if shares > pos.Shares {
			return id.KindInsufficientShares.Errf("position holds %d shares, %d requested", pos.Shares, shares)
		}
		available, err := o.loadAvailable()
		if err != nil {
			return err
		}
		adapter, err := s.adapters.Resolve(pos.AdapterID)
		if err != nil {
			return err
		}

		realized, err := adapter.Withdraw(o.ctx, shares)
		if err != nil {
			return err
		}
		o.onAbort(redeposit(adapter, s.asset, realized))

		portion := pos.Principal
		if shares < pos.Shares {
			portion = mulDiv(pos.Principal, shares, pos.Shares)
		}
		net := int64(0)
		if realized > 0 {
			quote, err := o.charge(realized, feemodels.KindInvestment)
			if err != nil {
				return err
			}
			net = quote.Net
		}

		o.enable(profilemodels.AccountSpending)
		o.setAvailable(available + net)

		remaining := pos.Shares - shares
		gain := max(realized-portion, 0)
		o.event(audit.OpPositionWithdraw, profilemodels.AccountInvestment, pos.ID.String(), realized, s.asset)
		if remaining == 0 {
			o.deletePosition(*pos)
			// a closed position carries the yield realized on exit
			o.event(audit.OpPositionClosed, profilemodels.AccountInvestment, pos.ID.String(), gain, s.asset)
		} else {
			before := pos.Principal
			pos.LastValuation = mulDiv(pos.LastValuation, remaining, pos.Shares)
			pos.Principal -= portion
			pos.Shares = remaining
			pos.YieldEarned += gain
			o.putPosition(before, *pos)
		}
		credited = net
		return nil
	})
	if err != nil {
		return 0, err
	}
	return credited, nil
}

// RefreshValuation re-estimates a position's value from the adapter's APY
// and the time since the last valuation. Balances are not affected.
func (s *Service) RefreshValuation(ctx context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return nil, err
	}
	var refreshed models.Position
	err = s.mutate(ctx, "refresh_valuation", user, actor, func(o *op) error {
		pos, err := o.loadPosition(positionID)
		if err != nil {
			return err
		}
		if err := o.refresh(pos); err != nil {
			return err
		}
		o.passive = true
		o.putPosition(pos.Principal, *pos)
		refreshed = *pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &refreshed, nil
}

// RefreshValuations refreshes every position a user holds. Each position is
// refreshed under its own lock hold, so the user lock never spans more than
// one adapter call. Positions whose adapter is unreachable keep their last
// valuation.
func (s *Service) RefreshValuations(ctx context.Context, user id.UserID) (int, error) {
	if _, err := authorizeOwner(ctx, user); err != nil {
		return 0, err
	}
	positions, err := s.store.ListPositions(ctx, user)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list positions")
	}
	refreshed := 0
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return refreshed, id.KindCancelled.Wrap(err, "valuation refresh cancelled")
		}
		_, err := s.RefreshValuation(ctx, user, pos.ID)
		switch id.KindOf(err) {
		case "":
			refreshed++
		case id.KindCancelled:
			return refreshed, err
		case id.KindPositionNotFound:
			// closed since listing
		default:
			s.logger.WarnContext(ctx, "valuation refresh skipped",
				"position_id", pos.ID.String(), "adapter_id", pos.AdapterID.String(), "error", err)
		}
	}
	return refreshed, nil
}

func (o *op) refresh(pos *models.Position) error {
	adapter, err := o.s.adapters.Resolve(pos.AdapterID)
	if err != nil {
		return err
	}
	apy, err := adapter.APY(o.ctx)
	if err != nil {
		return err
	}
	pos.LastValuation = accrue(pos.LastValuation, apy, o.now.Sub(pos.LastValuedAt))
	pos.LastValuedAt = o.now
	return nil
}

// HarvestPosition redeems the shares that represent unrealized gain and
// credits the liquid pool with the proceeds net of the investment fee.
// Principal is unchanged; at least one share always stays in the position.
func (s *Service) HarvestPosition(ctx context.Context, user id.UserID, positionID id.PositionID) (int64, error) {
	actor, err := authorizeOwner(ctx, user)
	if err != nil {
		return 0, err
	}

	var credited int64
	err = s.mutate(ctx, "harvest_position", user, actor, func(o *op) error {
		pos, err := o.loadPosition(positionID)
		if err != nil {
			return err
		}
		if err := o.refresh(pos); err != nil {
			return err
		}
		gain := pos.LastValuation - pos.Principal
		redeem := int64(0)
		if gain > 0 && pos.LastValuation > 0 {
			redeem = min(mulDiv(pos.Shares, gain, pos.LastValuation), pos.Shares-1)
		}
		if redeem <= 0 {
			o.passive = true
			o.putPosition(pos.Principal, *pos)
			return nil
		}

		available, err := o.loadAvailable()
		if err != nil {
			return err
		}
		adapter, err := s.adapters.Resolve(pos.AdapterID)
		if err != nil {
			return err
		}
		realized, err := adapter.Withdraw(o.ctx, redeem)
		if err != nil {
			return err
		}
		o.onAbort(redeposit(adapter, s.asset, realized))
		if realized <= 0 {
			return id.KindAdapterUnavailable.Errf("adapter returned nothing for %d shares", redeem)
		}
		quote, err := o.charge(realized, feemodels.KindInvestment)
		if err != nil {
			return err
		}

		o.enable(profilemodels.AccountSpending)
		o.setAvailable(available + quote.Net)
		pos.Shares -= redeem
		pos.YieldEarned += realized
		pos.LastValuation = max(pos.LastValuation-realized, 0)
		o.putPosition(pos.Principal, *pos)
		o.event(audit.OpPositionHarvest, profilemodels.AccountInvestment, pos.ID.String(), realized, s.asset)
		credited = quote.Net
		return nil
	})
	if err != nil {
		return 0, err
	}
	return credited, nil
}
