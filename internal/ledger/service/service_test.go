package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"spendwise/internal/adapter/mocks"
	adaptermodels "spendwise/internal/adapter/models"
	"spendwise/internal/adapter/registry"
	adaptermemory "spendwise/internal/adapter/store/memory"
	"spendwise/internal/adapter/venues/vault"
	delegationservice "spendwise/internal/delegation/service"
	delegationmemory "spendwise/internal/delegation/store/memory"
	feemodels "spendwise/internal/fee/models"
	feeservice "spendwise/internal/fee/service"
	feememory "spendwise/internal/fee/store/memory"
	"spendwise/internal/ledger/models"
	"spendwise/internal/ledger/lock"
	ledgermemory "spendwise/internal/ledger/store/memory"
	profilemodels "spendwise/internal/profile/models"
	profilememory "spendwise/internal/profile/store/memory"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	auditmemory "spendwise/pkg/platform/audit/store/memory"
	"spendwise/pkg/requestcontext"
)

const year = 365 * 24 * time.Hour

// auditPublisher writes straight to the store and fails every emit once armed.
type auditPublisher struct {
	store audit.Store
	fail  bool
}

func (p *auditPublisher) Emit(ctx context.Context, e audit.Event) error {
	if p.fail {
		return errors.New("event log unavailable")
	}
	return p.store.Append(ctx, e)
}

// failingProfiles fails every save once armed.
type failingProfiles struct {
	*profilememory.Store
	fail bool
}

func (f *failingProfiles) Save(ctx context.Context, p profilemodels.Profile) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, p)
}

type LedgerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	now       time.Time
	user      id.UserID
	store     *ledgermemory.Store
	profiles  *failingProfiles
	events    *auditmemory.InMemoryStore
	publisher *auditPublisher
	fees      *feeservice.Service
	registry  *registry.Registry
	delegates *delegationservice.Service
	service   *Service
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.user = id.UserID(uuid.New())
	s.store = ledgermemory.New()
	s.profiles = &failingProfiles{Store: profilememory.New()}
	s.events = auditmemory.NewInMemoryStore()
	s.publisher = &auditPublisher{store: s.events}

	var err error
	s.fees, err = feeservice.New(context.Background(), feememory.New(),
		feeservice.WithDefaults(feemodels.Config{SpendingFeeBPS: 50, InvestmentFeeBPS: 100, ProtocolShareBPS: 2000}))
	s.Require().NoError(err)
	s.registry, err = registry.New(adaptermemory.New())
	s.Require().NoError(err)
	s.delegates, err = delegationservice.New(delegationmemory.New())
	s.Require().NoError(err)
	s.service, err = New(s.store, s.profiles, s.fees, s.registry,
		WithAuditPublisher(s.publisher),
		WithDelegates(s.delegates),
	)
	s.Require().NoError(err)
}

func (s *LedgerSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *LedgerSuite) ctx() context.Context {
	return requestcontext.WithUserID(requestcontext.WithTime(context.Background(), s.now), s.user)
}

func (s *LedgerSuite) as(user id.UserID) context.Context {
	return requestcontext.WithUserID(requestcontext.WithTime(context.Background(), s.now), user)
}

func (s *LedgerSuite) operator() context.Context {
	return requestcontext.WithOperator(requestcontext.WithTime(context.Background(), s.now))
}

func (s *LedgerSuite) advance(d time.Duration) { s.now = s.now.Add(d) }

func (s *LedgerSuite) vault(apy string) id.AdapterID {
	v := vault.New("stable", decimal.RequireFromString(apy), vault.WithClock(func() time.Time { return s.now }))
	d, err := s.registry.Register(s.operator(), adaptermodels.Descriptor{Name: "stable", Kind: adaptermodels.KindVault}, v)
	s.Require().NoError(err)
	return d.ID
}

func (s *LedgerSuite) operations() []string {
	events, err := s.events.ListByUser(context.Background(), s.user)
	s.Require().NoError(err)
	ops := make([]string, len(events))
	for i, e := range events {
		ops[i] = e.Operation
	}
	return ops
}

func (s *LedgerSuite) snapshot() *models.Snapshot {
	snap, err := s.service.Snapshot(s.ctx(), s.user)
	s.Require().NoError(err)
	return snap
}

// assertConserved checks the profile total against the sub-account sums.
func (s *LedgerSuite) assertConserved() {
	snap := s.snapshot()
	spending, investment, savings := snap.Totals()
	s.Equal(spending+investment+savings, snap.Profile.TotalBalance)
}

func (s *LedgerSuite) fundedBucket(name string, limit, deposit int64) {
	_, err := s.service.CreateBucket(s.ctx(), s.user, name, limit)
	s.Require().NoError(err)
	_, err = s.service.DepositToBucket(s.ctx(), s.user, name, deposit, "")
	s.Require().NoError(err)
}

// =============================================================================
// Accounts
// =============================================================================

func (s *LedgerSuite) TestInitializeUser() {
	s.Run("idempotent with a single event", func() {
		s.Require().NoError(s.service.InitializeUser(s.ctx(), s.user))
		s.Require().NoError(s.service.InitializeUser(s.ctx(), s.user))

		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.True(p.Initialized)
		s.Equal([]string{string(audit.OpUserInitialized)}, s.operations())
	})

	s.Run("unknown user reads as uninitialized", func() {
		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.False(p.Initialized)
		s.Zero(p.TotalBalance)
	})

	s.Run("other users are refused", func() {
		err := s.service.InitializeUser(s.as(id.UserID(uuid.New())), s.user)
		s.Equal(id.KindUnauthorized, id.KindOf(err))
	})

	s.Run("enable flips emit once", func() {
		s.Require().NoError(s.service.EnableInvestmentAccount(s.ctx(), s.user))
		s.Require().NoError(s.service.EnableInvestmentAccount(s.ctx(), s.user))
		s.Require().NoError(s.service.EnableSavingsAccount(s.ctx(), s.user))

		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.Equal([]profilemodels.AccountType{profilemodels.AccountInvestment, profilemodels.AccountSavings}, p.AccountTypes.List())
		s.Equal([]string{
			string(audit.OpUserInitialized),
			string(audit.OpInvestmentEnabled),
			string(audit.OpSavingsEnabled),
		}, s.operations())
	})
}

// =============================================================================
// Spending buckets
// =============================================================================

func (s *LedgerSuite) TestGroceriesScenario() {
	_, err := s.service.CreateBucket(s.ctx(), s.user, "groceries", 500)
	s.Require().NoError(err)

	quote, err := s.service.DepositToBucket(s.ctx(), s.user, "groceries", 1000, "USDC")
	s.Require().NoError(err)
	s.Equal(int64(5), quote.Fee)
	s.Equal(int64(995), quote.Net)

	s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "groceries", 300))
	err = s.service.SpendFromBucket(s.ctx(), s.user, "groceries", 250)
	s.Equal(id.KindLimitExceeded, id.KindOf(err))

	b, err := s.service.Bucket(s.ctx(), s.user, "groceries")
	s.Require().NoError(err)
	s.Equal(int64(695), b.Balance)
	s.Equal(int64(300), b.MonthlySpent)

	s.Equal([]string{
		string(audit.OpUserInitialized),
		string(audit.OpBucketCreated),
		string(audit.OpBucketDeposit),
		string(audit.OpFeeCollected),
		string(audit.OpBucketSpend),
	}, s.operations())

	collected, err := s.fees.Collected(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(5), collected.Total())
	s.assertConserved()
}

func (s *LedgerSuite) TestCreateBucket() {
	s.Run("duplicate name", func() {
		s.fundedBucket("rent", 100, 10)
		_, err := s.service.CreateBucket(s.ctx(), s.user, "rent", 50)
		s.Equal(id.KindDuplicateBucket, id.KindOf(err))
	})

	s.Run("name stays reserved after deactivation", func() {
		s.fundedBucket("rent", 100, 10)
		s.Require().NoError(s.service.DeactivateBucket(s.ctx(), s.user, "rent"))
		_, err := s.service.CreateBucket(s.ctx(), s.user, "rent", 50)
		s.Equal(id.KindDuplicateBucket, id.KindOf(err))
	})

	s.Run("zero limit", func() {
		_, err := s.service.CreateBucket(s.ctx(), s.user, "rent", 0)
		s.Equal(id.KindInvalidLimit, id.KindOf(err))
	})

	s.Run("blank name", func() {
		_, err := s.service.CreateBucket(s.ctx(), s.user, "  ", 10)
		s.Equal(id.KindInvalidOperation, id.KindOf(err))
	})
}

func (s *LedgerSuite) TestBucketFailures() {
	s.Run("missing bucket", func() {
		_, err := s.service.DepositToBucket(s.ctx(), s.user, "nope", 10, "")
		s.Equal(id.KindBucketNotFound, id.KindOf(err))
		s.Empty(s.operations())
	})

	s.Run("inactive bucket rejects deposits and spends", func() {
		s.fundedBucket("fun", 100, 100)
		s.Require().NoError(s.service.DeactivateBucket(s.ctx(), s.user, "fun"))

		_, err := s.service.DepositToBucket(s.ctx(), s.user, "fun", 10, "")
		s.Equal(id.KindBucketInactive, id.KindOf(err))
		err = s.service.SpendFromBucket(s.ctx(), s.user, "fun", 10)
		s.Equal(id.KindBucketInactive, id.KindOf(err))
		s.assertConserved()
	})

	s.Run("insufficient balance after limit check", func() {
		s.fundedBucket("fun", 1000, 100)
		err := s.service.SpendFromBucket(s.ctx(), s.user, "fun", 200)
		s.Equal(id.KindInsufficientBalance, id.KindOf(err))
	})

	s.Run("non-positive amount", func() {
		err := s.service.SpendFromBucket(s.ctx(), s.user, "fun", 0)
		s.Equal(id.KindInvalidAmount, id.KindOf(err))
	})
}

func (s *LedgerSuite) TestMonthlyWindow() {
	s.Run("refused spend still commits the reset it evaluated", func() {
		s.fundedBucket("food", 500, 2000)
		s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "food", 500))
		s.advance(31 * 24 * time.Hour)
		windowStart := s.now

		err := s.service.SpendFromBucket(s.ctx(), s.user, "food", 5000)
		s.Equal(id.KindLimitExceeded, id.KindOf(err))

		stored, err := s.store.Bucket(context.Background(), s.user, "food")
		s.Require().NoError(err)
		s.Zero(stored.MonthlySpent)
		s.Equal(windowStart, stored.LastReset)
		ops := s.operations()
		s.Equal(string(audit.OpMonthlyLimitReset), ops[len(ops)-1])

		// the window runs from the refused access, not the next success
		s.advance(4 * 24 * time.Hour)
		s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "food", 100))
		s.advance(27 * 24 * time.Hour)
		s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "food", 500))

		b, err := s.service.Bucket(s.ctx(), s.user, "food")
		s.Require().NoError(err)
		s.Equal(int64(500), b.MonthlySpent)
		s.Equal(s.now, b.LastReset)
		s.assertConserved()
	})

	s.Run("refusal without a due reset commits nothing", func() {
		s.fundedBucket("food", 500, 2000)
		before := s.operations()

		err := s.service.SpendFromBucket(s.ctx(), s.user, "food", 600)
		s.Equal(id.KindLimitExceeded, id.KindOf(err))
		s.Equal(before, s.operations())
	})

	s.Run("first successful spend commits the reset once", func() {
		s.fundedBucket("food", 500, 2000)
		s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "food", 500))
		s.advance(31 * 24 * time.Hour)

		s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "food", 100))
		s.Require().NoError(s.service.SpendFromBucket(s.ctx(), s.user, "food", 100))

		resets := 0
		for _, op := range s.operations() {
			if op == string(audit.OpMonthlyLimitReset) {
				resets++
			}
		}
		s.Equal(1, resets)

		b, err := s.service.Bucket(s.ctx(), s.user, "food")
		s.Require().NoError(err)
		s.Equal(int64(200), b.MonthlySpent)
		s.Equal(s.now, b.LastReset)
	})

	s.Run("spending never exceeds the limit within a window", func() {
		s.fundedBucket("food", 300, 5000)
		for range 10 {
			_ = s.service.SpendFromBucket(s.ctx(), s.user, "food", 70)
		}
		b, err := s.service.Bucket(s.ctx(), s.user, "food")
		s.Require().NoError(err)
		s.Equal(int64(280), b.MonthlySpent)
	})
}

func (s *LedgerSuite) TestDelegateSpend() {
	delegate := id.UserID(uuid.New())
	setup := func() {
		s.fundedBucket("kids", 1000, 1000)
		_, err := s.delegates.Grant(s.ctx(), s.user, delegationservice.GrantRequest{
			Delegate: delegate, Bucket: "kids", Limit: 100,
		})
		s.Require().NoError(err)
	}

	s.Run("allowance covers spend and is consumed", func() {
		setup()
		s.Require().NoError(s.service.SpendFromBucket(s.as(delegate), s.user, "kids", 60))

		events, err := s.events.ListByUser(context.Background(), s.user)
		s.Require().NoError(err)
		last := events[len(events)-1]
		s.Equal(string(audit.OpBucketSpend), last.Operation)
		s.Equal(delegate.String(), last.ActorID)

		err = s.service.SpendFromBucket(s.as(delegate), s.user, "kids", 50)
		s.Equal(id.KindUnauthorized, id.KindOf(err))
	})

	s.Run("allowance is bucket scoped", func() {
		setup()
		s.fundedBucket("other", 1000, 1000)
		err := s.service.SpendFromBucket(s.as(delegate), s.user, "other", 10)
		s.Equal(id.KindUnauthorized, id.KindOf(err))
	})

	s.Run("failed commit restores the allowance", func() {
		setup()
		s.profiles.fail = true
		err := s.service.SpendFromBucket(s.as(delegate), s.user, "kids", 60)
		s.Require().Error(err)
		s.profiles.fail = false

		b, err := s.service.Bucket(s.ctx(), s.user, "kids")
		s.Require().NoError(err)
		s.Equal(int64(995), b.Balance)
		s.Zero(b.MonthlySpent)
		allowances, err := s.delegates.List(s.ctx(), s.user)
		s.Require().NoError(err)
		s.Require().Len(allowances, 1)
		s.Equal(int64(100), allowances[0].Remaining)

		s.Require().NoError(s.service.SpendFromBucket(s.as(delegate), s.user, "kids", 100))
	})

	s.Run("delegates cannot deposit", func() {
		setup()
		_, err := s.service.DepositToBucket(s.as(delegate), s.user, "kids", 10, "")
		s.Equal(id.KindUnauthorized, id.KindOf(err))
	})
}

// =============================================================================
// Investment positions
// =============================================================================

func (s *LedgerSuite) TestPositionLifecycle() {
	s.Run("deposit charges the investment fee and mints shares", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 10000)
		s.Require().NoError(err)
		s.Equal(int64(9900), pos.Principal)
		s.Equal(int64(9900), pos.Shares)

		again, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 1000)
		s.Require().NoError(err)
		s.Equal(pos.ID, again.ID)
		s.Equal(int64(10890), again.Principal)

		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.True(p.AccountTypes.Has(profilemodels.AccountInvestment))
		s.assertConserved()
	})

	s.Run("full withdrawal after a year realizes yield and closes", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 10000)
		s.Require().NoError(err)
		s.advance(year)

		credited, err := s.service.WithdrawFromPosition(s.ctx(), s.user, pos.ID, pos.Shares)
		s.Require().NoError(err)
		s.Equal(int64(10890-108), credited)

		_, err = s.service.Position(s.ctx(), s.user, pos.ID)
		s.Equal(id.KindPositionNotFound, id.KindOf(err))

		snap := s.snapshot()
		s.Equal(credited, snap.Available)
		s.Equal(credited, snap.Profile.TotalBalance)

		events, err := s.events.ListByUser(context.Background(), s.user)
		s.Require().NoError(err)
		var closed *audit.Event
		for i := range events {
			if events[i].Operation == string(audit.OpPositionClosed) {
				closed = &events[i]
			}
		}
		s.Require().NotNil(closed)
		s.Equal(int64(10890-9900), closed.Amount)
	})

	s.Run("partial withdrawal reduces principal pro rata", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 10000)
		s.Require().NoError(err)
		s.advance(year)

		_, err = s.service.WithdrawFromPosition(s.ctx(), s.user, pos.ID, 4950)
		s.Require().NoError(err)

		after, err := s.service.Position(s.ctx(), s.user, pos.ID)
		s.Require().NoError(err)
		s.Equal(int64(4950), after.Shares)
		s.Equal(int64(4950), after.Principal)
		s.Equal(int64(495), after.YieldEarned)
		s.assertConserved()
	})

	s.Run("insufficient shares", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 1000)
		s.Require().NoError(err)
		_, err = s.service.WithdrawFromPosition(s.ctx(), s.user, pos.ID, pos.Shares+1)
		s.Equal(id.KindInsufficientShares, id.KindOf(err))
	})

	s.Run("unknown adapter", func() {
		_, err := s.service.DepositToPosition(s.ctx(), s.user, id.NewAdapterID(), 1000)
		s.Equal(id.KindAdapterNotFound, id.KindOf(err))
		s.Empty(s.operations())
	})
}

func (s *LedgerSuite) TestDeactivatedAdapter() {
	adapter := s.vault("0.05")
	pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 5000)
	s.Require().NoError(err)
	s.Require().NoError(s.registry.Deactivate(s.operator(), adapter))

	_, err = s.service.DepositToPosition(s.ctx(), s.user, adapter, 1000)
	s.Equal(id.KindAdapterInactive, id.KindOf(err))

	credited, err := s.service.WithdrawFromPosition(s.ctx(), s.user, pos.ID, pos.Shares)
	s.Require().NoError(err)
	s.Positive(credited)
	s.assertConserved()
}

func (s *LedgerSuite) TestAdapterFailureIsolation() {
	register := func(venue adaptermodels.ProtocolAdapter) id.AdapterID {
		d, err := s.registry.Register(s.operator(), adaptermodels.Descriptor{Name: "flaky"}, venue)
		s.Require().NoError(err)
		return d.ID
	}

	s.Run("failed deposit leaves no trace", func() {
		venue := mocks.NewMockProtocolAdapter(s.ctrl)
		adapter := register(venue)
		venue.EXPECT().Deposit(gomock.Any(), "USDC", int64(990)).Return(int64(0), errors.New("venue down"))

		_, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 1000)
		s.Equal(id.KindAdapterUnavailable, id.KindOf(err))

		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.False(p.Initialized)
		s.Empty(s.operations())
		collected, err := s.fees.Collected(context.Background())
		s.Require().NoError(err)
		s.Zero(collected.Total())
	})

	s.Run("failed commit returns minted shares", func() {
		venue := mocks.NewMockProtocolAdapter(s.ctrl)
		adapter := register(venue)
		venue.EXPECT().Deposit(gomock.Any(), "USDC", int64(990)).Return(int64(990), nil)
		venue.EXPECT().Withdraw(gomock.Any(), int64(990)).Return(int64(990), nil)

		s.profiles.fail = true
		_, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 1000)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		positions, err := s.service.ListPositions(s.ctx(), s.user)
		s.Require().NoError(err)
		s.Empty(positions)
		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.False(p.Initialized)
		s.Empty(s.operations())
		collected, err := s.fees.Collected(context.Background())
		s.Require().NoError(err)
		s.Zero(collected.Total())
		s.assertConserved()
	})

	s.Run("failed event write rolls back every record", func() {
		s.fundedBucket("food", 1000, 1000)
		before := s.operations()

		s.publisher.fail = true
		_, err := s.service.DepositToBucket(s.ctx(), s.user, "food", 1000, "")
		s.Require().Error(err)
		s.publisher.fail = false

		b, err := s.service.Bucket(s.ctx(), s.user, "food")
		s.Require().NoError(err)
		s.Equal(int64(995), b.Balance)
		s.Equal(before, s.operations())
		collected, err := s.fees.Collected(context.Background())
		s.Require().NoError(err)
		s.Equal(int64(5), collected.Total())
		s.assertConserved()
	})

	s.Run("failed withdrawal keeps the position", func() {
		venue := mocks.NewMockProtocolAdapter(s.ctrl)
		adapter := register(venue)
		venue.EXPECT().Deposit(gomock.Any(), "USDC", int64(990)).Return(int64(990), nil)
		venue.EXPECT().Withdraw(gomock.Any(), int64(990)).Return(int64(0), errors.New("venue down"))

		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 1000)
		s.Require().NoError(err)
		_, err = s.service.WithdrawFromPosition(s.ctx(), s.user, pos.ID, 990)
		s.Equal(id.KindAdapterUnavailable, id.KindOf(err))

		kept, err := s.service.Position(s.ctx(), s.user, pos.ID)
		s.Require().NoError(err)
		s.Equal(int64(990), kept.Shares)
		s.assertConserved()
	})
}

func (s *LedgerSuite) TestValuationAndHarvest() {
	s.Run("refresh estimates value without moving balances", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 10000)
		s.Require().NoError(err)
		before := len(s.operations())
		s.advance(year / 2)

		refreshed, err := s.service.RefreshValuation(s.ctx(), s.user, pos.ID)
		s.Require().NoError(err)
		s.Equal(int64(10395), refreshed.LastValuation)
		s.Equal(int64(9900), refreshed.Principal)
		s.Len(s.operations(), before)

		p, err := s.service.Profile(s.ctx(), s.user)
		s.Require().NoError(err)
		s.Equal(int64(9900), p.TotalBalance)
	})

	s.Run("harvest redeems the gain and keeps principal", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 10000)
		s.Require().NoError(err)
		s.advance(year)

		credited, err := s.service.HarvestPosition(s.ctx(), s.user, pos.ID)
		s.Require().NoError(err)
		s.Equal(int64(981), credited)

		after, err := s.service.Position(s.ctx(), s.user, pos.ID)
		s.Require().NoError(err)
		s.Equal(int64(9900), after.Principal)
		s.Equal(int64(9000), after.Shares)
		s.Equal(int64(990), after.YieldEarned)
		s.assertConserved()
	})

	s.Run("harvest without gain is a no-op", func() {
		adapter := s.vault("0.10")
		pos, err := s.service.DepositToPosition(s.ctx(), s.user, adapter, 10000)
		s.Require().NoError(err)

		credited, err := s.service.HarvestPosition(s.ctx(), s.user, pos.ID)
		s.Require().NoError(err)
		s.Zero(credited)
		s.NotContains(s.operations(), string(audit.OpPositionHarvest))
	})

	s.Run("bulk refresh holds the lock once per position", func() {
		healthy := s.vault("0.10")
		venue := mocks.NewMockProtocolAdapter(s.ctrl)
		d, err := s.registry.Register(s.operator(), adaptermodels.Descriptor{Name: "flaky"}, venue)
		s.Require().NoError(err)
		venue.EXPECT().Deposit(gomock.Any(), "USDC", int64(990)).Return(int64(990), nil)
		venue.EXPECT().APY(gomock.Any()).Return(decimal.Zero, errors.New("venue down"))

		locks := &countingLocker{Keyed: lock.NewKeyed()}
		svc, err := New(s.store, s.profiles, s.fees, s.registry, WithLocker(locks))
		s.Require().NoError(err)
		good, err := svc.DepositToPosition(s.ctx(), s.user, healthy, 10000)
		s.Require().NoError(err)
		_, err = svc.DepositToPosition(s.ctx(), s.user, d.ID, 1000)
		s.Require().NoError(err)
		s.advance(year)

		locks.n.Store(0)
		n, err := svc.RefreshValuations(s.ctx(), s.user)
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(int32(2), locks.n.Load())

		refreshed, err := svc.Position(s.ctx(), s.user, good.ID)
		s.Require().NoError(err)
		s.Greater(refreshed.LastValuation, good.LastValuation)
		s.assertConserved()
	})
}

// countingLocker counts lock acquisitions.
type countingLocker struct {
	*lock.Keyed
	n atomic.Int32
}

func (c *countingLocker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	c.n.Add(1)
	return c.Keyed.Lock(ctx, key)
}

// =============================================================================
// Savings goals
// =============================================================================

func (s *LedgerSuite) TestGoals() {
	s.Run("contributions complete the goal once", func() {
		g, err := s.service.CreateGoal(s.ctx(), s.user, "bike", 1000, nil, nil)
		s.Require().NoError(err)

		_, err = s.service.ContributeToGoal(s.ctx(), s.user, g.ID, 600)
		s.Require().NoError(err)
		done, err := s.service.ContributeToGoal(s.ctx(), s.user, g.ID, 500)
		s.Require().NoError(err)
		s.True(done.Completed)
		s.Equal(int64(1100), done.CurrentAmount)

		credited, err := s.service.WithdrawFromGoal(s.ctx(), s.user, g.ID, 800)
		s.Require().NoError(err)
		s.Equal(int64(800), credited)

		after, err := s.service.Goal(s.ctx(), s.user, g.ID)
		s.Require().NoError(err)
		s.True(after.Completed)
		s.Equal(int64(300), after.CurrentAmount)

		completions := 0
		for _, op := range s.operations() {
			if op == string(audit.OpGoalCompleted) {
				completions++
			}
		}
		s.Equal(1, completions)
		s.assertConserved()
	})

	s.Run("invalid targets", func() {
		_, err := s.service.CreateGoal(s.ctx(), s.user, "bike", 0, nil, nil)
		s.Equal(id.KindInvalidTarget, id.KindOf(err))

		past := s.now.Add(-time.Hour)
		_, err = s.service.CreateGoal(s.ctx(), s.user, "bike", 10, &past, nil)
		s.Equal(id.KindInvalidTarget, id.KindOf(err))
	})

	s.Run("overdrawn goal", func() {
		g, err := s.service.CreateGoal(s.ctx(), s.user, "bike", 1000, nil, nil)
		s.Require().NoError(err)
		_, err = s.service.WithdrawFromGoal(s.ctx(), s.user, g.ID, 1)
		s.Equal(id.KindInsufficientBalance, id.KindOf(err))
	})

	s.Run("adapter-backed goal earns interest", func() {
		adapter := s.vault("0.10")
		g, err := s.service.CreateGoal(s.ctx(), s.user, "house", 100000, nil, &adapter)
		s.Require().NoError(err)
		funded, err := s.service.ContributeToGoal(s.ctx(), s.user, g.ID, 1000)
		s.Require().NoError(err)
		s.Equal(int64(1000), funded.Shares)
		s.advance(year)

		credited, err := s.service.WithdrawFromGoal(s.ctx(), s.user, g.ID, 500)
		s.Require().NoError(err)
		s.Equal(int64(550), credited)

		after, err := s.service.Goal(s.ctx(), s.user, g.ID)
		s.Require().NoError(err)
		s.Equal(int64(500), after.CurrentAmount)
		s.Equal(int64(500), after.Shares)
		s.Equal(int64(50), after.InterestEarned)
		s.assertConserved()
	})

	s.Run("inactive adapter cannot back a new goal", func() {
		adapter := s.vault("0.10")
		s.Require().NoError(s.registry.Deactivate(s.operator(), adapter))
		_, err := s.service.CreateGoal(s.ctx(), s.user, "house", 100, nil, &adapter)
		s.Equal(id.KindAdapterInactive, id.KindOf(err))
	})
}

// =============================================================================
// Transfers and liquid withdrawals
// =============================================================================

func (s *LedgerSuite) TestTransfer() {
	s.Run("moves value without fees or limit effects", func() {
		s.fundedBucket("main", 100, 2000)
		g, err := s.service.CreateGoal(s.ctx(), s.user, "trip", 500, nil, nil)
		s.Require().NoError(err)

		s.Require().NoError(s.service.Transfer(s.ctx(), s.user, models.BucketEndpoint("main"), models.GoalEndpoint(g.ID), 500))
		s.Require().NoError(s.service.Transfer(s.ctx(), s.user, models.BucketEndpoint("main"), models.Liquid(), 400))

		snap := s.snapshot()
		s.Equal(int64(400), snap.Available)
		s.Equal(int64(1990-900), snap.Buckets[0].Balance)
		s.Zero(snap.Buckets[0].MonthlySpent)
		s.True(snap.Goals[0].Completed)
		s.assertConserved()

		s.Require().NoError(s.service.WithdrawLiquid(s.ctx(), s.user, 400, ""))
		err = s.service.WithdrawLiquid(s.ctx(), s.user, 1, "")
		s.Equal(id.KindInsufficientBalance, id.KindOf(err))
		s.assertConserved()
	})

	s.Run("same endpoint", func() {
		err := s.service.Transfer(s.ctx(), s.user, models.Liquid(), models.Liquid(), 10)
		s.Equal(id.KindInvalidOperation, id.KindOf(err))
	})

	s.Run("inactive destination", func() {
		s.fundedBucket("a", 100, 1000)
		s.fundedBucket("b", 100, 10)
		s.Require().NoError(s.service.DeactivateBucket(s.ctx(), s.user, "b"))

		err := s.service.Transfer(s.ctx(), s.user, models.BucketEndpoint("a"), models.BucketEndpoint("b"), 10)
		s.Equal(id.KindBucketInactive, id.KindOf(err))

		s.Require().NoError(s.service.Transfer(s.ctx(), s.user, models.BucketEndpoint("b"), models.BucketEndpoint("a"), 5))
		s.assertConserved()
	})
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *LedgerSuite) TestConcurrentDepositsSerialize() {
	s.fundedBucket("pool", 1_000_000, 1000)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.service.DepositToBucket(s.ctx(), s.user, "pool", 1000, "")
		}()
	}
	wg.Wait()

	b, err := s.service.Bucket(s.ctx(), s.user, "pool")
	s.Require().NoError(err)
	s.Equal(int64(51*995), b.Balance)
	s.assertConserved()
}
