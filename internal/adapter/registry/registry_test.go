package registry

//go:generate mockgen -source=../models/models.go -destination=../mocks/mocks.go -package=mocks ProtocolAdapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"spendwise/internal/adapter/metrics"
	"spendwise/internal/adapter/mocks"
	"spendwise/internal/adapter/models"
	"spendwise/internal/adapter/store/memory"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
	auditmemory "spendwise/pkg/platform/audit/store/memory"
	"spendwise/pkg/requestcontext"
)

type auditPublisher struct{ store audit.Store }

func (p auditPublisher) Emit(ctx context.Context, e audit.Event) error { return p.store.Append(ctx, e) }

type RegistrySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	venue    *mocks.MockProtocolAdapter
	store    *memory.Store
	events   *auditmemory.InMemoryStore
	registry *Registry
	operator context.Context
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.venue = mocks.NewMockProtocolAdapter(s.ctrl)
	s.store = memory.New()
	s.events = auditmemory.NewInMemoryStore()
	s.operator = requestcontext.WithOperator(requestcontext.WithTime(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	var err error
	s.registry, err = New(s.store,
		WithAuditPublisher(auditPublisher{s.events}),
		WithMetrics(metrics.NewWithRegistry(prometheus.NewRegistry())),
		WithTimeout(50*time.Millisecond),
		WithBreakerThresholds(2, 1),
	)
	s.Require().NoError(err)
}

func (s *RegistrySuite) SetupSubTest() {
	s.SetupTest()
}

func (s *RegistrySuite) register() models.Descriptor {
	d, err := s.registry.Register(s.operator, models.Descriptor{Name: "stable-vault", Kind: models.KindVault}, s.venue)
	s.Require().NoError(err)
	return d
}

func (s *RegistrySuite) operations() []string {
	recent, err := s.events.ListRecent(context.Background(), 100)
	s.Require().NoError(err)
	ops := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		ops = append(ops, recent[i].Operation)
	}
	return ops
}

// =============================================================================
// Register
// =============================================================================

func (s *RegistrySuite) TestRegister() {
	s.Run("assigns id and marks active", func() {
		d := s.register()
		s.False(d.ID.IsNil())
		s.True(d.Active)
		s.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), d.RegisteredAt)
		s.Contains(s.operations(), string(audit.OpAdapterRegistered))
	})

	s.Run("requires operator", func() {
		_, err := s.registry.Register(context.Background(), models.Descriptor{Name: "x"}, s.venue)
		s.Equal(id.KindUnauthorized, id.KindOf(err))
	})

	s.Run("rejects duplicate id in one process", func() {
		d := s.register()
		_, err := s.registry.Register(s.operator, d, s.venue)
		s.Equal(id.KindDuplicateAdapter, id.KindOf(err))
	})

	s.Run("reattach keeps persisted inactive state", func() {
		d := s.register()
		s.Require().NoError(s.registry.Deactivate(s.operator, d.ID))

		restarted, err := New(s.store)
		s.Require().NoError(err)
		again, err := restarted.Register(s.operator, models.Descriptor{ID: d.ID, Name: d.Name}, s.venue)
		s.Require().NoError(err)
		s.False(again.Active)
		s.Equal(d.RegisteredAt, again.RegisteredAt)
	})
}

// =============================================================================
// Resolve
// =============================================================================

func (s *RegistrySuite) TestResolve() {
	s.Run("unknown adapter", func() {
		_, err := s.registry.Resolve(id.NewAdapterID())
		s.Equal(id.KindAdapterNotFound, id.KindOf(err))
		_, err = s.registry.ResolveForDeposit(id.NewAdapterID())
		s.Equal(id.KindAdapterNotFound, id.KindOf(err))
	})

	s.Run("deactivated adapter rejects deposits but still withdraws", func() {
		d := s.register()
		s.Require().NoError(s.registry.Deactivate(s.operator, d.ID))

		_, err := s.registry.ResolveForDeposit(d.ID)
		s.Equal(id.KindAdapterInactive, id.KindOf(err))

		s.venue.EXPECT().Withdraw(gomock.Any(), int64(10)).Return(int64(11), nil)
		a, err := s.registry.Resolve(d.ID)
		s.Require().NoError(err)
		amount, err := a.Withdraw(context.Background(), 10)
		s.Require().NoError(err)
		s.Equal(int64(11), amount)
	})

	s.Run("reactivate restores deposits", func() {
		d := s.register()
		s.Require().NoError(s.registry.Deactivate(s.operator, d.ID))
		s.Require().NoError(s.registry.Reactivate(s.operator, d.ID))
		_, err := s.registry.ResolveForDeposit(d.ID)
		s.NoError(err)
		s.Contains(s.operations(), string(audit.OpAdapterReactivated))
	})

	s.Run("deactivate requires operator", func() {
		d := s.register()
		err := s.registry.Deactivate(context.Background(), d.ID)
		s.Equal(id.KindUnauthorized, id.KindOf(err))
	})
}

// =============================================================================
// Guarded calls
// =============================================================================

func (s *RegistrySuite) TestGuardedCalls() {
	s.Run("venue error maps to adapter unavailable", func() {
		d := s.register()
		s.venue.EXPECT().Deposit(gomock.Any(), "USDC", int64(100)).Return(int64(0), errors.New("rpc down"))

		a, err := s.registry.ResolveForDeposit(d.ID)
		s.Require().NoError(err)
		_, err = a.Deposit(context.Background(), "USDC", 100)
		s.Equal(id.KindAdapterUnavailable, id.KindOf(err))
	})

	s.Run("zero shares minted is a failure", func() {
		d := s.register()
		s.venue.EXPECT().Deposit(gomock.Any(), "USDC", int64(1)).Return(int64(0), nil)

		a, err := s.registry.ResolveForDeposit(d.ID)
		s.Require().NoError(err)
		_, err = a.Deposit(context.Background(), "USDC", 1)
		s.Equal(id.KindAdapterUnavailable, id.KindOf(err))
	})

	s.Run("slow venue times out", func() {
		d := s.register()
		s.venue.EXPECT().APY(gomock.Any()).DoAndReturn(func(ctx context.Context) (decimal.Decimal, error) {
			<-ctx.Done()
			return decimal.Zero, ctx.Err()
		})

		a, err := s.registry.Resolve(d.ID)
		s.Require().NoError(err)
		_, err = a.APY(context.Background())
		s.Equal(id.KindAdapterUnavailable, id.KindOf(err))
	})

	s.Run("caller cancellation maps to cancelled", func() {
		d := s.register()
		s.venue.EXPECT().Balance(gomock.Any(), "ledger").DoAndReturn(func(ctx context.Context, _ string) (int64, error) {
			return 0, ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a, err := s.registry.Resolve(d.ID)
		s.Require().NoError(err)
		_, err = a.Balance(ctx, "ledger")
		s.Equal(id.KindCancelled, id.KindOf(err))
	})

	s.Run("breaker opens after consecutive failures and blocks deposits", func() {
		d := s.register()
		s.venue.EXPECT().Info(gomock.Any()).Return(models.Info{}, errors.New("down")).Times(2)

		a, err := s.registry.Resolve(d.ID)
		s.Require().NoError(err)
		_, _ = a.Info(context.Background())
		_, _ = a.Info(context.Background())

		_, err = s.registry.ResolveForDeposit(d.ID)
		s.Equal(id.KindAdapterInactive, id.KindOf(err))
		s.Contains(s.operations(), string(audit.OpAdapterCircuitOpened))
	})
}

// =============================================================================
// Probe and List
// =============================================================================

func (s *RegistrySuite) TestProbe() {
	s.Run("paused venue fails probes and recovers", func() {
		d := s.register()

		s.venue.EXPECT().Info(gomock.Any()).Return(models.Info{Name: "v", Active: false}, nil).Times(2)
		s.registry.Probe(context.Background())
		results := s.registry.Probe(context.Background())
		s.Require().Len(results, 1)
		s.False(results[0].Healthy)
		s.Equal("open", results[0].Circuit)

		s.venue.EXPECT().Info(gomock.Any()).Return(models.Info{Name: "v", Active: true}, nil)
		results = s.registry.Probe(context.Background())
		s.True(results[0].Healthy)
		s.Equal("closed", results[0].Circuit)

		_, err := s.registry.ResolveForDeposit(d.ID)
		s.NoError(err)
		s.Contains(s.operations(), string(audit.OpAdapterCircuitClosed))
	})

	s.Run("list reports last probe", func() {
		s.register()
		s.venue.EXPECT().Info(gomock.Any()).Return(models.Info{}, errors.New("timeout"))
		s.registry.Probe(s.operator)

		list := s.registry.List()
		s.Require().Len(list, 1)
		s.NotNil(list[0].LastProbeAt)
		s.Contains(list[0].LastError, "timeout")
		s.Equal("closed", list[0].Circuit)
	})
}
