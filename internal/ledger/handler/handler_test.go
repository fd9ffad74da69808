package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"spendwise/internal/adapter/registry"
	adaptermemory "spendwise/internal/adapter/store/memory"
	feemodels "spendwise/internal/fee/models"
	feeservice "spendwise/internal/fee/service"
	feememory "spendwise/internal/fee/store/memory"
	"spendwise/internal/ledger/models"
	ledgerservice "spendwise/internal/ledger/service"
	ledgermemory "spendwise/internal/ledger/store/memory"
	profilememory "spendwise/internal/profile/store/memory"
	id "spendwise/pkg/domain"
	"spendwise/pkg/platform/audit"
	auditmemory "spendwise/pkg/platform/audit/store/memory"
	"spendwise/pkg/requestcontext"
	"spendwise/pkg/testutil"
)

type storePublisher struct{ store audit.Store }

func (p storePublisher) Emit(ctx context.Context, e audit.Event) error { return p.store.Append(ctx, e) }

type HandlerSuite struct {
	suite.Suite
	user   id.UserID
	caller id.UserID
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	events := auditmemory.NewInMemoryStore()
	fees, err := feeservice.New(context.Background(), feememory.New(),
		feeservice.WithDefaults(feemodels.Config{SpendingFeeBPS: 50}))
	s.Require().NoError(err)
	adapters, err := registry.New(adaptermemory.New())
	s.Require().NoError(err)
	ledger, err := ledgerservice.New(ledgermemory.New(), profilememory.New(), fees, adapters,
		ledgerservice.WithAuditPublisher(storePublisher{events}))
	s.Require().NoError(err)

	s.user = id.UserID(uuid.New())
	s.caller = s.user
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithTime(req.Context(), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
			ctx = requestcontext.WithUserID(ctx, s.caller)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(ledger, events, logger).Register(r)
	s.router = r
}

func (s *HandlerSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *HandlerSuite) path(suffix string) string {
	return "/v1/users/" + s.user.String() + suffix
}

func (s *HandlerSuite) do(method, suffix string, body any) int {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), method, s.path(suffix), body))
	return rr.Code
}

// =============================================================================
// Spending routes
// =============================================================================

func (s *HandlerSuite) TestSpendingFlow() {
	s.Run("create, deposit and spend", func() {
		t := s.T()
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, s.path("/buckets"),
			map[string]any{"name": "groceries", "monthly_limit": 500}))
		testutil.AssertStatus(t, rr, http.StatusCreated)

		rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, s.path("/buckets/groceries/deposit"),
			map[string]any{"amount": 1000}))
		testutil.AssertStatusOK(t, rr)
		quote := testutil.UnmarshalResponse[feemodels.Quote](t, rr)
		s.Equal(int64(5), quote.Fee)
		s.Equal(int64(995), quote.Net)

		s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/buckets/groceries/spend", map[string]any{"amount": 300}))

		rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, s.path("/buckets/groceries/spend"),
			map[string]any{"amount": 250}))
		testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
		s.Equal(string(id.KindLimitExceeded), testutil.UnmarshalErrorResponse(t, rr)["reason"])

		rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, s.path("/buckets/groceries")))
		testutil.AssertStatusOK(t, rr)
		b := testutil.UnmarshalResponse[models.Bucket](t, rr)
		s.Equal(int64(695), b.Balance)
		s.Equal(int64(300), b.MonthlySpent)
	})

	s.Run("transfer to liquid and withdraw", func() {
		s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/buckets", map[string]any{"name": "fun", "monthly_limit": 100}))
		s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/buckets/fun/deposit", map[string]any{"amount": 200}))

		s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/transfers",
			map[string]any{"from": "bucket:fun", "to": "liquid", "amount": 150}))
		s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/liquid/withdraw", map[string]any{"amount": 100}))
		s.Equal(http.StatusUnprocessableEntity, s.do(http.MethodPost, "/liquid/withdraw", map[string]any{"amount": 100}))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, s.path("/snapshot")))
		testutil.AssertStatusOK(s.T(), rr)
		snap := testutil.UnmarshalResponse[models.Snapshot](s.T(), rr)
		s.Equal(int64(50), snap.Available)
		s.Equal(int64(49), snap.Buckets[0].Balance)
	})
}

func (s *HandlerSuite) TestRequestErrors() {
	s.Run("malformed user id", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/users/nope/profile"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown body field", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, s.path("/buckets"),
			`{"name":"a","monthly_limit":1,"color":"red"}`))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("another user's ledger", func() {
		s.caller = id.UserID(uuid.New())
		s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/buckets", map[string]any{"name": "a", "monthly_limit": 1}))
		s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/events", nil))
	})

	s.Run("unknown account type", func() {
		s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/accounts/CHECKING/enable", nil))
	})
}

// =============================================================================
// Goals and events
// =============================================================================

func (s *HandlerSuite) TestGoalsAndEvents() {
	t := s.T()
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, s.path("/goals"),
		map[string]any{"name": "bike", "target": 100}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	goal := testutil.UnmarshalResponse[models.Goal](t, rr)

	s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/buckets", map[string]any{"name": "pay", "monthly_limit": 1000}))
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/buckets/pay/deposit", map[string]any{"amount": 1000}))
	s.Require().Equal(http.StatusNoContent, s.do(http.MethodPost, "/transfers",
		map[string]any{"from": "bucket:pay", "to": "liquid", "amount": 500}))

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, s.path("/goals/"+goal.ID.String()+"/contribute"),
		map[string]any{"amount": 100}))
	testutil.AssertStatusOK(t, rr)
	s.True(testutil.UnmarshalResponse[models.Goal](t, rr).Completed)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, s.path("/events")))
	testutil.AssertStatusOK(t, rr)
	events := *testutil.UnmarshalResponse[[]eventResponse](t, rr)
	var ops []string
	for _, e := range events {
		ops = append(ops, e.Operation)
	}
	s.Contains(ops, string(audit.OpGoalCreated))
	s.Contains(ops, string(audit.OpGoalContribution))
	s.Contains(ops, string(audit.OpGoalCompleted))
	s.Equal(string(audit.OpUserInitialized), ops[0])

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, s.path("/goals/"+uuid.New().String())))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}
