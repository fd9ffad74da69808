package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"spendwise/internal/admin"
	adaptermodels "spendwise/internal/adapter/models"
	"spendwise/internal/adapter/registry"
	adaptermemory "spendwise/internal/adapter/store/memory"
	"spendwise/internal/dispatch"
	dispatchhandler "spendwise/internal/dispatch/handler"
	feemodels "spendwise/internal/fee/models"
	feeservice "spendwise/internal/fee/service"
	feememory "spendwise/internal/fee/store/memory"
	ledgerhandler "spendwise/internal/ledger/handler"
	ledgerservice "spendwise/internal/ledger/service"
	ledgermemory "spendwise/internal/ledger/store/memory"
	"spendwise/internal/platform/jwt"
	"spendwise/internal/platform/metrics"
	profilememory "spendwise/internal/profile/store/memory"
	id "spendwise/pkg/domain"
	adminmw "spendwise/pkg/platform/middleware/admin"
	auditmemory "spendwise/pkg/platform/audit/store/memory"
	"spendwise/pkg/testutil"
)

const adminToken = "operator-secret"

type RouterSuite struct {
	suite.Suite
	router  http.Handler
	tokens  *jwt.Service
	user    id.UserID
	healthy error
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := auditmemory.NewInMemoryStore()
	fees, err := feeservice.New(context.Background(), feememory.New(),
		feeservice.WithDefaults(feemodels.Config{SpendingFeeBPS: 50, ProtocolShareBPS: 2000}))
	s.Require().NoError(err)
	adapters, err := registry.New(adaptermemory.New())
	s.Require().NoError(err)
	ledger, err := ledgerservice.New(ledgermemory.New(), profilememory.New(), fees, adapters)
	s.Require().NoError(err)
	dispatcher, err := dispatch.New(ledger)
	s.Require().NoError(err)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	s.Require().NoError(err)
	reg := prometheus.NewRegistry()

	s.tokens = jwt.New("test-key", "spendwise")
	s.user = id.UserID(uuid.New())
	s.healthy = nil
	s.router = NewRouter(Config{
		Logger:         logger,
		JWT:            s.tokens,
		AdminTokenHash: hash,
		User:           []Registrar{ledgerhandler.New(ledger, events, logger)},
		Admin: []Registrar{
			admin.New(fees, adapters, events, "USDC", logger),
			dispatchhandler.New(dispatcher, logger, metrics.NewWithRegistry(reg)),
		},
		Health:         map[string]HealthCheck{"store": func(context.Context) error { return s.healthy }},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}

func (s *RouterSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *RouterSuite) bearer(req *http.Request) *http.Request {
	token, err := s.tokens.Issue(s.user, time.Hour)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *RouterSuite) operator(req *http.Request) *http.Request {
	req.Header.Set(adminmw.HeaderAdminToken, adminToken)
	return req
}

// =============================================================================
// Authentication
// =============================================================================

func (s *RouterSuite) TestUserRoutesRequireToken() {
	path := "/v1/users/" + s.user.String() + "/profile"

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path))
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)

	rr = testutil.DoRequest(s.router, s.bearer(testutil.NewRequest(s.T(), http.MethodGet, path)))
	testutil.AssertStatusOK(s.T(), rr)
	s.NotEmpty(rr.Header().Get("X-Request-ID"))
}

func (s *RouterSuite) TestAdminRoutesRequireOperatorToken() {
	s.Run("bearer token is not enough", func() {
		rr := testutil.DoRequest(s.router, s.bearer(testutil.NewRequest(s.T(), http.MethodGet, "/admin/fees")))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("fee rate update", func() {
		req := s.operator(testutil.NewJSONRequest(s.T(), http.MethodPut, "/admin/fees/spending", map[string]any{"bps": 75}))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		cfg := testutil.UnmarshalResponse[feemodels.Config](s.T(), rr)
		s.Equal(uint32(75), cfg.SpendingFeeBPS)

		req = s.operator(testutil.NewJSONRequest(s.T(), http.MethodPut, "/admin/fees/spending", map[string]any{"bps": 501}))
		rr = testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnprocessableEntity)
	})

	s.Run("adapter lifecycle", func() {
		req := s.operator(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/adapters",
			map[string]any{"name": "stable", "kind": "vault", "apy": "0.05"}))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		d := testutil.UnmarshalResponse[adaptermodels.Descriptor](s.T(), rr)
		s.True(d.Active)

		rr = testutil.DoRequest(s.router, s.operator(testutil.NewRequest(s.T(), http.MethodPost, "/admin/adapters/"+d.ID.String()+"/deactivate")))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		rr = testutil.DoRequest(s.router, s.operator(testutil.NewRequest(s.T(), http.MethodGet, "/admin/adapters")))
		testutil.AssertStatusOK(s.T(), rr)
		list := *testutil.UnmarshalResponse[[]adaptermodels.Status](s.T(), rr)
		s.Require().Len(list, 1)
		s.False(list[0].Active)
	})
}

// =============================================================================
// Batches
// =============================================================================

func (s *RouterSuite) TestBatch() {
	body := `[
		{"type":"create_bucket","user":"` + s.user.String() + `","bucket":"food","monthly_limit":500},
		{"type":"deposit","user":"` + s.user.String() + `","bucket":"food","amount":1000},
		{"type":"spend","user":"` + s.user.String() + `","bucket":"food","amount":600}
	]`
	rr := testutil.DoRequest(s.router, s.operator(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/batches", body)))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "failed", float64(1))

	rr = testutil.DoRequest(s.router, s.operator(testutil.NewRequest(s.T(), http.MethodGet, "/admin/fees/collected")))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "total", float64(5))

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Contains(rr.Body.String(), "spendwise_batch_operations_total")
}

func (s *RouterSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)

	s.healthy = errors.New("connection refused")
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(s.T(), rr, "status", "degraded")
}
