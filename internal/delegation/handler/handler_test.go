package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise/internal/delegation/models"
	"spendwise/internal/delegation/service"
	"spendwise/internal/delegation/store/memory"
	"spendwise/pkg/testutil"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, err := service.New(memory.New())
	require.NoError(t, err)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestDelegationRoutes(t *testing.T) {
	router := newRouter(t)
	owner, delegate := uuid.NewString(), uuid.NewString()
	base := "/v1/users/" + owner + "/delegates"

	testutil.Given(t, "an owner granting an allowance", func(t *testing.T) {
		req := testutil.WithUserID(testutil.NewJSONRequest(t, http.MethodPost, base, map[string]any{
			"delegate":   delegate,
			"bucket":     "groceries",
			"limit":      200,
			"expires_at": time.Now().Add(24 * time.Hour),
		}), owner)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		a := testutil.UnmarshalResponse[models.Allowance](t, rr)
		assert.Equal(t, int64(200), a.Remaining)

		testutil.When(t, "the owner lists delegates", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, base), owner))
			testutil.Then(t, "the allowance is listed", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				list := *testutil.UnmarshalResponse[[]models.Allowance](t, rr)
				require.Len(t, list, 1)
				assert.Equal(t, "groceries", list[0].Bucket)
			})
		})

		testutil.When(t, "someone else lists them", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, base), delegate))
			testutil.Then(t, "access is refused", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusForbidden)
			})
		})

		testutil.When(t, "the owner revokes it", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.WithUserID(testutil.NewRequest(t, http.MethodDelete, base+"/"+delegate), owner))
			testutil.AssertStatus(t, rr, http.StatusNoContent)
			rr = testutil.DoRequest(router, testutil.WithUserID(testutil.NewRequest(t, http.MethodGet, base), owner))
			testutil.Then(t, "nothing is listed", func(t *testing.T) {
				assert.Empty(t, *testutil.UnmarshalResponse[[]models.Allowance](t, rr))
			})
		})
	})

	testutil.Given(t, "a self delegation", func(t *testing.T) {
		req := testutil.WithUserID(testutil.NewJSONRequest(t, http.MethodPost, base,
			map[string]any{"delegate": owner, "limit": 10}), owner)
		testutil.AssertStatus(t, testutil.DoRequest(router, req), http.StatusBadRequest)
	})
}
