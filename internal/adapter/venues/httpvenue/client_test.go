package httpvenue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"spendwise/internal/adapter/venues/vault"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVenue(t *testing.T) (*Client, *vault.Vault) {
	t.Helper()
	v := vault.New("remote-vault", decimal.RequireFromString("0.042"), vault.WithAsset("USDC"))
	srv := httptest.NewServer(Handler(v))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, v
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newVenue(t)

	shares, err := c.Deposit(ctx, "USDC", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), shares)

	bal, err := c.Balance(ctx, "ledger")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	amount, err := c.Withdraw(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), amount)

	apy, err := c.APY(ctx)
	require.NoError(t, err)
	assert.True(t, apy.Equal(decimal.RequireFromString("0.042")))

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote-vault", info.Name)
	assert.True(t, info.Active)
}

func TestClient_VenueErrors(t *testing.T) {
	ctx := context.Background()
	c, v := newVenue(t)

	_, err := c.Deposit(ctx, "DAI", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset not accepted")

	v.SetPaused(true)
	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.False(t, info.Active)
}

func TestClient_Non200WithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.APY(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}
