package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.Ledger.AdapterTimeout)
	assert.Equal(t, "spendwise.ledger-events", cfg.Kafka.Topic)
	assert.Equal(t, "USDC", cfg.Ledger.Asset)
	assert.Equal(t, time.Minute, cfg.WriteTimeout)
	assert.Zero(t, cfg.AuditBuffer)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SPENDWISE_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ADAPTER_TIMEOUT", "250ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.AdapterTimeout)
}

func TestLoadBootstrap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fees:
  spending_bps: 50
  investment_bps: 100
  savings_bps: 25
  protocol_share_bps: 2000
  policy: volume
volume_tiers:
  - threshold: 1000000
    discount_bps: 10
adapters:
  - id: 7d3c3f36-0d5d-4a38-9a32-0d6a2f3b0b11
    name: stable-vault
    kind: vault
    apy: "0.045"
`), 0o600))

	b, err := LoadBootstrap(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), b.Fees.SpendingBPS)
	assert.Equal(t, "volume", b.Fees.Policy)
	require.Len(t, b.VolumeTiers, 1)
	require.Len(t, b.Adapters, 1)
	assert.Equal(t, "0.045", b.Adapters[0].APY)

	empty, err := LoadBootstrap(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, empty.Adapters)
}
