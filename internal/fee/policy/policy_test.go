package policy

import (
	"testing"

	"spendwise/internal/fee/models"
	id "spendwise/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolume_PicksHighestReachedTier(t *testing.T) {
	// registered out of order on purpose
	p, err := NewVolume("volume", []models.VolumeTier{
		{Threshold: 10_000, DiscountBPS: 10},
		{Threshold: 100_000, DiscountBPS: 30},
		{Threshold: 50_000, DiscountBPS: 20},
	})
	require.NoError(t, err)

	tests := []struct {
		volume int64
		want   uint32
	}{
		{0, 50},
		{9_999, 50},
		{10_000, 40},
		{60_000, 30},
		{100_000, 20},
		{5_000_000, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.RateBPS(50, models.UserStats{Volume: tt.volume}), "volume %d", tt.volume)
	}
}

func TestVolume_RejectsDuplicateThresholds(t *testing.T) {
	_, err := NewVolume("volume", []models.VolumeTier{
		{Threshold: 1000, DiscountBPS: 5},
		{Threshold: 1000, DiscountBPS: 10},
	})
	require.Error(t, err)
	assert.Equal(t, id.KindDuplicateTierThreshold, id.KindOf(err))
}

func TestVolume_DiscountFloorsAtZero(t *testing.T) {
	p, err := NewVolume("volume", []models.VolumeTier{{Threshold: 0, DiscountBPS: 80}})
	require.NoError(t, err)
	assert.Zero(t, p.RateBPS(50, models.UserStats{}))
}

func TestYield(t *testing.T) {
	p, err := NewYield("yield", 25)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), p.RateBPS(100, models.UserStats{}))
	assert.Equal(t, uint32(75), p.RateBPS(100, models.UserStats{HasYieldPositions: true}))
}

func TestFromSpec(t *testing.T) {
	p, err := FromSpec(models.PolicySpec{ID: "flat", Type: models.PolicyFlat})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), p.RateBPS(42, models.UserStats{Volume: 1 << 40}))

	_, err = FromSpec(models.PolicySpec{ID: "x", Type: "surge"})
	require.Error(t, err)

	_, err = FromSpec(models.PolicySpec{Type: models.PolicyFlat})
	require.Error(t, err)

	v, err := FromSpec(models.PolicySpec{ID: "tiers", Type: models.PolicyVolume, Tiers: []models.VolumeTier{{Threshold: 1, DiscountBPS: 1}}})
	require.NoError(t, err)
	assert.Equal(t, models.PolicyVolume, v.Spec().Type)
}

func TestNeeds(t *testing.T) {
	volume, err := NewVolume("volume", []models.VolumeTier{{Threshold: 1, DiscountBPS: 1}})
	require.NoError(t, err)
	yield, err := NewYield("yield", 1)
	require.NoError(t, err)

	assert.Equal(t, models.StatNeeds(0), Flat("flat").Needs())
	assert.True(t, volume.Needs().Has(models.NeedVolume))
	assert.False(t, volume.Needs().Has(models.NeedYieldPositions))
	assert.True(t, yield.Needs().Has(models.NeedYieldPositions))
	assert.False(t, yield.Needs().Has(models.NeedVolume))
}
