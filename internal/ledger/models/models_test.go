package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "spendwise/pkg/domain"
)

func TestBucket_Effective(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Bucket{MonthlyLimit: 100, MonthlySpent: 60, LastReset: start}

	within := b.Effective(start.Add(ResetPeriod - time.Second))
	assert.Equal(t, int64(60), within.MonthlySpent)
	assert.Equal(t, start, within.LastReset)

	boundary := start.Add(ResetPeriod)
	after := b.Effective(boundary)
	assert.Zero(t, after.MonthlySpent)
	assert.Equal(t, boundary, after.LastReset)
	assert.Equal(t, int64(100), after.Remaining())

	assert.Equal(t, int64(60), b.MonthlySpent, "receiver untouched")
}

func TestEndpoint_Text(t *testing.T) {
	g := id.GoalID(uuid.New())
	cases := []Endpoint{Liquid(), BucketEndpoint("rent"), GoalEndpoint(g)}
	for _, e := range cases {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		var back Endpoint
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, e, back)
	}

	_, err := ParseEndpoint("bucket:")
	assert.Error(t, err)
	_, err = ParseEndpoint("wallet")
	assert.Error(t, err)
}

func TestSnapshot_Totals(t *testing.T) {
	s := Snapshot{
		Available: 10,
		Buckets:   []Bucket{{Balance: 5}, {Balance: 7}},
		Positions: []Position{{Principal: 100}},
		Goals:     []Goal{{CurrentAmount: 30}},
	}
	sp, inv, sav := s.Totals()
	assert.Equal(t, int64(22), sp)
	assert.Equal(t, int64(100), inv)
	assert.Equal(t, int64(30), sav)
}
