// Package models holds the ledger's sub-account entities.
package models

import (
	"fmt"
	"strings"
	"time"

	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
)

// ResetPeriod is the length of a bucket's spending window.
const ResetPeriod = 30 * 24 * time.Hour

// Bucket is a named spending sub-account with a monthly cap.
type Bucket struct {
	Name         string    `json:"name"`
	Balance      int64     `json:"balance"`
	MonthlyLimit int64     `json:"monthly_limit"`
	MonthlySpent int64     `json:"monthly_spent"`
	LastReset    time.Time `json:"last_reset"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResetDue reports whether the window has elapsed at now.
func (b Bucket) ResetDue(now time.Time) bool {
	return !now.Before(b.LastReset.Add(ResetPeriod))
}

// Effective returns the bucket as it reads at now, with an elapsed window
// already reset. The receiver is not modified.
func (b Bucket) Effective(now time.Time) Bucket {
	if b.ResetDue(now) {
		b.MonthlySpent = 0
		b.LastReset = now
	}
	return b
}

// Remaining is the spend still allowed in the current window.
func (b Bucket) Remaining() int64 {
	return max(b.MonthlyLimit-b.MonthlySpent, 0)
}

// Position is principal and shares held at one adapter.
type Position struct {
	ID            id.PositionID `json:"id"`
	AdapterID     id.AdapterID  `json:"adapter_id"`
	Principal     int64         `json:"principal"`
	Shares        int64         `json:"shares"`
	YieldEarned   int64         `json:"yield_earned"`
	LastValuation int64         `json:"last_valuation"`
	LastValuedAt  time.Time     `json:"last_valued_at"`
	OpenedAt      time.Time     `json:"opened_at"`
}

// Goal is a savings target, optionally backed by an adapter.
type Goal struct {
	ID             id.GoalID     `json:"id"`
	Name           string        `json:"name"`
	TargetAmount   int64         `json:"target_amount"`
	CurrentAmount  int64         `json:"current_amount"`
	TargetDate     *time.Time    `json:"target_date,omitempty"`
	Completed      bool          `json:"completed"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	InterestEarned int64         `json:"interest_earned"`
	AdapterID      *id.AdapterID `json:"adapter_id,omitempty"`
	Shares         int64         `json:"shares"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Changeset is everything one operation writes. Entities are full
// after-images; nil Available means unchanged.
type Changeset struct {
	Available        *int64
	Buckets          []Bucket
	Positions        []Position
	DeletedPositions []id.PositionID
	Goals            []Goal
}

func (c Changeset) Empty() bool {
	return c.Available == nil && len(c.Buckets) == 0 && len(c.Positions) == 0 &&
		len(c.DeletedPositions) == 0 && len(c.Goals) == 0
}

// Snapshot is a user's full state.
type Snapshot struct {
	Profile   profilemodels.Profile `json:"profile"`
	Available int64                 `json:"available"`
	Buckets   []Bucket              `json:"buckets"`
	Positions []Position            `json:"positions"`
	Goals     []Goal                `json:"goals"`
}

// Totals sums each sub-account: spending is the liquid pool plus bucket
// balances, investment is position principal, savings is goal funds.
func (s Snapshot) Totals() (spending, investment, savings int64) {
	spending = s.Available
	for _, b := range s.Buckets {
		spending += b.Balance
	}
	for _, p := range s.Positions {
		investment += p.Principal
	}
	for _, g := range s.Goals {
		savings += g.CurrentAmount
	}
	return spending, investment, savings
}

// EndpointKind names where a transfer draws from or lands.
type EndpointKind string

const (
	EndpointLiquid EndpointKind = "liquid"
	EndpointBucket EndpointKind = "bucket"
	EndpointGoal   EndpointKind = "goal"
)

// Endpoint is one side of a transfer between a user's own sub-accounts.
type Endpoint struct {
	Kind   EndpointKind `json:"kind"`
	Bucket string       `json:"bucket,omitempty"`
	Goal   id.GoalID    `json:"goal,omitempty"`
}

func Liquid() Endpoint                    { return Endpoint{Kind: EndpointLiquid} }
func BucketEndpoint(name string) Endpoint { return Endpoint{Kind: EndpointBucket, Bucket: name} }
func GoalEndpoint(g id.GoalID) Endpoint   { return Endpoint{Kind: EndpointGoal, Goal: g} }

func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointBucket:
		return "bucket:" + e.Bucket
	case EndpointGoal:
		return "goal:" + e.Goal.String()
	default:
		return string(EndpointLiquid)
	}
}

// ParseEndpoint accepts "liquid", "bucket:<name>" and "goal:<uuid>".
func ParseEndpoint(s string) (Endpoint, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch EndpointKind(kind) {
	case EndpointLiquid:
		return Liquid(), nil
	case EndpointBucket:
		if strings.TrimSpace(rest) == "" {
			return Endpoint{}, fmt.Errorf("bucket endpoint needs a name")
		}
		return BucketEndpoint(rest), nil
	case EndpointGoal:
		g, err := id.ParseGoalID(rest)
		if err != nil {
			return Endpoint{}, err
		}
		return GoalEndpoint(g), nil
	}
	return Endpoint{}, fmt.Errorf("unknown endpoint %q", s)
}

func (e Endpoint) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Endpoint) UnmarshalText(b []byte) error {
	parsed, err := ParseEndpoint(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
