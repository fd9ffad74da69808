package models

import (
	"time"

	id "spendwise/pkg/domain"
)

// BPSDenominator converts basis points to a fraction.
const BPSDenominator = 10_000

// Kind names a configurable fee rate. The three movement kinds are charged on
// value movements; KindProtocolShare controls how collected fees are split.
type Kind string

const (
	KindSpending      Kind = "spending"
	KindInvestment    Kind = "investment"
	KindSavings       Kind = "savings"
	KindProtocolShare Kind = "protocol_share"
)

var ceilings = map[Kind]uint32{
	KindSpending:      500,
	KindInvestment:    1000,
	KindSavings:       500,
	KindProtocolShare: BPSDenominator,
}

// Ceiling returns the hard upper bound for the kind's rate.
func (k Kind) Ceiling() (uint32, bool) {
	c, ok := ceilings[k]
	return c, ok
}

func (k Kind) IsMovement() bool {
	return k == KindSpending || k == KindInvestment || k == KindSavings
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := ceilings[k]; !ok {
		return "", id.KindUnknownFeeKind.Errf("unknown fee kind %q", s)
	}
	return k, nil
}

// Config is the process-wide fee configuration.
type Config struct {
	SpendingFeeBPS   uint32    `json:"spending_fee_bps"`
	InvestmentFeeBPS uint32    `json:"investment_fee_bps"`
	SavingsFeeBPS    uint32    `json:"savings_fee_bps"`
	ProtocolShareBPS uint32    `json:"protocol_share_bps"`
	PolicyID         string    `json:"policy_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (c Config) RateBPS(k Kind) uint32 {
	switch k {
	case KindSpending:
		return c.SpendingFeeBPS
	case KindInvestment:
		return c.InvestmentFeeBPS
	case KindSavings:
		return c.SavingsFeeBPS
	case KindProtocolShare:
		return c.ProtocolShareBPS
	}
	return 0
}

// WithRate returns a copy of c with the kind's rate replaced.
func (c Config) WithRate(k Kind, bps uint32) Config {
	switch k {
	case KindSpending:
		c.SpendingFeeBPS = bps
	case KindInvestment:
		c.InvestmentFeeBPS = bps
	case KindSavings:
		c.SavingsFeeBPS = bps
	case KindProtocolShare:
		c.ProtocolShareBPS = bps
	}
	return c
}

// Quote is the result of a fee calculation.
type Quote struct {
	Kind    Kind   `json:"kind"`
	Amount  int64  `json:"amount"`
	RateBPS uint32 `json:"rate_bps"`
	Fee     int64  `json:"fee"`
	Net     int64  `json:"net"`
}

// Split divides a collected fee between the protocol and the treasury.
type Split struct {
	Protocol int64 `json:"protocol"`
	Treasury int64 `json:"treasury"`
}

type PolicyType string

const (
	PolicyFlat   PolicyType = "flat"
	PolicyVolume PolicyType = "volume"
	PolicyYield  PolicyType = "yield"
)

// DefaultPolicyID is the always-present flat policy.
const DefaultPolicyID = "flat"

// VolumeTier grants DiscountBPS once a user's cumulative volume reaches
// Threshold.
type VolumeTier struct {
	Threshold   int64  `json:"threshold"`
	DiscountBPS uint32 `json:"discount_bps"`
}

// PolicySpec is the persisted description of a rate policy.
type PolicySpec struct {
	ID          string       `json:"id"`
	Type        PolicyType   `json:"type"`
	Tiers       []VolumeTier `json:"tiers,omitempty"`
	DiscountBPS uint32       `json:"discount_bps,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// UserStats is what policies may condition on.
type UserStats struct {
	Volume            int64
	HasYieldPositions bool
}

// StatNeeds is the set of UserStats fields a policy reads. Fields outside
// the set are left zero.
type StatNeeds uint8

const (
	NeedVolume StatNeeds = 1 << iota
	NeedYieldPositions
)

func (n StatNeeds) Has(need StatNeeds) bool { return n&need != 0 }

// Collected is the running total of fees collected.
type Collected struct {
	Protocol int64          `json:"protocol"`
	Treasury int64          `json:"treasury"`
	ByKind   map[Kind]int64 `json:"by_kind"`
}

func (c Collected) Total() int64 {
	return c.Protocol + c.Treasury
}
