// Package policy resolves the effective fee rate for a movement. A policy
// receives the configured base rate and the user's stats and returns the rate
// to charge; it never exceeds the base rate.
package policy

import (
	"slices"

	"spendwise/internal/fee/models"
	id "spendwise/pkg/domain"
)

type Policy interface {
	ID() string
	// Needs reports which stats RateBPS reads; only those are loaded.
	Needs() models.StatNeeds
	RateBPS(base uint32, stats models.UserStats) uint32
	Spec() models.PolicySpec
}

type flat struct{ id string }

func Flat(policyID string) Policy { return flat{id: policyID} }

func (f flat) ID() string { return f.id }
func (f flat) Needs() models.StatNeeds { return 0 }
func (f flat) RateBPS(base uint32, _ models.UserStats) uint32 { return base }
func (f flat) Spec() models.PolicySpec {
	return models.PolicySpec{ID: f.id, Type: models.PolicyFlat}
}

// Volume discounts by the highest tier whose threshold the user's cumulative
// volume has reached.
type Volume struct {
	id    string
	tiers []models.VolumeTier // descending by threshold
}

// NewVolume rejects duplicate thresholds; equal thresholds would make the
// chosen tier depend on registration order.
func NewVolume(policyID string, tiers []models.VolumeTier) (*Volume, error) {
	if len(tiers) == 0 {
		return nil, id.KindInvalidOperation.Err("volume policy requires at least one tier")
	}
	seen := make(map[int64]struct{}, len(tiers))
	sorted := make([]models.VolumeTier, 0, len(tiers))
	for _, t := range tiers {
		if t.Threshold < 0 {
			return nil, id.KindInvalidOperation.Errf("tier threshold %d is negative", t.Threshold)
		}
		if t.DiscountBPS > models.BPSDenominator {
			return nil, id.KindFeeTooHigh.Errf("tier discount %d exceeds %d bps", t.DiscountBPS, models.BPSDenominator)
		}
		if _, dup := seen[t.Threshold]; dup {
			return nil, id.KindDuplicateTierThreshold.Errf("duplicate tier threshold %d", t.Threshold)
		}
		seen[t.Threshold] = struct{}{}
		sorted = append(sorted, t)
	}
	slices.SortFunc(sorted, func(a, b models.VolumeTier) int {
		switch {
		case a.Threshold > b.Threshold:
			return -1
		case a.Threshold < b.Threshold:
			return 1
		}
		return 0
	})
	return &Volume{id: policyID, tiers: sorted}, nil
}

func (v *Volume) ID() string { return v.id }

func (v *Volume) Needs() models.StatNeeds { return models.NeedVolume }

func (v *Volume) RateBPS(base uint32, stats models.UserStats) uint32 {
	for _, t := range v.tiers {
		if stats.Volume >= t.Threshold {
			return discount(base, t.DiscountBPS)
		}
	}
	return base
}

func (v *Volume) Spec() models.PolicySpec {
	return models.PolicySpec{ID: v.id, Type: models.PolicyVolume, Tiers: slices.Clone(v.tiers)}
}

// Yield discounts users that hold at least one yield-bearing position.
type Yield struct {
	id          string
	discountBPS uint32
}

func NewYield(policyID string, discountBPS uint32) (*Yield, error) {
	if discountBPS > models.BPSDenominator {
		return nil, id.KindFeeTooHigh.Errf("yield discount %d exceeds %d bps", discountBPS, models.BPSDenominator)
	}
	return &Yield{id: policyID, discountBPS: discountBPS}, nil
}

func (y *Yield) ID() string { return y.id }

func (y *Yield) Needs() models.StatNeeds { return models.NeedYieldPositions }

func (y *Yield) RateBPS(base uint32, stats models.UserStats) uint32 {
	if stats.HasYieldPositions {
		return discount(base, y.discountBPS)
	}
	return base
}

func (y *Yield) Spec() models.PolicySpec {
	return models.PolicySpec{ID: y.id, Type: models.PolicyYield, DiscountBPS: y.discountBPS}
}

func discount(base, off uint32) uint32 {
	if off >= base {
		return 0
	}
	return base - off
}

// FromSpec builds a policy from its persisted description.
func FromSpec(spec models.PolicySpec) (Policy, error) {
	if spec.ID == "" {
		return nil, id.KindInvalidOperation.Err("policy id is required")
	}
	switch spec.Type {
	case models.PolicyFlat:
		return Flat(spec.ID), nil
	case models.PolicyVolume:
		return NewVolume(spec.ID, spec.Tiers)
	case models.PolicyYield:
		return NewYield(spec.ID, spec.DiscountBPS)
	default:
		return nil, id.KindInvalidOperation.Errf("unknown policy type %q", spec.Type)
	}
}
