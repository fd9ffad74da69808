package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	adaptermodels "spendwise/internal/adapter/models"
	"spendwise/internal/adapter/registry"
	"spendwise/internal/adapter/venues"
	feemodels "spendwise/internal/fee/models"
	feeservice "spendwise/internal/fee/service"
	"spendwise/internal/platform/config"
	id "spendwise/pkg/domain"
	"spendwise/pkg/requestcontext"
)

const (
	volumePolicyID = "volume"
	yieldPolicyID  = "yield"
)

func operatorContext(ctx context.Context) context.Context {
	return requestcontext.WithOperator(requestcontext.WithTime(ctx, time.Now()))
}

// feeDefaults seeds rates for a fresh store. A persisted configuration
// takes precedence.
func feeDefaults(b *config.Bootstrap) feemodels.Config {
	return feemodels.Config{
		SpendingFeeBPS:   b.Fees.SpendingBPS,
		InvestmentFeeBPS: b.Fees.InvestmentBPS,
		SavingsFeeBPS:    b.Fees.SavingsBPS,
		ProtocolShareBPS: b.Fees.ProtocolShareBPS,
	}
}

// applyFeePolicies registers the bootstrap volume and yield policies and
// selects the configured one. Policies persisted by an earlier run are kept.
func applyFeePolicies(ctx context.Context, fees *feeservice.Service, b *config.Bootstrap) error {
	ctx = operatorContext(ctx)
	var specs []feemodels.PolicySpec
	if len(b.VolumeTiers) > 0 {
		spec := feemodels.PolicySpec{ID: volumePolicyID, Type: feemodels.PolicyVolume}
		for _, t := range b.VolumeTiers {
			spec.Tiers = append(spec.Tiers, feemodels.VolumeTier{Threshold: t.Threshold, DiscountBPS: t.DiscountBPS})
		}
		specs = append(specs, spec)
	}
	if b.YieldDiscountBPS > 0 {
		specs = append(specs, feemodels.PolicySpec{ID: yieldPolicyID, Type: feemodels.PolicyYield, DiscountBPS: b.YieldDiscountBPS})
	}
	for _, spec := range specs {
		if err := fees.RegisterPolicy(ctx, spec); err != nil && id.KindOf(err) != id.KindDuplicatePolicy {
			return fmt.Errorf("register fee policy %q: %w", spec.ID, err)
		}
	}
	if b.Fees.Policy != "" && b.Fees.Policy != fees.Config().PolicyID {
		if err := fees.SelectPolicy(ctx, b.Fees.Policy); err != nil {
			return fmt.Errorf("select fee policy %q: %w", b.Fees.Policy, err)
		}
	}
	return nil
}

// registerAdapters attaches every bootstrap venue. Entries without an id get
// a fresh one, so they are re-created on every start.
func registerAdapters(ctx context.Context, reg *registry.Registry, b *config.Bootstrap, asset string, log *slog.Logger) error {
	ctx = operatorContext(ctx)
	for _, a := range b.Adapters {
		impl, err := venues.Build(venues.Spec{
			Name:    a.Name,
			Kind:    adaptermodels.Kind(a.Kind),
			BaseURL: a.BaseURL,
			APY:     a.APY,
		}, asset)
		if err != nil {
			return fmt.Errorf("adapter %q: %w", a.Name, err)
		}
		d := adaptermodels.Descriptor{Name: a.Name, Kind: adaptermodels.Kind(a.Kind), ContractRef: a.ContractRef}
		if a.ID != "" {
			if d.ID, err = id.ParseAdapterID(a.ID); err != nil {
				return fmt.Errorf("adapter %q: invalid id: %w", a.Name, err)
			}
		} else {
			log.Warn("bootstrap adapter has no id; it will be registered anew on each start", "name", a.Name)
		}
		d, err = reg.Register(ctx, d, impl)
		if err != nil {
			return fmt.Errorf("register adapter %q: %w", a.Name, err)
		}
		log.Info("adapter attached", "adapter_id", d.ID.String(), "name", d.Name, "kind", string(d.Kind), "active", d.Active)
	}
	return nil
}
