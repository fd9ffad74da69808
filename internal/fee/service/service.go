// Package service implements the fee engine: rate lookup through a pluggable
// policy, truncating fee arithmetic, operator-only rate changes with audit
// records, and protocol/treasury splitting of collected fees.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"spendwise/internal/fee/metrics"
	"spendwise/internal/fee/models"
	"spendwise/internal/fee/policy"
	"spendwise/internal/fee/ports"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/platform/tx"
	"spendwise/pkg/requestcontext"

	"github.com/shopspring/decimal"
)

type (
	Store           = ports.Store
	AuditPublisher  = ports.AuditPublisher
	PositionChecker = ports.PositionChecker
)

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store     Store
	publisher AuditPublisher
	positions PositionChecker
	tx        TxRunner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	defaults  models.Config

	mu       sync.RWMutex
	cfg      models.Config
	policies map[string]policy.Policy
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithPositionChecker enables the yield policy's position lookup.
func WithPositionChecker(c PositionChecker) Option {
	return func(s *Service) { s.positions = c }
}

func WithTxRunner(r TxRunner) Option {
	return func(s *Service) { s.tx = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaults seeds the configuration used when the store holds none.
func WithDefaults(cfg models.Config) Option {
	return func(s *Service) { s.defaults = cfg }
}

func New(ctx context.Context, store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("fee store is required")
	}
	s := &Service{
		store:    store,
		tx:       tx.JournalRunner{},
		logger:   slog.Default(),
		policies: map[string]policy.Policy{models.DefaultPolicyID: policy.Flat(models.DefaultPolicyID)},
	}
	for _, opt := range opts {
		opt(s)
	}

	specs, err := store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fee policies: %w", err)
	}
	for _, spec := range specs {
		p, err := policy.FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("restore fee policy %q: %w", spec.ID, err)
		}
		s.policies[p.ID()] = p
	}

	cfg, err := store.LoadConfig(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		seed := s.defaults
		if err := validateConfig(seed); err != nil {
			return nil, err
		}
		if seed.PolicyID == "" {
			seed.PolicyID = models.DefaultPolicyID
		}
		seed.UpdatedAt = requestcontext.Now(ctx)
		if err := store.SaveConfig(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed fee config: %w", err)
		}
		s.cfg = seed
	case err != nil:
		return nil, fmt.Errorf("load fee config: %w", err)
	default:
		s.cfg = *cfg
	}
	if _, ok := s.policies[s.cfg.PolicyID]; !ok {
		return nil, fmt.Errorf("fee config selects unknown policy %q", s.cfg.PolicyID)
	}
	s.publishRates()
	return s, nil
}

func validateConfig(cfg models.Config) error {
	for _, k := range []models.Kind{models.KindSpending, models.KindInvestment, models.KindSavings, models.KindProtocolShare} {
		ceiling, _ := k.Ceiling()
		if cfg.RateBPS(k) > ceiling {
			return id.KindFeeTooHigh.Errf("%s rate %d exceeds ceiling %d", k, cfg.RateBPS(k), ceiling)
		}
	}
	return nil
}

// Config returns the current configuration.
func (s *Service) Config() models.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Fee computes amount*bps/10000, truncated toward zero.
func Fee(amount int64, bps uint32) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(models.BPSDenominator)).
		Truncate(0).
		IntPart()
}

// CalculateFee quotes the fee for a movement using the rates and policy in
// effect at call time.
func (s *Service) CalculateFee(ctx context.Context, amount int64, kind models.Kind, userID id.UserID) (models.Quote, error) {
	if amount <= 0 {
		return models.Quote{}, id.KindInvalidAmount.Errf("amount must be positive, got %d", amount)
	}
	if !kind.IsMovement() {
		return models.Quote{}, id.KindUnknownFeeKind.Errf("%q is not a movement kind", kind)
	}

	s.mu.RLock()
	base := s.cfg.RateBPS(kind)
	pol := s.policies[s.cfg.PolicyID]
	s.mu.RUnlock()

	stats, err := s.stats(ctx, userID, pol)
	if err != nil {
		return models.Quote{}, err
	}
	rate := min(pol.RateBPS(base, stats), base)
	fee := Fee(amount, rate)
	return models.Quote{Kind: kind, Amount: amount, RateBPS: rate, Fee: fee, Net: amount - fee}, nil
}

func (s *Service) stats(ctx context.Context, userID id.UserID, pol policy.Policy) (models.UserStats, error) {
	var stats models.UserStats
	needs := pol.Needs()
	if needs.Has(models.NeedVolume) {
		v, err := s.store.Volume(ctx, userID)
		if err != nil {
			return stats, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user volume")
		}
		stats.Volume = v
	}
	if needs.Has(models.NeedYieldPositions) && s.positions != nil {
		has, err := s.positions.HasPositions(ctx, userID)
		if err != nil {
			return stats, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check positions")
		}
		stats.HasYieldPositions = has
	}
	return stats, nil
}

// SplitFee divides a fee using the configured protocol share. The protocol
// portion is truncated; the treasury receives the remainder.
func (s *Service) SplitFee(fee int64) models.Split {
	share := s.Config().ProtocolShareBPS
	protocol := Fee(fee, share)
	return models.Split{Protocol: protocol, Treasury: fee - protocol}
}

// Record books a charged quote: the movement counts toward the user's volume
// and the fee is added to the collected totals. Call it inside the ledger's
// commit so it shares the operation's transaction.
func (s *Service) Record(ctx context.Context, userID id.UserID, q models.Quote) error {
	if err := s.store.AddVolume(ctx, userID, q.Amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record volume")
	}
	if q.Fee == 0 {
		return nil
	}
	if err := s.store.AddCollected(ctx, q.Kind, s.SplitFee(q.Fee)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record collected fee")
	}
	if s.metrics != nil {
		s.metrics.AddCollected(string(q.Kind), q.Fee)
	}
	return nil
}

func (s *Service) Collected(ctx context.Context) (models.Collected, error) {
	c, err := s.store.Collected(ctx)
	if err != nil {
		return models.Collected{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load collected fees")
	}
	return c, nil
}

// UpdateFeeRate sets the base rate for kind. Rates above the kind's ceiling
// fail with FeeTooHigh and leave the prior rate in effect.
func (s *Service) UpdateFeeRate(ctx context.Context, kind models.Kind, bps uint32) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}
	ceiling, ok := kind.Ceiling()
	if !ok {
		return id.KindUnknownFeeKind.Errf("unknown fee kind %q", kind)
	}
	if bps > ceiling {
		return id.KindFeeTooHigh.Errf("%s rate %d bps exceeds ceiling %d bps", kind, bps, ceiling)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.RateBPS(kind)
	next := s.cfg.WithRate(kind, bps)
	next.UpdatedAt = requestcontext.Now(ctx)
	if err := s.commitConfig(ctx, next, string(kind), strconv.FormatUint(uint64(old), 10), strconv.FormatUint(uint64(bps), 10), audit.OpFeeRateUpdated); err != nil {
		return err
	}
	s.cfg = next
	if s.metrics != nil {
		s.metrics.SetRate(string(kind), bps)
	}
	return nil
}

// RegisterPolicy adds a rate policy. Volume policies with duplicate tier
// thresholds are rejected.
func (s *Service) RegisterPolicy(ctx context.Context, spec models.PolicySpec) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}
	spec.ID = strings.TrimSpace(spec.ID)
	p, err := policy.FromSpec(spec)
	if err != nil {
		return err
	}
	spec = p.Spec()
	spec.CreatedAt = requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[spec.ID]; exists {
		return id.KindDuplicatePolicy.Errf("policy %q already registered", spec.ID)
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SavePolicy(ctx, spec); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return id.KindDuplicatePolicy.Errf("policy %q already registered", spec.ID)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save fee policy")
		}
		return s.emit(ctx, audit.Event{
			Operation: string(audit.OpFeePolicyRegistered),
			FeeType:   "policy",
			NewValue:  spec.ID,
		})
	})
	if err != nil {
		return err
	}
	s.policies[spec.ID] = p
	audit.LogAudit(ctx, s.logger, string(audit.OpFeePolicyRegistered), "policy_id", spec.ID, "policy_type", string(spec.Type))
	return nil
}

// SelectPolicy switches the active rate policy for operations that start
// after the call returns.
func (s *Service) SelectPolicy(ctx context.Context, policyID string) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[policyID]; !ok {
		return id.KindUnknownPolicy.Errf("policy %q is not registered", policyID)
	}
	old := s.cfg.PolicyID
	next := s.cfg
	next.PolicyID = policyID
	next.UpdatedAt = requestcontext.Now(ctx)
	if err := s.commitConfig(ctx, next, "policy", old, policyID, audit.OpFeePolicySelected); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// Policies lists registered policies ordered by id.
func (s *Service) Policies() []models.PolicySpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PolicySpec, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Spec())
	}
	slices.SortFunc(out, func(a, b models.PolicySpec) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// commitConfig persists cfg and its audit record together. Caller holds mu.
func (s *Service) commitConfig(ctx context.Context, next models.Config, feeType, oldValue, newValue string, op audit.Operation) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SaveConfig(ctx, next); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save fee config")
		}
		return s.emit(ctx, audit.Event{
			Operation: string(op),
			FeeType:   feeType,
			OldValue:  oldValue,
			NewValue:  newValue,
		})
	})
	if err != nil {
		return err
	}
	audit.LogAudit(ctx, s.logger, string(op), "fee_type", feeType, "old_value", oldValue, "new_value", newValue)
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.publisher == nil {
		return nil
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.publisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record fee config change")
	}
	return nil
}

func (s *Service) publishRates() {
	if s.metrics == nil {
		return
	}
	for _, k := range []models.Kind{models.KindSpending, models.KindInvestment, models.KindSavings, models.KindProtocolShare} {
		s.metrics.SetRate(string(k), s.cfg.RateBPS(k))
	}
}

func requireOperator(ctx context.Context) error {
	if !requestcontext.IsOperator(ctx) {
		return id.KindUnauthorized.Err("operator privileges required")
	}
	return nil
}
