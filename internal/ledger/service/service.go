// Package service implements the account ledger: spending buckets with lazy
// monthly windows, adapter-backed investment positions, savings goals and
// transfers between a user's own sub-accounts.
//
// Every mutation runs under the user's lock. An operation first reads state
// and performs any adapter call, building a changeset; only then does it
// commit the changeset, the profile total, fee records and events in one
// transaction. A failure at any step before commit leaves nothing behind.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/lock"
	"spendwise/internal/ledger/metrics"
	"spendwise/internal/ledger/models"
	"spendwise/internal/ledger/ports"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/platform/tx"
	"spendwise/pkg/requestcontext"
)

const (
	defaultAsset  = "USDC"
	maxBucketName = 64
	maxGoalName   = 128
	operatorActor = "operator"
)

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store     ports.Store
	profiles  ports.ProfileStore
	fees      ports.FeeEngine
	adapters  ports.AdapterRegistry
	delegates ports.Delegates
	locker    ports.Locker
	publisher ports.AuditPublisher
	tx        TxRunner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	asset     string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// WithDelegates enables delegate spends. Without it only owners spend.
func WithDelegates(d ports.Delegates) Option {
	return func(s *Service) { s.delegates = d }
}

func WithLocker(l ports.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithTxRunner(r TxRunner) Option {
	return func(s *Service) { s.tx = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAsset sets the token forwarded to adapters and recorded on events
// when a caller names none.
func WithAsset(asset string) Option {
	return func(s *Service) {
		if asset != "" {
			s.asset = asset
		}
	}
}

func New(store ports.Store, profiles ports.ProfileStore, fees ports.FeeEngine, adapters ports.AdapterRegistry, opts ...Option) (*Service, error) {
	if store == nil || profiles == nil || fees == nil || adapters == nil {
		return nil, fmt.Errorf("ledger store, profile store, fee engine and adapter registry are required")
	}
	s := &Service{
		store:    store,
		profiles: profiles,
		fees:     fees,
		adapters: adapters,
		locker:   lock.NewKeyed(),
		tx:       tx.JournalRunner{},
		logger:   slog.Default(),
		asset:    defaultAsset,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// op is the working state of one operation.
type op struct {
	s     *Service
	ctx   context.Context
	name  string
	user  id.UserID
	actor string
	now   time.Time

	profile profilemodels.Profile
	created bool
	touched bool
	// passive operations write state without counting as account activity.
	passive bool

	availLoaded bool
	available   int64

	delta  int64
	cs     models.Changeset
	events []audit.Event
	quotes []feemodels.Quote

	delegate      id.UserID
	delegateSpend int64
	delegateFrom  string

	compensations []func(ctx context.Context) error
}

// mutate runs fn under the user's lock and commits what it staged.
func (s *Service) mutate(ctx context.Context, name string, user id.UserID, actor string, fn func(o *op) error) error {
	start := time.Now()
	err := s.execute(ctx, name, user, actor, fn)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(id.KindOf(err))
		}
		s.metrics.ObserveOperation(name, outcome, time.Since(start))
	}
	return err
}

func (s *Service) execute(ctx context.Context, name string, user id.UserID, actor string, fn func(o *op) error) error {
	if user.IsNil() {
		return id.KindInvalidOperation.Err("user is required")
	}
	if err := ctx.Err(); err != nil {
		return id.KindCancelled.Wrap(err, "operation cancelled before start")
	}

	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, "user:"+user.String())
	if err != nil {
		if ctx.Err() != nil {
			return id.KindCancelled.Wrap(err, "cancelled waiting for user lock")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "user lock unavailable")
	}
	defer unlock()
	if s.metrics != nil {
		s.metrics.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}

	o := &op{s: s, ctx: ctx, name: name, user: user, actor: actor, now: requestcontext.Now(ctx)}
	if err := o.loadProfile(); err != nil {
		return err
	}
	if err := fn(o); err != nil {
		o.compensate()
		return err
	}
	if !o.touched {
		return nil
	}
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o.ctx = ctx
		return o.commit()
	}); err != nil {
		o.ctx = ctx
		o.compensate()
		return err
	}
	return nil
}

func (o *op) loadProfile() error {
	p, err := o.s.profiles.Get(o.ctx, o.user)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		o.profile = *profilemodels.New(o.user, o.now)
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	default:
		o.profile = *p
	}
	return nil
}

// initialize marks a first-time profile initialized. Every mutating path
// calls it, so profiles are created lazily by the first real operation.
func (o *op) initialize() {
	if o.profile.Initialized {
		return
	}
	o.profile.Initialized = true
	o.created = true
	o.touched = true
	o.event(audit.OpUserInitialized, "", "", 0, "")
}

// enable flips an account type on. Investment and savings flips are
// recorded as events.
func (o *op) enable(t profilemodels.AccountType) {
	o.initialize()
	if o.profile.AccountTypes.Has(t) {
		return
	}
	o.profile.AccountTypes = o.profile.AccountTypes.Add(t)
	o.touched = true
	switch t {
	case profilemodels.AccountInvestment:
		o.event(audit.OpInvestmentEnabled, t, "", 0, "")
	case profilemodels.AccountSavings:
		o.event(audit.OpSavingsEnabled, t, "", 0, "")
	}
}

func (o *op) event(operation audit.Operation, accountType profilemodels.AccountType, identifier string, amount int64, token string) {
	o.touched = true
	o.events = append(o.events, audit.Event{
		Operation:   string(operation),
		UserID:      o.user,
		AccountType: string(accountType),
		Identifier:  identifier,
		Amount:      amount,
		Token:       token,
		ActorID:     o.actor,
	})
}

// charge quotes the fee for a movement; it is recorded at commit.
func (o *op) charge(amount int64, kind feemodels.Kind) (feemodels.Quote, error) {
	q, err := o.s.fees.CalculateFee(o.ctx, amount, kind, o.user)
	if err != nil {
		return feemodels.Quote{}, err
	}
	o.quotes = append(o.quotes, q)
	return q, nil
}

func (o *op) loadAvailable() (int64, error) {
	if o.availLoaded {
		return o.available, nil
	}
	v, err := o.s.store.Available(o.ctx, o.user)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load liquid balance")
	}
	o.available = v
	o.availLoaded = true
	return v, nil
}

// setAvailable requires a prior loadAvailable.
func (o *op) setAvailable(v int64) {
	o.delta += v - o.available
	o.available = v
	staged := v
	o.cs.Available = &staged
	o.touched = true
}

func (o *op) putBucket(before int64, b models.Bucket) {
	o.delta += b.Balance - before
	o.cs.Buckets = append(o.cs.Buckets, b)
	o.touched = true
}

func (o *op) putPosition(before int64, p models.Position) {
	o.delta += p.Principal - before
	o.cs.Positions = append(o.cs.Positions, p)
	o.touched = true
}

func (o *op) deletePosition(p models.Position) {
	o.delta -= p.Principal
	o.cs.DeletedPositions = append(o.cs.DeletedPositions, p.ID)
	o.touched = true
}

func (o *op) putGoal(before int64, g models.Goal) {
	o.delta += g.CurrentAmount - before
	o.cs.Goals = append(o.cs.Goals, g)
	o.touched = true
}

// onAbort registers an undo for an external side effect, run when the
// operation fails after the effect happened.
func (o *op) onAbort(fn func(ctx context.Context) error) {
	o.compensations = append(o.compensations, fn)
}

func (o *op) compensate() {
	ctx := tx.Detach(o.ctx)
	for i := len(o.compensations) - 1; i >= 0; i-- {
		if err := o.compensations[i](ctx); err != nil {
			o.s.logger.ErrorContext(ctx, "compensation failed; adapter holds unbooked funds",
				"op", o.name, "user_id", o.user.String(), "error", err)
		}
	}
}

func (o *op) commit() error {
	total := o.profile.TotalBalance + o.delta
	if total < 0 {
		return id.KindInvariantViolation.Errf("total balance would become %d", total)
	}
	if err := o.check(); err != nil {
		return err
	}

	if !o.delegate.IsNil() {
		if err := o.s.delegates.Consume(o.ctx, o.delegate, o.user, o.delegateFrom, o.delegateSpend); err != nil {
			return err
		}
		delegate, amount := o.delegate, o.delegateSpend
		o.onAbort(func(ctx context.Context) error {
			return o.s.delegates.Restore(ctx, delegate, o.user, amount)
		})
	}
	if !o.cs.Empty() {
		if err := o.s.store.Apply(o.ctx, o.user, o.cs); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save ledger changes")
		}
	}

	o.profile.TotalBalance = total
	if !o.passive {
		o.profile.LastActivity = o.now
	}
	if err := o.s.profiles.Save(o.ctx, o.profile); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save profile")
	}

	for _, q := range o.quotes {
		if err := o.s.fees.Record(o.ctx, o.user, q); err != nil {
			return err
		}
		if q.Fee > 0 {
			o.event(audit.OpFeeCollected, feeAccount(q.Kind), string(q.Kind), q.Fee, o.s.asset)
		}
	}
	return o.emit()
}

// check guards entity invariants before anything is written.
func (o *op) check() error {
	if o.cs.Available != nil && *o.cs.Available < 0 {
		return id.KindInvariantViolation.Err("liquid balance would become negative")
	}
	for _, b := range o.cs.Buckets {
		if b.Balance < 0 || b.MonthlySpent < 0 {
			return id.KindInvariantViolation.Errf("bucket %q would hold negative values", b.Name)
		}
		if b.Active && b.MonthlySpent > b.MonthlyLimit {
			return id.KindInvariantViolation.Errf("bucket %q would exceed its monthly limit", b.Name)
		}
	}
	for _, p := range o.cs.Positions {
		if p.Shares <= 0 || p.Principal < 0 {
			return id.KindInvariantViolation.Errf("position %s would hold invalid amounts", p.ID)
		}
	}
	for _, g := range o.cs.Goals {
		if g.CurrentAmount < 0 || g.Shares < 0 {
			return id.KindInvariantViolation.Errf("goal %s would hold negative values", g.ID)
		}
	}
	return nil
}

func (o *op) emit() error {
	if o.s.publisher == nil {
		return nil
	}
	requestID := requestcontext.RequestID(o.ctx)
	for _, e := range o.events {
		e.Timestamp = o.now
		e.RequestID = requestID
		if err := o.s.publisher.Emit(o.ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ledger event")
		}
	}
	audit.LogAudit(o.ctx, o.s.logger, o.name, "user_id", o.user.String(), "events", len(o.events))
	return nil
}

func feeAccount(k feemodels.Kind) profilemodels.AccountType {
	switch k {
	case feemodels.KindInvestment:
		return profilemodels.AccountInvestment
	case feemodels.KindSavings:
		return profilemodels.AccountSavings
	default:
		return profilemodels.AccountSpending
	}
}

// authorizeOwner admits the user themself or an operator. The returned
// actor is recorded on events when someone other than the user acts.
func authorizeOwner(ctx context.Context, user id.UserID) (string, error) {
	caller := requestcontext.UserID(ctx)
	if !caller.IsNil() && caller == user {
		return "", nil
	}
	if requestcontext.IsOperator(ctx) {
		return operatorActor, nil
	}
	return "", id.KindUnauthorized.Err("caller may not act on this account")
}

func positive(amount int64) error {
	if amount <= 0 {
		return id.KindInvalidAmount.Errf("amount must be positive, got %d", amount)
	}
	return nil
}

func (s *Service) token(token string) string {
	if token == "" {
		return s.asset
	}
	return token
}

// mulDiv returns a*b/c truncated, without overflowing int64 intermediates.
func mulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	return decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)).Div(decimal.NewFromInt(c)).Truncate(0).IntPart()
}
