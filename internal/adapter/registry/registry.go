// Package registry owns the set of yield adapters. It hands out guarded
// adapter handles: every call runs under a timeout, a trace span and a
// per-adapter circuit breaker, and any venue failure surfaces as
// AdapterUnavailable.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"spendwise/internal/adapter/metrics"
	"spendwise/internal/adapter/models"
	"spendwise/internal/adapter/ports"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/circuit"
	"spendwise/pkg/platform/sentinel"
	"spendwise/pkg/platform/tx"
	"spendwise/pkg/requestcontext"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultProbeLimit  = 4
	tracerName         = "spendwise/adapter"
	defaultFailures    = 3
	defaultRecoveryRun = 2
)

type (
	Store          = ports.Store
	AuditPublisher = ports.AuditPublisher
)

type entry struct {
	desc    models.Descriptor
	adapter models.ProtocolAdapter
	breaker *circuit.Breaker

	mu          sync.Mutex
	lastProbeAt *time.Time
	lastError   string
}

func (e *entry) noteProbe(at time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastProbeAt = &at
	e.lastError = ""
	if err != nil {
		e.lastError = err.Error()
	}
}

type Registry struct {
	store      Store
	publisher  AuditPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	failures   int
	successes  int
	probeLimit int

	mu      sync.RWMutex
	entries map[id.AdapterID]*entry
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Registry) { r.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTimeout bounds every adapter call.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreakerThresholds sets consecutive failures to open and consecutive
// successes to close each adapter's breaker.
func WithBreakerThresholds(failures, successes int) Option {
	return func(r *Registry) {
		r.failures = failures
		r.successes = successes
	}
}

// WithProbeConcurrency caps parallel health probes.
func WithProbeConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.probeLimit = n
		}
	}
}

func New(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("adapter store is required")
	}
	r := &Registry{
		store:      store,
		logger:     slog.Default(),
		timeout:    defaultTimeout,
		failures:   defaultFailures,
		successes:  defaultRecoveryRun,
		probeLimit: defaultProbeLimit,
		entries:    make(map[id.AdapterID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register attaches a live adapter under d. A descriptor already persisted
// under the same id (from an earlier process) keeps its active state and
// registration time; registering an id twice in one process fails with
// DuplicateAdapter.
func (r *Registry) Register(ctx context.Context, d models.Descriptor, adapter models.ProtocolAdapter) (models.Descriptor, error) {
	if err := requireOperator(ctx); err != nil {
		return models.Descriptor{}, err
	}
	if adapter == nil {
		return models.Descriptor{}, dErrors.New(dErrors.CodeValidation, "adapter implementation is required")
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return models.Descriptor{}, dErrors.New(dErrors.CodeValidation, "adapter name is required")
	}
	if d.Kind == "" {
		d.Kind = models.KindVault
	}
	if d.ID.IsNil() {
		d.ID = id.NewAdapterID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.ID]; exists {
		return models.Descriptor{}, id.KindDuplicateAdapter.Errf("adapter %s already registered", d.ID)
	}

	existing, err := r.store.Get(ctx, d.ID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		d.Active = true
		d.DeactivatedAt = nil
		d.RegisteredAt = requestcontext.Now(ctx)
		if err := r.store.Save(ctx, d); err != nil {
			return models.Descriptor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save adapter")
		}
		r.emit(ctx, audit.Event{
			Operation:  string(audit.OpAdapterRegistered),
			Identifier: d.ID.String(),
			NewValue:   d.Name,
		})
		audit.LogAudit(ctx, r.logger, string(audit.OpAdapterRegistered), "adapter_id", d.ID.String(), "name", d.Name, "kind", string(d.Kind))
	case err != nil:
		return models.Descriptor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load adapter")
	default:
		d.Active = existing.Active
		d.DeactivatedAt = existing.DeactivatedAt
		d.RegisteredAt = existing.RegisteredAt
		if err := r.store.Save(ctx, d); err != nil {
			return models.Descriptor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save adapter")
		}
		r.logger.InfoContext(ctx, "adapter reattached", "adapter_id", d.ID.String(), "active", d.Active)
	}

	r.entries[d.ID] = &entry{
		desc:    d,
		adapter: adapter,
		breaker: circuit.New(d.ID.String(),
			circuit.WithFailureThreshold(r.failures),
			circuit.WithSuccessThreshold(r.successes)),
	}
	if r.metrics != nil {
		r.metrics.SetCircuit(d.Name, false)
	}
	return d, nil
}

// Deactivate blocks new deposits. Existing positions remain withdrawable.
func (r *Registry) Deactivate(ctx context.Context, adapterID id.AdapterID) error {
	return r.setActive(ctx, adapterID, false)
}

// Reactivate re-enables deposits and resets the breaker.
func (r *Registry) Reactivate(ctx context.Context, adapterID id.AdapterID) error {
	return r.setActive(ctx, adapterID, true)
}

func (r *Registry) setActive(ctx context.Context, adapterID id.AdapterID, active bool) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[adapterID]
	if !ok {
		return id.KindAdapterNotFound.Errf("adapter %s is not registered", adapterID)
	}
	if e.desc.Active == active {
		return nil
	}

	var deactivatedAt *time.Time
	op := audit.OpAdapterReactivated
	if !active {
		now := requestcontext.Now(ctx)
		deactivatedAt = &now
		op = audit.OpAdapterDeactivated
	}
	if err := r.store.SetActive(ctx, adapterID, active, deactivatedAt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update adapter")
	}
	e.desc.Active = active
	e.desc.DeactivatedAt = deactivatedAt
	if active {
		e.breaker.Reset()
		if r.metrics != nil {
			r.metrics.SetCircuit(e.desc.Name, false)
		}
	}

	r.emit(ctx, audit.Event{
		Operation:  string(op),
		Identifier: adapterID.String(),
		OldValue:   fmt.Sprint(!active),
		NewValue:   fmt.Sprint(active),
	})
	audit.LogAudit(ctx, r.logger, string(op), "adapter_id", adapterID.String())
	return nil
}

// Descriptor returns the registry's record for adapterID.
func (r *Registry) Descriptor(adapterID id.AdapterID) (models.Descriptor, error) {
	e, err := r.lookup(adapterID)
	if err != nil {
		return models.Descriptor{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.desc, nil
}

// Resolve returns a guarded handle regardless of active state, so positions
// on deactivated adapters can still be withdrawn.
func (r *Registry) Resolve(adapterID id.AdapterID) (models.ProtocolAdapter, error) {
	e, err := r.lookup(adapterID)
	if err != nil {
		return nil, err
	}
	return &guarded{r: r, e: e}, nil
}

// ResolveForDeposit is Resolve restricted to adapters that are active and
// whose breaker is closed.
func (r *Registry) ResolveForDeposit(adapterID id.AdapterID) (models.ProtocolAdapter, error) {
	e, err := r.lookup(adapterID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	active := e.desc.Active
	r.mu.RUnlock()
	if !active {
		return nil, id.KindAdapterInactive.Errf("adapter %s is deactivated", adapterID)
	}
	if e.breaker.IsOpen() {
		return nil, id.KindAdapterInactive.Errf("adapter %s is failing health checks", adapterID)
	}
	return &guarded{r: r, e: e}, nil
}

func (r *Registry) lookup(adapterID id.AdapterID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[adapterID]
	if !ok {
		return nil, id.KindAdapterNotFound.Errf("adapter %s is not registered", adapterID)
	}
	return e, nil
}

// List reports every registered adapter with its live health, in
// registration order.
func (r *Registry) List() []models.Status {
	r.mu.RLock()
	out := make([]models.Status, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, models.Status{
			Descriptor:  e.desc,
			Circuit:     e.breaker.State().String(),
			LastProbeAt: e.lastProbeAt,
			LastError:   e.lastError,
		})
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Status) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// Probe checks every adapter's Info concurrently. A venue reporting itself
// inactive counts as a failure for its breaker.
func (r *Registry) Probe(ctx context.Context) []models.ProbeResult {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	results := make([]models.ProbeResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.probeLimit)
	for i, e := range entries {
		g.Go(func() error {
			err := r.call(gctx, e, "probe", func(ctx context.Context) error {
				info, err := e.adapter.Info(ctx)
				if err != nil {
					return err
				}
				if !info.Active {
					return errVenuePaused
				}
				return nil
			})
			e.noteProbe(requestcontext.Now(ctx), err)
			res := models.ProbeResult{
				AdapterID: e.desc.ID,
				Healthy:   err == nil,
				Circuit:   e.breaker.State().String(),
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b models.ProbeResult) int {
		return strings.Compare(a.AdapterID.String(), b.AdapterID.String())
	})
	return results
}

var errVenuePaused = errors.New("venue reports inactive")

// call runs fn against the venue with a timeout, a span and breaker
// accounting. Failures come back as AdapterUnavailable, or Cancelled when the
// caller's own context ended.
func (r *Registry) call(ctx context.Context, e *entry, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	callCtx, span := otel.Tracer(tracerName).Start(callCtx, "adapter."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("adapter.id", e.desc.ID.String()),
		attribute.String("adapter.name", e.desc.Name),
		attribute.String("adapter.kind", string(e.desc.Kind)),
	)

	start := time.Now()
	err := fn(callCtx)
	if r.metrics != nil {
		r.metrics.ObserveCall(e.desc.Name, op, err, time.Since(start))
	}

	if err == nil {
		if _, change := e.breaker.RecordSuccess(); change.Closed {
			r.circuitChanged(ctx, e, audit.OpAdapterCircuitClosed)
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ctx.Err() != nil {
		return id.KindCancelled.Wrap(err, fmt.Sprintf("adapter %s %s cancelled", e.desc.Name, op))
	}
	if _, change := e.breaker.RecordFailure(); change.Opened {
		r.circuitChanged(ctx, e, audit.OpAdapterCircuitOpened)
	}
	r.logger.WarnContext(ctx, "adapter call failed",
		"adapter_id", e.desc.ID.String(),
		"op", op,
		"error", err,
	)
	return id.KindAdapterUnavailable.Wrap(err, fmt.Sprintf("adapter %s failed to %s", e.desc.Name, op))
}

// circuitChanged records a breaker transition outside any caller
// transaction so it survives a rolled-back operation.
func (r *Registry) circuitChanged(ctx context.Context, e *entry, op audit.Operation) {
	if r.metrics != nil {
		r.metrics.SetCircuit(e.desc.Name, op == audit.OpAdapterCircuitOpened)
	}
	ctx = tx.Detach(ctx)
	r.emit(ctx, audit.Event{
		Operation:  string(op),
		Identifier: e.desc.ID.String(),
	})
	audit.LogAudit(ctx, r.logger, string(op), "adapter_id", e.desc.ID.String(), "name", e.desc.Name)
}

// emit records an event. Registry events are informational; a failed emit
// is logged and does not undo the change.
func (r *Registry) emit(ctx context.Context, event audit.Event) {
	if r.publisher == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := r.publisher.Emit(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to emit adapter event", "operation", event.Operation, "error", err)
	}
}

func requireOperator(ctx context.Context) error {
	if !requestcontext.IsOperator(ctx) {
		return id.KindUnauthorized.Err("operator privileges required")
	}
	return nil
}

// guarded is the handle returned by Resolve.
type guarded struct {
	r *Registry
	e *entry
}

func (g *guarded) Deposit(ctx context.Context, asset string, amount int64) (int64, error) {
	var shares int64
	err := g.r.call(ctx, g.e, "deposit", func(ctx context.Context) error {
		s, err := g.e.adapter.Deposit(ctx, asset, amount)
		if err == nil && s <= 0 {
			err = fmt.Errorf("venue minted %d shares", s)
		}
		shares = s
		return err
	})
	return shares, err
}

func (g *guarded) Withdraw(ctx context.Context, shares int64) (int64, error) {
	var amount int64
	err := g.r.call(ctx, g.e, "withdraw", func(ctx context.Context) error {
		a, err := g.e.adapter.Withdraw(ctx, shares)
		if err == nil && a < 0 {
			err = fmt.Errorf("venue returned negative amount %d", a)
		}
		amount = a
		return err
	})
	return amount, err
}

func (g *guarded) Balance(ctx context.Context, account string) (int64, error) {
	var bal int64
	err := g.r.call(ctx, g.e, "balance", func(ctx context.Context) error {
		b, err := g.e.adapter.Balance(ctx, account)
		bal = b
		return err
	})
	return bal, err
}

func (g *guarded) APY(ctx context.Context) (decimal.Decimal, error) {
	var apy decimal.Decimal
	err := g.r.call(ctx, g.e, "apy", func(ctx context.Context) error {
		a, err := g.e.adapter.APY(ctx)
		apy = a
		return err
	})
	return apy, err
}

func (g *guarded) Info(ctx context.Context) (models.Info, error) {
	var info models.Info
	err := g.r.call(ctx, g.e, "info", func(ctx context.Context) error {
		i, err := g.e.adapter.Info(ctx)
		info = i
		return err
	})
	return info, err
}
