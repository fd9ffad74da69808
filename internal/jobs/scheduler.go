// Package jobs runs the periodic operator tasks: adapter health probes and
// valuation refreshes for every user holding positions.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	adaptermodels "spendwise/internal/adapter/models"
	id "spendwise/pkg/domain"
	"spendwise/pkg/requestcontext"
)

type Prober interface {
	Probe(ctx context.Context) []adaptermodels.ProbeResult
}

type Valuer interface {
	PositionHolders(ctx context.Context) ([]id.UserID, error)
	RefreshValuations(ctx context.Context, user id.UserID) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	prober  Prober
	valuer  Valuer
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithTimeout bounds a single job run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(prober Prober, valuer Valuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		prober:  prober,
		valuer:  valuer,
		logger:  slog.Default(),
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return s
}

// RegisterAll schedules both jobs. Specs use the six-field form with seconds.
func (s *Scheduler) RegisterAll(probeSpec, valuationSpec string) error {
	if _, err := s.cron.AddFunc(probeSpec, func() { s.run("adapter_probe", s.ProbeAdapters) }); err != nil {
		return fmt.Errorf("register probe job: %w", err)
	}
	if _, err := s.cron.AddFunc(valuationSpec, func() { s.run("valuation_refresh", s.RefreshValuations) }); err != nil {
		return fmt.Errorf("register valuation job: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Info("job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
}

// ProbeAdapters checks every registered adapter once.
func (s *Scheduler) ProbeAdapters(ctx context.Context) error {
	unhealthy := 0
	for _, r := range s.prober.Probe(operatorContext(ctx)) {
		if !r.Healthy {
			unhealthy++
			s.logger.WarnContext(ctx, "adapter unhealthy", "adapter_id", r.AdapterID.String(), "circuit", r.Circuit, "error", r.Error)
		}
	}
	if unhealthy > 0 {
		s.logger.InfoContext(ctx, "adapter probe complete", "unhealthy", unhealthy)
	}
	return nil
}

// RefreshValuations revalues each position holder in turn. A failing user
// is logged and skipped.
func (s *Scheduler) RefreshValuations(ctx context.Context) error {
	ctx = operatorContext(ctx)
	users, err := s.valuer.PositionHolders(ctx)
	if err != nil {
		return fmt.Errorf("list position holders: %w", err)
	}
	refreshed := 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.valuer.RefreshValuations(ctx, user)
		if err != nil {
			s.logger.WarnContext(ctx, "valuation refresh failed", "user_id", user.String(), "error", err)
			continue
		}
		refreshed += n
	}
	s.logger.InfoContext(ctx, "valuations refreshed", "users", len(users), "positions", refreshed)
	return nil
}

func operatorContext(ctx context.Context) context.Context {
	return requestcontext.WithOperator(requestcontext.WithTime(ctx, time.Now()))
}
