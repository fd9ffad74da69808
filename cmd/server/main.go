package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/twmb/franz-go/pkg/kgo"

	"spendwise/internal/admin"
	adaptermetrics "spendwise/internal/adapter/metrics"
	"spendwise/internal/adapter/registry"
	adaptermemory "spendwise/internal/adapter/store/memory"
	adapterpostgres "spendwise/internal/adapter/store/postgres"
	delegationhandler "spendwise/internal/delegation/handler"
	delegationservice "spendwise/internal/delegation/service"
	delegationstore "spendwise/internal/delegation/store"
	delegationmemory "spendwise/internal/delegation/store/memory"
	delegationredis "spendwise/internal/delegation/store/redis"
	"spendwise/internal/dispatch"
	dispatchhandler "spendwise/internal/dispatch/handler"
	feemetrics "spendwise/internal/fee/metrics"
	feeservice "spendwise/internal/fee/service"
	feememory "spendwise/internal/fee/store/memory"
	feepostgres "spendwise/internal/fee/store/postgres"
	"spendwise/internal/jobs"
	ledgerhandler "spendwise/internal/ledger/handler"
	"spendwise/internal/ledger/lock"
	ledgermetrics "spendwise/internal/ledger/metrics"
	"spendwise/internal/ledger/ports"
	ledgerservice "spendwise/internal/ledger/service"
	ledgermemory "spendwise/internal/ledger/store/memory"
	ledgerpostgres "spendwise/internal/ledger/store/postgres"
	"spendwise/internal/platform/config"
	"spendwise/internal/platform/httpserver"
	"spendwise/internal/platform/jwt"
	"spendwise/internal/platform/kafka"
	"spendwise/internal/platform/logger"
	"spendwise/internal/platform/metrics"
	"spendwise/internal/platform/postgres"
	"spendwise/internal/platform/redis"
	profilememory "spendwise/internal/profile/store/memory"
	profilepostgres "spendwise/internal/profile/store/postgres"
	transport "spendwise/internal/transport/http"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/audit/outbox"
	auditpublisher "spendwise/pkg/platform/audit/publisher"
	auditmemory "spendwise/pkg/platform/audit/store/memory"
	auditpostgres "spendwise/pkg/platform/audit/store/postgres"
	"spendwise/pkg/platform/tx"
)

// main wires infrastructure, services and transport, then runs until
// SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	ledger     ports.Store
	profiles   ports.ProfileStore
	fees       feeservice.Store
	adapters   registry.Store
	events     audit.Store
	tx         ledgerservice.TxRunner
	outbox     *auditpostgres.Store
	healthy    map[string]transport.HealthCheck
	closeFuncs []func() error
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	bootstrap, err := config.LoadBootstrap(cfg.BootstrapFile)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range st.closeFuncs {
			_ = closeFn()
		}
	}()

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var locker ports.Locker = lock.NewKeyed()
	var allowances delegationstore.Store = delegationmemory.New()
	if rc != nil {
		defer rc.Close()
		locker = lock.NewRedis(rc.Client, cfg.Ledger.LockTTL)
		allowances = delegationredis.New(rc.Client)
		st.healthy["redis"] = rc.Health
		log.Info("redis enabled: distributed ledger lock and delegate allowances")
	}

	publisherOpts := []auditpublisher.Option{auditpublisher.WithLogger(log)}
	if cfg.AuditBuffer > 0 {
		publisherOpts = append(publisherOpts, auditpublisher.WithAsyncBuffer(cfg.AuditBuffer))
	}
	publisher := auditpublisher.NewPublisher(st.events, publisherOpts...)
	defer publisher.Close()

	fees, err := feeservice.New(ctx, st.fees,
		feeservice.WithDefaults(feeDefaults(bootstrap)),
		feeservice.WithPositionChecker(st.ledger),
		feeservice.WithTxRunner(st.tx),
		feeservice.WithMetrics(feemetrics.New()),
		feeservice.WithAuditPublisher(publisher),
		feeservice.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("fee engine: %w", err)
	}
	if err := applyFeePolicies(ctx, fees, bootstrap); err != nil {
		return err
	}

	adapters, err := registry.New(st.adapters,
		registry.WithLogger(log),
		registry.WithAuditPublisher(publisher),
		registry.WithMetrics(adaptermetrics.New()),
		registry.WithTimeout(cfg.Ledger.AdapterTimeout),
		registry.WithBreakerThresholds(cfg.Ledger.BreakerFailures, cfg.Ledger.BreakerSuccesses),
	)
	if err != nil {
		return fmt.Errorf("adapter registry: %w", err)
	}
	if err := registerAdapters(ctx, adapters, bootstrap, cfg.Ledger.Asset, log); err != nil {
		return err
	}

	delegates, err := delegationservice.New(allowances,
		delegationservice.WithLogger(log),
		delegationservice.WithAuditPublisher(publisher),
	)
	if err != nil {
		return fmt.Errorf("delegation: %w", err)
	}

	ledger, err := ledgerservice.New(st.ledger, st.profiles, fees, adapters,
		ledgerservice.WithLogger(log),
		ledgerservice.WithAuditPublisher(publisher),
		ledgerservice.WithDelegates(delegates),
		ledgerservice.WithLocker(locker),
		ledgerservice.WithTxRunner(st.tx),
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithAsset(cfg.Ledger.Asset),
	)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	dispatcher, err := dispatch.New(ledger, dispatch.WithLogger(log))
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	relayErr := make(chan error, 1)
	if st.outbox != nil {
		producer, err := kafka.New(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		if producer != nil {
			defer producer.Close()
			st.healthy["kafka"] = func(ctx context.Context) error { return producer.Ping(ctx) }
			go runRelay(ctx, st, producer, cfg.Kafka, log, relayErr)
		}
	}

	scheduler := jobs.New(adapters, ledger, jobs.WithLogger(log))
	if err := scheduler.RegisterAll(cfg.Jobs.ProbeCron, cfg.Jobs.ValuationCron); err != nil {
		return err
	}
	scheduler.Start()

	router := transport.NewRouter(transport.Config{
		Logger:         log,
		JWT:            jwt.New(cfg.JWTSigningKey, cfg.JWTIssuer),
		AdminTokenHash: []byte(cfg.AdminTokenHash),
		User: []transport.Registrar{
			ledgerhandler.New(ledger, publisher, log),
			delegationhandler.New(delegates, log),
		},
		Admin: []transport.Registrar{
			admin.New(fees, adapters, publisher, cfg.Ledger.Asset, log),
			dispatchhandler.New(dispatcher, log, metrics.New()),
		},
		Health: st.healthy,
	})
	srv := httpserver.New(cfg.Addr, router, httpserver.WithWriteTimeout(cfg.WriteTimeout))

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting spendwise", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case err := <-relayErr:
		return fmt.Errorf("outbox relay: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (*stores, error) {
	st := &stores{healthy: map[string]transport.HealthCheck{}}
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set: using in-memory stores")
		st.ledger = ledgermemory.New()
		st.profiles = profilememory.New()
		st.fees = feememory.New()
		st.adapters = adaptermemory.New()
		st.events = auditmemory.NewInMemoryStore()
		st.tx = tx.JournalRunner{}
		return st, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	events := auditpostgres.New(db)
	st.ledger = ledgerpostgres.New(db)
	st.profiles = profilepostgres.New(db)
	st.fees = feepostgres.New(db)
	st.adapters = adapterpostgres.New(db)
	st.events = events
	st.outbox = events
	st.tx = tx.NewRunner(db)
	st.healthy["postgres"] = pinger(db)
	st.closeFuncs = append(st.closeFuncs, db.Close)
	return st, nil
}

func pinger(db *sql.DB) transport.HealthCheck {
	return db.PingContext
}

func runRelay(ctx context.Context, st *stores, producer *kgo.Client, cfg config.KafkaConfig, log *slog.Logger, errs chan<- error) {
	relay := outbox.New(st.outbox, producer, st.tx, cfg.Topic,
		outbox.WithLogger(log),
		outbox.WithBatchSize(cfg.RelayBatchSize),
		outbox.WithInterval(cfg.RelayInterval),
	)
	log.Info("outbox relay started", "topic", cfg.Topic)
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs <- err
	}
}
