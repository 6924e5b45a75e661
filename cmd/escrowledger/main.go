package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"EscrowLedger/internal/config"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Health components that must all report ready before /readyz passes.
const (
	componentCore        = "core"
	componentPersistence = "persistence"
	componentNATS        = "nats"
	componentGRPC        = "grpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := observability.NewLogger("main")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)
	logger.Info().Str("asset", cfg.Asset).Msg("EscrowLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// serveCtx bounds everything that feeds the core; coreCtx outlives it so
	// the final snapshot can still run on the core goroutine.
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	coreCtx, cancelCore := context.WithCancel(context.Background())
	defer cancelCore()
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(serveCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", level))
	if err := migrator.Up(serveCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(componentCore, componentPersistence, componentNATS, componentGRPC)

	// --- Channels ---
	// The persist channel blocks the core when full; the projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	requests := make(chan core.Request, cfg.RequestChanSize)

	// --- Deterministic core ---
	deterministicCore, err := core.NewDeterministicCore(core.Options{
		Asset:       cfg.Asset,
		LRUCapacity: cfg.IdempotencyLRUCapacity,
		DBChecker:   persistence.NewPostgresIdempotencyChecker(db, cfg.IdempotencyDBTimeout),
		Metrics:     metrics,
		Logger:      observability.NewLoggerWithLevel("core", level),
	}, persistChan, projectionChan)
	if err != nil {
		logger.Fatal().Err(err).Msg("create core")
	}

	var workers sync.WaitGroup

	// 1. Projection worker. Started before recovery so replayed outputs
	// refresh the read model.
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.NewLoggerWithLevel("projection", level))
	workers.Add(1)
	go func() {
		defer workers.Done()
		projWorker.Run(workerCtx)
	}()

	// --- Recovery: snapshot + log replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverCore(serveCtx, deterministicCore, snapMgr, metrics, observability.NewLoggerWithLevel("recovery", level)); err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}
	startSequence := deterministicCore.GetSequence()

	errChan := make(chan error, 16)

	// 2. Core loop. Nothing touches deterministicCore directly from here on.
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		if err := deterministicCore.Run(coreCtx, requests); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("core: %w", err)
		}
	}()
	submitter := core.NewSubmitter(requests, coreDone)
	healthChecker.SetComponent(componentCore, true)

	// 3. Persistence worker. Committed escrow events fan out to the publisher.
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLoggerWithLevel("persistence", level))
	persistWorker.OnCommit(func(outputs []core.CoreOutput) {
		for _, out := range outputs {
			if out.Event == nil {
				continue
			}
			select {
			case publishChan <- ingestion.PublishableEvent{
				Sequence:  out.Envelope.Sequence,
				StateHash: hex.EncodeToString(out.Envelope.StateHash[:]),
				Event:     *out.Event,
			}:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	})
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence: %w", err)
		}
	}()
	healthChecker.SetComponent(componentPersistence, true)

	// --- NATS ---
	natsLogger := observability.NewLoggerWithLevel("nats", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(serveCtx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(serveCtx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, metrics, natsLogger)
	if err := natsSubscriber.Subscribe(serveCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	healthChecker.SetComponent(componentNATS, true)

	// 4. NATS -> core dispatcher. Ledger time and admin credentials are
	// checked at ingress for every transport.
	ingressClock := ingestion.NewIngressClock(cfg.MaxClockSkew)
	adminAuth := ingestion.NewAdminAuth(cfg.AdminToken)
	if !adminAuth.Enabled() {
		logger.Warn().Msg("ESCROW_ADMIN_TOKEN not set, deposits and withdrawals are disabled")
	}
	dispatcher := ingestion.NewDispatcher(ingestion.DefaultSubjects(), submitter, ingressClock, adminAuth, metrics,
		observability.NewLoggerWithLevel("dispatcher", level))
	go func() {
		dispatcher.Run(serveCtx, rawEventChan)
	}()

	// 5. Outbound publisher. Runs on workerCtx so commits made during
	// shutdown still go out.
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, natsLogger)
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		outboundPublisher.Run(workerCtx)
	}()

	// --- Services ---
	snaps := newSnapshotter(submitter, snapMgr, metrics, observability.NewLoggerWithLevel("snapshot", level), startSequence)
	srv := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Ingest:        ingestion.NewGRPCIngestService(submitter, ingressClock),
		Admin:         adminAuth,
		Query:         query.NewQueryService(submitter, db, metrics),
		Snapshots:     snaps,
		HealthChecker: healthChecker,
		Logger:        observability.NewLoggerWithLevel("server", level),
	})

	// 6. gRPC server
	go func() {
		if err := srv.StartGRPC(serveCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 7. HTTP/JSON gateway
	go func() {
		if err := srv.StartHTTPGateway(serveCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 8. Periodic snapshots
	go snaps.runPeriodic(serveCtx, cfg.SnapshotCheckEvery, cfg.SnapshotInterval)

	// 9. Channel utilization sampler
	go sampleChannels(serveCtx, metrics, submitter, persistChan, projectionChan, publishChan, rawEventChan)

	// 10. Prometheus metrics server
	go func() {
		if err := serveMetrics(serveCtx, cfg.MetricsAddr, logger); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetComponent(componentGRPC, true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", startSequence).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("EscrowLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, snapshot on the still-running core, stop the core, then
	// let the workers drain what it emitted.
	srv.SetServing(false)
	healthChecker.SetReady(false)
	natsSubscriber.Stop()
	cancelServe()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	finalSnap, snapErr := snaps.capture(shutdownCtx)

	cancelCore()
	<-coreDone
	close(persistChan)
	close(projectionChan)

	// The persistence and projection workers flush and return once their
	// channel is closed.
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not drain before shutdown timeout")
	}

	if snapErr != nil {
		logger.Error().Err(snapErr).Msg("final snapshot failed")
	} else if err := snaps.store(shutdownCtx, finalSnap); err != nil {
		logger.Error().Err(err).Msg("final snapshot not stored")
	} else {
		logger.Info().Int64("sequence", finalSnap.Sequence).Msg("final snapshot saved")
	}

	cancelWorkers()
	<-publisherDone
	logger.Info().Msg("EscrowLedger shutdown complete")
}

// sampleChannels publishes queue depth gauges once a second.
func sampleChannels(
	ctx context.Context,
	metrics *observability.Metrics,
	submitter *core.Submitter,
	persistChan chan core.CoreOutput,
	projectionChan chan core.CoreOutput,
	publishChan chan ingestion.PublishableEvent,
	rawChan chan ingestion.RawEvent,
) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, capacity := submitter.Pending()
			metrics.SetChannelMetrics("requests", size, capacity)
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
			metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			metrics.SetChannelMetrics("ingest", len(rawChan), cap(rawChan))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
