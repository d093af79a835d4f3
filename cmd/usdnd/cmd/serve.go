package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"UsdnLedger/internal/config"
	"UsdnLedger/internal/core"
	"UsdnLedger/internal/event"
	"UsdnLedger/internal/ingestion"
	"UsdnLedger/internal/ledger"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/oracle"
	"UsdnLedger/internal/persistence"
	"UsdnLedger/internal/projection"
	"UsdnLedger/internal/query"
	"UsdnLedger/internal/rewards"
	"UsdnLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	sequencerBuffer  = 1024
	projectionBuffer = 4096
	hubBuffer        = 1024
	priceDurable     = "usdnd-prices"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServiceConfig()
			if err != nil {
				return err
			}
			logger := observability.NewFileLogger("usdnd", observability.ParseLogLevel(cfg.LogLevel),
				observability.LogFileConfig{Path: cfg.LogFile})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// tasks runs goroutines in shutdown stages. The first failure is reported
// on errc.
type tasks struct {
	logger zerolog.Logger
	errc   chan error
}

func (t *tasks) start(wg *sync.WaitGroup, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := fn()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		t.logger.Error().Err(err).Str("task", name).Msg("task failed")
		select {
		case t.errc <- fmt.Errorf("%s: %w", name, err):
		default:
		}
	}()
}

func serve(ctx context.Context, cfg *config.ServiceConfig, logger zerolog.Logger) error {
	logger.Info().Str("oracle_mode", cfg.OracleMode).Msg("usdnd starting")

	params, err := config.LoadProtocolFile(cfg.ProtocolFile)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Postgres ---
	var (
		db       *sql.DB
		store    persistence.CheckpointStore
		eventLog *persistence.EventLogWriter
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres open: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		if err := persistence.NewMigrator(db, nil, logger).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		store = persistence.NewSnapshotStore(db)
		eventLog = persistence.NewEventLogWriter(db)
		health.AddCheck("postgres", db.PingContext)
		logger.Info().Msg("postgres connected")
	} else {
		logger.Warn().Msg("no USDN_POSTGRES_DSN: state is not persisted")
	}

	// --- Redis ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		if store != nil {
			store = persistence.NewCachedSnapshotStore(store, rdb, cfg.SnapshotCacheTTL, metrics, logger)
		}
	}

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := ingestion.EnsureStreams(ctx, stream, logger); err != nil {
			return err
		}
		js = stream
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		})
	}

	// --- Oracle ---
	var (
		priceOracle core.Oracle
		prices      query.PriceSource
		feed        *oracle.Feed
	)
	switch cfg.OracleMode {
	case config.OracleModeFeed:
		feed = oracle.NewFeed(cfg.OracleMaxAge)
		priceOracle, prices = feed, feed
	case config.OracleModeHTTP:
		priceOracle = oracle.NewHTTPOracle(cfg.OracleURL)
	}

	// --- Event sinks ---
	projections := projection.NewWorker(projectionBuffer, cfg.HistoryCapacity, metrics, logger)
	hub := server.NewEventHub(hubBuffer, metrics, logger)
	sinks := event.MultiSink{projections, hub}

	var logWorker *persistence.EventLogWorker
	if db != nil {
		logWorker = persistence.NewEventLogWorker(db, cfg.EventBatchSize, cfg.EventFlush, metrics, logger)
		sinks = append(event.MultiSink{logWorker}, sinks...)
	}
	var publisher *ingestion.EventPublisher
	if js != nil {
		publisher = ingestion.NewEventPublisher(js, metrics, logger)
		sinks = append(sinks, publisher)
	}

	// --- Engine ---
	bank := ledger.NewBank()
	engineLogger := logger.With().Str("component", "engine").Logger()
	engine, err := core.NewEngine(params, core.Dependencies{
		Oracle:  priceOracle,
		Custody: bank,
		Stable:  bank,
		Rewards: rewards.NewTickBounty(rewards.DefaultConfig()),
		Sink:    sinks,
		Logger:  &engineLogger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	// --- Recovery ---
	if store != nil {
		cp, err := store.LoadLatest(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			if err := bank.Restore(cp.Bank); err != nil {
				return err
			}
			if err := engine.Restore(cp.Engine); err != nil {
				return err
			}
			logger.Info().Uint64("sequence", engine.Sequence()).Time("taken_at", cp.TakenAt).Msg("checkpoint restored")
		} else {
			logger.Info().Msg("no checkpoint, cold start")
		}
		if err := bank.ValidateCollateral(engine.AccountedCollateral()); err != nil {
			return fmt.Errorf("restored state: %w", err)
		}

		dropped, err := eventLog.TruncateAfter(ctx, engine.Sequence())
		if err != nil {
			return err
		}
		if dropped > 0 {
			logger.Warn().Int64("events", dropped).Uint64("sequence", engine.Sequence()).
				Msg("discarded events past the checkpoint")
		}
		n, err := projections.Rebuild(ctx, eventLog, 0)
		if err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
		logger.Info().Int("events", n).Msg("projections rebuilt")
	}

	startSeq := engine.Sequence()
	seq := core.NewSequencer(engine, sequencerBuffer, logger)

	var snapshotter *persistence.Snapshotter
	if store != nil {
		capture := func(ctx context.Context) (*persistence.Checkpoint, error) {
			var cp *persistence.Checkpoint
			err := seq.Do(ctx, func(e *core.Engine) error {
				snap, err := e.Snapshot()
				if err != nil {
					return err
				}
				cp = &persistence.Checkpoint{Engine: snap, Bank: bank.Snapshot(), TakenAt: time.Now().UTC()}
				return nil
			})
			return cp, err
		}
		snapshotter = persistence.NewSnapshotter(store, capture, cfg.SnapshotInterval, metrics, logger)
	}

	// --- API ---
	qs := query.NewQueryService(seq, bank, projections, prices, eventLogSource(eventLog))

	var idemStore server.ResponseStore
	if rdb != nil {
		idemStore = server.NewRedisResponseStore(rdb, cfg.IdempotencyTTL)
	}
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, server.HTTPDeps{
		Sequencer:   seq,
		Bank:        bank,
		Query:       qs,
		Hub:         hub,
		Idempotency: server.NewIdempotencyChecker(cfg.IdempotencyCapacity, idemStore, metrics, logger),
		Health:      health,
		Metrics:     metrics,
		Logger:      logger,
		Faucet:      cfg.EnableFaucet,
	})
	grpcDeps := server.GRPCDeps{
		Query:       qs,
		Snapshotter: snapshotter,
		Projections: projections,
		Metrics:     metrics,
		Logger:      logger,
	}
	if eventLog != nil {
		grpcDeps.EventLog = eventLog
	}
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, grpcDeps)

	// --- Start goroutines ---
	// Shutdown order: services and the snapshotter first (the final
	// snapshot still needs the sequencer), then the sequencer, then sinks
	// so the last events are flushed.
	t := &tasks{logger: logger, errc: make(chan error, 1)}
	var sinkWG, seqWG, svcWG sync.WaitGroup

	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	t.start(&sinkWG, "projections", func() error { return projections.Run(sinkCtx) })
	t.start(&sinkWG, "ws-hub", func() error { return hub.Run(sinkCtx) })
	if logWorker != nil {
		t.start(&sinkWG, "event-log", func() error { return logWorker.Run(sinkCtx) })
	}
	if publisher != nil {
		t.start(&sinkWG, "event-publisher", func() error { return publisher.Run(sinkCtx) })
	}

	seqCtx, stopSeq := context.WithCancel(context.Background())
	defer stopSeq()
	t.start(&seqWG, "sequencer", func() error { return seq.Run(seqCtx) })

	svcCtx, stopSvc := context.WithCancel(ctx)
	defer stopSvc()
	if feed != nil {
		sub := ingestion.NewPriceSubscriber(js, feed, metrics, logger)
		if err := sub.Subscribe(svcCtx, priceDurable); err != nil {
			return err
		}
		defer sub.Stop()
	}
	if snapshotter != nil {
		t.start(&svcWG, "snapshotter", func() error { return snapshotter.Run(svcCtx) })
	}
	t.start(&svcWG, "http", func() error { return httpServer.Start(svcCtx) })
	t.start(&svcWG, "grpc", func() error { return grpcServer.Start(svcCtx) })
	t.start(&svcWG, "metrics", func() error { return serveMetrics(svcCtx, cfg.MetricsAddr, logger) })

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Uint64("sequence", startSeq).
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("usdnd ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-t.errc:
		logger.Error().Err(runErr).Msg("shutting down after failure")
	}

	health.SetReady(false)
	grpcServer.SetServing(false)
	stopSvc()
	svcWG.Wait()
	stopSeq()
	seqWG.Wait()
	stopSinks()
	sinkWG.Wait()

	logger.Info().Uint64("sequence", engine.Sequence()).Msg("usdnd shutdown complete")
	return runErr
}

// eventLogSource keeps a nil writer from becoming a non-nil interface.
func eventLogSource(w *persistence.EventLogWriter) projection.EventSource {
	if w == nil {
		return nil
	}
	return w
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
