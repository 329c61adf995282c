package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SpotLedger/internal/config"
	"SpotLedger/internal/core"
	"SpotLedger/internal/ingestion"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/memstore"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/order"
	"SpotLedger/internal/persistence"
	"SpotLedger/internal/price"
	"SpotLedger/internal/query"
	"SpotLedger/internal/server"
	"SpotLedger/migrations"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// priceFeed is both ends of the reference price: the order controller
// reads it and the ingestion processor writes it.
type priceFeed interface {
	price.Source
	price.Sink
}

func main() {
	configPath := flag.String("config", os.Getenv("SPOT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLoggerWithLevel("spotledger", observability.ParseLogLevel(cfg.Log.Level))
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("spotledger stopped")
	}
	log.Info().Msg("spotledger shutdown complete")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Store ---
	store, audits, closeStore, err := openStore(ctx, cfg, health, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Reference prices ---
	prices, closePrices, err := openPrices(cfg, health, metrics, log)
	if err != nil {
		return err
	}
	defer closePrices()

	g, gctx := errgroup.WithContext(ctx)

	// --- Outbound notifications and inbound bus ---
	notifier, rawEvents, closeBus, err := openBus(gctx, g, cfg, health, metrics, log)
	if err != nil {
		return err
	}
	defer closeBus()

	// --- Engine, orders, queries ---
	engine := core.NewEngine(store,
		core.WithNotifier(notifier),
		core.WithMetrics(metrics),
		core.WithLogger(log.With().Str("component", "engine").Logger()),
		core.WithMaxAttempts(cfg.Engine.MaxAttempts),
	)

	feeRate, err := cfg.FeeRate()
	if err != nil {
		return err
	}
	orders, err := order.NewController(engine, prices,
		order.WithFeeRate(feeRate),
		order.WithMetrics(metrics),
		order.WithLogger(log.With().Str("component", "orders").Logger()),
	)
	if err != nil {
		return fmt.Errorf("order controller: %w", err)
	}

	qopts := []query.Option{
		query.WithMetrics(metrics),
		query.WithLogger(log.With().Str("component", "query").Logger()),
	}
	if audits != nil {
		qopts = append(qopts, query.WithAuditSink(audits))
	}
	queries := query.NewQueryService(store, qopts...)

	if rawEvents != nil {
		dedup := ingestion.NewDeduplicator(cfg.Dedup.LRUCapacity, store, metrics, log.With().Str("component", "dedup").Logger())
		processor := ingestion.NewProcessor(engine, prices, dedup, metrics, log.With().Str("component", "ingest").Logger())
		g.Go(func() error { return ignoreCanceled(processor.Run(gctx, rawEvents)) })
	}

	// --- Background loops ---
	if cfg.Recovery.Interval > 0 {
		g.Go(func() error {
			return ignoreCanceled(orders.RunRecovery(gctx, cfg.Recovery.Interval, cfg.Recovery.HoldAge))
		})
	}
	if cfg.Audit.Interval > 0 {
		g.Go(func() error { return ignoreCanceled(queries.RunAuditor(gctx, cfg.Audit.Interval)) })
	}

	// --- Transports ---
	srv := server.NewGRPCServer(cfg.GRPC.Addr, cfg.HTTP.Addr, server.ServerDeps{
		Service:       server.NewLedgerService(engine, orders, queries),
		HealthChecker: health,
		Metrics:       metrics,
		Logger:        log.With().Str("component", "server").Logger(),
	})
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, log) })

	health.SetReady(true)
	srv.SetServing(true)
	log.Info().
		Str("store", cfg.Store.Driver).
		Str("events", cfg.Events.Driver).
		Str("price", cfg.Price.Driver).
		Str("grpc", cfg.GRPC.Addr).
		Str("http", cfg.HTTP.Addr).
		Str("metrics", cfg.Metrics.Addr).
		Msg("spotledger ready")

	<-gctx.Done()
	health.SetReady(false)
	srv.SetServing(false)
	log.Info().Msg("shutting down...")
	return g.Wait()
}

// openStore returns the ledger store and, for postgres, the audit sink.
func openStore(ctx context.Context, cfg *config.Config, health *observability.HealthChecker, log zerolog.Logger) (ledger.Store, query.AuditSink, func(), error) {
	if cfg.Store.Driver == config.StoreMemory {
		log.Warn().Msg("using in-memory store; state is lost on exit")
		return memstore.New(), nil, func() {}, nil
	}

	db, err := persistence.Open(ctx, cfg.Postgres.DSN, persistence.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxOpenConns / 2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, migrationFS(cfg.Migrations.Dir), log).Up(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	health.AddCheck("postgres", db.PingContext)

	return persistence.NewPostgresStore(db), persistence.NewAuditStore(db), closer(db, log), nil
}

func closer(db *sql.DB, log zerolog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("close postgres")
		}
	}
}

func migrationFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPrices(cfg *config.Config, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) (priceFeed, func(), error) {
	if cfg.Price.Driver == config.PriceMemory {
		return price.NewCache(cfg.Price.MaxAge,
			price.WithCacheMetrics(metrics),
			price.WithCacheLogger(log.With().Str("component", "price").Logger()),
		), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	health.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return price.NewRedisSource(client, cfg.Price.MaxAge), func() { _ = client.Close() }, nil
}

// openBus starts the outbound publisher for the configured driver. For
// nats it also attaches the inbound consumers and returns their channel.
func openBus(ctx context.Context, g *errgroup.Group, cfg *config.Config, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) (core.Notifier, <-chan ingestion.RawEvent, func(), error) {
	busLog := log.With().Str("component", "bus").Logger()

	switch cfg.Events.Driver {
	case config.EventsNATS:
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, busLog)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := ingestion.EnsureStreams(ctx, js, busLog); err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, busLog); err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("ensure outbound stream: %w", err)
		}
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})

		publisher := ingestion.NewNATSPublisher(js, cfg.Events.Buffer, metrics, busLog)
		g.Go(func() error { return ignoreCanceled(publisher.Run(ctx)) })

		raw := make(chan ingestion.RawEvent, cfg.Events.Buffer)
		sub := ingestion.NewNATSSubscriber(js, raw, busLog)
		if err := sub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("nats subscribe: %w", err)
		}
		return publisher, raw, func() {
			sub.Stop()
			nc.Close()
		}, nil

	case config.EventsKafka:
		producer, err := ingestion.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, nil, nil, err
		}
		publisher := ingestion.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Events.Buffer, metrics, busLog)
		g.Go(func() error { return ignoreCanceled(publisher.Run(ctx)) })
		busLog.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("publishing balance changes to Kafka")
		return publisher, nil, func() {
			if err := publisher.Close(); err != nil {
				busLog.Warn().Err(err).Msg("close kafka producer")
			}
		}, nil

	default:
		busLog.Warn().Msg("event bus disabled; balance changes are not published")
		return core.NopNotifier{}, nil, func() {}, nil
	}
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
