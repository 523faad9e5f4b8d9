// Compute Server — кэш возможностей воркеров и HTTP API над ним.
//
// Server:
//   - Подписывается на capability-топики воркеров в MQTT
//   - Вытесняет записи воркеров, переставших слать heartbeat
//   - Отдаёт агрегированные возможности и состояние jobs по HTTP
//   - Считает события jobs из RabbitMQ (опционально)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloudonlanapps/cl-server-compute/internal/api"
	"github.com/cloudonlanapps/cl-server-compute/internal/capability"
	"github.com/cloudonlanapps/cl-server-compute/internal/config"
	"github.com/cloudonlanapps/cl-server-compute/internal/mq"
	"github.com/cloudonlanapps/cl-server-compute/internal/preflight"
	"github.com/cloudonlanapps/cl-server-compute/internal/pubsub"
	"github.com/cloudonlanapps/cl-server-compute/internal/repo"
	"github.com/cloudonlanapps/cl-server-compute/internal/scheduler"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var (
		configPath string
		overrides  config.Overrides
	)

	rootCmd := &cobra.Command{
		Use:           "compute-server",
		Short:         "Compute server — worker capability cache and API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, overrides)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address (default :8002)")
	flags.StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	flags.StringVarP(&overrides.LogLevel, "log-level", "l", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var fatal *preflight.FatalStartupError
		if errors.As(err, &fatal) {
			fmt.Fprint(os.Stderr, fatal.Diagnostic())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, overrides config.Overrides) error {
	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting compute-server", "version", version, "addr", cfg.Server.Addr)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return &preflight.FatalStartupError{
			Check: "data_dir",
			Err:   err,
			Hint:  fmt.Sprintf("Ensure %s can be created (CL_SERVER_DIR).", cfg.DataDir),
		}
	}

	ordering, err := repo.ParseOrdering(cfg.Store.Ordering)
	if err != nil {
		return err
	}

	store, closeStore, err := repo.Open(ctx, repo.Options{
		Backend:      cfg.Store.Backend,
		DatabaseURL:  cfg.Store.DatabaseURL,
		RedisURL:     cfg.Store.RedisURL,
		Ordering:     ordering,
		EnsureSchema: true,
	})
	if err != nil {
		return &preflight.FatalStartupError{
			Check: "store",
			Err:   err,
			Hint:  "Check store.backend and the connection URL.",
		}
	}
	defer closeStore()

	if err := preflight.Run(ctx, logger, 0,
		preflight.DataDir(cfg.DataDir),
		preflight.Store(store),
	); err != nil {
		return err
	}

	manager := capability.NewManager(capability.ManagerConfig{
		TTL:         cfg.CapabilityTTL(),
		TopicPrefix: cfg.Broker.TopicPrefix,
		QueueSize:   cfg.Capability.IngestQueueSize,
		Logger:      logger,
	})

	transport := pubsub.NewMQTTTransport(pubsub.MQTTConfig{
		BrokerURL:            cfg.Broker.URL,
		ClientID:             "compute-server-" + uuid.NewString()[:8],
		ConnectTimeout:       cfg.Broker.ConnectTimeout,
		MaxReconnectInterval: cfg.Broker.MaxReconnectInterval,
		Logger:               logger,
	})

	connect := func(ctx context.Context) error {
		if err := transport.Connect(ctx, nil); err != nil {
			return err
		}
		return manager.Subscribe(ctx, transport)
	}
	if err := preflight.Run(ctx, logger, cfg.Broker.ConnectTimeout, preflight.Broker(cfg.Broker.URL, connect)); err != nil {
		return err
	}
	defer transport.Close()

	sched := scheduler.New(scheduler.Config{Logger: logger})
	err = sched.Add("evict_stale_workers", cfg.Capability.EvictSchedule, func(context.Context) error {
		manager.EvictStale(time.Now())
		return nil
	})
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Config{
		Capabilities: manager,
		Jobs:         store,
		Ready:        manager.Ready(),
		Logger:       logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	if cfg.Events.AMQPURL != "" {
		conn, err := mq.NewConnection(cfg.Events.AMQPURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, job events disabled", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue: string(mq.QueueJobEvents),
				Handler: mq.JobEventHandler(func(_ context.Context, ev mq.JobEventPayload) error {
					telemetry.JobEvents.WithLabelValues(ev.Status).Inc()
					logger.Debug("job event", "job_id", ev.JobID, "status", ev.Status, "worker_id", ev.WorkerID)
					return nil
				}),
				Prefetch: 16,
				Tag:      "compute-server",
			})
			g.Go(func() error { return consumer.Run(gctx) })
		}
	}

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down compute-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("compute-server stopped")
	return nil
}
