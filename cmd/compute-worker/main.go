// Compute Worker — выполняет jobs из общего хранилища.
//
// Worker:
//   - Проверяет окружение при старте (сервер, каталог, хранилище, брокер)
//   - Захватывает jobs своих task types по одному
//   - Публикует capability в MQTT (retained + heartbeat + last will)
//   - Отправляет события жизненного цикла в RabbitMQ (опционально)
//
// Первый SIGINT/SIGTERM — дождаться текущего job и выйти, второй — выйти сразу.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cloudonlanapps/cl-server-compute/internal/backoff"
	"github.com/cloudonlanapps/cl-server-compute/internal/capability"
	"github.com/cloudonlanapps/cl-server-compute/internal/config"
	"github.com/cloudonlanapps/cl-server-compute/internal/mq"
	"github.com/cloudonlanapps/cl-server-compute/internal/preflight"
	"github.com/cloudonlanapps/cl-server-compute/internal/pubsub"
	"github.com/cloudonlanapps/cl-server-compute/internal/repo"
	"github.com/cloudonlanapps/cl-server-compute/internal/shutdown"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
	"github.com/cloudonlanapps/cl-server-compute/internal/worker"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var (
		configPath string
		overrides  config.Overrides
		tasks      string
	)

	rootCmd := &cobra.Command{
		Use:           "compute-worker",
		Short:         "Compute worker — executes jobs from the shared store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tasks != "" {
				for _, t := range strings.Split(tasks, ",") {
					if t = strings.TrimSpace(t); t != "" {
						overrides.Tasks = append(overrides.Tasks, t)
					}
				}
			}
			return run(cmd.Context(), configPath, overrides)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&overrides.WorkerID, "worker-id", "w", "", "Unique worker ID")
	flags.StringVarP(&overrides.ServerURL, "server", "s", "", "Compute server base URL")
	flags.StringVarP(&tasks, "tasks", "t", "", "Comma-separated task types to serve (default: all registered)")
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
	logger.Info("starting compute-worker", "version", version, "worker_id", cfg.WorkerID)

	taskTypes, err := worker.NewRegistry().ActiveTaskTypes(cfg.Tasks)
	if err != nil {
		return &preflight.FatalStartupError{
			Check: "tasks",
			Err:   err,
			Hint:  "Pass task types this worker has executors for (--tasks echo,http,sleep).",
		}
	}

	ordering, err := repo.ParseOrdering(cfg.Store.Ordering)
	if err != nil {
		return err
	}

	store, closeStore, err := repo.Open(ctx, repo.Options{
		Backend:     cfg.Store.Backend,
		DatabaseURL: cfg.Store.DatabaseURL,
		RedisURL:    cfg.Store.RedisURL,
		Ordering:    ordering,
	})
	if err != nil {
		return &preflight.FatalStartupError{
			Check: "store",
			Err:   err,
			Hint:  "Check store.backend and the connection URL.",
		}
	}
	defer closeStore()

	transport := pubsub.NewMQTTTransport(pubsub.MQTTConfig{
		BrokerURL:            cfg.Broker.URL,
		ClientID:             cfg.WorkerID,
		ConnectTimeout:       cfg.Broker.ConnectTimeout,
		MaxReconnectInterval: cfg.Broker.MaxReconnectInterval,
		Logger:               logger,
	})

	// w создаётся позже, broadcaster читает его состояние через замыкание
	var w *worker.Worker
	broadcaster := capability.NewBroadcaster(transport, capability.BroadcasterConfig{
		WorkerID:    cfg.WorkerID,
		TaskTypes:   taskTypes,
		TopicPrefix: cfg.Broker.TopicPrefix,
		Interval:    cfg.Capability.HeartbeatInterval,
		Idle: func() int {
			if w == nil {
				return 1
			}
			return w.IdleCount()
		},
		Logger: logger,
	})

	err = preflight.Run(ctx, logger, cfg.Broker.ConnectTimeout,
		preflight.Server(nil, cfg.ServerURL),
		preflight.DataDir(cfg.DataDir),
		preflight.Store(store),
		preflight.Broker(cfg.Broker.URL, broadcaster.Connect),
	)
	if err != nil {
		return err
	}
	logger.Info("preflight checks passed")

	var events worker.EventPublisher
	if cfg.Events.AMQPURL != "" {
		conn, err := mq.NewConnection(cfg.Events.AMQPURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, job events disabled", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			events = mq.NewPublisher(conn, logger)
			logger.Info("RabbitMQ connected")
		}
	}

	coord := worker.NewCoordinator(worker.CoordinatorConfig{
		WorkerID:         cfg.WorkerID,
		TaskTypes:        taskTypes,
		Store:            store,
		Registry:         worker.NewRegistry(),
		Events:           events,
		RetryAttempts:    cfg.Store.RetryAttempts,
		Backoff:          backoff.Default(),
		ProgressInterval: cfg.Worker.ProgressInterval,
		Logger:           logger,
	})

	w = worker.New(worker.Config{
		Coordinator:  coord,
		PollInterval: cfg.Worker.PollInterval,
		OnIdleChange: func(bool) { broadcaster.Trigger() },
		Logger:       logger,
	})

	if cfg.Worker.MetricsAddr != "" {
		go serveMetrics(cfg.Worker.MetricsAddr, logger)
	}

	ctrl := shutdown.New(shutdown.Config{Logger: logger})

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go ctrl.Watch(watchCtx, sigs)

	// При принудительном завершении процесс уже выходит через exit hook контроллера.
	if err := worker.Serve(ctx, w, broadcaster, ctrl); err != nil {
		return err
	}

	logger.Info("compute-worker stopped")
	return nil
}

// serveMetrics поднимает /healthz и /metrics воркера.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server error", "error", err)
	}
}
