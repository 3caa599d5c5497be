package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/moviedb/internal/config"
	"github.com/oriys/moviedb/internal/dataaccess"
	"github.com/oriys/moviedb/internal/logging"
	"github.com/oriys/moviedb/internal/metrics"
	"github.com/oriys/moviedb/internal/observability"
	"github.com/oriys/moviedb/internal/queue"
	"github.com/oriys/moviedb/internal/server"
	"github.com/oriys/moviedb/internal/workerpool"
)

func serveCmd() *cobra.Command {
	var (
		addr         string
		databasePath string
		workerCount  int
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the movie catalog server",
		Long:  "Bind the TCP listener, open the store, start the worker pool, and serve client sessions until a termination signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("database") {
				cfg.Store.DatabasePath = databasePath
			}
			if cmd.Flags().Changed("workers") {
				cfg.Server.WorkerCount = workerCount
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. :5432")
	cmd.Flags().StringVar(&databasePath, "database", "", "path to the SQLite store file")
	cmd.Flags().IntVar(&workerCount, "workers", 0, "worker pool size (0 = host CPU count)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	return cmd
}

func run(cfg *config.Config) error {
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level, cfg.Observability.Logging.IncludeTraceID)

	ctx := context.Background()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	workerCount := cfg.Server.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	qc := cfg.Server.QueueCapacity
	if qc <= 0 || qc&(qc-1) != 0 {
		return fmt.Errorf("queue_capacity must be a power of two, got %d", qc)
	}
	workQueue := queue.New(qc)

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets, func() float64 {
			return float64(workQueue.Len())
		})
		if cfg.Observability.Metrics.ListenAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PrometheusHandler())
			metricsSrv := &http.Server{Addr: cfg.Observability.Metrics.ListenAddr, Handler: mux}
			go func() {
				logging.Op().Info("metrics endpoint started", "addr", cfg.Observability.Metrics.ListenAddr)
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("metrics server error", "error", err)
				}
			}()
			defer metricsSrv.Close()
		}
	}

	if cfg.Observability.Logging.OperationLog != "" {
		if err := logging.Default().SetOutput(cfg.Observability.Logging.OperationLog); err != nil {
			logging.Op().Warn("failed to open operation log", "error", err)
		} else {
			defer logging.Default().Close()
		}
	}

	if err := dataaccess.Setup(ctx, cfg.Store.DatabasePath); err != nil {
		return fmt.Errorf("setup store: %w", err)
	}

	handler := server.New()
	pool := workerpool.New(workerpool.Config{
		WorkerCount: workerCount,
		OpenConn: func(ctx context.Context) (workerpool.Connection, error) {
			return dataaccess.Connect(ctx, cfg.Store.DatabasePath)
		},
		Handle: handler.Serve,
		Queue:  workQueue,
	})
	pool.Start()

	// A client that disconnects mid-response must surface as a plain
	// write error, never as a process-killing SIGPIPE.
	signal.Ignore(syscall.SIGPIPE)

	ln, err := server.Listen(cfg.Server.Addr, cfg.Server.Backlog)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	logging.Op().Info("movie catalog server started", "addr", cfg.Server.Addr, "workers", workerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	acceptDone := make(chan struct{})
	go acceptLoop(ln, pool, cfg.Server.ClientTimeout, cfg.Server.MaxEnqueueRetries, acceptDone)

	<-sigCh
	logging.Op().Info("shutdown signal received")
	ln.Close()
	<-acceptDone
	pool.Shutdown()
	logging.Op().Info("movie catalog server stopped")
	return nil
}

// acceptLoop hands every accepted connection to the worker pool,
// applying the per-client socket timeouts first so a stalled client
// can never wedge a worker.
func acceptLoop(ln net.Listener, pool *workerpool.Pool, clientTimeout time.Duration, maxRetries int, done chan<- struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || pool.ShutdownRequested() {
				return
			}
			logging.Op().Warn("accept failed", "error", err)
			continue
		}
		if pool.ShutdownRequested() {
			conn.Close()
			return
		}
		if err := server.ApplyClientTimeouts(conn, clientTimeout); err != nil {
			logging.Op().Warn("failed to set client timeouts", "error", err)
		}
		if !pool.AddWork(conn, maxRetries) {
			logging.Op().Warn("dropping connection: queue full or pool unavailable")
			conn.Close()
		}
	}
}
