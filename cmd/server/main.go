// Package main is the entry point for the opsplane server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsplane/internal/config"
	"opsplane/internal/controller"
	"opsplane/internal/controller/handlers"
	"opsplane/internal/dispatch"
	"opsplane/internal/logger"
	"opsplane/internal/notify"
	"opsplane/internal/observability"
	"opsplane/internal/runner"
	"opsplane/internal/service"
	"opsplane/internal/store"
	"opsplane/internal/store/memory"
	"opsplane/internal/store/postgres"
	"opsplane/internal/worker"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// backingStore is what the server needs from either store implementation.
type backingStore interface {
	store.Store
	handlers.Pinger
}

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(cfg.LogLevel)

	ctx := context.Background()

	// Store selection: Postgres when configured, in-memory for dev.
	var st backingStore
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer pg.Close()

		if *migrateFlag {
			log.Println("Running database migrations...")
			if err := postgres.Migrate(pg.DB()); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			log.Println("Migrations completed successfully")
		}
		st = pg
	} else {
		slogger.Warn("DATABASE_URL not set, using in-memory store")
		st = memory.New()
	}

	// Tracing is optional; without a collector the global no-op provider
	// stays in place.
	if cfg.TraceCollectorAddr != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "opsplane-server", cfg.TraceCollectorAddr)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Fatalf("Failed to create instruments: %v", err)
	}

	// Runner selection
	var run runner.Runner
	switch cfg.Runner {
	case "docker":
		run, err = runner.NewDockerRunner(cfg.RunnerImage)
		if err != nil {
			log.Fatalf("Failed to create docker runner: %v", err)
		}
	default:
		run = runner.NewExecRunner()
	}

	notifier := notify.NewAsync(notify.NewLogNotifier(slogger), cfg.NotifyBuffer, slogger)
	defer notifier.Close()

	dispatcher := dispatch.New(cfg.DispatchLimit)

	executor := worker.NewExecutor(st, run, notifier, metrics, slogger)
	coordinator := worker.NewCoordinator(st, executor, dispatcher, notifier, metrics, slogger)
	svc := service.New(st, dispatcher, executor, coordinator, slogger)

	// Use an Observable Gauge (Async) that samples the dispatcher only
	// when scraped.
	meter := otel.Meter("opsplane-server")
	_, err = meter.Int64ObservableGauge("opsplane.dispatch.live",
		metric.WithDescription("Units of work currently live in the dispatcher"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(dispatcher.Live()))
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register dispatch gauge: %v", err)
	}

	// Retention sweep
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go retentionSweep(sweepCtx, st, cfg.LogRetention, cfg.RetentionInterval, slogger)

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, svc, st, slogger, controller.Options{
		MetricsHandler:  metricsHandler,
		SubmitRateLimit: cfg.SubmitRateLimit,
		SubmitBurst:     cfg.SubmitBurst,
	})

	go func() {
		log.Printf("opsplane server starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	// Let in-flight jobs reach a terminal state before exiting.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("Dispatcher drain interrupted: %v", err)
	}
	log.Println("Server exited properly")
}

// retentionSweep periodically deletes job logs older than the retention
// window.
func retentionSweep(ctx context.Context, st store.JobStore, retention, interval time.Duration, slogger *slog.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			deleted, err := st.DeleteLogsBefore(ctx, cutoff)
			if err != nil {
				slogger.Error("retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slogger.Info("retention sweep completed", "deleted", deleted, "cutoff", cutoff)
			}
		}
	}
}
