// redloop server: adversarial red-team harness. Provides the HTTP API,
// runs the worker pool, and drives experiments through the PAIR loop.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/redloop-ai/redloop/pkg/api"
	"github.com/redloop-ai/redloop/pkg/audit"
	"github.com/redloop-ai/redloop/pkg/breaker"
	"github.com/redloop-ai/redloop/pkg/cleanup"
	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/database"
	"github.com/redloop-ai/redloop/pkg/events"
	"github.com/redloop-ai/redloop/pkg/judge"
	"github.com/redloop-ai/redloop/pkg/llm"
	"github.com/redloop-ai/redloop/pkg/models"
	"github.com/redloop-ai/redloop/pkg/mutator"
	"github.com/redloop-ai/redloop/pkg/orchestrator"
	"github.com/redloop-ai/redloop/pkg/queue"
	"github.com/redloop-ai/redloop/pkg/services"
	"github.com/redloop-ai/redloop/pkg/store"
	"github.com/redloop-ai/redloop/pkg/version"
)

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// experimentExecutor adapts the orchestrator to the worker pool.
type experimentExecutor struct {
	orc *orchestrator.Orchestrator
}

func (e *experimentExecutor) Execute(ctx context.Context, exp *models.Experiment) error {
	return e.orc.Run(ctx, exp)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	podID := resolvePodID()
	slog.Info("Starting redloop", "version", version.Full(), "pod_id", podID)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	dbPool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbPool)

	// 3. Audit log with daily retention sweeps
	auditLog, err := audit.NewLogger(cfg.AuditLogDir, cfg.AuditLogRetentionDays)
	if err != nil {
		slog.Error("Failed to open audit log", "dir", cfg.AuditLogDir, "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()
	sweeperStop := make(chan struct{})
	go auditLog.RunSweeper(sweeperStop)
	defer close(sweeperStop)

	retention := cleanup.NewService(st, cfg.Retention)
	retention.Start(ctx)
	defer retention.Stop()

	// 4. LLM plumbing: breakers, gateway, mutators, judge, event hub
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	})
	hub := events.NewHub()
	gateway := llm.NewGateway(cfg.Providers, breakers, auditLog, hub, *cfg.Gateway)
	mutators := mutator.DefaultRegistry(gateway)
	scorer := judge.New(gateway, judge.DefaultWeights(), judge.DefaultSeverityConfig())

	orc := &orchestrator.Orchestrator{
		Store:           st,
		Gateway:         gateway,
		Mutators:        mutators,
		Judge:           scorer,
		Hub:             hub,
		Breakers:        breakers,
		ConsultAttacker: true,
	}

	// 5. Worker pool. Skipped entirely in demo mode: nothing is executed.
	var workerPool *queue.WorkerPool
	if !cfg.DemoMode {
		workerPool = queue.NewWorkerPool(podID, st, cfg.Queue, &experimentExecutor{orc: orc}, hub)
		if err := workerPool.Start(ctx); err != nil {
			slog.Error("Failed to start worker pool", "error", err)
			os.Exit(1)
		}
	}

	// 6. Services and HTTP server
	var canceller services.Canceller
	if workerPool != nil {
		canceller = workerPool
	}
	experimentService := services.NewExperimentService(st, mutators, cfg.Providers, canceller)
	connManager := events.NewConnectionManager(hub, 10*time.Second)
	httpServer := api.NewServer(cfg, experimentService, workerPool, dbPool, connManager, breakers)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("redloop started",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount,
		"providers", cfg.Providers.Len(),
		"demo_mode", cfg.DemoMode)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: drain workers first, then the HTTP server.
	if workerPool != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
		done := make(chan struct{})
		go func() {
			workerPool.Stop()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("Worker pool stopped gracefully")
		case <-shutdownCtx.Done():
			slog.Warn("Shutdown timeout exceeded, incomplete experiments will be orphan-recovered")
		}
		cancel()
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
