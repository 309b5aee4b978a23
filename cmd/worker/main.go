package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/bootstrap"
	"github.com/kirillkom/financial-risk-analyzer/internal/config"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("risk-worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker")
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	if app.Bus == nil {
		slog.Error("worker_requires_nats", "hint", "set NATS_URL")
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Pipeline.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSProcessSubject)
	err = app.Bus.SubscribeProcessRequests(ctx, func(handlerCtx context.Context, req domain.ProcessRequest) error {
		var uploadedAt time.Time
		if file, err := app.Blobs.Stat(handlerCtx, req.FileID); err == nil {
			uploadedAt = file.CreatedAt
		}
		app.Pipeline.ObserveRequest(uploadedAt)
		task, err := app.ProcessUC.Process(handlerCtx, req.FileID, req.RepoID)
		if err != nil {
			return err
		}
		logging.ForTask(slog.Default(), task.ID, task.FileID).Info("worker_task_done", "status", task.Phase, "reason", task.Reason)
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
