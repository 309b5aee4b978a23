package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/financial-risk-analyzer/internal/adapters/http"
	"github.com/kirillkom/financial-risk-analyzer/internal/bootstrap"
	"github.com/kirillkom/financial-risk-analyzer/internal/config"
	"github.com/kirillkom/financial-risk-analyzer/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("risk-api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api")
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(app.ProcessUC, app.ProcessUC, app.Results, httpadapter.Options{
		RateLimitRPS:     cfg.APIRateLimitRPS,
		RateLimitBurst:   cfg.APIRateLimitBurst,
		MaxInFlight:      cfg.APIBackpressureMax,
		BackpressureWait: cfg.APIBackpressureWait,
		Metrics:          app.HTTPMetrics,
		MetricsHandler:   app.HTTPMetrics.Handler(),
		Health:           app.Health,
		Files:            app.Blobs,
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go runCleanup(ctx, app, cfg.CleanupInterval, cfg.TaskRetention)

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
	if err := app.ProcessUC.Wait(shutdownCtx); err != nil {
		slog.Warn("tasks_still_running_at_shutdown", "error", err)
	}
}

// runCleanup drops expired tasks from the registry on every tick.
func runCleanup(ctx context.Context, app *bootstrap.App, every, retention time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.ProcessUC.Cleanup(retention)
		}
	}
}
