// Command pipeline runs the processing stages over a local directory, or
// enqueues a stored file for the workers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/financial-risk-analyzer/internal/bootstrap"
	"github.com/kirillkom/financial-risk-analyzer/internal/config"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/pipeline"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/usecase"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/workdir"
	"github.com/kirillkom/financial-risk-analyzer/internal/observability/logging"
)

type summary struct {
	WorkDir   string                            `json:"work_dir"`
	Outcomes  []domain.FileOutcome              `json:"outcomes"`
	Labels    map[string]domain.StructuralLabel `json:"labels"`
	Scores    map[string]float64                `json:"scores"`
	Skipped   map[string]string                 `json:"skipped"`
	JSONFiles int                               `json:"json_files"`
}

func main() {
	var (
		dir     = flag.String("dir", "", "directory of documents to process")
		out     = flag.String("out", "", "directory for task artifacts (defaults to <dir>/../risk-out)")
		enqueue = flag.Bool("enqueue", false, "publish a process request instead of running locally")
		fileID  = flag.String("file-id", "", "stored file id (with -enqueue)")
		repoID  = flag.String("repo-id", "", "repository id (with -enqueue)")
	)
	flag.Parse()

	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("risk-pipeline", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *enqueue {
		err = publish(ctx, cfg, *fileID, *repoID)
	} else {
		err = runBatch(ctx, cfg, *dir, *out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func publish(ctx context.Context, cfg config.Config, fileID, repoID string) error {
	if fileID == "" || repoID == "" {
		return fmt.Errorf("-file-id and -repo-id are required with -enqueue")
	}
	if cfg.NATSURL == "" {
		return fmt.Errorf("NATS_URL is not set")
	}
	retry := false
	bus, err := nats.New(cfg.NATSURL, nats.Options{
		ProcessSubject:       cfg.NATSProcessSubject,
		RetryOnFailedConnect: &retry,
		ResilienceExecutor:   bootstrap.NewExecutors(cfg).Default,
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.PublishProcessRequest(ctx, domain.ProcessRequest{FileID: fileID, RepoID: repoID}); err != nil {
		return err
	}
	slog.Info("process_request_published", "file_id", fileID, "repo_id", repoID, "subject", cfg.NATSProcessSubject)
	return nil
}

func runBatch(ctx context.Context, cfg config.Config, srcDir, outDir string) error {
	if srcDir == "" {
		return fmt.Errorf("-dir is required")
	}
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(filepath.Clean(srcDir)), "risk-out")
	}

	stages, err := bootstrap.BuildStages(cfg, bootstrap.NewExecutors(cfg), nil)
	if err != nil {
		return err
	}
	workspaces, err := workdir.New(outDir)
	if err != nil {
		return err
	}
	wd, err := workspaces.Allocate(domain.NewTaskID("batch", time.Now(), uuid.NewString()[:8]))
	if err != nil {
		return err
	}
	if err := copyInputs(srcDir, wd.Source()); err != nil {
		return err
	}

	result, err := runStages(ctx, cfg.StageTimeout, stages, wd)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runStages runs the stages in order. Artifacts stay in wd for inspection.
func runStages(ctx context.Context, timeout time.Duration, stages usecase.Stages, wd *domain.WorkDir) (summary, error) {
	stageCtx := func() (context.Context, context.CancelFunc) { return context.WithTimeout(ctx, timeout) }
	res := summary{WorkDir: wd.Root()}

	c, cancel := stageCtx()
	text, err := stages.Text.Run(c, wd)
	cancel()
	res.Outcomes = text.Outcomes
	if err != nil {
		return res, err
	}

	c, cancel = stageCtx()
	classified, err := stages.Classify.Run(c, wd)
	cancel()
	if err != nil {
		return res, err
	}
	res.Labels = classified.Labels

	c, cancel = stageCtx()
	_, err = stages.Tabular.Run(c, wd)
	cancel()
	if err != nil {
		return res, err
	}

	if _, err := pipeline.CopyTargetsToPredict(wd); err != nil {
		return res, err
	}
	c, cancel = stageCtx()
	scored, err := stages.Score.Run(c, wd)
	cancel()
	if err != nil {
		slog.Warn("batch.scoring_degraded", "error", err)
	}
	res.Scores, res.Skipped = scored.Scores, scored.Skipped

	c, cancel = stageCtx()
	projected, err := stages.Project.Run(c, wd)
	cancel()
	if err != nil {
		return res, err
	}
	res.JSONFiles = len(projected.Projections)
	return res, nil
}

func copyInputs(srcDir, dst string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcDir, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(srcDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dst, entry.Name()), data, 0o644); err != nil {
			return fmt.Errorf("copy %s: %w", entry.Name(), err)
		}
	}
	return nil
}
