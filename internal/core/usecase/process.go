package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/pipeline"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
	"github.com/kirillkom/financial-risk-analyzer/internal/observability/logging"
)

const (
	MsgProcessingStarted = "Processing started"
	MsgCancelled         = "Task cancelled"
	MsgAlreadyFinished   = "Task already finished and cannot be cancelled"

	reasonCancelled = "cancelled by request"

	defaultStageTimeout       = 5 * time.Minute
	defaultMaxConcurrentTasks = 4
)

// Stages is the ordered set of pipeline stages one task runs.
type Stages struct {
	Text     *pipeline.TextStage
	Classify *pipeline.ClassifyStage
	Tabular  *pipeline.TabularStage
	Score    *pipeline.ScoreStage
	Project  *pipeline.ProjectStage
}

type ProcessOptions struct {
	StageTimeout       time.Duration
	MaxConcurrentTasks int64
	Logger             *slog.Logger
	Observer           ports.PipelineObserver
	Events             ports.TaskEventPublisher
}

// ProcessFileUseCase drives one task per processing request through the
// pipeline stages and records every transition in the registry.
type ProcessFileUseCase struct {
	blobs      ports.BlobStore
	results    ports.JSONResultStore
	registry   ports.TaskRegistry
	workspaces ports.WorkspaceManager
	stages     Stages

	events       ports.TaskEventPublisher
	observer     ports.PipelineObserver
	logger       *slog.Logger
	stageTimeout time.Duration
	gate         *semaphore.Weighted
	now          func() time.Time
	newSalt      func() string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewProcessFileUseCase(
	blobs ports.BlobStore,
	results ports.JSONResultStore,
	registry ports.TaskRegistry,
	workspaces ports.WorkspaceManager,
	stages Stages,
	opts ProcessOptions,
) *ProcessFileUseCase {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = pipeline.NopObserver()
	}
	return &ProcessFileUseCase{
		blobs:        blobs,
		results:      results,
		registry:     registry,
		workspaces:   workspaces,
		stages:       stages,
		events:       opts.Events,
		observer:     opts.Observer,
		logger:       opts.Logger,
		stageTimeout: opts.StageTimeout,
		gate:         semaphore.NewWeighted(opts.MaxConcurrentTasks),
		now:          func() time.Time { return time.Now().UTC() },
		newSalt:      func() string { return uuid.NewString()[:8] },
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Submit registers a task and runs it in the background. The returned task
// is in the started phase; errors mean no task was created.
func (uc *ProcessFileUseCase) Submit(ctx context.Context, fileID, repoID string) (domain.Task, error) {
	task, taskCtx, err := uc.open(ctx, fileID, repoID)
	if err != nil {
		return domain.Task{}, err
	}
	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		uc.run(taskCtx, task)
	}()
	return task, nil
}

// Process runs a task inline and returns it in its final phase.
func (uc *ProcessFileUseCase) Process(ctx context.Context, fileID, repoID string) (domain.Task, error) {
	task, taskCtx, err := uc.open(ctx, fileID, repoID)
	if err != nil {
		return domain.Task{}, err
	}
	uc.wg.Add(1)
	defer uc.wg.Done()
	uc.run(taskCtx, task)
	return uc.Task(task.ID)
}

func (uc *ProcessFileUseCase) open(ctx context.Context, fileID, repoID string) (domain.Task, context.Context, error) {
	fileID = strings.TrimSpace(fileID)
	repoID = strings.TrimSpace(repoID)
	if fileID == "" || repoID == "" {
		return domain.Task{}, nil, domain.WrapError(domain.ErrInvalidInput, "submit task", errors.New("file_id and repo_id are required"))
	}

	file, err := uc.blobs.Stat(ctx, fileID)
	if err != nil {
		return domain.Task{}, nil, fmt.Errorf("submit task: %w", err)
	}
	if file.RepoID != "" && file.RepoID != repoID {
		return domain.Task{}, nil, domain.WrapError(domain.ErrFileNotFound, "submit task", fmt.Errorf("file %s is not in repo %s", fileID, repoID))
	}

	now := uc.now()
	task := domain.Task{
		ID:        domain.NewTaskID(fileID, now, uc.newSalt()),
		FileID:    fileID,
		RepoID:    repoID,
		Phase:     domain.TaskStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	uc.registry.Register(task)
	uc.publish(ctx, task)

	// The task outlives the request that created it.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	uc.mu.Lock()
	uc.cancels[task.ID] = cancel
	uc.mu.Unlock()

	logging.ForTask(uc.logger, task.ID, fileID).Info("task.started", "repo_id", repoID)
	return task, taskCtx, nil
}

func (uc *ProcessFileUseCase) run(ctx context.Context, task domain.Task) {
	logger := logging.ForTask(uc.logger, task.ID, task.FileID)
	defer uc.forget(task.ID)

	if err := uc.gate.Acquire(ctx, 1); err != nil {
		logger.Info("task.dropped_before_start", "error", err)
		return
	}
	defer uc.gate.Release(1)

	started := time.Now()
	uc.observer.TaskStarted()
	finalPhase := domain.TaskFailed
	defer func() {
		uc.observer.TaskFinished(finalPhase, time.Since(started))
	}()

	if _, ok := uc.transition(ctx, task.ID, domain.TaskProcessing, ""); !ok {
		finalPhase = domain.TaskCancelled
		return
	}

	err := uc.execute(ctx, task, logger)
	switch {
	case err == nil:
		if _, ok := uc.transition(ctx, task.ID, domain.TaskCompleted, ""); ok {
			finalPhase = domain.TaskCompleted
			logger.Info("task.completed", "duration_ms", time.Since(started).Milliseconds())
			return
		}
		finalPhase = uc.currentPhase(task.ID)
	case uc.currentPhase(task.ID) == domain.TaskCancelled:
		finalPhase = domain.TaskCancelled
		logger.Info("task.cancelled", "error", err)
	default:
		uc.fail(ctx, task, err, logger)
	}
}

// execute runs the stages strictly in sequence inside a private work directory.
func (uc *ProcessFileUseCase) execute(ctx context.Context, task domain.Task, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("task.panic", "panic", r)
		}
	}()

	filename, data, err := uc.blobs.Download(ctx, task.FileID)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	dir, err := uc.workspaces.Allocate(task.ID)
	if err != nil {
		return fmt.Errorf("allocate workdir: %w", err)
	}
	defer uc.workspaces.Cleanup(dir)

	if len(data) > 0 {
		if err := os.WriteFile(filepath.Join(dir.Source(), sourceName(filename, task.FileID)), data, 0o644); err != nil {
			return fmt.Errorf("write source: %w", err)
		}
	}

	if _, err := runStage(ctx, uc, pipeline.StageExtract, func(ctx context.Context) (pipeline.TextReport, error) {
		return uc.stages.Text.Run(ctx, dir)
	}); err != nil {
		return err
	}

	classified, err := runStage(ctx, uc, pipeline.StageClassify, func(ctx context.Context) (pipeline.ClassifyReport, error) {
		return uc.stages.Classify.Run(ctx, dir)
	})
	if err != nil {
		return err
	}
	logger.Info("task.classified", "counts", classified.Counts)

	tabular, err := runStage(ctx, uc, pipeline.StageTabular, func(ctx context.Context) (pipeline.TabularReport, error) {
		return uc.stages.Tabular.Run(ctx, dir)
	})
	if err != nil {
		return err
	}
	if len(tabular.Failed) > 0 {
		logger.Warn("task.tabular_partial", "failed", tabular.Failed)
	}

	if _, err := pipeline.CopyTargetsToPredict(dir); err != nil {
		return fmt.Errorf("%s: %w", pipeline.StageScore, err)
	}
	scored, err := runStage(ctx, uc, pipeline.StageScore, func(ctx context.Context) (pipeline.ScoreReport, error) {
		return uc.stages.Score.Run(ctx, dir)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// Scoring is best effort; the projection still runs.
		logger.Warn("task.scoring_degraded", "error", err)
		scored = pipeline.ScoreReport{}
	}

	projected, err := runStage(ctx, uc, pipeline.StageProject, func(ctx context.Context) (pipeline.ProjectReport, error) {
		return uc.stages.Project.Run(ctx, dir)
	})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return uc.persist(ctx, task, dir, scored, projected)
}

// runStage bounds one stage by the stage timeout and reports its duration.
func runStage[T any](ctx context.Context, uc *ProcessFileUseCase, stage string, fn func(context.Context) (T, error)) (T, error) {
	stageCtx, cancel := context.WithTimeout(ctx, uc.stageTimeout)
	defer cancel()

	started := time.Now()
	out, err := fn(stageCtx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s timeout", stage)
	}
	uc.observer.StageFinished(stage, time.Since(started), err)
	return out, err
}

func (uc *ProcessFileUseCase) persist(
	ctx context.Context,
	task domain.Task,
	dir *domain.WorkDir,
	scored pipeline.ScoreReport,
	projected pipeline.ProjectReport,
) error {
	names := make([]string, 0, len(projected.Projections))
	for name := range projected.Projections {
		names = append(names, name)
	}
	sort.Strings(names)

	result := domain.JSONResult{
		FileID:      task.FileID,
		Content:     domain.Projection{},
		Predictions: make(map[string]*float64, len(names)),
		UpdatedAt:   uc.now(),
	}
	for _, name := range names {
		for category, pairs := range projected.Projections[name] {
			result.Content[category] = append(result.Content[category], pairs...)
		}
		if p, ok := scored.Scores[name]; ok {
			result.Predictions[name] = &p
		} else {
			result.Predictions[name] = nil
		}
	}
	if err := uc.results.UpsertJSONResult(ctx, result); err != nil {
		return fmt.Errorf("persist json result: %w", err)
	}

	sourceStatus := domain.FileStatusNoPrediction
	for _, name := range names {
		status := domain.FileStatusNoPrediction
		if p := result.Predictions[name]; p != nil {
			status = domain.FormatScore(*p)
			if sourceStatus == domain.FileStatusNoPrediction {
				sourceStatus = status
			}
		}
		data, err := os.ReadFile(filepath.Join(dir.Predict(), name))
		if err != nil {
			return fmt.Errorf("read scored sheet %s: %w", name, err)
		}
		stored, err := uc.blobs.Upload(ctx, task.RepoID, name, data, task.FileID)
		if err != nil {
			return fmt.Errorf("upload scored sheet %s: %w", name, err)
		}
		if err := uc.blobs.UpdateStatus(ctx, task.RepoID, stored.ID, status, false); err != nil {
			return fmt.Errorf("update result status %s: %w", name, err)
		}
	}

	if err := uc.blobs.UpdateStatus(ctx, task.RepoID, task.FileID, sourceStatus, true); err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	return nil
}

func (uc *ProcessFileUseCase) fail(ctx context.Context, task domain.Task, cause error, logger *slog.Logger) {
	reason := cause.Error()
	logger.Error("task.failed", "error", cause)

	statusCtx := context.WithoutCancel(ctx)
	if err := uc.blobs.UpdateStatus(statusCtx, task.RepoID, task.FileID, domain.ErrorStatus(reason), true); err != nil {
		logger.Warn("task.status_write_failed", "error", err)
	}
	uc.transition(statusCtx, task.ID, domain.TaskFailed, reason)
}

// transition applies a registry change and publishes it. It reports false
// when the registry refused the change because the task is terminal.
func (uc *ProcessFileUseCase) transition(ctx context.Context, taskID string, phase domain.TaskPhase, reason string) (domain.Task, bool) {
	task, ok := uc.registry.SetStatus(taskID, phase, reason)
	if !ok {
		return task, false
	}
	uc.publish(ctx, task)
	return task, true
}

func (uc *ProcessFileUseCase) publish(ctx context.Context, task domain.Task) {
	if uc.events == nil {
		return
	}
	if err := uc.events.PublishTaskEvent(context.WithoutCancel(ctx), domain.EventFromTask(task)); err != nil {
		uc.logger.Warn("task.event_publish_failed", "task_id", task.ID, "status", task.Phase, "error", err)
	}
}

func (uc *ProcessFileUseCase) currentPhase(taskID string) domain.TaskPhase {
	if task, ok := uc.registry.Get(taskID); ok {
		return task.Phase
	}
	return domain.TaskUnknown
}

func (uc *ProcessFileUseCase) forget(taskID string) {
	uc.mu.Lock()
	cancel, ok := uc.cancels[taskID]
	delete(uc.cancels, taskID)
	uc.mu.Unlock()
	if ok {
		cancel()
	}
}

func (uc *ProcessFileUseCase) Task(taskID string) (domain.Task, error) {
	task, ok := uc.registry.Get(taskID)
	if !ok {
		return domain.Task{}, domain.WrapError(domain.ErrTaskNotFound, "get task", fmt.Errorf("task_id=%s", taskID))
	}
	return task, nil
}

func (uc *ProcessFileUseCase) TasksForFile(fileID string) []domain.Task {
	return uc.registry.TasksForFile(fileID)
}

// Cancel marks a running task cancelled and signals its context. The work
// itself stops only at the next cancellation check.
func (uc *ProcessFileUseCase) Cancel(taskID string) (domain.Task, bool, error) {
	task, err := uc.Task(taskID)
	if err != nil {
		return domain.Task{}, false, err
	}
	if task.Phase.Terminal() {
		return task, false, nil
	}

	updated, ok := uc.transition(context.Background(), taskID, domain.TaskCancelled, reasonCancelled)
	if !ok {
		current, err := uc.Task(taskID)
		return current, false, err
	}

	uc.mu.Lock()
	cancel := uc.cancels[taskID]
	uc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logging.ForTask(uc.logger, taskID, updated.FileID).Info("task.cancel_requested")
	return updated, true, nil
}

func (uc *ProcessFileUseCase) Cleanup(olderThan time.Duration) domain.CleanupReport {
	report := uc.registry.Cleanup(olderThan, uc.now())
	if report.DeletedCount > 0 {
		uc.logger.Info("tasks.cleanup", "deleted", report.DeletedCount, "remaining", report.RemainingTasks)
	}
	return report
}

// Wait blocks until every background task returned or ctx ends.
func (uc *ProcessFileUseCase) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sourceName keeps the uploaded base name; ids stand in for unusable names.
func sourceName(filename, fileID string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return fileID
	}
	return base
}
