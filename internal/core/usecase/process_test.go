package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/pipeline"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/cache/labelcache"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/registry/memory"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/spreadsheet"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/workdir"
)

const scenarioText = "交易类型: 转账\n交易金额: 5000\n初始账户旧余额: 10000\n初始账户新余额: 5000"

type blobFake struct {
	mu       sync.Mutex
	files    map[string]domain.StoredFile
	data     map[string][]byte
	statuses map[string]string
	uploads  []domain.StoredFile
	seq      int
}

func newBlobFake() *blobFake {
	return &blobFake{
		files:    make(map[string]domain.StoredFile),
		data:     make(map[string][]byte),
		statuses: make(map[string]string),
	}
}

func (f *blobFake) put(id, repoID, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[id] = domain.StoredFile{ID: id, RepoID: repoID, Filename: name, IsSource: true}
	f.data[id] = data
}

func (f *blobFake) Upload(_ context.Context, repoID, filename string, data []byte, sourceFileID string) (domain.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	file := domain.StoredFile{ID: fmt.Sprintf("result-%d", f.seq), RepoID: repoID, Filename: filename, SourceFileID: sourceFileID}
	f.files[file.ID] = file
	f.data[file.ID] = data
	f.uploads = append(f.uploads, file)
	return file, nil
}

func (f *blobFake) Stat(_ context.Context, fileID string) (domain.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return domain.StoredFile{}, domain.WrapError(domain.ErrFileNotFound, "stat", errors.New(fileID))
	}
	return file, nil
}

func (f *blobFake) Download(ctx context.Context, fileID string) (string, []byte, error) {
	file, err := f.Stat(ctx, fileID)
	if err != nil {
		return "", nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return file.Filename, f.data[fileID], nil
}

func (f *blobFake) Delete(_ context.Context, fileID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[fileID]
	delete(f.files, fileID)
	return ok, nil
}

func (f *blobFake) UpdateStatus(_ context.Context, _ string, fileID, status string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[fileID] = status
	return nil
}

func (f *blobFake) ListResults(_ context.Context, sourceFileID string) ([]domain.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StoredFile
	for _, file := range f.uploads {
		if file.SourceFileID == sourceFileID {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *blobFake) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type resultStoreFake struct {
	mu      sync.Mutex
	results map[string]domain.JSONResult
	upserts int
}

func (f *resultStoreFake) UpsertJSONResult(_ context.Context, result domain.JSONResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = make(map[string]domain.JSONResult)
	}
	f.results[result.FileID] = result
	f.upserts++
	return nil
}

func (f *resultStoreFake) GetJSONResult(_ context.Context, fileID string) (*domain.JSONResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[fileID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return &result, nil
}

type textDetectorFake struct{}

func (textDetectorFake) Detect([]byte) (string, string) { return ".txt", "text/plain" }

// blockingExtractor waits for its context when block is set.
type blockingExtractor struct {
	block   bool
	entered chan struct{}
	once    sync.Once
}

func (e *blockingExtractor) ExtractText(ctx context.Context, file domain.SourceFile) (string, error) {
	if !e.block {
		return string(file.Data), nil
	}
	e.once.Do(func() { close(e.entered) })
	<-ctx.Done()
	return "", ctx.Err()
}

type structureFake struct{}

func (structureFake) ClassifyStructure(context.Context, string) (domain.StructuralLabel, error) {
	return domain.LabelStructured, nil
}

type fieldsFake struct {
	answers map[string]string
}

func (f fieldsFake) ExtractField(_ context.Context, _ string, prompt string) (string, error) {
	for name, answer := range f.answers {
		spec, ok := domain.LookupField(name)
		if ok && prompt == pipeline.FieldPrompt(spec) {
			return answer, nil
		}
	}
	return "文本中没有相关信息", nil
}

type riskFake struct {
	mu   sync.Mutex
	p    float64
	last domain.FeatureVector
}

func (f *riskFake) PredictProba(_ context.Context, fv domain.FeatureVector) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = fv
	return f.p, nil
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.TaskEvent
}

func (f *eventsFake) PublishTaskEvent(_ context.Context, event domain.TaskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *eventsFake) statuses() []domain.TaskPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TaskPhase, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Status)
	}
	return out
}

type harness struct {
	uc        *ProcessFileUseCase
	blobs     *blobFake
	results   *resultStoreFake
	risk      *riskFake
	events    *eventsFake
	extractor *blockingExtractor
	workRoot  string
}

func newHarness(t *testing.T, stageTimeout time.Duration) *harness {
	t.Helper()
	workRoot := t.TempDir()
	workspaces, err := workdir.New(workRoot)
	if err != nil {
		t.Fatalf("workdir.New() error = %v", err)
	}

	h := &harness{
		blobs:     newBlobFake(),
		results:   &resultStoreFake{},
		risk:      &riskFake{p: 0.87},
		events:    &eventsFake{},
		extractor: &blockingExtractor{entered: make(chan struct{})},
		workRoot:  workRoot,
	}
	sheets := spreadsheet.New("")
	oracle := fieldsFake{answers: map[string]string{
		domain.FieldTransactionType: "交易类型: 转账",
		domain.FieldAmount:          "交易金额: 5000",
		domain.FieldOldBalanceOrig:  "初始账户旧余额: 10000",
		domain.FieldNewBalanceOrig:  "初始账户新余额: 5000",
	}}
	stages := Stages{
		Text:     pipeline.NewTextStage(textDetectorFake{}, h.extractor, nil, nil),
		Classify: pipeline.NewClassifyStage(pipeline.NewCachedClassifier(structureFake{}, labelcache.New(10, time.Minute), nil)),
		Tabular:  pipeline.NewTabularStage(oracle, sheets, pipeline.TabularOptions{}),
		Score:    pipeline.NewScoreStage(sheets, h.risk, nil),
		Project:  pipeline.NewProjectStage(sheets),
	}
	h.uc = NewProcessFileUseCase(h.blobs, h.results, memory.New(), workspaces, stages, ProcessOptions{
		StageTimeout: stageTimeout,
		Events:       h.events,
	})
	return h
}

func (h *harness) assertWorkRootEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.workRoot)
	if err != nil {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no stale work directories, found %d", len(entries))
	}
}

func waitForPhase(t *testing.T, uc *ProcessFileUseCase, taskID string, phase domain.TaskPhase) domain.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := uc.Task(taskID)
		if err == nil && task.Phase == phase {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := uc.Task(taskID)
	t.Fatalf("task %s did not reach %s, last phase %s (%s)", taskID, phase, task.Phase, task.Reason)
	return domain.Task{}
}

func TestProcessScoresTransferStatement(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.blobs.put("f1", "r1", "statement.txt", []byte(scenarioText))

	task, err := h.uc.Process(context.Background(), "f1", "r1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if task.Phase != domain.TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", task.Phase, task.Reason)
	}

	if h.risk.last.Type != domain.TxTransfer || h.risk.last.Amount != 5000 ||
		h.risk.last.OldBalanceOrig != 10000 || h.risk.last.NewBalanceOrig != 5000 {
		t.Fatalf("unexpected features %+v", h.risk.last)
	}

	result, err := h.results.GetJSONResult(context.Background(), "f1")
	if err != nil {
		t.Fatalf("GetJSONResult() error = %v", err)
	}
	p := result.Predictions["statement.xlsx"]
	if p == nil || *p != 0.87 {
		t.Fatalf("expected prediction 0.87, got %v", result.Predictions)
	}
	if len(result.Content["current_transaction"]) == 0 || len(result.Content["fraud_flags"]) != 2 {
		t.Fatalf("unexpected projection %v", result.Content)
	}

	if got := h.blobs.status("f1"); got != "0.8700" {
		t.Fatalf("source status = %q", got)
	}
	uploads, _ := h.blobs.ListResults(context.Background(), "f1")
	if len(uploads) != 1 || uploads[0].Filename != "statement.xlsx" || h.blobs.status(uploads[0].ID) != "0.8700" {
		t.Fatalf("unexpected result files %+v", uploads)
	}

	want := []domain.TaskPhase{domain.TaskStarted, domain.TaskProcessing, domain.TaskCompleted}
	if got := h.events.statuses(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	h.assertWorkRootEmpty(t)
}

func TestProcessWithoutScoreStillProjects(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.blobs.put("f1", "r1", "memo.txt", []byte("会议纪要，没有交易"))
	h.uc.stages.Tabular = pipeline.NewTabularStage(fieldsFake{}, spreadsheet.New(""), pipeline.TabularOptions{})

	task, err := h.uc.Process(context.Background(), "f1", "r1")
	if err != nil || task.Phase != domain.TaskCompleted {
		t.Fatalf("expected completed, got %+v err=%v", task, err)
	}
	result, _ := h.results.GetJSONResult(context.Background(), "f1")
	if p, ok := result.Predictions["memo.xlsx"]; !ok || p != nil {
		t.Fatalf("expected explicit null prediction, got %v", result.Predictions)
	}
	if got := h.blobs.status("f1"); got != domain.FileStatusNoPrediction {
		t.Fatalf("source status = %q", got)
	}
}

func TestProcessEmptySourceFails(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.blobs.put("f1", "r1", "empty.txt", nil)

	task, err := h.uc.Process(context.Background(), "f1", "r1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if task.Phase != domain.TaskFailed || !strings.Contains(task.Reason, domain.ErrEmptySource.Error()) {
		t.Fatalf("expected failed(empty source), got %s (%s)", task.Phase, task.Reason)
	}
	if got := h.blobs.status("f1"); !strings.HasPrefix(got, "error: ") {
		t.Fatalf("expected error status, got %q", got)
	}
	h.assertWorkRootEmpty(t)
}

func TestSubmitRejectsUnknownFileBeforeCreatingTask(t *testing.T) {
	h := newHarness(t, time.Minute)

	if _, err := h.uc.Submit(context.Background(), "missing", "r1"); !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	h.blobs.put("f1", "other-repo", "a.txt", []byte("x"))
	if _, err := h.uc.Submit(context.Background(), "f1", "r1"); !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound for foreign repo, got %v", err)
	}
	if _, err := h.uc.Submit(context.Background(), "f1", " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if tasks := h.uc.TasksForFile("missing"); len(tasks) != 0 {
		t.Fatalf("no task may be registered, got %v", tasks)
	}
}

func TestCancelFinishedTaskLeavesItUnchanged(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.blobs.put("f1", "r1", "statement.txt", []byte(scenarioText))

	done, err := h.uc.Process(context.Background(), "f1", "r1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	task, cancelled, err := h.uc.Cancel(done.ID)
	if err != nil || cancelled {
		t.Fatalf("Cancel() = %v, %v", cancelled, err)
	}
	if task.Phase != domain.TaskCompleted || task.UpdatedAt != done.UpdatedAt {
		t.Fatalf("terminal task must be unchanged, got %+v", task)
	}

	if _, _, err := h.uc.Cancel("nope_1_x"); !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCancelRunningTaskIsTerminal(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.extractor.block = true
	h.blobs.put("f1", "r1", "statement.txt", []byte(scenarioText))

	task, err := h.uc.Submit(context.Background(), "f1", "r1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if task.Phase != domain.TaskStarted {
		t.Fatalf("Submit must return a started task, got %s", task.Phase)
	}
	<-h.extractor.entered

	cancelledTask, cancelled, err := h.uc.Cancel(task.ID)
	if err != nil || !cancelled || cancelledTask.Phase != domain.TaskCancelled {
		t.Fatalf("Cancel() = %+v, %v, %v", cancelledTask, cancelled, err)
	}

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := h.uc.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	final, _ := h.uc.Task(task.ID)
	if final.Phase != domain.TaskCancelled {
		t.Fatalf("cancelled task must stay cancelled, got %s", final.Phase)
	}
	if got := h.blobs.status("f1"); strings.HasPrefix(got, "error: ") {
		t.Fatalf("cancelled task must not be reported as failed, status %q", got)
	}
	h.assertWorkRootEmpty(t)
}

func TestStageTimeoutFailsTask(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.extractor.block = true
	h.blobs.put("f1", "r1", "statement.txt", []byte(scenarioText))

	task, err := h.uc.Submit(context.Background(), "f1", "r1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	failed := waitForPhase(t, h.uc, task.ID, domain.TaskFailed)
	if failed.Reason != pipeline.StageExtract+" timeout" {
		t.Fatalf("reason = %q", failed.Reason)
	}
	if got := h.blobs.status("f1"); got != "error: "+pipeline.StageExtract+" timeout" {
		t.Fatalf("source status = %q", got)
	}
}

func TestConcurrentTasksForSameFile(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.blobs.put("f1", "r1", "statement.txt", []byte(scenarioText))

	ids := make(map[string]bool)
	for i := 0; i < 4; i++ {
		task, err := h.uc.Submit(context.Background(), "f1", "r1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids[task.ID] = true
	}
	if len(ids) != 4 {
		t.Fatalf("task ids must be unique, got %v", ids)
	}

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := h.uc.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	for id := range ids {
		task, _ := h.uc.Task(id)
		if task.Phase != domain.TaskCompleted {
			t.Fatalf("task %s ended %s (%s)", id, task.Phase, task.Reason)
		}
	}
	if len(h.uc.TasksForFile("f1")) != 4 {
		t.Fatalf("expected 4 tasks for file")
	}
	h.assertWorkRootEmpty(t)
}

func TestCleanupDropsOldTasks(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.blobs.put("f1", "r1", "statement.txt", []byte(scenarioText))
	if _, err := h.uc.Process(context.Background(), "f1", "r1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if report := h.uc.Cleanup(time.Hour); report.DeletedCount != 0 || report.RemainingTasks != 1 {
		t.Fatalf("fresh task must survive, got %+v", report)
	}
	h.uc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	report := h.uc.Cleanup(24 * time.Hour)
	if report.DeletedCount != 1 || report.RemainingFiles != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSourceName(t *testing.T) {
	cases := map[string]string{
		"statement.pdf":     "statement.pdf",
		"../../etc/passwd":  "passwd",
		"":                  "f1",
		"/":                 "f1",
		" dir/report.xlsx ": "report.xlsx",
	}
	for in, want := range cases {
		if got := sourceName(in, "f1"); got != want {
			t.Fatalf("sourceName(%q) = %q, want %q", in, got, want)
		}
	}
}
