package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// FileRepository persists stored-file metadata.
type FileRepository interface {
	Create(ctx context.Context, file *domain.StoredFile) error
	GetByID(ctx context.Context, id string) (*domain.StoredFile, error)
	UpdateStatus(ctx context.Context, repoID, id, status string, isSource bool) error
	Delete(ctx context.Context, id string) (bool, error)
	ListBySource(ctx context.Context, sourceFileID string) ([]domain.StoredFile, error)
}

// JSONResultStore upserts one JSON projection per source file.
type JSONResultStore interface {
	UpsertJSONResult(ctx context.Context, result domain.JSONResult) error
	GetJSONResult(ctx context.Context, fileID string) (*domain.JSONResult, error)
}

// ObjectStorage stores raw blobs.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// BlobStore is the document+blob store seen by the orchestrator.
type BlobStore interface {
	Upload(ctx context.Context, repoID, filename string, data []byte, sourceFileID string) (domain.StoredFile, error)
	Stat(ctx context.Context, fileID string) (domain.StoredFile, error)
	Download(ctx context.Context, fileID string) (string, []byte, error)
	Delete(ctx context.Context, fileID string) (bool, error)
	UpdateStatus(ctx context.Context, repoID, fileID, status string, isSource bool) error
	ListResults(ctx context.Context, sourceFileID string) ([]domain.StoredFile, error)
}

// TaskRegistry tracks in-flight and recent tasks.
type TaskRegistry interface {
	Register(task domain.Task)
	SetStatus(taskID string, phase domain.TaskPhase, reason string) (domain.Task, bool)
	Get(taskID string) (domain.Task, bool)
	TasksForFile(fileID string) []domain.Task
	Cleanup(olderThan time.Duration, now time.Time) domain.CleanupReport
}

// WorkspaceManager owns per-task directory layout.
type WorkspaceManager interface {
	Allocate(taskID string) (*domain.WorkDir, error)
	Cleanup(dir *domain.WorkDir)
}

// TypeDetector recognises a file type from its content.
// ext is lower-case with a leading dot, or empty when undetectable.
type TypeDetector interface {
	Detect(data []byte) (ext, mime string)
}

// TextExtractor converts documents and images into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, file domain.SourceFile) (string, error)
}

// SpeechTranscriber converts audio into plain text.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, file domain.SourceFile) (string, error)
}

// StructureOracle labels text by its degree of structure.
type StructureOracle interface {
	ClassifyStructure(ctx context.Context, text string) (domain.StructuralLabel, error)
}

// FieldOracle answers one field prompt against a document text.
type FieldOracle interface {
	ExtractField(ctx context.Context, text, fieldPrompt string) (string, error)
}

// TextWindower splits long texts into windows that fit an oracle prompt.
type TextWindower interface {
	Windows(text string) []string
}

// LabelCache memoises structural labels by content hash.
type LabelCache interface {
	Get(key string) (domain.StructuralLabel, bool)
	Add(key string, label domain.StructuralLabel)
}

// RecordSheets reads and writes tabular record spreadsheets.
type RecordSheets interface {
	Template(ctx context.Context) ([]domain.FieldSpec, error)
	Write(path string, rec domain.TabularRecord) error
	Rows(path string) ([]domain.RecordEntry, error)
}

// RiskClassifier is the pretrained fraud model.
type RiskClassifier interface {
	PredictProba(ctx context.Context, features domain.FeatureVector) (float64, error)
}

// TaskEventPublisher fans task transitions out to subscribers.
type TaskEventPublisher interface {
	PublishTaskEvent(ctx context.Context, event domain.TaskEvent) error
}

// ProcessRequestQueue delivers process requests to workers.
type ProcessRequestQueue interface {
	PublishProcessRequest(ctx context.Context, req domain.ProcessRequest) error
	SubscribeProcessRequests(ctx context.Context, handler func(context.Context, domain.ProcessRequest) error) error
}

// PipelineObserver receives pipeline measurements.
type PipelineObserver interface {
	TaskStarted()
	TaskFinished(phase domain.TaskPhase, duration time.Duration)
	StageFinished(stage string, duration time.Duration, err error)
	FileOutcome(result domain.OutcomeResult)
	CacheLookup(hit bool)
	RiskScore(p float64)
}
