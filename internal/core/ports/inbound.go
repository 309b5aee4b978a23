package ports

import (
	"context"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// FileProcessor is the inbound contract for asynchronous file processing.
type FileProcessor interface {
	Submit(ctx context.Context, fileID, repoID string) (domain.Task, error)
}

// TaskManager is the inbound contract for task inspection and housekeeping.
type TaskManager interface {
	Task(taskID string) (domain.Task, error)
	TasksForFile(fileID string) []domain.Task
	Cancel(taskID string) (task domain.Task, cancelled bool, err error)
	Cleanup(olderThan time.Duration) domain.CleanupReport
}

// ResultReader serves persisted JSON projections.
type ResultReader interface {
	GetJSONResult(ctx context.Context, fileID string) (*domain.JSONResult, error)
}

// FileManager is the inbound contract for the stored-file API.
type FileManager interface {
	Upload(ctx context.Context, repoID, filename string, data []byte, sourceFileID string) (domain.StoredFile, error)
	Stat(ctx context.Context, fileID string) (domain.StoredFile, error)
	Download(ctx context.Context, fileID string) (string, []byte, error)
	Delete(ctx context.Context, fileID string) (bool, error)
	UpdateStatus(ctx context.Context, repoID, fileID, status string, isSource bool) error
	ListResults(ctx context.Context, sourceFileID string) ([]domain.StoredFile, error)
}
