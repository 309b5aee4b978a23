package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TaskPhase string

const (
	TaskStarted    TaskPhase = "started"
	TaskProcessing TaskPhase = "processing"
	TaskCompleted  TaskPhase = "completed"
	TaskFailed     TaskPhase = "failed"
	TaskCancelled  TaskPhase = "cancelled"
	TaskUnknown    TaskPhase = "unknown"
)

// Terminal reports whether no further transition is allowed from p.
func (p TaskPhase) Terminal() bool {
	switch p {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

type Task struct {
	ID        string    `json:"task_id"`
	FileID    string    `json:"file_id"`
	RepoID    string    `json:"repo_id"`
	Phase     TaskPhase `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskID builds "<file_id>_<unix>_<salt>".
func NewTaskID(fileID string, at time.Time, salt string) string {
	return fmt.Sprintf("%s_%d_%s", fileID, at.Unix(), salt)
}

// ParseTaskTimestamp recovers the creation time embedded in a task id.
// The file id may itself contain underscores, so the id is parsed from the right.
func ParseTaskTimestamp(taskID string) (time.Time, bool) {
	saltIdx := strings.LastIndex(taskID, "_")
	if saltIdx <= 0 {
		return time.Time{}, false
	}
	rest := taskID[:saltIdx]
	tsIdx := strings.LastIndex(rest, "_")
	if tsIdx < 0 {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(rest[tsIdx+1:], 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

// TaskEvent is published on every task transition.
type TaskEvent struct {
	TaskID string    `json:"task_id"`
	FileID string    `json:"file_id"`
	RepoID string    `json:"repo_id"`
	Status TaskPhase `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func EventFromTask(task Task) TaskEvent {
	return TaskEvent{
		TaskID: task.ID,
		FileID: task.FileID,
		RepoID: task.RepoID,
		Status: task.Phase,
		Reason: task.Reason,
		At:     task.UpdatedAt,
	}
}

// ProcessRequest asks a worker to run the pipeline for one stored file.
type ProcessRequest struct {
	FileID string `json:"file_id"`
	RepoID string `json:"repo_id"`
}

type CleanupReport struct {
	DeletedCount   int       `json:"deleted_count"`
	DeletedTasks   []string  `json:"deleted_tasks"`
	RemainingTasks int       `json:"remaining_tasks"`
	RemainingFiles int       `json:"remaining_files"`
	CutoffTime     time.Time `json:"cutoff_time"`
}
