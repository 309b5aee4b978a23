package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// Registry is an in-process task table with a file → tasks index.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]domain.Task
	byFile map[string][]string
	now    func() time.Time
}

func New() *Registry {
	return &Registry{
		tasks:  make(map[string]domain.Task),
		byFile: make(map[string][]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Register(task domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; !exists {
		r.byFile[task.FileID] = append(r.byFile[task.FileID], task.ID)
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = r.now()
	}
	r.tasks[task.ID] = task
}

// SetStatus applies a transition. Unknown and terminal tasks are left untouched.
func (r *Registry) SetStatus(taskID string, phase domain.TaskPhase, reason string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return domain.Task{}, false
	}
	if task.Phase.Terminal() {
		return task, false
	}
	task.Phase = phase
	task.Reason = reason
	task.UpdatedAt = r.now()
	r.tasks[taskID] = task
	return task, true
}

func (r *Registry) Get(taskID string) (domain.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	return task, ok
}

// TasksForFile returns the file's tasks, newest first.
func (r *Registry) TasksForFile(fileID string) []domain.Task {
	r.mu.RLock()
	ids := r.byFile[fileID]
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := r.tasks[id]; ok {
			out = append(out, task)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cleanup drops tasks whose id-embedded timestamp predates now-olderThan.
// Ids without a parsable timestamp are treated as expired.
func (r *Registry) Cleanup(olderThan time.Duration, now time.Time) domain.CleanupReport {
	cutoff := now.Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := make([]string, 0)
	for id := range r.tasks {
		created, ok := domain.ParseTaskTimestamp(id)
		if ok && !created.Before(cutoff) {
			continue
		}
		deleted = append(deleted, id)
		delete(r.tasks, id)
	}

	for fileID, ids := range r.byFile {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := r.tasks[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(r.byFile, fileID)
			continue
		}
		r.byFile[fileID] = kept
	}

	sort.Strings(deleted)
	return domain.CleanupReport{
		DeletedCount:   len(deleted),
		DeletedTasks:   deleted,
		RemainingTasks: len(r.tasks),
		RemainingFiles: len(r.byFile),
		CutoffTime:     cutoff,
	}
}
