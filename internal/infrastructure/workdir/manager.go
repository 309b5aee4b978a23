package workdir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// Manager is the sole owner of the per-task directory layout.
type Manager struct {
	root string
}

func New(root string) (*Manager, error) {
	if root == "" {
		root = "./data/work"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve work root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Allocate creates the task namespace. Calling it twice for the same task is a no-op.
func (m *Manager) Allocate(taskID string) (*domain.WorkDir, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "allocate workdir", err)
	}

	dir := domain.NewWorkDir(taskID, filepath.Join(m.root, taskID))
	for _, path := range dir.Dirs() {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
	}
	return dir, nil
}

// Cleanup removes the task namespace and never fails.
func (m *Manager) Cleanup(dir *domain.WorkDir) {
	if dir == nil {
		return
	}
	if _, err := os.Stat(dir.Root()); errors.Is(err, os.ErrNotExist) {
		slog.Warn("workdir.cleanup_missing", "task_id", dir.TaskID(), "path", dir.Root())
		return
	}
	if err := os.RemoveAll(dir.Root()); err != nil {
		slog.Warn("workdir.cleanup_failed", "task_id", dir.TaskID(), "path", dir.Root(), "error", err)
	}
}

func validateTaskID(taskID string) error {
	id := strings.TrimSpace(taskID)
	switch {
	case id == "":
		return errors.New("empty task id")
	case id != taskID:
		return fmt.Errorf("task id has surrounding whitespace: %q", taskID)
	case id == "." || id == "..":
		return fmt.Errorf("reserved task id: %q", taskID)
	case strings.ContainsAny(id, `/\`) || strings.Contains(id, ".."):
		return fmt.Errorf("task id contains path elements: %q", taskID)
	}
	return nil
}
