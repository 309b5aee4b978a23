package domain

import "path/filepath"

// WorkDir is the isolated filesystem namespace of one task.
// Only the workdir manager constructs it; stages use the accessors.
type WorkDir struct {
	taskID string
	root   string
}

func NewWorkDir(taskID, root string) *WorkDir {
	return &WorkDir{taskID: taskID, root: root}
}

func (w *WorkDir) TaskID() string  { return w.taskID }
func (w *WorkDir) Root() string    { return w.root }
func (w *WorkDir) Source() string  { return filepath.Join(w.root, "source") }
func (w *WorkDir) Text() string    { return filepath.Join(w.root, "text") }
func (w *WorkDir) Target() string  { return filepath.Join(w.root, "target") }
func (w *WorkDir) JSON() string    { return filepath.Join(w.root, "json") }
func (w *WorkDir) Predict() string { return filepath.Join(w.root, "predict") }

func (w *WorkDir) Bucket(label StructuralLabel) string {
	return filepath.Join(w.root, "buckets", label.BucketName())
}

// Dirs lists every directory the manager must create.
func (w *WorkDir) Dirs() []string {
	dirs := []string{w.Source(), w.Text(), w.Target(), w.JSON(), w.Predict()}
	for _, label := range AllLabels() {
		dirs = append(dirs, w.Bucket(label))
	}
	return dirs
}
