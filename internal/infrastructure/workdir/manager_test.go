package workdir

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

func TestAllocateCreatesAllDirectoriesIdempotently(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dir, err := m.Allocate("file-1_1700000000_abcd1234")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if _, err := m.Allocate("file-1_1700000000_abcd1234"); err != nil {
		t.Fatalf("second Allocate() error = %v", err)
	}

	for _, path := range []string{dir.Source(), dir.Target(), dir.JSON(), dir.Predict(), dir.Text(), dir.Bucket(domain.LabelStructured)} {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", path, err)
		}
	}
}

func TestConcurrentTasksGetDisjointPaths(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ids := []string{"f_1_aaaa", "f_1_bbbb", "g_2_cccc", "g_2_dddd"}
	dirs := make([]*domain.WorkDir, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			d, err := m.Allocate(id)
			if err != nil {
				t.Errorf("Allocate(%s) error = %v", id, err)
				return
			}
			if err := os.WriteFile(filepath.Join(d.Source(), "same-name.txt"), []byte(id), 0o644); err != nil {
				t.Errorf("write: %v", err)
			}
			dirs[i] = d
		}(i, id)
	}
	wg.Wait()

	for i := range dirs {
		for j := range dirs {
			if i == j {
				continue
			}
			a, b := dirs[i].Root()+string(os.PathSeparator), dirs[j].Root()+string(os.PathSeparator)
			if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
				t.Fatalf("overlapping roots %s and %s", a, b)
			}
		}
		data, err := os.ReadFile(filepath.Join(dirs[i].Source(), "same-name.txt"))
		if err != nil {
			t.Fatalf("read back: %v", err)
		}
		if string(data) != ids[i] {
			t.Fatalf("task %s saw content %q", ids[i], data)
		}
	}
}

func TestAllocateRejectsPathLikeTaskIDs(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, id := range []string{"", "..", "../escape", "a/b", `a\b`} {
		if _, err := m.Allocate(id); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Allocate(%q) expected ErrInvalidInput, got %v", id, err)
		}
	}
}

func TestCleanupRemovesTreeAndToleratesMissing(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := m.Allocate("task_1_salt")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	m.Cleanup(dir)
	if _, err := os.Stat(dir.Root()); !os.IsNotExist(err) {
		t.Fatalf("expected root removed, stat err=%v", err)
	}

	m.Cleanup(dir)
	m.Cleanup(nil)
}
