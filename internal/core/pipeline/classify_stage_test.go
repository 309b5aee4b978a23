package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/cache/labelcache"
)

func TestCachedClassifierCallsOracleOncePerContentWithinTTL(t *testing.T) {
	oracle := &structureOracleFake{label: domain.LabelStructured}
	classifier := NewCachedClassifier(oracle, labelcache.New(10, 50*time.Millisecond), nil)

	for i := 0; i < 2; i++ {
		if got := classifier.Classify(context.Background(), "交易类型: 转账"); got != domain.LabelStructured {
			t.Fatalf("unexpected label %q", got)
		}
	}
	if oracle.Calls() != 1 {
		t.Fatalf("expected 1 oracle call within TTL, got %d", oracle.Calls())
	}

	time.Sleep(120 * time.Millisecond)
	classifier.Classify(context.Background(), "交易类型: 转账")
	if oracle.Calls() != 2 {
		t.Fatalf("expected second oracle call after TTL, got %d", oracle.Calls())
	}
}

func TestCachedClassifierCollapsesConcurrentMisses(t *testing.T) {
	gate := make(chan struct{})
	oracle := &structureOracleFake{label: domain.LabelSemiStructured, gate: gate}
	classifier := NewCachedClassifier(oracle, labelcache.New(10, time.Minute), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			classifier.Classify(context.Background(), "same content")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if oracle.Calls() != 1 {
		t.Fatalf("expected one oracle call for concurrent identical content, got %d", oracle.Calls())
	}
}

func TestCachedClassifierDefaultsToUnstructuredOnOracleError(t *testing.T) {
	oracle := &structureOracleFake{err: errOracleDown}
	classifier := NewCachedClassifier(oracle, labelcache.New(10, time.Minute), nil)

	if got := classifier.Classify(context.Background(), "x"); got != domain.LabelUnstructured {
		t.Fatalf("expected unstructured fallback, got %q", got)
	}
	classifier.Classify(context.Background(), "x")
	if oracle.Calls() != 2 {
		t.Fatalf("failed classifications must not be cached, calls=%d", oracle.Calls())
	}
}

func TestClassifyStageCopiesIntoBuckets(t *testing.T) {
	dir := domain.NewWorkDir("t1", t.TempDir())
	for _, d := range dir.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	src := filepath.Join(dir.Text(), "a.txt")
	if err := os.WriteFile(src, []byte("table"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	oracle := &structureOracleFake{label: domain.LabelStructured}
	stage := NewClassifyStage(NewCachedClassifier(oracle, labelcache.New(10, time.Minute), nil))
	report, err := stage.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Labels["a.txt"] != domain.LabelStructured || report.Counts[domain.LabelStructured] != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := os.Stat(filepath.Join(dir.Bucket(domain.LabelStructured), "a.txt")); err != nil {
		t.Fatalf("expected bucket copy: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("original must be preserved: %v", err)
	}
}

func TestClassifyStageFailsWithoutText(t *testing.T) {
	dir := domain.NewWorkDir("t1", t.TempDir())
	if err := os.MkdirAll(dir.Text(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stage := NewClassifyStage(NewCachedClassifier(&structureOracleFake{}, labelcache.New(10, time.Minute), nil))
	if _, err := stage.Run(context.Background(), dir); !domain.IsKind(err, domain.ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}
