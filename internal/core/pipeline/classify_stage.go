package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

// CachedClassifier fronts a StructureOracle with a content-hash cache.
// Concurrent misses on the same content share one oracle call.
type CachedClassifier struct {
	oracle   ports.StructureOracle
	cache    ports.LabelCache
	group    singleflight.Group
	observer ports.PipelineObserver
}

func NewCachedClassifier(oracle ports.StructureOracle, cache ports.LabelCache, observer ports.PipelineObserver) *CachedClassifier {
	return &CachedClassifier{
		oracle:   oracle,
		cache:    cache,
		observer: observerOrNop(observer),
	}
}

func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Classify never fails: oracle errors degrade to unstructured and are not cached.
func (c *CachedClassifier) Classify(ctx context.Context, text string) domain.StructuralLabel {
	key := ContentKey(text)
	if label, ok := c.cache.Get(key); ok {
		c.observer.CacheLookup(true)
		return label
	}
	c.observer.CacheLookup(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if label, ok := c.cache.Get(key); ok {
			return label, nil
		}
		label, err := c.oracle.ClassifyStructure(ctx, text)
		if err != nil {
			return domain.LabelUnstructured, err
		}
		c.cache.Add(key, label)
		return label, nil
	})
	if err != nil {
		slog.Warn("stage.classify.oracle_failed", "error", err)
		return domain.LabelUnstructured
	}
	return v.(domain.StructuralLabel)
}

type ClassifyReport struct {
	Labels map[string]domain.StructuralLabel
	Counts map[domain.StructuralLabel]int
}

// ClassifyStage copies every text file into the bucket of its structural label.
type ClassifyStage struct {
	classifier *CachedClassifier
}

func NewClassifyStage(classifier *CachedClassifier) *ClassifyStage {
	return &ClassifyStage{classifier: classifier}
}

func (s *ClassifyStage) Run(ctx context.Context, dir *domain.WorkDir) (ClassifyReport, error) {
	files, err := listFiles(dir.Text(), ".txt")
	if err != nil {
		return ClassifyReport{}, fmt.Errorf("%s: %w", StageClassify, err)
	}
	if len(files) == 0 {
		return ClassifyReport{}, domain.WrapError(domain.ErrNoText, StageClassify, fmt.Errorf("no .txt files in %s", dir.Text()))
	}

	var mu sync.Mutex
	report := ClassifyReport{
		Labels: make(map[string]domain.StructuralLabel, len(files)),
		Counts: make(map[domain.StructuralLabel]int, 3),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(classificationWorkers())
	for _, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			label := s.classifier.Classify(gctx, string(data))
			if err := copyFile(path, filepath.Join(dir.Bucket(label), filepath.Base(path))); err != nil {
				return err
			}

			mu.Lock()
			report.Labels[filepath.Base(path)] = label
			report.Counts[label]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("%s: %w", StageClassify, err)
	}

	slog.Info("stage.classify.done",
		"files", len(files),
		"structured", report.Counts[domain.LabelStructured],
		"semi_structured", report.Counts[domain.LabelSemiStructured],
		"unstructured", report.Counts[domain.LabelUnstructured],
	)
	return report, nil
}
