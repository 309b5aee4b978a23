// Package pipeline holds the file-processing stages. Each stage reads one
// work directory folder and writes the next; the orchestrator runs them in order.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

// Stage names used in logs, metrics and failure reasons.
const (
	StageExtract  = "text_extraction"
	StageClassify = "structural_classification"
	StageTabular  = "tabular_extraction"
	StageScore    = "risk_scoring"
	StageProject  = "json_projection"
)

// extractionWorkers is min(max(2, 2*cpu), 20, n).
func extractionWorkers(n int) int {
	return min(max(2, 2*runtime.NumCPU()), 20, max(n, 1))
}

// classificationWorkers is min(max(2, cpu), 10).
func classificationWorkers() int {
	return min(max(2, runtime.NumCPU()), 10)
}

// listFiles returns regular files in dir, optionally filtered by extension, sorted by name.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// replaceExt swaps the last extension of name for ext.
func replaceExt(name, ext string) string {
	base := filepath.Base(name)
	if e := filepath.Ext(base); e != "" && e != base {
		base = strings.TrimSuffix(base, e)
	}
	return base + ext
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// CopyTargetsToPredict mirrors the target spreadsheets into the predict folder.
func CopyTargetsToPredict(dir *domain.WorkDir) ([]string, error) {
	files, err := listFiles(dir.Target(), ".xlsx")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, src := range files {
		dst := filepath.Join(dir.Predict(), filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

type nopObserver struct{}

func (nopObserver) TaskStarted()                                 {}
func (nopObserver) TaskFinished(domain.TaskPhase, time.Duration) {}
func (nopObserver) StageFinished(string, time.Duration, error)   {}
func (nopObserver) FileOutcome(domain.OutcomeResult)             {}
func (nopObserver) CacheLookup(bool)                             {}
func (nopObserver) RiskScore(float64)                            {}

// NopObserver discards measurements.
func NopObserver() ports.PipelineObserver { return nopObserver{} }

func observerOrNop(o ports.PipelineObserver) ports.PipelineObserver {
	if o == nil {
		return nopObserver{}
	}
	return o
}
