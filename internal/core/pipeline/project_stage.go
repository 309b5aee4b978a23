package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

var categoryNames = map[string]string{
	domain.CategoryTransaction: "current_transaction",
	domain.CategorySource:      "source_account",
	domain.CategoryTarget:      "target_account",
	domain.CategoryFraud:       "fraud_flags",
}

func TranslateCategory(category string) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return category
}

// Project groups rows under the most recent non-empty category.
// Rows before the first category are dropped.
func Project(rows []domain.RecordEntry) domain.Projection {
	out := domain.Projection{}
	current := ""
	for _, row := range rows {
		if c := strings.TrimSpace(row.Category); c != "" {
			current = TranslateCategory(c)
			if _, exists := out[current]; !exists {
				out[current] = []domain.KeyValue{}
			}
		}
		if current == "" {
			continue
		}
		out[current] = append(out[current], domain.KeyValue{Key: row.Field, Value: row.Value})
	}
	return out
}

type ProjectReport struct {
	Projections map[string]domain.Projection
}

// ProjectStage writes one JSON document per target spreadsheet.
type ProjectStage struct {
	sheets ports.RecordSheets
}

func NewProjectStage(sheets ports.RecordSheets) *ProjectStage {
	return &ProjectStage{sheets: sheets}
}

func (s *ProjectStage) Run(ctx context.Context, dir *domain.WorkDir) (ProjectReport, error) {
	files, err := listFiles(dir.Target(), ".xlsx")
	if err != nil {
		return ProjectReport{}, fmt.Errorf("%s: %w", StageProject, err)
	}
	return s.ProjectFiles(ctx, files, dir.JSON())
}

func (s *ProjectStage) ProjectFiles(ctx context.Context, files []string, jsonDir string) (ProjectReport, error) {
	report := ProjectReport{Projections: make(map[string]domain.Projection, len(files))}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%s: %w", StageProject, err)
		}
		rows, err := s.sheets.Rows(path)
		if err != nil {
			return report, fmt.Errorf("%s: read %s: %w", StageProject, filepath.Base(path), err)
		}
		projection := Project(rows)

		payload, err := json.MarshalIndent(projection, "", "    ")
		if err != nil {
			return report, fmt.Errorf("%s: marshal %s: %w", StageProject, filepath.Base(path), err)
		}
		out := filepath.Join(jsonDir, replaceExt(path, ".json"))
		if err := os.WriteFile(out, payload, 0o644); err != nil {
			return report, fmt.Errorf("%s: write %s: %w", StageProject, out, err)
		}
		report.Projections[filepath.Base(path)] = projection
	}
	return report, nil
}
