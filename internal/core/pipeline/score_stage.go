package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

// Data row positions of the scoring fields in the record layout.
var scoringRows = map[string]int{
	domain.FieldTransactionType: 1,
	domain.FieldAmount:          2,
	domain.FieldOldBalanceOrig:  9,
	domain.FieldNewBalanceOrig:  10,
}

type ScoreReport struct {
	Scores  map[string]float64
	Skipped map[string]string
}

// ScoreStage computes a fraud probability for each predict spreadsheet.
type ScoreStage struct {
	sheets     ports.RecordSheets
	classifier ports.RiskClassifier
	observer   ports.PipelineObserver
}

func NewScoreStage(sheets ports.RecordSheets, classifier ports.RiskClassifier, observer ports.PipelineObserver) *ScoreStage {
	return &ScoreStage{
		sheets:     sheets,
		classifier: classifier,
		observer:   observerOrNop(observer),
	}
}

func (s *ScoreStage) Run(ctx context.Context, dir *domain.WorkDir) (ScoreReport, error) {
	files, err := listFiles(dir.Predict(), ".xlsx")
	if err != nil {
		return ScoreReport{}, fmt.Errorf("%s: %w", StageScore, err)
	}
	return s.ScoreFiles(ctx, files), nil
}

// ScoreFiles never fails as a whole; invalid records are reported in Skipped.
func (s *ScoreStage) ScoreFiles(ctx context.Context, files []string) ScoreReport {
	report := ScoreReport{
		Scores:  make(map[string]float64, len(files)),
		Skipped: make(map[string]string),
	}
	for _, path := range files {
		name := filepath.Base(path)
		p, err := s.scoreOne(ctx, path)
		if err != nil {
			slog.Warn("stage.score.skipped", "file", name, "error", err)
			report.Skipped[name] = err.Error()
			continue
		}
		s.observer.RiskScore(p)
		report.Scores[name] = p
	}
	slog.Info("stage.score.done", "files", len(files), "scored", len(report.Scores))
	return report
}

func (s *ScoreStage) scoreOne(ctx context.Context, path string) (float64, error) {
	rows, err := s.sheets.Rows(path)
	if err != nil {
		return 0, fmt.Errorf("read record: %w", err)
	}
	features, err := domain.FeaturesFromRecord(scoringRecord(rows))
	if err != nil {
		return 0, err
	}
	if s.classifier == nil {
		return 0, fmt.Errorf("no risk classifier configured")
	}
	p, err := s.classifier.PredictProba(ctx, features)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	if !domain.ValidProbability(p) {
		return 0, fmt.Errorf("predict: probability out of range: %v", p)
	}
	return p, nil
}

// scoringRecord picks the scoring fields from their fixed rows,
// falling back to a key lookup when a custom layout moved them.
func scoringRecord(rows []domain.RecordEntry) domain.TabularRecord {
	rec := domain.TabularRecord{}
	for field, idx := range scoringRows {
		value := domain.UnknownValue
		if idx < len(rows) && rows[idx].Field == field {
			value = rows[idx].Value
		} else {
			for _, row := range rows {
				if row.Field == field {
					value = row.Value
					break
				}
			}
		}
		rec.Entries = append(rec.Entries, domain.RecordEntry{Field: field, Value: value})
	}
	return rec
}
