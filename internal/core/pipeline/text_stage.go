package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

var documentTypes = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".png": true, ".jpg": true, ".jpeg": true,
	".csv": true, ".py": true, ".txt": true, ".md": true, ".bmp": true, ".gif": true,
}

var audioTypes = map[string]bool{
	".mp3": true, ".m4a": true, ".wav": true,
}

type TextReport struct {
	Outcomes  []domain.FileOutcome
	Succeeded int
}

// TextStage turns every file of the source folder into a .txt file in the text folder.
type TextStage struct {
	detector    ports.TypeDetector
	extractor   ports.TextExtractor
	transcriber ports.SpeechTranscriber
	observer    ports.PipelineObserver
}

func NewTextStage(
	detector ports.TypeDetector,
	extractor ports.TextExtractor,
	transcriber ports.SpeechTranscriber,
	observer ports.PipelineObserver,
) *TextStage {
	return &TextStage{
		detector:    detector,
		extractor:   extractor,
		transcriber: transcriber,
		observer:    observerOrNop(observer),
	}
}

func (s *TextStage) Run(ctx context.Context, dir *domain.WorkDir) (TextReport, error) {
	return s.RunDir(ctx, dir.Source(), dir.Text())
}

// RunDir processes srcDir into outDir. Per-file failures are recorded, never returned.
func (s *TextStage) RunDir(ctx context.Context, srcDir, outDir string) (TextReport, error) {
	files, err := listFiles(srcDir, "")
	if err != nil {
		return TextReport{}, fmt.Errorf("%s: %w", StageExtract, err)
	}
	if len(files) == 0 {
		return TextReport{}, domain.WrapError(domain.ErrEmptySource, StageExtract, fmt.Errorf("dir=%s", srcDir))
	}

	results := make(chan domain.FileOutcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionWorkers(len(files)))
	for _, path := range files {
		g.Go(func() error {
			results <- s.extractOne(gctx, path, outDir)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	report := TextReport{Outcomes: make([]domain.FileOutcome, 0, len(files))}
	for outcome := range results {
		s.observer.FileOutcome(outcome.Result)
		if outcome.Result == domain.OutcomeSuccess {
			report.Succeeded++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	sort.Slice(report.Outcomes, func(i, j int) bool { return report.Outcomes[i].File < report.Outcomes[j].File })

	slog.Info("stage.text_extraction.done",
		"files", len(files),
		"succeeded", report.Succeeded,
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: %w", StageExtract, err)
	}
	if report.Succeeded == 0 {
		return report, domain.WrapError(domain.ErrNoText, StageExtract, fmt.Errorf("%d files, 0 extracted", len(files)))
	}
	return report, nil
}

func (s *TextStage) extractOne(ctx context.Context, path, outDir string) (outcome domain.FileOutcome) {
	name := filepath.Base(path)
	outcome = domain.FileOutcome{File: name}
	defer func() {
		if r := recover(); r != nil {
			outcome.Result = domain.OutcomeError
			outcome.Reason = fmt.Sprintf("panic: %v", r)
		}
		if outcome.Result != domain.OutcomeSuccess {
			slog.Warn("stage.text_extraction.file",
				"file", name,
				"result", outcome.Result,
				"reason", outcome.Reason,
			)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		outcome.Result = domain.OutcomeError
		outcome.Reason = err.Error()
		return outcome
	}

	ext, mime := s.detector.Detect(data)
	if ext == "" {
		outcome.Result = domain.OutcomeSkipped
		outcome.Reason = domain.ReasonUnknownType
		return outcome
	}
	file := domain.SourceFile{Name: name, Ext: ext, MIME: mime, Data: data}

	var text string
	switch {
	case documentTypes[ext]:
		if s.extractor == nil {
			return skipped(outcome)
		}
		text, err = s.extractor.ExtractText(ctx, file)
	case audioTypes[ext]:
		if s.transcriber == nil {
			return skipped(outcome)
		}
		text, err = s.transcriber.Transcribe(ctx, file)
	default:
		return skipped(outcome)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedType) {
			return skipped(outcome)
		}
		outcome.Result = domain.OutcomeError
		outcome.Reason = err.Error()
		return outcome
	}

	text = strings.TrimSpace(text)
	if text == "" {
		outcome.Result = domain.OutcomeError
		outcome.Reason = domain.ReasonEmptyContent
		return outcome
	}

	outPath := filepath.Join(outDir, replaceExt(name, ".txt"))
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		outcome.Result = domain.OutcomeError
		outcome.Reason = err.Error()
		return outcome
	}
	outcome.Result = domain.OutcomeSuccess
	outcome.Output = filepath.Base(outPath)
	return outcome
}

func skipped(outcome domain.FileOutcome) domain.FileOutcome {
	outcome.Result = domain.OutcomeSkipped
	outcome.Reason = domain.ReasonUnsupportedType
	return outcome
}
