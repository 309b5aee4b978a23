package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

// FieldPrompt is the instruction sent ahead of the document text for one field.
func FieldPrompt(field domain.FieldSpec) string {
	return fmt.Sprintf("请提取并只输出给定文本中的%s指标，其中%s指标含义为%s，目标文本内容为", field.Name, field.Name, field.Explanation)
}

type TabularReport struct {
	Written  []string
	Failed   map[string]string
	Unknowns map[string]int
}

type TabularOptions struct {
	SkipUnstructured bool
	// Windower splits long texts; each window is asked in turn until one
	// yields a value. Nil sends the whole text in one prompt.
	Windower ports.TextWindower
}

// TabularStage fills one record spreadsheet per bucketed text file.
type TabularStage struct {
	oracle ports.FieldOracle
	sheets ports.RecordSheets
	chain  FieldChain
	opts   TabularOptions
}

func NewTabularStage(oracle ports.FieldOracle, sheets ports.RecordSheets, opts TabularOptions) *TabularStage {
	return &TabularStage{
		oracle: oracle,
		sheets: sheets,
		chain:  DefaultFieldChain(),
		opts:   opts,
	}
}

func (s *TabularStage) Run(ctx context.Context, dir *domain.WorkDir) (TabularReport, error) {
	inputs, err := s.inputs(dir)
	if err != nil {
		return TabularReport{}, fmt.Errorf("%s: %w", StageTabular, err)
	}
	return s.RunFiles(ctx, inputs, dir.Target())
}

func (s *TabularStage) inputs(dir *domain.WorkDir) ([]string, error) {
	var out []string
	for _, label := range domain.AllLabels() {
		if label == domain.LabelUnstructured && s.opts.SkipUnstructured {
			continue
		}
		files, err := listFiles(dir.Bucket(label), ".txt")
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

// RunFiles extracts a record from each text file into targetDir.
// A bad template is fatal; a bad field only yields UnknownValue.
func (s *TabularStage) RunFiles(ctx context.Context, inputs []string, targetDir string) (TabularReport, error) {
	if len(inputs) == 0 {
		return TabularReport{}, domain.WrapError(domain.ErrNoText, StageTabular, errors.New("no bucketed text files"))
	}

	fields, err := s.sheets.Template(ctx)
	if err != nil {
		return TabularReport{}, domain.WrapError(domain.ErrTemplate, StageTabular, err)
	}

	type fileResult struct {
		name     string
		out      string
		unknowns int
		err      error
	}
	results := make([]fileResult, len(inputs))
	var written atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionWorkers(len(inputs)))
	for i, path := range inputs {
		g.Go(func() error {
			res := fileResult{name: filepath.Base(path)}
			rec, unknowns, err := s.extractRecord(gctx, path, fields)
			if err == nil {
				res.out = filepath.Join(targetDir, replaceExt(path, ".xlsx"))
				err = s.sheets.Write(res.out, rec)
			}
			res.unknowns = unknowns
			res.err = err
			if err == nil {
				written.Add(1)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := TabularReport{
		Failed:   make(map[string]string),
		Unknowns: make(map[string]int),
	}
	for _, res := range results {
		if res.err != nil {
			slog.Warn("stage.tabular.file_failed", "file", res.name, "error", res.err)
			report.Failed[res.name] = res.err.Error()
			continue
		}
		report.Written = append(report.Written, res.out)
		report.Unknowns[filepath.Base(res.out)] = res.unknowns
	}
	sort.Strings(report.Written)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: %w", StageTabular, err)
	}
	if written.Load() == 0 {
		return report, fmt.Errorf("%s: no spreadsheet written for %d inputs", StageTabular, len(inputs))
	}
	slog.Info("stage.tabular.done", "inputs", len(inputs), "written", len(report.Written))
	return report, nil
}

func (s *TabularStage) extractRecord(ctx context.Context, path string, fields []domain.FieldSpec) (domain.TabularRecord, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TabularRecord{}, 0, fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)

	rec := domain.TabularRecord{Name: replaceExt(path, ".xlsx"), Entries: make([]domain.RecordEntry, 0, len(fields))}
	unknowns := 0
	for _, field := range fields {
		value := s.fieldValue(ctx, field, text)
		if value == domain.UnknownValue {
			unknowns++
		}
		rec.Entries = append(rec.Entries, domain.RecordEntry{Category: field.Category, Field: field.Name, Value: value})
	}
	return rec, unknowns, nil
}

func (s *TabularStage) fieldValue(ctx context.Context, field domain.FieldSpec, text string) (value string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("stage.tabular.field_panic", "field", field.Name, "panic", r)
			value = domain.UnknownValue
		}
	}()

	windows := []string{text}
	if s.opts.Windower != nil {
		if w := s.opts.Windower.Windows(text); len(w) > 0 {
			windows = w
		}
	}
	value = domain.UnknownValue
	for _, window := range windows {
		if ctx.Err() != nil {
			break
		}
		response, err := s.oracle.ExtractField(ctx, window, FieldPrompt(field))
		if err != nil {
			slog.Debug("stage.tabular.field_failed", "field", field.Name, "error", err)
			continue
		}
		if value = FieldValue(s.chain, field, response); value != domain.UnknownValue {
			return value
		}
	}
	return value
}
