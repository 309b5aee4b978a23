package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// sheetsFake stores records as JSON so stages can list and reread them from disk.
type sheetsFake struct {
	templateErr error
	fields      []domain.FieldSpec
}

func (f *sheetsFake) Template(context.Context) ([]domain.FieldSpec, error) {
	if f.templateErr != nil {
		return nil, f.templateErr
	}
	if f.fields != nil {
		return f.fields, nil
	}
	return domain.RecordFields(), nil
}

func (f *sheetsFake) Write(path string, rec domain.TabularRecord) error {
	rows := make([]domain.RecordEntry, 0, len(rec.Entries))
	prev := ""
	for _, e := range rec.Entries {
		row := domain.RecordEntry{Field: e.Field, Value: e.Value}
		if e.Category != prev {
			row.Category = e.Category
			prev = e.Category
		}
		rows = append(rows, row)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (f *sheetsFake) Rows(path string) ([]domain.RecordEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []domain.RecordEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

type detectorFake struct {
	byContent map[string]string
}

func (f detectorFake) Detect(data []byte) (string, string) {
	ext, ok := f.byContent[string(data)]
	if !ok {
		return ".txt", "text/plain"
	}
	return ext, ""
}

type extractorFake struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
	text  map[string]string
}

func (f *extractorFake) ExtractText(_ context.Context, file domain.SourceFile) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.fail[file.Name]; err != nil {
		return "", err
	}
	if t, ok := f.text[file.Name]; ok {
		return t, nil
	}
	return string(file.Data), nil
}

type transcriberFake struct {
	text string
}

func (f transcriberFake) Transcribe(context.Context, domain.SourceFile) (string, error) {
	return f.text, nil
}

type structureOracleFake struct {
	mu    sync.Mutex
	calls int
	label domain.StructuralLabel
	err   error
	gate  chan struct{}
}

func (f *structureOracleFake) ClassifyStructure(context.Context, string) (domain.StructuralLabel, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.label, nil
}

func (f *structureOracleFake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fieldOracleFake answers "<field>: <value>" using a key/value lookup keyed by field name.
type fieldOracleFake struct {
	answers map[string]string
	errFor  map[string]bool
}

var errOracleDown = errors.New("oracle down")

func (f *fieldOracleFake) ExtractField(_ context.Context, _ string, prompt string) (string, error) {
	for field := range f.errFor {
		if containsField(prompt, field) {
			return "", errOracleDown
		}
	}
	for field, answer := range f.answers {
		if containsField(prompt, field) {
			return answer, nil
		}
	}
	return "抱歉，文本中没有相关信息", nil
}

func containsField(prompt, field string) bool {
	spec, ok := domain.LookupField(field)
	return ok && prompt == FieldPrompt(spec)
}

type riskFake struct {
	p     float64
	err   error
	calls int
	last  domain.FeatureVector
}

func (f *riskFake) PredictProba(_ context.Context, fv domain.FeatureVector) (float64, error) {
	f.calls++
	f.last = fv
	return f.p, f.err
}
