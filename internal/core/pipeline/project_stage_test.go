package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

func TestProjectCarriesCategoryForward(t *testing.T) {
	rows := []domain.RecordEntry{
		{Field: "orphan", Value: "dropped"},
		{Category: domain.CategoryTransaction, Field: "交易ID", Value: "TX1"},
		{Field: domain.FieldAmount, Value: "5000"},
		{Category: domain.CategoryFraud, Field: "是否欺诈", Value: "否"},
		{Category: "自定义", Field: "备注", Value: domain.UnknownValue},
	}
	got := Project(rows)

	tx := got["current_transaction"]
	if len(tx) != 2 || tx[1].Key != domain.FieldAmount || tx[1].Value != "5000" {
		t.Fatalf("unexpected transaction group %+v", tx)
	}
	if len(got["fraud_flags"]) != 1 {
		t.Fatalf("unexpected fraud group %+v", got["fraud_flags"])
	}
	if len(got["自定义"]) != 1 {
		t.Fatalf("untranslated categories must be kept as-is: %+v", got)
	}
	if len(got) != 3 {
		t.Fatalf("rows before the first category must be dropped: %+v", got)
	}
}

func TestProjectStageWritesJSONPerSpreadsheet(t *testing.T) {
	target, jsonDir := t.TempDir(), t.TempDir()
	sheets := &sheetsFake{}
	path := filepath.Join(target, "statement.xlsx")
	writeRecord(t, sheets, path, map[string]string{domain.FieldAmount: "5000"})

	report, err := NewProjectStage(sheets).ProjectFiles(context.Background(), []string{path}, jsonDir)
	if err != nil {
		t.Fatalf("ProjectFiles() error = %v", err)
	}
	if _, ok := report.Projections["statement.xlsx"]; !ok {
		t.Fatalf("missing projection in report")
	}

	data, err := os.ReadFile(filepath.Join(jsonDir, "statement.json"))
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded map[string][]domain.KeyValue
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("expected four category groups, got %d", len(decoded))
	}
	if decoded["current_transaction"][2].Value != "5000" {
		t.Fatalf("unexpected amount entry %+v", decoded["current_transaction"][2])
	}
	if decoded["source_account"][0].Value != domain.UnknownValue {
		t.Fatalf("unknown fields must stay as the sentinel")
	}
}

func TestProjectStageReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProjectStage(&sheetsFake{}).ProjectFiles(ctx, []string{"x.xlsx"}, t.TempDir())
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
