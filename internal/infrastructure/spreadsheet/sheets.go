// Package spreadsheet reads and writes record spreadsheets with excelize.
// A record sheet has a header row followed by one row per field; the
// category cell is filled only on the first row of each category group.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

const (
	ColumnCategory = "category"
	ColumnField    = "表头中具体条目"
	ColumnValue    = "内容"

	defaultSheet = "Sheet1"
)

// Sheets implements record spreadsheet I/O. When templatePath is empty the
// built-in field layout is used.
type Sheets struct {
	templatePath string
}

func New(templatePath string) *Sheets {
	return &Sheets{templatePath: strings.TrimSpace(templatePath)}
}

// Template loads the field layout. It is read on every call so an edited
// template applies to the next task without a restart.
func (s *Sheets) Template(_ context.Context) ([]domain.FieldSpec, error) {
	if s.templatePath == "" {
		return domain.RecordFields(), nil
	}
	rows, err := readRows(s.templatePath)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", s.templatePath, err)
	}
	return parseTemplate(rows)
}

func parseTemplate(rows [][]string) ([]domain.FieldSpec, error) {
	if len(rows) == 0 {
		return nil, errors.New("template is empty")
	}
	header := rows[0]
	if len(header) < 2 || strings.TrimSpace(header[1]) != ColumnField {
		return nil, fmt.Errorf("template header must name column %q second, got %v", ColumnField, header)
	}

	var (
		fields   []domain.FieldSpec
		category string
		seen     = make(map[string]bool)
	)
	for i, row := range rows[1:] {
		row = pad(row, 4)
		if c := strings.TrimSpace(row[0]); c != "" {
			category = c
		}
		name := strings.TrimSpace(row[1])
		if name == "" {
			return nil, fmt.Errorf("template row %d has no field name", i+2)
		}
		if category == "" {
			return nil, fmt.Errorf("template row %d (%s) has no category", i+2, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("template field %s is duplicated", name)
		}
		seen[name] = true

		spec, ok := domain.LookupField(name)
		if !ok {
			spec = domain.FieldSpec{Name: name, Explanation: name}
		}
		spec.Category = category
		if explanation := strings.TrimSpace(row[3]); explanation != "" {
			spec.Explanation = explanation
		}
		fields = append(fields, spec)
	}
	if len(fields) == 0 {
		return nil, errors.New("template has no fields")
	}
	return fields, nil
}

func (s *Sheets) Write(path string, rec domain.TabularRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{ColumnCategory, ColumnField, ColumnValue}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	prev := ""
	for i, entry := range rec.Entries {
		category := ""
		if entry.Category != prev {
			category = entry.Category
			prev = entry.Category
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &[]any{category, entry.Field, entry.Value}); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Rows returns the data rows as stored: Category is blank on continuation rows.
func (s *Sheets) Rows(path string) ([]domain.RecordEntry, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]domain.RecordEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		row = pad(row, 3)
		out = append(out, domain.RecordEntry{
			Category: strings.TrimSpace(row[0]),
			Field:    strings.TrimSpace(row[1]),
			Value:    row[2],
		})
	}
	return out, nil
}

func readRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		sheet = defaultSheet
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows of %s: %w", path, err)
	}
	return rows, nil
}

func pad(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}
	return row
}
