package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// JSONResultRepository keeps exactly one projection row per source file.
type JSONResultRepository struct {
	db *sql.DB
}

func NewJSONResultRepository(db *sql.DB) *JSONResultRepository {
	return &JSONResultRepository{db: db}
}

func (r *JSONResultRepository) UpsertJSONResult(ctx context.Context, result domain.JSONResult) error {
	content, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Errorf("marshal json result content: %w", err)
	}
	predictions, err := json.Marshal(result.Predictions)
	if err != nil {
		return fmt.Errorf("marshal json result predictions: %w", err)
	}
	updatedAt := result.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO json_results (file_id, content, predictions, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (file_id) DO UPDATE
SET content = EXCLUDED.content,
	predictions = EXCLUDED.predictions,
	updated_at = EXCLUDED.updated_at
`, result.FileID, content, predictions, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert json result: %w", err)
	}
	return nil
}

func (r *JSONResultRepository) GetJSONResult(ctx context.Context, fileID string) (*domain.JSONResult, error) {
	var (
		result      domain.JSONResult
		content     []byte
		predictions []byte
	)
	err := r.db.QueryRowContext(ctx, `
SELECT file_id, content, predictions, updated_at
FROM json_results
WHERE file_id = $1
`, fileID).Scan(&result.FileID, &content, &predictions, &result.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "get json result", fmt.Errorf("file_id=%s", fileID))
		}
		return nil, fmt.Errorf("scan json result: %w", err)
	}
	if err := json.Unmarshal(content, &result.Content); err != nil {
		return nil, fmt.Errorf("unmarshal json result content: %w", err)
	}
	if err := json.Unmarshal(predictions, &result.Predictions); err != nil {
		return nil, fmt.Errorf("unmarshal json result predictions: %w", err)
	}
	return &result, nil
}
