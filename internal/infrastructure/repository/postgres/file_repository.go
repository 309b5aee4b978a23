package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// FileRepository stores metadata of uploaded and result files.
type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, repo_id, filename, storage_key, size, status, is_source, source_file_id, created_at, updated_at`

func (r *FileRepository) Create(ctx context.Context, file *domain.StoredFile) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO files (`+fileColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		file.ID, file.RepoID, file.Filename, file.StorageKey, file.Size, file.Status,
		file.IsSource, nullString(file.SourceFileID), file.CreatedAt, file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*domain.StoredFile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "get file", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &file, nil
}

// UpdateStatus is last-write-wins; a missing row is reported as not found.
func (r *FileRepository) UpdateStatus(ctx context.Context, repoID, id, status string, isSource bool) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE files
SET status = $3, is_source = $4, updated_at = $5
WHERE id = $1 AND repo_id = $2
`, id, repoID, status, isSource, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update file status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrFileNotFound, "update file status", fmt.Errorf("id=%s repo_id=%s", id, repoID))
	}
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete file rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListBySource returns the result files derived from a source file, oldest first.
func (r *FileRepository) ListBySource(ctx context.Context, sourceFileID string) ([]domain.StoredFile, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE source_file_id = $1
ORDER BY created_at ASC
`, sourceFileID)
	if err != nil {
		return nil, fmt.Errorf("list files by source: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StoredFile, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (domain.StoredFile, error) {
	var file domain.StoredFile
	var source sql.NullString
	err := s.Scan(
		&file.ID, &file.RepoID, &file.Filename, &file.StorageKey, &file.Size, &file.Status,
		&file.IsSource, &source, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return domain.StoredFile{}, err
	}
	file.SourceFileID = source.String
	return file, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
