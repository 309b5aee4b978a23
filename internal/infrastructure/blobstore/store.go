// Package blobstore combines file metadata rows with their stored bytes.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/core/ports"
)

type Store struct {
	files   ports.FileRepository
	storage ports.ObjectStorage
}

func New(files ports.FileRepository, storage ports.ObjectStorage) *Store {
	return &Store{files: files, storage: storage}
}

// Upload stores data and its metadata row. A non-empty sourceFileID marks
// the upload as a result file derived from that source.
func (s *Store) Upload(ctx context.Context, repoID, filename string, data []byte, sourceFileID string) (domain.StoredFile, error) {
	if strings.TrimSpace(repoID) == "" || strings.TrimSpace(filename) == "" {
		return domain.StoredFile{}, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("repo_id and filename are required"))
	}

	id := uuid.NewString()
	if err := s.storage.Save(ctx, id, bytes.NewReader(data)); err != nil {
		return domain.StoredFile{}, fmt.Errorf("save blob: %w", err)
	}

	now := time.Now().UTC()
	file := domain.StoredFile{
		ID:           id,
		RepoID:       repoID,
		Filename:     filename,
		StorageKey:   id,
		Size:         int64(len(data)),
		Status:       domain.FileStatusUploaded,
		IsSource:     sourceFileID == "",
		SourceFileID: sourceFileID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.files.Create(ctx, &file); err != nil {
		if delErr := s.storage.Delete(ctx, id); delErr != nil {
			slog.Warn("blob_orphaned", "storage_key", id, "error", delErr)
		}
		return domain.StoredFile{}, fmt.Errorf("create file row: %w", err)
	}
	return file, nil
}

func (s *Store) Stat(ctx context.Context, fileID string) (domain.StoredFile, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return domain.StoredFile{}, err
	}
	return *file, nil
}

func (s *Store) Download(ctx context.Context, fileID string) (string, []byte, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return "", nil, err
	}
	rc, err := s.storage.Open(ctx, file.StorageKey)
	if err != nil {
		return "", nil, fmt.Errorf("open blob %s: %w", file.StorageKey, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, fmt.Errorf("read blob %s: %w", file.StorageKey, err)
	}
	return file.Filename, data, nil
}

// Delete removes the metadata row first, then the blob.
func (s *Store) Delete(ctx context.Context, fileID string) (bool, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if domain.IsKind(err, domain.ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	deleted, err := s.files.Delete(ctx, fileID)
	if err != nil || !deleted {
		return deleted, err
	}
	if err := s.storage.Delete(ctx, file.StorageKey); err != nil {
		slog.Warn("blob_delete_failed", "file_id", fileID, "error", err)
	}
	return true, nil
}

func (s *Store) UpdateStatus(ctx context.Context, repoID, fileID, status string, isSource bool) error {
	return s.files.UpdateStatus(ctx, repoID, fileID, status, isSource)
}

func (s *Store) ListResults(ctx context.Context, sourceFileID string) ([]domain.StoredFile, error) {
	return s.files.ListBySource(ctx, sourceFileID)
}
