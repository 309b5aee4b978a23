package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS files").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDReturnsFileNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &FileRepository{db: db}

	mock.ExpectQuery("SELECT id, repo_id, filename").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansResultFile(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &FileRepository{db: db}

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "repo_id", "filename", "storage_key", "size", "status", "is_source", "source_file_id", "created_at", "updated_at"}).
		AddRow("res1", "r1", "statement.xlsx", "res1", int64(12), "0.8700", false, "src1", now, now)
	mock.ExpectQuery("SELECT id, repo_id, filename").WithArgs("res1").WillReturnRows(rows)

	file, err := repo.GetByID(context.Background(), "res1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if file.SourceFileID != "src1" || file.IsSource || file.Status != "0.8700" {
		t.Fatalf("unexpected file %+v", file)
	}
}

func TestUpdateStatusReturnsFileNotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &FileRepository{db: db}

	mock.ExpectExec("UPDATE files").
		WithArgs("missing", "r1", "0.8700", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "r1", "missing", "0.8700", true)
	if !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateStoresNullSourceForUploads(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &FileRepository{db: db}

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO files").
		WithArgs("f1", "r1", "a.pdf", "f1", int64(3), domain.FileStatusUploaded, true, sql.NullString{}, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &domain.StoredFile{
		ID: "f1", RepoID: "r1", Filename: "a.pdf", StorageKey: "f1", Size: 3,
		Status: domain.FileStatusUploaded, IsSource: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertJSONResultUsesOnConflict(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &JSONResultRepository{db: db}

	p := 0.87
	result := domain.JSONResult{
		FileID:      "f1",
		Content:     domain.Projection{"current_transaction": {{Key: "交易金额", Value: "5000"}}},
		Predictions: map[string]*float64{"statement.xlsx": &p},
	}

	for i := 0; i < 2; i++ {
		mock.ExpectExec(`INSERT INTO json_results .* ON CONFLICT \(file_id\) DO UPDATE`).
			WithArgs("f1", sqlmock.AnyArg(), []byte(`{"statement.xlsx":0.87}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := 0; i < 2; i++ {
		if err := repo.UpsertJSONResult(context.Background(), result); err != nil {
			t.Fatalf("UpsertJSONResult() #%d error = %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetJSONResultDecodesNullPredictions(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &JSONResultRepository{db: db}

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"file_id", "content", "predictions", "updated_at"}).
		AddRow("f1", []byte(`{"fraud_flags":[{"key":"是否欺诈","value":"否"}]}`), []byte(`{"statement.xlsx":null}`), now)
	mock.ExpectQuery("SELECT file_id, content, predictions").WithArgs("f1").WillReturnRows(rows)

	result, err := repo.GetJSONResult(context.Background(), "f1")
	if err != nil {
		t.Fatalf("GetJSONResult() error = %v", err)
	}
	p, ok := result.Predictions["statement.xlsx"]
	if !ok || p != nil {
		t.Fatalf("expected explicit null prediction, got %v", result.Predictions)
	}
	if result.Content["fraud_flags"][0].Value != "否" {
		t.Fatalf("unexpected content %+v", result.Content)
	}
}

func TestGetJSONResultNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := &JSONResultRepository{db: db}

	mock.ExpectQuery("SELECT file_id").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetJSONResult(context.Background(), "nope"); !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}

	mock.ExpectQuery("SELECT file_id").WithArgs("boom").WillReturnError(errors.New("conn reset"))
	if _, err := repo.GetJSONResult(context.Background(), "boom"); err == nil || domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected plain scan error, got %v", err)
	}
}
