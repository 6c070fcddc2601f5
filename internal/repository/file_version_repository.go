package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

const fileColumns = `id, assignment_id, handle, original_name, mime_type, size_bytes, version, uploaded_at, discarded_at`

// FileVersionRepository reads attached document metadata. Writes happen inside
// assignment transactions.
type FileVersionRepository struct {
	db *sqlx.DB
}

// NewFileVersionRepository constructs the repository.
func NewFileVersionRepository(db *sqlx.DB) *FileVersionRepository {
	return &FileVersionRepository{db: db}
}

// ListVisible returns the non-discarded versions ordered by version number.
func (r *FileVersionRepository) ListVisible(ctx context.Context, assignmentID string) ([]models.FileVersion, error) {
	query := `SELECT ` + fileColumns + ` FROM assignment_files
	WHERE assignment_id = $1 AND discarded_at IS NULL ORDER BY version ASC`
	var files []models.FileVersion
	if err := r.db.SelectContext(ctx, &files, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list file versions: %w", err)
	}
	return files, nil
}

// GetByID returns one version of an assignment, including discarded ones.
func (r *FileVersionRepository) GetByID(ctx context.Context, assignmentID, fileID string) (*models.FileVersion, error) {
	query := `SELECT ` + fileColumns + ` FROM assignment_files WHERE assignment_id = $1 AND id = $2`
	var file models.FileVersion
	if err := r.db.GetContext(ctx, &file, query, assignmentID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get file version: %w", err)
	}
	return &file, nil
}

// GetByHandle resolves a blob handle back to its metadata.
func (r *FileVersionRepository) GetByHandle(ctx context.Context, handle string) (*models.FileVersion, error) {
	query := `SELECT ` + fileColumns + ` FROM assignment_files WHERE handle = $1`
	var file models.FileVersion
	if err := r.db.GetContext(ctx, &file, query, handle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get file by handle: %w", err)
	}
	return &file, nil
}

func insertFileVersion(ctx context.Context, e sqlx.ExtContext, file *models.FileVersion) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assignment_files
	(id, assignment_id, handle, original_name, mime_type, size_bytes, version, uploaded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := e.ExecContext(ctx, query,
		file.ID,
		file.AssignmentID,
		file.Handle,
		file.OriginalName,
		file.MimeType,
		file.SizeBytes,
		file.Version,
		file.UploadedAt,
	); err != nil {
		return fmt.Errorf("insert file version: %w", err)
	}
	return nil
}

func discardFileVersions(ctx context.Context, e sqlx.ExtContext, assignmentID string, at time.Time) error {
	const query = `UPDATE assignment_files SET discarded_at = $2 WHERE assignment_id = $1 AND discarded_at IS NULL`
	if _, err := e.ExecContext(ctx, query, assignmentID, at); err != nil {
		return fmt.Errorf("discard file versions: %w", err)
	}
	return nil
}
