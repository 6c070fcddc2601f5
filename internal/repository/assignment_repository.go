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

// ErrVersionConflict signals that the assignment changed since it was loaded.
var ErrVersionConflict = errors.New("assignment modified concurrently")

const assignmentColumns = `id, title, description, category, submitter_id, department_id, reviewer_id, status,
       version, last_file_version, created_at, submitted_at, updated_at`

// AssignmentRepository persists assignments together with their ledger
// entries and file versions.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a draft and its creation entry atomically.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment, entry *models.LedgerEntry) (err error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = assignment.CreatedAt
	if assignment.Version == 0 {
		assignment.Version = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create assignment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO assignments
	(id, title, description, category, submitter_id, department_id, reviewer_id, status, version, last_file_version, created_at, submitted_at, updated_at)
	VALUES (:id, :title, :description, :category, :submitter_id, :department_id, :reviewer_id, :status, :version, :last_file_version, :created_at, :submitted_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}

	entry.AssignmentID = assignment.ID
	if err = appendLedgerEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create assignment: %w", err)
	}
	return nil
}

// GetByID fetches an assignment without files or history.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &assignment, nil
}

// UpdateDraft persists editable fields while the assignment is still a draft.
func (r *AssignmentRepository) UpdateDraft(ctx context.Context, assignment *models.Assignment, expectedVersion int) error {
	const query = `UPDATE assignments
	SET title = $3, description = $4, category = $5, version = version + 1, updated_at = $6
	WHERE id = $1 AND version = $2 AND status = 'Draft'`
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		assignment.ID,
		expectedVersion,
		assignment.Title,
		assignment.Description,
		assignment.Category,
		now,
	)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	assignment.Version = expectedVersion + 1
	assignment.UpdatedAt = now
	return nil
}

// TransitionCommit describes one workflow transition to persist atomically.
type TransitionCommit struct {
	Assignment      *models.Assignment
	ExpectedVersion int
	Entry           *models.LedgerEntry
	DiscardFiles    bool
	NewFile         *models.FileVersion
}

// CommitTransition writes the new assignment state, file changes and ledger
// entry in one transaction. A concurrent writer yields ErrVersionConflict.
func (r *AssignmentRepository) CommitTransition(ctx context.Context, commit TransitionCommit) (err error) {
	a := commit.Assignment
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE assignments
	SET description = $3, status = $4, reviewer_id = $5, submitted_at = $6, last_file_version = $7,
	    version = version + 1, updated_at = $8
	WHERE id = $1 AND version = $2`
	result, err := tx.ExecContext(ctx, query,
		a.ID,
		commit.ExpectedVersion,
		a.Description,
		a.Status,
		a.ReviewerID,
		a.SubmittedAt,
		a.LastFileVersion,
		now,
	)
	if err != nil {
		return fmt.Errorf("update assignment state: %w", err)
	}
	if err = expectOneRow(result); err != nil {
		return err
	}

	if commit.DiscardFiles {
		if err = discardFileVersions(ctx, tx, a.ID, now); err != nil {
			return err
		}
	}
	if commit.NewFile != nil {
		commit.NewFile.AssignmentID = a.ID
		if err = insertFileVersion(ctx, tx, commit.NewFile); err != nil {
			return err
		}
	}

	commit.Entry.AssignmentID = a.ID
	if err = appendLedgerEntry(ctx, tx, commit.Entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	a.Version = commit.ExpectedVersion + 1
	a.UpdatedAt = now
	return nil
}

// AddDraftFile attaches a new version while the assignment is a draft.
func (r *AssignmentRepository) AddDraftFile(ctx context.Context, assignment *models.Assignment, expectedVersion int, file *models.FileVersion) (err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE assignments
	SET last_file_version = $3, version = version + 1, updated_at = $4
	WHERE id = $1 AND version = $2 AND status = 'Draft'`
	result, err := tx.ExecContext(ctx, query, assignment.ID, expectedVersion, file.Version, now)
	if err != nil {
		return fmt.Errorf("bump file version: %w", err)
	}
	if err = expectOneRow(result); err != nil {
		return err
	}

	file.AssignmentID = assignment.ID
	if err = insertFileVersion(ctx, tx, file); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit add file: %w", err)
	}
	assignment.Version = expectedVersion + 1
	assignment.LastFileVersion = file.Version
	assignment.UpdatedAt = now
	return nil
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	return nil
}
