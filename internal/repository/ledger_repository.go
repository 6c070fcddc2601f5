package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

// ErrDuplicateLedgerEntry is returned when an entry id was already recorded.
var ErrDuplicateLedgerEntry = errors.New("ledger entry already recorded")

const uniqueViolation = "23505"

// LedgerRepository is the append-only audit trail. It exposes no
// update or delete operations.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append records a new entry outside of any transaction. Workflow
// transitions append through CommitTransition instead.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return appendLedgerEntry(ctx, r.db, entry)
}

// ListFor returns every entry for an assignment in sequence order.
func (r *LedgerRepository) ListFor(ctx context.Context, assignmentID string) ([]models.LedgerEntry, error) {
	const query = `SELECT id, sequence, assignment_id, actor_id, actor_role, action, previous_status, new_status,
       remarks, forwarded_to_id, signature, created_at
	FROM ledger_entries WHERE assignment_id = $1 ORDER BY sequence ASC`
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// LatestByAction returns the most recent entry of the given action, or sql.ErrNoRows.
func (r *LedgerRepository) LatestByAction(ctx context.Context, assignmentID string, action models.LedgerAction) (*models.LedgerEntry, error) {
	const query = `SELECT id, sequence, assignment_id, actor_id, actor_role, action, previous_status, new_status,
       remarks, forwarded_to_id, signature, created_at
	FROM ledger_entries WHERE assignment_id = $1 AND action = $2 ORDER BY sequence DESC LIMIT 1`
	var entry models.LedgerEntry
	if err := r.db.GetContext(ctx, &entry, query, assignmentID, action); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("latest ledger entry: %w", err)
	}
	return &entry, nil
}

func appendLedgerEntry(ctx context.Context, q sqlx.QueryerContext, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	const query = `INSERT INTO ledger_entries
	(id, assignment_id, actor_id, actor_role, action, previous_status, new_status, remarks, forwarded_to_id, signature, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING sequence`
	err := q.QueryRowxContext(ctx, query,
		entry.ID,
		entry.AssignmentID,
		entry.ActorID,
		entry.ActorRole,
		entry.Action,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Remarks,
		entry.ForwardedToID,
		entry.Signature,
		entry.Timestamp,
	).Scan(&entry.Sequence)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateLedgerEntry
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}
