package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

var ledgerRowColumns = []string{"id", "sequence", "assignment_id", "actor_id", "actor_role", "action", "previous_status", "new_status",
	"remarks", "forwarded_to_id", "signature", "created_at"}

func TestAppendLedgerEntryAssignsSequence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO ledger_entries[\s\S]+RETURNING sequence`).
		WithArgs(sqlmock.AnyArg(), "a1", "alice", "Professor", "forward", "Submitted", "Forwarded", "Needs HOD", "hodge", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(3))

	previous := models.StatusSubmitted
	remarks, target := "Needs HOD", "hodge"
	entry := &models.LedgerEntry{
		AssignmentID:   "a1",
		ActorID:        "alice",
		ActorRole:      models.RoleProfessor,
		Action:         models.ActionForward,
		PreviousStatus: &previous,
		NewStatus:      models.StatusForwarded,
		Remarks:        &remarks,
		ForwardedToID:  &target,
	}
	require.NoError(t, NewLedgerRepository(db).Append(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.EqualValues(t, 3, entry.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLedgerEntryRejectsDuplicates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO ledger_entries").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := NewLedgerRepository(db).Append(context.Background(), &models.LedgerEntry{ID: "e1", AssignmentID: "a1"})
	assert.ErrorIs(t, err, ErrDuplicateLedgerEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListLedgerEntries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(ledgerRowColumns).
		AddRow("e1", 1, "a1", "student", "Student", "create", nil, "Draft", nil, nil, nil, now).
		AddRow("e2", 2, "a1", "student", "Student", "submit", "Draft", "Submitted", nil, nil, nil, now)
	mock.ExpectQuery(`FROM ledger_entries WHERE assignment_id = \$1 ORDER BY sequence ASC`).WithArgs("a1").WillReturnRows(rows)

	entries, err := repo.ListFor(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].PreviousStatus)
	require.NotNil(t, entries[1].PreviousStatus)
	assert.Equal(t, models.StatusDraft, *entries[1].PreviousStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestByAction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now()
	mock.ExpectQuery(`AND action = \$2 ORDER BY sequence DESC LIMIT 1`).WithArgs("a1", "reject").
		WillReturnRows(sqlmock.NewRows(ledgerRowColumns).
			AddRow("e4", 4, "a1", "alice", "Professor", "reject", "Submitted", "Rejected", "Needs work", nil, nil, now))

	entry, err := repo.LatestByAction(context.Background(), "a1", models.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.ActorID)

	mock.ExpectQuery("FROM ledger_entries").WithArgs("a2", "reject").WillReturnError(sql.ErrNoRows)
	_, err = repo.LatestByAction(context.Background(), "a2", models.ActionReject)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
