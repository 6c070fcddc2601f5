package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/storage"
)

const (
	deptCS   = "dept-cs"
	deptMath = "dept-math"
)

// memStore backs assignments, the ledger and the user directory in memory.
type memStore struct {
	mu          sync.Mutex
	users       map[string]models.User
	assignments map[string]models.Assignment
	ledger      []models.LedgerEntry
	files       []models.FileVersion
	seq         int64

	// beforeCommit runs once, unlocked, before the next version check.
	beforeCommit func()
	conflicts    int
	commitErr    error
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]models.User{},
		assignments: map[string]models.Assignment{},
	}
}

func (s *memStore) addUser(id string, role models.UserRole, dept string) models.User {
	u := models.User{
		ID:       id,
		FullName: strings.ToUpper(id[:1]) + id[1:],
		Email:    id + "@example.edu",
		Role:     role,
		Status:   models.UserStatusActive,
	}
	if dept != "" {
		d := dept
		u.DepartmentID = &d
	}
	s.mu.Lock()
	s.users[id] = u
	s.mu.Unlock()
	return u
}

func (s *memStore) deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Status = models.UserStatusInactive
	s.users[id] = u
}

func (s *memStore) ResolveActor(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return &u, nil
}

func (s *memStore) ListReviewers(_ context.Context, departmentID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.Role.CanReview() && u.Department() == departmentID && u.Active() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, a *models.Assignment, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.NewString()
	a.Version = 1
	a.UpdatedAt = a.CreatedAt
	s.assignments[a.ID] = *a
	entry.AssignmentID = a.ID
	return s.appendLocked(entry)
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (s *memStore) UpdateDraft(_ context.Context, a *models.Assignment, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.assignments[a.ID]
	if cur.Version != expected || cur.Status != models.StatusDraft {
		return repository.ErrVersionConflict
	}
	a.Version = expected + 1
	s.assignments[a.ID] = *a
	return nil
}

func (s *memStore) CommitTransition(_ context.Context, c repository.TransitionCommit) error {
	s.mu.Lock()
	hook := s.beforeCommit
	s.beforeCommit = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrVersionConflict
	}
	a := c.Assignment
	if s.assignments[a.ID].Version != c.ExpectedVersion {
		return repository.ErrVersionConflict
	}
	now := time.Now().UTC()
	if c.DiscardFiles {
		for i := range s.files {
			if s.files[i].AssignmentID == a.ID && s.files[i].DiscardedAt == nil {
				s.files[i].DiscardedAt = &now
			}
		}
	}
	if c.NewFile != nil {
		c.NewFile.ID = uuid.NewString()
		c.NewFile.AssignmentID = a.ID
		s.files = append(s.files, *c.NewFile)
	}
	c.Entry.AssignmentID = a.ID
	if err := s.appendLocked(c.Entry); err != nil {
		return err
	}
	a.Version = c.ExpectedVersion + 1
	s.assignments[a.ID] = *a
	return nil
}

func (s *memStore) AddDraftFile(_ context.Context, a *models.Assignment, expected int, file *models.FileVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrVersionConflict
	}
	cur := s.assignments[a.ID]
	if cur.Version != expected || cur.Status != models.StatusDraft {
		return repository.ErrVersionConflict
	}
	file.ID = uuid.NewString()
	file.AssignmentID = a.ID
	s.files = append(s.files, *file)
	a.Version = expected + 1
	a.LastFileVersion = file.Version
	s.assignments[a.ID] = *a
	return nil
}

func (s *memStore) appendLocked(entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	for _, e := range s.ledger {
		if e.ID == entry.ID {
			return repository.ErrDuplicateLedgerEntry
		}
	}
	s.seq++
	entry.Sequence = s.seq
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *memStore) ListFor(_ context.Context, assignmentID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.ledger {
		if e.AssignmentID == assignmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) LatestByAction(_ context.Context, assignmentID string, action models.LedgerAction) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.ledger) - 1; i >= 0; i-- {
		e := s.ledger[i]
		if e.AssignmentID == assignmentID && e.Action == action {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memStore) actions(assignmentID string) []models.LedgerAction {
	entries, _ := s.ListFor(context.Background(), assignmentID)
	out := make([]models.LedgerAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *memStore) setStatus(id string, status models.AssignmentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.assignments[id]
	a.Status = status
	s.assignments[id] = a
}

// memFiles exposes the file side of memStore.
type memFiles struct{ s *memStore }

func (f memFiles) ListVisible(_ context.Context, assignmentID string) ([]models.FileVersion, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.FileVersion
	for _, file := range f.s.files {
		if file.AssignmentID == assignmentID && file.DiscardedAt == nil {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f memFiles) GetByID(_ context.Context, assignmentID, fileID string) (*models.FileVersion, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, file := range f.s.files {
		if file.AssignmentID == assignmentID && file.ID == fileID {
			return &file, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f memFiles) GetByHandle(_ context.Context, handle string) (*models.FileVersion, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, file := range f.s.files {
		if file.Handle == handle {
			return &file, nil
		}
	}
	return nil, sql.ErrNoRows
}

// memBlobs is an in-memory blob store.
type memBlobs struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	putErr error
	puts   int
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, r io.Reader) (string, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.putErr != nil {
		return "", 0, b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	handle := uuid.NewString()
	b.blobs[handle] = data
	return handle, int64(len(data)), nil
}

func (b *memBlobs) Get(_ context.Context, handle string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[handle]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[handle]; !ok {
		return storage.ErrBlobNotFound
	}
	delete(b.blobs, handle)
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// recordingNotifier captures workflow notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []NotificationRequest
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, req NotificationRequest) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
	if n.err != nil {
		return nil, n.err
	}
	return &models.Notification{ID: uuid.NewString(), RecipientID: req.RecipientID}, nil
}

func (n *recordingNotifier) last() NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return NotificationRequest{}
	}
	return n.sent[len(n.sent)-1]
}

// recordingDeliverer captures outbound messages.
type recordingDeliverer struct {
	mu       sync.Mutex
	messages map[string][]string
	err      error
}

func (d *recordingDeliverer) Deliver(_ context.Context, address, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.messages == nil {
		d.messages = map[string][]string{}
	}
	d.messages[address] = append(d.messages[address], message)
	return nil
}

func (d *recordingDeliverer) lastTo(address string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.messages[address]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// memChallenges mirrors the Redis challenge store semantics.
type memChallenges struct {
	mu      sync.Mutex
	entries map[string]models.ApprovalChallenge
}

func newMemChallenges() *memChallenges {
	return &memChallenges{entries: map[string]models.ApprovalChallenge{}}
}

func (m *memChallenges) Save(_ context.Context, ch *models.ApprovalChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ch.AssignmentID] = *ch
	return nil
}

func (m *memChallenges) Get(_ context.Context, id string) (*models.ApprovalChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.entries[id]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	return &ch, nil
}

func (m *memChallenges) RecordFailedAttempt(_ context.Context, id, nonce string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.lookup(id, nonce)
	if err != nil {
		return 0, err
	}
	ch.Attempts++
	m.entries[id] = ch
	return ch.Attempts, nil
}

func (m *memChallenges) Consume(_ context.Context, id, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id, nonce); err != nil {
		return err
	}
	delete(m.entries, id)
	return nil
}

func (m *memChallenges) Discard(ctx context.Context, id, nonce string) error {
	err := m.Consume(ctx, id, nonce)
	if errors.Is(err, repository.ErrChallengeNotFound) || errors.Is(err, repository.ErrStaleChallenge) {
		return nil
	}
	return err
}

func (m *memChallenges) lookup(id, nonce string) (models.ApprovalChallenge, error) {
	ch, ok := m.entries[id]
	if !ok {
		return ch, repository.ErrChallengeNotFound
	}
	if ch.Nonce != nonce {
		return ch, repository.ErrStaleChallenge
	}
	return ch, nil
}

func (m *memChallenges) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// fixture wires the engine against the in-memory fakes.
type fixture struct {
	store      *memStore
	blobs      *memBlobs
	notifier   *recordingNotifier
	deliverer  *recordingDeliverer
	challenges *memChallenges
	workflow   *WorkflowService
	files      *FileService
	approvals  *ApprovalService
	now        time.Time

	student, otherStudent, professorA, professorB, hod, mathProf models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      newMemStore(),
		blobs:      newMemBlobs(),
		notifier:   &recordingNotifier{},
		deliverer:  &recordingDeliverer{},
		challenges: newMemChallenges(),
		now:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	actor := func(u models.User) models.Actor { return models.Actor{ID: u.ID, Role: u.Role} }
	f.student = actor(f.store.addUser("student", models.RoleStudent, deptCS))
	f.otherStudent = actor(f.store.addUser("mallory", models.RoleStudent, deptCS))
	f.professorA = actor(f.store.addUser("alice", models.RoleProfessor, deptCS))
	f.professorB = actor(f.store.addUser("bob", models.RoleProfessor, deptCS))
	f.hod = actor(f.store.addUser("hodge", models.RoleHOD, deptCS))
	f.mathProf = actor(f.store.addUser("gauss", models.RoleProfessor, deptMath))

	clock := func() time.Time { return f.now }
	files := memFiles{s: f.store}
	f.files = NewFileService(f.blobs, storage.NewSignedURLSigner("test-secret", time.Minute), f.store, f.store, files, f.store, nil, nil, "/api/v1", WithFileClock(clock))
	f.workflow = NewWorkflowService(f.store, f.store, files, f.store, f.notifier, nil, nil,
		WithWorkflowClock(clock), WithUploadStager(f.files))
	f.approvals = NewApprovalService(f.workflow, f.challenges, f.deliverer, ApprovalConfig{HashCost: bcrypt.MinCost}, nil, nil,
		WithApprovalClock(clock),
		WithCodeGenerator(func() (string, error) { return "424242", nil }))
	return f
}

func pdfUpload(name string, size int64) *FileUpload {
	header := "%PDF-1.4\n"
	body := header + strings.Repeat("x", int(size)-len(header))
	return &FileUpload{Filename: name, MimeType: "application/pdf", Size: int64(len(body)), Content: strings.NewReader(body)}
}

func draftRequest() dto.CreateAssignmentRequest {
	return dto.CreateAssignmentRequest{Title: "Lab report", Description: "Week 3 measurements", Category: models.CategoryReport}
}

func resubmitRequest() dto.ResubmitAssignmentRequest {
	return dto.ResubmitAssignmentRequest{}
}

// draftWithFile creates a draft owned by the fixture student with one PDF attached.
func (f *fixture) draftWithFile(t *testing.T) *models.Assignment {
	t.Helper()
	ctx := context.Background()
	a, err := f.workflow.CreateAssignment(ctx, f.student, dto.CreateAssignmentRequest{
		Title:       "  Distributed Systems Essay ",
		Description: "Consensus protocols compared",
		Category:    models.CategoryAssignment,
	})
	require.NoError(t, err)
	_, err = f.files.AddVersion(ctx, f.student, a.ID, pdfUpload("essay.pdf", 2048))
	require.NoError(t, err)
	return a
}

// submitted returns an assignment submitted to professor A.
func (f *fixture) submitted(t *testing.T) *models.Assignment {
	t.Helper()
	a := f.draftWithFile(t)
	a, err := f.workflow.Submit(context.Background(), f.student, a.ID, f.professorA.ID)
	require.NoError(t, err)
	return a
}

func requireAppError(t *testing.T, err error, target *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, target, fmt.Sprintf("got %v", err))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	return appErr
}
