package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/storage"
)

const sniffLength = 512

// FileUpload is an incoming document as received from the transport.
type FileUpload struct {
	Filename string
	MimeType string
	Size     int64
	Content  io.Reader
}

type blobStore interface {
	Put(ctx context.Context, r io.Reader) (string, int64, error)
	Get(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
}

type downloadSigner interface {
	Generate(fileID, handle string) (string, time.Time, error)
	Parse(token string) (string, string, time.Time, error)
}

// FileService validates, stores and serves assignment document versions.
type FileService struct {
	blobs     blobStore
	signer    downloadSigner
	store     assignmentStore
	files     fileCatalog
	guard     accessGuard
	metrics   *MetricsService
	logger    *zap.Logger
	urlPrefix string
	now       func() time.Time
}

// FileOption configures the service.
type FileOption func(*FileService)

// WithFileClock overrides the time source.
func WithFileClock(now func() time.Time) FileOption {
	return func(s *FileService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFileService constructs the service. urlPrefix is prepended to download links.
func NewFileService(blobs blobStore, signer downloadSigner, store assignmentStore, ledger ledgerStore, files fileCatalog, directory actorDirectory, metrics *MetricsService, logger *zap.Logger, urlPrefix string, opts ...FileOption) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &FileService{
		blobs:     blobs,
		signer:    signer,
		store:     store,
		files:     files,
		guard:     accessGuard{assignments: store, ledger: ledger, directory: directory},
		metrics:   metrics,
		logger:    logger,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Stage validates the upload and writes its bytes to blob storage. The
// returned version carries no assignment or version number yet.
func (s *FileService) Stage(ctx context.Context, upload *FileUpload) (*models.FileVersion, error) {
	if upload == nil || upload.Content == nil {
		return nil, appErrors.Validation("file", "file is required")
	}
	mediaType, _, err := mime.ParseMediaType(upload.MimeType)
	if err != nil || (mediaType != models.MimeTypePDF && mediaType != "application/x-pdf") {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, "only PDF documents are accepted")
	}
	if upload.Size > models.MaxFileSizeBytes {
		return nil, appErrors.ErrPayloadTooLarge
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	head = head[:n]
	if n == 0 {
		return nil, appErrors.Validation("file", "file is empty")
	}
	if !mimetype.Detect(head).Is(models.MimeTypePDF) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, "file content is not a PDF document")
	}

	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), upload.Content), models.MaxFileSizeBytes+1)
	handle, written, err := s.blobs.Put(ctx, body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, appErrors.ErrStorageFailure.Message)
	}
	if written > models.MaxFileSizeBytes {
		s.Release(ctx, handle)
		return nil, appErrors.ErrPayloadTooLarge
	}

	return &models.FileVersion{
		Handle:       handle,
		OriginalName: sanitizeFilename(upload.Filename),
		MimeType:     models.MimeTypePDF,
		SizeBytes:    written,
		UploadedAt:   s.now(),
	}, nil
}

// Release removes a staged blob that never made it into a committed version.
func (s *FileService) Release(ctx context.Context, handle string) {
	if handle == "" {
		return
	}
	if err := s.blobs.Delete(ctx, handle); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		s.logger.Warn("failed to release staged blob", zap.String("handle", handle), zap.Error(err))
	}
}

// AddVersion attaches a new document version to a draft.
func (s *FileService) AddVersion(ctx context.Context, actor models.Actor, assignmentID string, upload *FileUpload) (_ *models.FileVersion, err error) {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	a, err := s.guard.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.authorize(ctx, user, a, opAttach); err != nil {
		return nil, err
	}

	staged, err := s.Stage(ctx, upload)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.Release(context.WithoutCancel(ctx), staged.Handle)
		}
	}()

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if attempt > 0 {
			if a, err = s.guard.load(ctx, assignmentID); err != nil {
				return nil, err
			}
			if err = s.guard.authorize(ctx, user, a, opAttach); err != nil {
				return nil, err
			}
		}
		file := *staged
		file.Version = a.LastFileVersion + 1
		err = s.store.AddDraftFile(ctx, a, a.Version, &file)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to record file version")
		}
		s.metrics.ObserveUpload(file.SizeBytes)
		s.logger.Info("file version added",
			zap.String("assignment_id", a.ID), zap.String("file_id", file.ID), zap.Int("version", file.Version))
		return &file, nil
	}
	err = appErrors.Clone(appErrors.ErrConflict, "assignment is being modified concurrently, retry")
	return nil, err
}

// ListVersions returns the visible versions of an assignment.
func (s *FileService) ListVersions(ctx context.Context, actor models.Actor, assignmentID string) ([]models.FileVersion, error) {
	if _, err := s.readable(ctx, actor, assignmentID); err != nil {
		return nil, err
	}
	files, err := s.files.ListVisible(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	if files == nil {
		files = []models.FileVersion{}
	}
	return files, nil
}

// GetVersion returns one version, including discarded ones, for audit purposes.
func (s *FileService) GetVersion(ctx context.Context, actor models.Actor, assignmentID, fileID string) (*models.FileVersion, error) {
	if _, err := s.readable(ctx, actor, assignmentID); err != nil {
		return nil, err
	}
	file, err := s.files.GetByID(ctx, assignmentID, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	return file, nil
}

// DownloadURL issues a time-limited link to a file version.
func (s *FileService) DownloadURL(ctx context.Context, actor models.Actor, assignmentID, fileID string) (*dto.DownloadLink, error) {
	file, err := s.GetVersion(ctx, actor, assignmentID, fileID)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(file.ID, file.Handle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &dto.DownloadLink{
		URL:       fmt.Sprintf("%s/files/download?token=%s", s.urlPrefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// Open resolves a download token to the file metadata and its content.
// The caller must close the returned reader.
func (s *FileService) Open(ctx context.Context, token string) (*models.FileVersion, io.ReadCloser, error) {
	fileID, handle, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	file, err := s.files.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if file.ID != fileID {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	content, err := s.blobs.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file content missing")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, appErrors.ErrStorageFailure.Message)
	}
	return file, content, nil
}

func (s *FileService) readable(ctx context.Context, actor models.Actor, assignmentID string) (*models.Assignment, error) {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	a, err := s.guard.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.canRead(ctx, user, a); err != nil {
		return nil, err
	}
	return a, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}
