package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/service"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/response"
)

const (
	uploadField = "file"
	// multipart framing and form fields on top of the document itself
	uploadOverhead = 1 << 20
)

type fileService interface {
	AddVersion(ctx context.Context, actor models.Actor, assignmentID string, upload *service.FileUpload) (*models.FileVersion, error)
	ListVersions(ctx context.Context, actor models.Actor, assignmentID string) ([]models.FileVersion, error)
	GetVersion(ctx context.Context, actor models.Actor, assignmentID, fileID string) (*models.FileVersion, error)
	DownloadURL(ctx context.Context, actor models.Actor, assignmentID, fileID string) (*dto.DownloadLink, error)
	Open(ctx context.Context, token string) (*models.FileVersion, io.ReadCloser, error)
}

// FileHandler exposes document version endpoints.
type FileHandler struct {
	service fileService
}

// NewFileHandler builds a new handler.
func NewFileHandler(service fileService) *FileHandler {
	return &FileHandler{service: service}
}

// Upload godoc
// @Summary Attach a new PDF version to a draft
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Assignment ID"
// @Param file formData file true "PDF document, at most 10 MiB"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /assignments/{id}/files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	limitUploadBody(c)

	upload, closeFn, err := optionalUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()
	if upload == nil {
		response.Error(c, appErrors.Validation(uploadField, "file is required"))
		return
	}

	file, err := h.service.AddVersion(c.Request.Context(), actor, c.Param("id"), upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// List godoc
// @Summary List visible file versions
// @Tags Files
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/files [get]
func (h *FileHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	files, err := h.service.ListVersions(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files)
}

// Get godoc
// @Summary Get one file version
// @Tags Files
// @Produce json
// @Param id path string true "Assignment ID"
// @Param fileId path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/files/{fileId} [get]
func (h *FileHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	file, err := h.service.GetVersion(c.Request.Context(), actor, c.Param("id"), c.Param("fileId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file)
}

// DownloadURL godoc
// @Summary Issue a time-limited download link
// @Tags Files
// @Produce json
// @Param id path string true "Assignment ID"
// @Param fileId path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/files/{fileId}/download-url [get]
func (h *FileHandler) DownloadURL(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	link, err := h.service.DownloadURL(c.Request.Context(), actor, c.Param("id"), c.Param("fileId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link)
}

// Download godoc
// @Summary Download a file version using a signed token
// @Tags Files
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Validation("token", "token is required"))
		return
	}
	file, content, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer content.Close()

	c.DataFromReader(http.StatusOK, file.SizeBytes, file.MimeType, content, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.OriginalName),
		"Cache-Control":       "no-store",
	})
}

func limitUploadBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, models.MaxFileSizeBytes+uploadOverhead)
}

// optionalUpload returns the multipart file, or nil when the form has none.
func optionalUpload(c *gin.Context) (*service.FileUpload, func(), error) {
	noop := func() {}
	header, err := c.FormFile(uploadField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, nil
		}
		return nil, noop, uploadError(err, "invalid multipart payload")
	}
	f, err := header.Open()
	if err != nil {
		return nil, noop, uploadError(err, "failed to read uploaded file")
	}
	upload := &service.FileUpload{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Content:  f,
	}
	return upload, func() { _ = f.Close() }, nil
}
