package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/service"
	"github.com/noah-isme/assignment-review-api/pkg/response"
)

type ledgerService interface {
	ListLedger(ctx context.Context, actor models.Actor, assignmentID string) ([]models.LedgerEntry, error)
	ExportLedger(ctx context.Context, actor models.Actor, assignmentID, format string) (*service.LedgerExport, error)
}

// LedgerHandler exposes the audit trail.
type LedgerHandler struct {
	service ledgerService
}

// NewLedgerHandler builds a new handler.
func NewLedgerHandler(service ledgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// List godoc
// @Summary List the audit trail of an assignment
// @Tags Ledger
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/ledger [get]
func (h *LedgerHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	entries, err := h.service.ListLedger(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// Export godoc
// @Summary Export the audit trail as CSV or PDF
// @Tags Ledger
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Assignment ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /assignments/{id}/ledger/export [get]
func (h *LedgerHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	result, err := h.service.ExportLedger(c.Request.Context(), actor, c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
