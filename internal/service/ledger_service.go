package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assignment-review-api/internal/models"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/export"
)

// Ledger export formats.
const (
	LedgerFormatCSV = "csv"
	LedgerFormatPDF = "pdf"
)

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// LedgerExport is a rendered audit trail ready to be streamed.
type LedgerExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LedgerService exposes the audit trail to assignment participants.
type LedgerService struct {
	ledger ledgerStore
	guard  accessGuard
	csv    datasetRenderer
	pdf    datasetRenderer
	logger *zap.Logger
}

// NewLedgerService constructs the service. Nil renderers fall back to the
// package exporters.
func NewLedgerService(assignments assignmentReader, ledger ledgerStore, directory actorDirectory, csv, pdf datasetRenderer, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &LedgerService{
		ledger: ledger,
		guard:  accessGuard{assignments: assignments, ledger: ledger, directory: directory},
		csv:    csv,
		pdf:    pdf,
		logger: logger,
	}
}

// ListLedger returns the entries of an assignment in commit order.
func (s *LedgerService) ListLedger(ctx context.Context, actor models.Actor, assignmentID string) ([]models.LedgerEntry, error) {
	if _, err := s.readable(ctx, actor, assignmentID); err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListFor(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return entries, nil
}

// ExportLedger renders the audit trail as CSV or PDF.
func (s *LedgerService) ExportLedger(ctx context.Context, actor models.Actor, assignmentID, format string) (*LedgerExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = LedgerFormatCSV
	}
	if format != LedgerFormatCSV && format != LedgerFormatPDF {
		return nil, appErrors.Validation("format", "format must be csv or pdf")
	}

	a, err := s.readable(ctx, actor, assignmentID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListFor(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}

	dataset := ledgerDataset(a, entries)
	result := &LedgerExport{Filename: fmt.Sprintf("ledger-%s.%s", a.ID, format)}
	switch format {
	case LedgerFormatPDF:
		result.ContentType = "application/pdf"
		result.Data, err = s.pdf.Render(dataset)
	default:
		result.ContentType = "text/csv"
		result.Data, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit trail")
	}
	s.logger.Debug("ledger exported", zap.String("assignment_id", a.ID), zap.String("format", format), zap.Int("entries", len(entries)))
	return result, nil
}

func (s *LedgerService) readable(ctx context.Context, actor models.Actor, assignmentID string) (*models.Assignment, error) {
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

func ledgerDataset(a *models.Assignment, entries []models.LedgerEntry) export.Dataset {
	headers := []string{"Sequence", "Timestamp", "Action", "Actor", "Role", "From", "To", "Forwarded To", "Remarks"}
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		from := ""
		if e.PreviousStatus != nil {
			from = string(*e.PreviousStatus)
		}
		rows = append(rows, map[string]string{
			"Sequence":     fmt.Sprintf("%d", e.Sequence),
			"Timestamp":    e.Timestamp.UTC().Format(time.RFC3339),
			"Action":       string(e.Action),
			"Actor":        e.ActorID,
			"Role":         string(e.ActorRole),
			"From":         from,
			"To":           string(e.NewStatus),
			"Forwarded To": deref(e.ForwardedToID),
			"Remarks":      deref(e.Remarks),
		})
	}
	return export.Dataset{
		Title:    "Audit trail: " + a.Title,
		Subtitle: []string{"Assignment " + a.ID, "Current status " + string(a.Status)},
		Headers:  headers,
		Rows:     rows,
		Widths:   []float64{1, 2.2, 1.2, 2.4, 1.2, 1.2, 1.2, 2.4, 4},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
