package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerDataset() Dataset {
	return Dataset{
		Title:    "Audit trail",
		Subtitle: []string{"Assignment: Thesis draft"},
		Headers:  []string{"Seq", "Action", "Remarks"},
		Rows: []map[string]string{
			{"Seq": "1", "Action": "create"},
			{"Seq": "2", "Action": "reject", "Remarks": strings.Repeat("needs more citations, ", 20)},
		},
		Widths: []float64{1, 2, 6},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(ledgerDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Seq,Action,Remarks", lines[0])
	assert.Equal(t, "1,create,", lines[1])

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(ledgerDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPDFExporterRejectsBadWidths(t *testing.T) {
	data := ledgerDataset()
	data.Widths = []float64{1, 2}
	_, err := NewPDFExporter().Render(data)
	require.Error(t, err)
}
