package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		Title: "Wishlist",
		Columns: []Column{
			{Key: "description", Title: "Description", Width: 3},
			{Key: "price", Title: "Price", Align: "R"},
		},
		Rows: []map[string]string{
			{"description": "Kettle", "price": "2500"},
			{"description": strings.Repeat("very long description ", 20), "price": "10"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleTable())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Description,Price", lines[0])
	assert.Equal(t, "Kettle,2500", lines[1])

	_, err = NewCSVExporter().Render(Table{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleTable())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestColumnWidthsFillPage(t *testing.T) {
	widths := columnWidths(sampleTable().Columns)
	assert.InDelta(t, pageContentWidth, widths[0]+widths[1], 0.001)
	assert.InDelta(t, widths[1]*3, widths[0], 0.001)
}
