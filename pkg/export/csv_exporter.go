package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Column describes one exported column. Width is a relative weight used by the PDF layout.
type Column struct {
	Key   string
	Title string
	Width float64
	Align string
}

// Table defines tabular export content.
type Table struct {
	Title   string
	Columns []Column
	Rows    []map[string]string
}

// Exporter renders a Table into a file format.
type Exporter interface {
	Render(Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// CSVExporter renders Table records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

func (e *CSVExporter) ContentType() string { return "text/csv" }

func (e *CSVExporter) Extension() string { return "csv" }

// Render produces CSV encoded bytes with a title-row header.
func (e *CSVExporter) Render(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		header[i] = col.heading()
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range table.Rows {
		record := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			record[i] = row[col.Key]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Column) heading() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Key
}
