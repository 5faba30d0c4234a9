package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Pair is a labelled value printed in report sections.
type Pair struct {
	Label string
	Value string
}

// Section groups pairs under a heading, e.g. a distribution.
type Section struct {
	Heading string
	Items   []Pair
}

// Document describes a full PDF report: header block, optional summary
// sections and a table.
type Document struct {
	Title       string
	GeneratedAt time.Time
	Filters     []Pair
	Summary     []Pair
	Sections    []Section
	Table       Dataset
}

// PDFExporter renders datasets into tabular PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	return e.RenderDocument(Document{Title: title, Table: data})
}

// RenderDocument lays out the header, filters, executive summary,
// distributions and the table, in that order.
func (e *PDFExporter) RenderDocument(doc Document) ([]byte, error) {
	if len(doc.Table.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	orientation := "P"
	width := 190.0
	if len(doc.Table.Headers) > 5 {
		orientation = "L"
		width = 277.0
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "C", false, 0, "")
	}
	if !doc.GeneratedAt.IsZero() {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, "Generated at: "+doc.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"), "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)

	if len(doc.Filters) > 0 {
		writePairs(pdf, tr, "Filters Applied", doc.Filters)
	}
	if len(doc.Summary) > 0 {
		writePairs(pdf, tr, "Executive Summary", doc.Summary)
	}
	for _, section := range doc.Sections {
		if len(section.Items) == 0 {
			continue
		}
		writePairs(pdf, tr, section.Heading, section.Items)
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	colWidth := width / float64(len(doc.Table.Headers))
	for _, header := range doc.Table.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range doc.Table.Rows {
		for _, value := range doc.Table.record(row) {
			pdf.CellFormat(colWidth, 7, tr(truncate(value, int(colWidth/1.8))), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writePairs(pdf *gofpdf.Fpdf, tr func(string) string, heading string, items []Pair) {
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, tr(heading), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	for _, item := range items {
		pdf.CellFormat(60, 5, tr(item.Label), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, tr(item.Value), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if max < 4 || len(runes) <= max {
		return value
	}
	return string(runes[:max-3]) + "..."
}
