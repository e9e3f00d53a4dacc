package export

import (
	"bytes"
	"encoding/json"

	"github.com/go-pdf/fpdf"

	"github.com/smehta/metascan/internal/analysis"
)

// PDF layout constants, in millimeters on an A4 portrait page.
const (
	pageMargin     = 15
	contentWidth   = 180
	imageMaxWidth  = 120
	imageMaxHeight = 90
	labelColumn    = 55
	sectionGap     = 6
)

// PDF renders the analysis as a report: the photo preview, the
// normalized metadata table, the AI description when one was generated,
// and the raw tag bag as JSON. Any of the three content sources is
// enough to produce a report.
func PDF(snap *analysis.Snapshot) ([]byte, error) {
	if snap == nil || (len(snap.Metadata) == 0 && len(snap.Raw) == 0 && len(snap.Preview) == 0) {
		return nil, ErrNothingToExport
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentWidth, 10, "Photo Metadata Report", "", 1, "C", false, 0, "")
	if snap.FileName != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(contentWidth, 6, snap.FileName, "", 1, "C", false, 0, "")
	}
	pdf.Ln(sectionGap)

	if len(snap.Preview) > 0 {
		drawPreview(pdf, snap.Preview)
	}

	if len(snap.Metadata) > 0 {
		sectionHeader(pdf, "Extracted Metadata")
		for _, key := range analysis.SortedKeys(snap.Metadata) {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.CellFormat(labelColumn, 6, key, "", 0, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(contentWidth-labelColumn, 6, snap.Metadata[key], "", "L", false)
		}
	}

	if snap.Description != "" {
		pdf.Ln(sectionGap)
		sectionHeader(pdf, "AI Image Analysis")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(contentWidth, 5, snap.Description, "", "L", false)
	}

	if len(snap.Raw) > 0 {
		raw, err := json.MarshalIndent(snap.Raw, "", "  ")
		if err == nil {
			pdf.Ln(sectionGap)
			sectionHeader(pdf, "Raw Metadata (JSON)")
			pdf.SetFont("Courier", "", 7)
			pdf.MultiCell(contentWidth, 3.5, string(raw), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sectionHeader(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentWidth, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

// drawPreview places the compressed JPEG preview centered on the page,
// scaled to fit the image box without upscaling.
func drawPreview(pdf *fpdf.Fpdf, preview []byte) {
	opts := fpdf.ImageOptions{ImageType: "JPG"}
	info := pdf.RegisterImageOptionsReader("preview", opts, bytes.NewReader(preview))
	if pdf.Err() {
		// A corrupt preview should not sink the whole report.
		pdf.ClearError()
		return
	}

	w, h := info.Extent()
	scale := 1.0
	if w > imageMaxWidth {
		scale = imageMaxWidth / w
	}
	if h*scale > imageMaxHeight {
		scale = imageMaxHeight / h
	}
	w, h = w*scale, h*scale

	x := pageMargin + (contentWidth-w)/2
	pdf.ImageOptions("preview", x, pdf.GetY(), w, h, false, opts, 0, "")
	pdf.SetY(pdf.GetY() + h + sectionGap)
}
