package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/minerva/colocmap/internal/heatmap"
	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/scale"
)

// pdfCompression is turned off in tests so page text can be inspected.
var pdfCompression = true

type PDFReport struct {
	pdf   *gofpdf.Fpdf
	title string
	tr    func(string) string
}

func NewPDFReport(title string) *PDFReport {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetCompression(pdfCompression)

	r := &PDFReport{
		pdf:   pdf,
		title: title,
		tr:    pdf.UnicodeTranslatorFromDescriptor(""),
	}

	r.addHeader()
	return r
}

func (r *PDFReport) addHeader() {
	r.pdf.AddPage()

	r.pdf.SetFont("Arial", "B", 20)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.CellFormat(0, 15, r.tr(r.title), "", 1, "C", false, 0, "")

	r.pdf.SetFont("Arial", "", 10)
	r.pdf.SetTextColor(108, 117, 125)
	r.pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s", time.Now().Format("January 2, 2006 3:04 PM")), "", 1, "C", false, 0, "")

	r.pdf.Ln(10)
}

func (r *PDFReport) AddSection(title string) {
	r.pdf.SetFont("Arial", "B", 14)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.SetFillColor(240, 240, 240)
	r.pdf.CellFormat(0, 10, r.tr(title), "", 1, "L", true, 0, "")
	r.pdf.Ln(5)
}

func (r *PDFReport) AddParagraph(text string) {
	r.pdf.SetFont("Arial", "", 10)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.MultiCell(0, 6, r.tr(text), "", "L", false)
	r.pdf.Ln(5)
}

func (r *PDFReport) AddTable(headers []string, rows [][]string) {
	pageWidth := 180.0 // A4 width minus margins
	colWidth := pageWidth / float64(len(headers))

	r.pdf.SetFont("Arial", "B", 9)
	r.pdf.SetFillColor(52, 58, 64)
	r.pdf.SetTextColor(255, 255, 255)
	for _, h := range headers {
		r.pdf.CellFormat(colWidth, 8, r.tr(h), "1", 0, "C", true, 0, "")
	}
	r.pdf.Ln(-1)

	r.pdf.SetFont("Arial", "", 9)
	r.pdf.SetTextColor(33, 37, 41)
	fill := false
	for _, row := range rows {
		if fill {
			r.pdf.SetFillColor(248, 249, 250)
		} else {
			r.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			r.pdf.CellFormat(colWidth, 7, r.tr(truncate(cell, 40)), "1", 0, "L", true, 0, "")
		}
		r.pdf.Ln(-1)
		fill = !fill
	}

	r.pdf.Ln(5)
}

// Heatmap grid geometry, in mm.
const (
	pdfLabelWidth = 40.0
	pdfGridSize   = 110.0
	pdfLegendGap  = 8.0
	pdfLegendW    = 5.0
	pdfLegendH    = 50.0
	pdfLegendStep = 50
)

// AddHeatmap draws the tile grid with row labels on the left, column labels
// rotated below, and the colour legend on the right.
func (r *PDFReport) AddHeatmap(cats []models.Category, tiles []models.Tile, color *scale.Sequential) {
	n := len(cats)
	if n == 0 {
		return
	}
	cell := pdfGridSize / float64(n)
	left, _, _, _ := r.pdf.GetMargins()
	x0 := left + pdfLabelWidth
	y0 := r.pdf.GetY()

	index := make(map[models.Category]int, n)
	for i, c := range cats {
		index[c] = i
	}

	for _, t := range tiles {
		x := x0 + float64(index[t.Col])*cell
		y := y0 + float64(index[t.Row])*cell
		if t.Diagonal() {
			r.pdf.SetFillColor(255, 255, 255)
		} else {
			cr, cg, cb := color.RGB(t.Value).Clamped().RGB255()
			r.pdf.SetFillColor(int(cr), int(cg), int(cb))
		}
		r.pdf.Rect(x, y, cell, cell, "F")
	}
	r.pdf.SetDrawColor(200, 200, 200)
	r.pdf.Rect(x0, y0, pdfGridSize, pdfGridSize, "D")

	fontSize := 8.0
	if cell < 4 {
		fontSize = 5
	}
	r.pdf.SetFont("Arial", "", fontSize)
	r.pdf.SetTextColor(33, 37, 41)
	for i, c := range cats {
		label := r.tr(truncate(string(c), 24))
		r.pdf.SetXY(left, y0+float64(i)*cell)
		r.pdf.CellFormat(pdfLabelWidth-2, cell, label, "", 0, "R", false, 0, "")

		cx := x0 + (float64(i)+0.5)*cell
		cy := y0 + pdfGridSize + 2
		r.pdf.TransformBegin()
		r.pdf.TransformRotate(90, cx, cy)
		r.pdf.Text(cx-r.pdf.GetStringWidth(label), cy+1, label)
		r.pdf.TransformEnd()
	}

	r.addLegend(x0+pdfGridSize+pdfLegendGap, y0+pdfGridSize/2, color)
	r.pdf.SetXY(left, y0+pdfGridSize+pdfLabelWidth)
}

func (r *PDFReport) addLegend(x, midY float64, color *scale.Sequential) {
	step := pdfLegendH * 2 / pdfLegendStep
	for i := 0; i < pdfLegendStep; i++ {
		v := 1 - (float64(i)+0.5)*2/pdfLegendStep
		cr, cg, cb := color.RGB(v).Clamped().RGB255()
		r.pdf.SetFillColor(int(cr), int(cg), int(cb))
		r.pdf.Rect(x, midY-pdfLegendH+float64(i)*step, pdfLegendW, step, "F")
	}

	r.pdf.SetFont("Arial", "", 7)
	r.pdf.SetTextColor(33, 37, 41)
	for _, v := range heatmap.LegendTicks {
		r.pdf.Text(x+pdfLegendW+1.5, midY-v*pdfLegendH+1, fmt.Sprintf("%g", v))
	}
	r.pdf.Text(x-2, midY-pdfLegendH-3, "Interaction")
	r.pdf.Text(x-2, midY+pdfLegendH+5, "Avoidance")
}

func (r *PDFReport) AddFooter() {
	r.pdf.SetFooterFunc(func() {
		r.pdf.SetY(-15)
		r.pdf.SetFont("Arial", "I", 8)
		r.pdf.SetTextColor(128, 128, 128)
		r.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", r.pdf.PageNo()), "", 0, "C", false, 0, "")
	})
}

func (r *PDFReport) Output() ([]byte, error) {
	r.AddFooter()

	var buf bytes.Buffer
	err := r.pdf.Output(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	return buf.Bytes(), nil
}

func toPDF(w *heatmap.Widget, title, subtitle, dataset string) ([]byte, error) {
	pdf := NewPDFReport(title)

	cats := w.Categories()
	tiles := w.Tiles()

	pdf.AddParagraph(fmt.Sprintf("Dataset: %s. %s across %d phenotypes.", dataset, subtitle, len(cats)))
	pdf.AddHeatmap(cats, tiles, heatmap.ColorScale())

	pdf.AddPageBreak()
	pdf.AddSection("Strongest Pairs")
	pairs := StrongestPairs(tiles, cats, 15)
	rows := make([][]string, len(pairs))
	for i, t := range pairs {
		kind := "Interaction"
		if t.Value < 0 {
			kind = "Avoidance"
		}
		rows[i] = []string{string(t.Row), string(t.Col), heatmap.FormatCoefficient(t.Value), kind}
	}
	pdf.AddTable([]string{"Phenotype", "Partner", "Coefficient", "Relation"}, rows)

	return pdf.Output()
}

func (r *PDFReport) AddPageBreak() {
	r.pdf.AddPage()
}
