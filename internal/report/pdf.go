package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

const (
	pageWidth  = 180.0
	labelWidth = 50.0
	lineHeight = 6.0
)

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// WritePDF renders the document as a single A4 report.
func WritePDF(w io.Writer, doc Document) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Chest X-ray Analysis Report", true)
	pdf.SetCreator("lungtriage", true)
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pw := pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	p := doc.Prediction
	r := p.Report

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(0, 0, 139)
	pdf.CellFormat(0, 10, "CHEST X-RAY ANALYSIS REPORT", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, lineHeight, "Automated Medical Image Analysis", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pw.table([]field{
		{"Report ID", fmt.Sprintf("%d", p.ID)},
		{"Analysed", p.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")},
		{"Generated", doc.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"Analysis Type", "Chest X-ray Analysis"},
	}, 211, 211, 211)

	pw.header("PATIENT INFORMATION")
	pw.table(patientFields(doc.Patient), 173, 216, 230)

	pw.header("PRIMARY DIAGNOSIS")
	pdf.SetFont("Helvetica", "B", 12)
	if p.Diagnosis.Abnormal() {
		pdf.SetTextColor(200, 0, 0)
	} else {
		pdf.SetTextColor(0, 128, 0)
	}
	pdf.CellFormat(0, 8, pw.tr(r.Diagnosis), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pw.line("Confidence Level", percent(r.Confidence))
	pw.line("Urgency Level", string(r.Urgency))
	pw.line("Image Quality Score", fmt.Sprintf("%.1f/100", r.ImageQuality))

	pw.header("MEDICAL ANALYSIS")
	pw.line("Summary", r.Summary)
	pw.line("Description", r.Description)
	pw.line("Recommendation", r.Recommendation)
	if r.QualityNote != "" {
		pw.line("Image Quality Note", r.QualityNote)
	}

	for _, f := range r.Findings {
		pw.header(fmt.Sprintf("%s (%s)", f.Disease, percent(f.Confidence)))
		pw.bullets("Common symptoms", head(f.Symptoms))
		pw.bullets("Treatment options", head(f.Treatments))
	}

	pw.header("IMPORTANT DISCLAIMER")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(139, 0, 0)
	pdf.SetDrawColor(255, 0, 0)
	pdf.MultiCell(pageWidth, 5, pw.tr(doc.Disclaimer), "1", "J", false)

	if pdf.Err() {
		return fmt.Errorf("render pdf: %w", pdf.Error())
	}
	return pdf.Output(w)
}

func (pw pdfWriter) header(text string) {
	pw.pdf.Ln(4)
	pw.pdf.SetFont("Helvetica", "B", 13)
	pw.pdf.SetTextColor(0, 0, 139)
	pw.pdf.CellFormat(0, 8, pw.tr(text), "", 1, "L", false, 0, "")
	pw.pdf.SetTextColor(0, 0, 0)
}

func (pw pdfWriter) table(rows []field, r, g, b int) {
	pw.pdf.SetFont("Helvetica", "", 10)
	pw.pdf.SetFillColor(r, g, b)
	pw.pdf.SetDrawColor(0, 0, 0)
	for _, row := range rows {
		pw.pdf.CellFormat(labelWidth, 7, pw.tr(row.label+":"), "1", 0, "L", true, 0, "")
		pw.pdf.CellFormat(pageWidth-labelWidth, 7, pw.tr(row.value), "1", 1, "L", false, 0, "")
	}
}

func (pw pdfWriter) line(label, text string) {
	pw.pdf.SetFont("Helvetica", "B", 10)
	pw.pdf.CellFormat(labelWidth, lineHeight, pw.tr(label+":"), "", 0, "L", false, 0, "")
	pw.pdf.SetFont("Helvetica", "", 10)
	pw.pdf.MultiCell(pageWidth-labelWidth, lineHeight, pw.tr(text), "", "L", false)
}

func (pw pdfWriter) bullets(title string, items []string) {
	if len(items) == 0 {
		return
	}
	pw.pdf.SetFont("Helvetica", "B", 10)
	pw.pdf.CellFormat(0, lineHeight, pw.tr(title), "", 1, "L", false, 0, "")
	pw.pdf.SetFont("Helvetica", "", 10)
	for _, item := range items {
		pw.pdf.MultiCell(pageWidth, lineHeight, pw.tr("- "+item), "", "L", false)
	}
}
