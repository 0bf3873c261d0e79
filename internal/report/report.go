package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Skufu/lungtriage/internal/store"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

// listLimit caps symptoms and treatments in rendered documents.
const listLimit = 5

const disclaimer = "This report is generated by an automated chest X-ray screening system and is intended " +
	"for screening purposes only. It is not a substitute for professional medical diagnosis, advice or " +
	"treatment. Findings must be reviewed by a qualified radiologist or physician and correlated with " +
	"symptoms and other diagnostic tests. Seek immediate medical attention for severe symptoms such as " +
	"difficulty breathing or chest pain, regardless of this analysis."

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unknown report format %q", raw)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json; charset=utf-8"
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatPDF:
		return ".pdf"
	default:
		return ".json"
	}
}

// Filename is the attachment name for a prediction's report.
func (f Format) Filename(predictionID int64) string {
	return fmt.Sprintf("medical_report_%d%s", predictionID, f.Extension())
}

// Document is everything a rendered report shows.
type Document struct {
	Prediction  store.Prediction `json:"prediction"`
	Patient     *store.Patient   `json:"patient,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Disclaimer  string           `json:"disclaimer"`
}

func NewDocument(p store.Prediction, patient *store.Patient, now time.Time) Document {
	return Document{Prediction: p, Patient: patient, GeneratedAt: now.UTC(), Disclaimer: disclaimer}
}

func Write(w io.Writer, f Format, doc Document) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, doc)
	case FormatMarkdown:
		return WriteMarkdown(w, doc)
	case FormatPDF:
		return WritePDF(w, doc)
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
}

func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

type field struct {
	label, value string
}

func patientFields(p *store.Patient) []field {
	if p == nil {
		return []field{
			{"Name", "Anonymous"},
			{"Age", "Unknown"},
			{"Gender", "Unknown"},
			{"Contact", "Not provided"},
		}
	}
	contact := p.Contact
	if contact == "" {
		contact = "Not provided"
	}
	return []field{
		{"Name", p.Name},
		{"Age", fmt.Sprintf("%d", p.Age)},
		{"Gender", p.Gender},
		{"Contact", contact},
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func head(items []string) []string {
	if len(items) > listLimit {
		return items[:listLimit]
	}
	return items
}
