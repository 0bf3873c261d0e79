package report

import (
	"bufio"
	"fmt"
	"io"
)

func WriteMarkdown(w io.Writer, doc Document) error {
	b := bufio.NewWriter(w)
	p := doc.Prediction
	r := p.Report

	fmt.Fprintf(b, "# Chest X-ray Analysis Report\n\n")
	fmt.Fprintf(b, "- Report ID: %d\n", p.ID)
	fmt.Fprintf(b, "- Analysed: %s\n", p.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(b, "- Generated: %s\n\n", doc.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintf(b, "## Patient\n\n")
	for _, f := range patientFields(doc.Patient) {
		fmt.Fprintf(b, "- %s: %s\n", f.label, f.value)
	}

	fmt.Fprintf(b, "\n## Diagnosis: %s\n\n", r.Diagnosis)
	fmt.Fprintf(b, "**Urgency: %s**\n\n", r.Urgency)
	fmt.Fprintf(b, "- Confidence: %s\n", percent(r.Confidence))
	fmt.Fprintf(b, "- Image quality: %.1f / 100\n\n", r.ImageQuality)
	fmt.Fprintf(b, "%s\n\n%s\n\n", r.Summary, r.Description)
	fmt.Fprintf(b, "**Recommendation:** %s\n\n", r.Recommendation)
	if r.QualityNote != "" {
		fmt.Fprintf(b, "> %s\n\n", r.QualityNote)
	}

	if len(r.Findings) > 0 {
		fmt.Fprintf(b, "## Findings\n\n")
		for _, f := range r.Findings {
			fmt.Fprintf(b, "### %s (%s)\n", f.Disease, percent(f.Confidence))
			fmt.Fprintf(b, "%s\n\n", f.Description)
			for _, s := range head(f.Symptoms) {
				fmt.Fprintf(b, "- Symptom: %s\n", s)
			}
			for _, t := range head(f.Treatments) {
				fmt.Fprintf(b, "- Treatment: %s\n", t)
			}
			fmt.Fprintf(b, "\n")
		}
	}

	if len(r.SeverityLevels) > 0 {
		fmt.Fprintf(b, "### Severity levels\n")
		for _, s := range r.SeverityLevels {
			fmt.Fprintf(b, "- %s: %s\n", s.Level, s.Note)
		}
		fmt.Fprintf(b, "\n")
	}

	fmt.Fprintf(b, "## Disclaimer\n\n%s\n", doc.Disclaimer)
	return b.Flush()
}
