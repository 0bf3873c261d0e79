package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Skufu/lungtriage/internal/store"
	"github.com/Skufu/lungtriage/internal/triage"
)

func document(t *testing.T, quality float64) Document {
	t.Helper()
	a, err := triage.Aggregate([]triage.Observation{
		{Disease: triage.Pneumonia, Label: triage.LabelPneumonia, Confidence: 0.9},
		{Disease: triage.Tuberculosis, Label: triage.LabelTuberculosis, Confidence: 0.7},
		{Disease: triage.LungCancer, Label: triage.LabelNormal, Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	r := triage.Compose(a, quality)
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	p := store.Prediction{
		ID:               7,
		Diagnosis:        a.Diagnosis,
		Confidence:       a.Confidence,
		Urgency:          r.Urgency,
		MultipleFindings: a.MultipleFindings,
		ImageQuality:     quality,
		Assessment:       a,
		Report:           r,
		CreatedAt:        at,
	}
	patient := &store.Patient{ID: 3, Name: "José Rizal", Age: 35, Gender: "male"}
	return NewDocument(p, patient, at.Add(time.Hour))
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatJSON, "JSON": FormatJSON, "md": FormatMarkdown, "markdown": FormatMarkdown, " pdf ": FormatPDF}
	for raw, want := range cases {
		got, err := ParseFormat(raw)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Fatalf("expected error for docx")
	}
	if FormatPDF.Filename(7) != "medical_report_7.pdf" || FormatPDF.ContentType() != "application/pdf" {
		t.Fatalf("unexpected pdf attachment metadata")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, document(t, 80)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var decoded struct {
		Prediction struct {
			ID        int64  `json:"id"`
			Diagnosis string `json:"diagnosis"`
		} `json:"prediction"`
		Patient    *store.Patient `json:"patient"`
		Disclaimer string         `json:"disclaimer"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prediction.ID != 7 || decoded.Prediction.Diagnosis != "pneumonia" {
		t.Fatalf("unexpected prediction %+v", decoded.Prediction)
	}
	if decoded.Patient == nil || decoded.Patient.Name != "José Rizal" || decoded.Disclaimer == "" {
		t.Fatalf("unexpected document %+v", decoded)
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, document(t, 30)); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Chest X-ray Analysis Report",
		"- Name: José Rizal",
		"**Urgency: High**",
		"- Confidence: 90.0%",
		"### Pneumonia (90.0%)",
		"### Tuberculosis (70.0%)",
		"> Image quality is suboptimal",
		"## Disclaimer",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMarkdownAnonymousNormal(t *testing.T) {
	a, _ := triage.Aggregate(nil)
	doc := NewDocument(store.Prediction{ID: 1, Diagnosis: a.Diagnosis, Report: triage.Compose(a, 90)}, nil, time.Now())
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "- Name: Anonymous") || strings.Contains(out, "## Findings") {
		t.Fatalf("unexpected markdown:\n%s", out)
	}
	if strings.Contains(out, "Image quality is suboptimal") {
		t.Fatalf("unexpected quality note:\n%s", out)
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatPDF, document(t, 30)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("output is not a pdf")
	}
	if !bytes.Contains(buf.Bytes(), []byte("%%EOF")) {
		t.Fatalf("pdf is not terminated")
	}
}
