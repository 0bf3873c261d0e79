package triage

import (
	"fmt"
	"strings"
)

type Urgency string

const (
	UrgencyLow    Urgency = "Low"
	UrgencyMedium Urgency = "Medium"
	UrgencyHigh   Urgency = "High"
)

// QualityThreshold is the image-quality score below which a report carries a
// quality note.
const QualityThreshold = 50.0

const qualityNote = "Image quality is suboptimal. Consider retaking with better lighting/positioning."

// ReportFinding is a Finding with its clinical text attached.
type ReportFinding struct {
	Disease     string   `json:"disease"`
	Label       Label    `json:"label"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms"`
	Treatments  []string `json:"treatments"`
}

// Report is the read-only clinical view of an Assessment.
type Report struct {
	Summary          string          `json:"summary"`
	Diagnosis        string          `json:"diagnosis"`
	Label            Label           `json:"label"`
	Confidence       float64         `json:"confidence"`
	Description      string          `json:"description"`
	Recommendation   string          `json:"recommendation"`
	Urgency          Urgency         `json:"urgency"`
	MultipleFindings bool            `json:"multiple_findings"`
	Findings         []ReportFinding `json:"findings"`
	Symptoms         []string        `json:"symptoms,omitempty"`
	Treatments       []string        `json:"treatments,omitempty"`
	SeverityLevels   []SeverityLevel `json:"severity_levels,omitempty"`
	ImageQuality     float64         `json:"image_quality"`
	QualityNote      string          `json:"quality_note,omitempty"`
}

// Compose attaches static clinical text to an assessment. It is a pure
// function of its inputs.
func Compose(a Assessment, imageQuality float64) Report {
	var r Report
	if a.Diagnosis == LabelNormal || len(a.Findings) == 0 {
		r = normalReport(a.Confidence)
	} else {
		r = findingsReport(a)
	}
	r.ImageQuality = imageQuality
	if imageQuality < QualityThreshold {
		r.QualityNote = qualityNote
	}
	return r
}

func normalReport(confidence float64) Report {
	info := Lookup(LabelNormal)
	return Report{
		Summary:        "Medical Image Analysis Report - Normal Finding",
		Diagnosis:      info.Name,
		Label:          LabelNormal,
		Confidence:     confidence,
		Description:    info.Description,
		Recommendation: "Chest X-ray appears normal. Continue regular health monitoring.",
		Urgency:        UrgencyLow,
		Findings:       []ReportFinding{},
	}
}

func findingsReport(a Assessment) Report {
	findings := make([]ReportFinding, 0, len(a.Findings))
	names := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		info := Lookup(f.Label)
		findings = append(findings, ReportFinding{
			Disease:     f.Label.Title(),
			Label:       f.Label,
			Confidence:  f.Confidence,
			Description: info.Description,
			Symptoms:    info.Symptoms,
			Treatments:  info.Treatments,
		})
		names = append(names, f.Label.Title())
	}

	top := a.Findings[0]
	info := Lookup(top.Label)
	urgency := UrgencyFor(len(a.Findings), top.Confidence)

	r := Report{
		Diagnosis:        top.Label.Title(),
		Label:            top.Label,
		Confidence:       top.Confidence,
		Description:      info.Description,
		Urgency:          urgency,
		MultipleFindings: len(a.Findings) > 1,
		Findings:         findings,
		Symptoms:         info.Symptoms,
		Treatments:       info.Treatments,
		SeverityLevels:   info.SeverityLevels,
	}

	if r.MultipleFindings {
		r.Summary = "Medical Image Analysis Report - Multiple Findings: " + strings.Join(names, ", ")
		r.Recommendation = fmt.Sprintf("Multiple significant findings detected (%d conditions). Immediate comprehensive medical evaluation recommended.", len(findings))
		return r
	}

	r.Summary = fmt.Sprintf("Medical Image Analysis Report - %s Detected", top.Label.Title())
	switch urgency {
	case UrgencyHigh:
		r.Recommendation = "High confidence prediction. Recommend immediate medical consultation."
	case UrgencyMedium:
		r.Recommendation = "Moderate confidence prediction. Recommend medical review."
	default:
		r.Recommendation = "Low confidence prediction. Additional testing recommended."
	}
	return r
}

// UrgencyFor escalates to High for more than one finding or a top confidence
// above 0.8, Medium for (0.6, 0.8], and Low otherwise.
func UrgencyFor(findings int, topConfidence float64) Urgency {
	switch {
	case findings > 1 || topConfidence > 0.8:
		return UrgencyHigh
	case topConfidence > 0.6:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
