package triage

import (
	"errors"
	"math"
	"sort"
)

// DefaultNormalConfidence is reported when no classifier ran at all.
const DefaultNormalConfidence = 0.85

var ErrAllClassifiersFailed = errors.New("triage: all classifiers failed")

// Finding is a classifier's positive, above-threshold result.
type Finding struct {
	Disease    Disease `json:"disease"`
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Assessment is the aggregated decision for one image.
type Assessment struct {
	Diagnosis        Label         `json:"diagnosis"`
	Confidence       float64       `json:"confidence"`
	Findings         []Finding     `json:"findings"`
	MultipleFindings bool          `json:"multiple_findings"`
	Observations     []Observation `json:"observations"`
}

// Aggregate ranks the observations of one image into an Assessment.
// Observations are expected in classifier order; equal confidences keep that
// order. It fails only when at least one classifier ran and all of them
// failed.
func Aggregate(observations []Observation) (Assessment, error) {
	obs := make([]Observation, len(observations))
	for i, o := range observations {
		o.Confidence = clamp(o.Confidence)
		if o.Failed() {
			o.Confidence = 0
		}
		obs[i] = o
	}

	findings := []Finding{}
	ran := 0
	best := -1.0
	for _, o := range obs {
		if o.Failed() {
			continue
		}
		ran++
		best = math.Max(best, o.Confidence)
		if o.Label.Abnormal() && o.Confidence > AcceptanceThreshold {
			findings = append(findings, Finding{Disease: o.Disease, Label: o.Label, Confidence: o.Confidence})
		}
	}

	if len(obs) > 0 && ran == 0 {
		return Assessment{}, ErrAllClassifiersFailed
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Confidence > findings[j].Confidence
	})

	a := Assessment{
		Findings:     findings,
		Observations: obs,
	}
	if len(findings) == 0 {
		a.Diagnosis = LabelNormal
		a.Confidence = DefaultNormalConfidence
		if ran > 0 {
			a.Confidence = best
		}
		return a, nil
	}

	a.Diagnosis = findings[0].Label
	a.Confidence = findings[0].Confidence
	a.MultipleFindings = len(findings) > 1
	return a, nil
}

// Abnormal reports whether the assessment carries at least one Finding.
func (a Assessment) Abnormal() bool {
	return len(a.Findings) > 0
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
