package triage

import (
	"fmt"
	"strings"
)

// Disease identifies which classifier produced an observation.
type Disease uint8

const (
	Pneumonia Disease = iota + 1
	Tuberculosis
	LungCancer
)

var diseaseNames = map[Disease]string{
	Pneumonia:    "pneumonia",
	Tuberculosis: "tuberculosis",
	LungCancer:   "lung_cancer",
}

// Diseases returns every supported disease in classifier order.
func Diseases() []Disease {
	return []Disease{Pneumonia, Tuberculosis, LungCancer}
}

func ParseDisease(raw string) (Disease, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for d, name := range diseaseNames {
		if name == key {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown disease %q", raw)
}

func (d Disease) String() string {
	if name, ok := diseaseNames[d]; ok {
		return name
	}
	return fmt.Sprintf("disease(%d)", uint8(d))
}

func (d Disease) MarshalText() ([]byte, error) {
	if _, ok := diseaseNames[d]; !ok {
		return nil, fmt.Errorf("unknown disease %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Disease) UnmarshalText(text []byte) error {
	parsed, err := ParseDisease(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// PositiveLabel is the label reported by single-output and legacy binary models.
func (d Disease) PositiveLabel() Label {
	switch d {
	case Pneumonia:
		return LabelPneumonia
	case Tuberculosis:
		return LabelTuberculosis
	case LungCancer:
		return LabelLungCancer
	default:
		return LabelError
	}
}

// subtypes reports the benign and malignant labels for diseases with a
// three-way softmax model.
func (d Disease) subtypes() (benign, malignant Label, ok bool) {
	if d == LungCancer {
		return LabelLungCancerBenign, LabelLungCancerMalignant, true
	}
	return 0, 0, false
}

// Label is the closed set of outcomes a classifier can report.
type Label uint8

const (
	LabelNormal Label = iota
	LabelPneumonia
	LabelTuberculosis
	LabelLungCancer
	LabelLungCancerBenign
	LabelLungCancerMalignant
	LabelError

	labelCount
)

var labelNames = [labelCount]string{
	LabelNormal:              "normal",
	LabelPneumonia:           "pneumonia",
	LabelTuberculosis:        "tuberculosis",
	LabelLungCancer:          "lung_cancer",
	LabelLungCancerBenign:    "lung_cancer_benign",
	LabelLungCancerMalignant: "lung_cancer_malignant",
	LabelError:               "error",
}

// Labels returns every label, including normal and error.
func Labels() []Label {
	out := make([]Label, 0, labelCount)
	for l := Label(0); l < labelCount; l++ {
		out = append(out, l)
	}
	return out
}

func ParseLabel(raw string) (Label, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for l, name := range labelNames {
		if name == key {
			return Label(l), nil
		}
	}
	return 0, fmt.Errorf("unknown label %q", raw)
}

func (l Label) String() string {
	if l < labelCount {
		return labelNames[l]
	}
	return fmt.Sprintf("label(%d)", uint8(l))
}

// Title renders the label for humans, e.g. "Lung Cancer Malignant".
func (l Label) Title() string {
	parts := strings.Split(l.String(), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Abnormal reports whether the label can become a Finding.
func (l Label) Abnormal() bool {
	return l != LabelNormal && l != LabelError && l < labelCount
}

func (l Label) MarshalText() ([]byte, error) {
	if l >= labelCount {
		return nil, fmt.Errorf("unknown label %d", uint8(l))
	}
	return []byte(labelNames[l]), nil
}

func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
