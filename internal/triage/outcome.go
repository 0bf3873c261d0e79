package triage

import (
	"fmt"
	"math"
)

// AcceptanceThreshold is the confidence a non-normal result must exceed to
// become a Finding. The sigmoid decision boundary uses the same value.
const AcceptanceThreshold = 0.5

// softmaxTolerance bounds how far a three-way softmax may drift from 1.
const softmaxTolerance = 1e-2

// Outcome is a classifier's raw result. It is one of Sigmoid, Binary,
// Softmax3 or Failed.
type Outcome interface {
	outcome()
}

// Sigmoid is a single positive-class probability.
type Sigmoid struct {
	Value float64
}

// Binary is the legacy two-output model: [normal, positive].
type Binary struct {
	Normal   float64
	Positive float64
}

// Softmax3 is a three-way softmax over [normal, benign, malignant].
type Softmax3 struct {
	Normal    float64
	Benign    float64
	Malignant float64
}

// Failed marks a classifier that could not produce a usable output.
type Failed struct {
	Reason string
}

func (Sigmoid) outcome()  {}
func (Binary) outcome()   {}
func (Softmax3) outcome() {}
func (Failed) outcome()   {}

const invalidShape = "invalid output shape"

// Decode maps a raw output vector onto an Outcome using the model's declared
// arity. A length that does not match the arity, or an arity other than 1, 2
// or 3, yields Failed.
func Decode(arity int, raw []float32) Outcome {
	if len(raw) != arity {
		return Failed{Reason: fmt.Sprintf("%s: declared arity %d, got %d values", invalidShape, arity, len(raw))}
	}
	switch arity {
	case 1:
		return Sigmoid{Value: float64(raw[0])}
	case 2:
		return Binary{Normal: float64(raw[0]), Positive: float64(raw[1])}
	case 3:
		return Softmax3{Normal: float64(raw[0]), Benign: float64(raw[1]), Malignant: float64(raw[2])}
	default:
		return Failed{Reason: fmt.Sprintf("%s: unsupported arity %d", invalidShape, arity)}
	}
}

// Observation is one classifier's outcome mapped onto a label and confidence.
type Observation struct {
	Disease    Disease `json:"disease"`
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Failed reports whether the classifier errored.
func (o Observation) Failed() bool {
	return o.Label == LabelError
}

// Observe interprets an outcome for the given disease.
func Observe(d Disease, out Outcome) Observation {
	switch o := out.(type) {
	case Sigmoid:
		if err := checkProbability(o.Value); err != nil {
			return failed(d, err.Error())
		}
		if o.Value > AcceptanceThreshold {
			return Observation{Disease: d, Label: d.PositiveLabel(), Confidence: o.Value}
		}
		return Observation{Disease: d, Label: LabelNormal, Confidence: 1 - o.Value}

	case Binary:
		for _, p := range []float64{o.Normal, o.Positive} {
			if err := checkProbability(p); err != nil {
				return failed(d, err.Error())
			}
		}
		if o.Positive > o.Normal {
			return Observation{Disease: d, Label: d.PositiveLabel(), Confidence: o.Positive}
		}
		return Observation{Disease: d, Label: LabelNormal, Confidence: o.Normal}

	case Softmax3:
		benign, malignant, ok := d.subtypes()
		if !ok {
			return failed(d, fmt.Sprintf("%s: %s has no three-class model", invalidShape, d))
		}
		for _, p := range []float64{o.Normal, o.Benign, o.Malignant} {
			if err := checkProbability(p); err != nil {
				return failed(d, err.Error())
			}
		}
		if sum := o.Normal + o.Benign + o.Malignant; math.Abs(sum-1) > softmaxTolerance {
			return failed(d, fmt.Sprintf("%s: softmax sums to %.4f", invalidShape, sum))
		}
		// Ties escalate: malignant beats benign beats normal.
		top := math.Max(o.Normal, math.Max(o.Benign, o.Malignant))
		switch top {
		case o.Malignant:
			return Observation{Disease: d, Label: malignant, Confidence: o.Malignant}
		case o.Benign:
			return Observation{Disease: d, Label: benign, Confidence: o.Benign}
		default:
			return Observation{Disease: d, Label: LabelNormal, Confidence: o.Normal}
		}

	case Failed:
		return failed(d, o.Reason)

	default:
		return failed(d, fmt.Sprintf("unsupported outcome %T", out))
	}
}

func failed(d Disease, reason string) Observation {
	if reason == "" {
		reason = "classifier failed"
	}
	return Observation{Disease: d, Label: LabelError, Confidence: 0, Error: reason}
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("%s: non-finite probability", invalidShape)
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("%s: probability %.4f outside [0,1]", invalidShape, p)
	}
	return nil
}
