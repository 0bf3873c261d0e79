package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skufu/lungtriage/internal/triage"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
	ErrInvalid  = errors.New("store: invalid input")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	// alertConfidence and alertLimit shape the dashboard's recent alerts.
	alertConfidence = 0.8
	alertLimit      = 5
)

type Patient struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Age              int       `json:"age"`
	Gender           string    `json:"gender"`
	Contact          string    `json:"contact,omitempty"`
	Address          string    `json:"address,omitempty"`
	EmergencyContact string    `json:"emergency_contact,omitempty"`
	PredictionCount  int       `json:"prediction_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PatientInput is the writable part of a patient record.
type PatientInput struct {
	Name             string `json:"name"`
	Age              int    `json:"age"`
	Gender           string `json:"gender"`
	Contact          string `json:"contact"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`
}

// Normalize trims the input and checks the required fields.
func (in PatientInput) Normalize() (PatientInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	in.Contact = strings.TrimSpace(in.Contact)
	in.Address = strings.TrimSpace(in.Address)
	in.EmergencyContact = strings.TrimSpace(in.EmergencyContact)

	if in.Name == "" {
		return in, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if in.Gender == "" {
		return in, fmt.Errorf("%w: gender is required", ErrInvalid)
	}
	if in.Age < 0 || in.Age > 150 {
		return in, fmt.Errorf("%w: age must be between 0 and 150", ErrInvalid)
	}
	return in, nil
}

// Prediction is one persisted analysis.
type Prediction struct {
	ID               int64             `json:"id"`
	PatientID        *int64            `json:"patient_id,omitempty"`
	PatientName      string            `json:"patient_name,omitempty"`
	ImagePath        string            `json:"image_path"`
	ImageFormat      string            `json:"image_format"`
	Diagnosis        triage.Label      `json:"diagnosis"`
	Confidence       float64           `json:"confidence"`
	Urgency          triage.Urgency    `json:"urgency"`
	MultipleFindings bool              `json:"multiple_findings"`
	ImageQuality     float64           `json:"image_quality"`
	Assessment       triage.Assessment `json:"assessment"`
	Report           triage.Report     `json:"report"`
	CreatedAt        time.Time         `json:"created_at"`
}

type PredictionFilter struct {
	PatientID *int64
	Limit     int
}

func (f PredictionFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

type Alert struct {
	PredictionID int64        `json:"prediction_id"`
	PatientName  string       `json:"patient_name,omitempty"`
	Diagnosis    triage.Label `json:"diagnosis"`
	Confidence   float64      `json:"confidence"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Summary backs the dashboard.
type Summary struct {
	TotalPatients      int            `json:"total_patients"`
	TotalScans         int            `json:"total_scans"`
	AbnormalCases      int            `json:"abnormal_cases"`
	NormalCases        int            `json:"normal_cases"`
	TodayScans         int            `json:"today_scans"`
	DiagnosisBreakdown map[string]int `json:"diagnosis_breakdown"`
	RecentAlerts       []Alert        `json:"recent_alerts"`
}

// DailyCount is the prediction volume of one UTC day.
type DailyCount struct {
	Date     string `json:"date"`
	Count    int    `json:"count"`
	Abnormal int    `json:"abnormal"`
}

const dayLayout = "2006-01-02"

type Store interface {
	CreatePatient(ctx context.Context, in PatientInput) (Patient, error)
	UpdatePatient(ctx context.Context, id int64, in PatientInput) (Patient, error)
	GetPatient(ctx context.Context, id int64) (Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	DeletePatient(ctx context.Context, id int64) error

	SavePrediction(ctx context.Context, p Prediction) (Prediction, error)
	GetPrediction(ctx context.Context, id int64) (Prediction, error)
	ListPredictions(ctx context.Context, f PredictionFilter) ([]Prediction, error)
	// DeletePrediction removes the row and returns it so callers can clean up
	// the stored image.
	DeletePrediction(ctx context.Context, id int64) (Prediction, error)

	Summary(ctx context.Context, now time.Time) (Summary, error)
	// Activity counts predictions made at or after since, grouped by UTC
	// day in ascending order. Days without predictions are omitted.
	Activity(ctx context.Context, since time.Time) ([]DailyCount, error)
	Ping(ctx context.Context) error
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
