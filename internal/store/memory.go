package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Skufu/lungtriage/internal/triage"
)

// Memory is an in-process Store. It backs ENABLE_DB=false deployments and
// tests; data is lost on restart.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	nextPatient int64
	nextPred    int64
	patients    map[int64]Patient
	predictions map[int64]Prediction
}

func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		patients:    map[int64]Patient{},
		predictions: map[int64]Prediction{},
	}
}

func (m *Memory) CreatePatient(_ context.Context, in PatientInput) (Patient, error) {
	in, err := in.Normalize()
	if err != nil {
		return Patient{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPatient++
	now := m.now().UTC()
	p := Patient{
		ID:               m.nextPatient,
		Name:             in.Name,
		Age:              in.Age,
		Gender:           in.Gender,
		Contact:          in.Contact,
		Address:          in.Address,
		EmergencyContact: in.EmergencyContact,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.patients[p.ID] = p
	return p, nil
}

func (m *Memory) UpdatePatient(_ context.Context, id int64, in PatientInput) (Patient, error) {
	in, err := in.Normalize()
	if err != nil {
		return Patient{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return Patient{}, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	p.Name = in.Name
	p.Age = in.Age
	p.Gender = in.Gender
	p.Contact = in.Contact
	p.Address = in.Address
	p.EmergencyContact = in.EmergencyContact
	p.UpdatedAt = m.now().UTC()
	m.patients[id] = p
	return m.withCount(p), nil
}

func (m *Memory) GetPatient(_ context.Context, id int64) (Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return Patient{}, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	return m.withCount(p), nil
}

func (m *Memory) ListPatients(_ context.Context) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Patient, 0, len(m.patients))
	for _, p := range m.patients {
		out = append(out, m.withCount(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) DeletePatient(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	if n := m.withCount(p).PredictionCount; n > 0 {
		return fmt.Errorf("%w: patient has %d associated predictions", ErrConflict, n)
	}
	delete(m.patients, id)
	return nil
}

// withCount must be called with mu held.
func (m *Memory) withCount(p Patient) Patient {
	p.PredictionCount = 0
	for _, pred := range m.predictions {
		if pred.PatientID != nil && *pred.PatientID == p.ID {
			p.PredictionCount++
		}
	}
	return p
}

func (m *Memory) SavePrediction(_ context.Context, p Prediction) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.PatientID != nil {
		if _, ok := m.patients[*p.PatientID]; !ok {
			return Prediction{}, fmt.Errorf("patient %d: %w", *p.PatientID, ErrNotFound)
		}
		id := *p.PatientID
		p.PatientID = &id
	}
	m.nextPred++
	p.ID = m.nextPred
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}
	p.PatientName = ""
	m.predictions[p.ID] = p
	return m.withPatientName(p), nil
}

func (m *Memory) GetPrediction(_ context.Context, id int64) (Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.predictions[id]
	if !ok {
		return Prediction{}, fmt.Errorf("prediction %d: %w", id, ErrNotFound)
	}
	return m.withPatientName(p), nil
}

func (m *Memory) ListPredictions(_ context.Context, f PredictionFilter) ([]Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Prediction, 0)
	for _, p := range m.predictions {
		if f.PatientID != nil && (p.PatientID == nil || *p.PatientID != *f.PatientID) {
			continue
		}
		out = append(out, m.withPatientName(p))
	}
	sortNewestFirst(out)
	if limit := f.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeletePrediction(_ context.Context, id int64) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.predictions[id]
	if !ok {
		return Prediction{}, fmt.Errorf("prediction %d: %w", id, ErrNotFound)
	}
	delete(m.predictions, id)
	return m.withPatientName(p), nil
}

// withPatientName must be called with mu held.
func (m *Memory) withPatientName(p Prediction) Prediction {
	if p.PatientID != nil {
		if pt, ok := m.patients[*p.PatientID]; ok {
			p.PatientName = pt.Name
		}
	}
	return p
}

func (m *Memory) Summary(_ context.Context, now time.Time) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	today := startOfDay(now)
	s := Summary{
		TotalPatients:      len(m.patients),
		TotalScans:         len(m.predictions),
		DiagnosisBreakdown: map[string]int{},
		RecentAlerts:       []Alert{},
	}
	all := make([]Prediction, 0, len(m.predictions))
	for _, p := range m.predictions {
		all = append(all, m.withPatientName(p))
		s.DiagnosisBreakdown[p.Diagnosis.String()]++
		switch {
		case p.Diagnosis == triage.LabelNormal:
			s.NormalCases++
		case p.Diagnosis.Abnormal():
			s.AbnormalCases++
		}
		if !p.CreatedAt.Before(today) {
			s.TodayScans++
		}
	}

	sortNewestFirst(all)
	for _, p := range all {
		if len(s.RecentAlerts) == alertLimit {
			break
		}
		if isAlert(p) {
			s.RecentAlerts = append(s.RecentAlerts, alertFor(p))
		}
	}
	return s, nil
}

func (m *Memory) Activity(_ context.Context, since time.Time) ([]DailyCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDay := map[string]*DailyCount{}
	for _, p := range m.predictions {
		if p.CreatedAt.Before(since) {
			continue
		}
		day := p.CreatedAt.UTC().Format(dayLayout)
		dc, ok := byDay[day]
		if !ok {
			dc = &DailyCount{Date: day}
			byDay[day] = dc
		}
		dc.Count++
		if p.Diagnosis.Abnormal() {
			dc.Abnormal++
		}
	}

	out := make([]DailyCount, 0, len(byDay))
	for _, dc := range byDay {
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func sortNewestFirst(ps []Prediction) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

func isAlert(p Prediction) bool {
	return p.Diagnosis.Abnormal() && p.Confidence > alertConfidence
}

func alertFor(p Prediction) Alert {
	return Alert{
		PredictionID: p.ID,
		PatientName:  p.PatientName,
		Diagnosis:    p.Diagnosis,
		Confidence:   p.Confidence,
		CreatedAt:    p.CreatedAt,
	}
}
