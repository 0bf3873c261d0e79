package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Skufu/lungtriage/internal/triage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id                BIGSERIAL PRIMARY KEY,
	name              TEXT NOT NULL,
	age               INTEGER NOT NULL DEFAULT 0,
	gender            TEXT NOT NULL DEFAULT '',
	contact           TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	emergency_contact TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS predictions (
	id                BIGSERIAL PRIMARY KEY,
	patient_id        BIGINT REFERENCES patients(id) ON DELETE RESTRICT,
	image_path        TEXT NOT NULL,
	image_format      TEXT NOT NULL DEFAULT '',
	diagnosis         TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	urgency           TEXT NOT NULL,
	multiple_findings BOOLEAN NOT NULL DEFAULT false,
	image_quality     DOUBLE PRECISION NOT NULL DEFAULT 0,
	assessment        JSONB NOT NULL,
	report            JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS predictions_patient_id_idx ON predictions (patient_id);
CREATE INDEX IF NOT EXISTS predictions_created_at_idx ON predictions (created_at DESC);
`

const patientColumns = `
	p.id, p.name, p.age, p.gender, p.contact, p.address, p.emergency_contact,
	p.created_at, p.updated_at,
	(SELECT count(*) FROM predictions pr WHERE pr.patient_id = p.id)`

const predictionColumns = `
	pr.id, pr.patient_id, COALESCE(pt.name, ''), pr.image_path, pr.image_format,
	pr.diagnosis, pr.confidence, pr.urgency, pr.multiple_findings, pr.image_quality,
	pr.assessment, pr.report, pr.created_at`

// foreignKeyViolation is the Postgres SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) CreatePatient(ctx context.Context, in PatientInput) (Patient, error) {
	in, err := in.Normalize()
	if err != nil {
		return Patient{}, err
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO patients (name, age, gender, contact, address, emergency_contact)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		in.Name, in.Age, in.Gender, in.Contact, in.Address, in.EmergencyContact,
	).Scan(&id)
	if err != nil {
		return Patient{}, fmt.Errorf("insert patient: %w", err)
	}
	return s.GetPatient(ctx, id)
}

func (s *Postgres) UpdatePatient(ctx context.Context, id int64, in PatientInput) (Patient, error) {
	in, err := in.Normalize()
	if err != nil {
		return Patient{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE patients
		SET name = $2, age = $3, gender = $4, contact = $5, address = $6,
			emergency_contact = $7, updated_at = now()
		WHERE id = $1`,
		id, in.Name, in.Age, in.Gender, in.Contact, in.Address, in.EmergencyContact,
	)
	if err != nil {
		return Patient{}, fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Patient{}, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	return s.GetPatient(ctx, id)
}

func (s *Postgres) GetPatient(ctx context.Context, id int64) (Patient, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients p WHERE p.id = $1`, id)
	p, err := scanPatient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Patient{}, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (s *Postgres) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+patientColumns+` FROM patients p ORDER BY p.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Patient, error) {
		return scanPatient(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return out, nil
}

func (s *Postgres) DeletePatient(ctx context.Context, id int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx, `
			SELECT count(pr.id)
			FROM patients p LEFT JOIN predictions pr ON pr.patient_id = p.id
			WHERE p.id = $1
			GROUP BY p.id`, id).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("patient %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("delete patient: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: patient has %d associated predictions", ErrConflict, count)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id); err != nil {
			return deletePatientError(id, err)
		}
		return nil
	})
}

// deletePatientError maps a RESTRICT violation, raised when a prediction
// lands between the count and the delete, onto ErrConflict.
func deletePatientError(id int64, err error) error {
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: patient %d has associated predictions", ErrConflict, id)
	}
	return fmt.Errorf("delete patient: %w", err)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func (s *Postgres) SavePrediction(ctx context.Context, p Prediction) (Prediction, error) {
	assessment, err := json.Marshal(p.Assessment)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode assessment: %w", err)
	}
	report, err := json.Marshal(p.Report)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode report: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO predictions (
			patient_id, image_path, image_format, diagnosis, confidence, urgency,
			multiple_findings, image_quality, assessment, report, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.PatientID, p.ImagePath, p.ImageFormat, p.Diagnosis.String(), p.Confidence, string(p.Urgency),
		p.MultipleFindings, p.ImageQuality, assessment, report, createdAt,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) && p.PatientID != nil {
			return Prediction{}, fmt.Errorf("patient %d: %w", *p.PatientID, ErrNotFound)
		}
		return Prediction{}, fmt.Errorf("insert prediction: %w", err)
	}
	return s.GetPrediction(ctx, id)
}

func (s *Postgres) GetPrediction(ctx context.Context, id int64) (Prediction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions pr LEFT JOIN patients pt ON pt.id = pr.patient_id
		WHERE pr.id = $1`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Prediction{}, fmt.Errorf("prediction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Prediction{}, fmt.Errorf("get prediction: %w", err)
	}
	return p, nil
}

func (s *Postgres) ListPredictions(ctx context.Context, f PredictionFilter) ([]Prediction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions pr LEFT JOIN patients pt ON pt.id = pr.patient_id
		WHERE $1::BIGINT IS NULL OR pr.patient_id = $1
		ORDER BY pr.created_at DESC, pr.id DESC
		LIMIT $2`, f.PatientID, f.limit())
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Prediction, error) {
		return scanPrediction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return out, nil
}

func (s *Postgres) DeletePrediction(ctx context.Context, id int64) (Prediction, error) {
	var out Prediction
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+predictionColumns+`
			FROM predictions pr LEFT JOIN patients pt ON pt.id = pr.patient_id
			WHERE pr.id = $1
			FOR UPDATE OF pr`, id)
		p, err := scanPrediction(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("prediction %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("delete prediction: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM predictions WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete prediction: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Postgres) Summary(ctx context.Context, now time.Time) (Summary, error) {
	sum := Summary{DiagnosisBreakdown: map[string]int{}, RecentAlerts: []Alert{}}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM patients),
			count(*),
			count(*) FILTER (WHERE diagnosis NOT IN ('normal', 'error')),
			count(*) FILTER (WHERE diagnosis = 'normal'),
			count(*) FILTER (WHERE created_at >= $1)
		FROM predictions`, startOfDay(now)).
		Scan(&sum.TotalPatients, &sum.TotalScans, &sum.AbnormalCases, &sum.NormalCases, &sum.TodayScans)
	if err != nil {
		return Summary{}, fmt.Errorf("summary counts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT diagnosis, count(*) FROM predictions GROUP BY diagnosis`)
	if err != nil {
		return Summary{}, fmt.Errorf("summary breakdown: %w", err)
	}
	var (
		diagnosis string
		count     int
	)
	_, err = pgx.ForEachRow(rows, []any{&diagnosis, &count}, func() error {
		sum.DiagnosisBreakdown[diagnosis] = count
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summary breakdown: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT pr.id, COALESCE(pt.name, ''), pr.diagnosis, pr.confidence, pr.created_at
		FROM predictions pr LEFT JOIN patients pt ON pt.id = pr.patient_id
		WHERE pr.diagnosis NOT IN ('normal', 'error') AND pr.confidence > $1
		ORDER BY pr.created_at DESC, pr.id DESC
		LIMIT $2`, alertConfidence, alertLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("summary alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Alert, error) {
		var (
			a     Alert
			label string
		)
		if err := row.Scan(&a.PredictionID, &a.PatientName, &label, &a.Confidence, &a.CreatedAt); err != nil {
			return Alert{}, err
		}
		l, err := triage.ParseLabel(label)
		if err != nil {
			return Alert{}, err
		}
		a.Diagnosis = l
		return a, nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summary alerts: %w", err)
	}
	sum.RecentAlerts = append(sum.RecentAlerts, alerts...)
	return sum, nil
}

func (s *Postgres) Activity(ctx context.Context, since time.Time) ([]DailyCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
			count(*),
			count(*) FILTER (WHERE diagnosis NOT IN ('normal', 'error'))
		FROM predictions
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DailyCount, error) {
		var (
			dc  DailyCount
			day time.Time
		)
		if err := row.Scan(&day, &dc.Count, &dc.Abnormal); err != nil {
			return DailyCount{}, err
		}
		dc.Date = day.Format(dayLayout)
		return dc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}
	return out, nil
}

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.Age, &p.Gender, &p.Contact, &p.Address, &p.EmergencyContact,
		&p.CreatedAt, &p.UpdatedAt, &p.PredictionCount,
	)
	return p, err
}

func scanPrediction(row pgx.Row) (Prediction, error) {
	var (
		p                  Prediction
		diagnosis, urgency string
		assessment, report []byte
	)
	err := row.Scan(
		&p.ID, &p.PatientID, &p.PatientName, &p.ImagePath, &p.ImageFormat,
		&diagnosis, &p.Confidence, &urgency, &p.MultipleFindings, &p.ImageQuality,
		&assessment, &report, &p.CreatedAt,
	)
	if err != nil {
		return Prediction{}, err
	}
	if p.Diagnosis, err = triage.ParseLabel(diagnosis); err != nil {
		return Prediction{}, err
	}
	p.Urgency = triage.Urgency(urgency)
	if err := json.Unmarshal(assessment, &p.Assessment); err != nil {
		return Prediction{}, fmt.Errorf("decode assessment: %w", err)
	}
	if err := json.Unmarshal(report, &p.Report); err != nil {
		return Prediction{}, fmt.Errorf("decode report: %w", err)
	}
	return p, nil
}
