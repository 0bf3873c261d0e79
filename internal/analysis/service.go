package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/observability"
	"github.com/Skufu/lungtriage/internal/store"
	"github.com/Skufu/lungtriage/internal/triage"
	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedFile = errors.New("analysis: unsupported file type")
	ErrAnalysisFailed  = errors.New("analysis: failed to analyze image")
)

// Runner produces one observation per loaded classifier.
type Runner interface {
	Run(ctx context.Context, img image.Image) []triage.Observation
}

type Request struct {
	PatientID *int64
	Filename  string
	Data      []byte
}

// Service runs the full analysis pipeline for one upload and persists the
// result.
type Service struct {
	runner  Runner
	store   store.Store
	uploads *Uploads
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(runner Runner, st store.Store, uploads *Uploads, logger zerolog.Logger) *Service {
	return &Service{
		runner:  runner,
		store:   st,
		uploads: uploads,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) Uploads() *Uploads {
	return s.uploads
}

func (s *Service) Analyze(ctx context.Context, req Request) (store.Prediction, error) {
	if !imaging.AllowedExtension(req.Filename) {
		observability.RecordAnalysisFailure("unsupported_file")
		return store.Prediction{}, fmt.Errorf("%w: %q", ErrUnsupportedFile, req.Filename)
	}
	if req.PatientID != nil {
		if _, err := s.store.GetPatient(ctx, *req.PatientID); err != nil {
			return store.Prediction{}, err
		}
	}

	img, format, err := imaging.DecodeBytes(req.Data)
	if err != nil {
		observability.RecordAnalysisFailure("unreadable_image")
		return store.Prediction{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	quality := imaging.Quality(img)

	start := time.Now()
	observations := s.runner.Run(ctx, img)
	assessment, err := triage.Aggregate(observations)
	if err != nil {
		observability.RecordAnalysisFailure("all_classifiers_failed")
		s.logger.Error().Err(err).Int("classifiers", len(observations)).Msg("analysis failed")
		return store.Prediction{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	report := triage.Compose(assessment, quality)

	if err := ctx.Err(); err != nil {
		return store.Prediction{}, err
	}

	name, err := s.uploads.Save(req.Filename, req.Data)
	if err != nil {
		return store.Prediction{}, err
	}

	saved, err := s.store.SavePrediction(ctx, store.Prediction{
		PatientID:        req.PatientID,
		ImagePath:        name,
		ImageFormat:      format,
		Diagnosis:        assessment.Diagnosis,
		Confidence:       assessment.Confidence,
		Urgency:          report.Urgency,
		MultipleFindings: assessment.MultipleFindings,
		ImageQuality:     quality,
		Assessment:       assessment,
		Report:           report,
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		if rmErr := s.uploads.Remove(name); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("file", name).Msg("failed to remove orphaned upload")
		}
		return store.Prediction{}, fmt.Errorf("save prediction: %w", err)
	}

	observability.RecordAnalysis(assessment.Diagnosis.String(), string(report.Urgency))
	s.logger.Info().
		Int64("prediction_id", saved.ID).
		Str("diagnosis", assessment.Diagnosis.String()).
		Float64("confidence", assessment.Confidence).
		Str("urgency", string(report.Urgency)).
		Int("findings", len(assessment.Findings)).
		Float64("image_quality", quality).
		Dur("duration", time.Since(start)).
		Msg("analysis complete")
	return saved, nil
}

// Delete removes a prediction and its stored image.
func (s *Service) Delete(ctx context.Context, id int64) error {
	p, err := s.store.DeletePrediction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.uploads.Remove(p.ImagePath); err != nil {
		s.logger.Warn().Err(err).Str("file", p.ImagePath).Msg("could not delete image file")
	}
	return nil
}
