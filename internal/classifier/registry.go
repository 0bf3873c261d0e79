package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/Skufu/lungtriage/internal/config"
	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/observability"
	"github.com/Skufu/lungtriage/internal/triage"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusReady    Status = "ready"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

type ModelStatus struct {
	Disease triage.Disease `json:"disease"`
	Status  Status         `json:"status"`
	Backend string         `json:"backend,omitempty"`
	Arity   int            `json:"arity,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// Registry holds the loaded classifiers. It is built once at start-up and
// shared read-only between requests.
type Registry struct {
	logger      zerolog.Logger
	classifiers []Classifier
	statuses    []ModelStatus
	runtime     *Runtime
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a ready classifier, keeping classifiers in disease order.
func (r *Registry) Register(c Classifier, backend string) {
	r.classifiers = append(r.classifiers, c)
	sort.SliceStable(r.classifiers, func(i, j int) bool {
		return r.classifiers[i].Disease() < r.classifiers[j].Disease()
	})
	r.setStatus(ModelStatus{Disease: c.Disease(), Status: StatusReady, Backend: backend, Arity: c.Arity()})
}

// MarkUnavailable records a classifier that could not be loaded.
func (r *Registry) MarkUnavailable(d triage.Disease, status Status, backend, detail string) {
	r.setStatus(ModelStatus{Disease: d, Status: status, Backend: backend, Detail: detail})
}

func (r *Registry) setStatus(s ModelStatus) {
	for i := range r.statuses {
		if r.statuses[i].Disease == s.Disease {
			r.statuses[i] = s
			return
		}
	}
	r.statuses = append(r.statuses, s)
	sort.SliceStable(r.statuses, func(i, j int) bool {
		return r.statuses[i].Disease < r.statuses[j].Disease
	})
}

func (r *Registry) Statuses() []ModelStatus {
	return append([]ModelStatus(nil), r.statuses...)
}

// Ready is the number of classifiers that will run per request.
func (r *Registry) Ready() int {
	return len(r.classifiers)
}

// Run preprocesses the image once per distinct input spec and invokes every
// classifier in order. Classifier errors and panics become failed
// observations; Run itself never fails.
func (r *Registry) Run(ctx context.Context, img image.Image) []triage.Observation {
	tensors := make(map[imaging.InputSpec]imaging.Tensor, 1)
	obs := make([]triage.Observation, 0, len(r.classifiers))

	for _, c := range r.classifiers {
		spec := c.Input()
		in, ok := tensors[spec]
		if !ok {
			in = imaging.Preprocess(img, spec)
			tensors[spec] = in
		}

		start := time.Now()
		o := triage.Observe(c.Disease(), invoke(ctx, c, in))
		elapsed := time.Since(start)
		observability.RecordInference(c.Disease().String(), o.Label.String(), elapsed)

		if o.Failed() {
			r.logger.Warn().Str("disease", c.Disease().String()).Str("reason", o.Error).Msg("classifier_failed")
		} else {
			r.logger.Debug().
				Str("disease", c.Disease().String()).
				Str("label", o.Label.String()).
				Float64("confidence", o.Confidence).
				Dur("duration", elapsed).
				Msg("classifier_result")
		}
		obs = append(obs, o)
	}
	return obs
}

func invoke(ctx context.Context, c Classifier, in imaging.Tensor) (out triage.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = triage.Failed{Reason: fmt.Sprintf("classifier panicked: %v", p)}
		}
	}()

	raw, err := c.Predict(ctx, in)
	if err != nil {
		return triage.Failed{Reason: err.Error()}
	}
	return triage.Decode(c.Arity(), raw)
}

func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.classifiers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Disease(), err))
		}
	}
	r.classifiers = nil
	if r.runtime != nil {
		if err := r.runtime.Close(); err != nil {
			errs = append(errs, err)
		}
		r.runtime = nil
	}
	return errors.Join(errs...)
}

type LoadOptions struct {
	ONNXLibrary string
	HTTPClient  *http.Client
}

// Load builds a registry from the classifier configuration. Missing or
// broken ONNX models are recorded as unavailable rather than failing start-up.
func Load(cfgs []config.ClassifierConfig, opts LoadOptions, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	for i, cfg := range cfgs {
		disease, err := triage.ParseDisease(cfg.Disease)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("classifier[%d]: %w", i, err)
		}
		spec := imaging.InputSpec{Size: cfg.InputSize, Layout: imaging.Layout(cfg.Layout)}
		if err := spec.Validate(); err != nil {
			r.Close()
			return nil, fmt.Errorf("classifier[%d]: %w", i, err)
		}

		switch cfg.Backend {
		case config.BackendHTTP:
			remote, err := NewRemote(RemoteOptions{
				Disease: disease,
				Arity:   cfg.Arity,
				Input:   spec,
				URL:     cfg.URL,
				Timeout: cfg.Timeout,
				Client:  opts.HTTPClient,
			})
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("classifier[%d]: %w", i, err)
			}
			r.Register(remote, cfg.Backend)
			logger.Info().Str("disease", disease.String()).Str("url", cfg.URL).Msg("remote classifier registered")

		case config.BackendONNX:
			if _, err := os.Stat(cfg.Path); err != nil {
				r.MarkUnavailable(disease, StatusNotFound, cfg.Backend, cfg.Path)
				logger.Warn().Str("disease", disease.String()).Str("path", cfg.Path).Msg("model file not found")
				continue
			}
			if r.runtime == nil {
				rt, err := NewRuntime(opts.ONNXLibrary)
				if err != nil {
					r.MarkUnavailable(disease, StatusError, cfg.Backend, err.Error())
					logger.Error().Err(err).Str("disease", disease.String()).Msg("onnx runtime unavailable")
					continue
				}
				r.runtime = rt
			}
			model, err := NewONNX(r.runtime, ONNXOptions{
				Disease:    disease,
				Arity:      cfg.Arity,
				Input:      spec,
				ModelPath:  cfg.Path,
				InputName:  cfg.InputName,
				OutputName: cfg.OutputName,
			})
			if err != nil {
				r.MarkUnavailable(disease, StatusError, cfg.Backend, err.Error())
				logger.Error().Err(err).Str("disease", disease.String()).Msg("failed to load model")
				continue
			}
			r.Register(model, cfg.Backend)
			logger.Info().Str("disease", disease.String()).Str("path", cfg.Path).Msg("model loaded")

		default:
			r.Close()
			return nil, fmt.Errorf("classifier[%d]: unknown backend %q", i, cfg.Backend)
		}
	}

	return r, nil
}
