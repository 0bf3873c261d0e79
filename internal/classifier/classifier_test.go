package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Skufu/lungtriage/internal/config"
	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/triage"
	"github.com/rs/zerolog"
)

type fakeClassifier struct {
	base
	out    []float32
	err    error
	panics bool
	calls  int
	seen   []int
	closed bool
}

func newFake(d triage.Disease, arity int, out ...float32) *fakeClassifier {
	return &fakeClassifier{
		base: base{disease: d, arity: arity, input: imaging.InputSpec{Size: 8, Layout: imaging.LayoutNHWC}},
		out:  out,
	}
}

func (f *fakeClassifier) Predict(_ context.Context, in imaging.Tensor) ([]float32, error) {
	f.calls++
	f.seen = append(f.seen, len(in.Data))
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func (f *fakeClassifier) Close() error {
	f.closed = true
	return nil
}

func grey() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	return img
}

func TestRegistryRunsInDiseaseOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register(newFake(triage.LungCancer, 3, 0.1, 0.2, 0.7), "fake")
	r.Register(newFake(triage.Pneumonia, 1, 0.9), "fake")
	r.Register(newFake(triage.Tuberculosis, 1, 0.2), "fake")

	obs := r.Run(context.Background(), grey())
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}
	want := []triage.Label{triage.LabelPneumonia, triage.LabelNormal, triage.LabelLungCancerMalignant}
	for i, o := range obs {
		if o.Label != want[i] {
			t.Fatalf("observation %d: expected %s, got %s", i, want[i], o.Label)
		}
	}
	if r.Ready() != 3 {
		t.Fatalf("expected 3 ready classifiers, got %d", r.Ready())
	}
}

func TestRegistryContainsFailures(t *testing.T) {
	failing := newFake(triage.Pneumonia, 1)
	failing.err = errors.New("session lost")
	panicking := newFake(triage.Tuberculosis, 1)
	panicking.panics = true
	wrongShape := newFake(triage.LungCancer, 3, 0.5, 0.5)

	r := NewRegistry(zerolog.Nop())
	r.Register(failing, "fake")
	r.Register(panicking, "fake")
	r.Register(wrongShape, "fake")

	obs := r.Run(context.Background(), grey())
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}
	for _, o := range obs {
		if !o.Failed() || o.Confidence != 0 {
			t.Fatalf("expected failed observation, got %+v", o)
		}
	}
	if !strings.Contains(obs[0].Error, "session lost") {
		t.Fatalf("unexpected error %q", obs[0].Error)
	}
	if !strings.Contains(obs[1].Error, "panicked") {
		t.Fatalf("unexpected error %q", obs[1].Error)
	}
	if !strings.Contains(obs[2].Error, "invalid output shape") {
		t.Fatalf("unexpected error %q", obs[2].Error)
	}
}

func TestRegistrySharesPreprocessedTensor(t *testing.T) {
	a := newFake(triage.Pneumonia, 1, 0.1)
	b := newFake(triage.Tuberculosis, 1, 0.1)
	c := newFake(triage.LungCancer, 3, 1, 0, 0)
	c.input = imaging.InputSpec{Size: 4, Layout: imaging.LayoutNCHW}

	r := NewRegistry(zerolog.Nop())
	r.Register(a, "fake")
	r.Register(b, "fake")
	r.Register(c, "fake")
	r.Run(context.Background(), grey())

	if a.seen[0] != 8*8*3 || b.seen[0] != 8*8*3 {
		t.Fatalf("unexpected tensor sizes %v %v", a.seen, b.seen)
	}
	if c.seen[0] != 4*4*3 {
		t.Fatalf("unexpected tensor size %v", c.seen)
	}
}

func TestRegistryStatusesAndClose(t *testing.T) {
	fake := newFake(triage.Tuberculosis, 1, 0.3)
	r := NewRegistry(zerolog.Nop())
	r.MarkUnavailable(triage.LungCancer, StatusNotFound, config.BackendONNX, "models/lung_cancer.onnx")
	r.Register(fake, "fake")
	r.MarkUnavailable(triage.Pneumonia, StatusError, config.BackendONNX, "bad model")

	statuses := r.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if statuses[0].Disease != triage.Pneumonia || statuses[0].Status != StatusError {
		t.Fatalf("unexpected first status %+v", statuses[0])
	}
	if statuses[1].Status != StatusReady || statuses[1].Arity != 1 {
		t.Fatalf("unexpected second status %+v", statuses[1])
	}
	if statuses[2].Status != StatusNotFound {
		t.Fatalf("unexpected third status %+v", statuses[2])
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !fake.closed {
		t.Fatalf("expected classifier to be closed")
	}
	if r.Ready() != 0 {
		t.Fatalf("expected no classifiers after close")
	}
}

func TestRemotePredict(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"output":[0.05,0.15,0.8]}`)
	}))
	defer srv.Close()

	spec := imaging.InputSpec{Size: 4, Layout: imaging.LayoutNHWC}
	remote, err := NewRemote(RemoteOptions{Disease: triage.LungCancer, Arity: 3, Input: spec, URL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	defer remote.Close()

	in := imaging.Preprocess(grey(), spec)
	out, err := remote.Predict(context.Background(), in)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(out) != 3 || out[2] != 0.8 {
		t.Fatalf("unexpected output %v", out)
	}
	if got.Disease != "lung_cancer" || len(got.Input) != 4*4*3 || len(got.Shape) != 4 {
		t.Fatalf("unexpected request %+v", got.Shape)
	}
}

func TestRemotePredictErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
		"error field": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"error":"model not loaded"}`)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `not json`)
		},
	}
	spec := imaging.InputSpec{Size: 2, Layout: imaging.LayoutNHWC}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			remote, err := NewRemote(RemoteOptions{Disease: triage.Pneumonia, Arity: 1, Input: spec, URL: srv.URL})
			if err != nil {
				t.Fatalf("new remote: %v", err)
			}
			if _, err := remote.Predict(context.Background(), imaging.Preprocess(grey(), spec)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewRemoteRequiresURL(t *testing.T) {
	if _, err := NewRemote(RemoteOptions{Disease: triage.Pneumonia, Arity: 1, Input: imaging.InputSpec{Size: 2, Layout: imaging.LayoutNHWC}}); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestLoadRecordsMissingModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"output":[0.2]}`)
	}))
	defer srv.Close()

	cfgs := []config.ClassifierConfig{
		{Disease: "pneumonia", Backend: config.BackendONNX, Path: filepath.Join(t.TempDir(), "missing.onnx"), Arity: 1, InputSize: 8, Layout: "nhwc"},
		{Disease: "tuberculosis", Backend: config.BackendHTTP, URL: srv.URL, Arity: 1, InputSize: 8, Layout: "nhwc", Timeout: time.Second},
	}
	r, err := Load(cfgs, LoadOptions{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer r.Close()

	if r.Ready() != 1 {
		t.Fatalf("expected 1 ready classifier, got %d", r.Ready())
	}
	statuses := r.Statuses()
	if statuses[0].Status != StatusNotFound || statuses[1].Status != StatusReady {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	obs := r.Run(context.Background(), grey())
	if len(obs) != 1 || obs[0].Disease != triage.Tuberculosis || obs[0].Label != triage.LabelNormal {
		t.Fatalf("unexpected observations %+v", obs)
	}
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	cases := map[string]config.ClassifierConfig{
		"disease": {Disease: "asthma", Backend: config.BackendHTTP, URL: "http://x", Arity: 1, InputSize: 8, Layout: "nhwc"},
		"layout":  {Disease: "pneumonia", Backend: config.BackendHTTP, URL: "http://x", Arity: 1, InputSize: 8, Layout: "hwc"},
		"backend": {Disease: "pneumonia", Backend: "grpc", Arity: 1, InputSize: 8, Layout: "nhwc"},
	}
	for name, cfg := range cases {
		if _, err := Load([]config.ClassifierConfig{cfg}, LoadOptions{}, zerolog.Nop()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestONNXModelFromEnv(t *testing.T) {
	lib := os.Getenv("ONNXRUNTIME_LIB")
	model := os.Getenv("TEST_PNEUMONIA_MODEL")
	if lib == "" || model == "" {
		t.Skip("ONNXRUNTIME_LIB and TEST_PNEUMONIA_MODEL not set")
	}

	cfgs := []config.ClassifierConfig{{
		Disease: "pneumonia", Backend: config.BackendONNX, Path: model, Arity: 1,
		InputSize: 224, Layout: "nhwc", InputName: "input", OutputName: "output",
	}}
	r, err := Load(cfgs, LoadOptions{ONNXLibrary: lib}, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer r.Close()
	if r.Ready() != 1 {
		t.Fatalf("model not ready: %+v", r.Statuses())
	}
	obs := r.Run(context.Background(), grey())
	if len(obs) != 1 || obs[0].Failed() {
		t.Fatalf("unexpected observations %+v", obs)
	}
}
