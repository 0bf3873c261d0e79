package classifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/triage"
	ort "github.com/yalue/onnxruntime_go"
)

// Runtime owns the process-wide ONNX Runtime environment. Sessions must be
// destroyed before the runtime is closed.
type Runtime struct {
	mu     sync.Mutex
	closed bool
}

func NewRuntime(libraryPath string) (*Runtime, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return &Runtime{}, nil
}

func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil
	}
	rt.closed = true
	return ort.DestroyEnvironment()
}

type ONNXOptions struct {
	Disease    triage.Disease
	Arity      int
	Input      imaging.InputSpec
	ModelPath  string
	InputName  string
	OutputName string
}

// ONNX runs a model through an ONNX Runtime session with pre-bound tensors.
// The bound tensors are shared, so Predict serialises callers.
type ONNX struct {
	base
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewONNX(rt *Runtime, opts ONNXOptions) (*ONNX, error) {
	if rt == nil {
		return nil, fmt.Errorf("onnx runtime not initialized")
	}
	if err := opts.Input.Validate(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.Input.Shape()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.Arity)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNX{
		base:         base{disease: opts.Disease, arity: opts.Arity, input: opts.Input},
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (m *ONNX) Predict(_ context.Context, in imaging.Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dst := m.inputTensor.GetData()
	if len(in.Data) != len(dst) {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputMismatch, len(dst), len(in.Data))
	}
	copy(dst, in.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := m.outputTensor.GetData()
	return append([]float32(nil), out...), nil
}

func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}
