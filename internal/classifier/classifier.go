package classifier

import (
	"context"
	"errors"

	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/triage"
)

var ErrInputMismatch = errors.New("classifier: input tensor does not match model input")

// Classifier is a loaded model for one disease, consumed as
// tensor -> probability vector.
type Classifier interface {
	Disease() triage.Disease
	Arity() int
	Input() imaging.InputSpec
	Predict(ctx context.Context, in imaging.Tensor) ([]float32, error)
	Close() error
}

// base carries the descriptor shared by every backend.
type base struct {
	disease triage.Disease
	arity   int
	input   imaging.InputSpec
}

func (b base) Disease() triage.Disease  { return b.disease }
func (b base) Arity() int               { return b.arity }
func (b base) Input() imaging.InputSpec { return b.input }
