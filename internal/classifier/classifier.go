// Package classifier maps a preprocessed image tensor to one of the fixed
// ingredient labels.
package classifier

import (
	"context"
	"fmt"

	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/imageprep"
)

// Labels is the label set in the model's output index order.
var Labels = []string{
	"Daging Ayam",
	"Daging Sapi",
	"Durian",
	"Ikan",
	"Tahu",
	"Telur",
	"Tempe",
	"Udang",
}

// Model runs a forward pass and returns one probability per label.
type Model interface {
	Infer(ctx context.Context, t *imageprep.Tensor) ([]float32, error)
}

type Classifier interface {
	Predict(ctx context.Context, t *imageprep.Tensor) (*domain.ClassificationResult, error)
}

// Adapter is safe for concurrent use when the wrapped Model is.
type Adapter struct {
	model  Model
	labels []string
}

func New(model Model, labels []string) (*Adapter, error) {
	if model == nil {
		return nil, fmt.Errorf("classifier model is required")
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("classifier needs at least one label")
	}
	return &Adapter{model: model, labels: append([]string(nil), labels...)}, nil
}

// Predict always commits to the highest-probability label, however low it is.
func (a *Adapter) Predict(ctx context.Context, t *imageprep.Tensor) (*domain.ClassificationResult, error) {
	probs, err := a.model.Infer(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}
	if len(probs) != len(a.labels) {
		return nil, fmt.Errorf("model returned %d scores, want %d", len(probs), len(a.labels))
	}
	idx, p := ArgMax(probs)
	return &domain.ClassificationResult{
		Label:      a.labels[idx],
		Confidence: float64(p) * 100,
	}, nil
}

// ArgMax returns the index and value of the largest element. Ties resolve to
// the first index. probs must be non-empty.
func ArgMax(probs []float32) (int, float32) {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best, probs[best]
}
