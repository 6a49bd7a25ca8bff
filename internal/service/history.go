package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/photostore"
)

var (
	ErrHistoryDisabled = errors.New("history is disabled")
	ErrNotFound        = errors.New("prediction not found")
)

const defaultHistoryLimit = 50

// LabelCount is one row of the per-ingredient tally shown with the history.
type LabelCount struct {
	Label string
	Count int
}

func (p *Pipeline) ListHistory(ctx context.Context, limit int) ([]*domain.Prediction, error) {
	if p.predictions == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return p.predictions.List(ctx, limit)
}

// LabelCounts returns a count for each of labels, in the given order.
func (p *Pipeline) LabelCounts(ctx context.Context, labels []string) ([]LabelCount, error) {
	if p.predictions == nil {
		return nil, ErrHistoryDisabled
	}
	counts, err := p.predictions.CountByLabel(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LabelCount, 0, len(labels))
	for _, l := range labels {
		out = append(out, LabelCount{Label: l, Count: counts[l]})
	}
	return out, nil
}

func (p *Pipeline) GetHistory(ctx context.Context, id int64) (*domain.Prediction, error) {
	if p.predictions == nil {
		return nil, ErrHistoryDisabled
	}
	pred, err := p.predictions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return pred, nil
}

// OpenPhoto returns the stored photo for a prediction.
func (p *Pipeline) OpenPhoto(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	pred, err := p.GetHistory(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if pred.PhotoKey == "" || p.photos == nil {
		return nil, "", fmt.Errorf("%w: no photo for %d", ErrNotFound, id)
	}
	rc, mime, err := p.photos.Open(ctx, pred.PhotoKey)
	if errors.Is(err, photostore.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return rc, mime, err
}

// DeleteHistory removes the row, then its photo. A missing photo file is
// logged but does not fail the delete.
func (p *Pipeline) DeleteHistory(ctx context.Context, id int64) error {
	pred, err := p.GetHistory(ctx, id)
	if err != nil {
		return err
	}
	if err := p.predictions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	if pred.PhotoKey != "" && p.photos != nil {
		if err := p.photos.Delete(ctx, pred.PhotoKey); err != nil {
			p.logger.Error("failed to delete photo file", "key", pred.PhotoKey, "error", err)
		}
	}
	return nil
}
