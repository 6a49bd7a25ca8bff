package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/dapoerkito/internal/classifier"
	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/imageprep"
	"github.com/vbonduro/dapoerkito/internal/photostore"
	"github.com/vbonduro/dapoerkito/internal/recipe"
)

// preprocessor is the subset of imageprep.Preprocessor the pipeline needs.
type preprocessor interface {
	Preprocess(data []byte) (*imageprep.Tensor, error)
}

// predictionRepository is the subset of store.PredictionStore used for history.
type predictionRepository interface {
	Create(ctx context.Context, result domain.ClassificationResult, recipeCount int, photoKey, mimeType string) (*domain.Prediction, error)
	GetByID(ctx context.Context, id int64) (*domain.Prediction, error)
	List(ctx context.Context, limit int) ([]*domain.Prediction, error)
	CountByLabel(ctx context.Context) (map[string]int, error)
	Finish(ctx context.Context, id int64, recipes string, status domain.PredictionStatus) error
	Delete(ctx context.Context, id int64) error
}

type Option func(*Pipeline)

// WithHistory records every run. Without it the pipeline keeps no state.
func WithHistory(predictions predictionRepository, photos photostore.PhotoStore) Option {
	return func(p *Pipeline) {
		p.predictions = predictions
		p.photos = photos
	}
}

// WithRecipeTimeout bounds each recipe request. Zero means no limit.
func WithRecipeTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.recipeTimeout = d }
}

// Pipeline runs preprocess, classify and recipe streaming for one trigger.
// It holds no per-run state and may be shared across requests.
type Pipeline struct {
	prep          preprocessor
	classifier    classifier.Classifier
	generator     recipe.Generator
	predictions   predictionRepository
	photos        photostore.PhotoStore
	recipeTimeout time.Duration
	logger        *slog.Logger
}

func NewPipeline(prep preprocessor, cls classifier.Classifier, gen recipe.Generator, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{prep: prep, classifier: cls, generator: gen, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) HistoryEnabled() bool {
	return p.predictions != nil
}

// Classification is the first half of a run. PredictionID is zero when
// history is disabled or could not be written.
type Classification struct {
	Result       domain.ClassificationResult
	Request      domain.RecipeRequest
	PredictionID int64
}

// Classify validates count, then classifies the image. Count is checked first
// so an out-of-range value never reaches the model or the completion API.
func (p *Pipeline) Classify(ctx context.Context, imageData []byte, mimeType string, count int) (*Classification, error) {
	if _, err := domain.NewRecipeRequest("", count); err != nil {
		return nil, err
	}

	tensor, err := p.prep.Preprocess(imageData)
	if err != nil {
		return nil, err
	}

	result, err := p.classifier.Predict(ctx, tensor)
	if err != nil {
		return nil, fmt.Errorf("failed to classify image: %w", err)
	}
	p.logger.Info("image classified", "label", result.Label, "confidence", result.Confidence)

	req, err := domain.NewRecipeRequest(result.Label, count)
	if err != nil {
		return nil, err
	}

	c := &Classification{Result: *result, Request: req}
	c.PredictionID = p.record(ctx, *result, count, imageData, mimeType)
	return c, nil
}

// record stores the run in history. History is auxiliary, so failures are
// logged and the run continues without an ID.
func (p *Pipeline) record(ctx context.Context, result domain.ClassificationResult, count int, imageData []byte, mimeType string) int64 {
	if p.predictions == nil {
		return 0
	}

	var key string
	if p.photos != nil {
		k, err := p.photos.Save(ctx, mimeType, bytes.NewReader(imageData))
		if err != nil {
			p.logger.Error("failed to save photo", "error", err)
		} else {
			key = k
		}
	}

	pred, err := p.predictions.Create(ctx, result, count, key, mimeType)
	if err != nil {
		p.logger.Error("failed to record prediction", "error", err)
		if key != "" {
			if derr := p.photos.Delete(ctx, key); derr != nil {
				p.logger.Error("failed to roll back photo", "key", key, "error", derr)
			}
		}
		return 0
	}
	return pred.ID
}

type OutcomeKind int

const (
	OutcomeRecipes OutcomeKind = iota
	OutcomePartial
	OutcomeEmpty
	OutcomeFailed
)

func (k OutcomeKind) Status() domain.PredictionStatus {
	switch k {
	case OutcomeRecipes:
		return domain.StatusComplete
	case OutcomePartial:
		return domain.StatusPartial
	case OutcomeEmpty:
		return domain.StatusEmpty
	default:
		return domain.StatusFailed
	}
}

// Outcome is the terminal state of a recipe stream. Message is the
// user-facing text for the empty and failed kinds.
type Outcome struct {
	Kind    OutcomeKind
	Text    string
	Message string
}

// Recommend streams recipes for c, publishing every update through onUpdate
// on the calling goroutine. It never returns an error: request failures
// become OutcomeFailed and are logged.
func (p *Pipeline) Recommend(ctx context.Context, c *Classification, onUpdate recipe.UpdateFunc) *Outcome {
	if p.recipeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.recipeTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := p.generator.Generate(ctx, c.Request, onUpdate)
	outcome := classifyOutcome(res, err)

	attrs := []any{"ingredient", c.Request.Ingredient, "count", c.Request.Count, "chars", len(outcome.Text), "duration_ms", time.Since(start).Milliseconds()}
	if err != nil {
		var se *recipe.StatusError
		if errors.As(err, &se) {
			attrs = append(attrs, "status", se.StatusCode)
		}
		p.logger.Error("recipe request failed", append(attrs, "error", err)...)
	} else {
		p.logger.Info("recipe stream finished", append(attrs, "partial", outcome.Kind == OutcomePartial)...)
	}

	p.finish(ctx, c.PredictionID, outcome)
	return outcome
}

func classifyOutcome(res *recipe.Result, err error) *Outcome {
	switch {
	case err != nil:
		return &Outcome{Kind: OutcomeFailed, Message: recipe.FailureMessage}
	case res.Empty():
		return &Outcome{Kind: OutcomeEmpty, Message: recipe.EmptyMessage}
	case res.Partial:
		return &Outcome{Kind: OutcomePartial, Text: res.Text}
	default:
		return &Outcome{Kind: OutcomeRecipes, Text: res.Text}
	}
}

func (p *Pipeline) finish(ctx context.Context, id int64, o *Outcome) {
	if p.predictions == nil || id == 0 {
		return
	}
	// The recipe timeout must not prevent the final write.
	ctx = context.WithoutCancel(ctx)
	if err := p.predictions.Finish(ctx, id, o.Text, o.Kind.Status()); err != nil {
		p.logger.Error("failed to update prediction", "id", id, "error", err)
	}
}
