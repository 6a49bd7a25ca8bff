package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinRecipeCount = 1
	MaxRecipeCount = 10
)

var ErrInvalidCount = errors.New("recipe count out of range")

// ClassificationResult is the outcome of one prediction. Confidence is a
// percentage in [0,100].
type ClassificationResult struct {
	Label      string
	Confidence float64
}

// Headline formats the result the way the UI displays it, e.g.
// "Prediksi: Tahu (97.31%)".
func (r ClassificationResult) Headline() string {
	return fmt.Sprintf("Prediksi: %s (%.2f%%)", r.Label, r.Confidence)
}

type RecipeRequest struct {
	Ingredient string
	Count      int
}

func NewRecipeRequest(ingredient string, count int) (RecipeRequest, error) {
	if count < MinRecipeCount || count > MaxRecipeCount {
		return RecipeRequest{}, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidCount, count, MinRecipeCount, MaxRecipeCount)
	}
	return RecipeRequest{Ingredient: ingredient, Count: count}, nil
}

type PredictionStatus string

const (
	StatusPending  PredictionStatus = "pending"
	StatusComplete PredictionStatus = "complete"
	StatusPartial  PredictionStatus = "partial"
	StatusEmpty    PredictionStatus = "empty"
	StatusFailed   PredictionStatus = "failed"
)

// Prediction is a recorded pipeline run, kept only when history is enabled.
type Prediction struct {
	ID          int64
	Label       string
	Confidence  float64
	RecipeCount int
	PhotoKey    string
	MimeType    string
	Recipes     string
	Status      PredictionStatus
	CreatedAt   time.Time
}

func (p *Prediction) Result() ClassificationResult {
	return ClassificationResult{Label: p.Label, Confidence: p.Confidence}
}
