package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vbonduro/dapoerkito/internal/domain"
)

var ErrNotFound = errors.New("prediction not found")

const predictionColumns = `id, label, confidence, recipe_count, photo_key, mime_type, recipes, status, created_at`

type PredictionStore struct {
	db *sql.DB
}

func NewPredictionStore(db *sql.DB) *PredictionStore {
	return &PredictionStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (*domain.Prediction, error) {
	p := &domain.Prediction{}
	var status string
	err := row.Scan(&p.ID, &p.Label, &p.Confidence, &p.RecipeCount, &p.PhotoKey, &p.MimeType, &p.Recipes, &status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PredictionStatus(status)
	return p, nil
}

// Create records a classified photo with status pending.
func (s *PredictionStore) Create(ctx context.Context, result domain.ClassificationResult, recipeCount int, photoKey, mimeType string) (*domain.Prediction, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (label, confidence, recipe_count, photo_key, mime_type, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.Label, result.Confidence, recipeCount, photoKey, mimeType, string(domain.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when no row matches.
func (s *PredictionStore) GetByID(ctx context.Context, id int64) (*domain.Prediction, error) {
	p, err := scanPrediction(s.db.QueryRowContext(ctx, `
		SELECT `+predictionColumns+` FROM predictions WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// List returns the most recent predictions first, at most limit rows.
func (s *PredictionStore) List(ctx context.Context, limit int) ([]*domain.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+predictionColumns+` FROM predictions ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	var predictions []*domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return predictions, nil
}

// CountByLabel tallies predictions per ingredient label.
func (s *PredictionStore) CountByLabel(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*) FROM predictions GROUP BY label
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count predictions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[label] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// Finish stores the final recipe text and status of a run.
func (s *PredictionStore) Finish(ctx context.Context, id int64, recipes string, status domain.PredictionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET recipes = ?, status = ? WHERE id = ?
	`, recipes, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}
	return requireRow(result, id)
}

func (s *PredictionStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM predictions WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
