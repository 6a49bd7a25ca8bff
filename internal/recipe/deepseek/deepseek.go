// Package deepseek streams recipes from an OpenAI-compatible chat-completions
// endpoint such as https://api.deepseek.com/chat/completions.
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/recipe"
)

const (
	DefaultURL   = "https://api.deepseek.com/chat/completions"
	DefaultModel = "deepseek-chat"

	// maxErrorBody caps how much of a non-2xx body is kept for logs.
	maxErrorBody = 4096
)

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Generator struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

// NewGenerator builds a streaming client. A nil client means no timeout: the
// stream runs until the terminator, a non-2xx status or a dropped connection.
func NewGenerator(url, apiKey, model string, temperature float64, client *http.Client, logger *slog.Logger) *Generator {
	if url == "" {
		url = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		url:         url,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		client:      client,
		logger:      logger,
	}
}

func (g *Generator) buildRequest(req domain.RecipeRequest) request {
	return request{
		Model: g.model,
		Messages: []message{
			{Role: "system", Content: recipe.SystemPrompt},
			{Role: "user", Content: recipe.UserPrompt(req)},
		},
		Temperature: g.temperature,
		Stream:      true,
	}
}

func (g *Generator) newHTTPRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	return req, nil
}

// Generate implements recipe.Generator.
func (g *Generator) Generate(ctx context.Context, req domain.RecipeRequest, onUpdate recipe.UpdateFunc) (*recipe.Result, error) {
	payload, err := json.Marshal(g.buildRequest(req))
	if err != nil {
		return &recipe.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := g.newHTTPRequest(ctx, payload)
	if err != nil {
		return &recipe.Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return &recipe.Result{}, fmt.Errorf("%w: %w", recipe.ErrRequestFailed, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Error("failed to close completion stream body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &recipe.Result{}, &recipe.StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	g.logger.Debug("completion stream opened", "ingredient", req.Ingredient, "count", req.Count)
	res, err := recipe.Decode(resp.Body, onUpdate)
	if err != nil {
		// A dropped connection is a premature end of stream, not a failure.
		g.logger.Warn("completion stream interrupted", "error", err, "chars", len(res.Text))
		return res, nil
	}
	if res.Partial {
		g.logger.Warn("completion stream ended without terminator", "chars", len(res.Text))
	}
	return res, nil
}
