// Package ollama streams recipes from a local Ollama server's chat API, which
// sends one JSON object per line instead of SSE frames.
package ollama

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
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llama3.1"

	maxErrorBody = 4096
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

type Generator struct {
	host        string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

func NewGenerator(host, model string, temperature float64, logger *slog.Logger) *Generator {
	if host == "" {
		host = DefaultHost
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		host:        host,
		model:       model,
		temperature: temperature,
		client:      &http.Client{},
		logger:      logger,
	}
}

func (g *Generator) Generate(ctx context.Context, req domain.RecipeRequest, onUpdate recipe.UpdateFunc) (*recipe.Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: recipe.SystemPrompt},
			{Role: "user", Content: recipe.UserPrompt(req)},
		},
		Stream:  true,
		Options: chatOptions{Temperature: g.temperature},
	})
	if err != nil {
		return &recipe.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return &recipe.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return &recipe.Result{}, fmt.Errorf("%w: failed to call ollama: %w", recipe.ErrRequestFailed, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &recipe.Result{}, &recipe.StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	dec := recipe.NewDecoder(onUpdate)
	var upstreamErr string
	readErr := recipe.ScanLines(resp.Body, func(line []byte) bool {
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return true
		}
		if chunk.Error != "" {
			upstreamErr = chunk.Error
			return false
		}
		dec.Append(chunk.Message.Content)
		if chunk.Done {
			dec.Terminate()
			return false
		}
		return true
	})

	if upstreamErr != "" {
		if dec.Text() == "" {
			return &recipe.Result{}, fmt.Errorf("%w: ollama: %s", recipe.ErrRequestFailed, upstreamErr)
		}
		g.logger.Warn("ollama stream error", "error", upstreamErr)
	}

	res := dec.Result()
	if readErr != nil {
		g.logger.Warn("ollama stream interrupted", "error", readErr, "chars", len(res.Text))
	}
	return res, nil
}
