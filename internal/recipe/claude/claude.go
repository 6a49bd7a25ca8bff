// Package claude streams recipes from the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/recipe"
)

const DefaultModel = "claude-sonnet-4-5"

// maxTokens leaves room for ten full recipes.
const maxTokens = 8192

type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// WithBaseURL points the client at a different API root, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type Generator struct {
	client      *anthropic.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

func NewGenerator(apiKey, model string, temperature float64, opts ...Option) *Generator {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if model == "" {
		model = DefaultModel
	}

	var clientOpts []anthropic.ClientOption
	if o.baseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, anthropic.WithHTTPClient(o.httpClient))
	}

	return &Generator{
		client:      anthropic.NewClient(apiKey, clientOpts...),
		model:       model,
		temperature: float32(temperature),
		logger:      o.logger,
	}
}

// Generate implements recipe.Generator. Text deltas are fed through the same
// accumulator as the chat-completions backend so both publish identical
// updates.
func (g *Generator) Generate(ctx context.Context, req domain.RecipeRequest, onUpdate recipe.UpdateFunc) (*recipe.Result, error) {
	dec := recipe.NewDecoder(onUpdate)
	temperature := g.temperature

	_, err := g.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:       anthropic.Model(g.model),
			System:      recipe.SystemPrompt,
			Messages:    []anthropic.Message{anthropic.NewUserTextMessage(recipe.UserPrompt(req))},
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		},
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if data.Delta.Text == nil {
				return
			}
			dec.Append(*data.Delta.Text)
		},
		OnMessageStop: func(anthropic.MessagesEventMessageStopData) {
			dec.Terminate()
		},
	})

	res := dec.Result()
	if err != nil {
		if res.Empty() {
			return &recipe.Result{}, fmt.Errorf("%w: %w", recipe.ErrRequestFailed, err)
		}
		g.logger.Warn("claude stream interrupted", "error", err, "chars", len(res.Text))
		res.Partial = true
		return res, nil
	}
	if res.Partial {
		g.logger.Warn("claude stream ended without message_stop", "chars", len(res.Text))
	}
	return res, nil
}
