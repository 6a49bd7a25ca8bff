package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/recipe"
)

func event(name string, data any) string {
	b, _ := json.Marshal(data)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, b)
}

func textDelta(text string) string {
	return event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
}

func openingEvents() []string {
	return []string{
		event("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
				"content": []any{}, "stop_reason": nil,
				"usage": map[string]int{"input_tokens": 120, "output_tokens": 1},
			},
		}),
		event("content_block_start", map[string]any{
			"type": "content_block_start", "index": 0,
			"content_block": map[string]string{"type": "text", "text": ""},
		}),
		event("ping", map[string]string{"type": "ping"}),
	}
}

func closingEvents() []string {
	return []string{
		event("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}),
		event("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]int{"output_tokens": 42},
		}),
		event("message_stop", map[string]string{"type": "message_stop"}),
	}
}

func streamServer(t *testing.T, inspect func(*http.Request, map[string]any), events []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			_, _ = fmt.Fprint(w, e)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateStreamsTextDeltas(t *testing.T) {
	var events []string
	events = append(events, openingEvents()...)
	events = append(events, textDelta("# 1. Pempek"), textDelta(" Kapal Selam"))
	events = append(events, closingEvents()...)

	var gotBody map[string]any
	var gotKey string
	srv := streamServer(t, func(r *http.Request, body map[string]any) {
		gotBody = body
		gotKey = r.Header.Get("x-api-key")
	}, events)

	var texts []string
	g := NewGenerator("sk-ant-test", "", 1, WithBaseURL(srv.URL))
	res, err := g.Generate(context.Background(), domain.RecipeRequest{Ingredient: "Ikan", Count: 3}, func(u recipe.Update) {
		texts = append(texts, u.Text)
	})
	require.NoError(t, err)

	assert.Equal(t, "# 1. Pempek Kapal Selam", res.Text)
	assert.False(t, res.Partial)
	assert.Equal(t, []string{"# 1. Pempek", "# 1. Pempek Kapal Selam"}, texts)

	assert.Equal(t, "sk-ant-test", gotKey)
	assert.Equal(t, DefaultModel, gotBody["model"])
	assert.Equal(t, recipe.SystemPrompt, gotBody["system"])
	assert.Equal(t, true, gotBody["stream"])
}

func TestGenerateRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	g := NewGenerator("sk-ant-test", "", 1, WithBaseURL(srv.URL))
	res, err := g.Generate(context.Background(), domain.RecipeRequest{Ingredient: "Udang", Count: 1}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, recipe.ErrRequestFailed))
	assert.Empty(t, res.Text)
}

func TestGenerateWithoutMessageStopIsPartial(t *testing.T) {
	var events []string
	events = append(events, openingEvents()...)
	events = append(events, textDelta("Tekwan "))

	srv := streamServer(t, nil, events)

	g := NewGenerator("sk-ant-test", "", 1, WithBaseURL(srv.URL))
	res, err := g.Generate(context.Background(), domain.RecipeRequest{Ingredient: "Udang", Count: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Tekwan ", res.Text)
	assert.True(t, res.Partial)
}

func TestGenerateErrorAfterTextIsPartial(t *testing.T) {
	var events []string
	events = append(events, openingEvents()...)
	events = append(events, textDelta("# 1. Model "))
	events = append(events, event("error", map[string]any{
		"type":  "error",
		"error": map[string]string{"type": "overloaded_error", "message": "Overloaded"},
	}))
	events = append(events, textDelta("never"))

	srv := streamServer(t, nil, events)

	var texts []string
	g := NewGenerator("sk-ant-test", "", 1, WithBaseURL(srv.URL))
	res, err := g.Generate(context.Background(), domain.RecipeRequest{Ingredient: "Ikan", Count: 1}, func(u recipe.Update) {
		texts = append(texts, u.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, "# 1. Model ", res.Text)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"# 1. Model "}, texts)
}

func TestGenerateErrorBeforeTextFails(t *testing.T) {
	events := append(openingEvents(), event("error", map[string]any{
		"type":  "error",
		"error": map[string]string{"type": "overloaded_error", "message": "Overloaded"},
	}))

	srv := streamServer(t, nil, events)

	g := NewGenerator("sk-ant-test", "", 1, WithBaseURL(srv.URL))
	res, err := g.Generate(context.Background(), domain.RecipeRequest{Ingredient: "Ikan", Count: 1}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, recipe.ErrRequestFailed))
	assert.Empty(t, res.Text)
}
