// Package recipe turns a predicted ingredient into streamed recipe text from a
// hosted chat-completion model.
package recipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/vbonduro/dapoerkito/internal/domain"
)

// User-facing messages.
const (
	FailureMessage = "Terjadi kesalahan dalam mengambil data resep."
	EmptyMessage   = "Maaf, tidak ada resep untuk bahan ini."
)

// ErrRequestFailed marks a request that never produced a usable stream:
// a transport error or a non-2xx status. No text is published for it.
var ErrRequestFailed = errors.New("recipe request failed")

// StatusError carries the upstream status for a non-2xx response. It matches
// ErrRequestFailed with errors.Is.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Update is published after every appended fragment. Text is the accumulated
// text including Fragment.
type Update struct {
	Fragment string
	Text     string
}

// UpdateFunc receives updates synchronously, on the goroutine reading the
// stream, before the next line is consumed.
type UpdateFunc func(Update)

// Result is the final accumulated text. Partial is set when the stream ended
// without its terminator, e.g. because the connection dropped.
type Result struct {
	Text    string
	Partial bool
}

// Empty reports whether the stream produced no content at all.
func (r *Result) Empty() bool {
	return r == nil || r.Text == ""
}

type Generator interface {
	// Generate blocks until the stream terminates. On ErrRequestFailed the
	// returned Result is empty; otherwise err is nil, and any text received
	// before a mid-stream failure is returned with Partial set.
	Generate(ctx context.Context, req domain.RecipeRequest, onUpdate UpdateFunc) (*Result, error)
}
