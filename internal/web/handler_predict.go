package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/dapoerkito/internal/domain"
	"github.com/vbonduro/dapoerkito/internal/imageprep"
	"github.com/vbonduro/dapoerkito/internal/recipe"
	"github.com/vbonduro/dapoerkito/internal/service"
)

const (
	maxPhotoSize = 20 << 20
	// maxFormOverhead covers multipart boundaries and the count field.
	maxFormOverhead = 1 << 20
)

// allowedImageTypes is the set of types the preprocessor can decode, as
// sniffed by http.DetectContentType.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// allowedImageMIME returns the sniffed MIME type and true if data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// parseCount reads the recipe count field. A missing field means one recipe.
func parseCount(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return domain.MinRecipeCount, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidCount, v)
	}
	if n < domain.MinRecipeCount || n > domain.MaxRecipeCount {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidCount, n)
	}
	return n, nil
}

// readUpload validates the multipart form and returns the image bytes, their
// MIME type and the recipe count. Failures are written as 400s.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, int, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+maxFormOverhead)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "image too large", http.StatusBadRequest)
			return nil, "", 0, false
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return nil, "", 0, false
	}

	count, err := parseCount(r.FormValue("count"))
	if err != nil {
		http.Error(w, fmt.Sprintf("count must be between %d and %d", domain.MinRecipeCount, domain.MaxRecipeCount), http.StatusBadRequest)
		return nil, "", 0, false
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return nil, "", 0, false
	}
	defer closeWithLog(file, "upload file", s.log(r))

	imageData, err := io.ReadAll(io.LimitReader(file, maxPhotoSize+1))
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.log(r).Error("read upload failed", "error", err)
		return nil, "", 0, false
	}
	if len(imageData) > maxPhotoSize {
		http.Error(w, "image too large", http.StatusBadRequest)
		return nil, "", 0, false
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		http.Error(w, "unsupported image format", http.StatusBadRequest)
		return nil, "", 0, false
	}
	return imageData, mimeType, count, true
}

type predictionEvent struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Headline   string  `json:"headline"`
}

type recipeEvent struct {
	Fragment string `json:"fragment"`
	HTML     string `json:"html"`
}

type messageEvent struct {
	Message string `json:"message"`
}

type doneEvent struct {
	Partial bool  `json:"partial"`
	ID      int64 `json:"id"`
}

// eventStream writes SSE events. After the first failed write the client is
// assumed gone and later events are dropped.
type eventStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
	err    error
}

func newEventStream(w http.ResponseWriter, logger *slog.Logger) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("failed to lift write deadline", "error", err)
	}
	return &eventStream{w: w, rc: rc, logger: logger}
}

func (e *eventStream) send(event string, data any) {
	if e.err != nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		e.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		e.gone(err)
		return
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		e.gone(err)
	}
}

func (e *eventStream) gone(err error) {
	e.err = err
	e.logger.Info("client disconnected, continuing without output", "error", err)
}

// handlePredict classifies the uploaded photo and streams recipes back as
// server-sent events: one prediction event, a recipe event per fragment,
// then failed or empty when applicable, and finally done.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	imageData, mimeType, count, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	logger := s.log(r)

	// The run completes even if the client goes away.
	ctx := context.WithoutCancel(r.Context())

	c, err := s.pipeline.Classify(ctx, imageData, mimeType, count)
	switch {
	case errors.Is(err, imageprep.ErrDecode):
		http.Error(w, "image could not be decoded", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrInvalidCount):
		http.Error(w, "invalid count", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "failed to classify image", http.StatusInternalServerError)
		logger.Error("classification failed", "error", err)
		return
	}

	stream := newEventStream(w, logger)
	stream.send("prediction", predictionEvent{
		Label:      c.Result.Label,
		Confidence: c.Result.Confidence,
		Headline:   c.Result.Headline(),
	})

	out := s.pipeline.Recommend(ctx, c, func(u recipe.Update) {
		stream.send("recipe", recipeEvent{Fragment: u.Fragment, HTML: s.markdown.Render(u.Text)})
	})

	switch out.Kind {
	case service.OutcomeFailed:
		stream.send("failed", messageEvent{Message: out.Message})
	case service.OutcomeEmpty:
		stream.send("empty", messageEvent{Message: out.Message})
	}
	stream.send("done", doneEvent{Partial: out.Kind == service.OutcomePartial, ID: c.PredictionID})
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
