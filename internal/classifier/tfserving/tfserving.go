// Package tfserving classifies through a TensorFlow Serving REST endpoint
// hosting the exported Keras model.
package tfserving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vbonduro/dapoerkito/internal/imageprep"
)

type Model struct {
	baseURL    string
	name       string
	numClasses int
	client     *http.Client
}

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float32 `json:"predictions"`
	Error       string      `json:"error"`
}

type statusResponse struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

// New checks that the model is AVAILABLE before returning, so a missing model
// fails at startup rather than on the first request.
func New(ctx context.Context, baseURL, name string, numClasses int) (*Model, error) {
	m := &Model{
		baseURL:    baseURL,
		name:       name,
		numClasses: numClasses,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if err := m.checkAvailable(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) modelURL() string {
	return m.baseURL + "/v1/models/" + url.PathEscape(m.name)
}

func (m *Model) checkAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.modelURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach tensorflow serving: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %q status returned %d", m.name, resp.StatusCode)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode model status: %w", err)
	}
	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("model %q has no AVAILABLE version", m.name)
}

func (m *Model) Infer(ctx context.Context, t *imageprep.Tensor) ([]float32, error) {
	payload, err := json.Marshal(predictRequest{Instances: [][][][]float32{nest(t)}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.modelURL()+":predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tensorflow serving: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tensorflow serving returned status %d: %s", resp.StatusCode, errBody)
	}

	var body predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("tensorflow serving error: %s", body.Error)
	}
	if len(body.Predictions) != 1 {
		return nil, fmt.Errorf("expected 1 prediction, got %d", len(body.Predictions))
	}
	if got := len(body.Predictions[0]); got != m.numClasses {
		return nil, fmt.Errorf("expected %d scores, got %d", m.numClasses, got)
	}
	return body.Predictions[0], nil
}

// nest reshapes the batch-of-one NHWC tensor into [H][W][C] for the REST
// "instances" row format.
func nest(t *imageprep.Tensor) [][][]float32 {
	h, w, c := int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	out := make([][][]float32, h)
	for y := 0; y < h; y++ {
		out[y] = make([][]float32, w)
		for x := 0; x < w; x++ {
			off := (y*w + x) * c
			out[y][x] = t.Data[off : off+c]
		}
	}
	return out
}

func closeBody(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("failed to close tensorflow serving response body", "error", err)
	}
}
