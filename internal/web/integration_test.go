package web_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/dapoerkito/internal/classifier"
	"github.com/vbonduro/dapoerkito/internal/db"
	"github.com/vbonduro/dapoerkito/internal/imageprep"
	"github.com/vbonduro/dapoerkito/internal/photostore/local"
	"github.com/vbonduro/dapoerkito/internal/recipe"
	"github.com/vbonduro/dapoerkito/internal/recipe/deepseek"
	"github.com/vbonduro/dapoerkito/internal/service"
	"github.com/vbonduro/dapoerkito/internal/store"
	"github.com/vbonduro/dapoerkito/internal/web"
	"github.com/vbonduro/dapoerkito/internal/web/templates"
)

const (
	recipeOne = "# 1. Tahu Bacem (Asal: Palembang)\n## Bahan:\n1. 10 potong tahu\n## Cara Membuat:\n1. Rebus tahu dengan bumbu.\n"
	recipeTwo = "# 2. Tahu Isi (Asal: Lubuklinggau)\n## Bahan:\n1. 8 buah tahu\n## Cara Membuat:\n1. Isi tahu lalu goreng.\n"
)

// tahuModel always scores "Tahu" highest.
type tahuModel struct{}

func (tahuModel) Infer(_ context.Context, _ *imageprep.Tensor) ([]float32, error) {
	return []float32{0.02, 0.01, 0.01, 0.03, 0.8731, 0.03, 0.0269, 0.0}, nil
}

// fakeCompletions records request bodies and replies with a scripted stream.
type fakeCompletions struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
	frames []string
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	if f.status != 0 {
		http.Error(w, `{"error":"upstream"}`, f.status)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	for _, frame := range f.frames {
		_, _ = io.WriteString(w, frame)
		w.(http.Flusher).Flush()
	}
}

func (f *fakeCompletions) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return nil
	}
	return f.bodies[len(f.bodies)-1]
}

func contentFrame(s string) string {
	b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": s}}}})
	return "data: " + string(b) + "\n\n"
}

// splitFrames cuts text into small fragments, the way a model streams tokens.
func splitFrames(text string, size int) []string {
	var frames []string
	for len(text) > 0 {
		n := min(size, len(text))
		frames = append(frames, contentFrame(text[:n]))
		text = text[n:]
	}
	return frames
}

type testEnv struct {
	srv      *httptest.Server
	handler  http.Handler
	upstream *fakeCompletions
}

func newTestEnv(t *testing.T, history bool) *testEnv {
	t.Helper()
	upstream := &fakeCompletions{}
	api := httptest.NewServer(upstream)
	t.Cleanup(api.Close)

	cls, err := classifier.New(tahuModel{}, classifier.Labels)
	require.NoError(t, err)
	gen := deepseek.NewGenerator(api.URL, "sk-test", "", 1, nil, slog.Default())

	var opts []service.Option
	if history {
		d, err := db.OpenForTesting()
		require.NoError(t, err)
		t.Cleanup(func() { _ = d.Close() })
		photos, err := local.New(t.TempDir())
		require.NoError(t, err)
		opts = append(opts, service.WithHistory(store.NewPredictionStore(d), photos))
	}

	p := service.NewPipeline(imageprep.New(imageprep.EfficientNetOptions()), cls, gen, slog.Default(), opts...)
	handler := web.NewServer(p, templates.FS, slog.Default())
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, handler: handler, upstream: upstream}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 240, G: 230, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// buildMultipartBody creates a multipart/form-data body with "image" and
// optionally "count" fields.
func buildMultipartBody(t *testing.T, imageData []byte, count string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if imageData != nil {
		fw, err := w.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(imageData)
		require.NoError(t, err)
	}
	if count != "" {
		require.NoError(t, w.WriteField("count", count))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postPredict(t *testing.T, env *testEnv, imageData []byte, count string) *http.Response {
	t.Helper()
	body, ct := buildMultipartBody(t, imageData, count)
	resp, err := http.Post(env.srv.URL+"/predict", ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type sseEvent struct {
	Name string
	Data map[string]any
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.Data))
		case line == "" && cur.Name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Name)
	}
	return names
}

func TestIntegration_PredictStreamsRecipes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)
	env.upstream.frames = append(splitFrames(recipeOne+"\n"+recipeTwo, 7), "data: [DONE]\n\n")

	resp := postPredict(t, env, testPNG(t), "2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 3)

	first := events[0]
	assert.Equal(t, "prediction", first.Name)
	assert.Equal(t, "Tahu", first.Data["label"])
	assert.Equal(t, "Prediksi: Tahu (87.31%)", first.Data["headline"])

	var text strings.Builder
	for _, e := range events[1 : len(events)-1] {
		require.Equal(t, "recipe", e.Name)
		text.WriteString(e.Data["fragment"].(string))
	}
	assert.Equal(t, recipeOne+"\n"+recipeTwo, text.String())

	lastRecipe := events[len(events)-2].Data["html"].(string)
	assert.Contains(t, lastRecipe, "<h1>1. Tahu Bacem (Asal: Palembang)</h1>")
	assert.Contains(t, lastRecipe, "<h1>2. Tahu Isi (Asal: Lubuklinggau)</h1>")

	done := events[len(events)-1]
	assert.Equal(t, "done", done.Name)
	assert.Equal(t, false, done.Data["partial"])
	assert.Equal(t, float64(0), done.Data["id"])

	msgs := env.upstream.lastBody()["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.True(t, strings.HasPrefix(user, "Buatkan 2 resep masakan khas Sumatera Selatan yang berbahan dasar Tahu."))
}

func TestIntegration_PredictCountTenPassedThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)
	env.upstream.frames = []string{contentFrame("x"), "data: [DONE]\n\n"}

	resp := postPredict(t, env, testPNG(t), "10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _ = io.ReadAll(resp.Body)

	msgs := env.upstream.lastBody()["messages"].([]any)
	assert.Contains(t, msgs[1].(map[string]any)["content"], "Buatkan 10 resep")
}

func TestIntegration_PredictUpstreamFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)
	env.upstream.status = http.StatusInternalServerError

	resp := postPredict(t, env, testPNG(t), "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp.Body)
	assert.Equal(t, []string{"prediction", "failed", "done"}, eventNames(events))
	assert.Equal(t, recipe.FailureMessage, events[1].Data["message"])
}

func TestIntegration_PredictEmptyStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)
	env.upstream.frames = []string{": ping\n\n", "data: [DONE]\n\n"}

	resp := postPredict(t, env, testPNG(t), "1")
	events := readEvents(t, resp.Body)
	assert.Equal(t, []string{"prediction", "empty", "done"}, eventNames(events))
	assert.Equal(t, recipe.EmptyMessage, events[1].Data["message"])
}

func TestIntegration_PredictPartialStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)
	env.upstream.frames = []string{contentFrame("# 1. Pindang"), contentFrame(" Patin")}

	resp := postPredict(t, env, testPNG(t), "1")
	events := readEvents(t, resp.Body)
	assert.Equal(t, []string{"prediction", "recipe", "recipe", "done"}, eventNames(events))
	assert.Equal(t, true, events[3].Data["partial"])
}

func TestIntegration_PredictRejectsBadInput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)
	pngHeaderOnly := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}

	tests := []struct {
		name  string
		image []byte
		count string
	}{
		{"count zero", testPNG(t), "0"},
		{"count eleven", testPNG(t), "11"},
		{"count not a number", testPNG(t), "lima"},
		{"missing image", nil, "1"},
		{"not an image", []byte("%PDF-1.4 not a photo"), "1"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), "1"},
		{"corrupt png", pngHeaderOnly, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postPredict(t, env, tt.image, tt.count)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Nil(t, env.upstream.lastBody(), "no request may reach the completion API")
}

func TestIntegration_PredictRejectsOversizedImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)

	// Served in-process: over a socket the server may reset the connection
	// before the client finishes sending.
	big := append(testPNG(t), make([]byte, 21<<20)...)
	body, ct := buildMultipartBody(t, big, "1")
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, env.upstream.lastBody())
}

func TestIntegration_IndexPage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)

	resp, err := http.Get(env.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(body)
	assert.Contains(t, page, "Lakukan Prediksi")
	assert.Contains(t, page, `accept=".jpg,.jpeg,.png"`)
	assert.Contains(t, page, `min="1" max="10"`)
	assert.Contains(t, page, "Cara Penggunaan")
	assert.NotContains(t, page, `href="/history"`)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestIntegration_HistoryDisabled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, false)

	for _, path := range []string{"/history", "/history/1", "/history/1/photo"} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestIntegration_HistoryFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestEnv(t, true)
	env.upstream.frames = []string{contentFrame(recipeOne), "data: [DONE]\n\n"}
	img := testPNG(t)

	resp := postPredict(t, env, img, "1")
	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)
	done := events[len(events)-1]
	require.Equal(t, "done", done.Name)
	id := int64(done.Data["id"].(float64))
	require.NotZero(t, id)

	get := func(path string) (*http.Response, []byte) {
		t.Helper()
		r, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		return r, b
	}

	r, body := get("/history")
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Contains(t, string(body), "Tahu")
	assert.Contains(t, string(body), "Selesai")

	r, body = get(fmt.Sprintf("/history/%d", id))
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Contains(t, string(body), "Prediksi: Tahu (87.31%)")
	assert.Contains(t, string(body), "<h1>1. Tahu Bacem (Asal: Palembang)</h1>")

	r, body = get(fmt.Sprintf("/history/%d/photo", id))
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
	assert.Equal(t, img, body)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/history/%d", env.srv.URL, id), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
	assert.Equal(t, "/history", delResp.Header.Get("HX-Redirect"))

	r, _ = get(fmt.Sprintf("/history/%d", id))
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}
