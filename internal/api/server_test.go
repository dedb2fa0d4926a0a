package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"creative-matrix/internal/config"
	"creative-matrix/internal/export"
	"creative-matrix/internal/generate"
	"creative-matrix/internal/matrix"
	"creative-matrix/internal/models"
	"creative-matrix/internal/platformspec"
	"creative-matrix/internal/render"
)

type fakeQueue struct {
	mu   sync.Mutex
	reqs []render.Request
}

func (f *fakeQueue) Enqueue(_ context.Context, req render.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeFetcher struct {
	body []byte
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	return f.body, "image/png", nil
}

type fakeDistributor struct {
	published int
}

func (f *fakeDistributor) Publish(_ context.Context, _ string, _, _ string, _ []string) (bool, error) {
	f.published++
	return true, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 60, B: 40, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type env struct {
	srv       *httptest.Server
	col       *matrix.Collection
	queue     *fakeQueue
	exportDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	col := matrix.NewCollection()
	q := &fakeQueue{}
	coord := generate.New(col, q, nil, "http://api.internal", false)

	dir := t.TempDir()
	pipeline := export.NewPipeline(
		platformspec.New(),
		&fakeFetcher{body: pngBytes(t, 64, 64)},
		&fakeDistributor{},
		&export.LocalUploader{BaseDir: dir},
	)

	s := New(config.Config{}, col, coord, pipeline, platformspec.New(), nil, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &env{srv: srv, col: col, queue: q, exportDir: dir}
}

func (e *env) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var parsed map[string]any
	dec := json.NewDecoder(resp.Body)
	_ = dec.Decode(&parsed)
	return resp, parsed
}

func (e *env) create(t *testing.T, vars ...string) string {
	t.Helper()
	assignments := make([]map[string]any, 0, len(vars))
	for i, v := range vars {
		assignments = append(assignments, map[string]any{
			"variable": v,
			"asset":    map[string]any{"id": fmt.Sprintf("asset-%d", i), "type": "image", "url": "http://assets/a.png"},
		})
	}
	resp, body := e.do(t, http.MethodPost, "/combinations", map[string]any{"assignments": assignments})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create: no id in response %v", body)
	}
	return id
}

func TestCreateRejectsInvalidAssignments(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/combinations", map[string]any{"assignments": []any{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty assignments: want 400, got %d", resp.StatusCode)
	}

	dup := map[string]any{"assignments": []map[string]any{
		{"variable": "hero", "asset": map[string]any{"id": "a", "type": "image"}},
		{"variable": "hero", "asset": map[string]any{"id": "b", "type": "image"}},
	}}
	resp, _ = e.do(t, http.MethodPost, "/combinations", dup)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate variable: want 400, got %d", resp.StatusCode)
	}
}

func TestGenerateLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero", "headline")

	resp, _ := e.do(t, http.MethodPost, "/combinations/"+id+"/generate", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate: want 202, got %d", resp.StatusCode)
	}
	if e.queue.count() != 1 {
		t.Fatalf("expected 1 queued render, got %d", e.queue.count())
	}

	// A second generate while in flight is a conflict.
	resp, _ = e.do(t, http.MethodPost, "/combinations/"+id+"/generate", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("concurrent generate: want 409, got %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/callbacks/render/"+id+"/progress", map[string]any{"progress": 40})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("progress callback: want 204, got %d", resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodGet, "/combinations/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: want 200, got %d", resp.StatusCode)
	}
	if body["status"] != models.StatusGenerating || body["progress"].(float64) != 40 {
		t.Fatalf("mid-render state wrong: %v", body)
	}

	resp, _ = e.do(t, http.MethodPost, "/callbacks/render/"+id+"/complete", map[string]any{"preview_url": "http://cdn/p.png"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("complete callback: want 204, got %d", resp.StatusCode)
	}

	_, body = e.do(t, http.MethodGet, "/combinations/"+id, nil)
	if body["status"] != models.StatusCompleted {
		t.Fatalf("want completed, got %v", body["status"])
	}
	if body["preview_url"] != "http://cdn/p.png" {
		t.Fatalf("preview url missing: %v", body)
	}
	if body["progress"].(float64) != 40 {
		t.Fatalf("completion must not rewrite progress: %v", body["progress"])
	}
}

func TestListSortModes(t *testing.T) {
	e := newEnv(t)
	first := e.create(t, "hero")
	second := e.create(t, "hero")

	resp, _ := e.do(t, http.MethodPost, "/combinations/"+first+"/score", map[string]any{"score": 0.9})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score: want 200, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/combinations/"+first+"/score", map[string]any{"score": 1.5})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range score: want 400, got %d", resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodGet, "/combinations?sort=score", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: want 200, got %d", resp.StatusCode)
	}
	list := body["combinations"].([]any)
	if got := list[0].(map[string]any)["id"]; got != first {
		t.Fatalf("score sort: want %s first, got %v", first, got)
	}

	// Date sort puts the newest combination first.
	_, body = e.do(t, http.MethodGet, "/combinations?sort=date", nil)
	list = body["combinations"].([]any)
	if got := list[0].(map[string]any)["id"]; got != second {
		t.Fatalf("date sort: want %s first, got %v", second, got)
	}

	resp, _ = e.do(t, http.MethodGet, "/combinations?sort=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad sort mode: want 400, got %d", resp.StatusCode)
	}
}

func TestFavouriteToggle(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero")

	_, body := e.do(t, http.MethodPost, "/combinations/"+id+"/favourite", nil)
	if body["favourite"] != true {
		t.Fatalf("first toggle: want true, got %v", body)
	}
	_, body = e.do(t, http.MethodPost, "/combinations/"+id+"/favourite", nil)
	if body["favourite"] != false {
		t.Fatalf("second toggle: want false, got %v", body)
	}
}

func (e *env) complete(t *testing.T, id string) {
	t.Helper()
	if resp, _ := e.do(t, http.MethodPost, "/combinations/"+id+"/generate", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate %s failed", id)
	}
	if resp, _ := e.do(t, http.MethodPost, "/callbacks/render/"+id+"/complete", map[string]any{"preview_url": "http://cdn/" + id + ".png"}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("complete %s failed", id)
	}
}

func TestExportDownloadSingle(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero")
	e.complete(t, id)

	resp, body := e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{id}, "target": "download"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: want 200, got %d", resp.StatusCode)
	}
	outcomes := body["outcomes"].([]any)
	out := outcomes[0].(map[string]any)
	if out["status"] != "exported" {
		t.Fatalf("want exported, got %v", out)
	}
	location, _ := out["location"].(string)
	if _, err := os.Stat(location); err != nil {
		t.Fatalf("export artifact missing at %s: %v", location, err)
	}
	if !strings.HasSuffix(location, "matrix_"+id[:8]+".jpg") {
		t.Fatalf("unexpected export name: %s", location)
	}
}

func TestExportRequiresCompletion(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero")

	resp, body := e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{id}, "target": "download"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pending export: want 409, got %d", resp.StatusCode)
	}
	out := body["outcomes"].([]any)[0].(map[string]any)
	if out["status"] != "skipped" {
		t.Fatalf("want skipped outcome, got %v", out)
	}
}

func TestExportBatchReportsMissingIDs(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero")
	e.complete(t, id)

	resp, body := e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{id, "no-such-id"}, "target": "download"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch export: want 200, got %d", resp.StatusCode)
	}
	outcomes := body["outcomes"].([]any)
	if len(outcomes) != 2 {
		t.Fatalf("want 2 outcomes, got %d", len(outcomes))
	}
	byID := map[string]map[string]any{}
	for _, o := range outcomes {
		m := o.(map[string]any)
		byID[m["combination_id"].(string)] = m
	}
	if byID[id]["status"] != "exported" {
		t.Fatalf("present id: %v", byID[id])
	}
	if byID["no-such-id"]["status"] != "skipped" || byID["no-such-id"]["reason"] != "not found" {
		t.Fatalf("missing id: %v", byID["no-such-id"])
	}
}

func TestExportPublishTarget(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero")
	e.complete(t, id)

	resp, body := e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{id}, "target": "instagram-feed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: want 200, got %d", resp.StatusCode)
	}
	out := body["outcomes"].([]any)[0].(map[string]any)
	if out["status"] != "published" {
		t.Fatalf("want published, got %v", out)
	}

	resp, _ = e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{id}, "target": "myspace-feed"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown platform: want 400, got %d", resp.StatusCode)
	}
}

func TestExportRejectsBadRequests(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{}, "target": "download"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty ids: want 400, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/exports", map[string]any{"ids": []string{"x"}, "target": "instagram"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("target without placement: want 400, got %d", resp.StatusCode)
	}
}

func TestPlatformSpecLookup(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/platform-specs/instagram/stories", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup: want 200, got %d", resp.StatusCode)
	}
	ratios := body["aspect_ratios"].([]any)
	if len(ratios) != 1 || ratios[0] != "9:16" {
		t.Fatalf("stories ratios: %v", ratios)
	}

	resp, _ = e.do(t, http.MethodGet, "/platform-specs/instagram/banner", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown placement: want 400, got %d", resp.StatusCode)
	}
}

func TestTimeoutEndpoint(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, "hero")
	if resp, _ := e.do(t, http.MethodPost, "/combinations/"+id+"/generate", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate failed")
	}

	resp, _ := e.do(t, http.MethodPost, "/combinations/"+id+"/timeout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timeout: want 200, got %d", resp.StatusCode)
	}
	_, body := e.do(t, http.MethodGet, "/combinations/"+id, nil)
	if body["status"] != models.StatusFailed || body["fail_reason"] != "render timed out" {
		t.Fatalf("timeout state: %v", body)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
}
