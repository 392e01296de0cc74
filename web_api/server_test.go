package web_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"comfy_studio/app_config"
	"comfy_studio/databases/sqlite"
	"comfy_studio/entities"
	"comfy_studio/generation_orchestrator"
	"comfy_studio/history_store"
	"comfy_studio/repositories/default_settings"
	"comfy_studio/repositories/job_records"
	"comfy_studio/thumbnail_renderer"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type generateCall struct {
	params       entities.GenerationParameters
	templatePath string
	engineURL    string
}

type fakeOrchestrator struct {
	mu      sync.Mutex
	calls   []generateCall
	err     error
	started chan struct{}
	release chan struct{}
	// store, when set, receives the finished entry the way the real
	// orchestrator appends it.
	store history_store.Store
}

func (f *fakeOrchestrator) Generate(
	ctx context.Context,
	params entities.GenerationParameters,
	templatePath, engineURL string,
) (*generation_orchestrator.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, generateCall{params: params, templatePath: templatePath, engineURL: engineURL})
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}

	if f.err != nil {
		return nil, f.err
	}

	if ctx.Err() != nil {
		return nil, &generation_orchestrator.GenerationError{Kind: generation_orchestrator.KindConnectionError, Err: ctx.Err()}
	}

	entry := entities.HistoryEntry{Prompt: params.Prompt, Seed: params.Seed}

	if f.store != nil {
		saved, err := f.store.Append(entry, entities.ImageRef{Filename: params.Prompt + ".png"}, engineURL, nil)
		if err != nil {
			return nil, err
		}

		entry = saved
	}

	return &generation_orchestrator.Result{
		Status: generation_orchestrator.StatusSuccess,
		Entry:  entry,
	}, nil
}

type testServer struct {
	server       Server
	orchestrator *fakeOrchestrator
	store        history_store.Store
	jobs         job_records.Repository
	cfg          *app_config.Config
	configPath   string
	backupDir    string
}

func newTestServer(t *testing.T, wrap ...func(history_store.Store) history_store.Store) *testServer {
	t.Helper()

	dir := t.TempDir()

	cfg, err := app_config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	cfg.WorkflowFile = filepath.Join(dir, "workflow.json")

	backupDir := filepath.Join(dir, "backup")

	store, err := history_store.New(history_store.Config{
		HistoryFile:  filepath.Join(dir, "history.json"),
		ThumbnailDir: filepath.Join(dir, "thumbnails"),
		BackupDir:    backupDir,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	db, err := sqlite.New(context.Background(), filepath.Join(dir, "studio.sqlite"))
	if err != nil {
		t.Fatalf("db: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	jobs, err := job_records.NewRepository(&job_records.Config{DB: db})
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}

	defaults, err := default_settings.NewRepository(&default_settings.Config{DB: db})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}

	served := store
	for _, w := range wrap {
		served = w(served)
	}

	orchestrator := &fakeOrchestrator{}
	configPath := filepath.Join(dir, "config.json")

	server, err := New(Config{
		AppConfig:           cfg,
		ConfigPath:          configPath,
		Orchestrator:        orchestrator,
		HistoryStore:        served,
		JobRecordRepo:       jobs,
		DefaultSettingsRepo: defaults,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	return &testServer{
		server:       server,
		orchestrator: orchestrator,
		store:        store,
		jobs:         jobs,
		cfg:          cfg,
		configPath:   configPath,
		backupDir:    backupDir,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) (Response, T) {
	t.Helper()

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}

	var data T
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}

	return Response{Code: envelope.Code, Message: envelope.Message}, data
}

func (ts *testServer) seed(t *testing.T, prompts ...string) {
	t.Helper()

	for _, prompt := range prompts {
		ref := entities.ImageRef{Filename: prompt + ".png", Type: "output"}

		if _, err := ts.store.Append(entities.HistoryEntry{Prompt: prompt, Seed: 7}, ref, "http://127.0.0.1:8188", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func pngData(t *testing.T) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	return buf.Bytes()
}

func TestGenerateUsesConfiguredTemplateAndEngine(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat", "seed": 5, "steps": 20})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	resp, data := decode[generateResponse](t, rec)
	if resp.Message != generation_orchestrator.StatusSuccess || data.Entry.Prompt != "a cat" {
		t.Fatalf("unexpected response %+v %+v", resp, data)
	}

	call := ts.orchestrator.calls[0]

	if call.templatePath != ts.cfg.WorkflowFile || call.engineURL != ts.cfg.ComfyURL {
		t.Fatalf("unexpected call %+v", call)
	}

	if call.params.Width != 1152 || call.params.Height != 896 {
		t.Fatalf("default resolution not applied: %dx%d", call.params.Width, call.params.Height)
	}
}

func TestGenerateEngineOverride(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "x", "width": 512, "height": 768, "engine_url": "http://gpu-box:8188"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	call := ts.orchestrator.calls[0]
	if call.engineURL != "http://gpu-box:8188" || call.params.Width != 512 || call.params.Height != 768 {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestGenerateRejectsConcurrentRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.orchestrator.started = make(chan struct{})
	ts.orchestrator.release = make(chan struct{})

	done := make(chan int)

	go func() {
		done <- ts.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "first"}).Code
	}()

	<-ts.orchestrator.started

	second := ts.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "second"})
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}

	close(ts.orchestrator.release)

	if code := <-done; code != http.StatusOK {
		t.Fatalf("first generation failed with %d", code)
	}
}

func TestGenerateFailureStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.orchestrator.err = &generation_orchestrator.GenerationError{
		Kind: generation_orchestrator.KindConnectionError,
		Err:  errors.New("connection refused"),
	}

	rec := ts.do(t, http.MethodPost, "/api/generate", map[string]any{"prompt": "x"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	resp, _ := decode[any](t, rec)
	if resp.Message != "Error: connection refused" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestListHistoryFavorites(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a", "b", "c", "d")

	history := ts.store.Load()
	if _, err := ts.store.ToggleFavorite(history, 2); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/api/history?favorites=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	resp, view := decode[history_store.View](t, rec)
	if resp.Message != "Page 1 / 1 (Total: 1) (Favorites)" {
		t.Fatalf("unexpected label %q", resp.Message)
	}

	if len(view.Items) != 1 || view.Items[0].Index != 2 || view.Items[0].Entry.Prompt != "b" {
		t.Fatalf("unexpected view %+v", view)
	}

	rec = ts.do(t, http.MethodGet, "/api/history?size=3&page=1", nil)

	_, view = decode[history_store.View](t, rec)
	if view.Label != "Page 2 / 2 (Total: 4)" || len(view.Items) != 1 || view.Items[0].Entry.Prompt != "a" {
		t.Fatalf("unexpected paged view %+v", view)
	}
}

func TestToggleFavoriteAndDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a", "b", "c")

	rec := ts.do(t, http.MethodPost, "/api/history/1/favorite", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	if !ts.store.Load()[1].Favorite {
		t.Fatalf("favorite not persisted")
	}

	rec = ts.do(t, http.MethodDelete, "/api/history/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	history := ts.store.Load()
	if len(history) != 2 || history[0].Prompt != "b" || history[1].Prompt != "a" {
		t.Fatalf("unexpected history %+v", history)
	}

	if rec = ts.do(t, http.MethodDelete, "/api/history/9", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	if rec = ts.do(t, http.MethodDelete, "/api/history/x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRestoreEntry(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a cat")

	rec := ts.do(t, http.MethodGet, "/api/history/0/restore", nil)

	_, params := decode[entities.GenerationParameters](t, rec)
	if params.Prompt != "a cat" || params.Seed != 7 || params.RandomizeSeed {
		t.Fatalf("unexpected parameters %+v", params)
	}
}

func TestEntryImage(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "remote", "local")

	if err := os.MkdirAll(ts.backupDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	imageData := pngData(t)
	if err := os.WriteFile(filepath.Join(ts.backupDir, "local.png"), imageData, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/api/history/0/image", nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), imageData) {
		t.Fatalf("local image not served: %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/history/1/image", nil)
	if rec.Code != http.StatusFound || !strings.Contains(rec.Header().Get("Location"), "filename=remote.png") {
		t.Fatalf("remote image not redirected: %d %s", rec.Code, rec.Header().Get("Location"))
	}

	rec = ts.do(t, http.MethodGet, "/api/history/0/thumbnail", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("thumbnail not served: %d", rec.Code)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(ts.backupDir), "thumbnails", "local.png"+thumbnail_renderer.Extension)); err != nil {
		t.Fatalf("thumbnail not cached: %v", err)
	}

	rec = ts.do(t, http.MethodGet, "/api/history/0", nil)

	_, entry := decode[entryResponse](t, rec)
	if entry.Resolution != "local" || entry.ImagePath != filepath.Join(ts.backupDir, "local.png") {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestBackupAndClear(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodPost, "/api/history/backup", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a log, got %d", rec.Code)
	}

	ts.seed(t, "a")

	rec := ts.do(t, http.MethodPost, "/api/history/clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	_, data := decode[map[string]string](t, rec)
	if _, err := os.Stat(data["backup"]); err != nil {
		t.Fatalf("backup missing: %v", err)
	}

	if history := ts.store.Load(); len(history) != 0 {
		t.Fatalf("history not cleared")
	}
}

func TestDefaultsRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/api/defaults/portrait", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodPut, "/api/defaults/portrait", entities.DefaultSettings{Width: 896, Height: 1152, Steps: 28, CfgScale: 4, SamplerName: "euler"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/defaults/portrait", nil)

	_, setting := decode[entities.DefaultSettings](t, rec)
	if setting.Profile != "portrait" || setting.Width != 896 || setting.SamplerName != "euler" {
		t.Fatalf("unexpected setting %+v", setting)
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)

	if _, err := ts.jobs.Create(context.Background(), &entities.JobRecord{JobID: "job-9"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/api/jobs?limit=5", nil)

	_, records := decode[[]entities.JobRecord](t, rec)
	if len(records) != 1 || records[0].JobID != "job-9" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestConfigUpdate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/config", map[string]any{
		"comfy_url": "http://gpu-box:8188",
		"tag_lists": map[string]string{"quality": "masterpiece, +best quality"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	saved, err := app_config.Load(ts.configPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if saved.ComfyURL != "http://gpu-box:8188" || len(saved.DefaultQualityTags) != 1 || saved.DefaultQualityTags[0] != "best quality" {
		t.Fatalf("config not saved %+v", saved)
	}

	if saved.ServerPort != 7867 {
		t.Fatalf("untouched keys must be kept, got port %d", saved.ServerPort)
	}

	if ts.cfg.ComfyURL == "http://gpu-box:8188" {
		t.Fatalf("the previous config value must not be mutated")
	}

	rec = ts.do(t, http.MethodGet, "/api/config", nil)

	_, payload := decode[configPayload](t, rec)
	if payload.ComfyURL != "http://gpu-box:8188" || payload.TagLists["quality"] != "masterpiece, +best quality" {
		t.Fatalf("unexpected payload %+v", payload.TagLists)
	}

	rec = ts.do(t, http.MethodPut, "/api/config", map[string]any{"tag_lists": map[string]string{"colors": "red"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", rec.Code)
	}
}

func TestEngineStatus(t *testing.T) {
	ts := newTestServer(t)

	engine := httptest.NewServer(http.NotFoundHandler())
	defer engine.Close()

	rec := ts.do(t, http.MethodGet, "/api/engine/status?url="+engine.URL, nil)

	_, status := decode[map[string]any](t, rec)
	if status["online"] != true {
		t.Fatalf("expected engine online, got %+v", status)
	}

}

// generationDuringDelete lets a generation finish after the delete handler has
// loaded the history but before the delete is written.
type generationDuringDelete struct {
	history_store.Store
	finish func()
}

func (g *generationDuringDelete) DeleteEntry(history []entities.HistoryEntry, index int) ([]entities.HistoryEntry, error) {
	g.finish()

	return g.Store.DeleteEntry(history, index)
}

func TestDeleteKeepsGenerationFinishedMeanwhile(t *testing.T) {
	ts := newTestServer(t, func(inner history_store.Store) history_store.Store {
		return &generationDuringDelete{Store: inner, finish: func() {
			if _, err := inner.Append(entities.HistoryEntry{Prompt: "new"}, entities.ImageRef{Filename: "new.png"}, "http://127.0.0.1:8188", nil); err != nil {
				t.Errorf("append: %v", err)
			}
		}}
	})
	ts.seed(t, "a", "b")

	rec := ts.do(t, http.MethodDelete, "/api/history/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	history := ts.store.Load()
	if len(history) != 2 || history[0].Prompt != "new" || history[1].Prompt != "a" {
		t.Fatalf("expected [new a], got %+v", history)
	}
}

func TestGenerateOutlivesCancelledRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.orchestrator.store = ts.store
	ts.orchestrator.started = make(chan struct{})
	ts.orchestrator.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())

	body, _ := json.Marshal(map[string]any{"prompt": "late"})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	done := make(chan struct{})

	go func() {
		defer close(done)

		ts.server.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}()

	<-ts.orchestrator.started
	cancel()
	close(ts.orchestrator.release)
	<-done

	history := ts.store.Load()
	if len(history) != 1 || history[0].Prompt != "late" {
		t.Fatalf("finished generation missing from history: %+v", history)
	}
}
