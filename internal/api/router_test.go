package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/pipeline"
	"github.com/LJTian/NewsHub/internal/processor"
	"github.com/LJTian/NewsHub/internal/scheduler"
	"github.com/LJTian/NewsHub/internal/storage"
)

type fakeTrigger struct {
	busy    bool
	last    *pipeline.Report
	syncRun int
}

func (f *fakeTrigger) RunOnce(context.Context) (pipeline.Report, error) {
	if f.busy {
		return pipeline.Report{}, scheduler.ErrRunInProgress
	}
	f.syncRun++
	rep := pipeline.Report{RunID: "run-sync", Fetched: 2, Stored: 2}
	f.last = &rep
	return rep, nil
}

func (f *fakeTrigger) RunAsync() (string, error) {
	if f.busy {
		return "", scheduler.ErrRunInProgress
	}
	return "run-async", nil
}

func (f *fakeTrigger) Last(context.Context) (pipeline.Report, bool) {
	if f.last == nil {
		return pipeline.Report{}, false
	}
	return *f.last, true
}

type brokenStore struct{}

func (brokenStore) ListNews(context.Context, storage.ListQuery) ([]storage.News, error) {
	return nil, errors.New("db down")
}

func (brokenStore) Stats(context.Context) (storage.Stats, error) {
	return storage.Stats{}, errors.New("db down")
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newEngine(store NewsReader, trigger Trigger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok_metric 1\n")) })
	NewServer(store, trigger, metrics, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var env envelope
	if rec.Header().Get("Content-Type") != "" && rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	m := storage.NewMemoryStore()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i, title := range []string{"Fed Raises Rates", "Chip rally", "Oil slides"} {
		it := processor.NewsItem{
			UniqueID:       processor.UniqueID(title, "Reuters"),
			Title:          title,
			Source:         "Reuters",
			APISource:      collector.APIRSS,
			Category:       "business",
			CanonicalURL:   "https://reuters.com/" + processor.UniqueID(title, "Reuters"),
			PublishedAt:    base.Add(time.Duration(i) * time.Hour),
			SentimentLabel: processor.SentimentNeutral,
			AIProcessed:    i == 0,
		}
		if _, err := m.Upsert(context.Background(), it); err != nil {
			t.Fatalf("seed upsert: %v", err)
		}
	}
	return m
}

func TestHealthAndMetrics(t *testing.T) {
	r := newEngine(storage.NewMemoryStore(), &fakeTrigger{})
	if rec, _ := do(t, r, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	rec, _ := do(t, r, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok_metric 1\n" {
		t.Fatalf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestFetchSyncAndAsync(t *testing.T) {
	trig := &fakeTrigger{}
	r := newEngine(storage.NewMemoryStore(), trig)

	if rec, env := do(t, r, http.MethodGet, "/api/v1/fetch/last"); rec.Code != http.StatusNotFound || env.Code != "not_found" {
		t.Fatalf("last before any run = %d %+v", rec.Code, env)
	}

	rec, env := do(t, r, http.MethodPost, "/api/v1/fetch")
	if rec.Code != http.StatusOK || env.Code != "ok" {
		t.Fatalf("sync fetch = %d %+v", rec.Code, env)
	}
	var rep pipeline.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil || rep.RunID != "run-sync" || rep.Stored != 2 {
		t.Fatalf("unexpected report %+v (%v)", rep, err)
	}

	rec, env = do(t, r, http.MethodPost, "/api/v1/fetch?async=true")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async fetch status = %d", rec.Code)
	}
	var accepted struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(env.Data, &accepted); err != nil || accepted.RunID != "run-async" {
		t.Fatalf("async body = %s", rec.Body.String())
	}

	if rec, _ := do(t, r, http.MethodGet, "/api/v1/fetch/last"); rec.Code != http.StatusOK {
		t.Fatalf("last after run = %d", rec.Code)
	}
}

func TestFetchConflictWhenBusy(t *testing.T) {
	r := newEngine(storage.NewMemoryStore(), &fakeTrigger{busy: true})
	for _, path := range []string{"/api/v1/fetch", "/api/v1/fetch?async=true"} {
		rec, env := do(t, r, http.MethodPost, path)
		if rec.Code != http.StatusConflict || env.Code != "run_in_progress" {
			t.Fatalf("%s = %d %+v", path, rec.Code, env)
		}
	}
}

func TestListNewsAndStats(t *testing.T) {
	r := newEngine(seededStore(t), &fakeTrigger{})

	rec, env := do(t, r, http.MethodGet, "/api/v1/news?limit=2&category=business")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []storage.News
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 || list[0].Title != "Oil slides" {
		t.Fatalf("expected newest two items, got %+v", list)
	}

	_, env = do(t, r, http.MethodGet, "/api/v1/news?category=sports&limit=abc")
	if string(env.Data) != "[]" {
		t.Fatalf("empty list should serialize as [], got %s", env.Data)
	}

	rec, env = do(t, r, http.MethodGet, "/api/v1/news/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var st struct {
		Total       int64            `json:"total"`
		Ratio       float64          `json:"aiProcessedRatio"`
		ByAPISource map[string]int64 `json:"byApiSource"`
	}
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Total != 3 || st.ByAPISource["rss"] != 3 || st.Ratio < 0.33 || st.Ratio > 0.34 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestStoreErrorsReturn500(t *testing.T) {
	r := newEngine(brokenStore{}, &fakeTrigger{})
	for _, path := range []string{"/api/v1/news", "/api/v1/news/stats"} {
		rec, env := do(t, r, http.MethodGet, path)
		if rec.Code != http.StatusInternalServerError || env.Code != "internal_error" {
			t.Fatalf("%s = %d %+v", path, rec.Code, env)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BasicAuth("user", "pass"))
	NewServer(storage.NewMemoryStore(), &fakeTrigger{}, nil, nil).RegisterRoutes(r)

	if rec, _ := do(t, r, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("/health must bypass auth, got %d", rec.Code)
	}
	rec, _ := do(t, r, http.MethodGet, "/api/v1/news")
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing credentials should be rejected, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/news", nil)
	req.SetBasicAuth("user", "pass")
	ok := httptest.NewRecorder()
	r.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("valid credentials should pass, got %d", ok.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/news", nil)
	req.SetBasicAuth("user", "wrong")
	bad := httptest.NewRecorder()
	r.ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password should be rejected, got %d", bad.Code)
	}
}
