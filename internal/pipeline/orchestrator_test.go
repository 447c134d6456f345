package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LJTian/NewsHub/internal/collector"
	"github.com/LJTian/NewsHub/internal/config"
	"github.com/LJTian/NewsHub/internal/enricher"
	"github.com/LJTian/NewsHub/internal/processor"
	"github.com/LJTian/NewsHub/internal/storage"
)

var t0 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type rawStub struct {
	f collector.RawFields
}

func (r rawStub) APISource() collector.APISource { return collector.APIRSS }
func (r rawStub) Fields() collector.RawFields    { return r.f }

func raw(title, source, url string, published time.Time) collector.RawItem {
	return rawStub{f: collector.RawFields{
		Title:     title,
		Summary:   title + " summary",
		URL:       url,
		Source:    source,
		Category:  "business",
		Published: collector.Published{Raw: published.Format(time.RFC3339), Family: collector.DateText},
	}}
}

type fakeAdapter struct {
	name  string
	items []collector.RawItem
	err   error
	block bool
	panic bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchBatch(ctx context.Context) ([]collector.RawItem, *collector.SourceError) {
	if f.panic {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		// 故意忽略 ctx，仍然返回数据，编排器必须丢弃
		return []collector.RawItem{raw("Late story", f.name, "https://late.com/1", t0)}, nil
	}
	if f.err != nil {
		return nil, &collector.SourceError{Source: f.name, Err: f.err}
	}
	return f.items, nil
}

type fakeClassifier struct {
	reply string
	err   error
	calls int32
}

func (f *fakeClassifier) Classify(context.Context, string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.reply, f.err
}

// flakyStore 包装内存存储，用于注入各阶段失败
type flakyStore struct {
	*storage.MemoryStore
	lookupErr    error
	upsertErr    error
	emergencyErr error
}

func (s *flakyStore) ExistingCanonicalURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.MemoryStore.ExistingCanonicalURLs(ctx, urls)
}

func (s *flakyStore) Upsert(ctx context.Context, it processor.NewsItem) (storage.UpsertResult, error) {
	if s.upsertErr != nil {
		return storage.Stored, s.upsertErr
	}
	return s.MemoryStore.Upsert(ctx, it)
}

func (s *flakyStore) EmergencyInsert(ctx context.Context, it processor.NewsItem) error {
	if s.emergencyErr != nil {
		return s.emergencyErr
	}
	return s.MemoryStore.EmergencyInsert(ctx, it)
}

func newOrchestrator(adapters []collector.Adapter, cls enricher.Classifier, store Store, opts Options) *Orchestrator {
	enr := enricher.New(cls, time.Second, quietLogger())
	o := New(adapters, enr, store, nil, opts, quietLogger())
	o.now = func() time.Time { return t0.Add(3 * time.Hour) }
	return o
}

const positiveReply = `{"sentiment":"positive","confidence":0.9,"reasoning":"rate hike priced in"}`

func TestRunFedRaisesRatesStoresOne(t *testing.T) {
	store := storage.NewMemoryStore()
	adapters := []collector.Adapter{
		&fakeAdapter{name: "a", items: []collector.RawItem{raw("Fed Raises Rates", "X", "https://x.com/u1", t0)}},
		&fakeAdapter{name: "b", items: []collector.RawItem{raw("fed raises rates", "Y", "https://y.com/u2", t0.Add(time.Hour))}},
		&fakeAdapter{name: "c", items: []collector.RawItem{raw("Fed Raises Rates", "X", "https://x.com/u1?utm_source=tw", t0.Add(2*time.Hour))}},
	}
	o := newOrchestrator(adapters, &fakeClassifier{reply: positiveReply}, store, Options{})

	rep := o.Run(context.Background())
	if rep.Fetched != 3 || rep.Stored != 1 {
		t.Fatalf("expected 3 fetched / 1 stored, got %+v", rep)
	}
	if rep.DedupDropped.Exact != 1 || rep.DedupDropped.Fuzzy != 1 {
		t.Fatalf("expected one exact and one fuzzy drop, got %+v", rep.DedupDropped)
	}
	if rep.Enriched != 1 || !rep.Balanced() || rep.RunID == "" {
		t.Fatalf("unexpected report %+v", rep)
	}
	got, ok := store.Get(processor.UniqueID("Fed Raises Rates", "X"))
	if !ok || got.SentimentLabel != "positive" || !got.AIProcessed {
		t.Fatalf("stored item should carry enrichment: %+v", got)
	}

	// 第二轮相同输入：全部按已存在丢弃
	rep = o.Run(context.Background())
	if rep.Stored != 0 || rep.DedupDropped.Exact != 2 || rep.DedupDropped.Fuzzy != 1 {
		t.Fatalf("rerun should store nothing new, got %+v", rep)
	}
}

func TestRunIsolatesFailingAdapter(t *testing.T) {
	store := storage.NewMemoryStore()
	adapters := []collector.Adapter{
		&fakeAdapter{name: "broken", err: errors.New("dns failure")},
		&fakeAdapter{name: "panics", panic: true},
		&fakeAdapter{name: "ok", items: []collector.RawItem{
			raw("Chip maker beats estimates", "Reuters", "https://r.com/1", t0),
			raw("Oil slides on demand fears", "Reuters", "https://r.com/2", t0),
		}},
	}
	o := newOrchestrator(adapters, &fakeClassifier{reply: positiveReply}, store, Options{})

	rep := o.Run(context.Background())
	if rep.Stored != 2 {
		t.Fatalf("healthy source should still be stored, got %+v", rep)
	}
	if len(rep.Sources) != 3 {
		t.Fatalf("expected 3 source reports, got %d", len(rep.Sources))
	}
	for i, want := range []string{"broken", "panics", "ok"} {
		if rep.Sources[i].Source != want {
			t.Fatalf("source reports must follow registration order: %+v", rep.Sources)
		}
	}
	if rep.Sources[0].Fetched != 0 || rep.Sources[0].Error == "" || rep.Sources[1].Error == "" {
		t.Fatalf("failed sources should report zero items and an error: %+v", rep.Sources)
	}
	if rep.Sources[2].Error != "" || rep.Sources[2].Fetched != 2 {
		t.Fatalf("healthy source report wrong: %+v", rep.Sources[2])
	}
	if failed := rep.FailedSources(); len(failed) != 2 {
		t.Fatalf("FailedSources = %v", failed)
	}
}

func TestRunSourceTimeoutContributesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	adapters := []collector.Adapter{
		&fakeAdapter{name: "slow", block: true},
		&fakeAdapter{name: "fast", items: []collector.RawItem{raw("Quick story", "AP", "https://ap.com/1", t0)}},
	}
	o := newOrchestrator(adapters, nil, store, Options{SourceTimeout: 20 * time.Millisecond})

	rep := o.Run(context.Background())
	slow := rep.Sources[0]
	if !slow.TimedOut || slow.Fetched != 0 || slow.Error == "" {
		t.Fatalf("timed out source should be marked and empty: %+v", slow)
	}
	if rep.Fetched != 1 || rep.Stored != 1 {
		t.Fatalf("fast source should be unaffected: %+v", rep)
	}
}

func TestRunEnrichmentFailureStillStores(t *testing.T) {
	store := storage.NewMemoryStore()
	adapters := []collector.Adapter{
		&fakeAdapter{name: "a", items: []collector.RawItem{raw("Markets wobble", "AP", "https://ap.com/2", t0)}},
	}
	cls := &fakeClassifier{err: errors.New("connection refused")}
	o := newOrchestrator(adapters, cls, store, Options{})

	rep := o.Run(context.Background())
	if rep.Stored != 1 || rep.EnrichFailed != 1 || rep.Enriched != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	got, _ := store.Get(processor.UniqueID("Markets wobble", "AP"))
	if got.AIProcessed || got.SentimentLabel != "neutral" || got.SentimentScore != 0 {
		t.Fatalf("failed enrichment should leave neutral defaults: %+v", got)
	}
}

func TestRunEmergencyPathAndLost(t *testing.T) {
	adapters := []collector.Adapter{
		&fakeAdapter{name: "a", items: []collector.RawItem{raw("Bank earnings", "FT", "https://ft.com/1", t0)}},
	}

	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), upsertErr: errors.New("constraint violation")}
	rep := newOrchestrator(adapters, nil, store, Options{}).Run(context.Background())
	if rep.StoredEmergency != 1 || rep.Lost != 0 || rep.Stored != 0 {
		t.Fatalf("failed upsert should go through emergency path, got %+v", rep)
	}
	if len(store.Emergency()) != 1 {
		t.Fatalf("emergency table should hold the item")
	}

	store = &flakyStore{
		MemoryStore:  storage.NewMemoryStore(),
		upsertErr:    errors.New("constraint violation"),
		emergencyErr: errors.New("disk full"),
	}
	rep = newOrchestrator(adapters, nil, store, Options{}).Run(context.Background())
	if rep.Lost != 1 || rep.StoredEmergency != 0 || !rep.Balanced() {
		t.Fatalf("double failure should count as lost, got %+v", rep)
	}
}

func TestRunDegradedDedup(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), lookupErr: errors.New("timeout")}
	adapters := []collector.Adapter{
		&fakeAdapter{name: "a", items: []collector.RawItem{
			raw("Same story", "AP", "https://ap.com/3", t0),
			raw("Same story", "AP", "https://ap.com/3", t0),
		}},
	}
	rep := newOrchestrator(adapters, nil, store, Options{}).Run(context.Background())
	if !rep.Degraded || !strings.Contains(rep.DegradedReason, "timeout") {
		t.Fatalf("lookup failure should mark the run degraded: %+v", rep)
	}
	if rep.Stored != 1 || rep.DedupDropped.Exact != 1 {
		t.Fatalf("batch-only dedup should still apply: %+v", rep)
	}
}

func TestRunCountsMalformed(t *testing.T) {
	store := storage.NewMemoryStore()
	adapters := []collector.Adapter{
		&fakeAdapter{name: "a", items: []collector.RawItem{
			raw("   ", "AP", "https://ap.com/empty", t0),
			raw("Real title", "AP", "https://ap.com/4", t0),
		}},
	}
	rep := newOrchestrator(adapters, nil, store, Options{}).Run(context.Background())
	if rep.Malformed != 1 || rep.Stored != 1 || !rep.Balanced() {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestMetricsObserveReport(t *testing.T) {
	m := NewMetrics()
	store := storage.NewMemoryStore()
	adapters := []collector.Adapter{
		&fakeAdapter{name: "ok", items: []collector.RawItem{raw("Metric story", "AP", "https://ap.com/5", t0)}},
		&fakeAdapter{name: "broken", err: errors.New("503")},
	}
	o := New(adapters, nil, store, m, Options{}, quietLogger())
	o.Run(context.Background())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"newshub_pipeline_runs_total 1",
		`newshub_pipeline_fetched_items_total{source="ok"} 1`,
		`newshub_pipeline_source_errors_total{source="broken"} 1`,
		`newshub_pipeline_items_total{outcome="stored"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.Observe(Report{})
}

func TestBuildAdaptersHonorsEnabledList(t *testing.T) {
	client := collector.NewClient(collector.DefaultRetryPolicy())
	all := BuildAdapters(config.Sources{}, client, quietLogger())
	if len(all) != 8 || all[0].Name() != "alpha_vantage" || all[7].Name() != "finviz" {
		t.Fatalf("unexpected default adapters: %d", len(all))
	}
	some := BuildAdapters(config.Sources{Enabled: []string{"rss", "reddit"}}, client, quietLogger())
	if len(some) != 2 || some[0].Name() != "rss" || some[1].Name() != "reddit" {
		t.Fatalf("enabled filter failed")
	}
}

func TestAnalyzeDuplicates(t *testing.T) {
	mk := func(title, source, url string, at time.Time) processor.NewsItem {
		return processor.NewsItem{
			UniqueID:        processor.UniqueID(title, source),
			Title:           title,
			Source:          source,
			CanonicalURL:    url,
			NormalizedTitle: processor.TitleKey(title, source),
			PublishedAt:     at,
		}
	}
	// 输入按发布时间倒序，与 ListNews 一致
	items := []processor.NewsItem{
		mk("Fed raises rates", "Y", "https://y.com/u2", t0.Add(time.Hour)),
		mk("Fed Raises Rates", "X", "https://x.com/u1", t0),
		mk("Unrelated", "Z", "https://z.com/1", t0),
	}
	a, err := AnalyzeDuplicates(context.Background(), items, processor.DefaultDedupWindow, 10)
	if err != nil {
		t.Fatalf("AnalyzeDuplicates error: %v", err)
	}
	if a.Scanned != 3 || a.FuzzyDuplicates != 1 || a.ExactDuplicates != 0 {
		t.Fatalf("unexpected analysis %+v", a)
	}
	if len(a.Groups) != 1 || a.Groups[0].Kept != "Fed Raises Rates" || a.Groups[0].Dropped[0] != "Fed raises rates" {
		t.Fatalf("oldest item should be kept: %+v", a.Groups)
	}
}
