package processor

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type fakeQuery struct {
	urls   map[string]bool
	stamps []TitleStamp
	err    error

	gotFrom, gotTo time.Time
}

func (f *fakeQuery) ExistingCanonicalURLs(_ context.Context, urls []string) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]bool{}
	for _, u := range urls {
		if f.urls[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (f *fakeQuery) TitleStamps(_ context.Context, keys []string, from, to time.Time) ([]TitleStamp, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotFrom, f.gotTo = from, to
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	var out []TitleStamp
	for _, s := range f.stamps {
		if want[s.Key] && !s.PublishedAt.Before(from) && !s.PublishedAt.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func item(title, source, canonical string, published time.Time) NewsItem {
	return NewsItem{
		UniqueID:        UniqueID(title, source),
		Title:           title,
		Source:          source,
		CanonicalURL:    canonical,
		NormalizedTitle: TitleKey(title, source),
		PublishedAt:     published,
	}
}

func titles(items []NewsItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title+"@"+it.Source)
	}
	return out
}

var t0 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func TestDeduplicateFedRaisesRatesScenario(t *testing.T) {
	batch := []NewsItem{
		item("Fed Raises Rates", "X", "https://x.com/u1", t0),
		item("fed raises rates", "Y", "https://y.com/u2", t0.Add(time.Hour)),
		item("Fed Raises Rates", "X", "https://x.com/u1", t0.Add(2*time.Hour)),
	}

	out, stats, err := Deduplicate(context.Background(), batch, &fakeQuery{}, DefaultDedupWindow)
	if err != nil {
		t.Fatalf("Deduplicate error: %v", err)
	}
	if len(out) != 1 || out[0].Source != "X" || !out[0].PublishedAt.Equal(t0) {
		t.Fatalf("expected only A to survive, got %v", titles(out))
	}
	if stats.Exact != 1 || stats.Fuzzy != 1 {
		t.Fatalf("expected 1 exact + 1 fuzzy drop, got %+v", stats)
	}
}

func TestDeduplicateWindowBoundary(t *testing.T) {
	inside := []NewsItem{
		item("Same Title", "A", "https://a.com/1", t0),
		item("Same Title", "B", "https://b.com/1", t0.Add(47*time.Hour+59*time.Minute)),
	}
	out, _, _ := Deduplicate(context.Background(), inside, nil, DefaultDedupWindow)
	if len(out) != 1 {
		t.Fatalf("items within window should collapse, got %v", titles(out))
	}

	outside := []NewsItem{
		item("Same Title", "A", "https://a.com/1", t0),
		item("Same Title", "B", "https://b.com/1", t0.Add(48*time.Hour+time.Minute)),
	}
	out, _, _ = Deduplicate(context.Background(), outside, nil, DefaultDedupWindow)
	if len(out) != 2 {
		t.Fatalf("items beyond window should both be kept, got %v", titles(out))
	}
}

func TestDeduplicateComparesOnlyAgainstKeptItems(t *testing.T) {
	// A 保留；B 与 A 相差 40h 被丢弃；C 与 A 相差 80h，与被丢弃的 B 相差 40h，仍应保留
	batch := []NewsItem{
		item("Chain", "A", "", t0),
		item("Chain", "B", "", t0.Add(40*time.Hour)),
		item("Chain", "C", "", t0.Add(80*time.Hour)),
	}
	out, _, _ := Deduplicate(context.Background(), batch, nil, DefaultDedupWindow)
	want := []string{"Chain@A", "Chain@C"}
	if got := titles(out); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDeduplicateAgainstStore(t *testing.T) {
	q := &fakeQuery{
		urls:   map[string]bool{"https://a.com/stored": true},
		stamps: []TitleStamp{{Key: "old story", PublishedAt: t0.Add(-24 * time.Hour)}},
	}
	batch := []NewsItem{
		item("Brand new", "A", "https://a.com/stored", t0),
		item("Old Story", "B", "https://b.com/x", t0),
		item("Fresh", "C", "https://c.com/x", t0.Add(time.Hour)),
	}
	out, stats, err := Deduplicate(context.Background(), batch, q, DefaultDedupWindow)
	if err != nil {
		t.Fatalf("Deduplicate error: %v", err)
	}
	if got := titles(out); !reflect.DeepEqual(got, []string{"Fresh@C"}) {
		t.Fatalf("unexpected survivors %v", got)
	}
	if stats.Exact != 1 || stats.Fuzzy != 1 || stats.Dropped() != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !q.gotFrom.Equal(t0.Add(-DefaultDedupWindow)) || !q.gotTo.Equal(t0.Add(time.Hour+DefaultDedupWindow)) {
		t.Fatalf("unexpected title lookup range %v - %v", q.gotFrom, q.gotTo)
	}
}

func TestDeduplicateIdempotentOrderPreservingAndPure(t *testing.T) {
	batch := []NewsItem{
		item("One", "A", "https://a.com/1", t0),
		item("Two", "A", "https://a.com/2", t0),
		item("One", "B", "https://b.com/1", t0.Add(time.Hour)),
		item("Three", "A", "https://a.com/1", t0),
		item("Four", "C", "", t0),
		item("Two", "C", "", t0.Add(72*time.Hour)),
	}
	snapshot := append([]NewsItem(nil), batch...)

	once, _, err := Deduplicate(context.Background(), batch, nil, DefaultDedupWindow)
	if err != nil {
		t.Fatalf("Deduplicate error: %v", err)
	}
	twice, stats, _ := Deduplicate(context.Background(), once, nil, DefaultDedupWindow)
	if !reflect.DeepEqual(once, twice) || stats.Dropped() != 0 {
		t.Fatalf("Deduplicate should be idempotent: %v vs %v", titles(once), titles(twice))
	}
	want := []string{"One@A", "Two@A", "Four@C", "Two@C"}
	if got := titles(once); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !reflect.DeepEqual(batch, snapshot) {
		t.Fatalf("Deduplicate must not modify its input")
	}
}

func TestDeduplicateReportsUnavailableStore(t *testing.T) {
	q := &fakeQuery{err: errors.New("connection refused")}
	batch := []NewsItem{
		item("One", "A", "https://a.com/1", t0),
		item("One again", "B", "https://a.com/1", t0),
	}
	out, _, err := Deduplicate(context.Background(), batch, q, DefaultDedupWindow)
	if !errors.Is(err, ErrDedupUnavailable) {
		t.Fatalf("expected ErrDedupUnavailable, got %v", err)
	}
	var de *DedupUnavailableError
	if !errors.As(err, &de) || de.Err == nil {
		t.Fatalf("expected *DedupUnavailableError with cause, got %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("batch should still be deduplicated against itself, got %v", titles(out))
	}
}

func TestDeduplicateEmptyBatch(t *testing.T) {
	out, stats, err := Deduplicate(context.Background(), nil, &fakeQuery{}, DefaultDedupWindow)
	if err != nil || len(out) != 0 || stats.Dropped() != 0 {
		t.Fatalf("empty batch: out=%v stats=%+v err=%v", out, stats, err)
	}
}
