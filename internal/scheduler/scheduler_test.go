package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/NewsHub/internal/pipeline"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	release chan struct{}
}

func (f *fakeRunner) RunWithID(_ context.Context, runID string) pipeline.Report {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls = append(f.calls, runID)
	f.mu.Unlock()
	return pipeline.Report{RunID: runID, Fetched: 3, Stored: 3}
}

type mapCache struct {
	mu   sync.Mutex
	data []byte
}

func (c *mapCache) SaveReport(_ context.Context, report any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data, _ = json.Marshal(report)
}

func (c *mapCache) LastReport(_ context.Context, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return false
	}
	return json.Unmarshal(c.data, out) == nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("not a cron spec", &fakeRunner{}, nil, quiet()); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
}

func TestRunOnceStoresLastReport(t *testing.T) {
	cache := &mapCache{}
	s, err := New("*/30 * * * *", &fakeRunner{}, cache, quiet())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, ok := s.Last(context.Background()); ok {
		t.Fatalf("no report expected before first run")
	}

	rep, err := s.RunOnce(context.Background())
	if err != nil || rep.RunID == "" {
		t.Fatalf("RunOnce = %+v, %v", rep, err)
	}
	last, ok := s.Last(context.Background())
	if !ok || last.RunID != rep.RunID || last.Stored != 3 {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestLastFallsBackToMemoryWithoutCache(t *testing.T) {
	s, _ := New("@hourly", &fakeRunner{}, nil, quiet())
	rep, _ := s.RunOnce(context.Background())
	last, ok := s.Last(context.Background())
	if !ok || last.RunID != rep.RunID {
		t.Fatalf("in-memory last report expected, got %+v", last)
	}
}

func TestRunAsyncRejectsOverlap(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, _ := New("@hourly", runner, nil, quiet())

	id, err := s.RunAsync()
	if err != nil || id == "" {
		t.Fatalf("RunAsync = %q, %v", id, err)
	}
	if !s.Running() {
		t.Fatalf("scheduler should report a run in progress")
	}
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlapping run should be rejected, got %v", err)
	}
	if _, err := s.RunAsync(); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlapping async run should be rejected, got %v", err)
	}

	close(runner.release)
	deadline := time.Now().Add(2 * time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	last, ok := s.Last(context.Background())
	if !ok || last.RunID != id {
		t.Fatalf("async run report should be recorded with the returned id, got %+v", last)
	}
}
