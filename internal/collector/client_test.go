package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// recordSleep 记录退避时长而不真正等待
func recordSleep(got *[]time.Duration) ClientOption {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*got = append(*got, d)
		return ctx.Err()
	})
}

func TestClientRetriesTransientStatusWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := NewClient(DefaultRetryPolicy(), recordSleep(&sleeps))

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), srv.URL, nil, &out); err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	if !out.OK || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on 3rd call, calls=%d", calls)
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(sleeps, want) {
		t.Fatalf("backoff = %v, want %v", sleeps, want)
	}
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := NewClient(DefaultRetryPolicy(), recordSleep(&sleeps))

	err := c.GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.StatusCode != http.StatusTooManyRequests || fe.Attempts != 4 || !fe.Transient() {
		t.Fatalf("unexpected FetchError %+v", fe)
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Fatalf("expected 1 call + 3 retries, got %d", calls)
	}
	if want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}; !reflect.DeepEqual(sleeps, want) {
		t.Fatalf("backoff = %v, want %v", sleeps, want)
	}
}

func TestClientDoesNotRetryTerminalStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := NewClient(DefaultRetryPolicy(), recordSleep(&sleeps))

	err := c.GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound || fe.Transient() {
		t.Fatalf("expected terminal 404 FetchError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 || len(sleeps) != 0 {
		t.Fatalf("404 must not be retried: calls=%d sleeps=%v", calls, sleeps)
	}
}

func TestClientDoesNotRetryNonIdempotentMethod(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(DefaultRetryPolicy(), WithSleep(func(context.Context, time.Duration) error { return nil }))
	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{}`))
	_, err := c.Do(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("POST must not be retried, calls=%d", calls)
	}
}

func TestClientRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	var sleeps []time.Duration
	c := NewClient(RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Timeout: time.Second}, recordSleep(&sleeps))
	err := c.GetJSON(context.Background(), addr, nil, &struct{}{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 0 || fe.Attempts != 3 || fe.Err == nil {
		t.Fatalf("expected connection FetchError after 3 attempts, got %v", err)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 backoffs, got %v", sleeps)
	}
}

func TestClientStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(DefaultRetryPolicy(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	err := c.GetJSON(ctx, srv.URL, nil, &struct{}{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTransportSurfacesStatusForColly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(DefaultRetryPolicy())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Transport(context.Background()).RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
