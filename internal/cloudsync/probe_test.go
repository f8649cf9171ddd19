package cloudsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func TestProbeCachesResult(t *testing.T) {
	var calls int32
	status := int32(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer ts.Close()

	clock := &testClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewProbe(NewClient(ts.Client(), ts.URL, ""), ProbeOptions{Now: clock.Now})
	ctx := context.Background()

	if !p.Online(ctx) || !p.Online(ctx) {
		t.Fatal("expected online")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 health call, got %d", got)
	}

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	clock.t = clock.t.Add(29 * time.Second)
	if !p.Online(ctx) {
		t.Fatal("expected cached online result inside ttl")
	}
	clock.t = clock.t.Add(time.Second)
	if p.Online(ctx) {
		t.Fatal("expected offline after ttl with 503")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 health calls, got %d", got)
	}

	atomic.StoreInt32(&status, http.StatusOK)
	p.ClearCache()
	if !p.Online(ctx) {
		t.Fatal("expected online after ClearCache")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 health calls, got %d", got)
	}
}

func TestProbeOnlyAcceptsOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()
	p := NewProbe(NewClient(ts.Client(), ts.URL, ""), ProbeOptions{})
	if p.Online(context.Background()) {
		t.Fatal("expected 204 to count as unreachable")
	}
}

func TestProbeUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()
	p := NewProbe(NewClient(http.DefaultClient, url, ""), ProbeOptions{Timeout: 500 * time.Millisecond})
	if p.Online(context.Background()) {
		t.Fatal("expected closed server to be unreachable")
	}
}

func TestProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	p := NewProbe(NewClient(ts.Client(), ts.URL, ""), ProbeOptions{Timeout: 50 * time.Millisecond})
	start := time.Now()
	if p.Online(context.Background()) {
		t.Fatal("expected slow server to be unreachable")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("probe did not honour its timeout: %s", time.Since(start))
	}
}
