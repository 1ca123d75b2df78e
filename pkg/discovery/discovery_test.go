package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProber returns scripted response times per "host:port".
type fakeProber struct {
	rtts map[string]time.Duration
	errs map[string]error
}

func (p *fakeProber) Probe(ctx context.Context, ip string, port int) (time.Duration, error) {
	key := fmt.Sprintf("%s:%d", ip, port)
	if err, ok := p.errs[key]; ok {
		return 0, err
	}
	if rtt, ok := p.rtts[key]; ok {
		return rtt, nil
	}
	return 0, errors.New("unreachable")
}

func TestFinder_RanksByResponseTime(t *testing.T) {
	finder := NewFinder(Config{
		Hosts:  []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
		Ports:  []int{8720},
		Logger: discardLogger(),
		Prober: &fakeProber{rtts: map[string]time.Duration{
			"10.0.0.1:8720": 40 * time.Millisecond,
			"10.0.0.2:8720": 5 * time.Millisecond,
			"10.0.0.3:8720": 15 * time.Millisecond,
		}},
	})

	candidates, err := finder.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{"10.0.0.2", "10.0.0.3", "10.0.0.1"}
	if len(candidates) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(candidates), len(want))
	}
	for i, ip := range want {
		if candidates[i].IP != ip {
			t.Errorf("rank %d = %s, want %s", i, candidates[i].IP, ip)
		}
	}
	if candidates[0].URL != "http://10.0.0.2:8720" {
		t.Errorf("candidate URL = %q", candidates[0].URL)
	}
}

func TestFinder_ProbeErrorsAreSoft(t *testing.T) {
	finder := NewFinder(Config{
		Hosts:  []string{"10.0.0.1", "10.0.0.2"},
		Ports:  []int{8720},
		Logger: discardLogger(),
		Prober: &fakeProber{
			rtts: map[string]time.Duration{"10.0.0.2:8720": time.Millisecond},
			errs: map[string]error{"10.0.0.1:8720": errors.New("connection refused")},
		},
	})

	candidates, err := finder.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(candidates) != 1 || candidates[0].IP != "10.0.0.2" {
		t.Errorf("candidates = %+v", candidates)
	}
}

func TestFinder_FallsBackWhenNothingAnswers(t *testing.T) {
	finder := NewFinder(Config{
		Hosts:  []string{"10.0.0.1"},
		Ports:  []int{8720},
		Logger: discardLogger(),
		Prober: &fakeProber{},
	})

	candidates, err := finder.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover must not fail hard: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %+v, want exactly the fallback", candidates)
	}
	if candidates[0].IP != "127.0.0.1" || candidates[0].Port != DefaultPort {
		t.Errorf("fallback = %+v", candidates[0])
	}
}

func TestFinder_CompletesWithinTimeout(t *testing.T) {
	slow := &blockingProber{release: make(chan struct{})}
	defer close(slow.release)

	finder := NewFinder(Config{
		Hosts:   []string{"10.0.0.1"},
		Ports:   []int{8720},
		Timeout: 30 * time.Millisecond,
		Logger:  discardLogger(),
		Prober:  slow,
	})

	start := time.Now()
	candidates, err := finder.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("discovery took %v, want bounded by timeout", elapsed)
	}
	if len(candidates) != 1 || candidates[0].IP != "127.0.0.1" {
		t.Errorf("expected fallback, got %+v", candidates)
	}
}

// blockingProber hangs until the context expires.
type blockingProber struct {
	release chan struct{}
}

func (p *blockingProber) Probe(ctx context.Context, ip string, port int) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.release:
		return 0, errors.New("released")
	}
}

func TestHTTPProber_AgainstLiveEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	hostPort := strings.TrimPrefix(server.URL, "http://")
	parts := strings.Split(hostPort, ":")
	port, _ := strconv.Atoi(parts[1])

	prober := &HTTPProber{Client: server.Client()}
	rtt, err := prober.Probe(context.Background(), parts[0], port)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rtt <= 0 {
		t.Errorf("rtt = %v, want > 0", rtt)
	}
}

func TestHTTPProber_Non200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	hostPort := strings.TrimPrefix(server.URL, "http://")
	parts := strings.Split(hostPort, ":")
	port, _ := strconv.Atoi(parts[1])

	prober := &HTTPProber{Client: server.Client()}
	if _, err := prober.Probe(context.Background(), parts[0], port); err == nil {
		t.Error("non-200 health response should be an error")
	}
}
