// Package discovery locates station servers on the local network.
//
// Candidates are probed concurrently over HTTP and ranked ascending by
// response time. Discovery is a soft dependency: probe errors are logged and
// swallowed, and an empty result falls back to the well-known loopback
// default so the caller never blocks indefinitely or fails hard.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Defaults for station server probing.
const (
	// DefaultPort is the well-known station server port.
	DefaultPort = 8720

	// DefaultTimeout bounds a whole discovery cycle.
	DefaultTimeout = 3 * time.Second

	// healthPath is the endpoint probed on each candidate.
	healthPath = "/healthz"
)

// Candidate is a ranked discovery result. The list is consumed once to build
// the active session target and kept only as an ordered fallback list.
type Candidate struct {
	IP           string        `json:"ip"`
	Port         int           `json:"port"`
	URL          string        `json:"url"`
	ResponseTime time.Duration `json:"responseTime"`
}

// Prober checks a single endpoint and reports its response time. Tests
// substitute fakes here.
type Prober interface {
	Probe(ctx context.Context, ip string, port int) (time.Duration, error)
}

// HTTPProber probes candidates with GET /healthz.
type HTTPProber struct {
	// Client is used for probe requests. If nil, a short-timeout client is
	// built per Finder configuration.
	Client *http.Client
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, ip string, port int) (time.Duration, error) {
	httpClient := p.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	url := fmt.Sprintf("http://%s:%d%s", ip, port, healthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("discovery: %s returned %d", url, resp.StatusCode)
	}
	return time.Since(start), nil
}

// Config holds discovery configuration.
type Config struct {
	// Hosts are the addresses to probe. Default: 127.0.0.1.
	Hosts []string

	// Ports are probed on every host. Default: DefaultPort.
	Ports []int

	// Timeout bounds the whole cycle. Default: DefaultTimeout.
	Timeout time.Duration

	// Fallback is the candidate returned when nothing answers.
	// Default: loopback on DefaultPort.
	Fallback *Candidate

	// Prober performs individual endpoint checks. Default: HTTPProber.
	Prober Prober

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Finder runs discovery cycles against a fixed candidate set.
type Finder struct {
	hosts    []string
	ports    []int
	timeout  time.Duration
	fallback Candidate
	prober   Prober
	logger   *slog.Logger
}

// NewFinder creates a Finder, filling config defaults.
func NewFinder(cfg Config) *Finder {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []string{"127.0.0.1"}
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = []int{DefaultPort}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Prober == nil {
		cfg.Prober = &HTTPProber{Client: &http.Client{Timeout: cfg.Timeout}}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fallback := Candidate{IP: "127.0.0.1", Port: DefaultPort}
	if cfg.Fallback != nil {
		fallback = *cfg.Fallback
	}
	if fallback.URL == "" {
		fallback.URL = fmt.Sprintf("http://%s:%d", fallback.IP, fallback.Port)
	}
	return &Finder{
		hosts:    cfg.Hosts,
		ports:    cfg.Ports,
		timeout:  cfg.Timeout,
		fallback: fallback,
		prober:   cfg.Prober,
		logger:   cfg.Logger,
	}
}

// Discover probes every host/port pair and returns reachable candidates
// ranked ascending by response time. It completes within the configured
// timeout. A cycle with zero reachable candidates returns the fallback
// candidate instead of an error; probe failures are logged, never fatal.
func (f *Finder) Discover(ctx context.Context) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found []Candidate
		wg    sync.WaitGroup
	)

	for _, host := range f.hosts {
		for _, port := range f.ports {
			wg.Add(1)
			go func(host string, port int) {
				defer wg.Done()
				rtt, err := f.prober.Probe(ctx, host, port)
				if err != nil {
					f.logger.Debug("probe failed", "host", host, "port", port, "error", err)
					return
				}
				mu.Lock()
				found = append(found, Candidate{
					IP:           host,
					Port:         port,
					URL:          fmt.Sprintf("http://%s:%d", host, port),
					ResponseTime: rtt,
				})
				mu.Unlock()
			}(host, port)
		}
	}
	wg.Wait()

	if len(found) == 0 {
		f.logger.Warn("discovery found no candidates, using fallback",
			"fallback", f.fallback.URL)
		return []Candidate{f.fallback}, nil
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].ResponseTime < found[j].ResponseTime
	})
	return found, nil
}
