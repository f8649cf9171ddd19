package cloudsync

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultProbeTimeout = 2 * time.Second
	DefaultProbeTTL     = 30 * time.Second
)

type probeEntry struct {
	Online    bool
	CheckedAt time.Time
}

// Probe answers whether the server is reachable, remembering the answer for ttl.
type Probe struct {
	mu      sync.Mutex
	entry   *probeEntry
	client  *Client
	hc      *http.Client
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

type ProbeOptions struct {
	Timeout time.Duration
	TTL     time.Duration
	Now     func() time.Time
}

func NewProbe(client *Client, opts ProbeOptions) *Probe {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultProbeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	hc := &http.Client{Timeout: opts.Timeout}
	if client.httpClient != nil && client.httpClient.Transport != nil {
		hc.Transport = client.httpClient.Transport
	}
	return &Probe{client: client, hc: hc, ttl: opts.TTL, timeout: opts.Timeout, now: opts.Now}
}

// Online issues GET /health unless a result younger than ttl is cached.
// Only a 200 counts as reachable.
func (p *Probe) Online(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.entry != nil && now.Sub(p.entry.CheckedAt) < p.ttl {
		return p.entry.Online
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.entry = &probeEntry{Online: p.check(ctx), CheckedAt: now}
	return p.entry.Online
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := p.client.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ClearCache forgets the cached result so the next Online call probes again.
func (p *Probe) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry = nil
}
