// Package health probes the helper's /health endpoint. Probe outcomes are
// values, never fatal errors; the supervisor decides what an unhealthy
// sample means.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 10 * time.Second

const healthPath = "/health"

// Sample is the outcome of one probe. Healthy means a 2xx response arrived
// within the probe timeout; any transport error, timeout, or non-success
// status is unhealthy.
type Sample struct {
	Healthy   bool
	Status    int
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}

// Prober issues bounded-timeout requests against a helper base URL.
type Prober struct {
	client *http.Client
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{client: &http.Client{Timeout: timeout}}
}

// Probe issues GET {baseURL}/health and reports the outcome as a value.
func (p *Prober) Probe(ctx context.Context, baseURL string) Sample {
	start := time.Now()
	s := Sample{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+healthPath, nil)
	if err != nil {
		s.Err = err
		return s
	}
	resp, err := p.client.Do(req)
	s.Latency = time.Since(start)
	if err != nil {
		s.Err = err
		return s
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused between probes.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	s.Status = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.Healthy = true
	} else {
		s.Err = fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return s
}
