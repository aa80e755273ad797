// Package gateway is the thin HTTP client callers use to submit work to the
// helper. It refuses to touch the network unless the supervisor reports the
// helper Ready.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rembgd/internal/metrics"
)

// DefaultTimeout is generous because background removal is compute-heavy.
const DefaultTimeout = 300 * time.Second

// ErrNotReady is returned without any network call when the helper is not
// in a ready state. Callers should retry later or surface it to the user.
var ErrNotReady = errors.New("helper not ready")

// Error wraps a transport or status failure on a submitted request. The
// gateway does not interpret these; that is the caller's responsibility.
type Error struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway: %s returned status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReadinessSource yields the helper base URL while it is confirmed healthy.
type ReadinessSource interface {
	BaseURL() (string, bool)
}

// Gateway forwards requests to the helper HTTP API.
type Gateway struct {
	ready  ReadinessSource
	client *http.Client
	logger *slog.Logger
}

func New(ready ReadinessSource, timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		ready:  ready,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "gateway"),
	}
}

// RemoveBackground submits an image to POST /remove-background and returns
// the processed image bytes. model selects the helper-side vision model
// (e.g. "u2netp").
func (g *Gateway) RemoveBackground(ctx context.Context, model, filename string, image []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return g.Submit(ctx, "/remove-background", &body, mw.FormDataContentType())
}

// PreloadModel asks the helper to load (and download if necessary) a model
// ahead of the first removal request.
func (g *Gateway) PreloadModel(ctx context.Context, model string) error {
	form := url.Values{"model": {model}}
	_, err := g.Submit(ctx, "/preload-model", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	return err
}

// Submit forwards payload to the helper endpoint. It fails fast with
// ErrNotReady when the supervisor has not confirmed health; zero network
// calls are made in that case.
func (g *Gateway) Submit(ctx context.Context, endpoint string, payload io.Reader, contentType string) ([]byte, error) {
	base, ok := g.ready.BaseURL()
	if !ok {
		return nil, ErrNotReady
	}

	start := time.Now()
	out, err := g.do(ctx, base, endpoint, payload, contentType)
	metrics.ObserveGatewayRequest(endpoint, time.Since(start).Seconds(), err == nil)
	if err != nil {
		g.logger.Error("helper request failed", "endpoint", endpoint, "error", err)
	}
	return out, err
}

func (g *Gateway) do(ctx context.Context, base, endpoint string, payload io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+endpoint, payload)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}
	return body, nil
}
