package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type staticReadiness struct {
	url string
	ok  bool
}

func (s staticReadiness) BaseURL() (string, bool) { return s.url, s.ok }

func TestSubmitFailsFastWhenNotReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	g := New(staticReadiness{url: srv.URL, ok: false}, time.Second, nil)
	_, err := g.RemoveBackground(context.Background(), "u2netp", "x.png", []byte("img"))
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("gateway touched the network while not ready")
	}
}

func TestRemoveBackgroundForwardsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remove-background" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("model"); got != "u2netp" {
			t.Errorf("model field: got %q", got)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image file: %v", err)
			return
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "photo.jpg" {
			t.Errorf("filename: got %q", hdr.Filename)
		}
		_, _ = w.Write([]byte("processed-bytes"))
	}))
	defer srv.Close()

	g := New(staticReadiness{url: srv.URL, ok: true}, time.Second, nil)
	out, err := g.RemoveBackground(context.Background(), "u2netp", "photo.jpg", []byte("raw"))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if string(out) != "processed-bytes" {
		t.Fatalf("body: got %q", out)
	}
}

func TestPreloadModelSendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/preload-model" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.PostFormValue("model"); got != "isnet-general-use" {
			t.Errorf("model: got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := New(staticReadiness{url: srv.URL, ok: true}, time.Second, nil)
	if err := g.PreloadModel(context.Background(), "isnet-general-use"); err != nil {
		t.Fatalf("preload: %v", err)
	}
}

func TestSubmitWrapsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	g := New(staticReadiness{url: srv.URL, ok: true}, time.Second, nil)
	_, err := g.RemoveBackground(context.Background(), "bogus", "x.png", []byte("raw"))
	if err == nil {
		t.Fatalf("expected error")
	}
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *gateway.Error, got %T", err)
	}
	if gwErr.Status != http.StatusBadRequest || gwErr.Endpoint != "/remove-background" {
		t.Fatalf("error detail: %+v", gwErr)
	}
}

func TestSubmitWrapsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := New(staticReadiness{url: srv.URL, ok: true}, time.Second, nil)
	_, err := g.RemoveBackground(context.Background(), "", "x.png", []byte("raw"))
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *gateway.Error, got %v", err)
	}
	if gwErr.Status != 0 || gwErr.Err == nil {
		t.Fatalf("transport error detail: %+v", gwErr)
	}
}

func TestSubmitHonorsCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	g := New(staticReadiness{url: srv.URL, ok: true}, 30*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Submit(ctx, "/remove-background", nil, "")
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("context deadline not honored")
	}
}
