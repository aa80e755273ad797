package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Healthz{Status: "ok", HelperReady: true})
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(DaemonStatus{Phase: "ready", BoundPort: 55001, PID: 4242})
	})
	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/preload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostFormValue("model") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "model required"})
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/remove-background", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "image file required"})
			return
		}
		if _, _, err := r.FormFile("image"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "image file required"})
			return
		}
		_, _ = w.Write([]byte("processed"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := fakeDaemon(t)
	return New(Config{BaseURL: srv.URL + "/api"})
}

func TestIsReachable(t *testing.T) {
	c := newTestClient(t)
	if !c.IsReachable(context.Background()) {
		t.Fatalf("expected daemon to be reachable")
	}
}

func TestIsReachableFalseWhenDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := New(Config{BaseURL: srv.URL + "/api"})
	if c.IsReachable(context.Background()) {
		t.Fatalf("expected daemon to be unreachable")
	}
}

func TestStatus(t *testing.T) {
	c := newTestClient(t)
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Phase != "ready" || st.BoundPort != 55001 || st.PID != 4242 {
		t.Fatalf("status mismatch: %+v", st)
	}
}

func TestStartStopHelper(t *testing.T) {
	c := newTestClient(t)
	if err := c.StartHelper(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.StopHelper(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPreloadModel(t *testing.T) {
	c := newTestClient(t)
	if err := c.PreloadModel(context.Background(), "u2netp"); err != nil {
		t.Fatalf("preload: %v", err)
	}
}

func TestPreloadModelErrorDecoded(t *testing.T) {
	c := newTestClient(t)
	err := c.PreloadModel(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "model required") {
		t.Fatalf("expected decoded API error, got %v", err)
	}
}

func TestRemoveBackground(t *testing.T) {
	c := newTestClient(t)
	out, err := c.RemoveBackground(context.Background(), "u2netp", "photo.jpg", []byte("raw"))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if string(out) != "processed" {
		t.Fatalf("body: %q", out)
	}
}
