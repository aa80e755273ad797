package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rembgd/internal/gateway"
	"rembgd/internal/metrics"
	"rembgd/internal/supervisor"
)

// Router provides the embeddable local control API.
// Endpoints:
//
//	GET  {basePath}/status             supervisor snapshot
//	POST {basePath}/start              launch the helper
//	POST {basePath}/stop               stop the helper
//	POST {basePath}/preload            form/query: model=...
//	POST {basePath}/remove-background  multipart proxy to the helper
//	GET  {basePath}/healthz            liveness of the daemon itself
//	GET  {basePath}/metrics            Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	gw       *gateway.Gateway
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, gw *gateway.Gateway, basePath string) *Router {
	return &Router{sup: sup, gw: gw, basePath: sanitizeBase(basePath)}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/preload", r.handlePreload)
	group.POST("/remove-background", r.handleRemoveBackground)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, gw *gateway.Gateway) (*http.Server, error) {
	r := NewRouter(sup, gw, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Status())
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePreload(c *gin.Context) {
	model := c.PostForm("model")
	if model == "" {
		model = c.Query("model")
	}
	if model == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "model required"})
		return
	}
	if err := r.gw.PreloadModel(c.Request.Context(), model); err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRemoveBackground(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "image file required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	defer func() { _ = f.Close() }()
	img, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	model := c.PostForm("model")
	out, err := r.gw.RemoveBackground(c.Request.Context(), model, fh.Filename, img)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", out)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "helper_ready": r.sup.Ready()})
}

func writeGatewayError(c *gin.Context, err error) {
	if errors.Is(err, gateway.ErrNotReady) {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "helper not ready"})
		return
	}
	c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
}
