package rembgd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "rembgd/internal/config"
	"rembgd/internal/gateway"
	"rembgd/internal/history"
	"rembgd/internal/launcher"
	"rembgd/internal/metrics"
	iapi "rembgd/internal/server"
	"rembgd/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = launcher.Spec

type Status = supervisor.Status

type Phase = supervisor.Phase

type Config = supervisor.Config

type HistorySink = history.Sink

type FileConfig = cfg.FileConfig

// Daemon is a thin facade over the supervisor and gateway.
// It provides a stable public API for embedding.

type Daemon struct {
	sup *supervisor.Supervisor
	gw  *gateway.Gateway
}

// Options bundles the pieces New needs beyond the supervision policy.
type Options struct {
	Logger         *slog.Logger
	GatewayTimeout time.Duration
	History        []history.Sink
}

func New(c Config, opts Options) *Daemon {
	sup := supervisor.New(c, opts.Logger)
	if len(opts.History) > 0 {
		sup.SetHistory(opts.History...)
	}
	gw := gateway.New(sup, opts.GatewayTimeout, opts.Logger)
	return &Daemon{sup: sup, gw: gw}
}

func (d *Daemon) Start() error { return d.sup.Start() }
func (d *Daemon) Stop() error  { return d.sup.Stop() }

// Close stops the helper if needed and releases the supervisor goroutine.
func (d *Daemon) Close() error { return d.sup.Shutdown() }

func (d *Daemon) Status() Status { return d.sup.Status() }
func (d *Daemon) IsReady() bool  { return d.sup.Ready() }

func (d *Daemon) RemoveBackground(ctx context.Context, model, filename string, image []byte) ([]byte, error) {
	return d.gw.RemoveBackground(ctx, model, filename, image)
}

func (d *Daemon) PreloadModel(ctx context.Context, model string) error {
	return d.gw.PreloadModel(ctx, model)
}

func LoadConfig(path string) (*cfg.FileConfig, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the control API for the given daemon.
func NewHTTPServer(addr, basePath string, d *Daemon) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, d.sup, d.gw)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
