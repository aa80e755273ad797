// Package reaper terminates stray helper processes left over from previous
// unclean application lifecycles. Everything here is best-effort: the
// supervisor no longer owns these processes, so failures are logged and
// swallowed, never surfaced as supervisor errors.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	gproc "github.com/shirou/gopsutil/v4/process"
)

// Reaper finds and signals orphaned helper processes. Two independent
// strategies run unconditionally: listeners bound to the helper port, and
// processes whose command line matches the helper invocation signature.
// The second covers the case where the port changed between runs.
type Reaper struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{logger: logger}
}

// Reap terminates processes bound to port (when port > 0) and processes
// matching signature (when non-empty). Zero matches is the normal case.
// The current process and its parent are never touched.
func (r *Reaper) Reap(ctx context.Context, port int, signature string) {
	victims := make(map[int32]string)

	if port > 0 {
		for _, pid := range r.pidsOnPort(ctx, port) {
			victims[pid] = "port"
		}
	}
	if signature != "" {
		for _, pid := range r.pidsMatching(ctx, signature) {
			victims[pid] = "signature"
		}
	}
	if len(victims) == 0 {
		return
	}

	for pid, by := range victims {
		r.logger.Warn("reaping orphaned helper process", "pid", pid, "matched_by", by)
		r.terminate(ctx, pid)
	}
}

func (r *Reaper) pidsOnPort(ctx context.Context, port int) []int32 {
	self := int32(os.Getpid())
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		r.logger.Debug("orphan scan: connection enumeration failed", "error", err)
		return nil
	}
	var out []int32
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) {
			continue
		}
		if c.Pid <= 0 || c.Pid == self {
			continue
		}
		out = append(out, c.Pid)
	}
	return out
}

func (r *Reaper) pidsMatching(ctx context.Context, signature string) []int32 {
	self := int32(os.Getpid())
	parent := int32(os.Getppid())
	procs, err := gproc.ProcessesWithContext(ctx)
	if err != nil {
		r.logger.Debug("orphan scan: process enumeration failed", "error", err)
		return nil
	}
	var out []int32
	for _, p := range procs {
		if p.Pid == self || p.Pid == parent {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, signature) {
			out = append(out, p.Pid)
		}
	}
	return out
}

// terminate sends SIGTERM, waits briefly, then SIGKILLs if still running.
func (r *Reaper) terminate(ctx context.Context, pid int32) {
	p, err := gproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		r.logger.Debug("orphan terminate failed", "pid", pid, "error", err)
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err := p.KillWithContext(ctx); err != nil {
		r.logger.Debug("orphan kill failed", "pid", pid, "error", err)
	}
}
