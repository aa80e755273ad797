package reaper

import (
	"context"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestReapNoMatchesIsNoop(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Nothing listens on this port and nothing matches the signature.
	r.Reap(ctx, 1, "signature-that-matches-nothing-xyzzy")
}

func TestReapNeverTouchesSelf(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The test binary's own cmdline contains "reaper.test"; if self-exclusion
	// breaks, this call kills the test run.
	r.Reap(ctx, 0, "reaper.test")
}

func TestReapTerminatesBySignature(t *testing.T) {
	requireUnix(t)
	sig := "sleep 47.125"
	cmd := exec.Command("/bin/sh", "-c", sig)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start victim: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	defer func() { _ = cmd.Process.Signal(syscall.SIGKILL) }()

	// Allow the shell to exec so the cmdline is visible.
	time.Sleep(100 * time.Millisecond)

	r := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.Reap(ctx, 0, sig)

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatalf("victim process survived the reaper")
	}
}
