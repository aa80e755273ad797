package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritersDeriveNamesFromDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW, err := c.Writers("helper")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("writers not created for dir config")
	}
	if _, err := outW.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	b, err := os.ReadFile(filepath.Join(dir, "helper.stdout.log"))
	if err != nil || !strings.Contains(string(b), "hello") {
		t.Fatalf("stdout log: %v content=%q", err, string(b))
	}
}

func TestWritersExplicitPathsWin(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir, StdoutPath: filepath.Join(dir, "custom.out")}
	outW, _, err := c.Writers("helper")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if _, err := outW.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	if _, err := os.Stat(filepath.Join(dir, "custom.out")); err != nil {
		t.Fatalf("explicit stdout path not used: %v", err)
	}
}

func TestWritersEmptyConfig(t *testing.T) {
	var c Config
	outW, errW, err := c.Writers("helper")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers for empty config")
	}
}

func TestNewStderrAndFileLoggers(t *testing.T) {
	if l := New("", slog.LevelDebug); l == nil {
		t.Fatalf("stderr logger nil")
	}
	path := filepath.Join(t.TempDir(), "daemon.log")
	l := New(path, slog.LevelInfo)
	if l == nil {
		t.Fatalf("file logger nil")
	}
	l.Info("boot", "k", "v")
	b, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(b), "boot") {
		t.Fatalf("file log: %v content=%q", err, string(b))
	}
}
