package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured helper output and daemon logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging destinations for the helper process stdio.
// If StdoutPath/StderrPath are empty, and Dir is set, files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout_path" mapstructure:"stdout_path"`
	StderrPath string `json:"stderr_path" mapstructure:"stderr_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Writers returns io.WriteClosers for stdout and stderr capture of the
// helper process. The helper's output is diagnostic text only; it is never
// parsed for control signaling.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	outW := c.rotating(c.derive(c.StdoutPath, name, "stdout"))
	errW := c.rotating(c.derive(c.StderrPath, name, "stderr"))
	return outW, errW, nil
}

// derive resolves a stream's target path. An explicit path wins; otherwise
// the path is built under Dir from the process name and stream suffix.
func (c Config) derive(explicit, name, stream string) string {
	if explicit != "" || c.Dir == "" {
		return explicit
	}
	return filepath.Join(c.Dir, fmt.Sprintf("%s.%s.log", name, stream))
}

// rotating builds a lumberjack writer for path, or nil when path is empty
// (stream capture disabled).
func (c Config) rotating(path string) io.WriteCloser {
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the daemon's own slog.Logger. When path is empty the logger
// writes colored text to stderr; otherwise it writes to a lumberjack-rotated
// file at path.
func New(path string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if path == "" {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true))
	}
	w := &lj.Logger{
		Filename:   path,
		MaxSize:    DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAgeDays,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
