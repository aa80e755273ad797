// Package handshake reads the port discovery artifact written by the helper
// process. The helper binds a loopback listener, then writes a small JSON
// record to a well-known path; the supervisor polls that path until the
// record appears. The file is the sole structured channel between helper and
// supervisor; stdout is captured but never parsed.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const artifactName = "removethatbg_port.json"

// ErrNotReady indicates the artifact does not exist yet. This is the
// expected condition during the startup race and must be retried, not
// reported.
var ErrNotReady = errors.New("handshake artifact not present")

// ErrMalformed indicates the artifact exists but does not parse to the
// expected shape. Unlike ErrNotReady this is a reportable failure.
var ErrMalformed = errors.New("malformed handshake artifact")

// ErrStartupTimeout indicates the bounded wait for the artifact expired.
var ErrStartupTimeout = errors.New("timed out waiting for handshake artifact")

// Record is the artifact content. The helper writes port plus a timestamp;
// only the port is required. Presence of a record does not imply health,
// it only narrows where to probe.
type Record struct {
	Port      int    `json:"port"`
	Timestamp string `json:"timestamp,omitempty"`
}

// DefaultPath returns the well-known artifact location shared with the
// helper (os.TempDir matches the helper's tempfile.gettempdir).
func DefaultPath() string {
	return filepath.Join(os.TempDir(), artifactName)
}

// OlderThan reports whether the record's timestamp is further than maxAge in
// the past. Records without a parseable timestamp are never considered old;
// the helper writes a naive local-time ISO timestamp.
func (r Record) OlderThan(maxAge time.Duration) bool {
	if r.Timestamp == "" {
		return false
	}
	var ts time.Time
	var err error
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		ts, err = time.ParseInLocation(layout, r.Timestamp, time.Local)
		if err == nil {
			break
		}
	}
	if err != nil {
		return false
	}
	return time.Since(ts) > maxAge
}

// Read parses the artifact at path. A missing file yields ErrNotReady; an
// unparsable or invalid record yields an error wrapping ErrMalformed.
func Read(path string) (Record, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotReady
		}
		return Record{}, fmt.Errorf("read handshake artifact: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.Port <= 0 || rec.Port > 65535 {
		return Record{}, fmt.Errorf("%w: port %d out of range", ErrMalformed, rec.Port)
	}
	return rec, nil
}

// Write serializes rec to path. Used by tests and by embeddable helpers;
// the production writer is the helper process itself.
func Write(path string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o600)
}

// Remove deletes the artifact. Missing files are not an error; the
// supervisor removes the artifact on stop and before each fresh launch to
// prevent stale reads.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Wait polls Read until the artifact appears, the timeout expires, or ctx is
// canceled. Backoff between attempts doubles from initial up to a 1s cap.
// Expiry yields ErrStartupTimeout; a malformed artifact aborts immediately.
func Wait(ctx context.Context, path string, timeout, backoff time.Duration) (Record, error) {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	const maxBackoff = time.Second
	deadline := time.Now().Add(timeout)
	for {
		rec, err := Read(path)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotReady) {
			return Record{}, err
		}
		if time.Now().After(deadline) {
			return Record{}, ErrStartupTimeout
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
