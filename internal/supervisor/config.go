package supervisor

import (
	"time"

	"rembgd/internal/handshake"
	"rembgd/internal/launcher"
)

// Policy defaults. All of these are tunable through Config; none is a
// structural requirement.
const (
	DefaultStartupTimeout     = 30 * time.Second
	DefaultHandshakeBackoff   = 100 * time.Millisecond
	DefaultHealthInterval     = 30 * time.Second
	DefaultHealthTimeout      = 10 * time.Second
	DefaultConfirmRetries     = 3
	DefaultConfirmInterval    = time.Second
	DefaultMaxRestartAttempts = 3
	DefaultRestartBackoff     = 2 * time.Second
	DefaultStopGrace          = 500 * time.Millisecond
)

// Config carries the helper invocation and the supervision policy values.
type Config struct {
	Spec launcher.Spec

	// HandshakePath is the well-known artifact location shared with the
	// helper. Empty selects handshake.DefaultPath().
	HandshakePath string

	StartupTimeout   time.Duration // bounded wait for the handshake artifact
	HandshakeBackoff time.Duration // initial poll backoff, doubling to 1s

	HealthInterval  time.Duration // steady-state probe interval
	HealthTimeout   time.Duration // single probe bound
	ConfirmRetries  int           // first-probe retries before giving up
	ConfirmInterval time.Duration // wait between first-probe retries

	MaxRestartAttempts int           // crash restart budget
	RestartBackoff     time.Duration // delay before a crash relaunch

	StopGrace time.Duration // graceful termination window before SIGKILL
}

func (c *Config) applyDefaults() {
	if c.Spec.Name == "" {
		c.Spec.Name = "rembg-helper"
	}
	if c.HandshakePath == "" {
		c.HandshakePath = handshake.DefaultPath()
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.HandshakeBackoff <= 0 {
		c.HandshakeBackoff = DefaultHandshakeBackoff
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.ConfirmRetries <= 0 {
		c.ConfirmRetries = DefaultConfirmRetries
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = DefaultConfirmInterval
	}
	if c.MaxRestartAttempts < 0 {
		c.MaxRestartAttempts = 0
	} else if c.MaxRestartAttempts == 0 {
		c.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = DefaultRestartBackoff
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
}
