package client

import "time"

// DaemonStatus mirrors the supervisor snapshot served by GET /status.
type DaemonStatus struct {
	Phase             string    `json:"phase"`
	BoundPort         int       `json:"bound_port,omitempty"`
	PID               int       `json:"pid,omitempty"`
	RestartAttempts   int       `json:"restart_attempts"`
	LastError         string    `json:"last_error,omitempty"`
	LastHealthCheckAt time.Time `json:"last_health_check_at,omitempty"`
}

// Healthz is the daemon liveness response.
type Healthz struct {
	Status      string `json:"status"`
	HelperReady bool   `json:"helper_ready"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
