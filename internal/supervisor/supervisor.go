// Package supervisor owns the helper process lifecycle: launch, handshake
// wait, health confirmation, steady-state monitoring, bounded crash
// restarts, and teardown.
//
// All mutable state is owned by a single state-machine goroutine. Commands
// (Start/Stop/Shutdown) and asynchronous notifications (handshake result,
// probe samples, process exit) are funneled onto channels consumed by that
// goroutine, so no two transitions are ever in flight concurrently. Async
// events carry the launch generation they belong to; events from a
// superseded launch are discarded.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rembgd/internal/gateway"
	"rembgd/internal/handshake"
	"rembgd/internal/health"
	"rembgd/internal/history"
	"rembgd/internal/launcher"
	"rembgd/internal/metrics"
	"rembgd/internal/reaper"
)

// ErrCrashedAfterMaxRestarts is the terminal error recorded when the crash
// restart budget is exhausted.
var ErrCrashedAfterMaxRestarts = errors.New("helper crashed after exhausting restart attempts")

// Status is a read-only snapshot of the supervisor state.
type Status struct {
	Phase             Phase     `json:"phase"`
	BoundPort         int       `json:"bound_port,omitempty"`
	PID               int       `json:"pid,omitempty"`
	RestartAttempts   int       `json:"restart_attempts"`
	LastError         string    `json:"last_error,omitempty"`
	LastHealthCheckAt time.Time `json:"last_health_check_at,omitempty"`
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionShutdown
)

type command struct {
	action commandAction
	reply  chan error
}

type eventType int

const (
	evHandshake eventType = iota
	evHealthConfirm
	evProbe
	evExit
	evRestart
)

type event struct {
	typ    eventType
	gen    uint64
	rec    handshake.Record
	sample health.Sample
	exit   launcher.ExitStatus
	err    error
	ok     bool
}

// Supervisor coordinates exactly one helper instance system-wide.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	prober *health.Prober
	reaper *reaper.Reaper

	cmdCh chan command
	evCh  chan event
	done  chan struct{}

	mu       sync.RWMutex
	snapshot Status
	sinks    []history.Sink

	// Fields below are owned by the state-machine goroutine.
	phase           Phase
	handle          *launcher.Handle
	boundPort       int
	restartAttempts int
	lastErr         error
	lastHealthAt    time.Time
	unhealthyStreak int
	gen             uint64
	launchCtx       context.Context
	launchCancel    context.CancelFunc
}

// New creates a supervisor and starts its state-machine goroutine. The
// supervisor stays Idle until Start is called.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
		prober: health.NewProber(cfg.HealthTimeout),
		reaper: reaper.New(logger),
		cmdCh:  make(chan command),
		evCh:   make(chan event, 32),
		done:   make(chan struct{}),
		phase:  PhaseIdle,
	}
	s.snapshot = Status{Phase: PhaseIdle}
	go s.run()
	return s
}

// SetHistory configures lifecycle event sinks.
func (s *Supervisor) SetHistory(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Start launches the helper. It is an idempotent no-op unless the phase is
// Idle or Stopped, guarding against duplicate helpers. A spawn failure is
// reported synchronously; everything after the spawn (handshake, health
// confirmation) proceeds asynchronously.
func (s *Supervisor) Start() error { return s.send(actionStart) }

// Stop terminates the helper gracefully, escalates to SIGKILL after the
// grace period, reaps orphans, deletes the handshake artifact, and always
// ends in Stopped.
func (s *Supervisor) Stop() error { return s.send(actionStop) }

// Shutdown stops the helper and terminates the state-machine goroutine.
// The supervisor cannot be reused afterwards.
func (s *Supervisor) Shutdown() error { return s.send(actionShutdown) }

func (s *Supervisor) send(a commandAction) error {
	reply := make(chan error, 1)
	select {
	case s.cmdCh <- command{action: a, reply: reply}:
		return <-reply
	case <-s.done:
		return errors.New("supervisor shut down")
	}
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Ready reports whether the gateway may submit work.
func (s *Supervisor) Ready() bool { return s.Status().Phase == PhaseReady }

// BaseURL implements gateway.ReadinessSource. It yields the helper base URL
// only while Ready.
func (s *Supervisor) BaseURL() (string, bool) {
	st := s.Status()
	if st.Phase != PhaseReady || st.BoundPort == 0 {
		return "", false
	}
	return fmt.Sprintf("http://127.0.0.1:%d", st.BoundPort), true
}

var _ gateway.ReadinessSource = (*Supervisor)(nil)

// run is the single serialized state-machine loop. Every phase transition
// happens here and only here.
func (s *Supervisor) run() {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-s.cmdCh:
			switch cmd.action {
			case actionStart:
				cmd.reply <- s.handleStart()
			case actionStop:
				cmd.reply <- s.handleStop()
			case actionShutdown:
				_ = s.handleStop()
				close(s.done)
				cmd.reply <- nil
				return
			}
		case ev := <-s.evCh:
			s.handleEvent(ev)
		case <-ticker.C:
			if s.phase == PhaseReady {
				s.spawnProbe(s.gen)
			}
		}
	}
}

// post delivers an event to the loop unless the supervisor has shut down.
func (s *Supervisor) post(ev event) {
	select {
	case s.evCh <- ev:
	case <-s.done:
	}
}

func (s *Supervisor) handleStart() error {
	if s.phase != PhaseIdle && s.phase != PhaseStopped {
		s.logger.Debug("start ignored", "phase", s.phase.String())
		return nil
	}
	s.restartAttempts = 0
	s.lastErr = nil

	// Opportunistic cleanup: a previous unclean exit may have left a live
	// helper and a stale handshake artifact behind. Reap before launching so
	// the stray cannot race the fresh helper for the port, and drop the stale
	// artifact so we cannot read a previous run's port.
	s.preStartCleanup()

	return s.launch()
}

func (s *Supervisor) preStartCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stalePort := 0
	if rec, err := handshake.Read(s.cfg.HandshakePath); err == nil {
		// A record from a long-dead run may point at a port since reassigned
		// to an unrelated process; only the signature scan applies then.
		if !rec.OlderThan(24 * time.Hour) {
			stalePort = rec.Port
		}
	}
	s.reaper.Reap(ctx, stalePort, s.cfg.Spec.Signature())
	if err := handshake.Remove(s.cfg.HandshakePath); err != nil {
		s.logger.Warn("failed to remove stale handshake artifact", "error", err)
	}
}

// launch spawns the helper and kicks off the asynchronous handshake wait.
// A spawn failure is terminal: it is not a "ran then crashed" condition, so
// no restart is attempted.
func (s *Supervisor) launch() error {
	s.setPhase(PhaseLaunching)
	s.gen++
	gen := s.gen

	h, err := launcher.Launch(s.cfg.Spec)
	if err != nil {
		s.lastErr = err
		s.setPhase(PhaseCrashed)
		s.handle = nil
		s.setPhase(PhaseStopped)
		return err
	}
	s.handle = h
	s.logger.Info("helper spawned", "pid", h.PID(), "command", s.cfg.Spec.Command)

	go func() {
		<-h.Done()
		s.post(event{typ: evExit, gen: gen, exit: h.Status()})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.launchCtx, s.launchCancel = ctx, cancel
	s.setPhase(PhaseAwaitingHandshake)
	go func() {
		rec, err := handshake.Wait(ctx, s.cfg.HandshakePath, s.cfg.StartupTimeout, s.cfg.HandshakeBackoff)
		s.post(event{typ: evHandshake, gen: gen, rec: rec, err: err})
	}()
	return nil
}

func (s *Supervisor) handleEvent(ev event) {
	if ev.gen != s.gen {
		s.logger.Debug("discarding stale event", "event_gen", ev.gen, "current_gen", s.gen)
		return
	}
	switch ev.typ {
	case evHandshake:
		s.onHandshake(ev)
	case evHealthConfirm:
		s.onHealthConfirm(ev)
	case evProbe:
		s.onProbe(ev)
	case evExit:
		s.onExit(ev)
	case evRestart:
		s.onRestartTimer()
	}
}

func (s *Supervisor) onHandshake(ev event) {
	if s.phase != PhaseAwaitingHandshake {
		return
	}
	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		// StartupTimeout and MalformedHandshake exceed policy thresholds;
		// both are terminal rather than restartable.
		s.crashTerminal(ev.err)
		return
	}
	s.boundPort = ev.rec.Port
	s.setPhase(PhaseAwaitingHealth)
	s.logger.Info("handshake complete", "port", s.boundPort)

	gen := s.gen
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", s.boundPort)
	ctx := s.launchCtx
	if ctx == nil {
		ctx = context.Background()
	}
	// The confirmation loop shares the launch lifetime, so Stop cancels it.
	go s.confirmHealth(ctx, gen, baseURL)
}

// confirmHealth issues the immediate first probe after the handshake and
// retries a small bounded number of times before giving up.
func (s *Supervisor) confirmHealth(ctx context.Context, gen uint64, baseURL string) {
	var last health.Sample
	for i := 0; i <= s.cfg.ConfirmRetries; i++ {
		last = s.prober.Probe(ctx, baseURL)
		metrics.ObserveProbe(last.Latency.Seconds(), last.Healthy)
		if last.Healthy {
			s.post(event{typ: evHealthConfirm, gen: gen, ok: true, sample: last})
			return
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ConfirmInterval):
		}
	}
	s.post(event{typ: evHealthConfirm, gen: gen, ok: false, sample: last})
}

func (s *Supervisor) onHealthConfirm(ev event) {
	if s.phase != PhaseAwaitingHealth {
		return
	}
	s.lastHealthAt = ev.sample.CheckedAt
	if !ev.ok {
		s.crashRestartable(fmt.Errorf("health check failed after handshake: %w", ev.sample.Err))
		return
	}
	s.restartAttempts = 0
	s.unhealthyStreak = 0
	s.setPhase(PhaseReady)
	s.logger.Info("helper ready", "port", s.boundPort, "latency", ev.sample.Latency)
}

// spawnProbe issues one steady-state probe off the loop goroutine.
func (s *Supervisor) spawnProbe(gen uint64) {
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", s.boundPort)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HealthTimeout)
		defer cancel()
		sample := s.prober.Probe(ctx, baseURL)
		metrics.ObserveProbe(sample.Latency.Seconds(), sample.Healthy)
		s.post(event{typ: evProbe, gen: gen, sample: sample})
	}()
}

func (s *Supervisor) onProbe(ev event) {
	if s.phase != PhaseReady {
		return
	}
	s.lastHealthAt = ev.sample.CheckedAt
	s.updateSnapshot()
	if ev.sample.Healthy {
		s.unhealthyStreak = 0
		return
	}
	s.unhealthyStreak++
	if s.unhealthyStreak == 1 {
		// Tolerate a single transient blip: log and re-probe immediately.
		s.logger.Warn("unhealthy probe while ready, re-probing", "error", ev.sample.Err)
		s.spawnProbe(s.gen)
		return
	}
	s.crashRestartable(fmt.Errorf("helper unhealthy: %w", ev.sample.Err))
}

func (s *Supervisor) onExit(ev event) {
	switch s.phase {
	case PhaseIdle, PhaseStopping, PhaseStopped:
		return
	}
	s.cancelLaunch()
	s.handle = nil
	s.boundPort = 0
	s.lastErr = fmt.Errorf("helper exited unexpectedly (code %d)", ev.exit.Code)
	s.setPhase(PhaseCrashed)
	s.logger.Warn("helper terminated unexpectedly", "code", ev.exit.Code, "error", ev.exit.Err)

	// Only a non-zero exit qualifies for an automatic restart; a clean exit
	// means the helper decided to go away and restarting would loop forever.
	if ev.exit.Code != 0 && s.restartAttempts < s.cfg.MaxRestartAttempts {
		s.scheduleRestart()
		return
	}
	if ev.exit.Code != 0 {
		s.lastErr = fmt.Errorf("%w (%d attempts): last exit code %d",
			ErrCrashedAfterMaxRestarts, s.cfg.MaxRestartAttempts, ev.exit.Code)
	}
	s.setPhase(PhaseStopped)
}

// crashRestartable tears down the current run (the process may still be
// alive, e.g. on a health demotion) and relaunches under the restart budget.
func (s *Supervisor) crashRestartable(reason error) {
	s.teardownRun()
	s.lastErr = reason
	s.setPhase(PhaseCrashed)
	if s.restartAttempts < s.cfg.MaxRestartAttempts {
		s.scheduleRestart()
		return
	}
	s.lastErr = fmt.Errorf("%w (%d attempts): %v", ErrCrashedAfterMaxRestarts, s.cfg.MaxRestartAttempts, reason)
	s.setPhase(PhaseStopped)
}

// crashTerminal tears down the current run and stops without restarting.
func (s *Supervisor) crashTerminal(reason error) {
	s.teardownRun()
	s.lastErr = reason
	s.setPhase(PhaseCrashed)
	s.setPhase(PhaseStopped)
	s.logger.Error("helper startup failed", "error", reason)
}

// teardownRun invalidates in-flight async events and terminates the helper
// if it is still running.
func (s *Supervisor) teardownRun() {
	s.cancelLaunch()
	s.gen++ // stale-ify the exit watcher and any in-flight probes
	if s.handle != nil && s.handle.Running() {
		s.handle.Terminate(s.cfg.StopGrace)
	}
	s.handle = nil
	s.boundPort = 0
	s.unhealthyStreak = 0
}

func (s *Supervisor) scheduleRestart() {
	s.restartAttempts++
	metrics.IncRestart()
	s.gen++
	gen := s.gen
	s.logger.Info("scheduling helper restart",
		"attempt", s.restartAttempts, "max", s.cfg.MaxRestartAttempts, "backoff", s.cfg.RestartBackoff)
	time.AfterFunc(s.cfg.RestartBackoff, func() {
		s.post(event{typ: evRestart, gen: gen})
	})
}

func (s *Supervisor) onRestartTimer() {
	if s.phase != PhaseCrashed {
		return
	}
	if err := s.launch(); err != nil {
		s.logger.Error("helper relaunch failed", "error", err)
	}
}

func (s *Supervisor) handleStop() error {
	if s.phase == PhaseIdle || s.phase == PhaseStopped {
		return nil
	}
	s.setPhase(PhaseStopping)
	s.cancelLaunch()
	s.gen++ // anything still in flight belongs to a dead run

	port := s.boundPort
	if s.handle != nil {
		st := s.handle.Terminate(s.cfg.StopGrace)
		s.logger.Info("helper stopped", "code", st.Code)
		s.handle = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	s.reaper.Reap(ctx, port, s.cfg.Spec.Signature())
	cancel()

	if err := handshake.Remove(s.cfg.HandshakePath); err != nil {
		s.logger.Warn("failed to remove handshake artifact", "error", err)
	}

	s.boundPort = 0
	s.unhealthyStreak = 0
	s.setPhase(PhaseStopped)
	return nil
}

func (s *Supervisor) cancelLaunch() {
	if s.launchCancel != nil {
		s.launchCancel()
		s.launchCancel = nil
	}
}

// setPhase performs the transition bookkeeping: metrics, history, snapshot.
func (s *Supervisor) setPhase(p Phase) {
	old := s.phase
	if old == p {
		return
	}
	s.phase = p
	metrics.RecordPhaseTransition(old.String(), p.String())
	metrics.SetCurrentPhase(old.String(), false)
	metrics.SetCurrentPhase(p.String(), true)
	s.updateSnapshot()
	s.persistTransition(p)
	s.logger.Debug("phase transition", "from", old.String(), "to", p.String())
}

func (s *Supervisor) updateSnapshot() {
	st := Status{
		Phase:             s.phase,
		BoundPort:         s.boundPort,
		RestartAttempts:   s.restartAttempts,
		LastHealthCheckAt: s.lastHealthAt,
	}
	if s.handle != nil {
		st.PID = s.handle.PID()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()
}

func (s *Supervisor) persistTransition(p Phase) {
	s.mu.RLock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	rec := history.Record{Phase: p.String(), Port: s.boundPort}
	if s.handle != nil {
		rec.PID = s.handle.PID()
	}
	if s.lastErr != nil {
		rec.Detail = s.lastErr.Error()
	}
	evt := history.Event{OccurredAt: time.Now().UTC(), Record: rec}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, h := range sinks {
		if err := h.Send(ctx, evt); err != nil {
			s.logger.Debug("history sink send failed", "error", err)
		}
	}
}
