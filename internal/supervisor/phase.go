package supervisor

// Phase is the supervisor lifecycle state.
//
// Idle -> Launching -> AwaitingHandshake -> AwaitingHealth -> Ready
// -> (Crashed | Stopping) -> Stopped
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLaunching
	PhaseAwaitingHandshake
	PhaseAwaitingHealth
	PhaseReady
	PhaseCrashed
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLaunching:
		return "launching"
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhaseAwaitingHealth:
		return "awaiting_health"
	case PhaseReady:
		return "ready"
	case PhaseCrashed:
		return "crashed"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}
