package debug

// State is the lifecycle state of a session.
//
//	Inactive -> Initializing -> Running <-> Stopped -> Terminated
//
// Terminated is final and reachable from every other state.
type State int

const (
	// StateInactive is a created session that has not started its handshake.
	StateInactive State = iota
	// StateInitializing covers the initialize, launch and configuration steps.
	StateInitializing
	// StateRunning means the debuggee is executing.
	StateRunning
	// StateStopped means the debuggee is suspended.
	StateStopped
	// StateTerminated is final.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StateChange is delivered to OnDidChangeState subscribers.
type StateChange struct {
	Session *Session
	From    State
	To      State
}
