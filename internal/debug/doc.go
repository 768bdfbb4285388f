// Package debug is the debug session engine.
//
// A Manager creates sessions from resolved Configurations. Each Session
// talks to one debug adapter through a dap.Client and owns its lifecycle,
// threads and variable cache. One BreakpointManager and one Console are
// shared by every session of a Manager.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                          Manager                                │
//	│  - creates, starts and destroys sessions                        │
//	│  - tracks the active session                                    │
//	└─────────────────────────────────────────────────────────────────┘
//	        │                      │                       │
//	        ▼                      ▼                       ▼
//	┌───────────────┐   ┌─────────────────────┐   ┌─────────────────┐
//	│   Session     │◄──│  BreakpointManager  │   │    Console      │
//	│ state, threads│   │  desired state,     │   │  ordered output │
//	│ VariableCache │   │  verification       │   │  from all       │
//	└───────────────┘   └─────────────────────┘   └─────────────────┘
//	        │
//	        ▼
//	   dap.Client ─► transport.Transport ─► adapter stream
//
// # Session States
//
//	Inactive -> Initializing -> Running <-> Stopped -> Terminated
//
// Start runs the handshake: initialize, then launch or attach, then the
// breakpoint configuration and configurationDone once the adapter has sent
// the initialized event. Continue and the step operations require Stopped;
// Pause requires Running. Calling them in another state returns a
// *StateError matching ErrInvalidState and sends nothing.
//
// # Breakpoints
//
// The BreakpointManager holds the desired state for every file and pushes
// the complete set for a file to every session on each change. Adapter
// results are matched to the array as sent, by position, and stored per
// session. When a session terminates its verification records are dropped;
// the breakpoints themselves remain for later sessions.
//
// # Variables
//
// References handed out by the VariableCache carry the stop generation
// they were issued in. Every stop and resume starts a new generation, so a
// reference kept across a stop fails with ErrStaleReference instead of
// reading whatever the adapter now stores under the same handle.
package debug
