package agent

// State identifies a phase of the turn state machine.
type State int

// Turn states. A turn moves START -> RETRIEVE_MEMORY -> THINK, loops
// THINK <-> TOOL_CALL while the model requests tools, and ends in DONE
// via FINALIZE or in FAILED.
const (
	StateStart State = iota
	StateRetrieveMemory
	StateThink
	StateToolCall
	StateFinalize
	StateDone
	StateFailed
)

// String returns the state name for logs and span events.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRetrieveMemory:
		return "retrieve_memory"
	case StateThink:
		return "think"
	case StateToolCall:
		return "tool_call"
	case StateFinalize:
		return "finalize"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
