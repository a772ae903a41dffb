package pipeline

// State is a stage of a purge run.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateEnumerating
	StateAwaitingConfirmation
	StateMutating
	StateLogging
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateEnumerating:
		return "enumerating"
	case StateAwaitingConfirmation:
		return "awaiting confirmation"
	case StateMutating:
		return "mutating"
	case StateLogging:
		return "logging"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
