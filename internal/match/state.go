package match

// State represents the phase of a match's round loop.
type State int32

const (
	StatePending State = iota
	StateChoosing
	StatePicking
	StateCooldown
	StateEnding
)

// String returns the string representation of a state
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateChoosing:
		return "CHOOSING"
	case StatePicking:
		return "PICKING"
	case StateCooldown:
		return "COOLDOWN"
	case StateEnding:
		return "ENDING"
	default:
		return "UNKNOWN"
	}
}

// ChatKind distinguishes engine notices from player messages.
type ChatKind string

const (
	ChatSystem ChatKind = "SYSTEM"
	ChatUser   ChatKind = "USER"
)

// ChatMessage is one entry of a match's append-only transcript. Clients
// poll the transcript by offset, so entries are never mutated or removed.
type ChatMessage struct {
	ID      int      `json:"id"`
	Kind    ChatKind `json:"type"`
	Message string   `json:"message"`
}
