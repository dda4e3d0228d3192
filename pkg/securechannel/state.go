package securechannel

// State is the lifecycle state of a Channel.
type State int

const (
	// StateCreated means the keys are derived and the card cryptogram is
	// known, but authenticate-session has not been sent.
	StateCreated State = iota

	// StateAuthenticating means authenticate-session was built and its
	// response is pending.
	StateAuthenticating

	// StateActive means session messages may be exchanged.
	StateActive

	// StateTerminated means the keys are gone. Terminal.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateAuthenticating:
		return "Authenticating"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// IsValid returns true if this is a known state.
func (s State) IsValid() bool {
	return s >= StateCreated && s <= StateTerminated
}
