package call

import "fmt"

// State is the lifecycle state of a Call.
//
// Transitions are deliberately not validated: the provider layer may report
// any state after any other and the orchestrator reacts to the (old, new)
// pair it is given.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateSelectProvider
	StateDialing
	StatePulling
	StateRinging
	StateActive
	StateOnHold
	StateDisconnecting
	StateDisconnected
	StateAborted
)

var stateNames = map[State]string{
	StateNew:            "NEW",
	StateConnecting:     "CONNECTING",
	StateSelectProvider: "SELECT_PROVIDER",
	StateDialing:        "DIALING",
	StatePulling:        "PULLING",
	StateRinging:        "RINGING",
	StateActive:         "ACTIVE",
	StateOnHold:         "ON_HOLD",
	StateDisconnecting:  "DISCONNECTING",
	StateDisconnected:   "DISCONNECTED",
	StateAborted:        "ABORTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return StateNew, false
}

// In reports whether s is one of states.
func (s State) In(states ...State) bool {
	for _, other := range states {
		if s == other {
			return true
		}
	}
	return false
}

// State groups used by admission control.
var (
	LiveStates     = []State{StateConnecting, StateSelectProvider, StateDialing, StatePulling, StateActive}
	OutgoingStates = []State{StateConnecting, StateSelectProvider, StateDialing, StatePulling}
	AnyStates      = []State{StateNew, StateConnecting, StateSelectProvider, StateDialing, StatePulling,
		StateRinging, StateActive, StateOnHold, StateDisconnecting, StateAborted}
)

// Direction of a call relative to this device.
type Direction int

const (
	DirectionUndefined Direction = iota
	DirectionIncoming
	DirectionOutgoing
	DirectionUnknown
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	case DirectionUnknown:
		return "unknown"
	default:
		return "undefined"
	}
}
