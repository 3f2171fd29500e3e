package session

// State is the controller's lifecycle phase.
type State string

const (
	// StateOffline is the initial phase: no registration attempted yet.
	StateOffline State = "offline"

	// StateInitializing covers token fetch and device registration.
	StateInitializing State = "initializing"

	// StateReady means the device is registered and can place calls.
	StateReady State = "ready"

	// StateConnecting covers an outbound dial or inbound accept in flight.
	StateConnecting State = "connecting"

	// StateBusy means a call leg is active.
	StateBusy State = "busy"

	// StateError means the device failed; recovery is automatic up to the
	// init-attempt cap, manual afterwards.
	StateError State = "error"
)

// validTransitions lists the edges of the state machine. Anything not
// listed is a programming error and is logged, then applied anyway so the
// controller cannot wedge on a missed vendor callback.
var validTransitions = map[State][]State{
	StateOffline:      {StateInitializing},
	StateInitializing: {StateReady, StateError},
	StateReady:        {StateConnecting, StateBusy, StateInitializing, StateError},
	StateConnecting:   {StateBusy, StateReady, StateError},
	StateBusy:         {StateReady, StateError},
	StateError:        {StateInitializing, StateOffline},
}

func transitionValid(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
