package orchestrator

// State is a phase of the reload lifecycle.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateWatching
	StateReloading
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateWatching:
		return "watching"
	case StateReloading:
		return "reloading"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Observer is told about every state change, in order.
type Observer func(from, to State)

// legal lists the transitions the orchestrator may take. ShuttingDown is
// reachable from every other state and is terminal.
var legal = map[State][]State{
	StateIdle:      {StateBuilding},
	StateBuilding:  {StateWatching},
	StateWatching:  {StateReloading},
	StateReloading: {StateWatching},
}

func canTransition(from, to State) bool {
	if to == StateShuttingDown {
		return from != StateShuttingDown
	}
	for _, next := range legal[from] {
		if next == to {
			return true
		}
	}
	return false
}
