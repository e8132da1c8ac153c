package lifecycle

// State is a bot's position in the strict initialization sequence. The chain
// is totally ordered except for FAILED, which any state may enter.
type State int32

const (
	StateCreated      State = iota // manager allocated, nothing loaded
	StateLoadingData               // bot record being read from DB
	StateInitializing              // per-bot managers wiring up
	StateReady                     // data complete, not yet in world
	StateActive                    // in world, managers running
	StateRemoving                  // teardown in progress
	StateDestroyed                 // terminal
	StateFailed                    // out-of-band terminal error state
)

var stateNames = [...]string{
	"CREATED",
	"LOADING_DATA",
	"INITIALIZING",
	"READY",
	"ACTIVE",
	"REMOVING",
	"DESTROYED",
	"FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// validEdges is the full transition table: one forward step along the chain,
// plus FAILED as a validated target from every live state. DESTROYED has an
// explicit empty successor set; nothing leaves it.
var validEdges = map[State][]State{
	StateCreated:      {StateLoadingData, StateFailed},
	StateLoadingData:  {StateInitializing, StateFailed},
	StateInitializing: {StateReady, StateFailed},
	StateReady:        {StateActive, StateFailed},
	StateActive:       {StateRemoving, StateFailed},
	StateRemoving:     {StateDestroyed, StateFailed},
	StateFailed:       {StateDestroyed},
	StateDestroyed:    {},
}

// validEdge reports whether from → to is a legal validated transition.
func validEdge(from, to State) bool {
	for _, next := range validEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DataSafe reports whether bot data may be read in this state.
func (s State) DataSafe() bool {
	return s == StateReady || s == StateActive
}

// ManagersSafe reports whether per-bot managers may run in this state.
func (s State) ManagersSafe() bool {
	return s == StateActive
}

// Terminal reports whether the state can never be left.
func (s State) Terminal() bool {
	return s == StateDestroyed
}
