package progression

// State is a phase of the two-round progression.
type State string

const (
	StateInitialRunning   State = "initial_running"
	StateAwaitingDecision State = "awaiting_decision"
	StateDrilldownRunning State = "drilldown_running"
	StateSynthesizing     State = "synthesizing"
	StateDone             State = "done"
)

// validTransition reports whether to may follow from.
func validTransition(from, to State) bool {
	switch from {
	case "":
		return to == StateInitialRunning
	case StateInitialRunning:
		return to == StateAwaitingDecision
	case StateAwaitingDecision:
		return to == StateDrilldownRunning || to == StateSynthesizing
	case StateDrilldownRunning:
		return to == StateSynthesizing
	case StateSynthesizing:
		return to == StateDone
	case StateDone:
		return false
	default:
		return false
	}
}
