package model

// flowTransitions is the closed transition table for FlowState. Reset to
// idle is legal from every state and is handled in CanTransition rather
// than enumerated per row.
var flowTransitions = map[FlowState][]FlowState{
	FlowIdle:               {FlowPermissionsPending},
	FlowPermissionsPending: {FlowPermissionsDenied, FlowReadyToStart},
	FlowPermissionsDenied:  {FlowPermissionsPending},
	FlowReadyToStart:       {FlowGameRecording, FlowBrowseRecording},
	FlowGameRecording:      {FlowAnalyzing, FlowReadyToStart},
	FlowBrowseRecording:    {FlowAnalyzing, FlowReadyToStart},
	FlowAnalyzing:          {FlowResultsReady, FlowReadyToStart},
	FlowResultsReady:       {},
}

// CanTransition reports whether moving from one flow state to another is
// legal. Every state may transition to idle (explicit reset).
func CanTransition(from, to FlowState) bool {
	if to == FlowIdle {
		return true
	}
	for _, next := range flowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Recording reports whether the state holds live capture handles.
func (s FlowState) Recording() bool {
	return s == FlowGameRecording || s == FlowBrowseRecording
}
