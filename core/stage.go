package core

// Stage identifies one discrete phase of a workflow-authoring dialogue.
// The set is closed: transitions are only legal along the edges declared in
// stageEdges. Terminal stages accept no further transitions.
type Stage string

const (
	// StageClarification collects answers to pending questions until the
	// user's intent can be distilled.
	StageClarification Stage = "CLARIFICATION"
	// StageNegotiation confirms the distilled intent with the user.
	StageNegotiation Stage = "NEGOTIATION"
	// StageGapAnalysis identifies unresolved requirement gaps.
	StageGapAnalysis Stage = "GAP_ANALYSIS"
	// StageAlternativeGeneration proposes approaches for open gaps and waits
	// for the user to select one.
	StageAlternativeGeneration Stage = "ALTERNATIVE_GENERATION"
	// StageWorkflowGeneration synthesizes the workflow document.
	StageWorkflowGeneration Stage = "WORKFLOW_GENERATION"
	// StageDebug validates the synthesized workflow and loops back to
	// generation on failure, bounded by a configured maximum.
	StageDebug Stage = "DEBUG"
	// StageCompleted is the successful terminal stage.
	StageCompleted Stage = "COMPLETED"
	// StageError is the failure terminal stage.
	StageError Stage = "ERROR"
)

// stageEdges is the explicit transition table. Self-edges mark stages that
// wait for further user input. StageError is reachable from every
// non-terminal stage and is therefore not listed per-edge.
var stageEdges = map[Stage][]Stage{
	StageClarification:         {StageClarification, StageNegotiation},
	StageNegotiation:           {StageNegotiation, StageGapAnalysis, StageClarification},
	StageGapAnalysis:           {StageAlternativeGeneration, StageWorkflowGeneration},
	StageAlternativeGeneration: {StageAlternativeGeneration, StageWorkflowGeneration},
	StageWorkflowGeneration:    {StageDebug},
	StageDebug:                 {StageCompleted, StageWorkflowGeneration},
	StageCompleted:             {},
	StageError:                 {},
}

// stageDescriptions provides the human-readable stage_description used in
// STATUS responses.
var stageDescriptions = map[Stage]string{
	StageClarification:         "Collecting answers to clarification questions",
	StageNegotiation:           "Confirming the distilled intent",
	StageGapAnalysis:           "Analyzing requirement gaps",
	StageAlternativeGeneration: "Proposing alternative approaches",
	StageWorkflowGeneration:    "Synthesizing the workflow",
	StageDebug:                 "Validating the workflow",
	StageCompleted:             "Workflow authoring completed",
	StageError:                 "Session ended with an unrecoverable error",
}

// Valid reports whether s is a member of the closed stage set.
func (s Stage) Valid() bool {
	_, ok := stageEdges[s]
	return ok
}

// Terminal reports whether the stage accepts no further transitions.
func (s Stage) Terminal() bool { return s == StageCompleted || s == StageError }

// CanTransition reports whether an edge from s to next exists. StageError is
// reachable from any non-terminal stage.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageError {
		return true
	}
	for _, edge := range stageEdges[s] {
		if edge == next {
			return true
		}
	}
	return false
}

// Description returns the human-readable summary for the stage.
func (s Stage) Description() string { return stageDescriptions[s] }

// Stages returns all members of the stage set in dialogue order.
func Stages() []Stage {
	return []Stage{
		StageClarification,
		StageNegotiation,
		StageGapAnalysis,
		StageAlternativeGeneration,
		StageWorkflowGeneration,
		StageDebug,
		StageCompleted,
		StageError,
	}
}
