package stage

import "github.com/flowsmith-ai/flowsmith/core"

// Input carries the per-round user input and the call-scoped switches the
// engine needs for planning. Message is consumed by the first Apply of an
// exchange; subsequent rounds run with an empty message.
type Input struct {
	Message          string
	RetrievalEnabled bool
}

// CallKind names a collaborator operation the engine requires before it can
// apply a round.
type CallKind string

const (
	// CallClarify derives pending questions (and a purpose) from free text.
	CallClarify CallKind = "clarify"
	// CallSummarize distills collected answers into an intent summary.
	CallSummarize CallKind = "summarize"
	// CallGapScan identifies unresolved requirement gaps.
	CallGapScan CallKind = "gap_scan"
	// CallAlternatives proposes approaches for the open gaps.
	CallAlternatives CallKind = "alternatives"
	// CallDraft synthesizes the workflow document.
	CallDraft CallKind = "draft"
	// CallRetrieve queries the knowledge index.
	CallRetrieve CallKind = "retrieve"
	// CallCheck validates the current workflow document.
	CallCheck CallKind = "check"
)

// Call is one required collaborator invocation. Calls marked Parallel are
// mutually independent of adjacent parallel calls and may be issued
// concurrently; all other calls run in declaration order.
type Call struct {
	Kind     CallKind
	Query    string
	Parallel bool
}

// Plan names the collaborator work a round requires. An empty plan means the
// round is pure state transition.
type Plan struct {
	Calls []Call
}

// Outputs aggregates collaborator results for one round. Only the fields
// matching the planned calls are populated.
type Outputs struct {
	Purpose        string
	Questions      []core.Question
	IntentSummary  string
	Gaps           []string
	Alternatives   []core.Alternative
	Workflow       *core.Workflow
	Hits           []core.KnowledgeHit
	RetrievalQuery string
	CheckDone      bool
	CheckOK        bool
	Diagnostic     string
}

// MessageType tags assistant messages for rendering.
type MessageType string

const (
	// MessageText is plain prose.
	MessageText MessageType = "text"
	// MessageQuestion carries pending clarification questions.
	MessageQuestion MessageType = "question"
	// MessageOptions carries selectable alternatives.
	MessageOptions MessageType = "options"
)

// EmissionKind discriminates engine emissions before wire encoding.
type EmissionKind string

const (
	// EmitMessage is conversational content for the user.
	EmitMessage EmissionKind = "message"
	// EmitStatus announces a stage transition or retry.
	EmitStatus EmissionKind = "status"
)

// MessagePayload is the engine-level form of a MESSAGE response.
type MessagePayload struct {
	Text         string
	Role         core.Role
	Type         MessageType
	Questions    []core.Question
	Alternatives []core.Alternative
	Metadata     map[string]string
}

// StatusPayload is the engine-level form of a STATUS response.
type StatusPayload struct {
	NewStage       core.Stage
	PreviousStage  core.Stage
	Description    string
	PendingActions []string
}

// Emission is one ordered output of an engine round, encoded to the wire by
// the protocol encoder.
type Emission struct {
	Kind    EmissionKind
	Message *MessagePayload
	Status  *StatusPayload
}

// Result is the outcome of applying one round. Continue signals that another
// Plan/Apply round is needed before handing control back to the user.
type Result struct {
	Emissions []Emission
	Continue  bool
}

func messageEmission(p MessagePayload) Emission {
	if p.Role == "" {
		p.Role = core.RoleAssistant
	}
	return Emission{Kind: EmitMessage, Message: &p}
}

func statusEmission(sess *core.Session, pendingActions ...string) Emission {
	return Emission{Kind: EmitStatus, Status: &StatusPayload{
		NewStage:       sess.Stage,
		PreviousStage:  sess.PreviousStage,
		Description:    sess.Stage.Description(),
		PendingActions: pendingActions,
	}}
}
