package core

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks turns authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks turns authored by the orchestrator.
	RoleAssistant Role = "assistant"
	// RoleSystem marks control turns injected by the orchestrator itself.
	RoleSystem Role = "system"
)

// Turn is one entry in a session's append-only conversation log.
type Turn struct {
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Question is a single pending clarification question. Hint describes the
// expected value shape ("time of day", "yes/no", "city name") and is used to
// bias the answer-versus-feedback interpretation of ambiguous user messages.
type Question struct {
	Key  string `json:"key"`
	Text string `json:"text"`
	Hint string `json:"hint,omitempty"`
}

// WorkflowOrigin distinguishes how the authoring dialogue started.
type WorkflowOrigin string

const (
	// OriginCreate starts a workflow from scratch.
	OriginCreate WorkflowOrigin = "create"
	// OriginEdit modifies an existing workflow.
	OriginEdit WorkflowOrigin = "edit"
	// OriginCopy forks an existing workflow.
	OriginCopy WorkflowOrigin = "copy"
)

// ClarificationContext tracks what has been asked and answered so the same
// question is never re-asked.
//
// Contract:
//   - PendingQuestions shrinks only when an answer is recorded in
//     CollectedInfo, never by silent drop
//   - CollectedInfo is keyed by Question.Key
type ClarificationContext struct {
	Purpose          string            `json:"purpose,omitempty"`
	CollectedInfo    map[string]string `json:"collected_info,omitempty"`
	PendingQuestions []Question        `json:"pending_questions,omitempty"`
	Origin           WorkflowOrigin    `json:"origin,omitempty"`
}

// Alternative is one proposed approach produced during alternative
// generation. Alternatives are retained until the user selects one.
type Alternative struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Approach    string `json:"approach"`
	TradeOffs   string `json:"trade_offs,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
}

// WorkflowContext distinguishes "create new" from "edit existing" from
// "copy/fork". It is set once at session start and immutable thereafter.
type WorkflowContext struct {
	Origin             WorkflowOrigin `json:"origin"`
	SourceWorkflowID   string         `json:"source_workflow_id,omitempty"`
	ModificationIntent string         `json:"modification_intent,omitempty"`
}

// KnowledgeHit is one ranked retrieval result handed to the orchestrator by
// the retrieval collaborator. The core does not re-rank hits; it preserves
// the order it is given.
type KnowledgeHit struct {
	ID         string            `json:"id"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RAGContext is the last retrieval snapshot. It is replaced wholesale on each
// retrieval call, never merged.
type RAGContext struct {
	Results   []KnowledgeHit    `json:"results"`
	Query     string            `json:"query"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Session is the caller-held serialized record of one workflow-authoring
// dialogue. The orchestrator holds no persistent copy between calls: each
// exchange is a function of (incoming snapshot, incoming message,
// collaborator responses) → (outgoing snapshot, response stream).
//
// Contract:
//   - Conversations and ExecutionHistory are strictly append-only
//   - DebugLoopCount and ClarifyRoundCount are monotonically non-decreasing
//   - CurrentWorkflow is mutated only by the generation and debug stages
//   - Terminal stages (COMPLETED, ERROR) never transition further
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Stage         Stage `json:"stage"`
	PreviousStage Stage `json:"previous_stage,omitempty"`

	// ExecutionHistory is the append-only audit trail of stage-transition
	// labels ("CLARIFICATION->NEGOTIATION"). It is never rewritten.
	ExecutionHistory []string `json:"execution_history,omitempty"`

	Conversations []Turn `json:"conversations,omitempty"`

	// IntentSummary is the latest distilled statement of what the user
	// wants. Overwritten on each update, never appended.
	IntentSummary string `json:"intent_summary,omitempty"`

	Clarification ClarificationContext `json:"clarification_context"`

	// Gaps is cleared and replaced wholesale each time gap analysis reruns.
	Gaps []string `json:"gaps,omitempty"`

	Alternatives []Alternative `json:"alternatives,omitempty"`

	CurrentWorkflow *Workflow `json:"current_workflow,omitempty"`

	DebugResult       string `json:"debug_result,omitempty"`
	DebugLoopCount    int    `json:"debug_loop_count"`
	ClarifyRoundCount int    `json:"clarify_round_count"`

	WorkflowContext WorkflowContext `json:"workflow_context"`

	RAGContext *RAGContext `json:"rag_context,omitempty"`
}

// NewSession creates a fresh session positioned at the clarification stage.
func NewSession(userID string, wctx WorkflowContext) *Session {
	if wctx.Origin == "" {
		wctx.Origin = OriginCreate
	}
	now := time.Now().UTC()
	return &Session{
		ID:        shortuuid.New(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Stage:     StageClarification,
		Clarification: ClarificationContext{
			CollectedInfo: map[string]string{},
			Origin:        wctx.Origin,
		},
		WorkflowContext: wctx,
	}
}

// AppendTurn records a conversation turn. Timestamps are clamped to be
// non-decreasing relative to the previous turn.
func (s *Session) AppendTurn(role Role, text string, metadata map[string]string) {
	ts := time.Now().UTC()
	if n := len(s.Conversations); n > 0 && ts.Before(s.Conversations[n-1].Timestamp) {
		ts = s.Conversations[n-1].Timestamp
	}
	s.Conversations = append(s.Conversations, Turn{Role: role, Text: text, Timestamp: ts, Metadata: metadata})
	s.UpdatedAt = ts
}

// RecordTransition moves the session to next, retaining the previous stage
// and appending the transition label to the audit trail. It returns an error
// if the edge is not part of the transition table.
func (s *Session) RecordTransition(next Stage) error {
	if !next.Valid() {
		return fmt.Errorf("unknown stage %q", next)
	}
	if !s.Stage.CanTransition(next) {
		return fmt.Errorf("illegal transition %s->%s", s.Stage, next)
	}
	s.PreviousStage = s.Stage
	s.Stage = next
	s.ExecutionHistory = append(s.ExecutionHistory, fmt.Sprintf("%s->%s", s.PreviousStage, next))
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Terminal reports whether the session reached a terminal stage.
func (s *Session) Terminal() bool { return s.Stage.Terminal() }

// Clone returns a deep copy safe for independent mutation. The orchestrator
// clones the session before every engine round so a failed round can be
// discarded without partially-applied mutations.
func (s *Session) Clone() *Session {
	clone := *s

	clone.ExecutionHistory = append([]string(nil), s.ExecutionHistory...)
	clone.Conversations = append([]Turn(nil), s.Conversations...)
	clone.Gaps = append([]string(nil), s.Gaps...)
	clone.Alternatives = append([]Alternative(nil), s.Alternatives...)

	clone.Clarification.PendingQuestions = append([]Question(nil), s.Clarification.PendingQuestions...)
	clone.Clarification.CollectedInfo = make(map[string]string, len(s.Clarification.CollectedInfo))
	for k, v := range s.Clarification.CollectedInfo {
		clone.Clarification.CollectedInfo[k] = v
	}

	if s.CurrentWorkflow != nil {
		clone.CurrentWorkflow = s.CurrentWorkflow.Clone()
	}
	if s.RAGContext != nil {
		rc := *s.RAGContext
		rc.Results = append([]KnowledgeHit(nil), s.RAGContext.Results...)
		clone.RAGContext = &rc
	}

	return &clone
}

// Validate checks the structural invariants of a snapshot supplied by a
// caller. An invalid snapshot fails the call immediately; no repair is
// attempted.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if !s.Stage.Valid() {
		return fmt.Errorf("stage %q is not a member of the stage set", s.Stage)
	}
	if s.PreviousStage != "" && !s.PreviousStage.Valid() {
		return fmt.Errorf("previous stage %q is not a member of the stage set", s.PreviousStage)
	}
	if s.DebugLoopCount < 0 {
		return fmt.Errorf("debug loop count %d is negative", s.DebugLoopCount)
	}
	if s.ClarifyRoundCount < 0 {
		return fmt.Errorf("clarify round count %d is negative", s.ClarifyRoundCount)
	}
	for i := 1; i < len(s.Conversations); i++ {
		if s.Conversations[i].Timestamp.Before(s.Conversations[i-1].Timestamp) {
			return fmt.Errorf("conversation timestamps decrease at turn %d", i)
		}
	}
	for _, t := range s.Conversations {
		switch t.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("unknown turn role %q", t.Role)
		}
	}
	seen := make(map[string]bool, len(s.Clarification.PendingQuestions))
	for _, q := range s.Clarification.PendingQuestions {
		if q.Key == "" {
			return fmt.Errorf("pending question with empty key")
		}
		if seen[q.Key] {
			return fmt.Errorf("duplicate pending question key %q", q.Key)
		}
		seen[q.Key] = true
	}
	switch s.WorkflowContext.Origin {
	case "", OriginCreate, OriginEdit, OriginCopy:
	default:
		return fmt.Errorf("unknown workflow origin %q", s.WorkflowContext.Origin)
	}
	return nil
}
