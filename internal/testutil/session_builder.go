package testutil

import (
	"fmt"

	"github.com/flowsmith-ai/flowsmith/core"
)

// SessionBuilder provides a fluent helper for constructing sessions in tests.
// Example:
//
//	sess := NewSessionBuilder().Intent("daily digest").AtStage(core.StageNegotiation).Build()
//
// AtStage walks the transition table from CLARIFICATION to the target stage,
// so the resulting execution history is one a real dialogue could produce.
type SessionBuilder struct {
	userID    string
	intent    string
	collected map[string]string
	pending   []core.Question
	gaps      []string
	workflow  *core.Workflow
	stage     core.Stage
}

// NewSessionBuilder creates a builder with default user "test-user".
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{userID: "test-user", stage: core.StageClarification}
}

// User sets the session's user id (chainable).
func (b *SessionBuilder) User(id string) *SessionBuilder { b.userID = id; return b }

// Intent sets the distilled intent summary (chainable).
func (b *SessionBuilder) Intent(s string) *SessionBuilder { b.intent = s; return b }

// Collected records an answered clarification question (chainable).
func (b *SessionBuilder) Collected(key, value string) *SessionBuilder {
	if b.collected == nil {
		b.collected = map[string]string{}
	}
	b.collected[key] = value
	return b
}

// Pending appends an open clarification question (chainable).
func (b *SessionBuilder) Pending(key, text, hint string) *SessionBuilder {
	b.pending = append(b.pending, core.Question{Key: key, Text: text, Hint: hint})
	return b
}

// Gaps sets the open requirement gaps (chainable).
func (b *SessionBuilder) Gaps(gaps ...string) *SessionBuilder { b.gaps = gaps; return b }

// Workflow sets the current workflow document (chainable).
func (b *SessionBuilder) Workflow(wf *core.Workflow) *SessionBuilder { b.workflow = wf; return b }

// AtStage sets the target stage the built session is positioned at (chainable).
func (b *SessionBuilder) AtStage(stage core.Stage) *SessionBuilder { b.stage = stage; return b }

// forwardPath is the happy-path stage order used to walk a session to its
// target stage.
var forwardPath = []core.Stage{
	core.StageClarification,
	core.StageNegotiation,
	core.StageGapAnalysis,
	core.StageAlternativeGeneration,
	core.StageWorkflowGeneration,
	core.StageDebug,
	core.StageCompleted,
}

// Build assembles the session, walking real transitions to the target stage.
// It panics on an unreachable target, which in a test means the builder was
// misused.
func (b *SessionBuilder) Build() *core.Session {
	sess := core.NewSession(b.userID, core.WorkflowContext{})
	sess.IntentSummary = b.intent
	for k, v := range b.collected {
		sess.Clarification.CollectedInfo[k] = v
	}
	sess.Clarification.PendingQuestions = append([]core.Question(nil), b.pending...)
	sess.Gaps = append([]string(nil), b.gaps...)
	sess.CurrentWorkflow = b.workflow

	if b.stage == core.StageClarification {
		return sess
	}
	if b.stage == core.StageError {
		if err := sess.RecordTransition(core.StageError); err != nil {
			panic(err)
		}
		return sess
	}
	for _, next := range forwardPath[1:] {
		// Skip the alternative detour unless it is the target itself.
		if next == core.StageAlternativeGeneration && b.stage != core.StageAlternativeGeneration {
			continue
		}
		if err := sess.RecordTransition(next); err != nil {
			panic(fmt.Sprintf("testutil: cannot reach stage %s: %v", b.stage, err))
		}
		if next == b.stage {
			return sess
		}
	}
	panic(fmt.Sprintf("testutil: unknown target stage %s", b.stage))
}

// Workflow returns a small valid workflow document for tests.
func Workflow() *core.Workflow {
	return &core.Workflow{
		ID:      "wf-test",
		Name:    "test workflow",
		Trigger: map[string]any{"type": "schedule"},
		Steps: []core.WorkflowStep{
			{ID: "s1", Name: "collect", Type: "query", Next: []string{"s2"}},
			{ID: "s2", Name: "notify", Type: "notification"},
		},
	}
}
