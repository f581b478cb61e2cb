package core

import (
	"testing"
	"time"
)

func TestStage_TransitionTable(t *testing.T) {
	cases := []struct {
		from, to Stage
		ok       bool
	}{
		{StageClarification, StageNegotiation, true},
		{StageClarification, StageClarification, true},
		{StageNegotiation, StageGapAnalysis, true},
		{StageNegotiation, StageClarification, true},
		{StageGapAnalysis, StageAlternativeGeneration, true},
		{StageGapAnalysis, StageWorkflowGeneration, true},
		{StageAlternativeGeneration, StageWorkflowGeneration, true},
		{StageWorkflowGeneration, StageDebug, true},
		{StageDebug, StageCompleted, true},
		{StageDebug, StageWorkflowGeneration, true},
		{StageClarification, StageError, true},
		{StageDebug, StageError, true},
		{StageClarification, StageDebug, false},
		{StageGapAnalysis, StageClarification, false},
		{StageCompleted, StageClarification, false},
		{StageCompleted, StageError, false},
		{StageError, StageClarification, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestStage_Terminal(t *testing.T) {
	for _, s := range Stages() {
		want := s == StageCompleted || s == StageError
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
}

func TestSession_RecordTransition(t *testing.T) {
	s := NewSession("u1", WorkflowContext{})
	if s.Stage != StageClarification {
		t.Fatalf("new session stage = %s, want %s", s.Stage, StageClarification)
	}

	if err := s.RecordTransition(StageNegotiation); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if s.PreviousStage != StageClarification || s.Stage != StageNegotiation {
		t.Errorf("stages after transition = %s/%s", s.PreviousStage, s.Stage)
	}
	if len(s.ExecutionHistory) != 1 || s.ExecutionHistory[0] != "CLARIFICATION->NEGOTIATION" {
		t.Errorf("execution history = %v", s.ExecutionHistory)
	}

	if err := s.RecordTransition(StageDebug); err == nil {
		t.Error("expected illegal transition to fail")
	}
	if s.Stage != StageNegotiation {
		t.Errorf("failed transition mutated stage to %s", s.Stage)
	}
}

func TestSession_CloneIsolation(t *testing.T) {
	s := NewSession("u1", WorkflowContext{Origin: OriginEdit, SourceWorkflowID: "wf-1"})
	s.Clarification.PendingQuestions = []Question{{Key: "when", Text: "When?"}}
	s.Clarification.CollectedInfo["channel"] = "email"
	s.Gaps = []string{"delivery channel"}
	s.CurrentWorkflow = &Workflow{ID: "wf-1", Name: "n", Steps: []WorkflowStep{{ID: "s1", Name: "s", Type: "noop"}}}
	s.RAGContext = &RAGContext{Results: []KnowledgeHit{{ID: "k1"}}, Query: "q"}
	s.AppendTurn(RoleUser, "hello", nil)

	c := s.Clone()
	if c == s {
		t.Fatal("Clone should be a different pointer")
	}
	c.Clarification.CollectedInfo["channel"] = "slack"
	c.Clarification.PendingQuestions[0].Text = "changed"
	c.Gaps[0] = "changed"
	c.CurrentWorkflow.Steps[0].Name = "changed"
	c.RAGContext.Results[0].ID = "changed"
	c.AppendTurn(RoleAssistant, "hi", nil)

	if s.Clarification.CollectedInfo["channel"] != "email" {
		t.Error("collected info leaked into original")
	}
	if s.Clarification.PendingQuestions[0].Text != "When?" {
		t.Error("pending questions leaked into original")
	}
	if s.Gaps[0] != "delivery channel" {
		t.Error("gaps leaked into original")
	}
	if s.CurrentWorkflow.Steps[0].Name != "s" {
		t.Error("workflow leaked into original")
	}
	if s.RAGContext.Results[0].ID != "k1" {
		t.Error("rag context leaked into original")
	}
	if len(s.Conversations) != 1 {
		t.Errorf("original has %d turns, want 1", len(s.Conversations))
	}
}

func TestSession_AppendTurnTimestampsNonDecreasing(t *testing.T) {
	s := NewSession("u1", WorkflowContext{})
	s.AppendTurn(RoleUser, "a", nil)
	// Force a future timestamp on the last turn; the next append must clamp.
	s.Conversations[0].Timestamp = time.Now().UTC().Add(time.Hour)
	s.AppendTurn(RoleAssistant, "b", nil)

	if s.Conversations[1].Timestamp.Before(s.Conversations[0].Timestamp) {
		t.Error("timestamps decreased across turns")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate after clamped append: %v", err)
	}
}

func TestSession_Validate(t *testing.T) {
	valid := NewSession("u1", WorkflowContext{})
	if err := valid.Validate(); err != nil {
		t.Fatalf("fresh session invalid: %v", err)
	}

	cases := map[string]func(*Session){
		"empty id":       func(s *Session) { s.ID = "" },
		"unknown stage":  func(s *Session) { s.Stage = "DREAMING" },
		"negative debug": func(s *Session) { s.DebugLoopCount = -1 },
		"negative clarify rounds": func(s *Session) {
			s.ClarifyRoundCount = -2
		},
		"unknown role": func(s *Session) {
			s.AppendTurn("narrator", "x", nil)
		},
		"duplicate question keys": func(s *Session) {
			s.Clarification.PendingQuestions = []Question{{Key: "k", Text: "a"}, {Key: "k", Text: "b"}}
		},
		"empty question key": func(s *Session) {
			s.Clarification.PendingQuestions = []Question{{Text: "a"}}
		},
		"bad origin": func(s *Session) {
			s.WorkflowContext.Origin = "clone"
		},
		"timestamps decrease": func(s *Session) {
			now := time.Now().UTC()
			s.Conversations = []Turn{
				{Role: RoleUser, Text: "a", Timestamp: now},
				{Role: RoleUser, Text: "b", Timestamp: now.Add(-time.Minute)},
			}
		},
	}
	for name, mutate := range cases {
		s := NewSession("u1", WorkflowContext{})
		mutate(s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
