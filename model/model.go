package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flowsmith-ai/flowsmith/core"
)

// ClarifyRequest asks the generator to derive clarification questions from
// free text. Hits, when present, let the generator ground its questions in
// retrieved knowledge.
type ClarifyRequest struct {
	Message   string
	Origin    core.WorkflowOrigin
	Collected map[string]string
	Hits      []core.KnowledgeHit
	Language  string
}

// Clarification is the generator's question set plus the distilled purpose
// of the dialogue.
type Clarification struct {
	Purpose   string
	Questions []core.Question
}

// SummarizeRequest asks for a distilled intent statement from the collected
// answers and conversation so far.
type SummarizeRequest struct {
	Purpose       string
	Collected     map[string]string
	Conversations []core.Turn
	Language      string
}

// GapRequest asks for unresolved requirement gaps given the confirmed intent.
type GapRequest struct {
	IntentSummary string
	Collected     map[string]string
}

// AlternativesRequest asks for approach proposals covering the open gaps.
type AlternativesRequest struct {
	IntentSummary string
	Gaps          []string
}

// DraftRequest asks for a (re)synthesized workflow document. Diagnostic and
// Previous are populated on debug-loop retries so the generator can repair
// rather than start over.
type DraftRequest struct {
	IntentSummary string
	Context       core.WorkflowContext
	Collected     map[string]string
	Hits          []core.KnowledgeHit
	Diagnostic    string
	Previous      *core.Workflow
	Language      string
}

// Info contains metadata about a generator implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Generator is the generation collaborator: the natural-language backend
// that drafts clarification questions, intent summaries, gap scans,
// alternatives and workflow JSON. Implementations live behind this interface
// so the orchestrator never depends on a vendor SDK.
type Generator interface {
	Clarify(ctx context.Context, req ClarifyRequest) (Clarification, error)
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)
	ScanGaps(ctx context.Context, req GapRequest) ([]string, error)
	Alternatives(ctx context.Context, req AlternativesRequest) ([]core.Alternative, error)
	Draft(ctx context.Context, req DraftRequest) (*core.Workflow, error)

	// Info returns information about the generator implementation.
	Info() Info
}

// MockGenerator is a deterministic in-memory Generator for tests and demos.
// Zero values fall back to canned outputs; set Err to force failures and use
// Calls to assert on invocation counts.
type MockGenerator struct {
	Questions    []core.Question
	Summary      string
	Gaps         []string
	Alts         []core.Alternative
	Workflow     *core.Workflow
	Err          error
	FailureCount int // fail this many calls before succeeding

	mu    sync.Mutex
	calls map[string]int
}

// NewMockGenerator constructs a MockGenerator with canned defaults.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{calls: map[string]int{}}
}

// Calls returns how many times the named operation ran.
func (m *MockGenerator) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockGenerator) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[op]++
	if m.Err != nil {
		if m.FailureCount == 0 {
			return m.Err
		}
		if m.calls[op] <= m.FailureCount {
			return m.Err
		}
	}
	return nil
}

// Clarify implements Generator.
func (m *MockGenerator) Clarify(_ context.Context, req ClarifyRequest) (Clarification, error) {
	if err := m.record("clarify"); err != nil {
		return Clarification{}, err
	}
	qs := m.Questions
	if qs == nil {
		qs = []core.Question{{Key: "schedule", Text: "When should this run?", Hint: "time of day"}}
	}
	purpose := req.Message
	if purpose == "" {
		purpose = "workflow authoring"
	}
	return Clarification{Purpose: purpose, Questions: qs}, nil
}

// Summarize implements Generator.
func (m *MockGenerator) Summarize(_ context.Context, req SummarizeRequest) (string, error) {
	if err := m.record("summarize"); err != nil {
		return "", err
	}
	if m.Summary != "" {
		return m.Summary, nil
	}
	parts := make([]string, 0, len(req.Collected)+1)
	parts = append(parts, req.Purpose)
	for k, v := range req.Collected {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, "; "), nil
}

// ScanGaps implements Generator.
func (m *MockGenerator) ScanGaps(_ context.Context, _ GapRequest) ([]string, error) {
	if err := m.record("scan_gaps"); err != nil {
		return nil, err
	}
	return m.Gaps, nil
}

// Alternatives implements Generator.
func (m *MockGenerator) Alternatives(_ context.Context, req AlternativesRequest) ([]core.Alternative, error) {
	if err := m.record("alternatives"); err != nil {
		return nil, err
	}
	if m.Alts != nil {
		return m.Alts, nil
	}
	return []core.Alternative{
		{ID: "alt-1", Title: "Simple", Description: "Minimal setup", Approach: "single step", Complexity: "low"},
		{ID: "alt-2", Title: "Robust", Description: "Retries and fallbacks", Approach: "guarded steps", Complexity: "medium"},
	}, nil
}

// Draft implements Generator.
func (m *MockGenerator) Draft(_ context.Context, req DraftRequest) (*core.Workflow, error) {
	if err := m.record("draft"); err != nil {
		return nil, err
	}
	if m.Workflow != nil {
		return m.Workflow.Clone(), nil
	}
	return &core.Workflow{
		ID:          "wf-mock",
		Name:        "mock workflow",
		Description: req.IntentSummary,
		Trigger:     map[string]any{"type": "schedule"},
		Steps:       []core.WorkflowStep{{ID: "s1", Name: "notify", Type: "notification"}},
	}, nil
}

// Info implements Generator.
func (m *MockGenerator) Info() Info { return Info{Name: "mock", Provider: "mock"} }
