package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowsmith-ai/flowsmith/core"
)

// Prompt is a system/user instruction pair ready to hand to a chat
// completion API. Adapters send it as-is; they never rewrite the text.
type Prompt struct {
	System string
	User   string
}

const systemPreamble = `You are a workflow-authoring assistant. You help users turn a
natural-language request into an executable automation workflow. Always answer
with a single JSON object and nothing else: no prose, no markdown fences.`

// ClarifyPrompt builds the instruction pair for deriving clarification
// questions from the user's opening message.
func ClarifyPrompt(req ClarifyRequest) Prompt {
	var b strings.Builder
	b.WriteString("The user wants to ")
	switch req.Origin {
	case core.OriginEdit:
		b.WriteString("edit an existing workflow.\n")
	case core.OriginCopy:
		b.WriteString("copy and adjust an existing workflow.\n")
	default:
		b.WriteString("create a new workflow.\n")
	}
	fmt.Fprintf(&b, "Request: %s\n", req.Message)
	writeCollected(&b, req.Collected)
	writeHits(&b, req.Hits)
	writeLanguage(&b, req.Language)
	b.WriteString(`Identify what is still unknown before a workflow can be built.
Respond with {"purpose": string, "questions": [{"key": string, "text": string, "hint": string}]}.
Keys must be short snake_case identifiers. Ask at most four questions, none
whose answer is already part of the known facts.`)
	return Prompt{System: systemPreamble, User: b.String()}
}

// SummarizePrompt builds the instruction pair for distilling the collected
// answers into a single intent statement.
func SummarizePrompt(req SummarizeRequest) Prompt {
	var b strings.Builder
	if req.Purpose != "" {
		fmt.Fprintf(&b, "Purpose of the dialogue: %s\n", req.Purpose)
	}
	writeCollected(&b, req.Collected)
	if len(req.Conversations) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range req.Conversations {
			fmt.Fprintf(&b, "- %s: %s\n", t.Role, t.Text)
		}
	}
	writeLanguage(&b, req.Language)
	b.WriteString(`Write one concise paragraph stating exactly what workflow the user
wants built, folding in every collected fact.
Respond with {"summary": string}.`)
	return Prompt{System: systemPreamble, User: b.String()}
}

// GapsPrompt builds the instruction pair for scanning the confirmed intent
// for unresolved requirement gaps.
func GapsPrompt(req GapRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirmed intent: %s\n", req.IntentSummary)
	writeCollected(&b, req.Collected)
	b.WriteString(`List design decisions that remain genuinely open, meaning the
workflow cannot be built without choosing. Do not invent gaps: an empty list is
the correct answer when the intent is complete.
Respond with {"gaps": [string]}.`)
	return Prompt{System: systemPreamble, User: b.String()}
}

// AlternativesPrompt builds the instruction pair for proposing distinct
// implementation approaches covering the open gaps.
func AlternativesPrompt(req AlternativesRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirmed intent: %s\n", req.IntentSummary)
	if len(req.Gaps) > 0 {
		b.WriteString("Open gaps:\n")
		for _, g := range req.Gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	b.WriteString(`Propose two or three distinct implementation approaches, each
resolving every open gap in a different way.
Respond with {"alternatives": [{"id": string, "title": string,
"description": string, "approach": string, "trade_offs": string,
"complexity": string}]}. Complexity is one of "low", "medium", "high".`)
	return Prompt{System: systemPreamble, User: b.String()}
}

// DraftPrompt builds the instruction pair for synthesizing (or repairing)
// the workflow document itself.
func DraftPrompt(req DraftRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirmed intent: %s\n", req.IntentSummary)
	writeCollected(&b, req.Collected)
	writeHits(&b, req.Hits)
	if req.Context.Origin == core.OriginEdit && req.Context.ModificationIntent != "" {
		fmt.Fprintf(&b, "This edits workflow %s: %s\n", req.Context.SourceWorkflowID, req.Context.ModificationIntent)
	}
	if req.Previous != nil && req.Diagnostic != "" {
		prev, _ := json.Marshal(req.Previous)
		fmt.Fprintf(&b, "The previous draft failed validation: %s\nPrevious draft: %s\nRepair it rather than starting over.\n", req.Diagnostic, prev)
	}
	writeLanguage(&b, req.Language)
	b.WriteString(`Produce the complete workflow document.
Respond with {"id": string, "name": string, "description": string,
"trigger": object, "steps": [{"id": string, "name": string, "type": string,
"params": object, "next": [string]}], "metadata": object}.
Every step id referenced in a "next" list must exist in "steps".`)
	return Prompt{System: systemPreamble, User: b.String()}
}

func writeCollected(b *strings.Builder, collected map[string]string) {
	if len(collected) == 0 {
		return
	}
	b.WriteString("Known facts:\n")
	for k, v := range collected {
		fmt.Fprintf(b, "- %s: %s\n", k, v)
	}
}

func writeHits(b *strings.Builder, hits []core.KnowledgeHit) {
	if len(hits) == 0 {
		return
	}
	b.WriteString("Relevant reference material:\n")
	for _, h := range hits {
		fmt.Fprintf(b, "- %s: %s\n", h.Title, h.Content)
	}
}

func writeLanguage(b *strings.Builder, lang string) {
	if lang != "" {
		fmt.Fprintf(b, "Answer all user-facing text in %s.\n", lang)
	}
}

// ParseClarification decodes a completion produced for ClarifyPrompt.
func ParseClarification(text string) (Clarification, error) {
	var payload struct {
		Purpose   string          `json:"purpose"`
		Questions []core.Question `json:"questions"`
	}
	if err := decodeJSON(text, &payload); err != nil {
		return Clarification{}, err
	}
	return Clarification{Purpose: payload.Purpose, Questions: payload.Questions}, nil
}

// ParseSummary decodes a completion produced for SummarizePrompt.
func ParseSummary(text string) (string, error) {
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := decodeJSON(text, &payload); err != nil {
		return "", err
	}
	if payload.Summary == "" {
		return "", fmt.Errorf("completion contained no summary")
	}
	return payload.Summary, nil
}

// ParseGaps decodes a completion produced for GapsPrompt.
func ParseGaps(text string) ([]string, error) {
	var payload struct {
		Gaps []string `json:"gaps"`
	}
	if err := decodeJSON(text, &payload); err != nil {
		return nil, err
	}
	return payload.Gaps, nil
}

// ParseAlternatives decodes a completion produced for AlternativesPrompt.
func ParseAlternatives(text string) ([]core.Alternative, error) {
	var payload struct {
		Alternatives []core.Alternative `json:"alternatives"`
	}
	if err := decodeJSON(text, &payload); err != nil {
		return nil, err
	}
	if len(payload.Alternatives) == 0 {
		return nil, fmt.Errorf("completion contained no alternatives")
	}
	return payload.Alternatives, nil
}

// ParseWorkflow decodes a completion produced for DraftPrompt.
func ParseWorkflow(text string) (*core.Workflow, error) {
	var wf core.Workflow
	if err := decodeJSON(text, &wf); err != nil {
		return nil, err
	}
	if wf.ID == "" || len(wf.Steps) == 0 {
		return nil, fmt.Errorf("completion is not a workflow document")
	}
	return &wf, nil
}

// decodeJSON unmarshals completion text, tolerating markdown fences and
// surrounding prose that models emit despite instructions.
func decodeJSON(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if i := strings.Index(trimmed, "{"); i > 0 {
		trimmed = trimmed[i:]
	}
	if i := strings.LastIndex(trimmed, "}"); i >= 0 {
		trimmed = trimmed[:i+1]
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}
