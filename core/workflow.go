package core

// Workflow is the structured automation document synthesized by the
// generation collaborator. The orchestrator treats it as an opaque value:
// only the generation and debug stages may replace it, and every other stage
// passes it through unchanged. It stays a structured value internally;
// serialization happens only at the wire boundary.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Trigger     map[string]any `json:"trigger,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WorkflowStep is one node of the automation document.
type WorkflowStep struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	Next   []string       `json:"next,omitempty"`
}

// Clone returns a deep copy of the workflow document.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	clone := *w
	clone.Trigger = cloneAnyMap(w.Trigger)
	clone.Metadata = cloneAnyMap(w.Metadata)
	clone.Steps = make([]WorkflowStep, len(w.Steps))
	for i, st := range w.Steps {
		cs := st
		cs.Params = cloneAnyMap(st.Params)
		cs.Next = append([]string(nil), st.Next...)
		clone.Steps[i] = cs
	}
	return &clone
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
