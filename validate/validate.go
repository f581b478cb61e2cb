// Package validate checks drafted workflow documents before they are handed
// back to the caller. The debug stage runs a Checker on every draft and
// feeds failures back into regeneration.
package validate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowsmith-ai/flowsmith/core"
)

// Result is the outcome of a workflow check. A failed check carries a
// diagnostic the generator can act on during regeneration.
type Result struct {
	OK         bool
	Diagnostic string
}

// Checker validates a drafted workflow. A check that cannot run at all
// (as opposed to one that runs and fails) returns an error.
type Checker interface {
	Check(ctx context.Context, wf *core.Workflow) (Result, error)
}

// defaultSchema is the JSON Schema every workflow document must satisfy.
const defaultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "steps"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "trigger": {"type": "object"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "params": {"type": "object"},
          "next": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

// SchemaChecker validates workflows against a JSON Schema and then checks
// step references, which a schema alone cannot express.
type SchemaChecker struct {
	schema *gojsonschema.Schema
}

var _ Checker = (*SchemaChecker)(nil)

// Options configure the schema checker.
type Options struct {
	// Schema overrides the built-in workflow schema.
	Schema string
}

// NewSchemaChecker compiles the schema once so Check stays cheap.
func NewSchemaChecker(optFns ...func(o *Options)) (*SchemaChecker, error) {
	opts := Options{Schema: defaultSchema}
	for _, fn := range optFns {
		fn(&opts)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(opts.Schema))
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &SchemaChecker{schema: schema}, nil
}

// Check validates the workflow. Schema violations and broken step references
// are reported through Result, not the error return.
func (c *SchemaChecker) Check(_ context.Context, wf *core.Workflow) (Result, error) {
	if wf == nil {
		return Result{Diagnostic: "workflow document is missing"}, nil
	}

	res, err := c.schema.Validate(gojsonschema.NewGoLoader(wf))
	if err != nil {
		return Result{}, fmt.Errorf("schema validation failed: %w", err)
	}
	var msgs []string
	if !res.Valid() {
		for _, desc := range res.Errors() {
			msgs = append(msgs, desc.String())
		}
	}
	msgs = append(msgs, checkStepGraph(wf)...)

	if len(msgs) > 0 {
		return Result{Diagnostic: strings.Join(msgs, "; ")}, nil
	}
	return Result{OK: true}, nil
}

// checkStepGraph verifies step ids are unique and every "next" reference
// resolves to an existing step.
func checkStepGraph(wf *core.Workflow) []string {
	var msgs []string
	ids := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		if ids[step.ID] {
			msgs = append(msgs, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = true
	}
	for _, step := range wf.Steps {
		for _, next := range step.Next {
			if !ids[next] {
				msgs = append(msgs, fmt.Sprintf("step %q references unknown step %q", step.ID, next))
			}
		}
	}
	return msgs
}

// MockChecker is a scripted Checker for tests. Each Check pops one entry
// from Diagnostics and fails with it; once the queue drains, checks pass.
type MockChecker struct {
	Diagnostics []string
	Err         error

	mu    sync.Mutex
	calls int
}

var _ Checker = (*MockChecker)(nil)

// Check returns the next scripted result.
func (m *MockChecker) Check(_ context.Context, _ *core.Workflow) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return Result{}, m.Err
	}
	if len(m.Diagnostics) > 0 {
		diag := m.Diagnostics[0]
		m.Diagnostics = m.Diagnostics[1:]
		return Result{Diagnostic: diag}, nil
	}
	return Result{OK: true}, nil
}

// Calls returns how many times Check ran.
func (m *MockChecker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
