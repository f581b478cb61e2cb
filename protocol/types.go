// Package protocol defines the wire contract of a conversational exchange:
// the Request a caller submits, the discriminated Response union streamed
// back, and the Encoder that maps engine emissions onto it. The Session
// snapshot carried on every response is the sole mechanism for state
// continuity; no session affinity is required between calls.
package protocol

import (
	"fmt"
	"time"

	"github.com/flowsmith-ai/flowsmith/core"
)

// CallConfig carries the per-call configuration supplied by the caller.
type CallConfig struct {
	// EnableStreaming selects the streamed transport path. The HTTP server
	// buffers the whole exchange into a single JSON body when it is false.
	EnableStreaming bool `json:"enable_streaming"`
	// MaxTurns caps the engine rounds one exchange may run, below the
	// server-side hard bound. Zero means the server default.
	MaxTurns int `json:"max_turns,omitempty"`
	// TimeoutSeconds bounds the whole exchange. On expiry any outstanding
	// collaborator call is aborted and the stream ends with a single
	// terminal ERROR response carrying the checkpoint.
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Language       string            `json:"language,omitempty"`
	EnableRAG      bool              `json:"enable_rag"`
	Preferences    map[string]string `json:"preferences,omitempty"`
}

// Request is one streamed exchange submission. CurrentState is required when
// resuming an existing session and absent only for a brand-new one;
// WorkflowContext is honored only on session creation.
type Request struct {
	SessionID       string                `json:"session_id,omitempty"`
	UserID          string                `json:"user_id"`
	UserMessage     string                `json:"user_message"`
	CurrentState    *core.Session         `json:"current_state,omitempty"`
	WorkflowContext *core.WorkflowContext `json:"workflow_context,omitempty"`
	Config          CallConfig            `json:"config"`
}

// Validate checks the request's structural requirements before any state is
// touched.
func (r *Request) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.UserMessage == "" {
		return fmt.Errorf("user_message is required")
	}
	// A session_id without a snapshot is permitted: hydration resolves it
	// against the server-side snapshot store, or fails there if none is
	// configured.
	if r.CurrentState != nil {
		if r.SessionID != "" && r.SessionID != r.CurrentState.ID {
			return fmt.Errorf("session_id %q does not match snapshot id %q", r.SessionID, r.CurrentState.ID)
		}
		if err := r.CurrentState.Validate(); err != nil {
			return fmt.Errorf("invalid session snapshot: %w", err)
		}
	}
	if r.Config.MaxTurns < 0 || r.Config.TimeoutSeconds < 0 {
		return fmt.Errorf("negative config bounds")
	}
	return nil
}

// ResponseType discriminates the response union.
type ResponseType string

const (
	// TypeMessage carries conversational content.
	TypeMessage ResponseType = "MESSAGE"
	// TypeStatus announces a stage transition or retry.
	TypeStatus ResponseType = "STATUS"
	// TypeError carries the error taxonomy of a failed step or call.
	TypeError ResponseType = "ERROR"
)

// MessageContent is the MESSAGE variant payload.
type MessageContent struct {
	Text         string             `json:"text"`
	Role         core.Role          `json:"role"`
	MessageType  string             `json:"message_type"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	Questions    []core.Question    `json:"questions,omitempty"`
	Alternatives []core.Alternative `json:"alternatives,omitempty"`
}

// StatusContent is the STATUS variant payload.
type StatusContent struct {
	NewStage         core.Stage `json:"new_stage"`
	PreviousStage    core.Stage `json:"previous_stage,omitempty"`
	StageDescription string     `json:"stage_description,omitempty"`
	PendingActions   []string   `json:"pending_actions,omitempty"`
}

// ErrorContent is the ERROR variant payload.
type ErrorContent struct {
	ErrorCode     core.ErrorCode    `json:"error_code"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	IsRecoverable bool              `json:"is_recoverable"`
}

// Response is one element of the response stream. Exactly one response per
// exchange carries IsFinal; the final response's UpdatedState is the snapshot
// the caller stores and resubmits.
type Response struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Type         ResponseType    `json:"type"`
	Message      *MessageContent `json:"message,omitempty"`
	Status       *StatusContent  `json:"status,omitempty"`
	Error        *ErrorContent   `json:"error,omitempty"`
	UpdatedState *core.Session   `json:"updated_state,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	IsFinal      bool            `json:"is_final"`
}
