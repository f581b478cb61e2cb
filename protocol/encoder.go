package protocol

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/stage"
)

// Encoder maps engine emissions and errors to wire responses for one
// exchange, stamping the session id, a server timestamp and a response id on
// every element. The orchestrator decides which response is final.
type Encoder struct {
	sessionID string
	now       func() time.Time
}

// NewEncoder creates an encoder bound to a session.
func NewEncoder(sessionID string) *Encoder {
	return &Encoder{sessionID: sessionID, now: func() time.Time { return time.Now().UTC() }}
}

// Emission encodes one engine emission. The snapshot is attached so every
// response carries the state as of its producing step.
func (e *Encoder) Emission(em stage.Emission, snapshot *core.Session) Response {
	resp := e.base(snapshot)
	switch em.Kind {
	case stage.EmitStatus:
		resp.Type = TypeStatus
		resp.Status = &StatusContent{
			NewStage:         em.Status.NewStage,
			PreviousStage:    em.Status.PreviousStage,
			StageDescription: em.Status.Description,
			PendingActions:   em.Status.PendingActions,
		}
	default:
		resp.Type = TypeMessage
		resp.Message = &MessageContent{
			Text:         em.Message.Text,
			Role:         em.Message.Role,
			MessageType:  string(em.Message.Type),
			Metadata:     em.Message.Metadata,
			Questions:    em.Message.Questions,
			Alternatives: em.Message.Alternatives,
		}
	}
	return resp
}

// Error encodes a failure exactly once. The attached snapshot is the last
// stable checkpoint (or, for loop-bound errors, the resulting ERROR state).
func (e *Encoder) Error(err error, snapshot *core.Session) Response {
	resp := e.base(snapshot)
	resp.Type = TypeError
	resp.IsFinal = true

	if ce, ok := core.AsError(err); ok {
		resp.Error = &ErrorContent{
			ErrorCode:     ce.Code,
			Message:       ce.Message,
			Details:       ce.Details,
			IsRecoverable: ce.Recoverable,
		}
		return resp
	}
	resp.Error = &ErrorContent{
		ErrorCode: core.CodeStructural,
		Message:   err.Error(),
	}
	return resp
}

// Final encodes the trailing response of a successful exchange carrying the
// fully updated snapshot.
func (e *Encoder) Final(snapshot *core.Session) Response {
	resp := e.base(snapshot)
	resp.Type = TypeStatus
	resp.Status = &StatusContent{
		NewStage:         snapshot.Stage,
		PreviousStage:    snapshot.PreviousStage,
		StageDescription: snapshot.Stage.Description(),
	}
	resp.IsFinal = true
	return resp
}

func (e *Encoder) base(snapshot *core.Session) Response {
	return Response{
		ID:           uuid.NewString(),
		SessionID:    e.sessionID,
		UpdatedState: snapshot,
		Timestamp:    e.now(),
	}
}
