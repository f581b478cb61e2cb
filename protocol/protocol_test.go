package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/stage"
)

func TestRequest_Validate(t *testing.T) {
	sess := core.NewSession("u1", core.WorkflowContext{})

	cases := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"new session", Request{UserID: "u1", UserMessage: "hi"}, true},
		{"resume with snapshot", Request{UserID: "u1", UserMessage: "hi", SessionID: sess.ID, CurrentState: sess}, true},
		{"snapshot without id", Request{UserID: "u1", UserMessage: "hi", CurrentState: sess}, true},
		{"missing user id", Request{UserMessage: "hi"}, false},
		{"missing message", Request{UserID: "u1"}, false},
		{"id without snapshot resolves via store", Request{UserID: "u1", UserMessage: "hi", SessionID: "s-1"}, true},
		{"id mismatch", Request{UserID: "u1", UserMessage: "hi", SessionID: "other", CurrentState: sess}, false},
		{"negative bounds", Request{UserID: "u1", UserMessage: "hi", Config: CallConfig{MaxTurns: -1}}, false},
	}
	for _, c := range cases {
		err := c.req.Validate()
		if c.ok {
			assert.NoError(t, err, c.name)
		} else {
			assert.Error(t, err, c.name)
		}
	}

	bad := sess.Clone()
	bad.Stage = "NOT_A_STAGE"
	err := (&Request{UserID: "u1", UserMessage: "hi", CurrentState: bad}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session snapshot")
}

func TestEncoder_EmissionMapping(t *testing.T) {
	enc := NewEncoder("s-1")
	sess := core.NewSession("u1", core.WorkflowContext{})

	msg := enc.Emission(stage.Emission{
		Kind: stage.EmitMessage,
		Message: &stage.MessagePayload{
			Text:      "When should it run?",
			Role:      core.RoleAssistant,
			Type:      stage.MessageQuestion,
			Questions: []core.Question{{Key: "schedule", Text: "When should it run?"}},
		},
	}, nil)
	assert.Equal(t, TypeMessage, msg.Type)
	assert.Equal(t, "s-1", msg.SessionID)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.IsFinal)
	require.NotNil(t, msg.Message)
	assert.Equal(t, "question", msg.Message.MessageType)
	assert.Len(t, msg.Message.Questions, 1)
	assert.Nil(t, msg.Status)
	assert.Nil(t, msg.Error)

	status := enc.Emission(stage.Emission{
		Kind: stage.EmitStatus,
		Status: &stage.StatusPayload{
			NewStage:       core.StageNegotiation,
			PreviousStage:  core.StageClarification,
			PendingActions: []string{"confirm_intent"},
		},
	}, sess)
	assert.Equal(t, TypeStatus, status.Type)
	require.NotNil(t, status.Status)
	assert.Equal(t, core.StageNegotiation, status.Status.NewStage)
	assert.Same(t, sess, status.UpdatedState)
	assert.False(t, status.IsFinal)
}

func TestEncoder_ErrorIsFinalAndTyped(t *testing.T) {
	enc := NewEncoder("s-1")
	checkpoint := core.NewSession("u1", core.WorkflowContext{})

	resp := enc.Error(core.NewCollaboratorError("generator", errors.New("timeout")), checkpoint)
	assert.Equal(t, TypeError, resp.Type)
	assert.True(t, resp.IsFinal)
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.CodeCollaborator, resp.Error.ErrorCode)
	assert.True(t, resp.Error.IsRecoverable)
	assert.Same(t, checkpoint, resp.UpdatedState)

	plain := enc.Error(errors.New("boom"), nil)
	require.NotNil(t, plain.Error)
	assert.Equal(t, core.CodeStructural, plain.Error.ErrorCode)
	assert.False(t, plain.Error.IsRecoverable)
	assert.True(t, plain.IsFinal)
}

func TestEncoder_FinalCarriesSnapshot(t *testing.T) {
	enc := NewEncoder("s-1")
	sess := core.NewSession("u1", core.WorkflowContext{})
	require.NoError(t, sess.RecordTransition(core.StageNegotiation))

	resp := enc.Final(sess)
	assert.Equal(t, TypeStatus, resp.Type)
	assert.True(t, resp.IsFinal)
	require.NotNil(t, resp.Status)
	assert.Equal(t, core.StageNegotiation, resp.Status.NewStage)
	assert.Equal(t, core.StageClarification, resp.Status.PreviousStage)
	assert.Same(t, sess, resp.UpdatedState)
}
