package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/internal/testutil"
	"github.com/flowsmith-ai/flowsmith/logging"
	"github.com/flowsmith-ai/flowsmith/model"
	"github.com/flowsmith-ai/flowsmith/protocol"
	"github.com/flowsmith-ai/flowsmith/retrieval"
	"github.com/flowsmith-ai/flowsmith/session"
	"github.com/flowsmith-ai/flowsmith/stage"
	"github.com/flowsmith-ai/flowsmith/validate"
)

func newTestOrchestrator(t *testing.T, optFns ...func(o *Options)) *Orchestrator {
	t.Helper()
	orch, err := New(model.NewMockGenerator(), optFns...)
	require.NoError(t, err)
	return orch
}

// exchangeSync drives one exchange and returns its responses plus the final
// snapshot.
func exchangeSync(t *testing.T, orch *Orchestrator, req protocol.Request) ([]protocol.Response, *core.Session) {
	t.Helper()
	responses, err := orch.ConverseSync(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, responses)

	finals := 0
	for _, r := range responses {
		if r.IsFinal {
			finals++
		}
	}
	require.Equal(t, 1, finals, "exactly one final response per exchange")
	last := responses[len(responses)-1]
	require.True(t, last.IsFinal, "final response must be last")
	return responses, last.UpdatedState
}

func TestConverse_FullAuthoringConversation(t *testing.T) {
	orch := newTestOrchestrator(t)

	// Exchange 1: opening message yields a clarification question.
	responses, snapshot := exchangeSync(t, orch, protocol.Request{
		UserID:      "u1",
		UserMessage: "send me a daily digest of open tickets",
	})
	require.NotNil(t, snapshot)
	assert.Equal(t, core.StageClarification, snapshot.Stage)
	assert.Len(t, snapshot.Clarification.PendingQuestions, 1)
	assert.Equal(t, protocol.TypeMessage, responses[0].Type)
	assert.Equal(t, "question", responses[0].Message.MessageType)

	// Exchange 2: the answer drains the queue; summarization advances to
	// negotiation within the same exchange.
	responses, snapshot = exchangeSync(t, orch, protocol.Request{
		UserID:       "u1",
		UserMessage:  "9am",
		CurrentState: snapshot,
	})
	assert.Equal(t, core.StageNegotiation, snapshot.Stage)
	assert.Equal(t, "9am", snapshot.Clarification.CollectedInfo["schedule"])
	assert.NotEmpty(t, snapshot.IntentSummary)

	sawConfirm := false
	for _, r := range responses {
		if r.Type == protocol.TypeStatus && r.Status != nil {
			for _, a := range r.Status.PendingActions {
				if a == "confirm_intent" {
					sawConfirm = true
				}
			}
		}
	}
	assert.True(t, sawConfirm, "negotiation handoff announces confirm_intent")

	// Exchange 3: confirmation runs gap analysis, generation and validation
	// to completion in one exchange (the mock reports no gaps).
	responses, snapshot = exchangeSync(t, orch, protocol.Request{
		UserID:       "u1",
		UserMessage:  "yes",
		CurrentState: snapshot,
	})
	assert.Equal(t, core.StageCompleted, snapshot.Stage)
	require.NotNil(t, snapshot.CurrentWorkflow)
	assert.Equal(t, "wf-mock", snapshot.CurrentWorkflow.ID)
	assert.GreaterOrEqual(t, len(responses), 3)

	// Exchange 4: the terminal session rejects further input.
	final, err := orch.ConverseSync(context.Background(), protocol.Request{
		UserID:       "u1",
		UserMessage:  "add another step",
		CurrentState: snapshot,
	})
	require.NoError(t, err)
	require.Len(t, final, 1)
	require.Equal(t, protocol.TypeError, final[0].Type)
	assert.Equal(t, core.CodeSessionTerminated, final[0].Error.ErrorCode)
	assert.True(t, final[0].IsFinal)
	assert.Equal(t, core.StageCompleted, final[0].UpdatedState.Stage)
}

func TestConverse_GapsDetourThroughAlternatives(t *testing.T) {
	gen := model.NewMockGenerator()
	gen.Gaps = []string{"delivery channel"}
	gen.Workflow = testutil.Workflow()
	orch, err := New(gen)
	require.NoError(t, err)

	sess := testutil.NewSessionBuilder().User("u1").
		Intent("daily digest at 9am").
		AtStage(core.StageNegotiation).Build()

	responses, snapshot := exchangeSync(t, orch, protocol.Request{
		UserID:       "u1",
		UserMessage:  "yes",
		CurrentState: sess,
	})
	assert.Equal(t, core.StageAlternativeGeneration, snapshot.Stage)
	assert.Len(t, snapshot.Alternatives, 2)

	var options *protocol.MessageContent
	for _, r := range responses {
		if r.Type == protocol.TypeMessage && r.Message.MessageType == "options" {
			options = r.Message
		}
	}
	require.NotNil(t, options, "alternatives presented as options message")
	assert.Len(t, options.Alternatives, 2)

	// Selecting by index resumes generation through to completion.
	_, snapshot = exchangeSync(t, orch, protocol.Request{
		UserID:       "u1",
		UserMessage:  "1",
		CurrentState: snapshot,
	})
	assert.Equal(t, core.StageCompleted, snapshot.Stage)
	assert.Contains(t, snapshot.IntentSummary, "single step")
	require.NotNil(t, snapshot.CurrentWorkflow)
	assert.Equal(t, "wf-test", snapshot.CurrentWorkflow.ID)
}

func TestConverse_CollaboratorFailureRollsBackToCheckpoint(t *testing.T) {
	gen := model.NewMockGenerator()
	gen.Err = errors.New("model unavailable")
	orch, err := New(gen)
	require.NoError(t, err)

	responses, err := orch.ConverseSync(context.Background(), protocol.Request{
		UserID:      "u1",
		UserMessage: "build a digest workflow",
	})
	require.NoError(t, err)
	require.Len(t, responses, 1)

	resp := responses[0]
	require.Equal(t, protocol.TypeError, resp.Type)
	assert.True(t, resp.IsFinal)
	assert.Equal(t, core.CodeCollaborator, resp.Error.ErrorCode)
	assert.True(t, resp.Error.IsRecoverable)

	// The checkpoint predates the failed round: nothing was applied.
	require.NotNil(t, resp.UpdatedState)
	assert.Equal(t, core.StageClarification, resp.UpdatedState.Stage)
	assert.Empty(t, resp.UpdatedState.Conversations)
}

func TestConverse_RetryAfterFailureIsIdempotent(t *testing.T) {
	gen := model.NewMockGenerator()
	gen.Err = errors.New("flaky")
	gen.FailureCount = 1 // first clarify call fails, retry succeeds
	orch, err := New(gen)
	require.NoError(t, err)

	first, err := orch.ConverseSync(context.Background(), protocol.Request{
		UserID:      "u1",
		UserMessage: "build a digest workflow",
	})
	require.NoError(t, err)
	require.Equal(t, protocol.TypeError, first[0].Type)
	checkpoint := first[0].UpdatedState

	// Resubmitting the identical request against the returned snapshot
	// succeeds and lands in the same state a clean first call would.
	_, snapshot := exchangeSync(t, orch, protocol.Request{
		UserID:       "u1",
		UserMessage:  "build a digest workflow",
		CurrentState: checkpoint,
	})
	assert.Equal(t, core.StageClarification, snapshot.Stage)
	assert.Len(t, snapshot.Clarification.PendingQuestions, 1)
	assert.Equal(t, 2, gen.Calls("clarify"))
}

func TestConverse_DebugLoopExhaustionEndsInError(t *testing.T) {
	orch := newTestOrchestrator(t, func(o *Options) {
		o.Checker = &validate.MockChecker{Diagnostics: []string{"broken 1", "broken 2", "broken 3"}}
	})

	sess := testutil.NewSessionBuilder().User("u1").
		Intent("daily digest").
		AtStage(core.StageNegotiation).Build()

	responses, err := orch.ConverseSync(context.Background(), protocol.Request{
		UserID:       "u1",
		UserMessage:  "yes",
		CurrentState: sess,
	})
	require.NoError(t, err)

	last := responses[len(responses)-1]
	require.Equal(t, protocol.TypeError, last.Type)
	assert.Equal(t, core.CodeLoopExceeded, last.Error.ErrorCode)
	assert.False(t, last.Error.IsRecoverable)
	// The exhausted loop is a real transition: the returned state is ERROR.
	assert.Equal(t, core.StageError, last.UpdatedState.Stage)
	assert.Equal(t, 3, last.UpdatedState.DebugLoopCount)
}

func TestConverse_RetrievalGroundsTheDraft(t *testing.T) {
	retriever := &retrieval.MockRetriever{Hits: []core.KnowledgeHit{
		{ID: "tmpl-1", Title: "Digest template", Content: "steps for digests", Similarity: 1},
	}}
	orch := newTestOrchestrator(t, func(o *Options) {
		o.Retriever = retriever
	})

	_, snapshot := exchangeSync(t, orch, protocol.Request{
		UserID:      "u1",
		UserMessage: "send me a daily digest",
		Config:      protocol.CallConfig{EnableRAG: true},
	})
	require.NotNil(t, snapshot.RAGContext)
	assert.Equal(t, "send me a daily digest", snapshot.RAGContext.Query)
	require.Len(t, snapshot.RAGContext.Results, 1)
	assert.Equal(t, "tmpl-1", snapshot.RAGContext.Results[0].ID)
	assert.Equal(t, []string{"send me a daily digest"}, retriever.Queries())
}

func TestConverse_RetrievalFailureDegradesGracefully(t *testing.T) {
	orch := newTestOrchestrator(t, func(o *Options) {
		o.Retriever = &retrieval.MockRetriever{Err: errors.New("index offline")}
	})

	_, snapshot := exchangeSync(t, orch, protocol.Request{
		UserID:      "u1",
		UserMessage: "send me a daily digest",
		Config:      protocol.CallConfig{EnableRAG: true},
	})
	// The exchange still succeeds; it just lacks grounding.
	assert.Equal(t, core.StageClarification, snapshot.Stage)
	assert.Nil(t, snapshot.RAGContext)
}

func TestConverse_SnapshotStoreCachesState(t *testing.T) {
	store := session.NewInMemoryStore()
	orch := newTestOrchestrator(t, func(o *Options) {
		o.SnapshotStore = store
	})

	_, snapshot := exchangeSync(t, orch, protocol.Request{
		UserID:      "u1",
		UserMessage: "build a digest workflow",
	})
	require.Equal(t, 1, store.Len())

	// A request carrying only the session id rehydrates from the store.
	responses, err := orch.ConverseSync(context.Background(), protocol.Request{
		UserID:      "u1",
		UserMessage: "9am",
		SessionID:   snapshot.ID,
	})
	require.NoError(t, err)
	last := responses[len(responses)-1]
	assert.Equal(t, core.StageNegotiation, last.UpdatedState.Stage)
}

func TestConverse_IDOnlyWithoutStoreFails(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, _, _, err := orch.Converse(context.Background(), protocol.Request{
		UserID:      "u1",
		UserMessage: "hi",
		SessionID:   "unknown",
	})
	require.Error(t, err)
}

func TestConverse_InvalidRequestFailsFast(t *testing.T) {
	orch := newTestOrchestrator(t)

	_, _, _, err := orch.Converse(context.Background(), protocol.Request{UserMessage: "hi"})
	require.Error(t, err)

	_, err = orch.ConverseSync(context.Background(), protocol.Request{UserID: "u1"})
	require.Error(t, err)
}

// stallingGenerator blocks inside Clarify until its context is canceled,
// so cancellation and timeout paths can be exercised deterministically.
type stallingGenerator struct {
	*model.MockGenerator
	started  chan struct{}
	once     sync.Once
	returned atomic.Bool
}

func newStallingGenerator() *stallingGenerator {
	return &stallingGenerator{MockGenerator: model.NewMockGenerator(), started: make(chan struct{})}
}

func (s *stallingGenerator) Clarify(ctx context.Context, _ model.ClarifyRequest) (model.Clarification, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	s.returned.Store(true)
	return model.Clarification{}, ctx.Err()
}

func TestConverse_CancelAbortsExchange(t *testing.T) {
	gen := newStallingGenerator()
	orch, err := New(gen)
	require.NoError(t, err)

	exchangeID, out, errCh, err := orch.Converse(context.Background(), protocol.Request{
		UserID:      "u1",
		UserMessage: "build something",
	})
	require.NoError(t, err)

	<-gen.started
	require.NoError(t, orch.Cancel(exchangeID))

	var responses []protocol.Response
	for resp := range out {
		responses = append(responses, resp)
	}
	// Cancellation still ends the stream with one terminal error response
	// carrying the checkpoint, so the caller keeps a resumable snapshot.
	require.NotEmpty(t, responses)
	last := responses[len(responses)-1]
	require.Equal(t, protocol.TypeError, last.Type)
	assert.True(t, last.IsFinal)
	assert.Equal(t, core.CodeCollaborator, last.Error.ErrorCode)
	assert.True(t, last.Error.IsRecoverable)
	require.NotNil(t, last.UpdatedState)
	assert.Equal(t, core.StageClarification, last.UpdatedState.Stage)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel did not close after cancel")
	}

	// The exchange leaves the registry once its goroutine winds down.
	assert.Eventually(t, func() bool {
		return orch.Cancel(exchangeID) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConverse_TimeoutSecondsBoundsTheExchange(t *testing.T) {
	gen := newStallingGenerator()
	orch, err := New(gen)
	require.NoError(t, err)

	start := time.Now()
	_, out, errCh, err := orch.Converse(context.Background(), protocol.Request{
		UserID:      "u1",
		UserMessage: "build something",
		Config:      protocol.CallConfig{TimeoutSeconds: 1},
	})
	require.NoError(t, err)

	var responses []protocol.Response
	deadline := time.After(5 * time.Second)
	for {
		select {
		case resp, ok := <-out:
			if !ok {
				out = nil
			} else {
				responses = append(responses, resp)
			}
		case <-deadline:
			t.Fatal("exchange did not end after the configured timeout")
		}
		if out == nil {
			break
		}
	}
	assert.Less(t, time.Since(start), 4*time.Second)

	require.NotEmpty(t, responses)
	last := responses[len(responses)-1]
	require.Equal(t, protocol.TypeError, last.Type)
	assert.True(t, last.IsFinal)
	assert.Equal(t, core.CodeCollaborator, last.Error.ErrorCode)
	assert.True(t, last.Error.IsRecoverable)
	require.NotNil(t, last.UpdatedState)

	assert.ErrorIs(t, <-errCh, context.DeadlineExceeded)
}

func TestConverse_MaxTurnsBoundsRounds(t *testing.T) {
	orch := newTestOrchestrator(t)

	sess := testutil.NewSessionBuilder().User("u1").
		Intent("daily digest").
		AtStage(core.StageNegotiation).Build()

	// Confirming the intent needs several engine rounds to reach a
	// workflow; a one-turn budget stops after the first.
	responses, err := orch.ConverseSync(context.Background(), protocol.Request{
		UserID:       "u1",
		UserMessage:  "yes",
		CurrentState: sess,
		Config:       protocol.CallConfig{MaxTurns: 1},
	})
	require.NoError(t, err)
	require.NotEmpty(t, responses)

	last := responses[len(responses)-1]
	require.Equal(t, protocol.TypeError, last.Type)
	assert.Equal(t, core.CodeStructural, last.Error.ErrorCode)
	require.NotNil(t, last.UpdatedState)
	assert.Equal(t, core.StageGapAnalysis, last.UpdatedState.Stage)
}

func TestInvoke_WaitsForLaunchedCallsOnCancel(t *testing.T) {
	gen := newStallingGenerator()
	orch, err := New(gen, func(o *Options) {
		o.MaxParallelCalls = 1
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-gen.started
		cancel()
	}()

	ex := &exchange{
		enc:     protocol.NewEncoder("s1"),
		limiter: core.NewCallLimiter(0),
		logger:  logging.NoOpLogger{},
		rounds:  maxRounds,
	}
	work := core.NewSession("u1", core.WorkflowContext{})
	plan := stage.Plan{Calls: []stage.Call{
		{Kind: stage.CallClarify, Parallel: true},
		{Kind: stage.CallClarify, Parallel: true},
	}}

	// The first call stalls under the single semaphore slot; acquiring the
	// second slot fails once the context is canceled. invoke must not
	// return while the first call still holds the shared outputs.
	_, err = orch.invoke(ctx, ex, work, plan, stage.Input{Message: "build something"})
	require.Error(t, err)
	assert.True(t, gen.returned.Load(), "in-flight call must finish before invoke returns")
}

func TestCancel_UnknownExchange(t *testing.T) {
	orch := newTestOrchestrator(t)
	assert.Error(t, orch.Cancel("nope"))
}
