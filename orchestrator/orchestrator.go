// Package orchestrator coordinates one conversational exchange at a time:
// it hydrates the session snapshot, drives the stage engine through planning
// rounds, invokes collaborators (generation, retrieval, validation), and
// streams protocol responses back to the caller. Public methods are safe for
// concurrent use.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/logging"
	"github.com/flowsmith-ai/flowsmith/model"
	"github.com/flowsmith-ai/flowsmith/protocol"
	"github.com/flowsmith-ai/flowsmith/retrieval"
	"github.com/flowsmith-ai/flowsmith/session"
	"github.com/flowsmith-ai/flowsmith/stage"
	"github.com/flowsmith-ai/flowsmith/validate"
)

// maxRounds bounds engine rounds per exchange independently of the
// collaborator call limit, so a planning bug cannot spin forever.
const maxRounds = 16

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Engine sets the stage engine loop bounds.
	Engine stage.Config
	// Checker validates drafted workflows. Defaults to the schema checker.
	Checker validate.Checker
	// Retriever serves knowledge lookups. Nil disables retrieval entirely.
	Retriever retrieval.Retriever
	// SnapshotStore, when set, caches the latest snapshot per session so
	// transports can rehydrate from an id alone.
	SnapshotStore session.SnapshotStore
	// Logger receives structured diagnostics.
	Logger logging.Logger
	// ResponseBufferSize sets channel buffering for streamed responses.
	ResponseBufferSize int
	// CallTimeout bounds each collaborator call.
	CallTimeout time.Duration
	// MaxCollaboratorCalls limits total collaborator calls per exchange.
	MaxCollaboratorCalls int
	// MaxParallelCalls limits concurrently issued collaborator calls.
	MaxParallelCalls int64
	// RetrievalLimit caps hits per retrieval query.
	RetrievalLimit int
}

// Orchestrator drives exchanges against a generation collaborator.
type Orchestrator struct {
	generator model.Generator
	engine    *stage.Engine
	checker   validate.Checker
	retriever retrieval.Retriever
	store     session.SnapshotStore
	logger    logging.Logger

	bufSize        int
	callTimeout    time.Duration
	maxCalls       int
	maxParallel    int64
	retrievalLimit int

	activeExchanges map[string]context.CancelFunc
	mu              sync.RWMutex
}

// New constructs an Orchestrator with optional overrides.
func New(generator model.Generator, optFns ...func(o *Options)) (*Orchestrator, error) {
	opts := Options{
		Engine:               stage.DefaultConfig,
		Logger:               logging.NoOpLogger{},
		ResponseBufferSize:   32,
		CallTimeout:          60 * time.Second,
		MaxCollaboratorCalls: 30,
		MaxParallelCalls:     4,
		RetrievalLimit:       5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Checker == nil {
		checker, err := validate.NewSchemaChecker()
		if err != nil {
			return nil, fmt.Errorf("default checker: %w", err)
		}
		opts.Checker = checker
	}

	return &Orchestrator{
		generator:       generator,
		engine:          stage.New(opts.Engine),
		checker:         opts.Checker,
		retriever:       opts.Retriever,
		store:           opts.SnapshotStore,
		logger:          opts.Logger,
		bufSize:         opts.ResponseBufferSize,
		callTimeout:     opts.CallTimeout,
		maxCalls:        opts.MaxCollaboratorCalls,
		maxParallel:     opts.MaxParallelCalls,
		retrievalLimit:  opts.RetrievalLimit,
		activeExchanges: make(map[string]context.CancelFunc),
	}, nil
}

// Converse starts an asynchronous exchange and streams responses.
//
// Contract:
//   - Domain failures (terminated session, collaborator failure, exceeded
//     loop bound) arrive as ERROR responses on the response channel, with
//     IsFinal set. Cancellation and the per-call TimeoutSeconds bound also
//     end the stream with a final ERROR response carrying the checkpoint,
//     and additionally surface the context error on the error channel.
//   - Exactly one response per exchange has IsFinal set.
//   - The final response carries the updated snapshot; the caller must send
//     that snapshot back on the next exchange.
//   - Both channels close when the exchange ends.
func (o *Orchestrator) Converse(ctx context.Context, req protocol.Request) (string, <-chan protocol.Response, <-chan error, error) {
	if err := req.Validate(); err != nil {
		return "", nil, nil, fmt.Errorf("invalid request: %w", err)
	}

	sess, err := o.hydrate(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}

	exchangeID := uuid.NewString()

	out := make(chan protocol.Response, o.bufSize)
	errCh := make(chan error, 1)

	var cancel context.CancelFunc
	if secs := req.Config.TimeoutSeconds; secs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	o.mu.Lock()
	o.activeExchanges[exchangeID] = cancel
	o.mu.Unlock()

	ex := &exchange{
		enc:      protocol.NewEncoder(sess.ID),
		limiter:  core.NewCallLimiter(o.maxCalls),
		language: req.Config.Language,
		logger:   o.logger,
		rounds:   maxRounds,
	}
	if mt := req.Config.MaxTurns; mt > 0 && mt < maxRounds {
		ex.rounds = mt
	}
	in := stage.Input{
		Message:          req.UserMessage,
		RetrievalEnabled: req.Config.EnableRAG && o.retriever != nil,
	}

	go func() {
		defer func() {
			close(out)
			close(errCh)
			o.mu.Lock()
			delete(o.activeExchanges, exchangeID)
			o.mu.Unlock()
			cancel()
		}()
		o.run(ctx, ex, sess, in, out, errCh)
	}()

	return exchangeID, out, errCh, nil
}

// ConverseSync runs an exchange to completion and returns all responses in
// order. The last response is the final one.
func (o *Orchestrator) ConverseSync(ctx context.Context, req protocol.Request) ([]protocol.Response, error) {
	_, out, errCh, err := o.Converse(ctx, req)
	if err != nil {
		return nil, err
	}
	var responses []protocol.Response
	for resp := range out {
		responses = append(responses, resp)
	}
	if err := <-errCh; err != nil {
		return responses, err
	}
	return responses, nil
}

// Cancel cancels a running exchange by ID.
func (o *Orchestrator) Cancel(exchangeID string) error {
	o.mu.Lock()
	cancel, exists := o.activeExchanges[exchangeID]
	o.mu.Unlock()

	if !exists {
		return fmt.Errorf("exchange %s not found", exchangeID)
	}

	cancel()

	return nil
}

// hydrate resolves the session snapshot the exchange starts from: the
// caller-held snapshot when present, the server-side store as a fallback,
// or a fresh session for a first exchange.
func (o *Orchestrator) hydrate(ctx context.Context, req protocol.Request) (*core.Session, error) {
	if req.CurrentState != nil {
		return req.CurrentState.Clone(), nil
	}
	if req.SessionID != "" {
		if o.store == nil {
			return nil, fmt.Errorf("session %s: no snapshot provided and no snapshot store configured", req.SessionID)
		}
		sess, err := o.store.Load(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
		}
		return sess, nil
	}
	var wctx core.WorkflowContext
	if req.WorkflowContext != nil {
		wctx = *req.WorkflowContext
	}
	return core.NewSession(req.UserID, wctx), nil
}

// exchange carries per-exchange state shared between the round loop and the
// collaborator dispatch.
type exchange struct {
	enc      *protocol.Encoder
	limiter  *core.CallLimiter
	language string
	logger   logging.Logger
	rounds   int
}

// run drives the round loop for one exchange.
//
// Each round clones nothing: the working copy was cloned once during
// hydration, and checkpoint preserves the pre-round state so a recoverable
// collaborator failure rolls the exchange back to the last consistent
// snapshot.
func (o *Orchestrator) run(
	ctx context.Context,
	ex *exchange,
	work *core.Session,
	in stage.Input,
	out chan<- protocol.Response,
	errCh chan<- error,
) {
	start := time.Now()
	checkpoint := work.Clone()

	for round := 0; ; round++ {
		if round >= ex.rounds {
			o.emitError(ctx, ex, out, core.NewStructuralError(fmt.Errorf("exchange exceeded %d rounds", ex.rounds)), checkpoint)
			return
		}

		plan, err := o.engine.Plan(work, in)
		if err != nil {
			o.emitError(ctx, ex, out, err, checkpoint)
			return
		}

		outputs, err := o.invoke(ctx, ex, work, plan, in)
		if err != nil {
			if ctx.Err() != nil {
				o.abort(ex, out, errCh, err, ctx.Err(), checkpoint)
				return
			}
			// Recoverable failure: the working copy may hold partial
			// state, so the checkpoint is what the caller keeps.
			o.emitError(ctx, ex, out, err, checkpoint)
			return
		}

		result, err := o.engine.Apply(work, plan, outputs, in)
		if err != nil {
			// Loop bounds transition the session to ERROR before
			// returning, and that transition must survive; everything
			// else rolls back.
			snapshot := checkpoint
			if coreErr, ok := core.AsError(err); ok && coreErr.Code == core.CodeLoopExceeded {
				snapshot = work
			}
			o.emitError(ctx, ex, out, err, snapshot)
			return
		}
		in.Message = ""

		for _, em := range result.Emissions {
			if !o.deliver(ctx, out, ex.enc.Emission(em, nil)) {
				o.abort(ex, out, errCh, ctx.Err(), ctx.Err(), checkpoint)
				return
			}
		}

		if !result.Continue {
			break
		}
		checkpoint = work.Clone()
	}

	if !o.deliver(ctx, out, ex.enc.Final(work)) {
		o.abort(ex, out, errCh, ctx.Err(), ctx.Err(), work)
		return
	}

	if o.store != nil {
		if err := o.store.Save(ctx, work); err != nil {
			o.logger.Warn("failed to cache session snapshot session_id=%s err=%v", work.ID, err)
		}
	}

	o.logger.Info("exchange completed session_id=%s stage=%s calls=%d duration=%s",
		work.ID, work.Stage, ex.limiter.Count(), time.Since(start))
}

// abort ends a canceled or timed-out exchange. The stream still gets its
// single terminal ERROR response carrying the checkpoint; the context error
// goes on the error channel. The response channel is buffered and stays open
// until run returns, so the send cannot block on a departed consumer.
func (o *Orchestrator) abort(ex *exchange, out chan<- protocol.Response, errCh chan<- error, err, cause error, snapshot *core.Session) {
	if _, ok := core.AsError(err); !ok {
		err = core.NewExchangeAborted(cause)
	}
	o.logger.Error("exchange aborted session_id=%s cause=%v", snapshot.ID, cause)
	select {
	case out <- ex.enc.Error(err, snapshot):
	default:
	}
	o.deliverErr(errCh, cause)
}

func (o *Orchestrator) emitError(ctx context.Context, ex *exchange, out chan<- protocol.Response, err error, snapshot *core.Session) {
	o.logger.Error("exchange failed session_id=%s err=%v", snapshot.ID, err)
	o.deliver(ctx, out, ex.enc.Error(err, snapshot))
}

func (o *Orchestrator) deliver(ctx context.Context, out chan<- protocol.Response, resp protocol.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- resp:
		return true
	}
}

func (o *Orchestrator) deliverErr(errCh chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case errCh <- err:
	default:
	}
}
