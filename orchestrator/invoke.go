package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/model"
	"github.com/flowsmith-ai/flowsmith/stage"
)

// invoke executes the collaborator calls a plan requires and aggregates
// their outputs. Calls marked Parallel run concurrently under the
// orchestrator's semaphore; the rest run in declaration order afterwards,
// so a sequential call can consume the outputs of the parallel group
// (drafting consumes retrieval hits this way).
func (o *Orchestrator) invoke(
	ctx context.Context,
	ex *exchange,
	work *core.Session,
	plan stage.Plan,
	in stage.Input,
) (stage.Outputs, error) {
	var outputs stage.Outputs
	if len(plan.Calls) == 0 {
		return outputs, nil
	}

	var parallel, sequential []stage.Call
	for _, call := range plan.Calls {
		if call.Parallel {
			parallel = append(parallel, call)
		} else {
			sequential = append(sequential, call)
		}
	}

	if len(parallel) > 0 {
		sem := semaphore.NewWeighted(o.maxParallel)
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for _, call := range parallel {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Launched calls still hold &outputs; they must finish
				// before it escapes.
				wg.Wait()
				return outputs, err
			}
			wg.Add(1)
			go func(call stage.Call) {
				defer wg.Done()
				defer sem.Release(1)
				err := o.call(ctx, ex, work, call, in, &outputs, &mu)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}(call)
		}
		wg.Wait()
		if firstErr != nil {
			return outputs, firstErr
		}
	}

	var mu sync.Mutex
	for _, call := range sequential {
		if err := o.call(ctx, ex, work, call, in, &outputs, &mu); err != nil {
			return outputs, err
		}
	}

	return outputs, nil
}

// call executes a single collaborator invocation under the per-call timeout
// and records its outputs. Retrieval failures degrade to an empty hit set;
// every other collaborator failure aborts the round.
func (o *Orchestrator) call(
	ctx context.Context,
	ex *exchange,
	work *core.Session,
	call stage.Call,
	in stage.Input,
	outputs *stage.Outputs,
	mu *sync.Mutex,
) error {
	if err := ex.limiter.Increment(); err != nil {
		return core.NewLoopExceeded("collaborator_calls", ex.limiter.Count(), o.maxCalls)
	}

	cctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	err := o.dispatch(cctx, ex, work, call, in, outputs, mu)
	o.logger.Debug("collaborator call kind=%s session_id=%s duration=%s budget_remaining=%d err=%v",
		call.Kind, work.ID, time.Since(start), ex.limiter.Remaining(), err)
	return err
}

func (o *Orchestrator) dispatch(
	ctx context.Context,
	ex *exchange,
	work *core.Session,
	call stage.Call,
	in stage.Input,
	outputs *stage.Outputs,
	mu *sync.Mutex,
) error {
	switch call.Kind {
	case stage.CallClarify:
		clarification, err := o.generator.Clarify(ctx, model.ClarifyRequest{
			Message:   in.Message,
			Origin:    work.Clarification.Origin,
			Collected: work.Clarification.CollectedInfo,
			Language:  ex.language,
		})
		if err != nil {
			return core.NewCollaboratorError("generator", err)
		}
		mu.Lock()
		outputs.Purpose = clarification.Purpose
		outputs.Questions = clarification.Questions
		mu.Unlock()

	case stage.CallSummarize:
		summary, err := o.generator.Summarize(ctx, model.SummarizeRequest{
			Purpose:       work.Clarification.Purpose,
			Collected:     work.Clarification.CollectedInfo,
			Conversations: work.Conversations,
			Language:      ex.language,
		})
		if err != nil {
			return core.NewCollaboratorError("generator", err)
		}
		mu.Lock()
		outputs.IntentSummary = summary
		mu.Unlock()

	case stage.CallGapScan:
		gaps, err := o.generator.ScanGaps(ctx, model.GapRequest{
			IntentSummary: work.IntentSummary,
			Collected:     work.Clarification.CollectedInfo,
		})
		if err != nil {
			return core.NewCollaboratorError("generator", err)
		}
		mu.Lock()
		outputs.Gaps = gaps
		mu.Unlock()

	case stage.CallAlternatives:
		alts, err := o.generator.Alternatives(ctx, model.AlternativesRequest{
			IntentSummary: work.IntentSummary,
			Gaps:          work.Gaps,
		})
		if err != nil {
			return core.NewCollaboratorError("generator", err)
		}
		mu.Lock()
		outputs.Alternatives = alts
		mu.Unlock()

	case stage.CallDraft:
		req := model.DraftRequest{
			IntentSummary: work.IntentSummary,
			Context:       work.WorkflowContext,
			Collected:     work.Clarification.CollectedInfo,
			Language:      ex.language,
		}
		mu.Lock()
		req.Hits = outputs.Hits
		mu.Unlock()
		if len(req.Hits) == 0 && work.RAGContext != nil {
			req.Hits = work.RAGContext.Results
		}
		if work.DebugResult != "" {
			req.Diagnostic = work.DebugResult
			req.Previous = work.CurrentWorkflow
		}
		wf, err := o.generator.Draft(ctx, req)
		if err != nil {
			return core.NewCollaboratorError("generator", err)
		}
		mu.Lock()
		outputs.Workflow = wf
		mu.Unlock()

	case stage.CallRetrieve:
		if o.retriever == nil {
			return nil
		}
		hits, err := o.retriever.Retrieve(ctx, call.Query, o.retrievalLimit)
		if err != nil {
			// Retrieval is an enrichment: a failed lookup costs grounding,
			// not the exchange.
			o.logger.Warn("retrieval failed session_id=%s query=%q err=%v", work.ID, call.Query, err)
			return nil
		}
		mu.Lock()
		outputs.Hits = hits
		outputs.RetrievalQuery = call.Query
		mu.Unlock()

	case stage.CallCheck:
		res, err := o.checker.Check(ctx, work.CurrentWorkflow)
		if err != nil {
			return core.NewCollaboratorError("validator", err)
		}
		mu.Lock()
		outputs.CheckDone = true
		outputs.CheckOK = res.OK
		outputs.Diagnostic = res.Diagnostic
		mu.Unlock()

	default:
		return core.NewStructuralError(errUnknownCall(call.Kind))
	}

	return nil
}

type errUnknownCall stage.CallKind

func (e errUnknownCall) Error() string {
	return "unknown collaborator call kind: " + string(e)
}
