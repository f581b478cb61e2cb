// Package stage implements the pure decision logic of the workflow-authoring
// dialogue. The Engine maps (session, user input) to the collaborator calls a
// round requires (Plan) and folds collaborator outputs back into the session
// (Apply), deciding the next stage along the explicit transition table in
// core. The package performs no I/O and is deterministic given its inputs.
package stage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowsmith-ai/flowsmith/core"
)

// Config bounds the two dialogue loops that could otherwise cycle forever:
// the DEBUG → WORKFLOW_GENERATION retry loop and the NEGOTIATION →
// CLARIFICATION back-edge.
type Config struct {
	// MaxDebugLoops is the number of failed validation rounds tolerated
	// before the session moves to ERROR.
	MaxDebugLoops int
	// MaxClarifyRounds is the number of NEGOTIATION → CLARIFICATION
	// round-trips tolerated before the session moves to ERROR.
	MaxClarifyRounds int
}

// DefaultConfig provides conservative loop bounds.
var DefaultConfig = Config{
	MaxDebugLoops:    3,
	MaxClarifyRounds: 3,
}

// Engine is the pure stage-transition component. It never touches
// collaborators or transports; the orchestrator owns those.
type Engine struct {
	cfg Config
}

// New constructs an Engine, replacing zero bounds with defaults.
func New(cfg Config) *Engine {
	if cfg.MaxDebugLoops <= 0 {
		cfg.MaxDebugLoops = DefaultConfig.MaxDebugLoops
	}
	if cfg.MaxClarifyRounds <= 0 {
		cfg.MaxClarifyRounds = DefaultConfig.MaxClarifyRounds
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective loop bounds.
func (e *Engine) Config() Config { return e.cfg }

// Plan inspects the session and user input and names the collaborator calls
// the next Apply requires. It never mutates the session. A terminal session
// yields a SessionTerminated error and no plan.
func (e *Engine) Plan(sess *core.Session, in Input) (Plan, error) {
	if sess.Terminal() {
		return Plan{}, core.NewSessionTerminated(sess.Stage)
	}

	switch sess.Stage {
	case core.StageClarification:
		if len(sess.Conversations) == 0 {
			// First exchange: derive questions, optionally priming the
			// knowledge context in parallel (the two calls are independent).
			calls := []Call{{Kind: CallClarify, Parallel: true}}
			if in.RetrievalEnabled && in.Message != "" {
				calls = append(calls, Call{Kind: CallRetrieve, Query: in.Message, Parallel: true})
			}
			return Plan{Calls: calls}, nil
		}
		if len(sess.Clarification.PendingQuestions) == 0 {
			return Plan{Calls: []Call{{Kind: CallSummarize}}}, nil
		}
		return Plan{}, nil

	case core.StageNegotiation:
		if in.Message == "" || confirms(in.Message) {
			return Plan{}, nil
		}
		// Correction: fresh questions are derived from the correcting text.
		return Plan{Calls: []Call{{Kind: CallClarify}}}, nil

	case core.StageGapAnalysis:
		return Plan{Calls: []Call{{Kind: CallGapScan}}}, nil

	case core.StageAlternativeGeneration:
		if len(sess.Alternatives) == 0 {
			return Plan{Calls: []Call{{Kind: CallAlternatives}}}, nil
		}
		return Plan{}, nil

	case core.StageWorkflowGeneration:
		var calls []Call
		if in.RetrievalEnabled {
			calls = append(calls, Call{Kind: CallRetrieve, Query: retrievalQuery(sess)})
		}
		calls = append(calls, Call{Kind: CallDraft})
		return Plan{Calls: calls}, nil

	case core.StageDebug:
		return Plan{Calls: []Call{{Kind: CallCheck}}}, nil
	}

	return Plan{}, core.NewStructuralError(fmt.Errorf("session in unhandled stage %q", sess.Stage))
}

// Apply folds the collaborator outputs of one round into the session,
// performs the stage transition, and returns the ordered emissions for the
// encoder. The caller passes a clone and owns checkpointing; on error the
// clone is discarded (except for loop-bound errors, where the ERROR
// transition is part of the result state).
func (e *Engine) Apply(sess *core.Session, plan Plan, out Outputs, in Input) (Result, error) {
	if sess.Terminal() {
		return Result{}, core.NewSessionTerminated(sess.Stage)
	}

	if in.Message != "" {
		sess.AppendTurn(core.RoleUser, in.Message, nil)
	}

	switch sess.Stage {
	case core.StageClarification:
		return e.applyClarification(sess, out, in)
	case core.StageNegotiation:
		return e.applyNegotiation(sess, out, in)
	case core.StageGapAnalysis:
		return e.applyGapAnalysis(sess, out)
	case core.StageAlternativeGeneration:
		return e.applyAlternatives(sess, out, in)
	case core.StageWorkflowGeneration:
		return e.applyGeneration(sess, out)
	case core.StageDebug:
		return e.applyDebug(sess, out)
	}

	return Result{}, core.NewStructuralError(fmt.Errorf("session in unhandled stage %q", sess.Stage))
}

func (e *Engine) applyClarification(sess *core.Session, out Outputs, in Input) (Result, error) {
	cl := &sess.Clarification

	// The distilled purpose is kept even when no questions come with it:
	// it feeds the retrieval query fallback later.
	if out.Purpose != "" {
		cl.Purpose = out.Purpose
	}

	// Fresh questions arrived (first exchange or negotiation back-edge).
	if len(out.Questions) > 0 {
		cl.PendingQuestions = dedupeQuestions(cl.PendingQuestions, cl.CollectedInfo, out.Questions)
		replaceRAG(sess, out)
		msg := questionMessage(cl.PendingQuestions)
		appendAssistantTurn(sess, msg.Text)
		return Result{Emissions: []Emission{messageEmission(msg)}}, nil
	}

	// An answer to a pending question.
	if in.Message != "" && len(cl.PendingQuestions) > 0 {
		q := e.matchQuestion(cl.PendingQuestions, in.Message)
		if cl.CollectedInfo == nil {
			cl.CollectedInfo = map[string]string{}
		}
		cl.CollectedInfo[q.Key] = in.Message
		cl.PendingQuestions = removeQuestion(cl.PendingQuestions, q.Key)

		if len(cl.PendingQuestions) == 0 {
			// All questions answered; the next round distills the intent.
			return Result{Continue: true}, nil
		}
		msg := questionMessage(cl.PendingQuestions)
		appendAssistantTurn(sess, msg.Text)
		return Result{Emissions: []Emission{messageEmission(msg)}}, nil
	}

	// Intent summary arrived: advance to negotiation.
	if out.IntentSummary != "" {
		sess.IntentSummary = out.IntentSummary
		if err := sess.RecordTransition(core.StageNegotiation); err != nil {
			return Result{}, core.NewStructuralError(err)
		}
		text := fmt.Sprintf("Here is what I understood: %s\nShall I proceed on that basis?", sess.IntentSummary)
		appendAssistantTurn(sess, text)
		return Result{Emissions: []Emission{
			statusEmission(sess, "confirm_intent"),
			messageEmission(MessagePayload{Text: text, Type: MessageText}),
		}}, nil
	}

	// Nothing actionable: repeat the open questions.
	if len(cl.PendingQuestions) > 0 {
		msg := questionMessage(cl.PendingQuestions)
		return Result{Emissions: []Emission{messageEmission(msg)}}, nil
	}
	return Result{Continue: true}, nil
}

func (e *Engine) applyNegotiation(sess *core.Session, out Outputs, in Input) (Result, error) {
	if in.Message == "" {
		text := fmt.Sprintf("Current understanding: %s\nDoes that match what you want?", sess.IntentSummary)
		return Result{Emissions: []Emission{messageEmission(MessagePayload{Text: text, Type: MessageText})}}, nil
	}

	if confirms(in.Message) {
		if err := sess.RecordTransition(core.StageGapAnalysis); err != nil {
			return Result{}, core.NewStructuralError(err)
		}
		return Result{Emissions: []Emission{statusEmission(sess)}, Continue: true}, nil
	}

	// Correction: back-edge to clarification, bounded like the debug loop.
	sess.ClarifyRoundCount++
	if sess.ClarifyRoundCount > e.cfg.MaxClarifyRounds {
		if err := sess.RecordTransition(core.StageError); err != nil {
			return Result{}, core.NewStructuralError(err)
		}
		return Result{}, core.NewLoopExceeded("clarification", sess.ClarifyRoundCount, e.cfg.MaxClarifyRounds)
	}

	if err := sess.RecordTransition(core.StageClarification); err != nil {
		return Result{}, core.NewStructuralError(err)
	}
	cl := &sess.Clarification
	cl.PendingQuestions = dedupeQuestions(cl.PendingQuestions, cl.CollectedInfo, out.Questions)
	if len(cl.PendingQuestions) == 0 {
		// The correction raised nothing new to ask; re-summarize directly.
		return Result{Emissions: []Emission{statusEmission(sess, "answer_pending_questions")}, Continue: true}, nil
	}
	msg := questionMessage(cl.PendingQuestions)
	appendAssistantTurn(sess, msg.Text)
	return Result{Emissions: []Emission{
		statusEmission(sess, "answer_pending_questions"),
		messageEmission(msg),
	}}, nil
}

func (e *Engine) applyGapAnalysis(sess *core.Session, out Outputs) (Result, error) {
	// Replaced wholesale on every rerun, never merged.
	sess.Gaps = append([]string(nil), out.Gaps...)

	if len(sess.Gaps) == 0 {
		if err := sess.RecordTransition(core.StageWorkflowGeneration); err != nil {
			return Result{}, core.NewStructuralError(err)
		}
		return Result{Emissions: []Emission{statusEmission(sess)}, Continue: true}, nil
	}

	if err := sess.RecordTransition(core.StageAlternativeGeneration); err != nil {
		return Result{}, core.NewStructuralError(err)
	}
	return Result{Emissions: []Emission{statusEmission(sess, "select_alternative")}, Continue: true}, nil
}

func (e *Engine) applyAlternatives(sess *core.Session, out Outputs, in Input) (Result, error) {
	if len(out.Alternatives) > 0 {
		sess.Alternatives = append([]core.Alternative(nil), out.Alternatives...)
		msg := optionsMessage(sess.Alternatives, sess.Gaps)
		appendAssistantTurn(sess, msg.Text)
		return Result{Emissions: []Emission{messageEmission(msg)}}, nil
	}

	alt, ok := selectAlternative(sess.Alternatives, in.Message)
	if !ok {
		msg := optionsMessage(sess.Alternatives, sess.Gaps)
		return Result{Emissions: []Emission{messageEmission(msg)}}, nil
	}

	// Fold the chosen approach into the distilled intent.
	sess.IntentSummary = strings.TrimSpace(sess.IntentSummary + "\nChosen approach: " + alt.Approach)
	if err := sess.RecordTransition(core.StageWorkflowGeneration); err != nil {
		return Result{}, core.NewStructuralError(err)
	}
	return Result{Emissions: []Emission{statusEmission(sess)}, Continue: true}, nil
}

func (e *Engine) applyGeneration(sess *core.Session, out Outputs) (Result, error) {
	if out.Workflow == nil {
		return Result{}, core.NewStructuralError(fmt.Errorf("generation round produced no workflow document"))
	}

	replaceRAG(sess, out)
	sess.CurrentWorkflow = out.Workflow

	if err := sess.RecordTransition(core.StageDebug); err != nil {
		return Result{}, core.NewStructuralError(err)
	}
	text := fmt.Sprintf("Drafted workflow %q with %d steps; validating now.", out.Workflow.Name, len(out.Workflow.Steps))
	appendAssistantTurn(sess, text)
	return Result{Emissions: []Emission{
		messageEmission(MessagePayload{Text: text, Type: MessageText}),
		statusEmission(sess),
	}, Continue: true}, nil
}

func (e *Engine) applyDebug(sess *core.Session, out Outputs) (Result, error) {
	if !out.CheckDone {
		return Result{}, core.NewStructuralError(fmt.Errorf("debug round ran without a validation result"))
	}
	if sess.CurrentWorkflow == nil {
		return Result{}, core.NewStructuralError(fmt.Errorf("debug stage reached without a workflow document"))
	}

	if out.CheckOK {
		sess.DebugResult = ""
		if err := sess.RecordTransition(core.StageCompleted); err != nil {
			return Result{}, core.NewStructuralError(err)
		}
		text := fmt.Sprintf("Workflow %q validated successfully and is ready to use.", sess.CurrentWorkflow.Name)
		appendAssistantTurn(sess, text)
		return Result{Emissions: []Emission{
			statusEmission(sess),
			messageEmission(MessagePayload{Text: text, Type: MessageText}),
		}}, nil
	}

	sess.DebugLoopCount++
	sess.DebugResult = out.Diagnostic

	if sess.DebugLoopCount >= e.cfg.MaxDebugLoops {
		if err := sess.RecordTransition(core.StageError); err != nil {
			return Result{}, core.NewStructuralError(err)
		}
		return Result{}, core.NewLoopExceeded("debug", sess.DebugLoopCount, e.cfg.MaxDebugLoops)
	}

	if err := sess.RecordTransition(core.StageWorkflowGeneration); err != nil {
		return Result{}, core.NewStructuralError(err)
	}
	// A retry after a failed check announces itself as a fresh status, not a
	// second error for the same cause.
	return Result{Emissions: []Emission{
		statusEmission(sess, fmt.Sprintf("regenerate_after_failure_%d", sess.DebugLoopCount)),
	}, Continue: true}, nil
}

// matchQuestion resolves which pending question a message answers. A message
// whose shape matches a question's hint is taken as that question's answer;
// otherwise it is routed to the head question as free-form feedback.
func (e *Engine) matchQuestion(pending []core.Question, msg string) core.Question {
	for _, q := range pending {
		if shapeMatches(q.Hint, msg) {
			return q
		}
	}
	return pending[0]
}

func shapeMatches(hint, msg string) bool {
	if hint == "" {
		return false
	}
	h := strings.ToLower(hint)
	m := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(h, "yes/no"):
		return m == "yes" || m == "no" || m == "y" || m == "n"
	case strings.Contains(h, "time"):
		return strings.ContainsAny(m, "0123456789:") ||
			strings.Contains(m, "am") || strings.Contains(m, "pm") ||
			strings.Contains(m, "noon") || strings.Contains(m, "midnight")
	case strings.Contains(h, "number"):
		_, err := strconv.ParseFloat(m, 64)
		return err == nil
	}
	return false
}

// confirms classifies a negotiation message as agreement.
func confirms(msg string) bool {
	m := strings.ToLower(strings.TrimSpace(strings.TrimRight(msg, ".!")))
	switch m {
	case "yes", "y", "ok", "okay", "sure", "confirm", "confirmed", "correct",
		"right", "that's right", "looks good", "lgtm", "sounds good",
		"proceed", "go ahead", "exactly", "yep", "yeah":
		return true
	}
	return strings.HasPrefix(m, "yes,") || strings.HasPrefix(m, "yes ")
}

// selectAlternative matches a selection message against the retained
// alternatives by id, one-based index, or title substring.
func selectAlternative(alts []core.Alternative, msg string) (core.Alternative, bool) {
	m := strings.ToLower(strings.TrimSpace(msg))
	if m == "" {
		return core.Alternative{}, false
	}
	if idx, err := strconv.Atoi(m); err == nil && idx >= 1 && idx <= len(alts) {
		return alts[idx-1], true
	}
	for _, a := range alts {
		if strings.EqualFold(a.ID, m) {
			return a, true
		}
	}
	for _, a := range alts {
		if a.Title != "" && strings.Contains(m, strings.ToLower(a.Title)) {
			return a, true
		}
	}
	for _, a := range alts {
		if a.Title != "" && strings.Contains(strings.ToLower(a.Title), m) {
			return a, true
		}
	}
	return core.Alternative{}, false
}

// dedupeQuestions merges fresh questions into the pending set, dropping any
// whose key was already asked or answered so a question is never re-asked.
func dedupeQuestions(pending []core.Question, collected map[string]string, fresh []core.Question) []core.Question {
	known := make(map[string]bool, len(pending)+len(collected))
	for _, q := range pending {
		known[q.Key] = true
	}
	for k := range collected {
		known[k] = true
	}
	out := append([]core.Question(nil), pending...)
	for _, q := range fresh {
		if q.Key == "" || known[q.Key] {
			continue
		}
		known[q.Key] = true
		out = append(out, q)
	}
	return out
}

func removeQuestion(pending []core.Question, key string) []core.Question {
	out := pending[:0]
	for _, q := range pending {
		if q.Key != key {
			out = append(out, q)
		}
	}
	return out
}

func questionMessage(pending []core.Question) MessagePayload {
	var b strings.Builder
	if len(pending) == 1 {
		b.WriteString(pending[0].Text)
	} else {
		b.WriteString("I need a few details:")
		for _, q := range pending {
			b.WriteString("\n- ")
			b.WriteString(q.Text)
		}
	}
	return MessagePayload{
		Text:      b.String(),
		Type:      MessageQuestion,
		Questions: append([]core.Question(nil), pending...),
	}
}

func optionsMessage(alts []core.Alternative, gaps []string) MessagePayload {
	var b strings.Builder
	b.WriteString("Some requirements are still open")
	if len(gaps) > 0 {
		b.WriteString(" (" + strings.Join(gaps, "; ") + ")")
	}
	b.WriteString(". Pick an approach:")
	for i, a := range alts {
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, a.Title, a.Description)
	}
	return MessagePayload{
		Text:         b.String(),
		Type:         MessageOptions,
		Alternatives: append([]core.Alternative(nil), alts...),
	}
}

func retrievalQuery(sess *core.Session) string {
	if sess.IntentSummary != "" {
		return sess.IntentSummary
	}
	return sess.Clarification.Purpose
}

func replaceRAG(sess *core.Session, out Outputs) {
	if out.Hits == nil && out.RetrievalQuery == "" {
		return
	}
	sess.RAGContext = &core.RAGContext{
		Results:   append([]core.KnowledgeHit(nil), out.Hits...),
		Query:     out.RetrievalQuery,
		Timestamp: sess.UpdatedAt,
	}
}

func appendAssistantTurn(sess *core.Session, text string) {
	sess.AppendTurn(core.RoleAssistant, text, nil)
}
