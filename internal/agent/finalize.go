// File: internal/agent/finalize.go
package agent

import (
	"context"
	"strings"

	"github.com/xkilldash9x/balatro-agent/internal/llmutil"
)

const reasoningLimit = 200

type taskDonePayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// finalizeStage closes a flat session. Sessions already finished by the
// budget or stuck checks keep their result.
func (e *Engine) finalizeStage(_ context.Context, s *Session) Route {
	if s.Done {
		return RouteEnd
	}

	resp := s.LastResponse
	if resp == nil || len(resp.ToolCalls) > 0 {
		// Reached through the step ceiling with work still pending.
		s.finish(Result{Reason: ReasonMaxIterations, Iterations: s.Step, Description: s.summarize(ReasonMaxIterations)})
		return RouteEnd
	}

	s.finish(completionResult(s, resp.Content))
	return RouteEnd
}

// completionResult classifies worker text that carried no tool call.
func completionResult(s *Session, text string) Result {
	text = strings.TrimSpace(text)
	r := Result{Iterations: s.Step}

	if idx := strings.Index(text, taskDoneTag); idx >= 0 {
		if before := strings.TrimSpace(text[:idx]); before != "" {
			r.WorkerReasoning = llmutil.Truncate(before, reasoningLimit)
		}
		payload, _ := llmutil.SplitTag(text[idx:], taskDoneTag)
		done, err := llmutil.ParseJSONResponse[taskDonePayload](payload)
		if err != nil || strings.TrimSpace(done.Reason) == "" {
			r.Success, r.Reason = true, ReasonCompleted
		} else {
			r.Success, r.Reason = done.Success, Reason(strings.TrimSpace(done.Reason))
		}
		r.Description = s.summarize(r.Reason)
		return r
	}

	if text == "" {
		r.WorkerReasoning = "No reasoning provided"
	} else {
		r.WorkerReasoning = llmutil.Truncate(text, reasoningLimit)
	}
	if looksComplete(text) {
		r.Success, r.Reason = true, ReasonCompleted
	} else {
		r.Reason = ReasonNoAction
	}
	r.Description = s.summarize(r.Reason)
	return r
}

var (
	failureMarkers    = []string{"not complete", "not completed", "not finished", "incomplete", "impossible", "cannot", "can't", "unable", "stuck", "failed"}
	completionMarkers = []string{"complete", "completed", "done", "finished", "accomplished"}
)

// looksComplete is the fallback classification for completion text without
// a TASK_DONE tag.
func looksComplete(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range completionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// outputStage closes a hierarchical session from the planner's decisions.
func (e *Engine) outputStage(_ context.Context, s *Session) Route {
	if s.Done {
		return RouteEnd
	}

	r := Result{Iterations: s.Step, Description: s.Output()}
	last, ok := s.LastDecision()
	switch {
	case !ok:
		r.Reason = ReasonError
	case last.Malformed:
		r.Reason = ReasonNoAction
	case last.Action == ActionFinish && last.Summary != "":
		r.Success, r.Reason = true, ReasonCompleted
	case last.Action == ActionFinish:
		r.Reason = ReasonNoAction
	default:
		r.Reason = ReasonMaxIterations
	}
	s.finish(r)
	return RouteEnd
}
