// File: internal/agent/planner.go
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/llmutil"
)

// plannerPayload accepts both "subtask" and "sub_task" spellings.
type plannerPayload struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
	Subtask   string `json:"subtask"`
	SubTask   string `json:"sub_task"`
	Summary   string `json:"summary"`
}

// plannerStage decides whether to delegate another subtask or finish.
func (e *Engine) plannerStage(ctx context.Context, s *Session) Route {
	req := schemas.GenerationRequest{
		SystemPrompt: plannerPrompt,
		Messages:     plannerMessages(s),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	}

	resp, err := e.generate(ctx, s, "planner", req)
	var decision PlannerDecision
	if err != nil {
		decision = PlannerDecision{Action: ActionFinish, Summary: plannerFailureSummary(err), Malformed: true}
	} else {
		decision = parseDecision(resp.Content)
	}
	if decision.Malformed {
		e.logger.Warn("Planner output unusable, finishing.",
			zap.String("session_id", s.ID),
			zap.String("response", llmutil.Truncate(contentOf(resp), 200)))
	} else {
		e.logger.Info("Planner decision.",
			zap.String("session_id", s.ID),
			zap.String("action", string(decision.Action)),
			zap.String("subtask", decision.Subtask))
	}

	s.Subtasks = append(s.Subtasks, decision)
	s.PlannerStep++
	s.WorkerStep = 0
	s.WorkerResponses = nil
	s.LastResponse = nil
	s.workerErr = nil
	return RouteAfterPlanner(s, e.cfg.MaxPlannerSteps)
}

// plannerMessages assembles the planner input: the task, the latest game state
// with its screenshot and, after the first cycle, the outcome of the last
// delegated subtask.
func plannerMessages(s *Session) []schemas.Message {
	msgs := []schemas.Message{schemas.TextMessage(schemas.RoleUser, "This is the main task: \n"+s.Task)}

	gs, _ := s.lastGameState()
	current := schemas.Message{
		Role:  schemas.RoleUser,
		Parts: []schemas.ContentPart{{Text: "This is the current game state: \n" + gs.Describe()}},
	}
	if obs, ok := s.CurrentObservation(); ok && len(obs.Image) > 0 {
		current.Parts = append(current.Parts, schemas.ContentPart{Image: &schemas.ImagePart{MIMEType: "image/png", Data: obs.Image}})
	}
	msgs = append(msgs, current)

	if last, ok := s.LastDecision(); ok {
		msgs = append(msgs, schemas.Message{
			Role: schemas.RoleUser,
			Parts: []schemas.ContentPart{
				{Text: "This is the last subtask you assigned to the worker: \n" + last.Subtask},
				{Text: "This is the result of the last subtask executed by the worker: \n" + workerResult(s)},
				{Text: keepWorking},
			},
		})
	}
	return msgs
}

// workerResult summarizes how the worker left the last subtask.
func workerResult(s *Session) string {
	if s.workerErr != nil {
		return fmt.Sprintf("The worker request failed: %v", s.workerErr)
	}
	last := s.lastWorkerResponse()
	switch {
	case last == nil:
		return workerNoResponse
	case len(last.ToolCalls) > 0:
		return workerUnsolved
	}
	if text := strings.TrimSpace(last.Content); text != "" {
		return text
	}
	return workerNoResponse
}

// parseDecision turns planner output into a decision. Unparsable output, an
// unknown action or a delegate without a subtask become a malformed finish.
func parseDecision(content string) PlannerDecision {
	payload, err := llmutil.ParseJSONResponse[plannerPayload](content)
	if err != nil {
		return PlannerDecision{Action: ActionFinish, Summary: plannerFailureSummary(err), Malformed: true}
	}

	subtask := strings.TrimSpace(payload.Subtask)
	if subtask == "" {
		subtask = strings.TrimSpace(payload.SubTask)
	}
	reasoning := strings.TrimSpace(payload.Reasoning)

	switch DecisionAction(strings.ToLower(strings.TrimSpace(payload.Action))) {
	case ActionDelegate:
		if subtask == "" {
			return PlannerDecision{Action: ActionFinish, Reasoning: reasoning, Summary: emptySubtaskReport, Malformed: true}
		}
		return PlannerDecision{Action: ActionDelegate, Reasoning: reasoning, Subtask: subtask}
	case ActionFinish:
		return PlannerDecision{Action: ActionFinish, Reasoning: reasoning, Summary: strings.TrimSpace(payload.Summary)}
	default:
		return PlannerDecision{
			Action:    ActionFinish,
			Reasoning: reasoning,
			Summary:   plannerFailureSummary(fmt.Errorf("unknown action %q", payload.Action)),
			Malformed: true,
		}
	}
}

func contentOf(resp *schemas.GenerationResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}
