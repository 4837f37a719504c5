// File: internal/agent/worker.go
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
)

// workerStage asks the model for the next action on the overall task (flat).
func (e *Engine) workerStage(ctx context.Context, s *Session) Route {
	obs, _ := s.CurrentObservation()

	screens := "These are the previous screens states: \n" + strings.Join(s.Descriptions, "\n")
	if s.ConsecutiveDuplicates > 0 {
		screens += fmt.Sprintf("\nConsecutive duplicate screens: %d", s.ConsecutiveDuplicates)
	}
	msgs := []schemas.Message{
		schemas.TextMessage(schemas.RoleUser, "This is your task: \n"+s.Task),
		schemas.TextMessage(schemas.RoleUser, screens),
	}
	msgs = append(msgs, e.conversation(s, obs.Message())...)

	resp, err := e.generate(ctx, s, "worker", schemas.GenerationRequest{
		SystemPrompt: flatWorkerPrompt(e.tools.Mode()),
		Messages:     msgs,
		Tools:        e.tools.Definitions(),
		Tier:         schemas.TierPowerful,
	})
	s.workerErr = err
	s.LastResponse = nil
	if err == nil {
		e.keepFirstToolCall(s, resp)
		s.LastResponse = resp
	}
	return RouteAfterWorker(s, e.cfg.MaxRecursions)
}

// subtaskWorkerStage asks the model to carry out the planner's latest subtask.
func (e *Engine) subtaskWorkerStage(ctx context.Context, s *Session) Route {
	decision, _ := s.LastDecision()
	obs, _ := s.CurrentObservation()
	gs, _ := s.lastGameState()

	current := schemas.Message{
		Role:  schemas.RoleUser,
		Parts: []schemas.ContentPart{{Text: "This is the current game state: \n" + gs.Describe()}},
	}
	if len(obs.Image) > 0 {
		current.Parts = append(current.Parts, schemas.ContentPart{Image: &schemas.ImagePart{MIMEType: "image/png", Data: obs.Image}})
	}
	if obs.Pointer != nil {
		current.Parts = append(current.Parts, schemas.ContentPart{Text: describePointer(obs.Pointer)})
	}
	current.Parts = append(current.Parts, schemas.ContentPart{Text: "Your task is: " + decision.Subtask})

	resp, err := e.generate(ctx, s, "worker", schemas.GenerationRequest{
		SystemPrompt: hierarchicalWorkerPrompt(e.tools.Mode()),
		Messages:     e.conversation(s, current),
		Tools:        e.tools.Definitions(),
		Tier:         schemas.TierPowerful,
	})
	s.WorkerStep++
	s.workerErr = err
	s.LastResponse = nil
	if err == nil {
		e.keepFirstToolCall(s, resp)
		s.LastResponse = resp
		s.WorkerResponses = append(s.WorkerResponses, resp)
	}
	return RouteAfterHierarchicalWorker(s, e.cfg.MaxWorkerSteps)
}

// conversation appends the current turn to the session history and compacts
// the result for a model call.
func (e *Engine) conversation(s *Session, current schemas.Message) []schemas.Message {
	msgs := make([]schemas.Message, 0, len(s.History)+1)
	msgs = append(msgs, s.History...)
	msgs = append(msgs, current)
	return CompactHistory(msgs, e.cfg.HistoryWindow)
}

// keepFirstToolCall enforces one action per cycle and gives every call an id
// so its result can be paired during compaction.
func (e *Engine) keepFirstToolCall(s *Session, resp *schemas.GenerationResponse) {
	if len(resp.ToolCalls) > 1 {
		discarded := make([]string, 0, len(resp.ToolCalls)-1)
		for _, tc := range resp.ToolCalls[1:] {
			discarded = append(discarded, tc.Name)
		}
		e.logger.Warn("Worker requested several tool calls; only the first is executed.",
			zap.String("session_id", s.ID),
			zap.String("kept", resp.ToolCalls[0].Name),
			zap.Strings("discarded", discarded))
		resp.ToolCalls = resp.ToolCalls[:1]
	}
	if len(resp.ToolCalls) == 1 && resp.ToolCalls[0].ID == "" {
		resp.ToolCalls[0].ID = fmt.Sprintf("call_%s_%d", s.ID[:8], s.Step)
	}
}

// toolStage dispatches the pending call and folds the exchange into history.
func (e *Engine) toolStage(ctx context.Context, s *Session) Route {
	resp := s.LastResponse
	if resp == nil || len(resp.ToolCalls) == 0 {
		e.logger.Warn("Tool stage reached without a pending call.", zap.String("session_id", s.ID))
		return RouteNext
	}
	call := resp.ToolCalls[0]

	outcome := e.tools.Dispatch(ctx, call)
	s.ToolCalls++
	e.recorder.ToolCalled(call.Name, string(outcome.Code))
	e.logger.Debug("Tool executed.",
		zap.String("session_id", s.ID),
		zap.Int("step", s.Step),
		zap.String("tool", call.Name),
		zap.Any("arguments", call.Arguments),
		zap.String("error_code", string(outcome.Code)))

	obs, _ := s.CurrentObservation()
	result := outcome.Result
	s.History = append(s.History,
		obs.Message(),
		resp.AsMessage(),
		schemas.Message{Role: schemas.RoleTool, ToolResult: &result},
	)
	s.History = CompactHistory(s.History, e.cfg.HistoryWindow)

	if s.Variant == config.VariantHierarchical && outcome.OK() {
		// Let animations finish before the next capture.
		if err := e.sleep(ctx, e.cfg.ToolSettle); err != nil {
			e.logger.Debug("Settle wait interrupted.", zap.Error(err))
		}
	}
	return RouteNext
}
