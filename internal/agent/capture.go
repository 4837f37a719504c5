// File: internal/agent/capture.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/llmutil"
)

const (
	analysisFailed = "Analysis failed"
	captureFailed  = "Screen capture failed"
)

// captureStage is the flat capture node.
func (e *Engine) captureStage(ctx context.Context, s *Session) Route {
	e.capture(ctx, s)
	return RouteAfterCapture(s)
}

// capture checks the step budget, then takes one screenshot. The counter
// advances exactly once per attempted capture, whether or not it succeeds.
func (e *Engine) capture(ctx context.Context, s *Session) {
	if s.Step >= e.cfg.MaxRecursions {
		s.finish(Result{Reason: ReasonMaxIterations, Iterations: s.Step, Description: s.summarize(ReasonMaxIterations)})
		return
	}
	s.Step++

	obs := Observation{CapturedAt: time.Now()}
	withCursor := e.tools.Mode() == config.ControlMouse
	img, err := e.exec.Screenshot(ctx, withCursor)
	if err != nil {
		e.logger.Warn("Screen capture failed, continuing with a placeholder.",
			zap.String("session_id", s.ID), zap.Int("step", s.Step), zap.Error(err))
		obs.Failed = true
		obs.Note = fmt.Sprintf("%s (%v). The current game state is unknown.", captureFailed, err)
		s.addObservation(obs)
		return
	}

	obs.Image = img
	obs.Note = "Current game state:"
	if withCursor {
		if pos, err := e.exec.PointerPosition(ctx); err == nil {
			obs.Pointer = pos
			obs.Note = describePointer(pos) + " " + obs.Note
		} else {
			e.logger.Debug("Pointer position unavailable.", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	s.addObservation(obs)
}

// analyzeStage describes the current observation in a sentence or two.
func (e *Engine) analyzeStage(ctx context.Context, s *Session) Route {
	obs, _ := s.CurrentObservation()
	desc := analysisFailed
	if obs.Failed {
		desc = captureFailed
	} else {
		resp, err := e.generate(ctx, s, "analyze", schemas.GenerationRequest{
			SystemPrompt: analyzerPrompt,
			Messages:     []schemas.Message{obs.Message()},
			Tier:         schemas.TierFast,
		})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			desc = strings.TrimSpace(resp.Content)
		}
	}
	e.observe(s, desc)
	return RouteAfterAnalyze(s)
}

// visualizeStage is the hierarchical capture node: it captures the screen and
// reads it into a structured game state in one step.
func (e *Engine) visualizeStage(ctx context.Context, s *Session) Route {
	e.capture(ctx, s)
	if s.Done {
		return RouteAfterCapture(s)
	}
	gs := e.readGameState(ctx, s)
	s.GameStates = append(s.GameStates, gs)
	if w := e.cfg.DescriptionWindow; len(s.GameStates) > w {
		s.GameStates = append([]schemas.GameState(nil), s.GameStates[len(s.GameStates)-w:]...)
	}
	e.observe(s, gs.Describe())
	return RouteAfterCapture(s)
}

func (e *Engine) readGameState(ctx context.Context, s *Session) schemas.GameState {
	obs, _ := s.CurrentObservation()
	if obs.Failed {
		return schemas.GameState{Summary: captureFailed}
	}

	var msgs []schemas.Message
	if prev, ok := s.lastGameState(); ok {
		msgs = append(msgs, schemas.TextMessage(schemas.RoleUser, "This is the previous game state: \n"+prev.Describe()))
	}
	msgs = append(msgs, schemas.Message{
		Role: schemas.RoleUser,
		Parts: []schemas.ContentPart{
			{Text: "Extract all the relevant information of this game screenshot."},
			{Image: &schemas.ImagePart{MIMEType: "image/png", Data: obs.Image}},
		},
	})

	resp, err := e.generate(ctx, s, "game_state", schemas.GenerationRequest{
		SystemPrompt: gameStatePrompt,
		Messages:     msgs,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return schemas.GameState{Summary: analysisFailed}
	}
	gs, err := llmutil.ParseJSONResponse[schemas.GameState](resp.Content)
	if err != nil {
		e.logger.Warn("Could not parse game state.", zap.String("session_id", s.ID), zap.Error(err))
		return schemas.GameState{Summary: analysisFailed}
	}
	return *gs
}

// observe records a description and applies the stuck short-circuit.
func (e *Engine) observe(s *Session, desc string) {
	if recordDescription(s, desc, e.cfg.DescriptionWindow, e.cfg.SimilarityThreshold) {
		e.logger.Debug("Screen looks unchanged.",
			zap.String("session_id", s.ID),
			zap.Int("consecutive_duplicates", s.ConsecutiveDuplicates))
	}
	if isStuck(s, e.cfg.StuckThreshold) {
		e.logger.Info("Session is stuck on the same screen.", zap.String("session_id", s.ID), zap.Int("step", s.Step))
		s.finish(Result{Reason: ReasonStuck, Iterations: s.Step, Description: s.summarize(ReasonStuck)})
	}
}
