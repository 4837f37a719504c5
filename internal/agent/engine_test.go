// File: internal/agent/engine_test.go
package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
)

func TestNewEngine_Validation(t *testing.T) {
	llm := newScriptedLLM()
	exec := newFakeExecutor()

	_, err := NewEngine(nil, exec, testConfig(), observability.GetLogger())
	assert.Error(t, err)

	_, err = NewEngine(llm, nil, testConfig(), observability.GetLogger())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.SessionCfg.MaxRecursions = 0
	_, err = NewEngine(llm, exec, cfg, observability.GetLogger())
	assert.ErrorContains(t, err, "max_recursions")

	cfg = testConfig()
	cfg.ExecutorCfg.ControlMode = "keyboard"
	_, err = NewEngine(llm, exec, cfg, observability.GetLogger())
	assert.Error(t, err)
}

func TestFlat_CompletesOnFirstCycle(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = text("Main menu, nothing selected.")
	llm.worker = text("task already complete")
	exec := newFakeExecutor()
	rec := newRecordingRecorder()
	sink := new(MockTranscriptSink)
	sink.On("SaveSession", mock.Anything, mock.AnythingOfType("*agent.Session")).Return(nil).Once()

	e := newTestEngine(t, llm, exec, testConfig(), WithRecorder(rec), WithTranscriptSink(sink))
	s := e.Run(context.Background(), "Start a new run")

	require.NotNil(t, s.Result)
	assert.True(t, s.Result.Success)
	assert.Equal(t, ReasonCompleted, s.Result.Reason)
	assert.Equal(t, 1, s.Result.Iterations)
	assert.Equal(t, "task already complete", s.Result.WorkerReasoning)
	assert.Equal(t, "Task 'Start a new run': completed after 1 iterations. Final: Main menu, nothing selected.", s.Result.Description)
	assert.Equal(t, 1, exec.screenshotCount())
	assert.Zero(t, s.ToolCalls)
	assert.Equal(t, []string{"flat/completed/1"}, rec.finished)
	sink.AssertExpectations(t)
}

func TestFlat_StopsAtStepCeiling(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = distinctScreens()
	llm.worker = toolCall("navigate", map[string]interface{}{"direction": "right"})
	exec := newFakeExecutor()

	cfg := testConfig()
	cfg.SetSessionMaxRecursions(5)
	e := newTestEngine(t, llm, exec, cfg)
	s := e.Run(context.Background(), "Buy every joker")

	require.NotNil(t, s.Result)
	assert.False(t, s.Result.Success)
	assert.Equal(t, ReasonMaxIterations, s.Result.Reason)
	assert.Equal(t, 5, s.Result.Iterations)
	assert.Contains(t, s.Result.Description, "max iterations after 5 iterations")
	assert.Equal(t, 5, exec.screenshotCount())
	// The call chosen on the last cycle is never dispatched.
	assert.Equal(t, 4, exec.pressCount())
	assert.Equal(t, 4, s.ToolCalls)
}

func TestFlat_StuckOnIdenticalScreens(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = text("The shop is open with two jokers for sale.")
	llm.worker = toolCall("navigate", map[string]interface{}{"direction": "down"})
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.Run(context.Background(), "Leave the shop")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonStuck, s.Result.Reason)
	assert.False(t, s.Result.Success)
	assert.Equal(t, 3, s.ConsecutiveDuplicates)
	// The first screen sets the baseline; three duplicates follow it.
	assert.Equal(t, 4, s.Result.Iterations)
	assert.Less(t, s.Result.Iterations, e.cfg.MaxRecursions)
	assert.Len(t, llm.calls("worker"), 3)
}

func TestFlat_FailingBackendsReachCeiling(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = failing(errors.New("model overloaded"))
	llm.worker = failing(errors.New("model overloaded"))
	exec := newFakeExecutor()
	exec.screenshotErr = errors.New("connection refused")
	rec := newRecordingRecorder()

	cfg := testConfig()
	cfg.SetSessionMaxRecursions(6)
	cfg.SessionCfg.StuckThreshold = 1000
	e := newTestEngine(t, llm, exec, cfg, WithRecorder(rec))
	s := e.Run(context.Background(), "Play a hand")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonMaxIterations, s.Result.Reason)
	assert.Equal(t, 6, s.Result.Iterations)
	assert.Equal(t, 6, exec.screenshotCount())
	// Failed captures are never sent to the analyzer.
	assert.Empty(t, llm.calls("analyzer"))
	assert.Len(t, llm.calls("worker"), 6)
	assert.Equal(t, 6, rec.failures)
	for _, d := range s.Descriptions {
		assert.Equal(t, captureFailed, d)
	}
}

func TestFlat_ModelFailureDuringAnalysis(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = failing(errors.New("quota exceeded"))
	llm.worker = text("TASK_DONE {\"success\": false, \"reason\": \"impossible\"}")
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.Run(context.Background(), "Win ante 8")

	require.NotNil(t, s.Result)
	assert.Equal(t, []string{analysisFailed}, s.Descriptions)
	assert.Equal(t, ReasonImpossible, s.Result.Reason)
	assert.False(t, s.Result.Success)
}

func TestFlat_WorkerSeesHistoryAndTask(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = distinctScreens()
	llm.worker = func(req schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n < 2 {
			return toolCall("confirm", nil)(req, n)
		}
		return &schemas.GenerationResponse{Content: "TASK_DONE"}, nil
	}
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.Run(context.Background(), "Select the blind")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonCompleted, s.Result.Reason)
	assert.Equal(t, 3, s.Result.Iterations)

	calls := llm.calls("worker")
	require.Len(t, calls, 3)
	last := calls[2]
	assert.Equal(t, "This is your task: \nSelect the blind", last.Messages[0].Text())
	assert.True(t, strings.HasPrefix(last.Messages[1].Text(), "These are the previous screens states: \n"))
	assert.NotEmpty(t, last.Tools)

	images := 0
	results := 0
	for _, m := range last.Messages {
		if m.HasImage() {
			images++
		}
		if m.ToolResult != nil {
			results++
		}
	}
	assert.Equal(t, 1, images, "only the current screenshot is sent")
	assert.Equal(t, 2, results)
	assert.True(t, last.Messages[len(last.Messages)-1].HasImage(), "current screenshot comes last")
}

func TestFlat_ToolErrorIsFedBack(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = distinctScreens()
	llm.worker = func(req schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n == 0 {
			return toolCall("navigate", map[string]interface{}{"direction": "sideways"})(req, n)
		}
		return &schemas.GenerationResponse{Content: "I cannot do this."}, nil
	}
	exec := newFakeExecutor()
	rec := newRecordingRecorder()

	e := newTestEngine(t, llm, exec, testConfig(), WithRecorder(rec))
	s := e.Run(context.Background(), "Move right")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonNoAction, s.Result.Reason)
	assert.Equal(t, []string{"navigate:INVALID_PARAMETERS"}, rec.tools)

	var found bool
	for _, m := range llm.calls("worker")[1].Messages {
		if m.ToolResult != nil {
			found = true
			assert.True(t, strings.HasPrefix(m.ToolResult.Error, "[INVALID_PARAMETERS]"))
		}
	}
	assert.True(t, found)
}

func TestFlat_OnlyFirstToolCallRuns(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = distinctScreens()
	llm.worker = func(_ schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n == 0 {
			return &schemas.GenerationResponse{ToolCalls: []schemas.ToolCall{
				{Name: "confirm"},
				{Name: "cancel"},
			}}, nil
		}
		return &schemas.GenerationResponse{Content: "Done."}, nil
	}
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.Run(context.Background(), "Pick a card")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonCompleted, s.Result.Reason)
	require.Len(t, exec.presses, 1)
	assert.Equal(t, "A", string(exec.presses[0][0]))
}

func TestFlat_CancelledContext(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = distinctScreens()
	llm.worker = text("done")
	exec := newFakeExecutor()
	sink := new(MockTranscriptSink)
	sink.On("SaveSession", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, llm, exec, testConfig(), WithTranscriptSink(sink))
	s := e.Run(ctx, "Anything")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonError, s.Result.Reason)
	assert.Contains(t, s.Result.Description, "cancelled")
	assert.Zero(t, exec.screenshotCount())
	sink.AssertExpectations(t)
}

func TestFlat_PanicBecomesErrorResult(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = func(schemas.GenerationRequest, int) (*schemas.GenerationResponse, error) {
		panic("provider blew up")
	}
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.Run(context.Background(), "Anything")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonError, s.Result.Reason)
	assert.Contains(t, s.Result.Description, "provider blew up")
	assert.Equal(t, 1, s.Result.Iterations)
}

func TestFlat_MouseModeIncludesPointer(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzer = distinctScreens()
	llm.worker = func(req schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n == 0 {
			return toolCall("pointer_click", map[string]interface{}{"x": 100.0, "y": 200.0})(req, n)
		}
		return &schemas.GenerationResponse{Content: "finished"}, nil
	}
	exec := newFakeExecutor()

	cfg := testConfig()
	cfg.SetExecutorControlMode(config.ControlMouse)
	e := newTestEngine(t, llm, exec, cfg)
	s := e.Run(context.Background(), "Click play")

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonCompleted, s.Result.Reason)
	require.Len(t, exec.clicks, 1)
	assert.Equal(t, 100, exec.clicks[0].X)
	assert.Equal(t, 1, exec.clicks[0].Clicks)

	obs, ok := s.CurrentObservation()
	require.True(t, ok)
	require.NotNil(t, obs.Pointer)
	assert.Contains(t, obs.Note, "Pointer at (640, 360) on a 1280x720 screen.")
}

func TestHierarchical_PlannerWorkerRoundTrip(t *testing.T) {
	llm := newScriptedLLM()
	llm.gameState = distinctGameStates()
	llm.planner = func(_ schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n == 0 {
			return &schemas.GenerationResponse{Content: `{"action": "delegate", "reasoning": "need a card", "sub_task": "Pick the ace of spades"}`}, nil
		}
		return &schemas.GenerationResponse{Content: "```json\n{\"action\": \"finish\", \"summary\": \"The ace is picked.\"}\n```"}, nil
	}
	llm.worker = text("The ace of spades is now picked.")
	exec := newFakeExecutor()
	rec := newRecordingRecorder()

	e := newTestEngine(t, llm, exec, testConfig(), WithRecorder(rec))
	s := e.RunVariant(context.Background(), "Pick the ace", config.VariantHierarchical)

	require.NotNil(t, s.Result)
	assert.True(t, s.Result.Success)
	assert.Equal(t, ReasonCompleted, s.Result.Reason)
	assert.Equal(t, "The ace is picked.", s.Result.Description)
	assert.Equal(t, 2, s.Result.Iterations)
	require.Len(t, s.Subtasks, 2)
	assert.Equal(t, "Pick the ace of spades", s.Subtasks[0].Subtask)
	assert.Equal(t, []string{"hierarchical/completed/2"}, rec.finished)

	workerCalls := llm.calls("worker")
	require.Len(t, workerCalls, 1)
	current := workerCalls[0].Messages[len(workerCalls[0].Messages)-1]
	assert.Contains(t, current.Text(), "Your task is: Pick the ace of spades")
	assert.True(t, current.HasImage())

	plannerCalls := llm.calls("planner")
	require.Len(t, plannerCalls, 2)
	assert.True(t, plannerCalls[0].Options.ForceJSONFormat)
	assert.Len(t, plannerCalls[0].Messages, 2)

	second := plannerCalls[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, "This is the main task: \nPick the ace", second.Messages[0].Text())
	assert.Contains(t, second.Messages[1].Text(), "capture 1")
	report := second.Messages[2].Text()
	assert.Contains(t, report, "Pick the ace of spades")
	assert.Contains(t, report, "The ace of spades is now picked.")
	assert.Contains(t, report, keepWorking)
}

func TestHierarchical_WorkerBudgetReturnsToPlanner(t *testing.T) {
	llm := newScriptedLLM()
	llm.gameState = distinctGameStates()
	llm.planner = text(`{"action": "delegate", "subtask": "Reach the shop"}`)
	llm.worker = toolCall("confirm", nil)
	exec := newFakeExecutor()

	cfg := testConfig()
	cfg.SetSessionMaxWorkerSteps(3)
	cfg.SetSessionMaxPlannerSteps(3)
	e := newTestEngine(t, llm, exec, cfg)
	slept := 0
	e.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}
	s := e.RunVariant(context.Background(), "Reach the shop", config.VariantHierarchical)

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonMaxIterations, s.Result.Reason)
	assert.Equal(t, 3, s.PlannerStep)
	// Two subtask cycles of three worker calls each; the last call of a cycle
	// hands control back without dispatch.
	assert.Len(t, llm.calls("worker"), 6)
	assert.Equal(t, 4, s.ToolCalls)
	assert.Equal(t, 4, slept)
	assert.Equal(t, 7, s.Step)

	second := llm.calls("planner")[1]
	assert.Contains(t, second.Messages[2].Text(), workerUnsolved)
	assert.Equal(t, "The task could not be finished yet. But these were the subtasks tried:\n- Reach the shop\n- Reach the shop\n- Reach the shop", s.Result.Description)
}

func TestHierarchical_WorkerFailureAfterToolCallReturnsToPlanner(t *testing.T) {
	llm := newScriptedLLM()
	llm.gameState = distinctGameStates()
	llm.planner = func(_ schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n == 0 {
			return &schemas.GenerationResponse{Content: `{"action": "delegate", "subtask": "Pick the pair"}`}, nil
		}
		return &schemas.GenerationResponse{Content: `{"action": "finish", "summary": "Gave up on the pair."}`}, nil
	}
	llm.worker = func(req schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		if n == 0 {
			return toolCall("confirm", nil)(req, n)
		}
		return nil, errors.New("model overloaded")
	}
	exec := newFakeExecutor()

	cfg := testConfig()
	cfg.SetSessionMaxWorkerSteps(3)
	e := newTestEngine(t, llm, exec, cfg)
	s := e.RunVariant(context.Background(), "Play a pair", config.VariantHierarchical)

	require.NotNil(t, s.Result)
	// The failed call hands control back at once instead of spending the
	// remaining worker steps on an empty tool stage.
	assert.Len(t, llm.calls("worker"), 2)
	assert.Equal(t, 1, s.ToolCalls)
	assert.Len(t, exec.presses, 1)

	planners := llm.calls("planner")
	require.Len(t, planners, 2)
	var second strings.Builder
	for _, m := range planners[1].Messages {
		second.WriteString(m.Text())
	}
	assert.Contains(t, second.String(), "The worker request failed: model overloaded")
	assert.NotContains(t, second.String(), workerUnsolved)
}

func TestHierarchical_EmptySubtaskStops(t *testing.T) {
	llm := newScriptedLLM()
	llm.gameState = distinctGameStates()
	llm.planner = text(`{"action": "delegate", "subtask": "   "}`)
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.RunVariant(context.Background(), "Do something", config.VariantHierarchical)

	require.NotNil(t, s.Result)
	assert.False(t, s.Result.Success)
	assert.Equal(t, ReasonNoAction, s.Result.Reason)
	assert.Equal(t, emptySubtaskReport, s.Result.Description)
	assert.Empty(t, llm.calls("worker"))
	assert.Equal(t, 1, s.Step)
}

func TestHierarchical_UnparsableGameState(t *testing.T) {
	llm := newScriptedLLM()
	llm.gameState = text("I see a lovely card game")
	llm.planner = text(`{"action": "finish", "summary": "Nothing to do."}`)
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.RunVariant(context.Background(), "Look around", config.VariantHierarchical)

	require.NotNil(t, s.Result)
	require.Len(t, s.GameStates, 1)
	assert.Equal(t, analysisFailed, s.GameStates[0].Summary)
	assert.Equal(t, ReasonCompleted, s.Result.Reason)
}

func TestHierarchical_PlannerFailureFinishes(t *testing.T) {
	llm := newScriptedLLM()
	llm.gameState = distinctGameStates()
	llm.planner = failing(errors.New("deadline exceeded"))
	exec := newFakeExecutor()

	e := newTestEngine(t, llm, exec, testConfig())
	s := e.RunVariant(context.Background(), "Anything", config.VariantHierarchical)

	require.NotNil(t, s.Result)
	assert.Equal(t, ReasonNoAction, s.Result.Reason)
	assert.Contains(t, s.Result.Description, "deadline exceeded")
}
