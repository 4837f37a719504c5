// File: internal/agent/mocks_test.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
)

// -- LLM Client Fake --

// responder produces the reply for one request. n counts prior calls of the
// same kind, starting at 0.
type responder func(req schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error)

// scriptedLLM routes requests by kind: tool-bearing requests go to the worker
// responder, JSON requests on the fast tier to the game state responder, other
// fast-tier requests to the analyzer and everything else to the planner.
type scriptedLLM struct {
	mu        sync.Mutex
	analyzer  responder
	gameState responder
	worker    responder
	planner   responder
	requests  map[string][]schemas.GenerationRequest
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{requests: make(map[string][]schemas.GenerationRequest)}
}

func kindOf(req schemas.GenerationRequest) string {
	switch {
	case len(req.Tools) > 0:
		return "worker"
	case req.Tier == schemas.TierFast && req.Options.ForceJSONFormat:
		return "game_state"
	case req.Tier == schemas.TierFast:
		return "analyzer"
	default:
		return "planner"
	}
}

func (l *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	kind := kindOf(req)

	l.mu.Lock()
	n := len(l.requests[kind])
	l.requests[kind] = append(l.requests[kind], req)
	var r responder
	switch kind {
	case "worker":
		r = l.worker
	case "game_state":
		r = l.gameState
	case "analyzer":
		r = l.analyzer
	default:
		r = l.planner
	}
	l.mu.Unlock()

	if r == nil {
		return nil, fmt.Errorf("no responder scripted for %s", kind)
	}
	return r(req, n)
}

func (l *scriptedLLM) Close() error { return nil }

func (l *scriptedLLM) calls(kind string) []schemas.GenerationRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]schemas.GenerationRequest(nil), l.requests[kind]...)
}

func text(content string) responder {
	return func(schemas.GenerationRequest, int) (*schemas.GenerationResponse, error) {
		return &schemas.GenerationResponse{Content: content}, nil
	}
}

func failing(err error) responder {
	return func(schemas.GenerationRequest, int) (*schemas.GenerationResponse, error) {
		return nil, err
	}
}

func toolCall(name string, args map[string]interface{}) responder {
	return func(_ schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		return &schemas.GenerationResponse{ToolCalls: []schemas.ToolCall{{
			ID:        fmt.Sprintf("call-%d", n),
			Name:      name,
			Arguments: args,
		}}}, nil
	}
}

// distinctScreens describes every capture differently so the stuck check
// never fires.
func distinctScreens() responder {
	screens := []string{
		"Main menu with the play button highlighted.",
		"Deck selection showing the red deck.",
		"Blind selection with the small blind offered.",
		"Round in progress, eight cards in hand.",
		"Shop open with two jokers for sale.",
		"Cash out summary after winning the round.",
	}
	return func(_ schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		return &schemas.GenerationResponse{Content: fmt.Sprintf("%s Frame %d.", screens[n%len(screens)], n)}, nil
	}
}

// distinctGameStates returns a JSON game state whose summary changes per call.
func distinctGameStates() responder {
	return func(_ schemas.GenerationRequest, n int) (*schemas.GenerationResponse, error) {
		return &schemas.GenerationResponse{Content: fmt.Sprintf(
			`{"summary": "capture %d", "screen": "round", "run_parameters": {"ante": %d, "round": %d, "money": %d}}`,
			n, n+1, n+2, n*7)}, nil
	}
}

// -- Executor Fake --

type fakeExecutor struct {
	mu            sync.Mutex
	screenshotErr error
	pressErr      error
	pressPanic    bool
	screenshots   int
	presses       [][]executor.Button
	clicks        []executor.ClickRequest
	moves         []executor.MoveRequest
	drags         []executor.DragRequest
	pointer       executor.PointerPosition
}

var _ Executor = (*fakeExecutor)(nil)

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{pointer: executor.PointerPosition{
		Position:   executor.Point{X: 640, Y: 360},
		ScreenSize: executor.ScreenSize{Width: 1280, Height: 720},
	}}
}

func (f *fakeExecutor) Screenshot(context.Context, bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots++
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	return []byte(fmt.Sprintf("png-%d", f.screenshots)), nil
}

func (f *fakeExecutor) PointerPosition(context.Context) (*executor.PointerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := f.pointer
	return &pos, nil
}

func (f *fakeExecutor) Press(_ context.Context, buttons []executor.Button, _ float64) (*executor.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pressPanic {
		panic("controller unplugged")
	}
	if f.pressErr != nil {
		return nil, f.pressErr
	}
	f.presses = append(f.presses, buttons)
	return &executor.StatusResponse{Status: "success"}, nil
}

func (f *fakeExecutor) Click(_ context.Context, req executor.ClickRequest) (*executor.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, req)
	return &executor.StatusResponse{Status: "success"}, nil
}

func (f *fakeExecutor) Move(_ context.Context, req executor.MoveRequest) (*executor.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, req)
	return &executor.StatusResponse{Status: "success", Message: "pointer moved"}, nil
}

func (f *fakeExecutor) Drag(_ context.Context, req executor.DragRequest) (*executor.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drags = append(f.drags, req)
	return &executor.StatusResponse{Status: "success"}, nil
}

func (f *fakeExecutor) screenshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screenshots
}

func (f *fakeExecutor) pressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.presses)
}

// -- Recorder Fake --

type recordingRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []string
	tools    []string
	models   map[string]int
	failures int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{models: make(map[string]int)}
}

func (r *recordingRecorder) SessionStarted(variant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, variant)
}

func (r *recordingRecorder) SessionFinished(variant, reason string, steps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, fmt.Sprintf("%s/%s/%d", variant, reason, steps))
}

func (r *recordingRecorder) ToolCalled(tool, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, tool+":"+code)
}

func (r *recordingRecorder) ModelCalled(stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[stage]++
	if err != nil {
		r.failures++
	}
}

// -- Transcript Sink Mock --

// MockTranscriptSink mocks the TranscriptSink interface.
type MockTranscriptSink struct {
	mock.Mock
}

func (m *MockTranscriptSink) SaveSession(ctx context.Context, s *Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// -- Engine Setup --

// testConfig returns defaults tuned for fast, deterministic sessions.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SessionCfg.ToolSettle = 0
	cfg.SessionCfg.ModelTimeout = time.Second
	cfg.ExecutorCfg.ControlMode = config.ControlGamepad
	return cfg
}

func newTestEngine(t *testing.T, llm schemas.LLMClient, exec Executor, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(llm, exec, cfg, observability.GetLogger(), opts...)
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}
