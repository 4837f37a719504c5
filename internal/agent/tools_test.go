// File: internal/agent/tools_test.go
package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
)

func newTestToolset(t *testing.T, mode config.ControlMode, exec Executor) *Toolset {
	t.Helper()
	ts, err := NewToolset(mode, exec, 0.1, zap.NewNop())
	require.NoError(t, err)
	return ts
}

func toolNames(ts *Toolset) []string {
	var names []string
	for _, d := range ts.Definitions() {
		names = append(names, d.Name)
	}
	return names
}

func TestToolset_Vocabularies(t *testing.T) {
	gamepad := newTestToolset(t, config.ControlGamepad, newFakeExecutor())
	assert.Equal(t, []string{"navigate", "confirm", "cancel", "primary_action", "secondary_action", "tertiary_action", "press_buttons"}, toolNames(gamepad))

	mouse := newTestToolset(t, config.ControlMouse, newFakeExecutor())
	assert.Equal(t, []string{"pointer_click", "pointer_move", "pointer_drag", "pointer_position"}, toolNames(mouse))

	_, err := NewToolset("joystick", newFakeExecutor(), 0.1, zap.NewNop())
	assert.Error(t, err)
}

func TestDispatch_GamepadButtons(t *testing.T) {
	tests := []struct {
		call schemas.ToolCall
		want []executor.Button
	}{
		{schemas.ToolCall{Name: "navigate", Arguments: map[string]interface{}{"direction": "UP"}}, []executor.Button{executor.ButtonUp}},
		{schemas.ToolCall{Name: "confirm"}, []executor.Button{executor.ButtonA}},
		{schemas.ToolCall{Name: "cancel"}, []executor.Button{executor.ButtonB}},
		{schemas.ToolCall{Name: "primary_action"}, []executor.Button{executor.ButtonX}},
		{schemas.ToolCall{Name: "secondary_action"}, []executor.Button{executor.ButtonY}},
		{schemas.ToolCall{Name: "tertiary_action", Arguments: map[string]interface{}{"side": "left"}}, []executor.Button{executor.ButtonLB}},
		{schemas.ToolCall{Name: "tertiary_action", Arguments: map[string]interface{}{"side": "right"}}, []executor.Button{executor.ButtonRB}},
		{schemas.ToolCall{Name: "press_buttons", Arguments: map[string]interface{}{"sequence": "right right a"}}, []executor.Button{executor.ButtonRight, executor.ButtonRight, executor.ButtonA}},
	}
	for _, tt := range tests {
		t.Run(tt.call.Name, func(t *testing.T) {
			exec := newFakeExecutor()
			ts := newTestToolset(t, config.ControlGamepad, exec)
			tt.call.ID = "c1"

			out := ts.Dispatch(context.Background(), tt.call)

			require.True(t, out.OK(), out.Result.Error)
			assert.Equal(t, "c1", out.Result.CallID)
			assert.Equal(t, tt.call.Name, out.Result.Name)
			assert.Contains(t, out.Result.Content, "pressed")
			require.Len(t, exec.presses, 1)
			assert.Equal(t, tt.want, exec.presses[0])
		})
	}
}

func TestDispatch_InvalidParameters(t *testing.T) {
	ts := newTestToolset(t, config.ControlGamepad, newFakeExecutor())

	calls := []schemas.ToolCall{
		{Name: "navigate"},
		{Name: "navigate", Arguments: map[string]interface{}{"direction": "diagonal"}},
		{Name: "navigate", Arguments: map[string]interface{}{"direction": 3}},
		{Name: "tertiary_action", Arguments: map[string]interface{}{"side": "middle"}},
		{Name: "press_buttons", Arguments: map[string]interface{}{"sequence": "A TURBO"}},
		{Name: "press_buttons", Arguments: map[string]interface{}{"sequence": "  "}},
	}
	for _, call := range calls {
		t.Run(fmt.Sprintf("%s %v", call.Name, call.Arguments), func(t *testing.T) {
			out := ts.Dispatch(context.Background(), call)
			assert.Equal(t, ErrCodeInvalidParameters, out.Code)
			assert.Contains(t, out.Result.Error, "[INVALID_PARAMETERS]")
			assert.Empty(t, out.Result.Content)
		})
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	ts := newTestToolset(t, config.ControlMouse, newFakeExecutor())

	out := ts.Dispatch(context.Background(), schemas.ToolCall{Name: "navigate"})

	assert.Equal(t, ErrCodeUnknownTool, out.Code)
	assert.Contains(t, out.Result.Error, "pointer_click, pointer_move, pointer_drag, pointer_position")
}

func TestDispatch_ExecutorFailures(t *testing.T) {
	exec := newFakeExecutor()
	ts := newTestToolset(t, config.ControlGamepad, exec)

	exec.pressErr = &executor.HTTPError{StatusCode: 400, Message: "invalid button"}
	out := ts.Dispatch(context.Background(), schemas.ToolCall{Name: "confirm"})
	assert.Equal(t, ErrCodeInvalidParameters, out.Code)

	exec.pressErr = &executor.HTTPError{StatusCode: 500, Message: "xdotool failed"}
	out = ts.Dispatch(context.Background(), schemas.ToolCall{Name: "confirm"})
	assert.Equal(t, ErrCodeExecutionFailure, out.Code)
	assert.Contains(t, out.Result.Error, "xdotool failed")

	exec.pressErr = fmt.Errorf("press: %w", context.DeadlineExceeded)
	out = ts.Dispatch(context.Background(), schemas.ToolCall{Name: "confirm"})
	assert.Equal(t, ErrCodeTimeoutError, out.Code)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	exec := newFakeExecutor()
	exec.pressPanic = true
	ts := newTestToolset(t, config.ControlGamepad, exec)

	var out ToolOutcome
	assert.NotPanics(t, func() {
		out = ts.Dispatch(context.Background(), schemas.ToolCall{Name: "confirm"})
	})
	assert.Equal(t, ErrCodeExecutorPanic, out.Code)
	assert.Contains(t, out.Result.Error, "controller unplugged")
}

func TestDispatch_MouseTools(t *testing.T) {
	exec := newFakeExecutor()
	ts := newTestToolset(t, config.ControlMouse, exec)
	ctx := context.Background()

	out := ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_click", Arguments: map[string]interface{}{
		"x": "120", "y": 44.6, "button": "right", "clicks": 2,
	}})
	require.True(t, out.OK(), out.Result.Error)
	assert.Equal(t, executor.ClickRequest{X: 120, Y: 45, Button: "right", Clicks: 2}, exec.clicks[0])
	assert.Equal(t, "clicked at (120, 45)", out.Result.Content)

	out = ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_move", Arguments: map[string]interface{}{"x": 5, "y": 6}})
	require.True(t, out.OK(), out.Result.Error)
	assert.Equal(t, "pointer moved", out.Result.Content)

	out = ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_drag", Arguments: map[string]interface{}{
		"start_x": 10, "start_y": 20, "end_x": 300, "end_y": 400,
	}})
	require.True(t, out.OK(), out.Result.Error)
	assert.Equal(t, executor.DragRequest{StartX: 10, StartY: 20, EndX: 300, EndY: 400, Duration: 0.5}, exec.drags[0])

	out = ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_position"})
	require.True(t, out.OK(), out.Result.Error)
	assert.Equal(t, "Pointer at (640, 360) on a 1280x720 screen.", out.Result.Content)

	out = ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_click", Arguments: map[string]interface{}{"x": -1, "y": 0}})
	assert.Equal(t, ErrCodeInvalidParameters, out.Code)

	out = ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_move", Arguments: map[string]interface{}{"x": 1, "y": 1, "duration": "slow"}})
	assert.Equal(t, ErrCodeInvalidParameters, out.Code)

	// Missing coordinates are reported in argument order on every call.
	for i := 0; i < 20; i++ {
		out = ts.Dispatch(ctx, schemas.ToolCall{Name: "pointer_drag", Arguments: map[string]interface{}{"start_x": 1}})
		require.Equal(t, ErrCodeInvalidParameters, out.Code)
		require.Contains(t, out.Result.Error, `missing required argument "start_y"`)
	}
}
