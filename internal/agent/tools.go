// File: internal/agent/tools.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
)

// toolHandler runs one tool against the executor and returns the text shown
// to the model.
type toolHandler func(ctx context.Context, exec Executor, args map[string]interface{}) (string, error)

type tool struct {
	def     schemas.ToolDefinition
	handler toolHandler
}

// Toolset is the closed action vocabulary offered to the worker, together with
// the dispatcher that executes the calls.
type Toolset struct {
	mode          config.ControlMode
	exec          Executor
	logger        *zap.Logger
	pressDuration float64
	tools         map[string]tool
	order         []string
}

// ToolOutcome is the structured result of one dispatched call.
type ToolOutcome struct {
	Result schemas.ToolResult
	Code   ErrorCode
}

// OK reports whether the call succeeded.
func (o ToolOutcome) OK() bool { return o.Code == "" }

// NewToolset builds the vocabulary for mode.
func NewToolset(mode config.ControlMode, exec Executor, pressDuration float64, logger *zap.Logger) (*Toolset, error) {
	t := &Toolset{
		mode:          mode,
		exec:          exec,
		logger:        logger.Named("tool_dispatcher"),
		pressDuration: pressDuration,
		tools:         make(map[string]tool),
	}
	switch mode {
	case config.ControlGamepad:
		t.registerGamepad()
	case config.ControlMouse:
		t.registerMouse()
	default:
		return nil, fmt.Errorf("unsupported control mode: %q", mode)
	}
	return t, nil
}

// Mode returns the control mode the vocabulary was built for.
func (t *Toolset) Mode() config.ControlMode { return t.mode }

// Definitions returns the tool schemas in registration order.
func (t *Toolset) Definitions() []schemas.ToolDefinition {
	defs := make([]schemas.ToolDefinition, 0, len(t.order))
	for _, name := range t.order {
		defs = append(defs, t.tools[name].def)
	}
	return defs
}

func (t *Toolset) register(def schemas.ToolDefinition, h toolHandler) {
	t.tools[def.Name] = tool{def: def, handler: h}
	t.order = append(t.order, def.Name)
}

// Dispatch executes call. It never returns an error and never panics: every
// failure is folded into the outcome so the worker sees it next cycle.
func (t *Toolset) Dispatch(ctx context.Context, call schemas.ToolCall) (outcome ToolOutcome) {
	outcome.Result = schemas.ToolResult{CallID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Tool handler panicked", zap.String("tool", call.Name), zap.Any("panic", r))
			outcome.Code = ErrCodeExecutorPanic
			outcome.Result.Content = ""
			outcome.Result.Error = fmt.Sprintf("[%s] tool %s panicked: %v", ErrCodeExecutorPanic, call.Name, r)
		}
	}()

	tl, ok := t.tools[call.Name]
	if !ok {
		outcome.Code = ErrCodeUnknownTool
		outcome.Result.Error = fmt.Sprintf("[%s] unknown tool %q; available: %s", ErrCodeUnknownTool, call.Name, strings.Join(t.order, ", "))
		return outcome
	}

	content, err := tl.handler(ctx, t.exec, call.Arguments)
	if err != nil {
		outcome.Code = classifyToolError(err)
		outcome.Result.Error = fmt.Sprintf("[%s] %v", outcome.Code, err)
		t.logger.Warn("Tool execution failed",
			zap.String("tool", call.Name),
			zap.String("error_code", string(outcome.Code)),
			zap.Error(err))
		return outcome
	}
	outcome.Result.Content = content
	return outcome
}

func classifyToolError(err error) ErrorCode {
	var pe *paramError
	if errors.As(err, &pe) {
		return ErrCodeInvalidParameters
	}
	var he *executor.HTTPError
	if errors.As(err, &he) && he.StatusCode == http.StatusBadRequest {
		return ErrCodeInvalidParameters
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeoutError
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrCodeTimeoutError
	}
	return ErrCodeExecutionFailure
}

// -- Gamepad vocabulary --

func (t *Toolset) registerGamepad() {
	t.register(schemas.ToolDefinition{
		Name:        "navigate",
		Description: "Move the highlight with the D-Pad in one direction.",
		Parameters: []schemas.ToolParameter{{
			Name: "direction", Type: schemas.ParamString, Required: true,
			Description: "Direction to move the highlight.",
			Enum:        []string{"up", "down", "left", "right"},
		}},
	}, t.navigate)

	t.register(schemas.ToolDefinition{
		Name:        "confirm",
		Description: "Press A: select, confirm, pick or unpick the highlighted element.",
	}, t.single(executor.ButtonA))
	t.register(schemas.ToolDefinition{
		Name:        "cancel",
		Description: "Press B: go back, exit the shop or unpick all cards.",
	}, t.single(executor.ButtonB))
	t.register(schemas.ToolDefinition{
		Name:        "primary_action",
		Description: "Press X: play the picked cards in a round, reroll in the shop.",
	}, t.single(executor.ButtonX))
	t.register(schemas.ToolDefinition{
		Name:        "secondary_action",
		Description: "Press Y: discard the picked cards in a round, next round in the shop.",
	}, t.single(executor.ButtonY))

	t.register(schemas.ToolDefinition{
		Name:        "tertiary_action",
		Description: "Press a bumper: LB or RB, used for sorting the hand and switching tabs.",
		Parameters: []schemas.ToolParameter{{
			Name: "side", Type: schemas.ParamString, Required: true,
			Description: "Which bumper to press.",
			Enum:        []string{"left", "right"},
		}},
	}, t.tertiary)

	t.register(schemas.ToolDefinition{
		Name: "press_buttons",
		Description: "Press a space separated sequence of controller buttons in order. " +
			"Valid buttons: A, B, X, Y, LB, RB, LT, RT, START, SELECT, BACK, UP, DOWN, LEFT, RIGHT. Example: 'RIGHT RIGHT A'.",
		Parameters: []schemas.ToolParameter{{
			Name: "sequence", Type: schemas.ParamString, Required: true,
			Description: "Buttons separated by spaces.",
		}},
	}, t.pressSequence)
}

func (t *Toolset) press(ctx context.Context, exec Executor, buttons []executor.Button) (string, error) {
	resp, err := exec.Press(ctx, buttons, t.pressDuration)
	if err != nil {
		return "", err
	}
	return statusText(resp, "pressed "+executor.JoinButtons(buttons)), nil
}

func (t *Toolset) single(b executor.Button) toolHandler {
	return func(ctx context.Context, exec Executor, _ map[string]interface{}) (string, error) {
		return t.press(ctx, exec, []executor.Button{b})
	}
}

func (t *Toolset) navigate(ctx context.Context, exec Executor, args map[string]interface{}) (string, error) {
	dir, err := stringArg(args, "direction", true)
	if err != nil {
		return "", err
	}
	var b executor.Button
	switch strings.ToLower(dir) {
	case "up":
		b = executor.ButtonUp
	case "down":
		b = executor.ButtonDown
	case "left":
		b = executor.ButtonLeft
	case "right":
		b = executor.ButtonRight
	default:
		return "", &paramError{fmt.Sprintf("direction must be up, down, left or right, got %q", dir)}
	}
	return t.press(ctx, exec, []executor.Button{b})
}

func (t *Toolset) tertiary(ctx context.Context, exec Executor, args map[string]interface{}) (string, error) {
	side, err := stringArg(args, "side", true)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(side) {
	case "left":
		return t.press(ctx, exec, []executor.Button{executor.ButtonLB})
	case "right":
		return t.press(ctx, exec, []executor.Button{executor.ButtonRB})
	default:
		return "", &paramError{fmt.Sprintf("side must be left or right, got %q", side)}
	}
}

func (t *Toolset) pressSequence(ctx context.Context, exec Executor, args map[string]interface{}) (string, error) {
	seq, err := stringArg(args, "sequence", true)
	if err != nil {
		return "", err
	}
	buttons, err := executor.ParseButtons(seq)
	if err != nil {
		return "", &paramError{err.Error()}
	}
	return t.press(ctx, exec, buttons)
}

// -- Mouse vocabulary --

func (t *Toolset) registerMouse() {
	coord := func(name, desc string) schemas.ToolParameter {
		return schemas.ToolParameter{Name: name, Type: schemas.ParamInteger, Required: true, Description: desc}
	}
	button := schemas.ToolParameter{
		Name: "button", Type: schemas.ParamString,
		Description: "Mouse button, defaults to left.",
		Enum:        []string{executor.MouseLeft, executor.MouseRight, executor.MouseMiddle},
	}
	duration := func(desc string) schemas.ToolParameter {
		return schemas.ToolParameter{Name: "duration", Type: schemas.ParamNumber, Description: desc}
	}

	t.register(schemas.ToolDefinition{
		Name:        "pointer_click",
		Description: "Click at a pixel coordinate of the screen. The screen size is given with every screenshot.",
		Parameters: []schemas.ToolParameter{
			coord("x", "Horizontal pixel coordinate, 0 is the left edge."),
			coord("y", "Vertical pixel coordinate, 0 is the top edge."),
			button,
			{Name: "clicks", Type: schemas.ParamInteger, Description: "Number of clicks, defaults to 1."},
		},
	}, t.click)

	t.register(schemas.ToolDefinition{
		Name:        "pointer_move",
		Description: "Move the pointer to a pixel coordinate, e.g. to hover a card and reveal its popup.",
		Parameters: []schemas.ToolParameter{
			coord("x", "Horizontal pixel coordinate."),
			coord("y", "Vertical pixel coordinate."),
			duration("Movement time in seconds, 0 moves instantly."),
		},
	}, t.move)

	t.register(schemas.ToolDefinition{
		Name:        "pointer_drag",
		Description: "Drag from one pixel coordinate to another, e.g. to reorder cards or jokers.",
		Parameters: []schemas.ToolParameter{
			coord("start_x", "Start horizontal pixel coordinate."),
			coord("start_y", "Start vertical pixel coordinate."),
			coord("end_x", "End horizontal pixel coordinate."),
			coord("end_y", "End vertical pixel coordinate."),
			duration("Drag time in seconds, defaults to 0.5."),
			button,
		},
	}, t.drag)

	t.register(schemas.ToolDefinition{
		Name:        "pointer_position",
		Description: "Report the current pointer position and the screen size.",
	}, t.position)
}

func (t *Toolset) click(ctx context.Context, exec Executor, args map[string]interface{}) (string, error) {
	x, err := intArg(args, "x", true)
	if err != nil {
		return "", err
	}
	y, err := intArg(args, "y", true)
	if err != nil {
		return "", err
	}
	btn, err := stringArg(args, "button", false)
	if err != nil {
		return "", err
	}
	clicks, err := intArg(args, "clicks", false)
	if err != nil {
		return "", err
	}
	if clicks <= 0 {
		clicks = 1
	}
	resp, err := exec.Click(ctx, executor.ClickRequest{X: x, Y: y, Button: btn, Clicks: clicks})
	if err != nil {
		return "", err
	}
	return statusText(resp, fmt.Sprintf("clicked at (%d, %d)", x, y)), nil
}

func (t *Toolset) move(ctx context.Context, exec Executor, args map[string]interface{}) (string, error) {
	x, err := intArg(args, "x", true)
	if err != nil {
		return "", err
	}
	y, err := intArg(args, "y", true)
	if err != nil {
		return "", err
	}
	dur, err := floatArg(args, "duration", 0)
	if err != nil {
		return "", err
	}
	resp, err := exec.Move(ctx, executor.MoveRequest{X: x, Y: y, Duration: dur})
	if err != nil {
		return "", err
	}
	return statusText(resp, fmt.Sprintf("moved pointer to (%d, %d)", x, y)), nil
}

func (t *Toolset) drag(ctx context.Context, exec Executor, args map[string]interface{}) (string, error) {
	var req executor.DragRequest
	var err error
	coords := []struct {
		name string
		dst  *int
	}{{"start_x", &req.StartX}, {"start_y", &req.StartY}, {"end_x", &req.EndX}, {"end_y", &req.EndY}}
	for _, c := range coords {
		if *c.dst, err = intArg(args, c.name, true); err != nil {
			return "", err
		}
	}
	if req.Duration, err = floatArg(args, "duration", 0.5); err != nil {
		return "", err
	}
	if req.Button, err = stringArg(args, "button", false); err != nil {
		return "", err
	}
	resp, err := exec.Drag(ctx, req)
	if err != nil {
		return "", err
	}
	return statusText(resp, fmt.Sprintf("dragged from (%d, %d) to (%d, %d)", req.StartX, req.StartY, req.EndX, req.EndY)), nil
}

func (t *Toolset) position(ctx context.Context, exec Executor, _ map[string]interface{}) (string, error) {
	pos, err := exec.PointerPosition(ctx)
	if err != nil {
		return "", err
	}
	return describePointer(pos), nil
}

func describePointer(pos *executor.PointerPosition) string {
	return fmt.Sprintf("Pointer at (%d, %d) on a %dx%d screen.",
		pos.Position.X, pos.Position.Y, pos.ScreenSize.Width, pos.ScreenSize.Height)
}

func statusText(resp *executor.StatusResponse, fallback string) string {
	if resp == nil {
		return fallback
	}
	if resp.Message != "" {
		return resp.Message
	}
	return fallback
}

// -- Argument decoding --
// Providers decode JSON numbers as float64; some send numbers as strings.

func stringArg(args map[string]interface{}, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", &paramError{fmt.Sprintf("missing required argument %q", name)}
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &paramError{fmt.Sprintf("argument %q must be a string, got %T", name, v)}
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", &paramError{fmt.Sprintf("argument %q must not be empty", name)}
	}
	return s, nil
}

func numberArg(args map[string]interface{}, name string) (float64, bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, &paramError{fmt.Sprintf("argument %q must be a number, got %q", name, n)}
		}
		return f, true, nil
	default:
		return 0, false, &paramError{fmt.Sprintf("argument %q must be a number, got %T", name, v)}
	}
}

func intArg(args map[string]interface{}, name string, required bool) (int, error) {
	f, ok, err := numberArg(args, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		if required {
			return 0, &paramError{fmt.Sprintf("missing required argument %q", name)}
		}
		return 0, nil
	}
	if f < 0 {
		return 0, &paramError{fmt.Sprintf("argument %q must not be negative", name)}
	}
	return int(math.Round(f)), nil
}

func floatArg(args map[string]interface{}, name string, def float64) (float64, error) {
	f, ok, err := numberArg(args, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	if f < 0 {
		return 0, &paramError{fmt.Sprintf("argument %q must not be negative", name)}
	}
	return f, nil
}
