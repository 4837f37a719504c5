// Package executor contains both sides of the Action Executor: the HTTP host
// that owns the game process and emulates input, and the client the agent uses
// to drive it.
package executor

import (
	"fmt"
	"strings"
	"time"
)

// Button is a gamepad token accepted by /actions/press.
type Button string

const (
	ButtonA      Button = "A"
	ButtonB      Button = "B"
	ButtonX      Button = "X"
	ButtonY      Button = "Y"
	ButtonLB     Button = "LB"
	ButtonRB     Button = "RB"
	ButtonLT     Button = "LT"
	ButtonRT     Button = "RT"
	ButtonStart  Button = "START"
	ButtonBack   Button = "BACK"
	ButtonSelect Button = "SELECT"
	ButtonUp     Button = "UP"
	ButtonDown   Button = "DOWN"
	ButtonLeft   Button = "LEFT"
	ButtonRight  Button = "RIGHT"
)

// AllButtons lists the valid tokens in a stable order.
var AllButtons = []Button{
	ButtonA, ButtonB, ButtonX, ButtonY, ButtonLB, ButtonRB, ButtonLT, ButtonRT,
	ButtonStart, ButtonBack, ButtonSelect, ButtonUp, ButtonDown, ButtonLeft, ButtonRight,
}

var validButtons = func() map[Button]struct{} {
	m := make(map[Button]struct{}, len(AllButtons))
	for _, b := range AllButtons {
		m[b] = struct{}{}
	}
	return m
}()

// ParseButtons splits a space separated token list. Tokens are
// case-insensitive. An empty list or any unknown token is an error.
func ParseButtons(s string) ([]Button, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no buttons specified")
	}
	out := make([]Button, 0, len(fields))
	for _, f := range fields {
		b := Button(strings.ToUpper(f))
		if _, ok := validButtons[b]; !ok {
			return nil, fmt.Errorf("invalid button: %s", f)
		}
		out = append(out, b)
	}
	return out, nil
}

// JoinButtons renders buttons in the wire format.
func JoinButtons(buttons []Button) string {
	parts := make([]string, len(buttons))
	for i, b := range buttons {
		parts[i] = string(b)
	}
	return strings.Join(parts, " ")
}

// Status values returned in the envelope.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusAlreadyStopped = "already_stopped"
	StatusNotRunning     = "not_running"
	StatusNoStatus       = "no_status"
	StatusHealthy        = "healthy"
)

// StatusResponse is the envelope returned by every mutating endpoint.
type StatusResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	PID        int         `json:"pid,omitempty"`
	ScreenSize *ScreenSize `json:"screen_size,omitempty"`
}

// PressRequest is the body of POST /actions/press.
type PressRequest struct {
	Buttons  string  `json:"buttons"`
	Duration float64 `json:"duration,omitempty"`
	StepID   string  `json:"step_id,omitempty"`
}

// ClickRequest is the body of POST /pointer/click. Coordinates are pixels.
type ClickRequest struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button,omitempty"`
	Clicks int    `json:"clicks,omitempty"`
}

// MoveRequest is the body of POST /pointer/move.
type MoveRequest struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Duration float64 `json:"duration,omitempty"`
}

// DragRequest is the body of POST /pointer/drag.
type DragRequest struct {
	StartX   int     `json:"start_x"`
	StartY   int     `json:"start_y"`
	EndX     int     `json:"end_x"`
	EndY     int     `json:"end_y"`
	Duration float64 `json:"duration,omitempty"`
	Button   string  `json:"button,omitempty"`
}

// AutoStartRequest configures the run the game mod starts on its own.
type AutoStartRequest struct {
	Deck  string `json:"deck,omitempty"`
	Stake int    `json:"stake,omitempty"`
	Seed  string `json:"seed,omitempty"`
}

// AutoStartFile is the document written for the game mod.
type AutoStartFile struct {
	AutoStart bool   `json:"auto_start"`
	Deck      string `json:"deck"`
	Stake     int    `json:"stake"`
	Seed      string `json:"seed"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PointerPosition is returned by GET /pointer/position.
type PointerPosition struct {
	Position   Point      `json:"position"`
	ScreenSize ScreenSize `json:"screen_size"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionRecord is one entry of the executor's action log.
type ActionRecord struct {
	StepID    string    `json:"step_id"`
	Kind      string    `json:"kind"`
	Buttons   []string  `json:"buttons,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Mouse buttons accepted by the pointer endpoints.
const (
	MouseLeft   = "left"
	MouseRight  = "right"
	MouseMiddle = "middle"
)

func normalizeMouseButton(b string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(b)) {
	case "", MouseLeft:
		return MouseLeft, nil
	case MouseRight:
		return MouseRight, nil
	case MouseMiddle:
		return MouseMiddle, nil
	default:
		return "", fmt.Errorf("invalid mouse button: %s", b)
	}
}

func seconds(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
