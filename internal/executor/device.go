package executor

import (
	"context"
	"time"
)

// Device emulates input on the game's display and captures it.
type Device interface {
	PressButton(ctx context.Context, button Button, hold time.Duration) error
	Click(ctx context.Context, x, y int, button string, clicks int) error
	Move(ctx context.Context, x, y int, duration time.Duration) error
	Drag(ctx context.Context, from, to Point, duration time.Duration, button string) error
	Screenshot(ctx context.Context) ([]byte, error)
	PointerPosition(ctx context.Context) (Point, error)
	ScreenSize(ctx context.Context) (ScreenSize, error)
}

// Game owns the lifecycle of the game process. Start and Stop are idempotent
// and report what they did through the status field.
type Game interface {
	Start(ctx context.Context) (StatusResponse, error)
	Stop(ctx context.Context) (StatusResponse, error)
	Running() bool
}
