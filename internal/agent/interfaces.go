// File: internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/balatro-agent/internal/executor"
)

// Executor is the subset of the Action Executor client the engine drives.
// *executor.Client satisfies it; tests substitute scripted fakes.
type Executor interface {
	Screenshot(ctx context.Context, withCursor bool) ([]byte, error)
	PointerPosition(ctx context.Context) (*executor.PointerPosition, error)
	Press(ctx context.Context, buttons []executor.Button, duration float64) (*executor.StatusResponse, error)
	Click(ctx context.Context, req executor.ClickRequest) (*executor.StatusResponse, error)
	Move(ctx context.Context, req executor.MoveRequest) (*executor.StatusResponse, error)
	Drag(ctx context.Context, req executor.DragRequest) (*executor.StatusResponse, error)
}

var _ Executor = (*executor.Client)(nil)

// Recorder receives session telemetry. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	SessionStarted(variant string)
	SessionFinished(variant, reason string, steps int)
	ToolCalled(tool, code string)
	ModelCalled(stage string, err error)
}

// TranscriptSink persists finished sessions.
type TranscriptSink interface {
	SaveSession(ctx context.Context, s *Session) error
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(string)              {}
func (nopRecorder) SessionFinished(string, string, int) {}
func (nopRecorder) ToolCalled(string, string)          {}
func (nopRecorder) ModelCalled(string, error)          {}
