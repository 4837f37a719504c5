// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
	Name string
}

// Generate implements schemas.LLMClient.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*schemas.GenerationResponse)
	return resp, args.Error(1)
}

// Close implements schemas.LLMClient. Tests that never set an expectation get nil.
func (m *MockLLMClient) Close() error {
	for _, call := range m.ExpectedCalls {
		if call.Method == "Close" {
			return m.Called().Error(0)
		}
	}
	return nil
}

// -- Action Executor Mock --

// MockExecutor mocks the Action Executor client surface.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Screenshot(ctx context.Context, withCursor bool) ([]byte, error) {
	args := m.Called(ctx, withCursor)
	img, _ := args.Get(0).([]byte)
	return img, args.Error(1)
}

func (m *MockExecutor) PointerPosition(ctx context.Context) (*executor.PointerPosition, error) {
	args := m.Called(ctx)
	pos, _ := args.Get(0).(*executor.PointerPosition)
	return pos, args.Error(1)
}

func (m *MockExecutor) Press(ctx context.Context, buttons []executor.Button, duration float64) (*executor.StatusResponse, error) {
	args := m.Called(ctx, buttons, duration)
	return statusOf(args)
}

func (m *MockExecutor) Click(ctx context.Context, req executor.ClickRequest) (*executor.StatusResponse, error) {
	args := m.Called(ctx, req)
	return statusOf(args)
}

func (m *MockExecutor) Move(ctx context.Context, req executor.MoveRequest) (*executor.StatusResponse, error) {
	args := m.Called(ctx, req)
	return statusOf(args)
}

func (m *MockExecutor) Drag(ctx context.Context, req executor.DragRequest) (*executor.StatusResponse, error) {
	args := m.Called(ctx, req)
	return statusOf(args)
}

func statusOf(args mock.Arguments) (*executor.StatusResponse, error) {
	resp, _ := args.Get(0).(*executor.StatusResponse)
	return resp, args.Error(1)
}
