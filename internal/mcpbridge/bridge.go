// File: internal/mcpbridge/bridge.go
//
// Package mcpbridge exposes the Action Executor to other agents over the Model
// Context Protocol. It publishes the same tool vocabularies the worker uses,
// one MCP server per control mode, plus screen capture tools.
package mcpbridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/agent"
	"github.com/xkilldash9x/balatro-agent/internal/config"
)

const serverName = "balatro-executor"

// Bridge adapts an executor to MCP tool handlers.
type Bridge struct {
	exec          agent.Executor
	pressDuration float64
	logger        *zap.Logger
}

// New creates a bridge over exec.
func New(exec agent.Executor, pressDuration float64, logger *zap.Logger) *Bridge {
	return &Bridge{exec: exec, pressDuration: pressDuration, logger: logger.Named("mcp")}
}

// NewServer builds an MCP server offering the vocabulary of mode.
func (b *Bridge) NewServer(mode config.ControlMode, version string) (*server.MCPServer, error) {
	tools, err := b.Tools(mode)
	if err != nil {
		return nil, err
	}
	s := server.NewMCPServer(
		fmt.Sprintf("%s-%s", serverName, mode),
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTools(tools...)
	return s, nil
}

// Tools returns the MCP tools for mode: every action in the worker vocabulary
// and the two screen capture tools.
func (b *Bridge) Tools(mode config.ControlMode) ([]server.ServerTool, error) {
	ts, err := agent.NewToolset(mode, b.exec, b.pressDuration, b.logger)
	if err != nil {
		return nil, err
	}

	defs := ts.Definitions()
	out := make([]server.ServerTool, 0, len(defs)+2)
	for _, def := range defs {
		out = append(out, server.ServerTool{Tool: toMCPTool(def), Handler: b.dispatch(ts, def.Name)})
	}
	out = append(out,
		server.ServerTool{
			Tool:    mcp.NewTool("screen", mcp.WithDescription("Capture the current game screen as a PNG image.")),
			Handler: b.screen(false),
		},
		server.ServerTool{
			Tool:    mcp.NewTool("screen_with_cursor", mcp.WithDescription("Capture the current game screen with the pointer drawn on it.")),
			Handler: b.screen(true),
		},
	)
	return out, nil
}

func toMCPTool(def schemas.ToolDefinition) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	for _, p := range def.Parameters {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case schemas.ParamString:
			if len(p.Enum) > 0 {
				props = append(props, mcp.Enum(p.Enum...))
			}
			opts = append(opts, mcp.WithString(p.Name, props...))
		default:
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		}
	}
	return mcp.NewTool(def.Name, opts...)
}

// dispatch runs one call through the worker's dispatcher so MCP clients get
// the same validation and error codes.
func (b *Bridge) dispatch(ts *agent.Toolset, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := schemas.ToolCall{ID: uuid.NewString(), Name: name, Arguments: req.GetArguments()}
		outcome := ts.Dispatch(ctx, call)
		if !outcome.OK() {
			b.logger.Debug("MCP tool call failed.", zap.String("tool", name), zap.String("error", outcome.Result.Error))
			return mcp.NewToolResultError(outcome.Result.Error), nil
		}
		return mcp.NewToolResultText(outcome.Result.Content), nil
	}
}

func (b *Bridge) screen(withCursor bool) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		img, err := b.exec.Screenshot(ctx, withCursor)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("screen capture failed: %v", err)), nil
		}
		return mcp.NewToolResultImage("Current game screen.", base64.StdEncoding.EncodeToString(img), "image/png"), nil
	}
}

// Handler mounts one streamable HTTP MCP endpoint per control mode:
// /gamepad/mcp and /mouse/mcp.
func (b *Bridge) Handler(version string) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	for _, mode := range []config.ControlMode{config.ControlGamepad, config.ControlMouse} {
		s, err := b.NewServer(mode, version)
		if err != nil {
			return nil, err
		}
		path := fmt.Sprintf("/%s/mcp", mode)
		r.Handle(path, server.NewStreamableHTTPServer(s, server.WithEndpointPath(path)))
	}
	return r, nil
}

// ServeStdio serves the vocabulary of mode on stdin/stdout until the client
// disconnects.
func (b *Bridge) ServeStdio(mode config.ControlMode, version string) error {
	s, err := b.NewServer(mode, version)
	if err != nil {
		return err
	}
	return server.ServeStdio(s)
}
