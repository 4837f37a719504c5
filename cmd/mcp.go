// File: cmd/mcp.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
	"github.com/xkilldash9x/balatro-agent/internal/mcpbridge"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
)

// newMCPCmd creates the `mcp` command: the Action Executor as MCP tools.
func newMCPCmd() *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Exposes the Action Executor as Model Context Protocol tools",
		Long: `Serves the worker's tool vocabulary over MCP.

With --transport stdio one control mode is served on stdin/stdout.
With --transport http both modes are served, at /gamepad/mcp and /mouse/mcp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applySessionFlagOverrides(cmd, cfg); err != nil {
				return err
			}
			transport, _ := cmd.Flags().GetString("transport")
			listen, _ := cmd.Flags().GetString("listen")

			// stdout carries the protocol, so logs go to stderr only.
			logger, err := observability.NewLogger(cfg.Logger())
			if err != nil {
				return err
			}
			defer logger.Sync()

			return runMCP(ctx, logger, cfg, strings.ToLower(transport), listen)
		},
	}

	mcpCmd.Flags().String("executor-url", "", "Base URL of the Action Executor. (Overrides config/env)")
	mcpCmd.Flags().String("control-mode", "", "Vocabulary served over stdio: 'gamepad' or 'mouse'. (Overrides config/env)")
	mcpCmd.Flags().String("transport", "stdio", "MCP transport: 'stdio' or 'http'.")
	mcpCmd.Flags().String("listen", "127.0.0.1:8001", "Listen address for the http transport.")
	return mcpCmd
}

func runMCP(ctx context.Context, logger *zap.Logger, cfg config.Interface, transport, listen string) error {
	execClient, err := executor.NewClient(cfg.Executor(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize executor client: %w", err)
	}
	bridge := mcpbridge.New(execClient, cfg.Executor().PressDuration, logger)

	switch transport {
	case "stdio":
		logger.Info("Serving MCP over stdio", zap.String("control_mode", string(cfg.Executor().ControlMode)))
		return bridge.ServeStdio(cfg.Executor().ControlMode, Version)
	case "http":
		handler, err := bridge.Handler(Version)
		if err != nil {
			return err
		}
		return serveHTTP(ctx, logger, listen, handler)
	default:
		return fmt.Errorf("unknown transport %q: use 'stdio' or 'http'", transport)
	}
}

// serveHTTP runs handler on addr until ctx is cancelled.
func serveHTTP(ctx context.Context, logger *zap.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP bridge listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("MCP bridge shutdown error", zap.Error(err))
	}
	return <-errCh
}
