// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
)

// newServeCmd creates the `serve` command: the Action Executor host.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Hosts the Action Executor HTTP API in front of the game display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			serverCfg := applyServeFlagOverrides(cmd, cfg.Server())

			// The host logs on its own logger so it can share a terminal with an agent.
			logger, err := observability.NewLogger(cfg.Logger())
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServe(ctx, logger, serverCfg)
		},
	}

	serveCmd.Flags().StringP("listen", "l", "", "Listen address. (Overrides server.listen_addr)")
	serveCmd.Flags().String("display", "", "X display the game renders to. (Overrides server.display)")
	serveCmd.Flags().String("game-command", "", "Command that launches the game. (Overrides server.game_command)")
	serveCmd.Flags().String("game-dir", "", "Working directory of the game command. (Overrides server.game_dir)")
	return serveCmd
}

func applyServeFlagOverrides(cmd *cobra.Command, cfg config.ServerConfig) config.ServerConfig {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("display") {
		cfg.Display, _ = flags.GetString("display")
	}
	if flags.Changed("game-command") {
		cfg.GameCommand, _ = flags.GetString("game-command")
	}
	if flags.Changed("game-dir") {
		cfg.GameDir, _ = flags.GetString("game-dir")
	}
	return cfg
}

func runServe(ctx context.Context, logger *zap.Logger, cfg config.ServerConfig) error {
	if cfg.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}

	device := executor.NewX11Device(cfg.Display, cfg.WindowName, cfg.KeyMap, logger)
	game := executor.NewProcessGame(cfg, logger)
	actions := executor.NewActionLog(0)

	srv := executor.NewServer(cfg, device, game, actions, logger)
	logger.Info("Starting action executor",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("display", cfg.Display),
		zap.String("window", cfg.WindowName))

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("action executor stopped: %w", err)
	}
	logger.Info("Action executor stopped", zap.Int("actions_recorded", actions.Len()))
	return nil
}
