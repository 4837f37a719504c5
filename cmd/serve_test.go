// File: cmd/serve_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
)

func TestApplyServeFlagOverrides(t *testing.T) {
	base := config.NewDefaultConfig().Server()

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--listen", "0.0.0.0:9000", "--display", ":99"}))

	got := applyServeFlagOverrides(cmd, base)

	assert.Equal(t, "0.0.0.0:9000", got.ListenAddr)
	assert.Equal(t, ":99", got.Display)
	assert.Equal(t, base.GameCommand, got.GameCommand)
	assert.Equal(t, "127.0.0.1:8000", base.ListenAddr, "the input config is not modified")
}

func TestRunServe_RequiresListenAddr(t *testing.T) {
	cfg := config.NewDefaultConfig().Server()
	cfg.ListenAddr = ""

	err := runServe(context.Background(), zap.NewNop(), cfg)

	require.Error(t, err)
}

func TestRunMCP_UnknownTransport(t *testing.T) {
	err := runMCP(context.Background(), zap.NewNop(), config.NewDefaultConfig(), "carrier-pigeon", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestRunMCP_HTTPStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runMCP(ctx, zap.NewNop(), config.NewDefaultConfig(), "http", "127.0.0.1:0")
	}()
	cancel()

	assert.NoError(t, <-done)
}
