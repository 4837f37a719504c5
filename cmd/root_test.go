// File: cmd/root_test.go
package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/balatro-agent/internal/config"
)

// TestRootCmd_VersionFlag tests if the --version flag works correctly.
func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeRoot(t, nil, nil, "--version")

	require.NoError(t, err)
	assert.Contains(t, out, "balatro-agent version "+Version)
}

// TestRootCmd_NoArgs tests the behavior when no arguments are provided.
func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeRoot(t, nil, nil)

	require.NoError(t, err)
	assert.Contains(t, out, "balatro-agent drives Balatro with LLM workers and planners.")
	for _, sub := range []string{"run", "plan", "batch", "serve", "mcp", "logs", "sessions", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCmd_SkipsConfig(t *testing.T) {
	isolateConfig(t)
	require.NoError(t, os.WriteFile("config.yaml", []byte("session: [not, a, map"), 0o644))

	out, err := executeRoot(t, nil, nil, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "balatro-agent "+Version)
}

func TestConfigPrecedence(t *testing.T) {
	t.Run("config file overrides defaults", func(t *testing.T) {
		isolateConfig(t)
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
session:
  max_recursions: 7
executor:
  control_mode: mouse
`), 0o644))

		factory := &capturingFactory{runner: &fakeRunner{}}
		_, err := executeRoot(t, factory, nil, "--config", path, "run", "open the shop")

		require.NoError(t, err)
		require.NotNil(t, factory.cfg)
		assert.Equal(t, 7, factory.cfg.Session().MaxRecursions)
		assert.Equal(t, config.ControlMouse, factory.cfg.Executor().ControlMode)
		assert.Equal(t, 3, factory.cfg.Session().MaxWorkerSteps, "unset keys keep defaults")
	})

	t.Run("working directory config is discovered", func(t *testing.T) {
		isolateConfig(t)
		require.NoError(t, os.WriteFile("config.yaml", []byte("session:\n  history_window: 9\n"), 0o644))

		factory := &capturingFactory{runner: &fakeRunner{}}
		_, err := executeRoot(t, factory, nil, "run", "play a hand")

		require.NoError(t, err)
		assert.Equal(t, 9, factory.cfg.Session().HistoryWindow)
	})

	t.Run("home directory config is discovered", func(t *testing.T) {
		isolateConfig(t)
		home := os.Getenv("HOME")
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".balatro-agent"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(home, ".balatro-agent", "config.yaml"), []byte("session:\n  stuck_threshold: 5\n"), 0o644))

		factory := &capturingFactory{runner: &fakeRunner{}}
		_, err := executeRoot(t, factory, nil, "run", "play a hand")

		require.NoError(t, err)
		assert.Equal(t, 5, factory.cfg.Session().StuckThreshold)
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		isolateConfig(t)
		require.NoError(t, os.WriteFile("config.yaml", []byte("session:\n  max_recursions: 7\n"), 0o644))
		t.Setenv("BALATRO_SESSION_MAX_RECURSIONS", "11")

		factory := &capturingFactory{runner: &fakeRunner{}}
		_, err := executeRoot(t, factory, nil, "run", "skip the blind")

		require.NoError(t, err)
		assert.Equal(t, 11, factory.cfg.Session().MaxRecursions)
	})

	t.Run("dotenv file feeds the environment", func(t *testing.T) {
		isolateConfig(t)
		require.NoError(t, os.WriteFile("test.env", []byte("BALATRO_EXECUTOR_BASE_URL=http://dotenv-host:9000\n"), 0o644))
		t.Cleanup(func() { os.Unsetenv("BALATRO_EXECUTOR_BASE_URL") })

		factory := &capturingFactory{runner: &fakeRunner{}}
		_, err := executeRoot(t, factory, nil, "--env-file", "test.env", "run", "buy a joker")

		require.NoError(t, err)
		assert.Equal(t, "http://dotenv-host:9000", factory.cfg.Executor().BaseURL)
	})

	t.Run("flags override everything", func(t *testing.T) {
		isolateConfig(t)
		t.Setenv("BALATRO_SESSION_MAX_RECURSIONS", "11")

		factory := &capturingFactory{runner: &fakeRunner{}}
		_, err := executeRoot(t, factory, nil, "run", "--max-recursions", "4", "--control-mode", "mouse", "sell a joker")

		require.NoError(t, err)
		assert.Equal(t, 4, factory.cfg.Session().MaxRecursions)
		assert.Equal(t, config.ControlMouse, factory.cfg.Executor().ControlMode)
	})
}

func TestConfigErrors(t *testing.T) {
	t.Run("invalid values fail validation", func(t *testing.T) {
		isolateConfig(t)
		require.NoError(t, os.WriteFile("config.yaml", []byte("session:\n  variant: sideways\n"), 0o644))

		_, err := executeRoot(t, nil, nil, "run", "anything")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load or validate config")
	})

	t.Run("explicit config file must exist", func(t *testing.T) {
		isolateConfig(t)

		_, err := executeRoot(t, nil, nil, "--config", "missing.yaml", "run", "anything")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})
}

func TestInitializeConfig_ExpandsLogFile(t *testing.T) {
	isolateConfig(t)
	root := newRootCmd(&capturingFactory{runner: &fakeRunner{}}, &fakeStoreProvider{reader: &fakeReader{}})
	require.NoError(t, os.WriteFile("config.yaml", []byte("logger:\n  log_file: ~/logs/agent.log\n"), 0o644))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(root, v))

	assert.Equal(t, filepath.Join(os.Getenv("HOME"), "logs", "agent.log"), v.GetString("logger.log_file"))
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
