package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
)

const stopGracePeriod = 5 * time.Second

// ProcessGame runs the game as a child process of the executor host.
type ProcessGame struct {
	command string
	dir     string
	env     []string
	logger  *zap.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

var _ Game = (*ProcessGame)(nil)

// NewProcessGame builds the launcher from the server configuration.
func NewProcessGame(cfg config.ServerConfig, logger *zap.Logger) *ProcessGame {
	env := append(os.Environ(), "DISPLAY="+cfg.Display)
	for k, v := range cfg.GameEnv {
		env = append(env, strings.ToUpper(k)+"="+os.ExpandEnv(v))
	}
	return &ProcessGame{
		command: cfg.GameCommand,
		dir:     cfg.GameDir,
		env:     env,
		logger:  logger.Named("game_process"),
	}
}

// Start launches the game unless it is already running.
func (g *ProcessGame) Start(_ context.Context) (StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.aliveLocked() {
		return StatusResponse{Status: StatusAlreadyRunning, PID: g.cmd.Process.Pid}, nil
	}

	fields := strings.Fields(g.command)
	if len(fields) == 0 {
		return StatusResponse{}, fmt.Errorf("game command is empty")
	}
	if g.dir != "" {
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			return StatusResponse{}, fmt.Errorf("error starting game: %w", err)
		}
	}

	// The process outlives the request, so it is not bound to ctx.
	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = g.dir
	cmd.Env = g.env
	if err := cmd.Start(); err != nil {
		return StatusResponse{}, fmt.Errorf("error starting game: %w", err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		g.logger.Info("Game process exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		close(done)
	}()

	g.cmd, g.done = cmd, done
	g.logger.Info("Game process started", zap.Int("pid", cmd.Process.Pid), zap.String("command", g.command))
	return StatusResponse{Status: StatusStarted, PID: cmd.Process.Pid}, nil
}

// Stop terminates the game, escalating to SIGKILL after a grace period.
func (g *ProcessGame) Stop(ctx context.Context) (StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cmd == nil {
		return StatusResponse{Status: StatusNotRunning}, nil
	}
	if !g.aliveLocked() {
		return StatusResponse{Status: StatusAlreadyStopped}, nil
	}

	if err := g.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return StatusResponse{}, fmt.Errorf("error stopping game: %w", err)
	}

	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()
	select {
	case <-g.done:
	case <-timer.C:
		g.logger.Warn("Game did not exit after SIGTERM, killing it")
		_ = g.cmd.Process.Kill()
		<-g.done
	case <-ctx.Done():
		_ = g.cmd.Process.Kill()
		<-g.done
	}

	g.cmd, g.done = nil, nil
	return StatusResponse{Status: StatusStopped}, nil
}

// Running reports whether the child process is alive.
func (g *ProcessGame) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aliveLocked()
}

func (g *ProcessGame) aliveLocked() bool {
	if g.cmd == nil || g.done == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}
