package executor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
)

// fakeDevice records every call and serves a fixed screenshot.
type fakeDevice struct {
	mu       sync.Mutex
	presses  []Button
	calls    []string
	pointer  Point
	size     ScreenSize
	screen   []byte
	pressErr error
	shotErr  error
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	return &fakeDevice{
		pointer: Point{X: 40, Y: 30},
		size:    ScreenSize{Width: 200, Height: 100},
		screen:  solidPNG(t, 200, 100, color.RGBA{R: 10, G: 10, B: 10, A: 255}),
	}
}

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDevice) PressButton(_ context.Context, b Button, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pressErr != nil {
		return d.pressErr
	}
	d.presses = append(d.presses, b)
	return nil
}

func (d *fakeDevice) Click(_ context.Context, x, y int, button string, clicks int) error {
	d.record("click")
	d.mu.Lock()
	d.pointer = Point{X: x, Y: y}
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Move(_ context.Context, x, y int, _ time.Duration) error {
	d.record("move")
	d.mu.Lock()
	d.pointer = Point{X: x, Y: y}
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Drag(_ context.Context, _, to Point, _ time.Duration, _ string) error {
	d.record("drag")
	d.mu.Lock()
	d.pointer = to
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Screenshot(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shotErr != nil {
		return nil, d.shotErr
	}
	return d.screen, nil
}

func (d *fakeDevice) PointerPosition(context.Context) (Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointer, nil
}

func (d *fakeDevice) ScreenSize(context.Context) (ScreenSize, error) {
	return d.size, nil
}

func (d *fakeDevice) fail(pressErr, shotErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pressErr, d.shotErr = pressErr, shotErr
}

func (d *fakeDevice) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) pressed() []Button {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Button(nil), d.presses...)
}

// fakeGame mimics the idempotent lifecycle of ProcessGame.
type fakeGame struct {
	mu      sync.Mutex
	running bool
	ever    bool
}

func (g *fakeGame) Start(context.Context) (StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return StatusResponse{Status: StatusAlreadyRunning, PID: 42}, nil
	}
	g.running, g.ever = true, true
	return StatusResponse{Status: StatusStarted, PID: 42}, nil
}

func (g *fakeGame) Stop(context.Context) (StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ever {
		return StatusResponse{Status: StatusNotRunning}, nil
	}
	if !g.running {
		return StatusResponse{Status: StatusAlreadyStopped}, nil
	}
	g.running = false
	return StatusResponse{Status: StatusStopped}, nil
}

func (g *fakeGame) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func testServerConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	return config.ServerConfig{
		ListenAddr:     "127.0.0.1:0",
		AutoStartFile:  dir + "/auto_start.json",
		ModStatusFile:  dir + "/mod_status.json",
		RequestTimeout: 5 * time.Second,
	}
}

// setupServer starts an httptest server around a Server with fakes.
func setupServer(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *Server, *fakeDevice, *ActionLog) {
	t.Helper()
	device := newFakeDevice(t)
	actions := NewActionLog(0)
	srv := NewServer(cfg, device, &fakeGame{}, actions, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv, device, actions
}

func testClientConfig(baseURL string) config.ExecutorConfig {
	return config.ExecutorConfig{
		BaseURL:           baseURL,
		ControlMode:       config.ControlGamepad,
		ScreenshotTimeout: 2 * time.Second,
		ActionTimeout:     2 * time.Second,
		DragTimeout:       2 * time.Second,
		PressDuration:     0.01,
		MaxRetries:        2,
	}
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var errDevice = errors.New("uinput device missing")
