package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// commandRunner executes an external program and returns its stdout.
type commandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// DefaultKeyMap translates gamepad tokens to X11 keysyms. Entries may be
// overridden through server.key_map.
var DefaultKeyMap = map[Button]string{
	ButtonA:      "Return",
	ButtonB:      "Escape",
	ButtonX:      "space",
	ButtonY:      "Tab",
	ButtonLB:     "q",
	ButtonRB:     "e",
	ButtonLT:     "z",
	ButtonRT:     "c",
	ButtonStart:  "p",
	ButtonBack:   "BackSpace",
	ButtonSelect: "BackSpace",
	ButtonUp:     "Up",
	ButtonDown:   "Down",
	ButtonLeft:   "Left",
	ButtonRight:  "Right",
}

// X11Device drives an X display through xdotool and captures it with
// ImageMagick's import.
type X11Device struct {
	display    string
	windowName string
	keyMap     map[Button]string
	logger     *zap.Logger
	run        commandRunner
}

var _ Device = (*X11Device)(nil)

// NewX11Device creates a device for display. overrides replaces entries of
// DefaultKeyMap; keys are matched case-insensitively.
func NewX11Device(display, windowName string, overrides map[string]string, logger *zap.Logger) *X11Device {
	keyMap := make(map[Button]string, len(DefaultKeyMap))
	for b, k := range DefaultKeyMap {
		keyMap[b] = k
	}
	for b, k := range overrides {
		keyMap[Button(strings.ToUpper(b))] = k
	}
	return &X11Device{
		display:    display,
		windowName: windowName,
		keyMap:     keyMap,
		logger:     logger.Named("x11_device"),
		run:        execRunner,
	}
}

func (d *X11Device) env() []string {
	return append(os.Environ(), "DISPLAY="+d.display)
}

func (d *X11Device) xdotool(ctx context.Context, args ...string) ([]byte, error) {
	return d.run(ctx, d.env(), "xdotool", args...)
}

// focus raises the game window. Failure is logged, not returned: input still
// reaches whatever window has focus.
func (d *X11Device) focus(ctx context.Context) {
	if d.windowName == "" {
		return
	}
	if _, err := d.xdotool(ctx, "search", "--name", d.windowName, "windowactivate", "--sync"); err != nil {
		d.logger.Debug("Could not focus game window", zap.String("window", d.windowName), zap.Error(err))
	}
}

func (d *X11Device) PressButton(ctx context.Context, button Button, hold time.Duration) error {
	key, ok := d.keyMap[button]
	if !ok {
		return fmt.Errorf("button '%s' not recognized", button)
	}
	d.focus(ctx)

	if _, err := d.xdotool(ctx, "keydown", key); err != nil {
		return fmt.Errorf("press %s: %w", button, err)
	}
	if err := sleepCtx(ctx, hold); err != nil {
		// Release the key even when the request is abandoned.
		_, _ = d.xdotool(context.Background(), "keyup", key)
		return err
	}
	if _, err := d.xdotool(ctx, "keyup", key); err != nil {
		return fmt.Errorf("release %s: %w", button, err)
	}
	return nil
}

func (d *X11Device) Click(ctx context.Context, x, y int, button string, clicks int) error {
	if clicks < 1 {
		clicks = 1
	}
	_, err := d.xdotool(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y),
		"click", "--repeat", strconv.Itoa(clicks), mouseButtonCode(button))
	if err != nil {
		return fmt.Errorf("failed to click: %w", err)
	}
	return nil
}

func (d *X11Device) Move(ctx context.Context, x, y int, duration time.Duration) error {
	if duration <= 0 {
		if _, err := d.xdotool(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		return nil
	}
	from, err := d.PointerPosition(ctx)
	if err != nil {
		return err
	}
	return d.glide(ctx, from, Point{X: x, Y: y}, duration)
}

func (d *X11Device) Drag(ctx context.Context, from, to Point, duration time.Duration, button string) error {
	code := mouseButtonCode(button)
	if _, err := d.xdotool(ctx, "mousemove", strconv.Itoa(from.X), strconv.Itoa(from.Y), "mousedown", code); err != nil {
		return fmt.Errorf("failed to drag: %w", err)
	}
	glideErr := d.glide(ctx, from, to, duration)
	if _, err := d.xdotool(context.Background(), "mouseup", code); err != nil && glideErr == nil {
		return fmt.Errorf("failed to drag: %w", err)
	}
	return glideErr
}

// glide moves the pointer in small steps so the game registers a drag.
func (d *X11Device) glide(ctx context.Context, from, to Point, duration time.Duration) error {
	const stepInterval = 20 * time.Millisecond
	steps := int(duration / stepInterval)
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		x := from.X + (to.X-from.X)*i/steps
		y := from.Y + (to.Y-from.Y)*i/steps
		if _, err := d.xdotool(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if i < steps {
			if err := sleepCtx(ctx, stepInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *X11Device) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.run(ctx, d.env(), "import", "-window", "root", "png:-")
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("failed to capture screenshot: empty output")
	}
	return out, nil
}

func (d *X11Device) PointerPosition(ctx context.Context) (Point, error) {
	out, err := d.xdotool(ctx, "getmouselocation", "--shell")
	if err != nil {
		return Point{}, fmt.Errorf("failed to get mouse position: %w", err)
	}
	return parseMouseLocation(string(out))
}

func (d *X11Device) ScreenSize(ctx context.Context) (ScreenSize, error) {
	out, err := d.xdotool(ctx, "getdisplaygeometry")
	if err != nil {
		return ScreenSize{}, fmt.Errorf("failed to get screen size: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return ScreenSize{}, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
	}
	w, errW := strconv.Atoi(fields[0])
	h, errH := strconv.Atoi(fields[1])
	if errW != nil || errH != nil {
		return ScreenSize{}, fmt.Errorf("unexpected display geometry %q", strings.TrimSpace(string(out)))
	}
	return ScreenSize{Width: w, Height: h}, nil
}

// parseMouseLocation reads the X= and Y= lines of `getmouselocation --shell`.
func parseMouseLocation(out string) (Point, error) {
	var p Point
	var seenX, seenY bool
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			p.X, seenX = n, true
		case "Y":
			p.Y, seenY = n, true
		}
	}
	if !seenX || !seenY {
		return Point{}, fmt.Errorf("could not parse mouse location from %q", strings.TrimSpace(out))
	}
	return p, nil
}

func mouseButtonCode(button string) string {
	switch button {
	case MouseMiddle:
		return "2"
	case MouseRight:
		return "3"
	default:
		return "1"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
