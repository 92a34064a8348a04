// Package device drives an Android device through the adb command line
// and provides a scripted in-memory device for dry runs.
package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/tapwise/api/schemas"
	"github.com/xkilldash9x/tapwise/internal/humanoid"
	"go.uber.org/zap"
)

// execCommandContext is replaced in tests.
var execCommandContext = exec.CommandContext

// ADBConfig configures one adb-attached device.
type ADBConfig struct {
	Path              string
	Serial            string
	CaptureRetries    int
	CaptureRetryDelay time.Duration
	CommandTimeout    time.Duration
}

func DefaultADBConfig() ADBConfig {
	return ADBConfig{
		Path:              "adb",
		CaptureRetries:    3,
		CaptureRetryDelay: 500 * time.Millisecond,
		CommandTimeout:    10 * time.Second,
	}
}

// ADB implements ScreenProvider and InputInjector over adb.
type ADB struct {
	cfg      ADBConfig
	logger   *zap.Logger
	executor humanoid.Executor
}

var (
	_ schemas.ScreenProvider = (*ADB)(nil)
	_ schemas.InputInjector  = (*ADB)(nil)
	_ schemas.MethodNamer    = (*ADB)(nil)
)

// NewADB creates the adapter. A nil executor sleeps on the wall clock
// between capture retries.
func NewADB(cfg ADBConfig, logger *zap.Logger, executor humanoid.Executor) *ADB {
	if cfg.Path == "" {
		cfg.Path = "adb"
	}
	if cfg.CaptureRetries < 1 {
		cfg.CaptureRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = humanoid.NewRealExecutor()
	}
	return &ADB{
		cfg:      cfg,
		logger:   logger.Named("adb").With(zap.String("serial", cfg.Serial)),
		executor: executor,
	}
}

func (a *ADB) Method() schemas.TapMethod { return schemas.MethodADB }

// Serial is the device serial this adapter targets, empty for the default device.
func (a *ADB) Serial() string { return a.cfg.Serial }

func (a *ADB) run(ctx context.Context, args ...string) ([]byte, error) {
	if a.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CommandTimeout)
		defer cancel()
	}
	if a.cfg.Serial != "" {
		args = append([]string{"-s", a.cfg.Serial}, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := execCommandContext(ctx, a.cfg.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb %s failed: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Capture grabs a PNG screenshot, retrying failed or empty captures.
func (a *ADB) Capture(ctx context.Context) (image.Image, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.CaptureRetries; attempt++ {
		if attempt > 1 {
			if err := a.executor.Sleep(ctx, a.cfg.CaptureRetryDelay); err != nil {
				return nil, err
			}
		}
		img, err := a.captureOnce(ctx)
		if err == nil {
			return img, nil
		}
		lastErr = err
		a.logger.Debug("Screen capture failed.", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("screen capture failed after %d attempts: %w", a.cfg.CaptureRetries, lastErr)
}

func (a *ADB) captureOnce(ctx context.Context) (image.Image, error) {
	out, err := a.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("empty screencap output")
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screencap: %w", err)
	}
	return img, nil
}

func (a *ADB) Tap(ctx context.Context, x, y int) bool {
	if _, err := a.run(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		a.logger.Warn("adb tap failed.", zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		return false
	}
	return true
}

func (a *ADB) TypeText(ctx context.Context, text string) bool {
	if _, err := a.run(ctx, "shell", "input", "text", EscapeInputText(text)); err != nil {
		a.logger.Warn("adb text input failed.", zap.Error(err))
		return false
	}
	return true
}

func (a *ADB) PressKey(ctx context.Context, code int) bool {
	if _, err := a.run(ctx, "shell", "input", "keyevent", strconv.Itoa(code)); err != nil {
		a.logger.Warn("adb key event failed.", zap.Int("code", code), zap.Error(err))
		return false
	}
	return true
}

// EscapeInputText prepares text for `input text`, which treats %s as a
// space and runs through the device shell.
func EscapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\\', '"', '\'', '`', '$', '&', '|', ';', '<', '>', '(', ')', '*', '?', '~', '#', '!', '%':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Devices lists the serials adb reports in the "device" state.
func Devices(ctx context.Context, adbPath string) ([]string, error) {
	if adbPath == "" {
		adbPath = "adb"
	}
	out, err := execCommandContext(ctx, adbPath, "devices").Output()
	if err != nil {
		return nil, fmt.Errorf("adb devices failed: %w", err)
	}
	return parseDevices(out), nil
}

func parseDevices(out []byte) []string {
	var serials []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}
