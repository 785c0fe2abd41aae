package main

import (
    "context"
    "errors"
    "path/filepath"
    "testing"
    "time"

    "github.com/pion/logging"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "camview/internal/config"
    "camview/internal/stream"
)

func headlessConfig(t *testing.T) *config.Config {
    cfg := config.Default()
    cfg.Device = "synthetic"
    cfg.Headless = true
    cfg.Width, cfg.Height = 32, 16
    cfg.Synthetic.FPS = 100
    require.NoError(t, config.Validate(cfg))
    return cfg
}

func quietFactory() *logging.DefaultLoggerFactory {
    f := logging.NewDefaultLoggerFactory()
    f.DefaultLogLevel = logging.LogLevelDisabled
    return f
}

func TestRunCleanShutdown(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
    defer cancel()
    assert.Equal(t, 0, run(ctx, headlessConfig(t), quietFactory()))
}

func TestRunWithPreviewShutsDown(t *testing.T) {
    cfg := headlessConfig(t)
    cfg.Preview.Addr = "127.0.0.1:0"
    ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
    defer cancel()
    assert.Equal(t, 0, run(ctx, cfg, quietFactory()))
}

func TestRunMissingDevice(t *testing.T) {
    cfg := headlessConfig(t)
    cfg.Device = filepath.Join(t.TempDir(), "video9")
    assert.Equal(t, 1, run(context.Background(), cfg, quietFactory()))
}

func TestRunBadPreviewAddr(t *testing.T) {
    cfg := headlessConfig(t)
    cfg.Preview.Addr = "127.0.0.1:not-a-port"
    assert.Equal(t, 1, run(context.Background(), cfg, quietFactory()))
}

func TestExitCode(t *testing.T) {
    log := quietFactory().NewLogger("test")
    assert.Equal(t, 0, exitCode(nil, log))
    assert.Equal(t, 1, exitCode(&stream.SetupError{Op: "configure", Err: errors.New("busy")}, log))
    assert.Equal(t, 0, exitCode(&stream.FrameError{Op: "acquire", Err: errors.New("unplugged")}, log))
}
