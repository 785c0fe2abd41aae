package config

import (
    "fmt"
    "os"
    "runtime"
    "time"

    "github.com/pion/logging"
    "gopkg.in/yaml.v3"

    "camview/internal/stream"
)

// Config is the complete camview configuration. Zero fields in a YAML file
// keep the compiled-in defaults.
type Config struct {
    Device   string `yaml:"device"`    // V4L2 node, "default" on Windows, or "synthetic"
    Width    int    `yaml:"width"`
    Height   int    `yaml:"height"`
    Buffers  int    `yaml:"buffers"`   // capture buffer pool size
    PaceMS   int    `yaml:"pace_ms"`   // fixed delay between frames, 0 = none
    Title    string `yaml:"title"`
    Headless bool   `yaml:"headless"`  // no native window
    LogLevel string `yaml:"log_level"` // trace, debug, info, warn, error

    Color     ColorConfig     `yaml:"color"`
    Synthetic SyntheticConfig `yaml:"synthetic"`
    Preview   PreviewConfig   `yaml:"preview"`
}

// ColorConfig overrides the platform conversion policy.
type ColorConfig struct {
    Range string `yaml:"range"` // studio, full
    Order string `yaml:"order"` // bgra, rgba, auto (follow the window)
    Alpha *int   `yaml:"alpha"`
}

// SyntheticConfig tunes the generated test pattern.
type SyntheticConfig struct {
    FPS     int `yaml:"fps"`
    Padding int `yaml:"padding"` // extra stride bytes per row
}

// PreviewConfig enables the browser preview when Addr is set.
type PreviewConfig struct {
    Addr string `yaml:"addr"` // e.g. "127.0.0.1:8000"
    FPS  int    `yaml:"fps"`
}

// Default returns the compiled-in configuration for the running OS.
func Default() *Config { return defaultFor(runtime.GOOS) }

func defaultFor(goos string) *Config {
    conv := stream.DefaultConverter(goos)
    alpha := int(conv.Alpha)
    device := "/dev/video0"
    if goos == "windows" { device = "default" }
    return &Config{
        Device:    device,
        Width:     640,
        Height:    480,
        Buffers:   stream.DefaultBufferCount,
        Title:     "camview",
        LogLevel:  "info",
        Color:     ColorConfig{Range: conv.Range.String(), Order: "auto", Alpha: &alpha},
        Synthetic: SyntheticConfig{FPS: 30},
        Preview:   PreviewConfig{FPS: 30},
    }
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
    cfg := Default()
    if path == "" { return cfg, Validate(cfg) }
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, fmt.Errorf("failed to read config file: %w", err)
    }
    if err := Parse(data, cfg); err != nil { return nil, err }
    return cfg, nil
}

// Parse overlays YAML data onto cfg and validates it.
func Parse(data []byte, cfg *Config) error {
    if err := yaml.Unmarshal(data, cfg); err != nil {
        return fmt.Errorf("failed to parse config: %w", err)
    }
    if err := Validate(cfg); err != nil {
        return fmt.Errorf("invalid configuration: %w", err)
    }
    return nil
}

// Validate checks ranges and fills derived defaults.
func Validate(cfg *Config) error {
    if cfg.Device == "" {
        return fmt.Errorf("device is required")
    }
    if cfg.Width <= 0 || cfg.Height <= 0 {
        return fmt.Errorf("width and height must be > 0, got %dx%d", cfg.Width, cfg.Height)
    }
    if cfg.Buffers < 1 || cfg.Buffers > 32 {
        return fmt.Errorf("buffers must be in 1..32, got %d", cfg.Buffers)
    }
    if cfg.PaceMS < 0 {
        return fmt.Errorf("pace_ms must be >= 0")
    }
    if _, err := parseRange(cfg.Color.Range); err != nil { return err }
    if _, _, err := parseOrder(cfg.Color.Order); err != nil { return err }
    if cfg.Color.Alpha != nil && (*cfg.Color.Alpha < 0 || *cfg.Color.Alpha > 255) {
        return fmt.Errorf("color.alpha must be in 0..255, got %d", *cfg.Color.Alpha)
    }
    if _, err := ParseLevel(cfg.LogLevel); err != nil { return err }
    if cfg.Synthetic.FPS <= 0 { cfg.Synthetic.FPS = 30 }
    if cfg.Synthetic.Padding < 0 {
        return fmt.Errorf("synthetic.padding must be >= 0")
    }
    if cfg.Preview.FPS <= 0 { cfg.Preview.FPS = 30 }
    if cfg.Title == "" { cfg.Title = "camview" }
    return nil
}

// Pace is PaceMS as a duration.
func (c *Config) Pace() time.Duration { return time.Duration(c.PaceMS) * time.Millisecond }

// Converter resolves the colour policy. surface is the order the display
// wants; it is used when color.order is "auto".
func (c *Config) Converter(surface stream.ChannelOrder) stream.Converter {
    conv := stream.PlatformConverter()
    if r, err := parseRange(c.Color.Range); err == nil { conv.Range = r }
    if o, auto, err := parseOrder(c.Color.Order); err == nil {
        if auto { conv.Order = surface } else { conv.Order = o }
    }
    if c.Color.Alpha != nil { conv.Alpha = byte(*c.Color.Alpha) }
    return conv
}

func parseRange(s string) (stream.ColorRange, error) {
    switch s {
    case "studio":
        return stream.RangeStudio, nil
    case "full":
        return stream.RangeFull, nil
    }
    return 0, fmt.Errorf("color.range must be 'studio' or 'full', got %q", s)
}

func parseOrder(s string) (order stream.ChannelOrder, auto bool, err error) {
    switch s {
    case "bgra":
        return stream.OrderBGRA, false, nil
    case "rgba":
        return stream.OrderRGBA, false, nil
    case "auto", "":
        return stream.OrderBGRA, true, nil
    }
    return 0, false, fmt.Errorf("color.order must be 'bgra', 'rgba' or 'auto', got %q", s)
}

// ParseLevel maps a log_level string to a pion log level.
func ParseLevel(s string) (logging.LogLevel, error) {
    switch s {
    case "trace":
        return logging.LogLevelTrace, nil
    case "debug":
        return logging.LogLevelDebug, nil
    case "info", "":
        return logging.LogLevelInfo, nil
    case "warn":
        return logging.LogLevelWarn, nil
    case "error":
        return logging.LogLevelError, nil
    }
    return logging.LogLevelDisabled, fmt.Errorf("log_level must be one of trace, debug, info, warn, error, got %q", s)
}
