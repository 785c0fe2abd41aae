package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "net"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/pion/logging"

    "camview/internal/config"
    "camview/internal/device"
    "camview/internal/display"
    "camview/internal/server"
    "camview/internal/stream"
    "camview/internal/version"
)

func main() {
    cfgPath := flag.String("config", getEnv("CAMVIEW_CONFIG", ""), "YAML config file")
    dev := flag.String("device", getEnv("CAMVIEW_DEVICE", ""), "capture device (path, index, name, or \"synthetic\")")
    preview := flag.String("preview", getEnv("CAMVIEW_PREVIEW", ""), "serve a WHEP browser preview on this address")
    headless := flag.Bool("headless", false, "do not open a window")
    showVersion := flag.Bool("version", false, "print version and exit")
    flag.Parse()

    if *showVersion {
        fmt.Println(version.String(), version.Platform())
        return
    }

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
    if *dev != "" { cfg.Device = *dev }
    if *preview != "" { cfg.Preview.Addr = *preview }
    if *headless { cfg.Headless = true }
    if err := config.Validate(cfg); err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }

    level, _ := config.ParseLevel(cfg.LogLevel)
    factory := logging.NewDefaultLoggerFactory()
    factory.DefaultLogLevel = level

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    code := run(ctx, cfg, factory)
    stop()
    os.Exit(code)
}

// run wires source, sinks and preview, then blocks in the capture loop
// until ctx is done. It returns the process exit code.
func run(ctx context.Context, cfg *config.Config, factory logging.LoggerFactory) int {
    log := factory.NewLogger("main")
    log.Infof("%s (%s)", version.String(), version.Platform())

    ctx, cancel := context.WithCancel(ctx)
    defer cancel()

    src, err := device.Open(cfg.Device, device.Options{
        Buffers: cfg.Buffers,
        FPS:     cfg.Synthetic.FPS,
        Padding: cfg.Synthetic.Padding,
        Log:     factory.NewLogger("device"),
    })
    if err != nil {
        log.Errorf("%v", &stream.SetupError{Op: "open device", Err: err})
        return 1
    }
    defer src.Close()

    var sinks []stream.Sink
    order := stream.OrderBGRA
    var win stream.Window
    if !cfg.Headless {
        win, err = display.Open(cfg.Title, cfg.Width, cfg.Height, factory.NewLogger("display"))
        if err != nil {
            log.Errorf("%v", &stream.SetupError{Op: "create window", Err: err})
            if errors.Is(err, display.ErrUnsupported) { log.Info("run with -headless -preview ADDR instead") }
            return 1
        }
        defer win.Close()
        order = win.Order()
        sinks = append(sinks, win)
    }

    var previewSink *stream.PreviewSink
    if cfg.Preview.Addr != "" {
        previewSink = stream.NewPreviewSink()
        sinks = append(sinks, previewSink)
    }
    var sink stream.Sink
    if len(sinks) == 0 {
        log.Warn("no window and no preview: frames are converted but not shown")
    } else {
        sink = stream.NewMultiSink(sinks...)
    }

    conv := cfg.Converter(order)
    log.Infof("conversion: %s range, %s, alpha %d", conv.Range, conv.Order, conv.Alpha)
    loop := stream.NewLoop(src, sink, stream.LoopConfig{
        Width:     cfg.Width,
        Height:    cfg.Height,
        Encoding:  stream.EncodingYUYV,
        Converter: conv,
        Pace:      cfg.Pace(),
    }, factory.NewLogger("capture"))

    if win != nil {
        win.OnExpose(loop.Repaint)
        go func() {
            select {
            case <-win.Closed():
                log.Info("window closed, stopping")
                cancel()
            case <-ctx.Done():
            }
        }()
    }

    if previewSink != nil {
        whep := server.NewWhepServer(server.Config{FPS: cfg.Preview.FPS}, previewSink, loop, factory)
        mux := http.NewServeMux()
        whep.RegisterRoutes(mux)
        ln, err := net.Listen("tcp", cfg.Preview.Addr)
        if err != nil {
            log.Errorf("%v", &stream.SetupError{Op: "preview listen", Err: err})
            return 1
        }
        srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
        go func() {
            log.Infof("preview on http://%s", ln.Addr())
            if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
                log.Errorf("preview server: %v", err)
            }
        }()
        defer func() {
            sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
            defer scancel()
            whep.Close()
            _ = srv.Shutdown(sctx)
        }()
    }

    return exitCode(loop.Run(ctx), log)
}

// exitCode maps the loop result to the process status. A stream that broke
// after it was running has been cleaned up and exits normally.
func exitCode(err error, log logging.LeveledLogger) int {
    switch {
    case err == nil:
        return 0
    case stream.IsSetup(err):
        log.Errorf("%v", err)
        return 1
    default:
        log.Errorf("capture ended: %v", err)
        return 0
    }
}

func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}
