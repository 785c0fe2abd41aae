package stream

import (
    "context"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/pion/logging"
)

// State of a capture Loop.
type State int32

const (
    StateIdle State = iota
    StateStreaming
    StateStopping
    StateStopped
)

func (s State) String() string {
    switch s {
    case StateIdle:
        return "idle"
    case StateStreaming:
        return "streaming"
    case StateStopping:
        return "stopping"
    case StateStopped:
        return "stopped"
    }
    return fmt.Sprintf("State(%d)", int32(s))
}

// LoopConfig fixes the capture session parameters.
type LoopConfig struct {
    Width, Height int
    Encoding      PixelEncoding
    Converter     Converter
    // Pace is a fixed delay between iterations, for sources whose acquire
    // call cannot block. Zero disables it.
    Pace time.Duration
}

// Loop drives Source -> Converter -> Sink until stopped.
type Loop struct {
    cfg      LoopConfig
    src      Source
    sink     Sink
    log      logging.LeveledLogger
    counters *Counters

    state   atomic.Int32
    started atomic.Bool
    mu      sync.Mutex
    format  Format
    shared  *SharedFrame
    pres    *Presenter
}

// NewLoop wires a loop. Nothing touches the device until Run. A nil sink
// runs capture and conversion without a presenter.
func NewLoop(src Source, sink Sink, cfg LoopConfig, log logging.LeveledLogger) *Loop {
    if cfg.Width <= 0 { cfg.Width = 640 }
    if cfg.Height <= 0 { cfg.Height = 480 }
    return &Loop{cfg: cfg, src: src, sink: sink, log: log, counters: &Counters{}}
}

// State returns the current state; safe from any goroutine.
func (l *Loop) State() State { return State(l.state.Load()) }

// Counters exposes the loop's metrics.
func (l *Loop) Counters() *Counters { return l.counters }

// Format returns the negotiated format once Run has configured the source.
func (l *Loop) Format() Format {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.format
}

// Repaint asks the presenter to paint the current frame again, e.g. after
// the window was exposed. It is a no-op before streaming starts.
func (l *Loop) Repaint() {
    l.mu.Lock()
    p := l.pres
    l.mu.Unlock()
    if p != nil { p.Trigger() }
}

// Run configures the source, streams until ctx is done or a frame call
// fails, then stops the stream. Setup failures come back as *SetupError,
// steady-state failures as *FrameError; a ctx stop returns nil.
func (l *Loop) Run(ctx context.Context) error {
    if !l.started.CompareAndSwap(false, true) {
        return fmt.Errorf("loop already ran (state %s)", l.State())
    }
    format, err := l.src.Configure(l.cfg.Width, l.cfg.Height, l.cfg.Encoding)
    if err != nil {
        l.state.Store(int32(StateStopped))
        return &SetupError{Op: "configure", Err: err}
    }
    l.log.Infof("negotiated %s", format)

    order := l.cfg.Converter.Order
    shared := NewSharedFrame(NewRgbFrame(format.Width, format.Height, order), l.counters)
    var pres *Presenter
    if l.sink != nil {
        pres = NewPresenter(shared, l.sink, l.counters, l.log)
    } else {
        shared.stopCounting()
    }

    if err := l.src.StartStream(); err != nil {
        l.state.Store(int32(StateStopped))
        return &SetupError{Op: "start stream", Err: err}
    }
    l.mu.Lock()
    l.format, l.shared, l.pres = format, shared, pres
    l.mu.Unlock()
    l.state.Store(int32(StateStreaming))

    pctx, stopPresenter := context.WithCancel(context.Background())
    var wg sync.WaitGroup
    if pres != nil {
        wg.Add(1)
        go func() {
            defer wg.Done()
            // nothing left to paint, so later frames are not drops
            if err := pres.Run(pctx); err != nil { shared.stopCounting() }
        }()
    }

    runErr := l.stream(ctx, shared, pres)

    l.state.Store(int32(StateStopping))
    if err := l.src.StopStream(); err != nil {
        l.log.Warnf("stop stream: %v", err)
    }
    stopPresenter()
    wg.Wait()
    l.state.Store(int32(StateStopped))
    l.log.Infof("capture stopped: %v", l.counters.Snapshot())
    return runErr
}

func (l *Loop) stream(ctx context.Context, shared *SharedFrame, pres *Presenter) error {
    conv := l.cfg.Converter
    for {
        select {
        case <-ctx.Done():
            return nil
        default:
        }
        raw, err := l.src.AcquireFrame()
        if err != nil {
            if ctx.Err() != nil { return nil } // unblocked by shutdown
            return &FrameError{Op: "acquire", Err: err}
        }
        l.counters.incFramesIn()

        shared.Update(func(f *RgbFrame) { conv.Convert(raw, f) })
        l.counters.incFramesConverted()
        if pres != nil { pres.Trigger() }

        if err := l.src.ReleaseFrame(raw); err != nil {
            return &FrameError{Op: "release", Err: err}
        }
        if l.cfg.Pace > 0 {
            t := time.NewTimer(l.cfg.Pace)
            select {
            case <-ctx.Done():
                t.Stop()
                return nil
            case <-t.C:
            }
        }
    }
}
