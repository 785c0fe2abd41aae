package stream

import (
    "context"
    "errors"

    "github.com/pion/logging"
)

// Presenter is the display side of the handoff: it waits for triggers and
// paints the shared frame. Triggers coalesce, so a burst of conversions
// produces at most one paint.
type Presenter struct {
    shared  *SharedFrame
    sink    Sink
    trigger chan struct{}
    counter *Counters
    log     logging.LeveledLogger
}

// NewPresenter creates a presenter painting shared into sink.
func NewPresenter(shared *SharedFrame, sink Sink, counters *Counters, log logging.LeveledLogger) *Presenter {
    if counters == nil { counters = &Counters{} }
    return &Presenter{
        shared:  shared,
        sink:    sink,
        trigger: make(chan struct{}, 1),
        counter: counters,
        log:     log,
    }
}

// Trigger asks for a repaint. It never blocks.
func (p *Presenter) Trigger() {
    select {
    case p.trigger <- struct{}{}:
    default:
        // a paint is already pending
    }
}

// Run paints on every trigger until ctx is done or the sink reports ErrSinkClosed.
func (p *Presenter) Run(ctx context.Context) error {
    for {
        select {
        case <-ctx.Done():
            return nil
        case <-p.trigger:
        }
        painted := false
        err := p.shared.View(func(f *RgbFrame, seq uint64) error {
            if seq == 0 { return nil }
            painted = true
            return p.sink.Present(f, 0, 0, f.Width, f.Height)
        })
        switch {
        case err == nil:
            if painted { p.counter.incFramesPresented() }
        case errors.Is(err, ErrSinkClosed):
            p.log.Info("display sink closed, presenter exiting")
            return err
        default:
            p.counter.incPresentErrors()
            p.log.Warnf("present: %v", err)
        }
    }
}
