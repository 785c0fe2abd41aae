package stream

import "errors"

// Source is a pull-based capture device.
type Source interface {
    // Configure requests a size and encoding; the returned Format is what
    // the device actually agreed to, including its stride.
    Configure(width, height int, enc PixelEncoding) (Format, error)
    // AcquireFrame blocks until the device has a filled buffer.
    AcquireFrame() (*RawFrame, error)
    // ReleaseFrame hands the buffer back to the device pool.
    ReleaseFrame(f *RawFrame) error
    StartStream() error
    StopStream() error
    Close() error
}

// Sink paints a converted frame. It must not keep a reference to frame.Pix
// after Present returns.
type Sink interface {
    Present(frame *RgbFrame, x, y, width, height int) error
}

// Window is a Sink backed by a native window the user can close.
type Window interface {
    Sink
    // Order is the channel order the surface expects.
    Order() ChannelOrder
    // Closed is closed once the user closes the window.
    Closed() <-chan struct{}
    // OnExpose registers a callback run when the window needs repainting.
    OnExpose(fn func())
    Close() error
}

// MultiSink presents to every sink in turn. A sink that reports
// ErrSinkClosed is skipped from then on; Present returns ErrSinkClosed once
// none are left.
type MultiSink struct {
    sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
    out := make([]Sink, 0, len(sinks))
    for _, s := range sinks {
        if s != nil { out = append(out, s) }
    }
    return &MultiSink{sinks: out}
}

// Present is called from the Presenter goroutine only.
func (m *MultiSink) Present(frame *RgbFrame, x, y, width, height int) error {
    var errs []error
    live := m.sinks[:0]
    for _, s := range m.sinks {
        err := s.Present(frame, x, y, width, height)
        if errors.Is(err, ErrSinkClosed) { continue }
        live = append(live, s)
        if err != nil { errs = append(errs, err) }
    }
    m.sinks = live
    if len(m.sinks) == 0 { return ErrSinkClosed }
    return errors.Join(errs...)
}
