package stream

import "errors"

var (
    // ErrSinkClosed is returned by a Sink whose surface is gone. It ends the Presenter.
    ErrSinkClosed = errors.New("sink closed")
    // ErrStreamStopped is returned by AcquireFrame after StopStream.
    ErrStreamStopped = errors.New("stream stopped")
)

// SetupError reports a failure before the loop reached Streaming: device
// open, format negotiation, buffer setup or display creation.
type SetupError struct {
    Op  string
    Err error
}

func (e *SetupError) Error() string { return "setup: " + e.Op + ": " + e.Err.Error() }
func (e *SetupError) Unwrap() error { return e.Err }

// FrameError reports a fatal acquire or release failure while streaming.
type FrameError struct {
    Op  string // "acquire" or "release"
    Err error
}

func (e *FrameError) Error() string { return e.Op + " frame: " + e.Err.Error() }
func (e *FrameError) Unwrap() error { return e.Err }

// IsSetup reports whether err came from setup rather than steady state.
func IsSetup(err error) bool {
    var se *SetupError
    return errors.As(err, &se)
}
