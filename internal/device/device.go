// Package device opens the platform capture source: V4L2 on Linux and Media
// Foundation on Windows. The pseudo device "synthetic" works everywhere.
package device

import (
    "errors"
    "fmt"

    "github.com/pion/logging"

    "camview/internal/stream"
)

// ErrUnsupported is returned by Open on platforms without a capture binding.
var ErrUnsupported = errors.New("no capture backend for this platform")

// Synthetic is the device name of the generated test pattern.
const Synthetic = "synthetic"

// Error describes a failed device operation.
type Error struct {
    Device string
    Op     string
    Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Options tunes Open. Zero values pick defaults.
type Options struct {
    Buffers int // capture buffer pool size
    FPS     int // synthetic only
    Padding int // synthetic only: extra stride bytes per row
    Log     logging.LeveledLogger
}

// Open returns the capture source for path.
func Open(path string, opts Options) (stream.Source, error) {
    if opts.Buffers <= 0 { opts.Buffers = stream.DefaultBufferCount }
    if opts.Log == nil { opts.Log = logging.NewDefaultLoggerFactory().NewLogger("device") }
    if path == Synthetic {
        opts.Log.Infof("using synthetic source at %d fps", opts.FPS)
        return stream.NewSyntheticSource(opts.FPS, opts.Padding, opts.Buffers), nil
    }
    return openPlatform(path, opts)
}

// PackedRowBytes is the unpadded length of one row of width pixels.
func PackedRowBytes(width int, enc stream.PixelEncoding) int {
    if enc == stream.EncodingYUYV { return (width + 1) / 2 * 4 }
    return width * enc.BytesPerPixel()
}

// InferStride derives the row stride from the size of a filled buffer when
// the driver does not report it. The result is never below the packed row.
// Slack at the end of the buffer of a row or more skews the guess, so a
// driver-reported pitch wins when there is one.
func InferStride(frameLen, width, height int, enc stream.PixelEncoding) int {
    packed := PackedRowBytes(width, enc)
    if height <= 0 || frameLen < packed*height { return packed }
    return frameLen / height
}

// checkLength reports a buffer too small for the negotiated format.
func checkLength(f stream.Format, n int) error {
    stride := f.Stride
    if stride < 0 { stride = -stride }
    need := stride*(f.Height-1) + PackedRowBytes(f.Width, f.Encoding)
    if f.Height <= 0 || n < need {
        return fmt.Errorf("short frame: %d bytes, need %d for %s", n, need, f)
    }
    return nil
}
