// Package display opens a native window that paints converted frames: X11 on
// Linux, GDI on Windows.
package display

import (
    "errors"

    "github.com/pion/logging"

    "camview/internal/stream"
)

// ErrUnsupported is returned by Open on platforms without a window backend.
var ErrUnsupported = errors.New("no window backend for this platform")

// Open creates and maps a window of the given client size.
func Open(title string, width, height int, log logging.LeveledLogger) (stream.Window, error) {
    if width <= 0 || height <= 0 { return nil, errors.New("window size must be positive") }
    if log == nil { log = logging.NewDefaultLoggerFactory().NewLogger("display") }
    return openWindow(title, width, height, log)
}

// orderFromMasks picks the byte order matching a 32-bit visual. With
// LSB-first image bytes, red at 0xff0000 means B,G,R,X in memory.
func orderFromMasks(red, blue uint32, lsbFirst bool) (stream.ChannelOrder, bool) {
    switch {
    case red == 0xff0000 && blue == 0xff:
        if lsbFirst { return stream.OrderBGRA, true }
        return stream.OrderRGBA, false
    case red == 0xff && blue == 0xff0000:
        if lsbFirst { return stream.OrderRGBA, true }
        return stream.OrderBGRA, false
    }
    return stream.OrderBGRA, false
}

// rowsPerRequest is how many rows of rowBytes fit into one request of at most
// maxBytes, leaving room for the request header. Always at least one.
func rowsPerRequest(maxBytes, rowBytes int) int {
    const header = 24
    if rowBytes <= 0 { return 1 }
    n := (maxBytes - header) / rowBytes
    if n < 1 { return 1 }
    return n
}

// region returns the pixels of a sub-rectangle as tightly packed rows. A
// full-width region is returned without copying.
func region(f *stream.RgbFrame, x, y, w, h int) []byte {
    stride := f.Stride()
    if x == 0 && w == f.Width {
        return f.Pix[y*stride : (y+h)*stride]
    }
    out := make([]byte, w*h*4)
    for row := 0; row < h; row++ {
        src := (y+row)*stride + x*4
        copy(out[row*w*4:(row+1)*w*4], f.Pix[src:src+w*4])
    }
    return out
}

// clip limits a Present rectangle to the frame.
func clip(f *stream.RgbFrame, x, y, w, h int) (int, int, int, int, bool) {
    if x < 0 { w += x; x = 0 }
    if y < 0 { h += y; y = 0 }
    if x+w > f.Width { w = f.Width - x }
    if y+h > f.Height { h = f.Height - y }
    return x, y, w, h, w > 0 && h > 0
}
