package stream

import "fmt"

// PixelEncoding identifies the layout of a raw capture buffer.
type PixelEncoding int

const (
    // EncodingYUYV is packed 4:2:2, four bytes per two pixels: Y0 U Y1 V.
    EncodingYUYV PixelEncoding = iota
    // EncodingRGB32 is packed B,G,R,X, four bytes per pixel.
    EncodingRGB32
)

func (e PixelEncoding) String() string {
    switch e {
    case EncodingYUYV:
        return "YUYV"
    case EncodingRGB32:
        return "RGB32"
    default:
        return fmt.Sprintf("PixelEncoding(%d)", int(e))
    }
}

// BytesPerPixel returns the packed input size of one pixel.
func (e PixelEncoding) BytesPerPixel() int {
    if e == EncodingRGB32 { return 4 }
    return 2
}

// ChannelOrder is the byte order of one output pixel.
type ChannelOrder int

const (
    OrderBGRA ChannelOrder = iota
    OrderRGBA
)

func (o ChannelOrder) String() string {
    if o == OrderRGBA { return "rgba" }
    return "bgra"
}

// Format is what a Source actually negotiated with the device.
// Stride may exceed Width*BytesPerPixel because of row padding; a negative
// Stride marks a bottom-up image.
type Format struct {
    Width, Height int
    Stride        int
    Encoding      PixelEncoding
}

func (f Format) String() string {
    return fmt.Sprintf("%s %dx%d stride=%d", f.Encoding, f.Width, f.Height, f.Stride)
}

// rowOffset returns the byte offset of row y inside a frame buffer.
func (f Format) rowOffset(y int) int {
    if f.Stride < 0 {
        return (f.Height - 1 - y) * -f.Stride
    }
    return y * f.Stride
}

// RawFrame is a read-only view over device memory. It is valid only between
// AcquireFrame and ReleaseFrame on the Source that produced it.
type RawFrame struct {
    Format
    Data  []byte
    Index uint32 // device buffer token, meaningful to the producing Source only
    Seq   uint64
}

// row returns the bytes of row y, cut short where Data ends early. It is
// empty when the row lies wholly outside Data.
func (f *RawFrame) row(y int) []byte {
    stride := f.Stride
    if stride < 0 { stride = -stride }
    start := f.rowOffset(y)
    if stride == 0 || start < 0 || start >= len(f.Data) { return nil }
    end := start + stride
    if end > len(f.Data) { end = len(f.Data) }
    return f.Data[start:end]
}

// RgbFrame is the packed 32-bit output buffer. It is allocated once and
// rewritten in place every frame.
type RgbFrame struct {
    Width, Height int
    Order         ChannelOrder
    Pix           []byte // Width*Height*4
}

// NewRgbFrame allocates an output frame.
func NewRgbFrame(w, h int, order ChannelOrder) *RgbFrame {
    return &RgbFrame{Width: w, Height: h, Order: order, Pix: make([]byte, w*h*4)}
}

// Stride is the output row length in bytes.
func (f *RgbFrame) Stride() int { return f.Width * 4 }
