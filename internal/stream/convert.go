package stream

import "runtime"

// ColorRange selects the BT.601 variant used for YUYV input.
type ColorRange int

const (
    // RangeStudio assumes luma in 16..235 and uses the integer BT.601
    // coefficients: R = (298*(Y-16) + 409*e + 128) >> 8 and so on.
    RangeStudio ColorRange = iota
    // RangeFull takes luma as-is and uses the float BT.601 coefficients:
    // R = Y + 1.402*e, G = Y - 0.34414*d - 0.71414*e, B = Y + 1.772*d,
    // truncated toward zero.
    RangeFull
)

func (r ColorRange) String() string {
    if r == RangeFull { return "full" }
    return "studio"
}

// Converter maps raw capture frames to packed 32-bit RGB.
// The zero value is studio range, BGRA, alpha 0.
type Converter struct {
    Range ColorRange
    Order ChannelOrder
    Alpha byte
}

// DefaultConverter returns the numeric policy each platform binding was
// written against: Linux paints full-range BGRX with alpha 0, Windows paints
// studio-range BGRA with alpha 255.
func DefaultConverter(goos string) Converter {
    if goos == "windows" {
        return Converter{Range: RangeStudio, Order: OrderBGRA, Alpha: 255}
    }
    return Converter{Range: RangeFull, Order: OrderBGRA, Alpha: 0}
}

// PlatformConverter is DefaultConverter for the running OS.
func PlatformConverter() Converter { return DefaultConverter(runtime.GOOS) }

// Convert writes in into out. The two frames must have the same dimensions;
// on mismatch only the overlapping region is written. Rows or pixels that
// in.Data is too short to hold are left untouched.
func (c Converter) Convert(in *RawFrame, out *RgbFrame) {
    w, h := in.Width, in.Height
    if out.Width < w { w = out.Width }
    if out.Height < h { h = out.Height }
    if w <= 0 || h <= 0 { return }
    if rows := len(out.Pix) / (out.Width * 4); rows < h { h = rows }
    switch in.Encoding {
    case EncodingRGB32:
        c.copyRGB32(in, out, w, h)
    default:
        c.convertYUYV(in, out, w, h)
    }
}

func (c Converter) convertYUYV(in *RawFrame, out *RgbFrame, w, h int) {
    ri, bi := c.Order.offsets()
    pix := out.Pix
    for y := 0; y < h; y++ {
        row := in.row(y)
        dst := y * out.Width * 4
        v := 128 // chroma for a trailing half block
        for x := 0; x < w; x += 2 {
            i := x * 2
            if i+1 >= len(row) { break }
            y0, u := int(row[i]), int(row[i+1])
            if i+3 < len(row) { v = int(row[i+3]) }
            d, e := u-128, v-128

            o := dst + x*4
            r, g, b := c.pixel(y0, d, e)
            pix[o+ri], pix[o+1], pix[o+bi], pix[o+3] = r, g, b, c.Alpha

            // second pixel of the macro-block shares d and e
            if x+1 < w && i+3 < len(row) {
                r, g, b = c.pixel(int(row[i+2]), d, e)
                pix[o+4+ri], pix[o+5], pix[o+4+bi], pix[o+7] = r, g, b, c.Alpha
            }
        }
    }
}

// pixel converts one luma sample with an already centered chroma pair.
func (c Converter) pixel(y, d, e int) (r, g, b byte) {
    if c.Range == RangeFull {
        fy := float64(y)
        fd, fe := float64(d), float64(e)
        return clamp8(int(fy + 1.402*fe)),
            clamp8(int(fy - 0.34414*fd - 0.71414*fe)),
            clamp8(int(fy + 1.772*fd))
    }
    cy := 298 * (y - 16)
    return clamp8((cy + 409*e + 128) >> 8),
        clamp8((cy - 100*d - 208*e + 128) >> 8),
        clamp8((cy + 516*d + 128) >> 8)
}

// copyRGB32 handles devices that already deliver B,G,R,X.
func (c Converter) copyRGB32(in *RawFrame, out *RgbFrame, w, h int) {
    ri, bi := c.Order.offsets()
    for y := 0; y < h; y++ {
        src := in.row(y)
        n := w * 4
        if len(src)/4*4 < n { n = len(src) / 4 * 4 }
        dst := out.Pix[y*out.Width*4:]
        for x := 0; x < n; x += 4 {
            dst[x+ri] = src[x+2]
            dst[x+1] = src[x+1]
            dst[x+bi] = src[x]
            dst[x+3] = c.Alpha
        }
    }
}

// offsets returns where R and B land inside a 4-byte pixel; G is always 1
// and alpha always 3.
func (o ChannelOrder) offsets() (r, b int) {
    if o == OrderRGBA { return 0, 2 }
    return 2, 0
}

func clamp8(x int) byte { if x < 0 { return 0 }; if x > 255 { return 255 }; return byte(x) }
