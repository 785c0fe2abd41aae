package stream

import (
    "math/rand"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// yuyvFrame packs macro-blocks [Y0 U Y1 V] into rows of the given stride.
func yuyvFrame(w, h, stride int, fill func(x, y int) (y0, u, y1, v byte)) *RawFrame {
    data := make([]byte, stride*h)
    for i := range data { data[i] = 0xEE }
    for row := 0; row < h; row++ {
        for x := 0; x < w; x += 2 {
            y0, u, y1, v := fill(x, row)
            i := row*stride + x*2
            data[i], data[i+1], data[i+2], data[i+3] = y0, u, y1, v
        }
    }
    return &RawFrame{Format: Format{Width: w, Height: h, Stride: stride, Encoding: EncodingYUYV}, Data: data}
}

func convertOne(c Converter, y0, u, y1, v byte) (*RgbFrame, []byte) {
    in := yuyvFrame(2, 1, 4, func(int, int) (byte, byte, byte, byte) { return y0, u, y1, v })
    out := NewRgbFrame(2, 1, c.Order)
    c.Convert(in, out)
    return out, out.Pix
}

func clampRef(x int) int {
    if x < 0 { return 0 }
    if x > 255 { return 255 }
    return x
}

func studioRef(y, u, v int) (int, int, int) {
    c, d, e := y-16, u-128, v-128
    return clampRef((298*c + 409*e + 128) >> 8),
        clampRef((298*c - 100*d - 208*e + 128) >> 8),
        clampRef((298*c + 516*d + 128) >> 8)
}

func fullRef(y, u, v int) (int, int, int) {
    d, e := float64(u-128), float64(v-128)
    fy := float64(y)
    return clampRef(int(fy + 1.402*e)), clampRef(int(fy - 0.34414*d - 0.71414*e)), clampRef(int(fy + 1.772*d))
}

func TestConvertMatchesClampedReferenceForAllInputs(t *testing.T) {
    for _, tc := range []struct {
        name string
        rng  ColorRange
        ref  func(y, u, v int) (int, int, int)
    }{
        {"studio", RangeStudio, studioRef},
        {"full", RangeFull, fullRef},
    } {
        t.Run(tc.name, func(t *testing.T) {
            c := Converter{Range: tc.rng, Order: OrderBGRA, Alpha: 9}
            // 512 pixels per row cover every luma value twice: Y0=i, Y1=255-i.
            out := NewRgbFrame(512, 1, OrderBGRA)
            for u := 0; u < 256; u++ {
                for v := 0; v < 256; v++ {
                    in := yuyvFrame(512, 1, 1024, func(x, _ int) (byte, byte, byte, byte) {
                        i := x / 2
                        return byte(i), byte(u), byte(255 - i), byte(v)
                    })
                    c.Convert(in, out)
                    for x := 0; x < 512; x++ {
                        y := x / 2
                        if x%2 == 1 { y = 255 - x/2 }
                        r, g, b := tc.ref(y, u, v)
                        p := out.Pix[x*4 : x*4+4]
                        if int(p[2]) != r || int(p[1]) != g || int(p[0]) != b || p[3] != 9 {
                            t.Fatalf("Y=%d U=%d V=%d: got BGRA %v, want R=%d G=%d B=%d", y, u, v, p, r, g, b)
                        }
                    }
                }
            }
        })
    }
}

func TestConvertChromaShared(t *testing.T) {
    r := rand.New(rand.NewSource(1))
    for _, rng := range []ColorRange{RangeStudio, RangeFull} {
        c := Converter{Range: rng}
        for i := 0; i < 2000; i++ {
            y0, y1 := byte(r.Intn(256)), byte(r.Intn(256))
            u, v := byte(r.Intn(256)), byte(r.Intn(256))
            _, pair := convertOne(c, y0, u, y1, v)
            _, first := convertOne(c, y0, u, y0, v)
            _, second := convertOne(c, y1, u, y1, v)
            require.Equal(t, first[0:4], pair[0:4])
            require.Equal(t, second[0:4], pair[4:8], "second pixel must use the block's chroma")
        }
    }
}

func TestConvertDeterministic(t *testing.T) {
    r := rand.New(rand.NewSource(2))
    in := yuyvFrame(64, 48, 128, func(int, int) (byte, byte, byte, byte) {
        return byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(256))
    })
    c := PlatformConverter()
    a, b := NewRgbFrame(64, 48, c.Order), NewRgbFrame(64, 48, c.Order)
    c.Convert(in, a)
    c.Convert(in, b)
    assert.Equal(t, a.Pix, b.Pix)
}

func TestConvertGrayscale(t *testing.T) {
    for y := 0; y < 256; y++ {
        _, full := convertOne(Converter{Range: RangeFull}, byte(y), 128, byte(y), 128)
        for px := 0; px < 2; px++ {
            p := full[px*4:]
            assert.Equal(t, []byte{byte(y), byte(y), byte(y)}, []byte{p[0], p[1], p[2]}, "full range Y=%d", y)
        }
        _, studio := convertOne(Converter{Range: RangeStudio}, byte(y), 128, byte(y), 128)
        assert.Equal(t, studio[0], studio[1], "studio Y=%d not neutral", y)
        assert.Equal(t, studio[1], studio[2], "studio Y=%d not neutral", y)
    }
}

func TestConvertStudioWhiteAndBlack(t *testing.T) {
    c := Converter{Range: RangeStudio, Order: OrderBGRA, Alpha: 255}
    _, white := convertOne(c, 235, 128, 235, 128)
    assert.Equal(t, []byte{255, 255, 255, 255, 255, 255, 255, 255}, white)

    c.Alpha = 0
    _, black := convertOne(c, 16, 128, 16, 128)
    assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, black)
}

func TestConvertHonoursStride(t *testing.T) {
    r := rand.New(rand.NewSource(3))
    blocks := make([][4]byte, 4*3/2)
    for i := range blocks {
        blocks[i] = [4]byte{byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(256))}
    }
    fill := func(x, y int) (byte, byte, byte, byte) {
        b := blocks[y*2+x/2]
        return b[0], b[1], b[2], b[3]
    }
    packed := yuyvFrame(4, 3, 8, fill)
    padded := yuyvFrame(4, 3, 20, fill) // 12 bytes of 0xEE per row

    c := Converter{Range: RangeStudio}
    want, got := NewRgbFrame(4, 3, OrderBGRA), NewRgbFrame(4, 3, OrderBGRA)
    c.Convert(packed, want)
    c.Convert(padded, got)
    assert.Equal(t, want.Pix, got.Pix)
}

func TestConvertBottomUpStride(t *testing.T) {
    fill := func(x, y int) (byte, byte, byte, byte) { return byte(40 * (y + 1)), 128, byte(40 * (y + 1)), 128 }
    topDown := yuyvFrame(2, 3, 4, fill)
    // same rows stored bottom row first
    bottomUp := &RawFrame{Format: Format{Width: 2, Height: 3, Stride: -4, Encoding: EncodingYUYV}, Data: make([]byte, 12)}
    for row := 0; row < 3; row++ {
        copy(bottomUp.Data[(2-row)*4:(3-row)*4], topDown.Data[row*4:(row+1)*4])
    }
    c := Converter{Range: RangeFull}
    a, b := NewRgbFrame(2, 3, OrderBGRA), NewRgbFrame(2, 3, OrderBGRA)
    c.Convert(topDown, a)
    c.Convert(bottomUp, b)
    assert.Equal(t, a.Pix, b.Pix)
}

func TestConvertOddWidthStaysInRow(t *testing.T) {
    in := yuyvFrame(3, 2, 8, func(int, int) (byte, byte, byte, byte) { return 200, 90, 200, 160 })
    backing := make([]byte, 3*2*4+8)
    for i := range backing { backing[i] = 0x5A }
    out := &RgbFrame{Width: 3, Height: 2, Order: OrderBGRA, Pix: backing[:3*2*4]}
    Converter{Range: RangeStudio, Alpha: 1}.Convert(in, out)

    for i := 3 * 2 * 4; i < len(backing); i++ {
        require.Equal(t, byte(0x5A), backing[i], "wrote past the frame at %d", i)
    }
    // every pixel of both rows was written
    for px := 0; px < 6; px++ {
        assert.Equal(t, byte(1), out.Pix[px*4+3])
    }
}

func TestConvertOddWidthPackedStride(t *testing.T) {
    // stride holds only the three pixels, so the last block has no Y1 or V
    in := &RawFrame{
        Format: Format{Width: 3, Height: 1, Stride: 6, Encoding: EncodingYUYV},
        Data:   []byte{128, 128, 128, 128, 235, 128},
    }
    out := NewRgbFrame(3, 1, OrderBGRA)
    require.NotPanics(t, func() { Converter{Range: RangeStudio, Alpha: 255}.Convert(in, out) })

    assert.Equal(t, []byte{255, 255, 255, 255}, out.Pix[8:12], "trailing pixel uses the last full block's V")
}

func TestConvertShortData(t *testing.T) {
    in := &RawFrame{
        Format: Format{Width: 4, Height: 2, Stride: 8, Encoding: EncodingYUYV},
        Data:   make([]byte, 10),
    }
    out := NewRgbFrame(4, 2, OrderBGRA)
    for i := range out.Pix { out.Pix[i] = 0x5A }
    require.NotPanics(t, func() { Converter{Alpha: 7}.Convert(in, out) })

    for px := 0; px < 4; px++ {
        assert.Equal(t, byte(7), out.Pix[px*4+3], "row 0 pixel %d", px)
    }
    assert.Equal(t, byte(7), out.Pix[4*4+3], "first pixel of the cut row")
    for px := 5; px < 8; px++ {
        assert.Equal(t, byte(0x5A), out.Pix[px*4+3], "pixel %d has no source bytes", px)
    }

    bottomUp := &RawFrame{
        Format: Format{Width: 2, Height: 3, Stride: -4, Encoding: EncodingYUYV},
        Data:   make([]byte, 6),
    }
    assert.NotPanics(t, func() { Converter{}.Convert(bottomUp, NewRgbFrame(2, 3, OrderBGRA)) })

    rgb := &RawFrame{
        Format: Format{Width: 2, Height: 2, Stride: 8, Encoding: EncodingRGB32},
        Data:   make([]byte, 13),
    }
    dst := NewRgbFrame(2, 2, OrderRGBA)
    require.NotPanics(t, func() { Converter{Alpha: 9}.Convert(rgb, dst) })
    assert.Equal(t, byte(9), dst.Pix[4*2+3])
    assert.Equal(t, byte(0), dst.Pix[4*3+3])
}

func TestConvertReusesBuffer(t *testing.T) {
    c := Converter{Range: RangeFull, Alpha: 255}
    out := NewRgbFrame(8, 4, OrderBGRA)
    r := rand.New(rand.NewSource(4))
    var last *RawFrame
    for n := 0; n < 5; n++ {
        last = yuyvFrame(8, 4, 16, func(int, int) (byte, byte, byte, byte) {
            return byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(256)), byte(r.Intn(256))
        })
        c.Convert(last, out)
    }
    fresh := NewRgbFrame(8, 4, OrderBGRA)
    c.Convert(last, fresh)
    assert.Equal(t, fresh.Pix, out.Pix)
}

func TestConvertChannelOrder(t *testing.T) {
    // strongly red: V high
    _, bgra := convertOne(Converter{Range: RangeStudio, Order: OrderBGRA, Alpha: 7}, 120, 100, 120, 220)
    _, rgba := convertOne(Converter{Range: RangeStudio, Order: OrderRGBA, Alpha: 7}, 120, 100, 120, 220)
    assert.Equal(t, bgra[2], rgba[0])
    assert.Equal(t, bgra[1], rgba[1])
    assert.Equal(t, bgra[0], rgba[2])
    assert.Equal(t, byte(7), rgba[3])
    assert.Greater(t, rgba[0], rgba[2])
}

func TestConvertRGB32Passthrough(t *testing.T) {
    // two rows, bottom-up, B,G,R,X
    in := &RawFrame{
        Format: Format{Width: 2, Height: 2, Stride: -8, Encoding: EncodingRGB32},
        Data: []byte{
            1, 2, 3, 0, 4, 5, 6, 0, // bottom row
            7, 8, 9, 0, 10, 11, 12, 0, // top row
        },
    }
    out := NewRgbFrame(2, 2, OrderRGBA)
    Converter{Order: OrderRGBA, Alpha: 255}.Convert(in, out)
    assert.Equal(t, []byte{
        9, 8, 7, 255, 12, 11, 10, 255,
        3, 2, 1, 255, 6, 5, 4, 255,
    }, out.Pix)
}

func TestConvertSizeMismatchClips(t *testing.T) {
    in := yuyvFrame(8, 8, 16, func(int, int) (byte, byte, byte, byte) { return 100, 128, 100, 128 })
    small := NewRgbFrame(4, 2, OrderBGRA)
    assert.NotPanics(t, func() { Converter{Range: RangeFull}.Convert(in, small) })
    assert.Equal(t, byte(100), small.Pix[len(small.Pix)-2])
}

func TestDefaultConverter(t *testing.T) {
    assert.Equal(t, Converter{Range: RangeStudio, Order: OrderBGRA, Alpha: 255}, DefaultConverter("windows"))
    assert.Equal(t, Converter{Range: RangeFull, Order: OrderBGRA, Alpha: 0}, DefaultConverter("linux"))
}

func TestClamp8(t *testing.T) {
    for x := -1000; x <= 1000; x++ {
        got := int(clamp8(x))
        assert.Equal(t, clampRef(x), got)
    }
}
