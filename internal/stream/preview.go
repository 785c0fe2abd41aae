package stream

import "sync"

// PreviewSink keeps a private copy of the last presented frame so the
// browser preview can encode it at its own pace. It is both a Sink (fed by
// the Presenter) and a pipeline FrameSource (read by the encoder).
type PreviewSink struct {
    mu    sync.Mutex
    w, h  int
    order ChannelOrder
    buf   []byte
}

func NewPreviewSink() *PreviewSink { return &PreviewSink{} }

// Present copies the requested region; the caller's buffer is not retained.
func (p *PreviewSink) Present(frame *RgbFrame, x, y, width, height int) error {
    if x != 0 || y != 0 || width != frame.Width || height != frame.Height {
        // sub-rectangle: crop into a packed buffer
        return p.store(cropRGB(frame, x, y, width, height), width, height, frame.Order)
    }
    return p.store(frame.Pix, width, height, frame.Order)
}

func (p *PreviewSink) store(pix []byte, w, h int, order ChannelOrder) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if len(p.buf) != len(pix) { p.buf = make([]byte, len(pix)) }
    copy(p.buf, pix)
    p.w, p.h, p.order = w, h, order
    return nil
}

// Next returns a copy of the latest frame, or nil before the first Present.
func (p *PreviewSink) Next() ([]byte, bool) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.buf == nil { return nil, true }
    out := make([]byte, len(p.buf))
    copy(out, p.buf)
    return out, true
}

// Last reports the size and channel order of the latest frame.
func (p *PreviewSink) Last() (w, h int, order ChannelOrder, ok bool) {
    p.mu.Lock()
    defer p.mu.Unlock()
    return p.w, p.h, p.order, p.buf != nil
}

func (p *PreviewSink) Stop() {}

func cropRGB(f *RgbFrame, x, y, w, h int) []byte {
    out := make([]byte, w*h*4)
    for row := 0; row < h; row++ {
        src := ((y+row)*f.Width + x) * 4
        copy(out[row*w*4:(row+1)*w*4], f.Pix[src:src+w*4])
    }
    return out
}
