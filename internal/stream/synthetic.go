package stream

import (
    "errors"
    "fmt"
    "sync"
    "time"
)

// DefaultBufferCount is the number of capture buffers a device pool holds.
const DefaultBufferCount = 4

// SyntheticSource generates moving YUYV colour bars. It behaves like a
// device with a fixed buffer pool: a frame must be released before its
// buffer is handed out again.
type SyntheticSource struct {
    fps     int
    padding int // extra bytes at the end of each row
    buffers int

    mu      sync.Mutex
    format  Format
    bufs    [][]byte
    out     map[uint32]bool // buffers currently held by the caller
    free    chan uint32
    seq     uint64
    running bool
    quit    chan struct{}
    ticker  *time.Ticker
    t0      time.Time
}

// NewSyntheticSource returns a source producing fps frames per second with
// padding bytes of stride slack per row and a pool of buffers frames
// (DefaultBufferCount when buffers <= 0).
func NewSyntheticSource(fps, padding, buffers int) *SyntheticSource {
    if fps <= 0 { fps = 30 }
    if padding < 0 { padding = 0 }
    if buffers <= 0 { buffers = DefaultBufferCount }
    return &SyntheticSource{fps: fps, padding: padding, buffers: buffers, quit: make(chan struct{})}
}

func (s *SyntheticSource) Configure(width, height int, enc PixelEncoding) (Format, error) {
    if width <= 0 || height <= 0 {
        return Format{}, fmt.Errorf("invalid size %dx%d", width, height)
    }
    if enc != EncodingYUYV {
        return Format{}, fmt.Errorf("synthetic source only produces YUYV, not %s", enc)
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    // round up to whole macro-blocks like a real driver would
    stride := (width+1)/2*4 + s.padding
    s.format = Format{Width: width, Height: height, Stride: stride, Encoding: EncodingYUYV}
    s.bufs = make([][]byte, s.buffers)
    s.free = make(chan uint32, s.buffers)
    s.out = make(map[uint32]bool)
    for i := range s.bufs {
        s.bufs[i] = make([]byte, stride*height)
        s.free <- uint32(i)
    }
    return s.format, nil
}

func (s *SyntheticSource) StartStream() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.bufs == nil { return errors.New("synthetic source not configured") }
    if s.running { return nil }
    s.running = true
    s.ticker = time.NewTicker(time.Second / time.Duration(s.fps))
    s.t0 = time.Now()
    return nil
}

// AcquireFrame waits for the next tick and fills a free buffer.
func (s *SyntheticSource) AcquireFrame() (*RawFrame, error) {
    s.mu.Lock()
    running, ticker := s.running, s.ticker
    s.mu.Unlock()
    if !running { return nil, ErrStreamStopped }

    select {
    case <-s.quit:
        return nil, ErrStreamStopped
    case <-ticker.C:
    }

    var idx uint32
    select {
    case idx = <-s.free:
    default:
        return nil, errors.New("no free buffers: frames were not released")
    }

    s.mu.Lock()
    defer s.mu.Unlock()
    s.out[idx] = true
    s.seq++
    buf := s.bufs[idx]
    s.fill(buf, time.Since(s.t0))
    return &RawFrame{Format: s.format, Data: buf, Index: idx, Seq: s.seq}, nil
}

func (s *SyntheticSource) ReleaseFrame(f *RawFrame) error {
    if f == nil { return errors.New("release of nil frame") }
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.out[f.Index] {
        return fmt.Errorf("buffer %d is not held", f.Index)
    }
    delete(s.out, f.Index)
    s.free <- f.Index
    return nil
}

func (s *SyntheticSource) StopStream() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.running { return nil }
    s.running = false
    s.ticker.Stop()
    close(s.quit)
    return nil
}

func (s *SyntheticSource) Close() error { return s.StopStream() }

// fill draws eight vertical bars scrolling right, plus a luma ramp down the frame.
func (s *SyntheticSource) fill(buf []byte, since time.Duration) {
    f := s.format
    shift := int(since.Seconds() * 120)
    for y := 0; y < f.Height; y++ {
        row := buf[y*f.Stride : (y+1)*f.Stride]
        luma := 16 + y*219/f.Height
        for x := 0; x < f.Width; x += 2 {
            bar := ((x + shift) * 8 / f.Width) % 8
            u, v := barChroma[bar][0], barChroma[bar][1]
            i := x * 2
            row[i], row[i+1], row[i+2], row[i+3] = byte(luma), u, byte(luma), v
        }
        for i := (f.Width+1)/2*4; i < f.Stride; i++ {
            row[i] = 0xEE // padding the converter must skip
        }
    }
}

// U,V pairs for white, yellow, cyan, green, magenta, red, blue, black.
var barChroma = [8][2]byte{
    {128, 128}, {16, 146}, {166, 16}, {54, 34},
    {202, 222}, {90, 240}, {240, 110}, {128, 128},
}
