package device

import (
    "fmt"
    "os"
    "sync"

    "github.com/blackjack/webcam"
    "github.com/pion/logging"

    "camview/internal/stream"
)

// V4L2 fourcc for packed YUYV 4:2:2.
const pixFmtYUYV = webcam.PixelFormat('Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24)

// waitTimeout is the select() timeout in seconds; a timeout just retries.
const waitTimeout = 5

type v4l2Source struct {
    path    string
    buffers int
    log     logging.LeveledLogger
    cam     *webcam.Webcam

    mu        sync.Mutex
    format    stream.Format
    pitched   bool // stride came from the driver's bytesperline
    seq       uint64
    streaming bool
}

func openPlatform(path string, opts Options) (stream.Source, error) {
    fi, err := os.Stat(path)
    if err != nil { return nil, &Error{Device: path, Op: "open", Err: err} }
    if fi.Mode()&os.ModeCharDevice == 0 {
        return nil, &Error{Device: path, Op: "open", Err: fmt.Errorf("not a device")}
    }
    cam, err := webcam.Open(path)
    if err != nil { return nil, &Error{Device: path, Op: "open", Err: err} }
    for f, desc := range cam.GetSupportedFormats() {
        opts.Log.Debugf("%s supports %s (%s)", path, fourcc(uint32(f)), desc)
    }
    return &v4l2Source{path: path, buffers: opts.Buffers, log: opts.Log, cam: cam}, nil
}

func (s *v4l2Source) Configure(width, height int, enc stream.PixelEncoding) (stream.Format, error) {
    if enc != stream.EncodingYUYV {
        return stream.Format{}, &Error{Device: s.path, Op: "configure", Err: fmt.Errorf("only YUYV capture is supported, not %s", enc)}
    }
    got, w, h, err := s.cam.SetImageFormat(pixFmtYUYV, uint32(width), uint32(height))
    if err != nil { return stream.Format{}, &Error{Device: s.path, Op: "set format", Err: err} }
    if got != pixFmtYUYV {
        return stream.Format{}, &Error{Device: s.path, Op: "set format", Err: fmt.Errorf("driver picked %s instead of YUYV", fourcc(uint32(got)))}
    }
    if int(w) != width || int(h) != height {
        s.log.Warnf("%s: asked for %dx%d, driver gave %dx%d", s.path, width, height, w, h)
    }
    if err := s.cam.SetBufferCount(uint32(s.buffers)); err != nil {
        return stream.Format{}, &Error{Device: s.path, Op: "request buffers", Err: err}
    }
    f := stream.Format{Width: int(w), Height: int(h), Encoding: stream.EncodingYUYV}
    f.Stride = PackedRowBytes(f.Width, f.Encoding) // refined from the first frame
    pitched := false
    if bpl, err := queryBytesPerLine(s.path); err != nil {
        s.log.Debugf("%s: bytesperline unavailable (%v), inferring stride from frames", s.path, err)
    } else if bpl >= f.Stride {
        f.Stride, pitched = bpl, true
    }
    s.mu.Lock()
    s.format, s.pitched = f, pitched
    s.mu.Unlock()
    s.log.Infof("%s configured %s, %d buffers", s.path, f, s.buffers)
    return f, nil
}

func (s *v4l2Source) StartStream() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.streaming { return nil }
    if err := s.cam.StartStreaming(); err != nil {
        return &Error{Device: s.path, Op: "start streaming", Err: err}
    }
    s.streaming = true
    return nil
}

// AcquireFrame blocks until the driver dequeues a filled buffer.
func (s *v4l2Source) AcquireFrame() (*stream.RawFrame, error) {
    for {
        err := s.cam.WaitForFrame(waitTimeout)
        switch err.(type) {
        case nil:
        case *webcam.Timeout:
            s.log.Debugf("%s: frame wait timed out", s.path)
            continue
        default:
            return nil, &Error{Device: s.path, Op: "wait frame", Err: err}
        }
        data, index, err := s.cam.GetFrame()
        if err != nil { return nil, &Error{Device: s.path, Op: "dequeue", Err: err} }
        if len(data) == 0 {
            // empty dequeue; hand it back and wait again
            if err := s.cam.ReleaseFrame(index); err != nil {
                return nil, &Error{Device: s.path, Op: "queue", Err: err}
            }
            continue
        }

        s.mu.Lock()
        f := s.format
        if !s.pitched {
            // len/height is only right while bytesused carries less than a
            // row of slack past the image
            f.Stride = InferStride(len(data), f.Width, f.Height, f.Encoding)
            s.format = f
        }
        s.seq++
        seq := s.seq
        s.mu.Unlock()

        if err := checkLength(f, len(data)); err != nil {
            _ = s.cam.ReleaseFrame(index)
            return nil, &Error{Device: s.path, Op: "dequeue", Err: err}
        }
        return &stream.RawFrame{Format: f, Data: data, Index: index, Seq: seq}, nil
    }
}

func (s *v4l2Source) ReleaseFrame(f *stream.RawFrame) error {
    if f == nil { return &Error{Device: s.path, Op: "queue", Err: fmt.Errorf("nil frame")} }
    if err := s.cam.ReleaseFrame(f.Index); err != nil {
        return &Error{Device: s.path, Op: "queue", Err: err}
    }
    return nil
}

func (s *v4l2Source) StopStream() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.streaming { return nil }
    s.streaming = false
    if err := s.cam.StopStreaming(); err != nil {
        return &Error{Device: s.path, Op: "stop streaming", Err: err}
    }
    return nil
}

func (s *v4l2Source) Close() error {
    stopErr := s.StopStream()
    if err := s.cam.Close(); err != nil {
        return &Error{Device: s.path, Op: "close", Err: err}
    }
    return stopErr
}

// fourcc renders a V4L2 pixel format code as its four characters.
func fourcc(v uint32) string {
    return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
