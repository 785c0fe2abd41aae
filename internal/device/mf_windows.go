//go:build windows

package device

import (
    "fmt"
    "strconv"
    "strings"
    "sync"
    "unsafe"

    "github.com/pion/logging"
    "golang.org/x/sys/windows"

    "camview/internal/stream"
)

// mfHeld is a locked sample handed out by AcquireFrame.
type mfHeld struct {
    sample *imfSample
    buf    *imfMediaBuffer
}

type mfSource struct {
    name   string
    log    logging.LeveledLogger
    media  *imfMediaSource
    reader *imfSourceReader

    mu        sync.Mutex
    format    stream.Format
    held      map[uint32]mfHeld
    next      uint32
    seq       uint64
    streaming bool
}

// openPlatform activates the capture device matching path: "default" or ""
// for the first one, a decimal index, or a substring of the friendly name.
func openPlatform(path string, opts Options) (stream.Source, error) {
    if err := mfStartup(); err != nil { return nil, &Error{Device: path, Op: "startup", Err: err} }
    devs, err := mfEnumVideoDevices()
    if err != nil {
        mfShutdown()
        return nil, &Error{Device: path, Op: "enumerate", Err: err}
    }
    defer func() {
        for _, d := range devs {
            d.Release()
        }
    }()
    names := make([]string, len(devs))
    for i, d := range devs {
        names[i], _ = d.attrs().GetString(&mfDevsourceAttributeFriendlyName)
        opts.Log.Debugf("capture device %d: %s", i, names[i])
    }
    idx := pickDevice(path, names)
    if idx < 0 {
        mfShutdown()
        return nil, &Error{Device: path, Op: "open", Err: fmt.Errorf("no matching capture device among %d", len(devs))}
    }

    obj, err := devs[idx].ActivateObject(&iidIMFMediaSource)
    if err != nil {
        mfShutdown()
        return nil, &Error{Device: names[idx], Op: "activate", Err: err}
    }
    media := (*imfMediaSource)(unsafe.Pointer(obj))

    attrs, err := mfCreateAttributes(1)
    if err != nil {
        media.Shutdown()
        media.Release()
        mfShutdown()
        return nil, &Error{Device: names[idx], Op: "create reader", Err: err}
    }
    defer attrs.Release()
    _ = attrs.SetUINT32(&mfReadwriteEnableHardwareTransforms, 1)
    reader, err := mfCreateSourceReader(media, attrs)
    if err != nil {
        media.Shutdown()
        media.Release()
        mfShutdown()
        return nil, &Error{Device: names[idx], Op: "create reader", Err: err}
    }

    s := &mfSource{name: names[idx], log: opts.Log, media: media, reader: reader, held: map[uint32]mfHeld{}}
    s.logNativeType()
    return s, nil
}

// pickDevice resolves a device selector against the friendly names.
func pickDevice(sel string, names []string) int {
    if len(names) == 0 { return -1 }
    if sel == "" || sel == "default" { return 0 }
    if i, err := strconv.Atoi(sel); err == nil {
        if i >= 0 && i < len(names) { return i }
        return -1
    }
    q := strings.ToLower(sel)
    for i, n := range names {
        if strings.Contains(strings.ToLower(n), q) { return i }
    }
    return -1
}

func (s *mfSource) logNativeType() {
    mt, err := s.reader.GetNativeMediaType(mfSourceReaderFirstVideoStream, 0)
    if err != nil {
        s.log.Warnf("%s: native type: %v", s.name, err)
        return
    }
    defer mt.Release()
    sub, _ := mt.attrs().GetGUID(&mfMTSubtype)
    size, _ := mt.attrs().GetUINT64(&mfMTFrameSize)
    s.log.Infof("%s native format %s %dx%d", s.name, subtypeName(sub), uint32(size>>32), uint32(size))
}

// Configure asks for the requested encoding first and falls back to the other one.
func (s *mfSource) Configure(width, height int, enc stream.PixelEncoding) (stream.Format, error) {
    try := []windowsSubtype{{mfVideoFormatYUY2, stream.EncodingYUYV}, {mfVideoFormatRGB32, stream.EncodingRGB32}}
    if enc == stream.EncodingRGB32 { try[0], try[1] = try[1], try[0] }
    var lastErr error
    set := false
    for _, t := range try {
        if lastErr = s.setType(t, width, height); lastErr == nil {
            set = true
            break
        }
        s.log.Debugf("%s: %s rejected: %v", s.name, subtypeName(t.guid), lastErr)
    }
    if !set { return stream.Format{}, &Error{Device: s.name, Op: "set format", Err: lastErr} }

    mt, err := s.reader.GetCurrentMediaType(mfSourceReaderFirstVideoStream)
    if err != nil { return stream.Format{}, &Error{Device: s.name, Op: "get format", Err: err} }
    defer mt.Release()
    sub, err := mt.attrs().GetGUID(&mfMTSubtype)
    if err != nil { return stream.Format{}, &Error{Device: s.name, Op: "get format", Err: err} }
    size, err := mt.attrs().GetUINT64(&mfMTFrameSize)
    if err != nil { return stream.Format{}, &Error{Device: s.name, Op: "get format", Err: err} }
    f := stream.Format{Width: int(uint32(size >> 32)), Height: int(uint32(size))}
    switch sub {
    case mfVideoFormatYUY2:
        f.Encoding = stream.EncodingYUYV
    case mfVideoFormatRGB32:
        f.Encoding = stream.EncodingRGB32
    default:
        return stream.Format{}, &Error{Device: s.name, Op: "set format", Err: fmt.Errorf("reader settled on %s", subtypeName(sub))}
    }
    if v, err := mt.attrs().GetUINT32(&mfMTDefaultStride); err == nil {
        f.Stride = int(int32(v))
    } else {
        f.Stride = PackedRowBytes(f.Width, f.Encoding)
    }

    s.mu.Lock()
    s.format = f
    s.mu.Unlock()
    s.log.Infof("%s configured %s", s.name, f)
    return f, nil
}

type windowsSubtype struct {
    guid windows.GUID
    enc  stream.PixelEncoding
}

func (s *mfSource) setType(t windowsSubtype, width, height int) error {
    mt, err := mfCreateMediaType()
    if err != nil { return err }
    defer mt.Release()
    a := mt.attrs()
    if err := a.SetGUID(&mfMTMajorType, &mfMediaTypeVideo); err != nil { return err }
    g := t.guid
    if err := a.SetGUID(&mfMTSubtype, &g); err != nil { return err }
    if err := a.SetUINT64(&mfMTFrameSize, uint64(width)<<32|uint64(height)); err != nil { return err }
    return s.reader.SetCurrentMediaType(mfSourceReaderFirstVideoStream, mt)
}

// StartStream is implicit: the reader starts the device on the first ReadSample.
func (s *mfSource) StartStream() error {
    s.mu.Lock()
    s.streaming = true
    s.mu.Unlock()
    return nil
}

// AcquireFrame blocks in ReadSample. The frame aliases the locked sample
// buffer until ReleaseFrame.
func (s *mfSource) AcquireFrame() (*stream.RawFrame, error) {
    for {
        s.mu.Lock()
        streaming := s.streaming
        s.mu.Unlock()
        if !streaming { return nil, stream.ErrStreamStopped }
        flags, sample, err := s.reader.ReadSample(mfSourceReaderFirstVideoStream)
        if err != nil { return nil, &Error{Device: s.name, Op: "read sample", Err: err} }
        if flags&mfSourceReaderFlagError != 0 {
            sample.Release()
            return nil, &Error{Device: s.name, Op: "read sample", Err: fmt.Errorf("stream error (flags 0x%x)", flags)}
        }
        if flags&mfSourceReaderFlagEndOfStream != 0 {
            sample.Release()
            return nil, &Error{Device: s.name, Op: "read sample", Err: fmt.Errorf("end of stream")}
        }
        if sample == nil {
            continue // stream tick
        }
        buf, err := sample.ConvertToContiguousBuffer()
        if err != nil {
            sample.Release()
            return nil, &Error{Device: s.name, Op: "read sample", Err: err}
        }
        data, err := buf.Lock()
        if err != nil {
            buf.Release()
            sample.Release()
            return nil, &Error{Device: s.name, Op: "lock buffer", Err: err}
        }

        s.mu.Lock()
        f := s.format
        if err := checkLength(f, len(data)); err != nil {
            s.mu.Unlock()
            buf.Unlock()
            buf.Release()
            sample.Release()
            return nil, &Error{Device: s.name, Op: "read sample", Err: err}
        }
        idx := s.next
        s.next++
        s.seq++
        seq := s.seq
        s.held[idx] = mfHeld{sample: sample, buf: buf}
        s.mu.Unlock()
        return &stream.RawFrame{Format: f, Data: data, Index: idx, Seq: seq}, nil
    }
}

func (s *mfSource) ReleaseFrame(f *stream.RawFrame) error {
    if f == nil { return &Error{Device: s.name, Op: "release", Err: fmt.Errorf("nil frame")} }
    s.mu.Lock()
    h, ok := s.held[f.Index]
    delete(s.held, f.Index)
    s.mu.Unlock()
    if !ok { return &Error{Device: s.name, Op: "release", Err: fmt.Errorf("sample %d is not held", f.Index)} }
    h.release()
    return nil
}

func (h mfHeld) release() {
    h.buf.Unlock()
    h.buf.Release()
    h.sample.Release()
}

func (s *mfSource) StopStream() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.streaming { return nil }
    s.streaming = false
    if err := s.reader.Flush(mfSourceReaderFirstVideoStream); err != nil {
        return &Error{Device: s.name, Op: "flush", Err: err}
    }
    return nil
}

func (s *mfSource) Close() error {
    err := s.StopStream()
    s.mu.Lock()
    for i, h := range s.held {
        h.release()
        delete(s.held, i)
    }
    s.mu.Unlock()
    s.reader.Release()
    s.media.Shutdown()
    s.media.Release()
    mfShutdown()
    return err
}
