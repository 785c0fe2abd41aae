package stream

import (
    "bufio"
    "errors"
    "fmt"
    "io"
    "os/exec"
    "strconv"
    "sync/atomic"
    "time"

    "github.com/pion/logging"
    "github.com/pion/webrtc/v3/pkg/media"
)

// FrameSource hands packed 32-bit frames to an encoder pipeline.
type FrameSource interface {
    // Next returns a frame (len = width*height*4), nil if none is ready yet,
    // and false once the source is closed.
    Next() ([]byte, bool)
    Stop()
}

// SampleWriter is satisfied by *webrtc.TrackLocalStaticSample and SampleBroadcaster.
type SampleWriter interface {
    WriteSample(media.Sample) error
}

// PipelineConfig defines how to produce H264 and feed a sample writer.
type PipelineConfig struct {
    Width, Height int
    FPS           int
    Order         ChannelOrder
    Source        FrameSource
    Writer        SampleWriter
    Counters      *Counters
    Log           logging.LeveledLogger
}

// Pipeline encodes frames with an ffmpeg subprocess.
type Pipeline struct {
    cfg     PipelineConfig
    cmd     *exec.Cmd
    stdin   io.WriteCloser
    stdout  io.ReadCloser
    quit    chan struct{}
    stopped atomic.Bool
}

// StartH264Pipeline starts ffmpeg to encode raw frames from Source and writes AnnexB access units to Writer.
func StartH264Pipeline(cfg PipelineConfig) (*Pipeline, error) {
    if cfg.FPS <= 0 { cfg.FPS = 30 }
    if cfg.Width <= 0 || cfg.Height <= 0 {
        return nil, fmt.Errorf("invalid pipeline size %dx%d", cfg.Width, cfg.Height)
    }
    if cfg.Source == nil || cfg.Writer == nil {
        return nil, errors.New("pipeline needs a source and a writer")
    }
    if cfg.Log == nil { cfg.Log = logging.NewDefaultLoggerFactory().NewLogger("preview") }
    p := &Pipeline{cfg: cfg}
    if err := p.start(); err != nil { return nil, err }
    return p, nil
}

// ffmpegArgs reads raw frames from stdin and writes low-latency H264 AnnexB to stdout.
func ffmpegArgs(w, h, fps int, order ChannelOrder) []string {
    return []string{
        "-loglevel", "error",
        "-f", "rawvideo",
        "-pix_fmt", order.String(),
        "-s:v", strconv.Itoa(w) + "x" + strconv.Itoa(h),
        "-r", strconv.Itoa(fps),
        "-i", "-",
        "-an",
        "-c:v", "libx264",
        "-preset", "veryfast",
        "-tune", "zerolatency",
        "-profile:v", "baseline",
        "-g", strconv.Itoa(fps * 2),
        "-pix_fmt", "yuv420p",
        "-f", "h264",
        "-",
    }
}

func (p *Pipeline) start() error {
    bin, err := exec.LookPath("ffmpeg")
    if err != nil { return fmt.Errorf("ffmpeg not found: %w", err) }
    cmd := exec.Command(bin, ffmpegArgs(p.cfg.Width, p.cfg.Height, p.cfg.FPS, p.cfg.Order)...)
    stdin, err := cmd.StdinPipe()
    if err != nil { return err }
    stdout, err := cmd.StdoutPipe()
    if err != nil { return err }
    cmd.Stderr = io.Discard
    if err := cmd.Start(); err != nil { return err }
    p.cmd, p.stdin, p.stdout = cmd, stdin, stdout
    p.quit = make(chan struct{})
    p.cfg.Log.Infof("h264 pipeline started %dx%d@%d (%s)", p.cfg.Width, p.cfg.Height, p.cfg.FPS, p.cfg.Order)

    go p.pump()
    go p.drain()
    return nil
}

// pump feeds ffmpeg at a steady rate, repeating the last frame when capture is slower.
func (p *Pipeline) pump() {
    ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FPS))
    defer ticker.Stop()
    size := p.cfg.Width * p.cfg.Height * 4
    for {
        select { case <-p.quit: return; case <-ticker.C: }
        frame, ok := p.cfg.Source.Next()
        if !ok { return }
        if len(frame) != size { continue }
        if _, err := p.stdin.Write(frame); err != nil {
            if !p.stopped.Load() { p.cfg.Log.Warnf("ffmpeg stdin: %v", err) }
            return
        }
    }
}

// drain reads access units and writes them as samples.
func (p *Pipeline) drain() {
    r := newAnnexBReader(p.stdout)
    dur := time.Second / time.Duration(p.cfg.FPS)
    for {
        au, err := r.ReadAccessUnit()
        if err != nil {
            if !p.stopped.Load() && !errors.Is(err, io.EOF) { p.cfg.Log.Warnf("ffmpeg stdout: %v", err) }
            return
        }
        if len(au) == 0 { continue }
        if err := p.cfg.Writer.WriteSample(media.Sample{Data: au, Duration: dur}); err == nil {
            p.cfg.Counters.AddSamplesSent(1)
        }
    }
}

// Stop kills ffmpeg and stops the source. Safe to call more than once.
func (p *Pipeline) Stop() {
    if !p.stopped.CompareAndSwap(false, true) { return }
    close(p.quit)
    _ = p.stdin.Close()
    if p.cmd != nil && p.cmd.Process != nil { _ = p.cmd.Process.Kill(); _ = p.cmd.Wait() }
    p.cfg.Source.Stop()
    p.cfg.Log.Info("h264 pipeline stopped")
}

// --- H264 AnnexB framing ---

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

const (
    nalTypeIDR = 5
    nalTypeAUD = 9
    maxAccessUnit = 1 << 20
)

type annexBReader struct {
    r       *bufio.Reader
    pending []byte // first NAL of the next access unit, already read
    synced  bool   // the start code of the next NAL was already consumed
}

func newAnnexBReader(r io.Reader) *annexBReader {
    return &annexBReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// ReadAccessUnit groups NAL units into one access unit, each prefixed with a
// 4-byte start code. An AUD starts a new unit; an IDR flushes early to keep
// latency down.
func (a *annexBReader) ReadAccessUnit() ([]byte, error) {
    var au []byte
    if a.pending != nil {
        au = appendNAL(au, a.pending)
        a.pending = nil
    }
    for {
        nal, err := a.readNAL()
        if err != nil {
            if errors.Is(err, io.EOF) {
                if len(nal) > 0 { au = appendNAL(au, nal) }
                if len(au) > 0 { return au, nil }
            }
            return nil, err
        }
        if len(nal) == 0 { continue }
        switch nal[0] & 0x1F {
        case nalTypeAUD:
            if len(au) > 0 {
                a.pending = nal
                return au, nil
            }
            au = appendNAL(au, nal)
        case nalTypeIDR:
            au = appendNAL(au, nal)
            return au, nil
        default:
            au = appendNAL(au, nal)
            if len(au) > maxAccessUnit { return au, nil }
        }
    }
}

func appendNAL(au, nal []byte) []byte {
    au = append(au, annexBStartCode...)
    return append(au, nal...)
}

// readNAL skips to the next 00 00 01 start code and returns the payload up
// to the following start code (or EOF).
func (a *annexBReader) readNAL() ([]byte, error) {
    if !a.synced {
        zeros := 0
        for {
            b, err := a.r.ReadByte()
            if err != nil { return nil, err }
            if b == 1 && zeros >= 2 { break }
            if b == 0 { zeros++ } else { zeros = 0 }
        }
    }
    a.synced = false
    var buf []byte
    for {
        b, err := a.r.ReadByte()
        if err != nil {
            if errors.Is(err, io.EOF) && len(buf) > 0 { return trimTrailingZeros(buf), io.EOF }
            return nil, err
        }
        buf = append(buf, b)
        n := len(buf)
        if n >= 3 && buf[n-3] == 0 && buf[n-2] == 0 && buf[n-1] == 1 {
            a.synced = true
            return trimTrailingZeros(buf[:n-3]), nil
        }
    }
}

// trimTrailingZeros drops the leading zero of a 4-byte start code.
func trimTrailingZeros(b []byte) []byte {
    for len(b) > 0 && b[len(b)-1] == 0 { b = b[:len(b)-1] }
    return b
}
