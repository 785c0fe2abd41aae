package stream

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// scriptedSource serves gray YUYV frames and fails on demand.
type scriptedSource struct {
    mu           sync.Mutex
    configureErr error
    startErr     error
    acquireErrAt int // fail the n-th acquire (1-based), 0 = never
    releaseErrAt int
    acquired     int
    released     int
    held         int
    maxHeld      int
    stopped      bool
    format       Format
}

func (s *scriptedSource) Configure(w, h int, enc PixelEncoding) (Format, error) {
    if s.configureErr != nil { return Format{}, s.configureErr }
    s.format = Format{Width: w, Height: h, Stride: w * 2, Encoding: enc}
    return s.format, nil
}

func (s *scriptedSource) AcquireFrame() (*RawFrame, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.acquired++
    if s.acquired == s.acquireErrAt { return nil, errors.New("device unplugged") }
    s.held++
    if s.held > s.maxHeld { s.maxHeld = s.held }
    data := make([]byte, s.format.Stride*s.format.Height)
    for i := range data { data[i] = 128 }
    return &RawFrame{Format: s.format, Data: data, Seq: uint64(s.acquired)}, nil
}

func (s *scriptedSource) ReleaseFrame(*RawFrame) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.released++
    s.held--
    if s.released == s.releaseErrAt { return errors.New("requeue failed") }
    return nil
}

func (s *scriptedSource) StartStream() error { return s.startErr }

func (s *scriptedSource) StopStream() error {
    s.mu.Lock()
    s.stopped = true
    s.mu.Unlock()
    return nil
}

func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) snapshot() (acquired, released, maxHeld int, stopped bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.acquired, s.released, s.maxHeld, s.stopped
}

func newTestLoop(src Source, sink Sink) *Loop {
    return NewLoop(src, sink, LoopConfig{Width: 4, Height: 2, Converter: Converter{Range: RangeFull}}, testLogger())
}

func TestLoopConfigureFailureIsSetupError(t *testing.T) {
    src := &scriptedSource{configureErr: errors.New("format not supported")}
    l := newTestLoop(src, &recordSink{})
    err := l.Run(context.Background())
    require.Error(t, err)
    assert.True(t, IsSetup(err))
    var se *SetupError
    require.ErrorAs(t, err, &se)
    assert.Equal(t, "configure", se.Op)
    assert.Equal(t, StateStopped, l.State())
}

func TestLoopStartFailureIsSetupError(t *testing.T) {
    src := &scriptedSource{startErr: errors.New("busy")}
    l := newTestLoop(src, &recordSink{})
    err := l.Run(context.Background())
    assert.True(t, IsSetup(err))
    assert.Equal(t, StateStopped, l.State())
}

func TestLoopAcquireErrorIsFatal(t *testing.T) {
    src := &scriptedSource{acquireErrAt: 3}
    l := newTestLoop(src, &recordSink{})
    err := l.Run(context.Background())

    var fe *FrameError
    require.ErrorAs(t, err, &fe)
    assert.Equal(t, "acquire", fe.Op)
    assert.False(t, IsSetup(err))
    acquired, released, maxHeld, stopped := src.snapshot()
    assert.Equal(t, 3, acquired)
    assert.Equal(t, 2, released, "every acquired frame is released")
    assert.Equal(t, 1, maxHeld, "at most one frame held at a time")
    assert.True(t, stopped, "stream is stopped on the way out")
    assert.Equal(t, StateStopped, l.State())
    assert.Equal(t, uint64(2), l.Counters().Snapshot()["frames_converted"])
}

func TestLoopReleaseErrorIsFatal(t *testing.T) {
    src := &scriptedSource{releaseErrAt: 1}
    l := newTestLoop(src, &recordSink{})
    err := l.Run(context.Background())
    var fe *FrameError
    require.ErrorAs(t, err, &fe)
    assert.Equal(t, "release", fe.Op)
    _, _, _, stopped := src.snapshot()
    assert.True(t, stopped)
}

func TestLoopStopsOnCancel(t *testing.T) {
    src := NewSyntheticSource(200, 6, 0)
    sink := &recordSink{}
    l := NewLoop(src, sink, LoopConfig{Width: 16, Height: 8, Converter: Converter{Range: RangeStudio, Alpha: 255}}, testLogger())
    assert.Equal(t, StateIdle, l.State())

    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- l.Run(ctx) }()

    require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, time.Millisecond)
    assert.Equal(t, StateStreaming, l.State())
    assert.Equal(t, 38, l.Format().Stride)
    l.Repaint()

    cancel()
    select {
    case err := <-done:
        assert.NoError(t, err)
    case <-time.After(2 * time.Second):
        t.Fatal("loop did not stop")
    }
    assert.Equal(t, StateStopped, l.State())
    snap := l.Counters().Snapshot()
    assert.Equal(t, snap["frames_in"], snap["frames_converted"])
    assert.GreaterOrEqual(t, snap["frames_presented"], uint64(3))

    // second Run is refused
    assert.Error(t, l.Run(context.Background()))
}

func runUntil(t *testing.T, l *Loop, frames uint64) map[string]uint64 {
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- l.Run(ctx) }()
    require.Eventually(t, func() bool { return l.Counters().Snapshot()["frames_in"] >= frames }, 2*time.Second, time.Millisecond)
    cancel()
    require.NoError(t, <-done)
    return l.Counters().Snapshot()
}

func TestLoopWithoutSinkCountsNoDrops(t *testing.T) {
    l := NewLoop(NewSyntheticSource(500, 0, 0), nil, LoopConfig{Width: 8, Height: 4}, testLogger())
    snap := runUntil(t, l, 20)
    assert.Equal(t, snap["frames_in"], snap["frames_converted"])
    assert.Zero(t, snap["frames_dropped"])
    assert.Zero(t, snap["frames_presented"])
    l.Repaint() // no presenter, no-op
}

func TestLoopStopsCountingDropsAfterSinkCloses(t *testing.T) {
    sink := &recordSink{err: ErrSinkClosed}
    l := NewLoop(NewSyntheticSource(500, 0, 0), sink, LoopConfig{Width: 8, Height: 4}, testLogger())
    snap := runUntil(t, l, 30)
    assert.Equal(t, 1, sink.count())
    assert.LessOrEqual(t, snap["frames_dropped"], uint64(3))
}

func TestLoopPace(t *testing.T) {
    src := &scriptedSource{}
    l := NewLoop(src, &recordSink{}, LoopConfig{Width: 2, Height: 2, Pace: 30 * time.Millisecond}, testLogger())
    ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
    defer cancel()
    require.NoError(t, l.Run(ctx))
    acquired, _, _, _ := src.snapshot()
    assert.LessOrEqual(t, acquired, 5, "pace limits the iteration rate")
    assert.GreaterOrEqual(t, acquired, 1)
}

func TestStateString(t *testing.T) {
    assert.Equal(t, "idle", StateIdle.String())
    assert.Equal(t, "streaming", StateStreaming.String())
    assert.Equal(t, "stopping", StateStopping.String())
    assert.Equal(t, "stopped", StateStopped.String())
    assert.Equal(t, "State(9)", State(9).String())
}
