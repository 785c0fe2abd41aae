package stream

import (
    "sync"
    "sync/atomic"

    "github.com/pion/webrtc/v3/pkg/media"
)

// SampleBroadcaster fans encoded preview samples out to every connected
// viewer. Each viewer gets a small queue so a slow peer doesn't stall the
// encoder or the other viewers; samples for a full queue are dropped.
type SampleBroadcaster struct {
    mu      sync.RWMutex
    viewers map[*viewer]struct{}
    dropped atomic.Uint64
}

type viewer struct {
    ch   chan media.Sample
    quit chan struct{}
    w    SampleWriter
}

const viewerQueue = 4

// NewSampleBroadcaster creates a broadcaster. Call Close when done.
func NewSampleBroadcaster() *SampleBroadcaster {
    return &SampleBroadcaster{viewers: make(map[*viewer]struct{})}
}

// Add registers a viewer track and returns a function removing it again.
func (b *SampleBroadcaster) Add(w SampleWriter) (remove func()) {
    if w == nil { return func() {} }
    v := &viewer{ch: make(chan media.Sample, viewerQueue), quit: make(chan struct{}), w: w}
    go v.run()
    b.mu.Lock()
    b.viewers[v] = struct{}{}
    b.mu.Unlock()
    return func() {
        b.mu.Lock()
        if _, ok := b.viewers[v]; ok {
            delete(b.viewers, v)
            close(v.quit)
        }
        b.mu.Unlock()
    }
}

func (v *viewer) run() {
    for {
        select {
        case sm := <-v.ch:
            _ = v.w.WriteSample(sm)
        case <-v.quit:
            return
        }
    }
}

// Len is the number of registered viewers.
func (b *SampleBroadcaster) Len() int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return len(b.viewers)
}

// Dropped counts samples discarded because a viewer queue was full.
func (b *SampleBroadcaster) Dropped() uint64 { return b.dropped.Load() }

// WriteSample makes the broadcaster a SampleWriter for the pipeline. It never blocks.
func (b *SampleBroadcaster) WriteSample(sm media.Sample) error {
    b.mu.RLock()
    for v := range b.viewers {
        select {
        case v.ch <- sm:
        default:
            b.dropped.Add(1)
        }
    }
    b.mu.RUnlock()
    return nil
}

// Close stops all viewer workers and clears the list.
func (b *SampleBroadcaster) Close() {
    b.mu.Lock()
    for v := range b.viewers {
        close(v.quit)
        delete(b.viewers, v)
    }
    b.mu.Unlock()
}
