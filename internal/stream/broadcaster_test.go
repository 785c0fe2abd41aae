package stream

import (
    "sync"
    "testing"
    "time"

    "github.com/pion/webrtc/v3/pkg/media"
    "github.com/stretchr/testify/assert"
)

type collectWriter struct {
    mu      sync.Mutex
    samples []media.Sample
    block   chan struct{}
}

func (c *collectWriter) WriteSample(s media.Sample) error {
    if c.block != nil { <-c.block }
    c.mu.Lock()
    defer c.mu.Unlock()
    c.samples = append(c.samples, s)
    return nil
}

func (c *collectWriter) len() int {
    c.mu.Lock()
    defer c.mu.Unlock()
    return len(c.samples)
}

func TestBroadcasterFansOut(t *testing.T) {
    b := NewSampleBroadcaster()
    defer b.Close()
    a, c := &collectWriter{}, &collectWriter{}
    b.Add(a)
    b.Add(c)
    assert.Equal(t, 2, b.Len())

    assert.NoError(t, b.WriteSample(media.Sample{Data: []byte{1}, Duration: time.Millisecond}))
    assert.Eventually(t, func() bool { return a.len() == 1 && c.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcasterRemove(t *testing.T) {
    b := NewSampleBroadcaster()
    defer b.Close()
    w := &collectWriter{}
    remove := b.Add(w)
    remove()
    remove() // second call is a no-op
    assert.Equal(t, 0, b.Len())

    _ = b.WriteSample(media.Sample{Data: []byte{1}})
    time.Sleep(20 * time.Millisecond)
    assert.Equal(t, 0, w.len())
}

func TestBroadcasterAddNil(t *testing.T) {
    b := NewSampleBroadcaster()
    b.Add(nil)()
    assert.Equal(t, 0, b.Len())
}

func TestBroadcasterDropsForSlowViewer(t *testing.T) {
    b := NewSampleBroadcaster()
    slow := &collectWriter{block: make(chan struct{})}
    b.Add(slow)

    // one sample sits in the blocked writer, viewerQueue more fill the queue
    for i := 0; i < viewerQueue+10; i++ {
        _ = b.WriteSample(media.Sample{Data: []byte{byte(i)}})
        time.Sleep(time.Millisecond)
    }
    assert.GreaterOrEqual(t, b.Dropped(), uint64(9))
    close(slow.block)
    b.Close()
    assert.Equal(t, 0, b.Len())
}
