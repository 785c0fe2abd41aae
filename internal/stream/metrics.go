package stream

import "sync/atomic"

// Counters are simple health metrics owned by one Loop.
// Intended to observe backpressure between capture and display.
type Counters struct {
    framesIn        atomic.Uint64 // frames acquired from the Source
    framesConverted atomic.Uint64 // frames written into the shared RgbFrame
    framesPresented atomic.Uint64 // paints that reached the Sink
    framesDropped   atomic.Uint64 // converted frames overwritten before any paint
    presentErrors   atomic.Uint64
    samplesSent     atomic.Uint64 // encoded preview samples handed to WebRTC
}

// Reset sets all counters to zero.
func (c *Counters) Reset() {
    c.framesIn.Store(0)
    c.framesConverted.Store(0)
    c.framesPresented.Store(0)
    c.framesDropped.Store(0)
    c.presentErrors.Store(0)
    c.samplesSent.Store(0)
}

// Snapshot returns the current values keyed by metric name.
func (c *Counters) Snapshot() map[string]uint64 {
    return map[string]uint64{
        "frames_in":        c.framesIn.Load(),
        "frames_converted": c.framesConverted.Load(),
        "frames_presented": c.framesPresented.Load(),
        "frames_dropped":   c.framesDropped.Load(),
        "present_errors":   c.presentErrors.Load(),
        "samples_sent":     c.samplesSent.Load(),
    }
}

func (c *Counters) incFramesIn()        { c.framesIn.Add(1) }
func (c *Counters) incFramesConverted() { c.framesConverted.Add(1) }
func (c *Counters) incFramesPresented() { c.framesPresented.Add(1) }
func (c *Counters) incFramesDropped()   { c.framesDropped.Add(1) }
func (c *Counters) incPresentErrors()   { c.presentErrors.Add(1) }

// AddSamplesSent is used by the preview pipeline.
func (c *Counters) AddSamplesSent(n int) {
    if c == nil { return }
    if n > 0 { c.samplesSent.Add(uint64(n)) }
}
