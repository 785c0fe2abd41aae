package stream

import "sync"

// SharedFrame is the one RgbFrame handed between the capture goroutine and
// the display goroutine. Both sides hold mu only while touching Pix.
//
// There is no ordering between Update and View: a View may see a stale frame,
// and an Update that lands before the previous one was viewed drops it.
type SharedFrame struct {
    mu      sync.Mutex
    frame   *RgbFrame
    seq     uint64 // bumped by every Update
    viewed  uint64 // seq seen by the last View
    counter *Counters
}

// NewSharedFrame wraps frame. counters may be nil.
func NewSharedFrame(frame *RgbFrame, counters *Counters) *SharedFrame {
    return &SharedFrame{frame: frame, counter: counters}
}

// Update runs fn with exclusive access to the frame and returns the new sequence number.
func (s *SharedFrame) Update(fn func(f *RgbFrame)) uint64 {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.seq > s.viewed && s.counter != nil {
        s.counter.incFramesDropped()
    }
    fn(s.frame)
    s.seq++
    return s.seq
}

// View runs fn with exclusive access to the latest frame. fn also receives
// the frame's sequence number; 0 means nothing was written yet.
func (s *SharedFrame) View(fn func(f *RgbFrame, seq uint64) error) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.viewed = s.seq
    return fn(s.frame, s.seq)
}

// stopCounting turns off drop accounting once nobody views the frame any more.
func (s *SharedFrame) stopCounting() {
    s.mu.Lock()
    s.counter = nil
    s.mu.Unlock()
}

// Seq returns the sequence number of the latest Update.
func (s *SharedFrame) Seq() uint64 {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.seq
}
