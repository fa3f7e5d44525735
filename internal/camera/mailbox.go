package camera

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// mailbox keeps only the most recent frame. A frame that is overwritten
// before anyone read it counts as a drop.
type mailbox struct {
	mu    sync.Mutex
	ch    chan *image.RGBA
	drops atomic.Uint64
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan *image.RGBA, 1)}
}

func (m *mailbox) put(frame *image.RGBA) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case m.ch <- frame:
		return
	default:
	}
	select {
	case <-m.ch:
		m.drops.Add(1)
	default:
	}
	m.ch <- frame
}

func (m *mailbox) take(timeout time.Duration) *image.RGBA {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-m.ch:
		return frame
	case <-timer.C:
		return nil
	}
}

func (m *mailbox) dropped() uint64 {
	return m.drops.Load()
}
