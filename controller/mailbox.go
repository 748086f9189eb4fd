package controller

import "sync"

// mailbox is a single-slot, overwrite-on-put buffer between one producer side and one
// consumer goroutine.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores f and returns the frame that is no longer wanted: the unconsumed frame it
// replaced, or f itself once the mailbox is closed. The caller releases it outside the lock.
func (m *mailbox) put(f *Frame) (dropped *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return f
	}

	dropped = m.frame
	m.frame = f
	m.cond.Signal()
	return dropped
}

// take blocks until a frame is available or the mailbox is closed, in which case it
// returns nil.
func (m *mailbox) take() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil
	}

	f := m.frame
	m.frame = nil
	return f
}

// close wakes the consumer and returns any frame still waiting.
func (m *mailbox) close() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()

	f := m.frame
	m.frame = nil
	return f
}
