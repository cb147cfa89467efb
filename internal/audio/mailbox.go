package audio

import "sync"

// mailbox is an unbounded FIFO with front insertion for follow-up messages
// that must run before anything already queued.
type mailbox struct {
	mu     sync.Mutex
	items  []message
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (b *mailbox) pushBack(m message) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, m)
	b.mu.Unlock()
	b.wake()
	return true
}

func (b *mailbox) pushFront(m message) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append([]message{m}, b.items...)
	b.mu.Unlock()
	b.wake()
	return true
}

func (b *mailbox) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a message is available or stop is closed.
func (b *mailbox) pop(stop <-chan struct{}) (message, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			m := b.items[0]
			b.items[0] = message{}
			b.items = b.items[1:]
			b.mu.Unlock()
			return m, true
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-stop:
			return message{}, false
		}
	}
}

// close refuses further messages and returns whatever was still queued.
func (b *mailbox) close() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	left := b.items
	b.items = nil
	return left
}

func (b *mailbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
