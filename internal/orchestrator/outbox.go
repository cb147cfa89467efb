package orchestrator

import "sync"

// outbox runs provider requests in order on its own goroutine so a binding
// may call straight back into the orchestrator without deadlocking it.
type outbox struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (b *outbox) push(fns ...func()) {
	if len(fns) == 0 {
		return
	}
	b.mu.Lock()
	b.items = append(b.items, fns...)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *outbox) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		items := b.items
		b.items = nil
		b.mu.Unlock()

		for _, fn := range items {
			fn()
		}
		if len(items) > 0 {
			continue
		}

		select {
		case <-b.signal:
		case <-b.stop:
			return
		}
	}
}

func (b *outbox) close() {
	close(b.stop)
	<-b.done
}
