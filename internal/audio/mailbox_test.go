package audio

import "testing"

func TestMailboxFrontInsertion(t *testing.T) {
	b := newMailbox()
	b.pushBack(message{kind: msgMuteOn})
	b.pushBack(message{kind: msgMuteOff})
	b.pushFront(message{kind: msgToggleMute})

	stop := make(chan struct{})
	want := []msgKind{msgToggleMute, msgMuteOn, msgMuteOff}
	for _, k := range want {
		m, ok := b.pop(stop)
		if !ok || m.kind != k {
			t.Fatalf("expected %s, got %s", k, m.kind)
		}
	}
}

func TestMailboxClosed(t *testing.T) {
	b := newMailbox()
	b.pushBack(message{kind: msgMuteOn})
	if left := b.close(); len(left) != 1 {
		t.Fatalf("expected 1 leftover message, got %d", len(left))
	}
	if b.pushBack(message{kind: msgMuteOff}) {
		t.Fatalf("expected push after close to fail")
	}

	stop := make(chan struct{})
	close(stop)
	if _, ok := b.pop(stop); ok {
		t.Fatalf("expected pop to stop")
	}
}
