package provider

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/orchestrator"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	snaps  []orchestrator.ConnectionSnapshot
}

func (r *recorder) add(format string, args ...interface{}) error {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
	return nil
}

func (r *recorder) HandleCreateSuccess(_ context.Context, id call.ID, snap orchestrator.ConnectionSnapshot) error {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
	return r.add("created %s %s", id, snap.State)
}

func (r *recorder) HandleCreateFailure(_ context.Context, id call.ID, cause call.DisconnectCause) error {
	return r.add("failed %s %s", id, cause.Code)
}

func (r *recorder) HandleStateChanged(_ context.Context, id call.ID, state call.State) error {
	return r.add("state %s %s", id, state)
}

func (r *recorder) HandleDisconnected(_ context.Context, id call.ID, cause call.DisconnectCause) error {
	return r.add("disconnected %s %s", id, cause.Code)
}

func (r *recorder) HandleParentChanged(_ context.Context, child, parent call.ID) error {
	return r.add("parent %s %s", child, parent)
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]string(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("expected %d events, got %v", n, r.events)
	return nil
}

func newLoopback(t *testing.T, opts Options) (*Loopback, *recorder) {
	t.Helper()
	r := &recorder{}
	opts.Delay = 0
	l := NewLoopback("loop", r, opts)
	l.Start()
	t.Cleanup(l.Stop)
	return l, r
}

func expectEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q (all %v)", i, want[i], got[i], got)
		}
	}
}

func TestOutgoingAutoAnswer(t *testing.T) {
	l, r := newLoopback(t, DefaultOptions())
	id := call.ID(101)

	l.CreateConnection(orchestrator.ConnectionRequest{CallID: id, Handle: "555", Direction: call.DirectionOutgoing})
	events := r.wait(t, 2)
	expectEvents(t, events, "created TC@101 DIALING", "state TC@101 ACTIVE")

	r.mu.Lock()
	connID := r.snaps[0].ConnectionID
	r.mu.Unlock()
	if connID == "" {
		t.Fatalf("expected a connection id")
	}

	l.Hold(id)
	l.Unhold(id)
	l.Disconnect(id)
	events = r.wait(t, 5)
	expectEvents(t, events[2:], "state TC@101 ON_HOLD", "state TC@101 ACTIVE", "disconnected TC@101 LOCAL")
	if l.Connections() != 0 {
		t.Fatalf("expected connection released")
	}
}

func TestIncomingRingsUntilAnswered(t *testing.T) {
	l, r := newLoopback(t, DefaultOptions())
	id := call.ID(102)

	l.CreateConnection(orchestrator.ConnectionRequest{CallID: id, Handle: "555", Direction: call.DirectionIncoming})
	r.wait(t, 1)
	l.Hold(id) // not active yet
	l.Answer(id, call.VideoAudioOnly)
	l.HangUpRemote(id)

	events := r.wait(t, 3)
	expectEvents(t, events, "created TC@102 RINGING", "state TC@102 ACTIVE", "disconnected TC@102 REMOTE")
}

func TestRejectAndFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.FailHandles = []string{"000"}
	l, r := newLoopback(t, opts)

	l.CreateConnection(orchestrator.ConnectionRequest{CallID: 103, Handle: "000", Direction: call.DirectionOutgoing})
	l.CreateConnection(orchestrator.ConnectionRequest{CallID: 104, Handle: "555", Direction: call.DirectionIncoming})
	l.Reject(104, "busy")

	events := r.wait(t, 3)
	expectEvents(t, events, "failed TC@103 ERROR", "created TC@104 RINGING", "disconnected TC@104 REJECTED")
}

func TestManualAnswerAndConference(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoAnswer = false
	l, r := newLoopback(t, opts)

	l.CreateConnection(orchestrator.ConnectionRequest{CallID: 105, Handle: "1", Direction: call.DirectionOutgoing})
	l.CreateConnection(orchestrator.ConnectionRequest{CallID: 106, Handle: "2", Direction: call.DirectionOutgoing})
	l.RemoteAnswer(105)
	l.Conference(105, 106)
	l.SplitFromConference(106)

	events := r.wait(t, 5)
	expectEvents(t, events,
		"created TC@105 DIALING",
		"created TC@106 DIALING",
		"state TC@105 ACTIVE",
		"parent TC@106 TC@105",
		"parent TC@106 <none>",
	)
}

func TestUnknownCallsIgnored(t *testing.T) {
	l, r := newLoopback(t, DefaultOptions())
	l.Disconnect(999)
	l.Answer(999, call.VideoAudioOnly)
	l.Pull(999)
	l.Abort(999)

	l.CreateConnection(orchestrator.ConnectionRequest{CallID: 107, Handle: "1", Direction: call.DirectionIncoming})
	events := r.wait(t, 1)
	expectEvents(t, events, "created TC@107 RINGING")
}
