package orchestrator

import (
	"testing"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

func TestOutgoingCallLifecycle(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	id := h.dial("100", simA, call.CapHold)
	h.expectOp(simA, "create "+id.String())

	if got := h.info(id).State; got != call.StateDialing {
		t.Fatalf("expected dialing, got %s", got)
	}
	h.state(id, call.StateActive)
	h.must(h.o.Disconnect(h.ctx, id))
	h.expectOp(simA, "disconnect "+id.String())
	if got := h.info(id).State; got != call.StateDisconnecting {
		t.Fatalf("expected disconnecting until the provider confirms, got %s", got)
	}

	h.must(h.o.HandleDisconnected(h.ctx, id, call.NewDisconnectCause(call.DisconnectLocal, "")))
	if h.isLive(id) {
		t.Fatalf("expected call removed after disconnect")
	}
	note, ok := h.notes.find(id, EventCallLogged)
	if !ok || note.fields["type"] != LogTypeOutgoing {
		t.Fatalf("expected outgoing call log entry, got %+v", note)
	}
}

func TestOutgoingNeedsHandle(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	_, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: " ", Account: simA.Handle})
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestOutgoingSelectProvider(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100"})
	h.must(err)
	if info.State != call.StateSelectProvider {
		t.Fatalf("expected select provider, got %s", info.State)
	}

	_, err = h.o.SelectAccount(h.ctx, info.ID, simA.Handle)
	h.must(err)
	h.expectOp(simA, "create "+info.ID.String())
	if got := h.info(info.ID).Account; got != simA.Handle {
		t.Fatalf("expected account %s, got %s", simA.Handle, got)
	}

	_, err = h.o.SelectAccount(h.ctx, info.ID, simA.Handle)
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected invalid state on second selection, got %v", err)
	}
}

func TestOutgoingUsesDefaultAccount(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	h.must(h.o.Accounts().SetDefault(simB.Handle))

	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100"})
	h.must(err)
	if info.Account != simB.Handle {
		t.Fatalf("expected default account, got %s", info.Account)
	}
}

func TestCreateFailureDisconnects(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)

	h.must(h.o.HandleCreateFailure(h.ctx, info.ID, call.NewDisconnectCause(call.DisconnectBusy, "")))
	removed, ok := h.events.removedInfo(info.ID)
	if !ok {
		t.Fatalf("expected call removed after create failure")
	}
	if removed.DisconnectCause.Code != call.DisconnectBusy {
		t.Fatalf("expected busy cause, got %s", removed.DisconnectCause)
	}
}

func TestEmergencyCallTriesNextAccountOnCreateFailure(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "tel:911"})
	h.must(err)
	if info.Account != simA.Handle {
		t.Fatalf("expected highest priority account first, got %s", info.Account)
	}
	h.expectOp(simA, "create "+info.ID.String())

	h.must(h.o.HandleCreateFailure(h.ctx, info.ID, call.NewDisconnectCause(call.DisconnectError, "")))
	h.expectOp(simB, "create "+info.ID.String())
	if got := h.info(info.ID); got.Account != simB.Handle || got.State != call.StateConnecting {
		t.Fatalf("expected retry on %s, got %s in %s", simB.Handle, got.Account, got.State)
	}
}

func TestEmergencyCallTriesNextAccountOnEarlyDisconnect(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "112"})
	h.must(err)
	h.must(h.o.HandleCreateSuccess(h.ctx, info.ID, snapshot(info.ID, 0)))

	h.must(h.o.HandleDisconnected(h.ctx, info.ID, call.NewDisconnectCause(call.DisconnectError, "")))

	h.expectOp(simB, "create "+info.ID.String())
	got := h.info(info.ID)
	if got.State == call.StateDisconnected || got.ConnectionID != "" {
		t.Fatalf("expected call to continue on the next account, got %s conn=%q", got.State, got.ConnectionID)
	}

	h.must(h.o.HandleDisconnected(h.ctx, info.ID, call.NewDisconnectCause(call.DisconnectError, "")))
	if h.isLive(info.ID) {
		t.Fatalf("expected call removed once candidates are exhausted")
	}
}

func TestEmergencyCallRemoteHangupNotRetried(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "112"})
	h.must(err)
	h.must(h.o.HandleCreateSuccess(h.ctx, info.ID, snapshot(info.ID, 0)))

	h.must(h.o.HandleDisconnected(h.ctx, info.ID, call.NewDisconnectCause(call.DisconnectRemote, "")))
	h.expectNoOp(simB, "create "+info.ID.String())
	if h.isLive(info.ID) {
		t.Fatalf("expected remote hangup to end the call")
	}
}

func TestCancelOutgoingCallAborts(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)

	h.must(h.o.CancelOutgoingCall(h.ctx, info.ID, 0))
	h.expectOp(simA, "abort "+info.ID.String())
	removed, ok := h.events.removedInfo(info.ID)
	if !ok || removed.DisconnectCause.Code != call.DisconnectCanceled {
		t.Fatalf("expected canceled call to be removed, got %+v", removed.DisconnectCause)
	}
}

func TestCancelledCallReusedForSameHandle(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)
	h.must(h.o.CancelOutgoingCall(h.ctx, info.ID, time.Hour))

	again, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)
	if again.ID != info.ID {
		t.Fatalf("expected parked call %s to be reused, got %s", info.ID, again.ID)
	}
	if !h.isLive(info.ID) {
		t.Fatalf("expected reused call to stay in the registry")
	}
}

func TestCancelledCallDisconnectsAfterDelay(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)

	h.must(h.o.CancelOutgoingCall(h.ctx, info.ID, 10*time.Millisecond))
	if !h.isLive(info.ID) {
		t.Fatalf("expected call to stay until the delay runs out")
	}
	eventually(t, func() bool { return !h.isLive(info.ID) })
}

func TestParkedCallDisconnectedForDifferentHandle(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)
	h.must(h.o.CancelOutgoingCall(h.ctx, info.ID, time.Hour))

	other, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "200", Account: simA.Handle})
	h.must(err)
	if other.ID == info.ID {
		t.Fatalf("expected a new call for a different handle")
	}
	if h.isLive(info.ID) {
		t.Fatalf("expected parked call to be disconnected")
	}
}

func TestCancelActiveCallRefused(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	id := h.active("100", simA, 0)

	err := h.o.CancelOutgoingCall(h.ctx, id, 0)
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
