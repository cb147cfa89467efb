package orchestrator

import (
	"testing"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

func TestBindingDeathDisconnectsCalls(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	active := h.active("100", simA, 0)
	pending, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "200", Account: simA.Handle})
	h.must(err)
	other := h.ring("555", simB, 0)

	h.must(h.o.HandleBindingDied(h.ctx, simA.Handle.Provider))

	for _, id := range []call.ID{active, pending.ID} {
		removed, ok := h.events.removedInfo(id)
		if !ok {
			t.Fatalf("expected %s removed", id)
		}
		if removed.DisconnectCause.Reason != call.ReasonBindingDied {
			t.Fatalf("expected binding died cause on %s, got %s", id, removed.DisconnectCause)
		}
	}
	if !h.isLive(other) {
		t.Fatalf("expected call on another provider to survive")
	}

	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "300", Account: simA.Handle})
	h.must(err)
	if info.State != call.StateDisconnected {
		t.Fatalf("expected call without a binding to fail, got %s", info.State)
	}
}

func TestBindingDeathMovesEmergencyCall(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "911"})
	h.must(err)

	h.must(h.o.HandleBindingDied(h.ctx, simA.Handle.Provider))
	h.expectOp(simB, "create "+info.ID.String())
	if !h.isLive(info.ID) {
		t.Fatalf("expected emergency call to continue on the next account")
	}
}

func TestCallbacksForUnknownCall(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	err := h.o.HandleStateChanged(h.ctx, call.ID(1<<41), call.StateActive)
	if !errors.Is(err, errors.ErrCallNotFound) {
		t.Fatalf("expected call not found, got %v", err)
	}
}

func TestCreateSuccessAfterCancelIgnored(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: "100", Account: simA.Handle})
	h.must(err)
	h.must(h.o.CancelOutgoingCall(h.ctx, info.ID, 0))

	err = h.o.HandleCreateSuccess(h.ctx, info.ID, snapshot(info.ID, 0))
	if err == nil {
		t.Fatalf("expected late create success to be refused")
	}
}

func TestExternalCallIgnoredByAdmission(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	id := h.active("100", simA, 0)
	h.must(h.o.HandlePropertiesChanged(h.ctx, id, call.PropExternal))

	n, err := h.o.CountCalls(h.ctx, call.StateActive)
	h.must(err)
	if n != 0 {
		t.Fatalf("expected external call not to count, got %d", n)
	}
	h.dial("200", simB, 0)
}

func TestPullExternalCall(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	id := h.active("100", simA, call.CapCanPullCall)

	if err := h.o.PullExternalCall(h.ctx, id); !errors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected pull of a local call to be refused, got %v", err)
	}
	h.must(h.o.HandlePropertiesChanged(h.ctx, id, call.PropExternal))
	h.must(h.o.PullExternalCall(h.ctx, id))
	h.expectOp(simA, "pull "+id.String())
}

func TestCallerInfoAndExtras(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA)
	id := h.ring("555", simA, 0)

	h.must(h.o.HandleCallerInfoChanged(h.ctx, id, "556", "Alice"))
	h.must(h.o.HandleExtrasChanged(h.ctx, id, map[string]string{"k": "v"}))

	info := h.info(id)
	if info.Handle != "556" || info.CallerDisplayName != "Alice" {
		t.Fatalf("unexpected caller info %q %q", info.Handle, info.CallerDisplayName)
	}
	if info.Extras["k"] != "v" {
		t.Fatalf("expected extra to be merged")
	}
}
