package orchestrator

import (
	"testing"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

func startHandover(t *testing.T, h *harness) (src, dst call.ID) {
	t.Helper()
	src = h.active("100", simA, call.CapHold)
	info, err := h.o.RequestHandover(h.ctx, HandoverRequest{Source: src, Account: voip.Handle})
	h.must(err)
	if info.HandoverSource != src || info.HandoverState != call.HandoverToStarted {
		t.Fatalf("expected destination linked to %s, got %s in %s", src, info.HandoverSource, info.HandoverState)
	}
	if got := h.info(src); got.HandoverDestination != info.ID || got.HandoverState != call.HandoverFromStarted {
		t.Fatalf("expected source linked to %s, got %s in %s", info.ID, got.HandoverDestination, got.HandoverState)
	}
	h.expectOp(voip, "create "+info.ID.String())
	h.expectNoOp(simA, "hold "+src.String())
	return src, info.ID
}

func TestHandoverCompletes(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, voip)
	src, dst := startHandover(t, h)

	h.must(h.o.HandleCreateSuccess(h.ctx, dst, snapshot(dst, call.CapHold)))
	before := h.audio.republishes()
	h.state(dst, call.StateActive)

	if h.audio.republishes() <= before {
		t.Fatalf("expected audio configuration to be republished when the handover is accepted")
	}
	h.expectOp(simA, "disconnect "+src.String())
	if got := h.info(src).HandoverState; got != call.HandoverAccepted {
		t.Fatalf("expected source accepted, got %s", got)
	}

	h.must(h.o.HandleDisconnected(h.ctx, src, call.NewDisconnectCause(call.DisconnectLocal, "")))
	got := h.info(dst)
	if got.HandoverState != call.HandoverComplete || got.HandoverSource != 0 {
		t.Fatalf("expected destination complete and unlinked, got %s from %s", got.HandoverState, got.HandoverSource)
	}
	if _, ok := h.notes.find(dst, EventHandoverComplete); !ok {
		t.Fatalf("expected handover complete notification")
	}
	removed, _ := h.events.removedInfo(src)
	if removed.DisconnectCause.Reason != call.ReasonHandoverComplete {
		t.Fatalf("expected handover cause on source, got %s", removed.DisconnectCause)
	}

	_, err := h.o.RequestHandover(h.ctx, HandoverRequest{Source: src, Account: voip.Handle})
	if !errors.Is(err, errors.ErrCallNotFound) {
		t.Fatalf("expected repeated handover of the finished source to fail, got %v", err)
	}
}

func TestHandoverFailsWhenDestinationFails(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, voip)
	src, dst := startHandover(t, h)

	h.must(h.o.HandleCreateFailure(h.ctx, dst, call.NewDisconnectCause(call.DisconnectError, "")))

	got := h.info(src)
	if got.HandoverState != call.HandoverFailed || got.HandoverDestination != 0 {
		t.Fatalf("expected source failed and unlinked, got %s to %s", got.HandoverState, got.HandoverDestination)
	}
	if _, ok := h.notes.find(src, EventHandoverFailed); !ok {
		t.Fatalf("expected failure notification on the source")
	}
	if _, ok := h.notes.find(dst, EventHandoverFailed); !ok {
		t.Fatalf("expected failure notification on the destination")
	}

	// A failed handover may be retried.
	info, err := h.o.RequestHandover(h.ctx, HandoverRequest{Source: src, Account: voip.Handle})
	h.must(err)
	if info.HandoverSource != src {
		t.Fatalf("expected new destination linked to the source")
	}
}

func TestHandoverSourceDisconnectsFirst(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, voip)
	src, dst := startHandover(t, h)

	h.must(h.o.HandleDisconnected(h.ctx, src, call.NewDisconnectCause(call.DisconnectRemote, "")))
	if _, ok := h.notes.find(dst, EventHandoverSourceDisconnected); !ok {
		t.Fatalf("expected destination told the source went away")
	}

	h.must(h.o.HandleCreateSuccess(h.ctx, dst, snapshot(dst, 0)))
	h.state(dst, call.StateActive)
	if got := h.info(dst).HandoverState; got != call.HandoverComplete {
		t.Fatalf("expected handover to complete without a source, got %s", got)
	}
}

func TestHandoverRefusals(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB, voip)
	src, _ := startHandover(t, h)

	tests := []struct {
		name string
		req  HandoverRequest
		code errors.ErrorCode
	}{
		{"in progress", HandoverRequest{Source: src, Account: chat.Handle}, errors.ErrHandoverInProgress},
		{"unknown call", HandoverRequest{Source: call.ID(1 << 40), Account: voip.Handle}, errors.ErrCallNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.o.RequestHandover(h.ctx, tt.req); !errors.Is(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestHandoverNeedsSupportingAccounts(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB, voip)
	id := h.active("100", simB, call.CapHold)

	_, err := h.o.RequestHandover(h.ctx, HandoverRequest{Source: id, Account: voip.Handle})
	if !errors.Is(err, errors.ErrHandoverNotSupported) {
		t.Fatalf("expected handover not supported from %s, got %v", simB.Handle, err)
	}
	_, err = h.o.RequestHandover(h.ctx, HandoverRequest{Source: id, Account: simB.Handle})
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected same account to be refused, got %v", err)
	}
}

func TestForegroundChangeRepublishesAudio(t *testing.T) {
	h := newHarness(t, Config{}, Deps{}, simA, simB)
	h.active("100", simA, call.CapHold)
	if n := h.audio.republishes(); n != 0 {
		t.Fatalf("expected no republish for the first call, got %d", n)
	}

	second := h.dial("200", simB, call.CapHold)

	fg, ok, err := h.o.ForegroundCall(h.ctx)
	h.must(err)
	if !ok || fg.ID != second {
		t.Fatalf("expected %s in the foreground", second)
	}
	if h.audio.lastFocus() != audio.FocusActive {
		t.Fatalf("expected focus to stay active, got %s", h.audio.lastFocus())
	}
	if h.audio.republishes() != 1 {
		t.Fatalf("expected one republish for the new foreground call, got %d", h.audio.republishes())
	}
}
