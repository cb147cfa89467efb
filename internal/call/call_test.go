package call

import (
	"testing"
	"time"
)

type recordingListener struct {
	changes []Change
}

func (r *recordingListener) OnCallChanged(c *Call, change Change) {
	r.changes = append(r.changes, change)
}

func (r *recordingListener) count(change Change) int {
	n := 0
	for _, c := range r.changes {
		if c == change {
			n++
		}
	}
	return n
}

func newTestCall(t *testing.T, p Params) (*Call, *ManualClock, *recordingListener) {
	t.Helper()
	clock := NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	p.Clock = clock
	c := New(p)
	l := &recordingListener{}
	c.AddListener(l)
	return c, clock, l
}

func TestIDsAreUniqueAndNonZero(t *testing.T) {
	a := New(Params{})
	b := New(Params{})
	if a.ID() == 0 || b.ID() == 0 {
		t.Fatalf("expected non-zero ids, got %v and %v", a.ID(), b.ID())
	}
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct ids, got %v twice", a.ID())
	}
}

func TestSetConnectionPropertiesNotifiesOnce(t *testing.T) {
	c, _, l := newTestCall(t, Params{Direction: DirectionIncoming})

	c.SetConnectionProperties(PropWifi | PropHighDefAudio)
	c.SetConnectionProperties(PropWifi | PropHighDefAudio)

	if got := l.count(ChangeProperties); got != 1 {
		t.Fatalf("expected 1 properties notification, got %d", got)
	}
}

func TestSetConnectionPropertiesExternalToggle(t *testing.T) {
	c, _, l := newTestCall(t, Params{Direction: DirectionIncoming})

	c.SetConnectionProperties(PropExternal)
	if !c.IsExternal() {
		t.Fatalf("expected call to be external")
	}
	c.SetConnectionProperties(0)
	if c.IsExternal() {
		t.Fatalf("expected call to no longer be external")
	}
	if got := l.count(ChangeExternal); got != 2 {
		t.Fatalf("expected 2 external notifications, got %d", got)
	}
}

func TestSelfManagedPropertyIsSticky(t *testing.T) {
	c, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing, SelfManaged: true})

	c.SetConnectionProperties(PropWifi)
	if !c.Properties().Has(PropSelfManaged) {
		t.Fatalf("expected self-managed bit to survive, got %s", c.Properties())
	}

	m, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing})
	m.SetConnectionProperties(PropSelfManaged)
	if m.Properties().Has(PropSelfManaged) {
		t.Fatalf("expected self-managed bit to be stripped for a managed call")
	}
}

func TestCapabilitiesStripVideoWhenUnsupported(t *testing.T) {
	c, _, l := newTestCall(t, Params{Direction: DirectionOutgoing})

	c.SetConnectionCapabilities(CapHold|CapSupportHold|CapVideo, false)
	if c.Capabilities().SupportsVideo() {
		t.Fatalf("expected video capabilities removed, got %s", c.Capabilities())
	}
	if !c.Can(CapHold) {
		t.Fatalf("expected hold capability kept")
	}

	c.SetConnectionCapabilities(CapHold|CapSupportHold, false)
	if got := l.count(ChangeCapabilities); got != 1 {
		t.Fatalf("expected 1 capabilities notification, got %d", got)
	}
	c.SetConnectionCapabilities(CapHold|CapSupportHold, true)
	if got := l.count(ChangeCapabilities); got != 2 {
		t.Fatalf("expected forced notification, got %d", got)
	}
}

func TestCapabilitiesStripOneWayVideoWhenUnsupported(t *testing.T) {
	c, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing})

	c.SetConnectionCapabilities(CapHold|CapVideoLocalRx|CapVideoRemoteTx, false)
	if got := c.Capabilities() & CapVideo; got != 0 {
		t.Fatalf("expected one-way video bits removed, got %s", got)
	}
	if !c.Can(CapHold) {
		t.Fatalf("expected hold capability kept")
	}
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, s := range []State{StateNew, StateDialing, StateRinging, StateActive, StateOnHold, StateDisconnected} {
		got, ok := ParseState(s.String())
		if !ok || got != s {
			t.Fatalf("ParseState(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := ParseState("BOGUS"); ok {
		t.Fatalf("expected unknown state name rejected")
	}
}

func TestAgeZeroForRejectedAndMissed(t *testing.T) {
	for _, code := range []DisconnectCode{DisconnectRejected, DisconnectMissed} {
		c, clock, _ := newTestCall(t, Params{Direction: DirectionIncoming})
		c.SetState(StateRinging)
		clock.Advance(time.Second)
		c.SetState(StateActive)
		clock.Advance(10 * time.Second)
		c.SetDisconnectCause(NewDisconnectCause(code, ""))
		c.SetState(StateDisconnected)

		if age := c.Age(); age != 0 {
			t.Fatalf("%s: expected age 0, got %v", code, age)
		}
	}
}

func TestAgeNeverConnected(t *testing.T) {
	c, clock, _ := newTestCall(t, Params{Direction: DirectionOutgoing})
	c.SetState(StateDialing)
	clock.Advance(5 * time.Second)
	c.SetState(StateDisconnected)

	if age := c.Age(); age != 0 {
		t.Fatalf("expected age 0, got %v", age)
	}
}

func TestAgeUsesMonotonicClock(t *testing.T) {
	c, clock, _ := newTestCall(t, Params{Direction: DirectionOutgoing})
	c.SetState(StateDialing)
	c.SetState(StateActive)
	clock.Advance(3 * time.Second)

	clock.SetWall(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
	if age := c.Age(); age != 3*time.Second {
		t.Fatalf("expected live age 3s, got %v", age)
	}

	clock.Advance(2 * time.Second)
	c.SetDisconnectCause(NewDisconnectCause(DisconnectLocal, ""))
	c.SetState(StateDisconnected)
	clock.Advance(time.Hour)
	if age := c.Age(); age != 5*time.Second {
		t.Fatalf("expected final age 5s, got %v", age)
	}
}

func TestDisconnectCauseFrozen(t *testing.T) {
	c, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing})
	c.SetState(StateDialing)
	c.SetDisconnectCause(NewDisconnectCause(DisconnectRemote, ""))
	c.SetState(StateDisconnected)
	c.SetDisconnectCause(NewDisconnectCause(DisconnectError, ""))

	if got := c.DisconnectCause().Code; got != DisconnectRemote {
		t.Fatalf("expected REMOTE, got %s", got)
	}
}

func TestOverrideDisconnectCauseWins(t *testing.T) {
	c, _, _ := newTestCall(t, Params{Direction: DirectionIncoming})
	c.SetState(StateActive)
	c.SetOverrideDisconnectCause(NewDisconnectCause(DisconnectLocal, ReasonOtherProviderCall))
	c.SetDisconnectCause(NewDisconnectCause(DisconnectRemote, ""))
	c.SetState(StateDisconnected)

	if got := c.DisconnectCause().Reason; got != ReasonOtherProviderCall {
		t.Fatalf("expected override reason, got %q", got)
	}
}

func TestVideoHistory(t *testing.T) {
	c, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing, VideoCallingSupported: true})
	c.SetState(StateDialing)
	c.SetVideoState(VideoTx)
	if c.VideoStateHistory() != VideoAudioOnly {
		t.Fatalf("expected no history while dialing, got %s", c.VideoStateHistory())
	}

	c.SetState(StateActive)
	if c.VideoStateHistory() != VideoTx {
		t.Fatalf("expected history reset to tx, got %s", c.VideoStateHistory())
	}

	c.SetVideoState(VideoRx)
	c.SetVideoState(VideoAudioOnly)
	if c.VideoStateHistory() != VideoBidirectional {
		t.Fatalf("expected accumulated bidirectional history, got %s", c.VideoStateHistory())
	}
}

func TestVideoStateDowngradedWithoutSupport(t *testing.T) {
	c, _, l := newTestCall(t, Params{Direction: DirectionOutgoing})
	c.SetVideoState(VideoBidirectional)

	if c.VideoState() != VideoAudioOnly {
		t.Fatalf("expected audio only, got %s", c.VideoState())
	}
	if got := l.count(ChangeVideoState); got != 0 {
		t.Fatalf("expected no video notification, got %d", got)
	}
}

func TestEmergencyDisconnectSuppressedForRetry(t *testing.T) {
	first := AccountHandle{Provider: "sim", ID: "a"}
	second := AccountHandle{Provider: "sim", ID: "b"}
	retried := 0

	c, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing, Emergency: true, Account: first})
	c.SetAttempt(NewCreateAttempt([]AccountHandle{first, second}, func(*Call) { retried++ }))
	c.Attempt().Next()
	c.Attempt().MarkComplete()
	c.SetState(StateDialing)

	c.SetDisconnectCause(NewDisconnectCause(DisconnectError, ""))
	if c.SetState(StateDisconnected) {
		t.Fatalf("expected disconnect to be suppressed")
	}
	if c.State() != StateDialing {
		t.Fatalf("expected state to remain DIALING, got %s", c.State())
	}
	if retried != 1 {
		t.Fatalf("expected retry hook once, got %d", retried)
	}

	c.Attempt().Next()
	c.Attempt().MarkComplete()
	c.SetDisconnectCause(NewDisconnectCause(DisconnectError, ""))
	if !c.SetState(StateDisconnected) {
		t.Fatalf("expected disconnect once candidates are exhausted")
	}
}

func TestNonErrorDisconnectNotSuppressed(t *testing.T) {
	first := AccountHandle{Provider: "sim", ID: "a"}
	second := AccountHandle{Provider: "sim", ID: "b"}

	c, _, _ := newTestCall(t, Params{Direction: DirectionOutgoing, Emergency: true, Account: first})
	c.SetAttempt(NewCreateAttempt([]AccountHandle{first, second}, nil))
	c.Attempt().Next()
	c.Attempt().MarkComplete()
	c.SetState(StateDialing)
	c.SetDisconnectCause(NewDisconnectCause(DisconnectRemote, ""))

	if !c.SetState(StateDisconnected) {
		t.Fatalf("expected remote hangup to disconnect")
	}
}

func TestHandoverStateAdjacency(t *testing.T) {
	c, _, l := newTestCall(t, Params{Direction: DirectionOutgoing})

	if c.SetHandoverState(HandoverComplete) {
		t.Fatalf("expected none -> complete to be refused")
	}
	if !c.SetHandoverState(HandoverFromStarted) {
		t.Fatalf("expected none -> from_started")
	}
	if c.SetHandoverState(HandoverToStarted) {
		t.Fatalf("expected from_started -> to_started to be refused")
	}
	if !c.SetHandoverState(HandoverAccepted) || !c.SetHandoverState(HandoverComplete) {
		t.Fatalf("expected from_started -> accepted -> complete")
	}
	if got := l.count(ChangeHandoverState); got != 3 {
		t.Fatalf("expected 3 handover notifications, got %d", got)
	}
}

func TestHandoverLinksAreExclusive(t *testing.T) {
	c, _, _ := newTestCall(t, Params{})
	if !c.SetHandoverDestination(42) {
		t.Fatalf("expected destination to be set")
	}
	if c.SetHandoverSource(43) {
		t.Fatalf("expected a handover source to be refused on a call that is already a source")
	}
}

func TestInfoIsDetached(t *testing.T) {
	c, _, _ := newTestCall(t, Params{Extras: map[string]string{"k": "v"}})
	info := c.Info()
	info.Extras["k"] = "changed"

	if v, _ := c.Extra("k"); v != "v" {
		t.Fatalf("expected snapshot mutation not to leak, got %q", v)
	}
}
