package orchestrator

import (
	"github.com/hamzaKhattat/call-mediator/internal/call"
)

type scope int

const (
	scopeAny scope = iota
	scopeManaged
	scopeSelfManaged
)

// callFilter selects registry calls for counting. Only top-level,
// non-external calls are ever considered.
type callFilter struct {
	scope   scope
	account call.AccountHandle
	exclude *call.Call
}

func (f callFilter) match(c *call.Call) bool {
	if c == f.exclude || c.Parent() != 0 || c.IsExternal() {
		return false
	}
	switch f.scope {
	case scopeManaged:
		if c.IsSelfManaged() {
			return false
		}
	case scopeSelfManaged:
		if !c.IsSelfManaged() {
			return false
		}
	}
	if !f.account.IsZero() && c.Account() != f.account {
		return false
	}
	return true
}

func (o *Orchestrator) count(f callFilter, states ...call.State) int {
	n := 0
	for _, c := range o.live {
		if f.match(c) && (len(states) == 0 || c.State().In(states...)) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) first(f callFilter, states ...call.State) *call.Call {
	for _, c := range o.live {
		if f.match(c) && (len(states) == 0 || c.State().In(states...)) {
			return c
		}
	}
	return nil
}

func managedExcept(c *call.Call) callFilter {
	return callFilter{scope: scopeManaged, exclude: c}
}

func (o *Orchestrator) hasMaximumManagedLiveCalls(exclude *call.Call) bool {
	return o.count(managedExcept(exclude), call.LiveStates...) >= MaxLiveCalls
}

func (o *Orchestrator) hasMaximumManagedHoldingCalls(exclude *call.Call) bool {
	return o.count(managedExcept(exclude), call.StateOnHold) >= MaxHoldingCalls
}

func (o *Orchestrator) hasMaximumManagedRingingCalls(exclude *call.Call) bool {
	return o.count(managedExcept(exclude), call.StateRinging) >= MaxRingingCalls
}

func (o *Orchestrator) hasMaximumManagedOutgoingCalls(exclude *call.Call) bool {
	return o.count(managedExcept(exclude), call.OutgoingStates...) >= MaxOutgoingCalls
}

func (o *Orchestrator) hasMaximumManagedDialingCalls(exclude *call.Call) bool {
	return o.count(managedExcept(exclude), call.StateDialing, call.StatePulling) >= MaxDialingCalls
}

func (o *Orchestrator) hasMaximumTopLevelCalls(exclude *call.Call) bool {
	return o.count(callFilter{exclude: exclude}, call.AnyStates...) >= MaxTopLevelCalls
}

func (o *Orchestrator) hasMaximumSelfManagedCalls(exclude *call.Call, account call.AccountHandle) bool {
	f := callFilter{scope: scopeSelfManaged, account: account, exclude: exclude}
	return o.count(f, call.AnyStates...) >= o.cfg.MaxSelfManagedCalls
}

func (o *Orchestrator) hasMaximumSelfManagedRingingCalls(exclude *call.Call, account call.AccountHandle) bool {
	f := callFilter{scope: scopeSelfManaged, account: account, exclude: exclude}
	return o.count(f, call.StateRinging) >= MaxRingingCalls
}

func (o *Orchestrator) hasEmergencyCall() bool {
	for _, c := range o.live {
		if c.IsEmergency() {
			return true
		}
	}
	return false
}

// canHold reports whether c can be put on hold.
func canHold(c *call.Call) bool {
	return c.Can(call.CapHold) || c.Can(call.CapSupportHold)
}

func sameProvider(a, b call.AccountHandle) bool {
	return a.Provider != "" && a.Provider == b.Provider
}

// makeRoomForOutgoingCall decides whether a new managed outgoing call may
// proceed, holding or disconnecting a blocking call when policy allows.
func (o *Orchestrator) makeRoomForOutgoingCall(c *call.Call) bool {
	if !o.hasMaximumManagedLiveCalls(c) {
		return true
	}
	live := o.first(managedExcept(c), call.LiveStates...)
	log := o.callLog(c).WithField("blocking_call_id", live.ID().String())

	if o.hasMaximumManagedOutgoingCalls(c) {
		outgoing := o.first(managedExcept(c), call.OutgoingStates...)
		if c.IsEmergency() && !outgoing.IsEmergency() {
			log.Warn("Disconnecting outgoing call to make room for an emergency call")
			o.disconnectFor(outgoing, call.NewDisconnectCause(call.DisconnectLocal, call.ReasonEmergencyPreempted))
			return true
		}
		if outgoing.State() == call.StateSelectProvider {
			log.Info("Disconnecting orphaned call waiting for an account")
			o.disconnectFor(outgoing, call.NewDisconnectCause(call.DisconnectCanceled, ""))
			return true
		}
		return false
	}

	if o.hasMaximumManagedHoldingCalls(c) {
		if c.IsEmergency() {
			log.Warn("Disconnecting live call to make room for an emergency call")
			o.disconnectFor(live, call.NewDisconnectCause(call.DisconnectLocal, call.ReasonEmergencyPreempted))
			return true
		}
		return false
	}

	// The provider of both calls decides how to reconcile them.
	if sameProvider(live.Account(), c.Account()) {
		return true
	}
	// Admission runs again once an account is chosen.
	if c.Account().IsZero() {
		return true
	}
	if canHold(live) {
		log.Info("Holding live call for new outgoing call")
		o.holdCall(live)
		return true
	}
	if c.IsEmergency() {
		log.Warn("Disconnecting unholdable live call for an emergency call")
		o.disconnectFor(live, call.NewDisconnectCause(call.DisconnectLocal, call.ReasonEmergencyPreempted))
		return true
	}
	return false
}

// isOutgoingCallPermitted applies the self-managed ceilings without changing
// any call. Managed calls go through makeRoomForOutgoingCall instead.
func (o *Orchestrator) isOutgoingCallPermitted(c *call.Call, acct call.Account) bool {
	if o.hasEmergencyCall() {
		return false
	}
	if c.HandoverSource() != 0 {
		return true
	}
	active := o.first(callFilter{exclude: c}, call.StateActive)
	return !o.hasMaximumSelfManagedCalls(c, acct.Handle) && (active == nil || canHold(active))
}

// isIncomingCallPermitted applies the self-managed incoming ceilings.
func (o *Orchestrator) isIncomingCallPermitted(c *call.Call, acct call.Account) bool {
	return !o.hasEmergencyCall() &&
		!o.hasMaximumSelfManagedRingingCalls(c, acct.Handle) &&
		!o.hasMaximumSelfManagedCalls(c, acct.Handle)
}

// shouldSilenceInsteadOfReject is true when policy allows it and every
// ringing call blocking c comes from another provider.
func (o *Orchestrator) shouldSilenceInsteadOfReject(c *call.Call) bool {
	if !o.cfg.SilenceWhenDifferentProvider {
		return false
	}
	blocking := false
	for _, other := range o.live {
		if other == c || other.State() != call.StateRinging || other.Parent() != 0 || other.IsExternal() {
			continue
		}
		if other.Account().Provider == c.Account().Provider {
			return false
		}
		blocking = true
	}
	return blocking
}

// computeCanAddCall is false while an emergency call exists, when any call
// disables adding, or when the top-level ceiling is reached.
func (o *Orchestrator) computeCanAddCall() bool {
	topLevel := 0
	for _, c := range o.live {
		if c.IsEmergency() {
			return false
		}
		if _, ok := c.Extra(ExtraDisableAddCall); ok {
			return false
		}
		if c.IsExternal() {
			continue
		}
		if c.Parent() == 0 {
			topLevel++
		}
		if topLevel >= MaxTopLevelCalls {
			return false
		}
	}
	return true
}

func (o *Orchestrator) updateCanAddCall() {
	v := o.computeCanAddCall()
	if v == o.canAddCall {
		return
	}
	o.canAddCall = v
	o.fanOut(func(l Listener) { l.OnCanAddCallChanged(v) })
}

func (o *Orchestrator) denyAdmission(c *call.Call, reason string) {
	o.callLog(c).WithField("reason", reason).Warn("Admission denied")
	o.incCounter("admission_denied", map[string]string{
		"direction": c.Direction().String(),
		"reason":    reason,
	})
	o.notifier.Notify(c.ID(), EventAdmissionDenied, map[string]interface{}{"reason": reason})
}
