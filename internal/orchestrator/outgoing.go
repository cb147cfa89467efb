package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

// OutgoingRequest describes a call the user wants to place.
type OutgoingRequest struct {
	Handle     string
	Account    call.AccountHandle
	VideoState call.VideoState
	Extras     map[string]string
}

// StartOutgoingCall admits and places a new outgoing call. With no account
// and no default, the call waits in select-provider for SelectAccount.
func (o *Orchestrator) StartOutgoingCall(ctx context.Context, req OutgoingRequest) (call.Info, error) {
	var (
		info call.Info
		err  error
	)
	if doErr := o.do(ctx, func() { info, err = o.startOutgoing(req) }); doErr != nil {
		return call.Info{}, doErr
	}
	return info, err
}

func (o *Orchestrator) startOutgoing(req OutgoingRequest) (call.Info, error) {
	if strings.TrimSpace(req.Handle) == "" {
		return call.Info{}, errors.New(errors.ErrInvalidArgument, "outgoing call needs a handle")
	}
	if c := o.reusePendingCall(req.Handle); c != nil {
		o.callLog(c).Info("Reusing call waiting to be disconnected")
		return c.Info(), nil
	}

	emergency := o.isEmergencyNumber(req.Handle)
	handle := req.Account
	if handle.IsZero() {
		handle = o.accounts.Default()
	}

	var (
		acct       call.Account
		candidates []call.AccountHandle
		err        error
	)
	switch {
	case emergency:
		candidates = o.accounts.EmergencyCandidates(handle)
		if len(candidates) == 0 {
			return call.Info{}, errors.New(errors.ErrAccountNotFound, "no emergency capable account")
		}
		handle = candidates[0]
		if acct, err = o.accounts.Get(handle); err != nil {
			return call.Info{}, err
		}
	case !handle.IsZero():
		if acct, err = o.accounts.Get(handle); err != nil {
			return call.Info{}, err
		}
		candidates = []call.AccountHandle{handle}
	}

	c := o.newCall(call.Params{
		Direction:             call.DirectionOutgoing,
		Handle:                req.Handle,
		Account:               handle,
		SelfManaged:           acct.SelfManaged,
		Emergency:             emergency,
		VideoCallingSupported: acct.SupportsVideo,
		VideoState:            req.VideoState,
		Extras:                req.Extras,
	})

	if err := o.admitOutgoing(c, acct); err != nil {
		o.arena.Delete(c.ID())
		return call.Info{}, err
	}

	if handle.IsZero() {
		o.setCallState(c, call.StateSelectProvider, "no account")
		o.addCall(c)
		return c.Info(), nil
	}

	o.setCallState(c, call.StateConnecting, "placing")
	o.addCall(c)
	o.placeCall(c, candidates)
	return c.Info(), nil
}

// admitOutgoing runs admission for the call's scope. It may hold or
// disconnect other calls to make room.
func (o *Orchestrator) admitOutgoing(c *call.Call, acct call.Account) error {
	if acct.SelfManaged {
		if !o.isOutgoingCallPermitted(c, acct) {
			if o.hasEmergencyCall() {
				o.denyAdmission(c, call.ReasonEmergencyInProgress)
				return errors.New(errors.ErrEmergencyInProgress, "emergency call in progress")
			}
			o.denyAdmission(c, call.ReasonNoRoom)
			return errors.New(errors.ErrAdmissionDenied, "self-managed call limit reached")
		}
		if active := o.first(callFilter{exclude: c}, call.StateActive); active != nil &&
			!sameProvider(active.Account(), c.Account()) && c.HandoverSource() == 0 {
			o.holdCall(active)
		}
		return nil
	}

	if !c.IsEmergency() && o.hasMaximumTopLevelCalls(c) {
		o.denyAdmission(c, call.ReasonNoRoom)
		return errors.New(errors.ErrAdmissionDenied, "too many calls")
	}
	if !o.makeRoomForOutgoingCall(c) {
		o.denyAdmission(c, call.ReasonNoRoom)
		return errors.New(errors.ErrAdmissionDenied, "no room for outgoing call").
			WithContext("account", c.Account().String())
	}
	return nil
}

// placeCall starts a create attempt over candidates.
func (o *Orchestrator) placeCall(c *call.Call, candidates []call.AccountHandle) {
	c.SetAttempt(call.NewCreateAttempt(candidates, o.retryCreate))
	o.tryNextCandidate(c, call.NewDisconnectCause(call.DisconnectError, call.ReasonAccountMissing))
}

// retryCreate moves an emergency call whose disconnect was suppressed on to
// the next candidate account.
func (o *Orchestrator) retryCreate(c *call.Call) {
	o.callLog(c).Warn("Retrying emergency call on next candidate account")
	c.ClearConnection()
	c.ClearPendingDisconnectCause()
	o.tryNextCandidate(c, call.NewDisconnectCause(call.DisconnectError, ""))
}

// tryNextCandidate sends a create request for the next candidate, or fails
// the call with lastCause when none is left.
func (o *Orchestrator) tryNextCandidate(c *call.Call, lastCause call.DisconnectCause) {
	attempt := c.Attempt()
	for {
		next, ok := attempt.Next()
		if !ok {
			c.SetDisconnectCause(lastCause)
			o.setCallState(c, call.StateDisconnected, "no candidate left")
			return
		}
		acct, err := o.accounts.Get(next)
		if err != nil {
			o.callLog(c).WithError(err).Warn("Skipping candidate account")
			continue
		}
		c.SetAccount(next, acct.SupportsVideo)

		b := o.bindings[next.Provider]
		if b == nil {
			o.callLog(c).WithField("provider", next.Provider).Warn("No binding for provider")
			lastCause = call.NewDisconnectCause(call.DisconnectError, call.ReasonBindingDied)
			if !c.IsEmergency() {
				c.SetDisconnectCause(lastCause)
				o.setCallState(c, call.StateDisconnected, "no binding")
				return
			}
			continue
		}

		o.setCallState(c, call.StateConnecting, "create connection")
		req := requestFor(c)
		o.request(func() { b.CreateConnection(req) })
		return
	}
}

// SelectAccount resumes a call waiting in select-provider.
func (o *Orchestrator) SelectAccount(ctx context.Context, id call.ID, handle call.AccountHandle) (call.Info, error) {
	var (
		info call.Info
		err  error
	)
	if doErr := o.do(ctx, func() { info, err = o.selectAccount(id, handle) }); doErr != nil {
		return call.Info{}, doErr
	}
	return info, err
}

func (o *Orchestrator) selectAccount(id call.ID, handle call.AccountHandle) (call.Info, error) {
	c, err := o.lookup(id)
	if err != nil {
		return call.Info{}, err
	}
	if c.State() != call.StateSelectProvider {
		return call.Info{}, errors.New(errors.ErrInvalidState, "call is not waiting for an account").
			WithContext("state", c.State().String())
	}
	acct, err := o.accounts.Get(handle)
	if err != nil {
		return call.Info{}, err
	}
	c.SetAccount(handle, acct.SupportsVideo)

	if err := o.admitOutgoing(c, acct); err != nil {
		o.disconnectFor(c, call.NewDisconnectCause(call.DisconnectLocal, call.ReasonNoRoom))
		return call.Info{}, err
	}
	o.placeCall(c, []call.AccountHandle{handle})
	return c.Info(), nil
}

// CancelOutgoingCall disconnects a call that has not reached its provider.
// With a delay the call is parked; placing a call to the same handle before
// the delay runs out reuses it instead.
func (o *Orchestrator) CancelOutgoingCall(ctx context.Context, id call.ID, delay time.Duration) error {
	var err error
	if doErr := o.do(ctx, func() { err = o.cancelOutgoing(id, delay) }); doErr != nil {
		return doErr
	}
	return err
}

func (o *Orchestrator) cancelOutgoing(id call.ID, delay time.Duration) error {
	c, err := o.lookup(id)
	if err != nil {
		return err
	}
	if !c.IsOutgoing() || !c.State().In(call.StateNew, call.StateConnecting, call.StateSelectProvider) {
		return errors.New(errors.ErrInvalidState, "call cannot be cancelled").
			WithContext("state", c.State().String())
	}
	if delay <= 0 {
		o.disconnectFor(c, call.NewDisconnectCause(call.DisconnectCanceled, ""))
		return nil
	}
	if _, ok := o.pending[id]; ok {
		return nil
	}

	o.callLog(c).WithField("delay", delay.String()).Info("Scheduling delayed disconnect")
	o.pending[id] = time.AfterFunc(delay, func() {
		o.post(func() {
			if _, ok := o.pending[id]; !ok {
				return
			}
			delete(o.pending, id)
			if c, ok := o.arena.Get(id); ok {
				o.disconnectFor(c, call.NewDisconnectCause(call.DisconnectCanceled, ""))
			}
		})
	})
	return nil
}

// reusePendingCall takes a parked call to handle out of the pending set.
// Other parked calls are disconnected right away.
func (o *Orchestrator) reusePendingCall(handle string) *call.Call {
	if len(o.pending) == 0 {
		return nil
	}
	var reuse *call.Call
	var others []*call.Call
	for id, t := range o.pending {
		c, ok := o.arena.Get(id)
		if !ok {
			t.Stop()
			delete(o.pending, id)
			continue
		}
		if reuse == nil && c.Handle() == handle {
			t.Stop()
			delete(o.pending, id)
			reuse = c
			continue
		}
		others = append(others, c)
	}
	for _, c := range others {
		o.disconnectFor(c, call.NewDisconnectCause(call.DisconnectCanceled, ""))
	}
	return reuse
}

// MarkCreateTimedOut flags the call's current create attempt as timed out,
// so a later disconnect of an emergency call moves to the next candidate.
func (o *Orchestrator) MarkCreateTimedOut(ctx context.Context, id call.ID) error {
	var err error
	if doErr := o.do(ctx, func() {
		var c *call.Call
		if c, err = o.arena.Lookup(id); err != nil {
			return
		}
		if a := c.Attempt(); a != nil {
			a.MarkTimedOut()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

func (o *Orchestrator) isEmergencyNumber(handle string) bool {
	number := strings.TrimPrefix(strings.TrimSpace(handle), "tel:")
	for _, n := range o.cfg.EmergencyNumbers {
		if number == n {
			return true
		}
	}
	return false
}
