package orchestrator

import (
	"context"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/filter"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

// IncomingRequest describes a call a provider reports as arriving.
type IncomingRequest struct {
	Account           call.AccountHandle
	Handle            string
	CallerDisplayName string
	VideoState        call.VideoState
	Extras            map[string]string
}

// ProcessIncomingCall asks the provider to create the incoming connection.
// Once it succeeds the call is filtered and admitted or turned away; the
// outcome is reported to listeners.
func (o *Orchestrator) ProcessIncomingCall(ctx context.Context, req IncomingRequest) (call.Info, error) {
	var (
		info call.Info
		err  error
	)
	if doErr := o.do(ctx, func() { info, err = o.processIncoming(req) }); doErr != nil {
		return call.Info{}, doErr
	}
	return info, err
}

func (o *Orchestrator) processIncoming(req IncomingRequest) (call.Info, error) {
	acct, err := o.accounts.Get(req.Account)
	if err != nil {
		return call.Info{}, err
	}
	b := o.bindings[req.Account.Provider]
	if b == nil {
		return call.Info{}, errors.New(errors.ErrInvalidState, "no binding for provider").
			WithContext("provider", req.Account.Provider)
	}

	c := o.newCall(call.Params{
		Direction:             call.DirectionIncoming,
		Handle:                req.Handle,
		CallerDisplayName:     req.CallerDisplayName,
		Account:               req.Account,
		SelfManaged:           acct.SelfManaged,
		Emergency:             false,
		VideoCallingSupported: acct.SupportsVideo,
		VideoState:            req.VideoState,
		Extras:                req.Extras,
	})
	c.SetAttempt(call.NewCreateAttempt([]call.AccountHandle{req.Account}, nil))
	c.Attempt().Next()

	o.callLog(c).WithField("handle", req.Handle).Info("Processing incoming call")
	creq := requestFor(c)
	o.request(func() { b.CreateConnection(creq) })
	return c.Info(), nil
}

// startFiltering runs the filter pipeline off the orchestrator goroutine
// and posts the verdict back.
func (o *Orchestrator) startFiltering(c *call.Call) {
	if o.filters == nil {
		o.completeIncoming(c, filter.Allow())
		return
	}

	id := c.ID()
	req := filter.Request{
		CallID:            id.String(),
		Handle:            c.Handle(),
		CallerDisplayName: c.CallerDisplayName(),
		Provider:          c.Account().Provider,
		AccountID:         c.Account().ID,
	}
	timeout := o.cfg.FilterTimeout
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, timeout)
		defer cancel()
		res := o.filters.Run(ctx, req)
		o.post(func() {
			c, ok := o.arena.Get(id)
			if !ok || o.isLive(c) || !c.IsAlive() {
				return
			}
			o.completeIncoming(c, res)
		})
	}()
}

// completeIncoming applies the filter verdict and admission policy.
func (o *Orchestrator) completeIncoming(c *call.Call, res filter.Result) {
	log := o.callLog(c)
	if !res.Log {
		o.skipLog[c.ID()] = struct{}{}
	}

	if res.Block {
		log.WithFields(map[string]interface{}{
			"filter": res.Filter,
			"reason": res.Reason,
		}).Info("Incoming call blocked")
		if res.Notify {
			o.notifier.Notify(c.ID(), EventCallBlocked, map[string]interface{}{
				"handle": c.Handle(),
				"filter": res.Filter,
				"reason": res.Reason,
			})
		}
		o.rejectIncoming(c, call.NewDisconnectCause(call.DisconnectRejected, call.ReasonBlocked))
		return
	}

	acct, err := o.accounts.Get(c.Account())
	if err != nil {
		log.WithError(err).Warn("Account vanished before incoming call was admitted")
		o.rejectIncoming(c, call.NewDisconnectCause(call.DisconnectError, call.ReasonAccountMissing))
		return
	}

	if acct.SelfManaged {
		if !o.isIncomingCallPermitted(c, acct) {
			reason := call.ReasonNotPermitted
			if o.hasEmergencyCall() {
				reason = call.ReasonEmergencyInProgress
			}
			o.denyAdmission(c, reason)
			o.rejectIncoming(c, call.NewDisconnectCause(call.DisconnectRejected, reason))
			return
		}
	} else if o.hasMaximumManagedRingingCalls(c) {
		if o.shouldSilenceInsteadOfReject(c) {
			log.Info("Silencing incoming call, ringing ceiling reached")
			c.SetSilenced(true)
			if b := o.binding(c); b != nil {
				id := c.ID()
				o.request(func() { b.Silence(id) })
			}
			o.notifier.Notify(c.ID(), EventCallSilenced, map[string]interface{}{"handle": c.Handle()})
			return
		}
		o.denyAdmission(c, call.ReasonNoRoom)
		o.rejectIncoming(c, call.NewDisconnectCause(call.DisconnectMissed, call.ReasonNoRoom))
		return
	} else if o.hasMaximumManagedDialingCalls(c) {
		o.denyAdmission(c, call.ReasonNoRoom)
		o.rejectIncoming(c, call.NewDisconnectCause(call.DisconnectMissed, call.ReasonNoRoom))
		return
	}

	o.addCall(c)
}

func (o *Orchestrator) rejectIncoming(c *call.Call, cause call.DisconnectCause) {
	if b := o.binding(c); b != nil {
		id := c.ID()
		o.request(func() { b.Reject(id, "") })
	}
	c.SetOverrideDisconnectCause(cause)
	c.SetDisconnectCause(cause)
	o.setCallState(c, call.StateDisconnected, "incoming call turned away")
}

// ShouldShowSystemIncomingCallUI reports whether a self-managed ringing call
// needs the system UI because calls on other accounts exist.
func (o *Orchestrator) ShouldShowSystemIncomingCallUI(ctx context.Context, id call.ID) (bool, error) {
	var (
		show bool
		err  error
	)
	if doErr := o.do(ctx, func() {
		var c *call.Call
		if c, err = o.arena.Lookup(id); err != nil {
			return
		}
		show = c.IsSelfManaged() && c.IsIncoming() && c.State() == call.StateRinging &&
			o.hasCallsForOtherAccount(c)
	}); doErr != nil {
		return false, doErr
	}
	return show, err
}

func (o *Orchestrator) hasCallsForOtherAccount(c *call.Call) bool {
	for _, other := range o.live {
		if other != c && other.Parent() == 0 && !other.IsExternal() && other.Account() != c.Account() {
			return true
		}
	}
	return false
}
