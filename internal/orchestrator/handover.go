package orchestrator

import (
	"context"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

// HandoverRequest moves a call's session to another account.
type HandoverRequest struct {
	Source     call.ID
	Account    call.AccountHandle
	VideoState call.VideoState
	Extras     map[string]string
}

// RequestHandover places the destination call of a handover. The source
// keeps running until the destination goes active.
func (o *Orchestrator) RequestHandover(ctx context.Context, req HandoverRequest) (call.Info, error) {
	var (
		info call.Info
		err  error
	)
	if doErr := o.do(ctx, func() { info, err = o.requestHandover(req) }); doErr != nil {
		return call.Info{}, doErr
	}
	return info, err
}

func (o *Orchestrator) requestHandover(req HandoverRequest) (call.Info, error) {
	src, err := o.lookup(req.Source)
	if err != nil {
		return call.Info{}, err
	}
	if src.HandoverSource() != 0 || src.HandoverDestination() != 0 ||
		src.HandoverState().Started() || src.HandoverState() == call.HandoverAccepted {
		return call.Info{}, errors.New(errors.ErrHandoverInProgress, "call is already part of a handover").
			WithContext("call_id", src.ID().String())
	}
	if o.hasEmergencyCall() {
		return call.Info{}, errors.New(errors.ErrEmergencyInProgress, "no handover during an emergency call")
	}
	if req.Account == src.Account() {
		return call.Info{}, errors.New(errors.ErrInvalidArgument, "handover needs a different account")
	}

	srcAcct, err := o.accounts.Get(src.Account())
	if err != nil {
		return call.Info{}, err
	}
	dstAcct, err := o.accounts.Get(req.Account)
	if err != nil {
		return call.Info{}, err
	}
	if !srcAcct.SupportsHandoverFrom || !dstAcct.SupportsHandoverTo {
		return call.Info{}, errors.New(errors.ErrHandoverNotSupported, "accounts do not support handover").
			WithContext("from", src.Account().String()).
			WithContext("to", req.Account.String())
	}

	dst := o.newCall(call.Params{
		Direction:             call.DirectionOutgoing,
		Handle:                src.Handle(),
		CallerDisplayName:     src.CallerDisplayName(),
		Account:               req.Account,
		SelfManaged:           dstAcct.SelfManaged,
		VideoCallingSupported: dstAcct.SupportsVideo,
		VideoState:            req.VideoState,
		Extras:                req.Extras,
	})
	dst.SetHandoverSource(src.ID())

	if dstAcct.SelfManaged {
		if err := o.admitOutgoing(dst, dstAcct); err != nil {
			o.arena.Delete(dst.ID())
			return call.Info{}, err
		}
	}

	// A finished earlier handover resets to none before starting over.
	src.SetHandoverState(call.HandoverNone)
	src.SetHandoverDestination(dst.ID())
	src.SetHandoverState(call.HandoverFromStarted)
	dst.SetHandoverState(call.HandoverToStarted)

	o.callLog(src).WithFields(map[string]interface{}{
		"destination_call_id": dst.ID().String(),
		"to":                  req.Account.String(),
	}).Info("Handover started")
	o.incCounter("handovers", map[string]string{"outcome": "started"})

	o.setCallState(dst, call.StateConnecting, "handover")
	o.addCall(dst)
	o.placeCall(dst, []call.AccountHandle{req.Account})
	return dst.Info(), nil
}

// handleHandoverTransition advances the handover a call takes part in after
// its state changed from old to state.
func (o *Orchestrator) handleHandoverTransition(c *call.Call, old, state call.State) {
	if srcID := c.HandoverSource(); srcID != 0 {
		o.destinationChanged(c, srcID, state)
	}
	if dstID := c.HandoverDestination(); dstID != 0 && state == call.StateDisconnected {
		o.sourceDisconnected(c, dstID)
	}
}

func (o *Orchestrator) destinationChanged(dst *call.Call, srcID call.ID, state call.State) {
	if dst.HandoverState() != call.HandoverToStarted {
		return
	}
	src, _ := o.arena.Get(srcID)

	switch state {
	case call.StateActive:
		dst.SetHandoverState(call.HandoverAccepted)
		o.republish = true
		if src == nil {
			// Source already gone; nothing left to wait for.
			dst.SetHandoverState(call.HandoverComplete)
			dst.ClearHandover()
			o.handoverCompleted(dst, srcID)
		} else {
			src.SetHandoverState(call.HandoverAccepted)
			o.callLog(dst).Info("Handover accepted, disconnecting source")
			o.disconnectFor(src, call.NewDisconnectCause(call.DisconnectLocal, call.ReasonHandoverComplete))
		}
		if dst.IsSelfManaged() {
			o.disconnectOtherCalls(dst, src)
		}

	case call.StateDisconnected:
		dst.SetHandoverState(call.HandoverFailed)
		dst.ClearHandover()
		if src != nil {
			src.SetHandoverState(call.HandoverFailed)
			src.ClearHandover()
			o.notifier.Notify(src.ID(), EventHandoverFailed, map[string]interface{}{
				"destination_call_id": dst.ID().String(),
			})
		}
		o.notifier.Notify(dst.ID(), EventHandoverFailed, map[string]interface{}{
			"source_call_id": srcID.String(),
		})
		o.callLog(dst).Warn("Handover failed, destination disconnected")
		o.incCounter("handovers", map[string]string{"outcome": "failed"})
	}
}

func (o *Orchestrator) sourceDisconnected(src *call.Call, dstID call.ID) {
	dst, _ := o.arena.Get(dstID)

	switch src.HandoverState() {
	case call.HandoverAccepted:
		src.SetHandoverState(call.HandoverComplete)
		src.ClearHandover()
		if dst != nil {
			dst.SetHandoverState(call.HandoverComplete)
			dst.ClearHandover()
		}
		o.handoverCompleted(dst, src.ID())
	case call.HandoverFromStarted:
		o.callLog(src).Warn("Handover source disconnected before destination answered")
		src.ClearHandover()
		if dst != nil {
			o.notifier.Notify(dst.ID(), EventHandoverSourceDisconnected, map[string]interface{}{
				"source_call_id": src.ID().String(),
			})
		}
	}
}

func (o *Orchestrator) handoverCompleted(dst *call.Call, srcID call.ID) {
	id := call.ID(0)
	if dst != nil {
		id = dst.ID()
	}
	o.notifier.Notify(id, EventHandoverComplete, map[string]interface{}{
		"source_call_id": srcID.String(),
	})
	o.log.WithFields(map[string]interface{}{
		"source_call_id":      srcID.String(),
		"destination_call_id": id.String(),
	}).Info("Handover complete")
	o.incCounter("handovers", map[string]string{"outcome": "complete"})
}
