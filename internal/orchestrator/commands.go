package orchestrator

import (
	"context"
	"strings"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

const dtmfDigits = "0123456789*#,;ABCD"

// command runs fn against a registry call and returns its error.
func (o *Orchestrator) command(ctx context.Context, id call.ID, fn func(c *call.Call, b Binding) error) error {
	var err error
	if doErr := o.do(ctx, func() {
		var c *call.Call
		if c, err = o.lookup(id); err != nil {
			return
		}
		err = fn(c, o.binding(c))
	}); doErr != nil {
		return doErr
	}
	return err
}

func invalidState(c *call.Call, op string) error {
	return errors.New(errors.ErrInvalidState, op+" not allowed in this state").
		WithContext("call_id", c.ID().String()).
		WithContext("state", c.State().String())
}

func noBinding(c *call.Call) error {
	return errors.New(errors.ErrInvalidState, "no binding for provider").
		WithContext("provider", c.Account().Provider)
}

func missingCapability(c *call.Call, capability call.Capabilities) error {
	return errors.New(errors.ErrCapabilityMissing, "call lacks capability").
		WithContext("call_id", c.ID().String()).
		WithContext("capability", capability.String())
}

// Answer answers a ringing call, first making room among the calls already
// in progress.
func (o *Orchestrator) Answer(ctx context.Context, id call.ID, video call.VideoState) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if c.State() != call.StateRinging {
			return invalidState(c, "answer")
		}
		if b == nil {
			return noBinding(c)
		}

		if fg := o.activeOrDialingCall(c); fg != nil {
			log := o.callLog(c).WithField("foreground_call_id", fg.ID().String())
			switch {
			case fg.Account() != c.Account() &&
				(c.IsSelfManaged() != fg.IsSelfManaged() || c.IsSelfManaged()):
				log.Info("Answering across providers, disconnecting other providers' calls")
				o.disconnectOtherCalls(c, nil)
			case !fg.Can(call.CapHold):
				if !sameProvider(fg.Account(), c.Account()) {
					log.Info("Disconnecting foreground call that cannot be held")
					o.disconnectFor(fg, call.NewDisconnectCause(call.DisconnectLocal, ""))
				}
			default:
				if held := o.first(callFilter{exclude: c}, call.StateOnHold); held != nil && held != fg {
					o.disconnectFor(held, call.NewDisconnectCause(call.DisconnectLocal, ""))
				}
				o.holdCall(fg)
			}
		}

		if !c.Capabilities().SupportsVideo() {
			video = call.VideoAudioOnly
		}
		o.request(func() { b.Answer(id, video) })
		return nil
	})
}

// activeOrDialingCall is the most recent top-level call carrying audio,
// other than exclude.
func (o *Orchestrator) activeOrDialingCall(exclude *call.Call) *call.Call {
	var found *call.Call
	for _, c := range o.live {
		if (callFilter{exclude: exclude}).match(c) &&
			c.State().In(call.StateActive, call.StateDialing, call.StatePulling) {
			found = c
		}
	}
	return found
}

// disconnectOtherCalls ends every top-level call on an account other than
// keep's, marking each with a user-facing error cause.
func (o *Orchestrator) disconnectOtherCalls(keep *call.Call, spare *call.Call) {
	var victims []*call.Call
	for _, c := range o.live {
		if c == keep || c == spare || c.Parent() != 0 || c.Account() == keep.Account() {
			continue
		}
		victims = append(victims, c)
	}
	for _, c := range victims {
		o.disconnectFor(c, call.NewDisconnectCause(call.DisconnectError, call.ReasonOtherProviderCall))
	}
}

// Reject declines a ringing call.
func (o *Orchestrator) Reject(ctx context.Context, id call.ID, message string) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if c.State() != call.StateRinging {
			return invalidState(c, "reject")
		}
		cause := call.NewDisconnectCause(call.DisconnectRejected, "")
		c.SetOverrideDisconnectCause(cause)
		if b == nil {
			c.SetDisconnectCause(cause)
			o.setCallState(c, call.StateDisconnected, "rejected")
			return nil
		}
		o.request(func() { b.Reject(id, message) })
		return nil
	})
}

func (o *Orchestrator) Hold(ctx context.Context, id call.ID) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if c.State() != call.StateActive {
			return invalidState(c, "hold")
		}
		if !c.Can(call.CapHold) {
			return missingCapability(c, call.CapHold)
		}
		o.holdCall(c)
		return nil
	})
}

// Unhold resumes a held call, holding the current active call first.
func (o *Orchestrator) Unhold(ctx context.Context, id call.ID) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if c.State() != call.StateOnHold {
			return invalidState(c, "unhold")
		}
		active := o.first(callFilter{exclude: c}, call.StateActive)
		if active != nil && !active.IsLocallyDisconnecting() {
			if !canHold(active) && !sameProvider(active.Account(), c.Account()) {
				o.disconnectFor(active, call.NewDisconnectCause(call.DisconnectLocal, ""))
			} else {
				o.holdCall(active)
			}
		}
		if b != nil {
			o.request(func() { b.Unhold(id) })
		}
		return nil
	})
}

// Disconnect ends a call. Calls that have not reached their provider end at once.
func (o *Orchestrator) Disconnect(ctx context.Context, id call.ID) error {
	var err error
	if doErr := o.do(ctx, func() {
		var c *call.Call
		if c, err = o.arena.Lookup(id); err != nil {
			return
		}
		if !c.IsAlive() {
			err = invalidState(c, "disconnect")
			return
		}
		o.disconnectFor(c, call.NewDisconnectCause(call.DisconnectLocal, ""))
	}); doErr != nil {
		return doErr
	}
	return err
}

// Conference asks the provider to merge other into c.
func (o *Orchestrator) Conference(ctx context.Context, id, other call.ID) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		oc, err := o.lookup(other)
		if err != nil {
			return err
		}
		if oc == c || !sameProvider(c.Account(), oc.Account()) {
			return errors.New(errors.ErrInvalidArgument, "calls cannot be conferenced").
				WithContext("call_id", c.ID().String()).
				WithContext("other_id", oc.ID().String())
		}
		if !c.Can(call.CapMergeConference) {
			return missingCapability(c, call.CapMergeConference)
		}
		if b == nil {
			return noBinding(c)
		}
		o.request(func() { b.Conference(id, other) })
		return nil
	})
}

// SwapConference toggles the active leg of a two-party conference.
func (o *Orchestrator) SwapConference(ctx context.Context, id call.ID) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if !c.Can(call.CapSwapConference) {
			return missingCapability(c, call.CapSwapConference)
		}
		if b == nil {
			return noBinding(c)
		}
		if err := o.arena.Swap(c); err != nil {
			return err
		}
		o.request(func() { b.SwapConference(id) })
		return nil
	})
}

// SplitFromConference separates a child from its conference.
func (o *Orchestrator) SplitFromConference(ctx context.Context, id call.ID) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if c.Parent() == 0 {
			return invalidState(c, "split")
		}
		if !c.Can(call.CapSeparateFromConference) {
			return missingCapability(c, call.CapSeparateFromConference)
		}
		if b == nil {
			return noBinding(c)
		}
		o.request(func() { b.SplitFromConference(id) })
		return nil
	})
}

func (o *Orchestrator) SendDTMF(ctx context.Context, id call.ID, digit rune) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if !strings.ContainsRune(dtmfDigits, digit) {
			return errors.New(errors.ErrInvalidArgument, "invalid DTMF digit").
				WithContext("digit", string(digit))
		}
		if !c.State().In(call.StateActive, call.StateDialing) {
			return invalidState(c, "dtmf")
		}
		if b != nil {
			o.request(func() { b.PlayDTMF(id, digit) })
		}
		return nil
	})
}

// PullExternalCall brings a call active on another device to this one.
func (o *Orchestrator) PullExternalCall(ctx context.Context, id call.ID) error {
	return o.command(ctx, id, func(c *call.Call, b Binding) error {
		if !c.IsExternal() {
			return invalidState(c, "pull")
		}
		if !c.Can(call.CapCanPullCall) {
			return missingCapability(c, call.CapCanPullCall)
		}
		if o.hasEmergencyCall() {
			return errors.New(errors.ErrEmergencyInProgress, "cannot pull during an emergency call")
		}
		if b != nil {
			o.request(func() { b.Pull(id) })
		}
		return nil
	})
}

// Audio commands

func (o *Orchestrator) audioCommand(ctx context.Context, fn func(a AudioRouter)) error {
	if o.audio == nil {
		return errors.New(errors.ErrInvalidState, "no audio route machine")
	}
	return o.do(ctx, func() { fn(o.audio) })
}

// SetAudioRoute is a user request to move audio to route.
func (o *Orchestrator) SetAudioRoute(ctx context.Context, route audio.Route) error {
	return o.audioCommand(ctx, func(a AudioRouter) { a.UserSwitchRoute(route) })
}

func (o *Orchestrator) SetMute(ctx context.Context, muted bool) error {
	return o.audioCommand(ctx, func(a AudioRouter) { a.SetMute(muted) })
}

func (o *Orchestrator) ToggleMute(ctx context.Context) error {
	return o.audioCommand(ctx, func(a AudioRouter) { a.ToggleMute() })
}

// AudioState is the audio configuration last computed by the route machine.
func (o *Orchestrator) AudioState() (audio.Config, error) {
	if o.audio == nil {
		return audio.Config{}, errors.New(errors.ErrInvalidState, "no audio route machine")
	}
	return o.audio.Config(), nil
}
