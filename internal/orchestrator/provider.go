package orchestrator

import (
	"context"
	"sort"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
)

// Provider callbacks. Bindings call these from any goroutine; each one is
// queued behind whatever the orchestrator is doing.

// HandleCreateSuccess records the connection a provider created for a call.
func (o *Orchestrator) HandleCreateSuccess(ctx context.Context, id call.ID, snap ConnectionSnapshot) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		if !c.IsAlive() {
			return errors.New(errors.ErrInvalidState, "call already ended")
		}
		if a := c.Attempt(); a != nil {
			a.MarkComplete()
		}
		c.SetConnection(c.Account().Provider, snap.ConnectionID)
		applySnapshot(c, snap)

		if c.IsIncoming() && !o.isLive(c) {
			state := snap.State
			if state == call.StateNew {
				state = call.StateRinging
			}
			o.setCallState(c, state, "incoming connection created")
			o.startFiltering(c)
			return nil
		}

		state := snap.State
		if state == call.StateNew || state == call.StateConnecting {
			state = call.StateDialing
		}
		o.setCallState(c, state, "connection created")
		return nil
	})
}

// HandleCreateFailure ends a call whose connection could not be created,
// unless an emergency call has another candidate account to try.
func (o *Orchestrator) HandleCreateFailure(ctx context.Context, id call.ID, cause call.DisconnectCause) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		o.createFailed(c, cause)
		return nil
	})
}

func (o *Orchestrator) createFailed(c *call.Call, cause call.DisconnectCause) {
	if !c.IsAlive() {
		return
	}
	o.callLog(c).WithField("cause", cause.String()).Warn("Connection creation failed")
	if c.IsOutgoing() && c.IsEmergency() && c.Attempt() != nil && c.Attempt().HasMore() {
		c.ClearConnection()
		o.tryNextCandidate(c, cause)
		return
	}
	c.SetDisconnectCause(cause)
	o.setCallState(c, call.StateDisconnected, "create failed")
}

// HandleStateChanged applies a provider-reported state. Any state may follow
// any other.
func (o *Orchestrator) HandleStateChanged(ctx context.Context, id call.ID, state call.State) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		o.setCallState(c, state, "provider")
		return nil
	})
}

// HandleDisconnected records the provider's cause and disconnects the call.
func (o *Orchestrator) HandleDisconnected(ctx context.Context, id call.ID, cause call.DisconnectCause) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		if !c.IsAlive() {
			return nil
		}
		c.SetDisconnectCause(cause)
		o.setCallState(c, call.StateDisconnected, "provider")
		return nil
	})
}

func (o *Orchestrator) HandleCapabilitiesChanged(ctx context.Context, id call.ID, caps call.Capabilities) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		c.SetConnectionCapabilities(caps, false)
		return nil
	})
}

func (o *Orchestrator) HandlePropertiesChanged(ctx context.Context, id call.ID, props call.Properties) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		c.SetConnectionProperties(props)
		return nil
	})
}

func (o *Orchestrator) HandleVideoStateChanged(ctx context.Context, id call.ID, v call.VideoState) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		c.SetVideoState(v)
		return nil
	})
}

// HandleExtrasChanged merges extras; keys mapped to "" are removed.
func (o *Orchestrator) HandleExtrasChanged(ctx context.Context, id call.ID, extras map[string]string) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		put := make(map[string]string, len(extras))
		var remove []string
		for k, v := range extras {
			if v == "" {
				remove = append(remove, k)
			} else {
				put[k] = v
			}
		}
		c.PutExtras(put)
		c.RemoveExtras(remove...)
		return nil
	})
}

func (o *Orchestrator) HandleCallerInfoChanged(ctx context.Context, id call.ID, handle, displayName string) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		if handle != "" {
			c.SetHandle(handle)
		}
		c.SetCallerDisplayName(displayName)
		return nil
	})
}

// HandleAudioRoutesChanged narrows the routes the call may use. Zero means all.
func (o *Orchestrator) HandleAudioRoutesChanged(ctx context.Context, id call.ID, routes audio.RouteMask) error {
	return o.withCall(ctx, id, func(c *call.Call) error {
		c.SetSupportedAudioRoutes(routes)
		return nil
	})
}

// HandleParentChanged links child under parent, or detaches it when parent is zero.
func (o *Orchestrator) HandleParentChanged(ctx context.Context, child, parent call.ID) error {
	return o.withCall(ctx, child, func(c *call.Call) error {
		return o.arena.SetParent(c, parent)
	})
}

// AddConferenceCall registers a conference the provider created on its own.
func (o *Orchestrator) AddConferenceCall(ctx context.Context, account call.AccountHandle, snap ConnectionSnapshot) (call.Info, error) {
	var (
		info call.Info
		err  error
	)
	if doErr := o.do(ctx, func() {
		var acct call.Account
		if acct, err = o.accounts.Get(account); err != nil {
			return
		}
		c := o.newCall(call.Params{
			Direction:             call.DirectionUnknown,
			Account:               account,
			SelfManaged:           acct.SelfManaged,
			Conference:            true,
			VideoCallingSupported: acct.SupportsVideo,
		})
		c.SetConnection(account.Provider, snap.ConnectionID)
		applySnapshot(c, snap)
		state := snap.State
		if state == call.StateNew {
			state = call.StateActive
		}
		o.setCallState(c, state, "conference added")
		o.addCall(c)
		info = c.Info()
	}); doErr != nil {
		return call.Info{}, doErr
	}
	return info, err
}

// HandleBindingDied disconnects every call on provider. Calls still being
// created are treated as failed creates.
func (o *Orchestrator) HandleBindingDied(ctx context.Context, provider string) error {
	return o.do(ctx, func() {
		delete(o.bindings, provider)

		var owned []*call.Call
		o.arena.Each(func(c *call.Call) {
			if c.Account().Provider == provider {
				owned = append(owned, c)
			}
		})
		sort.Slice(owned, func(i, j int) bool { return owned[i].ID() < owned[j].ID() })

		o.log.WithFields(map[string]interface{}{
			"provider": provider,
			"calls":    len(owned),
		}).Warn("Provider binding died")

		cause := call.NewDisconnectCause(call.DisconnectError, call.ReasonBindingDied)
		for _, c := range owned {
			if !c.IsAlive() {
				continue
			}
			if c.ConnectionID() == "" && c.Attempt() != nil && !c.Attempt().IsComplete() {
				o.createFailed(c, cause)
				continue
			}
			c.SetDisconnectCause(cause)
			o.setCallState(c, call.StateDisconnected, "binding died")
		}
	})
}

// withCall runs fn against a call known to the arena, on the orchestrator goroutine.
func (o *Orchestrator) withCall(ctx context.Context, id call.ID, fn func(c *call.Call) error) error {
	var err error
	if doErr := o.do(ctx, func() {
		var c *call.Call
		if c, err = o.arena.Lookup(id); err != nil {
			return
		}
		err = fn(c)
	}); doErr != nil {
		return doErr
	}
	return err
}

func applySnapshot(c *call.Call, snap ConnectionSnapshot) {
	if snap.Handle != "" {
		c.SetHandle(snap.Handle)
	}
	if snap.CallerDisplayName != "" {
		c.SetCallerDisplayName(snap.CallerDisplayName)
	}
	c.SetConnectionCapabilities(snap.Capabilities, false)
	c.SetConnectionProperties(snap.Properties)
	c.SetVideoState(snap.VideoState)
	c.SetSupportedAudioRoutes(snap.SupportedAudioRoutes)
	if len(snap.Extras) > 0 {
		c.PutExtras(snap.Extras)
	}
}
