package orchestrator

import (
	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
)

// newCall creates a call in the arena. It is not in the registry until addCall.
func (o *Orchestrator) newCall(p call.Params) *call.Call {
	p.Clock = o.clock
	c := call.New(p)
	c.AddListener(callWatcher{o})
	o.arena.Put(c)
	return c
}

func (o *Orchestrator) addCall(c *call.Call) {
	if o.isLive(c) {
		return
	}
	o.live = append(o.live, c)
	o.callLog(c).WithFields(map[string]interface{}{
		"direction": c.Direction().String(),
		"state":     c.State().String(),
	}).Info("Call added")

	info := c.Info()
	o.fanOut(func(l Listener) { l.OnCallAdded(info) })
	o.refresh()
}

func (o *Orchestrator) removeLive(c *call.Call) bool {
	for i, l := range o.live {
		if l == c {
			o.live = append(o.live[:i], o.live[i+1:]...)
			return true
		}
	}
	return false
}

// setCallState is the single path every state change takes.
func (o *Orchestrator) setCallState(c *call.Call, state call.State, reason string) {
	old := c.State()
	if old == state {
		return
	}
	if !c.SetState(state) {
		return
	}

	o.callLog(c).WithFields(map[string]interface{}{
		"old_state": old.String(),
		"new_state": state.String(),
		"reason":    reason,
	}).Info("Call state changed")

	o.handleHandoverTransition(c, old, state)

	if o.isLive(c) {
		info := c.Info()
		o.fanOut(func(l Listener) { l.OnCallStateChanged(info, old, state) })
		o.refresh()
	}

	if state == call.StateDisconnected {
		o.finishCall(c)
	}
}

// finishCall removes a disconnected call once its side effects have run.
func (o *Orchestrator) finishCall(c *call.Call) {
	if t, ok := o.pending[c.ID()]; ok {
		t.Stop()
		delete(o.pending, c.ID())
	}
	_ = o.arena.SetParent(c, 0)

	o.logCall(c)
	wasLive := o.removeLive(c)
	o.arena.Delete(c.ID())

	if wasLive {
		info := c.Info()
		o.callLog(c).WithField("cause", info.DisconnectCause.String()).Info("Call removed")
		o.fanOut(func(l Listener) { l.OnCallRemoved(info) })
		o.refresh()
	}
}

// refresh re-derives everything that depends on the registry.
func (o *Orchestrator) refresh() {
	o.updateCanAddCall()
	o.updateForeground()
	o.updateAudio()
}

func (o *Orchestrator) logCall(c *call.Call) {
	if _, skip := o.skipLog[c.ID()]; skip {
		delete(o.skipLog, c.ID())
		return
	}
	if c.IsExternal() || c.IsConference() {
		return
	}
	cause := c.DisconnectCause()
	var logType string
	switch {
	case cause.Reason == call.ReasonBlocked:
		logType = LogTypeBlocked
	case c.IsOutgoing():
		logType = LogTypeOutgoing
	case cause.Code == call.DisconnectRejected:
		logType = LogTypeRejected
	case cause.Code == call.DisconnectMissed || c.ConnectTime().IsZero():
		logType = LogTypeMissed
	default:
		logType = LogTypeIncoming
	}
	o.notifier.Notify(c.ID(), EventCallLogged, map[string]interface{}{
		"type":     logType,
		"handle":   c.Handle(),
		"account":  c.Account().String(),
		"duration": c.Age().Seconds(),
		"cause":    cause.String(),
	})
}

// foregroundCall picks ringing over dialing, pulling and active, over
// on-hold. Among equals the most recently added wins.
func (o *Orchestrator) foregroundCall() *call.Call {
	var (
		best     *call.Call
		bestRank int
	)
	for _, c := range o.live {
		if c.Parent() != 0 || c.IsExternal() {
			continue
		}
		rank := 0
		switch c.State() {
		case call.StateRinging:
			rank = 3
		case call.StateDialing, call.StatePulling, call.StateActive:
			rank = 2
		case call.StateOnHold:
			rank = 1
		}
		if rank > 0 && rank >= bestRank {
			best, bestRank = c, rank
		}
	}
	return best
}

func (o *Orchestrator) updateForeground() {
	var id call.ID
	if c := o.foregroundCall(); c != nil {
		id = c.ID()
	}
	if id == o.foreground {
		return
	}
	old := o.foreground
	o.foreground = id
	o.fanOut(func(l Listener) { l.OnForegroundCallChanged(old, id) })
}

func (o *Orchestrator) updateAudio() {
	if o.audio == nil {
		return
	}

	focus := audio.FocusNone
	video := false
	for _, c := range o.live {
		if c.IsExternal() {
			continue
		}
		if c.IsVideo() && c.IsAlive() {
			video = true
		}
		if c.Parent() != 0 {
			continue
		}
		switch c.State() {
		case call.StateActive, call.StateDialing, call.StatePulling, call.StateOnHold:
			focus = audio.FocusActive
		case call.StateRinging:
			if focus == audio.FocusNone {
				focus = audio.FocusRinging
			}
		}
	}

	routes := audio.RouteAll
	var fgID call.ID
	if fg := o.foregroundCall(); fg != nil {
		routes = fg.SupportedAudioRoutes()
		fgID = fg.ID()
	}

	if video != o.videoCall {
		o.videoCall = video
		o.audio.SetVideoCall(video)
	}
	if routes != o.routes {
		o.routes = routes
		o.audio.SetSupportedRoutes(routes)
	}
	focusChanged := focus != o.focus
	if focusChanged {
		o.focus = focus
		o.audio.SwitchFocus(focus)
	}

	// A new foreground call under unchanged focus still needs the current
	// configuration pushed to it.
	if fgID != o.audioCall {
		if !focusChanged && o.audioCall != 0 && fgID != 0 {
			o.republish = true
		}
		o.audioCall = fgID
	}
	if o.republish {
		o.republish = false
		o.audio.Republish()
	}
}

// callWatcher relays call attribute changes into the registry.
type callWatcher struct {
	o *Orchestrator
}

func (w callWatcher) OnCallChanged(c *call.Call, change call.Change) {
	o := w.o
	if !o.isLive(c) {
		return
	}
	info := c.Info()
	o.fanOut(func(l Listener) { l.OnCallUpdated(info, change) })

	switch change {
	case call.ChangeExternal, call.ChangeExtras, call.ChangeParent, call.ChangeChildren:
		o.updateCanAddCall()
		o.updateForeground()
		o.updateAudio()
	case call.ChangeVideoState, call.ChangeSupportedAudioRoutes:
		o.updateAudio()
	}
}

// disconnectFor ends c. A cause with a reason is kept no matter what the
// provider later reports.
func (o *Orchestrator) disconnectFor(c *call.Call, cause call.DisconnectCause) {
	if cause.Reason != "" {
		c.SetOverrideDisconnectCause(cause)
	}
	if t, ok := o.pending[c.ID()]; ok {
		t.Stop()
		delete(o.pending, c.ID())
	}

	b := o.binding(c)
	if c.ConnectionID() == "" || b == nil {
		if b != nil && c.State().In(call.StateConnecting, call.StateNew) {
			id := c.ID()
			o.request(func() { b.Abort(id) })
		}
		c.SetDisconnectCause(cause)
		o.setCallState(c, call.StateDisconnected, "local disconnect")
		return
	}

	if c.State() == call.StateDisconnecting {
		return
	}
	c.SetLocallyDisconnecting(true)
	o.setCallState(c, call.StateDisconnecting, "local disconnect")
	id := c.ID()
	o.request(func() { b.Disconnect(id) })
}

func (o *Orchestrator) holdCall(c *call.Call) {
	if b := o.binding(c); b != nil {
		id := c.ID()
		o.request(func() { b.Hold(id) })
	}
}
