package orchestrator

import (
	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
)

// Listener observes the registry. Methods run on the orchestrator goroutine
// in registration order; they must not block or call back into the
// Orchestrator's synchronous methods.
type Listener interface {
	OnCallAdded(c call.Info)
	OnCallRemoved(c call.Info)
	OnCallStateChanged(c call.Info, old, new call.State)
	OnCallUpdated(c call.Info, change call.Change)
	OnAudioStateChanged(old, new audio.Config)
	OnForegroundCallChanged(old, new call.ID)
	OnCanAddCallChanged(canAddCall bool)
}

// BaseListener implements Listener with no-ops, for embedding.
type BaseListener struct{}

func (BaseListener) OnCallAdded(call.Info)                                {}
func (BaseListener) OnCallRemoved(call.Info)                              {}
func (BaseListener) OnCallStateChanged(call.Info, call.State, call.State) {}
func (BaseListener) OnCallUpdated(call.Info, call.Change)                 {}
func (BaseListener) OnAudioStateChanged(audio.Config, audio.Config)       {}
func (BaseListener) OnForegroundCallChanged(call.ID, call.ID)             {}
func (BaseListener) OnCanAddCallChanged(bool)                             {}

func (o *Orchestrator) fanOut(fn func(l Listener)) {
	for _, l := range o.listeners {
		fn(l)
	}
}
