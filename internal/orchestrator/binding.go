package orchestrator

import (
	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
)

// ConnectionRequest asks a provider binding to create a connection for a call.
type ConnectionRequest struct {
	CallID     call.ID
	Account    call.AccountHandle
	Handle     string
	Direction  call.Direction
	VideoState call.VideoState
	Emergency  bool
	Handover   bool
	Extras     map[string]string
}

// ConnectionSnapshot is what a provider reports about a connection it created.
type ConnectionSnapshot struct {
	ConnectionID         string
	State                call.State
	Handle               string
	CallerDisplayName    string
	Capabilities         call.Capabilities
	Properties           call.Properties
	VideoState           call.VideoState
	SupportedAudioRoutes audio.RouteMask
	Extras               map[string]string
}

// Binding is the provider side of a call. Every method is fire-and-forget:
// results come back through the Orchestrator's Handle* callbacks, which may
// be invoked from any goroutine.
type Binding interface {
	CreateConnection(req ConnectionRequest)
	Abort(id call.ID)
	Disconnect(id call.ID)
	Answer(id call.ID, video call.VideoState)
	Reject(id call.ID, message string)
	Silence(id call.ID)
	Hold(id call.ID)
	Unhold(id call.ID)
	PlayDTMF(id call.ID, digit rune)
	Conference(id, other call.ID)
	SplitFromConference(id call.ID)
	SwapConference(id call.ID)
	Pull(id call.ID)
}

func requestFor(c *call.Call) ConnectionRequest {
	return ConnectionRequest{
		CallID:     c.ID(),
		Account:    c.Account(),
		Handle:     c.Handle(),
		Direction:  c.Direction(),
		VideoState: c.VideoState(),
		Emergency:  c.IsEmergency(),
		Handover:   c.HandoverSource() != 0,
		Extras:     c.Extras(),
	}
}
