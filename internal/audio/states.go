package audio

import (
	"context"

	"github.com/looplab/fsm"
)

// Concrete machine states. Each is a route crossed with whether it carries
// audio; bluetooth also has a ringing variant.
const (
	StateActiveEarpiece     = "ActiveEarpiece"
	StateQuiescentEarpiece  = "QuiescentEarpiece"
	StateActiveHeadset      = "ActiveHeadset"
	StateQuiescentHeadset   = "QuiescentHeadset"
	StateActiveSpeaker      = "ActiveSpeaker"
	StateQuiescentSpeaker   = "QuiescentSpeaker"
	StateActiveBluetooth    = "ActiveBluetooth"
	StateRingingBluetooth   = "RingingBluetooth"
	StateQuiescentBluetooth = "QuiescentBluetooth"
)

type stateKind int

const (
	kindQuiescent stateKind = iota
	kindActive
	kindRinging
)

type stateInfo struct {
	route Route
	kind  stateKind
}

var stateTable = map[string]stateInfo{
	StateActiveEarpiece:     {RouteEarpiece, kindActive},
	StateQuiescentEarpiece:  {RouteEarpiece, kindQuiescent},
	StateActiveHeadset:      {RouteHeadset, kindActive},
	StateQuiescentHeadset:   {RouteHeadset, kindQuiescent},
	StateActiveSpeaker:      {RouteSpeaker, kindActive},
	StateQuiescentSpeaker:   {RouteSpeaker, kindQuiescent},
	StateActiveBluetooth:    {RouteBluetooth, kindActive},
	StateRingingBluetooth:   {RouteBluetooth, kindRinging},
	StateQuiescentBluetooth: {RouteBluetooth, kindQuiescent},
}

var allStates = []string{
	StateActiveEarpiece, StateQuiescentEarpiece,
	StateActiveHeadset, StateQuiescentHeadset,
	StateActiveSpeaker, StateQuiescentSpeaker,
	StateActiveBluetooth, StateRingingBluetooth, StateQuiescentBluetooth,
}

// stateFor names the state that carries route under the given focus.
func stateFor(route Route, focus Focus) string {
	switch route {
	case RouteBluetooth:
		switch focus {
		case FocusActive:
			return StateActiveBluetooth
		case FocusRinging:
			return StateRingingBluetooth
		}
		return StateQuiescentBluetooth
	case RouteHeadset:
		if focus == FocusNone {
			return StateQuiescentHeadset
		}
		return StateActiveHeadset
	case RouteSpeaker:
		if focus == FocusNone {
			return StateQuiescentSpeaker
		}
		return StateActiveSpeaker
	default:
		if focus == FocusNone {
			return StateQuiescentEarpiece
		}
		return StateActiveEarpiece
	}
}

func enterEvent(state string) string { return "enter_" + state + "_route" }

// newStateTable builds the transition table: every state can be entered from
// every other one, with one named event per destination.
func newStateTable(initial string, onEnter func(from, to string, cause string)) *fsm.FSM {
	events := make(fsm.Events, 0, len(allStates))
	for _, dst := range allStates {
		src := make([]string, 0, len(allStates)-1)
		for _, s := range allStates {
			if s != dst {
				src = append(src, s)
			}
		}
		events = append(events, fsm.EventDesc{Name: enterEvent(dst), Src: src, Dst: dst})
	}
	return fsm.NewFSM(initial, events, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			cause := ""
			if len(e.Args) > 0 {
				if s, ok := e.Args[0].(string); ok {
					cause = s
				}
			}
			onEnter(e.Src, e.Dst, cause)
		},
	})
}
