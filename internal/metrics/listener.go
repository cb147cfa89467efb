package metrics

import (
	"strconv"
	"sync"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/orchestrator"
)

// CallListener turns registry events into metrics.
type CallListener struct {
	orchestrator.BaseListener
	m    orchestrator.MetricsInterface
	mu   sync.Mutex
	live int
}

func NewCallListener(m orchestrator.MetricsInterface) *CallListener {
	l := &CallListener{m: m}
	m.SetGauge("live_calls", 0, nil)
	m.SetGauge("can_add_call", 1, nil)
	return l
}

func (l *CallListener) OnCallAdded(c call.Info) {
	l.m.IncrementCounter("calls_added", map[string]string{
		"direction":    c.Direction.String(),
		"self_managed": strconv.FormatBool(c.SelfManaged),
	})
	l.setLive(1)
}

func (l *CallListener) OnCallRemoved(c call.Info) {
	l.m.IncrementCounter("calls_removed", map[string]string{
		"direction": c.Direction.String(),
		"cause":     c.DisconnectCause.Code.String(),
	})
	l.m.ObserveHistogram("call_duration", c.Age.Seconds(), map[string]string{
		"direction": c.Direction.String(),
	})
	l.setLive(-1)
}

func (l *CallListener) OnCallStateChanged(_ call.Info, old, new call.State) {
	l.m.IncrementCounter("call_state_transitions", map[string]string{
		"from": old.String(),
		"to":   new.String(),
	})
}

func (l *CallListener) OnAudioStateChanged(old, new audio.Config) {
	if old.Route != new.Route {
		l.m.IncrementCounter("audio_route_changes", map[string]string{"route": new.Route.String()})
	}
	for _, r := range []audio.Route{audio.RouteEarpiece, audio.RouteBluetooth, audio.RouteHeadset, audio.RouteSpeaker} {
		v := 0.0
		if r == new.Route {
			v = 1
		}
		l.m.SetGauge("audio_route", v, map[string]string{"route": r.String()})
	}
	l.m.SetGauge("audio_muted", boolGauge(new.Muted), nil)
}

func (l *CallListener) OnCanAddCallChanged(canAddCall bool) {
	l.m.SetGauge("can_add_call", boolGauge(canAddCall), nil)
}

func (l *CallListener) setLive(delta int) {
	l.mu.Lock()
	l.live += delta
	n := l.live
	l.mu.Unlock()
	l.m.SetGauge("live_calls", float64(n), nil)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
