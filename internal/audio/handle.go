package audio

import (
	"context"
	stderrors "errors"

	"github.com/looplab/fsm"
)

func (m *Machine) handle(msg message) {
	force := false
	m.followUp = false

	switch msg.kind {
	case msgSync:
		close(msg.done)
		return

	case msgConnectHeadset:
		m.headset = true
		m.internal(message{kind: msgSwitchRoute, route: RouteHeadset})
	case msgDisconnectHeadset:
		m.headset = false
		if m.route() == RouteHeadset {
			m.internal(message{kind: msgSwitchBaseline})
		}
	case msgConnectBluetooth:
		m.bluetooth = true
		if !m.userLeftBluetooth {
			m.internal(message{kind: msgSwitchRoute, route: RouteBluetooth})
		}
	case msgDisconnectBluetooth:
		m.bluetooth = false
		if m.route() == RouteBluetooth {
			m.internal(message{kind: msgSwitchBaseline})
		}
	case msgConnectDock:
		m.dock = true
		m.internal(message{kind: msgSwitchRoute, route: RouteSpeaker})
	case msgDisconnectDock:
		m.dock = false
		if m.route() == RouteSpeaker {
			m.internal(message{kind: msgSwitchBaseline})
		}

	case msgSwitchRoute:
		m.switchTo(msg.route, msg.String())
	case msgUserSwitchRoute:
		if msg.route == RouteBluetooth {
			m.userLeftBluetooth = false
		} else if m.route() == RouteBluetooth {
			m.userLeftBluetooth = true
		}
		m.switchTo(msg.route, msg.String())
	case msgSwitchBaseline:
		m.switchToBaseline(false, msg.String())
	case msgUserSwitchBaseline:
		m.switchToBaseline(true, msg.String())

	case msgSpeakerOn:
		if m.focus != FocusNone && m.route() != RouteSpeaker {
			m.switchTo(RouteSpeaker, msg.String())
		}
	case msgSpeakerOff:
		if m.route() == RouteSpeaker && m.kind() != kindQuiescent {
			m.internal(message{kind: msgSwitchBaseline})
		}
	case msgBluetoothAudioConnected:
		if m.focus != FocusNone && m.route() != RouteBluetooth {
			m.switchTo(RouteBluetooth, msg.String())
		}
	case msgBluetoothAudioDisconnected:
		if m.route() == RouteBluetooth && m.kind() != kindQuiescent {
			m.transition(stateFor(m.baseline(false, true), m.focus), msg.String())
		}

	case msgMuteOn:
		m.setMuted(true)
	case msgMuteOff:
		m.setMuted(false)
	case msgToggleMute:
		m.setMuted(!m.muted)

	case msgSwitchFocus:
		m.focus = msg.focus
		if msg.focus == FocusNone {
			m.setMuted(false)
			m.userLeftBluetooth = false
		}
		m.transition(stateFor(m.route(), m.focus), msg.String())
	case msgSetSupportedRoutes:
		mask := msg.mask
		if mask == 0 {
			mask = RouteAll
		}
		m.callSupported = mask
		if !m.available().Has(m.route()) {
			m.internal(message{kind: msgSwitchBaseline})
		}
	case msgSetVideoCall:
		m.videoCall = msg.flag
	case msgRepublish:
		force = true
	}

	// Only the settled configuration goes out.
	if m.followUp {
		m.forcePending = m.forcePending || force
		return
	}
	force = force || m.forcePending
	m.forcePending = false
	m.publish(force)
}

// available is the set of routes the device offers intersected with what the
// foreground call permits. A wired headset replaces the earpiece.
func (m *Machine) available() RouteMask {
	mask := MaskOf(RouteSpeaker)
	if m.hasEarpiece && !m.headset {
		mask = mask.With(RouteEarpiece)
	}
	if m.headset {
		mask = mask.With(RouteHeadset)
	}
	if m.bluetooth {
		mask = mask.With(RouteBluetooth)
	}
	return mask & m.callSupported
}

func (m *Machine) route() Route    { return stateTable[m.fsm.Current()].route }
func (m *Machine) kind() stateKind { return stateTable[m.fsm.Current()].kind }

// baseline picks bluetooth, earpiece, headset, then speaker. The earpiece is
// skipped for video calls unless the user asked for the switch directly.
func (m *Machine) baseline(userRequest, skipBluetooth bool) Route {
	avail := m.available()
	if avail.Has(RouteBluetooth) && !skipBluetooth {
		return RouteBluetooth
	}
	if avail.Has(RouteEarpiece) && (!m.videoCall || userRequest) {
		return RouteEarpiece
	}
	if avail.Has(RouteHeadset) {
		return RouteHeadset
	}
	if avail.Has(RouteSpeaker) {
		return RouteSpeaker
	}
	return m.route()
}

func (m *Machine) switchToBaseline(userRequest bool, cause string) {
	m.switchTo(m.baseline(userRequest, false), cause)
}

func (m *Machine) switchTo(r Route, cause string) {
	if !m.available().Has(r) {
		m.log.WithFields(map[string]interface{}{
			"route":     r.String(),
			"available": m.available().String(),
		}).Warn("Ignoring switch to unavailable route")
		return
	}
	m.transition(stateFor(r, m.focus), cause)
}

func (m *Machine) transition(dst, cause string) {
	if m.fsm.Current() == dst {
		return
	}
	err := m.fsm.Event(context.Background(), enterEvent(dst), cause)
	var noTransition fsm.NoTransitionError
	if err != nil && !stderrors.As(err, &noTransition) {
		m.log.WithError(err).WithField("to", dst).Error("Audio route transition failed")
	}
}

// onEnter runs the side effects of the state being entered. Hardware is
// checked first so repeated entries do not toggle anything.
func (m *Machine) onEnter(from, to, cause string) {
	m.log.WithFields(map[string]interface{}{
		"from":    from,
		"to":      to,
		"message": cause,
	}).Debug("Audio route transition")

	info := stateTable[to]
	if info.kind == kindQuiescent {
		if info.route == RouteBluetooth && m.hw.BluetoothAudioConnected() {
			m.hw.DisconnectBluetoothAudio()
		}
		return
	}

	wantSpeaker := info.route == RouteSpeaker
	if m.hw.SpeakerphoneOn() != wantSpeaker {
		m.hw.SetSpeakerphone(wantSpeaker)
	}
	wantBluetooth := info.route == RouteBluetooth
	if m.hw.BluetoothAudioConnected() != wantBluetooth {
		if wantBluetooth {
			m.hw.ConnectBluetoothAudio()
		} else {
			m.hw.DisconnectBluetoothAudio()
		}
	}
}

func (m *Machine) setMuted(muted bool) {
	m.muted = muted
	if m.hw.MicrophoneMuted() != muted {
		m.hw.SetMicrophoneMute(muted)
	}
}

func (m *Machine) currentConfig() Config {
	return Config{Muted: m.muted, Route: m.route(), Supported: m.available()}
}

// publish tells the listener about the configuration if it differs from the
// last one published, or unconditionally when forced.
func (m *Machine) publish(force bool) {
	cfg := m.currentConfig()

	m.snapMu.Lock()
	m.snapshot = cfg
	m.state = m.fsm.Current()
	m.snapMu.Unlock()

	if m.published && cfg == m.last && !force {
		return
	}
	old := m.last
	m.last = cfg
	m.published = true
	if m.listener != nil {
		m.listener.OnAudioConfigChanged(old, cfg)
	}
}
