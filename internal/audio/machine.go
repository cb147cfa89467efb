package audio

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// Listener receives every published audio configuration, on the machine's
// goroutine. Implementations must not block.
type Listener interface {
	OnAudioConfigChanged(old, new Config)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(old, new Config)

func (f ListenerFunc) OnAudioConfigChanged(old, new Config) { f(old, new) }

// Options describe the device when the machine is created.
type Options struct {
	HasEarpiece        bool
	HeadsetConnected   bool
	BluetoothConnected bool
	DockConnected      bool
}

// Machine owns the active audio route and mute state. It handles one message
// at a time from its mailbox; follow-up messages generated while handling an
// event are queued ahead of anything already waiting.
type Machine struct {
	hw       Hardware
	listener Listener
	log      *logger.Logger

	box  *mailbox
	fsm  *fsm.FSM
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Owned by the machine goroutine.
	hasEarpiece       bool
	headset           bool
	bluetooth         bool
	dock              bool
	callSupported     RouteMask
	focus             Focus
	muted             bool
	userLeftBluetooth bool
	videoCall         bool
	published         bool
	last              Config
	// set while a follow-up message is queued; publishing waits for it
	followUp     bool
	forcePending bool

	snapMu   sync.RWMutex
	snapshot Config
	state    string
}

// New builds a machine in the quiescent state of the initial route.
// Messages may be posted before Start; they are handled once it runs.
func New(opts Options, hw Hardware, listener Listener) *Machine {
	m := &Machine{
		hw:            hw,
		listener:      listener,
		log:           logger.WithField("component", "audio"),
		box:           newMailbox(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		hasEarpiece:   opts.HasEarpiece,
		headset:       opts.HeadsetConnected,
		bluetooth:     opts.BluetoothConnected,
		dock:          opts.DockConnected,
		callSupported: RouteAll,
	}

	initial := stateFor(m.initialRoute(), FocusNone)
	m.fsm = newStateTable(initial, m.onEnter)
	m.state = initial
	m.snapshot = m.currentConfig()
	return m
}

// initialRoute picks the starting route by availability:
// bluetooth, headset, earpiece, then speaker.
func (m *Machine) initialRoute() Route {
	avail := m.available()
	for _, r := range []Route{RouteBluetooth, RouteHeadset, RouteEarpiece} {
		if avail.Has(r) {
			return r
		}
	}
	return RouteSpeaker
}

// Start launches the message loop.
func (m *Machine) Start() {
	m.startOnce.Do(func() {
		m.log.WithField("state", m.fsm.Current()).Info("Audio route machine started")
		go m.run()
	})
}

// Stop shuts the machine down. Queued messages are dropped and any Sync
// callers waiting on them are released.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.startOnce.Do(func() { close(m.done) })
		<-m.done
		for _, msg := range m.box.close() {
			if msg.done != nil {
				close(msg.done)
			}
		}
		m.log.Info("Audio route machine stopped")
	})
}

func (m *Machine) run() {
	defer close(m.done)
	for {
		msg, ok := m.box.pop(m.stop)
		if !ok {
			return
		}
		m.handle(msg)
	}
}

// State is the name of the current state.
func (m *Machine) State() string {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.state
}

// Config is the most recent configuration, published or not.
func (m *Machine) Config() Config {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// Sync waits until every message posted before it has been handled.
func (m *Machine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !m.box.pushBack(message{kind: msgSync, done: done}) {
		return errors.New(errors.ErrShutdown, "audio route machine stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) post(msg message) {
	if !m.box.pushBack(msg) {
		m.log.WithField("message", msg.String()).Debug("Dropping message, machine stopped")
	}
}

// internal queues a follow-up message ahead of everything already waiting.
func (m *Machine) internal(msg message) {
	if m.box.pushFront(msg) {
		m.followUp = true
	}
}

// Device events

func (m *Machine) ConnectWiredHeadset()    { m.post(message{kind: msgConnectHeadset}) }
func (m *Machine) DisconnectWiredHeadset() { m.post(message{kind: msgDisconnectHeadset}) }
func (m *Machine) ConnectBluetooth()       { m.post(message{kind: msgConnectBluetooth}) }
func (m *Machine) DisconnectBluetooth()    { m.post(message{kind: msgDisconnectBluetooth}) }
func (m *Machine) ConnectDock()            { m.post(message{kind: msgConnectDock}) }
func (m *Machine) DisconnectDock()         { m.post(message{kind: msgDisconnectDock}) }

// Commands

// SwitchRoute is a system-initiated route change.
func (m *Machine) SwitchRoute(r Route) { m.post(message{kind: msgSwitchRoute, route: r}) }

// UserSwitchRoute is a route change the user asked for.
func (m *Machine) UserSwitchRoute(r Route) { m.post(message{kind: msgUserSwitchRoute, route: r}) }

func (m *Machine) SwitchBaseline()     { m.post(message{kind: msgSwitchBaseline}) }
func (m *Machine) UserSwitchBaseline() { m.post(message{kind: msgUserSwitchBaseline}) }

func (m *Machine) SetMute(muted bool) {
	if muted {
		m.post(message{kind: msgMuteOn})
	} else {
		m.post(message{kind: msgMuteOff})
	}
}

func (m *Machine) ToggleMute() { m.post(message{kind: msgToggleMute}) }

func (m *Machine) SwitchFocus(f Focus) { m.post(message{kind: msgSwitchFocus, focus: f}) }

// SetSupportedRoutes narrows the available routes to what the foreground
// call permits. Zero means no restriction.
func (m *Machine) SetSupportedRoutes(mask RouteMask) {
	m.post(message{kind: msgSetSupportedRoutes, mask: mask})
}

// SetVideoCall records whether any live call carries video.
func (m *Machine) SetVideoCall(video bool) { m.post(message{kind: msgSetVideoCall, flag: video}) }

// ReportSpeakerphone tells the machine the speakerphone was changed outside it.
func (m *Machine) ReportSpeakerphone(on bool) {
	if on {
		m.post(message{kind: msgSpeakerOn})
	} else {
		m.post(message{kind: msgSpeakerOff})
	}
}

// ReportBluetoothAudio tells the machine bluetooth audio came up or dropped.
func (m *Machine) ReportBluetoothAudio(connected bool) {
	if connected {
		m.post(message{kind: msgBluetoothAudioConnected})
	} else {
		m.post(message{kind: msgBluetoothAudioDisconnected})
	}
}

// Republish forces the current configuration out even if it did not change.
func (m *Machine) Republish() { m.post(message{kind: msgRepublish}) }
