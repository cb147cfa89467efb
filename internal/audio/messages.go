package audio

type msgKind int

const (
	msgConnectHeadset msgKind = iota
	msgDisconnectHeadset
	msgConnectBluetooth
	msgDisconnectBluetooth
	msgConnectDock
	msgDisconnectDock

	msgSwitchRoute
	msgUserSwitchRoute
	msgSwitchBaseline
	msgUserSwitchBaseline

	msgSpeakerOn
	msgSpeakerOff
	msgBluetoothAudioConnected
	msgBluetoothAudioDisconnected

	msgMuteOn
	msgMuteOff
	msgToggleMute

	msgSwitchFocus
	msgSetSupportedRoutes
	msgSetVideoCall
	msgRepublish

	msgSync
)

var msgNames = map[msgKind]string{
	msgConnectHeadset:             "CONNECT_WIRED_HEADSET",
	msgDisconnectHeadset:          "DISCONNECT_WIRED_HEADSET",
	msgConnectBluetooth:           "CONNECT_BLUETOOTH",
	msgDisconnectBluetooth:        "DISCONNECT_BLUETOOTH",
	msgConnectDock:                "CONNECT_DOCK",
	msgDisconnectDock:             "DISCONNECT_DOCK",
	msgSwitchRoute:                "SWITCH_ROUTE",
	msgUserSwitchRoute:            "USER_SWITCH_ROUTE",
	msgSwitchBaseline:             "SWITCH_BASELINE_ROUTE",
	msgUserSwitchBaseline:         "USER_SWITCH_BASELINE_ROUTE",
	msgSpeakerOn:                  "SPEAKER_ON",
	msgSpeakerOff:                 "SPEAKER_OFF",
	msgBluetoothAudioConnected:    "BT_AUDIO_CONNECTED",
	msgBluetoothAudioDisconnected: "BT_AUDIO_DISCONNECTED",
	msgMuteOn:                     "MUTE_ON",
	msgMuteOff:                    "MUTE_OFF",
	msgToggleMute:                 "TOGGLE_MUTE",
	msgSwitchFocus:                "SWITCH_FOCUS",
	msgSetSupportedRoutes:         "SET_SUPPORTED_ROUTES",
	msgSetVideoCall:               "SET_VIDEO_CALL",
	msgRepublish:                  "UPDATE_SYSTEM_AUDIO_ROUTE",
	msgSync:                       "SYNC",
}

func (k msgKind) String() string {
	if n, ok := msgNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

type message struct {
	kind  msgKind
	route Route
	focus Focus
	mask  RouteMask
	flag  bool
	done  chan struct{}
}

func (m message) String() string {
	switch m.kind {
	case msgSwitchRoute, msgUserSwitchRoute:
		return m.kind.String() + "(" + m.route.String() + ")"
	case msgSwitchFocus:
		return m.kind.String() + "(" + m.focus.String() + ")"
	}
	return m.kind.String()
}
