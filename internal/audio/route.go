package audio

import (
	"fmt"
	"strings"
)

// Route is a single audio path. Values are bits so they compose into a RouteMask.
type Route uint8

const (
	RouteEarpiece  Route = 1 << 0
	RouteBluetooth Route = 1 << 1
	RouteHeadset   Route = 1 << 2
	RouteSpeaker   Route = 1 << 3
)

// RouteMask is a set of routes.
type RouteMask uint8

const RouteAll = RouteMask(RouteEarpiece | RouteBluetooth | RouteHeadset | RouteSpeaker)

func (r Route) String() string {
	switch r {
	case RouteEarpiece:
		return "EARPIECE"
	case RouteBluetooth:
		return "BLUETOOTH"
	case RouteHeadset:
		return "HEADSET"
	case RouteSpeaker:
		return "SPEAKER"
	default:
		return fmt.Sprintf("Route(%d)", uint8(r))
	}
}

// ParseRoute accepts the String form, case-insensitively.
func ParseRoute(name string) (Route, bool) {
	for _, r := range []Route{RouteEarpiece, RouteBluetooth, RouteHeadset, RouteSpeaker} {
		if strings.EqualFold(r.String(), name) {
			return r, true
		}
	}
	return 0, false
}

func MaskOf(routes ...Route) RouteMask {
	var m RouteMask
	for _, r := range routes {
		m |= RouteMask(r)
	}
	return m
}

func (m RouteMask) Has(r Route) bool          { return m&RouteMask(r) != 0 }
func (m RouteMask) With(r Route) RouteMask    { return m | RouteMask(r) }
func (m RouteMask) Without(r Route) RouteMask { return m &^ RouteMask(r) }

// SubsetOf reports whether every route in m is also in other.
func (m RouteMask) SubsetOf(other RouteMask) bool { return m&^other == 0 }

func (m RouteMask) String() string {
	var parts []string
	for _, r := range []Route{RouteEarpiece, RouteBluetooth, RouteHeadset, RouteSpeaker} {
		if m.Has(r) {
			parts = append(parts, r.String())
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Config is the published audio configuration. It is a comparable value;
// two equal Configs describe the same externally visible state.
type Config struct {
	Muted     bool
	Route     Route
	Supported RouteMask
}

func (c Config) String() string {
	return fmt.Sprintf("[muted=%t route=%s supported=%s]", c.Muted, c.Route, c.Supported)
}

// Focus is whether calls currently own the audio output.
type Focus int

const (
	FocusNone Focus = iota
	FocusActive
	FocusRinging
)

func (f Focus) String() string {
	switch f {
	case FocusActive:
		return "ACTIVE_FOCUS"
	case FocusRinging:
		return "RINGING_FOCUS"
	default:
		return "NO_FOCUS"
	}
}
