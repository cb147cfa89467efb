package call

// HandoverState tracks a call's part in a provider-to-provider handover.
type HandoverState int

const (
	HandoverNone HandoverState = iota
	HandoverFromStarted
	HandoverToStarted
	HandoverAccepted
	HandoverComplete
	HandoverFailed
)

func (h HandoverState) String() string {
	switch h {
	case HandoverFromStarted:
		return "FROM_STARTED"
	case HandoverToStarted:
		return "TO_STARTED"
	case HandoverAccepted:
		return "ACCEPTED"
	case HandoverComplete:
		return "COMPLETE"
	case HandoverFailed:
		return "FAILED"
	default:
		return "NONE"
	}
}

// Started reports whether a handover is underway but not yet accepted.
func (h HandoverState) Started() bool {
	return h == HandoverFromStarted || h == HandoverToStarted
}

// canAdvance allows only adjacent steps: none -> started -> accepted -> complete,
// with failure reachable from started or accepted and a reset back to none
// from a finished handover.
func canAdvance(from, to HandoverState) bool {
	switch from {
	case HandoverNone:
		return to == HandoverFromStarted || to == HandoverToStarted
	case HandoverFromStarted, HandoverToStarted:
		return to == HandoverAccepted || to == HandoverFailed
	case HandoverAccepted:
		return to == HandoverComplete || to == HandoverFailed
	case HandoverComplete, HandoverFailed:
		return to == HandoverNone
	}
	return false
}
