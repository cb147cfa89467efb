package call

import "fmt"

type DisconnectCode int

const (
	DisconnectUnknown DisconnectCode = iota
	DisconnectError
	DisconnectLocal
	DisconnectRemote
	DisconnectCanceled
	DisconnectMissed
	DisconnectRejected
	DisconnectBusy
	DisconnectRestricted
	DisconnectOther
	DisconnectAnsweredElsewhere
	DisconnectCallPulled
)

func (c DisconnectCode) String() string {
	switch c {
	case DisconnectError:
		return "ERROR"
	case DisconnectLocal:
		return "LOCAL"
	case DisconnectRemote:
		return "REMOTE"
	case DisconnectCanceled:
		return "CANCELED"
	case DisconnectMissed:
		return "MISSED"
	case DisconnectRejected:
		return "REJECTED"
	case DisconnectBusy:
		return "BUSY"
	case DisconnectRestricted:
		return "RESTRICTED"
	case DisconnectOther:
		return "OTHER"
	case DisconnectAnsweredElsewhere:
		return "ANSWERED_ELSEWHERE"
	case DisconnectCallPulled:
		return "CALL_PULLED"
	default:
		return "UNKNOWN"
	}
}

// Machine-readable reasons attached to causes produced by the orchestrator.
const (
	ReasonBindingDied         = "BINDING_DIED"
	ReasonNoRoom              = "NO_ROOM"
	ReasonEmergencyInProgress = "EMERGENCY_IN_PROGRESS"
	ReasonOtherProviderCall   = "OTHER_PROVIDER_CALL_ANSWERED"
	ReasonHandoverComplete    = "HANDOVER_COMPLETE"
	ReasonBlocked             = "BLOCKED"
	ReasonNotPermitted        = "NOT_PERMITTED"
	ReasonAccountMissing      = "ACCOUNT_MISSING"
	ReasonEmergencyPreempted  = "PREEMPTED_BY_EMERGENCY"
)

// DisconnectCause records why a call ended.
type DisconnectCause struct {
	Code        DisconnectCode
	Label       string
	Description string
	Reason      string
}

func NewDisconnectCause(code DisconnectCode, reason string) DisconnectCause {
	return DisconnectCause{Code: code, Reason: reason}
}

func (d DisconnectCause) String() string {
	if d.Reason == "" {
		return d.Code.String()
	}
	return fmt.Sprintf("%s(%s)", d.Code, d.Reason)
}
