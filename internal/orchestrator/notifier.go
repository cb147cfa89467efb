package orchestrator

import (
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// Notification events.
const (
	EventCallLogged                 = "call_logged"
	EventCallBlocked                = "call_blocked"
	EventCallSilenced               = "call_silenced"
	EventHandoverFailed             = "handover_failed"
	EventHandoverComplete           = "handover_complete"
	EventHandoverSourceDisconnected = "handover_source_disconnected"
	EventAdmissionDenied            = "admission_denied"
)

// Call log types carried in the "type" field of EventCallLogged.
const (
	LogTypeIncoming = "incoming"
	LogTypeOutgoing = "outgoing"
	LogTypeMissed   = "missed"
	LogTypeRejected = "rejected"
	LogTypeBlocked  = "blocked"
)

// Notifier receives fire-and-forget notifications keyed by call id.
// Notify runs on the orchestrator goroutine and must not block.
type Notifier interface {
	Notify(id call.ID, event string, fields map[string]interface{})
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(id call.ID, event string, fields map[string]interface{})

func (f NotifierFunc) Notify(id call.ID, event string, fields map[string]interface{}) {
	f(id, event, fields)
}

// LogNotifier writes every notification to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(id call.ID, event string, fields map[string]interface{}) {
	entry := logger.WithFields(fields).WithFields(map[string]interface{}{
		"call_id": id.String(),
		"event":   event,
	})
	entry.Info("Call notification")
}
