package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// CallLogEntry is one row of the call log.
type CallLogEntry struct {
	CallID   string
	Type     string
	Handle   string
	Account  string
	Duration float64
	Cause    string
}

// CallLog persists call_logged notifications. Notify never blocks: entries
// are queued and written by a background goroutine, and dropped when the
// queue is full.
type CallLog struct {
	write func(ctx context.Context, e CallLogEntry) error
	queue chan CallLogEntry
	wg    sync.WaitGroup
	once  sync.Once
}

func NewCallLog(db *sql.DB, queueSize int) *CallLog {
	return newCallLog(func(ctx context.Context, e CallLogEntry) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO call_log (call_id, log_type, handle, account, duration_seconds, disconnect_cause)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.CallID, e.Type, e.Handle, e.Account, e.Duration, e.Cause)
		return err
	}, queueSize)
}

func newCallLog(write func(ctx context.Context, e CallLogEntry) error, queueSize int) *CallLog {
	if queueSize <= 0 {
		queueSize = 1000
	}
	l := &CallLog{write: write, queue: make(chan CallLogEntry, queueSize)}
	l.wg.Add(1)
	go l.run()
	return l
}

// EventCallLogged matches the orchestrator's call log event.
const EventCallLogged = "call_logged"

func (l *CallLog) Notify(id call.ID, event string, fields map[string]interface{}) {
	if event != EventCallLogged {
		return
	}
	e := CallLogEntry{
		CallID:  id.String(),
		Type:    stringField(fields, "type"),
		Handle:  stringField(fields, "handle"),
		Account: stringField(fields, "account"),
		Cause:   stringField(fields, "cause"),
	}
	if d, ok := fields["duration"].(float64); ok {
		e.Duration = d
	}

	select {
	case l.queue <- e:
	default:
		logger.WithField("call_id", e.CallID).Warn("Call log queue full, dropping entry")
	}
}

func (l *CallLog) run() {
	defer l.wg.Done()
	for e := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.write(ctx, e); err != nil {
			logger.WithError(err).WithField("call_id", e.CallID).Error("Failed to write call log entry")
		}
		cancel()
	}
}

// Close drains the queue.
func (l *CallLog) Close() {
	l.once.Do(func() { close(l.queue) })
	l.wg.Wait()
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
