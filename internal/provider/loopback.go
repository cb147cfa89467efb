package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/orchestrator"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// Callbacks is the orchestrator surface a binding reports into.
type Callbacks interface {
	HandleCreateSuccess(ctx context.Context, id call.ID, snap orchestrator.ConnectionSnapshot) error
	HandleCreateFailure(ctx context.Context, id call.ID, cause call.DisconnectCause) error
	HandleStateChanged(ctx context.Context, id call.ID, state call.State) error
	HandleDisconnected(ctx context.Context, id call.ID, cause call.DisconnectCause) error
	HandleParentChanged(ctx context.Context, child, parent call.ID) error
}

// Options control how the loopback provider behaves.
type Options struct {
	// Delay before each event is reported back.
	Delay time.Duration
	// AutoAnswer makes the far end pick up outgoing calls.
	AutoAnswer bool
	// FailHandles are numbers whose connections cannot be created.
	FailHandles []string
	// Capabilities reported for every connection.
	Capabilities call.Capabilities
	Routes       audio.RouteMask
	QueueSize    int
}

func DefaultOptions() Options {
	return Options{
		Delay:      50 * time.Millisecond,
		AutoAnswer: true,
		Capabilities: call.CapHold | call.CapSupportHold | call.CapMute |
			call.CapMergeConference | call.CapSwapConference | call.CapSeparateFromConference,
		Routes:    audio.RouteAll,
		QueueSize: 256,
	}
}

type connection struct {
	id     string
	handle string
	state  call.State
	parent call.ID
}

// Loopback is an in-process provider. Every request is answered from a
// single worker goroutine, so events for one binding arrive in order.
type Loopback struct {
	name string
	cb   Callbacks
	opts Options
	fail map[string]bool

	mu    sync.Mutex
	conns map[call.ID]*connection

	events chan func(ctx context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLoopback(name string, cb Callbacks, opts Options) *Loopback {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loopback{
		name:   name,
		cb:     cb,
		opts:   opts,
		fail:   make(map[string]bool),
		conns:  make(map[call.ID]*connection),
		events: make(chan func(ctx context.Context), opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, h := range opts.FailHandles {
		l.fail[h] = true
	}
	return l
}

func (l *Loopback) Name() string { return l.name }

// Start runs the event worker.
func (l *Loopback) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop discards pending events and waits for the worker.
func (l *Loopback) Stop() {
	l.cancel()
	l.wg.Wait()
}

func (l *Loopback) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.events:
			if l.opts.Delay > 0 {
				select {
				case <-time.After(l.opts.Delay):
				case <-l.ctx.Done():
					return
				}
			}
			ev(l.ctx)
		}
	}
}

func (l *Loopback) emit(op string, id call.ID, fn func(ctx context.Context) error) {
	ev := func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			logger.WithFields(map[string]interface{}{
				"provider": l.name,
				"op":       op,
				"call_id":  id.String(),
			}).WithError(err).Debug("Callback rejected")
		}
	}
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
	}
}

func (l *Loopback) conn(id call.ID) (*connection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[id]
	return c, ok
}

func (l *Loopback) setState(id call.ID, state call.State) {
	l.mu.Lock()
	if c, ok := l.conns[id]; ok {
		c.state = state
	}
	l.mu.Unlock()
	l.emit("state", id, func(ctx context.Context) error {
		return l.cb.HandleStateChanged(ctx, id, state)
	})
}

func (l *Loopback) end(id call.ID, cause call.DisconnectCause) {
	l.mu.Lock()
	delete(l.conns, id)
	for _, c := range l.conns {
		if c.parent == id {
			c.parent = 0
		}
	}
	l.mu.Unlock()
	l.emit("disconnect", id, func(ctx context.Context) error {
		return l.cb.HandleDisconnected(ctx, id, cause)
	})
}

// Connections returns how many connections the provider holds.
func (l *Loopback) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *Loopback) CreateConnection(req orchestrator.ConnectionRequest) {
	log := logger.WithFields(map[string]interface{}{
		"provider":  l.name,
		"call_id":   req.CallID.String(),
		"direction": req.Direction.String(),
	})

	if l.fail[req.Handle] {
		log.Info("Refusing connection")
		l.emit("create", req.CallID, func(ctx context.Context) error {
			return l.cb.HandleCreateFailure(ctx, req.CallID,
				call.NewDisconnectCause(call.DisconnectError, "loopback refused "+req.Handle))
		})
		return
	}

	state := call.StateDialing
	if req.Direction == call.DirectionIncoming {
		state = call.StateRinging
	}
	conn := &connection{id: uuid.New().String(), handle: req.Handle, state: state}
	l.mu.Lock()
	l.conns[req.CallID] = conn
	l.mu.Unlock()

	snap := orchestrator.ConnectionSnapshot{
		ConnectionID:         conn.id,
		State:                state,
		Handle:               req.Handle,
		Capabilities:         l.opts.Capabilities,
		VideoState:           req.VideoState,
		SupportedAudioRoutes: l.opts.Routes,
	}
	log.WithField("connection_id", conn.id).Debug("Creating connection")
	l.emit("create", req.CallID, func(ctx context.Context) error {
		return l.cb.HandleCreateSuccess(ctx, req.CallID, snap)
	})

	if state == call.StateDialing && l.opts.AutoAnswer {
		l.setState(req.CallID, call.StateActive)
	}
}

func (l *Loopback) Abort(id call.ID) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

func (l *Loopback) Disconnect(id call.ID) {
	if _, ok := l.conn(id); !ok {
		return
	}
	l.end(id, call.NewDisconnectCause(call.DisconnectLocal, ""))
}

func (l *Loopback) Answer(id call.ID, _ call.VideoState) {
	if c, ok := l.conn(id); ok && c.state == call.StateRinging {
		l.setState(id, call.StateActive)
	}
}

func (l *Loopback) Reject(id call.ID, message string) {
	if _, ok := l.conn(id); !ok {
		return
	}
	l.end(id, call.NewDisconnectCause(call.DisconnectRejected, message))
}

// Silence has nothing to stop on a loopback connection.
func (l *Loopback) Silence(id call.ID) {}

func (l *Loopback) Hold(id call.ID) {
	if c, ok := l.conn(id); ok && c.state == call.StateActive {
		l.setState(id, call.StateOnHold)
	}
}

func (l *Loopback) Unhold(id call.ID) {
	if c, ok := l.conn(id); ok && c.state == call.StateOnHold {
		l.setState(id, call.StateActive)
	}
}

func (l *Loopback) PlayDTMF(id call.ID, digit rune) {
	logger.WithFields(map[string]interface{}{
		"provider": l.name,
		"call_id":  id.String(),
		"digit":    string(digit),
	}).Debug("Playing DTMF tone")
}

// Conference merges both calls under id, which acts as the conference host.
func (l *Loopback) Conference(id, other call.ID) {
	l.mu.Lock()
	c, ok := l.conns[other]
	if ok {
		c.parent = id
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	l.emit("conference", other, func(ctx context.Context) error {
		return l.cb.HandleParentChanged(ctx, other, id)
	})
}

func (l *Loopback) SplitFromConference(id call.ID) {
	l.mu.Lock()
	c, ok := l.conns[id]
	if ok {
		c.parent = 0
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	l.emit("split", id, func(ctx context.Context) error {
		return l.cb.HandleParentChanged(ctx, id, 0)
	})
}

func (l *Loopback) SwapConference(id call.ID) {}

func (l *Loopback) Pull(id call.ID) {
	if _, ok := l.conn(id); ok {
		l.setState(id, call.StateActive)
	}
}

// HangUpRemote simulates the far end ending the call.
func (l *Loopback) HangUpRemote(id call.ID) {
	if _, ok := l.conn(id); !ok {
		return
	}
	l.end(id, call.NewDisconnectCause(call.DisconnectRemote, ""))
}

// RemoteAnswer simulates the far end picking up a dialing call.
func (l *Loopback) RemoteAnswer(id call.ID) {
	if c, ok := l.conn(id); ok && c.state == call.StateDialing {
		l.setState(id, call.StateActive)
	}
}
