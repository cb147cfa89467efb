package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/filter"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// Admission ceilings.
const (
	MaxLiveCalls     = 1
	MaxHoldingCalls  = 1
	MaxRingingCalls  = 1
	MaxDialingCalls  = 1
	MaxOutgoingCalls = 1
	MaxTopLevelCalls = 2
)

// ExtraDisableAddCall, when present on any call, turns can-add-call off.
const ExtraDisableAddCall = "disable_add_call"

// Config holds orchestrator policy.
type Config struct {
	MaxSelfManagedCalls          int
	SilenceWhenDifferentProvider bool
	FilterTimeout                time.Duration
	EmergencyNumbers             []string
	QueueSize                    int
}

func DefaultConfig() Config {
	return Config{
		MaxSelfManagedCalls:          10,
		SilenceWhenDifferentProvider: true,
		FilterTimeout:                5 * time.Second,
		EmergencyNumbers:             []string{"911", "112"},
		QueueSize:                    256,
	}
}

// MetricsInterface defines metrics operations
type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// AudioRouter is the part of the audio route machine the orchestrator drives.
type AudioRouter interface {
	SwitchFocus(f audio.Focus)
	SetSupportedRoutes(mask audio.RouteMask)
	SetVideoCall(video bool)
	UserSwitchRoute(r audio.Route)
	SetMute(muted bool)
	ToggleMute()
	Republish()
	Config() audio.Config
}

// IncomingFilter screens a newly arrived incoming call.
type IncomingFilter interface {
	Run(ctx context.Context, req filter.Request) filter.Result
}

// Deps are the collaborators an Orchestrator works with. All are optional.
type Deps struct {
	Accounts *Accounts
	Filters  IncomingFilter
	Notifier Notifier
	Metrics  MetricsInterface
	Audio    AudioRouter
	Clock    call.Clock
}

// Orchestrator is the registry of live calls and the policy around them.
//
// All state is owned by a single goroutine that runs commands from a queue
// one at a time. Public methods post a command and wait for it; provider
// callbacks do the same, so they may arrive on any goroutine.
type Orchestrator struct {
	cfg      Config
	accounts *Accounts
	filters  IncomingFilter
	notifier Notifier
	metrics  MetricsInterface
	audio    AudioRouter
	clock    call.Clock
	log      *logger.Logger

	cmds   chan func()
	out    *outbox
	stop   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once

	// Owned by the orchestrator goroutine.
	arena      *call.Arena
	live       []*call.Call
	bindings   map[string]Binding
	listeners  []Listener
	pending    map[call.ID]*time.Timer
	skipLog    map[call.ID]struct{}
	outbound   []func()
	canAddCall bool
	foreground call.ID
	focus      audio.Focus
	routes     audio.RouteMask
	videoCall  bool
	audioCall  call.ID
	republish  bool
}

func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxSelfManagedCalls <= 0 {
		cfg.MaxSelfManagedCalls = def.MaxSelfManagedCalls
	}
	if cfg.FilterTimeout <= 0 {
		cfg.FilterTimeout = def.FilterTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if deps.Accounts == nil {
		deps.Accounts = NewAccounts()
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = call.SystemClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		accounts:   deps.Accounts,
		filters:    deps.Filters,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		audio:      deps.Audio,
		clock:      deps.Clock,
		log:        logger.WithField("component", "orchestrator"),
		cmds:       make(chan func(), cfg.QueueSize),
		out:        newOutbox(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		arena:      call.NewArena(),
		bindings:   make(map[string]Binding),
		pending:    make(map[call.ID]*time.Timer),
		skipLog:    make(map[call.ID]struct{}),
		canAddCall: true,
		routes:     audio.RouteAll,
	}
}

// Start launches the command loop.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		go o.out.run()
		go o.run()
		o.log.Info("Call orchestrator started")
	})
}

// Stop ends the command loop. Pending delayed disconnects are dropped.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.cancel()
		close(o.stop)
		started := true
		o.startOnce.Do(func() { started = false })
		if !started {
			close(o.done)
			return
		}
		<-o.done
		for id, t := range o.pending {
			t.Stop()
			delete(o.pending, id)
		}
		o.out.close()
		o.log.Info("Call orchestrator stopped")
	})
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case fn := <-o.cmds:
			fn()
			o.flushOutbound()
		case <-o.stop:
			return
		}
	}
}

var errStopped = errors.New(errors.ErrShutdown, "orchestrator stopped")

// do runs fn on the orchestrator goroutine and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		o.flushOutbound()
		close(done)
	}
	select {
	case o.cmds <- wrapped:
	case <-o.stop:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-o.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used by timers, filters and the audio machine.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.stop:
	}
}

// request queues a provider request to go out once the current command ends.
func (o *Orchestrator) request(fn func()) {
	o.outbound = append(o.outbound, fn)
}

func (o *Orchestrator) flushOutbound() {
	if len(o.outbound) == 0 {
		return
	}
	o.out.push(o.outbound...)
	o.outbound = nil
}

// Flush waits until every command and provider request queued before it has run.
func (o *Orchestrator) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := o.do(ctx, func() {
		o.request(func() { close(barrier) })
	}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterBinding makes b the binding for every account on provider.
func (o *Orchestrator) RegisterBinding(ctx context.Context, provider string, b Binding) error {
	return o.do(ctx, func() {
		o.bindings[provider] = b
		o.log.WithField("provider", provider).Info("Provider binding registered")
	})
}

func (o *Orchestrator) AddListener(ctx context.Context, l Listener) error {
	return o.do(ctx, func() { o.listeners = append(o.listeners, l) })
}

func (o *Orchestrator) RemoveListener(ctx context.Context, l Listener) error {
	return o.do(ctx, func() {
		for i, existing := range o.listeners {
			if existing == l {
				o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
				return
			}
		}
	})
}

// Accounts is the account registry in use.
func (o *Orchestrator) Accounts() *Accounts { return o.accounts }

// OnAudioConfigChanged forwards audio configuration changes to listeners.
func (o *Orchestrator) OnAudioConfigChanged(old, new audio.Config) {
	o.post(func() {
		o.fanOut(func(l Listener) { l.OnAudioStateChanged(old, new) })
	})
}

// Queries

func (o *Orchestrator) Calls(ctx context.Context) ([]call.Info, error) {
	var out []call.Info
	err := o.do(ctx, func() {
		out = make([]call.Info, 0, len(o.live))
		for _, c := range o.live {
			out = append(out, c.Info())
		}
	})
	return out, err
}

func (o *Orchestrator) Call(ctx context.Context, id call.ID) (call.Info, error) {
	var (
		info call.Info
		err  error
	)
	if doErr := o.do(ctx, func() {
		var c *call.Call
		if c, err = o.lookup(id); err == nil {
			info = c.Info()
		}
	}); doErr != nil {
		return call.Info{}, doErr
	}
	return info, err
}

// ForegroundCall returns the current foreground call, if any.
func (o *Orchestrator) ForegroundCall(ctx context.Context) (call.Info, bool, error) {
	var (
		info call.Info
		ok   bool
	)
	err := o.do(ctx, func() {
		if c := o.foregroundCall(); c != nil {
			info, ok = c.Info(), true
		}
	})
	return info, ok, err
}

// CountCalls counts top-level, non-external registry calls in the given states.
func (o *Orchestrator) CountCalls(ctx context.Context, states ...call.State) (int, error) {
	var n int
	err := o.do(ctx, func() { n = o.count(callFilter{}, states...) })
	return n, err
}

func (o *Orchestrator) CanAddCall(ctx context.Context) (bool, error) {
	var v bool
	err := o.do(ctx, func() { v = o.canAddCall })
	return v, err
}

// lookup finds a registry call.
func (o *Orchestrator) lookup(id call.ID) (*call.Call, error) {
	c, err := o.arena.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !o.isLive(c) {
		return nil, errors.New(errors.ErrCallNotFound, "call is not in the registry").
			WithContext("call_id", id.String())
	}
	return c, nil
}

func (o *Orchestrator) isLive(c *call.Call) bool {
	for _, l := range o.live {
		if l == c {
			return true
		}
	}
	return false
}

func (o *Orchestrator) binding(c *call.Call) Binding {
	return o.bindings[c.Account().Provider]
}

func (o *Orchestrator) incCounter(name string, labels map[string]string) {
	if o.metrics != nil {
		o.metrics.IncrementCounter(name, labels)
	}
}

func (o *Orchestrator) callLog(c *call.Call) *logger.Logger {
	return o.log.WithFields(map[string]interface{}{
		"call_id": c.ID().String(),
		"account": c.Account().String(),
	})
}
