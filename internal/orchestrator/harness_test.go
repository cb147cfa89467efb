package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
)

var (
	simA = call.Account{
		Handle:               call.AccountHandle{Provider: "sim", ID: "1"},
		EmergencyCapable:     true,
		SupportsHandoverFrom: true,
		Priority:             2,
	}
	simB = call.Account{
		Handle:           call.AccountHandle{Provider: "sim2", ID: "1"},
		EmergencyCapable: true,
		Priority:         1,
	}
	voip = call.Account{
		Handle:             call.AccountHandle{Provider: "voip", ID: "me"},
		SelfManaged:        true,
		SupportsVideo:      true,
		SupportsHandoverTo: true,
	}
	chat = call.Account{
		Handle:      call.AccountHandle{Provider: "chat", ID: "me"},
		SelfManaged: true,
	}
)

// fakeBinding records every request it receives.
type fakeBinding struct {
	mu  sync.Mutex
	ops []string
}

func (b *fakeBinding) record(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, fmt.Sprintf(format, args...))
}

func (b *fakeBinding) has(op string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.ops {
		if o == op {
			return true
		}
	}
	return false
}

func (b *fakeBinding) CreateConnection(req ConnectionRequest) {
	b.record("create %s", req.CallID)
}
func (b *fakeBinding) Abort(id call.ID)                         { b.record("abort %s", id) }
func (b *fakeBinding) Disconnect(id call.ID)                    { b.record("disconnect %s", id) }
func (b *fakeBinding) Answer(id call.ID, video call.VideoState) { b.record("answer %s %s", id, video) }
func (b *fakeBinding) Reject(id call.ID, _ string)              { b.record("reject %s", id) }
func (b *fakeBinding) Silence(id call.ID)                       { b.record("silence %s", id) }
func (b *fakeBinding) Hold(id call.ID)                          { b.record("hold %s", id) }
func (b *fakeBinding) Unhold(id call.ID)                        { b.record("unhold %s", id) }
func (b *fakeBinding) PlayDTMF(id call.ID, digit rune)          { b.record("dtmf %s %c", id, digit) }
func (b *fakeBinding) Conference(id, other call.ID)             { b.record("conference %s %s", id, other) }
func (b *fakeBinding) SplitFromConference(id call.ID)           { b.record("split %s", id) }
func (b *fakeBinding) SwapConference(id call.ID)                { b.record("swap %s", id) }
func (b *fakeBinding) Pull(id call.ID)                          { b.record("pull %s", id) }

type notification struct {
	id     call.ID
	event  string
	fields map[string]interface{}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (n *recordingNotifier) Notify(id call.ID, event string, fields map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, notification{id, event, fields})
}

func (n *recordingNotifier) find(id call.ID, event string) (notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, note := range n.notes {
		if note.id == id && note.event == event {
			return note, true
		}
	}
	return notification{}, false
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, note := range n.notes {
		if note.event == event {
			total++
		}
	}
	return total
}

type recordingListener struct {
	BaseListener
	mu         sync.Mutex
	added      []call.ID
	removed    map[call.ID]call.Info
	foreground []call.ID
	canAdd     []bool
	states     map[call.ID][]call.State
}

func (l *recordingListener) OnCallStateChanged(c call.Info, _, new call.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.states == nil {
		l.states = make(map[call.ID][]call.State)
	}
	l.states[c.ID] = append(l.states[c.ID], new)
}

// stateChanges counts the state changes reported for id.
func (l *recordingListener) stateChanges(id call.ID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states[id])
}

func (l *recordingListener) OnCallAdded(c call.Info) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, c.ID)
}

func (l *recordingListener) OnCallRemoved(c call.Info) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed == nil {
		l.removed = make(map[call.ID]call.Info)
	}
	l.removed[c.ID] = c
}

func (l *recordingListener) OnForegroundCallChanged(_, id call.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.foreground = append(l.foreground, id)
}

func (l *recordingListener) OnCanAddCallChanged(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.canAdd = append(l.canAdd, v)
}

func (l *recordingListener) removedInfo(id call.ID) (call.Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.removed[id]
	return info, ok
}

type recordingAudio struct {
	mu        sync.Mutex
	focus     []audio.Focus
	routes    []audio.RouteMask
	video     []bool
	config    audio.Config
	republish int
}

func (a *recordingAudio) SwitchFocus(f audio.Focus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.focus = append(a.focus, f)
}

func (a *recordingAudio) SetSupportedRoutes(mask audio.RouteMask) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes = append(a.routes, mask)
}

func (a *recordingAudio) SetVideoCall(video bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.video = append(a.video, video)
}

func (a *recordingAudio) UserSwitchRoute(r audio.Route) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Route = r
}

func (a *recordingAudio) SetMute(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Muted = muted
}

func (a *recordingAudio) ToggleMute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Muted = !a.config.Muted
}

func (a *recordingAudio) Republish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.republish++
}

func (a *recordingAudio) republishes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.republish
}

func (a *recordingAudio) Config() audio.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

func (a *recordingAudio) lastFocus() audio.Focus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.focus) == 0 {
		return audio.FocusNone
	}
	return a.focus[len(a.focus)-1]
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	o        *Orchestrator
	notes    *recordingNotifier
	events   *recordingListener
	audio    *recordingAudio
	bindings map[string]*fakeBinding
}

func newHarness(t *testing.T, cfg Config, deps Deps, accounts ...call.Account) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		notes:    &recordingNotifier{},
		events:   &recordingListener{},
		audio:    &recordingAudio{},
		bindings: make(map[string]*fakeBinding),
	}
	if len(cfg.EmergencyNumbers) == 0 {
		cfg.EmergencyNumbers = DefaultConfig().EmergencyNumbers
	}
	deps.Accounts = NewAccounts(accounts...)
	deps.Notifier = h.notes
	deps.Audio = h.audio
	h.o = New(cfg, deps)
	h.o.Start()
	t.Cleanup(h.o.Stop)

	for _, acct := range accounts {
		if _, ok := h.bindings[acct.Handle.Provider]; ok {
			continue
		}
		b := &fakeBinding{}
		h.bindings[acct.Handle.Provider] = b
		h.must(h.o.RegisterBinding(h.ctx, acct.Handle.Provider, b))
	}
	h.must(h.o.AddListener(h.ctx, h.events))
	return h
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) flush() {
	h.t.Helper()
	h.must(h.o.Flush(h.ctx))
}

func (h *harness) binding(acct call.Account) *fakeBinding {
	return h.bindings[acct.Handle.Provider]
}

func (h *harness) expectOp(acct call.Account, op string) {
	h.t.Helper()
	h.flush()
	if !h.binding(acct).has(op) {
		h.t.Fatalf("expected %q on %s, got %v", op, acct.Handle, h.binding(acct).ops)
	}
}

func (h *harness) expectNoOp(acct call.Account, op string) {
	h.t.Helper()
	h.flush()
	if h.binding(acct).has(op) {
		h.t.Fatalf("did not expect %q on %s", op, acct.Handle)
	}
}

func (h *harness) info(id call.ID) call.Info {
	h.t.Helper()
	info, err := h.o.Call(h.ctx, id)
	h.must(err)
	return info
}

func (h *harness) state(id call.ID, s call.State) {
	h.t.Helper()
	h.must(h.o.HandleStateChanged(h.ctx, id, s))
}

func snapshot(id call.ID, caps call.Capabilities) ConnectionSnapshot {
	return ConnectionSnapshot{ConnectionID: "conn-" + id.String(), Capabilities: caps}
}

// dial places an outgoing call on acct and lets its provider create the
// connection. The call ends up dialing.
func (h *harness) dial(handle string, acct call.Account, caps call.Capabilities) call.ID {
	h.t.Helper()
	info, err := h.o.StartOutgoingCall(h.ctx, OutgoingRequest{Handle: handle, Account: acct.Handle})
	h.must(err)
	h.must(h.o.HandleCreateSuccess(h.ctx, info.ID, snapshot(info.ID, caps)))
	return info.ID
}

// active dials a call and has the remote party answer.
func (h *harness) active(handle string, acct call.Account, caps call.Capabilities) call.ID {
	h.t.Helper()
	id := h.dial(handle, acct, caps)
	h.state(id, call.StateActive)
	return id
}

// ring delivers an incoming call on acct. Without filters it is admitted
// or turned away before ring returns.
func (h *harness) ring(handle string, acct call.Account, caps call.Capabilities) call.ID {
	h.t.Helper()
	info, err := h.o.ProcessIncomingCall(h.ctx, IncomingRequest{Account: acct.Handle, Handle: handle})
	h.must(err)
	h.must(h.o.HandleCreateSuccess(h.ctx, info.ID, snapshot(info.ID, caps)))
	return info.ID
}

func (h *harness) live() []call.ID {
	h.t.Helper()
	calls, err := h.o.Calls(h.ctx)
	h.must(err)
	ids := make([]call.ID, 0, len(calls))
	for _, c := range calls {
		ids = append(ids, c.ID)
	}
	return ids
}

func (h *harness) isLive(id call.ID) bool {
	for _, l := range h.live() {
		if l == id {
			return true
		}
	}
	return false
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
