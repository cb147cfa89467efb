package call

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// ID identifies a call for the lifetime of the process. Zero means "no call".
type ID uint64

func (id ID) String() string {
	if id == 0 {
		return "<none>"
	}
	return fmt.Sprintf("TC@%d", uint64(id))
}

var lastID atomic.Uint64

func nextID() ID { return ID(lastID.Add(1)) }

// Change names the externally observable attribute a listener is told about.
type Change int

const (
	ChangeHandle Change = iota
	ChangeCallerDisplayName
	ChangeCapabilities
	ChangeProperties
	ChangeExternal
	ChangeVideoState
	ChangeExtras
	ChangeParent
	ChangeChildren
	ChangeHandoverState
	ChangeSupportedAudioRoutes
	ChangeAccount
)

func (c Change) String() string {
	return [...]string{
		"handle", "caller_display_name", "capabilities", "properties", "external",
		"video_state", "extras", "parent", "children", "handover_state",
		"supported_audio_routes", "account",
	}[c]
}

// Listener is told about attribute changes synchronously, in registration order.
type Listener interface {
	OnCallChanged(c *Call, change Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(c *Call, change Change)

func (f ListenerFunc) OnCallChanged(c *Call, change Change) { f(c, change) }

// Params seed a new Call.
type Params struct {
	Direction             Direction
	Handle                string
	CallerDisplayName     string
	Account               AccountHandle
	SelfManaged           bool
	Emergency             bool
	Conference            bool
	VideoCallingSupported bool
	VideoState            VideoState
	Extras                map[string]string
	Clock                 Clock
}

// Call is one call attempt or session.
//
// A Call is owned by the orchestrator goroutine and is not safe for
// concurrent use. Other goroutines read it through Info snapshots.
type Call struct {
	id        ID
	direction Direction
	state     State

	handle            string
	callerDisplayName string
	account           AccountHandle
	provider          string
	connectionID      string

	selfManaged           bool
	emergency             bool
	conference            bool
	videoCallingSupported bool
	silenced              bool
	locallyDisconnecting  bool

	capabilities      Capabilities
	properties        Properties
	videoState        VideoState
	videoStateHistory VideoState
	audioRoutes       audio.RouteMask
	extras            map[string]string

	parent      ID
	children    []ID
	activeChild ID

	handoverSource      ID
	handoverDestination ID
	handoverState       HandoverState

	clock             Clock
	createdAt         time.Time
	connected         bool
	connectTime       time.Time
	connectElapsed    time.Duration
	disconnectTime    time.Time
	disconnectElapsed time.Duration

	disconnectCause *DisconnectCause
	overrideCause   *DisconnectCause

	attempt   *CreateAttempt
	listeners []Listener
}

func New(p Params) *Call {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock()
	}
	c := &Call{
		id:                    nextID(),
		direction:             p.Direction,
		state:                 StateNew,
		handle:                p.Handle,
		callerDisplayName:     p.CallerDisplayName,
		account:               p.Account,
		selfManaged:           p.SelfManaged,
		emergency:             p.Emergency,
		conference:            p.Conference,
		videoCallingSupported: p.VideoCallingSupported,
		audioRoutes:           audio.RouteAll,
		extras:                maps.Clone(p.Extras),
		clock:                 clock,
		createdAt:             clock.Now(),
	}
	if c.extras == nil {
		c.extras = map[string]string{}
	}
	if c.selfManaged {
		c.properties = PropSelfManaged
	}
	c.videoState = c.allowedVideoState(p.VideoState)
	return c
}

func (c *Call) String() string {
	return fmt.Sprintf("[%s, %s, %s, %s]", c.id, c.state, c.direction, c.account)
}

func (c *Call) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

func (c *Call) RemoveListener(l Listener) {
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Call) notify(change Change) {
	for _, l := range c.listeners {
		l.OnCallChanged(c, change)
	}
}

func (c *Call) log() *logger.Logger {
	return logger.WithField("call_id", c.id.String())
}

// Accessors

func (c *Call) ID() ID                                { return c.id }
func (c *Call) Direction() Direction                  { return c.direction }
func (c *Call) State() State                          { return c.state }
func (c *Call) Handle() string                        { return c.handle }
func (c *Call) CallerDisplayName() string             { return c.callerDisplayName }
func (c *Call) Account() AccountHandle                { return c.account }
func (c *Call) Provider() string                      { return c.provider }
func (c *Call) ConnectionID() string                  { return c.connectionID }
func (c *Call) Capabilities() Capabilities            { return c.capabilities }
func (c *Call) Properties() Properties                { return c.properties }
func (c *Call) VideoState() VideoState                { return c.videoState }
func (c *Call) VideoStateHistory() VideoState         { return c.videoStateHistory }
func (c *Call) SupportedAudioRoutes() audio.RouteMask { return c.audioRoutes }
func (c *Call) Parent() ID                            { return c.parent }
func (c *Call) ActiveChild() ID                       { return c.activeChild }
func (c *Call) HandoverSource() ID                    { return c.handoverSource }
func (c *Call) HandoverDestination() ID               { return c.handoverDestination }
func (c *Call) HandoverState() HandoverState          { return c.handoverState }
func (c *Call) CreatedAt() time.Time                  { return c.createdAt }
func (c *Call) ConnectTime() time.Time                { return c.connectTime }
func (c *Call) DisconnectTime() time.Time             { return c.disconnectTime }
func (c *Call) Attempt() *CreateAttempt               { return c.attempt }

func (c *Call) IsIncoming() bool             { return c.direction == DirectionIncoming }
func (c *Call) IsOutgoing() bool             { return c.direction == DirectionOutgoing }
func (c *Call) IsSelfManaged() bool          { return c.selfManaged }
func (c *Call) IsEmergency() bool            { return c.emergency }
func (c *Call) IsConference() bool           { return c.conference }
func (c *Call) IsExternal() bool             { return c.properties.Has(PropExternal) }
func (c *Call) IsSilenced() bool             { return c.silenced }
func (c *Call) IsVideo() bool                { return c.videoState.IsVideo() }
func (c *Call) Can(want Capabilities) bool   { return c.capabilities.Has(want) }
func (c *Call) IsLocallyDisconnecting() bool { return c.locallyDisconnecting }

// IsAlive is true for every state other than disconnected and aborted.
func (c *Call) IsAlive() bool {
	return c.state != StateDisconnected && c.state != StateAborted
}

func (c *Call) Children() []ID {
	out := make([]ID, len(c.children))
	copy(out, c.children)
	return out
}

func (c *Call) Extras() map[string]string { return maps.Clone(c.extras) }

func (c *Call) Extra(key string) (string, bool) {
	v, ok := c.extras[key]
	return v, ok
}

// DisconnectCause is the recorded cause, or the zero cause if none was set.
func (c *Call) DisconnectCause() DisconnectCause {
	if c.disconnectCause == nil {
		return DisconnectCause{}
	}
	return *c.disconnectCause
}

// Age is the connected duration measured on the monotonic clock. Calls that
// never connected, and calls that were rejected or missed, have no age.
func (c *Call) Age() time.Duration {
	if c.disconnectCause != nil &&
		(c.disconnectCause.Code == DisconnectRejected || c.disconnectCause.Code == DisconnectMissed) {
		return 0
	}
	if !c.connected {
		return 0
	}
	if c.state != StateDisconnected {
		return c.clock.Elapsed() - c.connectElapsed
	}
	return c.disconnectElapsed - c.connectElapsed
}

// Mutators

func (c *Call) SetHandle(handle string) {
	if c.handle == handle {
		return
	}
	c.handle = handle
	c.notify(ChangeHandle)
}

func (c *Call) SetCallerDisplayName(name string) {
	if c.callerDisplayName == name {
		return
	}
	c.callerDisplayName = name
	c.notify(ChangeCallerDisplayName)
}

// SetAccount retargets the call, re-applying the account's video policy.
func (c *Call) SetAccount(handle AccountHandle, videoCallingSupported bool) {
	if c.account == handle && c.videoCallingSupported == videoCallingSupported {
		return
	}
	c.account = handle
	c.videoCallingSupported = videoCallingSupported
	c.notify(ChangeAccount)
	c.SetConnectionCapabilities(c.capabilities, true)
	c.SetVideoState(c.videoState)
}

// SetConnectionCapabilities applies caps, removing video capabilities when the
// account cannot carry video. force notifies even when nothing changed.
func (c *Call) SetConnectionCapabilities(caps Capabilities, force bool) {
	if !c.videoCallingSupported {
		caps = caps.Remove(CapVideo)
	}
	if !force && caps == c.capabilities {
		return
	}
	previous := c.capabilities
	c.capabilities = caps
	xor := previous ^ caps
	c.log().WithFields(map[string]interface{}{
		"removed": (previous & xor).String(),
		"added":   (caps & xor).String(),
	}).Debug("Capabilities changed")
	c.notify(ChangeCapabilities)
}

// SetConnectionProperties applies props. The self-managed bit always mirrors
// how the call was created; providers cannot change it.
func (c *Call) SetConnectionProperties(props Properties) {
	if c.selfManaged {
		props = props.Add(PropSelfManaged)
	} else {
		props = props.Remove(PropSelfManaged)
	}
	changed := c.properties ^ props
	if changed == 0 {
		return
	}
	previous := c.properties
	c.properties = props
	c.notify(ChangeProperties)

	if previous.Has(PropExternal) != props.Has(PropExternal) {
		c.log().WithField("external", props.Has(PropExternal)).Debug("External state changed")
		c.notify(ChangeExternal)
	}
}

func (c *Call) allowedVideoState(v VideoState) VideoState {
	if !c.videoCallingSupported {
		return VideoAudioOnly
	}
	return v
}

// SetVideoState records v, downgraded to audio-only when video is not supported.
func (c *Call) SetVideoState(v VideoState) {
	v = c.allowedVideoState(v)
	if c.state == StateActive || c.state == StateDisconnected {
		c.videoStateHistory |= v
	}
	if v == c.videoState {
		return
	}
	c.videoState = v
	c.notify(ChangeVideoState)
}

// SetExtras replaces the extras wholesale.
func (c *Call) SetExtras(extras map[string]string) {
	if maps.Equal(c.extras, extras) {
		return
	}
	c.extras = maps.Clone(extras)
	if c.extras == nil {
		c.extras = map[string]string{}
	}
	c.notify(ChangeExtras)
}

// PutExtras merges extras into the existing set.
func (c *Call) PutExtras(extras map[string]string) {
	changed := false
	for k, v := range extras {
		if old, ok := c.extras[k]; !ok || old != v {
			c.extras[k] = v
			changed = true
		}
	}
	if changed {
		c.notify(ChangeExtras)
	}
}

func (c *Call) RemoveExtras(keys ...string) {
	changed := false
	for _, k := range keys {
		if _, ok := c.extras[k]; ok {
			delete(c.extras, k)
			changed = true
		}
	}
	if changed {
		c.notify(ChangeExtras)
	}
}

func (c *Call) SetSupportedAudioRoutes(m audio.RouteMask) {
	if m == 0 {
		m = audio.RouteAll
	}
	if c.audioRoutes == m {
		return
	}
	c.audioRoutes = m
	c.notify(ChangeSupportedAudioRoutes)
}

func (c *Call) SetSilenced(silenced bool) { c.silenced = silenced }

func (c *Call) SetLocallyDisconnecting(v bool) { c.locallyDisconnecting = v }

// SetConnection binds the call to the provider connection that now carries it.
func (c *Call) SetConnection(provider, connectionID string) {
	c.provider = provider
	c.connectionID = connectionID
}

func (c *Call) ClearConnection() {
	c.provider = ""
	c.connectionID = ""
}

func (c *Call) SetAttempt(a *CreateAttempt) { c.attempt = a }

// SetDisconnectCause stores the cause that will be frozen when the call
// enters the disconnected state. An override cause, when present, wins.
func (c *Call) SetDisconnectCause(cause DisconnectCause) {
	if c.state == StateDisconnected && c.disconnectCause != nil {
		return
	}
	if c.overrideCause != nil {
		cause = *c.overrideCause
	}
	c.disconnectCause = &cause
}

// SetOverrideDisconnectCause marks the cause the user should see no matter
// what the provider later reports.
func (c *Call) SetOverrideDisconnectCause(cause DisconnectCause) {
	c.overrideCause = &cause
}

// ClearPendingDisconnectCause forgets a cause recorded for a disconnect that
// did not happen, so a retried placement starts clean.
func (c *Call) ClearPendingDisconnectCause() {
	if c.state != StateDisconnected {
		c.disconnectCause = nil
	}
}

// beingPlaced mirrors the window in which an outgoing placement can still be retried.
func (c *Call) beingPlaced() bool {
	return c.direction == DirectionOutgoing &&
		c.state.In(StateNew, StateConnecting, StateDialing, StatePulling)
}

func (c *Call) shouldContinueAfterDisconnect() bool {
	if !c.beingPlaced() || !c.emergency {
		return false
	}
	if c.attempt == nil || !c.attempt.IsComplete() || !c.attempt.HasMore() {
		return false
	}
	if c.disconnectCause == nil {
		return false
	}
	return c.disconnectCause.Code == DisconnectError || c.attempt.TimedOut()
}

// SetState moves the call to newState and reports whether it did.
//
// The transition is not validated. The only refusal is a disconnect that can
// be recovered by trying the next candidate account for an emergency call,
// in which case the attempt's retry hook runs instead.
func (c *Call) SetState(newState State) bool {
	if c.state == newState {
		return false
	}
	if newState == StateDisconnected && c.shouldContinueAfterDisconnect() {
		c.log().WithField("cause", c.disconnectCause.String()).
			Warn("Suppressing disconnect, retrying with the next candidate account")
		if c.attempt.retry != nil {
			c.attempt.retry(c)
		}
		return false
	}

	old := c.state
	c.updateVideoHistory(old, newState)
	c.state = newState

	switch newState {
	case StateActive, StateOnHold:
		if !c.connected {
			c.connected = true
			c.connectTime = c.clock.Now()
			c.connectElapsed = c.clock.Elapsed()
		}
		c.disconnectTime = time.Time{}
		c.disconnectElapsed = 0
	case StateDisconnected:
		c.disconnectTime = c.clock.Now()
		c.disconnectElapsed = c.clock.Elapsed()
		c.locallyDisconnecting = false
		if c.disconnectCause == nil {
			cause := DisconnectCause{Code: DisconnectUnknown}
			if c.overrideCause != nil {
				cause = *c.overrideCause
			}
			c.disconnectCause = &cause
		}
	}
	return true
}

func (c *Call) updateVideoHistory(old, next State) {
	if (old == StateDialing || old == StateRinging) && next == StateActive {
		c.videoStateHistory = c.videoState
		return
	}
	if next == StateActive || next == StateDisconnected {
		c.videoStateHistory |= c.videoState
	}
}

// Handover linkage

// SetHandoverSource marks c as the destination of a handover from id.
// A call that is already a handover source cannot also be a destination.
func (c *Call) SetHandoverSource(id ID) bool {
	if id != 0 && c.handoverDestination != 0 {
		return false
	}
	c.handoverSource = id
	return true
}

// SetHandoverDestination marks c as the source of a handover to id.
func (c *Call) SetHandoverDestination(id ID) bool {
	if id != 0 && c.handoverSource != 0 {
		return false
	}
	c.handoverDestination = id
	return true
}

// SetHandoverState advances the handover state by one step. Non-adjacent
// moves are refused and logged.
func (c *Call) SetHandoverState(s HandoverState) bool {
	if s == c.handoverState {
		return false
	}
	if !canAdvance(c.handoverState, s) {
		c.log().WithFields(map[string]interface{}{
			"from": c.handoverState.String(),
			"to":   s.String(),
		}).Warn("Refusing non-adjacent handover state change")
		return false
	}
	c.handoverState = s
	c.notify(ChangeHandoverState)
	return true
}

// ClearHandover drops both links; the state is kept for observers.
func (c *Call) ClearHandover() {
	c.handoverSource = 0
	c.handoverDestination = 0
}

// Info is an immutable snapshot of a Call, safe to hand to other goroutines.
type Info struct {
	ID                  ID
	Direction           Direction
	State               State
	Handle              string
	CallerDisplayName   string
	Account             AccountHandle
	Provider            string
	ConnectionID        string
	SelfManaged         bool
	Emergency           bool
	Conference          bool
	External            bool
	Silenced            bool
	Capabilities        Capabilities
	Properties          Properties
	VideoState          VideoState
	VideoStateHistory   VideoState
	Parent              ID
	Children            []ID
	ActiveChild         ID
	HandoverSource      ID
	HandoverDestination ID
	HandoverState       HandoverState
	CreatedAt           time.Time
	ConnectTime         time.Time
	DisconnectTime      time.Time
	DisconnectCause     DisconnectCause
	Age                 time.Duration
	Extras              map[string]string
}

func (c *Call) Info() Info {
	return Info{
		ID:                  c.id,
		Direction:           c.direction,
		State:               c.state,
		Handle:              c.handle,
		CallerDisplayName:   c.callerDisplayName,
		Account:             c.account,
		Provider:            c.provider,
		ConnectionID:        c.connectionID,
		SelfManaged:         c.selfManaged,
		Emergency:           c.emergency,
		Conference:          c.conference,
		External:            c.IsExternal(),
		Silenced:            c.silenced,
		Capabilities:        c.capabilities,
		Properties:          c.properties,
		VideoState:          c.videoState,
		VideoStateHistory:   c.videoStateHistory,
		Parent:              c.parent,
		Children:            c.Children(),
		ActiveChild:         c.activeChild,
		HandoverSource:      c.handoverSource,
		HandoverDestination: c.handoverDestination,
		HandoverState:       c.handoverState,
		CreatedAt:           c.createdAt,
		ConnectTime:         c.connectTime,
		DisconnectTime:      c.disconnectTime,
		DisconnectCause:     c.DisconnectCause(),
		Age:                 c.Age(),
		Extras:              c.Extras(),
	}
}
