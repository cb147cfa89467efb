package audio

import "sync"

// Hardware is the device layer the state machine drives. Every setter is
// only called after the matching getter shows a change is needed.
type Hardware interface {
	SpeakerphoneOn() bool
	SetSpeakerphone(on bool)

	BluetoothAudioConnected() bool
	ConnectBluetoothAudio()
	DisconnectBluetoothAudio()

	MicrophoneMuted() bool
	SetMicrophoneMute(muted bool)
}

// MemoryHardware is an in-process Hardware that counts the changes issued
// against it. It is used by the simulator and by tests.
type MemoryHardware struct {
	mu       sync.Mutex
	speaker  bool
	btAudio  bool
	micMuted bool
	toggles  int
	onChange func()
}

func NewMemoryHardware() *MemoryHardware {
	return &MemoryHardware{}
}

// OnChange registers fn to run after every hardware change.
func (h *MemoryHardware) OnChange(fn func()) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

func (h *MemoryHardware) SpeakerphoneOn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speaker
}

func (h *MemoryHardware) SetSpeakerphone(on bool) {
	h.set(func() { h.speaker = on })
}

func (h *MemoryHardware) BluetoothAudioConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.btAudio
}

func (h *MemoryHardware) ConnectBluetoothAudio() {
	h.set(func() { h.btAudio = true })
}

func (h *MemoryHardware) DisconnectBluetoothAudio() {
	h.set(func() { h.btAudio = false })
}

func (h *MemoryHardware) MicrophoneMuted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.micMuted
}

func (h *MemoryHardware) SetMicrophoneMute(muted bool) {
	h.set(func() { h.micMuted = muted })
}

// Toggles is the number of changes issued so far.
func (h *MemoryHardware) Toggles() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.toggles
}

func (h *MemoryHardware) set(apply func()) {
	h.mu.Lock()
	apply()
	h.toggles++
	fn := h.onChange
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
