package call

import "strings"

// Capabilities are the connection features reported by the provider.
type Capabilities uint32

const (
	CapHold Capabilities = 1 << iota
	CapSupportHold
	CapMergeConference
	CapSwapConference
	CapRespondViaText
	CapMute
	CapManageConference
	CapVideoLocalRx
	CapVideoLocalTx
	CapVideoRemoteRx
	CapVideoRemoteTx
	CapSeparateFromConference
	CapDisconnectFromConference
	CapCanPauseVideo
	CapCanPullCall
	CapSupportDeflect

	CapVideoLocal  = CapVideoLocalRx | CapVideoLocalTx
	CapVideoRemote = CapVideoRemoteRx | CapVideoRemoteTx
	CapVideo       = CapVideoLocal | CapVideoRemote
)

var capabilityNames = []struct {
	flag Capabilities
	name string
}{
	{CapHold, "hold"},
	{CapSupportHold, "support_hold"},
	{CapMergeConference, "merge_conference"},
	{CapSwapConference, "swap_conference"},
	{CapRespondViaText, "respond_via_text"},
	{CapMute, "mute"},
	{CapManageConference, "manage_conference"},
	{CapVideoLocalRx, "video_local_rx"},
	{CapVideoLocalTx, "video_local_tx"},
	{CapVideoRemoteRx, "video_remote_rx"},
	{CapVideoRemoteTx, "video_remote_tx"},
	{CapSeparateFromConference, "separate_from_conference"},
	{CapDisconnectFromConference, "disconnect_from_conference"},
	{CapCanPauseVideo, "pause_video"},
	{CapCanPullCall, "pull_call"},
	{CapSupportDeflect, "deflect"},
}

func (c Capabilities) Has(flag Capabilities) bool { return c&flag == flag }

func (c Capabilities) Add(flag Capabilities) Capabilities    { return c | flag }
func (c Capabilities) Remove(flag Capabilities) Capabilities { return c &^ flag }

// SupportsVideo is true when either local or remote bidirectional video is possible.
func (c Capabilities) SupportsVideo() bool {
	return c.Has(CapVideoLocal) || c.Has(CapVideoRemote)
}

func (c Capabilities) String() string {
	var parts []string
	for _, n := range capabilityNames {
		if c.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Properties are connection attributes; unlike capabilities they describe
// the call rather than what can be done with it.
type Properties uint32

const (
	PropEmergencyCallbackMode Properties = 1 << iota
	PropWifi
	PropHighDefAudio
	PropExternal
	PropRTT
	PropSelfManaged
	PropRemotelyHosted
	PropDowngradedConference
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropEmergencyCallbackMode, "ecbm"},
	{PropWifi, "wifi"},
	{PropHighDefAudio, "hd_audio"},
	{PropExternal, "external"},
	{PropRTT, "rtt"},
	{PropSelfManaged, "self_managed"},
	{PropRemotelyHosted, "remotely_hosted"},
	{PropDowngradedConference, "downgraded_conference"},
}

func (p Properties) Has(flag Properties) bool { return p&flag == flag }

func (p Properties) Add(flag Properties) Properties    { return p | flag }
func (p Properties) Remove(flag Properties) Properties { return p &^ flag }

func (p Properties) String() string {
	var parts []string
	for _, n := range propertyNames {
		if p.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// VideoState is a bitmask of transmit/receive/paused.
type VideoState uint8

const (
	VideoAudioOnly     VideoState = 0
	VideoTx            VideoState = 1 << 0
	VideoRx            VideoState = 1 << 1
	VideoBidirectional            = VideoTx | VideoRx
	VideoPaused        VideoState = 1 << 2
)

// IsVideo is true when video is transmitted or received.
func (v VideoState) IsVideo() bool { return v&VideoBidirectional != 0 }

func (v VideoState) String() string {
	if v == VideoAudioOnly {
		return "audio_only"
	}
	var parts []string
	if v&VideoTx != 0 {
		parts = append(parts, "tx")
	}
	if v&VideoRx != 0 {
		parts = append(parts, "rx")
	}
	if v&VideoPaused != 0 {
		parts = append(parts, "paused")
	}
	return strings.Join(parts, "|")
}
