// Package domain holds the value types shared across the discovery,
// protocol client, session, and control-plane packages.
package domain

// Protocol identifies which of the three supported casting protocols a
// Device speaks.
type Protocol string

const (
	ProtocolChromecast Protocol = "chromecast"
	ProtocolDLNA       Protocol = "dlna"
	ProtocolAirPlay    Protocol = "airplay"
)

// Device is a single discovered cast endpoint, keyed by a stable,
// protocol-namespaced id. See I1: the id is never reassigned to a
// different physical endpoint within one process run.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Protocol     Protocol     `json:"protocol"`
	Address      string       `json:"address"`
	Port         int          `json:"port"`
	Capabilities Capabilities `json:"capabilities"`

	// DLNA-only: control URLs extracted from the device description.
	// Empty for chromecast/airplay devices.
	AVTransportControlURL    string `json:"avTransportControlURL,omitempty"`
	RenderingControlURL      string `json:"renderingControlURL,omitempty"`
	DescriptionLocation      string `json:"-"`
}

// Capabilities is a reasonable protocol-default capability set; §4.2.1
// fixes the chromecast/airplay defaults, §4.2.2 has no capability
// requirement for DLNA beyond whatever the description declares (DLNA
// devices get a narrower fixed default; see DefaultCapabilities).
type Capabilities struct {
	VideoCodecs []string `json:"videoCodecs"`
	AudioCodecs []string `json:"audioCodecs"`
	HDR         bool     `json:"hdr"`
	DolbyVision bool     `json:"dolbyVision"`
}

// DefaultCapabilities returns the §4.2.1 protocol-default capability set.
func DefaultCapabilities(p Protocol) Capabilities {
	switch p {
	case ProtocolChromecast:
		return Capabilities{
			VideoCodecs: []string{"h264", "hevc", "vp8", "vp9"},
			AudioCodecs: []string{"aac", "mp3", "opus"},
			HDR:         true,
			DolbyVision: false,
		}
	case ProtocolAirPlay:
		return Capabilities{
			VideoCodecs: []string{"h264", "hevc"},
			AudioCodecs: []string{"aac"},
			HDR:         true,
			DolbyVision: true,
		}
	default: // dlna: the description XML does not reliably enumerate codecs
		return Capabilities{
			VideoCodecs: []string{"h264"},
			AudioCodecs: []string{"aac", "mp3"},
			HDR:         false,
			DolbyVision: false,
		}
	}
}
