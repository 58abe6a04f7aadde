package media

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/samber/lo"
)

// Codec is a video codec
type Codec string

const (
	CodecVP8  Codec = "vp8"
	CodecVP9  Codec = "vp9"
	CodecH264 Codec = "h264"
)

// MimeType returns the RTP mime type of the codec.
func (c Codec) MimeType() string {
	switch c {
	case CodecVP9:
		return webrtc.MimeTypeVP9
	case CodecH264:
		return webrtc.MimeTypeH264
	default:
		return webrtc.MimeTypeVP8
	}
}

// codecFromFourCC maps an IVF header FourCC to a codec
func codecFromFourCC(fourCC string) (Codec, bool) {
	switch fourCC {
	case "VP80":
		return CodecVP8, true
	case "VP90":
		return CodecVP9, true
	}
	return "", false
}

// Profile is a screen capture quality preset
type Profile struct {
	Name        string
	Aliases     []string
	Width       int
	Height      int
	FrameRate   int
	Bitrate     int // in kbps
	Codec       Codec
	Description string // short description for UI
}

// SampleDuration returns the duration of one frame
func (p Profile) SampleDuration() time.Duration {
	if p.FrameRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(p.FrameRate)
}

// Profiles from lowest to highest
var Profiles = []Profile{
	{Name: "480p", Aliases: []string{"lo", "low"}, Width: 848, Height: 480, FrameRate: 15, Bitrate: 500, Codec: CodecVP8, Description: "500 kbps, 15 fps"},
	{Name: "720p", Aliases: []string{"med", "medium"}, Width: 1280, Height: 720, FrameRate: 30, Bitrate: 1500, Codec: CodecVP8, Description: "1.5 Mbps, 30 fps"},
	{Name: "720p_60", Aliases: []string{"smooth"}, Width: 1280, Height: 720, FrameRate: 60, Bitrate: 3000, Codec: CodecVP8, Description: "3 Mbps, 60 fps"},
	{Name: "1080p", Aliases: []string{"hi", "high"}, Width: 1920, Height: 1080, FrameRate: 30, Bitrate: 3000, Codec: CodecVP8, Description: "3 Mbps, 30 fps"},
	{Name: "1080p_60", Aliases: []string{"ultra"}, Width: 1920, Height: 1080, FrameRate: 60, Bitrate: 6000, Codec: CodecVP9, Description: "6 Mbps, 60 fps"},
	{Name: "1440p", Aliases: []string{"extreme"}, Width: 2560, Height: 1440, FrameRate: 30, Bitrate: 10000, Codec: CodecVP9, Description: "10 Mbps, 30 fps"},
}

// DefaultProfileIndex returns the index of the default profile (720p)
func DefaultProfileIndex() int {
	return 1
}

// DefaultProfile returns the default capture profile
func DefaultProfile() Profile {
	return Profiles[DefaultProfileIndex()]
}

// ProfileByName finds a profile by name or alias (case-insensitive)
func ProfileByName(name string) (Profile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	return lo.Find(Profiles, func(p Profile) bool {
		return strings.ToLower(p.Name) == name || lo.Contains(p.Aliases, name)
	})
}

// ProfileIndex returns the index of the named profile, or the default index
// if not found
func ProfileIndex(name string) int {
	p, ok := ProfileByName(name)
	if !ok {
		return DefaultProfileIndex()
	}
	_, i, _ := lo.FindIndexOf(Profiles, func(q Profile) bool { return q.Name == p.Name })
	return i
}

// ProfileNames lists the profile names in order
func ProfileNames() []string {
	return lo.Map(Profiles, func(p Profile, _ int) string { return p.Name })
}
