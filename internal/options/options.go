// Package options describes what a recording captures and how the capture
// engine should encode it. Values are plain data; the engine validates them.
package options

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects what the engine produces.
type Mode int

const (
	ModeVideo     Mode = 0 // Single encoded video file
	ModeSlideshow Mode = 1 // One image per captured frame plus frame delays
	ModeSnapshot  Mode = 2 // A single still image
)

// H264Profile values are the profile_idc codes passed to the encoder.
type H264Profile int

const (
	ProfileBaseline H264Profile = 66
	ProfileMain     H264Profile = 77
	ProfileHigh     H264Profile = 100
)

// AudioBitrate values are encoder byte-rate tiers, not kbps.
type AudioBitrate int

const (
	AudioBitrate96kbps  AudioBitrate = 12000
	AudioBitrate128kbps AudioBitrate = 16000
	AudioBitrate160kbps AudioBitrate = 20000
	AudioBitrate192kbps AudioBitrate = 24000
)

// AudioChannels is the channel count handed to the audio encoder.
type AudioChannels int

const (
	ChannelsMono         AudioChannels = 1
	ChannelsStereo       AudioChannels = 2
	ChannelsFivePointOne AudioChannels = 6
)

// Rect is a crop rectangle in display coordinates.
type Rect struct {
	Left   int `mapstructure:"left" json:"left"`
	Top    int `mapstructure:"top" json:"top"`
	Right  int `mapstructure:"right" json:"right"`
	Bottom int `mapstructure:"bottom" json:"bottom"`
}

// Empty reports whether the rectangle selects nothing, which means "whole display".
func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Video holds video encoder settings.
type Video struct {
	Framerate      int         `mapstructure:"framerate" json:"framerate"`             // frames per second
	Bitrate        int         `mapstructure:"bitrate" json:"bitrate"`                 // bits per second
	FixedFramerate bool        `mapstructure:"fixed_framerate" json:"fixed_framerate"` // duplicate frames to hold the rate
	MousePointer   bool        `mapstructure:"mouse_pointer" json:"mouse_pointer"`
	Profile        H264Profile `mapstructure:"profile" json:"profile"`
}

// Audio holds audio capture settings.
type Audio struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Bitrate  AudioBitrate  `mapstructure:"bitrate" json:"bitrate"`
	Channels AudioChannels `mapstructure:"channels" json:"channels"`
}

// Display selects the monitor and optional crop region.
type Display struct {
	Monitor int   `mapstructure:"monitor" json:"monitor"`
	Crop    *Rect `mapstructure:"crop" json:"crop,omitempty"`
}

// Options is the full recording configuration.
type Options struct {
	Mode               Mode    `mapstructure:"mode" json:"mode"`
	HardwareEncoding   bool    `mapstructure:"hardware_encoding" json:"hardware_encoding"`
	FastStart          bool    `mapstructure:"fast_start" json:"fast_start"` // front-loaded mp4 header, needs a seekable sink
	ThrottlingDisabled bool    `mapstructure:"throttling_disabled" json:"throttling_disabled"`
	LowLatency         bool    `mapstructure:"low_latency" json:"low_latency"`
	Video              Video   `mapstructure:"video" json:"video"`
	Audio              Audio   `mapstructure:"audio" json:"audio"`
	Display            Display `mapstructure:"display" json:"display"`
}

// Default returns the options a session uses when none are supplied.
func Default() Options {
	return Options{
		Mode:             ModeVideo,
		HardwareEncoding: true,
		FastStart:        true,
		Video: Video{
			Framerate:    30,
			Bitrate:      4000 * 1000,
			MousePointer: true,
			Profile:      ProfileBaseline,
		},
		Audio: Audio{
			Bitrate:  AudioBitrate96kbps,
			Channels: ChannelsStereo,
		},
	}
}

// Clone returns a deep copy so callers cannot mutate a running session's view.
func (o Options) Clone() Options {
	c := o
	if o.Display.Crop != nil {
		crop := *o.Display.Crop
		c.Display.Crop = &crop
	}
	return c
}

func (m Mode) String() string {
	switch m {
	case ModeVideo:
		return "video"
	case ModeSlideshow:
		return "slideshow"
	case ModeSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// UnmarshalText accepts a mode name or its numeric code.
func (m *Mode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "video":
		*m = ModeVideo
	case "slideshow":
		*m = ModeSlideshow
	case "snapshot":
		*m = ModeSnapshot
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n < int(ModeVideo) || n > int(ModeSnapshot) {
			return fmt.Errorf("unknown recorder mode %q", s)
		}
		*m = Mode(n)
	}
	return nil
}

func (p H264Profile) String() string {
	switch p {
	case ProfileBaseline:
		return "baseline"
	case ProfileMain:
		return "main"
	case ProfileHigh:
		return "high"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

// UnmarshalText accepts a profile name or its profile_idc code.
func (p *H264Profile) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "baseline", "66":
		*p = ProfileBaseline
	case "main", "77":
		*p = ProfileMain
	case "high", "100":
		*p = ProfileHigh
	default:
		return fmt.Errorf("unknown h264 profile %q", s)
	}
	return nil
}

// Kbps returns the nominal bitrate of the tier.
func (b AudioBitrate) Kbps() int {
	return int(b) * 8 / 1000
}

func (b AudioBitrate) String() string {
	return fmt.Sprintf("%dkbps", b.Kbps())
}

// UnmarshalText accepts "128kbps", "128" (kbps) or the raw tier code "16000".
func (b *AudioBitrate) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	s = strings.TrimSuffix(s, "kbps")
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("unknown audio bitrate %q", string(text))
	}
	for _, tier := range []AudioBitrate{AudioBitrate96kbps, AudioBitrate128kbps, AudioBitrate160kbps, AudioBitrate192kbps} {
		if n == int(tier) || n == tier.Kbps() {
			*b = tier
			return nil
		}
	}
	return fmt.Errorf("unsupported audio bitrate %q", string(text))
}

func (c AudioChannels) String() string {
	switch c {
	case ChannelsMono:
		return "mono"
	case ChannelsStereo:
		return "stereo"
	case ChannelsFivePointOne:
		return "5.1"
	default:
		return fmt.Sprintf("channels(%d)", int(c))
	}
}

// UnmarshalText accepts a layout name or the channel count.
func (c *AudioChannels) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "mono", "1":
		*c = ChannelsMono
	case "stereo", "2":
		*c = ChannelsStereo
	case "5.1", "surround", "fivepointone", "6":
		*c = ChannelsFivePointOne
	default:
		return fmt.Errorf("unknown audio channel layout %q", s)
	}
	return nil
}
