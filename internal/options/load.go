package options

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCREENREC_VIDEO_FRAMERATE=60.
const EnvPrefix = "SCREENREC"

// Load reads recording options from path (yaml, toml or json, picked by
// extension) on top of Default. An empty path yields defaults plus any
// environment overrides.
func Load(path string) (Options, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, fmt.Errorf("failed to read options %s: %w", path, err)
		}
	}
	return Decode(v)
}

// NewViper returns a viper instance primed with defaults and env bindings.
// The CLI binds its flags onto the same instance before calling Decode.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("mode", int(d.Mode))
	v.SetDefault("hardware_encoding", d.HardwareEncoding)
	v.SetDefault("fast_start", d.FastStart)
	v.SetDefault("throttling_disabled", d.ThrottlingDisabled)
	v.SetDefault("low_latency", d.LowLatency)
	v.SetDefault("video.framerate", d.Video.Framerate)
	v.SetDefault("video.bitrate", d.Video.Bitrate)
	v.SetDefault("video.fixed_framerate", d.Video.FixedFramerate)
	v.SetDefault("video.mouse_pointer", d.Video.MousePointer)
	v.SetDefault("video.profile", int(d.Video.Profile))
	v.SetDefault("audio.enabled", d.Audio.Enabled)
	v.SetDefault("audio.bitrate", int(d.Audio.Bitrate))
	v.SetDefault("audio.channels", int(d.Audio.Channels))
	v.SetDefault("display.monitor", d.Display.Monitor)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals the viper state into Options. Enum fields accept either
// names ("high", "128kbps", "stereo", "slideshow") or their numeric codes.
func Decode(v *viper.Viper) (Options, error) {
	var o Options
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&o, hook); err != nil {
		return Options{}, fmt.Errorf("failed to parse options: %w", err)
	}
	if o.Display.Crop != nil && o.Display.Crop.Empty() {
		o.Display.Crop = nil
	}
	return o, nil
}
