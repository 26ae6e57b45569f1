package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	d := Default()

	assert.Equal(t, ModeVideo, d.Mode)
	assert.True(t, d.HardwareEncoding)
	assert.True(t, d.FastStart)
	assert.False(t, d.ThrottlingDisabled)
	assert.False(t, d.LowLatency)
	assert.Equal(t, 30, d.Video.Framerate)
	assert.Equal(t, 4000000, d.Video.Bitrate)
	assert.True(t, d.Video.MousePointer)
	assert.Equal(t, ProfileBaseline, d.Video.Profile)
	assert.False(t, d.Audio.Enabled)
	assert.Equal(t, AudioBitrate96kbps, d.Audio.Bitrate)
	assert.Equal(t, ChannelsStereo, d.Audio.Channels)
	assert.Nil(t, d.Display.Crop)
}

func TestPinnedCodes(t *testing.T) {
	// These values cross into the encoder and must never be renumbered.
	assert.Equal(t, 66, int(ProfileBaseline))
	assert.Equal(t, 77, int(ProfileMain))
	assert.Equal(t, 100, int(ProfileHigh))
	assert.Equal(t, 12000, int(AudioBitrate96kbps))
	assert.Equal(t, 16000, int(AudioBitrate128kbps))
	assert.Equal(t, 20000, int(AudioBitrate160kbps))
	assert.Equal(t, 24000, int(AudioBitrate192kbps))
	assert.Equal(t, 1, int(ChannelsMono))
	assert.Equal(t, 2, int(ChannelsStereo))
	assert.Equal(t, 6, int(ChannelsFivePointOne))
}

func TestClone_DeepCopiesCrop(t *testing.T) {
	o := Default()
	o.Display.Crop = &Rect{Left: 0, Top: 0, Right: 100, Bottom: 50}

	c := o.Clone()
	c.Display.Crop.Right = 10

	assert.Equal(t, 100, o.Display.Crop.Right)
}

func TestAudioBitrate_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want AudioBitrate
	}{
		{"96kbps", AudioBitrate96kbps},
		{"128", AudioBitrate128kbps},
		{"20000", AudioBitrate160kbps},
		{"192KBPS", AudioBitrate192kbps},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var b AudioBitrate
			require.NoError(t, b.UnmarshalText([]byte(tt.in)))
			assert.Equal(t, tt.want, b)
		})
	}

	var b AudioBitrate
	assert.Error(t, b.UnmarshalText([]byte("64kbps")))
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.yaml")
	content := `mode: slideshow
fast_start: false
video:
  framerate: 10
  profile: high
audio:
  enabled: true
  bitrate: 128kbps
  channels: mono
display:
  monitor: 1
  crop:
    left: 10
    top: 20
    right: 650
    bottom: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	o, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeSlideshow, o.Mode)
	assert.False(t, o.FastStart)
	assert.True(t, o.HardwareEncoding, "unset keys keep defaults")
	assert.Equal(t, 10, o.Video.Framerate)
	assert.Equal(t, 4000000, o.Video.Bitrate)
	assert.Equal(t, ProfileHigh, o.Video.Profile)
	assert.True(t, o.Audio.Enabled)
	assert.Equal(t, AudioBitrate128kbps, o.Audio.Bitrate)
	assert.Equal(t, ChannelsMono, o.Audio.Channels)
	assert.Equal(t, 1, o.Display.Monitor)
	require.NotNil(t, o.Display.Crop)
	assert.Equal(t, 640, o.Display.Crop.Width())
	assert.Equal(t, 480, o.Display.Crop.Height())
}

func TestLoad_NumericCodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode": 2, "video": {"profile": 77}, "audio": {"bitrate": 24000, "channels": 6}}`), 0644))

	o, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeSnapshot, o.Mode)
	assert.Equal(t, ProfileMain, o.Video.Profile)
	assert.Equal(t, AudioBitrate192kbps, o.Audio.Bitrate)
	assert.Equal(t, ChannelsFivePointOne, o.Audio.Channels)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCREENREC_VIDEO_FRAMERATE", "60")
	t.Setenv("SCREENREC_MODE", "snapshot")

	o, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60, o.Video.Framerate)
	assert.Equal(t, ModeSnapshot, o.Mode)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("video:\n  profile: extreme\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
