package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tiroq/screenrec/internal/obsws"
	"github.com/tiroq/screenrec/internal/options"
)

// ErrInvalidOptions is wrapped by OptionsError.
var ErrInvalidOptions = errors.New("invalid recording options")

const maxFramerate = 120

// ValidateOptions checks o for values no engine can honour. Warnings note
// settings the selected mode ignores.
func ValidateOptions(o options.Options) *ValidationResult {
	result := &ValidationResult{OK: true}
	fail := func(issue, fix string) {
		result.OK = false
		result.Issues = append(result.Issues, issue)
		if fix != "" {
			result.Fixes = append(result.Fixes, fix)
		}
	}

	switch o.Mode {
	case options.ModeVideo, options.ModeSlideshow, options.ModeSnapshot:
	default:
		fail(fmt.Sprintf("unknown mode %s", o.Mode), "Use mode video, slideshow or snapshot")
	}

	if o.Mode != options.ModeSnapshot {
		if o.Video.Framerate <= 0 || o.Video.Framerate > maxFramerate {
			fail(fmt.Sprintf("framerate %d out of range (1-%d)", o.Video.Framerate, maxFramerate), "Set video.framerate, e.g. 30")
		}
	}
	if o.Mode == options.ModeVideo && o.Video.Bitrate <= 0 {
		fail(fmt.Sprintf("video bitrate %d must be positive", o.Video.Bitrate), "Set video.bitrate in bits per second, e.g. 4000000")
	}

	switch o.Video.Profile {
	case options.ProfileBaseline, options.ProfileMain, options.ProfileHigh:
	default:
		fail(fmt.Sprintf("unknown H.264 profile %s", o.Video.Profile), "Use baseline, main or high")
	}

	switch o.Audio.Bitrate {
	case options.AudioBitrate96kbps, options.AudioBitrate128kbps, options.AudioBitrate160kbps, options.AudioBitrate192kbps:
	default:
		fail(fmt.Sprintf("unsupported audio bitrate %d", int(o.Audio.Bitrate)), "Use 96kbps, 128kbps, 160kbps or 192kbps")
	}
	switch o.Audio.Channels {
	case options.ChannelsMono, options.ChannelsStereo, options.ChannelsFivePointOne:
	default:
		fail(fmt.Sprintf("unsupported channel count %d", int(o.Audio.Channels)), "Use mono, stereo or 5.1")
	}

	if o.Display.Monitor < 0 {
		fail(fmt.Sprintf("monitor index %d is negative", o.Display.Monitor), "")
	}
	if c := o.Display.Crop; c != nil {
		if c.Left < 0 || c.Top < 0 {
			fail("crop rectangle starts off-screen", "Use non-negative crop.left and crop.top")
		} else if c.Empty() {
			result.Warnings = append(result.Warnings, "crop rectangle is empty, recording the whole display")
		}
	}

	if o.Audio.Enabled && o.Mode != options.ModeVideo {
		result.Warnings = append(result.Warnings, fmt.Sprintf("audio is ignored in %s mode", o.Mode))
	}

	if result.OK {
		result.Message = fmt.Sprintf("%s options are valid", o.Mode)
	} else {
		result.Message = fmt.Sprintf("%d invalid option(s)", len(result.Issues))
	}
	return result
}

// OptionsError reports every issue ValidateOptions found.
type OptionsError struct {
	Issues []string
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidOptions, strings.Join(e.Issues, "; "))
}

func (e *OptionsError) Unwrap() error {
	return ErrInvalidOptions
}

// CheckOptions is ValidateOptions as an error.
func CheckOptions(o options.Options) error {
	if r := ValidateOptions(o); !r.OK {
		return &OptionsError{Issues: r.Issues}
	}
	return nil
}

// FixesForError returns troubleshooting hints for an error from the OBS
// client.
func FixesForError(err error) []string {
	if err == nil {
		return nil
	}
	var reqErr *obsws.RequestError
	if errors.As(err, &reqErr) {
		return SuggestedFixes(reqErr.Code, reqErr.Comment)
	}
	if errors.Is(err, obsws.ErrRequestTimeout) {
		return timeoutFixes()
	}
	if errors.Is(err, obsws.ErrNotConnected) {
		return SuggestedFixes(0, "not connected")
	}
	return SuggestedFixes(0, err.Error())
}
