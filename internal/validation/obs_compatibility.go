// Package validation checks an OBS installation and a set of recording
// options before a capture starts, and turns OBS error codes into
// troubleshooting hints.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// ValidationResult contains the result of an OBS compatibility check
type ValidationResult struct {
	OK       bool
	Message  string
	Issues   []string
	Warnings []string
	Fixes    []string
}

func (r *ValidationResult) fail(issue, fix string) {
	r.OK = false
	r.Issues = append(r.Issues, issue)
	if fix != "" {
		r.Fixes = append(r.Fixes, fix)
	}
}

// merge folds o into r. The messages are joined with " | ".
func (r *ValidationResult) merge(o *ValidationResult) {
	r.OK = r.OK && o.OK
	r.Issues = append(r.Issues, o.Issues...)
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Fixes = append(r.Fixes, o.Fixes...)
	if r.Message == "" {
		r.Message = o.Message
	} else if o.Message != "" {
		r.Message += " | " + o.Message
	}
}

// Version is a parsed major.minor.patch triple. Pre-release suffixes are
// ignored.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion extracts the first x.y.z in s ("30.0.0-beta1" gives 30.0.0).
func ParseVersion(s string) (Version, bool) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}
	var v Version
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	v.Patch, _ = strconv.Atoi(m[3])
	return v, true
}

// AtLeast reports v >= o.
func (v Version) AtLeast(o Version) bool {
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor > o.Minor
	}
	return v.Patch >= o.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

var (
	// 28.0 bundles obs-websocket 5, the only protocol the engine speaks.
	minOBS        = Version{28, 0, 0}
	recommendedWS = Version{5, 1, 0}
)

const downloadURL = "https://obsproject.com"

// ValidateOBSVersion checks if OBS version meets minimum requirements
func ValidateOBSVersion(versionString string) *ValidationResult {
	result := &ValidationResult{OK: true}

	v, ok := ParseVersion(versionString)
	if !ok {
		result.fail("Invalid version format", "Update OBS to latest version from "+downloadURL)
		result.Message = fmt.Sprintf("Could not parse OBS version: %s", versionString)
		return result
	}
	if !v.AtLeast(minOBS) {
		result.fail(
			fmt.Sprintf("OBS version %d.%d is too old (requires %d.%d+)", v.Major, v.Minor, minOBS.Major, minOBS.Minor),
			fmt.Sprintf("Update OBS to version %d.%d or later from %s", minOBS.Major, minOBS.Minor, downloadURL),
		)
		result.Message = fmt.Sprintf("OBS %d.%d requires update to %d.%d+", v.Major, v.Minor, minOBS.Major, minOBS.Minor)
		return result
	}

	result.Message = fmt.Sprintf("OBS %d.%d is compatible", v.Major, v.Minor)
	return result
}

// validateWebSocketVersion requires the v5 protocol and warns below 5.1.
func validateWebSocketVersion(wsVersion string) *ValidationResult {
	result := &ValidationResult{OK: true}

	v, ok := ParseVersion(wsVersion)
	if !ok || v.Major != 5 {
		result.fail(
			fmt.Sprintf("WebSocket v%s detected (requires 5.x)", wsVersion),
			"Update obs-websocket plugin to v5.0 or later",
		)
		result.Message = fmt.Sprintf("WebSocket v%s is incompatible", wsVersion)
		return result
	}
	if !v.AtLeast(recommendedWS) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("WebSocket v%s predates %s; update obs-websocket if recording requests fail", v, recommendedWS))
	}

	result.Message = fmt.Sprintf("WebSocket v%s is compatible", wsVersion)
	return result
}

// CheckOBSHealth combines the OBS and websocket plugin version checks.
func CheckOBSHealth(obsVersion, wsVersion string) *ValidationResult {
	result := &ValidationResult{OK: true}
	result.merge(ValidateOBSVersion(obsVersion))
	result.merge(validateWebSocketVersion(wsVersion))

	if result.OK {
		result.Message = "OBS health check passed: " + result.Message
	} else {
		result.Message = "OBS health check FAILED: " + result.Message
	}
	return result
}

// ValidateSceneExists checks that OBS has a program scene to capture.
func ValidateSceneExists(sceneName string) *ValidationResult {
	result := &ValidationResult{OK: true}
	if strings.TrimSpace(sceneName) == "" {
		result.fail("No active scene found in OBS", "Create a scene in OBS or ensure a scene is selected as 'Current'")
		result.Message = "No active scene"
		return result
	}
	result.Message = fmt.Sprintf("Active scene '%s' is accessible", sceneName)
	return result
}

// obs-websocket request status codes the engine commonly hits.
const (
	CodeInvalidRequestType = 204
	CodeNotReady           = 207
	CodeOutputRunning      = 500
	CodeOutputNotRunning   = 501
	CodeResourceNotFound   = 600
	CodeProcessingFailed   = 702
)

var fixesByCode = map[int][]string{
	CodeInvalidRequestType: {
		"OBS rejected the request type; the obs-websocket plugin is likely older than 5.x",
		"Check OBS version under About OBS (28.0+ bundles obs-websocket 5)",
		"Enable the server under Tools > WebSocket Server Settings and restart OBS",
	},
	CodeNotReady: {
		"OBS is still starting up or switching scene collections",
		"Wait a few seconds and retry",
	},
	CodeOutputRunning: {
		"OBS is already recording, possibly started from the OBS window",
		"Stop the recording in OBS, then start screenrec again",
	},
	CodeOutputNotRunning: {
		"OBS is not recording; it may have been stopped from the OBS window",
	},
	CodeResourceNotFound: {
		"A scene or source screenrec needs does not exist",
		"Select a program scene in OBS, or let screenrec create its Display Capture source",
	},
	CodeProcessingFailed: {
		"OBS could not perform the request",
		"Review OBS logs: Help > Log Files > View Current Log",
	},
}

// SuggestedFixes returns user-friendly troubleshooting for common errors
func SuggestedFixes(errorCode int, errorMsg string) []string {
	if fixes, ok := fixesByCode[errorCode]; ok {
		out := []string{fmt.Sprintf("OBS error code %d: %s", errorCode, errorMsg)}
		return append(out, fixes...)
	}
	if strings.Contains(errorMsg, "not connected") || strings.Contains(errorMsg, "failed to connect") {
		return []string{
			"Cannot connect to OBS WebSocket",
			"Verify OBS is running with the WebSocket server enabled",
			"Check the --obs-url port (default 4455) and --obs-password",
		}
	}
	return []string{fmt.Sprintf("Error: %s", errorMsg), "Run with SCREENREC_DEBUG_RECORDING=true and attach `screenrec export-diag` output to a bug report"}
}

func timeoutFixes() []string {
	return []string{
		"OBS did not answer in time",
		"OBS may be busy or frozen; restart it and retry",
	}
}
