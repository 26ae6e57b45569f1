package fileutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "Recording"},
		{"Weekly Sync", "Weekly-Sync"},
		{`a/b\c:d*e?f"g<h>i|j`, "a-b-c-d-e-f-g-h-i-j"},
		{"  __  ", "Recording"},
		{"demo__take   2", "demo-take-2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeForFilename(tt.in), tt.in)
	}

	long := SanitizeForFilename(strings.Repeat("x", 80))
	assert.Len(t, long, 50)
}

func TestDefaultOutputName(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-18_0905_Demo.mp4", DefaultOutputName("Demo", at, ".mp4"))
	assert.Equal(t, "2026-10-18_0905_Demo.png", DefaultOutputName("Demo", at, "png"))
	assert.Equal(t, "2026-10-18_0905_Recording", DefaultOutputName("", at, ""))
}

func TestDefaultOutputPath(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "/out/2026-10-18_0905_Recording.mp4", DefaultOutputPath("/out", "", "video", at))
	assert.Equal(t, "/out/2026-10-18_0905_Recording.png", DefaultOutputPath("/out", "", "snapshot", at))
	assert.Equal(t, "/out/2026-10-18_0905_Recording", DefaultOutputPath("/out", "", "slideshow", at))
}
