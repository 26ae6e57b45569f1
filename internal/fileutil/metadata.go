// Package fileutil names recording outputs and writes their sidecar metadata.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RecordingMetadata is the sidecar metadata written alongside each recording.
type RecordingMetadata struct {
	Version     string          `json:"version"`
	RecordingID string          `json:"recording_id"`
	StartedAt   time.Time       `json:"started_at"`
	StoppedAt   time.Time       `json:"stopped_at"`
	Duration    string          `json:"duration"`
	DurationMs  int64           `json:"duration_ms"`
	Engine      string          `json:"engine"`
	OutputFile  string          `json:"output_file"`
	Result      string          `json:"result"` // "completed" or "failed"
	Error       string          `json:"error,omitempty"`
	SinkError   string          `json:"sink_error,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
	Frames      []FrameMeta     `json:"frames,omitempty"`
}

// FrameMeta is one slideshow frame in the sidecar.
type FrameMeta struct {
	Path    string `json:"path"`
	DelayMs int64  `json:"delay_ms"`
}

// SetTimes fills the start/stop fields and the derived durations.
func (m *RecordingMetadata) SetTimes(start, stop time.Time) {
	m.StartedAt = start
	m.StoppedAt = stop
	d := stop.Sub(start)
	if d < 0 {
		d = 0
	}
	m.Duration = d.Round(time.Millisecond).String()
	m.DurationMs = d.Milliseconds()
}

// SetOptions stores any JSON-encodable options summary.
func (m *RecordingMetadata) SetOptions(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	m.Options = raw
	return nil
}

// WriteMetadata writes a <basepath>.meta.json sidecar file alongside the
// recording using temp file + rename. For a slideshow directory the sidecar
// lands next to it, not inside.
func WriteMetadata(recordingPath string, meta *RecordingMetadata) (string, error) {
	metaPath := MetadataPath(recordingPath)

	tmpFile, err := os.CreateTemp(filepath.Dir(metaPath), "meta-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close metadata temp: %w", err)
	}
	success = true

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename metadata: %w", err)
	}
	return metaPath, nil
}

// MetadataPath returns <basepath>.meta.json for a given recording path.
func MetadataPath(recordingPath string) string {
	p := strings.TrimRight(recordingPath, string(filepath.Separator))
	if p == "" {
		p = recordingPath
	}
	ext := filepath.Ext(p)
	return p[:len(p)-len(ext)] + ".meta.json"
}
