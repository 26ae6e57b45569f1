package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// FrameEntry is one captured frame in a slideshow recording.
type FrameEntry struct {
	Path    string `json:"path"`
	DelayMs int64  `json:"delay_ms"`
}

// StatusSnapshot is what `screenrec status` shows about the recording process.
type StatusSnapshot struct {
	PID             int          `json:"pid"`
	Status          string       `json:"status"`           // optimistic session status
	ConfirmedStatus string       `json:"confirmed_status"` // last status reported by the engine
	RecordingID     string       `json:"recording_id,omitempty"`
	Mode            string       `json:"mode"`
	OutputPath      string       `json:"output_path,omitempty"`
	StartedAt       time.Time    `json:"started_at,omitempty"`
	DurationMs      int64        `json:"duration_ms"`
	Frames          []FrameEntry `json:"frames,omitempty"`
	LastAction      string       `json:"last_action,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
	OBSConnected    bool         `json:"obs_connected"`
	Timestamp       time.Time    `json:"timestamp"`
}

// StatusPath returns ~/.cache/screenrec/status.json.
func StatusPath() string {
	return filepath.Join(Dir(), "status.json")
}

// WriteStatus persists the snapshot using an atomic write.
func WriteStatus(status *StatusSnapshot) error {
	if err := os.MkdirAll(Dir(), 0755); err != nil {
		return err
	}
	return WriteJSONAtomic(StatusPath(), status)
}

// ReadStatus loads the last snapshot.
func ReadStatus() (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath())
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WriteJSONAtomic writes data as indented JSON via temp file + rename, so
// readers never see a partial document.
func WriteJSONAtomic(path string, data interface{}) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".screenrec-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}
