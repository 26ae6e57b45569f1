package obsws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordStatus is the GetRecordStatus response.
type RecordStatus struct {
	Active   bool
	Paused   bool
	Timecode string
	Duration time.Duration
	Bytes    int64
}

// GetRecordStatus queries OBS for current recording status
func (c *Client) GetRecordStatus() (*RecordStatus, error) {
	resp, err := c.sendRequest("GetRecordStatus", nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		OutputActive   bool   `json:"outputActive"`
		OutputPaused   bool   `json:"outputPaused"`
		OutputTimecode string `json:"outputTimecode"`
		OutputDuration int64  `json:"outputDuration"` // milliseconds
		OutputBytes    int64  `json:"outputBytes"`
	}

	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	c.recordingState.Recording = data.OutputActive
	c.recordingState.Paused = data.OutputPaused
	c.recordingState.LastUpdated = time.Now()
	c.stateMu.Unlock()

	return &RecordStatus{
		Active:   data.OutputActive,
		Paused:   data.OutputPaused,
		Timecode: data.OutputTimecode,
		Duration: time.Duration(data.OutputDuration) * time.Millisecond,
		Bytes:    data.OutputBytes,
	}, nil
}

// GetRecordDirectory returns the directory OBS writes recordings to.
func (c *Client) GetRecordDirectory() (string, error) {
	resp, err := c.sendRequest("GetRecordDirectory", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get record directory: %w", err)
	}

	var data struct {
		RecordDirectory string `json:"recordDirectory"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", fmt.Errorf("failed to parse record directory: %w", err)
	}
	return data.RecordDirectory, nil
}

// StartRecord starts the record output. OBS picks the file name; the final
// path arrives with the STOPPED event and the StopRecord response.
func (c *Client) StartRecord() error {
	if _, err := c.sendRequest("StartRecord", nil); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.recordingState.Recording = true
	c.recordingState.Paused = false
	c.recordingState.OutputPath = ""
	c.recordingState.LastUpdated = time.Now()
	c.stateMu.Unlock()
	return nil
}

// PauseRecord pauses the record output.
func (c *Client) PauseRecord() error {
	_, err := c.sendRequest("PauseRecord", nil)
	return err
}

// ResumeRecord resumes a paused record output.
func (c *Client) ResumeRecord() error {
	_, err := c.sendRequest("ResumeRecord", nil)
	return err
}

// StopRecord stops the current recording and returns the file OBS wrote.
// reason is a machine-readable code (e.g. "user_stop", "teardown") carried
// in the ws_send trace entry.
func (c *Client) StopRecord(reason string) (string, error) {
	resp, err := c.sendRequest("StopRecord", map[string]interface{}{
		"reason": reason,
	})
	if err != nil {
		return "", err
	}

	var data struct {
		OutputPath string `json:"outputPath"`
	}

	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", err
	}

	c.stateMu.Lock()
	c.recordingState.Recording = false
	c.recordingState.Paused = false
	if data.OutputPath != "" {
		c.recordingState.OutputPath = data.OutputPath
	}
	c.recordingState.LastUpdated = time.Now()
	c.stateMu.Unlock()

	return data.OutputPath, nil
}

// GetRecordingState returns the cached recording state
func (c *Client) GetRecordingState() RecordingState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.recordingState
}

// GetVersion retrieves OBS and WebSocket plugin versions
func (c *Client) GetVersion() (string, string, error) {
	resp, err := c.sendRequest("GetVersion", nil)
	if err != nil {
		return "", "", err
	}

	var data struct {
		OBSVersion          string `json:"obsVersion"`
		OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	}

	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", "", err
	}

	return data.OBSVersion, data.OBSWebSocketVersion, nil
}

// VideoSettings is the GetVideoSettings/SetVideoSettings payload.
type VideoSettings struct {
	FPSNumerator   int `json:"fpsNumerator"`
	FPSDenominator int `json:"fpsDenominator"`
	BaseWidth      int `json:"baseWidth"`
	BaseHeight     int `json:"baseHeight"`
	OutputWidth    int `json:"outputWidth"`
	OutputHeight   int `json:"outputHeight"`
}

// GetVideoSettings returns the current canvas and output settings.
func (c *Client) GetVideoSettings() (*VideoSettings, error) {
	resp, err := c.sendRequest("GetVideoSettings", nil)
	if err != nil {
		return nil, err
	}
	var vs VideoSettings
	if err := json.Unmarshal(resp.ResponseData, &vs); err != nil {
		return nil, err
	}
	return &vs, nil
}

// SetFramerate sets the output frame rate to fps/1. OBS refuses this while
// an output is active.
func (c *Client) SetFramerate(fps int) error {
	_, err := c.sendRequest("SetVideoSettings", map[string]interface{}{
		"fpsNumerator":   fps,
		"fpsDenominator": 1,
	})
	return err
}

// SetRecordBitrate sets the simple-output video bitrate in kbps on the
// current profile.
func (c *Client) SetRecordBitrate(kbps int) error {
	return c.SetProfileParameter("SimpleOutput", "VBitrate", fmt.Sprintf("%d", kbps))
}

// SetProfileParameter writes one parameter of the current OBS profile.
func (c *Client) SetProfileParameter(category, name, value string) error {
	_, err := c.sendRequest("SetProfileParameter", map[string]interface{}{
		"parameterCategory": category,
		"parameterName":     name,
		"parameterValue":    value,
	})
	return err
}

// SetFilenameFormatting configures OBS recording filename format
func (c *Client) SetFilenameFormatting(format string) error {
	return c.SetProfileParameter("Output", "FilenameFormatting", format)
}

// GetCurrentProgramScene returns the scene currently on program output.
func (c *Client) GetCurrentProgramScene() (string, error) {
	resp, err := c.sendRequest("GetCurrentProgramScene", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get current scene: %w", err)
	}

	var data struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
		SceneName               string `json:"sceneName"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", fmt.Errorf("failed to parse current scene: %w", err)
	}
	if data.SceneName != "" {
		return data.SceneName, nil
	}
	return data.CurrentProgramSceneName, nil
}

// GetSourceScreenshot renders source and returns the encoded image bytes.
// format is an image format OBS supports ("png", "jpg"); width and height of
// 0 keep the source size.
func (c *Client) GetSourceScreenshot(source, format string, width, height int) ([]byte, error) {
	req := map[string]interface{}{
		"sourceName":  source,
		"imageFormat": format,
	}
	if width > 0 {
		req["imageWidth"] = width
	}
	if height > 0 {
		req["imageHeight"] = height
	}

	resp, err := c.sendRequest("GetSourceScreenshot", req)
	if err != nil {
		return nil, err
	}

	var data struct {
		ImageData string `json:"imageData"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, err
	}
	return decodeDataURI(data.ImageData)
}

// decodeDataURI decodes "data:image/png;base64,...." (or bare base64).
func decodeDataURI(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return b, nil
}
