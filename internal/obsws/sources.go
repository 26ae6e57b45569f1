package obsws

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// SceneItem is one entry of GetSceneItemList.
type SceneItem struct {
	SceneItemID int    `json:"sceneItemId"`
	SourceName  string `json:"sourceName"`
	InputKind   string `json:"inputKind"`
	Enabled     bool   `json:"sceneItemEnabled"`
}

// CaptureSources names the inputs a recording captures from.
type CaptureSources struct {
	Scene         string
	Display       string
	DisplayItemID int
	Audio         string
}

var displayKinds = map[string]bool{
	"screen_capture":       true, // macOS 13+
	"macos_screen_capture": true,
	"display_capture":      true,
	"monitor_capture":      true, // Windows
	"xshm_input":           true, // Linux X11
}

var audioKinds = map[string]bool{
	"coreaudio_input_capture": true,
	"wasapi_input_capture":    true,
	"pulse_input_capture":     true,
	"av_audio_input":          true,
}

// displayKindForOS returns the display capture input kind and its settings for
// monitor on the running platform.
func displayKindForOS(monitor int) (string, map[string]interface{}) {
	switch runtime.GOOS {
	case "windows":
		return "monitor_capture", map[string]interface{}{"monitor": monitor}
	case "linux":
		return "xshm_input", map[string]interface{}{"screen": monitor}
	default:
		return "screen_capture", map[string]interface{}{"display": monitor}
	}
}

func audioKindForOS() string {
	switch runtime.GOOS {
	case "windows":
		return "wasapi_input_capture"
	case "linux":
		return "pulse_input_capture"
	default:
		return "coreaudio_input_capture"
	}
}

// GetSceneItems lists the items of a scene.
func (c *Client) GetSceneItems(sceneName string) ([]SceneItem, error) {
	resp, err := c.sendRequest("GetSceneItemList", map[string]interface{}{
		"sceneName": sceneName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get scene items: %w", err)
	}

	var data struct {
		SceneItems []SceneItem `json:"sceneItems"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse scene items: %w", err)
	}
	return data.SceneItems, nil
}

// CreateInput adds a new input to a scene and returns its scene item id.
func (c *Client) CreateInput(sceneName, inputName, inputKind string, settings interface{}) (int, error) {
	resp, err := c.sendRequest("CreateInput", map[string]interface{}{
		"sceneName":     sceneName,
		"inputName":     inputName,
		"inputKind":     inputKind,
		"inputSettings": settings,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create input %q: %w", inputName, err)
	}

	var data struct {
		SceneItemID int `json:"sceneItemId"`
	}
	_ = json.Unmarshal(resp.ResponseData, &data)
	return data.SceneItemID, nil
}

// CreateInputWithRetry retries CreateInput with a linear backoff. A 204
// (unknown request) is not retried since it means OBS is too old.
func (c *Client) CreateInputWithRetry(sceneName, inputName, inputKind string, settings interface{}, maxRetries int) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		id, err := c.CreateInput(sceneName, inputName, inputKind, settings)
		if err == nil {
			c.zl.Info().Str("input", inputName).Str("kind", inputKind).Int("attempt", attempt).Msg("Created input")
			return id, nil
		}
		lastErr = err
		c.zl.Warn().Err(err).Str("input", inputName).Int("attempt", attempt).Int("max", maxRetries).Msg("Create input failed")

		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Code == 204 {
			return 0, err
		}

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return 0, fmt.Errorf("failed to create input %q after %d retries: %w", inputName, maxRetries, lastErr)
}

// SetInputMute mutes or unmutes an input.
func (c *Client) SetInputMute(inputName string, muted bool) error {
	_, err := c.sendRequest("SetInputMute", map[string]interface{}{
		"inputName":  inputName,
		"inputMuted": muted,
	})
	return err
}

// SetSceneItemCrop crops a scene item by the given pixel margins.
func (c *Client) SetSceneItemCrop(sceneName string, itemID, left, top, right, bottom int) error {
	_, err := c.sendRequest("SetSceneItemTransform", map[string]interface{}{
		"sceneName":   sceneName,
		"sceneItemId": itemID,
		"sceneItemTransform": map[string]interface{}{
			"cropLeft":   left,
			"cropTop":    top,
			"cropRight":  right,
			"cropBottom": bottom,
		},
	})
	return err
}

// EnsureCaptureSources finds or creates the display capture for monitor in
// the current program scene and, when withAudio is set, an audio input. An
// existing audio input is muted when withAudio is false.
func (c *Client) EnsureCaptureSources(monitor int, withAudio bool) (*CaptureSources, error) {
	scene, err := c.GetCurrentProgramScene()
	if err != nil {
		return nil, err
	}
	items, err := c.GetSceneItems(scene)
	if err != nil {
		return nil, err
	}

	cs := &CaptureSources{Scene: scene}
	for _, it := range items {
		if displayKinds[it.InputKind] && it.Enabled && cs.Display == "" {
			cs.Display = it.SourceName
			cs.DisplayItemID = it.SceneItemID
		}
		if audioKinds[it.InputKind] && cs.Audio == "" {
			cs.Audio = it.SourceName
		}
	}
	c.zl.Debug().Str("scene", scene).Int("items", len(items)).Str("display", cs.Display).Str("audio", cs.Audio).Msg("Scanned scene")

	if cs.Display == "" {
		kind, settings := displayKindForOS(monitor)
		name := fmt.Sprintf("Display Capture %d", monitor)
		id, err := c.CreateInputWithRetry(scene, name, kind, settings, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure display source: %w", err)
		}
		cs.Display = name
		cs.DisplayItemID = id
	}

	switch {
	case withAudio && cs.Audio == "":
		name := "Desktop Audio"
		if _, err := c.CreateInputWithRetry(scene, name, audioKindForOS(), map[string]interface{}{"device": ""}, 3); err != nil {
			return nil, fmt.Errorf("failed to ensure audio source: %w", err)
		}
		cs.Audio = name
	case withAudio:
		if err := c.SetInputMute(cs.Audio, false); err != nil {
			return nil, err
		}
	case cs.Audio != "":
		if err := c.SetInputMute(cs.Audio, true); err != nil {
			return nil, err
		}
		cs.Audio = ""
	}

	return cs, nil
}

// LaunchOBS starts OBS if no OBS process is running and waits for it to
// come up.
func LaunchOBS(wait time.Duration) error {
	if isOBSRunning() {
		return nil
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", "-a", "OBS")
	case "windows":
		cmd = exec.Command("OBS.exe")
	case "linux":
		cmd = exec.Command("obs")
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start OBS: %w", err)
	}

	time.Sleep(wait)
	return nil
}

func isOBSRunning() bool {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pgrep", "-f", "OBS")
	case "windows":
		cmd = exec.Command("tasklist", "/FI", "IMAGENAME eq OBS.exe")
	case "linux":
		cmd = exec.Command("pgrep", "-f", "obs")
	default:
		return false
	}

	return cmd.Run() == nil
}
