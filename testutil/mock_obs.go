package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Failure modes for MockOBSServer.
const (
	ModeNormal     = "normal"
	ModeCode204    = "code204"
	ModeTimeout    = "timeout"
	ModeDisconnect = "disconnect"
)

// Record output states as OBS reports them in RecordStateChanged.
const (
	OutputStarting = "OBS_WEBSOCKET_OUTPUT_STARTING"
	OutputStarted  = "OBS_WEBSOCKET_OUTPUT_STARTED"
	OutputStopping = "OBS_WEBSOCKET_OUTPUT_STOPPING"
	OutputStopped  = "OBS_WEBSOCKET_OUTPUT_STOPPED"
	OutputPaused   = "OBS_WEBSOCKET_OUTPUT_PAUSED"
	OutputResumed  = "OBS_WEBSOCKET_OUTPUT_RESUMED"
)

// Handler answers one request type. It returns responseData, and a non-zero
// code with comment to fail the request.
type Handler func(data map[string]interface{}) (resp interface{}, code int, comment string)

// MockOBSServer simulates an OBS WebSocket v5 server. By default it answers
// the recording, scene and screenshot requests a capture engine makes and
// emits the matching RecordStateChanged events.
type MockOBSServer struct {
	server *httptest.Server

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	mode      string
	handlers  map[string]Handler
	requests  []string
	password  string
	connected bool
	cfg       obsConfig
}

type obsConfig struct {
	recordPath string
	scene      string
	sceneItems []map[string]interface{}
	screenshot []byte
	obsVersion string
	wsVersion  string
	silentStop bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewMockOBS starts a mock server on a loopback port.
func NewMockOBS() *MockOBSServer {
	m := &MockOBSServer{
		mode:     ModeNormal,
		handlers: make(map[string]Handler),
		cfg: obsConfig{
			scene:      "Scene",
			screenshot: []byte("\x89PNG-frame"),
			obsVersion: "30.1.2",
			wsVersion:  "5.4.2",
			sceneItems: []map[string]interface{}{
				{"sceneItemId": 1, "sourceName": "Screen", "inputKind": "screen_capture", "sceneItemEnabled": true},
			},
		},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

func (m *MockOBSServer) config() obsConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *MockOBSServer) update(fn func(*obsConfig)) {
	m.mu.Lock()
	fn(&m.cfg)
	m.mu.Unlock()
}

// SetRecordPath sets the file StopRecord and the STOPPED event report.
func (m *MockOBSServer) SetRecordPath(p string) { m.update(func(c *obsConfig) { c.recordPath = p }) }

// SetScene sets the current program scene name.
func (m *MockOBSServer) SetScene(name string) { m.update(func(c *obsConfig) { c.scene = name }) }

// SetSceneItems replaces the GetSceneItemList answer.
func (m *MockOBSServer) SetSceneItems(items []map[string]interface{}) {
	m.update(func(c *obsConfig) { c.sceneItems = items })
}

// SetScreenshot sets the image GetSourceScreenshot returns.
func (m *MockOBSServer) SetScreenshot(b []byte) { m.update(func(c *obsConfig) { c.screenshot = b }) }

// SetVersions sets the versions GetVersion and Hello report.
func (m *MockOBSServer) SetVersions(obs, ws string) {
	m.update(func(c *obsConfig) { c.obsVersion, c.wsVersion = obs, ws })
}

// SetSilentStop suppresses the STOPPING/STOPPED events after StopRecord.
func (m *MockOBSServer) SetSilentStop(v bool) { m.update(func(c *obsConfig) { c.silentStop = v }) }

// Versions returns the OBS and websocket versions reported.
func (m *MockOBSServer) Versions() (string, string) {
	c := m.config()
	return c.obsVersion, c.wsVersion
}

// URL returns the ws:// address of the server.
func (m *MockOBSServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

// Close shuts the server down.
func (m *MockOBSServer) Close() {
	m.DropConnection()
	m.server.Close()
}

// RequirePassword makes the handshake demand authentication.
func (m *MockOBSServer) RequirePassword(pw string) {
	m.mu.Lock()
	m.password = pw
	m.mu.Unlock()
}

// SetFailureMode configures how the server responds to requests
func (m *MockOBSServer) SetFailureMode(mode string) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

// Handle overrides the answer for requestType.
func (m *MockOBSServer) Handle(requestType string, h Handler) {
	m.mu.Lock()
	m.handlers[requestType] = h
	m.mu.Unlock()
}

// Requests returns the request types received so far.
func (m *MockOBSServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// Connected returns whether a client is currently connected
func (m *MockOBSServer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// DropConnection closes the client connection without a close handshake.
func (m *MockOBSServer) DropConnection() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// EmitRecordState pushes a RecordStateChanged event.
func (m *MockOBSServer) EmitRecordState(state string, path string) {
	active := state == OutputStarted || state == OutputPaused || state == OutputResumed || state == OutputStopping
	m.Emit("RecordStateChanged", map[string]interface{}{
		"outputActive": active,
		"outputState":  state,
		"outputPath":   path,
	})
}

// Emit pushes an arbitrary event to the connected client.
func (m *MockOBSServer) Emit(eventType string, data interface{}) {
	m.write(map[string]interface{}{
		"op": 5,
		"d": map[string]interface{}{
			"eventType":   eventType,
			"eventIntent": 64,
			"eventData":   data,
		},
	})
}

func (m *MockOBSServer) write(v interface{}) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.WriteJSON(v)
}

func (m *MockOBSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	pw := m.password
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connected = false
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	hello := map[string]interface{}{
		"obsWebSocketVersion": m.config().wsVersion,
		"rpcVersion":          1,
	}
	const salt, challenge = "c2FsdA==", "Y2hhbGxlbmdl"
	if pw != "" {
		hello["authentication"] = map[string]interface{}{"salt": salt, "challenge": challenge}
	}
	m.write(map[string]interface{}{"op": 0, "d": hello})

	var identify struct {
		Op int `json:"op"`
		D  struct {
			Authentication string `json:"authentication"`
		} `json:"d"`
	}
	if err := conn.ReadJSON(&identify); err != nil || identify.Op != 1 {
		return
	}
	if pw != "" && identify.D.Authentication != authString(pw, salt, challenge) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4009, "Authentication failed."))
		return
	}
	m.write(map[string]interface{}{"op": 2, "d": map[string]interface{}{"negotiatedRpcVersion": 1}})

	for {
		var msg struct {
			Op int `json:"op"`
			D  struct {
				RequestType string                 `json:"requestType"`
				RequestID   string                 `json:"requestId"`
				RequestData map[string]interface{} `json:"requestData"`
			} `json:"d"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != 6 {
			continue
		}

		m.mu.Lock()
		m.requests = append(m.requests, msg.D.RequestType)
		mode := m.mode
		m.mu.Unlock()

		switch mode {
		case ModeTimeout:
			continue
		case ModeDisconnect:
			return
		}

		m.respond(mode, msg.D.RequestType, msg.D.RequestID, msg.D.RequestData)
	}
}

func (m *MockOBSServer) respond(mode, requestType, requestID string, data map[string]interface{}) {
	status := map[string]interface{}{"result": true, "code": 100}
	var respData interface{} = map[string]interface{}{}
	var after func()

	m.mu.Lock()
	h, ok := m.handlers[requestType]
	m.mu.Unlock()

	switch {
	case mode == ModeCode204:
		status = map[string]interface{}{"result": false, "code": 204, "comment": "Your request type is not valid."}
	case ok:
		resp, code, comment := h(data)
		if code != 0 {
			status = map[string]interface{}{"result": false, "code": code, "comment": comment}
		} else if resp != nil {
			respData = resp
		}
	default:
		respData, after = m.builtin(requestType, data)
	}

	m.write(map[string]interface{}{
		"op": 7,
		"d": map[string]interface{}{
			"requestType":   requestType,
			"requestId":     requestID,
			"requestStatus": status,
			"responseData":  respData,
		},
	})
	if after != nil {
		after()
	}
}

func (m *MockOBSServer) builtin(requestType string, data map[string]interface{}) (interface{}, func()) {
	cfg := m.config()
	switch requestType {
	case "GetVersion":
		return map[string]interface{}{"obsVersion": cfg.obsVersion, "obsWebSocketVersion": cfg.wsVersion}, nil
	case "GetRecordStatus":
		return map[string]interface{}{"outputActive": false, "outputPaused": false, "outputDuration": 0, "outputBytes": 0}, nil
	case "GetRecordDirectory":
		return map[string]interface{}{"recordDirectory": "/tmp"}, nil
	case "StartRecord":
		return nil, func() {
			m.EmitRecordState(OutputStarting, "")
			m.EmitRecordState(OutputStarted, "")
		}
	case "PauseRecord":
		return nil, func() { m.EmitRecordState(OutputPaused, "") }
	case "ResumeRecord":
		return nil, func() { m.EmitRecordState(OutputResumed, "") }
	case "StopRecord":
		resp := map[string]interface{}{"outputPath": cfg.recordPath}
		if cfg.silentStop {
			return resp, nil
		}
		return resp, func() {
			m.EmitRecordState(OutputStopping, "")
			time.Sleep(5 * time.Millisecond)
			m.EmitRecordState(OutputStopped, cfg.recordPath)
		}
	case "GetCurrentProgramScene":
		return map[string]interface{}{"sceneName": cfg.scene, "currentProgramSceneName": cfg.scene}, nil
	case "GetSceneItemList":
		return map[string]interface{}{"sceneItems": cfg.sceneItems}, nil
	case "CreateInput":
		return map[string]interface{}{"inputUuid": "mock-input", "sceneItemId": 42}, nil
	case "GetSourceScreenshot":
		format, _ := data["imageFormat"].(string)
		return map[string]interface{}{
			"imageData": "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(cfg.screenshot),
		}, nil
	case "GetVideoSettings":
		return map[string]interface{}{
			"fpsNumerator": 30, "fpsDenominator": 1,
			"baseWidth": 1920, "baseHeight": 1080,
			"outputWidth": 1920, "outputHeight": 1080,
		}, nil
	default:
		return map[string]interface{}{}, nil
	}
}

func authString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
