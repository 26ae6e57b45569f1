// Package obsws is a small OBS websocket v5 client: the Hello/Identify
// handshake with optional authentication, request/response correlation,
// RecordStateChanged events and automatic reconnection.
package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/logging"
)

var (
	// ErrNotConnected is returned by requests made before the handshake
	// completed or after the connection dropped.
	ErrNotConnected = errors.New("not connected to OBS")
	// ErrRequestTimeout is returned when OBS does not answer a request in time.
	ErrRequestTimeout = errors.New("OBS request timed out")
)

// RequestError is a request OBS answered with a failure status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Code == 204 {
		return fmt.Sprintf("OBS rejected request type '%s' (code 204: InvalidRequest), likely an OBS version or plugin mismatch. %s", e.RequestType, e.Comment)
	}
	return fmt.Sprintf("request failed: %s (request: %s, code: %d)", e.Comment, e.RequestType, e.Code)
}

// RecordingState is the client's cached view of OBS.
type RecordingState struct {
	Recording   bool        `json:"recording"`
	Paused      bool        `json:"paused"`
	OutputState OutputState `json:"output_state"`
	StartTime   time.Time   `json:"start_time"`
	OutputPath  string      `json:"output_path"`
	OBSStatus   string      `json:"obs_status"` // "connected", "disconnected"
	OBSVersion  string      `json:"obs_version"`
	LastUpdated time.Time   `json:"last_updated"`
}

// OutputState is the outputState field of RecordStateChanged.
type OutputState string

const (
	OutputStarting OutputState = "OBS_WEBSOCKET_OUTPUT_STARTING"
	OutputStarted  OutputState = "OBS_WEBSOCKET_OUTPUT_STARTED"
	OutputStopping OutputState = "OBS_WEBSOCKET_OUTPUT_STOPPING"
	OutputStopped  OutputState = "OBS_WEBSOCKET_OUTPUT_STOPPED"
	OutputPaused   OutputState = "OBS_WEBSOCKET_OUTPUT_PAUSED"
	OutputResumed  OutputState = "OBS_WEBSOCKET_OUTPUT_RESUMED"
)

// RecordStateEvent is one RecordStateChanged notification.
type RecordStateEvent struct {
	Active bool
	State  OutputState
	Path   string
}

// Client represents an OBS WebSocket v5 client
type Client struct {
	url        string
	password   string
	conn       *websocket.Conn
	mu         sync.RWMutex
	writeMu    sync.Mutex
	connected  bool
	identified bool

	// pending holds the reply channel of each in-flight request by requestId.
	pending   map[string]chan *Response
	pendingMu sync.Mutex

	requestTimeout   time.Duration
	handshakeTimeout time.Duration

	zl       zerolog.Logger
	logger   *diaglog.Logger
	loggerMu sync.RWMutex

	handlerMu            sync.RWMutex
	onRecordStateChanged func(RecordStateEvent)
	onDisconnected       func()

	recordingState RecordingState
	stateMu        sync.RWMutex

	reconnectEnabled atomic.Bool
	reconnectDelay   time.Duration
	stopChan         chan struct{}
	stopOnce         sync.Once

	identifiedChan chan struct{}
	helloChan      chan *HelloData
	helloErrChan   chan error
}

// Message types
type Message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type HelloData struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type IdentifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type Request struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type Response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

type Event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// OpCodes for WebSocket protocol
const (
	OpHello                = 0
	OpIdentify             = 1
	OpIdentified           = 2
	OpReidentify           = 3
	OpEvent                = 5
	OpRequest              = 6
	OpRequestResponse      = 7
	OpRequestBatch         = 8
	OpRequestBatchResponse = 9
)

// Event subscription flags
const (
	EventSubscriptionAll = 0x7FF // General..Ui, excludes high-volume events
)

// closeSessionInvalidated is the close code OBS sends when another client
// takes over the session.
const closeSessionInvalidated = 4009

// NewClient creates a new OBS WebSocket client
func NewClient(url, password string) *Client {
	c := &Client{
		url:              url,
		password:         password,
		pending:          make(map[string]chan *Response),
		requestTimeout:   10 * time.Second,
		handshakeTimeout: 10 * time.Second,
		zl:               logging.WithComponent("obsws"),
		reconnectDelay:   5 * time.Second,
		stopChan:         make(chan struct{}),
		identifiedChan:   make(chan struct{}, 1),
		helloChan:        make(chan *HelloData, 1),
		helloErrChan:     make(chan error, 1),
		recordingState: RecordingState{
			OBSStatus:   "disconnected",
			LastUpdated: time.Now(),
		},
	}
	c.reconnectEnabled.Store(true)
	return c
}

// SetRequestTimeout bounds how long a request waits for its response.
func (c *Client) SetRequestTimeout(d time.Duration) {
	c.requestTimeout = d
}

// SetOperationalLogger replaces the console logger.
func (c *Client) SetOperationalLogger(l zerolog.Logger) {
	c.zl = l
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.updateOBSStatus("disconnected", "")
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	drain(c.helloChan)
	drain(c.helloErrChan)
	drain(c.identifiedChan)
	go c.readMessages()

	select {
	case hello := <-c.helloChan:
		return c.authenticate(hello)
	case err := <-c.helloErrChan:
		c.disconnect()
		return err
	case <-time.After(c.handshakeTimeout):
		c.disconnect()
		return fmt.Errorf("timeout waiting for Hello message")
	}
}

// authenticate sends Identify message with auth response
func (c *Client) authenticate(hello *HelloData) error {
	identify := IdentifyData{
		RPCVersion:         1,
		EventSubscriptions: EventSubscriptionAll,
	}

	if hello.Authentication.Challenge != "" && c.password != "" {
		identify.Authentication = authResponse(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	msg := Message{
		Op: OpIdentify,
	}
	msg.D, _ = json.Marshal(identify)

	if err := c.write(msg); err != nil {
		c.disconnect()
		return err
	}

	select {
	case <-c.identifiedChan:
		c.mu.Lock()
		c.identified = true
		c.mu.Unlock()
		c.updateOBSStatus("connected", hello.OBSWebSocketVersion)
		c.log(diaglog.LogEntry{
			Event:   diaglog.EventWSConnect,
			Payload: map[string]interface{}{"obs_ws_version": hello.OBSWebSocketVersion},
		})
		c.zl.Info().Str("url", c.url).Str("obs_ws_version", hello.OBSWebSocketVersion).Msg("Connected to OBS")
		return nil
	case err := <-c.helloErrChan:
		c.disconnect()
		return err
	case <-time.After(c.handshakeTimeout):
		c.disconnect()
		return fmt.Errorf("timeout waiting for Identified message")
	}
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// authResponse computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func (c *Client) write(msg Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// readMessages owns the connection's read side until it fails or the
// client is stopped, then hands over to reconnect.
func (c *Client) readMessages() {
	defer func() {
		c.disconnect()
		if c.reconnectEnabled.Load() && !c.stopped() {
			c.reconnect()
		}
	}()

	for !c.stopped() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.readFailed(err)
			return
		}
		if !c.dispatch(msg) {
			return
		}
	}
}

// readFailed reports a dead connection: to Connect while the handshake is
// still running, to the OnDisconnected handler afterwards.
func (c *Client) readFailed(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == closeSessionInvalidated {
		c.zl.Warn().Int("close_code", closeErr.Code).Str("text", closeErr.Text).Msg("OBS session invalidated by another client")
	}

	c.mu.RLock()
	identified := c.identified
	c.mu.RUnlock()
	if !identified {
		offer(c.helloErrChan, fmt.Errorf("connection closed during handshake: %w", err))
		return
	}
	if c.stopped() {
		return
	}
	c.handlerMu.RLock()
	h := c.onDisconnected
	c.handlerMu.RUnlock()
	if h != nil {
		h()
	}
}

// dispatch routes one message by opcode. It returns false when the
// connection cannot continue.
func (c *Client) dispatch(msg Message) bool {
	if c.tracing() {
		var payload interface{}
		if json.Unmarshal(msg.D, &payload) == nil {
			c.log(diaglog.LogEntry{Event: diaglog.EventWSRecv, Payload: payload})
		}
	}

	switch msg.Op {
	case OpHello:
		hello := new(HelloData)
		if err := json.Unmarshal(msg.D, hello); err != nil {
			offer(c.helloErrChan, fmt.Errorf("malformed Hello: %w", err))
			return false
		}
		offer(c.helloChan, hello)

	case OpIdentified:
		offer(c.identifiedChan, struct{}{})

	case OpEvent:
		var event Event
		if err := json.Unmarshal(msg.D, &event); err != nil {
			c.zl.Debug().Err(err).Msg("Dropping malformed event")
			break
		}
		c.handleEvent(&event)

	case OpRequestResponse:
		resp := new(Response)
		if err := json.Unmarshal(msg.D, resp); err != nil {
			c.zl.Debug().Err(err).Msg("Dropping malformed response")
			break
		}
		c.handleResponse(resp)
	}
	return true
}

// offer sends v unless ch is full.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// handleEvent processes OBS events
func (c *Client) handleEvent(event *Event) {
	switch event.EventType {
	case "RecordStateChanged":
		var data struct {
			OutputActive bool        `json:"outputActive"`
			OutputState  OutputState `json:"outputState"`
			OutputPath   string      `json:"outputPath"`
		}
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			c.zl.Warn().Err(err).Msg("Malformed RecordStateChanged event")
			return
		}

		c.stateMu.Lock()
		c.recordingState.Recording = data.OutputActive
		c.recordingState.Paused = data.OutputState == OutputPaused
		c.recordingState.OutputState = data.OutputState
		if data.OutputPath != "" {
			c.recordingState.OutputPath = data.OutputPath
		}
		if data.OutputState == OutputStarted {
			c.recordingState.StartTime = time.Now()
		}
		c.recordingState.LastUpdated = time.Now()
		c.stateMu.Unlock()

		c.handlerMu.RLock()
		h := c.onRecordStateChanged
		c.handlerMu.RUnlock()
		if h != nil {
			h(RecordStateEvent{Active: data.OutputActive, State: data.OutputState, Path: data.OutputPath})
		}
	}
}

// handleResponse hands resp to the request waiting for it. Replies to
// requests that already timed out are dropped.
func (c *Client) handleResponse(resp *Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.pendingMu.Unlock()

	if !ok {
		c.zl.Debug().Str("request_id", resp.RequestID).Str("request_type", resp.RequestType).Msg("Reply for unknown request")
		return
	}
	offer(ch, resp)
}

// sendRequest sends a request and waits for response
func (c *Client) sendRequest(requestType string, requestData interface{}) (*Response, error) {
	c.mu.RLock()
	if !c.connected || !c.identified {
		c.mu.RUnlock()
		return nil, ErrNotConnected
	}
	c.mu.RUnlock()

	requestID := uuid.NewString()
	d, err := json.Marshal(Request{RequestType: requestType, RequestID: requestID, RequestData: requestData})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", requestType, err)
	}

	respChan := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	c.log(diaglog.LogEntry{
		Event:   diaglog.EventWSSend,
		Payload: map[string]interface{}{"request_type": requestType, "request_id": requestID},
	})
	if err := c.write(Message{Op: OpRequest, D: d}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if !resp.RequestStatus.Result {
			return nil, &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s (request: %s)", ErrRequestTimeout, c.requestTimeout, requestType)
	}
}

// disconnect closes the WebSocket connection
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.log(diaglog.LogEntry{
			Event:   diaglog.EventWSDisconnect,
			Payload: map[string]interface{}{"url": c.url},
		})
		if err := c.conn.Close(); err != nil {
			c.zl.Debug().Err(err).Msg("Failed to close connection")
		}
		c.conn = nil
	}
	c.connected = false
	c.identified = false

	c.updateOBSStatus("disconnected", "")
}

// reconnect retries with exponential backoff and jitter. It never issues
// recording requests; a recording interrupted by the drop has already been
// reported as failed.
func (c *Client) reconnect() {
	delay := c.reconnectDelay
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
			attempt++
			c.log(diaglog.LogEntry{
				Event:     diaglog.EventWSReconnectAttempt,
				Component: diaglog.ComponentReconnect,
				Payload:   map[string]interface{}{"attempt": attempt, "delay_ms": delay.Milliseconds()},
			})
			c.zl.Info().Int("attempt", attempt).Msg("Reconnecting to OBS")
			err := c.Connect()
			if err == nil {
				c.log(diaglog.LogEntry{
					Event:     diaglog.EventWSReconnectSuccess,
					Component: diaglog.ComponentReconnect,
					Payload:   map[string]interface{}{"attempt": attempt},
				})
				c.zl.Info().Int("attempt", attempt).Msg("Reconnected to OBS")
				return
			}
			c.log(diaglog.LogEntry{
				Event:     diaglog.EventWSReconnectFailed,
				Component: diaglog.ComponentReconnect,
				Payload:   map[string]interface{}{"attempt": attempt, "error": err.Error()},
			})
			c.zl.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")

			delay = nextBackoff(delay, rand.Float64())
		}
	}
}

const (
	minBackoff = time.Second
	maxBackoff = time.Minute
)

// nextBackoff doubles d up to maxBackoff and applies up to 10% jitter in
// either direction; r is a uniform sample in [0, 1).
func nextBackoff(d time.Duration, r float64) time.Duration {
	d = min(d*2, maxBackoff)
	d += time.Duration(float64(d) * 0.2 * (r - 0.5))
	return max(d, minBackoff)
}

// updateOBSStatus updates the OBS connection status
func (c *Client) updateOBSStatus(status, version string) {
	c.stateMu.Lock()
	c.recordingState.OBSStatus = status
	c.recordingState.OBSVersion = version
	c.recordingState.LastUpdated = time.Now()
	c.stateMu.Unlock()
}

// Disconnect gracefully closes connection and stops reconnection. It is safe
// to call more than once.
func (c *Client) Disconnect() {
	c.reconnectEnabled.Store(false)
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.disconnect()
}

// SetLogger injects a diaglog.Logger. Passing nil disables structured logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) tracing() bool {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger != nil
}

// log emits a LogEntry when a logger is set. Component defaults to
// ComponentOBSClient when left empty.
func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentOBSClient
	}
	l.Log(entry)
}

// SetReconnectEnabled enables/disables automatic reconnection
func (c *Client) SetReconnectEnabled(enabled bool) {
	c.reconnectEnabled.Store(enabled)
}

// OnRecordStateChanged registers the handler for RecordStateChanged events.
// It runs on the reader goroutine.
func (c *Client) OnRecordStateChanged(handler func(RecordStateEvent)) {
	c.handlerMu.Lock()
	c.onRecordStateChanged = handler
	c.handlerMu.Unlock()
}

// OnDisconnected registers the handler for unexpected connection loss.
func (c *Client) OnDisconnected(handler func()) {
	c.handlerMu.Lock()
	c.onDisconnected = handler
	c.handlerMu.Unlock()
}

// IsConnected returns current connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.identified
}
