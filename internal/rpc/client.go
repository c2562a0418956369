package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config controls transport behavior.
type Config struct {
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	MaxFrameSize         int64
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	DefaultTimeout       time.Duration
	SweepInterval        time.Duration
	StatusUpdateMethod   string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxFrameSize:         DefaultMaxFrameSize,
		ReconnectMinDelay:    1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 10,
		DefaultTimeout:       30 * time.Second,
		SweepInterval:        1 * time.Second,
		StatusUpdateMethod:   "notify_status_update",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.ReconnectMinDelay <= 0 {
		c.ReconnectMinDelay = def.ReconnectMinDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.StatusUpdateMethod == "" {
		c.StatusUpdateMethod = def.StatusUpdateMethod
	}
	return c
}

// Client is the bidirectional JSON-RPC-over-WebSocket transport. One network
// goroutine per physical connection reads frames and invokes continuations
// and notification callbacks; the application goroutine issues Send,
// Subscribe and lifecycle calls.
type Client struct {
	cfg    Config
	logger *slog.Logger

	guard      *liveness
	tracker    *Tracker
	dispatcher *Dispatcher
	emitter    *Emitter

	// writeMu serializes socket writes; gorilla permits one writer at a time.
	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	url            string
	onConnected    func()
	onDisconnected func()
	attempts       int
	reconnectArmed bool
	// epoch increments per physical connection so a read loop from a
	// replaced connection cannot drive state transitions.
	epoch         uint64
	sweepStop     chan struct{}
	reconnectStop chan struct{}
}

// NewClient creates a transport. Connect must be called before requests can
// be sent.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	emitter := NewEmitter(logger)
	return &Client{
		cfg:        cfg,
		logger:     logger,
		guard:      newLiveness(),
		tracker:    NewTracker(logger, emitter),
		dispatcher: NewDispatcher(cfg.StatusUpdateMethod, logger),
		emitter:    emitter,
		state:      StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the transport event emitter for sink registration.
func (c *Client) Events() *Emitter {
	return c.emitter
}

// Subscribe registers an anonymous status-update callback.
func (c *Client) Subscribe(fn NotificationFunc) uint64 {
	return c.dispatcher.Subscribe(fn)
}

// Unsubscribe removes an anonymous subscription.
func (c *Client) Unsubscribe(id uint64) bool {
	return c.dispatcher.Unsubscribe(id)
}

// RegisterMethodHandler installs a named handler for a notification method.
func (c *Client) RegisterMethodHandler(method, name string, fn NotificationFunc) {
	c.dispatcher.RegisterMethodHandler(method, name, fn)
}

// UnregisterMethodHandler removes a named notification handler.
func (c *Client) UnregisterMethodHandler(method, name string) bool {
	return c.dispatcher.UnregisterMethodHandler(method, name)
}

// Cancel removes a pending request without invoking its continuations.
func (c *Client) Cancel(id uint64) bool {
	return c.tracker.Cancel(id)
}

// PendingCount reports in-flight request count.
func (c *Client) PendingCount() int {
	return c.tracker.PendingCount()
}

// Connect establishes the WebSocket connection and arms auto-reconnect.
// onConnected runs after every successful open (including reconnects);
// onDisconnected after every close while connected. Both run on the network
// goroutine except for this initial, synchronous dial.
func (c *Client) Connect(url string, onConnected, onDisconnected func()) error {
	c.mu.Lock()
	if !c.guard.resolve() {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return ErrConnecting
	}
	c.url = url
	c.onConnected = onConnected
	c.onDisconnected = onDisconnected
	c.attempts = 0
	c.reconnectArmed = true
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		c.mu.Lock()
		// Never reached CONNECTED, so the failure is a plain
		// CONNECTING -> DISCONNECTED transition.
		c.reconnectArmed = false
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}
	return nil
}

// dial opens one physical connection and promotes the client to CONNECTED.
// Shared by Connect and the reconnect loop.
func (c *Client) dial() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(c.cfg.MaxFrameSize)

	c.mu.Lock()
	if !c.guard.resolve() {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if c.state != StateConnecting && c.state != StateReconnecting {
		// Disconnect settled while the handshake was in flight; its
		// transition stands and the fresh socket is discarded.
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.attempts = 0
	c.reconnectStop = nil
	c.setStateLocked(StateConnected)
	onConnected := c.onConnected
	c.mu.Unlock()

	c.emitter.connectionRestored()
	c.emitter.Emit(EventConnected, "connected", false, c.url)

	go c.readLoop(conn, epoch)
	c.startSweeper()

	if onConnected != nil {
		onConnected()
	}

	c.logger.Debug("websocket connected", "url", c.url)
	return nil
}

// Disconnect tears the connection down and disarms auto-reconnect. Pending
// requests are swept with a connection-lost failure. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.reconnectArmed = false
	c.onConnected = nil
	c.onDisconnected = nil
	conn := c.conn
	c.conn = nil
	// Orphan any live read loop so its close handling becomes a no-op.
	c.epoch++
	if c.reconnectStop != nil {
		close(c.reconnectStop)
		c.reconnectStop = nil
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	c.stopSweeper()
	c.tracker.CleanupAll()
}

// Close permanently tears the client down. Safe to call while network
// callbacks are in flight: the guard is revoked first, so any callback that
// has not yet started observes the revocation and returns without touching
// client state.
func (c *Client) Close() {
	c.guard.revoke()
	c.Disconnect()
}

// Send issues a request and registers its continuations. The returned id is
// non-zero and strictly increasing across calls. If the write fails, the
// registration is rolled back and onError runs synchronously on the calling
// goroutine with a connection-lost failure; every other continuation runs on
// the network goroutine. timeout <= 0 selects the configured default.
func (c *Client) Send(method string, params any, onResult ResponseFunc, onError ErrorFunc, timeout time.Duration) uint64 {
	return c.send(method, params, onResult, onError, timeout, false)
}

// SendSilent is Send without transport events for this request's failures.
func (c *Client) SendSilent(method string, params any, onResult ResponseFunc, onError ErrorFunc, timeout time.Duration) uint64 {
	return c.send(method, params, onResult, onError, timeout, true)
}

func (c *Client) send(method string, params any, onResult ResponseFunc, onError ErrorFunc, timeout time.Duration, silent bool) uint64 {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	id := c.tracker.Register(method, onResult, onError, timeout, silent)

	env := request{
		Jsonrpc: jsonrpcVersion,
		Method:  method,
		Params:  normalizeParams(params),
		ID:      id,
	}
	data, err := json.Marshal(env)
	if err == nil {
		err = c.write(data)
	}
	if err != nil {
		c.logger.Warn("send failed", "method", method, "id", id, "error", err)
		// The timeout sweep (or a racing disconnect's CleanupAll) may have
		// already removed the registration and fired its continuation; the
		// rollback owns the error continuation only if the removal is ours.
		if c.tracker.Cancel(id) && onError != nil {
			onError(connectionLostError(method))
		}
	}
	return id
}

// SendNoReply sends a fire-and-forget request. The envelope still carries a
// unique id, but no continuation is registered and no response is awaited.
func (c *Client) SendNoReply(method string, params any) error {
	env := request{
		Jsonrpc: jsonrpcVersion,
		Method:  method,
		Params:  normalizeParams(params),
		ID:      c.tracker.AllocID(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop is the network goroutine for one physical connection.
func (c *Client) readLoop(conn *websocket.Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if !c.guard.resolve() {
			return
		}
		if err != nil {
			c.handleClose(epoch, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame routes one inbound frame: responses through the tracker,
// notifications through the dispatcher. The timeout sweep piggybacks on
// every frame. Malformed JSON is logged and dropped; it must not affect
// unrelated in-flight requests.
func (c *Client) handleFrame(data []byte) {
	c.tracker.CheckTimeouts()

	resp, note, err := parseFrame(data)
	if err != nil {
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}
	if resp != nil {
		if !c.tracker.Route(resp) {
			c.logger.Debug("response with no pending request", "id", resp.ID)
		}
		return
	}
	c.dispatcher.Dispatch(note)
}

// handleClose reacts to the socket closing underneath a live read loop.
func (c *Client) handleClose(epoch uint64, err error) {
	oversized := errors.Is(err, websocket.ErrReadLimit)

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnected {
		// A replaced or already-disconnected connection; Disconnect or a
		// newer dial owns the state now.
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	onDisconnected := c.onDisconnected

	var next State
	switch {
	case !c.reconnectArmed:
		next = StateDisconnected
	case c.attempts >= c.cfg.MaxReconnectAttempts:
		next = StateFailed
	default:
		next = StateReconnecting
	}
	c.setStateLocked(next)
	var stop chan struct{}
	if next == StateReconnecting {
		stop = make(chan struct{})
		c.reconnectStop = stop
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.logger.Warn("connection closed", "error", err, "next_state", next)

	if oversized {
		c.emitter.Emit(EventOversizedFrame, "oversized frame forced disconnect", true, err.Error())
	}
	c.emitter.emitDisconnect(err.Error())

	// Responses for these requests can never arrive on a future connection.
	c.tracker.CleanupAll()

	if onDisconnected != nil {
		onDisconnected()
	}

	switch next {
	case StateReconnecting:
		go c.reconnectLoop(stop)
	case StateFailed:
		c.emitter.Emit(EventReconnectFailed, "reconnect attempts exhausted", true, c.url)
	}
}

// reconnectLoop retries the dial with bounded exponential backoff until it
// succeeds, the attempt cap is reached, or the client is disconnected. stop
// interrupts a backoff wait so teardown does not stall for the full delay.
func (c *Client) reconnectLoop(stop <-chan struct{}) {
	delay := c.cfg.ReconnectMinDelay

	for {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}

		if !c.guard.resolve() {
			return
		}
		c.mu.Lock()
		if !c.reconnectArmed || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.logger.Info("attempting reconnect", "attempt", attempt, "url", c.url)

		err := c.dial()
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			return
		}
		c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)

		c.mu.Lock()
		if c.attempts >= c.cfg.MaxReconnectAttempts {
			c.reconnectArmed = false
			c.reconnectStop = nil
			c.setStateLocked(StateFailed)
			c.mu.Unlock()
			c.emitter.Emit(EventReconnectFailed, "reconnect attempts exhausted", true, c.url)
			return
		}
		c.mu.Unlock()

		delay *= 2
		if delay > c.cfg.ReconnectMaxDelay {
			delay = c.cfg.ReconnectMaxDelay
		}
	}
}

// setStateLocked is the single transition point. Callers hold c.mu.
func (c *Client) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("state transition", "from", c.state, "to", next)
	c.state = next
}

// startSweeper runs the periodic timeout sweep. The per-frame sweep covers
// busy connections; this ticker covers idle ones.
func (c *Client) startSweeper() {
	c.mu.Lock()
	if c.sweepStop != nil || c.cfg.SweepInterval <= 0 {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.sweepStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !c.guard.resolve() {
					return
				}
				c.tracker.CheckTimeouts()
			}
		}
	}()
}

func (c *Client) stopSweeper() {
	c.mu.Lock()
	if c.sweepStop != nil {
		close(c.sweepStop)
		c.sweepStop = nil
	}
	c.mu.Unlock()
}
