package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWSPath is the handshake path signed for authenticated feeds.
const DefaultWSPath = "/trade-api/ws/v2"

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSClient streams ticker updates over the exchange WebSocket feed using
// gorilla/websocket. It reconnects with exponential backoff and restores
// active subscriptions after reconnect.
type WSClient struct {
	endpoint string
	config   WSConfig
	signer   *Signer

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	commandID atomic.Uint64

	// subs maps subscription ID to delivery channel
	subs   map[int64]chan TickerUpdate
	subsMu sync.RWMutex

	// activeTickers stores subscribed markets for resubscription after reconnect
	activeTickers   map[int64][]string
	activeTickersMu sync.RWMutex

	// pendingSubs maps command ID to the subscribe in flight
	pendingSubs   map[uint64]*pendingSub
	pendingSubsMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// pendingSub tracks a subscribe command awaiting its ack. The delivery
// channel rides along so the read loop can install it under the assigned sid
// before it reads the next message; updates the server sends right after the
// ack would otherwise have no subscriber.
type pendingSub struct {
	deliver chan TickerUpdate
	confirm chan int64
}

// WSOption configures WSClient.
type WSOption func(*WSClient)

// WithWSConfig overrides the default feed configuration.
func WithWSConfig(cfg WSConfig) WSOption {
	return func(c *WSClient) {
		c.config = cfg
	}
}

// WithWSSigner signs the handshake for authenticated channels.
func WithWSSigner(s *Signer) WSOption {
	return func(c *WSClient) {
		c.signer = s
	}
}

// NewWSClient creates a feed client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, opts ...WSOption) (*WSClient, error) {
	c := &WSClient{
		endpoint:      endpoint,
		config:        DefaultWSConfig(),
		subs:          make(map[int64]chan TickerUpdate),
		activeTickers: make(map[int64][]string),
		pendingSubs:   make(map[uint64]*pendingSub),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	var header http.Header
	if c.signer != nil {
		h, err := c.signer.SignHeaders(http.MethodGet, DefaultWSPath)
		if err != nil {
			return fmt.Errorf("sign handshake: %w", err)
		}
		header = h
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeTicker subscribes to the ticker channel for the given markets.
func (c *WSClient) SubscribeTicker(ctx context.Context, marketTickers []string) (<-chan TickerUpdate, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	// Blocking send ensures no update loss; buffer absorbs burst. The read
	// loop installs the channel under the assigned sid when the ack arrives.
	ch := make(chan TickerUpdate, 10000)
	subID, err := c.subscribeTickerInternal(ctx, marketTickers, ch)
	if err != nil {
		return nil, err
	}

	// Store tickers for resubscription after reconnect
	c.activeTickersMu.Lock()
	c.activeTickers[subID] = append([]string(nil), marketTickers...)
	c.activeTickersMu.Unlock()

	return ch, nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Close all subscription channels
	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	// Close pending subscription confirmations
	c.pendingSubsMu.Lock()
	for id, p := range c.pendingSubs {
		close(p.confirm)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	// Wait before reconnecting
	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	// Close existing connection
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	c.resubscribeAll()
}

// resubscribeAll restores all active subscriptions after reconnect.
func (c *WSClient) resubscribeAll() {
	c.activeTickersMu.RLock()
	tickers := make(map[int64][]string)
	for id, t := range c.activeTickers {
		tickers[id] = t
	}
	c.activeTickersMu.RUnlock()

	c.subsMu.RLock()
	channels := make(map[int64]chan TickerUpdate)
	for id, ch := range c.subs {
		channels[id] = ch
	}
	c.subsMu.RUnlock()

	for oldSubID, markets := range tickers {
		ch := channels[oldSubID]
		if ch == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newSubID, err := c.subscribeTickerInternal(ctx, markets, ch)
		cancel()

		if err != nil {
			// Failed to resubscribe, keep old mapping
			continue
		}

		// The read loop already installed ch under newSubID; drop the stale sid
		if newSubID != oldSubID {
			c.subsMu.Lock()
			delete(c.subs, oldSubID)
			c.subsMu.Unlock()
		}

		c.activeTickersMu.Lock()
		delete(c.activeTickers, oldSubID)
		c.activeTickers[newSubID] = markets
		c.activeTickersMu.Unlock()
	}
}

// subscribeTickerInternal sends the subscribe command and waits for the
// subscription ID. The read loop maps deliver to the assigned sid as soon as
// the ack is processed; ticker mappings are left to the caller.
func (c *WSClient) subscribeTickerInternal(ctx context.Context, marketTickers []string, deliver chan TickerUpdate) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	cmdID := c.commandID.Add(1)

	cmd := wsCommand{
		ID:  cmdID,
		Cmd: "subscribe",
		Params: wsSubscribeParams{
			Channels:      []string{"ticker"},
			MarketTickers: marketTickers,
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[cmdID] = &pendingSub{deliver: deliver, confirm: confirmCh}
	c.pendingSubsMu.Unlock()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, cmdID)
		c.pendingSubsMu.Unlock()
		return 0, fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(cmd)
	c.connMu.Unlock()

	if err != nil {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, cmdID)
		c.pendingSubsMu.Unlock()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, fmt.Errorf("client closed")
		}
		return subID, nil
	case <-time.After(30 * time.Second):
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, cmdID)
		c.pendingSubsMu.Unlock()
		c.dropIfRegistered(confirmCh)
		return 0, fmt.Errorf("subscription timeout after 30s")
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, cmdID)
		c.pendingSubsMu.Unlock()
		c.dropIfRegistered(confirmCh)
		return 0, ctx.Err()
	}
}

// dropIfRegistered removes a subscriber the read loop may have installed
// between the ack arriving and the caller giving up.
func (c *WSClient) dropIfRegistered(confirm chan int64) {
	select {
	case sid := <-confirm:
		c.subsMu.Lock()
		delete(c.subs, sid)
		c.subsMu.Unlock()
	default:
	}
}

// handleMessage processes one incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}

	switch env.Type {
	case "subscribed":
		var ack wsSubscribedMsg
		if err := json.Unmarshal(env.Msg, &ack); err != nil {
			return
		}
		c.handleSubscribed(env.ID, ack.Sid)
	case "ticker":
		var update TickerUpdate
		if err := json.Unmarshal(env.Msg, &update); err != nil {
			return
		}
		c.handleTicker(env.Sid, update)
	case "error":
		var errMsg wsErrorMsg
		if err := json.Unmarshal(env.Msg, &errMsg); err == nil {
			// Log error but don't crash - subscription will timeout
			fmt.Printf("[ws] Error response: code=%d msg=%s\n", errMsg.Code, errMsg.Msg)
		}
	}
}

// handleSubscribed installs the subscriber under its assigned sid and then
// signals the waiting caller. Registration happens here, on the read loop,
// so updates in the very next message already have a channel to land on.
func (c *WSClient) handleSubscribed(cmdID uint64, sid int64) {
	c.pendingSubsMu.Lock()
	p, ok := c.pendingSubs[cmdID]
	if ok {
		delete(c.pendingSubs, cmdID)
	}
	c.pendingSubsMu.Unlock()

	if !ok {
		return
	}

	c.subsMu.Lock()
	c.subs[sid] = p.deliver
	c.subsMu.Unlock()

	select {
	case p.confirm <- sid:
	default:
	}
}

// handleTicker dispatches a ticker update to its subscriber.
func (c *WSClient) handleTicker(sid int64, update TickerUpdate) {
	c.subsMu.RLock()
	ch, ok := c.subs[sid]
	c.subsMu.RUnlock()

	if ok {
		// Block until we can send - never drop updates
		select {
		case ch <- update:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// Feed protocol message types

type wsCommand struct {
	ID     uint64            `json:"id"`
	Cmd    string            `json:"cmd"`
	Params wsSubscribeParams `json:"params"`
}

type wsSubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

type wsEnvelope struct {
	ID   uint64          `json:"id,omitempty"`
	Type string          `json:"type"`
	Sid  int64           `json:"sid,omitempty"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSubscribedMsg struct {
	Channel string `json:"channel"`
	Sid     int64  `json:"sid"`
}

type wsErrorMsg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
