// Package telegram implements the channel transport: a websocket client for
// an MTProto gateway that pushes new channel messages to the service.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// The gateway reports this error code when the account is already a member
// of the channel it was asked to join. Treated as success.
const errAlreadyParticipant = "USER_ALREADY_PARTICIPANT"

// ClientConfig configures gateway client behavior.
type ClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout bounds a single read from the socket.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single write to the socket.
	WriteTimeout time.Duration
	// RequestTimeout bounds a request/response round trip (join).
	RequestTimeout time.Duration
	// EventBuffer sizes the outbound event channel.
	EventBuffer int
}

// DefaultClientConfig returns the default gateway configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    15 * time.Second,
		EventBuffer:       256,
	}
}

// Client is a websocket client for the Telegram gateway. It performs an
// idempotent channel join, then surfaces pushed channel messages as
// whale.RawEvents on Events. The connection is owned exclusively by this
// client; workers never touch it.
type Client struct {
	endpoint string
	config   ClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	events chan whale.RawEvent

	// pending maps request ID to the channel awaiting its response.
	pending   map[uint64]chan gatewayResponse
	pendingMu sync.Mutex

	// joined channels are re-joined after a reconnect.
	joined   map[string]struct{}
	joinedMu sync.Mutex

	done         chan struct{}
	wg           sync.WaitGroup
	reconnecting atomic.Bool
}

// NewClient connects to the gateway endpoint and starts the read and ping
// loops.
func NewClient(ctx context.Context, endpoint string, config *ClientConfig, logger *zap.Logger) (*Client, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		events:   make(chan whale.RawEvent, cfg.EventBuffer),
		pending:  make(map[uint64]chan gatewayResponse),
		joined:   make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Events returns the channel on which pushed messages are delivered. The
// channel is closed when the client closes.
func (c *Client) Events() <-chan whale.RawEvent {
	return c.events
}

// JoinChannel subscribes the account to the named channel. An
// "already a participant" response counts as success, so the call is safe
// to repeat at every startup.
func (c *Client) JoinChannel(ctx context.Context, channel string) error {
	resp, err := c.request(ctx, "channels.join", joinParams{Channel: channel})
	if err != nil {
		return fmt.Errorf("join channel %q: %w", channel, err)
	}
	if resp.Error != nil && resp.Error.Message != errAlreadyParticipant {
		return fmt.Errorf("join channel %q: gateway error %d: %s",
			channel, resp.Error.Code, resp.Error.Message)
	}
	if resp.Error != nil {
		c.logger.Debug("already joined channel", zap.String("channel", channel))
	} else {
		c.logger.Info("joined channel", zap.String("channel", channel))
	}

	c.joinedMu.Lock()
	c.joined[channel] = struct{}{}
	c.joinedMu.Unlock()
	return nil
}

// Close closes the gateway connection and the events channel. Safe to call
// more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

func (c *Client) request(ctx context.Context, method string, params any) (gatewayResponse, error) {
	if c.closed.Load() {
		return gatewayResponse{}, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	raw, err := json.Marshal(params)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("marshal params: %w", err)
	}
	req := gatewayRequest{ID: reqID, Method: method, Params: raw}

	respCh := make(chan gatewayResponse, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()

	clearPending := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		clearPending()
		return gatewayResponse{}, fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err = c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		clearPending()
		return gatewayResponse{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return gatewayResponse{}, fmt.Errorf("client closed")
		}
		return resp, nil
	case <-time.After(c.config.RequestTimeout):
		clearPending()
		return gatewayResponse{}, fmt.Errorf("request timeout after %s", c.config.RequestTimeout)
	case <-c.done:
		return gatewayResponse{}, fmt.Errorf("client closed")
	case <-ctx.Done():
		clearPending()
		return gatewayResponse{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
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

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}
			reconnectDelay *= 2
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

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("gateway reconnect failed", zap.Error(err))
		return
	}
	c.logger.Info("gateway reconnected")

	// Re-join channels so the push subscription survives the reconnect.
	c.joinedMu.Lock()
	channels := make([]string, 0, len(c.joined))
	for ch := range c.joined {
		channels = append(channels, ch)
	}
	c.joinedMu.Unlock()

	for _, channel := range channels {
		joinCtx, joinCancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		if err := c.JoinChannel(joinCtx, channel); err != nil {
			c.logger.Warn("re-join after reconnect failed",
				zap.String("channel", channel), zap.Error(err))
		}
		joinCancel()
	}
}

func (c *Client) handleMessage(message []byte) {
	var env gatewayEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn("gateway sent undecodable frame", zap.Error(err))
		return
	}

	switch {
	case env.ID != 0:
		c.handleResponse(gatewayResponse{ID: env.ID, Result: env.Result, Error: env.Error})
	case env.Method == "updates.newMessage":
		c.handleNewMessage(env.Params)
	default:
		c.logger.Debug("ignoring gateway frame", zap.String("method", env.Method))
	}
}

func (c *Client) handleResponse(resp gatewayResponse) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *Client) handleNewMessage(params json.RawMessage) {
	var upd messageUpdate
	if err := json.Unmarshal(params, &upd); err != nil {
		c.logger.Warn("undecodable message update", zap.Error(err))
		return
	}

	event := whale.RawEvent{
		EventID:   strconv.FormatInt(upd.Message.ID, 10),
		Text:      upd.Message.Text,
		Timestamp: time.Unix(upd.Message.Date, 0).UTC(),
	}

	// The events channel is buffered; if the consumer stalls long enough to
	// fill it, block rather than reorder or drop at the transport layer.
	// Backpressure policy lives in the listener, not here.
	select {
	case c.events <- event:
	case <-c.done:
	}
}

func (c *Client) pingLoop() {
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
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

// Gateway wire types.

type gatewayRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type gatewayEnvelope struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *gatewayError   `json:"error,omitempty"`
}

type gatewayResponse struct {
	ID     uint64
	Result json.RawMessage
	Error  *gatewayError
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type joinParams struct {
	Channel string `json:"channel"`
}

type messageUpdate struct {
	Channel string         `json:"channel"`
	Message gatewayMessage `json:"message"`
}

type gatewayMessage struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Date int64  `json:"date"`
}

var _ whale.ChannelTransport = (*Client)(nil)

// Endpoint normalizes an http(s) URL into its websocket form, for configs
// that specify the gateway by HTTP address.
func Endpoint(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	default:
		return raw
	}
}
