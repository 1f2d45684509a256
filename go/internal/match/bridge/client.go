package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
)

var (
	ErrClosed         = errors.New("match connection closed")
	ErrSendBufferFull = errors.New("match connection send buffer full")
)

// Config holds configuration for the match server connection
type Config struct {
	BaseURL          string
	MatchID          string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	CloseTimeout     time.Duration
	MaxMessageSize   int64
	SendBuffer       int
	InboundBuffer    int
}

// DefaultConfig returns default connection settings
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		CloseTimeout:     time.Second,
		MaxMessageSize:   64 * 1024,
		SendBuffer:       64,
		InboundBuffer:    64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = d.InboundBuffer
	}
	return c
}

// MatchURL builds the websocket address of a match. http and https bases are
// mapped to ws and wss.
func MatchURL(base, matchID, token string) (string, error) {
	if matchID == "" {
		return "", errors.New("match id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/match/" + url.PathEscape(matchID)
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a websocket connection to the match server. Messages are read and
// written by two pumps; Inbound is closed when the read pump exits.
type Client struct {
	ID      string
	MatchID string

	conn   *websocket.Conn
	config Config
	logger zerolog.Logger

	send    chan []byte
	inbound chan protocol.Message
	stop    chan struct{}
	readEnd chan struct{}

	closing   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to the match server and starts the pumps.
func Dial(ctx context.Context, config Config) (*Client, error) {
	config = config.withDefaults()
	addr, err := MatchURL(config.BaseURL, config.MatchID, config.Token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial match server: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial match server: %w", err)
	}

	c := newClient(conn, config)
	c.logger.Info().Msg("connected to match server")
	go c.writePump()
	go c.readPump()
	return c, nil
}

func newClient(conn *websocket.Conn, config Config) *Client {
	id := uuid.New().String()
	return &Client{
		ID:      id,
		MatchID: config.MatchID,
		conn:    conn,
		config:  config,
		logger: log.With().
			Str("connection_id", id).
			Str("match_id", config.MatchID).
			Logger(),
		send:    make(chan []byte, config.SendBuffer),
		inbound: make(chan protocol.Message, config.InboundBuffer),
		stop:    make(chan struct{}),
		readEnd: make(chan struct{}),
	}
}

// Send queues an outbound message without blocking.
func (c *Client) Send(out protocol.Outbound) error {
	data, err := protocol.Encode(out)
	if err != nil {
		return err
	}
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) Inbound() <-chan protocol.Message {
	return c.inbound
}

// Err is nil while the connection is open and after Close. Any other ending
// is reported once Inbound has been closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a normal close frame and waits briefly for the server to
// answer before dropping the socket.
func (c *Client) Close() error {
	c.closing.Store(true)
	deadline := time.Now().Add(c.config.WriteTimeout)
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("failed to send close frame")
	}

	select {
	case <-c.readEnd:
	case <-time.After(c.config.CloseTimeout):
	}
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.closeOnce.Do(func() { c.conn.Close() })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.stop:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error().Err(err).Msg("failed to write message to match server")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		close(c.readEnd)
		close(c.inbound)
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Str("frame", truncate(data, 128)).Msg("dropping unreadable frame")
			continue
		}

		// Application pings are answered here and never reach the machine.
		if _, ok := msg.(protocol.Ping); ok {
			if err := c.Send(protocol.Pong()); err != nil {
				c.logger.Warn().Err(err).Msg("failed to queue pong")
			}
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.stop:
			return
		}
	}
}

// finish records why the read pump stopped. Only a close we initiated is clean.
func (c *Client) finish(err error) {
	if c.closing.Load() {
		c.logger.Info().Msg("match connection closed")
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Error().Err(err).Msg("unexpected match connection close")
	} else {
		c.logger.Warn().Err(err).Msg("match server closed the connection")
	}
	c.mu.Lock()
	c.err = fmt.Errorf("%w: %w", ErrClosed, err)
	c.mu.Unlock()
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
