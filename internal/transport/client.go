// Package transport maintains the single persistent websocket to the
// process host. It owns the redial loop: unbounded retries with capped
// exponential backoff, surfaced to the panel as synthetic connect,
// disconnect and connect_error events.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/shellpanel/shellpanel/internal/logging"
	"github.com/shellpanel/shellpanel/internal/protocol"
)

var transportLog = logging.ForComponent(logging.CompTransport)

// ErrNotConnected is returned by Send while no socket is established.
var ErrNotConnected = errors.New("transport: not connected")

const (
	minBackoff   = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the host's panel socket.
	URL string

	// Token is the bearer token, if the host requires one.
	Token string

	// Handler receives every inbound event, synthetic and wire alike,
	// in delivery order on a single goroutine.
	Handler func(protocol.Event)
}

// Client is the panel side of the persistent connection.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client. Run starts the connection loop.
func NewClient(cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		// The limiter caps dial churn even when backoff is reset by
		// short-lived successful connections.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Run dials and re-dials until Close. Blocking; call in a goroutine.
func (c *Client) Run() {
	defer close(c.done)

	backoff := minBackoff
	for {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}

		conn, resp, err := c.dialer.DialContext(c.ctx, c.cfg.URL, c.header())
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			transportLog.Warn("dial_failed",
				slog.String("url", c.cfg.URL),
				slog.Int("status", status),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
			c.emit(protocol.Event{Type: protocol.EventConnectError, Message: err.Error()})
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		c.setConn(conn)
		c.emit(protocol.Event{Type: protocol.EventConnect})

		reason := c.readLoop(conn)
		c.setConn(nil)
		if c.ctx.Err() != nil {
			return
		}
		c.emit(protocol.Event{Type: protocol.EventDisconnect, Reason: reason})
	}
}

// Send delivers one command over the current socket.
func (c *Client) Send(cmd protocol.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(cmd)
}

// Close stops the redial loop and tears down the current socket.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return h
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// readLoop pumps inbound frames until the socket dies, keeping the
// connection alive with ping control frames. Returns the close reason.
func (c *Client) readLoop(conn *websocket.Conn) string {
	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(conn, stop)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				transportLog.Warn("connection_lost", slog.String("error", err.Error()))
			}
			return err.Error()
		}

		ev, err := protocol.DecodeEvent(payload)
		if err != nil {
			transportLog.Debug("bad_frame_dropped", slog.String("error", err.Error()))
			continue
		}
		c.emit(ev)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) emit(ev protocol.Event) {
	if c.cfg.Handler != nil {
		c.cfg.Handler(ev)
	}
}

// sleep waits out the backoff, abandoning early on Close. Reports
// whether the loop should continue.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// nextBackoff doubles the delay with ±20% jitter, capped at
// maxBackoff.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(next) / 5))
	next = next - next/10 + jitter
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
