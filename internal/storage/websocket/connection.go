package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/fieldsync/anchor/pkg/streaming"
)

const (
	sendChSize     = 256
	maxReconnect   = 10
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	defaultTimeout = 10 * time.Second
)

var errConnClosed = errors.New("websocket connection closed")

// pendingRequest waits for the ack or error answering one request.
type pendingRequest struct {
	resp chan streaming.Envelope
	// onAck runs on the read loop before any later message is handled.
	onAck func(streaming.Envelope)
}

// connection manages a WebSocket connection with a single write goroutine.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	sendCh  chan []byte
	done    chan struct{} // closed on shutdown
	closed  bool
	pending map[string]*pendingRequest

	wsURL   string
	secret  string
	backoff time.Duration

	// onSnapshot receives snapshot pushes.
	onSnapshot func(streaming.Envelope)
	// onReconnect runs after a successful redial, before the loops restart.
	onReconnect func()

	logger *slog.Logger
}

func newConnection(logger *slog.Logger, backoff time.Duration) *connection {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingRequest),
		backoff: backoff,
		logger:  logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh and writes messages to conn.
// Only one writeLoop runs at a time; it returns on error or shutdown.
func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.requeue(data)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.requeue(data)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// requeue puts back a message the write loop failed to send.
func (c *connection) requeue(data []byte) {
	select {
	case c.sendCh <- data:
	default:
	}
}

// readLoop routes acks and errors to their pending requests and snapshot
// pushes to onSnapshot.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Malformed message received", "raw", string(message))
			continue
		}

		switch env.Type {
		case streaming.TypeAck, streaming.TypeError:
			c.mu.Lock()
			p, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("Response for unknown request", "id", env.ID, "type", env.Type)
				continue
			}
			if env.Type == streaming.TypeAck && p.onAck != nil {
				p.onAck(env)
			}
			p.resp <- env
		case streaming.TypeSnapshot:
			if c.onSnapshot != nil {
				c.onSnapshot(env)
			}
		default:
			c.logger.Debug("Unexpected message type", "type", env.Type)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. On success it runs onReconnect and restarts the
// read/write loops. Only the loops of the current conn may trigger it.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		if c.onReconnect != nil {
			c.onReconnect()
		}

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; fails if the channel is full.
func (c *connection) send(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return fmt.Errorf("websocket send queue full")
	}
}

// register records a pending request so the read loop can answer it.
func (c *connection) register(id string, onAck func(streaming.Envelope)) *pendingRequest {
	p := &pendingRequest{resp: make(chan streaming.Envelope, 1), onAck: onAck}
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	return p
}

func (c *connection) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// request sends env and blocks until the server answers it, ctx is done or
// timeout expires.
func (c *connection) request(ctx context.Context, env streaming.Envelope, timeout time.Duration, onAck func(streaming.Envelope)) (streaming.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return streaming.Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return streaming.Envelope{}, fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}

	p := c.register(env.ID, onAck)
	if err := c.send(data); err != nil {
		c.forget(env.ID)
		return streaming.Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-p.resp:
		return resp, nil
	case <-ctx.Done():
		c.forget(env.ID)
		return streaming.Envelope{}, ctx.Err()
	case <-timer.C:
		c.forget(env.ID)
		return streaming.Envelope{}, fmt.Errorf("timeout waiting for ack of %s %q", env.Type, env.ID)
	case <-c.done:
		return streaming.Envelope{}, errConnClosed
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
