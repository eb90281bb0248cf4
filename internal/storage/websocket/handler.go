package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/streaming"
)

// Handler serves any storage.Gateway to WebSocket clients.
type Handler struct {
	gw       storage.Gateway
	secret   string
	upgrader ws.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a handler for gw. A non-empty secret must be passed
// by clients as the "secret" query parameter.
func NewHandler(gw storage.Gateway, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gw:     gw,
		secret: secret,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and serves the protocol until the client
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.URL.Query().Get("secret") != h.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sc := &serverConn{
		h:    h,
		conn: conn,
		subs: make(map[string]storage.Subscription),
	}
	sc.serve(r.Context())
}

// serverConn is one client connection. Requests are handled in order on the
// read goroutine; snapshot forwarders write concurrently under writeMu.
type serverConn struct {
	h       *Handler
	conn    *ws.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]storage.Subscription
	wg   sync.WaitGroup
}

func (c *serverConn) serve(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		for id, sub := range c.subs {
			sub.Unsubscribe()
			delete(c.subs, id)
		}
		c.mu.Unlock()
		c.wg.Wait()
		_ = c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				c.h.logger.Debug("WebSocket client read error", "error", err)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.h.logger.Debug("Malformed request", "raw", string(message))
			continue
		}
		if err := c.handle(ctx, env); err != nil {
			c.h.logger.Debug("WebSocket client write error", "error", err)
			return
		}
	}
}

func (c *serverConn) handle(ctx context.Context, env streaming.Envelope) error {
	switch env.Type {
	case streaming.TypeAppend:
		var p streaming.AppendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.fail(env.ID, streaming.CodeBadRequest, err)
		}
		id, err := c.h.gw.Append(ctx, p.OwnerID, p.Fields)
		if err != nil {
			return c.fail(env.ID, codeFor(err), err)
		}
		return c.ack(env.ID, streaming.AppendResult{ID: id})

	case streaming.TypeList:
		var p streaming.OwnerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.fail(env.ID, streaming.CodeBadRequest, err)
		}
		anchors, err := c.h.gw.List(ctx, p.OwnerID)
		if err != nil {
			return c.fail(env.ID, codeFor(err), err)
		}
		return c.ack(env.ID, streaming.SnapshotPayload{Anchors: anchors})

	case streaming.TypeDeleteAll:
		var p streaming.OwnerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.fail(env.ID, streaming.CodeBadRequest, err)
		}
		if err := c.h.gw.DeleteAll(ctx, p.OwnerID); err != nil {
			return c.fail(env.ID, codeFor(err), err)
		}
		return c.ack(env.ID, nil)

	case streaming.TypeSubscribe:
		var p streaming.OwnerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.fail(env.ID, streaming.CodeBadRequest, err)
		}
		return c.subscribe(ctx, env.ID, p.OwnerID)

	case streaming.TypeUnsubscribe:
		var p streaming.UnsubscribePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.fail(env.ID, streaming.CodeBadRequest, err)
		}
		c.mu.Lock()
		sub, ok := c.subs[p.Subscription]
		delete(c.subs, p.Subscription)
		c.mu.Unlock()
		if ok {
			sub.Unsubscribe()
		}
		return c.ack(env.ID, nil)
	}

	return c.fail(env.ID, streaming.CodeBadRequest, errors.New("unknown message type "+env.Type))
}

// subscribe acks with the initial set and then forwards every later set.
func (c *serverConn) subscribe(ctx context.Context, id, ownerID string) error {
	sub, err := c.h.gw.Subscribe(ctx, ownerID)
	if err != nil {
		return c.fail(id, codeFor(err), err)
	}

	first, ok := <-sub.Snapshots()
	if !ok {
		return c.fail(id, streaming.CodeClosed, storage.ErrClosed)
	}
	if err := c.ack(id, snapshotPayload(first)); err != nil {
		sub.Unsubscribe()
		return err
	}

	c.mu.Lock()
	if old, exists := c.subs[id]; exists {
		old.Unsubscribe()
	}
	c.subs[id] = sub
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for snap := range sub.Snapshots() {
			if err := c.write(streaming.TypeSnapshot, id, snapshotPayload(snap)); err != nil {
				return
			}
		}
	}()
	return nil
}

func snapshotPayload(s storage.Snapshot) streaming.SnapshotPayload {
	p := streaming.SnapshotPayload{Anchors: s.Anchors}
	if s.Err != nil {
		p.Error = s.Err.Error()
		p.Anchors = nil
	}
	return p
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, storage.ErrEmptyLabel):
		return streaming.CodeEmptyLabel
	case errors.Is(err, storage.ErrNoOwner):
		return streaming.CodeNoOwner
	case errors.Is(err, storage.ErrClosed):
		return streaming.CodeClosed
	}
	return streaming.CodeInternal
}

func (c *serverConn) ack(id string, payload any) error {
	return c.write(streaming.TypeAck, id, payload)
}

func (c *serverConn) fail(id, code string, err error) error {
	c.h.logger.Debug("Request failed", "id", id, "code", code, "error", err)
	return c.write(streaming.TypeError, id, streaming.ErrorPayload{Code: code, Message: err.Error()})
}

func (c *serverConn) write(msgType, id string, payload any) error {
	env, err := streaming.NewEnvelope(msgType, id, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}
