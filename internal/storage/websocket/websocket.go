package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
	"github.com/fieldsync/anchor/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration // per request; defaults to 10s
	// ReconnectBackoff is the first redial delay; it doubles up to 30s.
	ReconnectBackoff time.Duration
}

// Backend talks to a remote anchor store over WebSocket.
// It implements storage.Gateway.
type Backend struct {
	conn *connection
	cfg  Config
	log  *slog.Logger

	// hub keys subscriptions by their request ID, not by owner.
	hub *storage.Hub

	mu   sync.Mutex
	subs map[string]string // subscription ID -> owner
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	b := &Backend{
		conn: newConnection(logger, cfg.ReconnectBackoff),
		cfg:  cfg,
		log:  logger,
		hub:  storage.NewHub(),
		subs: make(map[string]string),
	}
	b.conn.onSnapshot = b.handleSnapshot
	b.conn.onReconnect = b.replaySubscriptions
	return b
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server and ends all subscriptions.
func (b *Backend) Close() error {
	err := b.conn.close()
	b.hub.Close()
	return err
}

// call sends one request and decodes the ack payload into out.
func (b *Backend) call(ctx context.Context, msgType string, payload, out any) error {
	env, err := streaming.NewEnvelope(msgType, uuid.NewString(), payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	resp, err := b.conn.request(ctx, env, b.cfg.Timeout, nil)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// decodeResponse maps an error envelope back to a Go error, or decodes an
// ack payload into out.
func decodeResponse(resp streaming.Envelope, out any) error {
	if resp.Type == streaming.TypeError {
		var e streaming.ErrorPayload
		if err := json.Unmarshal(resp.Payload, &e); err != nil {
			return fmt.Errorf("remote error (undecodable): %w", err)
		}
		return remoteError(e)
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.Type, err)
	}
	return nil
}

func remoteError(e streaming.ErrorPayload) error {
	switch e.Code {
	case streaming.CodeEmptyLabel:
		return storage.ErrEmptyLabel
	case streaming.CodeNoOwner:
		return storage.ErrNoOwner
	case streaming.CodeClosed:
		return storage.ErrClosed
	}
	return fmt.Errorf("remote store: %s", e.Message)
}

// Append sends an append request and returns the server-assigned ID.
func (b *Backend) Append(ctx context.Context, ownerID string, fields core.AnchorFields) (string, error) {
	if err := storage.ValidateAppend(ownerID, fields); err != nil {
		return "", err
	}
	var res streaming.AppendResult
	if err := b.call(ctx, streaming.TypeAppend, streaming.AppendPayload{OwnerID: ownerID, Fields: fields}, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// List fetches the owner's anchors.
func (b *Backend) List(ctx context.Context, ownerID string) ([]core.Anchor, error) {
	if ownerID == "" {
		return nil, storage.ErrNoOwner
	}
	var res streaming.SnapshotPayload
	if err := b.call(ctx, streaming.TypeList, streaming.OwnerPayload{OwnerID: ownerID}, &res); err != nil {
		return nil, err
	}
	if res.Anchors == nil {
		res.Anchors = []core.Anchor{}
	}
	return res.Anchors, nil
}

// DeleteAll asks the server to remove every anchor of the owner.
func (b *Backend) DeleteAll(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return storage.ErrNoOwner
	}
	return b.call(ctx, streaming.TypeDeleteAll, streaming.OwnerPayload{OwnerID: ownerID}, nil)
}

// Subscribe opens a server-side subscription. It survives reconnects: the
// subscription is replayed and its fresh set delivered.
func (b *Backend) Subscribe(ctx context.Context, ownerID string) (storage.Subscription, error) {
	if ownerID == "" {
		return nil, storage.ErrNoOwner
	}
	id := uuid.NewString()
	env, err := streaming.NewEnvelope(streaming.TypeSubscribe, id, streaming.OwnerPayload{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}

	var (
		inner     storage.Subscription
		abandoned bool
	)
	resp, err := b.conn.request(ctx, env, b.cfg.Timeout, func(ack streaming.Envelope) {
		// Registering on the read loop keeps the first push behind this ack.
		b.mu.Lock()
		defer b.mu.Unlock()
		if abandoned {
			return
		}
		inner = b.hub.Subscribe(id, decodeSnapshot(ack))
		b.subs[id] = ownerID
	})

	b.mu.Lock()
	acked := inner
	abandoned = err != nil
	b.mu.Unlock()

	if err == nil {
		err = decodeResponse(resp, nil)
	}
	if err != nil {
		// The ack may have raced the deadline.
		if acked != nil {
			b.unsubscribe(id)
			acked.Unsubscribe()
		}
		return nil, err
	}
	return &remoteSubscription{id: id, inner: acked, backend: b}, nil
}

func decodeSnapshot(env streaming.Envelope) storage.Snapshot {
	var p streaming.SnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return storage.Snapshot{Err: fmt.Errorf("decode snapshot: %w", err)}
	}
	if p.Error != "" {
		return storage.Snapshot{Err: errors.New(p.Error)}
	}
	if p.Anchors == nil {
		p.Anchors = []core.Anchor{}
	}
	return storage.Snapshot{Anchors: p.Anchors}
}

func (b *Backend) handleSnapshot(env streaming.Envelope) {
	b.hub.Publish(env.ID, decodeSnapshot(env))
}

// replaySubscriptions re-opens every live subscription on a new connection.
// Their acks carry the current set, which is published like a push.
func (b *Backend) replaySubscriptions() {
	b.mu.Lock()
	subs := make(map[string]string, len(b.subs))
	for id, owner := range b.subs {
		subs[id] = owner
	}
	b.mu.Unlock()

	for id, owner := range subs {
		env, err := streaming.NewEnvelope(streaming.TypeSubscribe, id, streaming.OwnerPayload{OwnerID: owner})
		if err != nil {
			continue
		}
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		b.conn.register(id, func(ack streaming.Envelope) {
			b.hub.Publish(id, decodeSnapshot(ack))
		})
		if err := b.conn.send(data); err != nil {
			b.conn.forget(id)
			b.log.Warn("Failed to replay subscription", "subscription", id, "error", err)
		}
	}
	b.log.Info("Replayed subscriptions", "count", len(subs))
}

func (b *Backend) unsubscribe(id string) {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if !ok {
		return
	}

	env, err := streaming.NewEnvelope(streaming.TypeUnsubscribe, uuid.NewString(), streaming.UnsubscribePayload{Subscription: id})
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	// Best effort: the server also drops subscriptions when the socket closes.
	_ = b.conn.send(data)
}

// remoteSubscription is a hub subscription that also cancels its
// server-side counterpart.
type remoteSubscription struct {
	id      string
	inner   storage.Subscription
	backend *Backend
	once    sync.Once
}

func (s *remoteSubscription) Snapshots() <-chan storage.Snapshot {
	return s.inner.Snapshots()
}

func (s *remoteSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.backend.unsubscribe(s.id)
		s.inner.Unsubscribe()
	})
}
