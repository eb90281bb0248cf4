// internal/storage/memory/memory.go
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
)

// Backend keeps anchors in memory. It is the default store for tests and
// for single-process use where nothing needs to survive a restart.
type Backend struct {
	// Now stamps CreatedAt; tests replace it to force timestamp ties.
	Now func() time.Time

	anchors map[string][]core.Anchor // keyed by owner, newest first
	hub     *storage.Hub

	seq    uint64
	closed bool
	mu     sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		Now:     time.Now,
		anchors: make(map[string][]core.Anchor),
		hub:     storage.NewHub(),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close drops all subscriptions. Stored anchors are kept so a closed backend
// can still be inspected.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.hub.Close()
	return nil
}

// Append stores a new anchor for ownerID.
func (b *Backend) Append(ctx context.Context, ownerID string, fields core.AnchorFields) (string, error) {
	if err := storage.ValidateAppend(ownerID, fields); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", storage.ErrClosed
	}

	b.seq++
	a := core.Anchor{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: b.Now().UTC(),
		Seq:       b.seq,
		Label:     strings.TrimSpace(fields.Label),
		Note:      fields.Note,
		CameraID:  fields.CameraID,
	}
	if fields.Coordinate != nil {
		c := fields.Coordinate.Clone()
		a.Coordinate = &c
	}

	list := append(b.anchors[ownerID], a)
	slices.SortStableFunc(list, func(x, y core.Anchor) int {
		switch {
		case x.Newer(y):
			return -1
		case y.Newer(x):
			return 1
		}
		return 0
	})
	b.anchors[ownerID] = list

	b.hub.Publish(ownerID, storage.Snapshot{Anchors: list})
	return a.ID, nil
}

// List returns the owner's anchors newest first.
func (b *Backend) List(ctx context.Context, ownerID string) ([]core.Anchor, error) {
	if ownerID == "" {
		return nil, storage.ErrNoOwner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return storage.CloneAnchors(b.anchors[ownerID]), nil
}

// Subscribe returns a live feed of the owner's anchors.
func (b *Backend) Subscribe(ctx context.Context, ownerID string) (storage.Subscription, error) {
	if ownerID == "" {
		return nil, storage.ErrNoOwner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Hold the write lock so no Append can publish between the initial
	// snapshot and registration.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrClosed
	}
	return b.hub.Subscribe(ownerID, storage.Snapshot{Anchors: b.anchors[ownerID]}), nil
}

// DeleteAll removes every anchor of ownerID.
func (b *Backend) DeleteAll(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return storage.ErrNoOwner
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	if _, ok := b.anchors[ownerID]; !ok {
		return nil
	}
	delete(b.anchors, ownerID)
	b.hub.Publish(ownerID, storage.Snapshot{Anchors: []core.Anchor{}})
	return nil
}
