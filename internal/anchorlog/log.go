// Package anchorlog keeps a live, newest-first view of one owner's anchors
// and answers resolution queries against the latest snapshot.
package anchorlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsync/anchor/internal/resolver"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
)

// Dependencies holds what a Log needs.
type Dependencies struct {
	Gateway storage.Gateway
	Logger  *slog.Logger
	// OnChange, if set, is called with every new snapshot after it is applied.
	OnChange func(ownerID string, anchors []core.Anchor)
}

// Log mirrors one owner's anchor set. Every snapshot from the store
// replaces the view wholesale. A failed subscription shows as an empty list.
type Log struct {
	deps    Dependencies
	ownerID string

	mu      sync.RWMutex
	anchors []core.Anchor
	err     error

	ready     chan struct{}
	readyOnce sync.Once

	sub       storage.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open subscribes to ownerID's anchors. An empty ownerID (signed out) yields
// an empty, already-ready log with no subscription.
func Open(ctx context.Context, deps Dependencies, ownerID string) *Log {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	l := &Log{
		deps:    deps,
		ownerID: ownerID,
		anchors: []core.Anchor{},
		ready:   make(chan struct{}),
	}
	if ownerID == "" {
		l.markReady()
		return l
	}

	sub, err := deps.Gateway.Subscribe(ctx, ownerID)
	if err != nil {
		deps.Logger.Warn("Anchor subscription failed", "owner", ownerID, "error", err)
		l.err = err
		l.markReady()
		return l
	}
	l.sub = sub

	l.wg.Add(1)
	go l.follow()
	return l
}

func (l *Log) follow() {
	defer l.wg.Done()
	defer l.markReady()

	for snap := range l.sub.Snapshots() {
		anchors := snap.Anchors
		if snap.Err != nil {
			l.deps.Logger.Warn("Anchor subscription error", "owner", l.ownerID, "error", snap.Err)
			anchors = []core.Anchor{}
		}
		if anchors == nil {
			anchors = []core.Anchor{}
		}

		l.mu.Lock()
		l.anchors = anchors
		l.err = snap.Err
		l.mu.Unlock()
		l.markReady()

		if l.deps.OnChange != nil {
			l.deps.OnChange(l.ownerID, storage.CloneAnchors(anchors))
		}
	}
}

func (l *Log) markReady() {
	l.readyOnce.Do(func() { close(l.ready) })
}

// Owner returns the owner this log follows.
func (l *Log) Owner() string {
	return l.ownerID
}

// WaitReady blocks until the first snapshot has been applied.
func (l *Log) WaitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current anchors, newest first.
func (l *Log) Snapshot() []core.Anchor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return storage.CloneAnchors(l.anchors)
}

// Err returns the error of the last snapshot, if any.
func (l *Log) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Latest returns the current (newest) anchor.
func (l *Log) Latest() (core.Anchor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.anchors) == 0 {
		return core.Anchor{}, false
	}
	return storage.CloneAnchors(l.anchors[:1])[0], true
}

// Locate resolves a capture time against the current snapshot.
func (l *Log) Locate(target time.Time) resolver.Resolution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return resolver.Locate(l.anchors, target)
}

// Assign resolves many frames against the current snapshot.
func (l *Log) Assign(frames []resolver.Frame) []resolver.Assignment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return resolver.Assign(l.anchors, frames)
}

// Close stops following the store. Safe to call more than once.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		if l.sub != nil {
			l.sub.Unsubscribe()
		}
		l.wg.Wait()
	})
}
