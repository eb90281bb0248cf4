package storage

import (
	"sync"

	"github.com/fieldsync/anchor/pkg/core"
)

// Hub fans snapshots out to the subscribers of each owner. Delivery never
// blocks the publisher: every subscription buffers one snapshot and a newer
// snapshot replaces an unread older one.
//
// Callers must serialise Publish for an owner with the writes that produced
// the snapshot, otherwise an older set can overtake a newer one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*hubSubscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*hubSubscription]struct{}),
	}
}

// Subscribe registers a subscriber for ownerID and queues initial as its
// first snapshot.
func (h *Hub) Subscribe(ownerID string, initial Snapshot) Subscription {
	s := &hubSubscription{
		hub:   h,
		owner: ownerID,
		ch:    make(chan Snapshot, 1),
	}
	s.deliver(initial)

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[ownerID]
	if !ok {
		set = make(map[*hubSubscription]struct{})
		h.subs[ownerID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers snap to every subscriber of ownerID.
func (h *Hub) Publish(ownerID string, snap Snapshot) {
	h.mu.Lock()
	targets := make([]*hubSubscription, 0, len(h.subs[ownerID]))
	for s := range h.subs[ownerID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.deliver(snap)
	}
}

// Count returns the number of live subscriptions for ownerID.
func (h *Hub) Count(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*hubSubscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
}

func (h *Hub) remove(s *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.owner]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.owner)
	}
}

type hubSubscription struct {
	hub   *Hub
	owner string

	mu     sync.Mutex
	ch     chan Snapshot
	closed bool
}

func (s *hubSubscription) Snapshots() <-chan Snapshot {
	return s.ch
}

func (s *hubSubscription) deliver(snap Snapshot) {
	snap.Anchors = CloneAnchors(snap.Anchors)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Drop the unread snapshot, if any; only the newest set matters.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *hubSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.hub.remove(s)
}

// CloneAnchors deep-copies a snapshot so subscribers can't alias store state.
func CloneAnchors(in []core.Anchor) []core.Anchor {
	if in == nil {
		return nil
	}
	out := make([]core.Anchor, len(in))
	for i, a := range in {
		out[i] = a
		if a.Coordinate != nil {
			c := a.Coordinate.Clone()
			out[i].Coordinate = &c
		}
	}
	return out
}
