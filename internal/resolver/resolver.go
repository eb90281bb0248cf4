// Package resolver maps capture times to the anchor that governs them.
//
// An anchor governs every frame captured at or after its CreatedAt until the
// next anchor is logged. Resolution is a pure function of the snapshot it is
// given, so it is safe to rerun on every live update.
package resolver

import (
	"slices"
	"time"

	"github.com/fieldsync/anchor/pkg/core"
)

// Status describes the outcome of locating a capture time.
type Status int

const (
	// StatusNoAnchor means no anchor was logged at or before the target time.
	StatusNoAnchor Status = iota
	// StatusUnavailable means the governing anchor was logged without a fix.
	StatusUnavailable
	// StatusLocated means the governing anchor carries a coordinate.
	StatusLocated
)

func (s Status) String() string {
	switch s {
	case StatusNoAnchor:
		return "no-anchor"
	case StatusUnavailable:
		return "unavailable"
	case StatusLocated:
		return "located"
	default:
		return "unknown"
	}
}

// Resolution is the result of Locate.
type Resolution struct {
	Status Status
	Anchor core.Anchor // zero when Status is StatusNoAnchor
}

// Coordinate returns the governing coordinate, or nil unless located.
func (r Resolution) Coordinate() *core.Coordinate {
	if r.Status != StatusLocated {
		return nil
	}
	return r.Anchor.Coordinate
}

// Resolve returns the anchor with the greatest CreatedAt not after target.
// anchors is expected newest first; on equal CreatedAt the anchor appearing
// first in that order wins.
func Resolve(anchors []core.Anchor, target time.Time) (core.Anchor, bool) {
	best := -1
	for i := range anchors {
		a := &anchors[i]
		if a.CreatedAt.After(target) {
			continue
		}
		if best < 0 || a.CreatedAt.After(anchors[best].CreatedAt) {
			best = i
		}
	}
	if best < 0 {
		return core.Anchor{}, false
	}
	return anchors[best], true
}

// Locate resolves target and reports whether a location is known. When the
// governing anchor has no coordinate the result is StatusUnavailable; older
// anchors are never consulted.
func Locate(anchors []core.Anchor, target time.Time) Resolution {
	a, ok := Resolve(anchors, target)
	if !ok {
		return Resolution{Status: StatusNoAnchor}
	}
	if !a.HasCoordinate() {
		return Resolution{Status: StatusUnavailable, Anchor: a}
	}
	return Resolution{Status: StatusLocated, Anchor: a}
}

// ResolveID resolves a frame that is itself an anchor: it governs itself.
func ResolveID(anchors []core.Anchor, id string) Resolution {
	for _, a := range anchors {
		if a.ID != id {
			continue
		}
		if !a.HasCoordinate() {
			return Resolution{Status: StatusUnavailable, Anchor: a}
		}
		return Resolution{Status: StatusLocated, Anchor: a}
	}
	return Resolution{Status: StatusNoAnchor}
}

// Frame is a captured photo to be located.
type Frame struct {
	Label      string
	CapturedAt time.Time
}

// Assignment pairs a frame with its resolution.
type Assignment struct {
	Frame      Frame
	Resolution Resolution
}

// Assign resolves many frames against one snapshot. Results keep the order
// of frames.
func Assign(anchors []core.Anchor, frames []Frame) []Assignment {
	// Oldest first; among equal CreatedAt the authoritative winner (first in
	// the newest-first input) must sort last.
	idx := make([]int, len(anchors))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		ca, cb := anchors[a].CreatedAt, anchors[b].CreatedAt
		switch {
		case ca.Before(cb):
			return -1
		case ca.After(cb):
			return 1
		default:
			return b - a
		}
	})

	out := make([]Assignment, len(frames))
	for i, f := range frames {
		// First position whose anchor is after the capture time.
		n, _ := slices.BinarySearchFunc(idx, f.CapturedAt, func(j int, t time.Time) int {
			if anchors[j].CreatedAt.After(t) {
				return 1
			}
			return -1
		})
		res := Resolution{Status: StatusNoAnchor}
		if n > 0 {
			a := anchors[idx[n-1]]
			res = Resolution{Status: StatusLocated, Anchor: a}
			if !a.HasCoordinate() {
				res.Status = StatusUnavailable
			}
		}
		out[i] = Assignment{Frame: f, Resolution: res}
	}
	return out
}
