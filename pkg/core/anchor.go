// Package core holds the storage-agnostic anchor types shared by the
// capture, resolution and storage layers.
package core

import "time"

// Coordinate is a WGS84 fix. Accuracy is the reported radius in meters and
// is nil when the source did not report one.
type Coordinate struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

// Clone returns a deep copy so callers can't alias the accuracy pointer.
func (c Coordinate) Clone() Coordinate {
	out := Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
	if c.Accuracy != nil {
		acc := *c.Accuracy
		out.Accuracy = &acc
	}
	return out
}

// Anchor is one logged location event. Anchors are immutable once the store
// has assigned ID, CreatedAt and Seq.
type Anchor struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	// Seq is the store-assigned insertion sequence; it breaks CreatedAt ties.
	Seq        uint64      `json:"seq"`
	Label      string      `json:"label"`
	Coordinate *Coordinate `json:"coordinate"` // nil: location unavailable
	Note       string      `json:"note,omitempty"`
	CameraID   string      `json:"cameraId,omitempty"`
}

// HasCoordinate reports whether the anchor carries a location.
func (a Anchor) HasCoordinate() bool {
	return a.Coordinate != nil
}

// Newer reports whether a sorts before b in the log's descending order.
func (a Anchor) Newer(b Anchor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

// AnchorFields is the caller-supplied part of an anchor passed to Append.
type AnchorFields struct {
	Label      string      `json:"label"`
	Coordinate *Coordinate `json:"coordinate"`
	Note       string      `json:"note,omitempty"`
	CameraID   string      `json:"cameraId,omitempty"`
}

// Float64 returns a pointer to v, handy for optional accuracy values.
func Float64(v float64) *float64 {
	return &v
}
