// Package v1 contains the v1 export format for an owner's anchor log.
package v1

// FormatVersion is written into every v1 export.
const FormatVersion = 1

// Export is the root JSON structure for v1 format
type Export struct {
	FormatVersion    int      `json:"formatVersion"`
	ExtensionVersion string   `json:"extensionVersion"`
	Owner            string   `json:"owner"`
	Prefix           string   `json:"prefix,omitempty"`
	ExportedAt       string   `json:"exportedAt"`
	Summary          Summary  `json:"summary"`
	Anchors          []Anchor `json:"anchors"`
	Frames           []Frame  `json:"frames"`
}

// Summary counts the anchors in the export
type Summary struct {
	Anchors     int `json:"anchors"`
	Located     int `json:"located"`
	Unavailable int `json:"unavailable"`
	Cameras     int `json:"cameras"`
}

// Anchor is one logged anchor, newest first. Location fields are null when
// the anchor was saved without a fix.
type Anchor struct {
	ID        string   `json:"id"`
	Seq       uint64   `json:"seq"`
	Label     string   `json:"label"`
	CreatedAt string   `json:"createdAt"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Note      string   `json:"note,omitempty"`
	CameraID  string   `json:"cameraId,omitempty"`
	// Frames is how many exported frames this anchor governs.
	Frames int `json:"frames"`
}

// Frame is a captured photo with the anchor that governs it
type Frame struct {
	Label       string   `json:"label"`
	CapturedAt  string   `json:"capturedAt"`
	Status      string   `json:"status"`
	AnchorID    string   `json:"anchorId,omitempty"`
	AnchorLabel string   `json:"anchorLabel,omitempty"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}
