package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Anchor{},
}

// Anchor is one row of the append-only anchor log.
//
// Seq is the autoincrement primary key and doubles as the tie-breaker when
// two anchors share a CreatedAt. AnchorID is the public identifier.
type Anchor struct {
	Seq       uint      `json:"seq" gorm:"primaryKey;autoIncrement"`
	AnchorID  string    `json:"id" gorm:"size:36;uniqueIndex:idx_anchor_id;not null"`
	OwnerID   string    `json:"ownerId" gorm:"size:128;index:idx_anchor_owner_created,priority:1;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_anchor_owner_created,priority:2;not null"`
	Label     string    `json:"label" gorm:"size:255;not null"`

	// Location columns are NULL together when no fix was available.
	Latitude  sql.NullFloat64 `json:"latitude" gorm:"default:NULL"`
	Longitude sql.NullFloat64 `json:"longitude" gorm:"default:NULL"`
	Accuracy  sql.NullFloat64 `json:"accuracy" gorm:"default:NULL"`
	Position  geom.Point      `json:"position"` // EPSG:3857, empty when unlocated

	Note     sql.NullString `json:"note" gorm:"size:1024;default:NULL"`
	CameraID sql.NullString `json:"cameraId" gorm:"size:128;default:NULL"`
}

func (*Anchor) TableName() string {
	return "anchors"
}
