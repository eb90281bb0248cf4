// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"time"

	"github.com/fieldsync/anchor/internal/geo"
	"github.com/fieldsync/anchor/internal/model"
	"github.com/fieldsync/anchor/pkg/core"
)

// nullString stores blank strings as NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// CoreToAnchor converts a core.Anchor to a GORM model.Anchor.
// core.Anchor.ID maps to AnchorID; core.Anchor.Seq maps to the primary key.
func CoreToAnchor(a core.Anchor) model.Anchor {
	m := model.Anchor{
		Seq:       uint(a.Seq),
		AnchorID:  a.ID,
		OwnerID:   a.OwnerID,
		CreatedAt: a.CreatedAt.UTC(),
		Label:     a.Label,
		Position:  geo.Point3857(a.Coordinate),
		Note:      nullString(a.Note),
		CameraID:  nullString(a.CameraID),
	}
	if a.Coordinate != nil {
		m.Latitude = sql.NullFloat64{Float64: a.Coordinate.Latitude, Valid: true}
		m.Longitude = sql.NullFloat64{Float64: a.Coordinate.Longitude, Valid: true}
		m.Accuracy = nullFloat(a.Coordinate.Accuracy)
	}
	return m
}

// AnchorToCore converts a GORM model.Anchor to a core.Anchor.
// A row is located only when both latitude and longitude are set.
func AnchorToCore(m model.Anchor) core.Anchor {
	a := core.Anchor{
		ID:        m.AnchorID,
		OwnerID:   m.OwnerID,
		CreatedAt: m.CreatedAt.In(time.UTC),
		Seq:       uint64(m.Seq),
		Label:     m.Label,
		Note:      m.Note.String,
		CameraID:  m.CameraID.String,
	}
	if m.Latitude.Valid && m.Longitude.Valid {
		c := core.Coordinate{Latitude: m.Latitude.Float64, Longitude: m.Longitude.Float64}
		if m.Accuracy.Valid {
			acc := m.Accuracy.Float64
			c.Accuracy = &acc
		}
		a.Coordinate = &c
	}
	return a
}

// AnchorsToCore converts a slice of rows, preserving order.
func AnchorsToCore(rows []model.Anchor) []core.Anchor {
	out := make([]core.Anchor, len(rows))
	for i, r := range rows {
		out[i] = AnchorToCore(r)
	}
	return out
}
