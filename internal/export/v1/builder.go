package v1

import (
	"time"

	"github.com/fieldsync/anchor/internal/anchorlog"
	"github.com/fieldsync/anchor/internal/resolver"
	"github.com/fieldsync/anchor/pkg/core"
)

// LogData contains all the data needed to build an export
type LogData struct {
	OwnerID          string
	Prefix           string
	ExtensionVersion string
	ExportedAt       time.Time
	Anchors          []core.Anchor // newest first
	Assignments      []resolver.Assignment
}

// Build creates an Export from the log data
func Build(data *LogData) Export {
	summary := anchorlog.Summarize(data.Anchors)
	export := Export{
		FormatVersion:    FormatVersion,
		ExtensionVersion: data.ExtensionVersion,
		Owner:            data.OwnerID,
		Prefix:           data.Prefix,
		ExportedAt:       formatTime(data.ExportedAt),
		Summary: Summary{
			Anchors:     summary.Total,
			Located:     summary.Located,
			Unavailable: summary.Unavailable,
			Cameras:     summary.Cameras,
		},
		Anchors: make([]Anchor, 0, len(data.Anchors)),
		Frames:  make([]Frame, 0, len(data.Assignments)),
	}

	usage := make(map[string]int)
	for _, as := range data.Assignments {
		frame := Frame{
			Label:      as.Frame.Label,
			CapturedAt: formatTime(as.Frame.CapturedAt),
			Status:     as.Resolution.Status.String(),
		}
		if as.Resolution.Status != resolver.StatusNoAnchor {
			frame.AnchorID = as.Resolution.Anchor.ID
			frame.AnchorLabel = as.Resolution.Anchor.Label
			usage[as.Resolution.Anchor.ID]++
		}
		if c := as.Resolution.Coordinate(); c != nil {
			frame.Latitude = core.Float64(c.Latitude)
			frame.Longitude = core.Float64(c.Longitude)
		}
		export.Frames = append(export.Frames, frame)
	}

	for _, a := range data.Anchors {
		anchor := Anchor{
			ID:        a.ID,
			Seq:       a.Seq,
			Label:     a.Label,
			CreatedAt: formatTime(a.CreatedAt),
			Note:      a.Note,
			CameraID:  a.CameraID,
			Frames:    usage[a.ID],
		}
		if a.HasCoordinate() {
			anchor.Latitude = core.Float64(a.Coordinate.Latitude)
			anchor.Longitude = core.Float64(a.Coordinate.Longitude)
			if a.Coordinate.Accuracy != nil {
				anchor.Accuracy = core.Float64(*a.Coordinate.Accuracy)
			}
		}
		export.Anchors = append(export.Anchors, anchor)
	}

	return export
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
