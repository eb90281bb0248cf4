package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/anchor/internal/resolver"
	"github.com/fieldsync/anchor/pkg/core"
)

func TestBuild(t *testing.T) {
	t0 := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	anchors := []core.Anchor{
		{ID: "b", Seq: 2, Label: "DSC_2", CreatedAt: t0.Add(time.Hour), CameraID: "R6"},
		{ID: "a", Seq: 1, Label: "DSC_1", CreatedAt: t0, Note: "gate",
			Coordinate: &core.Coordinate{Latitude: 48.5, Longitude: 2.25, Accuracy: core.Float64(12)}},
	}
	frames := []resolver.Frame{
		{Label: "IMG_0", CapturedAt: t0.Add(-time.Minute)},
		{Label: "IMG_1", CapturedAt: t0.Add(time.Minute)},
		{Label: "IMG_2", CapturedAt: t0.Add(2 * time.Minute)},
		{Label: "IMG_3", CapturedAt: t0.Add(2 * time.Hour)},
	}

	export := Build(&LogData{
		OwnerID:          "alice",
		Prefix:           "DSC_",
		ExtensionVersion: "1.2.3",
		ExportedAt:       t0.Add(3 * time.Hour),
		Anchors:          anchors,
		Assignments:      resolver.Assign(anchors, frames),
	})

	assert.Equal(t, FormatVersion, export.FormatVersion)
	assert.Equal(t, "alice", export.Owner)
	assert.Equal(t, "2025-07-01T11:00:00Z", export.ExportedAt)
	assert.Equal(t, Summary{Anchors: 2, Located: 1, Unavailable: 1, Cameras: 1}, export.Summary)

	require.Len(t, export.Anchors, 2)
	assert.Equal(t, "DSC_2", export.Anchors[0].Label)
	assert.Nil(t, export.Anchors[0].Latitude)
	assert.Equal(t, 1, export.Anchors[0].Frames)
	assert.Equal(t, 2, export.Anchors[1].Frames)
	require.NotNil(t, export.Anchors[1].Accuracy)
	assert.Equal(t, 12.0, *export.Anchors[1].Accuracy)
	assert.Equal(t, "gate", export.Anchors[1].Note)

	require.Len(t, export.Frames, 4)
	assert.Equal(t, "no-anchor", export.Frames[0].Status)
	assert.Empty(t, export.Frames[0].AnchorID)
	assert.Equal(t, "located", export.Frames[1].Status)
	assert.Equal(t, "a", export.Frames[1].AnchorID)
	require.NotNil(t, export.Frames[1].Latitude)
	assert.Equal(t, 48.5, *export.Frames[1].Latitude)
	// A frame after an unlocated anchor never borrows the older location.
	assert.Equal(t, "unavailable", export.Frames[3].Status)
	assert.Equal(t, "DSC_2", export.Frames[3].AnchorLabel)
	assert.Nil(t, export.Frames[3].Latitude)
}

func TestBuild_Empty(t *testing.T) {
	export := Build(&LogData{OwnerID: "o"})
	assert.NotNil(t, export.Anchors)
	assert.NotNil(t, export.Frames)
	assert.Zero(t, export.Summary.Anchors)
}
