package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoordinateClone(t *testing.T) {
	c := Coordinate{Latitude: 1, Longitude: 2, Accuracy: Float64(5)}
	cp := c.Clone()

	*cp.Accuracy = 99
	assert.Equal(t, 5.0, *c.Accuracy)
	assert.Equal(t, 1.0, cp.Latitude)
	assert.Equal(t, 2.0, cp.Longitude)

	assert.Nil(t, Coordinate{}.Clone().Accuracy)
}

func TestAnchorNewer(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	older := Anchor{CreatedAt: base, Seq: 1}
	newer := Anchor{CreatedAt: base.Add(time.Second), Seq: 2}
	assert.True(t, newer.Newer(older))
	assert.False(t, older.Newer(newer))

	// Same timestamp: the later insertion wins.
	tieA := Anchor{CreatedAt: base, Seq: 3}
	tieB := Anchor{CreatedAt: base, Seq: 4}
	assert.True(t, tieB.Newer(tieA))
	assert.False(t, tieA.Newer(tieB))
}

func TestAnchorHasCoordinate(t *testing.T) {
	assert.False(t, Anchor{}.HasCoordinate())
	assert.True(t, Anchor{Coordinate: &Coordinate{}}.HasCoordinate())
}
