package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/anchor/internal/database"
	"github.com/fieldsync/anchor/internal/logging"
	"github.com/fieldsync/anchor/internal/model"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
)

// newTestBackend creates an initialised Backend over a private in-memory SQLite DB.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.GetSqliteDB("")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	b := New(Dependencies{DB: db, LogManager: logging.NewSlogManager()})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// Compile-time interface check
var _ storage.Gateway = (*Backend)(nil)

func TestInit_RequiresDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
}

func TestInit_MigratesSchema(t *testing.T) {
	b := newTestBackend(t)
	assert.True(t, b.DB().Migrator().HasTable(&model.Anchor{}))
}

func TestAppendAndList(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	b.deps.Now = func() time.Time { return t0 }

	coord := &core.Coordinate{Latitude: 59.3293, Longitude: 18.0686, Accuracy: core.Float64(15)}
	id, err := b.Append(ctx, "alice", core.AnchorFields{Label: "DSC_0001", Coordinate: coord, Note: "harbour", CameraID: "A7"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	list, err := b.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	a := list[0]
	assert.Equal(t, id, a.ID)
	assert.Equal(t, "alice", a.OwnerID)
	assert.True(t, t0.Equal(a.CreatedAt))
	assert.NotZero(t, a.Seq)
	assert.Equal(t, "DSC_0001", a.Label)
	assert.Equal(t, "harbour", a.Note)
	assert.Equal(t, "A7", a.CameraID)
	require.NotNil(t, a.Coordinate)
	assert.Equal(t, *coord, *a.Coordinate)
}

func TestAppend_UnlocatedIsStoredAsNull(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Append(ctx, "o", core.AnchorFields{Label: "DSC_2"})
	require.NoError(t, err)

	var row model.Anchor
	require.NoError(t, b.DB().Where("anchor_id = ?", id).First(&row).Error)
	assert.False(t, row.Latitude.Valid)
	assert.False(t, row.Longitude.Valid)
	assert.False(t, row.Accuracy.Valid)
	assert.False(t, row.Note.Valid)

	list, err := b.List(ctx, "o")
	require.NoError(t, err)
	assert.Nil(t, list[0].Coordinate)
}

func TestAppend_Validation(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Append(context.Background(), "o", core.AnchorFields{Label: ""})
	assert.ErrorIs(t, err, storage.ErrEmptyLabel)
	_, err = b.Append(context.Background(), "", core.AnchorFields{Label: "x"})
	assert.ErrorIs(t, err, storage.ErrNoOwner)
}

func TestList_OrderWithTies(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		label string
		at    time.Time
	}{
		{"first", t0},
		{"tie-a", t0.Add(time.Minute)},
		{"tie-b", t0.Add(time.Minute)},
		{"oldest", t0.Add(-time.Hour)},
	}
	for _, s := range steps {
		at := s.at
		b.deps.Now = func() time.Time { return at }
		_, err := b.Append(ctx, "o", core.AnchorFields{Label: s.label})
		require.NoError(t, err)
	}

	list, err := b.List(ctx, "o")
	require.NoError(t, err)
	var labels []string
	for _, a := range list {
		labels = append(labels, a.Label)
	}
	assert.Equal(t, []string{"tie-b", "tie-a", "first", "oldest"}, labels)
}

func TestSubscribe(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	_, err := b.Append(ctx, "o", core.AnchorFields{Label: "before"})
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, "o")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	snap := <-sub.Snapshots()
	require.NoError(t, snap.Err)
	require.Len(t, snap.Anchors, 1)

	_, err = b.Append(ctx, "o", core.AnchorFields{Label: "after"})
	require.NoError(t, err)
	snap = <-sub.Snapshots()
	require.Len(t, snap.Anchors, 2)
	assert.Equal(t, "after", snap.Anchors[0].Label)

	// Other owners don't wake this subscriber.
	_, err = b.Append(ctx, "someone-else", core.AnchorFields{Label: "x"})
	require.NoError(t, err)
	select {
	case s := <-sub.Snapshots():
		t.Fatalf("unexpected snapshot %+v", s)
	default:
	}

	require.NoError(t, b.DeleteAll(ctx, "o"))
	snap = <-sub.Snapshots()
	assert.Empty(t, snap.Anchors)
}

func TestDeleteAll_OnlyOwner(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	_, _ = b.Append(ctx, "alice", core.AnchorFields{Label: "a"})
	_, _ = b.Append(ctx, "bob", core.AnchorFields{Label: "b"})

	require.NoError(t, b.DeleteAll(ctx, "alice"))

	alice, err := b.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice)
	bob, err := b.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func TestClose(t *testing.T) {
	b := newTestBackend(t)
	sub, err := b.Subscribe(context.Background(), "o")
	require.NoError(t, err)
	<-sub.Snapshots()

	require.NoError(t, b.Close())

	_, ok := <-sub.Snapshots()
	assert.False(t, ok)
	_, err = b.Append(context.Background(), "o", core.AnchorFields{Label: "x"})
	assert.ErrorIs(t, err, storage.ErrClosed)
}
