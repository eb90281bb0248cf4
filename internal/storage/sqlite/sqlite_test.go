package sqlitestorage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/anchor/internal/database"
	"github.com/fieldsync/anchor/internal/model"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
)

// Compile-time interface check
var _ storage.Gateway = (*Backend)(nil)

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.db")
	ctx := context.Background()

	b, err := New(Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	_, err = b.Append(ctx, "o", core.AnchorFields{Label: "DSC_1", Coordinate: &core.Coordinate{Latitude: 1, Longitude: 2}})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	reopened, err := New(Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Init())
	defer reopened.Close()

	list, err := reopened.List(ctx, "o")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "DSC_1", list[0].Label)
}

func TestInMemoryDumpOnClose(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.db")
	ctx := context.Background()

	b, err := New(Config{DumpPath: dump}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	_, err = b.Append(ctx, "o", core.AnchorFields{Label: "DSC_9"})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	db, err := database.GetSqliteDB(dump)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.Anchor{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
}

func TestInMemoryDumpLoop(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "loop.db")

	b, err := New(Config{DumpPath: dump, DumpInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dump)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInMemoryRestoresDumpOnInit(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.db")
	ctx := context.Background()
	cfg := Config{DumpPath: dump}

	first, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Init())
	id1, err := first.Append(ctx, "o", core.AnchorFields{Label: "DSC_1", Coordinate: &core.Coordinate{Latitude: 1, Longitude: 2}})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, second.Init())
	_, err = second.Append(ctx, "o", core.AnchorFields{Label: "DSC_2"})
	require.NoError(t, err)
	require.NoError(t, second.Close())

	third, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, third.Init())
	defer third.Close()

	list, err := third.List(ctx, "o")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "DSC_2", list[0].Label)
	assert.Equal(t, "DSC_1", list[1].Label)
	assert.Equal(t, id1, list[1].ID)
	require.NotNil(t, list[1].Coordinate)
	assert.Equal(t, 2.0, list[1].Coordinate.Longitude)
	assert.Greater(t, list[0].Seq, list[1].Seq)
}

func TestInMemoryUnreadableDumpIsKept(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.db")
	garbage := bytes.Repeat([]byte("not a sqlite database "), 64)
	require.NoError(t, os.WriteFile(dump, garbage, 0644))

	b, err := New(Config{DumpPath: dump}, nil)
	require.NoError(t, err)
	require.Error(t, b.Init())
	require.NoError(t, b.Close())

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, garbage, data, "a failed restore must not be overwritten by an empty dump")
}
