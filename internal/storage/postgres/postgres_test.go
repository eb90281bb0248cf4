package postgres

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldsync/anchor/internal/model"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
)

// Compile-time interface check
var _ storage.Gateway = (*Backend)(nil)

// sqliteStandIn opens a throwaway SQLite DB; the backend skips the PostGIS
// steps for non-postgres dialects.
func sqliteStandIn(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestNew(t *testing.T) {
	b := New(Dependencies{})
	require.NotNil(t, b)
	assert.NoError(t, b.Close(), "closing before Init is a no-op")
}

func TestInitClose(t *testing.T) {
	db := sqliteStandIn(t)
	b := New(Dependencies{DB: db})

	require.NoError(t, b.Init())
	assert.True(t, db.Migrator().HasTable(&model.Anchor{}))
	assert.False(t, b.PostGIS())
	require.NoError(t, b.Close())
}

func TestAppendThroughWrapper(t *testing.T) {
	b := New(Dependencies{DB: sqliteStandIn(t)})
	require.NoError(t, b.Init())
	defer b.Close()

	ctx := context.Background()
	id, err := b.Append(ctx, "o", core.AnchorFields{Label: "DSC_1"})
	require.NoError(t, err)

	list, err := b.List(ctx, "o")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestInit_UnreachableServer(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("db.host", "127.0.0.1")
	viper.Set("db.port", "1")
	viper.Set("db.username", "u")
	viper.Set("db.password", "p")
	viper.Set("db.database", "d")
	viper.Set("db.sslmode", "disable")

	b := New(Dependencies{})
	assert.Error(t, b.Init())
}
