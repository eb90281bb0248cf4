// Package postgres implements the storage.Gateway interface using GORM/PostgreSQL.
// Anchors get a PostGIS geometry column when the extension is available.
package postgres

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fieldsync/anchor/internal/database"
	"github.com/fieldsync/anchor/internal/logging"
	gormstorage "github.com/fieldsync/anchor/internal/storage/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
}

// Backend wraps the GORM backend with Postgres connection handling.
type Backend struct {
	*gormstorage.Backend
	deps    Dependencies
	ownsDB  bool
	postGIS bool
}

// New creates a new Postgres storage backend. Without an injected DB, Init
// connects using the db.* config keys.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps}
}

// PostGIS reports whether the spatial column was set up.
func (b *Backend) PostGIS() bool {
	return b.postGIS
}

// Init connects if needed, migrates the schema and adds the spatial column.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDB()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
		b.ownsDB = true
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:         b.deps.DB,
		LogManager: b.deps.LogManager,
	})
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.deps.DB.Name() == "postgres" {
		b.setupPostGIS()
	}
	return nil
}

// setupPostGIS adds a generated geometry column over the WKB position. A
// database without PostGIS keeps working on the plain columns.
func (b *Backend) setupPostGIS() {
	db := b.deps.DB
	log := b.deps.LogManager.Logger()

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
		log.Warn("PostGIS unavailable, skipping spatial column", "error", err)
		return
	}

	stmts := []string{
		`ALTER TABLE anchors ADD COLUMN IF NOT EXISTS geom geometry(Point, 3857)
			GENERATED ALWAYS AS (ST_SetSRID(ST_GeomFromWKB(position), 3857)) STORED;`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_geom ON anchors USING GIST (geom);`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			log.Warn("Failed to set up spatial column", "error", err)
			return
		}
	}
	b.postGIS = true
	log.Info("PostGIS spatial column ready")
}

// Close drops subscriptions and closes the connection if Init opened it.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if b.ownsDB {
		sqlDB, err := b.deps.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
