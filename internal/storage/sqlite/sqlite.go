// Package sqlitestorage implements the storage.Gateway interface using SQLite.
// It wraps the GORM backend via composition; the only SQLite-specific concerns
// are creating the database and, for in-memory databases, restoring the last
// dump on Init and the periodic disk dump via VACUUM INTO.
package sqlitestorage

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsync/anchor/internal/database"
	"github.com/fieldsync/anchor/internal/logging"
	gormstorage "github.com/fieldsync/anchor/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	Path         string        // database file; empty means in-memory
	DumpInterval time.Duration // in-memory only
	DumpPath     string        // Path for periodic VACUUM INTO dumps
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      Config
	log      *logging.SlogManager
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	// ready is set once Init has restored the dump; until then a dump
	// would overwrite anchors that were never loaded.
	ready bool
}

// New creates a new SQLite storage backend.
func New(cfg Config, logManager *logging.SlogManager) (*Backend, error) {
	if logManager == nil {
		logManager = logging.NewSlogManager()
	}
	db, err := database.GetSqliteDB(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:         db,
		LogManager: logManager,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		log:      logManager,
		stopChan: make(chan struct{}),
	}, nil
}

func (b *Backend) inMemory() bool {
	return b.cfg.Path == ""
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpPath != "" {
		n, err := database.RestoreFromDump(b.db, b.cfg.DumpPath)
		if err != nil {
			return fmt.Errorf("failed to restore %s: %w", b.cfg.DumpPath, err)
		}
		if n > 0 {
			b.log.Logger().Info("Restored anchors from dump", "path", b.cfg.DumpPath, "count", n)
		}
	}
	b.ready = true

	if b.inMemory() && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, writes a last dump for in-memory databases
// and closes the connection.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		err = b.Backend.Close()
		if b.ready && b.inMemory() && b.cfg.DumpPath != "" {
			if dumpErr := b.Dump(); dumpErr != nil && err == nil {
				err = dumpErr
			}
		}

		sqlDB, dbErr := b.db.DB()
		if dbErr == nil {
			dbErr = sqlDB.Close()
		}
		if dbErr != nil && err == nil {
			err = dbErr
		}
	})
	return err
}

// Dump writes the in-memory database to DumpPath.
func (b *Backend) Dump() error {
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
		b.log.Logger().Error("Error dumping to disk", "path", b.cfg.DumpPath, "error", err)
		return err
	}
	b.log.Logger().Debug("Dumped to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Dump()
		}
	}
}
