package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fieldsync/anchor/internal/model"
)

// Manager handles database connections and operations.
type Manager struct {
	DB             *gorm.DB
	SqlDB          *sql.DB
	IsValid        bool
	InMemory       bool
	SqliteFilePath string
	Logger         zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		IsValid: false,
		Logger:  log,
	}
}

// ConnectPostgres opens the Postgres database described by the db.* config
// keys and verifies the connection.
func (m *Manager) ConnectPostgres() error {
	m.Logger.Debug().
		Str("host", viper.GetString("db.host")).
		Str("database", viper.GetString("db.database")).
		Msg("Connecting to Postgres DB")

	db, err := GetPostgresDB()
	if err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to connect to Postgres DB: %w", err)
	}
	if err := m.adopt(db); err != nil {
		return err
	}
	m.SqlDB.SetMaxOpenConns(10)
	m.Logger.Info().Msg("Connected to database")
	return nil
}

// ConnectSqlite opens a SQLite database at path. An empty path opens a
// private in-memory database; dumpPath, if set, is where DumpMemoryToDisk
// writes it.
func (m *Manager) ConnectSqlite(path, dumpPath string) error {
	db, err := GetSqliteDB(path)
	if err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to get local SQLite DB: %w", err)
	}
	if err := m.adopt(db); err != nil {
		return err
	}

	m.InMemory = path == ""
	m.SqliteFilePath = dumpPath
	if m.InMemory {
		m.Logger.Info().Str("dumpPath", dumpPath).Msg("Using local SQLite DB in memory")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}
	return nil
}

func (m *Manager) adopt(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	m.DB = db
	m.SqlDB = sqlDB
	m.IsValid = true
	return nil
}

// DumpMemoryToDisk vacuums the in-memory database to SqliteFilePath.
func (m *Manager) DumpMemoryToDisk() error {
	if m.DB == nil {
		return fmt.Errorf("database not connected")
	}
	start := time.Now()
	if err := DumpMemoryDBToDisk(m.DB, m.SqliteFilePath); err != nil {
		return err
	}
	m.Logger.Debug().Dur("duration", time.Since(start)).Msg("Dumped memory DB to disk")
	return nil
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	m.IsValid = false
	return m.SqlDB.Close()
}

// GetPostgresDB returns a connection to the Postgres database using viper config.
func GetPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
		viper.GetString("db.sslmode"),
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses an in-memory database private to this connection
// pool.
func GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		// A named shared-cache memory DB lives as long as one pooled
		// connection is open; the random name keeps pools apart.
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_LOCKED on the
	// shared cache.
	sqlDB.SetMaxOpenConns(1)

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// RestoreFromDump copies the anchors of an earlier dump into db and returns
// how many rows it copied. A missing dump file restores nothing. db must
// already carry the schema.
func RestoreFromDump(db *gorm.DB, sqliteFilePath string) (int64, error) {
	if sqliteFilePath == "" {
		return 0, nil
	}
	if _, err := os.Stat(sqliteFilePath); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("error reading dump file: %w", err)
	}

	if err := db.Exec("ATTACH DATABASE ? AS dump", sqliteFilePath).Error; err != nil {
		return 0, fmt.Errorf("error attaching dump: %w", err)
	}
	defer db.Exec("DETACH DATABASE dump")

	table := (&model.Anchor{}).TableName()
	var tables int64
	err := db.Raw("SELECT count(*) FROM dump.sqlite_master WHERE type = 'table' AND name = ?", table).
		Scan(&tables).Error
	if err != nil {
		return 0, fmt.Errorf("error reading dump: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	res := db.Exec(fmt.Sprintf("INSERT INTO main.%[1]s SELECT * FROM dump.%[1]s", table))
	if res.Error != nil {
		return 0, fmt.Errorf("error restoring anchors from dump: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DumpMemoryDBToDisk vacuums the in-memory database to a disk file.
func DumpMemoryDBToDisk(db *gorm.DB, sqliteFilePath string) error {
	if sqliteFilePath == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	// remove existing file if it exists
	if exists, err := os.Stat(sqliteFilePath); err == nil && exists != nil {
		if err := os.Remove(sqliteFilePath); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	err := db.Exec("VACUUM INTO ?", sqliteFilePath).Error
	if err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}

	return nil
}
