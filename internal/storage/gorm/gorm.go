// Package gormstorage implements the storage.Gateway interface on top of GORM.
// The SQLite and Postgres backends wrap it and only add connection handling.
package gormstorage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldsync/anchor/internal/logging"
	"github.com/fieldsync/anchor/internal/model"
	"github.com/fieldsync/anchor/internal/model/convert"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
	// Now stamps CreatedAt; defaults to time.Now.
	Now func() time.Time
}

// Backend implements storage.Gateway using GORM.
type Backend struct {
	deps Dependencies
	hub  *storage.Hub

	// writeMu orders each write with the snapshot published for it.
	writeMu sync.Mutex
	closed  atomic.Bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Backend{
		deps: deps,
		hub:  storage.NewHub(),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database configured")
	}
	if err := b.setupDB(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

func (b *Backend) setupDB() error {
	log := b.deps.LogManager.Logger()

	log.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Info("Database setup complete")
	return nil
}

// Close drops all subscriptions. The connection belongs to the caller.
func (b *Backend) Close() error {
	b.closed.Store(true)
	b.hub.Close()
	return nil
}

// Append inserts one anchor row and notifies subscribers.
func (b *Backend) Append(ctx context.Context, ownerID string, fields core.AnchorFields) (string, error) {
	if err := storage.ValidateAppend(ownerID, fields); err != nil {
		return "", err
	}
	if b.closed.Load() {
		return "", storage.ErrClosed
	}

	a := core.Anchor{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		CreatedAt:  b.deps.Now().UTC().Truncate(time.Microsecond),
		Label:      strings.TrimSpace(fields.Label),
		Coordinate: fields.Coordinate,
		Note:       fields.Note,
		CameraID:   fields.CameraID,
	}
	row := convert.CoreToAnchor(a)

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to insert anchor: %w", err)
	}
	b.publishLocked(context.WithoutCancel(ctx), ownerID)
	return a.ID, nil
}

// List returns the owner's anchors newest first.
func (b *Backend) List(ctx context.Context, ownerID string) ([]core.Anchor, error) {
	if ownerID == "" {
		return nil, storage.ErrNoOwner
	}
	var rows []model.Anchor
	err := b.deps.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("seq DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list anchors: %w", err)
	}
	return convert.AnchorsToCore(rows), nil
}

// Subscribe returns a live feed of the owner's anchors. A failed initial
// read is delivered as a snapshot error rather than returned.
func (b *Backend) Subscribe(ctx context.Context, ownerID string) (storage.Subscription, error) {
	if ownerID == "" {
		return nil, storage.ErrNoOwner
	}
	if b.closed.Load() {
		return nil, storage.ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	anchors, err := b.List(ctx, ownerID)
	return b.hub.Subscribe(ownerID, storage.Snapshot{Anchors: anchors, Err: err}), nil
}

// DeleteAll removes every anchor row of the owner.
func (b *Backend) DeleteAll(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return storage.ErrNoOwner
	}
	if b.closed.Load() {
		return storage.ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	res := b.deps.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&model.Anchor{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete anchors: %w", res.Error)
	}
	b.deps.LogManager.Logger().Info("Deleted anchors", "owner", ownerID, "count", res.RowsAffected)
	b.publishLocked(context.WithoutCancel(ctx), ownerID)
	return nil
}

// publishLocked re-reads the owner's set and pushes it. Caller holds writeMu.
func (b *Backend) publishLocked(ctx context.Context, ownerID string) {
	if b.hub.Count(ownerID) == 0 {
		return
	}
	anchors, err := b.List(ctx, ownerID)
	if err != nil {
		b.deps.LogManager.Logger().Error("Failed to refresh subscribers", "owner", ownerID, "error", err)
	}
	b.hub.Publish(ownerID, storage.Snapshot{Anchors: anchors, Err: err})
}
