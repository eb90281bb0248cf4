package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/fieldsync/anchor/pkg/core"
)

var (
	// ErrEmptyLabel is returned by Append when the label is blank.
	ErrEmptyLabel = errors.New("anchor label must not be empty")
	// ErrNoOwner is returned when an operation is not scoped to an owner.
	ErrNoOwner = errors.New("owner id must not be empty")
	// ErrClosed is returned by operations on a closed gateway.
	ErrClosed = errors.New("storage gateway closed")
)

// Gateway is the interface all anchor stores must satisfy. Anchors are
// append-only: there is no update, and deletion is all-or-nothing per owner.
type Gateway interface {
	// Lifecycle
	Init() error
	Close() error

	// Append stores one immutable anchor and returns its store-assigned id.
	// The store also assigns CreatedAt and Seq.
	Append(ctx context.Context, ownerID string, fields core.AnchorFields) (string, error)

	// List returns the owner's anchors newest first.
	List(ctx context.Context, ownerID string) ([]core.Anchor, error)

	// Subscribe delivers the owner's full anchor set, newest first, now and
	// after every change.
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)

	// DeleteAll removes every anchor of the owner. Remote stores may leave
	// the set partially deleted on failure.
	DeleteAll(ctx context.Context, ownerID string) error
}

// Snapshot is one push from a subscription. Err is set when the store could
// not produce the set; consumers treat that as an empty list.
type Snapshot struct {
	Anchors []core.Anchor
	Err     error
}

// Subscription is a live feed of snapshots for one owner.
type Subscription interface {
	// Snapshots is closed after Unsubscribe.
	Snapshots() <-chan Snapshot
	// Unsubscribe stops further deliveries. Safe to call more than once.
	Unsubscribe()
}

// ValidateAppend applies the checks every backend runs before storing.
func ValidateAppend(ownerID string, fields core.AnchorFields) error {
	if ownerID == "" {
		return ErrNoOwner
	}
	if strings.TrimSpace(fields.Label) == "" {
		return ErrEmptyLabel
	}
	return nil
}
