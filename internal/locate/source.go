package locate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldsync/anchor/pkg/core"
)

// ErrorCode classifies a failed position request.
type ErrorCode int

const (
	PermissionDenied ErrorCode = iota + 1
	PositionUnavailable
	Timeout
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission-denied"
	case PositionUnavailable:
		return "position-unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// PositionError is returned by a Source when no fix could be produced.
type PositionError struct {
	Code ErrorCode
	Err  error
}

func (e *PositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// NewPositionError builds a PositionError with an optional cause.
func NewPositionError(code ErrorCode, err error) *PositionError {
	return &PositionError{Code: code, Err: err}
}

// CodeOf extracts the failure class of err. Deadline overruns count as
// Timeout; anything unrecognised returns 0.
func CodeOf(err error) ErrorCode {
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return 0
}

// Request carries the per-attempt options of one tier.
type Request struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxCacheAge  time.Duration
}

// Source is the platform geolocation capability.
type Source interface {
	CurrentPosition(ctx context.Context, req Request) (core.Coordinate, error)
}

// FixedSource always reports the same coordinate. A nil Coordinate reports
// PositionUnavailable, so acquisition falls through every tier.
type FixedSource struct {
	Coordinate *core.Coordinate
}

// CurrentPosition implements Source.
func (s FixedSource) CurrentPosition(ctx context.Context, _ Request) (core.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return core.Coordinate{}, NewPositionError(Timeout, err)
	}
	if s.Coordinate == nil {
		return core.Coordinate{}, NewPositionError(PositionUnavailable, errors.New("no fixed position configured"))
	}
	return s.Coordinate.Clone(), nil
}
