// Package capture runs one capture attempt at a time: validate the label,
// acquire a fix, fall back to the previous anchor's location, and persist.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fieldsync/anchor/pkg/core"
)

// Acquirer obtains one fix, or nil.
type Acquirer interface {
	Acquire(ctx context.Context) *core.Coordinate
}

// Store is the part of the anchor store a session writes to.
type Store interface {
	Append(ctx context.Context, ownerID string, fields core.AnchorFields) (string, error)
	List(ctx context.Context, ownerID string) ([]core.Anchor, error)
}

// Dependencies holds all dependencies for a Session.
type Dependencies struct {
	Acquirer Acquirer
	Store    Store
	Owner    func() string
	Logger   *slog.Logger
	Recorder Recorder    // optional
	Observer func(State) // optional, called after every state change
}

// Form is the user's input for one anchor.
type Form struct {
	Label    string
	Note     string
	CameraID string
}

// Session is the capture state machine for one UI context.
type Session struct {
	deps Dependencies
	inst instruments

	mu    sync.Mutex
	state State
	held  Form
}

// New creates a Session in the idle state.
func New(deps Dependencies) (*Session, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("capture: store is required")
	}
	if deps.Owner == nil {
		return nil, fmt.Errorf("capture: owner is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture metrics: %w", err)
	}
	return &Session{deps: deps, inst: inst, state: Idle()}, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Held returns the form kept for a retry or a save without location.
func (s *Session) Held() Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// CanSaveWithoutLocation reports whether SaveWithoutLocation would proceed.
func (s *Session) CanSaveWithoutLocation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status == StatusError && s.held.Label != ""
}

// Submit validates form, acquires a location and persists an anchor.
func (s *Session) Submit(ctx context.Context, form Form) (State, error) {
	start := time.Now()
	form = Form{
		Label:    strings.TrimSpace(form.Label),
		Note:     strings.TrimSpace(form.Note),
		CameraID: strings.TrimSpace(form.CameraID),
	}

	s.mu.Lock()
	if s.state.Status == StatusLocating {
		st := s.state
		s.mu.Unlock()
		return st, ErrBusy
	}
	ownerID := s.deps.Owner()
	if ownerID == "" {
		st := s.state
		s.mu.Unlock()
		return st, ErrSignedOut
	}
	s.held = form
	if form.Label == "" {
		st := s.transitionLocked(s.state.Reject(MessageValidation))
		s.mu.Unlock()
		s.notify(st)
		s.finish(ctx, Outcome{OwnerID: ownerID, Result: ResultInvalid})
		return st, ErrValidation
	}
	st := s.transitionLocked(s.state.Begin())
	s.mu.Unlock()
	s.notify(st)

	logger := s.deps.Logger.With("owner", ownerID, "label", form.Label)
	fields := core.AnchorFields{Label: form.Label, Note: form.Note, CameraID: form.CameraID}
	result := ResultAcquired

	var coord *core.Coordinate
	if s.deps.Acquirer != nil {
		coord = s.deps.Acquirer.Acquire(ctx)
	}
	if coord != nil {
		c := coord.Clone()
		fields.Coordinate = &c
	} else {
		// The store is authoritative for the latest anchor; a local view may lag.
		anchors, err := s.deps.Store.List(ctx, ownerID)
		if err != nil {
			logger.Error("Failed to read latest anchor", "error", err)
			return s.persistFailed(ctx, ownerID, form.Label, start, err)
		}
		if len(anchors) == 0 || !anchors[0].HasCoordinate() {
			logger.Info("No location and no previous location to reuse")
			st := s.fail(MessageUnresolved)
			s.finish(ctx, Outcome{OwnerID: ownerID, Label: form.Label, Result: ResultUnresolved, Duration: time.Since(start)})
			return st, ErrUnresolvedLocation
		}
		c := anchors[0].Coordinate.Clone()
		fields.Coordinate = &c
		fields.Note = reuseNote(form.Note)
		result = ResultReused
		logger.Info("Reusing previous location", "from", anchors[0].ID)
	}

	return s.persist(ctx, ownerID, fields, result, start)
}

// SaveWithoutLocation persists the held form without a coordinate. It is
// only available after a failed attempt that left a label behind.
func (s *Session) SaveWithoutLocation(ctx context.Context) (State, error) {
	start := time.Now()

	s.mu.Lock()
	if s.state.Status == StatusLocating {
		st := s.state
		s.mu.Unlock()
		return st, ErrBusy
	}
	if s.state.Status != StatusError || s.held.Label == "" {
		st := s.state
		s.mu.Unlock()
		return st, ErrOverrideUnavailable
	}
	ownerID := s.deps.Owner()
	if ownerID == "" {
		st := s.state
		s.mu.Unlock()
		return st, ErrSignedOut
	}
	form := s.held
	st := s.transitionLocked(s.state.Override())
	s.mu.Unlock()
	s.notify(st)

	fields := core.AnchorFields{Label: form.Label, Note: form.Note, CameraID: form.CameraID}
	return s.persist(ctx, ownerID, fields, ResultOverride, start)
}

func (s *Session) persist(ctx context.Context, ownerID string, fields core.AnchorFields, result string, start time.Time) (State, error) {
	id, err := s.deps.Store.Append(ctx, ownerID, fields)
	if err != nil {
		s.deps.Logger.Error("Failed to save anchor", "owner", ownerID, "label", fields.Label, "error", err)
		return s.persistFailed(ctx, ownerID, fields.Label, start, err)
	}

	s.mu.Lock()
	st := s.transitionLocked(s.state.Succeed())
	s.held = Form{}
	s.mu.Unlock()
	s.notify(st)

	s.deps.Logger.Info("Anchor saved", "owner", ownerID, "id", id, "label", fields.Label, "result", result)
	s.finish(ctx, Outcome{
		OwnerID:  ownerID,
		Label:    fields.Label,
		AnchorID: id,
		Result:   result,
		Located:  fields.Coordinate != nil,
		Duration: time.Since(start),
	})
	return st, nil
}

func (s *Session) persistFailed(ctx context.Context, ownerID, label string, start time.Time, cause error) (State, error) {
	st := s.fail(MessagePersist)
	s.finish(ctx, Outcome{OwnerID: ownerID, Label: label, Result: ResultPersistFail, Duration: time.Since(start)})
	return st, fmt.Errorf("%w: %w", ErrPersistence, cause)
}

func (s *Session) fail(message string) State {
	s.mu.Lock()
	st := s.transitionLocked(s.state.Fail(message))
	s.mu.Unlock()
	s.notify(st)
	return st
}

// transitionLocked applies a transition result. s.mu must be held.
func (s *Session) transitionLocked(next State, err error) State {
	if err != nil {
		s.deps.Logger.Error("Capture state machine refused transition", "error", err)
		return s.state
	}
	s.state = next
	return next
}

func (s *Session) notify(st State) {
	if s.deps.Observer != nil {
		s.deps.Observer(st)
	}
}

func (s *Session) finish(ctx context.Context, o Outcome) {
	s.inst.record(ctx, o)
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.RecordCapture(context.WithoutCancel(ctx), o); err != nil {
		s.deps.Logger.Warn("Failed to record capture outcome", "error", err)
	}
}
