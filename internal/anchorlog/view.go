package anchorlog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldsync/anchor/internal/owner"
	"github.com/fieldsync/anchor/pkg/core"
)

// View follows the signed-in owner: on every sign-in or sign-out it closes
// the current Log and opens one for the new owner.
type View struct {
	deps Dependencies

	mu      sync.RWMutex
	current *Log

	cancelWatch func()
	cancelCtx   context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewView starts following owners. The first Log is open when NewView
// returns.
func NewView(ctx context.Context, deps Dependencies, owners *owner.Context) *View {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, cancelWatch := owners.Watch()

	v := &View{
		deps:        deps,
		cancelWatch: cancelWatch,
		cancelCtx:   cancel,
	}
	v.current = Open(ctx, deps, <-ch)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for ownerID := range ch {
			v.switchTo(ctx, ownerID)
		}
	}()
	return v
}

func (v *View) switchTo(ctx context.Context, ownerID string) {
	v.mu.RLock()
	same := v.current.Owner() == ownerID
	v.mu.RUnlock()
	if same {
		return
	}

	next := Open(ctx, v.deps, ownerID)

	v.mu.Lock()
	prev := v.current
	v.current = next
	v.mu.Unlock()

	prev.Close()
	v.deps.Logger.Debug("Anchor view switched owner", "owner", ownerID)
}

// Current returns the Log for the current owner. It is never nil.
func (v *View) Current() *Log {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Snapshot returns the current owner's anchors.
func (v *View) Snapshot() []core.Anchor {
	return v.Current().Snapshot()
}

// Latest returns the current owner's newest anchor.
func (v *View) Latest() (core.Anchor, bool) {
	return v.Current().Latest()
}

// Close stops following owners and closes the current Log.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancelWatch()
		v.wg.Wait()
		v.cancelCtx()
		v.Current().Close()
	})
}
