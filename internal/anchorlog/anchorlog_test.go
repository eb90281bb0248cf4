package anchorlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fieldsync/anchor/internal/owner"
	"github.com/fieldsync/anchor/internal/resolver"
	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/internal/storage/memory"
	"github.com/fieldsync/anchor/pkg/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestOpen_FollowsStore(t *testing.T) {
	gw := memory.New()
	defer gw.Close()
	ctx := context.Background()

	_, err := gw.Append(ctx, "alice", core.AnchorFields{Label: "DSC_1", Coordinate: &core.Coordinate{Latitude: 1, Longitude: 2}})
	require.NoError(t, err)

	var mu sync.Mutex
	var changes int
	l := Open(ctx, Dependencies{Gateway: gw, OnChange: func(owner string, anchors []core.Anchor) {
		assert.Equal(t, "alice", owner)
		mu.Lock()
		changes++
		mu.Unlock()
	}}, "alice")
	defer l.Close()

	require.NoError(t, l.WaitReady(ctx))
	assert.Len(t, l.Snapshot(), 1)
	assert.Equal(t, "alice", l.Owner())

	_, err = gw.Append(ctx, "alice", core.AnchorFields{Label: "DSC_2"})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(l.Snapshot()) == 2 })

	latest, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, "DSC_2", latest.Label)

	mu.Lock()
	assert.GreaterOrEqual(t, changes, 1)
	mu.Unlock()
}

func TestOpen_SignedOutIsEmpty(t *testing.T) {
	l := Open(context.Background(), Dependencies{Gateway: memory.New()}, "")
	defer l.Close()

	require.NoError(t, l.WaitReady(context.Background()))
	assert.Empty(t, l.Snapshot())
	_, ok := l.Latest()
	assert.False(t, ok)
}

// failingGateway refuses subscriptions.
type failingGateway struct {
	storage.Gateway
}

func (failingGateway) Subscribe(context.Context, string) (storage.Subscription, error) {
	return nil, errors.New("permission denied")
}

func TestOpen_SubscriptionFailureIsEmptyList(t *testing.T) {
	l := Open(context.Background(), Dependencies{Gateway: failingGateway{}}, "alice")
	defer l.Close()

	require.NoError(t, l.WaitReady(context.Background()))
	assert.Empty(t, l.Snapshot())
	assert.Error(t, l.Err())
}

// errSubscription delivers one failed snapshot.
type errSubscription struct {
	ch chan storage.Snapshot
}

func (s *errSubscription) Snapshots() <-chan storage.Snapshot { return s.ch }
func (s *errSubscription) Unsubscribe()                       {}

type errSnapshotGateway struct {
	storage.Gateway
	sub *errSubscription
}

func (g errSnapshotGateway) Subscribe(context.Context, string) (storage.Subscription, error) {
	return g.sub, nil
}

func TestOpen_SnapshotErrorClearsList(t *testing.T) {
	sub := &errSubscription{ch: make(chan storage.Snapshot, 2)}
	sub.ch <- storage.Snapshot{Anchors: []core.Anchor{{ID: "a", Label: "A"}}}
	l := Open(context.Background(), Dependencies{Gateway: errSnapshotGateway{sub: sub}}, "o")

	require.NoError(t, l.WaitReady(context.Background()))
	waitFor(t, func() bool { return len(l.Snapshot()) == 1 })

	sub.ch <- storage.Snapshot{Err: errors.New("stream broke")}
	waitFor(t, func() bool { return len(l.Snapshot()) == 0 && l.Err() != nil })

	close(sub.ch)
	l.Close()
}

func TestLog_LocateDoesNotSubstituteStaleCoordinates(t *testing.T) {
	gw := memory.New()
	defer gw.Close()
	ctx := context.Background()
	t0 := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	gw.Now = func() time.Time { return t0 }
	_, err := gw.Append(ctx, "o", core.AnchorFields{Label: "located", Coordinate: &core.Coordinate{Latitude: 10, Longitude: 20}})
	require.NoError(t, err)
	gw.Now = func() time.Time { return t0.Add(time.Hour) }
	_, err = gw.Append(ctx, "o", core.AnchorFields{Label: "no-fix"})
	require.NoError(t, err)

	l := Open(ctx, Dependencies{Gateway: gw}, "o")
	defer l.Close()
	require.NoError(t, l.WaitReady(ctx))

	r := l.Locate(t0.Add(2 * time.Hour))
	assert.Equal(t, resolver.StatusUnavailable, r.Status)
	assert.Nil(t, r.Coordinate())

	r = l.Locate(t0.Add(30 * time.Minute))
	assert.Equal(t, resolver.StatusLocated, r.Status)

	assigned := l.Assign([]resolver.Frame{
		{Label: "early", CapturedAt: t0.Add(-time.Minute)},
		{Label: "late", CapturedAt: t0.Add(90 * time.Minute)},
	})
	require.Len(t, assigned, 2)
	assert.Equal(t, resolver.StatusNoAnchor, assigned[0].Resolution.Status)
	assert.Equal(t, resolver.StatusUnavailable, assigned[1].Resolution.Status)
}

func TestLog_CloseIsIdempotent(t *testing.T) {
	gw := memory.New()
	defer gw.Close()
	l := Open(context.Background(), Dependencies{Gateway: gw}, "o")
	l.Close()
	l.Close()

	// Updates after Close are not applied.
	_, err := gw.Append(context.Background(), "o", core.AnchorFields{Label: "late"})
	require.NoError(t, err)
	assert.Empty(t, l.Snapshot())
}

func TestView_FollowsOwner(t *testing.T) {
	gw := memory.New()
	defer gw.Close()
	ctx := context.Background()
	_, _ = gw.Append(ctx, "alice", core.AnchorFields{Label: "A1"})
	_, _ = gw.Append(ctx, "bob", core.AnchorFields{Label: "B1"})
	_, _ = gw.Append(ctx, "bob", core.AnchorFields{Label: "B2"})

	owners := owner.NewContext()
	v := NewView(ctx, Dependencies{Gateway: gw}, owners)
	defer v.Close()

	assert.Empty(t, v.Snapshot(), "signed out shows nothing")

	owners.Set("alice")
	waitFor(t, func() bool { return v.Current().Owner() == "alice" && len(v.Snapshot()) == 1 })

	owners.Set("bob")
	waitFor(t, func() bool { return v.Current().Owner() == "bob" && len(v.Snapshot()) == 2 })
	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, "B2", latest.Label)

	owners.Set("")
	waitFor(t, func() bool { return v.Current().Owner() == "" })
	assert.Empty(t, v.Snapshot())
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Minute, "just now"},
		{20 * time.Second, "just now"},
		{time.Minute, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{59 * time.Minute, "59 minutes ago"},
		{60 * time.Minute, "1 hour ago"},
		{89 * time.Minute, "1 hour ago"},
		{90 * time.Minute, "2 hours ago"},
		{23 * time.Hour, "23 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRelative(now.Add(-tt.ago), now))
		})
	}
}

func TestBanner(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, emptyBanner, Banner(core.Anchor{}, false, now))

	located := core.Anchor{
		Label:      "DSC_0042",
		CreatedAt:  now.Add(-5 * time.Minute),
		Coordinate: &core.Coordinate{Latitude: 48.85837, Longitude: -2.5},
	}
	assert.Equal(t, "Current anchor: DSC_0042 (logged 5 minutes ago)\n48.85837° N · 2.50000° W", Banner(located, true, now))

	missing := core.Anchor{Label: "DSC_0043", CreatedAt: now}
	assert.Equal(t, "Current anchor: DSC_0043 (logged just now)\n"+missingBanner, Banner(missing, true, now))
}

func TestLine(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	a := core.Anchor{Label: "DSC_1", CreatedAt: now, Note: "gate"}
	line := Line(a, now)
	assert.Contains(t, line, "DSC_1")
	assert.Contains(t, line, "Location unavailable")
	assert.Contains(t, line, "just now")
	assert.Contains(t, line, "gate")
}

func TestSummarize(t *testing.T) {
	anchors := []core.Anchor{
		{Label: "A", CameraID: "X-T5", Coordinate: &core.Coordinate{Latitude: 1, Longitude: 2}},
		{Label: "B", CameraID: "X-T5"},
		{Label: "C", CameraID: "R6", Coordinate: &core.Coordinate{}},
		{Label: "D"},
	}
	s := Summarize(anchors)
	assert.Equal(t, Summary{Total: 4, Located: 2, Unavailable: 2, Cameras: 2}, s)
	assert.Equal(t, "4 anchors · 2 located · 2 without location · 2 cameras", s.String())

	assert.Equal(t, "0 anchors · 0 located · 0 without location · 0 cameras", Summarize(nil).String())
	assert.Equal(t, "1 anchor · 0 located · 1 without location · 0 cameras", Summarize(anchors[3:]).String())
}
