package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/anchor/internal/storage"
	"github.com/fieldsync/anchor/internal/storage/memory"
	"github.com/fieldsync/anchor/pkg/core"
	"github.com/fieldsync/anchor/pkg/streaming"
)

// Compile-time interface check.
var _ storage.Gateway = (*Backend)(nil)

// testServer serves a memory gateway over the anchor protocol.
func testServer(t *testing.T, secret string) (*httptest.Server, *memory.Backend) {
	t.Helper()
	gw := memory.New()
	srv := httptest.NewServer(NewHandler(gw, secret, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Close()
	})
	return srv, gw
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newClient(t *testing.T, srv *httptest.Server, secret string) *Backend {
	t.Helper()
	b := New(Config{URL: wsURL(srv), Secret: secret, Timeout: 2 * time.Second, ReconnectBackoff: 10 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// nextSnapshot waits for a snapshot or fails the test.
func nextSnapshot(t *testing.T, sub storage.Subscription) storage.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return storage.Snapshot{}
}

func TestAppendListDeleteAll(t *testing.T) {
	srv, _ := testServer(t, "")
	b := newClient(t, srv, "")
	ctx := context.Background()

	coord := &core.Coordinate{Latitude: 35.6762, Longitude: 139.6503, Accuracy: core.Float64(20)}
	id, err := b.Append(ctx, "alice", core.AnchorFields{Label: "DSC_0100", Coordinate: coord, Note: "shrine"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = b.Append(ctx, "alice", core.AnchorFields{Label: "DSC_0101"})
	require.NoError(t, err)

	list, err := b.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "DSC_0101", list[0].Label)
	assert.Nil(t, list[0].Coordinate)
	assert.Equal(t, id, list[1].ID)
	require.NotNil(t, list[1].Coordinate)
	assert.Equal(t, *coord, *list[1].Coordinate)
	assert.Equal(t, "shrine", list[1].Note)

	require.NoError(t, b.DeleteAll(ctx, "alice"))
	list, err = b.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
}

func TestClientSideValidation(t *testing.T) {
	srv, _ := testServer(t, "")
	b := newClient(t, srv, "")

	_, err := b.Append(context.Background(), "o", core.AnchorFields{Label: " "})
	assert.ErrorIs(t, err, storage.ErrEmptyLabel)
	_, err = b.List(context.Background(), "")
	assert.ErrorIs(t, err, storage.ErrNoOwner)
}

func TestRemoteErrorMapping(t *testing.T) {
	assert.ErrorIs(t, remoteError(streaming.ErrorPayload{Code: streaming.CodeEmptyLabel}), storage.ErrEmptyLabel)
	assert.ErrorIs(t, remoteError(streaming.ErrorPayload{Code: streaming.CodeNoOwner}), storage.ErrNoOwner)
	assert.ErrorIs(t, remoteError(streaming.ErrorPayload{Code: streaming.CodeClosed}), storage.ErrClosed)
	assert.EqualError(t, remoteError(streaming.ErrorPayload{Code: streaming.CodeInternal, Message: "disk full"}), "remote store: disk full")
}

func TestServerClosedGatewayMapsToErrClosed(t *testing.T) {
	srv, gw := testServer(t, "")
	b := newClient(t, srv, "")
	require.NoError(t, gw.Close())

	_, err := b.Append(context.Background(), "o", core.AnchorFields{Label: "x"})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestSubscribe(t *testing.T) {
	srv, _ := testServer(t, "")
	watcher := newClient(t, srv, "")
	writer := newClient(t, srv, "")
	ctx := context.Background()

	_, err := writer.Append(ctx, "o", core.AnchorFields{Label: "first"})
	require.NoError(t, err)

	sub, err := watcher.Subscribe(ctx, "o")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	snap := nextSnapshot(t, sub)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Anchors, 1)

	_, err = writer.Append(ctx, "o", core.AnchorFields{Label: "second"})
	require.NoError(t, err)

	snap = nextSnapshot(t, sub)
	require.Len(t, snap.Anchors, 2)
	assert.Equal(t, "second", snap.Anchors[0].Label)
}

func TestUnsubscribeReleasesServerSubscription(t *testing.T) {
	srv, gw := testServer(t, "")
	b := newClient(t, srv, "")
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "o")
	require.NoError(t, err)
	nextSnapshot(t, sub)

	sub.Unsubscribe()
	sub.Unsubscribe()

	// Wait until the server has processed the unsubscribe: a later append
	// must not reach the closed channel.
	_, err = b.Append(ctx, "o", core.AnchorFields{Label: "after"})
	require.NoError(t, err)
	_, ok := <-sub.Snapshots()
	assert.False(t, ok)

	list, err := gw.List(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSecret(t *testing.T) {
	srv, _ := testServer(t, "s3cret")

	bad := New(Config{URL: wsURL(srv), Secret: "wrong"}, nil)
	assert.Error(t, bad.Init())

	good := newClient(t, srv, "s3cret")
	_, err := good.List(context.Background(), "o")
	assert.NoError(t, err)
}

func TestReconnectReplaysSubscription(t *testing.T) {
	srv, gw := testServer(t, "")
	b := newClient(t, srv, "")
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "o")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	nextSnapshot(t, sub)

	// Drop the socket under the client.
	b.conn.mu.Lock()
	conn := b.conn.conn
	b.conn.mu.Unlock()
	require.NoError(t, conn.Close())

	_, err = gw.Append(ctx, "o", core.AnchorFields{Label: "while-away"})
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok)
			if len(snap.Anchors) == 1 {
				assert.Equal(t, "while-away", snap.Anchors[0].Label)
				return
			}
		case <-deadline:
			t.Fatal("subscription did not recover after reconnect")
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	srv, _ := testServer(t, "")
	b := newClient(t, srv, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.List(ctx, "o")
	assert.ErrorIs(t, err, context.Canceled)
}
