package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/anchor/internal/capture"
)

var _ capture.Recorder = (*Manager)(nil)

func TestConnect_Disabled(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.enabled", false)
	viper.Set("influx.bucket", "captures")

	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"))
	err := m.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx.enabled is false")
}

func TestConnect_UnreachableUsesBackup(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.enabled", true)
	viper.Set("influx.bucket", "captures")
	viper.Set("influx.protocol", "http")
	viper.Set("influx.host", "127.0.0.1")
	viper.Set("influx.port", "1")

	backup := filepath.Join(t.TempDir(), "backup.gz")
	m := NewManager(zerolog.Nop(), backup)
	require.NoError(t, m.Connect())
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	require.NoError(t, m.RecordCapture(context.Background(), capture.Outcome{
		OwnerID:  "alice",
		Label:    "DSC_1",
		AnchorID: "a-1",
		Result:   capture.ResultAcquired,
		Located:  true,
		Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	line := string(data)
	assert.Contains(t, line, "capture,owner=alice,result=acquired")
	assert.Contains(t, line, `anchor_id="a-1"`)
	assert.Contains(t, line, "duration_ms=1500i")
	assert.Contains(t, line, "located=true")
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := &Manager{Bucket: "captures"}
	err := m.WritePoint(context.Background(), CapturePoint(capture.Outcome{Result: "x"}, time.Now()))
	assert.Error(t, err)
}

func TestCapturePoint_OmitsEmptyFields(t *testing.T) {
	at := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	p := CapturePoint(capture.Outcome{OwnerID: "o", Result: capture.ResultUnresolved}, at)

	assert.Equal(t, MeasurementCapture, p.Name())
	assert.Equal(t, at, p.Time())
	names := map[string]bool{}
	for _, f := range p.FieldList() {
		names[f.Key] = true
	}
	assert.True(t, names["located"])
	assert.False(t, names["label"])
	assert.False(t, names["anchor_id"])
}
