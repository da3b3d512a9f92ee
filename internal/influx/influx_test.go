package influx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/pkg/core"
)

func offline(backup string) config.InfluxConfig {
	return config.InfluxConfig{Protocol: "http", Host: "127.0.0.1", Port: "1", Org: "markers", BackupPath: backup}
}

func TestURL(t *testing.T) {
	assert.Equal(t, "https://influx.local:8086",
		URL(config.InfluxConfig{Protocol: "https", Host: "influx.local", Port: "8086"}))
}

func TestMarkerPoint(t *testing.T) {
	origin := time.UnixMilli(1_700_000_000_000)
	m := core.DerivedMarker{
		Name: "Load", Start: 2.5, Dur: 4, Category: 3, Incomplete: true,
		Title: "IPC", Data: &core.GenericData{Type: "tracing"},
	}

	line := write.PointToLineProtocol(MarkerPoint("nightly", "GeckoMain", 7, origin, m), time.Nanosecond)

	tags, rest, ok := strings.Cut(line, " ")
	require.True(t, ok, line)
	assert.True(t, strings.HasPrefix(tags, "marker,"), tags)
	for _, tag := range []string{"name=Load", "payload_type=" + m.Data.PayloadType(), "pid=7", "profile=nightly", "thread=GeckoMain"} {
		assert.Contains(t, tags, tag)
	}
	for _, field := range []string{"category=3i", "duration=4", "incomplete=true", "start=2.5", `title="IPC"`} {
		assert.Contains(t, rest, field)
	}
	assert.True(t, strings.HasSuffix(line, " 1700000000002500000"), line)
}

func TestOpen_OfflineWritesBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "markers.lp.gz")
	s, err := Open(context.Background(), offline(backup), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, s.Online())

	p := MarkerPoint("nightly", "Main", 1, time.UnixMilli(0), core.DerivedMarker{Name: "Tick"})
	require.NoError(t, s.Write(p))
	require.NoError(t, s.Close())

	info, err := os.Stat(backup)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, s.Write(p), "closed sink")
	assert.NoError(t, s.Close())
}

func TestOpen_OfflineWithoutBackup(t *testing.T) {
	_, err := Open(context.Background(), offline(""), zerolog.Nop())
	assert.ErrorContains(t, err, "no backup path")
}
