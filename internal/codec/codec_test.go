package codec

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/fixture"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

func testProfile() *profile.Profile {
	b := fixture.New().
		Start("Load", 1).
		Screenshot(2, "0x1").
		End("Load", 3).
		Network("Fetch", 4, 9, core.MakeNetworkID(3, 1), "")

	p := &profile.Profile{
		Meta:    profile.Meta{Product: "Firefox", Version: 27, Interval: 1, Categories: []string{"Other"}},
		Strings: b.Strings,
	}
	p.AddThread(&profile.Thread{
		Name:               "GeckoMain",
		ProcessType:        "default",
		Pid:                12,
		Tid:                12,
		ProcessStartupTime: 100,
		CaptureEnd:         20,
		Markers:            b.Table,
	})
	return p
}

func assertSameProfile(t *testing.T, want, got *profile.Profile) {
	t.Helper()
	assert.Equal(t, want.Meta, got.Meta)
	assert.Equal(t, want.Strings.Strings(), got.Strings.Strings())
	require.Len(t, got.Threads, len(want.Threads))
	for i := range want.Threads {
		w, g := want.Threads[i], got.Threads[i]
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.ProcessStartupTime, g.ProcessStartupTime)
		assert.Equal(t, w.CaptureEnd, g.CaptureEnd)
		assert.Equal(t, w.Markers, g.Markers)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		format  Format
		gzipped bool
	}{
		{"profile.json", FormatJSON, false},
		{"profile.json.gz", FormatJSON, true},
		{"/tmp/dir/PROFILE.MSGPACK", FormatMsgpack, false},
		{"profile.mp.gz", FormatMsgpack, true},
		{"profile", FormatJSON, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			format, gzipped := DetectFormat(tt.path)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.gzipped, gzipped)
		})
	}
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "json", FormatJSON.String())
	assert.Equal(t, "msgpack", FormatMsgpack.String())
}

func TestFileRoundTrip(t *testing.T) {
	for _, name := range []string{"p.json", "p.json.gz", "p.msgpack", "p.msgpack.gz"} {
		t.Run(name, func(t *testing.T) {
			want := testProfile()
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, WriteFile(path, want))

			got, err := ReadFile(path)
			require.NoError(t, err)
			assertSameProfile(t, want, got)
		})
	}
}

func TestEncode_NullTimes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testProfile(), FormatJSON))
	assert.Contains(t, buf.String(), `"endTime":[null,null,3,9]`)
	assert.Contains(t, buf.String(), `"type":"CompositorScreenshot"`)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad json", `{`, "error decoding json profile"},
		{"ragged columns", `{"strings":["a"],"threads":[{"markers":{"name":[0],"startTime":[],"endTime":[null],"phase":[0],"category":[0]}}]}`, "different lengths"},
		{"name outside table", `{"strings":["a"],"threads":[{"markers":{"name":[4],"startTime":[1],"endTime":[null],"phase":[0],"category":[0]}}]}`, "outside string table"},
		{"unknown phase", `{"strings":["a"],"threads":[{"markers":{"name":[0],"startTime":[1],"endTime":[null],"phase":[7],"category":[0]}}]}`, "unknown phase"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc), FormatJSON)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestDerivedDocument(t *testing.T) {
	pipeline, err := profile.NewPipeline(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	require.NoError(t, err)

	prof, infos, err := pipeline.DeriveAll(context.Background(), testProfile())
	require.NoError(t, err)

	doc, err := NewDerivedDocument(prof, infos)
	require.NoError(t, err)
	require.Len(t, doc.Threads, 1)
	assert.True(t, doc.Meta.Normalized)

	markers := doc.Threads[0].Markers
	require.Len(t, markers, 3)
	// start-time order after the process offset of 100
	assert.Equal(t, "Load", markers[0].Name)
	assert.Equal(t, core.Milliseconds(101), markers[0].Start)
	assert.Equal(t, []int{0, 2}, markers[0].RawIndexes)
	assert.Equal(t, "CompositorScreenshot", markers[1].Name)
	assert.Contains(t, string(markers[1].Data), `"windowID":"0x1"`)
	assert.Equal(t, "Fetch", markers[2].Name)

	path := filepath.Join(t.TempDir(), "out.derived.json.gz")
	require.NoError(t, WriteDerivedFile(path, doc))
	back, err := ReadDerivedFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Meta, back.Meta)
	require.Len(t, back.Threads[0].Markers, 3)
	assert.Equal(t, markers[2].RawIndexes, back.Threads[0].Markers[2].RawIndexes)
	assert.JSONEq(t, string(markers[2].Data), string(back.Threads[0].Markers[2].Data))
}

func TestEncodeDerived_Msgpack(t *testing.T) {
	doc := &DerivedDocument{Meta: profile.Meta{Product: "x"}, Threads: []DerivedThreadDoc{{Name: "T"}}}
	var buf bytes.Buffer
	require.NoError(t, EncodeDerived(&buf, doc, FormatMsgpack))
	assert.NotZero(t, buf.Len())
}
