package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/markers/internal/fixture"
	"github.com/OCAP2/markers/pkg/core"
)

var captureWindow = core.Range{Start: 0, End: 10}

type span struct {
	start, end core.Milliseconds
	incomplete bool
}

func spans(r Result) []span {
	out := make([]span, 0, len(r.Spans))
	for _, s := range r.Spans {
		out = append(out, span{s.Start, s.End, s.Incomplete})
	}
	return out
}

func TestPair_InstantAndInterval(t *testing.T) {
	b := fixture.New().Instant("i", 1).Interval("v", 2, 5)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 2)
	assert.Equal(t, KindInstant, r.Spans[0].Kind)
	assert.Equal(t, []span{{1, 1, false}, {2, 5, false}}, spans(r))
	assert.Empty(t, r.Anomalies)
}

func TestPair_NestedSameNameIsLIFO(t *testing.T) {
	b := fixture.New().
		Start("Marker", 2).
		Start("Marker", 3).
		End("Marker", 5).
		End("Marker", 7)

	r := Pair(b.Table, captureWindow)

	assert.Equal(t, []span{{3, 5, false}, {2, 7, false}}, spans(r))
	assert.Equal(t, []int{1, 2}, r.Spans[0].Rows)
	assert.Equal(t, []int{0, 3}, r.Spans[1].Rows)
}

func TestPair_NamesDoNotCrossPair(t *testing.T) {
	b := fixture.New().
		Start("Marker A", 2).
		Start("Marker B", 3).
		End("Marker A", 5).
		End("Marker B", 7)

	r := Pair(b.Table, captureWindow)

	assert.Equal(t, []span{{2, 5, false}, {3, 7, false}}, spans(r))
}

func TestPair_DanglingEndsAndStarts(t *testing.T) {
	b := fixture.New().End("A", 6).Start("B", 2)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 2)
	assert.Equal(t, KindDanglingEnd, r.Spans[0].Kind)
	assert.Equal(t, span{0, 6, true}, spans(r)[0])
	assert.Equal(t, KindDanglingStart, r.Spans[1].Kind)
	assert.Equal(t, span{2, 10, true}, spans(r)[1])
	assert.Empty(t, r.Anomalies, "unmatched rows are not anomalies")
}

func TestPair_NegativeIntervalIsClamped(t *testing.T) {
	b := fixture.New().Interval("backwards", 5, 3)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 1)
	assert.Equal(t, span{5, 5, true}, spans(r)[0])
	require.Len(t, r.Anomalies, 1)
	assert.Equal(t, NegativeDuration, r.Anomalies[0].Kind)
}

func TestPair_StructuralViolationSkipsRow(t *testing.T) {
	b := fixture.New().
		Row("broken", core.Time(1), core.NoTime, core.PhaseInterval, nil).
		Instant("fine", 2)

	r := Pair(b.Table, captureWindow)

	assert.Equal(t, []span{{2, 2, false}}, spans(r))
	require.Len(t, r.Anomalies, 1)
	assert.Equal(t, StructuralViolation, r.Anomalies[0].Kind)
	assert.Equal(t, 0, r.Anomalies[0].Row)
}

func TestPair_Screenshots(t *testing.T) {
	b := fixture.New().Screenshot(2, "0x1").Screenshot(5, "0x1")

	r := Pair(b.Table, captureWindow)

	assert.Equal(t, []span{{2, 5, false}, {5, 10, false}}, spans(r))
	for _, s := range r.Spans {
		assert.Equal(t, KindScreenshot, s.Kind)
	}
}

func TestPair_ScreenshotsPerWindow(t *testing.T) {
	b := fixture.New().Screenshot(1, "left").Screenshot(2, "right").Screenshot(4, "left")

	r := Pair(b.Table, captureWindow)

	assert.Equal(t, []span{{1, 4, false}, {2, 10, false}, {4, 10, false}}, spans(r))
}

func TestPair_NetworkCorrelatesById(t *testing.T) {
	idA := core.MakeNetworkID(1, 1)
	idB := core.MakeNetworkID(2, 1)
	b := fixture.New().
		Network("Load 1", 0, 1, idA, core.NetworkStart).
		Network("Load 1", 0, 1, idB, core.NetworkStart).
		Network("Load 1", 1, 3, idA, core.NetworkStop)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 2)
	assert.Equal(t, KindNetworkPair, r.Spans[0].Kind)
	assert.Equal(t, []int{0, 2}, r.Spans[0].Rows)
	assert.Equal(t, span{0, 3, false}, spans(r)[0])
	assert.Equal(t, KindNetworkStart, r.Spans[1].Kind)
	assert.Equal(t, span{0, 10, true}, spans(r)[1])
}

func TestPair_NetworkLoneStop(t *testing.T) {
	b := fixture.New().Network("Load", 3, 7, core.MakeNetworkID(1, 5), core.NetworkStop)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 1)
	assert.Equal(t, KindNetworkStop, r.Spans[0].Kind)
	assert.Equal(t, span{0, 7, true}, spans(r)[0])
}

func TestPair_NetworkSecondStartSupersedes(t *testing.T) {
	id := core.MakeNetworkID(1, 1)
	b := fixture.New().
		Network("Load", 0, 1, id, core.NetworkStart).
		Network("Load", 2, 3, id, core.NetworkStart).
		Network("Load", 3, 4, id, core.NetworkStop)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 2)
	assert.Equal(t, KindNetworkStart, r.Spans[0].Kind)
	assert.Equal(t, []int{0}, r.Spans[0].Rows)
	assert.Equal(t, []int{1, 2}, r.Spans[1].Rows)
	require.Len(t, r.Anomalies, 1)
	assert.Equal(t, CorrelationAmbiguity, r.Anomalies[0].Kind)
	assert.Equal(t, 1, r.Anomalies[0].Row)
}

func TestPair_LegacyNetworkRowUsesPhase(t *testing.T) {
	b := fixture.New().Row("Load", core.Time(1), core.Time(4), core.PhaseInterval, &core.NetworkPayload{ID: 1})

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 1)
	assert.Equal(t, KindInterval, r.Spans[0].Kind)
}

func TestPair_LeftoversInRowOrder(t *testing.T) {
	b := fixture.New().
		Start("B", 1).
		Network("Load", 2, 3, core.MakeNetworkID(1, 1), core.NetworkStart).
		Start("A", 3).
		Screenshot(4, "w")

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 4)
	for i, s := range r.Spans {
		assert.Equal(t, []int{i}, s.Rows)
	}
}

func TestPair_ClampedUnmatchedRowsAreReported(t *testing.T) {
	b := fixture.New().
		End("Z", -3).
		Start("Late", 12).
		Network("Load", 13, 14, core.MakeNetworkID(1, 9), core.NetworkStart).
		Network("Early", -5, -4, core.MakeNetworkID(1, 8), core.NetworkStop)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 4)
	assert.Equal(t, span{0, 0, true}, spans(r)[0])
	assert.Equal(t, span{0, 0, true}, spans(r)[1])
	assert.Equal(t, span{12, 12, true}, spans(r)[2])
	assert.Equal(t, span{13, 13, true}, spans(r)[3])

	rows := make([]int, 0, len(r.Anomalies))
	for _, a := range r.Anomalies {
		assert.Equal(t, NegativeDuration, a.Kind)
		rows = append(rows, a.Row)
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, rows)
}

func TestPair_NetworkSecondStopIsAmbiguous(t *testing.T) {
	id := core.MakeNetworkID(1, 1)
	b := fixture.New().
		Network("Load", 0, 1, id, core.NetworkStart).
		Network("Load", 1, 3, id, core.NetworkStop).
		Network("Load", 3, 4, id, core.NetworkCancel)

	r := Pair(b.Table, captureWindow)

	require.Len(t, r.Spans, 2)
	assert.Equal(t, KindNetworkPair, r.Spans[0].Kind)
	assert.Equal(t, KindNetworkStop, r.Spans[1].Kind)
	assert.Equal(t, span{0, 4, true}, spans(r)[1])
	require.Len(t, r.Anomalies, 1)
	assert.Equal(t, CorrelationAmbiguity, r.Anomalies[0].Kind)
	assert.Equal(t, 2, r.Anomalies[0].Row)
}

func TestPair_NetworkIdReusedAfterStop(t *testing.T) {
	id := core.MakeNetworkID(1, 1)
	b := fixture.New().
		Network("Load", 0, 1, id, core.NetworkStart).
		Network("Load", 1, 2, id, core.NetworkStop).
		Network("Load", 3, 4, id, core.NetworkStart).
		Network("Load", 4, 5, id, core.NetworkStop)

	r := Pair(b.Table, captureWindow)

	assert.Equal(t, []span{{0, 2, false}, {3, 5, false}}, spans(r))
	assert.Empty(t, r.Anomalies)
}

func TestOpens_PushPop(t *testing.T) {
	o := make(Opens)
	o.Push(1, Open{Row: 0, Start: 1})
	o.Push(1, Open{Row: 1, Start: 2})
	o.Push(2, Open{Row: 2, Start: 3})

	got, ok := o.Pop(1)
	require.True(t, ok)
	assert.Equal(t, 1, got.Row)

	_, ok = o.Pop(3)
	assert.False(t, ok)

	assert.Equal(t, []Open{{Row: 0, Start: 1}, {Row: 2, Start: 3}}, o.Drain())
	assert.Empty(t, o)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "network-pair", KindNetworkPair.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
