// Package matching replays the phase rules of a raw marker table and pairs its
// rows into spans. It knows which rows belong together and when they start
// and end, but nothing about how payloads are presented.
package matching

import (
	"fmt"
	"sort"

	"github.com/OCAP2/markers/pkg/core"
)

// Kind describes how a span was formed.
type Kind uint8

const (
	KindInstant Kind = iota
	KindInterval
	KindPaired
	KindDanglingEnd
	KindDanglingStart
	KindNetworkPair
	KindNetworkStop
	KindNetworkStart
	KindScreenshot
)

var kindNames = [...]string{
	KindInstant:       "instant",
	KindInterval:      "interval",
	KindPaired:        "paired",
	KindDanglingEnd:   "dangling-end",
	KindDanglingStart: "dangling-start",
	KindNetworkPair:   "network-pair",
	KindNetworkStop:   "network-stop",
	KindNetworkStart:  "network-start",
	KindScreenshot:    "screenshot",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Span is one logical marker. Rows lists the raw rows it was formed from,
// opening row first.
type Span struct {
	Kind       Kind
	Rows       []int
	Start      core.Milliseconds
	End        core.Milliseconds
	Incomplete bool
}

// AnomalyKind classifies a data problem found while pairing.
type AnomalyKind string

const (
	StructuralViolation  AnomalyKind = "StructuralViolation"
	NegativeDuration     AnomalyKind = "NegativeDuration"
	CorrelationAmbiguity AnomalyKind = "CorrelationAmbiguity"
)

// Anomaly is a problem with one raw row. Pairing always continues past it.
type Anomaly struct {
	Kind   AnomalyKind
	Row    int
	Detail string
}

// Result holds spans in emission order and the anomalies met on the way.
type Result struct {
	Spans     []Span
	Anomalies []Anomaly
}

// Pair walks the table in row order. Unmatched ends are opened from
// bounds.Start and unmatched starts are closed at bounds.End.
func Pair(table *core.RawMarkerTable, bounds core.Range) Result {
	p := &pairer{
		table:       table,
		bounds:      bounds,
		opens:       make(Opens),
		network:     make(NetworkOpens),
		stopped:     make(map[core.NetworkID]int),
		screenshots: make(map[string]int),
	}

	for row := 0; row < table.Len(); row++ {
		p.step(row)
	}
	p.finish()

	return p.result
}

type pairer struct {
	table       *core.RawMarkerTable
	bounds      core.Range
	opens       Opens
	network     NetworkOpens
	stopped     map[core.NetworkID]int // network id -> last terminating row
	screenshots map[string]int         // window id -> pending screenshot row
	leftovers   []Span
	result      Result
}

func (p *pairer) emit(s Span) {
	p.result.Spans = append(p.result.Spans, s)
}

func (p *pairer) anomaly(kind AnomalyKind, row int, format string, args ...any) {
	p.result.Anomalies = append(p.result.Anomalies, Anomaly{
		Kind:   kind,
		Row:    row,
		Detail: fmt.Sprintf(format, args...),
	})
}

// closed builds a span and clamps a negative duration to zero.
func (p *pairer) closed(kind Kind, rows []int, start, end core.Milliseconds, incomplete bool) (Span, bool) {
	if end < start {
		return Span{Kind: kind, Rows: rows, Start: start, End: start, Incomplete: true}, false
	}
	return Span{Kind: kind, Rows: rows, Start: start, End: end, Incomplete: incomplete}, true
}

func (p *pairer) step(row int) {
	m := p.table.Row(row)
	if err := m.Validate(); err != nil {
		p.anomaly(StructuralViolation, row, "%v", err)
		return
	}

	switch data := m.Data.(type) {
	case *core.NetworkPayload:
		if data.Status != "" {
			p.stepNetwork(row, m, data)
			return
		}
	case *core.ScreenshotPayload:
		if m.Phase == core.PhaseInstant || m.Phase == core.PhaseIntervalStart {
			p.stepScreenshot(row, m, data)
			return
		}
	}

	switch m.Phase {
	case core.PhaseInstant:
		p.emit(Span{Kind: KindInstant, Rows: []int{row}, Start: m.StartTime.Value, End: m.StartTime.Value})

	case core.PhaseInterval:
		s, ok := p.closed(KindInterval, []int{row}, m.StartTime.Value, m.EndTime.Value, false)
		if !ok {
			p.anomaly(NegativeDuration, row, "interval ends at %v before it starts at %v", m.EndTime.Value, m.StartTime.Value)
		}
		p.emit(s)

	case core.PhaseIntervalStart:
		p.opens.Push(m.Name, Open{Row: row, Start: m.StartTime.Value})

	case core.PhaseIntervalEnd:
		open, ok := p.opens.Pop(m.Name)
		if !ok {
			s, ok := p.closed(KindDanglingEnd, []int{row}, p.bounds.Start, m.EndTime.Value, true)
			if !ok {
				p.anomaly(NegativeDuration, row, "unmatched end at %v precedes the capture start %v", m.EndTime.Value, p.bounds.Start)
			}
			p.emit(s)
			return
		}
		s, ok := p.closed(KindPaired, []int{open.Row, row}, open.Start, m.EndTime.Value, false)
		if !ok {
			p.anomaly(NegativeDuration, row, "end at %v precedes its start at %v (row %d)", m.EndTime.Value, open.Start, open.Row)
		}
		p.emit(s)
	}
}

func (p *pairer) stepNetwork(row int, m core.RawMarker, data *core.NetworkPayload) {
	if data.Status == core.NetworkStart {
		if prev, ok := p.network.Supersede(data.ID, Open{Row: row, Start: m.Start()}); ok {
			p.anomaly(CorrelationAmbiguity, row, "network id %#x already started at row %d", uint64(data.ID), prev.Row)
			p.emit(p.loneNetworkStart(prev))
		}
		return
	}

	if !data.Status.Terminates() {
		p.emit(Span{Kind: KindInterval, Rows: []int{row}, Start: m.Start(), End: m.End()})
		return
	}

	prevStop, stoppedBefore := p.stopped[data.ID]
	p.stopped[data.ID] = row

	open, ok := p.network.Take(data.ID)
	if !ok {
		if stoppedBefore {
			p.anomaly(CorrelationAmbiguity, row, "network id %#x already ended with %s at row %d", uint64(data.ID), data.Status, prevStop)
		}
		s, ok := p.closed(KindNetworkStop, []int{row}, p.bounds.Start, m.End(), true)
		if !ok {
			p.anomaly(NegativeDuration, row, "network id %#x stops at %v before the capture start %v", uint64(data.ID), m.End(), p.bounds.Start)
		}
		p.emit(s)
		return
	}
	s, ok := p.closed(KindNetworkPair, []int{open.Row, row}, open.Start, m.End(), false)
	if !ok {
		p.anomaly(NegativeDuration, row, "network id %#x stops before it starts", uint64(data.ID))
	}
	p.emit(s)
}

func (p *pairer) loneNetworkStart(open Open) Span {
	s, ok := p.closed(KindNetworkStart, []int{open.Row}, open.Start, p.bounds.End, true)
	if !ok {
		p.anomaly(NegativeDuration, open.Row, "network start at %v follows the capture end %v", open.Start, p.bounds.End)
	}
	return s
}

func (p *pairer) stepScreenshot(row int, m core.RawMarker, data *core.ScreenshotPayload) {
	start := m.StartTime.Value
	if prev, ok := p.screenshots[data.WindowID]; ok {
		s, _ := p.closed(KindScreenshot, []int{prev}, p.table.StartTime[prev].Value, start, false)
		p.emit(s)
	}
	p.screenshots[data.WindowID] = row
}

// finish flushes everything still open, in row order.
func (p *pairer) finish() {
	for _, open := range p.opens.Drain() {
		s, ok := p.closed(KindDanglingStart, []int{open.Row}, open.Start, p.bounds.End, true)
		if !ok {
			p.anomaly(NegativeDuration, open.Row, "unmatched start at %v follows the capture end %v", open.Start, p.bounds.End)
		}
		p.leftovers = append(p.leftovers, s)
	}
	for _, open := range p.network.Drain() {
		p.leftovers = append(p.leftovers, p.loneNetworkStart(open))
	}
	for _, row := range p.screenshots {
		s, _ := p.closed(KindScreenshot, []int{row}, p.table.StartTime[row].Value, p.bounds.End, false)
		p.leftovers = append(p.leftovers, s)
	}

	sort.Slice(p.leftovers, func(i, j int) bool {
		return p.leftovers[i].Rows[0] < p.leftovers[j].Rows[0]
	})
	p.result.Spans = append(p.result.Spans, p.leftovers...)
}
