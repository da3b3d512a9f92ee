// Package deriver turns a raw marker table into duration-bearing markers.
package deriver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/markers/internal/matching"
	"github.com/OCAP2/markers/pkg/core"
)

// Deriver pairs raw rows and normalizes their payloads.
// It keeps no state between calls and is safe for concurrent use.
type Deriver struct {
	logger *slog.Logger

	// OTEL metrics
	anomalies  metric.Int64Counter
	derived    metric.Int64Counter
	incomplete metric.Int64Counter
}

// New creates a Deriver that reports anomalies to logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger *slog.Logger) (*Deriver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deriver{logger: logger}

	m := meter()

	var err error

	d.anomalies, err = m.Int64Counter(
		"markers.derive.anomalies",
		metric.WithDescription("Raw rows that were malformed, clamped or superseded"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating anomalies counter: %w", err)
	}

	d.derived, err = m.Int64Counter(
		"markers.derive.markers",
		metric.WithDescription("Total derived markers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating derived counter: %w", err)
	}

	d.incomplete, err = m.Int64Counter(
		"markers.derive.incomplete",
		metric.WithDescription("Derived markers with a synthesized start or end"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating incomplete counter: %w", err)
	}

	return d, nil
}

// Derive converts table into derived markers in emission order. Markers
// without an observed start begin at captureStart; markers without an
// observed end run until captureEnd.
func (d *Deriver) Derive(table *core.RawMarkerTable, strings core.StringTable, captureStart, captureEnd core.Milliseconds) *core.DerivedMarkerInfo {
	ctx := context.Background()
	res := matching.Pair(table, core.Range{Start: captureStart, End: captureEnd})

	for _, a := range res.Anomalies {
		d.logger.Warn("Marker anomaly",
			"kind", string(a.Kind),
			"row", a.Row,
			"name", strings.Resolve(table.Name[a.Row]),
			"detail", a.Detail)
		d.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(a.Kind))))
	}

	info := &core.DerivedMarkerInfo{
		Markers:    make([]core.DerivedMarker, 0, len(res.Spans)),
		RawIndexes: make([][]int, 0, len(res.Spans)),
	}
	incomplete := 0
	for _, span := range res.Spans {
		m := d.marker(table, strings, span)
		if m.Incomplete {
			incomplete++
		}
		info.Markers = append(info.Markers, m)
		info.RawIndexes = append(info.RawIndexes, span.Rows)
	}

	d.derived.Add(ctx, int64(len(info.Markers)))
	d.incomplete.Add(ctx, int64(incomplete))

	return info
}

func (d *Deriver) marker(table *core.RawMarkerTable, strings core.StringTable, span matching.Span) core.DerivedMarker {
	first := span.Rows[0]
	last := span.Rows[len(span.Rows)-1]

	m := core.DerivedMarker{
		Name:       strings.Resolve(table.Name[first]),
		Start:      span.Start,
		Dur:        span.End - span.Start,
		Category:   table.Category[first],
		Incomplete: span.Incomplete,
	}

	switch data := table.Data[first].(type) {
	case nil:
	case *core.NetworkPayload:
		if span.Kind == matching.KindNetworkPair {
			stop, _ := table.Data[last].(*core.NetworkPayload)
			m.Name = strings.Resolve(table.Name[last])
			m.Data = fuseNetwork(data, stop)
		} else {
			m.Data = &core.NetworkData{NetworkPayload: *data}
		}
	case *core.IPCPayload:
		m.Data = &core.IPCData{IPCPayload: *data}
		m.Title = ipcTitle(data)
		if data.StartTime.Valid && data.EndTime.Valid && data.EndTime.Value >= data.StartTime.Value {
			m.Start = data.StartTime.Value
			m.Dur = data.EndTime.Value - data.StartTime.Value
		}
	case *core.FileIOPayload:
		m.Data = fileIOData(data, span.Start)
	case *core.ScreenshotPayload:
		m.Data = &core.ScreenshotData{ScreenshotPayload: *data}
	case *core.GenericPayload:
		m.Data = &core.GenericData{Type: data.Type, Fields: data.Fields}
	}

	return m
}

// fuseNetwork merges the two halves of a request. The STOP side carries the
// final state; the START side contributes the start time and any timing the
// STOP row did not record.
func fuseNetwork(start, stop *core.NetworkPayload) *core.NetworkData {
	if stop == nil {
		return &core.NetworkData{NetworkPayload: *start}
	}
	fused := *stop
	fused.StartTime = start.StartTime
	fill := func(dst *core.Milliseconds, src core.Milliseconds) {
		if *dst == 0 {
			*dst = src
		}
	}
	fill(&fused.FetchStart, start.FetchStart)
	fill(&fused.DomainLookupStart, start.DomainLookupStart)
	fill(&fused.DomainLookupEnd, start.DomainLookupEnd)
	fill(&fused.ConnectStart, start.ConnectStart)
	fill(&fused.TCPConnectEnd, start.TCPConnectEnd)
	fill(&fused.SecureConnectionStart, start.SecureConnectionStart)
	fill(&fused.ConnectEnd, start.ConnectEnd)
	fill(&fused.RequestStart, start.RequestStart)
	fill(&fused.ResponseStart, start.ResponseStart)
	fill(&fused.ResponseEnd, start.ResponseEnd)
	return &core.NetworkData{NetworkPayload: fused}
}

func ipcTitle(p *core.IPCPayload) string {
	if p.Direction == core.IPCSending {
		return "IPC — sent to " + otherSide(p.RecvThreadName, p.OtherPid)
	}
	return "IPC — received from " + otherSide(p.SendThreadName, p.OtherPid)
}

func otherSide(threadName string, pid int) string {
	if threadName != "" {
		return threadName
	}
	return "process " + strconv.Itoa(pid)
}

func fileIOData(p *core.FileIOPayload, start core.Milliseconds) *core.FileIOData {
	data := &core.FileIOData{
		Operation: p.Operation,
		Source:    p.Source,
		Filename:  p.Filename,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
	}
	if p.Stack != nil {
		t := start
		if p.StackTime.Valid {
			t = p.StackTime.Value
		}
		data.Cause = &core.Cause{Stack: *p.Stack, Time: t}
	}
	return data
}
