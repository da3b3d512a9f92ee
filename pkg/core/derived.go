// pkg/core/derived.go
package core

import "sort"

// DerivedPayload is the closed set of normalized payloads attached to
// derived markers.
type DerivedPayload interface {
	PayloadType() string
	sealedDerived()
}

// NetworkData is a network request, fused from its START and STOP rows when
// both were recorded.
type NetworkData struct {
	NetworkPayload
}

// IPCData is one side of an IPC message.
type IPCData struct {
	IPCPayload
}

// Cause is the stack that triggered a marker and when it was captured.
type Cause struct {
	Stack int          `json:"stack"`
	Time  Milliseconds `json:"time"`
}

// FileIOData is a file operation whose stack reference became a Cause.
type FileIOData struct {
	Operation string       `json:"operation"`
	Source    string       `json:"source"`
	Filename  string       `json:"filename,omitempty"`
	StartTime Milliseconds `json:"startTime"`
	EndTime   Milliseconds `json:"endTime"`
	Cause     *Cause       `json:"cause,omitempty"`
}

// ScreenshotData is a compositor capture shown until the next one.
type ScreenshotData struct {
	ScreenshotPayload
}

// GenericData carries a payload kind without special handling.
type GenericData struct {
	Type   string
	Fields map[string]any
}

func (*NetworkData) PayloadType() string    { return TypeNetwork }
func (*IPCData) PayloadType() string        { return TypeIPC }
func (*FileIOData) PayloadType() string     { return TypeFileIO }
func (*ScreenshotData) PayloadType() string { return TypeCompositorScreenshot }
func (d *GenericData) PayloadType() string  { return d.Type }

func (*NetworkData) sealedDerived()    {}
func (*IPCData) sealedDerived()        {}
func (*FileIOData) sealedDerived()     {}
func (*ScreenshotData) sealedDerived() {}
func (*GenericData) sealedDerived()    {}

// DerivedMarker is one logical marker with a resolved start and duration.
// Incomplete markers had one end synthesized from the capture window.
type DerivedMarker struct {
	Name       string         `json:"name"`
	Start      Milliseconds   `json:"start"`
	Dur        Milliseconds   `json:"dur"`
	Category   int            `json:"category"`
	Data       DerivedPayload `json:"-"`
	Title      string         `json:"title,omitempty"`
	Incomplete bool           `json:"incomplete,omitempty"`
}

// End returns Start + Dur.
func (m DerivedMarker) End() Milliseconds {
	return m.Start + m.Dur
}

// DerivedMarkerInfo is the result of deriving one raw table. Markers are in
// emission order; RawIndexes[i] lists the raw rows marker i came from.
type DerivedMarkerInfo struct {
	Markers    []DerivedMarker
	RawIndexes [][]int
}

// Len returns the number of derived markers.
func (d *DerivedMarkerInfo) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Markers)
}

// SortedIndexes returns marker indexes ordered by start time. Markers with
// equal starts keep their emission order.
func (d *DerivedMarkerInfo) SortedIndexes() []int {
	indexes := make([]int, d.Len())
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		return d.Markers[indexes[a]].Start < d.Markers[indexes[b]].Start
	})
	return indexes
}

// Sorted returns the markers ordered like SortedIndexes.
func (d *DerivedMarkerInfo) Sorted() []DerivedMarker {
	out := make([]DerivedMarker, 0, d.Len())
	for _, i := range d.SortedIndexes() {
		out = append(out, d.Markers[i])
	}
	return out
}
