// Package profile runs marker derivation and range filtering over every
// thread of a profile.
package profile

import (
	"github.com/OCAP2/markers/internal/cache"
	"github.com/OCAP2/markers/pkg/core"
)

// Meta describes the whole capture.
type Meta struct {
	Product   string            `json:"product"`
	Version   int               `json:"version"`
	StartTime float64           `json:"startTime"` // unix epoch, ms
	Interval  core.Milliseconds `json:"interval"`
	// Categories names the Category column values of every thread.
	Categories []string `json:"categories,omitempty"`
	// Normalized is set once all thread times share the profile time base.
	Normalized bool `json:"normalized,omitempty"`
}

// Thread is one recorded thread and its raw markers. Times are relative to
// the start of the owning process until the profile is normalized.
type Thread struct {
	Name               string               `json:"name"`
	ProcessType        string               `json:"processType"`
	ProcessName        string               `json:"processName,omitempty"`
	Pid                int                  `json:"pid"`
	Tid                int                  `json:"tid"`
	ProcessStartupTime core.Milliseconds    `json:"processStartupTime"`
	CaptureStart       core.Milliseconds    `json:"captureStart"`
	CaptureEnd         core.Milliseconds    `json:"captureEnd"`
	Markers            *core.RawMarkerTable `json:"-"`
}

// Profile is a set of threads sharing one string table.
type Profile struct {
	Meta    Meta
	Strings *cache.StringTable
	Threads []*Thread
}

// Bounds returns the capture window of the thread.
func (t *Thread) Bounds() core.Range {
	return core.Range{Start: t.CaptureStart, End: t.CaptureEnd}
}

// WithMarkers returns a copy of the thread holding markers instead.
func (t *Thread) WithMarkers(markers *core.RawMarkerTable) *Thread {
	c := *t
	c.Markers = markers
	return &c
}

// New returns an empty profile with its own string table.
func New(meta Meta) *Profile {
	return &Profile{
		Meta:    meta,
		Strings: cache.NewStringTable(),
	}
}

// AddThread appends t and returns its index.
func (p *Profile) AddThread(t *Thread) int {
	if t.Markers == nil {
		t.Markers = core.NewRawMarkerTable(0)
	}
	p.Threads = append(p.Threads, t)
	return len(p.Threads) - 1
}

// ThreadResult is one thread with its derived markers, as handed to storage.
type ThreadResult struct {
	Meta    Meta
	Index   int
	Thread  *Thread
	Strings core.StringTable
	Info    *core.DerivedMarkerInfo
}

// Results pairs every thread of p with its entry in infos.
func Results(p *Profile, infos []*core.DerivedMarkerInfo) []ThreadResult {
	out := make([]ThreadResult, len(p.Threads))
	for i, t := range p.Threads {
		out[i] = ThreadResult{Meta: p.Meta, Index: i, Thread: t, Strings: p.Strings, Info: infos[i]}
	}
	return out
}
