// Package fixture builds raw marker tables for tests.
package fixture

import (
	"github.com/OCAP2/markers/internal/cache"
	"github.com/OCAP2/markers/pkg/core"
)

// Builder appends rows to a table, interning names as it goes.
type Builder struct {
	Strings *cache.StringTable
	Table   *core.RawMarkerTable
}

// New returns an empty builder with its own string table.
func New() *Builder {
	return &Builder{
		Strings: cache.NewStringTable(),
		Table:   core.NewRawMarkerTable(16),
	}
}

// Row appends a raw row and returns the builder.
func (b *Builder) Row(name string, start, end core.MaybeTime, phase core.Phase, data core.Payload) *Builder {
	b.Table.Append(core.RawMarker{
		Name:      b.Strings.Intern(name),
		StartTime: start,
		EndTime:   end,
		Phase:     phase,
		Data:      data,
	})
	return b
}

func (b *Builder) Instant(name string, t core.Milliseconds) *Builder {
	return b.Row(name, core.Time(t), core.NoTime, core.PhaseInstant, nil)
}

func (b *Builder) Interval(name string, start, end core.Milliseconds) *Builder {
	return b.Row(name, core.Time(start), core.Time(end), core.PhaseInterval, nil)
}

func (b *Builder) Start(name string, t core.Milliseconds) *Builder {
	return b.Row(name, core.Time(t), core.NoTime, core.PhaseIntervalStart, nil)
}

func (b *Builder) End(name string, t core.Milliseconds) *Builder {
	return b.Row(name, core.NoTime, core.Time(t), core.PhaseIntervalEnd, nil)
}

// Screenshot appends an instant CompositorScreenshot row for window.
func (b *Builder) Screenshot(t core.Milliseconds, window string) *Builder {
	return b.Row("CompositorScreenshot", core.Time(t), core.NoTime, core.PhaseInstant, &core.ScreenshotPayload{
		URL:          b.Strings.Intern("data:image/jpg;base64,"),
		WindowID:     window,
		WindowWidth:  300,
		WindowHeight: 150,
	})
}

// Network appends an interval network row. The payload carries the row times.
func (b *Builder) Network(name string, start, end core.Milliseconds, id core.NetworkID, status core.NetworkStatus) *Builder {
	return b.Row(name, core.Time(start), core.Time(end), core.PhaseInterval, &core.NetworkPayload{
		ID:        id,
		Status:    status,
		URI:       "https://example.com",
		StartTime: start,
		EndTime:   end,
	})
}

// Names resolves the name column of table.
func (b *Builder) Names(table *core.RawMarkerTable) []string {
	names := make([]string, 0, table.Len())
	for _, n := range table.Name {
		names = append(names, b.Strings.Resolve(n))
	}
	return names
}
