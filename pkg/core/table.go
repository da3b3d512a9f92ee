// pkg/core/table.go
package core

import (
	"errors"
	"fmt"
)

// ErrStructuralViolation marks a row whose phase and time fields disagree.
var ErrStructuralViolation = errors.New("structural violation")

// StringIndex is a reference into a StringTable.
type StringIndex int

// StringTable interns marker names shared by all tables of a profile.
type StringTable interface {
	Intern(s string) StringIndex
	Resolve(i StringIndex) string
}

// RawMarker is one row of a RawMarkerTable.
type RawMarker struct {
	Name      StringIndex
	StartTime MaybeTime
	EndTime   MaybeTime
	Phase     Phase
	Category  int
	Data      Payload
}

// Validate checks that the time fields required by the phase are present.
func (m RawMarker) Validate() error {
	switch m.Phase {
	case PhaseInstant, PhaseIntervalStart:
		if !m.StartTime.Valid {
			return fmt.Errorf("%w: %s marker without start time", ErrStructuralViolation, m.Phase)
		}
	case PhaseInterval:
		if !m.StartTime.Valid || !m.EndTime.Valid {
			return fmt.Errorf("%w: Interval marker missing an endpoint", ErrStructuralViolation)
		}
	case PhaseIntervalEnd:
		if !m.EndTime.Valid {
			return fmt.Errorf("%w: IntervalEnd marker without end time", ErrStructuralViolation)
		}
	default:
		return fmt.Errorf("%w: unknown phase %d", ErrStructuralViolation, m.Phase)
	}
	return nil
}

// Start returns the earliest known time of the row.
func (m RawMarker) Start() Milliseconds {
	if m.StartTime.Valid {
		return m.StartTime.Value
	}
	return m.EndTime.Value
}

// End returns the latest known time of the row.
func (m RawMarker) End() Milliseconds {
	if m.EndTime.Valid {
		return m.EndTime.Value
	}
	return m.StartTime.Value
}

// RawMarkerTable is the columnar, append-only marker log of one thread.
// Row ids are positions and stay stable for the lifetime of the table.
type RawMarkerTable struct {
	Name      []StringIndex
	StartTime []MaybeTime
	EndTime   []MaybeTime
	Phase     []Phase
	Category  []int
	Data      []Payload
}

// NewRawMarkerTable creates an empty table with room for capacity rows.
func NewRawMarkerTable(capacity int) *RawMarkerTable {
	return &RawMarkerTable{
		Name:      make([]StringIndex, 0, capacity),
		StartTime: make([]MaybeTime, 0, capacity),
		EndTime:   make([]MaybeTime, 0, capacity),
		Phase:     make([]Phase, 0, capacity),
		Category:  make([]int, 0, capacity),
		Data:      make([]Payload, 0, capacity),
	}
}

// Len returns the number of rows.
func (t *RawMarkerTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Name)
}

// Append adds a row and returns its row id.
func (t *RawMarkerTable) Append(m RawMarker) int {
	t.Name = append(t.Name, m.Name)
	t.StartTime = append(t.StartTime, m.StartTime)
	t.EndTime = append(t.EndTime, m.EndTime)
	t.Phase = append(t.Phase, m.Phase)
	t.Category = append(t.Category, m.Category)
	t.Data = append(t.Data, m.Data)
	return len(t.Name) - 1
}

// Row returns row i.
func (t *RawMarkerTable) Row(i int) RawMarker {
	return RawMarker{
		Name:      t.Name[i],
		StartTime: t.StartTime[i],
		EndTime:   t.EndTime[i],
		Phase:     t.Phase[i],
		Category:  t.Category[i],
		Data:      t.Data[i],
	}
}

// Select returns a new table holding the given rows in the given order.
// Name indexes keep pointing into the same string table.
func (t *RawMarkerTable) Select(rows []int) *RawMarkerTable {
	out := NewRawMarkerTable(len(rows))
	for _, i := range rows {
		out.Append(t.Row(i))
	}
	return out
}

// Clone returns a copy of the table whose columns can be modified freely.
// Payloads are shared.
func (t *RawMarkerTable) Clone() *RawMarkerTable {
	return &RawMarkerTable{
		Name:      append([]StringIndex(nil), t.Name...),
		StartTime: append([]MaybeTime(nil), t.StartTime...),
		EndTime:   append([]MaybeTime(nil), t.EndTime...),
		Phase:     append([]Phase(nil), t.Phase...),
		Category:  append([]int(nil), t.Category...),
		Data:      append([]Payload(nil), t.Data...),
	}
}
