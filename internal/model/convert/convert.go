package convert

import (
	"database/sql"
	"fmt"
	"sort"

	"fortio.org/safecast"

	"github.com/OCAP2/markers/internal/model"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

// nullToMaybeTime converts a nullable column value to a core.MaybeTime
func nullToMaybeTime(v sql.NullFloat64) core.MaybeTime {
	if !v.Valid {
		return core.NoTime
	}
	return core.Time(v.Float64)
}

// ThreadToCore converts a GORM Thread to a profile thread without markers.
func ThreadToCore(t model.Thread) *profile.Thread {
	return &profile.Thread{
		Name:               t.Name,
		ProcessType:        t.ProcessType,
		ProcessName:        t.ProcessName,
		Pid:                t.Pid,
		Tid:                t.Tid,
		ProcessStartupTime: t.ProcessStartupTime,
		CaptureStart:       t.CaptureStart,
		CaptureEnd:         t.CaptureEnd,
	}
}

// RawMarkerToCore converts a GORM RawMarker to a core row, interning the
// name into strings.
func RawMarkerToCore(m model.RawMarker, strings core.StringTable) (core.RawMarker, error) {
	if m.Phase > uint8(core.PhaseIntervalEnd) {
		return core.RawMarker{}, fmt.Errorf("row %d: unknown phase %d", m.Row, m.Phase)
	}
	data, err := core.UnmarshalPayload(m.Payload)
	if err != nil {
		return core.RawMarker{}, fmt.Errorf("row %d: %w", m.Row, err)
	}
	return core.RawMarker{
		Name:      strings.Intern(m.Name),
		StartTime: nullToMaybeTime(m.StartTime),
		EndTime:   nullToMaybeTime(m.EndTime),
		Phase:     core.Phase(m.Phase),
		Category:  m.Category,
		Data:      data,
	}, nil
}

// RawTableToCore rebuilds a raw table from stored rows. Rows are placed by
// their Row column, which must form the sequence 0..n-1.
func RawTableToCore(rows []model.RawMarker, strings core.StringTable) (*core.RawMarkerTable, error) {
	sorted := make([]model.RawMarker, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Row < sorted[j].Row })

	table := core.NewRawMarkerTable(len(sorted))
	for i, r := range sorted {
		want, err := safecast.Conv[uint32](i)
		if err != nil {
			return nil, err
		}
		if r.Row != want {
			return nil, fmt.Errorf("missing raw row %d", want)
		}
		m, err := RawMarkerToCore(r, strings)
		if err != nil {
			return nil, err
		}
		table.Append(m)
	}
	return table, nil
}
