// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"fortio.org/safecast"
	"gorm.io/datatypes"

	"github.com/OCAP2/markers/internal/model"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

// maybeTimeToNull converts a core.MaybeTime to a nullable column value
func maybeTimeToNull(t core.MaybeTime) sql.NullFloat64 {
	return sql.NullFloat64{Float64: t.Value, Valid: t.Valid}
}

// indexesToJSON converts raw row indexes to datatypes.JSON for DB storage.
func indexesToJSON(rows []int) datatypes.JSON {
	if len(rows) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(rows)
	return datatypes.JSON(data)
}

// ThreadToGorm converts a profile thread to a GORM model.Thread.
func ThreadToGorm(profileName string, index int, t *profile.Thread) model.Thread {
	return model.Thread{
		Profile:            profileName,
		ThreadIndex:        index,
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

// RawMarkerToGorm converts row of table to a GORM model.RawMarker. The
// name is resolved so stored rows do not depend on a string table.
func RawMarkerToGorm(table *core.RawMarkerTable, row int, strings core.StringTable) (model.RawMarker, error) {
	id, err := safecast.Conv[uint32](row)
	if err != nil {
		return model.RawMarker{}, fmt.Errorf("row %d: %w", row, err)
	}
	m := table.Row(row)

	payload, err := core.MarshalPayload(m.Data)
	if err != nil {
		return model.RawMarker{}, fmt.Errorf("row %d: %w", row, err)
	}
	var payloadType string
	if m.Data != nil {
		payloadType = m.Data.PayloadType()
	}

	return model.RawMarker{
		Row:         id,
		Name:        strings.Resolve(m.Name),
		StartTime:   maybeTimeToNull(m.StartTime),
		EndTime:     maybeTimeToNull(m.EndTime),
		Phase:       uint8(m.Phase),
		Category:    m.Category,
		PayloadType: payloadType,
		Payload:     datatypes.JSON(payload),
	}, nil
}

// RawTableToGorm converts every row of table.
func RawTableToGorm(table *core.RawMarkerTable, strings core.StringTable) ([]model.RawMarker, error) {
	out := make([]model.RawMarker, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		m, err := RawMarkerToGorm(table, i, strings)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DerivedMarkerToGorm converts a derived marker and its source rows to a
// GORM model.DerivedMarker.
func DerivedMarkerToGorm(m core.DerivedMarker, rawIndexes []int) (model.DerivedMarker, error) {
	payload, err := core.MarshalDerived(m.Data)
	if err != nil {
		return model.DerivedMarker{}, fmt.Errorf("marker %q: %w", m.Name, err)
	}
	var payloadType string
	if m.Data != nil {
		payloadType = m.Data.PayloadType()
	}

	return model.DerivedMarker{
		Name:        m.Name,
		Start:       m.Start,
		Duration:    m.Dur,
		Category:    m.Category,
		Title:       m.Title,
		Incomplete:  m.Incomplete,
		PayloadType: payloadType,
		Payload:     datatypes.JSON(payload),
		RawIndexes:  indexesToJSON(rawIndexes),
	}, nil
}

// DerivedInfoToGorm converts every marker of info in start-time order.
func DerivedInfoToGorm(info *core.DerivedMarkerInfo) ([]model.DerivedMarker, error) {
	out := make([]model.DerivedMarker, 0, info.Len())
	for _, i := range info.SortedIndexes() {
		m, err := DerivedMarkerToGorm(info.Markers[i], info.RawIndexes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
