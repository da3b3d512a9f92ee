// Package codec reads and writes profile files.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/markers/internal/cache"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

// Document is the on-disk shape of a profile, shared by the JSON and
// msgpack encodings.
type Document struct {
	Meta    profile.Meta `json:"meta"`
	Strings []string     `json:"strings"`
	Threads []ThreadDoc  `json:"threads"`
}

// ThreadDoc is a thread with its columnar marker table.
type ThreadDoc struct {
	profile.Thread
	Markers MarkersDoc `json:"markers"`
}

// MarkersDoc holds the raw marker columns. Absent times are null and
// payloads are JSON objects with a "type" field.
type MarkersDoc struct {
	Name      []core.StringIndex `json:"name"`
	StartTime []*float64         `json:"startTime"`
	EndTime   []*float64         `json:"endTime"`
	Phase     []int              `json:"phase"`
	Category  []int              `json:"category"`
	Data      []json.RawMessage  `json:"data"`
	Length    int                `json:"length"`
}

// FromProfile builds the document for p.
func FromProfile(p *profile.Profile) (*Document, error) {
	doc := &Document{
		Meta:    p.Meta,
		Strings: p.Strings.Strings(),
		Threads: make([]ThreadDoc, 0, len(p.Threads)),
	}
	for _, t := range p.Threads {
		markers, err := fromTable(t.Markers)
		if err != nil {
			return nil, fmt.Errorf("error encoding markers of thread %q: %w", t.Name, err)
		}
		td := ThreadDoc{Thread: *t, Markers: markers}
		td.Thread.Markers = nil
		doc.Threads = append(doc.Threads, td)
	}
	return doc, nil
}

func fromTable(t *core.RawMarkerTable) (MarkersDoc, error) {
	n := t.Len()
	doc := MarkersDoc{
		Name:      make([]core.StringIndex, n),
		StartTime: make([]*float64, n),
		EndTime:   make([]*float64, n),
		Phase:     make([]int, n),
		Category:  make([]int, n),
		Data:      make([]json.RawMessage, n),
		Length:    n,
	}
	for i := 0; i < n; i++ {
		doc.Name[i] = t.Name[i]
		doc.StartTime[i] = t.StartTime[i].Ptr()
		doc.EndTime[i] = t.EndTime[i].Ptr()
		doc.Phase[i] = int(t.Phase[i])
		doc.Category[i] = t.Category[i]
		data, err := core.MarshalPayload(t.Data[i])
		if err != nil {
			return doc, fmt.Errorf("row %d: %w", i, err)
		}
		doc.Data[i] = data
	}
	return doc, nil
}

// ToProfile rebuilds a profile from doc.
func (doc *Document) ToProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Meta:    doc.Meta,
		Strings: cache.NewStringTableFrom(doc.Strings),
		Threads: make([]*profile.Thread, 0, len(doc.Threads)),
	}
	for i := range doc.Threads {
		td := &doc.Threads[i]
		table, err := td.Markers.toTable(len(doc.Strings))
		if err != nil {
			return nil, fmt.Errorf("error decoding markers of thread %q: %w", td.Name, err)
		}
		t := td.Thread
		t.Markers = table
		p.Threads = append(p.Threads, &t)
	}
	return p, nil
}

func (m *MarkersDoc) toTable(strings int) (*core.RawMarkerTable, error) {
	n := len(m.Name)
	if len(m.StartTime) != n || len(m.EndTime) != n || len(m.Phase) != n || len(m.Category) != n {
		return nil, fmt.Errorf("marker columns have different lengths")
	}
	if len(m.Data) != 0 && len(m.Data) != n {
		return nil, fmt.Errorf("data column has %d rows, expected %d", len(m.Data), n)
	}

	table := core.NewRawMarkerTable(n)
	for i := 0; i < n; i++ {
		if m.Name[i] < 0 || int(m.Name[i]) >= strings {
			return nil, fmt.Errorf("row %d: name index %d outside string table", i, m.Name[i])
		}
		if m.Phase[i] < 0 || m.Phase[i] > int(core.PhaseIntervalEnd) {
			return nil, fmt.Errorf("row %d: unknown phase %d", i, m.Phase[i])
		}
		var data core.Payload
		if len(m.Data) != 0 {
			var err error
			if data, err = core.UnmarshalPayload(m.Data[i]); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		}
		table.Append(core.RawMarker{
			Name:      m.Name[i],
			StartTime: core.TimeFromPtr(m.StartTime[i]),
			EndTime:   core.TimeFromPtr(m.EndTime[i]),
			Phase:     core.Phase(m.Phase[i]),
			Category:  m.Category[i],
			Data:      data,
		})
	}
	return table, nil
}
