package codec

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

// DerivedDocument is the export of derived markers for a whole profile.
type DerivedDocument struct {
	Meta    profile.Meta       `json:"meta"`
	Threads []DerivedThreadDoc `json:"threads"`
}

// DerivedThreadDoc lists the derived markers of one thread by start time.
type DerivedThreadDoc struct {
	Name        string             `json:"name"`
	ProcessType string             `json:"processType"`
	Pid         int                `json:"pid"`
	Tid         int                `json:"tid"`
	Markers     []DerivedMarkerDoc `json:"markers"`
}

// DerivedMarkerDoc is a derived marker with its payload encoded.
type DerivedMarkerDoc struct {
	core.DerivedMarker
	Data       json.RawMessage `json:"data"`
	RawIndexes []int           `json:"rawIndexes"`
}

// NewDerivedThread encodes the markers of info in start-time order.
func NewDerivedThread(t *profile.Thread, info *core.DerivedMarkerInfo) (DerivedThreadDoc, error) {
	doc := DerivedThreadDoc{
		Name:        t.Name,
		ProcessType: t.ProcessType,
		Pid:         t.Pid,
		Tid:         t.Tid,
		Markers:     make([]DerivedMarkerDoc, 0, info.Len()),
	}
	for _, i := range info.SortedIndexes() {
		m := info.Markers[i]
		data, err := core.MarshalDerived(m.Data)
		if err != nil {
			return doc, fmt.Errorf("error encoding marker %q: %w", m.Name, err)
		}
		doc.Markers = append(doc.Markers, DerivedMarkerDoc{
			DerivedMarker: m,
			Data:          data,
			RawIndexes:    info.RawIndexes[i],
		})
	}
	return doc, nil
}

// NewDerivedDocument encodes the derivation results of every thread of p.
// infos is indexed like p.Threads.
func NewDerivedDocument(p *profile.Profile, infos []*core.DerivedMarkerInfo) (*DerivedDocument, error) {
	doc := &DerivedDocument{Meta: p.Meta, Threads: make([]DerivedThreadDoc, 0, len(p.Threads))}
	for i, t := range p.Threads {
		td, err := NewDerivedThread(t, infos[i])
		if err != nil {
			return nil, err
		}
		doc.Threads = append(doc.Threads, td)
	}
	return doc, nil
}
