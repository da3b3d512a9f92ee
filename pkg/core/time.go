// pkg/core/time.go
package core

import (
	"bytes"
	"encoding/json"
)

// Milliseconds is a timestamp or duration relative to the profile start.
type Milliseconds = float64

// MaybeTime is a timestamp column value that may be absent.
type MaybeTime struct {
	Value Milliseconds
	Valid bool
}

// NoTime is the absent timestamp.
var NoTime = MaybeTime{}

// Time wraps a present timestamp.
func Time(v Milliseconds) MaybeTime {
	return MaybeTime{Value: v, Valid: true}
}

// Ptr returns the timestamp as a pointer, nil when absent.
func (t MaybeTime) Ptr() *Milliseconds {
	if !t.Valid {
		return nil
	}
	v := t.Value
	return &v
}

// TimeFromPtr is the inverse of Ptr.
func TimeFromPtr(p *Milliseconds) MaybeTime {
	if p == nil {
		return NoTime
	}
	return Time(*p)
}

// Add shifts a present timestamp by offset. Absent timestamps stay absent.
func (t MaybeTime) Add(offset Milliseconds) MaybeTime {
	if !t.Valid {
		return t
	}
	return Time(t.Value + offset)
}

// MarshalJSON encodes an absent timestamp as null.
func (t MaybeTime) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value)
}

// UnmarshalJSON accepts a number or null.
func (t *MaybeTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = NoTime
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Time(v)
	return nil
}

// Range is a half-open time window [Start, End).
type Range struct {
	Start Milliseconds `json:"start"`
	End   Milliseconds `json:"end"`
}

// Contains reports whether t lies in [Start, End).
func (r Range) Contains(t Milliseconds) bool {
	return t >= r.Start && t < r.End
}

// Overlaps reports whether the span [start, end] intersects the range.
// Zero-length spans behave like instants.
func (r Range) Overlaps(start, end Milliseconds) bool {
	if start == end {
		return r.Contains(start)
	}
	return start < r.End && end > r.Start
}
