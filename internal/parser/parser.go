// Package parser converts Trace Event Format files into raw marker tables.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

// TracingType is the payload type given to imported trace events.
const TracingType = "tracing"

// Event is one Trace Event Format record. Timestamps are microseconds.
type Event struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat"`
	Phase     string         `json:"ph"`
	Timestamp float64        `json:"ts"`
	Duration  float64        `json:"dur"`
	Pid       numericID      `json:"pid"`
	Tid       numericID      `json:"tid"`
	Args      map[string]any `json:"args"`
}

type traceFile struct {
	TraceEvents     []Event `json:"traceEvents"`
	DisplayTimeUnit string  `json:"displayTimeUnit"`
}

// numericID accepts ids written as numbers ("32", "32.0") or numeric strings.
type numericID int

func (n *numericID) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := parseIntFromFloat(s)
	if err != nil {
		return err
	}
	*n = numericID(v)
	return nil
}

// parseIntFromFloat parses a string that may be an integer ("32") or float ("32.00") into int64.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// Parser provides pure trace file -> profile conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ReadEvents decodes either the JSON array form or the object form with a
// traceEvents field.
func ReadEvents(r io.Reader) ([]Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading trace: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty trace")
	}

	if data[0] == '[' {
		// the array form may be left unterminated by a crashed writer
		if data[len(data)-1] != ']' {
			data = append(bytes.TrimRight(data, ", \n\r\t"), ']')
		}
		var events []Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("error unmarshalling trace events: %w", err)
		}
		return events, nil
	}

	var f traceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error unmarshalling trace file: %w", err)
	}
	return f.TraceEvents, nil
}

type threadKey struct {
	pid, tid int
}

type threadBuilder struct {
	thread *profile.Thread
	events []Event
}

// ParseTrace builds one thread per (pid, tid). B and E events become
// IntervalStart and IntervalEnd rows, X events become Interval rows and
// instant-like events become Instant rows. Metadata events name threads and
// processes; every other phase is skipped.
func (p *Parser) ParseTrace(r io.Reader) (*profile.Profile, error) {
	events, err := ReadEvents(r)
	if err != nil {
		return nil, err
	}

	prof := profile.New(profile.Meta{Product: "trace", Version: 1, Interval: 1})
	categories := map[string]int{}
	threads := map[threadKey]*threadBuilder{}
	var order []threadKey

	threadFor := func(e Event) *threadBuilder {
		key := threadKey{int(e.Pid), int(e.Tid)}
		b, ok := threads[key]
		if !ok {
			b = &threadBuilder{thread: &profile.Thread{
				Name:         "Thread " + strconv.Itoa(key.tid),
				ProcessType:  "default",
				Pid:          key.pid,
				Tid:          key.tid,
				CaptureStart: math.Inf(1),
				CaptureEnd:   math.Inf(-1),
			}}
			threads[key] = b
			order = append(order, key)
		}
		return b
	}

	skipped := map[string]int{}
	for _, e := range events {
		switch e.Phase {
		case "M":
			b := threadFor(e)
			name, _ := e.Args["name"].(string)
			switch e.Name {
			case "thread_name":
				if name != "" {
					b.thread.Name = name
				}
			case "process_name":
				b.thread.ProcessName = name
			}
		case "B", "E", "X", "i", "I", "R", "n":
			b := threadFor(e)
			b.events = append(b.events, e)
		default:
			skipped[e.Phase]++
		}
	}
	for phase, n := range skipped {
		p.logger.Debug("Skipped unsupported trace events", "phase", phase, "count", n)
	}

	for _, key := range order {
		b := threads[key]
		if len(b.events) == 0 {
			continue
		}
		b.thread.Markers = p.buildTable(b, prof, categories)
		prof.AddThread(b.thread)
	}

	prof.Meta.Categories = make([]string, len(categories))
	for name, i := range categories {
		prof.Meta.Categories[i] = name
	}

	p.logger.Info("Parsed trace",
		"events", len(events),
		"threads", len(prof.Threads))
	return prof, nil
}

func (p *Parser) buildTable(b *threadBuilder, prof *profile.Profile, categories map[string]int) *core.RawMarkerTable {
	sort.SliceStable(b.events, func(i, j int) bool {
		return b.events[i].Timestamp < b.events[j].Timestamp
	})

	table := core.NewRawMarkerTable(len(b.events))
	var open []string // names of unclosed B events, for nameless E events

	for _, e := range b.events {
		ts := e.Timestamp / 1000
		row := core.RawMarker{
			Category: categoryIndex(categories, e.Category),
			Data:     payload(e),
		}
		end := ts

		switch e.Phase {
		case "B":
			row.Phase = core.PhaseIntervalStart
			row.StartTime = core.Time(ts)
			open = append(open, e.Name)
		case "E":
			row.Phase = core.PhaseIntervalEnd
			row.EndTime = core.Time(ts)
			if e.Name == "" && len(open) > 0 {
				e.Name = open[len(open)-1]
			}
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == e.Name {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		case "X":
			row.Phase = core.PhaseInterval
			row.StartTime = core.Time(ts)
			end = (e.Timestamp + e.Duration) / 1000
			row.EndTime = core.Time(end)
		default:
			row.Phase = core.PhaseInstant
			row.StartTime = core.Time(ts)
		}
		row.Name = prof.Strings.Intern(e.Name)

		b.thread.CaptureStart = math.Min(b.thread.CaptureStart, ts)
		b.thread.CaptureEnd = math.Max(b.thread.CaptureEnd, end)
		table.Append(row)
	}

	return table
}

func categoryIndex(categories map[string]int, name string) int {
	if i, ok := categories[name]; ok {
		return i
	}
	i := len(categories)
	categories[name] = i
	return i
}

func payload(e Event) core.Payload {
	fields := map[string]any{"category": e.Category}
	if len(e.Args) > 0 {
		fields["args"] = e.Args
	}
	return &core.GenericPayload{Type: TracingType, Fields: fields}
}
