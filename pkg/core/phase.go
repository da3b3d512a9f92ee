// pkg/core/phase.go
package core

import (
	"fmt"
	"strings"
)

// Phase is the temporal shape of a raw marker row.
type Phase uint8

const (
	PhaseInstant Phase = iota
	PhaseInterval
	PhaseIntervalStart
	PhaseIntervalEnd
)

var phaseNames = [...]string{
	PhaseInstant:       "Instant",
	PhaseInterval:      "Interval",
	PhaseIntervalStart: "IntervalStart",
	PhaseIntervalEnd:   "IntervalEnd",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// ParsePhase accepts the phase names produced by String, case-insensitively.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if strings.EqualFold(name, s) {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown marker phase %q", s)
}
