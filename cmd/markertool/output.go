package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	otelprov "github.com/OCAP2/markers/internal/otel"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

var (
	headerColor     = color.New(color.Bold)
	incompleteColor = color.New(color.FgYellow)
	okColor         = color.New(color.FgGreen)
)

// printSummary writes one line per thread: raw rows, derived markers and
// how many of them had an end synthesized.
func printSummary(w io.Writer, prof *profile.Profile, infos []*core.DerivedMarkerInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headerColor.Fprintln(tw, "THREAD\tPID\tTID\tRAW\tDERIVED\tINCOMPLETE")
	for i, t := range prof.Threads {
		info := infos[i]
		incomplete := 0
		for _, m := range info.Markers {
			if m.Incomplete {
				incomplete++
			}
		}
		c := okColor
		if incomplete > 0 {
			c = incompleteColor
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			t.Name, t.Pid, t.Tid, t.Markers.Len(), info.Len(), c.Sprint(incomplete))
	}
	tw.Flush()
}

// printMarkers lists the derived markers of every thread by start time.
func printMarkers(w io.Writer, prof *profile.Profile, infos []*core.DerivedMarkerInfo) {
	for i, t := range prof.Threads {
		headerColor.Fprintf(w, "%s (%d:%d)\n", t.Name, t.Pid, t.Tid)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, m := range infos[i].Sorted() {
			line := fmt.Sprintf("  %.3f\t%.3f\t%s\t%s", m.Start, m.Dur, m.Name, m.Title)
			if m.Incomplete {
				line = incompleteColor.Sprint(line + "\t(incomplete)")
			}
			fmt.Fprintln(tw, line)
		}
		tw.Flush()
	}
}

func printStats(w io.Writer, stats []otelprov.Stat) {
	headerColor.Fprintln(w, "METRICS")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range stats {
		fmt.Fprintf(tw, "  %s\t%g\n", s.Name, s.Value)
	}
	tw.Flush()
}
