package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/spf13/cobra"

	"github.com/OCAP2/markers/internal/codec"
	"github.com/OCAP2/markers/pkg/core"
)

func newFilterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter [flags] profile.json",
		Short: "Reduce a profile to a time range",
		Long: `Filter keeps the raw rows of every thread that belong to markers overlapping [start, end)
and writes the reduced profile. --delete drops rows before filtering.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFilter(cmd, args[0])
		},
	}
	f := cmd.Flags()
	f.Float64("start", 0, "range start in ms")
	f.Float64("end", 0, "range end in ms (exclusive)")
	f.StringP("output", "o", "", "output profile file (.json, .msgpack, optionally .gz)")
	f.StringArray("delete", nil, "rows to delete as thread=rows, e.g. 0=3,5-7 (repeatable)")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runFilter(cmd *cobra.Command, path string) error {
	start, _ := cmd.Flags().GetFloat64("start")
	end, _ := cmd.Flags().GetFloat64("end")
	output, _ := cmd.Flags().GetString("output")
	del, _ := cmd.Flags().GetStringArray("delete")

	if end < start {
		return fmt.Errorf("range end %g is before start %g", end, start)
	}
	deletions, err := parseDeletions(del)
	if err != nil {
		return err
	}

	prof, err := codec.ReadFile(path)
	if err != nil {
		return err
	}
	a.profileName = profileName(path)

	p, err := a.pipeline()
	if err != nil {
		return err
	}
	rng := core.Range{Start: start, End: end}
	filtered, err := p.FilterAll(cmd.Context(), prof, rng, deletions)
	if err != nil {
		return err
	}

	if err := codec.WriteFile(output, filtered); err != nil {
		return fmt.Errorf("writing filtered profile: %w", err)
	}

	before, after := 0, 0
	for i, t := range filtered.Threads {
		before += prof.Threads[i].Markers.Len()
		after += t.Markers.Len()
	}
	a.logger.Info("Profile filtered", "path", output, "start", start, "end", end, "rowsBefore", before, "rowsAfter", after)
	fmt.Fprintf(a.out, "kept %s of %d rows in [%g, %g)\n", okColor.Sprint(after), before, start, end)
	return nil
}

// parseDeletions turns "thread=rows" arguments into per-thread bitmaps. rows is a
// comma-separated list of row indexes and inclusive ranges "a-b".
func parseDeletions(args []string) (map[int]*roaring.Bitmap, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[int]*roaring.Bitmap, len(args))
	for _, arg := range args {
		thread, rows, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid deletion %q: want thread=rows", arg)
		}
		ti, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || ti < 0 {
			return nil, fmt.Errorf("invalid thread index in %q", arg)
		}
		bm, ok := out[ti]
		if !ok {
			bm = roaring.New()
			out[ti] = bm
		}
		for _, part := range strings.Split(rows, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lo, hi, isRange := strings.Cut(part, "-")
			from, err := strconv.ParseUint(lo, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid row %q in %q", part, arg)
			}
			to := from
			if isRange {
				if to, err = strconv.ParseUint(hi, 10, 32); err != nil || to < from {
					return nil, fmt.Errorf("invalid row range %q in %q", part, arg)
				}
			}
			bm.AddRange(from, to+1)
		}
	}
	return out, nil
}
