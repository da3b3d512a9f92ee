package profile

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/markers/internal/cache"
	"github.com/OCAP2/markers/internal/deriver"
	"github.com/OCAP2/markers/internal/ipc"
	"github.com/OCAP2/markers/internal/rangefilter"
	"github.com/OCAP2/markers/pkg/core"
)

// Pipeline derives and filters whole profiles, one goroutine per thread.
type Pipeline struct {
	logger  *slog.Logger
	deriver *deriver.Deriver
	cache   *cache.DerivedCache
	jobs    int
}

// NewPipeline creates a Pipeline running at most jobs threads at once.
// jobs <= 0 means GOMAXPROCS.
func NewPipeline(logger *slog.Logger, jobs int) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d, err := deriver.New(logger)
	if err != nil {
		return nil, fmt.Errorf("creating deriver: %w", err)
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		logger:  logger,
		deriver: d,
		cache:   cache.NewDerivedCache(),
		jobs:    jobs,
	}, nil
}

// Cache exposes the memo of derived results.
func (p *Pipeline) Cache() *cache.DerivedCache {
	return p.cache
}

// Normalize moves every thread onto the profile time base and joins IPC
// markers across threads. A profile that is already normalized is returned
// unchanged; otherwise the result is a new profile sharing the string table.
func (p *Pipeline) Normalize(prof *Profile) *Profile {
	if prof.Meta.Normalized {
		return prof
	}

	threads := make([]*Thread, len(prof.Threads))
	views := make([]ipc.Thread, len(prof.Threads))
	for i, t := range prof.Threads {
		threads[i] = ShiftTimes(t, t.ProcessStartupTime)
		views[i] = ipc.Thread{Pid: t.Pid, Tid: t.Tid, Name: t.Name, Markers: threads[i].Markers}
	}

	tables, conflicts := ipc.Correlate(views)
	for _, c := range conflicts {
		p.logger.Warn("IPC slot claimed twice, keeping the later row",
			"thread", prof.Threads[c.Thread].Name,
			"row", c.Row,
			"slot", c.Slot.String(),
			"seqno", c.Key.Seqno,
			"messageType", c.Key.MessageType)
	}
	for i := range threads {
		threads[i].Markers = tables[i]
	}

	meta := prof.Meta
	meta.Normalized = true
	return &Profile{Meta: meta, Strings: prof.Strings, Threads: threads}
}

// DeriveAll derives every thread of a normalized copy of prof. Results are
// indexed like the threads and memoized per table.
func (p *Pipeline) DeriveAll(ctx context.Context, prof *Profile) (*Profile, []*core.DerivedMarkerInfo, error) {
	prof = p.Normalize(prof)
	results := make([]*core.DerivedMarkerInfo, len(prof.Threads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(p.jobs, len(prof.Threads))))

	for i, t := range prof.Threads {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			// index i is unique per goroutine
			results[i] = p.derive(t, prof.Strings)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("deriving threads: %w", err)
	}
	return prof, results, nil
}

func (p *Pipeline) derive(t *Thread, strings core.StringTable) *core.DerivedMarkerInfo {
	capture := t.Bounds()
	if info, ok := p.cache.Get(t.Markers, capture); ok {
		return info
	}
	info := p.deriver.Derive(t.Markers, strings, t.CaptureStart, t.CaptureEnd)
	p.cache.Set(t.Markers, capture, info)
	p.logger.Debug("Derived thread markers",
		"thread", t.Name,
		"pid", t.Pid,
		"raw", t.Markers.Len(),
		"derived", info.Len())
	return info
}

// FilterAll reduces every thread of a normalized copy of prof to rng.
// Threads with an entry in deletions drop those rows first. The result shares
// the string table of prof.
func (p *Pipeline) FilterAll(ctx context.Context, prof *Profile, rng core.Range, deletions map[int]*roaring.Bitmap) (*Profile, error) {
	prof, infos, err := p.DeriveAll(ctx, prof)
	if err != nil {
		return nil, err
	}

	threads := make([]*Thread, len(prof.Threads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(p.jobs, len(prof.Threads))))

	for i, t := range prof.Threads {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			var res rangefilter.Result
			if del, ok := deletions[i]; ok && del != nil {
				res = rangefilter.FilterToRangeWithDeletions(t.Markers, del, &rng, func(reduced *core.RawMarkerTable) *core.DerivedMarkerInfo {
					return p.deriver.Derive(reduced, prof.Strings, t.CaptureStart, t.CaptureEnd)
				})
			} else {
				res = rangefilter.FilterToRange(t.Markers, infos[i], rng)
			}
			threads[i] = t.WithMarkers(res.Table)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("filtering threads: %w", err)
	}
	return &Profile{Meta: prof.Meta, Strings: prof.Strings, Threads: threads}, nil
}
