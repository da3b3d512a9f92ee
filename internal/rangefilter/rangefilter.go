// Package rangefilter reduces a raw marker table to the rows needed to
// re-derive the markers of a time range.
package rangefilter

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/RoaringBitmap/roaring"

	"github.com/OCAP2/markers/pkg/core"
)

// Result is a compacted table plus the mapping back to the source rows.
type Result struct {
	Table *core.RawMarkerTable
	// Kept[i] is the source row id of row i in Table.
	Kept []int
}

// NewIndex returns the position of source row old in the reduced table.
func (r Result) NewIndex(old int) (int, bool) {
	lo, hi := 0, len(r.Kept)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if r.Kept[mid] < old {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(r.Kept) && r.Kept[lo] == old {
		return lo, true
	}
	return 0, false
}

// FilterToRange keeps every row of a derived marker that overlaps rng. info
// must be the derivation of table; interval pairs, unmatched rows and
// screenshots are judged by the span they were derived into, so rows of a
// marker crossing a boundary are kept together and uncut.
func FilterToRange(table *core.RawMarkerTable, info *core.DerivedMarkerInfo, rng core.Range) Result {
	kept := roaring.New()
	for i := 0; i < info.Len(); i++ {
		m := info.Markers[i]
		if !rng.Overlaps(m.Start, m.End()) {
			continue
		}
		for _, row := range info.RawIndexes[i] {
			kept.Add(rowID(row))
		}
	}
	return compact(table, kept)
}

// DeriveFunc derives a table over the capture window of its thread.
type DeriveFunc func(*core.RawMarkerTable) *core.DerivedMarkerInfo

// FilterToRangeWithDeletions drops the rows in deletions, derives what is left
// with derive and keeps the rows FilterToRange keeps for that derivation. Deleted
// rows take no part in pairing. A nil rng applies the deletions only and
// derive is not called.
func FilterToRangeWithDeletions(table *core.RawMarkerTable, deletions *roaring.Bitmap, rng *core.Range, derive DeriveFunc) Result {
	remaining := roaring.New()
	remaining.AddRange(0, uint64(rowID(table.Len())))
	if deletions != nil {
		remaining.AndNot(deletions)
	}
	base := compact(table, remaining)
	if rng == nil {
		return base
	}

	inner := FilterToRange(base.Table, derive(base.Table), *rng)
	kept := make([]int, len(inner.Kept))
	for i, row := range inner.Kept {
		kept[i] = base.Kept[row]
	}
	return Result{Table: inner.Table, Kept: kept}
}

func compact(table *core.RawMarkerTable, kept *roaring.Bitmap) Result {
	rows := make([]int, 0, kept.GetCardinality())
	it := kept.Iterator()
	for it.HasNext() {
		rows = append(rows, int(it.Next()))
	}
	return Result{Table: table.Select(rows), Kept: rows}
}

// rowID converts a row position to a bitmap member. Tables never approach
// 2^32 rows; a larger position is a programming error.
func rowID(row int) uint32 {
	id, err := safecast.Conv[uint32](row)
	if err != nil {
		panic(fmt.Sprintf("row %d does not fit a bitmap: %v", row, err))
	}
	return id
}
