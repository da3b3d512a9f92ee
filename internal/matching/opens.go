package matching

import (
	"sort"

	"github.com/OCAP2/markers/pkg/core"
)

// Open is a start row still waiting for its end.
type Open struct {
	Row   int
	Start core.Milliseconds
}

// Opens holds the pending starts of each marker name, most recent last.
// Names never close each other's intervals.
type Opens map[core.StringIndex][]Open

// Push records a new pending start for name.
func (o Opens) Push(name core.StringIndex, open Open) {
	o[name] = append(o[name], open)
}

// Pop removes and returns the most recent pending start for name.
func (o Opens) Pop(name core.StringIndex) (Open, bool) {
	stack := o[name]
	if len(stack) == 0 {
		return Open{}, false
	}
	open := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(o, name)
	} else {
		o[name] = stack[:len(stack)-1]
	}
	return open, true
}

// Drain empties the map and returns every pending start in row order.
func (o Opens) Drain() []Open {
	var all []Open
	for name, stack := range o {
		all = append(all, stack...)
		delete(o, name)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Row < all[j].Row })
	return all
}

// NetworkOpens holds pending network starts. Rows correlate only when their
// composite ids are equal; the marker name plays no part.
type NetworkOpens map[core.NetworkID]Open

// Supersede records open for id and returns the start it replaced, if any.
func (n NetworkOpens) Supersede(id core.NetworkID, open Open) (Open, bool) {
	prev, ok := n[id]
	n[id] = open
	return prev, ok
}

// Take removes and returns the pending start for id.
func (n NetworkOpens) Take(id core.NetworkID) (Open, bool) {
	open, ok := n[id]
	if ok {
		delete(n, id)
	}
	return open, ok
}

// Drain empties the map and returns every pending start in row order.
func (n NetworkOpens) Drain() []Open {
	all := make([]Open, 0, len(n))
	for id, open := range n {
		all = append(all, open)
		delete(n, id)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Row < all[j].Row })
	return all
}
