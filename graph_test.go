package xlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coord(row, col uint32) Coord {
	return Coord{Sheet: 1, Row: row, Col: col}
}

func layerIndex(t *testing.T, plan RecalcPlan, addr Coord) int {
	t.Helper()
	for i, layer := range plan.Layers {
		for _, c := range layer {
			if c == addr {
				return i
			}
		}
	}
	t.Fatalf("%s not in any layer", addr)
	return -1
}

func TestGraphEdgeDiffing(t *testing.T) {
	g := NewDependencyGraph()
	a1, b1, c1, d1 := coord(0, 0), coord(0, 1), coord(0, 2), coord(0, 3)

	g.SetRefs(a1, RefSet{Cells: []Coord{b1, c1}})
	cells, _ := g.Precedents(a1)
	assert.Len(t, cells, 2)

	// re-set with one edge kept, one dropped, one added
	g.SetRefs(a1, RefSet{Cells: []Coord{c1, d1}})
	cells, _ = g.Precedents(a1)
	assert.ElementsMatch(t, []Coord{c1, d1}, cells)
	assert.Empty(t, g.DirectDependents(b1), "stale edge survived the diff")

	// dropping the formula cleans up nodes nothing points at
	g.ClearRefs(a1)
	assert.Equal(t, 0, g.NodeCount())
}

func TestGraphRangeObservers(t *testing.T) {
	g := NewDependencyGraph()
	sum := coord(0, 5)
	observed := RangeAddress{Sheet: 1, StartRow: 0, StartCol: 0, EndRow: 9, EndCol: 0}
	g.SetRefs(sum, RefSet{Ranges: []RangeAddress{observed}})
	assert.Equal(t, 1, g.RangeObserverCount())

	// a write inside the range wakes the observer
	assert.Contains(t, g.DirectDependents(coord(4, 0)), sum)
	assert.NotContains(t, g.DirectDependents(coord(4, 1)), sum)

	g.ClearRefs(sum)
	assert.Equal(t, 0, g.RangeObserverCount())
}

func TestGraphPlanLayering(t *testing.T) {
	g := NewDependencyGraph()
	a, b, c, d := coord(0, 0), coord(0, 1), coord(0, 2), coord(0, 3)
	// b reads a, c reads b, d reads a: layers must respect depth
	g.SetRefs(b, RefSet{Cells: []Coord{a}})
	g.SetRefs(c, RefSet{Cells: []Coord{b}})
	g.SetRefs(d, RefSet{Cells: []Coord{a}})

	g.MarkDirty(a)
	plan := g.Plan()
	assert.Empty(t, plan.Cyclic)
	assert.Equal(t, 3, plan.Total(), "a is not a formula, only b, c, d evaluate")
	assert.Less(t, layerIndex(t, plan, b), layerIndex(t, plan, c))
	require.False(t, g.HasDirty(), "plan must consume the dirty set")
}

func TestGraphPlanScopedToDirtyClosure(t *testing.T) {
	g := NewDependencyGraph()
	a, b := coord(0, 0), coord(0, 1)
	x, y := coord(5, 0), coord(5, 1)
	g.SetRefs(b, RefSet{Cells: []Coord{a}})
	g.SetRefs(y, RefSet{Cells: []Coord{x}})

	g.MarkDirty(a)
	plan := g.Plan()
	assert.Equal(t, 1, plan.Total(), "unrelated subgraph must not be scheduled")
}

func TestGraphPlanCycle(t *testing.T) {
	g := NewDependencyGraph()
	a, b, c := coord(0, 0), coord(0, 1), coord(0, 2)
	g.SetRefs(a, RefSet{Cells: []Coord{b}})
	g.SetRefs(b, RefSet{Cells: []Coord{a}})
	g.SetRefs(c, RefSet{Cells: []Coord{b}}) // downstream of the cycle

	g.MarkDirty(a)
	plan := g.Plan()
	assert.Contains(t, plan.Cyclic, a)
	assert.Contains(t, plan.Cyclic, b)
	assert.NotContains(t, plan.Cyclic, c, "downstream cells are layered, not cyclic")
	assert.Equal(t, 0, layerIndex(t, plan, c))
}

func TestGraphPlanSelfLoop(t *testing.T) {
	g := NewDependencyGraph()
	a := coord(0, 0)
	g.SetRefs(a, RefSet{Cells: []Coord{a}})
	g.MarkDirty(a)
	plan := g.Plan()
	assert.Contains(t, plan.Cyclic, a)
	assert.Empty(t, plan.Layers)
}

func TestGraphPlanCycleThroughRange(t *testing.T) {
	g := NewDependencyGraph()
	inside := coord(1, 0) // a formula living inside the range it aggregates
	g.SetRefs(inside, RefSet{Ranges: []RangeAddress{
		{Sheet: 1, StartRow: 0, StartCol: 0, EndRow: 2, EndCol: 0},
	}})
	g.MarkDirty(inside)
	plan := g.Plan()
	assert.Contains(t, plan.Cyclic, inside)
}

func TestGraphRelocate(t *testing.T) {
	g := NewDependencyGraph()
	src, dst, precedent, reader := coord(1, 0), coord(3, 0), coord(0, 0), coord(9, 9)
	g.SetRefs(src, RefSet{Cells: []Coord{precedent}})
	g.SetRefs(reader, RefSet{Cells: []Coord{src}})

	g.Relocate(src, dst)

	cells, _ := g.Precedents(dst)
	assert.Equal(t, []Coord{precedent}, cells, "outgoing edges follow the move")
	cells, _ = g.Precedents(src)
	assert.Empty(t, cells)
	assert.Contains(t, g.DirectDependents(src), reader,
		"incoming edges stay at the coordinate")
}

func TestGraphMarkReadersOfSheet(t *testing.T) {
	g := NewDependencyGraph()
	reader := Coord{Sheet: 1, Row: 0, Col: 0}
	other := Coord{Sheet: 1, Row: 1, Col: 0}
	g.SetRefs(reader, RefSet{Cells: []Coord{{Sheet: 2, Row: 0, Col: 0}}})
	g.SetRefs(other, RefSet{Cells: []Coord{{Sheet: 1, Row: 5, Col: 0}}})

	g.MarkReadersOfSheet(2)
	plan := g.Plan()
	assert.Equal(t, 1, plan.Total())
	assert.Equal(t, reader, plan.Layers[0][0])
}
