package xlas

// depNode tracks one cell's edges. Nodes exist only for formula cells and
// for plain cells that some formula points at.
type depNode struct {
	precedents      map[Coord]struct{}
	dependents      map[Coord]struct{}
	rangePrecedents map[RangeAddress]struct{}
	hasFormula      bool
}

func newDepNode() *depNode {
	return &depNode{
		precedents:      make(map[Coord]struct{}),
		dependents:      make(map[Coord]struct{}),
		rangePrecedents: make(map[RangeAddress]struct{}),
	}
}

// RefSet is the set of references extracted from one formula's AST.
type RefSet struct {
	Cells  []Coord
	Ranges []RangeAddress
}

// DependencyGraph tracks which cells feed which formulas. Range references
// are kept as observer entries rather than expanded into per-cell edges, so
// a formula over A1:A10000 costs one edge.
//
// The graph is not safe for concurrent mutation; the owning store serializes
// access.
type DependencyGraph struct {
	nodes          map[Coord]*depNode
	rangeObservers map[RangeAddress]map[Coord]struct{}
	dirty          map[Coord]struct{}
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:          make(map[Coord]*depNode),
		rangeObservers: make(map[RangeAddress]map[Coord]struct{}),
		dirty:          make(map[Coord]struct{}),
	}
}

func (g *DependencyGraph) getOrCreate(addr Coord) *depNode {
	if node, ok := g.nodes[addr]; ok {
		return node
	}
	node := newDepNode()
	g.nodes[addr] = node
	return node
}

// cleanupIfEmpty drops a node that carries no formula and no edges.
func (g *DependencyGraph) cleanupIfEmpty(addr Coord) {
	node, ok := g.nodes[addr]
	if !ok {
		return
	}
	if node.hasFormula || len(node.precedents) > 0 || len(node.dependents) > 0 || len(node.rangePrecedents) > 0 {
		return
	}
	delete(g.nodes, addr)
	delete(g.dirty, addr)
}

// SetRefs replaces a formula cell's outgoing edges with the given reference
// set. Unchanged edges are left alone, so the cost is proportional to the
// diff, not the formula size.
func (g *DependencyGraph) SetRefs(addr Coord, refs RefSet) {
	node := g.getOrCreate(addr)
	node.hasFormula = true

	wantCells := make(map[Coord]struct{}, len(refs.Cells))
	for _, c := range refs.Cells {
		wantCells[c] = struct{}{}
	}
	for old := range node.precedents {
		if _, keep := wantCells[old]; !keep {
			g.removeCellEdge(addr, old)
		}
	}
	for c := range wantCells {
		if _, have := node.precedents[c]; !have {
			g.addCellEdge(addr, c)
		}
	}

	wantRanges := make(map[RangeAddress]struct{}, len(refs.Ranges))
	for _, r := range refs.Ranges {
		wantRanges[r.Normalize()] = struct{}{}
	}
	for old := range node.rangePrecedents {
		if _, keep := wantRanges[old]; !keep {
			g.removeRangeEdge(addr, old)
		}
	}
	for r := range wantRanges {
		if _, have := node.rangePrecedents[r]; !have {
			g.addRangeEdge(addr, r)
		}
	}
}

// ClearRefs removes a cell's outgoing edges and formula marker, keeping the
// node alive while other formulas still point at it.
func (g *DependencyGraph) ClearRefs(addr Coord) {
	node, ok := g.nodes[addr]
	if !ok {
		return
	}
	for precedent := range node.precedents {
		g.removeCellEdge(addr, precedent)
	}
	for r := range node.rangePrecedents {
		g.removeRangeEdge(addr, r)
	}
	node.hasFormula = false
	g.cleanupIfEmpty(addr)
}

func (g *DependencyGraph) addCellEdge(from, to Coord) {
	fromNode := g.getOrCreate(from)
	toNode := g.getOrCreate(to)
	fromNode.precedents[to] = struct{}{}
	toNode.dependents[from] = struct{}{}
}

func (g *DependencyGraph) removeCellEdge(from, to Coord) {
	fromNode, fromOK := g.nodes[from]
	toNode, toOK := g.nodes[to]
	if fromOK {
		delete(fromNode.precedents, to)
	}
	if toOK {
		delete(toNode.dependents, from)
		g.cleanupIfEmpty(to)
	}
}

func (g *DependencyGraph) addRangeEdge(from Coord, r RangeAddress) {
	node := g.getOrCreate(from)
	node.rangePrecedents[r] = struct{}{}
	if g.rangeObservers[r] == nil {
		g.rangeObservers[r] = make(map[Coord]struct{})
	}
	g.rangeObservers[r][from] = struct{}{}
}

func (g *DependencyGraph) removeRangeEdge(from Coord, r RangeAddress) {
	if node, ok := g.nodes[from]; ok {
		delete(node.rangePrecedents, r)
	}
	if observers, ok := g.rangeObservers[r]; ok {
		delete(observers, from)
		if len(observers) == 0 {
			delete(g.rangeObservers, r)
		}
	}
}

// Relocate moves a formula's outgoing edges from one coordinate to another.
// Incoming edges stay put: dependents reference the coordinate, not the
// content that used to live there.
func (g *DependencyGraph) Relocate(src, dst Coord) {
	node, ok := g.nodes[src]
	if !ok || !node.hasFormula {
		return
	}
	refs := RefSet{
		Cells:  make([]Coord, 0, len(node.precedents)),
		Ranges: make([]RangeAddress, 0, len(node.rangePrecedents)),
	}
	for c := range node.precedents {
		refs.Cells = append(refs.Cells, c)
	}
	for r := range node.rangePrecedents {
		refs.Ranges = append(refs.Ranges, r)
	}
	g.ClearRefs(src)
	g.SetRefs(dst, refs)
}

// MarkDirty queues a cell for the next recalculation pass.
func (g *DependencyGraph) MarkDirty(addr Coord) {
	g.dirty[addr] = struct{}{}
}

// MarkReadersOfSheet queues every formula that reads any coordinate on a
// sheet, through a cell edge or a range edge. Used when a sheet appears or
// disappears and its readers must re-resolve.
func (g *DependencyGraph) MarkReadersOfSheet(sheet uint32) {
	for addr, node := range g.nodes {
		if !node.hasFormula {
			continue
		}
		marked := false
		for precedent := range node.precedents {
			if precedent.Sheet == sheet {
				g.dirty[addr] = struct{}{}
				marked = true
				break
			}
		}
		if marked {
			continue
		}
		for r := range node.rangePrecedents {
			if r.Sheet == sheet {
				g.dirty[addr] = struct{}{}
				break
			}
		}
	}
}

// MarkSheetDirty queues every formula on a sheet. Used when a whole sheet's
// inputs become suspect, such as after a sheet removal invalidates refs.
func (g *DependencyGraph) MarkSheetDirty(sheet uint32) {
	for addr, node := range g.nodes {
		if addr.Sheet == sheet && node.hasFormula {
			g.dirty[addr] = struct{}{}
		}
	}
}

// HasDirty reports whether anything is queued.
func (g *DependencyGraph) HasDirty() bool { return len(g.dirty) > 0 }

// DirectDependents returns the cells whose formulas reference addr directly,
// through a cell edge or through an observed range containing it.
func (g *DependencyGraph) DirectDependents(addr Coord) []Coord {
	seen := make(map[Coord]struct{})
	if node, ok := g.nodes[addr]; ok {
		for dep := range node.dependents {
			seen[dep] = struct{}{}
		}
	}
	for r, observers := range g.rangeObservers {
		if r.Contains(addr) {
			for obs := range observers {
				seen[obs] = struct{}{}
			}
		}
	}
	out := make([]Coord, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	return out
}

// Precedents returns the cells a formula directly reads, with range
// precedents left unexpanded.
func (g *DependencyGraph) Precedents(addr Coord) ([]Coord, []RangeAddress) {
	node, ok := g.nodes[addr]
	if !ok {
		return nil, nil
	}
	cells := make([]Coord, 0, len(node.precedents))
	for c := range node.precedents {
		cells = append(cells, c)
	}
	ranges := make([]RangeAddress, 0, len(node.rangePrecedents))
	for r := range node.rangePrecedents {
		ranges = append(ranges, r)
	}
	return cells, ranges
}

// NodeCount returns the number of live nodes.
func (g *DependencyGraph) NodeCount() int { return len(g.nodes) }

// RangeObserverCount returns the number of observed ranges.
func (g *DependencyGraph) RangeObserverCount() int { return len(g.rangeObservers) }

// RecalcPlan is the output of Plan: formula cells grouped into layers where
// everything a layer reads was settled by an earlier layer, plus the cells
// caught in reference cycles. Cells inside Cyclic are excluded from Layers;
// they settle to a circular error before any layer runs.
type RecalcPlan struct {
	Layers [][]Coord
	Cyclic map[Coord]struct{}
}

// Total returns the number of formula cells the plan touches.
func (p *RecalcPlan) Total() int {
	n := len(p.Cyclic)
	for _, layer := range p.Layers {
		n += len(layer)
	}
	return n
}

// Plan computes the recalculation schedule for the current dirty set and
// clears it. Only the dirty closure is visited, so the cost scales with the
// affected region rather than the workbook.
//
// Cycles do not abort the plan: each strongly connected component of two or
// more cells (or a self-loop) lands in Cyclic, and cells downstream of a
// cycle still get layered, picking the circular error up through normal
// error propagation.
func (g *DependencyGraph) Plan() RecalcPlan {
	closure := g.dirtyClosure()
	g.dirty = make(map[Coord]struct{})

	// materialize the subgraph over formula cells in the closure, expanding
	// range edges against closure membership
	succ := make(map[Coord]map[Coord]struct{}, len(closure))
	pending := make(map[Coord]int, len(closure))
	for addr := range closure {
		succ[addr] = make(map[Coord]struct{})
		pending[addr] = 0
	}
	for addr := range closure {
		node := g.nodes[addr]
		for precedent := range node.precedents {
			if _, in := closure[precedent]; in {
				if _, dup := succ[precedent][addr]; !dup {
					succ[precedent][addr] = struct{}{}
					pending[addr]++
				}
			}
		}
		for r := range node.rangePrecedents {
			for precedent := range closure {
				if r.Contains(precedent) {
					if _, dup := succ[precedent][addr]; !dup {
						succ[precedent][addr] = struct{}{}
						pending[addr]++
					}
				}
			}
		}
	}

	plan := RecalcPlan{Cyclic: make(map[Coord]struct{})}
	remaining := len(closure)
	settled := func(addr Coord) []Coord {
		var freed []Coord
		for dependent := range succ[addr] {
			pending[dependent]--
			if pending[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		return freed
	}

	frontier := make([]Coord, 0, len(closure))
	for addr, n := range pending {
		if n == 0 {
			frontier = append(frontier, addr)
		}
	}
	for len(frontier) > 0 {
		plan.Layers = append(plan.Layers, frontier)
		remaining -= len(frontier)
		var next []Coord
		for _, addr := range frontier {
			next = append(next, settled(addr)...)
		}
		frontier = next
	}

	if remaining == 0 {
		return plan
	}

	// whatever Kahn could not peel sits in or behind a cycle; classify the
	// cycle members and resume layering with them settled as errors
	leftover := make(map[Coord]struct{}, remaining)
	for addr := range closure {
		if pending[addr] > 0 {
			leftover[addr] = struct{}{}
		}
	}
	for _, component := range stronglyConnected(leftover, succ) {
		if len(component) > 1 {
			for _, addr := range component {
				plan.Cyclic[addr] = struct{}{}
			}
			continue
		}
		only := component[0]
		if _, self := succ[only][only]; self {
			plan.Cyclic[only] = struct{}{}
		}
	}

	frontier = frontier[:0]
	for addr := range plan.Cyclic {
		for dependent := range succ[addr] {
			if _, cyc := plan.Cyclic[dependent]; cyc {
				continue
			}
			pending[dependent]--
			if pending[dependent] == 0 {
				frontier = append(frontier, dependent)
			}
		}
	}
	for len(frontier) > 0 {
		plan.Layers = append(plan.Layers, frontier)
		var next []Coord
		for _, addr := range frontier {
			for _, freed := range settled(addr) {
				if _, cyc := plan.Cyclic[freed]; !cyc {
					next = append(next, freed)
				}
			}
		}
		frontier = next
	}
	return plan
}

// dirtyClosure expands the queued coordinates over dependents and range
// observers, returning the formula cells that must re-evaluate.
func (g *DependencyGraph) dirtyClosure() map[Coord]struct{} {
	closure := make(map[Coord]struct{})
	queue := make([]Coord, 0, len(g.dirty))

	add := func(addr Coord) {
		node, ok := g.nodes[addr]
		if !ok || !node.hasFormula {
			return
		}
		if _, seen := closure[addr]; seen {
			return
		}
		closure[addr] = struct{}{}
		queue = append(queue, addr)
	}

	// seeds: dirty formulas re-evaluate themselves; dirty plain cells only
	// wake their dependents
	for addr := range g.dirty {
		add(addr)
		for _, dependent := range g.DirectDependents(addr) {
			add(dependent)
		}
	}
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		for _, dependent := range g.DirectDependents(addr) {
			add(dependent)
		}
	}
	return closure
}

// stronglyConnected runs an iterative Tarjan over the given node set with
// edges restricted to it, returning the components found.
func stronglyConnected(nodes map[Coord]struct{}, succ map[Coord]map[Coord]struct{}) [][]Coord {
	index := make(map[Coord]int, len(nodes))
	lowlink := make(map[Coord]int, len(nodes))
	onStack := make(map[Coord]bool, len(nodes))
	var stack []Coord
	var components [][]Coord
	counter := 0

	type frame struct {
		node  Coord
		edges []Coord
		next  int
	}

	edgesOf := func(n Coord) []Coord {
		var out []Coord
		for dst := range succ[n] {
			if _, in := nodes[dst]; in {
				out = append(out, dst)
			}
		}
		return out
	}

	for root := range nodes {
		if _, visited := index[root]; visited {
			continue
		}
		work := []frame{{node: root, edges: edgesOf(root)}}
		index[root] = counter
		lowlink[root] = counter
		counter++
		stack = append(stack, root)
		onStack[root] = true

		for len(work) > 0 {
			top := &work[len(work)-1]
			if top.next < len(top.edges) {
				dst := top.edges[top.next]
				top.next++
				if _, visited := index[dst]; !visited {
					index[dst] = counter
					lowlink[dst] = counter
					counter++
					stack = append(stack, dst)
					onStack[dst] = true
					work = append(work, frame{node: dst, edges: edgesOf(dst)})
				} else if onStack[dst] {
					if index[dst] < lowlink[top.node] {
						lowlink[top.node] = index[dst]
					}
				}
				continue
			}

			finished := *top
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := &work[len(work)-1]
				if lowlink[finished.node] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[finished.node]
				}
			}
			if lowlink[finished.node] == index[finished.node] {
				var component []Coord
				for {
					n := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[n] = false
					component = append(component, n)
					if n == finished.node {
						break
					}
				}
				components = append(components, component)
			}
		}
	}
	return components
}

// Clear resets the graph.
func (g *DependencyGraph) Clear() {
	g.nodes = make(map[Coord]*depNode)
	g.rangeObservers = make(map[RangeAddress]map[Coord]struct{})
	g.dirty = make(map[Coord]struct{})
}
