package xlas

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortOrder is the direction of one sort key.
type SortOrder uint8

const (
	Ascending SortOrder = iota
	Descending
)

// SortKey names a key column by its zero-based offset within the sorted
// range.
type SortKey struct {
	Column uint32
	Order  SortOrder
}

// sortRow is the snapshot of one range row taken before any cell moves.
type sortRow struct {
	original int
	cells    []*Cell
}

// SortRange reorders the rows of a rectangle by one or more key columns.
// The sort is stable: equal keys keep their original row order.
//
// Rows compare by value-kind tier first (Options.SortTiers; blanks always
// last), then by value within the tier, with text ordered by locale-aware
// case-insensitive collation. Content and formatting move with the row;
// validation rules stay pinned to their coordinates. Formula text is never
// rewritten: the formula's dependency edges relocate to its new coordinate,
// and references into the sorted range from outside it now see whatever
// content landed on the referenced coordinate.
func (w *Workbook) SortRange(sheetName, rangeRef string, keys []SortKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, err := w.resolveRange(sheetName, rangeRef)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return &InvalidRefError{Ref: rangeRef, Reason: "sort needs at least one key"}
	}
	for _, key := range keys {
		if key.Column >= addr.Cols() {
			return &InvalidRefError{Ref: rangeRef, Reason: "sort key outside range"}
		}
	}
	sheet, _ := w.sheets.ByID(addr.Sheet)

	// snapshot every row before touching the grid
	rows := make([]sortRow, addr.Rows())
	for i := range rows {
		row := addr.StartRow + uint32(i)
		rows[i].original = i
		rows[i].cells = make([]*Cell, addr.Cols())
		for j := uint32(0); j < addr.Cols(); j++ {
			if c, ok := sheet.Cell(row, addr.StartCol+j); ok {
				rows[i].cells[j] = c
			}
		}
	}

	cmp := newSortComparator(w.opts.SortTiers)
	sort.SliceStable(rows, func(a, b int) bool {
		for _, key := range keys {
			c := cmp.compare(rows[a].cells[key.Column], rows[b].cells[key.Column], key.Order)
			if c != 0 {
				return c < 0
			}
		}
		return rows[a].original < rows[b].original
	})

	w.applyRowOrder(sheet, addr, rows)
	w.recalc()
	w.log.Debug("range sorted", "sheet", sheet.name, "range", addr.String(), "rows", len(rows))
	return nil
}

// applyRowOrder rewrites the range so row i holds the content of rows[i],
// relocating dependency edges in two phases (detach all, then reattach all)
// so permutations within the range never cross-contaminate.
func (w *Workbook) applyRowOrder(sheet *Sheet, addr RangeAddress, rows []sortRow) {
	type relocation struct {
		dst  Coord
		refs RefSet
	}
	var relocations []relocation

	for i, row := range rows {
		if row.original == i {
			continue
		}
		for j, c := range row.cells {
			if c == nil || !c.IsFormula() {
				continue
			}
			src := Coord{
				Sheet: addr.Sheet,
				Row:   addr.StartRow + uint32(row.original),
				Col:   addr.StartCol + uint32(j),
			}
			dst := Coord{Sheet: addr.Sheet, Row: addr.StartRow + uint32(i), Col: src.Col}
			cells, ranges := w.graph.Precedents(src)
			relocations = append(relocations, relocation{dst: dst, refs: RefSet{Cells: cells, Ranges: ranges}})
			w.graph.ClearRefs(src)
			if _, dynamic := w.dynamicRefs[src]; dynamic {
				delete(w.dynamicRefs, src)
				w.dynamicRefs[dst] = struct{}{}
			}
		}
	}
	for _, rel := range relocations {
		w.graph.SetRefs(rel.dst, rel.refs)
	}

	for i, row := range rows {
		if row.original == i {
			continue
		}
		targetRow := addr.StartRow + uint32(i)
		for j, src := range row.cells {
			col := addr.StartCol + uint32(j)
			coord := Coord{Sheet: addr.Sheet, Row: targetRow, Col: col}

			// validation stays with the coordinate, everything else moves
			var validation *ValidationRule
			if existing, ok := sheet.Cell(targetRow, col); ok {
				validation = existing.Validation
			}
			if src == nil && validation == nil {
				sheet.deleteCell(targetRow, col)
				w.graph.MarkDirty(coord)
				continue
			}
			moved := &Cell{Validation: validation}
			if src != nil {
				moved.Raw = src.Raw
				moved.AST = src.AST
				moved.Value = src.Value
				moved.Format = src.Format
			}
			if moved.isEmptyShell() {
				sheet.deleteCell(targetRow, col)
			} else {
				sheet.setCell(targetRow, col, moved)
			}
			w.graph.MarkDirty(coord)
		}
	}
}

// sortComparator orders cells by configured kind tier, then by value.
type sortComparator struct {
	rank     map[ValueKind]int
	overflow int
	coll     *collate.Collator
}

func newSortComparator(tiers []string) *sortComparator {
	c := &sortComparator{
		rank: make(map[ValueKind]int, len(tiers)),
		coll: collate.New(language.Und, collate.IgnoreCase),
	}
	for i, tier := range tiers {
		switch tier {
		case "number":
			c.rank[KindNumber] = i
		case "text":
			c.rank[KindText] = i
		case "boolean":
			c.rank[KindBool] = i
		case "error":
			c.rank[KindError] = i
		}
	}
	c.overflow = len(tiers)
	return c
}

func (c *sortComparator) tierOf(v Value) int {
	if r, ok := c.rank[v.Kind]; ok {
		return r
	}
	return c.overflow
}

// compare orders two cells under one key. Blank cells always sort after
// everything regardless of direction.
func (c *sortComparator) compare(a, b *Cell, order SortOrder) int {
	av, bv := Empty(), Empty()
	if a != nil {
		av = a.Value
	}
	if b != nil {
		bv = b.Value
	}
	if av.IsEmpty() || bv.IsEmpty() {
		switch {
		case av.IsEmpty() && bv.IsEmpty():
			return 0
		case av.IsEmpty():
			return 1
		default:
			return -1
		}
	}

	result := c.compareAscending(av, bv)
	if order == Descending {
		result = -result
	}
	return result
}

func (c *sortComparator) compareAscending(a, b Value) int {
	at, bt := c.tierOf(a), c.tierOf(b)
	if at != bt {
		if at < bt {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNumber:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case KindText:
		return c.coll.CompareString(a.Str, b.Str)
	case KindBool:
		switch {
		case !a.Bool && b.Bool:
			return -1
		case a.Bool && !b.Bool:
			return 1
		}
		return 0
	case KindError:
		switch {
		case a.Err < b.Err:
			return -1
		case a.Err > b.Err:
			return 1
		}
		return 0
	}
	return 0
}
