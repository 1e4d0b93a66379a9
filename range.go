package xlas

import "fmt"

// RangeAddress is a normalized rectangular region on one sheet, inclusive of
// both corners.
type RangeAddress struct {
	Sheet    uint32
	StartRow uint32
	StartCol uint32
	EndRow   uint32
	EndCol   uint32
}

// Normalize reorders the corners so Start is the top-left.
func (r RangeAddress) Normalize() RangeAddress {
	if r.StartRow > r.EndRow {
		r.StartRow, r.EndRow = r.EndRow, r.StartRow
	}
	if r.StartCol > r.EndCol {
		r.StartCol, r.EndCol = r.EndCol, r.StartCol
	}
	return r
}

// Contains reports whether the coordinate falls inside the rectangle.
func (r RangeAddress) Contains(c Coord) bool {
	return c.Sheet == r.Sheet &&
		c.Row >= r.StartRow && c.Row <= r.EndRow &&
		c.Col >= r.StartCol && c.Col <= r.EndCol
}

// Overlaps reports whether two rectangles share at least one cell.
func (r RangeAddress) Overlaps(o RangeAddress) bool {
	return r.Sheet == o.Sheet &&
		r.StartRow <= o.EndRow && o.StartRow <= r.EndRow &&
		r.StartCol <= o.EndCol && o.StartCol <= r.EndCol
}

// Rows returns the row count of the rectangle.
func (r RangeAddress) Rows() uint32 { return r.EndRow - r.StartRow + 1 }

// Cols returns the column count of the rectangle.
func (r RangeAddress) Cols() uint32 { return r.EndCol - r.StartCol + 1 }

// ForEach visits every coordinate row-major.
func (r RangeAddress) ForEach(visit func(Coord)) {
	for row := r.StartRow; row <= r.EndRow; row++ {
		for col := r.StartCol; col <= r.EndCol; col++ {
			visit(Coord{Sheet: r.Sheet, Row: row, Col: col})
		}
	}
}

// String renders the range in A1:B2 form without the sheet qualifier.
func (r RangeAddress) String() string {
	return fmt.Sprintf("%s:%s", RefString(r.StartRow, r.StartCol), RefString(r.EndRow, r.EndCol))
}

// namedRangeKey scopes a folded name to one sheet.
type namedRangeKey struct {
	sheet uint32
	name  string
}

// NamedRangeTable holds sheet-scoped named ranges. Lookups are
// case-insensitive; the original spelling is kept for listing.
type NamedRangeTable struct {
	entries map[namedRangeKey]RangeAddress
	display map[namedRangeKey]string
}

// NewNamedRangeTable creates an empty table.
func NewNamedRangeTable() *NamedRangeTable {
	return &NamedRangeTable{
		entries: make(map[namedRangeKey]RangeAddress),
		display: make(map[namedRangeKey]string),
	}
}

// Define binds a name to a range on the range's sheet, replacing any earlier
// binding. Names that could be mistaken for cell references are rejected.
func (t *NamedRangeTable) Define(name string, addr RangeAddress) error {
	if name == "" || isPlainCellRef(name) {
		return &InvalidRefError{Ref: name, Reason: "invalid range name"}
	}
	key := namedRangeKey{sheet: addr.Sheet, name: toUpperASCII(name)}
	t.entries[key] = addr.Normalize()
	t.display[key] = name
	return nil
}

// Remove deletes a binding; removing an unknown name is an error.
func (t *NamedRangeTable) Remove(sheet uint32, name string) error {
	key := namedRangeKey{sheet: sheet, name: toUpperASCII(name)}
	if _, ok := t.entries[key]; !ok {
		return &NotFoundError{Kind: "named range", Name: name}
	}
	delete(t.entries, key)
	delete(t.display, key)
	return nil
}

// Lookup resolves a name on one sheet.
func (t *NamedRangeTable) Lookup(sheet uint32, name string) (RangeAddress, bool) {
	addr, ok := t.entries[namedRangeKey{sheet: sheet, name: toUpperASCII(name)}]
	return addr, ok
}

// Names lists the defined names on one sheet in their original spelling.
func (t *NamedRangeTable) Names(sheet uint32) []string {
	var names []string
	for key, spelled := range t.display {
		if key.sheet == sheet {
			names = append(names, spelled)
		}
	}
	return names
}

// dropSheet removes every binding scoped to a removed sheet.
func (t *NamedRangeTable) dropSheet(sheet uint32) {
	for key := range t.entries {
		if key.sheet == sheet {
			delete(t.entries, key)
			delete(t.display, key)
		}
	}
}
