package xlas

import "strings"

// gridKey addresses a cell inside one sheet.
type gridKey struct {
	row, col uint32
}

// Sheet is a sparse grid of cells. Only touched cells are materialized.
type Sheet struct {
	id    uint32
	name  string
	cells map[gridKey]*Cell

	// used extent, maintained as a monotonic upper bound; deletes do not
	// shrink it. Callers use it to clamp range walks, and cells past the
	// true extent read back Empty, so the bound being loose is harmless.
	maxRow uint32
	maxCol uint32
	extent bool
}

func newSheet(id uint32, name string) *Sheet {
	return &Sheet{id: id, name: name, cells: make(map[gridKey]*Cell)}
}

// ID returns the sheet's stable identifier.
func (s *Sheet) ID() uint32 { return s.id }

// Name returns the sheet's current name.
func (s *Sheet) Name() string { return s.name }

// Cell returns the materialized cell at a position, if any.
func (s *Sheet) Cell(row, col uint32) (*Cell, bool) {
	c, ok := s.cells[gridKey{row, col}]
	return c, ok
}

// ensureCell returns the cell at a position, materializing it when absent.
func (s *Sheet) ensureCell(row, col uint32) *Cell {
	key := gridKey{row, col}
	if c, ok := s.cells[key]; ok {
		return c
	}
	c := &Cell{}
	s.cells[key] = c
	s.grow(row, col)
	return c
}

// setCell stores a cell at a position, replacing any existing one.
func (s *Sheet) setCell(row, col uint32, c *Cell) {
	s.cells[gridKey{row, col}] = c
	s.grow(row, col)
}

// deleteCell drops a cell entirely.
func (s *Sheet) deleteCell(row, col uint32) {
	delete(s.cells, gridKey{row, col})
}

func (s *Sheet) grow(row, col uint32) {
	if !s.extent {
		s.maxRow, s.maxCol, s.extent = row, col, true
		return
	}
	if row > s.maxRow {
		s.maxRow = row
	}
	if col > s.maxCol {
		s.maxCol = col
	}
}

// UsedExtent returns the sheet's used size as row and column counts. A sheet
// that was never written has a zero extent.
func (s *Sheet) UsedExtent() (rows, cols uint32) {
	if !s.extent {
		return 0, 0
	}
	return s.maxRow + 1, s.maxCol + 1
}

// CellCount returns the number of materialized cells.
func (s *Sheet) CellCount() int { return len(s.cells) }

// forEach visits every materialized cell in unspecified order.
func (s *Sheet) forEach(visit func(row, col uint32, c *Cell)) {
	for key, c := range s.cells {
		visit(key.row, key.col, c)
	}
}

// SheetTable owns the workbook's sheets and the name-to-ID interning that
// keeps references stable. A name, once seen in any formula, is pinned to an
// ID forever; creating a sheet under that name later binds it to the same
// ID, so stored formulas start resolving without a re-parse.
type SheetTable struct {
	byID     map[uint32]*Sheet
	idByName map[string]uint32 // folded live names
	interned map[string]uint32 // folded names ever referenced
	order    []uint32          // live sheet IDs in creation order
	nextID   uint32
}

// NewSheetTable creates an empty table. Sheet ID 0 is reserved to mean "the
// formula's own sheet".
func NewSheetTable() *SheetTable {
	return &SheetTable{
		byID:     make(map[uint32]*Sheet),
		idByName: make(map[string]uint32),
		interned: make(map[string]uint32),
		nextID:   1,
	}
}

func foldSheetName(name string) string {
	return toUpperASCII(strings.TrimSpace(name))
}

// validSheetName rejects names that collide with reference syntax.
func validSheetName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return false
	}
	return !strings.ContainsAny(name, "!':[]")
}

// Intern pins a sheet name to a stable ID without requiring the sheet to
// exist. Parsing references to future sheets goes through here.
func (t *SheetTable) Intern(name string) uint32 {
	folded := foldSheetName(name)
	if id, ok := t.interned[folded]; ok {
		return id
	}
	id := t.nextID
	t.nextID++
	t.interned[folded] = id
	return id
}

// Add creates a sheet. Names are unique case-insensitively among live
// sheets.
func (t *SheetTable) Add(name string) (*Sheet, error) {
	if !validSheetName(name) {
		return nil, &InvalidRefError{Ref: name, Reason: "invalid sheet name"}
	}
	folded := foldSheetName(name)
	if _, exists := t.idByName[folded]; exists {
		return nil, &AlreadyExistsError{Kind: "sheet", Name: name}
	}
	id := t.Intern(name)
	sheet := newSheet(id, strings.TrimSpace(name))
	t.byID[id] = sheet
	t.idByName[folded] = id
	t.order = append(t.order, id)
	return sheet, nil
}

// Remove deletes a live sheet and returns its ID so the caller can purge
// dependent state. The interned name survives; references into the removed
// sheet resolve to reference errors until a sheet with that name returns.
func (t *SheetTable) Remove(name string) (uint32, error) {
	folded := foldSheetName(name)
	id, ok := t.idByName[folded]
	if !ok {
		return 0, &NotFoundError{Kind: "sheet", Name: name}
	}
	delete(t.byID, id)
	delete(t.idByName, folded)
	for i, ordered := range t.order {
		if ordered == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return id, nil
}

// Rename changes a sheet's name in place. The ID is untouched, so formulas
// that referenced the old name keep following the sheet. The old name's
// interning is released and a later reference to it pins a fresh ID.
func (t *SheetTable) Rename(oldName, newName string) error {
	if !validSheetName(newName) {
		return &InvalidRefError{Ref: newName, Reason: "invalid sheet name"}
	}
	oldFolded := foldSheetName(oldName)
	newFolded := foldSheetName(newName)
	id, ok := t.idByName[oldFolded]
	if !ok {
		return &NotFoundError{Kind: "sheet", Name: oldName}
	}
	if existing, taken := t.idByName[newFolded]; taken && existing != id {
		return &AlreadyExistsError{Kind: "sheet", Name: newName}
	}
	delete(t.idByName, oldFolded)
	delete(t.interned, oldFolded)
	t.idByName[newFolded] = id
	t.interned[newFolded] = id
	t.byID[id].name = strings.TrimSpace(newName)
	return nil
}

// ByName resolves a live sheet case-insensitively.
func (t *SheetTable) ByName(name string) (*Sheet, bool) {
	id, ok := t.idByName[foldSheetName(name)]
	if !ok {
		return nil, false
	}
	return t.byID[id], true
}

// ByID resolves a live sheet by its stable ID.
func (t *SheetTable) ByID(id uint32) (*Sheet, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Names lists live sheet names in creation order.
func (t *SheetTable) Names() []string {
	names := make([]string, 0, len(t.order))
	for _, id := range t.order {
		names = append(names, t.byID[id].name)
	}
	return names
}

// Len returns the live sheet count.
func (t *SheetTable) Len() int { return len(t.byID) }

// each visits live sheets in creation order.
func (t *SheetTable) each(visit func(*Sheet)) {
	for _, id := range t.order {
		visit(t.byID[id])
	}
}
