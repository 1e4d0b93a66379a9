package xlas

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Workbook is the computational store: sheets of cells, the dependency
// graph, named ranges and tables, plus the recalculation driver. All public
// methods are safe for concurrent use; mutations are atomic including the
// recalculation they trigger.
type Workbook struct {
	mu     sync.RWMutex
	id     uuid.UUID
	opts   Options
	log    *slog.Logger
	sheets *SheetTable
	graph  *DependencyGraph
	named  *NamedRangeTable
	tables *TableRegistry

	// formulas whose reference sets depend on mutable name bindings (named
	// ranges, table geometry) and need re-extraction when those change
	dynamicRefs map[Coord]struct{}
}

// NewWorkbook creates an empty workbook with one sheet named "Sheet1".
func NewWorkbook(opts Options) *Workbook {
	w := newEmptyWorkbook(opts)
	w.sheets.Add("Sheet1")
	return w
}

// newEmptyWorkbook builds a workbook with no sheets at all; the loader adds
// them from the file.
func newEmptyWorkbook(opts Options) *Workbook {
	id := uuid.New()
	return &Workbook{
		id:          id,
		opts:        opts,
		log:         slog.Default().With("workbook", id.String()),
		sheets:      NewSheetTable(),
		graph:       NewDependencyGraph(),
		named:       NewNamedRangeTable(),
		tables:      NewTableRegistry(),
		dynamicRefs: make(map[Coord]struct{}),
	}
}

// ID returns the workbook's identity, minted at creation and preserved
// across save and load.
func (w *Workbook) ID() uuid.UUID { return w.id }

// Options returns the tuning the workbook was created with.
func (w *Workbook) Options() Options { return w.opts }

// AddSheet creates a new empty sheet.
func (w *Workbook) AddSheet(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, err := w.sheets.Add(name)
	if err != nil {
		return err
	}
	// formulas that referenced this name before the sheet existed were
	// resolving to reference errors; they are live again
	w.graph.MarkReadersOfSheet(sheet.id)
	w.recalc()
	w.log.Debug("sheet added", "name", sheet.name, "id", sheet.id)
	return nil
}

// RemoveSheet deletes a sheet. Formulas on other sheets that referenced it
// re-evaluate to reference errors; its named ranges and tables are dropped.
func (w *Workbook) RemoveSheet(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, ok := w.sheets.ByName(name)
	if !ok {
		return &NotFoundError{Kind: "sheet", Name: name}
	}
	if w.sheets.Len() == 1 {
		return &InvalidRefError{Ref: name, Reason: "cannot remove the last sheet"}
	}
	sheet.forEach(func(row, col uint32, c *Cell) {
		if c.IsFormula() {
			w.graph.ClearRefs(Coord{Sheet: sheet.id, Row: row, Col: col})
		}
		delete(w.dynamicRefs, Coord{Sheet: sheet.id, Row: row, Col: col})
	})
	w.sheets.Remove(name)
	w.named.dropSheet(sheet.id)
	w.tables.dropSheet(sheet.id)
	w.graph.MarkReadersOfSheet(sheet.id)
	w.recalc()
	w.log.Debug("sheet removed", "name", name, "id", sheet.id)
	return nil
}

// RenameSheet changes a sheet's name. References follow the sheet because
// they bind to its ID, not its spelling; no recalculation is needed.
func (w *Workbook) RenameSheet(oldName, newName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sheets.Rename(oldName, newName)
}

// SheetNames lists the live sheets in creation order.
func (w *Workbook) SheetNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sheets.Names()
}

// SetCellContent writes raw content into a cell and recalculates everything
// affected. The raw text is checked against the cell's validation rule first,
// before any formula handling, and a failing write leaves the cell untouched.
// Content starting with '=' is then parsed as a formula; parse failures store
// the text with a parse-error value rather than rejecting the write.
func (w *Workbook) SetCellContent(sheetName, ref, raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, coord, err := w.resolveCell(sheetName, ref)
	if err != nil {
		return err
	}

	if existing, ok := sheet.Cell(coord.Row, coord.Col); ok && existing.Validation != nil && raw != "" {
		if !existing.Validation.Check(raw) {
			return &ValidationError{Coord: coord, Rule: existing.Validation, Input: raw}
		}
	}

	isFormula := strings.HasPrefix(raw, "=")

	if raw == "" {
		w.clearCellContent(sheet, coord)
		w.recalc()
		return nil
	}

	cell := sheet.ensureCell(coord.Row, coord.Col)
	cell.Raw = raw
	delete(w.dynamicRefs, coord)

	if isFormula {
		ast, parseErr := ParseFormula(raw, &ParserContext{
			CurrentSheet: sheet.id,
			InternSheet:  w.sheets.Intern,
		})
		if parseErr != nil {
			cell.AST = nil
			cell.Value = ErrorOf(ErrKindParse)
			w.graph.ClearRefs(coord)
			w.graph.MarkDirty(coord)
			w.recalc()
			w.log.Debug("formula rejected", "cell", coord, "err", parseErr)
			return nil
		}
		cell.AST = ast
		refs, dynamic := w.extractRefs(ast, sheet.id)
		if dynamic {
			w.dynamicRefs[coord] = struct{}{}
		}
		w.graph.SetRefs(coord, refs)
		w.graph.MarkDirty(coord)
		w.recalc()
		return nil
	}

	cell.AST = nil
	cell.Value = parseLiteral(raw)
	w.graph.ClearRefs(coord)
	w.graph.MarkDirty(coord)
	w.recalc()
	return nil
}

// clearCellContent empties a cell, keeping it materialized only while it
// still carries formatting or validation.
func (w *Workbook) clearCellContent(sheet *Sheet, coord Coord) {
	cell, ok := sheet.Cell(coord.Row, coord.Col)
	if !ok {
		return
	}
	w.graph.ClearRefs(coord)
	delete(w.dynamicRefs, coord)
	cell.Raw = ""
	cell.AST = nil
	cell.Value = Empty()
	if cell.isEmptyShell() {
		sheet.deleteCell(coord.Row, coord.Col)
	}
	w.graph.MarkDirty(coord)
}

// GetValue returns the committed Value of a cell. Untouched cells are Empty.
func (w *Workbook) GetValue(sheetName, ref string) (Value, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	sheet, coord, err := w.resolveCell(sheetName, ref)
	if err != nil {
		return Empty(), err
	}
	if cell, ok := sheet.Cell(coord.Row, coord.Col); ok {
		return cell.Value, nil
	}
	return Empty(), nil
}

// GetDisplayValue returns the rendered form of a cell's value.
func (w *Workbook) GetDisplayValue(sheetName, ref string) (string, error) {
	v, err := w.GetValue(sheetName, ref)
	if err != nil {
		return "", err
	}
	return v.Display(), nil
}

// GetRawContent returns the content as entered, formula text included.
func (w *Workbook) GetRawContent(sheetName, ref string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	sheet, coord, err := w.resolveCell(sheetName, ref)
	if err != nil {
		return "", err
	}
	if cell, ok := sheet.Cell(coord.Row, coord.Col); ok {
		return cell.Raw, nil
	}
	return "", nil
}

// SetFormat attaches formatting to a cell, materializing it if needed.
func (w *Workbook) SetFormat(sheetName, ref string, format Format) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, coord, err := w.resolveCell(sheetName, ref)
	if err != nil {
		return err
	}
	cell := sheet.ensureCell(coord.Row, coord.Col)
	cell.Format = format
	if cell.isEmptyShell() {
		sheet.deleteCell(coord.Row, coord.Col)
	}
	return nil
}

// SetRangeFormat applies one format across a rectangle.
func (w *Workbook) SetRangeFormat(sheetName, rangeRef string, format Format) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, err := w.resolveRange(sheetName, rangeRef)
	if err != nil {
		return err
	}
	sheet, _ := w.sheets.ByID(addr.Sheet)
	addr.ForEach(func(c Coord) {
		cell := sheet.ensureCell(c.Row, c.Col)
		cell.Format = format
		if cell.isEmptyShell() {
			sheet.deleteCell(c.Row, c.Col)
		}
	})
	return nil
}

// GetFormat returns a cell's formatting; untouched cells have the zero
// Format.
func (w *Workbook) GetFormat(sheetName, ref string) (Format, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	sheet, coord, err := w.resolveCell(sheetName, ref)
	if err != nil {
		return Format{}, err
	}
	if cell, ok := sheet.Cell(coord.Row, coord.Col); ok {
		return cell.Format, nil
	}
	return Format{}, nil
}

// SetValidation attaches a validation rule to a cell. The rule applies to
// future literal writes; existing content is not re-checked. A nil rule
// removes validation.
func (w *Workbook) SetValidation(sheetName, ref string, rule *ValidationRule) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, coord, err := w.resolveCell(sheetName, ref)
	if err != nil {
		return err
	}
	cell := sheet.ensureCell(coord.Row, coord.Col)
	cell.Validation = rule
	if cell.isEmptyShell() {
		sheet.deleteCell(coord.Row, coord.Col)
	}
	return nil
}

// DefineNamedRange binds a name to a rectangle, scoped to the rectangle's
// sheet, replacing any earlier binding of that name.
func (w *Workbook) DefineNamedRange(sheetName, name, rangeRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, err := w.resolveRange(sheetName, rangeRef)
	if err != nil {
		return err
	}
	if err := w.named.Define(name, addr); err != nil {
		return err
	}
	w.rebindDynamicRefs()
	w.recalc()
	return nil
}

// RemoveNamedRange drops a binding; formulas using it fall to name errors.
func (w *Workbook) RemoveNamedRange(sheetName, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet, ok := w.sheets.ByName(sheetName)
	if !ok {
		return &NotFoundError{Kind: "sheet", Name: sheetName}
	}
	if err := w.named.Remove(sheet.id, name); err != nil {
		return err
	}
	w.rebindDynamicRefs()
	w.recalc()
	return nil
}

// NamedRanges lists the names defined on a sheet.
func (w *Workbook) NamedRanges(sheetName string) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	sheet, ok := w.sheets.ByName(sheetName)
	if !ok {
		return nil, &NotFoundError{Kind: "sheet", Name: sheetName}
	}
	return w.named.Names(sheet.id), nil
}

// DefineTable registers a table over a region whose first row is its header.
func (w *Workbook) DefineTable(name, sheetName, rangeRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, err := w.resolveRange(sheetName, rangeRef)
	if err != nil {
		return err
	}
	if err := w.tables.Define(name, addr); err != nil {
		return err
	}
	w.rebindDynamicRefs()
	w.recalc()
	return nil
}

// ResizeTable moves a table's region. Structured references re-resolve
// against the new geometry.
func (w *Workbook) ResizeTable(name, sheetName, rangeRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	addr, err := w.resolveRange(sheetName, rangeRef)
	if err != nil {
		return err
	}
	if err := w.tables.Resize(name, addr); err != nil {
		return err
	}
	w.rebindDynamicRefs()
	w.recalc()
	return nil
}

// RemoveTable drops a table definition.
func (w *Workbook) RemoveTable(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.tables.Remove(name); err != nil {
		return err
	}
	w.rebindDynamicRefs()
	w.recalc()
	return nil
}

// TableNames lists the registered tables.
func (w *Workbook) TableNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tables.Names()
}

// resolveCell maps a sheet name and A1 reference to the sheet and its
// coordinate, enforcing the grid limits.
func (w *Workbook) resolveCell(sheetName, ref string) (*Sheet, Coord, error) {
	sheet, ok := w.sheets.ByName(sheetName)
	if !ok {
		return nil, Coord{}, &NotFoundError{Kind: "sheet", Name: sheetName}
	}
	row, col, _, _, err := ParseRef(ref)
	if err != nil {
		return nil, Coord{}, err
	}
	if row >= w.opts.MaxRows || col >= w.opts.MaxCols {
		return nil, Coord{}, &InvalidRefError{Ref: ref, Reason: "outside grid limits"}
	}
	return sheet, Coord{Sheet: sheet.id, Row: row, Col: col}, nil
}

// resolveRange maps a sheet name and A1:B2 reference to a normalized range.
func (w *Workbook) resolveRange(sheetName, rangeRef string) (RangeAddress, error) {
	sheet, ok := w.sheets.ByName(sheetName)
	if !ok {
		return RangeAddress{}, &NotFoundError{Kind: "sheet", Name: sheetName}
	}
	startRow, startCol, endRow, endCol, err := ParseRangeRef(rangeRef)
	if err != nil {
		return RangeAddress{}, err
	}
	if endRow >= w.opts.MaxRows || endCol >= w.opts.MaxCols {
		return RangeAddress{}, &InvalidRefError{Ref: rangeRef, Reason: "outside grid limits"}
	}
	return RangeAddress{
		Sheet:    sheet.id,
		StartRow: startRow, StartCol: startCol,
		EndRow: endRow, EndCol: endCol,
	}, nil
}

// parseLiteral types a literal entry: number, boolean, or text.
func parseLiteral(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Number(n)
	}
	switch toUpperASCII(trimmed) {
	case "TRUE":
		return Boolean(true)
	case "FALSE":
		return Boolean(false)
	}
	return Text(raw)
}

// extractRefs walks an AST collecting the cells and ranges it reads. The
// dynamic result reports whether the set can shift under it (named ranges,
// table geometry) and must be re-extracted when those bindings change.
func (w *Workbook) extractRefs(ast Node, currentSheet uint32) (RefSet, bool) {
	var refs RefSet
	dynamic := false
	Walk(ast, func(n Node) {
		switch t := n.(type) {
		case *CellRefNode:
			sheet := t.Sheet
			if sheet == 0 {
				sheet = currentSheet
			}
			refs.Cells = append(refs.Cells, Coord{Sheet: sheet, Row: t.Row, Col: t.Col})
		case *RangeRefNode:
			sheet := t.Sheet
			if sheet == 0 {
				sheet = currentSheet
			}
			refs.Ranges = append(refs.Ranges, RangeAddress{
				Sheet:    sheet,
				StartRow: t.StartRow, StartCol: t.StartCol,
				EndRow: t.EndRow, EndCol: t.EndCol,
			})
		case *NamedRangeNode:
			dynamic = true
			if addr, ok := w.named.Lookup(currentSheet, t.Name); ok {
				refs.Ranges = append(refs.Ranges, addr)
			}
		case *StructRefNode:
			dynamic = true
			if addr, ok := w.resolveTableColumn(t.Table, t.Column); ok {
				refs.Ranges = append(refs.Ranges, addr)
			}
		}
	})
	return refs, dynamic
}

// rebindDynamicRefs re-extracts the reference sets of formulas that resolve
// names at evaluation time, after a binding changed underneath them.
func (w *Workbook) rebindDynamicRefs() {
	for coord := range w.dynamicRefs {
		sheet, ok := w.sheets.ByID(coord.Sheet)
		if !ok {
			delete(w.dynamicRefs, coord)
			continue
		}
		cell, ok := sheet.Cell(coord.Row, coord.Col)
		if !ok || cell.AST == nil {
			delete(w.dynamicRefs, coord)
			continue
		}
		refs, _ := w.extractRefs(cell.AST, coord.Sheet)
		w.graph.SetRefs(coord, refs)
		w.graph.MarkDirty(coord)
	}
}

// resolveTableColumn maps Table[Header] to its body column by matching the
// header text case-insensitively against the header row's values.
func (w *Workbook) resolveTableColumn(tableName, column string) (RangeAddress, bool) {
	table, ok := w.tables.Get(tableName)
	if !ok {
		return RangeAddress{}, false
	}
	sheet, ok := w.sheets.ByID(table.Area.Sheet)
	if !ok {
		return RangeAddress{}, false
	}
	want := toUpperASCII(strings.TrimSpace(column))
	headerRow := table.Area.StartRow
	for col := table.Area.StartCol; col <= table.Area.EndCol; col++ {
		cell, ok := sheet.Cell(headerRow, col)
		if !ok {
			continue
		}
		if toUpperASCII(strings.TrimSpace(cell.Value.AsText())) == want {
			return table.BodyColumn(col)
		}
	}
	return RangeAddress{}, false
}

// resolveCoordValue is the evaluator's view of the store: committed values
// only, reference errors for coordinates on sheets that no longer exist.
func (w *Workbook) resolveCoordValue(c Coord) Value {
	sheet, ok := w.sheets.ByID(c.Sheet)
	if !ok {
		return ErrorOf(ErrKindRef)
	}
	if cell, ok := sheet.Cell(c.Row, c.Col); ok {
		return cell.Value
	}
	return Empty()
}

func (w *Workbook) evalContext(currentSheet uint32) *EvalContext {
	return &EvalContext{
		CurrentSheet: currentSheet,
		Resolve:      w.resolveCoordValue,
		Bounds: func(sheet uint32) (uint32, uint32, bool) {
			s, ok := w.sheets.ByID(sheet)
			if !ok {
				return 0, 0, false
			}
			rows, cols := s.UsedExtent()
			return rows, cols, true
		},
		NamedRange:  w.named.Lookup,
		TableColumn: w.resolveTableColumn,
	}
}

// recalc runs the incremental engine over the dirty set: cells caught in
// cycles settle to circular errors, then each layer evaluates with every
// precedent already committed. Large layers fan out across workers. Caller
// holds the write lock.
func (w *Workbook) recalc() {
	if !w.graph.HasDirty() {
		return
	}
	plan := w.graph.Plan()

	for coord := range plan.Cyclic {
		if sheet, ok := w.sheets.ByID(coord.Sheet); ok {
			if cell, ok := sheet.Cell(coord.Row, coord.Col); ok {
				cell.Value = ErrorOf(ErrKindCircular)
			}
		}
	}

	for _, layer := range plan.Layers {
		w.evalLayer(layer)
	}
	if total := plan.Total(); total > 0 {
		w.log.Debug("recalculated", "cells", total, "layers", len(plan.Layers), "cyclic", len(plan.Cyclic))
	}
}

// evalLayer evaluates one layer. Cells within a layer never read each other,
// so they can run in parallel against the already-committed state.
func (w *Workbook) evalLayer(layer []Coord) {
	evalOne := func(coord Coord) {
		sheet, ok := w.sheets.ByID(coord.Sheet)
		if !ok {
			return
		}
		cell, ok := sheet.Cell(coord.Row, coord.Col)
		if !ok || cell.AST == nil {
			return
		}
		cell.Value = cell.AST.Eval(w.evalContext(coord.Sheet))
	}

	if len(layer) < w.opts.ParallelThreshold || w.opts.RecalcWorkers < 2 {
		for _, coord := range layer {
			evalOne(coord)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (len(layer) + w.opts.RecalcWorkers - 1) / w.opts.RecalcWorkers
	for start := 0; start < len(layer); start += chunk {
		end := min(start+chunk, len(layer))
		wg.Add(1)
		go func(part []Coord) {
			defer wg.Done()
			for _, coord := range part {
				evalOne(coord)
			}
		}(layer[start:end])
	}
	wg.Wait()
}

// recalcAll marks every stored formula dirty and recalculates from scratch.
// Used after loading a file, when no cached values exist yet.
func (w *Workbook) recalcAll() {
	w.sheets.each(func(s *Sheet) {
		s.forEach(func(row, col uint32, c *Cell) {
			if c.IsFormula() {
				w.graph.MarkDirty(Coord{Sheet: s.id, Row: row, Col: col})
			}
		})
	})
	w.recalc()
}
