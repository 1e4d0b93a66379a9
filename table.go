package xlas

// Table is a named rectangular region whose first row holds column headers.
// Structured references resolve against the body rows beneath a header.
type Table struct {
	Name string
	Area RangeAddress
}

// HeaderRow returns the header strip of the table.
func (t *Table) HeaderRow() RangeAddress {
	return RangeAddress{
		Sheet:    t.Area.Sheet,
		StartRow: t.Area.StartRow, EndRow: t.Area.StartRow,
		StartCol: t.Area.StartCol, EndCol: t.Area.EndCol,
	}
}

// BodyColumn returns the body cells under one absolute column. The column
// must lie inside the table; the body excludes the header row.
func (t *Table) BodyColumn(col uint32) (RangeAddress, bool) {
	if col < t.Area.StartCol || col > t.Area.EndCol || t.Area.EndRow == t.Area.StartRow {
		return RangeAddress{}, false
	}
	return RangeAddress{
		Sheet:    t.Area.Sheet,
		StartRow: t.Area.StartRow + 1, EndRow: t.Area.EndRow,
		StartCol: col, EndCol: col,
	}, true
}

// TableRegistry holds the workbook's tables. Table names are workbook-wide
// and case-insensitive, since structured references carry no sheet
// qualifier.
type TableRegistry struct {
	tables map[string]*Table
}

// NewTableRegistry creates an empty registry.
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{tables: make(map[string]*Table)}
}

// Define registers a table over a region. The region needs at least a header
// row plus one body row, and the name must be new.
func (r *TableRegistry) Define(name string, area RangeAddress) error {
	if name == "" || isPlainCellRef(name) {
		return &InvalidRefError{Ref: name, Reason: "invalid table name"}
	}
	area = area.Normalize()
	if area.Rows() < 2 {
		return &InvalidRefError{Ref: name, Reason: "table needs a header row and at least one body row"}
	}
	key := toUpperASCII(name)
	if _, exists := r.tables[key]; exists {
		return &AlreadyExistsError{Kind: "table", Name: name}
	}
	r.tables[key] = &Table{Name: name, Area: area}
	return nil
}

// Resize moves a table's region, keeping its name. Formulas holding
// structured references pick the new geometry up on the next recalculation.
func (r *TableRegistry) Resize(name string, area RangeAddress) error {
	table, ok := r.tables[toUpperASCII(name)]
	if !ok {
		return &NotFoundError{Kind: "table", Name: name}
	}
	area = area.Normalize()
	if area.Rows() < 2 {
		return &InvalidRefError{Ref: name, Reason: "table needs a header row and at least one body row"}
	}
	table.Area = area
	return nil
}

// Remove drops a table definition.
func (r *TableRegistry) Remove(name string) error {
	key := toUpperASCII(name)
	if _, ok := r.tables[key]; !ok {
		return &NotFoundError{Kind: "table", Name: name}
	}
	delete(r.tables, key)
	return nil
}

// Get resolves a table by name.
func (r *TableRegistry) Get(name string) (*Table, bool) {
	t, ok := r.tables[toUpperASCII(name)]
	return t, ok
}

// Names lists the registered tables in their original spelling.
func (r *TableRegistry) Names() []string {
	var names []string
	for _, t := range r.tables {
		names = append(names, t.Name)
	}
	return names
}

// dropSheet removes tables anchored to a removed sheet.
func (r *TableRegistry) dropSheet(sheet uint32) {
	for key, t := range r.tables {
		if t.Area.Sheet == sheet {
			delete(r.tables, key)
		}
	}
}
