package xlas

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX writes the workbook as an .xlsx file so it opens in Excel.
// Formula text passes through as-is (the grammar is a shared subset);
// formatting is mapped best-effort. This path makes none of the .xlas
// round-trip guarantees.
func (w *Workbook) ExportXLSX(path string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	f := excelize.NewFile()
	defer f.Close()

	first := true
	var exportErr error
	w.sheets.each(func(s *Sheet) {
		if exportErr != nil {
			return
		}
		if first {
			exportErr = f.SetSheetName(f.GetSheetName(0), s.name)
			first = false
		} else {
			_, exportErr = f.NewSheet(s.name)
		}
		if exportErr != nil {
			return
		}
		s.forEach(func(row, col uint32, c *Cell) {
			if exportErr != nil {
				return
			}
			axis, err := excelize.CoordinatesToCellName(int(col)+1, int(row)+1)
			if err != nil {
				exportErr = err
				return
			}
			if c.IsFormula() {
				exportErr = f.SetCellFormula(s.name, axis, strings.TrimPrefix(c.Raw, "="))
			} else if c.Raw != "" {
				exportErr = setTypedCell(f, s.name, axis, c.Value)
			}
			if exportErr == nil && !c.Format.IsZero() {
				exportErr = applyCellStyle(f, s.name, axis, c.Format)
			}
		})

		for _, name := range w.named.Names(s.id) {
			if exportErr != nil {
				return
			}
			addr, _ := w.named.Lookup(s.id, name)
			exportErr = f.SetDefinedName(&excelize.DefinedName{
				Name:     name,
				RefersTo: fmt.Sprintf("%s!%s", s.name, addr.String()),
				Scope:    s.name,
			})
		}
	})
	if exportErr != nil {
		return fmt.Errorf("export %s: %w", path, exportErr)
	}

	for _, t := range w.tables.tables {
		sheet, ok := w.sheets.ByID(t.Area.Sheet)
		if !ok {
			continue
		}
		if err := f.AddTable(sheet.name, &excelize.Table{
			Name:  t.Name,
			Range: t.Area.String(),
		}); err != nil {
			return fmt.Errorf("export %s: table %s: %w", path, t.Name, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	w.log.Debug("workbook exported", "path", path)
	return nil
}

func setTypedCell(f *excelize.File, sheet, axis string, v Value) error {
	switch v.Kind {
	case KindNumber:
		return f.SetCellValue(sheet, axis, v.Num)
	case KindBool:
		return f.SetCellBool(sheet, axis, v.Bool)
	default:
		return f.SetCellStr(sheet, axis, v.AsText())
	}
}

func applyCellStyle(f *excelize.File, sheet, axis string, format Format) error {
	style := &excelize.Style{}
	if format.FontFamily != "" || format.FontSize != 0 || format.Bold || format.Italic || format.Color != "" {
		style.Font = &excelize.Font{
			Family: format.FontFamily,
			Size:   float64(format.FontSize),
			Bold:   format.Bold,
			Italic: format.Italic,
			Color:  strings.TrimPrefix(format.Color, "#"),
		}
	}
	if format.Background != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{strings.TrimPrefix(format.Background, "#")},
		}
	}
	switch format.Align {
	case AlignLeft:
		style.Alignment = &excelize.Alignment{Horizontal: "left"}
	case AlignCenter:
		style.Alignment = &excelize.Alignment{Horizontal: "center"}
	case AlignRight:
		style.Alignment = &excelize.Alignment{Horizontal: "right"}
	}
	styleID, err := f.NewStyle(style)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, axis, axis, styleID)
}

// ImportXLSX builds a workbook from an .xlsx file. Formulas are re-parsed
// under this engine's grammar; constructs outside it surface per-cell as
// parse errors rather than failing the import. Styles, tables and defined
// names are not imported.
func ImportXLSX(path string, opts Options) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	defer f.Close()

	w := newEmptyWorkbook(opts)
	for _, sheetName := range f.GetSheetList() {
		sheet, err := w.sheets.Add(sheetName)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", path, err)
		}
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", path, err)
		}
		for rowIdx, rowCells := range rows {
			for colIdx, text := range rowCells {
				axis, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
				if err != nil {
					return nil, fmt.Errorf("import %s: %w", path, err)
				}
				formula, err := f.GetCellFormula(sheetName, axis)
				if err != nil {
					return nil, fmt.Errorf("import %s: %w", path, err)
				}
				raw := text
				if formula != "" {
					raw = "=" + formula
				}
				if raw == "" {
					continue
				}
				if uint32(rowIdx) >= opts.MaxRows || uint32(colIdx) >= opts.MaxCols {
					continue
				}
				cell := sheet.ensureCell(uint32(rowIdx), uint32(colIdx))
				cell.Raw = raw
				if !cell.IsFormula() {
					cell.Value = parseLiteral(raw)
				}
			}
		}
	}
	if w.sheets.Len() == 0 {
		w.sheets.Add("Sheet1")
	}

	// second pass once every sheet exists, so cross-sheet references bind
	w.sheets.each(func(s *Sheet) {
		s.forEach(func(row, col uint32, c *Cell) {
			if !c.IsFormula() {
				return
			}
			coord := Coord{Sheet: s.id, Row: row, Col: col}
			ast, parseErr := ParseFormula(c.Raw, &ParserContext{
				CurrentSheet: s.id,
				InternSheet:  w.sheets.Intern,
			})
			if parseErr != nil {
				c.Value = ErrorOf(ErrKindParse)
				return
			}
			c.AST = ast
			refs, dynamic := w.extractRefs(ast, s.id)
			if dynamic {
				w.dynamicRefs[coord] = struct{}{}
			}
			w.graph.SetRefs(coord, refs)
		})
	})
	w.recalcAll()
	w.log.Debug("workbook imported", "path", path, "sheets", w.sheets.Len())
	return w, nil
}
