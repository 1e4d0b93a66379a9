package xlas

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// .xlas container layout, little-endian throughout:
//
//	magic "XLAS"
//	major, minor uint16
//	workbook UUID (16 bytes)
//	string table
//	sheet sections (name, named ranges, cell records)
//	table sections
//	CRC-32 (IEEE) of everything above
//
// Cell records carry their format and validation payloads behind length
// prefixes, so a reader of an older minor revision can skip fields it does
// not know.
const (
	formatMagic = "XLAS"
	formatMajor = 1
	formatMinor = 1
)

var byteOrder = binary.LittleEndian

// binWriter accumulates the encoded file. Writes to a bytes.Buffer cannot
// fail, so no error plumbing.
type binWriter struct {
	buf bytes.Buffer
}

func (w *binWriter) u8(v uint8)    { w.buf.WriteByte(v) }
func (w *binWriter) u16(v uint16)  { binary.Write(&w.buf, byteOrder, v) }
func (w *binWriter) u32(v uint32)  { binary.Write(&w.buf, byteOrder, v) }
func (w *binWriter) f64(v float64) { binary.Write(&w.buf, byteOrder, v) }
func (w *binWriter) raw(b []byte)  { w.buf.Write(b) }

func (w *binWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *binWriter) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// binReader decodes with a sticky error so callers check once at section
// boundaries.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) fail(reason string) {
	if r.err == nil {
		r.err = fmt.Errorf("%s at offset %d", reason, r.pos)
	}
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.fail("truncated data")
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *binReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return byteOrder.Uint16(b)
}

func (r *binReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return byteOrder.Uint32(b)
}

func (r *binReader) f64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(byteOrder.Uint64(b))
}

func (r *binReader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if uint32(len(r.data)-r.pos) < n {
		r.fail("truncated string")
		return ""
	}
	return string(r.take(int(n)))
}

func (r *binReader) bool() bool { return r.u8() != 0 }

// Save writes the workbook to path atomically: encode, checksum, write to a
// temp file in the same directory, rename over the target.
func (w *Workbook) Save(path string) error {
	w.mu.RLock()
	data := w.encode()
	w.mu.RUnlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".xlas-*")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save %s: %w", path, err)
	}
	w.log.Debug("workbook saved", "path", path, "bytes", len(data))
	return nil
}

func (w *Workbook) encode() []byte {
	strs := NewStringTable()

	// intern everything up front so the table precedes its users
	type cellRecord struct {
		row, col uint32
		cell     *Cell
	}
	type sheetSection struct {
		sheet *Sheet
		cells []cellRecord
	}
	var sections []sheetSection
	w.sheets.each(func(s *Sheet) {
		strs.Intern(s.name)
		section := sheetSection{sheet: s}
		s.forEach(func(row, col uint32, c *Cell) {
			strs.Intern(c.Raw)
			if !c.Format.IsZero() {
				strs.Intern(c.Format.FontFamily)
				strs.Intern(c.Format.Color)
				strs.Intern(c.Format.Background)
			}
			if c.Validation != nil {
				for _, allowed := range c.Validation.Allowed {
					strs.Intern(allowed)
				}
			}
			section.cells = append(section.cells, cellRecord{row, col, c})
		})
		sections = append(sections, section)
	})
	for _, spelled := range w.named.display {
		strs.Intern(spelled)
	}
	for _, t := range w.tables.tables {
		strs.Intern(t.Name)
	}

	enc := &binWriter{}
	enc.raw([]byte(formatMagic))
	enc.u16(formatMajor)
	enc.u16(formatMinor)
	enc.raw(w.id[:])

	all := strs.All()
	enc.u32(uint32(len(all)))
	for _, s := range all {
		enc.str(s)
	}

	enc.u32(uint32(len(sections)))
	for _, section := range sections {
		s := section.sheet
		enc.u32(strs.Intern(s.name))
		rows, cols := s.UsedExtent()
		enc.u32(rows)
		enc.u32(cols)

		names := w.named.Names(s.id)
		enc.u32(uint32(len(names)))
		for _, name := range names {
			addr, _ := w.named.Lookup(s.id, name)
			enc.u32(strs.Intern(name))
			enc.u32(addr.StartRow)
			enc.u32(addr.StartCol)
			enc.u32(addr.EndRow)
			enc.u32(addr.EndCol)
		}

		enc.u32(uint32(len(section.cells)))
		for _, rec := range section.cells {
			enc.u32(rec.row)
			enc.u32(rec.col)
			enc.u32(strs.Intern(rec.cell.Raw))
			encodeValueHint(enc, strs, rec.cell.Value)
			encodeFormatBlock(enc, strs, rec.cell.Format)
			encodeValidationBlock(enc, strs, rec.cell.Validation)
		}
	}

	// tables reference their sheet by name since sheet IDs are not stable
	// across processes
	var tables []*Table
	for _, t := range w.tables.tables {
		tables = append(tables, t)
	}
	enc.u32(uint32(len(tables)))
	for _, t := range tables {
		sheet, _ := w.sheets.ByID(t.Area.Sheet)
		enc.u32(strs.Intern(t.Name))
		enc.u32(strs.Intern(sheet.name))
		enc.u32(t.Area.StartRow)
		enc.u32(t.Area.StartCol)
		enc.u32(t.Area.EndRow)
		enc.u32(t.Area.EndCol)
	}

	body := enc.buf.Bytes()
	sum := crc32.ChecksumIEEE(body)
	var trailer [4]byte
	byteOrder.PutUint32(trailer[:], sum)
	return append(body, trailer[:]...)
}

// encodeValueHint stores the cached value so a reader can show content
// before its first recalculation finishes. It is a hint only; load always
// recalculates formulas from scratch.
func encodeValueHint(enc *binWriter, strs *StringTable, v Value) {
	enc.u8(uint8(v.Kind))
	switch v.Kind {
	case KindNumber:
		enc.f64(v.Num)
	case KindText:
		enc.u32(strs.Intern(v.Str))
	case KindBool:
		enc.bool(v.Bool)
	case KindError:
		enc.u8(uint8(v.Err))
	}
}

func decodeValueHint(r *binReader, lookup func(uint32) string) Value {
	kind := ValueKind(r.u8())
	switch kind {
	case KindNumber:
		return Number(r.f64())
	case KindText:
		return Text(lookup(r.u32()))
	case KindBool:
		return Boolean(r.bool())
	case KindError:
		return ErrorOf(ErrorKind(r.u8()))
	}
	return Empty()
}

func encodeFormatBlock(enc *binWriter, strs *StringTable, f Format) {
	if f.IsZero() {
		enc.u32(0)
		return
	}
	var block binWriter
	block.u32(strs.Intern(f.FontFamily))
	block.u16(f.FontSize)
	block.bool(f.Bold)
	block.bool(f.Italic)
	block.u32(strs.Intern(f.Color))
	block.u32(strs.Intern(f.Background))
	block.u8(uint8(f.Align))
	enc.u32(uint32(block.buf.Len()))
	enc.raw(block.buf.Bytes())
}

func encodeValidationBlock(enc *binWriter, strs *StringTable, rule *ValidationRule) {
	if rule == nil {
		enc.u32(0)
		return
	}
	var block binWriter
	block.u8(uint8(rule.Kind))
	var flags uint8
	if rule.Min != nil {
		flags |= 1
	}
	if rule.Max != nil {
		flags |= 2
	}
	if rule.Integer {
		flags |= 4
	}
	block.u8(flags)
	if rule.Min != nil {
		block.f64(*rule.Min)
	}
	if rule.Max != nil {
		block.f64(*rule.Max)
	}
	block.u32(uint32(len(rule.Allowed)))
	for _, allowed := range rule.Allowed {
		block.u32(strs.Intern(allowed))
	}
	enc.u32(uint32(block.buf.Len()))
	enc.raw(block.buf.Bytes())
}

// LoadWorkbook reads a .xlas file, rebuilds the store and dependency graph,
// and recalculates every formula from scratch. Verification order: magic,
// checksum, version, then structure.
func LoadWorkbook(path string, opts Options) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if len(data) < len(formatMagic)+4+16+4 {
		return nil, &FileFormatError{Path: path, Reason: "file too short"}
	}
	if string(data[:len(formatMagic)]) != formatMagic {
		return nil, &FileFormatError{Path: path, Reason: "bad magic"}
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != byteOrder.Uint32(trailer) {
		return nil, &FileFormatError{Path: path, Reason: "checksum mismatch"}
	}

	r := &binReader{data: body, pos: len(formatMagic)}
	major := r.u16()
	minor := r.u16()
	if major != formatMajor {
		return nil, &VersionError{Path: path, Major: major, Minor: minor}
	}

	var id uuid.UUID
	copy(id[:], r.take(16))

	strCount := r.u32()
	strs := make([]string, 0, strCount)
	for i := uint32(0); i < strCount && r.err == nil; i++ {
		strs = append(strs, r.str())
	}
	lookup := func(strID uint32) string {
		if strID >= uint32(len(strs)) {
			r.fail("string id out of range")
			return ""
		}
		return strs[strID]
	}

	w := newEmptyWorkbook(opts)
	w.id = id
	w.log = w.log.With("workbook", id.String())

	type pendingFormula struct {
		sheet *Sheet
		coord Coord
	}
	var formulas []pendingFormula

	sheetCount := r.u32()
	for i := uint32(0); i < sheetCount && r.err == nil; i++ {
		sheet, err := w.sheets.Add(lookup(r.u32()))
		if err != nil {
			return nil, &FileFormatError{Path: path, Reason: err.Error()}
		}
		r.u32() // declared rows, informational
		r.u32() // declared cols

		nameCount := r.u32()
		for j := uint32(0); j < nameCount && r.err == nil; j++ {
			name := lookup(r.u32())
			addr := RangeAddress{
				Sheet:    sheet.id,
				StartRow: r.u32(), StartCol: r.u32(),
				EndRow: r.u32(), EndCol: r.u32(),
			}
			if err := w.named.Define(name, addr); err != nil {
				return nil, &FileFormatError{Path: path, Reason: err.Error()}
			}
		}

		cellCount := r.u32()
		for j := uint32(0); j < cellCount && r.err == nil; j++ {
			row, col := r.u32(), r.u32()
			raw := lookup(r.u32())
			hint := decodeValueHint(r, lookup)
			format := decodeFormatBlock(r, lookup)
			validation := decodeValidationBlock(r, lookup)
			if r.err != nil {
				break
			}

			cell := sheet.ensureCell(row, col)
			cell.Raw = raw
			cell.Value = hint
			cell.Format = format
			cell.Validation = validation
			coord := Coord{Sheet: sheet.id, Row: row, Col: col}
			if cell.IsFormula() {
				formulas = append(formulas, pendingFormula{sheet, coord})
			} else if raw != "" {
				cell.Value = parseLiteral(raw)
			}
		}
	}

	tableCount := r.u32()
	for i := uint32(0); i < tableCount && r.err == nil; i++ {
		name := lookup(r.u32())
		sheetName := lookup(r.u32())
		area := RangeAddress{
			StartRow: r.u32(), StartCol: r.u32(),
			EndRow: r.u32(), EndCol: r.u32(),
		}
		sheet, ok := w.sheets.ByName(sheetName)
		if !ok {
			return nil, &FileFormatError{Path: path, Reason: "table references unknown sheet " + sheetName}
		}
		area.Sheet = sheet.id
		if err := w.tables.Define(name, area); err != nil {
			return nil, &FileFormatError{Path: path, Reason: err.Error()}
		}
	}

	if r.err != nil {
		return nil, &FileFormatError{Path: path, Reason: r.err.Error()}
	}
	if w.sheets.Len() == 0 {
		return nil, &FileFormatError{Path: path, Reason: "no sheets"}
	}

	// rebuild the graph from stored formula text, then recalculate all of it
	for _, pending := range formulas {
		cell, _ := pending.sheet.Cell(pending.coord.Row, pending.coord.Col)
		ast, parseErr := ParseFormula(cell.Raw, &ParserContext{
			CurrentSheet: pending.sheet.id,
			InternSheet:  w.sheets.Intern,
		})
		if parseErr != nil {
			cell.Value = ErrorOf(ErrKindParse)
			continue
		}
		cell.AST = ast
		refs, dynamic := w.extractRefs(ast, pending.sheet.id)
		if dynamic {
			w.dynamicRefs[pending.coord] = struct{}{}
		}
		w.graph.SetRefs(pending.coord, refs)
	}
	w.recalcAll()
	if minor > formatMinor {
		w.log.Warn("file written by newer revision, unknown fields skipped",
			"path", path, "minor", minor)
	}
	w.log.Debug("workbook loaded", "path", path, "sheets", w.sheets.Len())
	return w, nil
}

func decodeFormatBlock(r *binReader, lookup func(uint32) string) Format {
	blockLen := r.u32()
	if blockLen == 0 || r.err != nil {
		return Format{}
	}
	end := r.pos + int(blockLen)
	f := Format{
		FontFamily: lookup(r.u32()),
		FontSize:   r.u16(),
		Bold:       r.bool(),
		Italic:     r.bool(),
	}
	f.Color = lookup(r.u32())
	f.Background = lookup(r.u32())
	f.Align = Alignment(r.u8())
	// skip fields added by newer minor revisions
	if r.err == nil && r.pos < end && end <= len(r.data) {
		r.pos = end
	}
	return f
}

func decodeValidationBlock(r *binReader, lookup func(uint32) string) *ValidationRule {
	blockLen := r.u32()
	if blockLen == 0 || r.err != nil {
		return nil
	}
	end := r.pos + int(blockLen)
	rule := &ValidationRule{Kind: ValidationKind(r.u8())}
	flags := r.u8()
	if flags&1 != 0 {
		v := r.f64()
		rule.Min = &v
	}
	if flags&2 != 0 {
		v := r.f64()
		rule.Max = &v
	}
	rule.Integer = flags&4 != 0
	allowedCount := r.u32()
	for i := uint32(0); i < allowedCount && r.err == nil; i++ {
		rule.Allowed = append(rule.Allowed, lookup(r.u32()))
	}
	if r.err == nil && r.pos < end && end <= len(r.data) {
		r.pos = end
	}
	return rule
}
