package xlas

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord addresses one cell in the workbook. Sheet is the interned sheet ID
// (stable across renames), Row and Col are zero-based.
type Coord struct {
	Sheet uint32
	Row   uint32
	Col   uint32
}

func (c Coord) String() string {
	return fmt.Sprintf("sheet[%d]!%s", c.Sheet, RefString(c.Row, c.Col))
}

// Alignment of cell text within the grid. Opaque to evaluation; stored and
// round-tripped only.
type Alignment uint8

const (
	AlignDefault Alignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// Format carries the display metadata the core stores but never interprets:
// font family and point size, bold/italic, text and background colors,
// alignment.
type Format struct {
	FontFamily string
	FontSize   uint16
	Bold       bool
	Italic     bool
	Color      string // text color, e.g. "#212121"
	Background string // fill color
	Align      Alignment
}

// IsZero reports whether no attribute is set.
func (f Format) IsZero() bool {
	return f == Format{}
}

// Cell is one materialized grid entry: the editable raw content, the parsed
// formula (nil for literals), the cached evaluation result, and the
// formatting/validation metadata. A coordinate with no content and no
// metadata is never materialized.
type Cell struct {
	Raw        string // original source text: literal or "=..." formula
	AST        Node   // rebuilt atomically with Raw; nil unless Raw is a formula
	Value      Value  // cached result of the last completed recalculation
	Format     Format
	Validation *ValidationRule
}

// IsFormula reports whether the raw content is formula text.
func (c *Cell) IsFormula() bool {
	return strings.HasPrefix(c.Raw, "=")
}

// isEmptyShell reports whether the cell carries nothing worth retaining
// once its content is cleared.
func (c *Cell) isEmptyShell() bool {
	return c.Raw == "" && c.Format.IsZero() && c.Validation == nil
}

// ColName converts a zero-based column index to letters (0 -> A, 26 -> AA).
func ColName(col uint32) string {
	var buf [8]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('A' + col%26)
		if col < 26 {
			break
		}
		col = col/26 - 1
	}
	return string(buf[i:])
}

// RefString renders a zero-based (row, col) pair in A1 notation.
func RefString(row, col uint32) string {
	return ColName(col) + strconv.FormatUint(uint64(row)+1, 10)
}

// ParseRef parses an A1-style reference, tolerating and reporting absolute
// markers. It rejects sheet qualifiers; callers split those off first.
func ParseRef(ref string) (row, col uint32, absRow, absCol bool, err error) {
	s := ref
	if strings.HasPrefix(s, "$") {
		absCol = true
		s = s[1:]
	}

	letterEnd := 0
	for letterEnd < len(s) {
		ch := s[letterEnd]
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
			letterEnd++
		} else {
			break
		}
	}
	if letterEnd == 0 || letterEnd > 7 {
		return 0, 0, false, false, &InvalidRefError{Ref: ref, Reason: "missing column letters"}
	}

	var c uint64
	for _, ch := range strings.ToUpper(s[:letterEnd]) {
		c = c*26 + uint64(ch-'A'+1)
	}
	c-- // back to zero-based
	if c > 1<<32-1 {
		return 0, 0, false, false, &InvalidRefError{Ref: ref, Reason: "column out of range"}
	}

	rest := s[letterEnd:]
	if strings.HasPrefix(rest, "$") {
		absRow = true
		rest = rest[1:]
	}
	n, convErr := strconv.ParseUint(rest, 10, 32)
	if convErr != nil || n < 1 {
		return 0, 0, false, false, &InvalidRefError{Ref: ref, Reason: "missing or invalid row number"}
	}

	return uint32(n - 1), uint32(c), absRow, absCol, nil
}

// ParseRangeRef parses "A1:B9" into a normalized top-left/bottom-right
// rectangle regardless of the written corner order. A single reference
// parses as a 1x1 rectangle.
func ParseRangeRef(ref string) (startRow, startCol, endRow, endCol uint32, err error) {
	colon := strings.Index(ref, ":")
	if colon < 0 {
		r, c, _, _, err := ParseRef(ref)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		return r, c, r, c, nil
	}

	r1, c1, _, _, err := ParseRef(ref[:colon])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	r2, c2, _, _, err := ParseRef(ref[colon+1:])
	if err != nil {
		return 0, 0, 0, 0, err
	}

	return min(r1, r2), min(c1, c2), max(r1, r2), max(c1, c2), nil
}
