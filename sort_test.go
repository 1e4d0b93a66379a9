package xlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortFixture(t *testing.T, rows [][2]string) *Workbook {
	t.Helper()
	wb := NewWorkbook(DefaultOptions())
	for i, row := range rows {
		require.NoError(t, wb.SetCellContent("Sheet1", RefString(uint32(i), 0), row[0]))
		if row[1] != "" {
			require.NoError(t, wb.SetCellContent("Sheet1", RefString(uint32(i), 1), row[1]))
		}
	}
	return wb
}

func columnDisplay(t *testing.T, wb *Workbook, col uint32, rows int) []string {
	t.Helper()
	out := make([]string, rows)
	for i := range out {
		v, err := wb.GetDisplayValue("Sheet1", RefString(uint32(i), col))
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func TestSortNumericAscending(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"3", "c"}, {"1", "a"}, {"2", "b"}})
	require.NoError(t, wb.SortRange("Sheet1", "A1:B3", []SortKey{{Column: 0}}))
	assert.Equal(t, []string{"1", "2", "3"}, columnDisplay(t, wb, 0, 3))
	assert.Equal(t, []string{"a", "b", "c"}, columnDisplay(t, wb, 1, 3), "whole rows move together")
}

func TestSortDescending(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"1", ""}, {"3", ""}, {"2", ""}})
	require.NoError(t, wb.SortRange("Sheet1", "A1:A3", []SortKey{{Column: 0, Order: Descending}}))
	assert.Equal(t, []string{"3", "2", "1"}, columnDisplay(t, wb, 0, 3))
}

func TestSortIsStable(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"1", "first"}, {"1", "second"}, {"0", "zero"}, {"1", "third"}})
	require.NoError(t, wb.SortRange("Sheet1", "A1:B4", []SortKey{{Column: 0}}))
	assert.Equal(t, []string{"zero", "first", "second", "third"}, columnDisplay(t, wb, 1, 4))
}

func TestSortMultiKey(t *testing.T) {
	wb := sortFixture(t, [][2]string{
		{"b", "2"},
		{"a", "2"},
		{"b", "1"},
		{"a", "1"},
	})
	require.NoError(t, wb.SortRange("Sheet1", "A1:B4", []SortKey{
		{Column: 0},
		{Column: 1, Order: Descending},
	}))
	assert.Equal(t, []string{"a", "a", "b", "b"}, columnDisplay(t, wb, 0, 4))
	assert.Equal(t, []string{"2", "1", "2", "1"}, columnDisplay(t, wb, 1, 4))
}

func TestSortTypeTiers(t *testing.T) {
	// default tiers put numbers before text; blanks always land last
	wb := sortFixture(t, [][2]string{{"pear", ""}, {"", ""}, {"10", ""}, {"apple", ""}, {"2", ""}})
	require.NoError(t, wb.SortRange("Sheet1", "A1:A5", []SortKey{{Column: 0}}))
	assert.Equal(t, []string{"2", "10", "apple", "pear", ""}, columnDisplay(t, wb, 0, 5))
}

func TestSortBlanksLastDescending(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"", ""}, {"1", ""}, {"3", ""}})
	require.NoError(t, wb.SortRange("Sheet1", "A1:A3", []SortKey{{Column: 0, Order: Descending}}))
	assert.Equal(t, []string{"3", "1", ""}, columnDisplay(t, wb, 0, 3))
}

func TestSortTextCaseInsensitive(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"banana", ""}, {"Apple", ""}, {"cherry", ""}})
	require.NoError(t, wb.SortRange("Sheet1", "A1:A3", []SortKey{{Column: 0}}))
	assert.Equal(t, []string{"Apple", "banana", "cherry"}, columnDisplay(t, wb, 0, 3))
}

func TestSortRelocatesFormulaEdges(t *testing.T) {
	wb := NewWorkbook(DefaultOptions())
	require.NoError(t, wb.SetCellContent("Sheet1", "D1", "100"))
	require.NoError(t, wb.SetCellContent("Sheet1", "A1", "2"))
	require.NoError(t, wb.SetCellContent("Sheet1", "B1", "=D1*2"))
	require.NoError(t, wb.SetCellContent("Sheet1", "A2", "1"))
	require.NoError(t, wb.SetCellContent("Sheet1", "B2", "=D1*3"))

	require.NoError(t, wb.SortRange("Sheet1", "A1:B2", []SortKey{{Column: 0}}))

	// rows swapped; formula text and its out-of-range target are untouched
	raw, _ := wb.GetRawContent("Sheet1", "B1")
	assert.Equal(t, "=D1*3", raw)
	v, _ := wb.GetValue("Sheet1", "B1")
	assert.Equal(t, Number(300), v)
	v, _ = wb.GetValue("Sheet1", "B2")
	assert.Equal(t, Number(200), v)

	// the relocated edges stay live: updating the precedent reaches both
	require.NoError(t, wb.SetCellContent("Sheet1", "D1", "10"))
	v, _ = wb.GetValue("Sheet1", "B1")
	assert.Equal(t, Number(30), v)
	v, _ = wb.GetValue("Sheet1", "B2")
	assert.Equal(t, Number(20), v)
}

func TestSortOutsideReferenceSeesNewOccupant(t *testing.T) {
	wb := NewWorkbook(DefaultOptions())
	require.NoError(t, wb.SetCellContent("Sheet1", "A1", "9"))
	require.NoError(t, wb.SetCellContent("Sheet1", "A2", "1"))
	require.NoError(t, wb.SetCellContent("Sheet1", "C1", "=A1"))

	require.NoError(t, wb.SortRange("Sheet1", "A1:A2", []SortKey{{Column: 0}}))

	// C1 still points at the coordinate A1, which now holds 1
	v, _ := wb.GetValue("Sheet1", "C1")
	assert.Equal(t, Number(1), v)
}

func TestSortMovesFormatKeepsValidation(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"2", ""}, {"1", ""}})
	require.NoError(t, wb.SetFormat("Sheet1", "A1", Format{Bold: true}))
	rule := &ValidationRule{Kind: ValidateNumber}
	require.NoError(t, wb.SetValidation("Sheet1", "A2", rule))

	require.NoError(t, wb.SortRange("Sheet1", "A1:A2", []SortKey{{Column: 0}}))

	format, _ := wb.GetFormat("Sheet1", "A2")
	assert.True(t, format.Bold, "format travels with the content")
	format, _ = wb.GetFormat("Sheet1", "A1")
	assert.False(t, format.Bold)

	sheet, _ := wb.sheets.ByName("Sheet1")
	a2, ok := sheet.Cell(1, 0)
	require.True(t, ok)
	assert.Equal(t, rule, a2.Validation, "validation stays pinned to the coordinate")
	a1, ok := sheet.Cell(0, 0)
	require.True(t, ok)
	assert.Nil(t, a1.Validation)
}

func TestSortRejectsBadKeys(t *testing.T) {
	wb := sortFixture(t, [][2]string{{"1", ""}})
	assert.Error(t, wb.SortRange("Sheet1", "A1:B2", nil))
	assert.Error(t, wb.SortRange("Sheet1", "A1:B2", []SortKey{{Column: 5}}))
}
