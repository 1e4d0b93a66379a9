package xlas

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleWorkbook(t *testing.T) *Workbook {
	t.Helper()
	wb := NewWorkbook(DefaultOptions())
	require.NoError(t, wb.AddSheet("Data"))

	require.NoError(t, wb.SetCellContent("Sheet1", "A1", "1"))
	require.NoError(t, wb.SetCellContent("Sheet1", "A2", "2"))
	require.NoError(t, wb.SetCellContent("Sheet1", "A3", "=SUM(A1:A2)*Data!B1"))
	require.NoError(t, wb.SetCellContent("Sheet1", "A4", `=IF(`)) // kept as a parse error
	require.NoError(t, wb.SetCellContent("Sheet1", "B1", "note"))
	require.NoError(t, wb.SetCellContent("Data", "B1", "10"))

	require.NoError(t, wb.SetFormat("Sheet1", "A1", Format{
		FontFamily: "Inter", FontSize: 12, Bold: true,
		Color: "#212121", Background: "#FFF8E1", Align: AlignRight,
	}))
	lo, hi := 0.0, 100.0
	require.NoError(t, wb.SetValidation("Sheet1", "A2", &ValidationRule{
		Kind: ValidateRange, Min: &lo, Max: &hi, Integer: true,
	}))
	require.NoError(t, wb.DefineNamedRange("Sheet1", "Inputs", "A1:A2"))
	require.NoError(t, wb.SetCellContent("Data", "A1", "H"))
	require.NoError(t, wb.SetCellContent("Data", "A2", "5"))
	require.NoError(t, wb.DefineTable("T", "Data", "A1:A2"))
	return wb
}

func saveToTemp(t *testing.T, wb *Workbook) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.xlas")
	require.NoError(t, wb.Save(path))
	return path
}

func TestCodecRoundTrip(t *testing.T) {
	wb := buildSampleWorkbook(t)
	path := saveToTemp(t, wb)

	loaded, err := LoadWorkbook(path, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, wb.ID(), loaded.ID(), "workbook identity must survive")
	assert.Equal(t, wb.SheetNames(), loaded.SheetNames())

	// raw content, byte for byte
	for _, ref := range []string{"A1", "A2", "A3", "A4", "B1"} {
		want, _ := wb.GetRawContent("Sheet1", ref)
		got, err := loaded.GetRawContent("Sheet1", ref)
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw content of %s", ref)
	}

	// values equal a from-scratch recalculation
	for _, ref := range []string{"A1", "A2", "A3", "A4"} {
		want, _ := wb.GetValue("Sheet1", ref)
		got, _ := loaded.GetValue("Sheet1", ref)
		assert.True(t, got.Equal(want), "%s: loaded %s, want %s", ref, got.Display(), want.Display())
	}
	v, _ := loaded.GetValue("Sheet1", "A3")
	assert.Equal(t, Number(30), v)

	format, err := loaded.GetFormat("Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, Format{
		FontFamily: "Inter", FontSize: 12, Bold: true,
		Color: "#212121", Background: "#FFF8E1", Align: AlignRight,
	}, format)

	// the validation rule still rejects out-of-range input
	err = loaded.SetCellContent("Sheet1", "A2", "150")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	names, err := loaded.NamedRanges("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Inputs"}, names)
	assert.Equal(t, []string{"T"}, loaded.TableNames())
}

func TestCodecLoadedGraphIsLive(t *testing.T) {
	wb := buildSampleWorkbook(t)
	path := saveToTemp(t, wb)
	loaded, err := LoadWorkbook(path, DefaultOptions())
	require.NoError(t, err)

	// edits after load must propagate, proving the graph was re-derived
	require.NoError(t, loaded.SetCellContent("Data", "B1", "100"))
	v, _ := loaded.GetValue("Sheet1", "A3")
	assert.Equal(t, Number(300), v)
}

func TestCodecRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlas")
	require.NoError(t, os.WriteFile(path, []byte("NOPE this is not a workbook"), 0o644))

	_, err := LoadWorkbook(path, DefaultOptions())
	var formatErr *FileFormatError
	assert.ErrorAs(t, err, &formatErr)
}

func TestCodecRejectsCorruption(t *testing.T) {
	wb := buildSampleWorkbook(t)
	path := saveToTemp(t, wb)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadWorkbook(path, DefaultOptions())
	var formatErr *FileFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Contains(t, formatErr.Reason, "checksum")
}

func TestCodecRejectsTruncation(t *testing.T) {
	wb := buildSampleWorkbook(t)
	path := saveToTemp(t, wb)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/3], 0o644))

	_, err = LoadWorkbook(path, DefaultOptions())
	var formatErr *FileFormatError
	assert.ErrorAs(t, err, &formatErr)
}

func TestCodecRejectsNewerMajorVersion(t *testing.T) {
	wb := NewWorkbook(DefaultOptions())
	require.NoError(t, wb.SetCellContent("Sheet1", "A1", "1"))
	path := saveToTemp(t, wb)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// bump the major version field and rewrite the trailing checksum
	byteOrder.PutUint16(data[4:6], formatMajor+1)
	body := data[:len(data)-4]
	byteOrder.PutUint32(data[len(data)-4:], crc32.ChecksumIEEE(body))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadWorkbook(path, DefaultOptions())
	var versionErr *VersionError
	require.ErrorAs(t, err, &versionErr)
	assert.Equal(t, uint16(formatMajor+1), versionErr.Major)
}

func TestCodecMissingFile(t *testing.T) {
	_, err := LoadWorkbook(filepath.Join(t.TempDir(), "absent.xlas"), DefaultOptions())
	assert.Error(t, err)
}

func TestCodecSaveIsAtomic(t *testing.T) {
	wb := buildSampleWorkbook(t)
	path := saveToTemp(t, wb)

	// overwriting an existing file must leave either the old or new content
	require.NoError(t, wb.SetCellContent("Sheet1", "A1", "999"))
	require.NoError(t, wb.Save(path))
	loaded, err := LoadWorkbook(path, DefaultOptions())
	require.NoError(t, err)
	v, _ := loaded.GetValue("Sheet1", "A1")
	assert.Equal(t, Number(999), v)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
