package xlas

import "fmt"

// Application-level errors cover everything that is not a formula result:
// rejected input, missing sheets, and broken files. Formula errors never
// appear here; they are Values (see value.go).

// ValidationError reports input rejected by a cell's validation rule before
// parsing. The cell is left untouched.
type ValidationError struct {
	Coord Coord
	Rule  *ValidationRule
	Input string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation rejected %q at %s: %s", e.Input, e.Coord, e.Rule.describe())
}

// FileFormatError reports a container whose magic or checksum does not
// match. No workbook state is produced.
type FileFormatError struct {
	Path   string
	Reason string
}

func (e *FileFormatError) Error() string {
	return fmt.Sprintf("not a valid xlas file %q: %s", e.Path, e.Reason)
}

// VersionError reports a container written by a newer major version than
// this package supports.
type VersionError struct {
	Path  string
	Major uint16
	Minor uint16
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("xlas file %q has unsupported format version %d.%d (supported major: %d)",
		e.Path, e.Major, e.Minor, formatMajor)
}

// NotFoundError reports a missing sheet, table or named range.
type NotFoundError struct {
	Kind string // "sheet", "table", "named range", "cell"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// AlreadyExistsError reports a name collision on create or rename.
type AlreadyExistsError struct {
	Kind string
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// InvalidRefError reports a malformed or out-of-bounds address or range
// passed to the public API.
type InvalidRefError struct {
	Ref    string
	Reason string
}

func (e *InvalidRefError) Error() string {
	return fmt.Sprintf("invalid reference %q: %s", e.Ref, e.Reason)
}
