package xlas

// StringTable interns strings for the file codec so repeated cell content is
// stored once. ID 0 is always the empty string.
type StringTable struct {
	ids     map[string]uint32
	strings []string
}

// NewStringTable creates a table pre-seeded with the empty string.
func NewStringTable() *StringTable {
	t := &StringTable{ids: make(map[string]uint32)}
	t.Intern("")
	return t
}

// Intern returns the stable ID for a string, assigning one on first sight.
func (t *StringTable) Intern(s string) uint32 {
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := uint32(len(t.strings))
	t.ids[s] = id
	t.strings = append(t.strings, s)
	return id
}

// Lookup resolves an ID back to its string.
func (t *StringTable) Lookup(id uint32) (string, bool) {
	if id >= uint32(len(t.strings)) {
		return "", false
	}
	return t.strings[id], true
}

// Len returns the number of interned strings.
func (t *StringTable) Len() int { return len(t.strings) }

// All returns the interned strings in ID order.
func (t *StringTable) All() []string { return t.strings }
