// Package strintmap maps protocol tokens (HTTP methods, header names) to
// integer identifiers and back.
//
// A Table is kept sorted by upper-cased name so lookups are a binary search.
// Case-sensitive lookups still compare against the original spelling.
package strintmap

import (
	"sort"
	"strings"
)

// NotFound is returned by ID when no entry matches.
const NotFound = -1

// Entry pairs a token with its identifier.
type Entry struct {
	Name string
	ID   int
}

// Table is an immutable, sorted set of entries.
type Table struct {
	entries []Entry
	upper   []string
}

// NewTable builds a Table from entries. The input slice is not modified.
func NewTable(entries ...Entry) *Table {
	t := &Table{entries: append([]Entry(nil), entries...)}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return strings.ToUpper(t.entries[i].Name) < strings.ToUpper(t.entries[j].Name)
	})
	t.upper = make([]string, len(t.entries))
	for i, e := range t.entries {
		t.upper[i] = strings.ToUpper(e.Name)
	}
	return t
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// ID returns the identifier for name, or NotFound.
func (t *Table) ID(name string, caseSensitive bool) int {
	if name == "" {
		return NotFound
	}
	key := strings.ToUpper(name)
	i := sort.SearchStrings(t.upper, key)
	if i >= len(t.upper) || t.upper[i] != key {
		return NotFound
	}
	if caseSensitive && t.entries[i].Name != name {
		return NotFound
	}
	return t.entries[i].ID
}

// Name returns the token registered for id.
func (t *Table) Name(id int) (string, bool) {
	for _, e := range t.entries {
		if e.ID == id {
			return e.Name, true
		}
	}
	return "", false
}

// Entries returns a copy of the sorted entries.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}
