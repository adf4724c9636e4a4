package strintmap

import "testing"

func testTable() *Table {
	return NewTable(
		Entry{"SUBSCRIBE", 6},
		Entry{"GET", 1},
		Entry{"M-SEARCH", 4},
		Entry{"NOTIFY", 5},
		Entry{"HEAD", 2},
		Entry{"Content-Type", 20},
	)
}

func TestTableID(t *testing.T) {
	tbl := testTable()
	tests := []struct {
		name          string
		caseSensitive bool
		want          int
	}{
		{"GET", true, 1},
		{"get", false, 1},
		{"get", true, NotFound},
		{"M-SEARCH", true, 4},
		{"notify", false, 5},
		{"CONTENT-TYPE", false, 20},
		{"CONTENT-TYPE", true, NotFound},
		{"Content-Type", true, 20},
		{"POST", false, NotFound},
		{"", false, NotFound},
		{"ZZZZ", false, NotFound},
	}

	for _, tt := range tests {
		if got := tbl.ID(tt.name, tt.caseSensitive); got != tt.want {
			t.Errorf("ID(%q, %v) = %d, want %d", tt.name, tt.caseSensitive, got, tt.want)
		}
	}
}

func TestTableName(t *testing.T) {
	tbl := testTable()
	if name, ok := tbl.Name(4); !ok || name != "M-SEARCH" {
		t.Errorf("Name(4) = %q, %v, want M-SEARCH, true", name, ok)
	}
	if _, ok := tbl.Name(99); ok {
		t.Error("Name(99) should not be found")
	}
}

func TestTableSorted(t *testing.T) {
	entries := testTable().Entries()
	if len(entries) != 6 {
		t.Fatalf("len = %d, want 6", len(entries))
	}
	want := []string{"Content-Type", "GET", "HEAD", "M-SEARCH", "NOTIFY", "SUBSCRIBE"}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, e.Name, want[i])
		}
	}
}

func TestEmptyTable(t *testing.T) {
	tbl := NewTable()
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d", tbl.Len())
	}
	if tbl.ID("GET", false) != NotFound {
		t.Error("empty table should not find anything")
	}
}
