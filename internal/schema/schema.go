// Package schema reads the database schema from the sqlite_schema table
// and parses the CREATE statements stored there.
package schema

import (
	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// MergedKind marks a logical column synthesised from two physical cells.
type MergedKind uint8

const (
	MergedNone MergedKind = iota
	// MergedGUID is a 128-bit GUID stored as hi|lo INT64 cells.
	MergedGUID
	// MergedDecimal is a 128-bit decimal stored as hi|lo INT64 cells.
	MergedDecimal
)

// Column describes one logical column of a table.
type Column struct {
	// Ordinal is the logical position in the column list.
	Ordinal int
	Name    string
	// DeclaredType is the declared type, uppercased for comparisons.
	DeclaredType string
	PrimaryKey   bool
	NotNull      bool
	HasDefault   bool
	// IsRowidAlias marks an INTEGER PRIMARY KEY column: its cell body is
	// NULL and its value is the cell's rowid.
	IsRowidAlias bool
	// Merged is set for GUID and decimal columns that occupy two physical
	// cells.
	Merged MergedKind
	// Physical holds the physical cell ordinals backing this column.
	// Physical[1] is -1 unless the column is merged.
	Physical [2]int
}

// IndexColumn is one key column of an index.
type IndexColumn struct {
	Name string
	Desc bool
}

// Table describes a table extracted from sqlite_schema.
type Table struct {
	Name         string
	RootPage     uint32
	SQL          string
	WithoutRowid bool
	Columns      []Column
	// PhysicalColumns is the number of record cells per row, counting
	// merged columns twice.
	PhysicalColumns int
	// RowidAlias is the logical ordinal of the INTEGER PRIMARY KEY
	// column, or -1.
	RowidAlias int
}

// ColumnByName returns the column with the given name, matched
// case-insensitively.
func (t *Table) ColumnByName(name string) (*Column, bool) {
	for i := range t.Columns {
		if equalFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Index describes an index extracted from sqlite_schema. Index B-trees
// are not traversed; the metadata is kept for schema introspection.
type Index struct {
	Name     string
	RootPage uint32
	Table    string
	Columns  []IndexColumn
	SQL      string
}

// View describes a view extracted from sqlite_schema.
type View struct {
	Name        string
	SQL         string
	Sources     []string
	Projection  []string
	IsSelectAll bool
	HasJoin     bool
	HasFilter   bool
}

// Promote rewrites a simple view as a read of its source table with an
// optional projection. Views with joins or filters cannot be promoted.
func (v *View) Promote() (table string, projection []string, err error) {
	if v.HasJoin || v.HasFilter || len(v.Sources) != 1 {
		return "", nil, sharcerr.NewUnsupported("view "+v.Name,
			"only single-source views without joins or filters can be promoted")
	}
	if v.IsSelectAll {
		return v.Sources[0], nil, nil
	}
	return v.Sources[0], v.Projection, nil
}

// Schema is the parsed database schema.
type Schema struct {
	Tables  map[string]*Table
	Indexes map[string]*Index
	Views   map[string]*View
	// Cookie is the schema cookie the schema was read under; a bump on
	// the database invalidates derived caches.
	Cookie uint32
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{
		Tables:  make(map[string]*Table),
		Indexes: make(map[string]*Index),
		Views:   make(map[string]*View),
	}
}

// Table returns the named table, matched case-insensitively.
func (s *Schema) Table(name string) (*Table, bool) {
	if t, ok := s.Tables[name]; ok {
		return t, true
	}
	for n, t := range s.Tables {
		if equalFold(n, name) {
			return t, true
		}
	}
	return nil, false
}

// View returns the named view, matched case-insensitively.
func (s *Schema) View(name string) (*View, bool) {
	if v, ok := s.Views[name]; ok {
		return v, true
	}
	for n, v := range s.Views {
		if equalFold(n, name) {
			return v, true
		}
	}
	return nil, false
}
