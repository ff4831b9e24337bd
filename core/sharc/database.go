// Package sharc is the public reader/writer for Sharc databases: files in
// the SQLite on-disk format carrying the reserved trust tables.
//
// A Database wraps a page source, the parsed header, and the schema.
// Reads go through cursor-driven Readers with compiled row filters;
// writes are limited to appends into existing leaf pages (plus overflow
// chains), staged in a transaction buffer.
package sharc

import (
	"os"
	"sync"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/btree"
	"github.com/sharcdb/sharc/internal/filter"
	"github.com/sharcdb/sharc/internal/format"
	"github.com/sharcdb/sharc/internal/logging"
	"github.com/sharcdb/sharc/internal/pager"
	"github.com/sharcdb/sharc/internal/schema"
)

// Filter re-exports the filter expression builder entry points so callers
// build predicates without importing internals.
type Filter = filter.Node

// FilterColumn references a column by name in a filter expression.
func FilterColumn(name string) filter.ColumnRef { return filter.Column(name) }

// FilterOrdinal references a column by logical ordinal.
func FilterOrdinal(i int) filter.ColumnRef { return filter.Ordinal(i) }

// Database is an open Sharc database.
type Database struct {
	mu     sync.Mutex // serialises writers
	src    pager.PageSource
	wsrc   pager.WritablePageSource // nil when read-only
	header format.Header
	schema *schema.Schema
	path   string
	closed bool
}

// Open opens a database file.
func Open(path string, opts Options) (*Database, error) {
	if opts.PreloadToMemory || opts.MemoryMap {
		if opts.ReadWrite {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument,
				"ReadWrite cannot combine with PreloadToMemory or MemoryMap")
		}
		if opts.PreloadToMemory {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, sharcerr.NewIO("read", path, err)
			}
			src, err := pager.NewMemorySource(data, true)
			if err != nil {
				return nil, err
			}
			return newDatabase(src, nil, path)
		}
		src, err := pager.OpenMmap(path)
		if err != nil {
			return nil, err
		}
		return newDatabase(src, nil, path)
	}

	file, err := pager.OpenFile(path, !opts.ReadWrite)
	if err != nil {
		return nil, err
	}
	cached, err := pager.NewCachedSource(file, opts.PageCacheSize)
	if err != nil {
		file.Close()
		return nil, err
	}
	var wsrc pager.WritablePageSource
	if opts.ReadWrite {
		wsrc = cached
	}
	return newDatabase(cached, wsrc, path)
}

// OpenMemory opens a database held entirely in data.
func OpenMemory(data []byte, opts Options) (*Database, error) {
	src, err := pager.NewMemorySource(data, !opts.ReadWrite)
	if err != nil {
		return nil, err
	}
	var wsrc pager.WritablePageSource
	if opts.ReadWrite {
		wsrc = src
	}
	return newDatabase(src, wsrc, "")
}

// Create writes a fresh empty database at path and opens it writable.
func Create(path string) (*Database, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, sharcerr.NewIO("create", path, err)
	}
	page1 := emptyDatabasePage1(format.DefaultPageSize)
	if _, err := f.Write(page1); err != nil {
		f.Close()
		os.Remove(path)
		return nil, sharcerr.NewIO("write", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, sharcerr.NewIO("close", path, err)
	}
	return Open(path, Options{ReadWrite: true, PageCacheSize: 256})
}

// CreateMemory creates a fresh empty in-memory database.
func CreateMemory() (*Database, error) {
	src := pager.NewEmptyMemorySource(format.DefaultPageSize)
	if err := src.WritePage(1, emptyDatabasePage1(format.DefaultPageSize)); err != nil {
		return nil, err
	}
	return newDatabase(src, src, "")
}

// emptyDatabasePage1 builds page 1 of an empty database: the header plus
// an empty sqlite_schema leaf.
func emptyDatabasePage1(pageSize int) []byte {
	page := make([]byte, pageSize)
	hdr := format.NewHeader(pageSize)
	hdr.DatabaseSize = 1
	hdr.FileChangeCounter = 1
	hdr.VersionValidFor = 1
	hdr.Serialize(page)
	btree.InitLeafTablePage(page, 1, pageSize)
	return page
}

func newDatabase(src pager.PageSource, wsrc pager.WritablePageSource, path string) (*Database, error) {
	db := &Database{src: src, wsrc: wsrc, path: path}

	page1, err := src.GetPage(1)
	if err != nil {
		src.Close()
		return nil, err
	}
	if err := db.header.Parse(page1); err != nil {
		src.Close()
		return nil, err
	}

	sch, err := schema.Load(src, db.header.UsableSize(), db.header.SchemaCookie)
	if err != nil {
		src.Close()
		return nil, err
	}
	db.schema = sch
	logging.Debug("database opened", "path", path,
		"page_size", db.header.ActualPageSize(), "tables", len(sch.Tables))
	return db, nil
}

// PageSize returns the database page size in bytes.
func (db *Database) PageSize() int { return db.header.ActualPageSize() }

// UsableSize returns the page bytes available to cell content.
func (db *Database) UsableSize() int { return db.header.UsableSize() }

// Header returns a copy of the parsed database header.
func (db *Database) Header() format.Header { return db.header }

// Writable reports whether the database accepts appends.
func (db *Database) Writable() bool { return db.wsrc != nil }

// TableNames lists the tables in the schema.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.schema.Tables))
	for name := range db.schema.Tables {
		names = append(names, name)
	}
	return names
}

// HasTable reports whether the named table exists.
func (db *Database) HasTable(name string) bool {
	_, ok := db.schema.Table(name)
	return ok
}

// table resolves a table by name.
func (db *Database) table(name string) (*schema.Table, error) {
	if db.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "database closed")
	}
	t, ok := db.schema.Table(name)
	if !ok {
		return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "unknown table %q", name)
	}
	return t, nil
}

// reloadSchema re-reads the schema after a DDL append.
func (db *Database) reloadSchema() error {
	page1, err := db.src.GetPage(1)
	if err != nil {
		return err
	}
	if err := db.header.Parse(page1); err != nil {
		return err
	}
	sch, err := schema.Load(db.src, db.header.UsableSize(), db.header.SchemaCookie)
	if err != nil {
		return err
	}
	db.schema = sch
	return nil
}

// LastRowid returns the largest rowid in the table, or ok == false when
// the table is empty.
func (db *Database) LastRowid(name string) (rowid int64, ok bool, err error) {
	t, err := db.table(name)
	if err != nil {
		return 0, false, err
	}
	cur := btree.NewCursor(db.src, t.RootPage, db.header.UsableSize())
	defer cur.Close()

	ok, err = cur.MoveLast()
	if err != nil || !ok {
		return 0, false, err
	}
	return cur.Rowid(), true, nil
}

// ReadRow cursor-seeks rowid in the named table and decodes the row.
// Text and blob values are copied so they outlive the call.
func (db *Database) ReadRow(name string, rowid int64) ([]Value, bool, error) {
	t, err := db.table(name)
	if err != nil {
		return nil, false, err
	}
	cur := btree.NewCursor(db.src, t.RootPage, db.header.UsableSize())
	defer cur.Close()

	found, err := cur.Seek(rowid)
	if err != nil || !found {
		return nil, false, err
	}
	payload, err := cur.Payload()
	if err != nil {
		return nil, false, err
	}
	values, err := btree.DecodeRecord(payload)
	if err != nil {
		return nil, false, err
	}
	for i := range values {
		if values[i].Bytes != nil {
			cp := make([]byte, len(values[i].Bytes))
			copy(cp, values[i].Bytes)
			values[i].Bytes = cp
		}
	}
	return values, true, nil
}

// Close releases the underlying page source. Open readers become
// invalid.
func (db *Database) Close() error {
	if db.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "database closed")
	}
	db.closed = true
	return db.src.Close()
}
