package sharc

import (
	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/btree"
	"github.com/sharcdb/sharc/internal/format"
	"github.com/sharcdb/sharc/internal/pager"
	"github.com/sharcdb/sharc/internal/schema"
)

// Tx is a write transaction: page-level read-your-writes over the
// database, committed in page-number order. One writer at a time; the
// database's writer lock is held from BeginTransaction until Commit or
// Rollback.
type Tx struct {
	db   *Database
	tx   *pager.Transaction
	done bool
}

// BeginTransaction starts a write transaction.
func (db *Database) BeginTransaction() (*Tx, error) {
	if db.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "database closed")
	}
	if db.wsrc == nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "database is read-only")
	}
	db.mu.Lock()
	return &Tx{db: db, tx: pager.NewTransaction(db.wsrc)}, nil
}

// AppendRow inserts (rowid, values) into the named table inside the
// transaction. The target leaf must have room; the B-tree is never
// restructured.
func (t *Tx) AppendRow(table string, rowid int64, values []Value) error {
	if t.done {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "transaction finished")
	}
	tbl, err := t.db.table(table)
	if err != nil {
		return err
	}

	payload, err := EncodeRecord(values)
	if err != nil {
		return err
	}
	usable := t.db.header.UsableSize()
	pageSize := t.db.header.ActualPageSize()
	if err := btree.Append(t.tx, tbl.RootPage, usable, pageSize, rowid, payload); err != nil {
		return err
	}
	return t.touchHeader(false)
}

// CreateTable appends a table definition to sqlite_schema and allocates
// an empty leaf root page for it.
func (t *Tx) CreateTable(name, sql string) error {
	if t.done {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "transaction finished")
	}
	if _, ok := t.db.schema.Table(name); ok {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "table %q already exists", name)
	}
	parsed, err := schema.ParseCreateTable(sql)
	if err != nil {
		return err
	}
	if parsed.WithoutRowid {
		return sharcerr.NewUnsupported("table "+name, "WITHOUT ROWID layout")
	}

	usable := t.db.header.UsableSize()
	pageSize := t.db.header.ActualPageSize()

	// Root page for the new table.
	rootPage := t.tx.PageCount() + 1
	root := make([]byte, pageSize)
	btree.InitLeafTablePage(root, rootPage, usable)
	if err := t.tx.WritePage(rootPage, root); err != nil {
		return err
	}

	// The sqlite_schema row.
	var nextRowid int64 = 1
	cur := btree.NewCursor(t.tx, 1, usable)
	ok, err := cur.MoveLast()
	if err != nil {
		cur.Close()
		return err
	}
	if ok {
		nextRowid = cur.Rowid() + 1
	}
	cur.Close()

	row := []Value{
		Text("table"), Text(name), Text(name),
		Int64(int64(rootPage)), Text(sql),
	}
	payload, err := EncodeRecord(row)
	if err != nil {
		return err
	}
	if err := btree.Append(t.tx, 1, usable, pageSize, nextRowid, payload); err != nil {
		return err
	}
	return t.touchHeader(true)
}

// touchHeader refreshes the header's page count and change counter on
// the staged page 1, bumping the schema cookie for DDL.
func (t *Tx) touchHeader(ddl bool) error {
	page1, err := t.tx.GetPage(1)
	if err != nil {
		return err
	}
	mut := make([]byte, len(page1))
	copy(mut, page1)

	var hdr format.Header
	if err := hdr.Parse(mut); err != nil {
		return err
	}
	hdr.DatabaseSize = t.tx.PageCount()
	hdr.FileChangeCounter++
	hdr.VersionValidFor = hdr.FileChangeCounter
	if ddl {
		hdr.SchemaCookie++
	}
	hdr.Serialize(mut)
	return t.tx.WritePage(1, mut)
}

// Commit flushes the transaction and reloads the schema if DDL ran.
func (t *Tx) Commit() error {
	if t.done {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "transaction finished")
	}
	t.done = true
	defer t.db.mu.Unlock()

	if err := t.tx.Commit(); err != nil {
		return err
	}
	return t.db.reloadSchema()
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Rollback()
	t.db.mu.Unlock()
}

// AppendRow inserts one row in its own transaction.
func (db *Database) AppendRow(table string, rowid int64, values []Value) error {
	tx, err := db.BeginTransaction()
	if err != nil {
		return err
	}
	if err := tx.AppendRow(table, rowid, values); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateTable creates a table in its own transaction.
func (db *Database) CreateTable(name, sql string) error {
	tx, err := db.BeginTransaction()
	if err != nil {
		return err
	}
	if err := tx.CreateTable(name, sql); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
