package sharc

import (
	"context"
	"encoding/binary"
	"unicode/utf16"

	"github.com/google/uuid"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/btree"
	"github.com/sharcdb/sharc/internal/filter"
	"github.com/sharcdb/sharc/internal/format"
	"github.com/sharcdb/sharc/internal/schema"
)

// ColumnType is the coarse type of a column in the current row.
type ColumnType uint8

const (
	ColumnNull ColumnType = iota
	ColumnInt
	ColumnReal
	ColumnText
	ColumnBlob
)

// Reader iterates the rows of one table in rowid order, applying a
// compiled filter and decoding columns lazily.
//
// Borrowed views returned by GetBlob and GetUtf8Span are valid only until
// the next Read or Close, matching the cursor payload lifetime.
type Reader struct {
	db     *Database
	table  *schema.Table
	cursor *btree.Cursor
	flt    *filter.Compiled
	ctx    context.Context

	// projection maps exposed field indices to logical column ordinals;
	// nil exposes all columns.
	projection []int

	// Per-row state. serialTypes and bodyOffset come from one header
	// scan per row; slots hold lazily decoded columns, validated against
	// the reader's generation counter instead of being cleared per row.
	serialTypes []uint64
	bodyOffset  int
	payload     []byte
	rowid       int64
	slots       []Value
	gens        []uint64
	gen         uint64

	started bool
	closed  bool
}

// CreateReader opens a reader over a table or a promotable view. filter
// may be nil to match every row; columns restricts the exposed fields.
func (db *Database) CreateReader(table string, flt *Filter, columns ...string) (*Reader, error) {
	return db.CreateReaderContext(context.Background(), table, flt, columns...)
}

// CreateReaderContext is CreateReader with cooperative cancellation: the
// context is checked between rows.
func (db *Database) CreateReaderContext(ctx context.Context, table string, flt *Filter, columns ...string) (*Reader, error) {
	if db.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "database closed")
	}

	// A promotable view reads its source table with its projection.
	if v, ok := db.schema.View(table); ok {
		src, proj, err := v.Promote()
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			columns = proj
		}
		table = src
	}

	tbl, err := db.table(table)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		db:          db,
		table:       tbl,
		cursor:      btree.NewCursor(db.src, tbl.RootPage, db.header.UsableSize()),
		ctx:         ctx,
		serialTypes: make([]uint64, tbl.PhysicalColumns),
		slots:       make([]Value, len(tbl.Columns)),
		gens:        make([]uint64, len(tbl.Columns)),
	}

	if len(columns) > 0 {
		r.projection = make([]int, len(columns))
		for i, name := range columns {
			col, ok := tbl.ColumnByName(name)
			if !ok {
				r.cursor.Close()
				return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
					"unknown column %q", name)
			}
			r.projection[i] = col.Ordinal
		}
	}

	if flt != nil {
		compiled, err := filter.Compile(flt, tbl)
		if err != nil {
			r.cursor.Close()
			return nil, err
		}
		r.flt = compiled
	}
	return r, nil
}

// FilterColumns returns the logical columns the reader's filter
// references, for entitlement checks. Nil without a filter.
func (r *Reader) FilterColumns() []string {
	if r.flt == nil {
		return nil
	}
	return r.flt.Columns()
}

// Table returns the name of the table being read.
func (r *Reader) Table() string { return r.table.Name }

// FieldCount returns the number of exposed fields.
func (r *Reader) FieldCount() int {
	if r.projection != nil {
		return len(r.projection)
	}
	return len(r.table.Columns)
}

// FieldName returns the name of field i.
func (r *Reader) FieldName(i int) string {
	return r.table.Columns[r.ordinal(i)].Name
}

// Read advances to the next row passing the filter. It returns false at
// the end of the table or when the context is cancelled.
func (r *Reader) Read() (bool, error) {
	if r.closed {
		return false, sharcerr.Wrap(sharcerr.ErrInvalidState, "reader closed")
	}

	for {
		if err := r.ctx.Err(); err != nil {
			return false, sharcerr.Wrap(sharcerr.ErrInvalidState, "reader cancelled")
		}

		var ok bool
		var err error
		if !r.started {
			r.started = true
			ok, err = r.cursor.MoveFirst()
		} else {
			ok, err = r.cursor.MoveNext()
		}
		if err != nil || !ok {
			return false, err
		}

		payload, err := r.cursor.Payload()
		if err != nil {
			return false, err
		}
		count, bodyOffset, err := btree.ReadSerialTypes(payload, r.serialTypes)
		if err != nil {
			// Rows narrower than the schema are legal; wider are not.
			if sharcerr.Is(err, sharcerr.ErrInvalidArgument) {
				return false, sharcerr.NewCorrupt(0, "row wider than schema")
			}
			return false, err
		}
		for i := count; i < len(r.serialTypes); i++ {
			r.serialTypes[i] = 0
		}

		r.payload = payload
		r.bodyOffset = bodyOffset
		r.rowid = r.cursor.Rowid()
		// One generation bump invalidates every slot.
		r.gen++

		if r.flt == nil || r.flt.Match(payload, r.serialTypes, bodyOffset, r.rowid) {
			return true, nil
		}
	}
}

// Rowid returns the rowid of the current row.
func (r *Reader) Rowid() int64 { return r.rowid }

// ordinal maps an exposed field index to a logical column ordinal.
func (r *Reader) ordinal(i int) int {
	if r.projection != nil {
		return r.projection[i]
	}
	return i
}

// column decodes field i of the current row, reusing the slot when its
// generation matches.
func (r *Reader) column(i int) (Value, error) {
	ord := r.ordinal(i)
	col := &r.table.Columns[ord]

	if col.IsRowidAlias {
		return Int64(r.rowid), nil
	}
	if r.gens[ord] == r.gen {
		return r.slots[ord], nil
	}

	v, err := r.decodePhysical(col.Physical[0])
	if err != nil {
		return Value{}, err
	}
	r.slots[ord] = v
	r.gens[ord] = r.gen
	return v, nil
}

// decodePhysical decodes one physical cell of the current row.
func (r *Reader) decodePhysical(ord int) (Value, error) {
	if ord >= len(r.serialTypes) {
		return Null(), nil
	}
	return btree.DecodeColumn(r.payload, ord)
}

// GetValue returns field i of the current row.
func (r *Reader) GetValue(i int) (Value, error) {
	if r.closed {
		return Value{}, sharcerr.Wrap(sharcerr.ErrInvalidState, "reader closed")
	}
	return r.column(i)
}

// IsNull reports whether field i is NULL. The rowid alias is never NULL.
func (r *Reader) IsNull(i int) (bool, error) {
	col := &r.table.Columns[r.ordinal(i)]
	if col.IsRowidAlias {
		return false, nil
	}
	v, err := r.column(i)
	if err != nil {
		return false, err
	}
	return v.IsNull(), nil
}

// GetInt64 returns field i as an integer.
func (r *Reader) GetInt64(i int) (int64, error) {
	v, err := r.column(i)
	if err != nil {
		return 0, err
	}
	switch v.Type {
	case TypeInt:
		return v.Int, nil
	case TypeReal:
		return int64(v.Real), nil
	case TypeNull:
		return 0, nil
	}
	return 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"field %d is not numeric", i)
}

// GetDouble returns field i as a double.
func (r *Reader) GetDouble(i int) (float64, error) {
	v, err := r.column(i)
	if err != nil {
		return 0, err
	}
	switch v.Type {
	case TypeReal:
		return v.Real, nil
	case TypeInt:
		return float64(v.Int), nil
	case TypeNull:
		return 0, nil
	}
	return 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"field %d is not numeric", i)
}

// GetString materialises field i as a string, decoding UTF-16 databases
// as needed.
func (r *Reader) GetString(i int) (string, error) {
	v, err := r.column(i)
	if err != nil {
		return "", err
	}
	if v.Type == TypeNull {
		return "", nil
	}
	if v.Type != TypeText {
		return "", sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"field %d is not text", i)
	}
	return r.decodeText(v.Bytes), nil
}

func (r *Reader) decodeText(b []byte) string {
	switch r.db.header.TextEncoding {
	case format.EncodingUTF16LE:
		return decodeUTF16(b, binary.LittleEndian)
	case format.EncodingUTF16BE:
		return decodeUTF16(b, binary.BigEndian)
	default:
		return string(b)
	}
}

func decodeUTF16(b []byte, order binary.ByteOrder) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, order.Uint16(b[i:]))
	}
	return string(utf16.Decode(units))
}

// GetUtf8Span returns a borrowed view of field i's text bytes without
// materialisation. In UTF-16 databases this path must materialise and
// therefore allocates.
func (r *Reader) GetUtf8Span(i int) ([]byte, error) {
	v, err := r.column(i)
	if err != nil {
		return nil, err
	}
	if v.Type != TypeText {
		return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"field %d is not text", i)
	}
	if r.db.header.TextEncoding != format.EncodingUTF8 &&
		r.db.header.TextEncoding != 0 {
		return []byte(r.decodeText(v.Bytes)), nil
	}
	return v.Bytes, nil
}

// GetBlob returns a borrowed view of field i's blob bytes.
func (r *Reader) GetBlob(i int) ([]byte, error) {
	v, err := r.column(i)
	if err != nil {
		return nil, err
	}
	switch v.Type {
	case TypeBlob:
		return v.Bytes, nil
	case TypeNull:
		return nil, nil
	}
	return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"field %d is not a blob", i)
}

// GetBlobCopy returns an owned copy of field i's blob bytes for callers
// that outlive the current row.
func (r *Reader) GetBlobCopy(i int) ([]byte, error) {
	b, err := r.GetBlob(i)
	if err != nil || b == nil {
		return nil, err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// mergedHalves decodes the two physical cells of a merged column.
func (r *Reader) mergedHalves(i int, kind schema.MergedKind) (hi, lo int64, err error) {
	col := &r.table.Columns[r.ordinal(i)]
	if col.Merged != kind {
		return 0, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"field %d is not a merged column of the requested kind", i)
	}
	hv, err := r.decodePhysical(col.Physical[0])
	if err != nil {
		return 0, 0, err
	}
	lv, err := r.decodePhysical(col.Physical[1])
	if err != nil {
		return 0, 0, err
	}
	return hv.Int, lv.Int, nil
}

// GetGuid assembles a GUID column from its hi|lo cells.
func (r *Reader) GetGuid(i int) (uuid.UUID, error) {
	hi, lo, err := r.mergedHalves(i, schema.MergedGUID)
	if err != nil {
		return uuid.UUID{}, err
	}
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], uint64(hi))
	binary.BigEndian.PutUint64(u[8:16], uint64(lo))
	return u, nil
}

// GetDecimal assembles a decimal column from its hi|lo cells.
func (r *Reader) GetDecimal(i int) (Decimal128, error) {
	hi, lo, err := r.mergedHalves(i, schema.MergedDecimal)
	if err != nil {
		return Decimal128{}, err
	}
	return Decimal128{Hi: hi, Lo: lo}, nil
}

// GetColumnType returns the storage class of field i in the current row.
func (r *Reader) GetColumnType(i int) (ColumnType, error) {
	col := &r.table.Columns[r.ordinal(i)]
	if col.IsRowidAlias {
		return ColumnInt, nil
	}
	v, err := r.column(i)
	if err != nil {
		return ColumnNull, err
	}
	switch v.Type {
	case TypeInt:
		return ColumnInt, nil
	case TypeReal:
		return ColumnReal, nil
	case TypeText:
		return ColumnText, nil
	case TypeBlob:
		return ColumnBlob, nil
	default:
		return ColumnNull, nil
	}
}

// Close releases the reader's cursor. Further calls fail with
// ErrInvalidState.
func (r *Reader) Close() error {
	if r.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "reader closed")
	}
	r.closed = true
	return r.cursor.Close()
}
