package sharc

import (
	"github.com/sharcdb/sharc/internal/btree"
)

// Value is one decoded column value: a tagged union over NULL, integer,
// real, text, and blob. Text and blob values borrow their byte views.
type Value = btree.ColumnValue

// ValueType tags a Value.
type ValueType = btree.ValueType

// Value type tags.
const (
	TypeNull = btree.TypeNull
	TypeInt  = btree.TypeInt
	TypeReal = btree.TypeReal
	TypeBlob = btree.TypeBlob
	TypeText = btree.TypeText
)

// Null returns the NULL value.
func Null() Value { return btree.Null() }

// Int64 returns an integer value.
func Int64(v int64) Value { return btree.Int64(v) }

// Real returns a floating-point value.
func Real(v float64) Value { return btree.Real(v) }

// Text returns a text value over the bytes of s.
func Text(s string) Value { return btree.TextString(s) }

// Blob returns a blob value borrowing b.
func Blob(b []byte) Value { return btree.Blob(b) }

// Decimal128 is a 128-bit decimal surfaced as its hi|lo halves, matching
// the two-cell physical layout of DECIMAL128 columns.
type Decimal128 struct {
	Hi int64
	Lo int64
}

// EncodeRecord serialises values into the record wire format used by
// table rows and ledger delta entries.
func EncodeRecord(values []Value) ([]byte, error) {
	buf := make([]byte, btree.ComputeEncodedSize(values))
	if _, err := btree.EncodeRecord(values, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeRecord decodes a record produced by EncodeRecord. Text and blob
// values borrow from payload.
func DecodeRecord(payload []byte) ([]Value, error) {
	return btree.DecodeRecord(payload)
}
