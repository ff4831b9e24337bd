package btree

import (
	"encoding/binary"
	"math"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// A record is a header of serial-type varints (preceded by the header's
// own length as a varint) followed by a body of typed cells laid out
// sequentially. ColumnValue is the decoded form of one cell.

// ValueType is the tag of a ColumnValue.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeInt
	TypeReal
	TypeBlob
	TypeText
)

// ColumnValue is a tagged union over the storage classes. Bytes is a
// borrowed view into the record payload for blob/text values; it is valid
// only as long as the payload it was decoded from.
type ColumnValue struct {
	Type  ValueType
	Int   int64
	Real  float64
	Bytes []byte
}

// Null returns the NULL value.
func Null() ColumnValue { return ColumnValue{Type: TypeNull} }

// Int64 returns an integer value.
func Int64(v int64) ColumnValue { return ColumnValue{Type: TypeInt, Int: v} }

// Real returns a floating-point value.
func Real(v float64) ColumnValue { return ColumnValue{Type: TypeReal, Real: v} }

// Text returns a text value borrowing b.
func Text(b []byte) ColumnValue { return ColumnValue{Type: TypeText, Bytes: b} }

// TextString returns a text value over the bytes of s.
func TextString(s string) ColumnValue { return ColumnValue{Type: TypeText, Bytes: []byte(s)} }

// Blob returns a blob value borrowing b.
func Blob(b []byte) ColumnValue { return ColumnValue{Type: TypeBlob, Bytes: b} }

// IsNull reports whether the value is NULL.
func (v ColumnValue) IsNull() bool { return v.Type == TypeNull }

// SerialType returns the smallest serial type that encodes v.
func (v ColumnValue) SerialType() uint64 {
	switch v.Type {
	case TypeNull:
		return 0
	case TypeInt:
		return SmallestIntSerialType(v.Int)
	case TypeReal:
		return 7
	case TypeBlob:
		return BlobSerialType(len(v.Bytes))
	default:
		return TextSerialType(len(v.Bytes))
	}
}

// contentLen returns the body bytes v occupies when encoded.
func (v ColumnValue) contentLen() int {
	n, _ := SerialTypeLen(v.SerialType())
	return n
}

// ReadSerialTypes fills dest with the record's serial types and returns
// the number of columns and the offset of the record body. dest may be
// nil to only count columns.
func ReadSerialTypes(payload []byte, dest []uint64) (count int, bodyOffset int, err error) {
	headerSize, n := GetVarint(payload)
	if n == 0 {
		return 0, 0, sharcerr.NewCorrupt(0, "record header size varint truncated")
	}
	if headerSize > uint64(len(payload)) || headerSize < uint64(n) {
		return 0, 0, sharcerr.NewCorrupt(0, "record header overruns payload")
	}

	offset := n
	for offset < int(headerSize) {
		st, m := GetVarint(payload[offset:int(headerSize)])
		if m == 0 {
			return 0, 0, sharcerr.NewCorrupt(0, "record serial type truncated")
		}
		if dest != nil {
			if count >= len(dest) {
				return 0, 0, sharcerr.Wrap(sharcerr.ErrInvalidArgument,
					"serial type buffer too small")
			}
			dest[count] = st
		}
		count++
		offset += m
	}
	return count, int(headerSize), nil
}

// ColumnCount returns the number of columns in the record without
// decoding the body.
func ColumnCount(payload []byte) (int, error) {
	n, _, err := ReadSerialTypes(payload, nil)
	return n, err
}

// decodeBody decodes one cell of the given serial type at payload[offset:].
func decodeBody(payload []byte, offset int, st uint64) (ColumnValue, int, error) {
	size, err := SerialTypeLen(st)
	if err != nil {
		return ColumnValue{}, 0, err
	}
	if offset+size > len(payload) {
		return ColumnValue{}, 0, sharcerr.NewCorrupt(0, "record body truncated")
	}

	switch st {
	case 0:
		return Null(), 0, nil
	case 8:
		return Int64(0), 0, nil
	case 9:
		return Int64(1), 0, nil
	case 1:
		return Int64(int64(int8(payload[offset]))), 1, nil
	case 2:
		return Int64(int64(int16(binary.BigEndian.Uint16(payload[offset:])))), 2, nil
	case 3:
		v := int64(payload[offset])<<16 | int64(payload[offset+1])<<8 | int64(payload[offset+2])
		if v&0x800000 != 0 {
			v |= ^int64(0xffffff) // sign extend 24 bits
		}
		return Int64(v), 3, nil
	case 4:
		return Int64(int64(int32(binary.BigEndian.Uint32(payload[offset:])))), 4, nil
	case 5:
		v := int64(payload[offset])<<40 | int64(payload[offset+1])<<32 |
			int64(payload[offset+2])<<24 | int64(payload[offset+3])<<16 |
			int64(payload[offset+4])<<8 | int64(payload[offset+5])
		if v&0x800000000000 != 0 {
			v |= ^int64(0xffffffffffff) // sign extend 48 bits
		}
		return Int64(v), 6, nil
	case 6:
		return Int64(int64(binary.BigEndian.Uint64(payload[offset:]))), 8, nil
	case 7:
		bits := binary.BigEndian.Uint64(payload[offset:])
		return Real(math.Float64frombits(bits)), 8, nil
	default:
		view := payload[offset : offset+size]
		if st%2 == 0 {
			return Blob(view), size, nil
		}
		return Text(view), size, nil
	}
}

// DecodeRecord decodes all columns into a fresh slice.
func DecodeRecord(payload []byte) ([]ColumnValue, error) {
	count, err := ColumnCount(payload)
	if err != nil {
		return nil, err
	}
	values := make([]ColumnValue, count)
	if _, err := DecodeRecordInto(payload, values); err != nil {
		return nil, err
	}
	return values, nil
}

// DecodeRecordInto decodes the record into dest and returns the column
// count. dest must be at least as long as the record's column count;
// readers pass a reusable buffer to keep row decode allocation-free.
func DecodeRecordInto(payload []byte, dest []ColumnValue) (int, error) {
	width, err := ColumnCount(payload)
	if err != nil {
		return 0, err
	}

	var stArr [maxInlineColumns]uint64
	stBuf := stArr[:]
	if width > maxInlineColumns {
		stBuf = make([]uint64, width)
	}

	count, bodyOffset, err := ReadSerialTypes(payload, stBuf)
	if err != nil {
		return 0, err
	}
	if count > len(dest) {
		return 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"destination holds %d columns, record has %d", len(dest), count)
	}

	offset := bodyOffset
	for i := 0; i < count; i++ {
		v, n, err := decodeBody(payload, offset, stBuf[i])
		if err != nil {
			return 0, err
		}
		dest[i] = v
		offset += n
	}
	if offset != len(payload) {
		return 0, sharcerr.NewCorrupt(0, "record body length mismatch")
	}
	return count, nil
}

// maxInlineColumns bounds the stack-allocated serial-type scratch used by
// DecodeRecordInto. Wider records take the slow path.
const maxInlineColumns = 256

// DecodeColumn decodes a single column by walking only the serial types
// that precede it.
func DecodeColumn(payload []byte, index int) (ColumnValue, error) {
	if index < 0 {
		return ColumnValue{}, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"negative column index %d", index)
	}

	headerSize, n := GetVarint(payload)
	if n == 0 {
		return ColumnValue{}, sharcerr.NewCorrupt(0, "record header size varint truncated")
	}
	if headerSize > uint64(len(payload)) || headerSize < uint64(n) {
		return ColumnValue{}, sharcerr.NewCorrupt(0, "record header overruns payload")
	}

	headerOffset := n
	bodyOffset := int(headerSize)
	for i := 0; headerOffset < int(headerSize); i++ {
		st, m := GetVarint(payload[headerOffset:int(headerSize)])
		if m == 0 {
			return ColumnValue{}, sharcerr.NewCorrupt(0, "record serial type truncated")
		}
		headerOffset += m

		if i == index {
			v, _, err := decodeBody(payload, bodyOffset, st)
			return v, err
		}

		size, err := SerialTypeLen(st)
		if err != nil {
			return ColumnValue{}, err
		}
		bodyOffset += size
	}
	return ColumnValue{}, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"column index %d out of range", index)
}

// ComputeEncodedSize returns the byte length EncodeRecord will produce.
func ComputeEncodedSize(values []ColumnValue) int {
	headerBody := 0
	body := 0
	for _, v := range values {
		headerBody += VarintLen(v.SerialType())
		body += v.contentLen()
	}

	// The header size varint covers itself; one byte almost always
	// suffices, widen until the fixpoint holds.
	headerSize := headerBody + 1
	for VarintLen(uint64(headerSize)) != headerSize-headerBody {
		headerSize = headerBody + VarintLen(uint64(headerSize))
	}
	return headerSize + body
}

// EncodeRecord writes the record into dest and returns the bytes written.
// dest must be at least ComputeEncodedSize(values) long.
func EncodeRecord(values []ColumnValue, dest []byte) (int, error) {
	need := ComputeEncodedSize(values)
	if len(dest) < need {
		return 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"destination %d bytes, record needs %d", len(dest), need)
	}

	headerBody := 0
	for _, v := range values {
		headerBody += VarintLen(v.SerialType())
	}
	headerSize := headerBody + 1
	for VarintLen(uint64(headerSize)) != headerSize-headerBody {
		headerSize = headerBody + VarintLen(uint64(headerSize))
	}

	offset := PutVarint(dest, uint64(headerSize))
	for _, v := range values {
		offset += PutVarint(dest[offset:], v.SerialType())
	}

	for _, v := range values {
		switch v.Type {
		case TypeNull:
			// no body bytes
		case TypeInt:
			offset += putIntBody(dest[offset:], v.Int)
		case TypeReal:
			binary.BigEndian.PutUint64(dest[offset:], math.Float64bits(v.Real))
			offset += 8
		default:
			offset += copy(dest[offset:], v.Bytes)
		}
	}
	return offset, nil
}

// putIntBody writes the big-endian body of an integer at its smallest
// serial type width and returns the bytes written.
func putIntBody(dest []byte, v int64) int {
	st := SmallestIntSerialType(v)
	size := intSerialLen[0]
	if st >= 1 && st <= 6 {
		size = intSerialLen[st]
	}
	for i := size - 1; i >= 0; i-- {
		dest[i] = byte(v)
		v >>= 8
	}
	return size
}
