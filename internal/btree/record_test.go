package btree

import (
	"bytes"
	"math"
	"testing"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

func encodeRecord(t *testing.T, values []ColumnValue) []byte {
	t.Helper()
	buf := make([]byte, ComputeEncodedSize(values))
	n, err := EncodeRecord(values, buf)
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("EncodeRecord() wrote %d bytes, ComputeEncodedSize said %d", n, len(buf))
	}
	return buf
}

func valuesEqual(a, b ColumnValue) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeNull:
		return true
	case TypeInt:
		return a.Int == b.Int
	case TypeReal:
		return a.Real == b.Real || (math.IsNaN(a.Real) && math.IsNaN(b.Real))
	default:
		return bytes.Equal(a.Bytes, b.Bytes)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []ColumnValue
	}{
		{"empty record", nil},
		{"single null", []ColumnValue{Null()}},
		{"int widths", []ColumnValue{
			Int64(0), Int64(1), Int64(-1), Int64(127), Int64(-128),
			Int64(32767), Int64(8388607), Int64(2147483647),
			Int64(140737488355327), Int64(math.MaxInt64), Int64(math.MinInt64),
		}},
		{"reals", []ColumnValue{Real(0), Real(3.14159), Real(-2.5e300), Real(math.Inf(1))}},
		{"text and blob", []ColumnValue{
			TextString("hello"), TextString(""), Blob([]byte{0x00, 0xff}), Blob(nil),
		}},
		{"mixed", []ColumnValue{
			Int64(42), Null(), TextString("zürich"), Real(1.5), Blob([]byte("raw")),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := encodeRecord(t, tt.values)

			decoded, err := DecodeRecord(payload)
			if err != nil {
				t.Fatalf("DecodeRecord() error = %v", err)
			}
			if len(decoded) != len(tt.values) {
				t.Fatalf("decoded %d columns, want %d", len(decoded), len(tt.values))
			}
			for i := range decoded {
				if !valuesEqual(decoded[i], tt.values[i]) {
					t.Errorf("column %d = %+v, want %+v", i, decoded[i], tt.values[i])
				}
				// Serial types must round-trip through the smallest mapping
				if decoded[i].SerialType() != tt.values[i].SerialType() {
					t.Errorf("column %d serial type = %d, want %d",
						i, decoded[i].SerialType(), tt.values[i].SerialType())
				}
			}
		})
	}
}

func TestDecodeRecordInto(t *testing.T) {
	values := []ColumnValue{Int64(7), TextString("abc"), Null()}
	payload := encodeRecord(t, values)

	dest := make([]ColumnValue, 8)
	n, err := DecodeRecordInto(payload, dest)
	if err != nil {
		t.Fatalf("DecodeRecordInto() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	for i := 0; i < n; i++ {
		if !valuesEqual(dest[i], values[i]) {
			t.Errorf("column %d = %+v, want %+v", i, dest[i], values[i])
		}
	}

	// Destination too small
	if _, err := DecodeRecordInto(payload, make([]ColumnValue, 2)); !sharcerr.Is(err, sharcerr.ErrInvalidArgument) {
		t.Errorf("short dest error = %v, want ErrInvalidArgument", err)
	}
}

func TestColumnCount(t *testing.T) {
	payload := encodeRecord(t, []ColumnValue{Int64(1), Int64(2), TextString("x")})
	n, err := ColumnCount(payload)
	if err != nil || n != 3 {
		t.Errorf("ColumnCount() = (%d, %v), want (3, nil)", n, err)
	}
}

func TestDecodeColumn(t *testing.T) {
	values := []ColumnValue{Int64(10), TextString("middle"), Real(2.5)}
	payload := encodeRecord(t, values)

	for i, want := range values {
		got, err := DecodeColumn(payload, i)
		if err != nil {
			t.Fatalf("DecodeColumn(%d) error = %v", i, err)
		}
		if !valuesEqual(got, want) {
			t.Errorf("DecodeColumn(%d) = %+v, want %+v", i, got, want)
		}
	}

	if _, err := DecodeColumn(payload, 3); !sharcerr.Is(err, sharcerr.ErrInvalidArgument) {
		t.Errorf("out-of-range error = %v, want ErrInvalidArgument", err)
	}
	if _, err := DecodeColumn(payload, -1); !sharcerr.Is(err, sharcerr.ErrInvalidArgument) {
		t.Errorf("negative index error = %v, want ErrInvalidArgument", err)
	}
}

func TestReadSerialTypes(t *testing.T) {
	payload := encodeRecord(t, []ColumnValue{Null(), Int64(300), TextString("ab")})

	var st [8]uint64
	count, bodyOffset, err := ReadSerialTypes(payload, st[:])
	if err != nil {
		t.Fatalf("ReadSerialTypes() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	want := []uint64{0, 2, 17}
	for i, w := range want {
		if st[i] != w {
			t.Errorf("serial type %d = %d, want %d", i, st[i], w)
		}
	}
	// header: size varint (1) + three type varints (3) = 4
	if bodyOffset != 4 {
		t.Errorf("bodyOffset = %d, want 4", bodyOffset)
	}
}

func TestDecodeCorruptRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"header overruns payload", []byte{0x20, 0x01}},
		{"body truncated", []byte{0x02, 0x01}}, // declares 1-byte int, no body
		{"header smaller than own varint", []byte{0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord(tt.payload); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
				t.Errorf("error = %v, want ErrCorruptPage", err)
			}
		})
	}
}

func TestDecodeReservedSerialType(t *testing.T) {
	// header size 2, serial type 10
	payload := []byte{0x02, 0x0a}
	if _, err := DecodeRecord(payload); !sharcerr.Is(err, sharcerr.ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}

func TestConstantIntSerialTypes(t *testing.T) {
	// 0 and 1 encode with zero body bytes via serial types 8 and 9.
	payload := encodeRecord(t, []ColumnValue{Int64(0), Int64(1)})
	if len(payload) != 3 { // header size varint + two type varints, no body
		t.Errorf("len = %d, want 3", len(payload))
	}

	decoded, err := DecodeRecord(payload)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if decoded[0].Int != 0 || decoded[1].Int != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}
