package btree

import (
	"testing"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

func TestSerialTypeLen(t *testing.T) {
	tests := []struct {
		st   uint64
		want int
	}{
		{0, 0},
		{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 6}, {6, 8},
		{7, 8},
		{8, 0}, {9, 0},
		{12, 0}, {13, 0},
		{14, 1}, {15, 1},
		{24, 6}, {25, 6},
		{1000, 494}, {1001, 494},
	}
	for _, tt := range tests {
		got, err := SerialTypeLen(tt.st)
		if err != nil {
			t.Errorf("SerialTypeLen(%d) error = %v", tt.st, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SerialTypeLen(%d) = %d, want %d", tt.st, got, tt.want)
		}
	}
}

func TestSerialTypeReserved(t *testing.T) {
	for _, st := range []uint64{10, 11} {
		if _, err := SerialTypeLen(st); !sharcerr.Is(err, sharcerr.ErrUnsupported) {
			t.Errorf("SerialTypeLen(%d) error = %v, want ErrUnsupported", st, err)
		}
	}
}

func TestSerialTypeOverflow(t *testing.T) {
	// A blob length that would overflow 32 bits is corruption.
	if _, err := SerialTypeLen(0xffffffffffffffff); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("SerialTypeLen(huge) error = %v, want ErrCorruptPage", err)
	}
}

func TestSerialTypeClass(t *testing.T) {
	tests := []struct {
		st   uint64
		want StorageClass
	}{
		{0, ClassNull},
		{1, ClassInt}, {6, ClassInt}, {8, ClassInt}, {9, ClassInt},
		{7, ClassReal},
		{12, ClassBlob}, {14, ClassBlob},
		{13, ClassText}, {15, ClassText},
	}
	for _, tt := range tests {
		if got := SerialTypeClass(tt.st); got != tt.want {
			t.Errorf("SerialTypeClass(%d) = %d, want %d", tt.st, got, tt.want)
		}
	}
}

func TestSmallestIntSerialType(t *testing.T) {
	tests := []struct {
		v    int64
		want uint64
	}{
		{0, 8},
		{1, 9},
		{2, 1}, {-1, 1}, {127, 1}, {-128, 1},
		{128, 2}, {-129, 2}, {32767, 2},
		{32768, 3}, {8388607, 3}, {-8388608, 3},
		{8388608, 4}, {2147483647, 4},
		{2147483648, 5}, {140737488355327, 5},
		{140737488355328, 6}, {-9223372036854775808, 6},
	}
	for _, tt := range tests {
		if got := SmallestIntSerialType(tt.v); got != tt.want {
			t.Errorf("SmallestIntSerialType(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}
