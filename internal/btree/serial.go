package btree

import (
	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// Serial types encode both the storage class and the byte length of one
// record column:
//
//	0        NULL            0 bytes
//	1..6     integer         1, 2, 3, 4, 6, 8 bytes
//	7        IEEE-754 double 8 bytes
//	8, 9     constants 0, 1  0 bytes
//	10, 11   reserved        never valid
//	>=12 even blob           (st-12)/2 bytes
//	>=13 odd  text           (st-13)/2 bytes

// StorageClass is the coarse type a serial type maps to.
type StorageClass uint8

const (
	ClassNull StorageClass = iota
	ClassInt
	ClassReal
	ClassBlob
	ClassText
)

// intSerialLen maps serial types 1..6 to their content length.
var intSerialLen = [7]int{0, 1, 2, 3, 4, 6, 8}

// SerialTypeLen returns the number of content bytes for the serial type.
// Reserved types 10 and 11 are refused; blob/text lengths that would
// overflow a 32-bit byte count are corruption.
func SerialTypeLen(st uint64) (int, error) {
	switch {
	case st <= 4:
		return int(st), nil
	case st == 5:
		return 6, nil
	case st == 6, st == 7:
		return 8, nil
	case st == 8, st == 9:
		return 0, nil
	case st == 10, st == 11:
		return 0, sharcerr.NewUnsupported("serial type", "reserved type 10/11")
	default:
		n := (st - 12) / 2
		if n > 0x7fffffff {
			return 0, sharcerr.NewCorrupt(0, "serial type length overflows 32 bits")
		}
		return int(n), nil
	}
}

// SerialTypeClass returns the storage class of the serial type. Reserved
// types report ClassNull alongside the error from SerialTypeLen; callers
// validate with SerialTypeLen first.
func SerialTypeClass(st uint64) StorageClass {
	switch {
	case st == 0:
		return ClassNull
	case st <= 6 || st == 8 || st == 9:
		return ClassInt
	case st == 7:
		return ClassReal
	case st >= 12 && st%2 == 0:
		return ClassBlob
	case st >= 13:
		return ClassText
	default:
		return ClassNull
	}
}

// SmallestIntSerialType returns the smallest serial type able to hold v.
func SmallestIntSerialType(v int64) uint64 {
	switch {
	case v == 0:
		return 8
	case v == 1:
		return 9
	case v >= -128 && v <= 127:
		return 1
	case v >= -32768 && v <= 32767:
		return 2
	case v >= -8388608 && v <= 8388607:
		return 3
	case v >= -2147483648 && v <= 2147483647:
		return 4
	case v >= -140737488355328 && v <= 140737488355327:
		return 5
	default:
		return 6
	}
}

// BlobSerialType returns the serial type of a blob of n bytes.
func BlobSerialType(n int) uint64 { return uint64(n)*2 + 12 }

// TextSerialType returns the serial type of a text value of n bytes.
func TextSerialType(n int) uint64 { return uint64(n)*2 + 13 }
