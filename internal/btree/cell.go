package btree

import (
	"encoding/binary"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// TableLeafCell is a parsed table leaf cell: payload-size varint, rowid
// varint, inline payload bytes, and an optional 4-byte first-overflow-page
// pointer when the payload exceeds the inline limit.
type TableLeafCell struct {
	Rowid        int64
	PayloadSize  int    // total payload bytes, inline plus overflow
	HeaderLen    int    // bytes of the two leading varints
	Local        []byte // inline payload view into the page buffer
	OverflowPage uint32 // first overflow page, 0 if none
	CellSize     int    // total cell bytes on the page
}

// MaxLocal returns the maximum inline payload of a table leaf cell.
func MaxLocal(usable int) int { return usable - 35 }

// MinLocal returns the minimum inline payload of a spilled cell.
func MinLocal(usable int) int { return (usable-12)*32/255 - 23 }

// LocalPayloadSize returns how many payload bytes stay inline for a cell
// of the given total payload size.
func LocalPayloadSize(payloadSize, usable int) int {
	maxLocal := MaxLocal(usable)
	if payloadSize <= maxLocal {
		return payloadSize
	}
	minLocal := MinLocal(usable)
	k := minLocal + (payloadSize-minLocal)%(usable-4)
	if k <= maxLocal {
		return k
	}
	return minLocal
}

// ParseTableLeafCell parses a table leaf cell starting at cell[0].
func ParseTableLeafCell(cell []byte, usable int) (TableLeafCell, error) {
	var info TableLeafCell

	payloadSize, n := GetVarint(cell)
	if n == 0 {
		return info, sharcerr.NewCorrupt(0, "leaf cell payload size truncated")
	}
	if payloadSize > 0x7fffffff {
		return info, sharcerr.NewCorrupt(0, "leaf cell payload size overflows 32 bits")
	}
	offset := n

	rowid, n := GetVarint(cell[offset:])
	if n == 0 {
		return info, sharcerr.NewCorrupt(0, "leaf cell rowid truncated")
	}
	offset += n

	info.PayloadSize = int(payloadSize)
	info.Rowid = int64(rowid)
	info.HeaderLen = offset

	local := LocalPayloadSize(info.PayloadSize, usable)
	if offset+local > len(cell) {
		return info, sharcerr.NewCorrupt(0, "leaf cell truncated")
	}
	info.Local = cell[offset : offset+local]
	info.CellSize = offset + local

	if local < info.PayloadSize {
		overflowAt := offset + local
		if overflowAt+4 > len(cell) {
			return info, sharcerr.NewCorrupt(0, "overflow page pointer truncated")
		}
		info.OverflowPage = binary.BigEndian.Uint32(cell[overflowAt:])
		if info.OverflowPage == 0 {
			return info, sharcerr.NewCorrupt(0, "spilled cell has zero overflow page")
		}
		info.CellSize += 4
	}
	if info.CellSize < 4 {
		info.CellSize = 4
	}
	return info, nil
}

// ParseTableInteriorCell parses a table interior cell: a 4-byte big-endian
// left-child page pointer followed by the key varint.
func ParseTableInteriorCell(cell []byte) (childPage uint32, key int64, size int, err error) {
	if len(cell) < 5 {
		return 0, 0, 0, sharcerr.NewCorrupt(0, "interior cell truncated")
	}
	childPage = binary.BigEndian.Uint32(cell)
	k, n := GetVarint(cell[4:])
	if n == 0 {
		return 0, 0, 0, sharcerr.NewCorrupt(0, "interior cell key truncated")
	}
	return childPage, int64(k), 4 + n, nil
}

// BuildTableLeafCell writes a table leaf cell for (rowid, payload) into
// dest. It returns the cell length and the payload bytes that spill to an
// overflow chain; when spill is non-empty the last 4 bytes of the cell are
// a placeholder for the first overflow page number, which the caller fills
// with SetOverflowPointer after allocating the chain.
func BuildTableLeafCell(rowid int64, payload []byte, dest []byte, usable int) (n int, spill []byte, err error) {
	local := LocalPayloadSize(len(payload), usable)

	need := VarintLen(uint64(len(payload))) + VarintLen(uint64(rowid)) + local
	if local < len(payload) {
		need += 4
	}
	if len(dest) < need {
		return 0, nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"cell destination %d bytes, need %d", len(dest), need)
	}

	offset := PutVarint(dest, uint64(len(payload)))
	offset += PutVarint(dest[offset:], uint64(rowid))
	offset += copy(dest[offset:], payload[:local])

	if local < len(payload) {
		binary.BigEndian.PutUint32(dest[offset:], 0)
		offset += 4
		spill = payload[local:]
	}
	return offset, spill, nil
}

// SetOverflowPointer fills in the first-overflow-page pointer of a cell
// produced by BuildTableLeafCell with a non-empty spill.
func SetOverflowPointer(cell []byte, page uint32) {
	binary.BigEndian.PutUint32(cell[len(cell)-4:], page)
}
