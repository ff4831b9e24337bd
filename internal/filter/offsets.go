package filter

import (
	"sync"
)

// Offset hoisting: one pass over the serial-type array computes the byte
// offset of every referenced ordinal, replacing a per-predicate header
// walk with a single O(max referenced ordinal) scan.

// maxStackOffsets bounds the stack-allocated scratch; wider layouts rent
// a pooled slice.
const maxStackOffsets = 256

var offsetPool = sync.Pool{
	New: func() any {
		s := make([]int, 0, 1024)
		return &s
	},
}

// serialContentLen mirrors the serial-type size table without error
// handling; serial types were validated when the row header was read.
func serialContentLen(st uint64) int {
	switch {
	case st <= 4:
		return int(st)
	case st == 5:
		return 6
	case st == 6, st == 7:
		return 8
	case st <= 11:
		return 0
	default:
		return int((st - 12) / 2)
	}
}

// hoist fills offsets[i] for every referenced ordinal i.
func (c *Compiled) hoist(serialTypes []uint64, bodyOffset int, offsets []int) {
	off := bodyOffset
	limit := c.maxOrdinal
	if limit >= len(serialTypes) {
		limit = len(serialTypes) - 1
	}
	for i := 0; i <= limit; i++ {
		if c.refSet[i] {
			offsets[i] = off
		}
		off += serialContentLen(serialTypes[i])
	}
}

// Match evaluates the compiled filter against one row. serialTypes and
// bodyOffset come from the reader's header scan; the offsets scratch is
// stack-allocated for layouts up to maxStackOffsets ordinals and pooled
// beyond that, and is always released before returning.
func (c *Compiled) Match(payload []byte, serialTypes []uint64, bodyOffset int, rowid int64) bool {
	// Rows written before a column was added are narrower than the
	// schema; the missing tail cells read as NULL.
	if c.maxOrdinal >= len(serialTypes) {
		padded := make([]uint64, c.maxOrdinal+1)
		copy(padded, serialTypes)
		serialTypes = padded
	}

	row := Row{
		Payload:     payload,
		SerialTypes: serialTypes,
		Rowid:       rowid,
	}

	if c.maxOrdinal < 0 {
		// Rowid-only filter: no body access at all.
		return c.eval(&row)
	}

	need := c.maxOrdinal + 1
	if need <= maxStackOffsets {
		var scratch [maxStackOffsets]int
		row.Offsets = scratch[:need]
		c.hoist(serialTypes, bodyOffset, row.Offsets)
		return c.eval(&row)
	}

	bp := offsetPool.Get().(*[]int)
	buf := *bp
	if cap(buf) < need {
		buf = make([]int, need)
	}
	buf = buf[:need]
	row.Offsets = buf
	c.hoist(serialTypes, bodyOffset, row.Offsets)
	ok := c.eval(&row)
	*bp = buf[:0]
	offsetPool.Put(bp)
	return ok
}
