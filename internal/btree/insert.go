package btree

import (
	"encoding/binary"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/format"
)

// PageWriter extends PageReader with the write access the append path
// needs. WritePage with n == PageCount()+1 grows the store.
type PageWriter interface {
	PageReader
	WritePage(n uint32, data []byte) error
	PageCount() uint32
}

// headerBase returns the offset of the B-tree header within the page.
func headerBase(pageNum uint32) int {
	if pageNum == 1 {
		return format.HeaderSize
	}
	return 0
}

// InitLeafTablePage formats buf as an empty leaf table page.
func InitLeafTablePage(buf []byte, pageNum uint32, usable int) {
	base := headerBase(pageNum)
	buf[base+hdrOffsetType] = PageTypeLeafTable
	binary.BigEndian.PutUint16(buf[base+hdrOffsetFreeblock:], 0)
	binary.BigEndian.PutUint16(buf[base+hdrOffsetCellCount:], 0)
	// Content start of 65536 is stored as 0.
	binary.BigEndian.PutUint16(buf[base+hdrOffsetCellStart:], uint16(usable))
	buf[base+hdrOffsetFragmented] = 0
}

// InsertCellIntoLeaf inserts cell at index idx of the leaf table page in
// data, shifting the cell pointer array. It fails with ErrPageFull when
// the cell does not fit even after defragmentation.
func InsertCellIntoLeaf(data []byte, pageNum uint32, usable int, idx int, cell []byte) error {
	hdr, err := ParsePageHeader(data, pageNum)
	if err != nil {
		return err
	}
	if !hdr.IsLeaf || !hdr.IsTable {
		return sharcerr.NewCorrupt(pageNum, "insert target is not a leaf table page")
	}
	if idx < 0 || idx > int(hdr.CellCount) {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"insert index %d out of range [0,%d]", idx, hdr.CellCount)
	}

	cellSize := len(cell)
	if cellSize < 4 {
		cellSize = 4
	}

	offset, err := allocateCellSpace(data, pageNum, hdr, usable, cellSize)
	if err != nil {
		return err
	}
	copy(data[offset:], cell)

	// Open a slot in the cell pointer array.
	ptrAt := hdr.CellPtrOffset + 2*idx
	tail := int(hdr.CellCount) - idx
	if tail > 0 {
		copy(data[ptrAt+2:ptrAt+2+2*tail], data[ptrAt:ptrAt+2*tail])
	}
	binary.BigEndian.PutUint16(data[ptrAt:], uint16(offset))

	base := headerBase(pageNum)
	binary.BigEndian.PutUint16(data[base+hdrOffsetCellCount:], hdr.CellCount+1)
	return nil
}

// allocateCellSpace reserves size bytes in the cell content area and
// returns the offset, defragmenting once if needed.
func allocateCellSpace(data []byte, pageNum uint32, hdr *PageHeader, usable, size int) (int, error) {
	contentStart := hdr.ContentStart()
	if contentStart > usable {
		contentStart = usable
	}

	// Room for the new cell plus its pointer slot.
	ptrEnd := hdr.CellPtrOffset + 2*(int(hdr.CellCount)+1)
	newStart := contentStart - size
	if newStart < ptrEnd {
		if err := defragmentLeaf(data, pageNum, usable); err != nil {
			return 0, err
		}
		rehdr, err := ParsePageHeader(data, pageNum)
		if err != nil {
			return 0, err
		}
		contentStart = rehdr.ContentStart()
		if contentStart > usable {
			contentStart = usable
		}
		newStart = contentStart - size
		if newStart < ptrEnd {
			return 0, sharcerr.Wrapf(sharcerr.ErrPageFull,
				"page %d: cell of %d bytes does not fit", pageNum, size)
		}
	}

	base := headerBase(pageNum)
	binary.BigEndian.PutUint16(data[base+hdrOffsetCellStart:], uint16(newStart))
	return newStart, nil
}

// defragmentLeaf compacts all cells of a leaf table page against the end
// of the usable area.
func defragmentLeaf(data []byte, pageNum uint32, usable int) error {
	hdr, err := ParsePageHeader(data, pageNum)
	if err != nil {
		return err
	}
	base := headerBase(pageNum)

	if hdr.CellCount == 0 {
		binary.BigEndian.PutUint16(data[base+hdrOffsetCellStart:], uint16(usable))
		data[base+hdrOffsetFragmented] = 0
		return nil
	}

	type span struct {
		ptr  int
		size int
	}
	cells := make([]span, hdr.CellCount)
	for i := 0; i < int(hdr.CellCount); i++ {
		ptr, err := hdr.GetCellPointer(data, i)
		if err != nil {
			return err
		}
		cell, err := ParseTableLeafCell(data[ptr:], usable)
		if err != nil {
			return err
		}
		cells[i] = span{ptr: ptr, size: cell.CellSize}
	}

	// Copy cells into a scratch area, then lay them back down from the
	// tail of the page.
	scratch := make([]byte, 0, usable)
	offsets := make([]int, len(cells))
	for i, c := range cells {
		offsets[i] = len(scratch)
		scratch = append(scratch, data[c.ptr:c.ptr+c.size]...)
	}

	newStart := usable - len(scratch)
	copy(data[newStart:], scratch)
	for i := range cells {
		binary.BigEndian.PutUint16(data[hdr.CellPtrOffset+2*i:], uint16(newStart+offsets[i]))
	}
	binary.BigEndian.PutUint16(data[base+hdrOffsetCellStart:], uint16(newStart))
	data[base+hdrOffsetFragmented] = 0
	binary.BigEndian.PutUint16(data[base+hdrOffsetFreeblock:], 0)
	return nil
}

// Append inserts (rowid, payload) into the table B-tree rooted at root,
// spilling oversize payloads into a freshly allocated overflow chain.
// The tree is not restructured: the row must land on an existing leaf
// with room, otherwise ErrPageFull is returned.
func Append(w PageWriter, root uint32, usable, pageSize int, rowid int64, payload []byte) error {
	// Locate the leaf this rowid belongs to.
	page := root
	depth := 0
	for {
		if depth++; depth > MaxDepth {
			return sharcerr.NewCorrupt(page, "B-tree depth exceeded")
		}
		data, err := w.GetPage(page)
		if err != nil {
			return err
		}
		hdr, err := ParsePageHeader(data, page)
		if err != nil {
			return err
		}
		if hdr.IsLeaf {
			if !hdr.IsTable {
				return sharcerr.NewCorrupt(page, "index page inside table B-tree")
			}
			return appendToLeaf(w, page, data, hdr, usable, pageSize, rowid, payload)
		}

		idx, err := interiorLowerBound(data, hdr, rowid)
		if err != nil {
			return err
		}
		page, err = childPage(data, hdr, idx)
		if err != nil {
			return err
		}
	}
}

func appendToLeaf(w PageWriter, pageNum uint32, data []byte, hdr *PageHeader,
	usable, pageSize int, rowid int64, payload []byte) error {

	idx, exact, err := leafLowerBound(data, hdr, usable, rowid)
	if err != nil {
		return err
	}
	if exact {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "duplicate rowid %d", rowid)
	}

	cellBuf := make([]byte, 18+LocalPayloadSize(len(payload), usable)+4)
	n, spill, err := BuildTableLeafCell(rowid, payload, cellBuf, usable)
	if err != nil {
		return err
	}
	cell := cellBuf[:n]

	if len(spill) > 0 {
		first, err := writeOverflowChain(w, spill, usable, pageSize)
		if err != nil {
			return err
		}
		SetOverflowPointer(cell, first)
	}

	// Mutate a private copy; the staged write is what makes it visible.
	mut := make([]byte, len(data))
	copy(mut, data)
	if err := InsertCellIntoLeaf(mut, pageNum, usable, idx, cell); err != nil {
		return err
	}
	return w.WritePage(pageNum, mut)
}

// writeOverflowChain allocates overflow pages for spill and returns the
// first page number. Each page starts with the next-page pointer; the
// final page's pointer is zero.
func writeOverflowChain(w PageWriter, spill []byte, usable, pageSize int) (uint32, error) {
	chunkSize := usable - 4
	if chunkSize <= 0 {
		return 0, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "usable page size too small for overflow")
	}
	pages := (len(spill) + chunkSize - 1) / chunkSize
	first := w.PageCount() + 1

	for i := 0; i < pages; i++ {
		buf := make([]byte, pageSize)
		var next uint32
		if i < pages-1 {
			next = first + uint32(i) + 1
		}
		binary.BigEndian.PutUint32(buf, next)

		start := i * chunkSize
		end := start + chunkSize
		if end > len(spill) {
			end = len(spill)
		}
		copy(buf[4:], spill[start:end])

		if err := w.WritePage(first+uint32(i), buf); err != nil {
			return 0, err
		}
	}
	return first, nil
}
