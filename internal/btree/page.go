package btree

import (
	"encoding/binary"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/format"
)

// Page type constants (first byte of the page header).
const (
	PageTypeInteriorIndex = 0x02
	PageTypeInteriorTable = 0x05
	PageTypeLeafIndex     = 0x0a
	PageTypeLeafTable     = 0x0d
)

// Page header field offsets, relative to the header start.
const (
	hdrOffsetType       = 0 // page type (1 byte)
	hdrOffsetFreeblock  = 1 // first freeblock offset (2 bytes)
	hdrOffsetCellCount  = 3 // number of cells (2 bytes)
	hdrOffsetCellStart  = 5 // start of cell content area (2 bytes; 0 means 65536)
	hdrOffsetFragmented = 7 // fragmented free bytes (1 byte)
	hdrOffsetRightChild = 8 // right-most child pointer (4 bytes, interior only)
)

const (
	// HeaderSizeLeaf is the page header size on leaf pages.
	HeaderSizeLeaf = 8
	// HeaderSizeInterior is the page header size on interior pages.
	HeaderSizeInterior = 12
)

// PageHeader is the parsed header of a B-tree page.
type PageHeader struct {
	PageType        byte
	FirstFreeblock  uint16
	CellCount       uint16
	contentStartRaw uint16 // raw field; 0 denotes 65536
	FragmentedBytes byte
	RightChild      uint32 // interior pages only

	IsLeaf     bool
	IsTable    bool
	HeaderSize int
	// CellPtrOffset is where the cell pointer array starts within the page
	// buffer, accounting for the 100-byte file header on page 1.
	CellPtrOffset int
}

// ContentStart returns the cell content area offset, expanding the
// 0 == 65536 special case.
func (h *PageHeader) ContentStart() int {
	if h.contentStartRaw == 0 {
		return 65536
	}
	return int(h.contentStartRaw)
}

// ParsePageHeader parses the B-tree page header of the given page. Page 1
// carries the 100-byte database header first.
func ParsePageHeader(data []byte, pageNum uint32) (*PageHeader, error) {
	offset := 0
	if pageNum == 1 {
		offset = format.HeaderSize
	}
	if len(data) < offset+HeaderSizeLeaf {
		return nil, sharcerr.NewCorrupt(pageNum, "page too small for header")
	}

	h := &PageHeader{
		PageType:        data[offset+hdrOffsetType],
		FirstFreeblock:  binary.BigEndian.Uint16(data[offset+hdrOffsetFreeblock:]),
		CellCount:       binary.BigEndian.Uint16(data[offset+hdrOffsetCellCount:]),
		contentStartRaw: binary.BigEndian.Uint16(data[offset+hdrOffsetCellStart:]),
		FragmentedBytes: data[offset+hdrOffsetFragmented],
	}

	switch h.PageType {
	case PageTypeLeafTable:
		h.IsLeaf = true
		h.IsTable = true
	case PageTypeLeafIndex:
		h.IsLeaf = true
	case PageTypeInteriorTable:
		h.IsTable = true
	case PageTypeInteriorIndex:
	default:
		return nil, sharcerr.NewCorrupt(pageNum, "invalid page type byte")
	}

	if h.IsLeaf {
		h.HeaderSize = HeaderSizeLeaf
	} else {
		if len(data) < offset+HeaderSizeInterior {
			return nil, sharcerr.NewCorrupt(pageNum, "page too small for interior header")
		}
		h.RightChild = binary.BigEndian.Uint32(data[offset+hdrOffsetRightChild:])
		h.HeaderSize = HeaderSizeInterior
	}
	h.CellPtrOffset = offset + h.HeaderSize

	return h, nil
}

// GetCellPointer returns the page offset of cell i.
func (h *PageHeader) GetCellPointer(data []byte, i int) (int, error) {
	if i < 0 || i >= int(h.CellCount) {
		return 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"cell index %d out of range [0,%d)", i, h.CellCount)
	}
	ptrOffset := h.CellPtrOffset + 2*i
	if ptrOffset+2 > len(data) {
		return 0, sharcerr.NewCorrupt(0, "cell pointer array overruns page")
	}
	ptr := int(binary.BigEndian.Uint16(data[ptrOffset:]))
	if ptr >= len(data) || ptr < h.CellPtrOffset+2*int(h.CellCount) {
		// Cell content may not overlap the pointer array or fall outside
		// the page.
		return 0, sharcerr.NewCorrupt(0, "cell pointer out of page bounds")
	}
	return ptr, nil
}
