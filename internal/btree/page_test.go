package btree

import (
	"encoding/binary"
	"testing"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/format"
)

func TestParsePageHeaderLeaf(t *testing.T) {
	page := make([]byte, 512)
	InitLeafTablePage(page, 2, 512)

	hdr, err := ParsePageHeader(page, 2)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}
	if !hdr.IsLeaf || !hdr.IsTable {
		t.Errorf("leaf table flags wrong: %+v", hdr)
	}
	if hdr.HeaderSize != HeaderSizeLeaf {
		t.Errorf("HeaderSize = %d, want %d", hdr.HeaderSize, HeaderSizeLeaf)
	}
	if hdr.CellCount != 0 {
		t.Errorf("CellCount = %d, want 0", hdr.CellCount)
	}
	if hdr.ContentStart() != 512 {
		t.Errorf("ContentStart() = %d, want 512", hdr.ContentStart())
	}
}

func TestParsePageHeaderPage1Offset(t *testing.T) {
	page := make([]byte, 512)
	InitLeafTablePage(page, 1, 512)

	hdr, err := ParsePageHeader(page, 1)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}
	if hdr.CellPtrOffset != format.HeaderSize+HeaderSizeLeaf {
		t.Errorf("CellPtrOffset = %d, want %d", hdr.CellPtrOffset, format.HeaderSize+HeaderSizeLeaf)
	}
}

func TestParsePageHeaderContentStartZero(t *testing.T) {
	page := make([]byte, 512)
	page[0] = PageTypeLeafTable
	// content start 0 denotes 65536
	binary.BigEndian.PutUint16(page[hdrOffsetCellStart:], 0)

	hdr, err := ParsePageHeader(page, 3)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}
	if hdr.ContentStart() != 65536 {
		t.Errorf("ContentStart() = %d, want 65536", hdr.ContentStart())
	}
}

func TestParsePageHeaderInterior(t *testing.T) {
	page := make([]byte, 512)
	page[0] = PageTypeInteriorTable
	binary.BigEndian.PutUint16(page[hdrOffsetCellCount:], 1)
	binary.BigEndian.PutUint32(page[hdrOffsetRightChild:], 7)

	hdr, err := ParsePageHeader(page, 4)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}
	if hdr.IsLeaf {
		t.Error("interior page parsed as leaf")
	}
	if hdr.RightChild != 7 {
		t.Errorf("RightChild = %d, want 7", hdr.RightChild)
	}
	if hdr.HeaderSize != HeaderSizeInterior {
		t.Errorf("HeaderSize = %d, want %d", hdr.HeaderSize, HeaderSizeInterior)
	}
}

func TestParsePageHeaderBadType(t *testing.T) {
	page := make([]byte, 512)
	page[0] = 0x42

	if _, err := ParsePageHeader(page, 5); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("error = %v, want ErrCorruptPage", err)
	}
}

func TestParsePageHeaderShortPage(t *testing.T) {
	if _, err := ParsePageHeader(make([]byte, 4), 5); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("error = %v, want ErrCorruptPage", err)
	}
}

func TestGetCellPointerBounds(t *testing.T) {
	page := make([]byte, 512)
	InitLeafTablePage(page, 2, 512)

	// One cell at offset 500
	binary.BigEndian.PutUint16(page[hdrOffsetCellCount:], 1)
	binary.BigEndian.PutUint16(page[HeaderSizeLeaf:], 500)

	hdr, err := ParsePageHeader(page, 2)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}

	ptr, err := hdr.GetCellPointer(page, 0)
	if err != nil || ptr != 500 {
		t.Errorf("GetCellPointer(0) = (%d, %v), want (500, nil)", ptr, err)
	}

	if _, err := hdr.GetCellPointer(page, 1); !sharcerr.Is(err, sharcerr.ErrInvalidArgument) {
		t.Errorf("out-of-range index error = %v, want ErrInvalidArgument", err)
	}
	if _, err := hdr.GetCellPointer(page, -1); !sharcerr.Is(err, sharcerr.ErrInvalidArgument) {
		t.Errorf("negative index error = %v, want ErrInvalidArgument", err)
	}
}

func TestGetCellPointerCorrupt(t *testing.T) {
	page := make([]byte, 512)
	InitLeafTablePage(page, 2, 512)
	binary.BigEndian.PutUint16(page[hdrOffsetCellCount:], 1)

	// Pointer into the cell pointer array itself
	binary.BigEndian.PutUint16(page[HeaderSizeLeaf:], 5)

	hdr, err := ParsePageHeader(page, 2)
	if err != nil {
		t.Fatalf("ParsePageHeader() error = %v", err)
	}
	if _, err := hdr.GetCellPointer(page, 0); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("overlapping pointer error = %v, want ErrCorruptPage", err)
	}
}
