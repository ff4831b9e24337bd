package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// memStore is a test page store: 1-based pages, grow-on-append writes.
type memStore struct {
	pageSize int
	pages    [][]byte
}

func newMemStore(pageSize, pages int) *memStore {
	s := &memStore{pageSize: pageSize}
	for i := 0; i < pages; i++ {
		s.pages = append(s.pages, make([]byte, pageSize))
	}
	return s
}

func (s *memStore) GetPage(n uint32) ([]byte, error) {
	if n == 0 || int(n) > len(s.pages) {
		return nil, sharcerr.NewIO("read", "", fmt.Errorf("page %d out of range", n))
	}
	return s.pages[n-1], nil
}

func (s *memStore) WritePage(n uint32, data []byte) error {
	if n == 0 || int(n) > len(s.pages)+1 {
		return sharcerr.NewIO("write", "", fmt.Errorf("page %d out of range", n))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	if int(n) == len(s.pages)+1 {
		s.pages = append(s.pages, cp)
		return nil
	}
	s.pages[n-1] = cp
	return nil
}

func (s *memStore) PageCount() uint32 { return uint32(len(s.pages)) }

// leafPage builds a leaf table page holding the given rowids, each with a
// small record payload derived from the rowid.
func leafPage(t *testing.T, pageSize, usable int, pageNum uint32, rowids []int64) []byte {
	t.Helper()
	page := make([]byte, pageSize)
	InitLeafTablePage(page, pageNum, usable)
	for i, rowid := range rowids {
		payload := encodeRecord(t, []ColumnValue{Int64(rowid), TextString(fmt.Sprintf("row-%d", rowid))})
		cellBuf := make([]byte, 32+len(payload))
		n, spill, err := BuildTableLeafCell(rowid, payload, cellBuf, usable)
		if err != nil {
			t.Fatalf("BuildTableLeafCell(%d) error = %v", rowid, err)
		}
		if len(spill) != 0 {
			t.Fatalf("unexpected spill for rowid %d", rowid)
		}
		if err := InsertCellIntoLeaf(page, pageNum, usable, i, cellBuf[:n]); err != nil {
			t.Fatalf("InsertCellIntoLeaf(%d) error = %v", rowid, err)
		}
	}
	return page
}

// interiorPage builds an interior table page: keys[i] is the divider key
// for child children[i]; right is the right-most child.
func interiorPage(t *testing.T, pageSize int, children []uint32, keys []int64, right uint32) []byte {
	t.Helper()
	if len(children) != len(keys) {
		t.Fatal("children/keys mismatch")
	}
	page := make([]byte, pageSize)
	page[0] = PageTypeInteriorTable
	binary.BigEndian.PutUint16(page[hdrOffsetCellCount:], uint16(len(children)))
	binary.BigEndian.PutUint32(page[hdrOffsetRightChild:], right)

	content := pageSize
	for i := len(children) - 1; i >= 0; i-- {
		var cell [13]byte
		binary.BigEndian.PutUint32(cell[:], children[i])
		n := 4 + PutVarint(cell[4:], uint64(keys[i]))
		content -= n
		copy(page[content:], cell[:n])
		binary.BigEndian.PutUint16(page[HeaderSizeInterior+2*i:], uint16(content))
	}
	binary.BigEndian.PutUint16(page[hdrOffsetCellStart:], uint16(content))
	return page
}

// twoLevelTree builds a root interior page (2) over three leaves (3,4,5)
// with rowids 1..9.
func twoLevelTree(t *testing.T) (*memStore, uint32) {
	t.Helper()
	const pageSize = 512
	s := newMemStore(pageSize, 1) // page 1 placeholder
	s.pages = append(s.pages, interiorPage(t, pageSize, []uint32{3, 4}, []int64{3, 6}, 5))
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 3, []int64{1, 2, 3}))
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 4, []int64{4, 5, 6}))
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 5, []int64{7, 8, 9}))
	return s, 2
}

func collectRowids(t *testing.T, c *Cursor) []int64 {
	t.Helper()
	var got []int64
	ok, err := c.MoveFirst()
	if err != nil {
		t.Fatalf("MoveFirst() error = %v", err)
	}
	for ok {
		got = append(got, c.Rowid())
		ok, err = c.MoveNext()
		if err != nil {
			t.Fatalf("MoveNext() error = %v", err)
		}
	}
	return got
}

func TestCursorScanSingleLeaf(t *testing.T) {
	const pageSize = 512
	s := newMemStore(pageSize, 1)
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 2, []int64{10, 20, 30}))

	c := NewCursor(s, 2, pageSize)
	defer c.Close()

	got := collectRowids(t, c)
	want := []int64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCursorScanTwoLevels(t *testing.T) {
	s, root := twoLevelTree(t)
	c := NewCursor(s, root, 512)
	defer c.Close()

	got := collectRowids(t, c)
	if len(got) != 9 {
		t.Fatalf("got %d rows, want 9: %v", len(got), got)
	}
	for i, r := range got {
		if r != int64(i+1) {
			t.Fatalf("rows out of order: %v", got)
		}
	}
}

func TestCursorEmptyTable(t *testing.T) {
	const pageSize = 512
	s := newMemStore(pageSize, 1)
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 2, nil))

	c := NewCursor(s, 2, pageSize)
	defer c.Close()

	ok, err := c.MoveFirst()
	if err != nil {
		t.Fatalf("MoveFirst() error = %v", err)
	}
	if ok {
		t.Error("MoveFirst() on empty table = true")
	}
}

func TestCursorSeek(t *testing.T) {
	s, root := twoLevelTree(t)
	c := NewCursor(s, root, 512)
	defer c.Close()

	// Exact hits, including divider keys which must resolve left.
	for _, rowid := range []int64{1, 3, 4, 6, 7, 9} {
		found, err := c.Seek(rowid)
		if err != nil {
			t.Fatalf("Seek(%d) error = %v", rowid, err)
		}
		if !found || c.Rowid() != rowid {
			t.Errorf("Seek(%d) = (%v, at %d)", rowid, found, c.Rowid())
		}
	}

	// Misses position at the least greater rowid.
	found, err := c.Seek(0)
	if err != nil || found {
		t.Fatalf("Seek(0) = (%v, %v)", found, err)
	}
	if !c.Valid() || c.Rowid() != 1 {
		t.Errorf("Seek(0) positioned at %d, want 1", c.Rowid())
	}

	// MoveNext after an exact seek on a leaf's last row lands on the next
	// leaf's first row.
	s2, root2 := twoLevelTree(t)
	c2 := NewCursor(s2, root2, 512)
	defer c2.Close()
	removedSeek(t, c2)

	// Beyond the last rowid the cursor is exhausted.
	found, err = c.Seek(100)
	if err != nil || found {
		t.Fatalf("Seek(100) = (%v, %v)", found, err)
	}
	if c.Valid() {
		t.Errorf("Seek(100) left cursor valid at %d", c.Rowid())
	}
}

// removedSeek checks that MoveNext after an exact Seek on the last cell
// of one leaf continues with the first cell of the next leaf.
func removedSeek(t *testing.T, c *Cursor) {
	t.Helper()
	// Rowid 6 is the last cell of leaf 4; rowid 7 is the first cell of
	// leaf 5.
	found, err := c.Seek(6)
	if err != nil || !found {
		t.Fatalf("Seek(6) = (%v, %v)", found, err)
	}
	ok, err := c.MoveNext()
	if err != nil || !ok {
		t.Fatalf("MoveNext() = (%v, %v)", ok, err)
	}
	if c.Rowid() != 7 {
		t.Errorf("after Seek(6)+MoveNext at %d, want 7", c.Rowid())
	}
}

func TestCursorSeekGapAcrossLeaf(t *testing.T) {
	const pageSize = 512
	// Leaves hold sparse rowids so a seek can fall past a leaf tail.
	s := newMemStore(pageSize, 1)
	s.pages = append(s.pages, interiorPage(t, pageSize, []uint32{3}, []int64{20}, 4))
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 3, []int64{10, 20}))
	s.pages = append(s.pages, leafPage(t, pageSize, pageSize, 4, []int64{40, 50}))

	c := NewCursor(s, 2, pageSize)
	defer c.Close()

	// 25 belongs after leaf 3's last cell; the successor is 40 on leaf 4.
	found, err := c.Seek(25)
	if err != nil || found {
		t.Fatalf("Seek(25) = (%v, %v)", found, err)
	}
	if !c.Valid() || c.Rowid() != 40 {
		t.Errorf("Seek(25) positioned at %d, want 40", c.Rowid())
	}
}

func TestCursorPayload(t *testing.T) {
	s, root := twoLevelTree(t)
	c := NewCursor(s, root, 512)
	defer c.Close()

	if _, err := c.Seek(5); err != nil {
		t.Fatalf("Seek(5) error = %v", err)
	}
	payload, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	values, err := DecodeRecord(payload)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if values[0].Int != 5 || string(values[1].Bytes) != "row-5" {
		t.Errorf("decoded = %+v", values)
	}
}

func TestCursorMoveLast(t *testing.T) {
	s, root := twoLevelTree(t)
	c := NewCursor(s, root, 512)
	defer c.Close()

	ok, err := c.MoveLast()
	if err != nil || !ok {
		t.Fatalf("MoveLast() = (%v, %v)", ok, err)
	}
	if c.Rowid() != 9 {
		t.Errorf("MoveLast() at %d, want 9", c.Rowid())
	}
	ok, err = c.MoveNext()
	if err != nil || ok {
		t.Errorf("MoveNext() after last = (%v, %v)", ok, err)
	}
}

func TestCursorOverflowPayload(t *testing.T) {
	const pageSize = 512
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	s := newMemStore(pageSize, 1)
	s.pages = append(s.pages, make([]byte, pageSize))
	InitLeafTablePage(s.pages[1], 2, pageSize)

	if err := Append(s, 2, pageSize, pageSize, 1, payload); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	c := NewCursor(s, 2, pageSize)
	defer c.Close()

	found, err := c.Seek(1)
	if err != nil || !found {
		t.Fatalf("Seek(1) = (%v, %v)", found, err)
	}
	got, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("overflow payload round trip mismatch")
	}
}

func TestCursorOverflowCycle(t *testing.T) {
	const pageSize = 512
	s := newMemStore(pageSize, 1)
	s.pages = append(s.pages, make([]byte, pageSize))
	InitLeafTablePage(s.pages[1], 2, pageSize)

	payload := bytes.Repeat([]byte{0xEE}, 2000)
	if err := Append(s, 2, pageSize, pageSize, 1, payload); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Point the first overflow page's next pointer back at itself.
	firstOverflow := s.pages[2]
	binary.BigEndian.PutUint32(firstOverflow, 3)

	c := NewCursor(s, 2, pageSize)
	defer c.Close()

	if _, err := c.Seek(1); err != nil {
		t.Fatalf("Seek(1) error = %v", err)
	}
	if _, err := c.Payload(); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("Payload() error = %v, want ErrCorruptPage", err)
	}
}

func TestCursorClosed(t *testing.T) {
	s, root := twoLevelTree(t)
	c := NewCursor(s, root, 512)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := c.MoveFirst(); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("MoveFirst() after close error = %v, want ErrInvalidState", err)
	}
	if err := c.Close(); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("double Close() error = %v, want ErrInvalidState", err)
	}
}

func TestCursorCorruptPageType(t *testing.T) {
	const pageSize = 512
	s := newMemStore(pageSize, 1)
	bad := make([]byte, pageSize)
	bad[0] = 0x33
	s.pages = append(s.pages, bad)

	c := NewCursor(s, 2, pageSize)
	defer c.Close()

	if _, err := c.MoveFirst(); !sharcerr.Is(err, sharcerr.ErrCorruptPage) {
		t.Errorf("MoveFirst() error = %v, want ErrCorruptPage", err)
	}
}
