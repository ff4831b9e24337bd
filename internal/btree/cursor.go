package btree

import (
	"encoding/binary"

	mapset "github.com/deckarep/golang-set/v2"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/bufpool"
)

// PageReader is the page access a cursor needs. Implementations return
// borrowed page views; an uncached source may invalidate the previous
// view on the next GetPage call.
type PageReader interface {
	GetPage(n uint32) ([]byte, error)
}

// MaxDepth bounds B-tree descent to stop corrupt databases from looping.
const MaxDepth = 20

type frame struct {
	page uint32
	cell int // cell index; on interior pages CellCount means the right child
}

// Cursor traverses a table B-tree in rowid order.
//
// Payload views are valid until the next MoveFirst/MoveNext/Seek/Close on
// the same cursor. Overflowing payloads are assembled into a pooled buffer
// that is returned on every reposition and on Close.
type Cursor struct {
	src    PageReader
	root   uint32
	usable int

	frames  []frame
	leafHdr *PageHeader
	cell    TableLeafCell

	payload []byte // assembled payload view, nil until Payload is called
	rented  []byte // pooled buffer backing payload, nil when inline

	valid  bool
	closed bool
}

// NewCursor creates a cursor over the table B-tree rooted at root.
func NewCursor(src PageReader, root uint32, usable int) *Cursor {
	return &Cursor{
		src:    src,
		root:   root,
		usable: usable,
		frames: make([]frame, 0, 4),
	}
}

// Valid reports whether the cursor is positioned on a row.
func (c *Cursor) Valid() bool { return c.valid && !c.closed }

// Rowid returns the rowid of the current row.
func (c *Cursor) Rowid() int64 { return c.cell.Rowid }

// Close releases the cursor's pooled buffer and marks it unusable.
func (c *Cursor) Close() error {
	if c.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor already closed")
	}
	c.releasePayload()
	c.valid = false
	c.closed = true
	return nil
}

func (c *Cursor) releasePayload() {
	if c.rented != nil {
		bufpool.Put(c.rented)
		c.rented = nil
	}
	c.payload = nil
}

func (c *Cursor) loadPage(n uint32) ([]byte, *PageHeader, error) {
	data, err := c.src.GetPage(n)
	if err != nil {
		return nil, nil, err
	}
	hdr, err := ParsePageHeader(data, n)
	if err != nil {
		return nil, nil, err
	}
	if hdr.IsLeaf != (hdr.PageType == PageTypeLeafTable) || !hdr.IsTable {
		return nil, nil, sharcerr.NewCorrupt(n, "index page inside table B-tree")
	}
	return data, hdr, nil
}

// setLeafPosition parses the cell at index i of the given leaf page and
// marks the cursor valid there.
func (c *Cursor) setLeafPosition(data []byte, hdr *PageHeader, i int) error {
	ptr, err := hdr.GetCellPointer(data, i)
	if err != nil {
		return err
	}
	cell, err := ParseTableLeafCell(data[ptr:], c.usable)
	if err != nil {
		return err
	}
	c.leafHdr = hdr
	c.cell = cell
	c.valid = true
	return nil
}

// childPage returns the child taken at index i of an interior page, where
// i == CellCount selects the right child.
func childPage(data []byte, hdr *PageHeader, i int) (uint32, error) {
	if i == int(hdr.CellCount) {
		if hdr.RightChild == 0 {
			return 0, sharcerr.NewCorrupt(0, "interior page missing right child")
		}
		return hdr.RightChild, nil
	}
	ptr, err := hdr.GetCellPointer(data, i)
	if err != nil {
		return 0, err
	}
	child, _, _, err := ParseTableInteriorCell(data[ptr:])
	return child, err
}

// MoveFirst positions the cursor on the first row. It returns false when
// the table is empty.
func (c *Cursor) MoveFirst() (bool, error) {
	if c.closed {
		return false, sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor closed")
	}
	c.releasePayload()
	c.valid = false
	c.frames = c.frames[:0]

	data, hdr, err := c.loadPage(c.root)
	if err != nil {
		return false, err
	}
	if hdr.IsLeaf && hdr.CellCount == 0 {
		return false, nil
	}
	return true, c.descendLeftmost(c.root, data, hdr)
}

// descendLeftmost pushes frames down the leftmost edge from the given
// page and positions the cursor on its first leaf cell.
func (c *Cursor) descendLeftmost(page uint32, data []byte, hdr *PageHeader) error {
	for {
		if len(c.frames) >= MaxDepth {
			return sharcerr.NewCorrupt(page, "B-tree depth exceeded")
		}
		c.frames = append(c.frames, frame{page: page, cell: 0})

		if hdr.IsLeaf {
			if hdr.CellCount == 0 {
				return sharcerr.NewCorrupt(page, "empty leaf under interior page")
			}
			return c.setLeafPosition(data, hdr, 0)
		}

		child, err := childPage(data, hdr, 0)
		if err != nil {
			return err
		}
		page = child
		data, hdr, err = c.loadPage(page)
		if err != nil {
			return err
		}
	}
}

// MoveNext advances to the next row in rowid order. It returns false when
// the table is exhausted.
func (c *Cursor) MoveNext() (bool, error) {
	if c.closed {
		return false, sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor closed")
	}
	if !c.valid {
		return false, nil
	}
	c.releasePayload()

	// Advance within the current leaf.
	leaf := &c.frames[len(c.frames)-1]
	if leaf.cell+1 < int(c.leafHdr.CellCount) {
		leaf.cell++
		data, err := c.src.GetPage(leaf.page)
		if err != nil {
			c.valid = false
			return false, err
		}
		if err := c.setLeafPosition(data, c.leafHdr, leaf.cell); err != nil {
			c.valid = false
			return false, err
		}
		return true, nil
	}

	// Unwind to the nearest ancestor with an untaken right sibling.
	c.frames = c.frames[:len(c.frames)-1]
	for len(c.frames) > 0 {
		top := &c.frames[len(c.frames)-1]
		data, hdr, err := c.loadPage(top.page)
		if err != nil {
			c.valid = false
			return false, err
		}
		if top.cell+1 <= int(hdr.CellCount) {
			top.cell++
			child, err := childPage(data, hdr, top.cell)
			if err != nil {
				c.valid = false
				return false, err
			}
			cdata, chdr, err := c.loadPage(child)
			if err != nil {
				c.valid = false
				return false, err
			}
			if err := c.descendLeftmost(child, cdata, chdr); err != nil {
				c.valid = false
				return false, err
			}
			return true, nil
		}
		c.frames = c.frames[:len(c.frames)-1]
	}

	c.valid = false
	return false, nil
}

// MoveLast positions the cursor on the last row. It returns false when
// the table is empty.
func (c *Cursor) MoveLast() (bool, error) {
	if c.closed {
		return false, sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor closed")
	}
	c.releasePayload()
	c.valid = false
	c.frames = c.frames[:0]

	page := c.root
	for {
		if len(c.frames) >= MaxDepth {
			return false, sharcerr.NewCorrupt(page, "B-tree depth exceeded")
		}
		data, hdr, err := c.loadPage(page)
		if err != nil {
			return false, err
		}

		if hdr.IsLeaf {
			if hdr.CellCount == 0 {
				if len(c.frames) == 0 {
					return false, nil
				}
				return false, sharcerr.NewCorrupt(page, "empty leaf under interior page")
			}
			c.frames = append(c.frames, frame{page: page, cell: int(hdr.CellCount) - 1})
			return true, c.setLeafPosition(data, hdr, int(hdr.CellCount)-1)
		}

		c.frames = append(c.frames, frame{page: page, cell: int(hdr.CellCount)})
		page, err = childPage(data, hdr, int(hdr.CellCount))
		if err != nil {
			return false, err
		}
	}
}

// Seek positions the cursor at rowid. It returns true on an exact match;
// otherwise the cursor is left on the nearest greater rowid (or exhausted
// when none exists) so iteration continues with the range tail.
func (c *Cursor) Seek(rowid int64) (bool, error) {
	if c.closed {
		return false, sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor closed")
	}
	c.releasePayload()
	c.valid = false
	c.frames = c.frames[:0]

	page := c.root
	for {
		if len(c.frames) >= MaxDepth {
			return false, sharcerr.NewCorrupt(page, "B-tree depth exceeded")
		}
		data, hdr, err := c.loadPage(page)
		if err != nil {
			return false, err
		}

		if hdr.IsLeaf {
			idx, exact, err := leafLowerBound(data, hdr, c.usable, rowid)
			if err != nil {
				return false, err
			}
			if exact {
				c.frames = append(c.frames, frame{page: page, cell: idx})
				return true, c.setLeafPosition(data, hdr, idx)
			}
			if idx < int(hdr.CellCount) {
				c.frames = append(c.frames, frame{page: page, cell: idx})
				return false, c.setLeafPosition(data, hdr, idx)
			}
			// Past the last cell of this leaf: the successor lives in an
			// ancestor's next subtree.
			if hdr.CellCount == 0 {
				return false, nil
			}
			c.frames = append(c.frames, frame{page: page, cell: int(hdr.CellCount) - 1})
			if err := c.setLeafPosition(data, hdr, int(hdr.CellCount)-1); err != nil {
				return false, err
			}
			_, err = c.MoveNext()
			return false, err
		}

		// An equal interior key descends into its left child.
		idx, err := interiorLowerBound(data, hdr, rowid)
		if err != nil {
			return false, err
		}
		c.frames = append(c.frames, frame{page: page, cell: idx})
		page, err = childPage(data, hdr, idx)
		if err != nil {
			return false, err
		}
	}
}

// leafLowerBound binary-searches a leaf page for the first cell with
// rowid >= target.
func leafLowerBound(data []byte, hdr *PageHeader, usable int, target int64) (int, bool, error) {
	lo, hi := 0, int(hdr.CellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		ptr, err := hdr.GetCellPointer(data, mid)
		if err != nil {
			return 0, false, err
		}
		cell, err := ParseTableLeafCell(data[ptr:], usable)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cell.Rowid == target:
			return mid, true, nil
		case cell.Rowid < target:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

// interiorLowerBound binary-searches an interior page for the first cell
// with key >= target, returning CellCount when all keys are smaller.
func interiorLowerBound(data []byte, hdr *PageHeader, target int64) (int, error) {
	lo, hi := 0, int(hdr.CellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		ptr, err := hdr.GetCellPointer(data, mid)
		if err != nil {
			return 0, err
		}
		_, key, _, err := ParseTableInteriorCell(data[ptr:])
		if err != nil {
			return 0, err
		}
		if key < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Payload returns the fully-inlined record bytes of the current row,
// assembling the overflow chain on first use. The view is valid until the
// next reposition or Close.
func (c *Cursor) Payload() ([]byte, error) {
	if c.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor closed")
	}
	if !c.valid {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "cursor not positioned on a row")
	}
	if c.payload != nil {
		return c.payload, nil
	}

	if c.cell.OverflowPage == 0 {
		c.payload = c.cell.Local
		return c.payload, nil
	}

	buf := bufpool.Get(c.cell.PayloadSize)
	copied := copy(buf, c.cell.Local)

	visited := mapset.NewThreadUnsafeSet[uint32]()
	next := c.cell.OverflowPage
	for next != 0 && copied < c.cell.PayloadSize {
		if !visited.Add(next) {
			bufpool.Put(buf)
			return nil, sharcerr.NewCorrupt(next, "overflow chain cycle")
		}
		page, err := c.src.GetPage(next)
		if err != nil {
			bufpool.Put(buf)
			return nil, err
		}
		if len(page) < 4 || c.usable < 8 {
			bufpool.Put(buf)
			return nil, sharcerr.NewCorrupt(next, "overflow page too small")
		}
		this := next
		next = binary.BigEndian.Uint32(page)

		chunk := page[4:]
		if len(chunk) > c.usable-4 {
			chunk = chunk[:c.usable-4]
		}
		remaining := c.cell.PayloadSize - copied
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		if len(chunk) == 0 {
			bufpool.Put(buf)
			return nil, sharcerr.NewCorrupt(this, "empty overflow page")
		}
		copied += copy(buf[copied:], chunk)
	}
	if copied < c.cell.PayloadSize {
		bufpool.Put(buf)
		return nil, sharcerr.NewCorrupt(c.cell.OverflowPage, "overflow chain truncated")
	}

	c.rented = buf
	c.payload = buf
	return c.payload, nil
}
