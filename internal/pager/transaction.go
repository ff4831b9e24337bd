package pager

import (
	"sort"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

// Transaction stages page writes on top of a source. Reads see staged
// pages first (read-your-writes); the underlying source is untouched
// until Commit, which flushes staged pages in page-number order.
type Transaction struct {
	inner  WritablePageSource
	staged map[uint32][]byte
	// grown tracks pages appended past the inner source's page count so
	// PageCount and growth validation see them before commit.
	grown uint32
	done  bool
}

// NewTransaction begins a transaction over the source.
func NewTransaction(inner WritablePageSource) *Transaction {
	return &Transaction{
		inner:  inner,
		staged: make(map[uint32][]byte),
	}
}

// PageCount includes pages appended inside the transaction.
func (t *Transaction) PageCount() uint32 { return t.inner.PageCount() + t.grown }

// PageSize returns the page size in bytes.
func (t *Transaction) PageSize() int { return t.inner.PageSize() }

// GetPage returns the staged copy of page n if present, else reads
// through.
func (t *Transaction) GetPage(n uint32) ([]byte, error) {
	if t.done {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "transaction finished")
	}
	if data, ok := t.staged[n]; ok {
		return data, nil
	}
	return t.inner.GetPage(n)
}

// WritePage stages page n. Writing PageCount()+1 grows the staged store.
func (t *Transaction) WritePage(n uint32, data []byte) error {
	if t.done {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "transaction finished")
	}
	if len(data) != t.inner.PageSize() {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"page data is %d bytes, page size is %d", len(data), t.inner.PageSize())
	}
	count := t.PageCount()
	if n == 0 || n > count+1 {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"page %d out of range [1,%d]", n, count+1)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	t.staged[n] = cp
	if n == count+1 {
		t.grown++
	}
	return nil
}

// Commit flushes staged pages to the source in page-number order and
// finishes the transaction.
func (t *Transaction) Commit() error {
	if t.done {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "transaction finished")
	}

	pages := make([]uint32, 0, len(t.staged))
	for n := range t.staged {
		pages = append(pages, n)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	for _, n := range pages {
		if err := t.inner.WritePage(n, t.staged[n]); err != nil {
			return err
		}
	}
	t.staged = nil
	t.done = true
	return nil
}

// Rollback discards staged pages and finishes the transaction. Rolling
// back a finished transaction is a no-op so deferred cleanup is safe.
func (t *Transaction) Rollback() {
	t.staged = nil
	t.done = true
}
