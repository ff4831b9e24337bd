package pager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/format"
)

const testPageSize = 512

// fillMemory grows a memory source with n pages whose bytes are derived
// from their page number.
func fillMemory(t *testing.T, s *MemorySource, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		page := make([]byte, testPageSize)
		for j := range page {
			page[j] = byte(i)
		}
		if err := s.WritePage(uint32(i), page); err != nil {
			t.Fatalf("WritePage(%d) error = %v", i, err)
		}
	}
}

func TestMemorySourceReadWrite(t *testing.T) {
	s := NewEmptyMemorySource(testPageSize)
	fillMemory(t, s, 3)

	if s.PageCount() != 3 {
		t.Errorf("PageCount() = %d, want 3", s.PageCount())
	}

	for i := uint32(1); i <= 3; i++ {
		page, err := s.GetPage(i)
		if err != nil {
			t.Fatalf("GetPage(%d) error = %v", i, err)
		}
		if len(page) != testPageSize || page[0] != byte(i) {
			t.Errorf("page %d content wrong", i)
		}
	}

	if _, err := s.GetPage(0); !sharcerr.Is(err, sharcerr.ErrIO) {
		t.Errorf("GetPage(0) error = %v, want ErrIO", err)
	}
	if _, err := s.GetPage(4); !sharcerr.Is(err, sharcerr.ErrIO) {
		t.Errorf("GetPage(4) error = %v, want ErrIO", err)
	}

	// Growth is only allowed one page past the end.
	if err := s.WritePage(6, make([]byte, testPageSize)); !sharcerr.Is(err, sharcerr.ErrIO) {
		t.Errorf("WritePage(6) error = %v, want ErrIO", err)
	}
}

func TestMemorySourceClosed(t *testing.T) {
	s := NewEmptyMemorySource(testPageSize)
	fillMemory(t, s, 1)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.GetPage(1); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("GetPage after close error = %v, want ErrInvalidState", err)
	}
	if err := s.Close(); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("double Close error = %v, want ErrInvalidState", err)
	}
}

func TestNewMemorySourceValidatesHeader(t *testing.T) {
	if _, err := NewMemorySource(make([]byte, 1024), true); !sharcerr.Is(err, sharcerr.ErrInvalidDatabase) {
		t.Errorf("bad header error = %v, want ErrInvalidDatabase", err)
	}

	data := make([]byte, testPageSize*2)
	format.NewHeader(testPageSize).Serialize(data)
	s, err := NewMemorySource(data, true)
	if err != nil {
		t.Fatalf("NewMemorySource() error = %v", err)
	}
	if s.PageCount() != 2 || s.PageSize() != testPageSize {
		t.Errorf("count=%d size=%d", s.PageCount(), s.PageSize())
	}

	if err := s.WritePage(1, make([]byte, testPageSize)); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("write to read-only source error = %v, want ErrInvalidState", err)
	}
}

func writeTestFile(t *testing.T, pages int) string {
	t.Helper()
	data := make([]byte, testPageSize*pages)
	hdr := format.NewHeader(testPageSize)
	hdr.DatabaseSize = uint32(pages)
	hdr.Serialize(data)
	for i := 1; i < pages; i++ {
		for j := 0; j < testPageSize; j++ {
			data[i*testPageSize+j] = byte(i)
		}
	}
	path := filepath.Join(t.TempDir(), "test.db")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSource(t *testing.T) {
	path := writeTestFile(t, 4)

	s, err := OpenFile(path, true)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer s.Close()

	if s.PageCount() != 4 {
		t.Errorf("PageCount() = %d, want 4", s.PageCount())
	}
	if s.PageSize() != testPageSize {
		t.Errorf("PageSize() = %d, want %d", s.PageSize(), testPageSize)
	}

	page2, err := s.GetPage(2)
	if err != nil {
		t.Fatalf("GetPage(2) error = %v", err)
	}
	if page2[0] != 1 {
		t.Errorf("page 2 content = %d, want 1", page2[0])
	}

	// The scratch buffer is shared: the next read invalidates the view.
	page3, err := s.GetPage(3)
	if err != nil {
		t.Fatalf("GetPage(3) error = %v", err)
	}
	if page3[0] != 2 {
		t.Errorf("page 3 content = %d, want 2", page3[0])
	}
	if &page2[0] != &page3[0] {
		t.Error("file source should reuse its scratch buffer")
	}

	if err := s.WritePage(2, make([]byte, testPageSize)); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("write to read-only file error = %v, want ErrInvalidState", err)
	}
}

func TestFileSourceWriteAndGrow(t *testing.T) {
	path := writeTestFile(t, 2)

	s, err := OpenFile(path, false)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer s.Close()

	fresh := bytes.Repeat([]byte{0x7E}, testPageSize)
	if err := s.WritePage(3, fresh); err != nil {
		t.Fatalf("WritePage(3) error = %v", err)
	}
	if s.PageCount() != 3 {
		t.Errorf("PageCount() = %d, want 3", s.PageCount())
	}
	got, err := s.GetPage(3)
	if err != nil {
		t.Fatalf("GetPage(3) error = %v", err)
	}
	if !bytes.Equal(got, fresh) {
		t.Error("grown page content mismatch")
	}

	if err := s.WritePage(5, fresh); !sharcerr.Is(err, sharcerr.ErrIO) {
		t.Errorf("WritePage(5) error = %v, want ErrIO", err)
	}
}

func TestMmapSource(t *testing.T) {
	path := writeTestFile(t, 3)

	s, err := OpenMmap(path)
	if err != nil {
		t.Fatalf("OpenMmap() error = %v", err)
	}

	if s.PageCount() != 3 {
		t.Errorf("PageCount() = %d, want 3", s.PageCount())
	}
	page2, err := s.GetPage(2)
	if err != nil {
		t.Fatalf("GetPage(2) error = %v", err)
	}
	if page2[0] != 1 {
		t.Errorf("page 2 content = %d, want 1", page2[0])
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.GetPage(1); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("GetPage after close error = %v, want ErrInvalidState", err)
	}
}

func TestCachedSource(t *testing.T) {
	inner := NewEmptyMemorySource(testPageSize)
	fillMemory(t, inner, 5)

	s, err := NewCachedSource(inner, 2)
	if err != nil {
		t.Fatalf("NewCachedSource() error = %v", err)
	}
	defer s.Close()

	// Cached views are stable copies.
	a, err := s.GetPage(1)
	if err != nil {
		t.Fatalf("GetPage(1) error = %v", err)
	}
	b, err := s.GetPage(1)
	if err != nil {
		t.Fatalf("GetPage(1) error = %v", err)
	}
	if &a[0] != &b[0] {
		t.Error("cache hit should return the same buffer")
	}
	if a[0] != 1 {
		t.Errorf("page 1 content = %d, want 1", a[0])
	}

	// Writes invalidate the cached copy.
	fresh := bytes.Repeat([]byte{0x55}, testPageSize)
	if err := s.WritePage(1, fresh); err != nil {
		t.Fatalf("WritePage(1) error = %v", err)
	}
	c, err := s.GetPage(1)
	if err != nil {
		t.Fatalf("GetPage(1) error = %v", err)
	}
	if c[0] != 0x55 {
		t.Errorf("page 1 after write = %d, want 0x55", c[0])
	}
}

func TestCachedSourceZeroCapacity(t *testing.T) {
	inner := NewEmptyMemorySource(testPageSize)
	fillMemory(t, inner, 2)

	// Capacity 0 forwards straight to the inner source.
	s, err := NewCachedSource(inner, 0)
	if err != nil {
		t.Fatalf("NewCachedSource() error = %v", err)
	}
	defer s.Close()

	page, err := s.GetPage(2)
	if err != nil {
		t.Fatalf("GetPage(2) error = %v", err)
	}
	if page[0] != 2 {
		t.Errorf("page 2 content = %d, want 2", page[0])
	}
}

func TestTransactionReadYourWrites(t *testing.T) {
	inner := NewEmptyMemorySource(testPageSize)
	fillMemory(t, inner, 2)

	tx := NewTransaction(inner)

	staged := bytes.Repeat([]byte{0x11}, testPageSize)
	if err := tx.WritePage(1, staged); err != nil {
		t.Fatalf("WritePage(1) error = %v", err)
	}

	// The transaction sees the staged page; the source does not.
	got, err := tx.GetPage(1)
	if err != nil {
		t.Fatalf("tx GetPage(1) error = %v", err)
	}
	if got[0] != 0x11 {
		t.Errorf("staged page = %d, want 0x11", got[0])
	}
	direct, err := inner.GetPage(1)
	if err != nil {
		t.Fatalf("inner GetPage(1) error = %v", err)
	}
	if direct[0] != 1 {
		t.Errorf("inner page = %d, want 1 before commit", direct[0])
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	direct, err = inner.GetPage(1)
	if err != nil {
		t.Fatalf("inner GetPage(1) error = %v", err)
	}
	if direct[0] != 0x11 {
		t.Errorf("inner page = %d after commit, want 0x11", direct[0])
	}
}

func TestTransactionGrowth(t *testing.T) {
	inner := NewEmptyMemorySource(testPageSize)
	fillMemory(t, inner, 1)

	tx := NewTransaction(inner)
	if err := tx.WritePage(2, make([]byte, testPageSize)); err != nil {
		t.Fatalf("WritePage(2) error = %v", err)
	}
	if err := tx.WritePage(3, make([]byte, testPageSize)); err != nil {
		t.Fatalf("WritePage(3) error = %v", err)
	}
	if tx.PageCount() != 3 {
		t.Errorf("tx PageCount() = %d, want 3", tx.PageCount())
	}
	if inner.PageCount() != 1 {
		t.Errorf("inner PageCount() = %d before commit, want 1", inner.PageCount())
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if inner.PageCount() != 3 {
		t.Errorf("inner PageCount() = %d after commit, want 3", inner.PageCount())
	}
}

func TestTransactionRollback(t *testing.T) {
	inner := NewEmptyMemorySource(testPageSize)
	fillMemory(t, inner, 1)

	tx := NewTransaction(inner)
	if err := tx.WritePage(1, bytes.Repeat([]byte{0x22}, testPageSize)); err != nil {
		t.Fatalf("WritePage(1) error = %v", err)
	}
	tx.Rollback()

	direct, err := inner.GetPage(1)
	if err != nil {
		t.Fatalf("inner GetPage(1) error = %v", err)
	}
	if direct[0] != 1 {
		t.Errorf("inner page = %d after rollback, want 1", direct[0])
	}

	if _, err := tx.GetPage(1); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("GetPage after rollback error = %v, want ErrInvalidState", err)
	}
	if err := tx.Commit(); !sharcerr.Is(err, sharcerr.ErrInvalidState) {
		t.Errorf("Commit after rollback error = %v, want ErrInvalidState", err)
	}
}
