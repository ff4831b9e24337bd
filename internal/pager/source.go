// Package pager provides page-addressed access to the database file.
//
// Four source variants share one contract: a file-backed source with a
// per-source scratch buffer, an LRU-cached wrapper, a fully in-memory
// source, and a memory-mapped source. Page views are borrowed: for the
// plain file source a view is valid only until the next GetPage or
// WritePage on the same source; memory and mmap views stay valid until
// Close.
package pager

import (
	"io"
	"os"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/format"
)

// PageSource is page-addressed byte storage. Pages are numbered from 1.
type PageSource interface {
	// PageCount returns the current number of pages.
	PageCount() uint32
	// GetPage returns a borrowed view of exactly PageSize bytes.
	GetPage(n uint32) ([]byte, error)
	// PageSize returns the page size in bytes.
	PageSize() int
	// Close releases the source; further calls fail with ErrInvalidState.
	Close() error
}

// WritablePageSource extends PageSource with page writes. Writing page
// PageCount()+1 grows the store by one page.
type WritablePageSource interface {
	PageSource
	WritePage(n uint32, data []byte) error
}

// FileSource reads pages through an OS file handle.
//
// Not thread-safe: all reads share one scratch buffer, and the returned
// view is valid only until the next call. Wrap it in a CachedSource (with
// a non-zero capacity) for concurrent use.
type FileSource struct {
	file      *os.File
	path      string
	pageSize  int
	pageCount uint32
	scratch   []byte
	transform PageTransform
	readOnly  bool
	closed    bool
}

// OpenFile opens a database file as a page source. The page size is read
// from the database header.
func OpenFile(path string, readOnly bool) (*FileSource, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, sharcerr.NewIO("open", path, err)
	}

	hdrBuf := make([]byte, format.HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidDatabase, "header read failed")
	}
	var hdr format.Header
	if err := hdr.Parse(hdrBuf); err != nil {
		f.Close()
		return nil, err
	}
	pageSize := hdr.ActualPageSize()

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, sharcerr.NewIO("stat", path, err)
	}

	return &FileSource{
		file:      f,
		path:      path,
		pageSize:  pageSize,
		pageCount: uint32(st.Size() / int64(pageSize)),
		scratch:   make([]byte, pageSize),
		transform: IdentityTransform{},
		readOnly:  readOnly,
	}, nil
}

// NewFileSource wraps an already-created file with a known page size, for
// freshly created databases.
func NewFileSource(f *os.File, path string, pageSize int, pageCount uint32) *FileSource {
	return &FileSource{
		file:      f,
		path:      path,
		pageSize:  pageSize,
		pageCount: pageCount,
		scratch:   make([]byte, pageSize),
		transform: IdentityTransform{},
	}
}

// SetTransform installs a page transform applied on every read and write.
func (s *FileSource) SetTransform(t PageTransform) { s.transform = t }

// PageCount returns the current number of pages.
func (s *FileSource) PageCount() uint32 { return s.pageCount }

// PageSize returns the page size in bytes.
func (s *FileSource) PageSize() int { return s.pageSize }

// GetPage reads page n into the source's scratch buffer and returns it.
// The view is invalidated by the next GetPage or WritePage call.
func (s *FileSource) GetPage(n uint32) ([]byte, error) {
	if s.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	if n == 0 || n > s.pageCount {
		return nil, sharcerr.NewIO("read", s.path,
			sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "page %d out of range [1,%d]", n, s.pageCount))
	}

	offset := int64(n-1) * int64(s.pageSize)
	if _, err := s.file.ReadAt(s.scratch, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, sharcerr.NewCorrupt(n, "short page read")
		}
		return nil, sharcerr.NewIO("read", s.path, err)
	}
	return s.transform.Decode(n, s.scratch)
}

// WritePage writes page n, growing the file when n == PageCount()+1.
func (s *FileSource) WritePage(n uint32, data []byte) error {
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	if s.readOnly {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source is read-only")
	}
	if len(data) != s.pageSize {
		return sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"page data is %d bytes, page size is %d", len(data), s.pageSize)
	}
	if n == 0 || n > s.pageCount+1 {
		return sharcerr.NewIO("write", s.path,
			sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "page %d out of range [1,%d]", n, s.pageCount+1))
	}

	encoded, err := s.transform.Encode(n, data)
	if err != nil {
		return err
	}
	offset := int64(n-1) * int64(s.pageSize)
	if _, err := s.file.WriteAt(encoded, offset); err != nil {
		return sharcerr.NewIO("write", s.path, err)
	}
	if n == s.pageCount+1 {
		s.pageCount = n
	}
	return nil
}

// Sync flushes pending writes to stable storage.
func (s *FileSource) Sync() error {
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	if err := s.file.Sync(); err != nil {
		return sharcerr.NewIO("sync", s.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return sharcerr.NewIO("close", s.path, err)
	}
	return nil
}
