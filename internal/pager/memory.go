package pager

import (
	"os"

	"github.com/edsrzf/mmap-go"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/format"
)

// MemorySource holds the whole database as one owned byte slice. Reads
// allocate nothing and views stay valid until Close.
type MemorySource struct {
	data     []byte
	pageSize int
	readOnly bool
	closed   bool
}

// NewMemorySource wraps data as a page source. The page size is read from
// the database header in data.
func NewMemorySource(data []byte, readOnly bool) (*MemorySource, error) {
	var hdr format.Header
	if err := hdr.Parse(data); err != nil {
		return nil, err
	}
	pageSize := hdr.ActualPageSize()
	if len(data)%pageSize != 0 {
		return nil, sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"database size %d is not a multiple of page size %d", len(data), pageSize)
	}
	return &MemorySource{data: data, pageSize: pageSize, readOnly: readOnly}, nil
}

// NewEmptyMemorySource creates a writable in-memory source with the given
// page size and no pages, for freshly created databases.
func NewEmptyMemorySource(pageSize int) *MemorySource {
	return &MemorySource{pageSize: pageSize}
}

// PageCount returns the current number of pages.
func (s *MemorySource) PageCount() uint32 { return uint32(len(s.data) / s.pageSize) }

// PageSize returns the page size in bytes.
func (s *MemorySource) PageSize() int { return s.pageSize }

// Bytes returns the full backing store.
func (s *MemorySource) Bytes() []byte { return s.data }

// GetPage returns a view into the backing store, valid until Close.
func (s *MemorySource) GetPage(n uint32) ([]byte, error) {
	if s.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	if n == 0 || n > s.PageCount() {
		return nil, sharcerr.NewIO("read", "",
			sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "page %d out of range [1,%d]", n, s.PageCount()))
	}
	start := int(n-1) * s.pageSize
	return s.data[start : start+s.pageSize], nil
}

// WritePage writes page n, growing the store when n == PageCount()+1.
func (s *MemorySource) WritePage(n uint32, data []byte) error {
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
	count := s.PageCount()
	if n == 0 || n > count+1 {
		return sharcerr.NewIO("write", "",
			sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "page %d out of range [1,%d]", n, count+1))
	}
	if n == count+1 {
		s.data = append(s.data, data...)
		return nil
	}
	copy(s.data[int(n-1)*s.pageSize:], data)
	return nil
}

// Close marks the source unusable.
func (s *MemorySource) Close() error {
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	s.closed = true
	return nil
}

// MmapSource exposes an OS-mapped database file as read-only borrowed
// bytes. Views stay valid until Close.
type MmapSource struct {
	file     *os.File
	mapping  mmap.MMap
	path     string
	pageSize int
	closed   bool
}

// OpenMmap maps the database file read-only.
func OpenMmap(path string) (*MmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sharcerr.NewIO("open", path, err)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, sharcerr.NewIO("mmap", path, err)
	}

	var hdr format.Header
	if err := hdr.Parse(m); err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}

	return &MmapSource{
		file:     f,
		mapping:  m,
		path:     path,
		pageSize: hdr.ActualPageSize(),
	}, nil
}

// PageCount returns the current number of pages.
func (s *MmapSource) PageCount() uint32 { return uint32(len(s.mapping) / s.pageSize) }

// PageSize returns the page size in bytes.
func (s *MmapSource) PageSize() int { return s.pageSize }

// GetPage returns a view into the mapped region, valid until Close.
func (s *MmapSource) GetPage(n uint32) ([]byte, error) {
	if s.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	if n == 0 || n > s.PageCount() {
		return nil, sharcerr.NewIO("read", s.path,
			sharcerr.Wrapf(sharcerr.ErrInvalidArgument, "page %d out of range [1,%d]", n, s.PageCount()))
	}
	start := int(n-1) * s.pageSize
	return s.mapping[start : start+s.pageSize], nil
}

// Close unmaps the region and closes the file.
func (s *MmapSource) Close() error {
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	s.closed = true
	if err := s.mapping.Unmap(); err != nil {
		s.file.Close()
		return sharcerr.NewIO("munmap", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		return sharcerr.NewIO("close", s.path, err)
	}
	return nil
}
