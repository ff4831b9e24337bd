package pager

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/bufpool"
	"github.com/sharcdb/sharc/internal/logging"
)

// CachedSource wraps another source with an LRU-bounded cache of page
// copies rented from the shared byte pool. All access is serialised under
// one mutex, which also makes a wrapped FileSource safe for concurrent
// use.
//
// A capacity of 0 disables the cache and forwards every call directly to
// the inner source. That removes the only thread-safety a FileSource has;
// callers choosing capacity 0 own their own serialisation.
type CachedSource struct {
	mu        sync.Mutex
	inner     WritablePageSource
	cache     *lru.Cache[uint32, []byte]
	capacity  int
	sensitive bool // clear evicted buffers that held decrypted plaintext
	closed    bool
}

// NewCachedSource wraps inner with a cache of up to capacity pages.
func NewCachedSource(inner WritablePageSource, capacity int) (*CachedSource, error) {
	s := &CachedSource{inner: inner, capacity: capacity}
	if capacity > 0 {
		c, err := lru.NewWithEvict[uint32, []byte](capacity, s.onEvict)
		if err != nil {
			return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, err.Error())
		}
		s.cache = c
	}
	logging.PageCache("open", capacity)
	return s, nil
}

// SetSensitive marks cached pages as holding sensitive plaintext; evicted
// buffers are then cleared before returning to the pool.
func (s *CachedSource) SetSensitive(v bool) {
	s.mu.Lock()
	s.sensitive = v
	s.mu.Unlock()
}

func (s *CachedSource) onEvict(_ uint32, buf []byte) {
	if s.sensitive {
		for i := range buf {
			buf[i] = 0
		}
	}
	bufpool.Put(buf)
}

// PageCount returns the current number of pages.
func (s *CachedSource) PageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.PageCount()
}

// PageSize returns the page size in bytes.
func (s *CachedSource) PageSize() int { return s.inner.PageSize() }

// GetPage returns the cached copy of page n, reading through on a miss.
// Cached views stay valid until the page is evicted or written.
func (s *CachedSource) GetPage(n uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}

	if s.cache == nil {
		return s.inner.GetPage(n)
	}
	if buf, ok := s.cache.Get(n); ok {
		return buf, nil
	}

	data, err := s.inner.GetPage(n)
	if err != nil {
		return nil, err
	}
	buf := bufpool.Get(len(data))
	copy(buf, data)
	s.cache.Add(n, buf)
	return buf, nil
}

// WritePage writes through to the inner source and refreshes the cache.
func (s *CachedSource) WritePage(n uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}

	if err := s.inner.WritePage(n, data); err != nil {
		return err
	}
	if s.cache != nil {
		// Dropping is enough; the next read repopulates.
		s.cache.Remove(n)
	}
	return nil
}

// Close purges the cache (returning all buffers to the pool) and closes
// the inner source.
func (s *CachedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sharcerr.Wrap(sharcerr.ErrInvalidState, "page source closed")
	}
	s.closed = true
	if s.cache != nil {
		s.cache.Purge()
	}
	logging.PageCache("close", s.capacity)
	return s.inner.Close()
}
