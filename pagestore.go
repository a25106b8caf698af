/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package arraydb

import (
	"container/list"
	"fmt"
	"io"
	"os"
	"sync"
)

// Default tuning constants (spec.md §6).
const (
	DefaultInitialSize     int64 = 16 * 1024 * 1024
	DefaultPageSize        int64 = 16 * 1024 * 1024
	DefaultMaxResidentPages       = 64
	DefaultHotTailPages           = 8
	DefaultEnumerationPageSize    = 128
)

type page struct {
	index int64
	data  []byte
}

// PagedFileStore is a growable, memory-cached random-access byte store
// backed by a single OS file. One mutex guards the page table and LRU
// list; the underlying *os.File handle is re-opened per operation rather
// than kept long-lived, which sidesteps platform-specific file-sharing
// semantics at the cost of an extra open/close per call.
type PagedFileStore struct {
	path     string
	pageSize int64
	maxPages int
	hotTail  int

	mu     sync.Mutex
	length int64
	pages  map[int64]*list.Element
	lru    *list.List // front = least-recently-used, back = most-recently-used
}

// NewPagedFileStore opens (creating if necessary) the file at path. A
// newly created file is zero-filled up front to initialSize so the
// filesystem can allocate a contiguous extent.
func NewPagedFileStore(path string, initialSize, pageSize int64, maxResidentPages, hotTailCount int) (*PagedFileStore, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if initialSize <= 0 {
		initialSize = DefaultInitialSize
	}
	s := &PagedFileStore{
		path:     path,
		pageSize: pageSize,
		maxPages: maxResidentPages,
		hotTail:  hotTailCount,
		pages:    make(map[int64]*list.Element),
		lru:      list.New(),
	}

	stat, err := os.Stat(path)
	switch {
	case err == nil:
		s.length = stat.Size()
		if s.length < initialSize {
			if err := s.zeroFill(0, initialSize-s.length, s.length); err != nil {
				return nil, newErr(IO, "NewPagedFileStore", "extending existing file to initial size", err)
			}
			s.length = initialSize
		}
	case os.IsNotExist(err):
		f, cerr := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if cerr != nil {
			return nil, newErr(IO, "NewPagedFileStore", "creating file", cerr)
		}
		f.Close()
		if err := s.zeroFill(0, initialSize, 0); err != nil {
			return nil, newErr(IO, "NewPagedFileStore", "zero-filling new file", err)
		}
		s.length = initialSize
	default:
		return nil, newErr(IO, "NewPagedFileStore", "stat", err)
	}
	return s, nil
}

// zeroFill writes `size` zero bytes starting at the file offset
// `base+already` where `already` bytes of zeros are assumed already
// present below `base+already` (used when extending an existing short
// file). Writes proceed in chunks to bound memory use.
func (s *PagedFileStore) zeroFill(base, size, already int64) error {
	f, err := s.openFile()
	if err != nil {
		return err
	}
	defer f.Close()

	const chunk = 4 << 20
	buf := make([]byte, chunk)
	off := base + already
	remaining := size
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, err := f.WriteAt(buf[:n], off); err != nil {
			return err
		}
		off += n
		remaining -= n
	}
	return nil
}

func (s *PagedFileStore) openFile() (*os.File, error) {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// growLocked doubles the logical file length until it covers `need`,
// zero-filling the newly appended region. Caller must hold s.mu.
func (s *PagedFileStore) growLocked(need int64) error {
	if need <= s.length {
		return nil
	}
	newLength := s.length
	if newLength <= 0 {
		newLength = s.pageSize
	}
	for newLength < need {
		newLength *= 2
	}
	if err := s.zeroFill(s.length, newLength-s.length, 0); err != nil {
		return err
	}
	s.length = newLength
	return nil
}

func (s *PagedFileStore) pageRange(offset, length int64) (first, last int64) {
	first = offset / s.pageSize
	last = (offset + length - 1) / s.pageSize
	return
}

// isInHotTailLocked walks backward from the tail at most hotTail links
// comparing identity, per spec.md §4.A's tie-break rule.
func (s *PagedFileStore) isInHotTailLocked(elem *list.Element) bool {
	e := s.lru.Back()
	for i := 0; i < s.hotTail && e != nil; i++ {
		if e == elem {
			return true
		}
		e = e.Prev()
	}
	return false
}

// touchLocked loads (if necessary) and returns the page at pageIndex,
// updating LRU position per the hot-tail pinning rule.
func (s *PagedFileStore) touchLocked(pageIndex int64) (*page, error) {
	if elem, ok := s.pages[pageIndex]; ok {
		if !s.isInHotTailLocked(elem) {
			s.lru.MoveToBack(elem)
		}
		return elem.Value.(*page), nil
	}

	if len(s.pages) >= s.maxPages && s.maxPages > 0 {
		oldest := s.lru.Front()
		if oldest != nil {
			delete(s.pages, oldest.Value.(*page).index)
			s.lru.Remove(oldest)
		}
	}

	data := make([]byte, s.pageSize)
	off := pageIndex * s.pageSize
	if off < s.length {
		f, err := s.openFile()
		if err != nil {
			return nil, err
		}
		n, err := f.ReadAt(data, off)
		f.Close()
		if err != nil && err != io.EOF {
			return nil, err
		}
		_ = n
	}
	p := &page{index: pageIndex, data: data}
	elem := s.lru.PushBack(p)
	s.pages[pageIndex] = elem
	return p, nil
}

// invalidateLocked drops every cached page whose bytes overlap
// [offset, offset+length) so a subsequent read reloads fresh data.
func (s *PagedFileStore) invalidateLocked(offset, length int64) {
	first, last := s.pageRange(offset, length)
	for idx := first; idx <= last; idx++ {
		if elem, ok := s.pages[idx]; ok {
			delete(s.pages, idx)
			s.lru.Remove(elem)
		}
	}
}

// Read returns a copy of the `length` bytes starting at offset, growing
// the store first if the range lies beyond the current length.
func (s *PagedFileStore) Read(offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if offset < 0 || length < 0 {
		return nil, newErr(IO, "PagedFileStore.Read", "negative offset or length", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.growLocked(offset + length); err != nil {
		return nil, newErr(IO, "PagedFileStore.Read", "growing store", err)
	}

	result := make([]byte, length)
	first, last := s.pageRange(offset, length)
	written := int64(0)
	for idx := first; idx <= last; idx++ {
		p, err := s.touchLocked(idx)
		if err != nil {
			return nil, newErr(IO, "PagedFileStore.Read", fmt.Sprintf("loading page %d", idx), err)
		}
		pageStart := idx * s.pageSize
		srcFrom := int64(0)
		dstFrom := pageStart - offset
		if dstFrom < 0 {
			srcFrom = -dstFrom
			dstFrom = 0
		}
		n := s.pageSize - srcFrom
		if dstFrom+n > length {
			n = length - dstFrom
		}
		copy(result[dstFrom:dstFrom+n], p.data[srcFrom:srcFrom+n])
		written += n
	}
	return result, nil
}

// Write stores data at offset, growing the store first if necessary, then
// invalidates every cached page the write touches before performing the
// underlying seek-write.
func (s *PagedFileStore) Write(offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset < 0 {
		return newErr(IO, "PagedFileStore.Write", "negative offset", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	length := int64(len(data))
	if err := s.growLocked(offset + length); err != nil {
		return newErr(IO, "PagedFileStore.Write", "growing store", err)
	}
	s.invalidateLocked(offset, length)

	f, err := s.openFile()
	if err != nil {
		return newErr(IO, "PagedFileStore.Write", "opening file", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return newErr(IO, "PagedFileStore.Write", "writing", err)
	}
	return nil
}

// Delete removes the underlying file and drops all cached pages.
func (s *PagedFileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = make(map[int64]*list.Element)
	s.lru = list.New()
	s.length = 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return newErr(IO, "PagedFileStore.Delete", "removing file", err)
	}
	return nil
}

// Length reports the current logical (physical, zero-filled) file length.
func (s *PagedFileStore) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// PagedFileStoreStats is a diagnostic snapshot, not a metrics-exporter
// integration (no such integration is in scope, spec.md §1).
type PagedFileStoreStats struct {
	Path          string
	Length        int64
	ResidentPages int
	MaxPages      int
	HotTailPages  int
}

func (s *PagedFileStore) Stats() PagedFileStoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PagedFileStoreStats{
		Path:          s.path,
		Length:        s.length,
		ResidentPages: len(s.pages),
		MaxPages:      s.maxPages,
		HotTailPages:  s.hotTail,
	}
}
