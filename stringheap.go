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
	"encoding/binary"
	"sync"
	"unicode/utf8"
)

// cursorHeaderSize is the width of the persisted heap-end cursor.
const cursorHeaderSize = 8

// StringHandle references a blob inside a StringHeap. The sentinel
// (Offset: -1, Length: 0) denotes an empty or null string (spec.md §9:
// null collapses to empty at the core level).
type StringHandle struct {
	Offset int64
	Length int32
}

// EmptyStringHandle is the canonical handle for "" / null.
var EmptyStringHandle = StringHandle{Offset: -1, Length: 0}

func (h StringHandle) IsEmpty() bool { return h.Offset == -1 && h.Length == 0 }

// StringHeap is an append-only UTF-8 byte arena. Strings are never
// rewritten or freed; the persisted end cursor is the only mutable state.
type StringHeap struct {
	store  *PagedFileStore
	mu     sync.Mutex
	cursor int64
}

// NewStringHeap opens or creates the heap file at path.
func NewStringHeap(path string, initialSize, pageSize int64, maxResidentPages, hotTailCount int) (*StringHeap, error) {
	store, err := NewPagedFileStore(path, initialSize, pageSize, maxResidentPages, hotTailCount)
	if err != nil {
		return nil, err
	}
	h := &StringHeap{store: store}

	raw, err := store.Read(0, cursorHeaderSize)
	if err != nil {
		return nil, newErr(IO, "NewStringHeap", "reading cursor", err)
	}
	cursor := int64(binary.LittleEndian.Uint64(raw))
	if cursor < cursorHeaderSize {
		// first use: initialize the cursor to just past the header
		cursor = cursorHeaderSize
		if err := h.persistCursor(cursor); err != nil {
			return nil, err
		}
	}
	h.cursor = cursor
	return h, nil
}

func (h *StringHeap) persistCursor(cursor int64) error {
	var buf [cursorHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(cursor))
	if err := h.store.Write(0, buf[:]); err != nil {
		return newErr(IO, "StringHeap.persistCursor", "writing cursor", err)
	}
	return nil
}

// AppendMany writes all payloads as one contiguous region in a single
// underlying write, then advances the persisted end cursor. A zero-length
// payload consumes no heap space and is returned as EmptyStringHandle.
func (h *StringHeap) AppendMany(payloads [][]byte) ([]StringHandle, error) {
	handles := make([]StringHandle, len(payloads))
	starts := make([]int64, len(payloads))

	h.mu.Lock()
	reserved := h.cursor
	var total int64
	for i, p := range payloads {
		if len(p) == 0 {
			starts[i] = -1
			continue
		}
		starts[i] = reserved + total
		total += int64(len(p))
	}
	newCursor := reserved + total
	h.cursor = newCursor
	h.mu.Unlock()

	if total > 0 {
		buf := make([]byte, 0, total)
		for _, p := range payloads {
			if len(p) > 0 {
				buf = append(buf, p...)
			}
		}
		if err := h.store.Write(reserved, buf); err != nil {
			return nil, newErr(IO, "StringHeap.AppendMany", "writing payloads", err)
		}
	}
	if err := h.persistCursor(newCursor); err != nil {
		return nil, err
	}

	for i, st := range starts {
		if st < 0 {
			handles[i] = EmptyStringHandle
		} else {
			handles[i] = StringHandle{Offset: st, Length: int32(len(payloads[i]))}
		}
	}
	return handles, nil
}

// Load reads the payload referenced by handle and decodes it as UTF-8.
func (h *StringHeap) Load(handle StringHandle) (string, error) {
	if handle.IsEmpty() {
		return "", nil
	}
	if handle.Offset < cursorHeaderSize || handle.Length < 0 {
		return "", newErr(Corruption, "StringHeap.Load", "handle out of valid range", nil)
	}
	data, err := h.store.Read(handle.Offset, int64(handle.Length))
	if err != nil {
		return "", newErr(IO, "StringHeap.Load", "reading payload", err)
	}
	if !utf8.Valid(data) {
		return "", newErr(Corruption, "StringHeap.Load", "invalid utf-8 payload", nil)
	}
	return string(data), nil
}

// EndCursor returns the current heap end cursor (for diagnostics/tests).
func (h *StringHeap) EndCursor() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Delete removes the underlying heap file.
func (h *StringHeap) Delete() error {
	return h.store.Delete()
}
