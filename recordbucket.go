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
	"fmt"
	"math"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"time"
)

// headerSize is the width of the two-counter header at the front of every
// structure file (spec.md §3, §6).
const headerSize = 8

// typeInfo is the reflect-derived layout for a Go struct type T: a Schema
// (field order sorted by name, per spec.md §3) plus the struct-field
// index each schema field maps back to.
type typeInfo struct {
	schema  *Schema
	goIndex []int
}

var typeInfoCache sync.Map // reflect.Type -> *typeInfo

func deriveTypeInfo(t reflect.Type) (*typeInfo, error) {
	if cached, ok := typeInfoCache.Load(t); ok {
		return cached.(*typeInfo), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, newErr(Schema, "deriveTypeInfo", fmt.Sprintf("record type %s must be a struct", t), nil)
	}

	type entry struct {
		field Field
		goIdx int
	}
	var entries []entry
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}
		name := sf.Name
		fixedLen := 0
		if tag, ok := sf.Tag.Lookup("arraydb"); ok && tag != "" && tag != "-" {
			name = tag
		}
		if tag, ok := sf.Tag.Lookup("arraydbfixed"); ok {
			fmt.Sscanf(tag, "%d", &fixedLen)
		}
		if sf.Type.Kind() == reflect.Array && sf.Type.Elem().Kind() == reflect.Uint8 {
			fixedLen = sf.Type.Len()
		}
		ft, err := fieldTypeOf(sf.Type, fixedLen)
		if err != nil {
			return nil, newErr(Schema, "deriveTypeInfo", fmt.Sprintf("field %q of %s", sf.Name, t), err)
		}
		entries = append(entries, entry{Field{Name: name, Type: ft, FixedLen: fixedLen}, i})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].field.Name < entries[j].field.Name })

	fields := make([]Field, len(entries))
	goIndex := make([]int, len(entries))
	for i, e := range entries {
		fields[i] = e.field
		goIndex[i] = e.goIdx
	}
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}
	info := &typeInfo{schema: schema, goIndex: goIndex}
	typeInfoCache.Store(t, info)
	return info, nil
}

// RecordBucket is a typed, append-only collection of T backed by a slot
// file and a string heap. T must be a struct whose exported fields are
// all of the types schema.go's fieldTypeOf recognizes.
type RecordBucket[T any] struct {
	info    *typeInfo
	schema  *Schema
	structs *PagedFileStore
	strings *StringHeap

	mu         sync.Mutex // guards provisioned/archived, linearizes Add
	provisioned int32
	archived    int32

	structPath string
}

// NewRecordBucket opens (or creates) the bucket backed by structPath and
// stringPath. On open, archived < provisioned signals a crash during a
// prior append (spec.md §4.C, §7).
func NewRecordBucket[T any](structPath, stringPath string, initialSize, pageSize int64, maxResidentPages, hotTailCount int) (*RecordBucket[T], error) {
	var zero T
	info, err := deriveTypeInfo(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}

	structs, err := NewPagedFileStore(structPath, initialSize, pageSize, maxResidentPages, hotTailCount)
	if err != nil {
		return nil, newErr(IO, "NewRecordBucket", "opening structure file", err)
	}
	strings, err := NewStringHeap(stringPath, initialSize, pageSize, maxResidentPages, hotTailCount)
	if err != nil {
		return nil, newErr(IO, "NewRecordBucket", "opening string heap", err)
	}

	b := &RecordBucket[T]{
		info:       info,
		schema:     info.schema,
		structs:    structs,
		strings:    strings,
		structPath: structPath,
	}
	if err := b.loadHeader(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RecordBucket[T]) loadHeader() error {
	raw, err := b.structs.Read(0, headerSize)
	if err != nil {
		return newErr(IO, "RecordBucket.loadHeader", "reading header", err)
	}
	provisioned := int32(binary.LittleEndian.Uint32(raw[0:4]))
	archived := int32(binary.LittleEndian.Uint32(raw[4:8]))
	if archived < provisioned {
		return newErr(Corruption, "RecordBucket.loadHeader", fmt.Sprintf("torn append: archived=%d provisioned=%d", archived, provisioned), nil)
	}
	if archived > provisioned {
		return newErr(Corruption, "RecordBucket.loadHeader", fmt.Sprintf("archived exceeds provisioned: archived=%d provisioned=%d", archived, provisioned), nil)
	}
	b.provisioned = provisioned
	b.archived = archived
	return nil
}

// persistHeaderLocked writes the current counters. Caller must hold b.mu.
func (b *RecordBucket[T]) persistHeaderLocked() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(b.provisioned))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b.archived))
	if err := b.structs.Write(0, buf[:]); err != nil {
		return newErr(IO, "RecordBucket.persistHeader", "writing header", err)
	}
	return nil
}

// Count returns the archived (readable) record count.
func (b *RecordBucket[T]) Count() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.archived
}

// Schema exposes the derived field layout, mostly for diagnostics and for
// WriteBuffer/Partitioner to size their own bookkeeping.
func (b *RecordBucket[T]) Schema() *Schema { return b.schema }

func workerCount(n int) int {
	w := runtime.NumCPU()
	if w < 1 {
		w = 1
	}
	if w > n {
		w = n
	}
	return w
}

// Add appends records atomically from the reader's view, following the
// five-step protocol in spec.md §4.C: provision slots, batch-write every
// string payload in one StringHeap call, encode slots in parallel, write
// the slot buffer in one call, then archive.
func (b *RecordBucket[T]) Add(records []T) error {
	n := int32(len(records))
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	start := b.provisioned
	b.provisioned += n
	if err := b.persistHeaderLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	stringFieldIdx := make([]int, 0, len(b.schema.Fields))
	for i, f := range b.schema.Fields {
		if f.Type == FieldString {
			stringFieldIdx = append(stringFieldIdx, i)
		}
	}

	var handles [][]StringHandle // [record][stringFieldPos]
	if len(stringFieldIdx) > 0 {
		payloads := make([][]byte, 0, int(n)*len(stringFieldIdx))
		for r := range records {
			rv := reflect.ValueOf(records[r])
			for _, fi := range stringFieldIdx {
				s := rv.Field(b.info.goIndex[fi]).String()
				payloads = append(payloads, []byte(s))
			}
		}
		flat, err := b.strings.AppendMany(payloads)
		if err != nil {
			return err
		}
		handles = make([][]StringHandle, n)
		for r := 0; r < int(n); r++ {
			handles[r] = flat[r*len(stringFieldIdx) : (r+1)*len(stringFieldIdx)]
		}
	}

	buf := make([]byte, int(n)*b.schema.SlotSize)
	if err := b.encodeParallel(buf, records, handles); err != nil {
		return err
	}

	offset := int64(headerSize) + int64(start)*int64(b.schema.SlotSize)
	if err := b.structs.Write(offset, buf); err != nil {
		return newErr(IO, "RecordBucket.Add", "writing slots", err)
	}

	b.mu.Lock()
	// A concurrent Add that provisioned later slots may already have
	// archived past this batch; never move archived backwards.
	if start+n > b.archived {
		b.archived = start + n
	}
	err := b.persistHeaderLocked()
	b.mu.Unlock()
	return err
}

func (b *RecordBucket[T]) encodeParallel(buf []byte, records []T, handles [][]StringHandle) error {
	n := len(records)
	workers := workerCount(n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		lo, hi, w := lo, hi, w
		goTrace(func() {
			withTrace("RecordBucket.Add.encode", func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[w] = newErr(Corruption, traceOp(), fmt.Sprintf("panic: %v", r), nil)
					}
				}()
				slotSize := b.schema.SlotSize
				for i := lo; i < hi; i++ {
					var hs []StringHandle
					if handles != nil {
						hs = handles[i]
					}
					if err := b.encodeSlot(buf[i*slotSize:(i+1)*slotSize], reflect.ValueOf(&records[i]).Elem(), hs); err != nil {
						errs[w] = err
						return
					}
				}
			})
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *RecordBucket[T]) encodeSlot(slot []byte, rv reflect.Value, stringHandles []StringHandle) error {
	stringPos := 0
	for i, f := range b.schema.Fields {
		off := b.schema.Offset(i)
		fv := rv.Field(b.info.goIndex[i])
		switch f.Type {
		case FieldInt32:
			binary.LittleEndian.PutUint32(slot[off:], uint32(int32(fv.Int())))
		case FieldInt64:
			binary.LittleEndian.PutUint64(slot[off:], uint64(fv.Int()))
		case FieldSingle:
			binary.LittleEndian.PutUint32(slot[off:], math.Float32bits(float32(fv.Float())))
		case FieldDouble:
			binary.LittleEndian.PutUint64(slot[off:], math.Float64bits(fv.Float()))
		case FieldBoolean:
			if fv.Bool() {
				slot[off] = 1
			} else {
				slot[off] = 0
			}
		case FieldDateTime:
			ticks := TimeToTicks(fv.Interface().(time.Time))
			binary.LittleEndian.PutUint64(slot[off:], uint64(ticks))
		case FieldTimeSpan:
			ticks := DurationToTicks(fv.Interface().(time.Duration))
			binary.LittleEndian.PutUint64(slot[off:], uint64(ticks))
		case FieldGuid:
			g := fv.Interface().(Guid)
			copy(slot[off:off+GuidSize], g[:])
		case FieldString:
			h := EmptyStringHandle
			if stringHandles != nil {
				h = stringHandles[stringPos]
			}
			stringPos++
			binary.LittleEndian.PutUint64(slot[off:], uint64(h.Offset))
			binary.LittleEndian.PutUint32(slot[off+8:], uint32(h.Length))
		case FieldFixedBytes:
			n := copy(slot[off:off+f.FixedLen], fv.Slice(0, fv.Len()).Bytes())
			for k := n; k < f.FixedLen; k++ {
				slot[off+k] = 0
			}
		default:
			return newErr(Schema, "RecordBucket.encodeSlot", fmt.Sprintf("unsupported field type %v", f.Type), nil)
		}
	}
	return nil
}

// Read returns the record at index i (0 <= i < Count()).
func (b *RecordBucket[T]) Read(i int32) (T, error) {
	var zero T
	archived := b.Count()
	if i < 0 || i >= archived {
		return zero, newErr(OutOfRange, "RecordBucket.Read", fmt.Sprintf("index %d out of [0,%d)", i, archived), nil)
	}
	data, err := b.structs.Read(int64(headerSize)+int64(i)*int64(b.schema.SlotSize), int64(b.schema.SlotSize))
	if err != nil {
		return zero, newErr(IO, "RecordBucket.Read", "reading slot", err)
	}
	var out T
	if err := b.decodeSlot(data, reflect.ValueOf(&out).Elem()); err != nil {
		return zero, err
	}
	return out, nil
}

// ReadBulk returns n consecutive records starting at i. Decoding of the
// n slots is parallelized the same way encoding is.
func (b *RecordBucket[T]) ReadBulk(i, n int32) ([]T, error) {
	archived := b.Count()
	if i < 0 || n < 0 || i+n > archived {
		return nil, newErr(OutOfRange, "RecordBucket.ReadBulk", fmt.Sprintf("range [%d,%d) out of [0,%d]", i, i+n, archived), nil)
	}
	if n == 0 {
		return nil, nil
	}
	data, err := b.structs.Read(int64(headerSize)+int64(i)*int64(b.schema.SlotSize), int64(n)*int64(b.schema.SlotSize))
	if err != nil {
		return nil, newErr(IO, "RecordBucket.ReadBulk", "reading slots", err)
	}

	out := make([]T, n)
	workers := workerCount(int(n))
	chunk := (int(n) + workers - 1) / workers
	var wg sync.WaitGroup
	errs := make([]error, workers)
	slotSize := b.schema.SlotSize
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > int(n) {
			hi = int(n)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		lo, hi, w := lo, hi, w
		goTrace(func() {
			withTrace("RecordBucket.ReadBulk.decode", func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[w] = newErr(Corruption, traceOp(), fmt.Sprintf("panic: %v", r), nil)
					}
				}()
				for k := lo; k < hi; k++ {
					if err := b.decodeSlot(data[k*slotSize:(k+1)*slotSize], reflect.ValueOf(&out[k]).Elem()); err != nil {
						errs[w] = err
						return
					}
				}
			})
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *RecordBucket[T]) decodeSlot(slot []byte, rv reflect.Value) error {
	for i, f := range b.schema.Fields {
		off := b.schema.Offset(i)
		fv := rv.Field(b.info.goIndex[i])
		switch f.Type {
		case FieldInt32:
			fv.SetInt(int64(int32(binary.LittleEndian.Uint32(slot[off:]))))
		case FieldInt64:
			fv.SetInt(int64(binary.LittleEndian.Uint64(slot[off:])))
		case FieldSingle:
			fv.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(slot[off:]))))
		case FieldDouble:
			fv.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(slot[off:])))
		case FieldBoolean:
			fv.SetBool(slot[off] != 0)
		case FieldDateTime:
			ticks := int64(binary.LittleEndian.Uint64(slot[off:]))
			fv.Set(reflect.ValueOf(TicksToTime(ticks)))
		case FieldTimeSpan:
			ticks := int64(binary.LittleEndian.Uint64(slot[off:]))
			fv.Set(reflect.ValueOf(TicksToDuration(ticks)))
		case FieldGuid:
			var g Guid
			copy(g[:], slot[off:off+GuidSize])
			fv.Set(reflect.ValueOf(g))
		case FieldString:
			o := int64(binary.LittleEndian.Uint64(slot[off:]))
			l := int32(binary.LittleEndian.Uint32(slot[off+8:]))
			s, err := b.strings.Load(StringHandle{Offset: o, Length: l})
			if err != nil {
				return err
			}
			fv.SetString(s)
		case FieldFixedBytes:
			dst := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(byte(0))), f.FixedLen, f.FixedLen)
			reflect.Copy(dst, reflect.ValueOf(slot[off:off+f.FixedLen]))
			reflect.Copy(fv, dst)
		default:
			return newErr(Schema, "RecordBucket.decodeSlot", fmt.Sprintf("unsupported field type %v", f.Type), nil)
		}
	}
	return nil
}

// Sync is a no-op for RecordBucket: Add only returns once every slot it
// wrote is durable in the underlying file, so there is nothing left to
// flush. It exists to satisfy the common bucket surface WriteBuffer wraps
// (spec.md §6).
func (b *RecordBucket[T]) Sync() error { return nil }

// Delete removes both the structure file and the string heap file.
func (b *RecordBucket[T]) Delete() error {
	if err := b.structs.Delete(); err != nil {
		return err
	}
	return b.strings.Delete()
}

// OutputStatistics returns a short diagnostic summary, the typed-bucket
// analogue of the teacher's PrintMemUsage helper.
func (b *RecordBucket[T]) OutputStatistics() string {
	b.mu.Lock()
	provisioned, archived := b.provisioned, b.archived
	b.mu.Unlock()
	st := b.structs.Stats()
	return fmt.Sprintf("RecordBucket(%s): provisioned=%d archived=%d slotSize=%d structBytes=%d heapEnd=%d",
		b.structPath, provisioned, archived, b.schema.SlotSize, st.Length, b.strings.EndCursor())
}

// RecordIterator is the lazy, finite, non-restartable sequence returned
// by AsEnumerable.
type RecordIterator[T any] struct {
	bucket   *RecordBucket[T]
	pageSize int32
	pos      int32
	total    int32
	buf      []T
	bufPos   int
}

// AsEnumerable returns an iterator over every archived record at the
// moment of the call, fetched in pageSize-sized batches.
func (b *RecordBucket[T]) AsEnumerable(pageSize int32) *RecordIterator[T] {
	if pageSize <= 0 {
		pageSize = DefaultEnumerationPageSize
	}
	return &RecordIterator[T]{bucket: b, pageSize: pageSize, total: b.Count()}
}

// Next returns the next record, or ok=false once the sequence (fixed at
// construction time) is exhausted.
func (it *RecordIterator[T]) Next() (rec T, ok bool, err error) {
	if it.bufPos >= len(it.buf) {
		if it.pos >= it.total {
			return rec, false, nil
		}
		n := it.pageSize
		if it.pos+n > it.total {
			n = it.total - it.pos
		}
		page, err := it.bucket.ReadBulk(it.pos, n)
		if err != nil {
			return rec, false, err
		}
		it.buf = page
		it.bufPos = 0
		it.pos += n
	}
	rec = it.buf[it.bufPos]
	it.bufPos++
	return rec, true, nil
}
