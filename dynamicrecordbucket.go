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
	"sync"
	"time"
)

// Value is the tagged-variant scalar used by DynamicRecordBucket, one
// variant per supported FieldType (spec.md §9's "heterogeneous property
// bag -> tagged variant" guidance), generalized from the teacher's own
// tagged ColumnStorage-over-scm.Scmer values in storage/storage-scmer.go.
type Value struct {
	Kind  FieldType
	I32   int32
	I64   int64 // also used for DateTime/TimeSpan tick counts
	F32   float32
	F64   float64
	Bool  bool
	Guid  Guid
	Str   string
	Bytes []byte
}

func NewInt32Value(v int32) Value         { return Value{Kind: FieldInt32, I32: v} }
func NewInt64Value(v int64) Value         { return Value{Kind: FieldInt64, I64: v} }
func NewSingleValue(v float32) Value      { return Value{Kind: FieldSingle, F32: v} }
func NewDoubleValue(v float64) Value      { return Value{Kind: FieldDouble, F64: v} }
func NewBooleanValue(v bool) Value        { return Value{Kind: FieldBoolean, Bool: v} }
func NewGuidValue(v Guid) Value           { return Value{Kind: FieldGuid, Guid: v} }
func NewStringValue(v string) Value       { return Value{Kind: FieldString, Str: v} }
func NewDateTimeValue(t time.Time) Value  { return Value{Kind: FieldDateTime, I64: TimeToTicks(t)} }
func NewTimeSpanValue(d time.Duration) Value {
	return Value{Kind: FieldTimeSpan, I64: DurationToTicks(d)}
}
func NewFixedBytesValue(b []byte) Value {
	return Value{Kind: FieldFixedBytes, Bytes: append([]byte(nil), b...)}
}

func (v Value) AsTime() time.Time         { return TicksToTime(v.I64) }
func (v Value) AsDuration() time.Duration { return TicksToDuration(v.I64) }

// DynamicRecord is a generic record: a map from field name to its typed
// value. Fields not present in the map encode as the zero value of the
// schema's declared type for that field.
type DynamicRecord struct {
	Properties map[string]Value
}

func NewDynamicRecord() DynamicRecord {
	return DynamicRecord{Properties: make(map[string]Value)}
}

// coerce adapts v to the field's declared type, widening safely (Int32 ->
// Int64, Single -> Double) and rejecting every other type mismatch with a
// Type error, per spec.md §4.D. A FixedSizeByteArray payload longer than
// the field's fixed length is rejected with a Schema error.
func coerce(v Value, f Field) (Value, error) {
	switch f.Type {
	case FieldInt32:
		if v.Kind == FieldInt32 {
			return v, nil
		}
	case FieldInt64:
		if v.Kind == FieldInt64 {
			return v, nil
		}
		if v.Kind == FieldInt32 {
			return Value{Kind: FieldInt64, I64: int64(v.I32)}, nil
		}
	case FieldSingle:
		if v.Kind == FieldSingle {
			return v, nil
		}
	case FieldDouble:
		if v.Kind == FieldDouble {
			return v, nil
		}
		if v.Kind == FieldSingle {
			return Value{Kind: FieldDouble, F64: float64(v.F32)}, nil
		}
	case FieldBoolean:
		if v.Kind == FieldBoolean {
			return v, nil
		}
	case FieldDateTime:
		if v.Kind == FieldDateTime {
			return v, nil
		}
	case FieldTimeSpan:
		if v.Kind == FieldTimeSpan {
			return v, nil
		}
	case FieldGuid:
		if v.Kind == FieldGuid {
			return v, nil
		}
	case FieldString:
		if v.Kind == FieldString {
			return v, nil
		}
	case FieldFixedBytes:
		if v.Kind == FieldFixedBytes {
			if len(v.Bytes) > f.FixedLen {
				return Value{}, newErr(Schema, "coerce", fmt.Sprintf("field %q: payload of %d bytes exceeds fixed length %d", f.Name, len(v.Bytes), f.FixedLen), nil)
			}
			return v, nil
		}
	}
	return Value{}, newErr(Type, "coerce", fmt.Sprintf("field %q: cannot use a %s value as %s", f.Name, v.Kind, f.Type), nil)
}

func zeroValue(f Field) Value {
	switch f.Type {
	case FieldInt32:
		return NewInt32Value(0)
	case FieldInt64:
		return NewInt64Value(0)
	case FieldSingle:
		return NewSingleValue(0)
	case FieldDouble:
		return NewDoubleValue(0)
	case FieldBoolean:
		return NewBooleanValue(false)
	case FieldDateTime:
		return Value{Kind: FieldDateTime, I64: 0}
	case FieldTimeSpan:
		return Value{Kind: FieldTimeSpan, I64: 0}
	case FieldGuid:
		return NewGuidValue(Guid{})
	case FieldString:
		return NewStringValue("")
	case FieldFixedBytes:
		return NewFixedBytesValue(nil)
	default:
		return Value{}
	}
}

// DynamicRecordBucket is the runtime-schema counterpart to RecordBucket.
type DynamicRecordBucket struct {
	schema  *Schema
	structs *PagedFileStore
	strings *StringHeap

	mu          sync.Mutex
	provisioned int32
	archived    int32

	structPath string
}

// NewDynamicRecordBucket opens (or creates) a bucket whose layout is the
// runtime descriptor `fields`, kept in the order given (spec.md §3:
// declaration order for the dynamic path).
func NewDynamicRecordBucket(structPath, stringPath string, fields []Field, initialSize, pageSize int64, maxResidentPages, hotTailCount int) (*DynamicRecordBucket, error) {
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}
	structs, err := NewPagedFileStore(structPath, initialSize, pageSize, maxResidentPages, hotTailCount)
	if err != nil {
		return nil, newErr(IO, "NewDynamicRecordBucket", "opening structure file", err)
	}
	strings, err := NewStringHeap(stringPath, initialSize, pageSize, maxResidentPages, hotTailCount)
	if err != nil {
		return nil, newErr(IO, "NewDynamicRecordBucket", "opening string heap", err)
	}
	b := &DynamicRecordBucket{schema: schema, structs: structs, strings: strings, structPath: structPath}
	if err := b.loadHeader(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *DynamicRecordBucket) loadHeader() error {
	raw, err := b.structs.Read(0, headerSize)
	if err != nil {
		return newErr(IO, "DynamicRecordBucket.loadHeader", "reading header", err)
	}
	provisioned := int32(binary.LittleEndian.Uint32(raw[0:4]))
	archived := int32(binary.LittleEndian.Uint32(raw[4:8]))
	if archived < provisioned {
		return newErr(Corruption, "DynamicRecordBucket.loadHeader", fmt.Sprintf("torn append: archived=%d provisioned=%d", archived, provisioned), nil)
	}
	if archived > provisioned {
		return newErr(Corruption, "DynamicRecordBucket.loadHeader", fmt.Sprintf("archived exceeds provisioned: archived=%d provisioned=%d", archived, provisioned), nil)
	}
	b.provisioned = provisioned
	b.archived = archived
	return nil
}

func (b *DynamicRecordBucket) persistHeaderLocked() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(b.provisioned))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b.archived))
	if err := b.structs.Write(0, buf[:]); err != nil {
		return newErr(IO, "DynamicRecordBucket.persistHeader", "writing header", err)
	}
	return nil
}

func (b *DynamicRecordBucket) Count() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.archived
}

func (b *DynamicRecordBucket) Schema() *Schema { return b.schema }

// validate checks that every property name in rec is declared in the
// schema; unknown names fail with Schema (spec.md §4.D).
func (b *DynamicRecordBucket) validate(rec DynamicRecord) error {
	for name := range rec.Properties {
		if b.schema.FieldByName(name) == -1 {
			return newErr(Schema, "DynamicRecordBucket.validate", fmt.Sprintf("unknown field %q", name), nil)
		}
	}
	return nil
}

// Add appends records, following the same five-step protocol as
// RecordBucket.Add (spec.md §4.C, shared verbatim by §4.D).
func (b *DynamicRecordBucket) Add(records []DynamicRecord) error {
	n := int32(len(records))
	if n == 0 {
		return nil
	}
	for _, r := range records {
		if err := b.validate(r); err != nil {
			return err
		}
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

	var handles [][]StringHandle
	if len(stringFieldIdx) > 0 {
		payloads := make([][]byte, 0, int(n)*len(stringFieldIdx))
		for _, rec := range records {
			for _, fi := range stringFieldIdx {
				f := b.schema.Fields[fi]
				v, ok := rec.Properties[f.Name]
				if !ok {
					payloads = append(payloads, nil)
					continue
				}
				cv, err := coerce(v, f)
				if err != nil {
					return err
				}
				payloads = append(payloads, []byte(cv.Str))
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
		return newErr(IO, "DynamicRecordBucket.Add", "writing slots", err)
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

func (b *DynamicRecordBucket) encodeParallel(buf []byte, records []DynamicRecord, handles [][]StringHandle) error {
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
			withTrace("DynamicRecordBucket.Add.encode", func() {
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
					if err := b.encodeSlot(buf[i*slotSize:(i+1)*slotSize], records[i], hs); err != nil {
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

func (b *DynamicRecordBucket) encodeSlot(slot []byte, rec DynamicRecord, stringHandles []StringHandle) error {
	stringPos := 0
	for i, f := range b.schema.Fields {
		off := b.schema.Offset(i)
		v, ok := rec.Properties[f.Name]
		if !ok {
			v = zeroValue(f)
		} else {
			cv, err := coerce(v, f)
			if err != nil {
				return err
			}
			v = cv
		}
		switch f.Type {
		case FieldInt32:
			binary.LittleEndian.PutUint32(slot[off:], uint32(v.I32))
		case FieldInt64:
			binary.LittleEndian.PutUint64(slot[off:], uint64(v.I64))
		case FieldSingle:
			binary.LittleEndian.PutUint32(slot[off:], math.Float32bits(v.F32))
		case FieldDouble:
			binary.LittleEndian.PutUint64(slot[off:], math.Float64bits(v.F64))
		case FieldBoolean:
			if v.Bool {
				slot[off] = 1
			} else {
				slot[off] = 0
			}
		case FieldDateTime, FieldTimeSpan:
			binary.LittleEndian.PutUint64(slot[off:], uint64(v.I64))
		case FieldGuid:
			copy(slot[off:off+GuidSize], v.Guid[:])
		case FieldString:
			h := EmptyStringHandle
			if stringHandles != nil {
				h = stringHandles[stringPos]
			}
			stringPos++
			binary.LittleEndian.PutUint64(slot[off:], uint64(h.Offset))
			binary.LittleEndian.PutUint32(slot[off+8:], uint32(h.Length))
		case FieldFixedBytes:
			k := copy(slot[off:off+f.FixedLen], v.Bytes)
			for j := k; j < f.FixedLen; j++ {
				slot[off+j] = 0
			}
		default:
			return newErr(Schema, "DynamicRecordBucket.encodeSlot", fmt.Sprintf("unsupported field type %v", f.Type), nil)
		}
	}
	return nil
}

// Read returns the record at index i.
func (b *DynamicRecordBucket) Read(i int32) (DynamicRecord, error) {
	archived := b.Count()
	if i < 0 || i >= archived {
		return DynamicRecord{}, newErr(OutOfRange, "DynamicRecordBucket.Read", fmt.Sprintf("index %d out of [0,%d)", i, archived), nil)
	}
	data, err := b.structs.Read(int64(headerSize)+int64(i)*int64(b.schema.SlotSize), int64(b.schema.SlotSize))
	if err != nil {
		return DynamicRecord{}, newErr(IO, "DynamicRecordBucket.Read", "reading slot", err)
	}
	return b.decodeSlot(data)
}

// ReadBulk returns n consecutive records starting at i.
func (b *DynamicRecordBucket) ReadBulk(i, n int32) ([]DynamicRecord, error) {
	archived := b.Count()
	if i < 0 || n < 0 || i+n > archived {
		return nil, newErr(OutOfRange, "DynamicRecordBucket.ReadBulk", fmt.Sprintf("range [%d,%d) out of [0,%d]", i, i+n, archived), nil)
	}
	if n == 0 {
		return nil, nil
	}
	data, err := b.structs.Read(int64(headerSize)+int64(i)*int64(b.schema.SlotSize), int64(n)*int64(b.schema.SlotSize))
	if err != nil {
		return nil, newErr(IO, "DynamicRecordBucket.ReadBulk", "reading slots", err)
	}

	out := make([]DynamicRecord, n)
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
			withTrace("DynamicRecordBucket.ReadBulk.decode", func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[w] = newErr(Corruption, traceOp(), fmt.Sprintf("panic: %v", r), nil)
					}
				}()
				for k := lo; k < hi; k++ {
					rec, err := b.decodeSlot(data[k*slotSize : (k+1)*slotSize])
					if err != nil {
						errs[w] = err
						return
					}
					out[k] = rec
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

func (b *DynamicRecordBucket) decodeSlot(slot []byte) (DynamicRecord, error) {
	rec := NewDynamicRecord()
	for i, f := range b.schema.Fields {
		off := b.schema.Offset(i)
		switch f.Type {
		case FieldInt32:
			rec.Properties[f.Name] = NewInt32Value(int32(binary.LittleEndian.Uint32(slot[off:])))
		case FieldInt64:
			rec.Properties[f.Name] = NewInt64Value(int64(binary.LittleEndian.Uint64(slot[off:])))
		case FieldSingle:
			rec.Properties[f.Name] = NewSingleValue(math.Float32frombits(binary.LittleEndian.Uint32(slot[off:])))
		case FieldDouble:
			rec.Properties[f.Name] = NewDoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(slot[off:])))
		case FieldBoolean:
			rec.Properties[f.Name] = NewBooleanValue(slot[off] != 0)
		case FieldDateTime:
			rec.Properties[f.Name] = Value{Kind: FieldDateTime, I64: int64(binary.LittleEndian.Uint64(slot[off:]))}
		case FieldTimeSpan:
			rec.Properties[f.Name] = Value{Kind: FieldTimeSpan, I64: int64(binary.LittleEndian.Uint64(slot[off:]))}
		case FieldGuid:
			var g Guid
			copy(g[:], slot[off:off+GuidSize])
			rec.Properties[f.Name] = NewGuidValue(g)
		case FieldString:
			o := int64(binary.LittleEndian.Uint64(slot[off:]))
			l := int32(binary.LittleEndian.Uint32(slot[off+8:]))
			s, err := b.strings.Load(StringHandle{Offset: o, Length: l})
			if err != nil {
				return DynamicRecord{}, err
			}
			rec.Properties[f.Name] = NewStringValue(s)
		case FieldFixedBytes:
			buf := make([]byte, f.FixedLen)
			copy(buf, slot[off:off+f.FixedLen])
			rec.Properties[f.Name] = NewFixedBytesValue(buf)
		default:
			return DynamicRecord{}, newErr(Schema, "DynamicRecordBucket.decodeSlot", fmt.Sprintf("unsupported field type %v", f.Type), nil)
		}
	}
	return rec, nil
}

func (b *DynamicRecordBucket) Sync() error { return nil }

func (b *DynamicRecordBucket) Delete() error {
	if err := b.structs.Delete(); err != nil {
		return err
	}
	return b.strings.Delete()
}

func (b *DynamicRecordBucket) OutputStatistics() string {
	b.mu.Lock()
	provisioned, archived := b.provisioned, b.archived
	b.mu.Unlock()
	st := b.structs.Stats()
	return fmt.Sprintf("DynamicRecordBucket(%s): provisioned=%d archived=%d slotSize=%d structBytes=%d heapEnd=%d",
		b.structPath, provisioned, archived, b.schema.SlotSize, st.Length, b.strings.EndCursor())
}

// DynamicRecordIterator mirrors RecordIterator for the dynamic bucket.
type DynamicRecordIterator struct {
	bucket   *DynamicRecordBucket
	pageSize int32
	pos      int32
	total    int32
	buf      []DynamicRecord
	bufPos   int
}

func (b *DynamicRecordBucket) AsEnumerable(pageSize int32) *DynamicRecordIterator {
	if pageSize <= 0 {
		pageSize = DefaultEnumerationPageSize
	}
	return &DynamicRecordIterator{bucket: b, pageSize: pageSize, total: b.Count()}
}

func (it *DynamicRecordIterator) Next() (DynamicRecord, bool, error) {
	if it.bufPos >= len(it.buf) {
		if it.pos >= it.total {
			return DynamicRecord{}, false, nil
		}
		n := it.pageSize
		if it.pos+n > it.total {
			n = it.total - it.pos
		}
		page, err := it.bucket.ReadBulk(it.pos, n)
		if err != nil {
			return DynamicRecord{}, false, err
		}
		it.buf = page
		it.bufPos = 0
		it.pos += n
	}
	rec := it.buf[it.bufPos]
	it.bufPos++
	return rec, true, nil
}
