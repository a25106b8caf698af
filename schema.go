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
	"fmt"
	"reflect"
	"sort"
	"time"
)

// FieldType is the closed set of attribute types a Schema field can have.
type FieldType int

const (
	FieldInt32 FieldType = iota
	FieldInt64
	FieldSingle // float32
	FieldDouble // float64
	FieldBoolean
	FieldDateTime // int64 ticks, 100ns since 0001-01-01T00:00:00Z
	FieldTimeSpan // int64 ticks, elapsed 100ns units
	FieldGuid
	FieldString // 12-byte (offset,len) handle into a StringHeap
	FieldFixedBytes
)

func (t FieldType) String() string {
	switch t {
	case FieldInt32:
		return "Int32"
	case FieldInt64:
		return "Int64"
	case FieldSingle:
		return "Single"
	case FieldDouble:
		return "Double"
	case FieldBoolean:
		return "Boolean"
	case FieldDateTime:
		return "DateTime"
	case FieldTimeSpan:
		return "TimeSpan"
	case FieldGuid:
		return "Guid"
	case FieldString:
		return "String"
	case FieldFixedBytes:
		return "FixedSizeByteArray"
	default:
		return "Unknown"
	}
}

// Field describes one attribute of a record.
type Field struct {
	Name     string
	Type     FieldType
	FixedLen int // only meaningful for FieldFixedBytes
}

// Size returns the fixed slot width this field occupies.
func (f Field) Size() int {
	switch f.Type {
	case FieldInt32, FieldSingle:
		return 4
	case FieldInt64, FieldDouble, FieldDateTime, FieldTimeSpan:
		return 8
	case FieldBoolean:
		return 1
	case FieldGuid:
		return GuidSize
	case FieldString:
		return 12 // 8-byte offset + 4-byte length
	case FieldFixedBytes:
		return f.FixedLen
	default:
		return 0
	}
}

// Schema is an ordered, immutable list of fields with precomputed slot
// offsets. Immutable after construction, matching spec.md §3's invariant
// that a dataset's schema never changes after the first write.
type Schema struct {
	Fields   []Field
	offsets  []int
	SlotSize int
}

// NewSchema freezes a field list in the order given (callers decide
// ordering policy: sorted-by-name for the typed path, declaration order
// for the dynamic path).
func NewSchema(fields []Field) (*Schema, error) {
	s := &Schema{Fields: append([]Field(nil), fields...)}
	s.offsets = make([]int, len(s.Fields))
	off := 0
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if seen[f.Name] {
			return nil, newErr(Schema, "NewSchema", fmt.Sprintf("duplicate field name %q", f.Name), nil)
		}
		seen[f.Name] = true
		if f.Type == FieldFixedBytes && f.FixedLen <= 0 {
			return nil, newErr(Schema, "NewSchema", fmt.Sprintf("field %q: FixedSizeByteArray needs a positive length", f.Name), nil)
		}
		s.offsets[i] = off
		off += f.Size()
	}
	s.SlotSize = off
	return s, nil
}

// SortFieldsByName returns a copy of fields sorted by Name, the same
// deterministic order deriveTypeInfo gives the typed bucket's fields.
func SortFieldsByName(fields []Field) []Field {
	sorted := append([]Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

// Offset returns the byte offset of the i-th field within a slot.
func (s *Schema) Offset(i int) int { return s.offsets[i] }

// FieldByName looks a field up by name, returning its index or -1.
func (s *Schema) FieldByName(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// --- reflect-driven schema derivation for the typed bucket ---
//
// The actual per-Go-type derivation (with its struct-field-index mapping)
// lives in recordbucket.go's deriveTypeInfo, which calls fieldTypeOf below
// to classify each Go struct field into the closed FieldType set.

var (
	guidType     = reflect.TypeOf(Guid{})
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

func fieldTypeOf(t reflect.Type, fixedLen int) (FieldType, error) {
	switch {
	case t == guidType:
		return FieldGuid, nil
	case t == timeType:
		return FieldDateTime, nil
	case t == durationType:
		return FieldTimeSpan, nil
	case t.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8:
		return FieldFixedBytes, nil
	}
	switch t.Kind() {
	case reflect.Int32:
		return FieldInt32, nil
	case reflect.Int64, reflect.Int:
		return FieldInt64, nil
	case reflect.Float32:
		return FieldSingle, nil
	case reflect.Float64:
		return FieldDouble, nil
	case reflect.Bool:
		return FieldBoolean, nil
	case reflect.String:
		return FieldString, nil
	default:
		return 0, fmt.Errorf("unsupported Go type %s", t)
	}
}

// --- DateTime / TimeSpan tick conversion ---

// ticksPerSecond is the .NET-style tick resolution: 100ns per tick.
const ticksPerSecond = int64(10_000_000)

// unixEpochTicks is the number of 100ns ticks between 0001-01-01T00:00:00Z
// and the Unix epoch (1970-01-01T00:00:00Z).
const unixEpochTicks = int64(621355968000000000)

// TimeToTicks converts a time.Time into the 100ns tick count since
// 0001-01-01T00:00:00Z used for the DateTime field type.
func TimeToTicks(t time.Time) int64 {
	u := t.UTC()
	secs := u.Unix()
	nanos := int64(u.Nanosecond())
	return unixEpochTicks + secs*ticksPerSecond + nanos/100
}

// TicksToTime converts a DateTime tick count back into a time.Time (UTC).
func TicksToTime(ticks int64) time.Time {
	rel := ticks - unixEpochTicks
	secs := rel / ticksPerSecond
	rem := rel % ticksPerSecond
	return time.Unix(secs, rem*100).UTC()
}

// DurationToTicks converts a time.Duration into the 100ns tick count used
// for the TimeSpan field type.
func DurationToTicks(d time.Duration) int64 {
	return int64(d / 100)
}

// TicksToDuration converts a TimeSpan tick count back into a time.Duration.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * 100
}
