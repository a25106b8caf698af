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
	"testing"
	"time"
)

func TestNewSchemaRejectsDuplicateNames(t *testing.T) {
	_, err := NewSchema([]Field{{Name: "x", Type: FieldInt32}, {Name: "x", Type: FieldInt64}})
	if !Is(err, Schema) {
		t.Fatalf("expected Schema error for duplicate field name, got %v", err)
	}
}

func TestNewSchemaRejectsFixedBytesWithoutLength(t *testing.T) {
	_, err := NewSchema([]Field{{Name: "tag", Type: FieldFixedBytes, FixedLen: 0}})
	if !Is(err, Schema) {
		t.Fatalf("expected Schema error for zero-length FixedSizeByteArray, got %v", err)
	}
}

func TestSchemaOffsetsArePacked(t *testing.T) {
	s, err := NewSchema([]Field{
		{Name: "a", Type: FieldInt32},
		{Name: "b", Type: FieldInt64},
		{Name: "c", Type: FieldBoolean},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	if s.Offset(0) != 0 || s.Offset(1) != 4 || s.Offset(2) != 12 {
		t.Fatalf("offsets = [%d,%d,%d], want [0,4,12]", s.Offset(0), s.Offset(1), s.Offset(2))
	}
	if s.SlotSize != 13 {
		t.Fatalf("SlotSize = %d, want 13", s.SlotSize)
	}
}

func TestSortFieldsByNameIsAlphabetical(t *testing.T) {
	sorted := SortFieldsByName([]Field{{Name: "zebra"}, {Name: "apple"}, {Name: "mango"}})
	want := []string{"apple", "mango", "zebra"}
	for i, f := range sorted {
		if f.Name != want[i] {
			t.Fatalf("sorted[%d] = %q, want %q", i, f.Name, want[i])
		}
	}
}

func TestTicksRoundTripThroughTimeAndDuration(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 30, 0, 123400000, time.UTC)
	ticks := TimeToTicks(now)
	back := TicksToTime(ticks)
	if !back.Equal(now) {
		t.Fatalf("TicksToTime(TimeToTicks(now)) = %v, want %v", back, now)
	}

	d := 90 * time.Minute
	if got := TicksToDuration(DurationToTicks(d)); got != d {
		t.Fatalf("TicksToDuration(DurationToTicks(d)) = %v, want %v", got, d)
	}
}

func TestUnixEpochTicksMatchesKnownValue(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	if got := TimeToTicks(epoch); got != unixEpochTicks {
		t.Fatalf("TimeToTicks(unix epoch) = %d, want %d", got, unixEpochTicks)
	}
}
