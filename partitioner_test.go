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
)

type event struct {
	Key   string
	Value int32
}

func eventFactory(structPath, stringPath string) (bucket[event], error) {
	return NewRecordBucket[event](structPath, stringPath, 4096, 1024, 8, 2)
}

func eventKey(e event) string { return e.Key }

func openTestPartitioner(t *testing.T, dir string) *Partitioner[event] {
	t.Helper()
	p, err := NewPartitioner[event](dir, "events", eventKey, eventFactory, DefaultMaxSleepMs, DefaultItemsThreshold)
	if err != nil {
		t.Fatalf("NewPartitioner: %v", err)
	}
	return p
}

func TestPartitionerAddGroupsByKey(t *testing.T) {
	dir := t.TempDir()
	p := openTestPartitioner(t, dir)

	records := []event{
		{Key: "alpha", Value: 1},
		{Key: "beta", Value: 2},
		{Key: "alpha", Value: 3},
	}
	if err := p.Add(records); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	alphaCount, err := p.CountKey("alpha")
	if err != nil {
		t.Fatalf("CountKey(alpha): %v", err)
	}
	if alphaCount != 2 {
		t.Fatalf("alpha count = %d, want 2", alphaCount)
	}
	betaCount, err := p.CountKey("beta")
	if err != nil {
		t.Fatalf("CountKey(beta): %v", err)
	}
	if betaCount != 1 {
		t.Fatalf("beta count = %d, want 1", betaCount)
	}
	if total := p.Count(); total != 3 {
		t.Fatalf("total Count() = %d, want 3", total)
	}
}

func TestPartitionerReadAllConcatenatesEveryPartition(t *testing.T) {
	dir := t.TempDir()
	p := openTestPartitioner(t, dir)
	if err := p.Add([]event{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	all, err := p.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ReadAll returned %d records, want 3", len(all))
	}
}

func TestPartitionerDeletePartitionRemovesIt(t *testing.T) {
	dir := t.TempDir()
	p := openTestPartitioner(t, dir)
	if err := p.Add([]event{{Key: "gone", Value: 1}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := p.DeletePartition("gone"); err != nil {
		t.Fatalf("DeletePartition: %v", err)
	}
	if _, err := p.CountKey("gone"); !Is(err, NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestPartitionerDeleteUnknownPartitionFailsNotFound(t *testing.T) {
	dir := t.TempDir()
	p := openTestPartitioner(t, dir)
	if err := p.DeletePartition("never-existed"); !Is(err, NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPartitionerRejectsInvalidKeys(t *testing.T) {
	dir := t.TempDir()
	p := openTestPartitioner(t, dir)
	for _, bad := range []string{"_leading", "trailing_", "has_structure_inside", "sp ace", ""} {
		if _, err := p.GetOrCreate(bad); !Is(err, Schema) {
			t.Fatalf("GetOrCreate(%q) expected Schema error, got %v", bad, err)
		}
	}
}

func TestPartitionerRebootsFromDiskFiles(t *testing.T) {
	dir := t.TempDir()
	p1 := openTestPartitioner(t, dir)
	if err := p1.Add([]event{{Key: "alpha", Value: 1}, {Key: "alpha", Value: 2}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p1.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	p2 := openTestPartitioner(t, dir)
	count, err := p2.CountKey("alpha")
	if err != nil {
		t.Fatalf("CountKey after reboot: %v", err)
	}
	if count != 2 {
		t.Fatalf("rebooted partition count = %d, want 2", count)
	}
}

func TestPartitionerAsEnumerableVisitsAscending(t *testing.T) {
	dir := t.TempDir()
	p := openTestPartitioner(t, dir)
	if err := p.Add([]event{{Key: "c", Value: 1}, {Key: "a", Value: 2}, {Key: "b", Value: 3}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	var order []string
	p.AsEnumerable(func(key string, _ *WriteBuffer[event]) bool {
		order = append(order, key)
		return true
	})
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if order[i] != k {
			t.Fatalf("AsEnumerable order = %v, want ascending %v", order, want)
		}
	}
}
