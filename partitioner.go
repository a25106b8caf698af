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
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/btree"
)

// partitionKeyPattern is the restricted filename-safe alphabet decided in
// SPEC_FULL.md §9 decision 3. validatePartitionKey adds the other two
// rules (no leading/trailing underscore, no embedded "_structure"), so a
// directory scan can split "<db>_<key>_structure.dat" unambiguously.
var partitionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validatePartitionKey(key string) error {
	if key == "" || !partitionKeyPattern.MatchString(key) {
		return newErr(Schema, "validatePartitionKey", fmt.Sprintf("partition key %q uses characters outside [A-Za-z0-9_-]", key), nil)
	}
	if strings.HasPrefix(key, "_") || strings.HasSuffix(key, "_") {
		return newErr(Schema, "validatePartitionKey", fmt.Sprintf("partition key %q has a leading or trailing underscore", key), nil)
	}
	if strings.Contains(key, "_structure") {
		return newErr(Schema, "validatePartitionKey", fmt.Sprintf("partition key %q contains the reserved substring \"_structure\"", key), nil)
	}
	return nil
}

// BucketFactory opens (or creates) the inner bucket backing one partition.
type BucketFactory[T any] func(structPath, stringPath string) (bucket[T], error)

type partitionEntry[T any] struct {
	key string
	buf *WriteBuffer[T]
}

func lessPartitionEntry[T any](a, b partitionEntry[T]) bool { return a.key < b.key }

// Partitioner fans records out to per-key WriteBuffer+bucket pairs,
// bootstrapping its map from the files already on disk (spec.md §4.F).
// The live map is kept in a google/btree ordered tree rather than a plain
// Go map so read_all and the enumerable views have a deterministic,
// documented visitation order instead of relying on Go's randomized map
// iteration (mirroring the teacher's own ordered-index use of google/btree
// in storage/index.go, repurposed here for partition ordering).
type Partitioner[T any] struct {
	dir    string
	dbName string

	keyFunc        func(T) string
	factory        BucketFactory[T]
	maxSleepMs     float64
	itemsThreshold int
	initialSize    int64
	pageSize       int64
	maxResidentPages int
	hotTailCount   int

	mu   sync.Mutex
	tree *btree.BTreeG[partitionEntry[T]]
}

// NewPartitioner scans dir for files named "<dbName>_<key>_structure.dat",
// validates each extracted key, and eagerly opens a buffer for each one
// found. keyFunc derives a record's partition key; factory opens the
// concrete inner bucket (typed or dynamic) for a given pair of file paths.
func NewPartitioner[T any](dir, dbName string, keyFunc func(T) string, factory BucketFactory[T], maxSleepMs float64, itemsThreshold int) (*Partitioner[T], error) {
	p := &Partitioner[T]{
		dir:              dir,
		dbName:           dbName,
		keyFunc:          keyFunc,
		factory:          factory,
		maxSleepMs:       maxSleepMs,
		itemsThreshold:   itemsThreshold,
		initialSize:      DefaultInitialSize,
		pageSize:         DefaultPageSize,
		maxResidentPages: DefaultMaxResidentPages,
		hotTailCount:     DefaultHotTailPages,
		tree:             btree.NewG(32, lessPartitionEntry[T]),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, newErr(IO, "NewPartitioner", "scanning directory", err)
	}
	prefix := dbName + "_"
	const suffix = "_structure.dat"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		key := name[len(prefix) : len(name)-len(suffix)]
		if validatePartitionKey(key) != nil {
			continue // unparseable file names are ignored
		}
		if _, err := p.getOrCreateLocked(key); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Partitioner[T]) paths(key string) (structPath, stringPath string) {
	structPath = filepath.Join(p.dir, fmt.Sprintf("%s_%s_structure.dat", p.dbName, key))
	stringPath = filepath.Join(p.dir, fmt.Sprintf("%s_%s_string.dat", p.dbName, key))
	return
}

// getOrCreateLocked must be called with p.mu held.
func (p *Partitioner[T]) getOrCreateLocked(key string) (*WriteBuffer[T], error) {
	if existing, ok := p.tree.Get(partitionEntry[T]{key: key}); ok {
		return existing.buf, nil
	}
	structPath, stringPath := p.paths(key)
	inner, err := p.factory(structPath, stringPath)
	if err != nil {
		return nil, err
	}
	buf := NewWriteBuffer[T](inner, p.maxSleepMs, p.itemsThreshold)
	p.tree.ReplaceOrInsert(partitionEntry[T]{key: key, buf: buf})
	return buf, nil
}

// GetOrCreate synchronously returns (lazily creating) the buffer for key.
func (p *Partitioner[T]) GetOrCreate(key string) (*WriteBuffer[T], error) {
	if err := validatePartitionKey(key); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getOrCreateLocked(key)
}

func (p *Partitioner[T]) lookup(key string) (*WriteBuffer[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.tree.Get(partitionEntry[T]{key: key})
	if !ok {
		return nil, false
	}
	return e.buf, true
}

// Add groups records by partition key and dispatches each group to its
// buffer in parallel.
func (p *Partitioner[T]) Add(records []T) error {
	groups := make(map[string][]T)
	for _, r := range records {
		key := p.keyFunc(r)
		groups[key] = append(groups[key], r)
	}

	var wg sync.WaitGroup
	errs := make([]error, 0, len(groups))
	var errMu sync.Mutex
	for key, group := range groups {
		buf, err := p.GetOrCreate(key)
		if err != nil {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
			continue
		}
		wg.Add(1)
		group := group
		goTrace(func() {
			withTrace("Partitioner.Add", func() {
				defer wg.Done()
				if err := buf.Add(group); err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
			})
		})
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// DeletePartition syncs, deletes both files, and removes the partition
// from the map. Deleting an unknown key fails with NotFound.
func (p *Partitioner[T]) DeletePartition(key string) error {
	p.mu.Lock()
	e, ok := p.tree.Get(partitionEntry[T]{key: key})
	if !ok {
		p.mu.Unlock()
		return newErr(NotFound, "Partitioner.DeletePartition", fmt.Sprintf("no partition %q", key), nil)
	}
	p.tree.Delete(partitionEntry[T]{key: key})
	p.mu.Unlock()

	return e.buf.Delete()
}

// ReadAll concurrently bulk-reads every partition and concatenates the
// results; the partition visitation order is ascending by key, but the
// overall record order is otherwise implementation-defined.
func (p *Partitioner[T]) ReadAll() ([]T, error) {
	keys := p.PartitionKeys()
	results := make([][]T, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		buf, ok := p.lookup(key)
		if !ok {
			continue
		}
		wg.Add(1)
		i, buf := i, buf
		goTrace(func() {
			withTrace("Partitioner.ReadAll", func() {
				defer wg.Done()
				n := buf.Count()
				recs, err := buf.ReadBulk(0, n)
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = recs
			})
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]T, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// Count sums the virtual record count across every partition.
func (p *Partitioner[T]) Count() int32 {
	var total int32
	p.mu.Lock()
	p.tree.Ascend(func(e partitionEntry[T]) bool {
		total += e.buf.Count()
		return true
	})
	p.mu.Unlock()
	return total
}

// CountKey delegates to a single partition's buffer.
func (p *Partitioner[T]) CountKey(key string) (int32, error) {
	buf, ok := p.lookup(key)
	if !ok {
		return 0, newErr(NotFound, "Partitioner.CountKey", fmt.Sprintf("no partition %q", key), nil)
	}
	return buf.Count(), nil
}

// PartitionKeys returns every known partition key in ascending order.
func (p *Partitioner[T]) PartitionKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, p.tree.Len())
	p.tree.Ascend(func(e partitionEntry[T]) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}

// AsEnumerable visits every partition's buffer in ascending key order.
func (p *Partitioner[T]) AsEnumerable(visit func(key string, buf *WriteBuffer[T]) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.Ascend(func(e partitionEntry[T]) bool {
		return visit(e.key, e.buf)
	})
}

// AsReverseEnumerable visits every partition's buffer in descending key
// order.
func (p *Partitioner[T]) AsReverseEnumerable(visit func(key string, buf *WriteBuffer[T]) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.Descend(func(e partitionEntry[T]) bool {
		return visit(e.key, e.buf)
	})
}

// Sync flushes every partition's buffer.
func (p *Partitioner[T]) Sync() error {
	p.mu.Lock()
	bufs := make([]*WriteBuffer[T], 0, p.tree.Len())
	p.tree.Ascend(func(e partitionEntry[T]) bool {
		bufs = append(bufs, e.buf)
		return true
	})
	p.mu.Unlock()

	for _, buf := range bufs {
		if err := buf.Sync(); err != nil {
			return err
		}
	}
	return nil
}
