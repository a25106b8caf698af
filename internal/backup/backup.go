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

// Package backup defines a narrow offsite-export surface for dataset file
// pairs, independent of the hot read/write path. It is a generalization of
// the teacher's PersistenceEngine abstraction (storage/persistence-s3.go,
// storage/persistence-ceph.go) down to the one operation that matters for
// a fixed-schema append-only dataset: copy the bytes somewhere durable.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Target uploads a named object whose body is read from r. BackupDataset
// passes the open file as r rather than reading it into memory first;
// s3backup streams r into the request body, while cephbackup reads r
// whole into memory before writing the object.
type Target interface {
	PutObject(ctx context.Context, key string, r io.Reader) error
}

// BackupDataset uploads a dataset's structure file and string heap file
// to target, keyed by their base file names. Callers opt in explicitly;
// nothing in the core engine calls this on their behalf.
func BackupDataset(ctx context.Context, target Target, structPath, stringPath string) error {
	if err := backupFile(ctx, target, structPath); err != nil {
		return fmt.Errorf("backup: structure file: %w", err)
	}
	if err := backupFile(ctx, target, stringPath); err != nil {
		return fmt.Errorf("backup: string heap file: %w", err)
	}
	return nil
}

func backupFile(ctx context.Context, target Target, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return target.PutObject(ctx, filepath.Base(path), f)
}
