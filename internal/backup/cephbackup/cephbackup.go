//go:build ceph

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

// Package cephbackup implements backup.Target over a RADOS pool, narrowed
// from the teacher's CephStorage (storage/persistence-ceph.go, itself
// built only under the "ceph" tag since it links against librados) down
// to the single WriteFull call a dataset backup needs.
package cephbackup

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// Config mirrors the teacher's CephFactory fields.
type Config struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// Target is a backup.Target that writes full objects into a RADOS pool.
type Target struct {
	cfg Config

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func New(cfg Config) *Target {
	return &Target{cfg: cfg}
}

func (t *Target) ensureOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return nil
	}

	conn, err := rados.NewConnWithClusterAndUser(t.cfg.ClusterName, t.cfg.UserName)
	if err != nil {
		return fmt.Errorf("cephbackup: connecting: %w", err)
	}
	if t.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(t.cfg.ConfFile); err != nil {
			return fmt.Errorf("cephbackup: reading conf file: %w", err)
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		return fmt.Errorf("cephbackup: connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(t.cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return fmt.Errorf("cephbackup: opening pool %s: %w", t.cfg.Pool, err)
	}
	t.conn = conn
	t.ioctx = ioctx
	t.opened = true
	return nil
}

func (t *Target) object(name string) string {
	pfx := strings.TrimSuffix(t.cfg.Prefix, "/")
	if pfx == "" {
		return name
	}
	return path.Join(pfx, name)
}

// PutObject implements backup.Target. RADOS's WriteFull takes a whole
// object body rather than a stream, so r is buffered first, the same way
// the teacher's cephWriteCloser (storage/persistence-ceph.go) accumulates
// into a buffer before its own WriteFull on Close.
func (t *Target) PutObject(ctx context.Context, name string, r io.Reader) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("cephbackup: reading object body %s: %w", name, err)
	}
	if err := t.ioctx.WriteFull(t.object(name), data); err != nil {
		return fmt.Errorf("cephbackup: WriteFull %s: %w", name, err)
	}
	return nil
}

// Close releases the RADOS connection.
func (t *Target) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return
	}
	t.ioctx.Destroy()
	t.conn.Shutdown()
	t.opened = false
}
