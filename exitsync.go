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

import "github.com/dc0d/onexit"

// Syncer is the subset of WriteBuffer/Partitioner that RegisterForExitSync
// flushes on process exit.
type Syncer interface {
	Sync() error
}

// RegisterForExitSync hooks s.Sync into the process-exit handler chain,
// the same way the teacher flushes its trace file on exit in
// storage/settings.go via onexit.Register. This is a safety net, not a
// substitute for callers invoking Sync explicitly before shutdown: onexit
// runs best-effort on normal termination paths, not on a killed process.
func RegisterForExitSync(s Syncer) {
	onexit.Register(func() {
		_ = s.Sync()
	})
}
