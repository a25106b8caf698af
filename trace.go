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

import "github.com/jtolds/gls"

// traceMgr tags worker goroutines (the RecordBucket parallel encode/decode
// pool, the WriteBuffer engine/cooldown chain) with the name of the
// operation they are running, the same way the teacher tags its own shard worker
// pools in storage/partition.go and storage/scan_order.go via gls.Go.
// This is diagnostic only: it never changes control flow, only what a
// recovered panic's error message names.
var traceMgr = gls.NewContextManager()

const traceKeyOp = "arraydb.op"

// withTrace runs f under a goroutine-local label retrievable via traceOp.
// The bucket encode/decode workers and the WriteBuffer engine wrap their
// body in withTrace and a recover() that calls traceOp() to name the
// operation in the resulting error, so a panic in one slot's encode/decode
// surfaces as an error naming its pool instead of crashing the process.
// The Partitioner workers and the WriteBuffer cooldown task are labeled
// the same way but do not recover.
func withTrace(label string, f func()) {
	traceMgr.SetValues(gls.Values{traceKeyOp: label}, f)
}

// traceOp returns the current goroutine-local label, or "" if none was
// set via withTrace.
func traceOp() string {
	if v, ok := traceMgr.GetValue(traceKeyOp); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// goTrace spawns f on a new goroutine via gls.Go, preserving whatever
// goroutine-local label the caller is currently running under.
func goTrace(f func()) {
	gls.Go(f)
}
