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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// GuidSize is the on-disk width of a Guid field, fixed per spec.
const GuidSize = 16

// Guid is the 16-byte field type. Byte order is pinned to whatever
// uuid.UUID.MarshalBinary produces (the RFC 4122 big-endian field layout),
// so the typed and dynamic buckets agree with each other and across
// re-opens without any host-dependent "native" byte order creeping in.
type Guid [GuidSize]byte

// NewGuidFromUUID converts a github.com/google/uuid.UUID into a Guid.
func NewGuidFromUUID(u uuid.UUID) Guid {
	var g Guid
	copy(g[:], u[:])
	return g
}

func (g Guid) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], g[:])
	return u
}

func (g Guid) String() string {
	return g.UUID().String()
}

var guidCounter uint64 = uint64(time.Now().UnixNano())

// GenerateGuid returns a UUIDv4-shaped Guid derived from an atomic counter
// mixed with wall-clock time, avoiding the startup stall crypto/rand can
// incur on low-entropy systems. Not suitable for cryptographic use.
func GenerateGuid() Guid {
	ctr := atomic.AddUint64(&guidCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [GuidSize]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // RFC 4122 variant
	return Guid(b)
}
