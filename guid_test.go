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

	"github.com/google/uuid"
)

func TestGuidUUIDRoundTrip(t *testing.T) {
	u := uuid.New()
	g := NewGuidFromUUID(u)
	if g.UUID() != u {
		t.Fatalf("Guid.UUID() = %v, want %v", g.UUID(), u)
	}
	if g.String() != u.String() {
		t.Fatalf("Guid.String() = %q, want %q", g.String(), u.String())
	}
}

func TestGenerateGuidProducesDistinctValues(t *testing.T) {
	seen := make(map[Guid]bool)
	for i := 0; i < 1000; i++ {
		g := GenerateGuid()
		if seen[g] {
			t.Fatalf("GenerateGuid produced a duplicate at iteration %d", i)
		}
		seen[g] = true
	}
}
