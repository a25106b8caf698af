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
	"errors"
	"fmt"
)

// Kind classifies an Error into the closed taxonomy the engine exposes to
// callers. The zero value is IO so a forgotten Kind fails loud on the
// conservative side.
type Kind int

const (
	IO Kind = iota
	Corruption
	OutOfRange
	Schema
	Type
	NotFound
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "IO"
	case Corruption:
		return "Corruption"
	case OutOfRange:
		return "OutOfRange"
	case Schema:
		return "Schema"
	case Type:
		return "Type"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the single error type the engine returns. Op names the
// operation that failed (e.g. "PagedFileStore.Read"); Err, if set, wraps
// the underlying cause (an *os.PathError, a utf8 decode failure, ...).
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Is reports whether err is an *Error of the given Kind, unwrapping
// wrapped errors along the way.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
