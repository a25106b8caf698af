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

// Command arraydb-inspect is a read-only diagnostic for a structure file's
// two-counter header and on-disk length. It takes no record schema: it
// never decodes a slot, only the header and file sizes, so it carries no
// coupling to any generated record type.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

func main() {
	fs := flag.NewFlagSet("arraydb-inspect", flag.ContinueOnError)
	structPath := fs.StringP("struct", "s", "", "path to a *_structure.dat file")
	stringPath := fs.StringP("strings", "S", "", "optional path to the matching *_string.dat file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if *structPath == "" {
		fmt.Fprintln(os.Stderr, "usage: arraydb-inspect --struct <path> [--strings <path>]")
		os.Exit(2)
	}

	if err := inspectStruct(*structPath); err != nil {
		fmt.Fprintf(os.Stderr, "arraydb-inspect: %v\n", err)
		os.Exit(1)
	}
	if *stringPath != "" {
		if err := inspectStrings(*stringPath); err != nil {
			fmt.Fprintf(os.Stderr, "arraydb-inspect: %v\n", err)
			os.Exit(1)
		}
	}
}

func inspectStruct(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var header [8]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	provisioned := binary.LittleEndian.Uint32(header[0:4])
	archived := binary.LittleEndian.Uint32(header[4:8])

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("%s\n  provisioned=%d archived=%d size=%d bytes\n", path, provisioned, archived, stat.Size())
	if archived != provisioned {
		fmt.Printf("  WARNING: archived != provisioned — last append may not have completed\n")
	}
	return nil
}

func inspectStrings(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var cursor [8]byte
	if _, err := f.ReadAt(cursor[:], 0); err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}
	end := binary.LittleEndian.Uint64(cursor[:])

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n  endCursor=%d size=%d bytes\n", path, end, stat.Size())
	return nil
}
