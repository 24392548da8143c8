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
package scad

import (
	"io"
	"sort"
	"strings"
	"testing"
)

// memFiles builds a frontend over in-memory sources. Handles are assigned
// in sorted name order, starting at 0.
func memFiles(files map[string]string) (*Frontend, map[string]FileHandle) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	handles := make(map[string]FileHandle)
	sources := make(map[FileHandle]string)
	for i, name := range names {
		handles[name] = FileHandle(i)
		sources[FileHandle(i)] = files[name]
	}
	resolver := func(name string, from FileHandle) (FileHandle, error) {
		if h, ok := handles[name]; ok {
			return h, nil
		}
		return 0, io.ErrUnexpectedEOF
	}
	provider := func(file FileHandle) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(sources[file])), nil
	}
	return NewFrontend(resolver, provider), handles
}

func TestParseIdempotent(t *testing.T) {
	fe, handles := memFiles(map[string]string{"a": "x = 1;"})
	first, err := fe.Parse(handles["a"])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	second, err := fe.Parse(handles["a"])
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same unit instance, got %p and %p", first, second)
	}
	if len(first.Assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(first.Assignments))
	}
}

func TestUseParsesDependency(t *testing.T) {
	fe, handles := memFiles(map[string]string{
		"a": "use <b>\nx = 1;",
		"b": "function f(v) = v;",
	})
	unit, err := fe.Parse(handles["a"])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !unit.Uses[handles["b"]] {
		t.Fatalf("use target not recorded: %v", unit.Uses)
	}
	dep := fe.Unit(handles["b"])
	if dep == nil || len(dep.Functions) != 1 {
		t.Fatalf("use target not parsed: %+v", dep)
	}
}

func TestIncludeMergesAndTracksLocation(t *testing.T) {
	fe, handles := memFiles(map[string]string{
		"a": "include <b>\ny = x;",
		"b": "x = 42;",
	})
	unit, err := fe.Parse(handles["a"])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(unit.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(unit.Assignments))
	}
	// the included assignment's location points into b, with a parent
	// chain back to the include site in a
	inc := unit.Assignments[0]
	if inc.At.Begin.Src != handles["b"] {
		t.Fatalf("included assignment not located in b: %v", inc.At)
	}
	parent := inc.At.Begin.Parent
	if parent == nil || parent.Begin.Src != handles["a"] {
		t.Fatalf("missing include-site parent: %v", parent)
	}
}

func TestRecursiveIncludeDetected(t *testing.T) {
	fe, handles := memFiles(map[string]string{
		"a": "include <b>\n",
		"b": "include <a>\n",
	})
	_, err := fe.Parse(handles["a"])
	if err == nil {
		t.Fatal("expected recursive include error")
	}
	serr, ok := err.(*SyntaxError)
	if !ok {
		t.Fatalf("expected *SyntaxError, got %T", err)
	}
	if !strings.Contains(serr.Reason, "recursive include detected") {
		t.Fatalf("wrong reason: %q", serr.Reason)
	}
	// the parent chain at the cycle point contains both handles
	seen := map[FileHandle]bool{}
	for l := &serr.Loc; l != nil; l = l.Begin.Parent {
		seen[l.Begin.Src] = true
	}
	if !seen[handles["a"]] || !seen[handles["b"]] {
		t.Fatalf("parent chain misses a handle: %v", seen)
	}
}

func TestNoHandleTwiceOnParentChain(t *testing.T) {
	fe, handles := memFiles(map[string]string{
		"a": "include <b>\nz = 1;",
		"b": "include <c>\n",
		"c": "w = 2;",
	})
	unit, err := fe.Parse(handles["a"])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, a := range unit.Assignments {
		seen := map[FileHandle]bool{}
		for l := a.At.Begin.Parent; l != nil; l = l.Begin.Parent {
			if seen[l.Begin.Src] {
				t.Fatalf("handle %d twice on parent chain of %v", l.Begin.Src, a.At)
			}
			seen[l.Begin.Src] = true
		}
	}
}

func TestSyntaxErrorCarriesLocation(t *testing.T) {
	fe, handles := memFiles(map[string]string{"a": "x = ;"})
	_, err := fe.Parse(handles["a"])
	if err == nil {
		t.Fatal("expected syntax error")
	}
	serr := err.(*SyntaxError)
	if serr.Loc.Begin.Line != 1 {
		t.Fatalf("wrong line: %v", serr.Loc)
	}
}
