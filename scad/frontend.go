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

	"github.com/launix-de/NonLockingReadMap"
)

// Resolver maps a textual include/use name to a file handle. The second
// parameter is the handle of the file containing the directive.
type Resolver func(name string, from FileHandle) (FileHandle, error)

// Provider yields the character stream for a handle.
type Provider func(file FileHandle) (io.ReadCloser, error)

// TranslationUnit is the parsed form of one source file: its declarations,
// file scope assignments, top-level module calls and the set of used
// files. Immutable after parsing and transform.
type TranslationUnit struct {
	File        FileHandle
	Uses        map[FileHandle]bool
	Modules     []*ModuleDecl
	Functions   []*FunctionDecl
	Assignments []*Assign
	ModuleCalls []ModuleCall
	Warnings    []Warning
}

func NewTranslationUnit(file FileHandle) *TranslationUnit {
	return &TranslationUnit{File: file, Uses: make(map[FileHandle]bool)}
}

func (t TranslationUnit) GetKey() FileHandle { return t.File }

// ComputeSize approximates the retained size for the read-mostly unit map.
func (t TranslationUnit) ComputeSize() uint {
	size := uint(128)
	size += uint(len(t.Uses)) * 16
	size += uint(len(t.Modules)+len(t.Functions)) * 96
	size += uint(len(t.Assignments)+len(t.ModuleCalls)) * 64
	return size
}

// Frontend owns the per-handle unit table and the host callbacks. The unit
// table is read often (generation, watch-mode reruns) and written only when
// a new file is first parsed.
type Frontend struct {
	resolver Resolver
	provider Provider
	units    NonLockingReadMap.NonLockingReadMap[TranslationUnit, FileHandle]
}

func NewFrontend(resolver Resolver, provider Provider) *Frontend {
	return &Frontend{
		resolver: resolver,
		provider: provider,
		units:    NonLockingReadMap.New[TranslationUnit, FileHandle](),
	}
}

// Unit returns the already-parsed unit for a handle, or nil.
func (f *Frontend) Unit(file FileHandle) *TranslationUnit {
	return f.units.Get(file)
}

// Units returns all parsed units.
func (f *Frontend) Units() []*TranslationUnit {
	return f.units.GetAll()
}

// Parse lexes and parses one file into its translation unit, then
// recursively parses every use-dependency. Parsing the same handle twice
// returns the same unit without reparsing. The empty unit is registered
// before parsing starts, so diagnostics of partially parsed files stay
// reachable.
func (f *Frontend) Parse(file FileHandle) (unit *TranslationUnit, err error) {
	if u := f.units.Get(file); u != nil {
		return u, nil
	}
	unit = NewTranslationUnit(file)
	f.units.Set(unit)
	defer func() {
		if r := recover(); r != nil {
			if serr, ok := r.(*SyntaxError); ok {
				err = serr
				return
			}
			panic(r)
		}
	}()
	stream, perr := f.provider(file)
	if perr != nil {
		return nil, perr
	}
	scanner := NewScanner(f, unit, stream)
	parser := NewParser(scanner, unit)
	parser.ParseUnit()
	Transform(unit)
	for use := range unit.Uses {
		if _, err := f.Parse(use); err != nil {
			return nil, err
		}
	}
	return unit, nil
}
