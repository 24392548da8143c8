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
package main

import "io"
import "os"
import "fmt"
import "strings"
import "path/filepath"
import "github.com/pierrec/lz4/v4"
import "github.com/ulikunitz/xz"
import "github.com/launix-de/scadvm/scad"

// fileRegistry implements the frontend host callbacks over the local
// filesystem. Handles are assigned on first resolution; inline snippets
// (-c, REPL lines) get handles too so locations stay printable.
type fileRegistry struct {
	paths   []string // handle -> path, "" for inline
	handles map[string]scad.FileHandle
	inline  map[scad.FileHandle]string
}

func newFileRegistry() *fileRegistry {
	return &fileRegistry{
		handles: make(map[string]scad.FileHandle),
		inline:  make(map[scad.FileHandle]string),
	}
}

func (r *fileRegistry) intern(path string) scad.FileHandle {
	if h, ok := r.handles[path]; ok {
		return h
	}
	h := scad.FileHandle(len(r.paths))
	r.paths = append(r.paths, path)
	r.handles[path] = h
	return h
}

// addFile registers a command line source file.
func (r *fileRegistry) addFile(path string) (scad.FileHandle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(abs); err != nil {
		return 0, err
	}
	return r.intern(abs), nil
}

// addInline registers a source snippet with no backing file.
func (r *fileRegistry) addInline(source string) scad.FileHandle {
	h := scad.FileHandle(len(r.paths))
	r.paths = append(r.paths, "")
	r.inline[h] = source
	return h
}

// resolve maps an include/use name to a handle, relative to the directory
// of the including file. Sources may be stored xz or lz4 compressed.
func (r *fileRegistry) resolve(name string, from scad.FileHandle) (scad.FileHandle, error) {
	base := "."
	if int(from) < len(r.paths) && r.paths[from] != "" {
		base = filepath.Dir(r.paths[from])
	}
	candidates := []string{name, name + ".xz", name + ".lz4"}
	for _, cand := range candidates {
		path := cand
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, cand)
		}
		if _, err := os.Stat(path); err == nil {
			return r.intern(path), nil
		}
	}
	return 0, fmt.Errorf("cannot resolve %q from %s", name, base)
}

type wrappedReader struct {
	io.Reader
	c io.Closer
}

func (w wrappedReader) Close() error { return w.c.Close() }

// open yields the character stream for a handle, transparently decoding
// compressed sources.
func (r *fileRegistry) open(file scad.FileHandle) (io.ReadCloser, error) {
	if src, ok := r.inline[file]; ok {
		return io.NopCloser(strings.NewReader(src)), nil
	}
	if int(file) >= len(r.paths) {
		return nil, fmt.Errorf("unknown file handle %d", file)
	}
	path := r.paths[file]
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return wrappedReader{xr, f}, nil
	case strings.HasSuffix(path, ".lz4"):
		return wrappedReader{lz4.NewReader(f), f}, nil
	}
	return f, nil
}

// watchPaths lists every real file seen so far, for watch mode.
func (r *fileRegistry) watchPaths() []string {
	var paths []string
	for _, p := range r.paths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
