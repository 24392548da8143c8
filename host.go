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

import "sync/atomic"
import "github.com/launix-de/scadvm/vm"

// geometryCounter hands out opaque geometry handles. The real geometry
// backend is a host concern; this driver only numbers the requests so
// scripts can run end to end.
var geometryCounter int64

var geometryModules = []string{
	"cube", "sphere", "cylinder", "polyhedron",
	"square", "circle", "polygon", "text",
	"translate", "rotate", "scale", "mirror", "resize", "color",
	"linear_extrude", "rotate_extrude", "hull", "minkowski", "offset",
	"union", "difference", "intersection", "render", "children",
}

// hostModules builds the host-side module table: every geometry module
// consumes its arguments and yields a fresh opaque handle.
func hostModules() map[string]vm.HostFunc {
	host := make(map[string]vm.HostFunc, len(geometryModules))
	stub := func(heap *vm.Heap, args []vm.Value) vm.Value {
		for _, a := range args {
			heap.Drop(a)
		}
		return vm.Geometry(atomic.AddInt64(&geometryCounter, 1))
	}
	for _, name := range geometryModules {
		host[name] = stub
	}
	return host
}
