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
package vm

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracefile records pipeline phases (the driver traces parse, generate and
// eval; constant folding runs inside parse) in the chrome://tracing JSON
// format.
type Tracefile struct {
	isFirst bool
	file    io.WriteCloser
	m       sync.Mutex
}

var Trace *Tracefile // set to not nil to trace the compile/run pipeline
var TracePrint bool  // whether to also print phase durations to stdout

// SetTrace opens or closes the trace file. The file name carries a fresh
// session id so watch-mode reruns do not clobber each other.
func SetTrace(on bool) {
	if Trace != nil {
		Trace.Close()
		Trace = nil
	}
	if on {
		f, err := os.Create(os.Getenv("SCADVM_TRACEDIR") + "trace_" + uuid.NewString() + ".json")
		if err != nil {
			panic(err)
		}
		Trace = NewTrace(f)
	}
}

func NewTrace(file io.WriteCloser) *Tracefile {
	file.Write([]byte("["))
	result := new(Tracefile)
	result.file = file
	result.isFirst = true
	return result
}

func (t *Tracefile) Close() {
	t.file.Write([]byte("]"))
	t.file.Close()
}

// Duration wraps f in a begin/end event pair.
func (t *Tracefile) Duration(name string, cat string, f func()) {
	t.event(name, cat, "B")
	defer t.event(name, cat, "E")
	if TracePrint {
		begin := time.Now()
		defer func() { fmt.Println("trace", name, time.Since(begin).String()) }()
	}
	f()
}

func (t *Tracefile) event(name string, cat string, typ string) {
	ts := time.Since(start).Microseconds()
	t.m.Lock()
	if t.isFirst {
		t.isFirst = false
	} else {
		t.file.Write([]byte(",\n"))
	}
	t.file.Write([]byte("{\"name\": "))
	b, _ := json.Marshal(name)
	t.file.Write(b)
	t.file.Write([]byte(", \"cat\": "))
	b, _ = json.Marshal(cat)
	t.file.Write(b)
	t.file.Write([]byte(", \"ph\": \""))
	t.file.Write([]byte(typ))
	t.file.Write([]byte("\", \"ts\": "))
	b, _ = json.Marshal(ts)
	t.file.Write(b)
	t.file.Write([]byte(", \"pid\": 0, \"tid\": 0, \"s\": \"g\"}"))
	t.m.Unlock()
}

// Phase runs f under the trace when tracing is on, plainly otherwise.
func Phase(name string, f func()) {
	if Trace != nil {
		Trace.Duration(name, "pipeline", f)
		return
	}
	f()
}

var start time.Time = time.Now()
