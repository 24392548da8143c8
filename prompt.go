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

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/chzyer/readline"
)

const newprompt = "\033[32m>\033[0m "

// repl reads statements line by line; bare expressions are echoed. Every
// line compiles and runs as its own little program.
func repl(reg *fileRegistry) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".scadvm-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if line == "" {
			continue
		}

		// anti-panic func
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			handle := reg.addInline(statementise(line))
			if err := run(reg, handle); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
	}
}
