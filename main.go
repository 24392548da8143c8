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
/*
	scadvm compiler and stack interpreter for OpenSCAD-family scripts
*/
package main

import "os"
import "fmt"
import "flag"
import "sync"
import "time"
import "strings"
import "syscall"
import "os/signal"
import "runtime/pprof"
import "github.com/dc0d/onexit"
import "github.com/docker/go-units"
import "github.com/fsnotify/fsnotify"
import "github.com/launix-de/scadvm/scad"
import "github.com/launix-de/scadvm/vm"

var dump = flag.Bool("dump", false, "Print the disassembly of every generated function")
var stats = flag.Bool("stats", false, "Print bytecode and evaluation statistics")
var trace = flag.Bool("trace", false, "Write a chrome://tracing file of the pipeline phases")
var tracePrint = flag.Bool("traceprint", false, "Also print phase durations to stdout")
var watch = flag.Bool("watch", false, "Re-run whenever a source file changes")
var profile = flag.String("profile", "", "Write a CPU profile to this file")

// the running evaluator, so the signal handler can stop it
var runningMutex sync.Mutex
var running *vm.Evaluator

func setRunning(e *vm.Evaluator) {
	runningMutex.Lock()
	running = e
	runningMutex.Unlock()
}

func stopRunning() bool {
	runningMutex.Lock()
	defer runningMutex.Unlock()
	if running != nil {
		running.Stop()
		return true
	}
	return false
}

// run executes one compiled pipeline for the given handle.
func run(reg *fileRegistry, handle scad.FileHandle) error {
	fe := scad.NewFrontend(reg.resolve, reg.open)
	var unit *scad.TranslationUnit
	var err error
	vm.Phase("parse", func() {
		unit, err = fe.Parse(handle)
	})
	if err != nil {
		return err
	}
	var prog *vm.Program
	vm.Phase("generate", func() {
		prog, err = vm.Generate(fe.Units(), unit, hostModules())
	})
	if err != nil {
		return err
	}
	for _, w := range prog.Warnings {
		fmt.Fprintln(os.Stderr, w.String())
	}
	if *dump {
		for i, fn := range prog.Functions {
			if fn.Host != nil {
				continue
			}
			fmt.Printf("; function %d: %s (%d parameters)\n%s\n", i, fn.Name, fn.Parameters, vm.Disassemble(fn.Code))
		}
	}
	e := vm.NewEvaluator(prog, os.Stdout)
	setRunning(e)
	vm.Phase("eval", func() {
		_, err = e.Eval(prog.Entry)
	})
	setRunning(nil)
	if err != nil {
		return err
	}
	if *stats {
		total := 0
		for _, fn := range prog.Functions {
			total += len(fn.Code)
		}
		fmt.Printf("functions: %d, bytecode: %s, globals: %d\n",
			len(prog.Functions), units.HumanSize(float64(total)), prog.GlobalCount)
		fmt.Printf("instructions executed: %d, stack high water: %d\n",
			e.Executed(), e.MaxStack())
	}
	return nil
}

// watchLoop re-runs the pipeline whenever one of the registered source
// files changes, flushing event bursts before re-reading.
func watchLoop(reg *fileRegistry, handle scad.FileHandle) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		panic(err)
	}
	defer watcher.Close()
	for _, path := range reg.watchPaths() {
		if err := watcher.Add(path); err != nil {
			fmt.Fprintln(os.Stderr, "watch:", err)
		}
	}
	fmt.Fprintln(os.Stderr, "watching for changes, ^C to quit")
	for {
		select {
		case <-watcher.Events:
			// flush all other events so we don't read half-written files
			for {
				time.Sleep(10 * time.Millisecond)
				select {
				case <-watcher.Events:
					// ignore
				default:
					goto rerun
				}
			}
		rerun:
			func() {
				defer func() {
					if r := recover(); r != nil {
						fmt.Fprintln(os.Stderr, r)
					}
				}()
				if err := run(reg, handle); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			}()
		case err := <-watcher.Errors:
			fmt.Fprintln(os.Stderr, "watch:", err)
		}
	}
}

func main() {
	fmt.Fprint(os.Stderr, `scadvm Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;

`)

	var commands arrayFlags
	flag.Var(&commands, "c", "Evaluate an expression or statement")
	flag.Parse()
	files := flag.Args()

	vm.TracePrint = *tracePrint
	vm.SetTrace(*trace)
	onexit.Register(func() { vm.SetTrace(false) })

	if *profile != "" {
		f, err := os.Create(*profile)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// ^C stops a running evaluation; a second ^C exits
	cancelChan := make(chan os.Signal, 1)
	signal.Notify(cancelChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for range cancelChan {
			if !stopRunning() {
				os.Exit(1)
			}
		}
	}()

	reg := newFileRegistry()
	exitCode := 0

	for _, command := range commands {
		handle := reg.addInline(statementise(command))
		if err := run(reg, handle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitCode = 1
		}
	}

	for _, file := range files {
		handle, err := reg.addFile(file)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitCode = 1
			continue
		}
		if err := run(reg, handle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitCode = 1
			continue
		}
		if *watch {
			watchLoop(reg, handle)
		}
	}

	if len(commands) == 0 && len(files) == 0 {
		repl(reg)
	}
	os.Exit(exitCode)
}

// statementise turns a bare REPL expression into an echo statement.
func statementise(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasSuffix(trimmed, ";") || strings.HasSuffix(trimmed, "}") {
		return line
	}
	return "echo(" + line + ");"
}

type arrayFlags []string

func (f *arrayFlags) String() string { return strings.Join(*f, ",") }

func (f *arrayFlags) Set(value string) error {
	*f = append(*f, value)
	return nil
}
