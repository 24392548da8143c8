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
	"bytes"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/launix-de/scadvm/scad"
)

func compileFiles(t *testing.T, files map[string]string, entry string, host map[string]HostFunc) *Program {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	handles := make(map[string]scad.FileHandle)
	sources := make(map[scad.FileHandle]string)
	for i, name := range names {
		handles[name] = scad.FileHandle(i)
		sources[scad.FileHandle(i)] = files[name]
	}
	fe := scad.NewFrontend(
		func(name string, from scad.FileHandle) (scad.FileHandle, error) {
			if h, ok := handles[name]; ok {
				return h, nil
			}
			return 0, io.ErrUnexpectedEOF
		},
		func(file scad.FileHandle) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(sources[file])), nil
		})
	unit, err := fe.Parse(handles[entry])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := Generate(fe.Units(), unit, host)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return prog
}

func compileSource(t *testing.T, src string) *Program {
	t.Helper()
	return compileFiles(t, map[string]string{"main": src}, "main", nil)
}

// runSource compiles and evaluates one source text, returning the echo
// output and the evaluator for further inspection.
func runSource(t *testing.T, src string) (string, *Evaluator) {
	t.Helper()
	prog := compileSource(t, src)
	var out bytes.Buffer
	e := NewEvaluator(prog, &out)
	if _, err := e.Eval(prog.Entry); err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return out.String(), e
}

func TestScenarioConstantFoldedArithmetic(t *testing.T) {
	out, _ := runSource(t, "echo(1 + 2 * 3);")
	if out != "7\n" {
		t.Fatalf("got %q, want 7", out)
	}
}

func TestScenarioConditionalFold(t *testing.T) {
	src := "echo(1 == 1 ? 10 : 20);"
	out, _ := runSource(t, src)
	if out != "10\n" {
		t.Fatalf("got %q, want 10", out)
	}
	// the folded entry bytecode must contain no conditional jump
	prog := compileSource(t, src)
	listing := Disassemble(prog.Functions[prog.Entry].Code)
	if strings.Contains(listing, "JumpFalseI") {
		t.Fatalf("condition not folded:\n%s", listing)
	}
}

func TestScenarioDivisionByZero(t *testing.T) {
	out, _ := runSource(t, "echo(1/0);")
	if out != "nan\n" {
		t.Fatalf("got %q, want nan", out)
	}
}

func TestScenarioTailRecursion(t *testing.T) {
	out, e := runSource(t, "function f(a,b) = a <= 0 ? b : f(a-1, b+2); echo(f(100000, 0));")
	if out != "200000\n" {
		t.Fatalf("got %q, want 200000", out)
	}
	if e.MaxStack() > 32 {
		t.Fatalf("tail recursion grew the stack: %d", e.MaxStack())
	}
}

func TestScenarioUndefinedVariable(t *testing.T) {
	prog := compileSource(t, "echo(x);")
	found := false
	for _, w := range prog.Warnings {
		if strings.Contains(w.Message, "undefined variable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing undefined-variable warning: %v", prog.Warnings)
	}
	var out bytes.Buffer
	e := NewEvaluator(prog, &out)
	if _, err := e.Eval(prog.Entry); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if out.String() != "undef\n" {
		t.Fatalf("got %q, want undef", out.String())
	}
}

func TestPipelineFunctionDefaultsAndNamedArgs(t *testing.T) {
	out, _ := runSource(t, "function g(a, b = 10) = a + b; echo(g(1)); echo(g(b = 5, a = 1));")
	if out != "11\n6\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineBuiltins(t *testing.T) {
	out, _ := runSource(t, "x = 16; echo(sqrt(x)); echo(floor(2.7)); echo(sign(-3));")
	if out != "4\n2\n-1\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineStrings(t *testing.T) {
	out, _ := runSource(t, `echo("hello world");`)
	if out != "hello world\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineListsAndIndex(t *testing.T) {
	out, _ := runSource(t, "v = [1, 2, 3]; echo(v[1]); echo(v[5]); echo([each v, 4]);")
	if out != "2\nundef\n[1, 2, 3, 4]\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineLet(t *testing.T) {
	out, _ := runSource(t, "echo(let (a = 2, b = a + 1) a * b);")
	if out != "6\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineListComprehension(t *testing.T) {
	out, _ := runSource(t, "echo([for (i = [0 : 4]) i * i]);")
	if out != "[0, 1, 4, 9, 16]\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineListComprehensionGuard(t *testing.T) {
	out, _ := runSource(t, "echo([for (i = [0 : 9]) if (i % 3 == 0) i]);")
	if out != "[0, 3, 6, 9]\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineListComprehensionOverVector(t *testing.T) {
	out, _ := runSource(t, "echo([for (v = [3, 5, 7]) v + 1]);")
	if out != "[4, 6, 8]\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineCStyleComprehension(t *testing.T) {
	out, _ := runSource(t, "echo([for (i = 0; i < 5; i = i + 1) i * 2]);")
	if out != "[0, 2, 4, 6, 8]\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineNestedComprehension(t *testing.T) {
	out, _ := runSource(t, "echo([for (i = [0 : 1], j = [0 : 1]) i * 2 + j]);")
	if out != "[0, 1, 2, 3]\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineForStatement(t *testing.T) {
	out, _ := runSource(t, "for (i = [1 : 3]) echo(i);")
	if out != "1\n2\n3\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineLoopVariableShadowsGlobal(t *testing.T) {
	out, _ := runSource(t, "i = 5; for (i = [0 : 2]) echo(i); echo(i);")
	if out != "0\n1\n2\n5\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineIfModule(t *testing.T) {
	out, _ := runSource(t, "x = 3; if (x > 2) echo(1); else echo(2); if (x > 5) echo(3); else echo(4);")
	if out != "1\n4\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineUserModule(t *testing.T) {
	out, _ := runSource(t, "module m(a, b = 1) { c = a + b; echo(c); } m(4); m(4, 2);")
	if out != "5\n6\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineModuleChildBlockSeesParentLocals(t *testing.T) {
	out, _ := runSource(t, "module wrap() { echo(100); } module m(a) { wrap() { echo(a); } } m(7);")
	if out != "100\n7\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineConfigVariables(t *testing.T) {
	out, _ := runSource(t, "$fn = 12; echo($fn); module m() { echo($fn); } m($fn = 24);")
	if out != "12\n24\n" {
		t.Fatalf("got %q", out)
	}
}

func TestPipelineUseFunctionAcrossFiles(t *testing.T) {
	prog := compileFiles(t, map[string]string{
		"main": "use <lib>\necho(double(21));",
		"lib":  "function double(x) = x * 2;",
	}, "main", nil)
	var out bytes.Buffer
	e := NewEvaluator(prog, &out)
	if _, err := e.Eval(prog.Entry); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if out.String() != "42\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestPipelineIncludeSharesScope(t *testing.T) {
	prog := compileFiles(t, map[string]string{
		"main": "include <defs>\necho(size * 2);",
		"defs": "size = 21;",
	}, "main", nil)
	var out bytes.Buffer
	e := NewEvaluator(prog, &out)
	if _, err := e.Eval(prog.Entry); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if out.String() != "42\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestPipelineHostModule(t *testing.T) {
	calls := 0
	host := map[string]HostFunc{
		"cube": func(heap *Heap, args []Value) Value {
			calls++
			for _, a := range args {
				heap.Drop(a)
			}
			return Geometry(int64(calls))
		},
	}
	prog := compileFiles(t, map[string]string{"main": "cube(1); cube([1, 2, 3]);"}, "main", host)
	var out bytes.Buffer
	e := NewEvaluator(prog, &out)
	if _, err := e.Eval(prog.Entry); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if calls != 2 {
		t.Fatalf("host module called %d times", calls)
	}
}

func TestPipelineDisabledModifier(t *testing.T) {
	out, _ := runSource(t, "*echo(1); #echo(2);")
	if out != "2\n" {
		t.Fatalf("got %q", out)
	}
}

// generateSource runs frontend plus generator, returning the generator
// error for negative tests.
func generateSource(t *testing.T, src string) (*Program, error) {
	t.Helper()
	fe := scad.NewFrontend(
		func(name string, from scad.FileHandle) (scad.FileHandle, error) { return 0, nil },
		func(file scad.FileHandle) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(src)), nil
		})
	unit, err := fe.Parse(0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return Generate(fe.Units(), unit, nil)
}

func TestPipelineLambdaRejected(t *testing.T) {
	_, err := generateSource(t, "x = function (a) a + 1;")
	if err == nil || !strings.Contains(err.Error(), "lambda not supported") {
		t.Fatalf("expected lambda rejection, got %v", err)
	}
}

func TestPipelineUnknownFunctionFatal(t *testing.T) {
	_, err := generateSource(t, "x = mystery(1);")
	if err == nil || !strings.Contains(err.Error(), "unknown function") {
		t.Fatalf("expected unknown function error, got %v", err)
	}
}

func TestPipelineRefcountConservation(t *testing.T) {
	out, e := runSource(t, "echo([for (i = [0 : 9]) [i, i * 2]]);")
	if !strings.HasPrefix(out, "[[0, 0], [1, 2]") {
		t.Fatalf("got %q", out)
	}
	e.ReleaseGlobals()
	if live := e.Heap().Live(); live != 0 {
		t.Fatalf("refcount not conserved: %d live objects", live)
	}
}

func TestPipelineGlobalDumpOrdered(t *testing.T) {
	prog := compileSource(t, "b = 1; a = 2; $fn = 3;")
	var names []string
	prog.Globals.Ascend(func(s GlobalSlot) bool {
		names = append(names, s.Name)
		return true
	})
	// config file handle is the largest, so $fn sorts last
	want := []string{"a", "b", "$fn"}
	if len(names) != 3 {
		t.Fatalf("globals: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order: got %v, want %v", names, want)
		}
	}
}

// compileUnfolded skips the constant folding transform, so the evaluator
// sees the raw expression tree.
func compileUnfolded(t *testing.T, src string) *Program {
	t.Helper()
	fe := scad.NewFrontend(
		func(name string, from scad.FileHandle) (scad.FileHandle, error) { return 0, io.ErrUnexpectedEOF },
		func(file scad.FileHandle) (io.ReadCloser, error) { return nil, io.ErrUnexpectedEOF })
	unit := scad.NewTranslationUnit(0)
	s := scad.NewScanner(fe, unit, io.NopCloser(strings.NewReader(src)))
	scad.NewParser(s, unit).ParseUnit()
	prog, err := Generate([]*scad.TranslationUnit{unit}, unit, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return prog
}

// Folding a pure expression must not change what evaluating it prints,
// NaN propagation included.
func TestConstantFoldingSoundness(t *testing.T) {
	sources := []string{
		"echo(1 + 2 * 3);",
		"echo(1 / 0);",
		"echo(7 % 0);",
		"echo(0 / 0 + 1);",
		"echo(2 ^ 10);",
		"echo(-(3 - 5));",
		"echo(!3);",
		"echo(!0);",
		"echo(0 && 2);",
		"echo(2 && 3);",
		"echo(0 || 0);",
		"echo(1 == 1 ? 10 : 20);",
		"echo(1.5 + 2.25);",
	}
	for _, src := range sources {
		folded := compileSource(t, src)
		unfolded := compileUnfolded(t, src)
		var outFolded, outUnfolded bytes.Buffer
		if _, err := NewEvaluator(folded, &outFolded).Eval(folded.Entry); err != nil {
			t.Fatalf("%q folded: %v", src, err)
		}
		if _, err := NewEvaluator(unfolded, &outUnfolded).Eval(unfolded.Entry); err != nil {
			t.Fatalf("%q unfolded: %v", src, err)
		}
		if outFolded.String() != outUnfolded.String() {
			t.Fatalf("%q: folded %q != unfolded %q", src, outFolded.String(), outUnfolded.String())
		}
	}
}

func TestPipelineGeneratedRoundTrip(t *testing.T) {
	prog := compileSource(t, "function f(a) = a < 10 ? f(a + 1) : a; echo(f(0)); echo([for (i = [0:3]) i]);")
	for _, fn := range prog.Functions {
		if fn.Host != nil {
			continue
		}
		listing := Disassemble(fn.Code)
		back, err := Assemble(listing)
		if err != nil {
			t.Fatalf("assemble %s: %v\n%s", fn.Name, err, listing)
		}
		if !bytes.Equal(fn.Code, back) {
			t.Fatalf("round trip mismatch for %s:\n%s", fn.Name, listing)
		}
	}
}
