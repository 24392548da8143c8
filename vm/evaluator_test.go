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
	"errors"
	"testing"
	"time"
)

func evalProgram(t *testing.T, prog *Program) (Value, *Evaluator) {
	t.Helper()
	var out bytes.Buffer
	e := NewEvaluator(prog, &out)
	v, err := e.Eval(prog.Entry)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	return v, e
}

func singleFunction(code []byte, params int) *Program {
	return &Program{Functions: []FunctionEntry{{Code: code, Parameters: params}}, Entry: 0}
}

// Counting loop over both immediate widths, the original evaluator
// smoke test shape: d = 12.34; do { d += 1; d += 200 } while (d <= 10000).
func TestEvalAddILoop(t *testing.T) {
	var code []byte
	code = addDouble(code, 10000) // local 0: bound
	code = addDouble(code, 12.34) // d, kept in the top register
	loop := len(code)
	code = addInstImm(code, AddI, 1)
	code = addInstImm(code, AddI, 200)
	code = addInst(code, Dup)
	code = addInstImm(code, GetI, 0)
	code = addBinOp(code, BinGt)
	code = addInstImm(code, JumpFalseI, loop-len(code))
	code = addInst(code, Ret)

	v, _ := evalProgram(t, singleFunction(code, 0))
	expected := 12.34
	for {
		expected += 1
		expected += 200
		if expected > 10000 {
			break
		}
	}
	if v.Tag != TagNumber || v.Num() != expected {
		t.Fatalf("got %v, want %v", v.Num(), expected)
	}
}

// Hand-assembled tail recursion: foo(a, b) = a <= 0 ? b : foo(a-1, b+2).
func TestEvalTailCallNoGrowth(t *testing.T) {
	var foo []byte
	foo = addInstImm(foo, GetI, 0)
	foo = addDouble(foo, 0)
	foo = addBinOp(foo, BinLe)
	jumpAt := len(foo)
	foo = addInstImm(foo, JumpFalseI, 0) // patched below
	foo = addInstImm(foo, GetI, 1)
	foo = addInst(foo, Ret)
	elseAt := len(foo)
	foo[jumpAt+1] = byte(int8(elseAt - jumpAt))
	foo = addInstImm(foo, GetI, 0)
	foo = addInstImm(foo, AddI, -1)
	foo = addInstImm(foo, GetI, 1)
	foo = addInstImm(foo, AddI, 2)
	foo = addInstImm(foo, TailCallI, 0)

	var entry []byte
	entry = addDouble(entry, 100000)
	entry = addDouble(entry, 0)
	entry = addInstImm(entry, CallI, 0)
	entry = addInst(entry, Ret)

	prog := &Program{Functions: []FunctionEntry{
		{Code: foo, Parameters: 2, Name: "foo"},
		{Code: entry, Parameters: 0, Name: "entry"},
	}, Entry: 1}
	v, e := evalProgram(t, prog)
	if v.Tag != TagNumber || v.Num() != 200000 {
		t.Fatalf("got %v, want 200000", v.Num())
	}
	if e.MaxStack() > 16 {
		t.Fatalf("tail calls grew the stack: high water %d", e.MaxStack())
	}
}

// At Ret the caller-visible stack grows by exactly one value.
func TestEvalStackDiscipline(t *testing.T) {
	// callee(a): returns a + 1
	var callee []byte
	callee = addInstImm(callee, GetI, 0)
	callee = addInstImm(callee, AddI, 1)
	callee = addInst(callee, Ret)

	// entry: push 7 below, call callee(4), add both
	var entry []byte
	entry = addDouble(entry, 7)
	entry = addDouble(entry, 4)
	entry = addInstImm(entry, CallI, 0)
	entry = addBinOp(entry, BinAdd) // 7 + 5
	entry = addInst(entry, Ret)

	prog := &Program{Functions: []FunctionEntry{
		{Code: callee, Parameters: 1},
		{Code: entry, Parameters: 0},
	}, Entry: 1}
	v, _ := evalProgram(t, prog)
	if v.Num() != 12 {
		t.Fatalf("got %v, want 12", v.Num())
	}
}

func TestEvalMakeRangeAndIter(t *testing.T) {
	// sum = 0; for (v in [1 : 1 : 4]) sum += v; return sum
	var code []byte
	code = addDouble(code, 0) // local 0: sum
	code = addDouble(code, 4) // end
	code = addDouble(code, 1) // start
	code = addDouble(code, 1) // step
	code = addInst(code, MakeRange)
	code = addDouble(code, -1) // index
	iterAt := len(code)
	code = addInstImm(code, Iter, 4) // branch over the exit jump into the body
	exitJumpAt := len(code)
	code = addInstImm(code, JumpI, 0) // patched: exit
	// body: sum += v
	code = addInstImm(code, GetI, 0)
	code = addBinOp(code, BinAdd)
	code = addInstImm(code, SetI, 0)
	backAt := len(code)
	code = addInstImm(code, JumpI, iterAt-backAt)
	exit := len(code)
	code[exitJumpAt+1] = byte(int8(exit - exitJumpAt))
	code = addInstImm(code, GetI, 0)
	code = addInst(code, Ret)

	v, e := evalProgram(t, singleFunction(code, 0))
	if v.Num() != 10 {
		t.Fatalf("range sum: got %v, want 10", v.Num())
	}
	if e.Heap().Live() != 0 {
		t.Fatalf("range leaked: %d live objects", e.Heap().Live())
	}
}

func TestEvalUndefArithmetic(t *testing.T) {
	var code []byte
	code = append(code, byte(ConstMisc), 2)
	code = addDouble(code, 1)
	code = addBinOp(code, BinAdd)
	code = addInst(code, Ret)
	v, _ := evalProgram(t, singleFunction(code, 0))
	if v.Tag != TagUndef {
		t.Fatalf("undef + 1 should be undef, got tag %v", v.Tag)
	}
}

func TestEvalBooleanOps(t *testing.T) {
	var code []byte
	code = append(code, byte(ConstMisc), 1)
	code = append(code, byte(ConstMisc), 0)
	code = addBinOp(code, BinOr)
	code = addInst(code, Ret)
	v, _ := evalProgram(t, singleFunction(code, 0))
	if v.Tag != TagBoolean || !v.Cond() {
		t.Fatalf("true || false: %+v", v)
	}
}

func TestEvalInvalidBytecode(t *testing.T) {
	cases := map[string][]byte{
		"truncated immediate": {byte(GetI)},
		"bad function id":     addInstImm(nil, CallI, 99),
		"jump outside":        addInstImm(nil, JumpI, 100),
		"underflow":           {byte(Pop)},
		"ret without value":   {byte(Ret)},
	}
	for name, code := range cases {
		e := NewEvaluator(singleFunction(code, 0), &bytes.Buffer{})
		_, err := e.Eval(0)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestEvalStopFlag(t *testing.T) {
	// infinite loop: JumpI 0
	code := addInstImm(nil, JumpI, 0)
	e := NewEvaluator(singleFunction(code, 0), &bytes.Buffer{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		e.Stop()
	}()
	_, err := e.Eval(0)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestEvalEchoFormats(t *testing.T) {
	var out bytes.Buffer
	e := NewEvaluator(&Program{Functions: []FunctionEntry{{}}}, &out)
	h := e.Heap()
	if got := h.Format(Number(7)); got != "7" {
		t.Fatalf("7: %q", got)
	}
	if got := h.Format(Number(200000)); got != "200000" {
		t.Fatalf("200000: %q", got)
	}
	if got := h.Format(Value{TagNumber, 0x7ff8000000000001}); got != "nan" {
		t.Fatalf("nan: %q", got)
	}
	if got := h.Format(Undef()); got != "undef" {
		t.Fatalf("undef: %q", got)
	}
	v := h.AllocVector()
	v = h.Append(v, Number(1))
	v = h.Append(v, Bool(true))
	if got := h.Format(v); got != "[1, true]" {
		t.Fatalf("vector: %q", got)
	}
	h.Drop(v)
}
