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
	"math"
	"strings"
	"testing"
)

func TestImmediateEncoding(t *testing.T) {
	cases := []struct {
		imm  int
		size int
	}{
		{0, 2}, {1, 2}, {127, 2}, {-127, 2},
		{-128, 6}, // -128 collides with the long-form marker
		{128, 6}, {100000, 6}, {-100000, 6},
	}
	for _, c := range cases {
		code := addInstImm(nil, GetI, c.imm)
		if len(code) != c.size {
			t.Fatalf("imm %d: encoded %d bytes, want %d", c.imm, len(code), c.size)
		}
		got, size := immediate(code, 0)
		if got != c.imm || size != c.size {
			t.Fatalf("imm %d: decoded %d (size %d)", c.imm, got, size)
		}
	}
}

func TestImmediateTruncatedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected bytecode invalid panic")
		}
	}()
	immediate([]byte{byte(GetI), longImmMarker, 1, 2}, 0)
}

func TestDisassembleRoundTrip(t *testing.T) {
	var code []byte
	code = addDouble(code, 12.34)
	code = addDouble(code, math.NaN())
	code = addInstImm(code, GetI, 0)
	code = addInstImm(code, AddI, 200)
	code = addInst(code, Dup)
	code = addBinOp(code, BinLe)
	code = addInstImm(code, JumpFalseI, -13)
	code = addUnaryOp(code, BuiltinSqrt)
	code = append(code, byte(GetParentI), 1)
	code = addImm(code, 3)
	code = addInstImm(code, CallI, 1)
	code = addInstImm(code, TailCallI, 260)
	code = append(code, byte(ConstMisc), 2)
	code = addInst(code, MakeRange)
	code = addInst(code, MakeList)
	code = addInst(code, Echo)
	code = addInst(code, Ret)

	listing := Disassemble(code)
	back, err := Assemble(listing)
	if err != nil {
		t.Fatalf("assemble: %v\n%s", err, listing)
	}
	if !bytes.Equal(code, back) {
		t.Fatalf("round trip mismatch:\n%s\nin:  %x\nout: %x", listing, code, back)
	}
}

func TestDisassembleListingShape(t *testing.T) {
	var code []byte
	code = addInstImm(code, GetI, 2)
	code = addBinOp(code, BinAdd)
	listing := Disassemble(code)
	if !strings.Contains(listing, "0000 GetI 2") {
		t.Fatalf("missing GetI line:\n%s", listing)
	}
	if !strings.Contains(listing, "0002 BinaryOp add") {
		t.Fatalf("missing BinaryOp line:\n%s", listing)
	}
}
