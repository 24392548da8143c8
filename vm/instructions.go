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
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Opcode is one byte, followed by optional operands. An immediate operand
// is one signed byte, or the marker 0x80 followed by 4 bytes little-endian
// signed 32-bit; the common small case costs 2 bytes total.
type Opcode byte

const (
	// push a copy of local slot sp+k
	GetI Opcode = iota
	// pop the top of the stack into local slot sp+k
	SetI
	// add the immediate to the top of the stack (must be a Number)
	AddI
	// pc += immediate
	JumpI
	// pop the top; jump when it is false, fall through otherwise
	JumpFalseI
	// advance the iteration <iterable, index>; see the evaluator
	Iter
	// drop the top of the stack
	Pop
	// duplicate the top of the stack
	Dup
	// replace the top with builtin(op, top); next byte is the builtin
	BuiltinUnaryOp
	// top-1 = top-1 OP top, pop top; next byte is the operator
	BinaryOp
	// push a Number; next 8 bytes are the float64 bit pattern
	ConstNum
	// push false/true/undef for operand byte 0/1/2
	ConstMisc
	// push a copy of global slot k
	GetGlobalI
	// pop the top of the stack into global slot k
	SetGlobalI
	// push a copy of slot `imm` of the frame `depth` levels up;
	// operands are one depth byte followed by an immediate
	GetParentI
	// call function f, arguments already on the stack
	CallI
	// like CallI but reuses the current frame
	TailCallI
	// return the top of the stack to the caller, dropping the frame
	Ret
	// pop step, start, end (reverse push order) and push a Range
	MakeRange
	// push an empty Vector
	MakeList
	// print the top of the stack, leaving it in place
	Echo
)

// BinOpCode is the BinaryOp operand byte. The first 14 entries match the
// AST operator order; APPEND, CONCAT and INDEX exist only in bytecode.
type BinOpCode byte

const (
	BinAdd BinOpCode = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinExp
	BinLt
	BinLe
	BinGt
	BinGe
	BinEq
	BinNeq
	BinAnd
	BinOr
	BinAppend
	BinConcat
	BinIndex
)

// Builtin is the BuiltinUnaryOp operand byte: the negation/not pair the
// generator lowers unary operators to, the 15 named builtins, and the
// internal range/vector accessors.
type Builtin byte

const (
	BuiltinNeg Builtin = iota
	BuiltinNot
	BuiltinSin
	BuiltinCos
	BuiltinTan
	BuiltinAsin
	BuiltinAcos
	BuiltinAtan
	BuiltinAbs
	BuiltinCeil
	BuiltinFloor
	BuiltinLn
	BuiltinLog
	BuiltinNorm
	BuiltinRound
	BuiltinSign
	BuiltinSqrt
	BuiltinLen
	BuiltinRBegin
	BuiltinRStep
	BuiltinREnd
)

// Builtins maps the source-callable unary builtin names.
var Builtins = map[string]Builtin{
	"sin": BuiltinSin, "cos": BuiltinCos, "tan": BuiltinTan,
	"asin": BuiltinAsin, "acos": BuiltinAcos, "atan": BuiltinAtan,
	"abs": BuiltinAbs, "ceil": BuiltinCeil, "floor": BuiltinFloor,
	"ln": BuiltinLn, "log": BuiltinLog, "norm": BuiltinNorm,
	"round": BuiltinRound, "sign": BuiltinSign, "sqrt": BuiltinSqrt,
}

const longImmMarker = 0x80

var opcodeNames = [...]string{
	"GetI", "SetI", "AddI", "JumpI", "JumpFalseI", "Iter", "Pop", "Dup",
	"BuiltinUnaryOp", "BinaryOp", "ConstNum", "ConstMisc", "GetGlobalI",
	"SetGlobalI", "GetParentI", "CallI", "TailCallI", "Ret", "MakeRange",
	"MakeList", "Echo",
}

var binOpNames = [...]string{
	"add", "sub", "mul", "div", "mod", "exp", "lt", "le", "gt", "ge",
	"eq", "neq", "and", "or", "append", "concat", "index",
}

var builtinNames = [...]string{
	"neg", "not", "sin", "cos", "tan", "asin", "acos", "atan", "abs",
	"ceil", "floor", "ln", "log", "norm", "round", "sign", "sqrt",
	"len", "rbegin", "rstep", "rend",
}

//
// Encoder. The helpers append to a byte vector; basic blocks and function
// bodies are just such vectors.
//

func addImm(code []byte, imm int) []byte {
	if imm > -128 && imm <= 127 {
		return append(code, byte(int8(imm)))
	}
	code = append(code, longImmMarker)
	return binary.LittleEndian.AppendUint32(code, uint32(int32(imm)))
}

func addInst(code []byte, op Opcode) []byte {
	return append(code, byte(op))
}

func addInstImm(code []byte, op Opcode, imm int) []byte {
	return addImm(append(code, byte(op)), imm)
}

func addDouble(code []byte, value float64) []byte {
	code = append(code, byte(ConstNum))
	// raw bit pattern, so NaN payloads survive round trips
	return binary.LittleEndian.AppendUint64(code, math.Float64bits(value))
}

func addBinOp(code []byte, op BinOpCode) []byte {
	return append(code, byte(BinaryOp), byte(op))
}

func addUnaryOp(code []byte, op Builtin) []byte {
	return append(code, byte(BuiltinUnaryOp), byte(op))
}

// immediate decodes the operand at pc+1. The returned size covers opcode
// plus operand (2 or 6 bytes).
func immediate(code []byte, pc int) (int, int) {
	if pc+1 >= len(code) {
		panic(errInvalid)
	}
	if code[pc+1] != longImmMarker {
		return int(int8(code[pc+1])), 2
	}
	if pc+5 >= len(code) {
		panic(errInvalid)
	}
	return int(int32(binary.LittleEndian.Uint32(code[pc+2:]))), 6
}

//
// Disassembler / assembler. The listing is line oriented:
//   0004 JumpFalseI 12
//   0006 ConstNum 0x3ff0000000000000 ; 1
// ConstNum prints the bit pattern so reassembly is bit exact.
//

func Disassemble(code []byte) string {
	var sb strings.Builder
	pc := 0
	for pc < len(code) {
		op := Opcode(code[pc])
		if int(op) >= len(opcodeNames) {
			fmt.Fprintf(&sb, "%04d invalid 0x%02x\n", pc, code[pc])
			pc++
			continue
		}
		fmt.Fprintf(&sb, "%04d %s", pc, opcodeNames[op])
		switch op {
		case GetI, SetI, AddI, JumpI, JumpFalseI, Iter, GetGlobalI, SetGlobalI, CallI, TailCallI:
			imm, size := immediate(code, pc)
			fmt.Fprintf(&sb, " %d", imm)
			pc += size
		case GetParentI:
			if pc+1 >= len(code) {
				panic(errInvalid)
			}
			depth := int(code[pc+1])
			imm, size := immediate(code, pc+1)
			fmt.Fprintf(&sb, " %d %d", depth, imm)
			pc += 1 + size
		case BuiltinUnaryOp:
			if pc+1 >= len(code) {
				panic(errInvalid)
			}
			fmt.Fprintf(&sb, " %s", builtinNames[code[pc+1]])
			pc += 2
		case BinaryOp:
			if pc+1 >= len(code) {
				panic(errInvalid)
			}
			fmt.Fprintf(&sb, " %s", binOpNames[code[pc+1]])
			pc += 2
		case ConstNum:
			if pc+8 >= len(code) {
				panic(errInvalid)
			}
			bits := binary.LittleEndian.Uint64(code[pc+1:])
			fmt.Fprintf(&sb, " 0x%016x ; %g", bits, math.Float64frombits(bits))
			pc += 9
		case ConstMisc:
			if pc+1 >= len(code) {
				panic(errInvalid)
			}
			fmt.Fprintf(&sb, " %d", code[pc+1])
			pc += 2
		default:
			pc++
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Assemble parses a Disassemble listing back into bytecode. Immediates are
// re-encoded in their shortest form and every line's offset must match the
// position reached so far, so bytecode with minimally encoded immediates
// (as the encoder helpers and the generator emit) comes back byte
// identical.
func Assemble(listing string) ([]byte, error) {
	var code []byte
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		offset, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("bad offset in %q", line)
		}
		if offset != len(code) {
			return nil, fmt.Errorf("offset %d does not match position %d", offset, len(code))
		}
		op := -1
		for i, name := range opcodeNames {
			if name == fields[1] {
				op = i
				break
			}
		}
		if op < 0 {
			return nil, fmt.Errorf("unknown opcode %q", fields[1])
		}
		switch Opcode(op) {
		case GetI, SetI, AddI, JumpI, JumpFalseI, Iter, GetGlobalI, SetGlobalI, CallI, TailCallI:
			imm, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("bad immediate in %q", line)
			}
			code = addInstImm(code, Opcode(op), imm)
		case GetParentI:
			depth, err1 := strconv.Atoi(fields[2])
			imm, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("bad operands in %q", line)
			}
			code = append(code, byte(GetParentI), byte(depth))
			code = addImm(code, imm)
		case BuiltinUnaryOp:
			b := -1
			for i, name := range builtinNames {
				if name == fields[2] {
					b = i
					break
				}
			}
			if b < 0 {
				return nil, fmt.Errorf("unknown builtin %q", fields[2])
			}
			code = addUnaryOp(code, Builtin(b))
		case BinaryOp:
			b := -1
			for i, name := range binOpNames {
				if name == fields[2] {
					b = i
					break
				}
			}
			if b < 0 {
				return nil, fmt.Errorf("unknown operator %q", fields[2])
			}
			code = addBinOp(code, BinOpCode(b))
		case ConstNum:
			bits, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("bad bit pattern in %q", line)
			}
			code = append(code, byte(ConstNum))
			code = binary.LittleEndian.AppendUint64(code, bits)
		case ConstMisc:
			v, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("bad operand in %q", line)
			}
			code = append(code, byte(ConstMisc), byte(v))
		default:
			code = append(code, byte(op))
		}
	}
	return code, nil
}
