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
	"strconv"
	"strings"
)

type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
)

type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	Exp
	Lt
	Le
	Gt
	Ge
	Eq
	Neq
	And
	Or
)

var unaryNames = [...]string{"-", "!"}
var binNames = [...]string{"+", "-", "*", "/", "%", "^", "<", "<=", ">", ">=", "==", "!=", "&&", "||"}

func (op UnaryOp) String() string { return unaryNames[op] }
func (op BinOp) String() string   { return binNames[op] }

// Expr is the expression side of the AST. After constant folding the tree
// may alias common subexpressions; expressions are immutable once built.
type Expr interface {
	Loc() Location
	reprExpr(sb *strings.Builder)
}

type NumberExpr struct {
	Value float64
	At    Location
}

type StringExpr struct {
	Value string
	At    Location
}

type BoolExpr struct {
	Value bool
	At    Location
}

type UndefExpr struct {
	At Location
}

type IdentExpr struct {
	Name string
	At   Location
}

// IsConfig reports whether the identifier is a $-prefixed config variable,
// resolved in the shared cross-file slot table.
func (e *IdentExpr) IsConfig() bool { return strings.HasPrefix(e.Name, "$") }

type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
	At      Location
}

type BinaryExpr struct {
	Op       BinOp
	Lhs, Rhs Expr
	At       Location
}

// CallExpr arguments reuse the Assign shape: positional arguments have an
// empty Ident.
type CallExpr struct {
	Fun  Expr
	Args []*Assign
	At   Location
}

type IfExpr struct {
	Cond, Then, Else Expr
	At               Location
}

type ListElem struct {
	Expr  Expr
	Splat bool // each-expanded element
}

type ListExpr struct {
	Elems []ListElem
	At    Location
}

// RangeExpr is [start : end] or [start : step : end]; Step is nil when
// omitted (defaults to 1).
type RangeExpr struct {
	Start, Step, End Expr
	At               Location
}

// ListCompExpr is [for (i = iterable, ...) body] with an optional guard.
type ListCompExpr struct {
	Bindings []*Assign // loop variable = iterable
	Cond     Expr      // may be nil
	Body     Expr
	At       Location
}

// ListCompCExpr is the C-style comprehension [for (init; cond; update) body].
type ListCompCExpr struct {
	Init   []*Assign
	Cond   Expr
	Update []*Assign
	Body   Expr
	At     Location
}

type IndexExpr struct {
	List, Index Expr
	At          Location
}

type LetExpr struct {
	Bindings []*Assign
	Body     Expr
	At       Location
}

// LambdaExpr is recognised by the parser but rejected by the generator.
type LambdaExpr struct {
	Params []*Assign
	Body   Expr
	At     Location
}

func (e *NumberExpr) Loc() Location    { return e.At }
func (e *StringExpr) Loc() Location    { return e.At }
func (e *BoolExpr) Loc() Location      { return e.At }
func (e *UndefExpr) Loc() Location     { return e.At }
func (e *IdentExpr) Loc() Location     { return e.At }
func (e *UnaryExpr) Loc() Location     { return e.At }
func (e *BinaryExpr) Loc() Location    { return e.At }
func (e *CallExpr) Loc() Location      { return e.At }
func (e *IfExpr) Loc() Location        { return e.At }
func (e *ListExpr) Loc() Location      { return e.At }
func (e *RangeExpr) Loc() Location     { return e.At }
func (e *ListCompExpr) Loc() Location  { return e.At }
func (e *ListCompCExpr) Loc() Location { return e.At }
func (e *IndexExpr) Loc() Location     { return e.At }
func (e *LetExpr) Loc() Location       { return e.At }
func (e *LambdaExpr) Loc() Location    { return e.At }

// Assign is both the assignment statement and the parameter/argument shape.
// Expr is nil for parameters without a default value.
type Assign struct {
	Ident string
	Expr  Expr
	At    Location
}

// ModuleBody is the ordered contents of a { } block: assignments plus the
// module-call children (echo and assert included).
type ModuleBody struct {
	Assignments []*Assign
	Children    []ModuleCall
}

// ModuleCall is a statement that instantiates something: a plain call, an
// if/else, or a modifier-wrapped call.
type ModuleCall interface {
	Loc() Location
	reprStmt(sb *strings.Builder)
}

type SingleModuleCall struct {
	Name string
	Args []*Assign
	Body ModuleBody
	At   Location
}

type IfModule struct {
	Cond Expr
	Then ModuleBody
	Else ModuleBody
	At   Location
}

// ModuleModifier wraps a single module call with one of * ! # %.
type ModuleModifier struct {
	Tag   byte
	Inner ModuleCall
	At    Location
}

func (s *SingleModuleCall) Loc() Location { return s.At }
func (s *IfModule) Loc() Location         { return s.At }
func (s *ModuleModifier) Loc() Location   { return s.At }

type ModuleDecl struct {
	Name   string
	Params []*Assign
	Body   ModuleBody
	At     Location
}

type FunctionDecl struct {
	Name   string
	Params []*Assign
	Body   Expr
	At     Location
}

//
// Repr: canonical one-line form used by parser tests and -dump diagnostics.
//

func reprArgs(sb *strings.Builder, args []*Assign) {
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.Ident != "" {
			sb.WriteString(a.Ident)
			sb.WriteString("=")
		}
		if a.Expr != nil {
			a.Expr.reprExpr(sb)
		} else {
			sb.WriteString("undef")
		}
	}
}

func reprBody(sb *strings.Builder, b *ModuleBody) {
	sb.WriteString("{")
	for _, a := range b.Assignments {
		sb.WriteString("Assign(")
		sb.WriteString(a.Ident)
		sb.WriteString(", ")
		if a.Expr != nil {
			a.Expr.reprExpr(sb)
		} else {
			sb.WriteString("undef")
		}
		sb.WriteString(");")
	}
	for _, c := range b.Children {
		c.reprStmt(sb)
		sb.WriteString(";")
	}
	sb.WriteString("}")
}

func (e *NumberExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString(strconv.FormatFloat(e.Value, 'g', -1, 64))
}
func (e *StringExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString(strconv.Quote(e.Value))
}
func (e *BoolExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString(strconv.FormatBool(e.Value))
}
func (e *UndefExpr) reprExpr(sb *strings.Builder) { sb.WriteString("undef") }
func (e *IdentExpr) reprExpr(sb *strings.Builder) { sb.WriteString(e.Name) }
func (e *UnaryExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("(")
	sb.WriteString(e.Op.String())
	e.Operand.reprExpr(sb)
	sb.WriteString(")")
}
func (e *BinaryExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("(")
	e.Lhs.reprExpr(sb)
	sb.WriteString(" ")
	sb.WriteString(e.Op.String())
	sb.WriteString(" ")
	e.Rhs.reprExpr(sb)
	sb.WriteString(")")
}
func (e *CallExpr) reprExpr(sb *strings.Builder) {
	e.Fun.reprExpr(sb)
	sb.WriteString("(")
	reprArgs(sb, e.Args)
	sb.WriteString(")")
}
func (e *IfExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("(")
	e.Cond.reprExpr(sb)
	sb.WriteString(" ? ")
	e.Then.reprExpr(sb)
	sb.WriteString(" : ")
	e.Else.reprExpr(sb)
	sb.WriteString(")")
}
func (e *ListExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("[")
	for i, el := range e.Elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		if el.Splat {
			sb.WriteString("each ")
		}
		el.Expr.reprExpr(sb)
	}
	sb.WriteString("]")
}
func (e *RangeExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("[")
	e.Start.reprExpr(sb)
	sb.WriteString(" : ")
	if e.Step != nil {
		e.Step.reprExpr(sb)
		sb.WriteString(" : ")
	}
	e.End.reprExpr(sb)
	sb.WriteString("]")
}
func (e *ListCompExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("[for (")
	reprArgs(sb, e.Bindings)
	sb.WriteString(") ")
	if e.Cond != nil {
		sb.WriteString("if (")
		e.Cond.reprExpr(sb)
		sb.WriteString(") ")
	}
	e.Body.reprExpr(sb)
	sb.WriteString("]")
}
func (e *ListCompCExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("[for (")
	reprArgs(sb, e.Init)
	sb.WriteString("; ")
	e.Cond.reprExpr(sb)
	sb.WriteString("; ")
	reprArgs(sb, e.Update)
	sb.WriteString(") ")
	e.Body.reprExpr(sb)
	sb.WriteString("]")
}
func (e *IndexExpr) reprExpr(sb *strings.Builder) {
	e.List.reprExpr(sb)
	sb.WriteString("[")
	e.Index.reprExpr(sb)
	sb.WriteString("]")
}
func (e *LetExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("let (")
	reprArgs(sb, e.Bindings)
	sb.WriteString(") ")
	e.Body.reprExpr(sb)
}
func (e *LambdaExpr) reprExpr(sb *strings.Builder) {
	sb.WriteString("function (")
	reprArgs(sb, e.Params)
	sb.WriteString(") ")
	e.Body.reprExpr(sb)
}

func (s *SingleModuleCall) reprStmt(sb *strings.Builder) {
	sb.WriteString("ModuleCall(")
	sb.WriteString(s.Name)
	sb.WriteString(", args=(")
	reprArgs(sb, s.Args)
	sb.WriteString("))")
	if len(s.Body.Assignments) > 0 || len(s.Body.Children) > 0 {
		reprBody(sb, &s.Body)
	}
}
func (s *IfModule) reprStmt(sb *strings.Builder) {
	sb.WriteString("If(cond=")
	s.Cond.reprExpr(sb)
	sb.WriteString(", then=")
	reprBody(sb, &s.Then)
	if len(s.Else.Assignments) > 0 || len(s.Else.Children) > 0 {
		sb.WriteString(", else=")
		reprBody(sb, &s.Else)
	}
	sb.WriteString(")")
}
func (s *ModuleModifier) reprStmt(sb *strings.Builder) {
	sb.WriteByte(s.Tag)
	s.Inner.reprStmt(sb)
}

// Repr renders an expression to its canonical single-line form.
func Repr(e Expr) string {
	var sb strings.Builder
	e.reprExpr(&sb)
	return sb.String()
}

// ReprStmt renders a module call statement.
func ReprStmt(s ModuleCall) string {
	var sb strings.Builder
	s.reprStmt(&sb)
	return sb.String()
}
