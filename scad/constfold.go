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

import "math"

// ConstFolder rewrites expressions bottom up, folding literal arithmetic
// and conditionals, normalising duplicate assignments and inlining
// identifiers bound to literals. Side-effecting nodes (module calls, echo)
// are never folded away.
type ConstFolder struct {
	unit *TranslationUnit
	// one lookup per scope; the expression is non-nil only when the
	// binding is a constant literal, so inlining cannot explode code size
	scopes []map[string]Expr
}

// Transform runs constant folding over a parsed translation unit in place.
// Warnings accumulate on the unit.
func Transform(unit *TranslationUnit) {
	c := &ConstFolder{unit: unit}
	unit.Assignments = c.fixAssignments(unit.Assignments)
	for _, m := range unit.Modules {
		c.pushParams(m.Params)
		c.transformBody(&m.Body)
		c.pop()
	}
	for _, fn := range unit.Functions {
		c.pushParams(fn.Params)
		fn.Body = c.Map(fn.Body)
		c.pop()
	}
	for _, call := range unit.ModuleCalls {
		c.transformCall(call)
	}
	c.pop()
}

func (c *ConstFolder) push() { c.scopes = append(c.scopes, map[string]Expr{}) }
func (c *ConstFolder) pop()  { c.scopes = c.scopes[:len(c.scopes)-1] }

// pushParams opens a scope containing the parameters. Parameter defaults
// are folded but parameters never inline (their value is bound at the call
// site).
func (c *ConstFolder) pushParams(params []*Assign) {
	c.push()
	scope := c.scopes[len(c.scopes)-1]
	for _, p := range params {
		if p.Expr != nil {
			p.Expr = c.Map(p.Expr)
		}
		scope[p.Ident] = nil
	}
}

// transformBody opens its own scope (via fixAssignments) and closes it.
func (c *ConstFolder) transformBody(b *ModuleBody) {
	b.Assignments = c.fixAssignments(b.Assignments)
	for _, child := range b.Children {
		c.transformCall(child)
	}
	c.pop()
}

func (c *ConstFolder) transformCall(call ModuleCall) {
	switch v := call.(type) {
	case *SingleModuleCall:
		for _, a := range v.Args {
			if a.Expr != nil {
				a.Expr = c.Map(a.Expr)
			}
		}
		switch v.Name {
		case "for", "intersection_for", "let":
			// the loop/let variables shadow outer constants in the body
			c.push()
			scope := c.scopes[len(c.scopes)-1]
			for _, a := range v.Args {
				if a.Ident != "" {
					scope[a.Ident] = nil
				}
			}
			c.transformBody(&v.Body)
			c.pop()
		default:
			c.transformBody(&v.Body)
		}
	case *IfModule:
		v.Cond = c.Map(v.Cond)
		c.transformBody(&v.Then)
		c.transformBody(&v.Else)
	case *ModuleModifier:
		c.transformCall(v.Inner)
	}
}

// fixAssignments removes duplicate assignments within one scope: the later
// expression is kept at the earlier source position, with a warning naming
// both locations. It then opens a scope and folds every assignment,
// recording constant literals for inlining. Subsequent references resolve
// to the kept (later) expression. The deduplicated slice is returned and
// the opened scope stays on the stack for the caller to pop.
func (c *ConstFolder) fixAssignments(assignments []*Assign) []*Assign {
	indices := make(map[string]int)
	out := assignments[:0]
	for _, assign := range assignments {
		if prev, ok := indices[assign.Ident]; ok {
			prevLoc := out[prev].At
			c.unit.Warnings = append(c.unit.Warnings, Warning{
				Loc: assign.At, Prev: &prevLoc,
				Message: "duplicated variable declaration of '" + assign.Ident + "'",
			})
			out[prev].Expr = assign.Expr // keep earlier position
			continue
		}
		indices[assign.Ident] = len(out)
		out = append(out, assign)
	}
	c.push()
	scope := c.scopes[len(c.scopes)-1]
	for _, assign := range out {
		if assign.Expr != nil {
			assign.Expr = c.Map(assign.Expr)
		}
		if assign.Ident != "" && assign.Ident[0] != '$' && isConstValue(assign.Expr) {
			scope[assign.Ident] = assign.Expr
		} else {
			scope[assign.Ident] = nil
		}
	}
	return out
}

func isConstValue(e Expr) bool {
	switch e.(type) {
	case *NumberExpr, *StringExpr, *BoolExpr, *UndefExpr:
		return true
	}
	return false
}

// Map folds one expression bottom up and returns the rewrite.
func (c *ConstFolder) Map(e Expr) Expr {
	switch v := e.(type) {
	case *IdentExpr:
		if v.IsConfig() {
			return v
		}
		for i := len(c.scopes) - 1; i >= 0; i-- {
			if bound, ok := c.scopes[i][v.Name]; ok {
				if bound != nil {
					return bound
				}
				return v
			}
		}
		return v
	case *UnaryExpr:
		operand := c.Map(v.Operand)
		if n, ok := operand.(*NumberExpr); ok {
			if v.Op == Neg {
				return &NumberExpr{Value: -n.Value, At: v.At}
			}
			// NOT x = 1 if x == 0 else 0
			r := 0.0
			if n.Value == 0 {
				r = 1.0
			}
			return &NumberExpr{Value: r, At: v.At}
		}
		return &UnaryExpr{Op: v.Op, Operand: operand, At: v.At}
	case *BinaryExpr:
		lhs := c.Map(v.Lhs)
		rhs := c.Map(v.Rhs)
		ln, lok := lhs.(*NumberExpr)
		rn, rok := rhs.(*NumberExpr)
		if lok && rok {
			return &NumberExpr{Value: foldBinary(v.Op, ln.Value, rn.Value), At: v.At}
		}
		return &BinaryExpr{Op: v.Op, Lhs: lhs, Rhs: rhs, At: v.At}
	case *IfExpr:
		cond := c.Map(v.Cond)
		switch n := cond.(type) {
		case *NumberExpr:
			if n.Value != 0 {
				return c.Map(v.Then)
			}
			return c.Map(v.Else)
		case *BoolExpr:
			if n.Value {
				return c.Map(v.Then)
			}
			return c.Map(v.Else)
		}
		return &IfExpr{Cond: cond, Then: c.Map(v.Then), Else: c.Map(v.Else), At: v.At}
	case *LetExpr:
		c.push()
		scope := c.scopes[len(c.scopes)-1]
		bindings := make([]*Assign, len(v.Bindings))
		for i, b := range v.Bindings {
			nb := *b
			if b.Expr != nil {
				nb.Expr = c.Map(b.Expr)
			}
			if isConstValue(nb.Expr) {
				scope[nb.Ident] = nb.Expr
			} else {
				scope[nb.Ident] = nil
			}
			bindings[i] = &nb
		}
		body := c.Map(v.Body)
		c.pop()
		return &LetExpr{Bindings: bindings, Body: body, At: v.At}
	case *ListCompExpr:
		c.push()
		scope := c.scopes[len(c.scopes)-1]
		bindings := make([]*Assign, len(v.Bindings))
		for i, b := range v.Bindings {
			nb := *b
			nb.Expr = c.Map(b.Expr)
			scope[nb.Ident] = nil // loop variables are never constant
			bindings[i] = &nb
		}
		comp := &ListCompExpr{Bindings: bindings, Body: c.Map(v.Body), At: v.At}
		if v.Cond != nil {
			comp.Cond = c.Map(v.Cond)
		}
		c.pop()
		return comp
	case *ListCompCExpr:
		c.push()
		scope := c.scopes[len(c.scopes)-1]
		init := make([]*Assign, len(v.Init))
		for i, b := range v.Init {
			nb := *b
			nb.Expr = c.Map(b.Expr)
			scope[nb.Ident] = nil
			init[i] = &nb
		}
		comp := &ListCompCExpr{Init: init, Cond: c.Map(v.Cond), Body: c.Map(v.Body), At: v.At}
		comp.Update = make([]*Assign, len(v.Update))
		for i, b := range v.Update {
			nb := *b
			nb.Expr = c.Map(b.Expr)
			comp.Update[i] = &nb
		}
		c.pop()
		return comp
	case *LambdaExpr:
		c.push()
		scope := c.scopes[len(c.scopes)-1]
		params := make([]*Assign, len(v.Params))
		for i, b := range v.Params {
			nb := *b
			if b.Expr != nil {
				nb.Expr = c.Map(b.Expr)
			}
			scope[nb.Ident] = nil
			params[i] = &nb
		}
		body := c.Map(v.Body)
		c.pop()
		return &LambdaExpr{Params: params, Body: body, At: v.At}
	default:
		return MapChildren(e, c.Map)
	}
}

// foldBinary folds all 14 operators on two number literals. DIV and MOD
// with a zero divisor yield NaN, not an error; AND/OR treat 0 as false and
// return 0/1.
func foldBinary(op BinOp, lhs, rhs float64) float64 {
	switch op {
	case Add:
		return lhs + rhs
	case Sub:
		return lhs - rhs
	case Mul:
		return lhs * rhs
	case Div:
		if math.Abs(rhs) == 0.0 {
			return math.NaN()
		}
		return lhs / rhs
	case Mod:
		if math.Abs(rhs) == 0.0 {
			return math.NaN()
		}
		return math.Mod(lhs, rhs)
	case Exp:
		return math.Pow(lhs, rhs)
	case Lt:
		return b2f(lhs < rhs)
	case Le:
		return b2f(lhs <= rhs)
	case Gt:
		return b2f(lhs > rhs)
	case Ge:
		return b2f(lhs >= rhs)
	case Eq:
		return b2f(lhs == rhs)
	case Neq:
		return b2f(lhs != rhs)
	case And:
		return b2f(lhs != 0 && rhs != 0)
	case Or:
		return b2f(lhs != 0 || rhs != 0)
	}
	return math.NaN()
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
