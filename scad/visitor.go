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

// The AST is a tagged sum with external traversal: passes type-switch on
// the variants they care about and use these helpers for the rest.

// WalkExpr calls f on e; when f returns true it recurses into the child
// expressions.
func WalkExpr(e Expr, f func(Expr) bool) {
	if e == nil || !f(e) {
		return
	}
	switch v := e.(type) {
	case *UnaryExpr:
		WalkExpr(v.Operand, f)
	case *BinaryExpr:
		WalkExpr(v.Lhs, f)
		WalkExpr(v.Rhs, f)
	case *CallExpr:
		WalkExpr(v.Fun, f)
		for _, a := range v.Args {
			WalkExpr(a.Expr, f)
		}
	case *IfExpr:
		WalkExpr(v.Cond, f)
		WalkExpr(v.Then, f)
		WalkExpr(v.Else, f)
	case *ListExpr:
		for _, el := range v.Elems {
			WalkExpr(el.Expr, f)
		}
	case *RangeExpr:
		WalkExpr(v.Start, f)
		WalkExpr(v.Step, f)
		WalkExpr(v.End, f)
	case *ListCompExpr:
		for _, b := range v.Bindings {
			WalkExpr(b.Expr, f)
		}
		WalkExpr(v.Cond, f)
		WalkExpr(v.Body, f)
	case *ListCompCExpr:
		for _, b := range v.Init {
			WalkExpr(b.Expr, f)
		}
		WalkExpr(v.Cond, f)
		for _, b := range v.Update {
			WalkExpr(b.Expr, f)
		}
		WalkExpr(v.Body, f)
	case *IndexExpr:
		WalkExpr(v.List, f)
		WalkExpr(v.Index, f)
	case *LetExpr:
		for _, b := range v.Bindings {
			WalkExpr(b.Expr, f)
		}
		WalkExpr(v.Body, f)
	case *LambdaExpr:
		for _, b := range v.Params {
			WalkExpr(b.Expr, f)
		}
		WalkExpr(v.Body, f)
	}
}

func mapAssigns(assigns []*Assign, f func(Expr) Expr) []*Assign {
	result := make([]*Assign, len(assigns))
	for i, a := range assigns {
		na := *a
		if a.Expr != nil {
			na.Expr = f(a.Expr)
		}
		result[i] = &na
	}
	return result
}

// MapChildren returns e with every direct child expression rewritten by f.
// Leaves are returned unchanged (not copied), so a folded tree may alias
// shared subexpressions.
func MapChildren(e Expr, f func(Expr) Expr) Expr {
	switch v := e.(type) {
	case *UnaryExpr:
		return &UnaryExpr{Op: v.Op, Operand: f(v.Operand), At: v.At}
	case *BinaryExpr:
		return &BinaryExpr{Op: v.Op, Lhs: f(v.Lhs), Rhs: f(v.Rhs), At: v.At}
	case *CallExpr:
		return &CallExpr{Fun: f(v.Fun), Args: mapAssigns(v.Args, f), At: v.At}
	case *IfExpr:
		return &IfExpr{Cond: f(v.Cond), Then: f(v.Then), Else: f(v.Else), At: v.At}
	case *ListExpr:
		elems := make([]ListElem, len(v.Elems))
		for i, el := range v.Elems {
			elems[i] = ListElem{f(el.Expr), el.Splat}
		}
		return &ListExpr{Elems: elems, At: v.At}
	case *RangeExpr:
		r := &RangeExpr{Start: f(v.Start), End: f(v.End), At: v.At}
		if v.Step != nil {
			r.Step = f(v.Step)
		}
		return r
	case *ListCompExpr:
		c := &ListCompExpr{Bindings: mapAssigns(v.Bindings, f), Body: f(v.Body), At: v.At}
		if v.Cond != nil {
			c.Cond = f(v.Cond)
		}
		return c
	case *ListCompCExpr:
		return &ListCompCExpr{Init: mapAssigns(v.Init, f), Cond: f(v.Cond),
			Update: mapAssigns(v.Update, f), Body: f(v.Body), At: v.At}
	case *IndexExpr:
		return &IndexExpr{List: f(v.List), Index: f(v.Index), At: v.At}
	case *LetExpr:
		return &LetExpr{Bindings: mapAssigns(v.Bindings, f), Body: f(v.Body), At: v.At}
	case *LambdaExpr:
		return &LambdaExpr{Params: mapAssigns(v.Params, f), Body: f(v.Body), At: v.At}
	}
	return e
}

// WalkBody visits every expression inside a module body.
func WalkBody(b *ModuleBody, f func(Expr) bool) {
	for _, a := range b.Assignments {
		WalkExpr(a.Expr, f)
	}
	for _, c := range b.Children {
		WalkCall(c, f)
	}
}

// WalkCall visits every expression inside a module call statement.
func WalkCall(c ModuleCall, f func(Expr) bool) {
	switch v := c.(type) {
	case *SingleModuleCall:
		for _, a := range v.Args {
			WalkExpr(a.Expr, f)
		}
		WalkBody(&v.Body, f)
	case *IfModule:
		WalkExpr(v.Cond, f)
		WalkBody(&v.Then, f)
		WalkBody(&v.Else, f)
	case *ModuleModifier:
		WalkCall(v.Inner, f)
	}
}
