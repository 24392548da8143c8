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

// Parser is a recursive-descent parser over the scanner's token stream.
// It writes top-level items directly into the active translation unit.
// One syntax error aborts the file; there is no panic-mode recovery.
type Parser struct {
	s    *Scanner
	unit *TranslationUnit
	tok  Token
}

func NewParser(s *Scanner, unit *TranslationUnit) *Parser {
	p := &Parser{s: s, unit: unit}
	p.next()
	return p
}

func (p *Parser) next() { p.tok = p.s.Next() }

func (p *Parser) fail(reason string) {
	panic(&SyntaxError{p.tok.Loc, reason})
}

func (p *Parser) expect(kind TokenKind) Token {
	if p.tok.Kind != kind {
		p.fail("expected " + kind.String() + ", found " + p.tok.Kind.String())
	}
	t := p.tok
	p.next()
	return t
}

func (p *Parser) accept(kind TokenKind) bool {
	if p.tok.Kind == kind {
		p.next()
		return true
	}
	return false
}

// ParseUnit consumes the whole token stream into the translation unit.
func (p *Parser) ParseUnit() {
	for p.tok.Kind != TokEOF {
		p.parseTopLevel()
	}
}

func (p *Parser) parseTopLevel() {
	switch p.tok.Kind {
	case TokModule:
		p.unit.Modules = append(p.unit.Modules, p.parseModuleDecl())
	case TokFunction:
		p.unit.Functions = append(p.unit.Functions, p.parseFunctionDecl())
	case TokIdent:
		// assignment or module call
		if assign, call := p.parseIdentStatement(); assign != nil {
			p.unit.Assignments = append(p.unit.Assignments, assign)
		} else {
			p.unit.ModuleCalls = append(p.unit.ModuleCalls, call)
		}
	case TokSemicolon:
		p.next()
	default:
		p.unit.ModuleCalls = append(p.unit.ModuleCalls, p.parseModuleCall())
	}
}

func (p *Parser) parseModuleDecl() *ModuleDecl {
	at := p.tok.Loc
	p.expect(TokModule)
	name := p.expect(TokIdent)
	params := p.parseParamList()
	body := p.parseBlockOrSingle()
	return &ModuleDecl{Name: name.Str, Params: params, Body: body, At: at}
}

func (p *Parser) parseFunctionDecl() *FunctionDecl {
	at := p.tok.Loc
	p.expect(TokFunction)
	name := p.expect(TokIdent)
	params := p.parseParamList()
	p.expect(TokAssign)
	body := p.parseExpr()
	p.expect(TokSemicolon)
	return &FunctionDecl{Name: name.Str, Params: params, Body: body, At: at}
}

// parseParamList parses (a, b = expr, ...); parameters without a default
// have a nil expression.
func (p *Parser) parseParamList() []*Assign {
	p.expect(TokLParen)
	var params []*Assign
	for p.tok.Kind != TokRParen {
		name := p.expect(TokIdent)
		param := &Assign{Ident: name.Str, At: name.Loc}
		if p.accept(TokAssign) {
			param.Expr = p.parseExpr()
		}
		params = append(params, param)
		if !p.accept(TokComma) {
			break
		}
	}
	p.expect(TokRParen)
	return params
}

// parseIdentStatement disambiguates `name = expr;` from `name(...)`.
func (p *Parser) parseIdentStatement() (*Assign, ModuleCall) {
	name := p.tok
	p.next()
	if p.accept(TokAssign) {
		expr := p.parseExpr()
		p.expect(TokSemicolon)
		return &Assign{Ident: name.Str, Expr: expr, At: name.Loc}, nil
	}
	if p.tok.Kind != TokLParen {
		p.fail("expected '=' or '(' after identifier")
	}
	return nil, p.parseModuleCallNamed(name)
}

// parseModuleCall parses one module call statement including modifiers,
// if/else, for and let forms.
func (p *Parser) parseModuleCall() ModuleCall {
	switch p.tok.Kind {
	case TokStar, TokNot, TokHash, TokPercent:
		at := p.tok.Loc
		var tag byte
		switch p.tok.Kind {
		case TokStar:
			tag = '*'
		case TokNot:
			tag = '!'
		case TokHash:
			tag = '#'
		case TokPercent:
			tag = '%'
		}
		p.next()
		return &ModuleModifier{Tag: tag, Inner: p.parseModuleCall(), At: at}
	case TokIf:
		return p.parseIfModule()
	case TokFor, TokIntersectionFor, TokLet:
		at := p.tok.Loc
		name := "for"
		if p.tok.Kind == TokIntersectionFor {
			name = "intersection_for"
		} else if p.tok.Kind == TokLet {
			name = "let"
		}
		p.next()
		args := p.parseArgList()
		body := p.parseBlockOrSingle()
		return &SingleModuleCall{Name: name, Args: args, Body: body, At: at}
	case TokIdent:
		name := p.tok
		p.next()
		return p.parseModuleCallNamed(name)
	case TokLBrace:
		// a bare block groups its children
		at := p.tok.Loc
		return &SingleModuleCall{Name: "group", Body: p.parseBlockOrSingle(), At: at}
	}
	p.fail("expected statement, found " + p.tok.Kind.String())
	return nil
}

func (p *Parser) parseModuleCallNamed(name Token) ModuleCall {
	args := p.parseArgList()
	call := &SingleModuleCall{Name: name.Str, Args: args, At: name.Loc}
	if p.accept(TokSemicolon) {
		return call
	}
	call.Body = p.parseBlockOrSingle()
	return call
}

// parseIfModule: `if (cond) stmt [else stmt]` at statement position.
func (p *Parser) parseIfModule() ModuleCall {
	at := p.tok.Loc
	p.expect(TokIf)
	p.expect(TokLParen)
	cond := p.parseExpr()
	p.expect(TokRParen)
	then := p.parseBlockOrSingle()
	var els ModuleBody
	if p.accept(TokElse) {
		els = p.parseBlockOrSingle()
	}
	return &IfModule{Cond: cond, Then: then, Else: els, At: at}
}

// parseBlockOrSingle parses either a { ... } block or a single statement
// into a module body.
func (p *Parser) parseBlockOrSingle() ModuleBody {
	var body ModuleBody
	if p.accept(TokSemicolon) {
		return body // empty child, e.g. module decl `module foo();`
	}
	if p.accept(TokLBrace) {
		for !p.accept(TokRBrace) {
			p.parseBodyItem(&body)
		}
		return body
	}
	p.parseBodyItem(&body)
	return body
}

func (p *Parser) parseBodyItem(body *ModuleBody) {
	switch p.tok.Kind {
	case TokSemicolon:
		p.next()
	case TokIdent:
		if assign, call := p.parseIdentStatement(); assign != nil {
			body.Assignments = append(body.Assignments, assign)
		} else {
			body.Children = append(body.Children, call)
		}
	case TokModule, TokFunction:
		p.fail("module and function declarations must be at file scope")
	default:
		body.Children = append(body.Children, p.parseModuleCall())
	}
}

// parseArgList parses a call argument list. Named arguments have a
// non-empty identifier, positional arguments an empty one.
func (p *Parser) parseArgList() []*Assign {
	p.expect(TokLParen)
	var args []*Assign
	for p.tok.Kind != TokRParen {
		arg := p.parseArg()
		args = append(args, arg)
		if !p.accept(TokComma) {
			break
		}
	}
	p.expect(TokRParen)
	return args
}

func (p *Parser) parseArg() *Assign {
	if p.tok.Kind == TokIdent {
		name := p.tok
		p.next()
		if p.accept(TokAssign) {
			return &Assign{Ident: name.Str, Expr: p.parseExpr(), At: name.Loc}
		}
		// not named: re-enter expression parsing with the identifier
		expr := p.parseExprFrom(&IdentExpr{Name: name.Str, At: name.Loc})
		return &Assign{Expr: expr, At: name.Loc}
	}
	at := p.tok.Loc
	return &Assign{Expr: p.parseExpr(), At: at}
}

//
// Expression grammar. Precedence low to high:
//   ?:  ||  &&  == !=  < <= > >=  + -  * / %  ^(right)  unary - ! +  postfix [] ()
//

func (p *Parser) parseExpr() Expr {
	return p.parseTernaryFrom(p.parseBinary(0))
}

// parseExprFrom continues expression parsing when the leading primary was
// already consumed (argument-list disambiguation).
func (p *Parser) parseExprFrom(e Expr) Expr {
	e = p.parsePostfix(e)
	if p.accept(TokCaret) {
		e = &BinaryExpr{Op: Exp, Lhs: e, Rhs: p.parseExponent(), At: e.Loc()}
	}
	return p.parseTernaryFrom(p.parseBinaryFrom(e, 0))
}

func (p *Parser) parseTernaryFrom(cond Expr) Expr {
	if !p.accept(TokQuestion) {
		return cond
	}
	then := p.parseExpr()
	p.expect(TokColon)
	els := p.parseExpr()
	return &IfExpr{Cond: cond, Then: then, Else: els, At: cond.Loc()}
}

var binaryLevels = [][]struct {
	kind TokenKind
	op   BinOp
}{
	{{TokOr, Or}},
	{{TokAnd, And}},
	{{TokEqual, Eq}, {TokNotEqual, Neq}},
	{{TokLess, Lt}, {TokLessEq, Le}, {TokGreater, Gt}, {TokGreaterEq, Ge}},
	{{TokPlus, Add}, {TokMinus, Sub}},
	{{TokStar, Mul}, {TokSlash, Div}, {TokPercent, Mod}},
}

func (p *Parser) parseBinary(level int) Expr {
	if level >= len(binaryLevels) {
		return p.parseExponent()
	}
	lhs := p.parseBinary(level + 1)
	return p.parseBinaryFrom(lhs, level)
}

func (p *Parser) parseBinaryFrom(lhs Expr, level int) Expr {
	for l := len(binaryLevels) - 1; l >= level; l-- {
		lhs = p.parseBinaryLevel(lhs, l)
	}
	return lhs
}

func (p *Parser) parseBinaryLevel(lhs Expr, level int) Expr {
	for {
		matched := false
		for _, cand := range binaryLevels[level] {
			if p.tok.Kind == cand.kind {
				p.next()
				rhs := p.parseBinary(level + 1)
				lhs = &BinaryExpr{Op: cand.op, Lhs: lhs, Rhs: rhs, At: lhs.Loc()}
				matched = true
				break
			}
		}
		if !matched {
			return lhs
		}
	}
}

// ^ is right associative.
func (p *Parser) parseExponent() Expr {
	lhs := p.parseUnary()
	if p.accept(TokCaret) {
		rhs := p.parseExponent()
		return &BinaryExpr{Op: Exp, Lhs: lhs, Rhs: rhs, At: lhs.Loc()}
	}
	return lhs
}

func (p *Parser) parseUnary() Expr {
	switch p.tok.Kind {
	case TokMinus:
		at := p.tok.Loc
		p.next()
		return &UnaryExpr{Op: Neg, Operand: p.parseUnary(), At: at}
	case TokNot:
		at := p.tok.Loc
		p.next()
		return &UnaryExpr{Op: Not, Operand: p.parseUnary(), At: at}
	case TokPlus:
		p.next()
		return p.parseUnary()
	}
	return p.parsePostfix(p.parsePrimary())
}

// parsePostfix wraps an expression with [index] and (args) suffixes.
func (p *Parser) parsePostfix(e Expr) Expr {
	for {
		switch p.tok.Kind {
		case TokLBracket:
			at := p.tok.Loc
			p.next()
			index := p.parseExpr()
			p.expect(TokRBracket)
			e = &IndexExpr{List: e, Index: index, At: at}
		case TokLParen:
			args := p.parseArgList()
			e = &CallExpr{Fun: e, Args: args, At: e.Loc()}
		default:
			return e
		}
	}
}

func (p *Parser) parsePrimary() Expr {
	at := p.tok.Loc
	switch p.tok.Kind {
	case TokNumber:
		v := p.tok.Num
		p.next()
		return &NumberExpr{Value: v, At: at}
	case TokString:
		v := p.tok.Str
		p.next()
		return &StringExpr{Value: v, At: at}
	case TokTrue:
		p.next()
		return &BoolExpr{Value: true, At: at}
	case TokFalse:
		p.next()
		return &BoolExpr{Value: false, At: at}
	case TokUndef:
		p.next()
		return &UndefExpr{At: at}
	case TokIdent:
		name := p.tok.Str
		p.next()
		return &IdentExpr{Name: name, At: at}
	case TokLParen:
		p.next()
		e := p.parseExpr()
		p.expect(TokRParen)
		return e
	case TokLBracket:
		return p.parseBracket()
	case TokLet:
		p.next()
		bindings := p.parseArgList()
		body := p.parseExpr()
		return &LetExpr{Bindings: bindings, Body: body, At: at}
	case TokIf:
		// expression-position if is only valid inside comprehensions,
		// handled there; a ternary is the conditional expression
		p.fail("'if' is not an expression, use the ?: conditional")
	case TokFunction:
		p.next()
		params := p.parseParamList()
		body := p.parseExpr()
		return &LambdaExpr{Params: params, Body: body, At: at}
	}
	p.fail("expected expression, found " + p.tok.Kind.String())
	return nil
}

// parseBracket parses [list], [start : end], [start : step : end] and the
// [for ...] comprehension forms.
func (p *Parser) parseBracket() Expr {
	at := p.tok.Loc
	p.expect(TokLBracket)
	if p.tok.Kind == TokFor {
		return p.parseComprehension(at)
	}
	if p.accept(TokRBracket) {
		return &ListExpr{At: at}
	}
	splat := p.accept(TokEach)
	first := p.parseExpr()
	if !splat && p.accept(TokColon) {
		second := p.parseExpr()
		r := &RangeExpr{Start: first, End: second, At: at}
		if p.accept(TokColon) {
			r.Step = second
			r.End = p.parseExpr()
		}
		p.expect(TokRBracket)
		return r
	}
	list := &ListExpr{Elems: []ListElem{{first, splat}}, At: at}
	for p.accept(TokComma) {
		if p.tok.Kind == TokRBracket {
			break // trailing comma
		}
		splat := p.accept(TokEach)
		list.Elems = append(list.Elems, ListElem{p.parseExpr(), splat})
	}
	p.expect(TokRBracket)
	return list
}

// parseComprehension parses the tail of [for (...) ...] after '['.
func (p *Parser) parseComprehension(at Location) Expr {
	p.expect(TokFor)
	p.expect(TokLParen)
	// decide between the binding form and the C-style form by scanning
	// assignments until ';' or ')'
	var bindings []*Assign
	for p.tok.Kind != TokRParen && p.tok.Kind != TokSemicolon {
		name := p.expect(TokIdent)
		p.expect(TokAssign)
		bindings = append(bindings, &Assign{Ident: name.Str, Expr: p.parseExpr(), At: name.Loc})
		if !p.accept(TokComma) {
			break
		}
	}
	if p.accept(TokSemicolon) {
		cond := p.parseExpr()
		p.expect(TokSemicolon)
		var update []*Assign
		for p.tok.Kind != TokRParen {
			name := p.expect(TokIdent)
			p.expect(TokAssign)
			update = append(update, &Assign{Ident: name.Str, Expr: p.parseExpr(), At: name.Loc})
			if !p.accept(TokComma) {
				break
			}
		}
		p.expect(TokRParen)
		body := p.parseExpr()
		p.expect(TokRBracket)
		return &ListCompCExpr{Init: bindings, Cond: cond, Update: update, Body: body, At: at}
	}
	p.expect(TokRParen)
	comp := &ListCompExpr{Bindings: bindings, At: at}
	if p.accept(TokIf) {
		p.expect(TokLParen)
		comp.Cond = p.parseExpr()
		p.expect(TokRParen)
	}
	comp.Body = p.parseExpr()
	p.expect(TokRBracket)
	return comp
}
