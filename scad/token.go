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

type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNumber
	TokString
	TokIdent

	// keywords
	TokModule
	TokFunction
	TokIf
	TokElse
	TokLet
	TokFor
	TokIntersectionFor
	TokEach
	TokTrue
	TokFalse
	TokUndef

	// punctuation
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokLBrace
	TokRBrace
	TokSemicolon
	TokComma
	TokColon
	TokQuestion
	TokAssign

	// operators (the scanner does not distinguish modifier position,
	// the parser decides whether * ! # % modify a module call)
	TokPlus
	TokMinus
	TokStar
	TokSlash
	TokPercent
	TokCaret
	TokLess
	TokLessEq
	TokGreater
	TokGreaterEq
	TokEqual
	TokNotEqual
	TokAnd
	TokOr
	TokNot
	TokHash
)

var keywords = map[string]TokenKind{
	"module":           TokModule,
	"function":         TokFunction,
	"if":               TokIf,
	"else":             TokElse,
	"let":              TokLet,
	"for":              TokFor,
	"intersection_for": TokIntersectionFor,
	"each":             TokEach,
	"true":             TokTrue,
	"false":            TokFalse,
	"undef":            TokUndef,
}

var tokenNames = map[TokenKind]string{
	TokEOF: "end of input", TokNumber: "number", TokString: "string",
	TokIdent: "identifier", TokModule: "'module'", TokFunction: "'function'",
	TokIf: "'if'", TokElse: "'else'", TokLet: "'let'", TokFor: "'for'",
	TokIntersectionFor: "'intersection_for'", TokEach: "'each'",
	TokTrue: "'true'", TokFalse: "'false'", TokUndef: "'undef'",
	TokLParen: "'('", TokRParen: "')'", TokLBracket: "'['",
	TokRBracket: "']'", TokLBrace: "'{'", TokRBrace: "'}'",
	TokSemicolon: "';'", TokComma: "','", TokColon: "':'",
	TokQuestion: "'?'", TokAssign: "'='", TokPlus: "'+'", TokMinus: "'-'",
	TokStar: "'*'", TokSlash: "'/'", TokPercent: "'%'", TokCaret: "'^'",
	TokLess: "'<'", TokLessEq: "'<='", TokGreater: "'>'",
	TokGreaterEq: "'>='", TokEqual: "'=='", TokNotEqual: "'!='",
	TokAnd: "'&&'", TokOr: "'||'", TokNot: "'!'", TokHash: "'#'",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return "token"
}

// Token carries the kind, its source span and the literal payload.
type Token struct {
	Kind TokenKind
	Loc  Location
	Num  float64 // TokNumber
	Str  string  // TokIdent name (NFC normalised) or TokString contents
}
