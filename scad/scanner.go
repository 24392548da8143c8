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
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Scanner turns a character stream into tokens. It owns the include stack:
// an include<...> directive pushes the referenced stream and lexing
// continues there; end-of-stream pops. use<...> only records a dependency
// in the translation unit and does not divert lexing.
type Scanner struct {
	frontend *Frontend
	unit     *TranslationUnit

	streams []*streamFrame
	loc     Location
	scratch strings.Builder // string literal buffer, committed on closing quote
}

type streamFrame struct {
	r       *bufio.Reader
	c       io.Closer
	undo    rune
	hasUndo bool
}

func NewScanner(frontend *Frontend, unit *TranslationUnit, stream io.ReadCloser) *Scanner {
	s := &Scanner{frontend: frontend, unit: unit}
	s.streams = []*streamFrame{{r: bufio.NewReader(stream), c: stream}}
	s.loc = NewLocation(unit.File)
	return s
}

func (s *Scanner) fail(reason string) {
	panic(&SyntaxError{s.loc, reason})
}

// read returns the next rune of the active stream, or -1 at end of stream.
// It does not pop the include stack; Next does.
func (s *Scanner) read() rune {
	fr := s.streams[len(s.streams)-1]
	if fr.hasUndo {
		fr.hasUndo = false
		return fr.undo
	}
	r, _, err := fr.r.ReadRune()
	if err != nil {
		return -1
	}
	return r
}

func (s *Scanner) unread(r rune) {
	if r < 0 {
		return
	}
	fr := s.streams[len(s.streams)-1]
	fr.undo = r
	fr.hasUndo = true
}

// graphemeCount counts grapheme clusters in word and validates it as an
// identifier: the first cluster must start with ID_Start or _, the rest
// with ID_Continue. The count is negated when the word is not valid.
func graphemeCount(word string) int {
	count := 0
	valid := true
	state := -1
	rest := word
	var cluster string
	for len(rest) > 0 {
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		r := []rune(cluster)[0]
		if count == 0 {
			if !isIDStart(r) && r != '_' {
				valid = false
			}
		} else if !isIDContinue(r) {
			valid = false
		}
		count++
	}
	if !valid {
		return -count
	}
	return count
}

func isIDStart(r rune) bool {
	return unicode.IsLetter(r) || unicode.In(r, unicode.Nl, unicode.Other_ID_Start)
}

func isIDContinue(r rune) bool {
	return isIDStart(r) || unicode.In(r, unicode.Mn, unicode.Mc, unicode.Nd, unicode.Pc, unicode.Other_ID_Continue)
}

func isIdentRune(r rune) bool {
	return r == '_' || isIDContinue(r)
}

// Next returns the next token. All scanner failures panic with a
// *SyntaxError pointing at the current location; no partial token is
// emitted.
func (s *Scanner) Next() Token {
	for {
		s.loc.Step()
		r := s.read()
		switch {
		case r < 0:
			if s.popStream() {
				return Token{Kind: TokEOF, Loc: s.loc}
			}
			continue
		case r == ' ' || r == '\t':
			s.loc.Columns(1)
			continue
		case r == '\n' || r == '\r':
			if r == '\r' {
				next := s.read()
				if next != '\n' {
					s.unread(next)
				}
			}
			s.loc.Lines("\n")
			continue
		case r == '/':
			next := s.read()
			if next == '/' {
				s.skipLineComment()
				continue
			}
			if next == '*' {
				s.skipBlockComment()
				continue
			}
			s.unread(next)
			s.loc.Columns(1)
			return Token{Kind: TokSlash, Loc: s.loc}
		case r >= '0' && r <= '9' || r == '.':
			return s.scanNumber(r)
		case r == '"':
			return s.scanString()
		case r == '$' || isIdentRune(r):
			return s.scanWord(r)
		default:
			return s.scanOperator(r)
		}
	}
}

// popStream closes the active stream; returns true when the stack is empty
// and the token stream ends.
func (s *Scanner) popStream() bool {
	fr := s.streams[len(s.streams)-1]
	fr.c.Close()
	s.streams = s.streams[:len(s.streams)-1]
	if len(s.streams) == 0 {
		return true
	}
	// restore the location of the include site
	s.loc = *s.loc.Begin.Parent
	return false
}

func (s *Scanner) skipLineComment() {
	for {
		r := s.read()
		if r < 0 || r == '\n' || r == '\r' {
			s.unread(r)
			return
		}
	}
}

func (s *Scanner) skipBlockComment() {
	s.loc.Columns(2)
	for {
		r := s.read()
		if r < 0 {
			s.fail("unterminated block comment")
		}
		if r == '\n' || r == '\r' {
			if r == '\r' {
				next := s.read()
				if next != '\n' {
					s.unread(next)
				}
			}
			s.loc.Lines("\n")
			continue
		}
		s.loc.Columns(1)
		if r == '*' {
			next := s.read()
			if next == '/' {
				s.loc.Columns(1)
				return
			}
			s.unread(next)
		}
	}
}

func (s *Scanner) scanNumber(first rune) Token {
	var sb strings.Builder
	sb.WriteRune(first)
	seenDot := first == '.'
	seenExp := false
	for {
		r := s.read()
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		} else if r == '.' && !seenDot && !seenExp {
			seenDot = true
			sb.WriteRune(r)
		} else if (r == 'e' || r == 'E') && !seenExp {
			seenExp = true
			sb.WriteRune(r)
			sign := s.read()
			if sign == '+' || sign == '-' {
				sb.WriteRune(sign)
			} else {
				s.unread(sign)
			}
		} else {
			s.unread(r)
			break
		}
	}
	text := sb.String()
	s.loc.Columns(len(text))
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		s.fail("invalid number \"" + text + "\"")
	}
	return Token{Kind: TokNumber, Loc: s.loc, Num: value}
}

func (s *Scanner) scanString() Token {
	s.scratch.Reset()
	s.loc.Columns(1)
	for {
		r := s.read()
		if r < 0 {
			s.fail("unterminated string")
		}
		if r == '"' {
			s.loc.Columns(1)
			return Token{Kind: TokString, Loc: s.loc, Str: s.scratch.String()}
		}
		if r == '\n' || r == '\r' {
			s.scratch.WriteRune(r)
			if r == '\r' {
				next := s.read()
				if next == '\n' {
					s.scratch.WriteRune(next)
				} else {
					s.unread(next)
				}
			}
			s.loc.Lines("\n")
			continue
		}
		if r == '\\' {
			esc := s.read()
			s.loc.Columns(2)
			switch esc {
			case 'n':
				s.scratch.WriteByte('\n')
			case 'r':
				s.scratch.WriteByte('\r')
			case 't':
				s.scratch.WriteByte('\t')
			case '"':
				s.scratch.WriteByte('"')
			case '\\':
				s.scratch.WriteByte('\\')
			default:
				s.fail("unknown escape sequence")
			}
			continue
		}
		s.loc.Columns(1)
		s.scratch.WriteRune(r)
	}
}

// scanWord scans an identifier or keyword. A leading $ marks a config
// variable; the rest must still form a valid identifier.
func (s *Scanner) scanWord(first rune) Token {
	var sb strings.Builder
	config := first == '$'
	if !config {
		sb.WriteRune(first)
	}
	for {
		r := s.read()
		if isIdentRune(r) {
			sb.WriteRune(r)
		} else {
			s.unread(r)
			break
		}
	}
	word := norm.NFC.String(sb.String())
	n := graphemeCount(word)
	if n <= 0 {
		s.loc.Columns(-n)
		s.fail("invalid identifier \"" + word + "\"")
	}
	s.loc.Columns(n)
	if config {
		s.loc.Columns(1)
		return Token{Kind: TokIdent, Loc: s.loc, Str: "$" + word}
	}
	if kind, ok := keywords[word]; ok {
		return Token{Kind: kind, Loc: s.loc}
	}
	if word == "include" || word == "use" {
		s.directive(word)
		return s.Next()
	}
	return Token{Kind: TokIdent, Loc: s.loc, Str: word}
}

// directive handles include<NAME> and use<NAME>.
func (s *Scanner) directive(word string) {
	for {
		r := s.read()
		if r == ' ' || r == '\t' {
			s.loc.Columns(1)
			continue
		}
		if r != '<' {
			s.fail("expected '<' after " + word)
		}
		s.loc.Columns(1)
		break
	}
	var name strings.Builder
	for {
		r := s.read()
		if r < 0 || r == '\n' || r == '\r' {
			s.fail("unterminated " + word + " directive")
		}
		s.loc.Columns(1)
		if r == '>' {
			break
		}
		name.WriteRune(r)
	}
	file, err := s.frontend.resolver(name.String(), s.loc.Begin.Src)
	if err != nil {
		s.fail("cannot resolve \"" + name.String() + "\": " + err.Error())
	}
	if word == "use" {
		s.unit.Uses[file] = true
		return
	}
	s.pushInclude(file)
}

// pushInclude switches lexing to the included stream. The parent chain of
// the new location snapshots the include site; a handle already on the
// chain is a cycle and is refused.
func (s *Scanner) pushInclude(file FileHandle) {
	if s.loc.OnIncludeChain(file) {
		s.fail("recursive include detected")
	}
	stream, err := s.frontend.provider(file)
	if err != nil {
		s.fail("cannot open included file: " + err.Error())
	}
	parent := new(Location)
	*parent = s.loc
	s.streams = append(s.streams, &streamFrame{r: bufio.NewReader(stream), c: stream})
	p := Position{parent, file, 1, 1}
	s.loc = Location{p, p}
}

func (s *Scanner) scanOperator(r rune) Token {
	s.loc.Columns(1)
	two := func(next rune, kind, single TokenKind) Token {
		n := s.read()
		if n == next {
			s.loc.Columns(1)
			return Token{Kind: kind, Loc: s.loc}
		}
		s.unread(n)
		if single == TokEOF {
			s.fail("unexpected character " + strconv.QuoteRune(r))
		}
		return Token{Kind: single, Loc: s.loc}
	}
	switch r {
	case '(':
		return Token{Kind: TokLParen, Loc: s.loc}
	case ')':
		return Token{Kind: TokRParen, Loc: s.loc}
	case '[':
		return Token{Kind: TokLBracket, Loc: s.loc}
	case ']':
		return Token{Kind: TokRBracket, Loc: s.loc}
	case '{':
		return Token{Kind: TokLBrace, Loc: s.loc}
	case '}':
		return Token{Kind: TokRBrace, Loc: s.loc}
	case ';':
		return Token{Kind: TokSemicolon, Loc: s.loc}
	case ',':
		return Token{Kind: TokComma, Loc: s.loc}
	case ':':
		return Token{Kind: TokColon, Loc: s.loc}
	case '?':
		return Token{Kind: TokQuestion, Loc: s.loc}
	case '+':
		return Token{Kind: TokPlus, Loc: s.loc}
	case '-':
		return Token{Kind: TokMinus, Loc: s.loc}
	case '*':
		return Token{Kind: TokStar, Loc: s.loc}
	case '%':
		return Token{Kind: TokPercent, Loc: s.loc}
	case '^':
		return Token{Kind: TokCaret, Loc: s.loc}
	case '#':
		return Token{Kind: TokHash, Loc: s.loc}
	case '=':
		n := s.read()
		if n == '=' {
			s.loc.Columns(1)
			return Token{Kind: TokEqual, Loc: s.loc}
		}
		s.unread(n)
		return Token{Kind: TokAssign, Loc: s.loc}
	case '<':
		return two('=', TokLessEq, TokLess)
	case '>':
		return two('=', TokGreaterEq, TokGreater)
	case '!':
		n := s.read()
		if n == '=' {
			s.loc.Columns(1)
			return Token{Kind: TokNotEqual, Loc: s.loc}
		}
		s.unread(n)
		return Token{Kind: TokNot, Loc: s.loc}
	case '&':
		return two('&', TokAnd, TokEOF)
	case '|':
		return two('|', TokOr, TokEOF)
	}
	s.fail("unexpected character " + strconv.QuoteRune(r))
	return Token{}
}
