// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package scanner turns evie source text into a lazy stream of tokens.
package scanner

import (
	"fmt"

	"github.com/ozanh/evie/token"
)

// Item is a single scanned token.
// For token.Illegal, Literal holds a human readable error message instead of
// the source text.
type Item struct {
	Token   token.Token
	Literal string
	Line    int
}

func (it Item) String() string {
	if it.Token.IsLiteral() || it.Token == token.Illegal {
		return fmt.Sprintf("%s(%s)", it.Token, it.Literal)
	}
	return it.Token.String()
}

// Scanner reads evie source and produces tokens on demand. A Scanner is not
// restartable; once EOF is returned every further call returns EOF.
type Scanner struct {
	src   []byte
	start int
	cur   int
	line  int
}

// NewScanner creates a Scanner for src.
func NewScanner(src []byte) *Scanner {
	return &Scanner{src: src, line: 1}
}

// Line returns the current line of the scanner.
func (s *Scanner) Line() int { return s.line }

// Scan returns the next token. Malformed input does not stop scanning; an
// Illegal token with the error message is returned and the scanner continues
// with the following input.
func (s *Scanner) Scan() Item {
	s.skipWhitespace()
	s.start = s.cur

	if s.atEnd() {
		return s.make(token.EOF)
	}

	c := s.advance()
	switch {
	case isLetter(c):
		return s.scanIdentifier()
	case isDigit(c):
		return s.scanNumber()
	}

	switch c {
	case '(':
		return s.make(token.LParen)
	case ')':
		return s.make(token.RParen)
	case '{':
		return s.make(token.LBrace)
	case '}':
		return s.make(token.RBrace)
	case ';':
		return s.make(token.Semicolon)
	case ',':
		return s.make(token.Comma)
	case '.':
		return s.make(token.Period)
	case '-':
		return s.make(token.Sub)
	case '+':
		return s.make(token.Add)
	case '/':
		return s.make(token.Quo)
	case '*':
		return s.make(token.Mul)
	case '!':
		return s.make(s.switch2(token.Not, token.NotEqual))
	case '=':
		return s.make(s.switch2(token.Assign, token.Equal))
	case '<':
		return s.make(s.switch2(token.Less, token.LessEq))
	case '>':
		return s.make(s.switch2(token.Greater, token.GreaterEq))
	case '"':
		return s.scanString()
	}
	return s.errorItem("Unexpected character.")
}

// All scans src to the end and returns every token including the final EOF.
func All(src []byte) []Item {
	s := NewScanner(src)
	var items []Item
	for {
		it := s.Scan()
		items = append(items, it)
		if it.Token == token.EOF {
			return items
		}
	}
}

func (s *Scanner) switch2(tok0, tok1 token.Token) token.Token {
	if s.match('=') {
		return tok1
	}
	return tok0
}

func (s *Scanner) skipWhitespace() {
	for !s.atEnd() {
		switch s.peek() {
		case ' ', '\r', '\t':
			s.cur++
		case '\n':
			s.line++
			s.cur++
		case '/':
			if s.peekNext() != '/' {
				return
			}
			for !s.atEnd() && s.peek() != '\n' {
				s.cur++
			}
		default:
			return
		}
	}
}

func (s *Scanner) scanIdentifier() Item {
	for !s.atEnd() && (isLetter(s.peek()) || isDigit(s.peek())) {
		s.cur++
	}
	return s.make(token.Lookup(string(s.src[s.start:s.cur])))
}

func (s *Scanner) scanNumber() Item {
	for !s.atEnd() && isDigit(s.peek()) {
		s.cur++
	}
	// the fractional part needs a digit after the dot
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.cur++
		for !s.atEnd() && isDigit(s.peek()) {
			s.cur++
		}
	}
	return s.make(token.Number)
}

func (s *Scanner) scanString() Item {
	line := s.line
	for !s.atEnd() && s.peek() != '"' {
		if s.peek() == '\n' {
			s.line++
		}
		s.cur++
	}
	if s.atEnd() {
		it := s.errorItem("Unterminated string.")
		it.Line = line
		return it
	}
	s.cur++ // closing quote
	it := s.make(token.String)
	it.Literal = it.Literal[1 : len(it.Literal)-1]
	return it
}

func (s *Scanner) make(tok token.Token) Item {
	return Item{
		Token:   tok,
		Literal: string(s.src[s.start:s.cur]),
		Line:    s.line,
	}
}

func (s *Scanner) errorItem(msg string) Item {
	return Item{Token: token.Illegal, Literal: msg, Line: s.line}
}

func (s *Scanner) atEnd() bool { return s.cur >= len(s.src) }

func (s *Scanner) advance() byte {
	c := s.src[s.cur]
	s.cur++
	return c
}

func (s *Scanner) match(c byte) bool {
	if s.atEnd() || s.src[s.cur] != c {
		return false
	}
	s.cur++
	return true
}

func (s *Scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.src[s.cur]
}

func (s *Scanner) peekNext() byte {
	if s.cur+1 >= len(s.src) {
		return 0
	}
	return s.src[s.cur+1]
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_'
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
