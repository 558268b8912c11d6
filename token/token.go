// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package token

import "strconv"

var keywords map[string]Token

// Token represents a token kind.
type Token int

// List of tokens
const (
	Illegal Token = iota
	EOF
	_literalBeg
	Ident
	Number
	String
	_literalEnd
	_operatorBeg
	LParen    // (
	RParen    // )
	LBrace    // {
	RBrace    // }
	Comma     // ,
	Period    // .
	Sub       // -
	Add       // +
	Semicolon // ;
	Quo       // /
	Mul       // *
	Not       // !
	NotEqual  // !=
	Assign    // =
	Equal     // ==
	Greater   // >
	GreaterEq // >=
	Less      // <
	LessEq    // <=
	_operatorEnd
	_keywordBeg
	And
	Class
	Else
	False
	For
	Fun
	If
	Nil
	Or
	Print
	Return
	Super
	This
	True
	Var
	While
	_keywordEnd
)

var tokens = [...]string{
	Illegal:   "ILLEGAL",
	EOF:       "EOF",
	Ident:     "IDENT",
	Number:    "NUMBER",
	String:    "STRING",
	LParen:    "(",
	RParen:    ")",
	LBrace:    "{",
	RBrace:    "}",
	Comma:     ",",
	Period:    ".",
	Sub:       "-",
	Add:       "+",
	Semicolon: ";",
	Quo:       "/",
	Mul:       "*",
	Not:       "!",
	NotEqual:  "!=",
	Assign:    "=",
	Equal:     "==",
	Greater:   ">",
	GreaterEq: ">=",
	Less:      "<",
	LessEq:    "<=",
	And:       "and",
	Class:     "class",
	Else:      "else",
	False:     "false",
	For:       "for",
	Fun:       "fun",
	If:        "if",
	Nil:       "nil",
	Or:        "or",
	Print:     "print",
	Return:    "return",
	Super:     "super",
	This:      "this",
	True:      "true",
	Var:       "var",
	While:     "while",
}

func (tok Token) String() string {
	s := ""

	if 0 <= tok && tok < Token(len(tokens)) {
		s = tokens[tok]
	}

	if s == "" {
		s = "token(" + strconv.Itoa(int(tok)) + ")"
	}
	return s
}

// IsLiteral returns true if the token is a literal.
func (tok Token) IsLiteral() bool {
	return _literalBeg < tok && tok < _literalEnd
}

// IsOperator returns true if the token is an operator or punctuation.
func (tok Token) IsOperator() bool {
	return _operatorBeg < tok && tok < _operatorEnd
}

// IsKeyword returns true if the token is a keyword.
func (tok Token) IsKeyword() bool {
	return _keywordBeg < tok && tok < _keywordEnd
}

// Keywords returns all keyword tokens in declaration order.
func Keywords() []Token {
	out := make([]Token, 0, _keywordEnd-_keywordBeg-1)
	for tok := _keywordBeg + 1; tok < _keywordEnd; tok++ {
		out = append(out, tok)
	}
	return out
}

// Lookup returns corresponding keyword if ident is a keyword.
func Lookup(ident string) Token {
	if tok, isKeyword := keywords[ident]; isKeyword {
		return tok
	}
	return Ident
}

func init() {
	keywords = make(map[string]Token)
	for i := _keywordBeg + 1; i < _keywordEnd; i++ {
		keywords[tokens[i]] = i
	}
}
