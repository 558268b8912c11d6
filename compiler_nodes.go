// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package evie

import (
	"errors"
	"strconv"

	"github.com/ozanh/evie/token"
)

type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules [token.While + 1]parseRule

func init() {
	rules[token.LParen] = parseRule{(*Compiler).grouping, (*Compiler).call, precCall}
	rules[token.Period] = parseRule{nil, (*Compiler).dot, precCall}
	rules[token.Sub] = parseRule{(*Compiler).unary, (*Compiler).binary, precTerm}
	rules[token.Add] = parseRule{nil, (*Compiler).binary, precTerm}
	rules[token.Quo] = parseRule{nil, (*Compiler).binary, precFactor}
	rules[token.Mul] = parseRule{nil, (*Compiler).binary, precFactor}
	rules[token.Not] = parseRule{(*Compiler).unary, nil, precNone}
	rules[token.NotEqual] = parseRule{nil, (*Compiler).binary, precEquality}
	rules[token.Equal] = parseRule{nil, (*Compiler).binary, precEquality}
	rules[token.Greater] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.GreaterEq] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.Less] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.LessEq] = parseRule{nil, (*Compiler).binary, precComparison}
	rules[token.Ident] = parseRule{(*Compiler).variable, nil, precNone}
	rules[token.String] = parseRule{(*Compiler).stringLit, nil, precNone}
	rules[token.Number] = parseRule{(*Compiler).number, nil, precNone}
	rules[token.And] = parseRule{nil, (*Compiler).and, precAnd}
	rules[token.Or] = parseRule{nil, (*Compiler).or, precOr}
	rules[token.False] = parseRule{(*Compiler).literal, nil, precNone}
	rules[token.True] = parseRule{(*Compiler).literal, nil, precNone}
	rules[token.Nil] = parseRule{(*Compiler).literal, nil, precNone}
	rules[token.This] = parseRule{(*Compiler).this, nil, precNone}
	rules[token.Super] = parseRule{(*Compiler).super, nil, precNone}
}

func getRule(tok token.Token) *parseRule {
	if tok < 0 || int(tok) >= len(rules) {
		return &rules[token.Illegal]
	}
	return &rules[tok]
}

func (c *Compiler) declaration() {
	if c.trace != nil && c.opts.TraceParser {
		defer untracec(tracec(c, "Declaration "+c.current.Token.String()))
	}
	switch {
	case c.match(token.Class):
		c.classDeclaration()
	case c.match(token.Fun):
		c.funDeclaration()
	case c.match(token.Var):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(token.Ident, "Expect class name.")
	nameConstant := c.identifierConstant(c.previous.Literal)
	c.declareVariable()

	c.emit(OpClass, nameConstant)
	c.emit(OpDup)
	c.defineVariable(nameConstant)

	c.class = &classState{enclosing: c.class}
	c.consume(token.LBrace, "Expect '{' before class body.")
	for !c.check(token.RBrace) && !c.check(token.EOF) {
		c.method()
	}
	c.consume(token.RBrace, "Expect '}' after class body.")
	c.emit(OpPop)
	c.class = c.class.enclosing
}

func (c *Compiler) method() {
	c.consume(token.Ident, "Expect method name.")
	name := c.previous.Literal
	constant := c.identifierConstant(name)
	t := funcMethod
	if name == "init" {
		t = funcInitializer
	}
	c.functionBody(t)
	c.emit(OpMethod, constant)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// a function may refer to itself
	c.markInitialized()
	c.functionBody(funcFunction)
	c.defineVariable(global)
}

func (c *Compiler) functionBody(t funcType) {
	c.beginFunction(t)
	c.beginScope()

	c.consume(token.LParen, "Expect '(' after function name.")
	if !c.check(token.RParen) {
		for {
			f := c.function()
			f.Arity++
			if f.Arity > MaxArguments {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RParen, "Expect ')' after parameters.")
	c.consume(token.LBrace, "Expect '{' before function body.")
	c.block()

	fn, upvalues := c.endFunction()
	c.emit(OpClosure, c.makeConstant(ObjectValue(fn)))
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(uv.index))
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(token.Assign) {
		c.expression()
	} else {
		c.emit(OpNil)
	}
	c.consume(token.Semicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.match(token.Print):
		c.printStatement()
	case c.match(token.For):
		c.forStatement()
	case c.match(token.If):
		c.ifStatement()
	case c.match(token.Return):
		c.returnStatement()
	case c.match(token.While):
		c.whileStatement()
	case c.match(token.LBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(token.RBrace) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after value.")
	c.emit(OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after expression.")
	pos := c.emit(OpPop)
	if c.fn.fnType == funcScript && c.fn.scopeDepth == 0 {
		c.lastExprPop = pos
	}
}

func (c *Compiler) ifStatement() {
	c.consume(token.LParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RParen, "Expect ')' after condition.")

	thenJump := c.emitJump(OpJumpIfFalse)
	c.emit(OpPop)
	c.statement()

	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emit(OpPop)

	if c.match(token.Else) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(token.LParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RParen, "Expect ')' after condition.")

	exitJump := c.emitJump(OpJumpIfFalse)
	c.emit(OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emit(OpPop)
}

// forStatement compiles a for loop. A variable declared by the initializer
// is copied into a fresh local for every iteration of the body, so closures
// capture the value of their own iteration. The copy is written back to the
// loop variable before the increment clause runs.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(token.LParen, "Expect '(' after 'for'.")

	loopVar := -1
	switch {
	case c.match(token.Semicolon):
	case c.match(token.Var):
		c.varDeclaration()
		if c.fn.scopeDepth > 0 && len(c.fn.locals) > 0 {
			loopVar = len(c.fn.locals) - 1
		}
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(token.Semicolon) {
		c.expression()
		c.consume(token.Semicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(OpJumpIfFalse)
		c.emit(OpPop)
	}

	if !c.match(token.RParen) {
		bodyJump := c.emitJump(OpJump)
		incrementStart := len(c.chunk().Code)
		c.expression()
		c.emit(OpPop)
		c.consume(token.RParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	innerVar := -1
	if loopVar != -1 {
		c.beginScope()
		c.emit(OpGetLocal, loopVar)
		c.addLocal(c.fn.locals[loopVar].name)
		c.markInitialized()
		innerVar = len(c.fn.locals) - 1
	}

	c.statement()

	if innerVar != -1 {
		c.emit(OpGetLocal, innerVar)
		c.emit(OpSetLocal, loopVar)
		c.emit(OpPop)
		c.endScope()
	}

	c.emitLoop(loopStart)
	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emit(OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.match(token.Semicolon) {
		c.emitReturn()
		return
	}
	if c.fn.fnType == funcInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after return value.")
	c.emit(OpReturn)
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Token).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Token).prec {
		c.advance()
		getRule(c.previous.Token).infix(c, canAssign)
	}
	if canAssign && c.match(token.Assign) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(token.RParen, "Expect ')' after expression.")
}

func (c *Compiler) number(bool) {
	v, err := strconv.ParseFloat(c.previous.Literal, 64)
	// out of range literals are parsed as inf
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		c.error("Invalid number literal.")
		return
	}
	c.emit(OpConstant, c.makeConstant(Number(v)))
}

func (c *Compiler) stringLit(bool) {
	c.emit(OpConstant, c.makeConstant(ObjectValue(c.heap.Intern(c.previous.Literal))))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Token {
	case token.False:
		c.emit(OpFalse)
	case token.True:
		c.emit(OpTrue)
	case token.Nil:
		c.emit(OpNil)
	}
}

func (c *Compiler) unary(bool) {
	op := c.previous.Token
	c.parsePrecedence(precUnary)
	switch op {
	case token.Not:
		c.emit(OpNot)
	case token.Sub:
		c.emit(OpNegate)
	}
}

func (c *Compiler) binary(bool) {
	op := c.previous.Token
	c.parsePrecedence(getRule(op).prec + 1)

	switch op {
	case token.NotEqual:
		c.emit(OpNotEqual)
	case token.Equal:
		c.emit(OpEqual)
	case token.Greater:
		c.emit(OpGreater)
	case token.GreaterEq:
		c.emit(OpGreaterEqual)
	case token.Less:
		c.emit(OpLess)
	case token.LessEq:
		c.emit(OpLessEqual)
	case token.Add:
		c.emit(OpAdd)
	case token.Sub:
		c.emit(OpSubtract)
	case token.Mul:
		c.emit(OpMultiply)
	case token.Quo:
		c.emit(OpDivide)
	}
}

func (c *Compiler) and(bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.emit(OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	elseJump := c.emitJump(OpJumpIfFalse)
	endJump := c.emitJump(OpJump)
	c.patchJump(elseJump)
	c.emit(OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(bool) {
	argc := c.argumentList()
	c.emit(OpCall, argc)
}

func (c *Compiler) argumentList() int {
	var argc int
	if !c.check(token.RParen) {
		for {
			c.expression()
			if argc == MaxArguments {
				c.error("Can't have more than 255 arguments.")
			} else {
				argc++
			}
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RParen, "Expect ')' after arguments.")
	return argc
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(token.Ident, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous.Literal)

	switch {
	case canAssign && c.match(token.Assign):
		c.expression()
		c.emit(OpSetProperty, name)
	case c.match(token.LParen):
		argc := c.argumentList()
		c.emit(OpInvoke, name, argc)
	default:
		c.emit(OpGetProperty, name)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Literal, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp Opcode
	arg := c.resolveLocal(c.fn, name)
	switch {
	case arg != -1:
		getOp, setOp = OpGetLocal, OpSetLocal
	default:
		if arg = c.resolveUpvalue(c.fn, name); arg != -1 {
			getOp, setOp = OpGetUpvalue, OpSetUpvalue
		} else {
			arg = c.identifierConstant(name)
			getOp, setOp = OpGetGlobal, OpSetGlobal
		}
	}

	if canAssign && c.match(token.Assign) {
		c.expression()
		c.emit(setOp, arg)
	} else {
		c.emit(getOp, arg)
	}
}

func (c *Compiler) this(bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.namedVariable("this", false)
}

func (c *Compiler) super(bool) {
	c.error("Can't use 'super': classes have no superclass.")
}
