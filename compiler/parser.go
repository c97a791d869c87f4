package compiler

import (
	"errors"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Pratt parser for Servo expressions
// ---------------------------------------------------------------------------

// Precedence levels, lowest to highest.
type Precedence int

const (
	PrecNone   Precedence = iota
	PrecTerm              // + -
	PrecFactor            // * / %
	PrecUnary             // -
	PrecPower             // ^ **
)

// MaxNestingDepth bounds how deeply expressions may nest through grouping,
// unary minus and right-associative operators.
const MaxNestingDepth = 512

// infixPrecedence returns the binding power of t as an infix operator.
func infixPrecedence(t TokenType) Precedence {
	switch t {
	case TokenPlus, TokenMinus:
		return PrecTerm
	case TokenStar, TokenSlash, TokenPercent:
		return PrecFactor
	case TokenCaret, TokenStarStar:
		return PrecPower
	}
	return PrecNone
}

// Parser parses Servo source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	prevToken Token
	errors    ErrorList
	panicMode bool // suppresses cascaded errors after the first
	depth     int  // current parsePrecedence recursion depth
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token. Error tokens from the lexer are
// reported and skipped.
func (p *Parser) nextToken() {
	p.prevToken = p.curToken
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	for p.curToken.Type == TokenError {
		p.errorAt(p.curToken, "", p.curToken.Literal)
		p.curToken = p.peekToken
		p.peekToken = p.lexer.NextToken()
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType, message string) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("%s", message)
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	where := "at end"
	if !p.curTokenIs(TokenEOF) {
		where = fmt.Sprintf("at '%s'", p.curToken.Literal)
	}
	p.errorAt(p.curToken, where, fmt.Sprintf(format, args...))
}

func (p *Parser) errorAt(tok Token, where, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.errors = append(p.errors, &Error{
		Line:    tok.Pos.Line,
		Column:  tok.Pos.Column,
		Where:   where,
		Message: message,
	})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses one expression, an optional semicolon and the end of
// input. The returned program is nil if any error was recorded.
func (p *Parser) ParseProgram() *Program {
	start := p.curToken.Pos
	expr := p.ParseExpression()
	if expr == nil {
		return nil
	}

	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		p.errorf("Expect end of expression.")
		return nil
	}
	if len(p.errors) > 0 {
		return nil
	}

	return &Program{
		SpanVal: Span{Start: start, End: p.prevToken.Pos},
		Expr:    expr,
	}
}

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parsePrecedence(PrecTerm)
}

// parsePrecedence parses a prefix expression and then every infix operator
// that binds at least as tightly as prec.
func (p *Parser) parsePrecedence(prec Precedence) Expr {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > MaxNestingDepth {
		p.errorf("Expression nested too deeply.")
		return nil
	}

	left := p.parsePrefix()
	if left == nil {
		return nil
	}

	for {
		opPrec := infixPrecedence(p.curToken.Type)
		if opPrec == PrecNone || opPrec < prec {
			return left
		}
		left = p.parseInfix(left, opPrec)
		if left == nil {
			return nil
		}
	}
}

func (p *Parser) parsePrefix() Expr {
	tok := p.curToken
	span := Span{Start: tok.Pos, End: tok.Pos}

	switch tok.Type {
	case TokenNumber:
		p.nextToken()
		return p.parseNumber(tok)

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{SpanVal: span, Value: tok.Type == TokenTrue}

	case TokenNull:
		p.nextToken()
		return &NullLiteral{SpanVal: span}

	case TokenLParen:
		p.nextToken()
		inner := p.ParseExpression()
		if inner == nil {
			return nil
		}
		end := p.curToken.Pos
		if !p.expect(TokenRParen, "Expect ')' after expression.") {
			return nil
		}
		return &Grouping{SpanVal: Span{Start: tok.Pos, End: end}, Inner: inner}

	case TokenMinus:
		p.nextToken()
		// Power binds tighter than negation: -2^2 is -(2^2).
		operand := p.parsePrecedence(PrecUnary)
		if operand == nil {
			return nil
		}
		return &UnaryExpr{
			SpanVal: Span{Start: tok.Pos, End: operand.Span().End},
			Op:      tok,
			Operand: operand,
		}

	case TokenIdentifier:
		p.errorf("Undefined name '%s'.", tok.Literal)
		return nil

	default:
		p.errorf("Expect expression.")
		return nil
	}
}

func (p *Parser) parseInfix(left Expr, prec Precedence) Expr {
	op := p.curToken
	p.nextToken()

	// Power is right-associative; the others are left-associative.
	next := prec + 1
	if prec == PrecPower {
		next = PrecPower
	}
	right := p.parsePrecedence(next)
	if right == nil {
		return nil
	}

	return &BinaryExpr{
		SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
		Op:      op,
		Left:    left,
		Right:   right,
	}
}

func (p *Parser) parseNumber(tok Token) Expr {
	value, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			p.errorAt(tok, fmt.Sprintf("at '%s'", tok.Literal), "Number literal out of range.")
		} else {
			p.errorAt(tok, fmt.Sprintf("at '%s'", tok.Literal), "Invalid number literal.")
		}
		return nil
	}
	return &NumberLiteral{SpanVal: Span{Start: tok.Pos, End: tok.Pos}, Value: value}
}

// Parse parses source into a Program, returning an ErrorList on failure.
func Parse(source string) (*Program, error) {
	p := NewParser(source)
	prog := p.ParseProgram()
	if err := p.Errors().Err(); err != nil {
		return nil, err
	}
	return prog, nil
}
