package compiler

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Servo expressions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLiteral represents a numeric literal.
type NumberLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *NumberLiteral) Span() Span { return n.SpanVal }
func (n *NumberLiteral) node()      {}
func (n *NumberLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// NullLiteral represents null.
type NullLiteral struct {
	SpanVal Span
}

func (n *NullLiteral) Span() Span { return n.SpanVal }
func (n *NullLiteral) node()      {}
func (n *NullLiteral) expr()      {}

// Grouping represents a parenthesized expression.
type Grouping struct {
	SpanVal Span
	Inner   Expr
}

func (n *Grouping) Span() Span { return n.SpanVal }
func (n *Grouping) node()      {}
func (n *Grouping) expr()      {}

// UnaryExpr represents a prefix operator applied to an operand: -x.
type UnaryExpr struct {
	SpanVal Span
	Op      Token
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr represents an infix operator: left op right. Op keeps the
// operator token so the emitted instruction carries its line.
type BinaryExpr struct {
	SpanVal Span
	Op      Token
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// Program is a parsed source text: one expression with an optional
// trailing semicolon.
type Program struct {
	SpanVal Span
	Expr    Expr
}

func (n *Program) Span() Span { return n.SpanVal }
func (n *Program) node()      {}

// FormatExpr renders expr fully parenthesized, showing how it was grouped.
func FormatExpr(expr Expr) string {
	var sb strings.Builder
	formatExpr(&sb, expr)
	return sb.String()
}

func formatExpr(sb *strings.Builder, expr Expr) {
	switch e := expr.(type) {
	case *NumberLiteral:
		sb.WriteString(strconv.FormatFloat(e.Value, 'g', -1, 64))
	case *BoolLiteral:
		sb.WriteString(strconv.FormatBool(e.Value))
	case *NullLiteral:
		sb.WriteString("null")
	case *Grouping:
		formatExpr(sb, e.Inner)
	case *UnaryExpr:
		sb.WriteString("(")
		sb.WriteString(e.Op.Literal)
		formatExpr(sb, e.Operand)
		sb.WriteString(")")
	case *BinaryExpr:
		sb.WriteString("(")
		formatExpr(sb, e.Left)
		sb.WriteString(" ")
		sb.WriteString(e.Op.Literal)
		sb.WriteString(" ")
		formatExpr(sb, e.Right)
		sb.WriteString(")")
	default:
		sb.WriteString("<?>")
	}
}
