package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/servo/pkg/bytecode"
)

var log = commonlog.GetLogger("servo.compiler")

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Compiler emits bytecode for a parsed program into a chunk.
type Compiler struct {
	chunk *bytecode.Chunk
}

// NewCompiler creates a compiler that writes into chunk.
func NewCompiler(chunk *bytecode.Chunk) *Compiler {
	return &Compiler{chunk: chunk}
}

// CompileProgram emits the program's expression followed by RETURN.
// Errors from the chunk (constant pool overflow, allocation failure) are
// returned unchanged so callers can tell fatal failures apart.
func (c *Compiler) CompileProgram(prog *Program) error {
	if err := c.compileExpr(prog.Expr); err != nil {
		return err
	}
	_, err := c.chunk.Emit(bytecode.OpReturn, prog.Span().End.Line)
	return err
}

func (c *Compiler) compileExpr(expr Expr) error {
	switch e := expr.(type) {
	case *NumberLiteral:
		_, err := c.chunk.WriteConstant(bytecode.NumberValue(e.Value), e.SpanVal.Start.Line)
		return err

	case *BoolLiteral:
		op := bytecode.OpFalse
		if e.Value {
			op = bytecode.OpTrue
		}
		return c.emit(op, e.SpanVal.Start.Line)

	case *NullLiteral:
		return c.emit(bytecode.OpNull, e.SpanVal.Start.Line)

	case *Grouping:
		return c.compileExpr(e.Inner)

	case *UnaryExpr:
		if err := c.compileExpr(e.Operand); err != nil {
			return err
		}
		return c.emit(bytecode.OpNegate, e.Op.Pos.Line)

	case *BinaryExpr:
		if err := c.compileExpr(e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		op, ok := binaryOpcodes[e.Op.Type]
		if !ok {
			return fmt.Errorf("line %d: no instruction for operator %s", e.Op.Pos.Line, e.Op.Type)
		}
		return c.emit(op, e.Op.Pos.Line)

	default:
		return fmt.Errorf("cannot compile %T", expr)
	}
}

func (c *Compiler) emit(op bytecode.Opcode, line int) error {
	_, err := c.chunk.Emit(op, line)
	return err
}

var binaryOpcodes = map[TokenType]bytecode.Opcode{
	TokenPlus:     bytecode.OpAdd,
	TokenMinus:    bytecode.OpSubtract,
	TokenStar:     bytecode.OpMultiply,
	TokenSlash:    bytecode.OpDivide,
	TokenPercent:  bytecode.OpModulo,
	TokenCaret:    bytecode.OpPower,
	TokenStarStar: bytecode.OpPower,
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Compile parses source and appends its bytecode to chunk. Syntax errors are
// returned as an ErrorList and leave chunk untouched.
func Compile(source string, chunk *bytecode.Chunk) error {
	prog, err := Parse(source)
	if err != nil {
		log.Debugf("parse failed: %v", err)
		return err
	}
	if err := NewCompiler(chunk).CompileProgram(prog); err != nil {
		log.Errorf("codegen failed: %v", err)
		return err
	}
	log.Debugf("compiled %d bytes, %d constants", chunk.CodeLen(), chunk.ConstantCount())
	return nil
}

// CompileChunk compiles source into a new chunk.
func CompileChunk(source string) (*bytecode.Chunk, error) {
	chunk := bytecode.NewChunk()
	if err := Compile(source, chunk); err != nil {
		chunk.Free()
		return nil, err
	}
	return chunk, nil
}
