package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of every instruction in the
// chunk under a "== name ==" header.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)
	for _, line := range c.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	for offset := 0; offset < c.CodeLen(); {
		line, next := c.DisassembleInstruction(offset)
		lines = append(lines, line)
		offset = next
	}
	return lines
}

// DisassembleInstruction renders the instruction at offset as
//
//	<offset> <line or "|"> <MNEMONIC> [<operand details>]
//
// and returns the offset of the following instruction. The line column is
// "|" when the byte before offset belongs to the same source line.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	code := c.Code()
	if offset < 0 || offset >= len(code) {
		return fmt.Sprintf("%04d <end of code>", offset), len(code)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d ", offset)
	if offset > 0 && c.GetLine(offset) == c.GetLine(offset-1) {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(&sb, "%4d ", c.GetLine(offset))
	}

	in, err := DecodeInstruction(code, offset)
	switch {
	case errors.Is(err, ErrUnknownOpcode):
		fmt.Fprintf(&sb, "Unknown opcode 0x%02X", code[offset])
		return sb.String(), offset + 1
	case err != nil:
		fmt.Fprintf(&sb, "%-16s <truncated>", in.Op)
		return sb.String(), len(code)
	}

	switch in.Op {
	case OpConstant, OpConstantLong:
		fmt.Fprintf(&sb, "%-16s %4d '%s'", in.Op, in.Operand, c.constantText(in.Operand))
	default:
		sb.WriteString(in.Op.String())
	}
	return sb.String(), in.Next()
}

// constantText renders a pool entry, or a marker for a dangling index.
func (c *Chunk) constantText(index int) string {
	v, err := c.GetConstant(index)
	if err != nil {
		return "<invalid>"
	}
	return v.String()
}
