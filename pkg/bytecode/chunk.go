package bytecode

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/servo/pkg/memory"
)

// BytecodeVersion is the current chunk image format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for chunk images: "SVBC" (ServoByteCode)
var BytecodeMagic = []byte{'S', 'V', 'B', 'C'}

// ErrTooManyConstants is returned when the pool outgrows OpConstantLong.
var ErrTooManyConstants = errors.New("too many constants in one chunk")

// ErrConstantIndex is returned for a pool index with no entry.
var ErrConstantIndex = errors.New("constant index out of range")

// LineStart opens a run of instruction bytes compiled from one source line.
// The run extends to the next LineStart's Offset.
type LineStart struct {
	Offset int
	Line   int
}

// Chunk is a compiled unit: the instruction stream, its constant pool and
// a run-length-encoded line table.
//
// A chunk is built by the compiler and then only read. The VM borrows it
// for one interpretation and never modifies it.
type Chunk struct {
	code      *memory.Buffer[byte]
	constants *memory.Buffer[Value]
	lines     *memory.Buffer[LineStart]
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		code:      memory.New[byte](0),
		constants: memory.New[Value](0),
		lines:     memory.New[LineStart](0),
	}
}

// Free releases the code, constant pool and line table.
func (c *Chunk) Free() {
	c.code.Free()
	c.constants.Free()
	c.lines.Free()
}

// WriteCode appends one byte of code compiled from line. A new line table
// entry is added only when line differs from the last entry.
func (c *Chunk) WriteCode(b byte, line int) error {
	if err := c.code.Append(b); err != nil {
		return err
	}
	if last, ok := c.lines.Last(); ok && last.Line == line {
		return nil
	}
	return c.lines.Append(LineStart{Offset: c.code.Len() - 1, Line: line})
}

// Emit appends an opcode with its operand bytes and returns the offset of
// the opcode.
func (c *Chunk) Emit(op Opcode, line int, operands ...byte) (int, error) {
	offset := c.code.Len()
	if err := c.WriteCode(byte(op), line); err != nil {
		return offset, err
	}
	for _, b := range operands {
		if err := c.WriteCode(b, line); err != nil {
			return offset, err
		}
	}
	return offset, nil
}

// AddConstant appends value to the pool and returns its index. Indices are
// stable for the life of the chunk. Unlike string pools, values are not
// deduplicated: each call yields a new index.
func (c *Chunk) AddConstant(value Value) (int, error) {
	if c.constants.Len() > MaxLongConstant {
		return 0, fmt.Errorf("%w: limit is %d", ErrTooManyConstants, MaxLongConstant+1)
	}
	if err := c.constants.Append(value); err != nil {
		return 0, err
	}
	return c.constants.Len() - 1, nil
}

// WriteConstant adds value to the pool and emits the instruction that loads
// it: OpConstant for indices up to MaxShortConstant, OpConstantLong above.
func (c *Chunk) WriteConstant(value Value, line int) (int, error) {
	idx, err := c.AddConstant(value)
	if err != nil {
		return 0, err
	}
	if idx <= MaxShortConstant {
		_, err = c.Emit(OpConstant, line, byte(idx))
	} else {
		b := putUint24(idx)
		_, err = c.Emit(OpConstantLong, line, b[:]...)
	}
	return idx, err
}

// GetConstant returns the constant at index.
func (c *Chunk) GetConstant(index int) (Value, error) {
	if index < 0 || index >= c.constants.Len() {
		return Value{}, fmt.Errorf("%w: %d (pool size %d)", ErrConstantIndex, index, c.constants.Len())
	}
	return c.constants.At(index), nil
}

// GetLine returns the source line for the instruction byte at offset: the
// line of the last run starting at or before offset. Returns 0 if no run
// covers offset.
func (c *Chunk) GetLine(offset int) int {
	lines := c.lines.Slice()
	// First run starting after offset; the one before it covers offset.
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].Offset > offset
	})
	if i == 0 {
		return 0
	}
	return lines[i-1].Line
}

// Code returns the code section. The slice must not be modified.
func (c *Chunk) Code() []byte {
	return c.code.Slice()
}

// Constants returns the constant pool. The slice must not be modified.
func (c *Chunk) Constants() []Value {
	return c.constants.Slice()
}

// Lines returns the line table runs. The slice must not be modified.
func (c *Chunk) Lines() []LineStart {
	return c.lines.Slice()
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return c.code.Len()
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return c.constants.Len()
}

// InstructionCount returns the number of instructions in the chunk.
// Note: This iterates through all code, so it's O(n).
func (c *Chunk) InstructionCount() int {
	code := c.Code()
	count := 0
	offset := 0
	for offset < len(code) {
		offset += Opcode(code[offset]).InstructionLen()
		count++
	}
	return count
}
