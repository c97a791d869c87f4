package bytecode

import (
	"errors"
	"fmt"
)

// Opcode represents a bytecode instruction tag.
type Opcode byte

const (
	// ========================================================================
	// Constants and literals
	// ========================================================================

	OpConstant Opcode = 0x00 // Push constant: OpConstant <index:u8>
	OpNull     Opcode = 0x01 // Push null
	OpTrue     Opcode = 0x02 // Push true
	OpFalse    Opcode = 0x03 // Push false

	// ========================================================================
	// Arithmetic
	// ========================================================================

	OpAdd      Opcode = 0x04 // Pop two, push sum
	OpSubtract Opcode = 0x05 // Pop two, push difference (a - b where b is TOS)
	OpMultiply Opcode = 0x06 // Pop two, push product
	OpDivide   Opcode = 0x07 // Pop two, push quotient; zero divisor faults
	OpModulo   Opcode = 0x08 // Pop two, push remainder; zero divisor faults
	OpPower    Opcode = 0x09 // Pop two, push a raised to b

	// ========================================================================
	// Wide constants, unary, return
	// ========================================================================

	OpConstantLong Opcode = 0x0A // Push constant: OpConstantLong <index:u24>
	OpNegate       Opcode = 0x0B // Negate top of stack
	OpReturn       Opcode = 0x0C // End execution of the chunk
)

// MaxShortConstant is the largest pool index OpConstant can address.
const MaxShortConstant = 0xFF

// MaxLongConstant is the largest pool index OpConstantLong can address.
const MaxLongConstant = 0xFFFFFF

// OpcodeInfo provides metadata about each opcode for decoding and disassembly.
type OpcodeInfo struct {
	Name       string // Mnemonic
	StackPop   int    // How many values popped from stack
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable is indexed by opcode. Entries with an empty Name are undefined.
var opcodeInfoTable = [...]OpcodeInfo{
	OpConstant: {"CONSTANT", 0, 1, 1},
	OpNull:     {"NULL", 0, 1, 0},
	OpTrue:     {"TRUE", 0, 1, 0},
	OpFalse:    {"FALSE", 0, 1, 0},

	OpAdd:      {"ADD", 2, 1, 0},
	OpSubtract: {"SUBTRACT", 2, 1, 0},
	OpMultiply: {"MULTIPLY", 2, 1, 0},
	OpDivide:   {"DIVIDE", 2, 1, 0},
	OpModulo:   {"MODULO", 2, 1, 0},
	OpPower:    {"POWER", 2, 1, 0},

	OpConstantLong: {"CONSTANT_LONG", 0, 1, 3},
	OpNegate:       {"NEGATE", 1, 1, 0},
	OpReturn:       {"RETURN", 0, 0, 0},
}

// LookupOpcode returns metadata for op and whether op is defined.
func LookupOpcode(op Opcode) (OpcodeInfo, bool) {
	if int(op) < len(opcodeInfoTable) && opcodeInfoTable[op].Name != "" {
		return opcodeInfoTable[op], true
	}
	return OpcodeInfo{}, false
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0xNN)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := LookupOpcode(op); ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsArithmetic returns true for the binary arithmetic opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpPower
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for i := range opcodeInfoTable {
		if opcodeInfoTable[i].Name != "" {
			opcodes = append(opcodes, Opcode(i))
		}
	}
	return opcodes
}

// Decoding errors.
var (
	ErrUnknownOpcode         = errors.New("unknown opcode")
	ErrTruncatedInstruction  = errors.New("truncated instruction")
	ErrInstructionOutOfRange = errors.New("instruction offset out of range")
)

// Instruction is one decoded instruction: Op selects the variant and
// Operand carries the variant's payload (the constant index for
// OpConstant and OpConstantLong, zero for every other opcode).
type Instruction struct {
	Op      Opcode
	Operand int
	Offset  int // Offset of the opcode byte in the code section
}

// Len returns the encoded length of the instruction.
func (in Instruction) Len() int {
	return in.Op.InstructionLen()
}

// Next returns the offset of the following instruction.
func (in Instruction) Next() int {
	return in.Offset + in.Len()
}

// DecodeInstruction decodes the instruction starting at offset. It never
// reads past the end of code.
func DecodeInstruction(code []byte, offset int) (Instruction, error) {
	if offset < 0 || offset >= len(code) {
		return Instruction{}, fmt.Errorf("%w: %d (code length %d)", ErrInstructionOutOfRange, offset, len(code))
	}
	op := Opcode(code[offset])
	info, ok := LookupOpcode(op)
	if !ok {
		return Instruction{Op: op, Offset: offset}, fmt.Errorf("%w: 0x%02X at offset %d", ErrUnknownOpcode, byte(op), offset)
	}
	if offset+info.OperandLen >= len(code) {
		return Instruction{Op: op, Offset: offset}, fmt.Errorf("%w: %s at offset %d needs %d operand bytes", ErrTruncatedInstruction, info.Name, offset, info.OperandLen)
	}

	in := Instruction{Op: op, Offset: offset}
	switch op {
	case OpConstant:
		in.Operand = int(code[offset+1])
	case OpConstantLong:
		in.Operand = readUint24(code[offset+1:])
	}
	return in, nil
}

// readUint24 reads a big-endian 24-bit unsigned integer.
func readUint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

// putUint24 encodes v as three big-endian bytes.
func putUint24(v int) [3]byte {
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}
