package bytecode

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/servo/pkg/memory"
)

var log = commonlog.GetLogger("servo.vm")

// InterpretResult is the outcome of one interpretation.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// String returns a human-readable name for InterpretResult.
func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "OK"
	case InterpretCompileError:
		return "COMPILE_ERROR"
	case InterpretRuntimeError:
		return "RUNTIME_ERROR"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// ExitCode maps the result to the conventional sysexits process status.
func (r InterpretResult) ExitCode() int {
	switch r {
	case InterpretOK:
		return 0
	case InterpretCompileError:
		return 65
	default:
		return 70
	}
}

// Runtime fault kinds. A *RuntimeError unwraps to one of these.
var (
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrNoCompiler      = errors.New("no compiler configured")
	ErrChunkInProgress = errors.New("vm is already interpreting a chunk")
)

// RuntimeError reports a fault during execution, located by the offset of
// the faulting instruction and its source line.
type RuntimeError struct {
	Line   int
	Offset int
	Op     Opcode
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[line %d] in %s at offset %d: %v", e.Line, e.Op, e.Offset, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CompileFunc compiles source into chunk. It is injected so the bytecode
// package does not depend on the compiler package.
type CompileFunc func(source string, chunk *Chunk) error

// VM executes bytecode chunks. A VM is owned by its caller and reused across
// interpretations; it is not safe for concurrent use.
type VM struct {
	// Current execution state
	chunk *Chunk                // Borrowed for one interpretation
	ip    int                   // Offset of the next instruction in chunk's code
	stack *memory.Buffer[Value] // Operand stack

	compile CompileFunc

	// Trace, when non-nil, receives a stack dump and the disassembled
	// instruction before every dispatch.
	Trace io.Writer
}

// NewVM creates a new VM with an empty, unlimited operand stack.
func NewVM() *VM {
	return &VM{
		stack: memory.New[Value](0),
	}
}

// UseCompiler sets the compiler used by Interpret.
func (vm *VM) UseCompiler(compile CompileFunc) {
	vm.compile = compile
}

// SetStackLimits reserves initial slots on the operand stack and caps how far
// it may grow. Growth past max is a fatal allocation error. A max of 0
// leaves the stack unlimited.
func (vm *VM) SetStackLimits(initial, max int) error {
	vm.stack.SetLimit(max)
	if initial > 0 {
		return vm.stack.EnsureCapacity(initial)
	}
	return nil
}

// Free releases the operand stack. The VM may be reused afterwards.
func (vm *VM) Free() {
	vm.stack.Free()
	vm.chunk = nil
	vm.ip = 0
}

// Interpret compiles source into a fresh chunk and runs it. Compile failures
// return InterpretCompileError without touching the stack, except allocation
// failures, which are fatal and return InterpretRuntimeError.
func (vm *VM) Interpret(source string) (InterpretResult, error) {
	if vm.compile == nil {
		return InterpretCompileError, ErrNoCompiler
	}

	chunk := NewChunk()
	defer chunk.Free()

	if err := vm.compile(source, chunk); err != nil {
		if memory.IsFatal(err) {
			log.Criticalf("fatal: %v", err)
			return InterpretRuntimeError, err
		}
		log.Debugf("compile failed: %v", err)
		return InterpretCompileError, err
	}
	return vm.Run(chunk)
}

// Run executes an already compiled chunk from its first instruction. The
// operand stack is reset first; after InterpretOK the values left on it are
// available through Top and StackDepth.
func (vm *VM) Run(chunk *Chunk) (InterpretResult, error) {
	if vm.chunk != nil {
		return InterpretRuntimeError, ErrChunkInProgress
	}
	vm.chunk = chunk
	vm.ip = 0
	vm.stack.Truncate(0)
	defer func() {
		vm.chunk = nil
	}()

	log.Debugf("run: %d bytes of code, %d constants", chunk.CodeLen(), chunk.ConstantCount())
	return vm.run()
}

// run is the main execution loop.
func (vm *VM) run() (InterpretResult, error) {
	code := vm.chunk.Code()
	for vm.ip < len(code) {
		in, err := DecodeInstruction(code, vm.ip)
		if err != nil {
			return vm.fault(in, err)
		}
		if vm.Trace != nil {
			vm.traceInstruction(in.Offset)
		}
		vm.ip = in.Next()

		switch in.Op {
		case OpConstant, OpConstantLong:
			v, err := vm.chunk.GetConstant(in.Operand)
			if err != nil {
				return vm.fault(in, err)
			}
			if err := vm.push(v); err != nil {
				return vm.fault(in, err)
			}

		case OpNull:
			if err := vm.push(NullValue()); err != nil {
				return vm.fault(in, err)
			}

		case OpTrue:
			if err := vm.push(BoolValue(true)); err != nil {
				return vm.fault(in, err)
			}

		case OpFalse:
			if err := vm.push(BoolValue(false)); err != nil {
				return vm.fault(in, err)
			}

		case OpNegate:
			v, err := vm.pop()
			if err != nil {
				return vm.fault(in, err)
			}
			if !v.IsNumber() {
				return vm.fault(in, fmt.Errorf("%w: operand must be a number, got %s", ErrTypeMismatch, v.Type()))
			}
			if err := vm.push(NumberValue(-v.AsNumber())); err != nil {
				return vm.fault(in, err)
			}

		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo, OpPower:
			if err := vm.binaryOp(in.Op); err != nil {
				return vm.fault(in, err)
			}

		case OpReturn:
			return InterpretOK, nil

		default:
			return vm.fault(in, fmt.Errorf("%w: %s", ErrUnknownOpcode, in.Op))
		}
	}

	// Falling off the end of the code acts as an implicit RETURN.
	return InterpretOK, nil
}

// binaryOp pops the right operand, then the left, and pushes left op right.
func (vm *VM) binaryOp(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	if !a.IsNumber() || !b.IsNumber() {
		return fmt.Errorf("%w: operands must be numbers, got %s and %s", ErrTypeMismatch, a.Type(), b.Type())
	}

	x, y := a.AsNumber(), b.AsNumber()
	var result float64
	switch op {
	case OpAdd:
		result = x + y
	case OpSubtract:
		result = x - y
	case OpMultiply:
		result = x * y
	case OpDivide:
		if y == 0 {
			return ErrDivisionByZero
		}
		result = x / y
	case OpModulo:
		if y == 0 {
			return ErrDivisionByZero
		}
		result = math.Mod(x, y)
	case OpPower:
		result = math.Pow(x, y)
	default:
		return fmt.Errorf("%w: %s is not arithmetic", ErrUnknownOpcode, op)
	}
	return vm.push(NumberValue(result))
}

// fault wraps err with the location of the faulting instruction.
func (vm *VM) fault(in Instruction, err error) (InterpretResult, error) {
	rerr := &RuntimeError{
		Line:   vm.chunk.GetLine(in.Offset),
		Offset: in.Offset,
		Op:     in.Op,
		Err:    err,
	}
	if memory.IsFatal(err) {
		log.Criticalf("fatal: %v", rerr)
	} else {
		log.Errorf("%v", rerr)
	}
	return InterpretRuntimeError, rerr
}

// Stack helpers

func (vm *VM) push(v Value) error {
	return vm.stack.Append(v)
}

func (vm *VM) pop() (Value, error) {
	v, ok := vm.stack.Pop()
	if !ok {
		return Value{}, ErrStackUnderflow
	}
	return v, nil
}

// Top returns the value on top of the operand stack, if any.
func (vm *VM) Top() (Value, bool) {
	return vm.stack.Last()
}

// StackDepth returns the number of values on the operand stack.
func (vm *VM) StackDepth() int {
	return vm.stack.Len()
}

// traceInstruction writes the stack and the instruction about to execute.
func (vm *VM) traceInstruction(offset int) {
	var sb strings.Builder
	sb.WriteString("          ")
	for _, v := range vm.stack.Slice() {
		fmt.Fprintf(&sb, "[ %s ]", v)
	}
	sb.WriteByte('\n')
	line, _ := vm.chunk.DisassembleInstruction(offset)
	sb.WriteString(line)
	sb.WriteByte('\n')
	io.WriteString(vm.Trace, sb.String())
}
