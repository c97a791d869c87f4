// Package bytecode provides the chunk format and the stack-based virtual
// machine that executes Servo programs.
//
// The bytecode format is designed for:
//   - Compact representation (1 byte for most instructions)
//   - Fast decoding (fixed per-opcode operand widths)
//   - Large constant pools without a second opcode set
//
// # Architecture Overview
//
//   - Opcodes: literal pushes, six binary arithmetic operators, NEGATE and
//     RETURN. Two opcodes address the constant pool: CONSTANT with a one-byte
//     index and CONSTANT_LONG with a three-byte big-endian index. Chunk
//     .WriteConstant picks the short form while the index fits.
//
//   - Chunk: the code section, the constant pool and a run-length-encoded
//     line table with one entry per run of bytes from the same source line.
//     All three live in memory.Buffer values and grow by doubling.
//
//   - VM: fetch-decode-execute loop over a borrowed chunk. Faults (type
//     mismatch, division by zero, stack underflow) stop the loop with
//     InterpretRuntimeError and a *RuntimeError naming the source line.
//
//   - Images: MarshalChunk/UnmarshalChunk encode a chunk as canonical CBOR
//     for the compiled-chunk cache.
//
// The compiler lives in a separate package and is injected with
// VM.UseCompiler, which keeps this package free of parser dependencies.
package bytecode
