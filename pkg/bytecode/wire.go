package bytecode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidImage is returned when a chunk image fails to decode or validate.
var ErrInvalidImage = errors.New("invalid chunk image")

// cborEncMode uses canonical mode for deterministic encoding, so equal
// chunks always produce byte-identical images.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireValue struct {
	Type   ValueType `cbor:"1,keyasint"`
	Bool   bool      `cbor:"2,keyasint,omitempty"`
	Number float64   `cbor:"3,keyasint,omitempty"`
}

type wireLine struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

type wireChunk struct {
	Magic     []byte      `cbor:"1,keyasint"`
	Version   uint16      `cbor:"2,keyasint"`
	Code      []byte      `cbor:"3,keyasint"`
	Constants []wireValue `cbor:"4,keyasint,omitempty"`
	Lines     []wireLine  `cbor:"5,keyasint,omitempty"`
}

// MarshalChunk serializes a Chunk to a CBOR image.
func MarshalChunk(c *Chunk) ([]byte, error) {
	w := wireChunk{
		Magic:   BytecodeMagic,
		Version: BytecodeVersion,
		Code:    c.Code(),
	}
	for _, v := range c.Constants() {
		w.Constants = append(w.Constants, wireValue{Type: v.typ, Bool: v.b, Number: v.n})
	}
	for _, l := range c.Lines() {
		w.Lines = append(w.Lines, wireLine{Offset: l.Offset, Line: l.Line})
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalChunk deserializes and validates a chunk image.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var w wireChunk
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !bytes.Equal(w.Magic, BytecodeMagic) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidImage, w.Magic)
	}
	if w.Version != BytecodeVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalidImage, w.Version, BytecodeVersion)
	}

	c := NewChunk()
	if err := c.code.AppendAll(w.Code...); err != nil {
		return nil, err
	}
	for i, wv := range w.Constants {
		if wv.Type > ValNumber {
			return nil, fmt.Errorf("%w: constant %d has unknown type %d", ErrInvalidImage, i, wv.Type)
		}
		if err := c.constants.Append(Value{typ: wv.Type, b: wv.Bool, n: wv.Number}); err != nil {
			return nil, err
		}
	}
	for _, wl := range w.Lines {
		if err := c.lines.Append(LineStart{Offset: wl.Offset, Line: wl.Line}); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return c, nil
}

// Validate checks that every instruction decodes without overrun, every
// constant index resolves and the line table is strictly increasing, with
// each run on a different line from the one before it.
func (c *Chunk) Validate() error {
	code := c.Code()
	for offset := 0; offset < len(code); {
		in, err := DecodeInstruction(code, offset)
		if err != nil {
			return err
		}
		if in.Op == OpConstant || in.Op == OpConstantLong {
			if _, err := c.GetConstant(in.Operand); err != nil {
				return fmt.Errorf("offset %d: %w", offset, err)
			}
		}
		offset = in.Next()
	}

	lines := c.Lines()
	if len(code) > 0 && (len(lines) == 0 || lines[0].Offset != 0) {
		return errors.New("line table does not cover offset 0")
	}
	for i, l := range lines {
		if l.Offset < 0 || l.Offset >= len(code) {
			return fmt.Errorf("line run %d starts outside code at %d", i, l.Offset)
		}
		if i > 0 && l.Offset <= lines[i-1].Offset {
			return fmt.Errorf("line run %d offset %d not after %d", i, l.Offset, lines[i-1].Offset)
		}
		if i > 0 && l.Line == lines[i-1].Line {
			return fmt.Errorf("line run %d repeats line %d of the previous run", i, l.Line)
		}
	}
	return nil
}
