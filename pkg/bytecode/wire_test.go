package bytecode

import (
	"bytes"
	"errors"
	"testing"
)

func sampleChunk(t testing.TB) *Chunk {
	t.Helper()
	c := NewChunk()
	mustWriteConstant(t, c, NumberValue(1.5), 1)
	mustWriteConstant(t, c, BoolValue(true), 1)
	mustEmit(t, c, OpNull, 2)
	mustEmit(t, c, OpPower, 3)
	mustEmit(t, c, OpReturn, 3)
	return c
}

func marshalWire(t *testing.T, w wireChunk) []byte {
	t.Helper()
	data, err := cborEncMode.Marshal(&w)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestChunkImageRoundTrip(t *testing.T) {
	c := sampleChunk(t)

	data, err := MarshalChunk(c)
	if err != nil {
		t.Fatalf("MarshalChunk: %v", err)
	}
	got, err := UnmarshalChunk(data)
	if err != nil {
		t.Fatalf("UnmarshalChunk: %v", err)
	}

	if !bytes.Equal(got.Code(), c.Code()) {
		t.Errorf("code = % X, want % X", got.Code(), c.Code())
	}
	if got.ConstantCount() != c.ConstantCount() {
		t.Fatalf("ConstantCount() = %d, want %d", got.ConstantCount(), c.ConstantCount())
	}
	for i, v := range c.Constants() {
		if !got.Constants()[i].Equal(v) {
			t.Errorf("constant %d = %v, want %v", i, got.Constants()[i], v)
		}
	}
	if len(got.Lines()) != len(c.Lines()) {
		t.Fatalf("Lines() = %v, want %v", got.Lines(), c.Lines())
	}
	for off := 0; off < c.CodeLen(); off++ {
		if got.GetLine(off) != c.GetLine(off) {
			t.Errorf("GetLine(%d) = %d, want %d", off, got.GetLine(off), c.GetLine(off))
		}
	}
	if got.Disassemble("x") != c.Disassemble("x") {
		t.Error("disassembly differs after round trip")
	}
}

func TestChunkImageDeterministic(t *testing.T) {
	a, err := MarshalChunk(sampleChunk(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalChunk(sampleChunk(t))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal chunks produced different images")
	}
}

func TestChunkImageEmpty(t *testing.T) {
	data, err := MarshalChunk(NewChunk())
	if err != nil {
		t.Fatal(err)
	}
	c, err := UnmarshalChunk(data)
	if err != nil {
		t.Fatalf("UnmarshalChunk(empty): %v", err)
	}
	if c.CodeLen() != 0 || c.ConstantCount() != 0 {
		t.Errorf("empty image decoded to %d bytes, %d constants", c.CodeLen(), c.ConstantCount())
	}
}

func TestUnmarshalChunkRejects(t *testing.T) {
	oneLine := []wireLine{{Offset: 0, Line: 1}}
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{"garbage", func(t *testing.T) []byte { return []byte{0xFF, 0x00, 0x13} }},
		{"bad magic", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: []byte("MAGB"), Version: BytecodeVersion})
		}},
		{"future version", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion + 1})
		}},
		{"missing version", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic,
				Code: []byte{byte(OpReturn)}, Lines: oneLine})
		}},
		{"unknown opcode", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code: []byte{0xEE}, Lines: oneLine})
		}},
		{"truncated operand", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code: []byte{byte(OpConstantLong), 0}, Lines: oneLine})
		}},
		{"dangling constant", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code: []byte{byte(OpConstant), 4}, Lines: oneLine})
		}},
		{"unknown value type", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code: []byte{byte(OpConstant), 0}, Constants: []wireValue{{Type: 9}}, Lines: oneLine})
		}},
		{"missing lines", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code: []byte{byte(OpReturn)}})
		}},
		{"unordered lines", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code:  []byte{byte(OpTrue), byte(OpFalse), byte(OpReturn)},
				Lines: []wireLine{{Offset: 0, Line: 1}, {Offset: 2, Line: 2}, {Offset: 1, Line: 3}}})
		}},
		{"repeated line run", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code:  []byte{byte(OpTrue), byte(OpReturn)},
				Lines: []wireLine{{Offset: 0, Line: 1}, {Offset: 1, Line: 1}}})
		}},
		{"line past code", func(t *testing.T) []byte {
			return marshalWire(t, wireChunk{Magic: BytecodeMagic, Version: BytecodeVersion,
				Code:  []byte{byte(OpReturn)},
				Lines: []wireLine{{Offset: 0, Line: 1}, {Offset: 5, Line: 2}}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalChunk(tt.data(t))
			if !errors.Is(err, ErrInvalidImage) {
				t.Errorf("err = %v, want ErrInvalidImage", err)
			}
		})
	}
}

func TestValidateAcceptsCompiledChunk(t *testing.T) {
	if err := sampleChunk(t).Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
