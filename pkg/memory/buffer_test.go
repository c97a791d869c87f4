package memory

import (
	"errors"
	"testing"
)

func TestBufferStartsEmpty(t *testing.T) {
	b := New[int](0)
	if b.Len() != 0 || b.Cap() != 0 {
		t.Fatalf("new buffer len=%d cap=%d, want 0/0", b.Len(), b.Cap())
	}
	if _, ok := b.Pop(); ok {
		t.Error("Pop on empty buffer should report !ok")
	}
	if _, ok := b.Last(); ok {
		t.Error("Last on empty buffer should report !ok")
	}
}

func TestGrowCapacity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 8},
		{4, 8},
		{8, 16},
		{16, 32},
		{1024, 2048},
	}
	for _, tt := range tests {
		if got := GrowCapacity(tt.in); got != tt.want {
			t.Errorf("GrowCapacity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBufferCapacityIsDoublingBound(t *testing.T) {
	b := New[byte](0)
	for n := 1; n <= 5000; n++ {
		if err := b.Append(byte(n)); err != nil {
			t.Fatalf("Append #%d: %v", n, err)
		}
		c := b.Cap()
		if c < n {
			t.Fatalf("after %d appends cap=%d < len", n, c)
		}
		// Capacity is always MinCapacity scaled by a power of two.
		q := c / MinCapacity
		if c%MinCapacity != 0 || q&(q-1) != 0 {
			t.Fatalf("after %d appends cap=%d is not 8*2^k", n, c)
		}
		if c >= 2*MinCapacity && c/2 >= n {
			t.Fatalf("after %d appends cap=%d more than doubled past need", n, c)
		}
	}
}

func TestBufferGrowsOncePerDoubling(t *testing.T) {
	b := New[int](0)
	for i := 0; i < 1024; i++ {
		if err := b.Append(i); err != nil {
			t.Fatal(err)
		}
	}
	// 8, 16, 32, 64, 128, 256, 512, 1024
	if b.Grows() != 8 {
		t.Errorf("Grows() = %d, want 8", b.Grows())
	}
	for i := 0; i < 1024; i++ {
		if b.At(i) != i {
			t.Fatalf("At(%d) = %d after growth", i, b.At(i))
		}
	}
}

func TestEnsureCapacityJumpsDirectly(t *testing.T) {
	b := New[int](0)
	if err := b.EnsureCapacity(100); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 128 {
		t.Errorf("Cap() = %d, want 128", b.Cap())
	}
	if b.Grows() != 1 {
		t.Errorf("Grows() = %d, want a single reallocation", b.Grows())
	}
	if err := b.EnsureCapacity(50); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 128 || b.Grows() != 1 {
		t.Errorf("smaller request reallocated: cap=%d grows=%d", b.Cap(), b.Grows())
	}
}

func TestBufferPopLIFO(t *testing.T) {
	b := New[string](0)
	for _, s := range []string{"a", "b", "c"} {
		if err := b.Append(s); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"c", "b", "a"} {
		got, ok := b.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %q, %v; want %q", got, ok, want)
		}
	}
	if _, ok := b.Pop(); ok {
		t.Error("Pop after draining should report !ok")
	}
}

func TestBufferLimitIsFatal(t *testing.T) {
	b := New[int](16)
	for i := 0; i < 16; i++ {
		if err := b.Append(i); err != nil {
			t.Fatalf("Append within limit: %v", err)
		}
	}
	err := b.Append(16)
	if err == nil {
		t.Fatal("expected allocation error past limit")
	}
	if !errors.Is(err, ErrAllocation) || !IsFatal(err) {
		t.Errorf("error %v is not an allocation error", err)
	}
	var ae *AllocationError
	if !errors.As(err, &ae) || ae.Limit != 16 || ae.Requested != 17 {
		t.Errorf("unexpected AllocationError: %+v", ae)
	}
	// The buffer is left intact.
	if b.Len() != 16 || b.At(15) != 15 {
		t.Errorf("buffer modified by failed growth: len=%d", b.Len())
	}
}

func TestBufferLimitClampsFinalGrowth(t *testing.T) {
	b := New[int](12)
	if err := b.EnsureCapacity(10); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 12 {
		t.Errorf("Cap() = %d, want clamp to 12", b.Cap())
	}
}

func TestBufferRuntimeRefusalIsFatal(t *testing.T) {
	b := New[[1 << 20]byte](0)
	err := b.EnsureCapacity(1 << 50)
	if !IsFatal(err) {
		t.Fatalf("EnsureCapacity(huge) = %v, want fatal allocation error", err)
	}
	if b.Cap() != 0 {
		t.Errorf("Cap() = %d after failed allocation", b.Cap())
	}
}

func TestBufferAppendAll(t *testing.T) {
	b := New[byte](0)
	if err := b.AppendAll(1, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendAll(4, 5, 6, 7, 8, 9); err != nil {
		t.Fatal(err)
	}
	got := b.Slice()
	if len(got) != 9 || got[0] != 1 || got[8] != 9 {
		t.Errorf("Slice() = %v", got)
	}
	if b.Cap() != 16 {
		t.Errorf("Cap() = %d, want 16", b.Cap())
	}
}

func TestBufferTruncateKeepsCapacity(t *testing.T) {
	b := New[int](0)
	for i := 0; i < 20; i++ {
		_ = b.Append(i)
	}
	b.Truncate(5)
	if b.Len() != 5 || b.Cap() != 32 {
		t.Errorf("after Truncate(5): len=%d cap=%d", b.Len(), b.Cap())
	}
	last, _ := b.Last()
	if last != 4 {
		t.Errorf("Last() = %d, want 4", last)
	}
}

func TestBufferFree(t *testing.T) {
	b := New[int](0)
	for i := 0; i < 10; i++ {
		_ = b.Append(i)
	}
	b.Free()
	if b.Len() != 0 || b.Cap() != 0 || b.Slice() != nil {
		t.Errorf("after Free: len=%d cap=%d", b.Len(), b.Cap())
	}
	if err := b.Append(1); err != nil {
		t.Fatalf("Append after Free: %v", err)
	}
	if b.Cap() != MinCapacity {
		t.Errorf("Cap() after reuse = %d, want %d", b.Cap(), MinCapacity)
	}
}

func TestBufferAtPanicsOutOfRange(t *testing.T) {
	b := New[int](0)
	_ = b.Append(1)
	defer func() {
		if recover() == nil {
			t.Error("At(1) on len-1 buffer should panic")
		}
	}()
	b.At(1)
}

func BenchmarkBufferAppend(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := New[int](0)
		for j := 0; j < 1024; j++ {
			_ = buf.Append(j)
		}
	}
}
