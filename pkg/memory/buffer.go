// Package memory provides the growable buffer used by every variable-length
// collection in the bytecode core: the instruction stream, the constant pool,
// the line table and the VM operand stack.
//
// Buffers grow by amortized doubling. A buffer that cannot grow reports an
// *AllocationError instead of continuing with a partially grown backing
// array. Callers treat that error as fatal.
package memory

import (
	"errors"
	"fmt"
)

// MinCapacity is the capacity of a buffer after its first growth.
const MinCapacity = 8

// ErrAllocation is matched by every *AllocationError.
var ErrAllocation = errors.New("memory: allocation failed")

// AllocationError reports a growth request that could not be satisfied.
type AllocationError struct {
	Requested int   // Capacity the buffer tried to reach
	Limit     int   // Configured ceiling, 0 if unlimited
	Cause     error // Underlying runtime failure, if any
}

func (e *AllocationError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("memory: cannot allocate %d elements: %v", e.Requested, e.Cause)
	case e.Limit > 0:
		return fmt.Sprintf("memory: cannot grow to %d elements (limit %d)", e.Requested, e.Limit)
	default:
		return fmt.Sprintf("memory: cannot allocate %d elements", e.Requested)
	}
}

// Is reports whether target is ErrAllocation.
func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocation
}

func (e *AllocationError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if err signals an allocation failure anywhere in its chain.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAllocation)
}

// GrowCapacity returns the next capacity after capacity: MinCapacity for an
// empty buffer, double otherwise.
func GrowCapacity(capacity int) int {
	if capacity < MinCapacity {
		return MinCapacity
	}
	return capacity * 2
}

// Buffer is an amortized-doubling dynamic array.
//
// The backing array always has length == capacity; count tracks how many
// slots are in use. Elements are addressed by index only, never by pointer,
// because growth relocates the backing array.
type Buffer[T any] struct {
	data  []T
	count int
	limit int
	grows int
}

// New creates an empty buffer. A limit greater than zero caps the capacity
// the buffer may grow to.
func New[T any](limit int) *Buffer[T] {
	return &Buffer[T]{limit: limit}
}

// Len returns the number of elements in use.
func (b *Buffer[T]) Len() int {
	return b.count
}

// Cap returns the current capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.data)
}

// Limit returns the capacity ceiling (0 = unlimited).
func (b *Buffer[T]) Limit() int {
	return b.limit
}

// SetLimit changes the capacity ceiling. It does not shrink the buffer.
func (b *Buffer[T]) SetLimit(limit int) {
	b.limit = limit
}

// Grows returns how many times the backing array has been reallocated.
func (b *Buffer[T]) Grows() int {
	return b.grows
}

// EnsureCapacity grows the buffer until it can hold minCount elements.
// Existing elements are copied once per reallocation.
func (b *Buffer[T]) EnsureCapacity(minCount int) error {
	if minCount <= len(b.data) {
		return nil
	}
	if b.limit > 0 && minCount > b.limit {
		return &AllocationError{Requested: minCount, Limit: b.limit}
	}

	newCap := len(b.data)
	for newCap < minCount {
		newCap = GrowCapacity(newCap)
	}
	if b.limit > 0 && newCap > b.limit {
		newCap = b.limit
	}
	return b.reallocate(newCap)
}

// reallocate moves the buffer to a backing array of newCap elements.
// A newCap of zero releases the backing array.
func (b *Buffer[T]) reallocate(newCap int) (err error) {
	if newCap == 0 {
		b.data = nil
		b.count = 0
		return nil
	}

	// make panics on sizes the runtime refuses; surface that as a fatal
	// allocation error and leave the old backing array untouched.
	defer func() {
		if r := recover(); r != nil {
			err = &AllocationError{Requested: newCap, Limit: b.limit, Cause: fmt.Errorf("%v", r)}
		}
	}()

	data := make([]T, newCap)
	copy(data, b.data[:b.count])
	b.data = data
	b.grows++
	return nil
}

// Append adds v at the tail.
func (b *Buffer[T]) Append(v T) error {
	if b.count == len(b.data) {
		if err := b.EnsureCapacity(b.count + 1); err != nil {
			return err
		}
	}
	b.data[b.count] = v
	b.count++
	return nil
}

// AppendAll adds every element of vs at the tail with at most one growth
// sequence.
func (b *Buffer[T]) AppendAll(vs ...T) error {
	if err := b.EnsureCapacity(b.count + len(vs)); err != nil {
		return err
	}
	copy(b.data[b.count:], vs)
	b.count += len(vs)
	return nil
}

// Pop removes and returns the tail element. ok is false if the buffer is empty.
func (b *Buffer[T]) Pop() (v T, ok bool) {
	if b.count == 0 {
		return v, false
	}
	b.count--
	v = b.data[b.count]
	var zero T
	b.data[b.count] = zero
	return v, true
}

// Last returns the tail element without removing it.
func (b *Buffer[T]) Last() (v T, ok bool) {
	if b.count == 0 {
		return v, false
	}
	return b.data[b.count-1], true
}

// At returns the element at index i. It panics if i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.count {
		panic(fmt.Sprintf("memory: index %d out of range [0:%d]", i, b.count))
	}
	return b.data[i]
}

// Truncate drops every element from index n on. Capacity is kept.
func (b *Buffer[T]) Truncate(n int) {
	if n < 0 || n >= b.count {
		return
	}
	var zero T
	for i := n; i < b.count; i++ {
		b.data[i] = zero
	}
	b.count = n
}

// Slice returns the elements in use. The slice aliases the backing array
// and is invalidated by the next growth.
func (b *Buffer[T]) Slice() []T {
	return b.data[:b.count]
}

// Free releases the backing array. The buffer is empty and reusable afterwards.
func (b *Buffer[T]) Free() {
	_ = b.reallocate(0)
}
