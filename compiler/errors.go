package compiler

import (
	"fmt"
	"strings"
)

// Error is a compile error at a source position.
type Error struct {
	Line    int
	Column  int
	Where   string // "at '+'", "at end", or empty
	Message string
}

func (e *Error) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("[line %d:%d] Error: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("[line %d:%d] Error %s: %s", e.Line, e.Column, e.Where, e.Message)
}

// ErrorList collects every error reported while compiling one source text.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Line returns the line of the first error, or 0 if the list is empty.
func (l ErrorList) Line() int {
	if len(l) == 0 {
		return 0
	}
	return l[0].Line
}

// Err returns the list as an error, or nil if it is empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}
