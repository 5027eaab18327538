package predicate

import (
	"errors"
	"fmt"
)

// ErrSyntax is matched by every SyntaxError through errors.Is
var ErrSyntax = errors.New("predicate syntax error")

// SyntaxError reports where a predicate stopped parsing. Pos is a byte offset into Predicate.
type SyntaxError struct {
	Predicate string
	Pos       int
	Msg       string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d in %q: %s", e.Pos, e.Predicate, e.Msg)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}
