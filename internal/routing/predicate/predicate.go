// Package predicate compiles routing rule predicates into expressions
// that are evaluated against normalized study attributes.
//
// The grammar is
//
//	expr     := or
//	or       := and { "or" and }
//	and      := unary { "and" unary }
//	unary    := "not" unary | compare
//	compare  := operand [ cmpop operand ]
//	cmpop    := "==" | "!=" | "<" | ">" | "<=" | ">=" | "in" | "not" "in"
//	operand  := IDENT | NUMBER | STRING | list | "(" expr ")"
//	list     := "[" [ literal { "," literal } ] "]"
//
// A comparison involving an attribute that is not present, or values of
// kinds that cannot be compared, is false. It is never an error.
package predicate

import (
	"sort"

	"dicom-router/internal/dicom"
)

// Expression is a compiled predicate. It is immutable and safe for concurrent use.
type Expression struct {
	source string
	root   node
}

// Compile parses text. The only possible error is a *SyntaxError.
func Compile(text string) (*Expression, error) {
	root, err := parse(text)
	if err != nil {
		return nil, err
	}
	return &Expression{source: text, root: root}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and fixed predicates.
func MustCompile(text string) *Expression {
	expr, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return expr
}

// Eval reports whether attrs satisfy the predicate
func (e *Expression) Eval(attrs dicom.Attributes) bool {
	return e.root.eval(attrs).truthy()
}

// Source returns the text the expression was compiled from
func (e *Expression) Source() string {
	return e.source
}

// String returns the fully parenthesized form, showing how the text was grouped
func (e *Expression) String() string {
	return e.root.String()
}

// Attributes lists the attribute names the predicate refers to, sorted
func (e *Expression) Attributes() []string {
	seen := make(map[string]struct{})
	collect(e.root, seen)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collect(n node, seen map[string]struct{}) {
	switch n := n.(type) {
	case *identNode:
		seen[n.name] = struct{}{}
	case *compareNode:
		collect(n.left, seen)
		collect(n.right, seen)
	case *logicalNode:
		collect(n.left, seen)
		collect(n.right, seen)
	case *notNode:
		collect(n.operand, seen)
	}
}
