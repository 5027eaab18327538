package predicate

import (
	"strings"

	"dicom-router/internal/dicom"
)

type termKind int

const (
	termMissing termKind = iota
	termValue
	termList
	termBool
)

// term is the result of evaluating any node
type term struct {
	kind  termKind
	value dicom.Value
	list  []dicom.Value
	b     bool
}

func boolTerm(b bool) term {
	return term{kind: termBool, b: b}
}

func (t term) truthy() bool {
	switch t.kind {
	case termValue:
		return t.value.Truthy()
	case termList:
		return len(t.list) > 0
	case termBool:
		return t.b
	default:
		return false
	}
}

func (n *identNode) eval(attrs dicom.Attributes) term {
	v, ok := attrs[n.name]
	if !ok || !v.IsValid() {
		return term{kind: termMissing}
	}
	return term{kind: termValue, value: v}
}

func (n *literalNode) eval(dicom.Attributes) term {
	return term{kind: termValue, value: n.value}
}

func (n *listNode) eval(dicom.Attributes) term {
	return term{kind: termList, list: n.items}
}

func (n *notNode) eval(attrs dicom.Attributes) term {
	return boolTerm(!n.operand.eval(attrs).truthy())
}

func (n *logicalNode) eval(attrs dicom.Attributes) term {
	left := n.left.eval(attrs).truthy()
	if n.op == tokAnd && !left {
		return boolTerm(false)
	}
	if n.op == tokOr && left {
		return boolTerm(true)
	}
	return boolTerm(n.right.eval(attrs).truthy())
}

// eval resolves a comparison. Any comparison that cannot be decided,
// because an attribute is missing or the kinds do not match, is false.
func (n *compareNode) eval(attrs dicom.Attributes) term {
	left := n.left.eval(attrs)
	right := n.right.eval(attrs)
	if left.kind == termMissing || right.kind == termMissing {
		return boolTerm(false)
	}

	switch n.op {
	case tokEq, tokNe:
		eq, ok := equalTerms(left, right)
		if !ok {
			return boolTerm(false)
		}
		return boolTerm(eq == (n.op == tokEq))

	case tokLt, tokGt, tokLe, tokGe:
		return boolTerm(orderTerms(n.op, left, right))

	case tokIn:
		found, ok := memberOf(left, right)
		if !ok {
			return boolTerm(false)
		}
		return boolTerm(found != n.negated)
	}
	return boolTerm(false)
}

// equalTerms reports equality and whether the two terms are comparable at all
func equalTerms(a, b term) (bool, bool) {
	if a.kind == termBool || b.kind == termBool {
		if a.kind != b.kind {
			return false, false
		}
		return a.b == b.b, true
	}

	av, aok := asValue(a)
	bv, bok := asValue(b)
	if !aok || !bok {
		return false, false
	}
	return equalValues(av, bv)
}

// asValue turns a list literal of strings into a sequence so it can be compared
// with a sequence attribute
func asValue(t term) (dicom.Value, bool) {
	if t.kind == termValue {
		return t.value, true
	}
	if t.kind != termList {
		return dicom.Value{}, false
	}
	items := make([]string, len(t.list))
	for i, item := range t.list {
		s, ok := item.Str()
		if !ok {
			return dicom.Value{}, false
		}
		items[i] = s
	}
	return dicom.Sequence(items), true
}

func equalValues(a, b dicom.Value) (bool, bool) {
	if a.Kind() == b.Kind() {
		return a.Equal(b), true
	}
	// A number against a numeric-looking string compares numerically.
	if a.Kind() == dicom.KindNumber || b.Kind() == dicom.KindNumber {
		an, aok := a.Numeric()
		bn, bok := b.Numeric()
		if aok && bok {
			return an == bn, true
		}
	}
	return false, false
}

func orderTerms(op tokenKind, a, b term) bool {
	if a.kind != termValue || b.kind != termValue {
		return false
	}
	an, aok := a.value.Numeric()
	bn, bok := b.value.Numeric()
	if !aok || !bok {
		return false
	}

	switch op {
	case tokLt:
		return an < bn
	case tokGt:
		return an > bn
	case tokLe:
		return an <= bn
	case tokGe:
		return an >= bn
	}
	return false
}

// memberOf implements "in". A string on the right is searched for a substring;
// a sequence or list on the right is searched for an equal element; a sequence
// or list on the left matches when any of its elements is found.
func memberOf(left, right term) (bool, bool) {
	haystack, ok := elements(right)
	if !ok {
		if right.kind == termValue && right.value.Kind() == dicom.KindString && left.kind == termValue {
			needle, isStr := left.value.Str()
			if !isStr {
				return false, false
			}
			s, _ := right.value.Str()
			return strings.Contains(s, needle), true
		}
		return false, false
	}

	needles, isMulti := elements(left)
	if !isMulti {
		if left.kind != termValue {
			return false, false
		}
		needles = []dicom.Value{left.value}
	}

	for _, needle := range needles {
		for _, item := range haystack {
			if eq, ok := equalValues(needle, item); ok && eq {
				return true, true
			}
		}
	}
	return false, true
}

// elements lists the members of a sequence attribute or list literal
func elements(t term) ([]dicom.Value, bool) {
	switch t.kind {
	case termList:
		return t.list, true
	case termValue:
		seq, ok := t.value.Seq()
		if !ok {
			return nil, false
		}
		values := make([]dicom.Value, len(seq))
		for i, s := range seq {
			values[i] = dicom.String(s)
		}
		return values, true
	default:
		return nil, false
	}
}
