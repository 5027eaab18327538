package predicate

import (
	"strconv"
	"strings"

	"dicom-router/internal/dicom"
)

// node is one element of a parsed predicate
type node interface {
	eval(attrs dicom.Attributes) term
	String() string
}

type identNode struct {
	name string
}

type literalNode struct {
	value dicom.Value
	text  string
}

type listNode struct {
	items []dicom.Value
	texts []string
}

type compareNode struct {
	op          tokenKind
	negated     bool // "not in"
	left, right node
}

type logicalNode struct {
	op          tokenKind // tokAnd or tokOr
	left, right node
}

type notNode struct {
	operand node
}

func (n *identNode) String() string {
	return n.name
}

func (n *literalNode) String() string {
	return n.text
}

func (n *listNode) String() string {
	return "[" + strings.Join(n.texts, ", ") + "]"
}

func (n *compareNode) String() string {
	op := n.op.symbol()
	if n.negated {
		op = "not in"
	}
	return "(" + n.left.String() + " " + op + " " + n.right.String() + ")"
}

func (n *logicalNode) String() string {
	return "(" + n.left.String() + " " + n.op.symbol() + " " + n.right.String() + ")"
}

func (n *notNode) String() string {
	return "(not " + n.operand.String() + ")"
}

func (k tokenKind) symbol() string {
	return strings.Trim(k.String(), "'")
}

func quote(s string) string {
	return strconv.Quote(s)
}
