// Package dicom turns the flat tag maps returned by the archive into typed attributes
// that routing predicates can compare.
package dicom

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies which of the three shapes a Value holds
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindSequence:
		return "sequence"
	default:
		return "invalid"
	}
}

// Value is exactly one of a string, a number or an ordered sequence of strings.
// The zero Value is invalid and never produced by Normalize.
type Value struct {
	kind Kind
	str  string
	num  float64
	seq  []string
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// Sequence copies items so later changes to the slice do not leak into the value.
func Sequence(items []string) Value {
	return Value{kind: KindSequence, seq: append([]string(nil), items...)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsValid() bool {
	return v.kind != 0
}

// Str returns the string and true for string values
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Num returns the number and true for number values
func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Seq returns the items and true for sequence values. The slice must not be modified.
func (v Value) Seq() ([]string, bool) {
	return v.seq, v.kind == KindSequence
}

// Numeric returns the value as a number, coercing strings that parse as one.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Truthy is true for a non-zero number, a non-empty string or a non-empty sequence
func (v Value) Truthy() bool {
	switch v.kind {
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0
	case KindSequence:
		return len(v.seq) > 0
	default:
		return false
	}
}

// Equal compares kind and content; sequences compare element-wise
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindSequence:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if v.seq[i] != other.seq[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindSequence:
		return strings.Join(v.seq, `\`)
	default:
		return ""
	}
}

// MarshalJSON renders the natural JSON form: string, number or array
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindSequence:
		return json.Marshal(v.seq)
	default:
		return []byte("null"), nil
	}
}

// Attributes maps attribute names to their normalized values. Built fresh per evaluation.
type Attributes map[string]Value

// Lookup returns the value for name and whether it is present
func (a Attributes) Lookup(name string) (Value, bool) {
	v, ok := a[name]
	return v, ok
}
