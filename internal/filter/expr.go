// Package filter provides the row filter pipeline: a fluent expression
// tree, compilation into closure-composed evaluators specialised per
// predicate, and single-pass column offset hoisting.
package filter

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Op is a comparison operator of a leaf predicate.
type Op uint8

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpBetween
	OpIsNull
	OpIsNotNull
	OpStartsWith
	OpEndsWith
	OpContains
	OpIn
	OpNotIn
)

// ValueKind tags a TypedValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt64
	KindDouble
	KindDecimal
	KindUtf8
	KindGUID
	KindInt64Set
	KindUtf8Set
	KindInt64Range
	KindDoubleRange
)

// TypedValue is the discriminated union of filter operand types. Scalar
// payloads live inline; text operands are pre-encoded UTF-8 so per-row
// comparisons are raw byte compares.
type TypedValue struct {
	Kind  ValueKind
	Int   int64
	Int2  int64 // range upper bound, decimal lo, or GUID lo
	Fl    float64
	Fl2   float64 // range upper bound
	Bytes []byte
	Ints  []int64
	Texts [][]byte
}

// Int64 builds an integer operand.
func Int64(v int64) TypedValue { return TypedValue{Kind: KindInt64, Int: v} }

// Double builds a floating-point operand.
func Double(v float64) TypedValue { return TypedValue{Kind: KindDouble, Fl: v} }

// Utf8 builds a text operand, encoding it once.
func Utf8(s string) TypedValue { return TypedValue{Kind: KindUtf8, Bytes: []byte(s)} }

// Decimal builds a 128-bit decimal operand from its hi|lo halves.
func Decimal(hi, lo int64) TypedValue { return TypedValue{Kind: KindDecimal, Int: hi, Int2: lo} }

// GUID builds a GUID operand from its hi|lo halves.
func GUID(hi, lo int64) TypedValue { return TypedValue{Kind: KindGUID, Int: hi, Int2: lo} }

// UUID builds a GUID operand from a uuid.UUID, big-endian halves.
func UUID(u uuid.UUID) TypedValue {
	return GUID(
		int64(binary.BigEndian.Uint64(u[0:8])),
		int64(binary.BigEndian.Uint64(u[8:16])),
	)
}

// Int64Set builds a set operand for In/NotIn.
func Int64Set(vs ...int64) TypedValue { return TypedValue{Kind: KindInt64Set, Ints: vs} }

// Utf8Set builds a text set operand for In/NotIn, encoding each key once.
func Utf8Set(ss ...string) TypedValue {
	texts := make([][]byte, len(ss))
	for i, s := range ss {
		texts[i] = []byte(s)
	}
	return TypedValue{Kind: KindUtf8Set, Texts: texts}
}

// Int64Range builds an inclusive integer range operand for Between.
func Int64Range(lo, hi int64) TypedValue {
	return TypedValue{Kind: KindInt64Range, Int: lo, Int2: hi}
}

// DoubleRange builds an inclusive floating-point range operand.
func DoubleRange(lo, hi float64) TypedValue {
	return TypedValue{Kind: KindDoubleRange, Fl: lo, Fl2: hi}
}

type nodeKind uint8

const (
	nodeLeaf nodeKind = iota
	nodeAnd
	nodeOr
	nodeNot
)

// Node is one node of the filter expression tree.
type Node struct {
	kind     nodeKind
	children []*Node

	// leaf fields
	col ColumnRef
	op  Op
	val TypedValue
}

// ColumnRef names a column by name or logical ordinal.
type ColumnRef struct {
	Name    string
	Ordinal int // -1 when referenced by name
}

// Column references a column by name.
func Column(name string) ColumnRef { return ColumnRef{Name: name, Ordinal: -1} }

// Ordinal references a column by logical ordinal.
func Ordinal(i int) ColumnRef { return ColumnRef{Ordinal: i} }

func (c ColumnRef) leaf(op Op, val TypedValue) *Node {
	return &Node{kind: nodeLeaf, col: c, op: op, val: val}
}

// Eq matches rows whose column equals v.
func (c ColumnRef) Eq(v TypedValue) *Node { return c.leaf(OpEq, v) }

// Neq matches rows whose column does not equal v. NULL cells never match.
func (c ColumnRef) Neq(v TypedValue) *Node { return c.leaf(OpNeq, v) }

// Lt matches rows whose column is less than v.
func (c ColumnRef) Lt(v TypedValue) *Node { return c.leaf(OpLt, v) }

// Lte matches rows whose column is at most v.
func (c ColumnRef) Lte(v TypedValue) *Node { return c.leaf(OpLte, v) }

// Gt matches rows whose column is greater than v.
func (c ColumnRef) Gt(v TypedValue) *Node { return c.leaf(OpGt, v) }

// Gte matches rows whose column is at least v.
func (c ColumnRef) Gte(v TypedValue) *Node { return c.leaf(OpGte, v) }

// Between matches rows whose column lies in the inclusive range v.
func (c ColumnRef) Between(v TypedValue) *Node { return c.leaf(OpBetween, v) }

// IsNull matches rows whose column is NULL.
func (c ColumnRef) IsNull() *Node { return c.leaf(OpIsNull, TypedValue{}) }

// IsNotNull matches rows whose column is not NULL.
func (c ColumnRef) IsNotNull() *Node { return c.leaf(OpIsNotNull, TypedValue{}) }

// StartsWith matches text columns with the given prefix.
func (c ColumnRef) StartsWith(s string) *Node { return c.leaf(OpStartsWith, Utf8(s)) }

// EndsWith matches text columns with the given suffix.
func (c ColumnRef) EndsWith(s string) *Node { return c.leaf(OpEndsWith, Utf8(s)) }

// Contains matches text columns containing the given substring.
func (c ColumnRef) Contains(s string) *Node { return c.leaf(OpContains, Utf8(s)) }

// In matches rows whose column is a member of the set v.
func (c ColumnRef) In(v TypedValue) *Node { return c.leaf(OpIn, v) }

// NotIn matches rows whose column is not a member of the set v. NULL
// cells never match.
func (c ColumnRef) NotIn(v TypedValue) *Node { return c.leaf(OpNotIn, v) }

// And combines nodes; all must match.
func And(nodes ...*Node) *Node { return &Node{kind: nodeAnd, children: nodes} }

// Or combines nodes; any may match.
func Or(nodes ...*Node) *Node { return &Node{kind: nodeOr, children: nodes} }

// Not inverts a node.
func Not(n *Node) *Node { return &Node{kind: nodeNot, children: []*Node{n}} }

// MaxDepth bounds expression tree nesting.
const MaxDepth = 32

func (n *Node) depth() int {
	if n == nil {
		return 0
	}
	max := 0
	for _, c := range n.children {
		if d := c.depth(); d > max {
			max = d
		}
	}
	return max + 1
}
