package filter

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	sharcerr "github.com/sharcdb/sharc/core/errors"
	"github.com/sharcdb/sharc/internal/schema"
)

// Row is the per-row evaluation context a compiled filter runs against.
// SerialTypes and Offsets are indexed by physical cell ordinal; Offsets
// is filled by the hoisting pass for referenced ordinals only.
type Row struct {
	Payload     []byte
	SerialTypes []uint64
	Offsets     []int
	Rowid       int64
}

// predicate is a baked delegate: one specialised closure per leaf,
// composed with and/or/not adapters. Zero allocation per row.
type predicate func(r *Row) bool

// Per-predicate cost estimates used to short-circuit cheap checks first.
const (
	costRowid    = 0
	costInt      = 1
	costDouble   = 2
	costTextEq   = 3
	costPrefix   = 4
	costTextScan = 5
	costSet      = 6
	costCompound = 10
)

// Compiled is a filter lowered to a closure tree for one table layout.
type Compiled struct {
	eval predicate
	// refSet marks referenced physical ordinals; maxOrdinal is the
	// largest marked ordinal, -1 when only the rowid is referenced.
	refSet     []bool
	maxOrdinal int
	// columns are the logical column names the filter references,
	// including predicate-only references, for entitlement checks.
	columns []string
}

// Columns returns the logical column names the filter references.
func (c *Compiled) Columns() []string { return c.columns }

type compiler struct {
	table  *schema.Table
	refSet []bool
	cols   map[string]struct{}
}

// Compile lowers the expression tree against a table layout. Column
// references are resolved eagerly; unknown columns and over-deep trees
// fail here, not per row.
func Compile(root *Node, table *schema.Table) (*Compiled, error) {
	if root == nil {
		return nil, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "nil filter")
	}
	if root.depth() > MaxDepth {
		return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"filter nesting exceeds %d", MaxDepth)
	}

	c := &compiler{
		table:  table,
		refSet: make([]bool, table.PhysicalColumns),
		cols:   make(map[string]struct{}),
	}
	eval, _, err := c.compile(root)
	if err != nil {
		return nil, err
	}

	maxOrdinal := -1
	for i, ref := range c.refSet {
		if ref {
			maxOrdinal = i
		}
	}
	columns := make([]string, 0, len(c.cols))
	for name := range c.cols {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	return &Compiled{
		eval:       eval,
		refSet:     c.refSet,
		maxOrdinal: maxOrdinal,
		columns:    columns,
	}, nil
}

func (c *compiler) compile(n *Node) (predicate, int, error) {
	switch n.kind {
	case nodeLeaf:
		return c.compileLeaf(n)

	case nodeNot:
		if len(n.children) != 1 {
			return nil, 0, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "NOT takes one child")
		}
		child, cost, err := c.compile(n.children[0])
		if err != nil {
			return nil, 0, err
		}
		return func(r *Row) bool { return !child(r) }, cost, nil

	case nodeAnd, nodeOr:
		if len(n.children) == 0 {
			return nil, 0, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "empty compound")
		}
		type ranked struct {
			eval predicate
			cost int
		}
		kids := make([]ranked, len(n.children))
		for i, child := range n.children {
			eval, cost, err := c.compile(child)
			if err != nil {
				return nil, 0, err
			}
			kids[i] = ranked{eval, cost}
		}
		if n.kind == nodeAnd {
			// Cheapest first so expensive predicates only run on rows
			// that survived the cheap ones.
			sort.SliceStable(kids, func(i, j int) bool { return kids[i].cost < kids[j].cost })
		}
		evals := make([]predicate, len(kids))
		for i, k := range kids {
			evals[i] = k.eval
		}
		if n.kind == nodeAnd {
			return func(r *Row) bool {
				for _, e := range evals {
					if !e(r) {
						return false
					}
				}
				return true
			}, costCompound, nil
		}
		return func(r *Row) bool {
			for _, e := range evals {
				if e(r) {
					return true
				}
			}
			return false
		}, costCompound, nil
	}
	return nil, 0, sharcerr.Wrap(sharcerr.ErrInvalidArgument, "unknown node kind")
}

func (c *compiler) resolve(ref ColumnRef) (*schema.Column, error) {
	if ref.Ordinal >= 0 {
		if ref.Ordinal >= len(c.table.Columns) {
			return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
				"column ordinal %d out of range", ref.Ordinal)
		}
		return &c.table.Columns[ref.Ordinal], nil
	}
	col, ok := c.table.ColumnByName(ref.Name)
	if !ok {
		return nil, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"unknown column %q", ref.Name)
	}
	return col, nil
}

func (c *compiler) compileLeaf(n *Node) (predicate, int, error) {
	col, err := c.resolve(n.col)
	if err != nil {
		return nil, 0, err
	}
	c.cols[col.Name] = struct{}{}

	if col.IsRowidAlias {
		return compileRowidLeaf(n, col)
	}

	if col.Merged != schema.MergedNone {
		return c.compileMergedLeaf(n, col)
	}

	ord := col.Physical[0]
	c.refSet[ord] = true
	return compileCellLeaf(n, ord)
}

// compileRowidLeaf specialises predicates on the INTEGER PRIMARY KEY
// alias. The cell body is NULL; the value is the cell's rowid, so these
// predicates never touch the record body, and the alias is never NULL.
func compileRowidLeaf(n *Node, col *schema.Column) (predicate, int, error) {
	switch n.op {
	case OpIsNull:
		return func(r *Row) bool { return false }, costRowid, nil
	case OpIsNotNull:
		return func(r *Row) bool { return true }, costRowid, nil
	}

	switch n.val.Kind {
	case KindInt64:
		v := n.val.Int
		switch n.op {
		case OpEq:
			return func(r *Row) bool { return r.Rowid == v }, costRowid, nil
		case OpNeq:
			return func(r *Row) bool { return r.Rowid != v }, costRowid, nil
		case OpLt:
			return func(r *Row) bool { return r.Rowid < v }, costRowid, nil
		case OpLte:
			return func(r *Row) bool { return r.Rowid <= v }, costRowid, nil
		case OpGt:
			return func(r *Row) bool { return r.Rowid > v }, costRowid, nil
		case OpGte:
			return func(r *Row) bool { return r.Rowid >= v }, costRowid, nil
		}
	case KindDouble:
		v := n.val.Fl
		cmp := func(r *Row) float64 { return float64(r.Rowid) }
		switch n.op {
		case OpEq:
			return func(r *Row) bool { return doubleEq(cmp(r), v) }, costRowid, nil
		case OpNeq:
			return func(r *Row) bool { return !doubleEq(cmp(r), v) }, costRowid, nil
		case OpLt:
			return func(r *Row) bool { return cmp(r) < v }, costRowid, nil
		case OpLte:
			return func(r *Row) bool { return cmp(r) <= v }, costRowid, nil
		case OpGt:
			return func(r *Row) bool { return cmp(r) > v }, costRowid, nil
		case OpGte:
			return func(r *Row) bool { return cmp(r) >= v }, costRowid, nil
		}
	case KindInt64Range:
		lo, hi := n.val.Int, n.val.Int2
		if n.op == OpBetween {
			return func(r *Row) bool { return r.Rowid >= lo && r.Rowid <= hi }, costRowid, nil
		}
	case KindInt64Set:
		set := n.val.Ints
		switch n.op {
		case OpIn:
			return func(r *Row) bool { return int64SetHas(set, r.Rowid) }, costRowid, nil
		case OpNotIn:
			return func(r *Row) bool { return !int64SetHas(set, r.Rowid) }, costRowid, nil
		}
	}
	return nil, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"operator/value mismatch on rowid column %s", col.Name)
}

// compileMergedLeaf expands a predicate on a GUID or decimal column into
// predicates on its two physical INT64 cells.
func (c *compiler) compileMergedLeaf(n *Node, col *schema.Column) (predicate, int, error) {
	hiOrd, loOrd := col.Physical[0], col.Physical[1]
	c.refSet[hiOrd] = true
	c.refSet[loOrd] = true

	switch n.op {
	case OpIsNull:
		return func(r *Row) bool { return r.SerialTypes[hiOrd] == 0 }, costInt, nil
	case OpIsNotNull:
		return func(r *Row) bool { return r.SerialTypes[hiOrd] != 0 }, costInt, nil
	}

	wantKind := KindGUID
	if col.Merged == schema.MergedDecimal {
		wantKind = KindDecimal
	}
	if n.val.Kind != wantKind {
		return nil, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
			"merged column %s requires a matching two-part operand", col.Name)
	}
	hi, lo := n.val.Int, n.val.Int2

	eq := func(r *Row) bool {
		return cellEqInt(r, hiOrd, hi) && cellEqInt(r, loOrd, lo)
	}
	switch n.op {
	case OpEq:
		return eq, 2 * costInt, nil
	case OpNeq:
		return func(r *Row) bool {
			// NULL never matches, even negated comparisons.
			if r.SerialTypes[hiOrd] == 0 || r.SerialTypes[loOrd] == 0 {
				return false
			}
			return !eq(r)
		}, 2 * costInt, nil
	}
	return nil, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"merged column %s supports Eq, Neq, IsNull, IsNotNull", col.Name)
}

// compileCellLeaf specialises a predicate on a regular physical cell by
// the operand's type tag.
func compileCellLeaf(n *Node, ord int) (predicate, int, error) {
	switch n.op {
	case OpIsNull:
		return func(r *Row) bool { return r.SerialTypes[ord] == 0 }, costInt, nil
	case OpIsNotNull:
		return func(r *Row) bool { return r.SerialTypes[ord] != 0 }, costInt, nil
	}

	switch n.val.Kind {
	case KindInt64:
		return compileNumericLeaf(n.op, ord, float64(n.val.Int), n.val.Int, true)
	case KindDouble:
		return compileNumericLeaf(n.op, ord, n.val.Fl, 0, false)
	case KindInt64Range:
		if n.op != OpBetween {
			break
		}
		lo, hi := n.val.Int, n.val.Int2
		return func(r *Row) bool {
			st := r.SerialTypes[ord]
			if st == 0 {
				return false
			}
			if st == 7 {
				v := cellDouble(r, ord)
				return v >= float64(lo) && v <= float64(hi)
			}
			v, ok := cellInt(r, ord, st)
			return ok && v >= lo && v <= hi
		}, costInt, nil
	case KindDoubleRange:
		if n.op != OpBetween {
			break
		}
		lo, hi := n.val.Fl, n.val.Fl2
		return func(r *Row) bool {
			v, ok := cellNumeric(r, ord)
			return ok && v >= lo && v <= hi
		}, costDouble, nil
	case KindUtf8:
		return compileTextLeaf(n.op, ord, n.val.Bytes)
	case KindInt64Set:
		set := n.val.Ints
		in := func(r *Row) bool {
			st := r.SerialTypes[ord]
			if st == 0 {
				return false
			}
			v, ok := cellInt(r, ord, st)
			return ok && int64SetHas(set, v)
		}
		switch n.op {
		case OpIn:
			return in, costSet, nil
		case OpNotIn:
			return func(r *Row) bool {
				if r.SerialTypes[ord] == 0 {
					return false
				}
				return !in(r)
			}, costSet, nil
		}
	case KindUtf8Set:
		set := n.val.Texts
		in := func(r *Row) bool {
			b, ok := cellText(r, ord)
			if !ok {
				return false
			}
			for _, key := range set {
				if bytes.Equal(b, key) {
					return true
				}
			}
			return false
		}
		switch n.op {
		case OpIn:
			return in, costSet, nil
		case OpNotIn:
			return func(r *Row) bool {
				if r.SerialTypes[ord] == 0 {
					return false
				}
				return !in(r)
			}, costSet, nil
		}
	}
	return nil, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"operator %d does not accept value kind %d", n.op, n.val.Kind)
}

// compileNumericLeaf handles int and double operands against int or
// double cells, converting across when the storage class differs.
func compileNumericLeaf(op Op, ord int, fv float64, iv int64, intOperand bool) (predicate, int, error) {
	cost := costDouble
	if intOperand {
		cost = costInt
	}

	// Integer fast path when both sides are integers; double compare
	// otherwise.
	cmpInt := func(r *Row, st uint64) (int, bool) {
		if intOperand && st != 7 {
			v, ok := cellInt(r, ord, st)
			if !ok {
				return 0, false
			}
			switch {
			case v < iv:
				return -1, true
			case v > iv:
				return 1, true
			default:
				return 0, true
			}
		}
		var v float64
		if st == 7 {
			v = cellDouble(r, ord)
		} else {
			iw, ok := cellInt(r, ord, st)
			if !ok {
				return 0, false
			}
			v = float64(iw)
		}
		switch {
		case v < fv:
			return -1, true
		case v > fv:
			return 1, true
		default:
			return 0, true
		}
	}

	switch op {
	case OpEq:
		if intOperand {
			return func(r *Row) bool {
				st := r.SerialTypes[ord]
				if st == 0 {
					return false
				}
				c, ok := cmpInt(r, st)
				return ok && c == 0
			}, cost, nil
		}
		return func(r *Row) bool {
			v, ok := cellNumeric(r, ord)
			return ok && doubleEq(v, fv)
		}, cost, nil
	case OpNeq:
		if intOperand {
			return func(r *Row) bool {
				st := r.SerialTypes[ord]
				if st == 0 {
					return false
				}
				c, ok := cmpInt(r, st)
				return ok && c != 0
			}, cost, nil
		}
		return func(r *Row) bool {
			v, ok := cellNumeric(r, ord)
			return ok && !doubleEq(v, fv)
		}, cost, nil
	case OpLt, OpLte, OpGt, OpGte:
		return func(r *Row) bool {
			st := r.SerialTypes[ord]
			if st == 0 {
				return false
			}
			c, ok := cmpInt(r, st)
			if !ok {
				return false
			}
			switch op {
			case OpLt:
				return c < 0
			case OpLte:
				return c <= 0
			case OpGt:
				return c > 0
			default:
				return c >= 0
			}
		}, cost, nil
	}
	return nil, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"operator %d does not accept a numeric operand", op)
}

func compileTextLeaf(op Op, ord int, key []byte) (predicate, int, error) {
	text := func(r *Row) ([]byte, bool) { return cellText(r, ord) }

	switch op {
	case OpEq:
		return func(r *Row) bool {
			b, ok := text(r)
			return ok && bytes.Equal(b, key)
		}, costTextEq, nil
	case OpNeq:
		return func(r *Row) bool {
			b, ok := text(r)
			return ok && !bytes.Equal(b, key)
		}, costTextEq, nil
	case OpLt, OpLte, OpGt, OpGte:
		return func(r *Row) bool {
			b, ok := text(r)
			if !ok {
				return false
			}
			c := bytes.Compare(b, key)
			switch op {
			case OpLt:
				return c < 0
			case OpLte:
				return c <= 0
			case OpGt:
				return c > 0
			default:
				return c >= 0
			}
		}, costTextEq, nil
	case OpStartsWith:
		return func(r *Row) bool {
			b, ok := text(r)
			return ok && bytes.HasPrefix(b, key)
		}, costPrefix, nil
	case OpEndsWith:
		return func(r *Row) bool {
			b, ok := text(r)
			return ok && bytes.HasSuffix(b, key)
		}, costTextScan, nil
	case OpContains:
		return func(r *Row) bool {
			b, ok := text(r)
			return ok && bytes.Contains(b, key)
		}, costTextScan, nil
	}
	return nil, 0, sharcerr.Wrapf(sharcerr.ErrInvalidArgument,
		"operator %d does not accept a text operand", op)
}

// Cell readers. Offsets were hoisted for every referenced ordinal before
// evaluation; serial types were validated when the row header was read.

func cellInt(r *Row, ord int, st uint64) (int64, bool) {
	off := r.Offsets[ord]
	p := r.Payload
	switch st {
	case 8:
		return 0, true
	case 9:
		return 1, true
	case 1:
		return int64(int8(p[off])), true
	case 2:
		return int64(int16(binary.BigEndian.Uint16(p[off:]))), true
	case 3:
		v := int64(p[off])<<16 | int64(p[off+1])<<8 | int64(p[off+2])
		if v&0x800000 != 0 {
			v |= ^int64(0xffffff)
		}
		return v, true
	case 4:
		return int64(int32(binary.BigEndian.Uint32(p[off:]))), true
	case 5:
		v := int64(p[off])<<40 | int64(p[off+1])<<32 | int64(p[off+2])<<24 |
			int64(p[off+3])<<16 | int64(p[off+4])<<8 | int64(p[off+5])
		if v&0x800000000000 != 0 {
			v |= ^int64(0xffffffffffff)
		}
		return v, true
	case 6:
		return int64(binary.BigEndian.Uint64(p[off:])), true
	}
	return 0, false
}

func cellDouble(r *Row, ord int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(r.Payload[r.Offsets[ord]:]))
}

// cellNumeric reads an int or double cell as a double; NULL and
// non-numeric cells report false.
func cellNumeric(r *Row, ord int) (float64, bool) {
	st := r.SerialTypes[ord]
	if st == 0 {
		return 0, false
	}
	if st == 7 {
		return cellDouble(r, ord), true
	}
	v, ok := cellInt(r, ord, st)
	return float64(v), ok
}

func cellText(r *Row, ord int) ([]byte, bool) {
	st := r.SerialTypes[ord]
	if st < 13 || st%2 == 0 {
		return nil, false
	}
	n := int((st - 13) / 2)
	off := r.Offsets[ord]
	return r.Payload[off : off+n], true
}

func cellEqInt(r *Row, ord int, want int64) bool {
	st := r.SerialTypes[ord]
	if st == 0 {
		return false
	}
	v, ok := cellInt(r, ord, st)
	return ok && v == want
}

func int64SetHas(set []int64, v int64) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// doubleEq compares doubles with absolute plus relative tolerance. NaN
// never equals anything; infinities compare exactly.
func doubleEq(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= 1e-12+1e-12*scale
}
