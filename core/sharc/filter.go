package sharc

import (
	"github.com/google/uuid"

	"github.com/sharcdb/sharc/internal/filter"
)

// Filter operand constructors, re-exported so callers build predicate
// trees against the public package alone.

// FilterValue is a typed filter operand.
type FilterValue = filter.TypedValue

// FilterInt64 builds an integer operand.
func FilterInt64(v int64) FilterValue { return filter.Int64(v) }

// FilterDouble builds a floating-point operand.
func FilterDouble(v float64) FilterValue { return filter.Double(v) }

// FilterUtf8 builds a text operand, pre-encoded once.
func FilterUtf8(s string) FilterValue { return filter.Utf8(s) }

// FilterDecimal builds a decimal operand from its hi|lo halves.
func FilterDecimal(hi, lo int64) FilterValue { return filter.Decimal(hi, lo) }

// FilterUUID builds a GUID operand.
func FilterUUID(u uuid.UUID) FilterValue { return filter.UUID(u) }

// FilterInt64Set builds a set operand for In/NotIn.
func FilterInt64Set(vs ...int64) FilterValue { return filter.Int64Set(vs...) }

// FilterUtf8Set builds a text set operand for In/NotIn.
func FilterUtf8Set(ss ...string) FilterValue { return filter.Utf8Set(ss...) }

// FilterInt64Range builds an inclusive integer range for Between.
func FilterInt64Range(lo, hi int64) FilterValue { return filter.Int64Range(lo, hi) }

// FilterDoubleRange builds an inclusive floating-point range for Between.
func FilterDoubleRange(lo, hi float64) FilterValue { return filter.DoubleRange(lo, hi) }

// FilterAnd combines filters; all must match.
func FilterAnd(nodes ...*Filter) *Filter { return filter.And(nodes...) }

// FilterOr combines filters; any may match.
func FilterOr(nodes ...*Filter) *Filter { return filter.Or(nodes...) }

// FilterNot inverts a filter.
func FilterNot(n *Filter) *Filter { return filter.Not(n) }
