package query

import (
	"strings"

	"github.com/tabulon/tabulon/pkg/types"
)

// Op identifies the comparison kind of a predicate clause.
type Op uint8

const (
	OpEqual Op = iota
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
	OpBetween
	OpContains
	OpBeginsWith
	OpEndsWith
)

// String returns the operator's notation as used in stats and messages.
func (op Op) String() string {
	switch op {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	case OpBetween:
		return "between"
	case OpContains:
		return "contains"
	case OpBeginsWith:
		return "begins"
	case OpEndsWith:
		return "ends"
	default:
		return "op?"
	}
}

// ordered reports whether the operator needs an ordered column type.
func (op Op) ordered() bool {
	switch op {
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpBetween:
		return true
	default:
		return false
	}
}

// stringOp reports whether the operator applies to string columns only.
func (op Op) stringOp() bool {
	switch op {
	case OpContains, OpBeginsWith, OpEndsWith:
		return true
	default:
		return false
	}
}

// node is one vertex of the predicate tree. match receives the full row
// values slice; column bounds were validated at build time.
type node interface {
	match(values []interface{}) bool
}

// clause is a leaf: one column compared against a typed literal or range.
type clause struct {
	column int
	op     Op
	value  interface{}
	high   interface{} // upper bound for between
}

func (c *clause) match(values []interface{}) bool {
	v := values[c.column]

	switch c.op {
	case OpEqual:
		return types.Compare(v, c.value) == 0
	case OpNotEqual:
		return types.Compare(v, c.value) != 0
	case OpLess:
		return types.Compare(v, c.value) < 0
	case OpLessOrEqual:
		return types.Compare(v, c.value) <= 0
	case OpGreater:
		return types.Compare(v, c.value) > 0
	case OpGreaterOrEqual:
		return types.Compare(v, c.value) >= 0
	case OpBetween:
		return types.Compare(v, c.value) >= 0 && types.Compare(v, c.high) <= 0
	case OpContains, OpBeginsWith, OpEndsWith:
		s, ok := v.(string)
		if !ok {
			return false
		}
		needle := c.value.(string)
		switch c.op {
		case OpContains:
			return strings.Contains(s, needle)
		case OpBeginsWith:
			return strings.HasPrefix(s, needle)
		default:
			return strings.HasSuffix(s, needle)
		}
	default:
		return false
	}
}

// group is an interior vertex: a disjunction of conjunction chains.
// Conditions added in sequence extend the current chain; Or starts a new
// one. An empty group matches every row (the identity query).
type group struct {
	terms [][]node
}

func (g *group) match(values []interface{}) bool {
	if len(g.terms) == 0 {
		return true
	}
	for _, term := range g.terms {
		all := true
		for _, n := range term {
			if !n.match(values) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// danglingOr reports whether the group ends in an Or with no condition
// after it. Left unchecked, the empty trailing term would match every row.
func (g *group) danglingOr() bool {
	return len(g.terms) > 0 && len(g.terms[len(g.terms)-1]) == 0
}

// not negates its child.
type not struct {
	child node
}

func (n *not) match(values []interface{}) bool {
	return !n.child.match(values)
}

// singleEquality returns the clause if the tree is exactly one equality
// leaf, the shape the membership-filter fast path can answer.
func (g *group) singleEquality() *clause {
	if len(g.terms) != 1 || len(g.terms[0]) != 1 {
		return nil
	}
	c, ok := g.terms[0][0].(*clause)
	if !ok || c.op != OpEqual {
		return nil
	}
	return c
}
