// Package qlang parses a small filter expression language onto the query
// builder, for callers that receive filters as text (CLI, HTTP API).
//
// Grammar, loosely:
//
//	expr    := chain ( OR chain )*
//	chain   := unary ( AND unary )*
//	unary   := NOT unary | "(" expr ")" | comparison
//	compare := ident ( == | != | < | <= | > | >= ) literal
//	        |  ident ( CONTAINS | BEGINS | ENDS ) string
//	        |  ident BETWEEN literal AND literal
//
// Example: age >= 21 and (name begins 'A' or not city == 'X')
package qlang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/tabulon/tabulon/pkg/query"
	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

var (
	filterLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Keyword", Pattern: `(?i)\b(AND|OR|NOT|BETWEEN|CONTAINS|BEGINS|ENDS|TRUE|FALSE)\b`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Number", Pattern: `[-+]?\d*\.?\d+`},
		{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
		{Name: "Operator", Pattern: `==|!=|<=|>=|<|>`},
		{Name: "Punct", Pattern: `[()]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	filterParser = participle.MustBuild[Expr](
		participle.Lexer(filterLexer),
		participle.Unquote("String"),
		participle.CaseInsensitive("Keyword"),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
)

// Expr is a disjunction of conjunction chains.
type Expr struct {
	First *Chain   `parser:"@@"`
	Rest  []*Chain `parser:"( 'OR' @@ )*"`
}

// Chain is a conjunction of unary terms.
type Chain struct {
	First *Unary   `parser:"@@"`
	Rest  []*Unary `parser:"( 'AND' @@ )*"`
}

// Unary is a negation, a parenthesized subexpression, or a comparison.
type Unary struct {
	Not   *Unary      `parser:"  'NOT' @@"`
	Group *Expr       `parser:"| '(' @@ ')'"`
	Comp  *Comparison `parser:"| @@"`
}

// Comparison is one column compared against a literal or range.
type Comparison struct {
	Column string    `parser:"@Ident"`
	Range  *RangeOp  `parser:"( @@"`
	Simple *SimpleOp `parser:"| @@ )"`
}

// RangeOp is the BETWEEN low AND high form.
type RangeOp struct {
	Low  *Literal `parser:"'BETWEEN' @@"`
	High *Literal `parser:"'AND' @@"`
}

// SimpleOp is an operator plus a single literal.
type SimpleOp struct {
	Op    string   `parser:"@( Operator | 'CONTAINS' | 'BEGINS' | 'ENDS' )"`
	Value *Literal `parser:"@@"`
}

// Literal is a string, boolean, or numeric constant.
type Literal struct {
	Str  *string `parser:"  @String"`
	Bool *string `parser:"| @( 'TRUE' | 'FALSE' )"`
	Num  *string `parser:"| @Number"`
}

// value converts the parsed literal to its canonical Go value.
func (l *Literal) value() (interface{}, error) {
	switch {
	case l.Str != nil:
		return *l.Str, nil
	case l.Bool != nil:
		return strings.EqualFold(*l.Bool, "true"), nil
	case l.Num != nil:
		if strings.ContainsAny(*l.Num, ".") {
			f, err := strconv.ParseFloat(*l.Num, 64)
			if err != nil {
				return nil, types.NewQueryError(types.CodeParseError,
					fmt.Sprintf("bad float literal %q", *l.Num))
			}
			return f, nil
		}
		n, err := strconv.ParseInt(*l.Num, 10, 64)
		if err != nil {
			return nil, types.NewQueryError(types.CodeParseError,
				fmt.Sprintf("bad int literal %q", *l.Num))
		}
		return n, nil
	default:
		return nil, types.NewQueryError(types.CodeParseError, "empty literal")
	}
}

// Parse parses a filter expression into its syntax tree.
func Parse(input string) (*Expr, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, types.NewQueryError(types.CodeParseError, "empty filter expression")
	}
	expr, err := filterParser.ParseString("", input)
	if err != nil {
		return nil, types.Wrap(types.ErrCategoryQuery, types.CodeParseError,
			"parse filter expression", err)
	}
	return expr, nil
}

// Filter parses an expression and compiles it onto a new query scoped to
// the table. An empty input yields the match-all query.
func Filter(t *table.Table, input string) (*query.Query, error) {
	q := query.New(t)
	if strings.TrimSpace(input) == "" {
		return q, nil
	}
	expr, err := Parse(input)
	if err != nil {
		return nil, err
	}
	if err := applyExpr(q, t, expr); err != nil {
		return nil, err
	}
	return q, q.Err()
}

func applyExpr(q *query.Query, t *table.Table, e *Expr) error {
	if err := applyChain(q, t, e.First); err != nil {
		return err
	}
	for _, chain := range e.Rest {
		q.Or()
		if err := applyChain(q, t, chain); err != nil {
			return err
		}
	}
	return nil
}

func applyChain(q *query.Query, t *table.Table, c *Chain) error {
	if err := applyUnary(q, t, c.First); err != nil {
		return err
	}
	for _, u := range c.Rest {
		if err := applyUnary(q, t, u); err != nil {
			return err
		}
	}
	return nil
}

func applyUnary(q *query.Query, t *table.Table, u *Unary) error {
	switch {
	case u.Not != nil:
		q.Not()
		return applyUnary(q, t, u.Not)
	case u.Group != nil:
		q.BeginGroup()
		if err := applyExpr(q, t, u.Group); err != nil {
			return err
		}
		q.EndGroup()
		return nil
	case u.Comp != nil:
		return applyComparison(q, t, u.Comp)
	default:
		return types.NewQueryError(types.CodeParseError, "empty term")
	}
}

func applyComparison(q *query.Query, t *table.Table, c *Comparison) error {
	column, err := t.ColumnIndex(c.Column)
	if err != nil {
		return err
	}

	if c.Range != nil {
		low, err := c.Range.Low.value()
		if err != nil {
			return err
		}
		high, err := c.Range.High.value()
		if err != nil {
			return err
		}
		q.Between(column, low, high)
		return nil
	}

	value, err := c.Simple.Value.value()
	if err != nil {
		return err
	}

	switch strings.ToLower(c.Simple.Op) {
	case "==":
		q.Equal(column, value)
	case "!=":
		q.NotEqual(column, value)
	case "<":
		q.Less(column, value)
	case "<=":
		q.LessOrEqual(column, value)
	case ">":
		q.Greater(column, value)
	case ">=":
		q.GreaterOrEqual(column, value)
	case "contains", "begins", "ends":
		s, ok := value.(string)
		if !ok {
			return types.NewQueryError(types.CodeParseError,
				fmt.Sprintf("%s requires a string literal", c.Simple.Op))
		}
		switch strings.ToLower(c.Simple.Op) {
		case "contains":
			q.Contains(column, s)
		case "begins":
			q.BeginsWith(column, s)
		default:
			q.EndsWith(column, s)
		}
	default:
		return types.NewQueryError(types.CodeParseError,
			fmt.Sprintf("unknown operator %q", c.Simple.Op))
	}
	return nil
}
