// Package query implements the query builder/executor and the views it
// produces.
//
// A Query is a composable predicate bound to a base table or to the result
// set of an existing view. Clauses added through the fluent builder are
// conjunctive by default; Or, Not and BeginGroup/EndGroup compose arbitrary
// boolean trees. Type mismatches between a clause literal and its column
// are reported at build time, not at execution time.
//
// Run walks the scope once in physical order and collects matching row
// identities; the resulting View is a snapshot of execute-time state, not a
// live-tracking cursor. Neither queries nor views lock internally —
// concurrent mutation of the shared base table requires an external
// serialization boundary.
package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/tabulon/tabulon/internal/observability"
	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

// Query builds a predicate over one or more columns and evaluates it to
// select matching rows. The zero predicate matches every row.
type Query struct {
	t     *table.Table
	scope []types.RowID // nil scopes the query to the whole table
	gen   uint64

	root       *group
	stack      []*group
	negDepth   []bool
	negateNext bool

	sortColumn int
	sortDesc   bool
	hasSort    bool

	frozen bool
	err    error

	stats    *observability.QueryStats
	recorded []recordedClause
}

type recordedClause struct {
	column   string
	operator string
}

// New creates an empty (match-all) query scoped to the whole table.
func New(t *table.Table) *Query {
	root := &group{}
	return &Query{
		t:     t,
		gen:   t.Generation(),
		root:  root,
		stack: []*group{root},
	}
}

// Observe attaches a stats tracker; executions record predicate frequency
// and scan metrics to it.
func (q *Query) Observe(stats *observability.QueryStats) *Query {
	q.stats = stats
	return q
}

// Err returns the first build error, if any. The same error is returned
// by the terminal operations.
func (q *Query) Err() error {
	return q.err
}

// Equal adds a clause matching rows whose column equals value.
func (q *Query) Equal(column int, value interface{}) *Query {
	return q.addClause(column, OpEqual, value, nil)
}

// NotEqual adds a clause matching rows whose column differs from value.
func (q *Query) NotEqual(column int, value interface{}) *Query {
	return q.addClause(column, OpNotEqual, value, nil)
}

// Less adds a clause matching rows whose column is less than value.
func (q *Query) Less(column int, value interface{}) *Query {
	return q.addClause(column, OpLess, value, nil)
}

// LessOrEqual adds a clause matching rows whose column is at most value.
func (q *Query) LessOrEqual(column int, value interface{}) *Query {
	return q.addClause(column, OpLessOrEqual, value, nil)
}

// Greater adds a clause matching rows whose column is greater than value.
func (q *Query) Greater(column int, value interface{}) *Query {
	return q.addClause(column, OpGreater, value, nil)
}

// GreaterOrEqual adds a clause matching rows whose column is at least value.
func (q *Query) GreaterOrEqual(column int, value interface{}) *Query {
	return q.addClause(column, OpGreaterOrEqual, value, nil)
}

// Between adds a clause matching rows whose column lies in [low, high].
func (q *Query) Between(column int, low, high interface{}) *Query {
	return q.addClause(column, OpBetween, low, high)
}

// Contains adds a clause matching string columns containing substr.
func (q *Query) Contains(column int, substr string) *Query {
	return q.addClause(column, OpContains, substr, nil)
}

// BeginsWith adds a clause matching string columns with the given prefix.
func (q *Query) BeginsWith(column int, prefix string) *Query {
	return q.addClause(column, OpBeginsWith, prefix, nil)
}

// EndsWith adds a clause matching string columns with the given suffix.
func (q *Query) EndsWith(column int, suffix string) *Query {
	return q.addClause(column, OpEndsWith, suffix, nil)
}

// Or makes the next condition (or group) an alternative to the conditions
// added so far in the current group.
func (q *Query) Or() *Query {
	if !q.editable() {
		return q
	}
	g := q.current()
	if len(g.terms) == 0 {
		q.err = types.NewQueryError(types.CodeParseError, "or with no preceding condition")
		return q
	}
	g.terms = append(g.terms, nil)
	return q
}

// Not negates the next condition or group.
func (q *Query) Not() *Query {
	if !q.editable() {
		return q
	}
	q.negateNext = !q.negateNext
	return q
}

// BeginGroup opens a parenthesized subgroup. Conditions added before the
// matching EndGroup compose within it.
func (q *Query) BeginGroup() *Query {
	if !q.editable() {
		return q
	}
	sub := &group{}
	q.stack = append(q.stack, sub)
	q.negDepth = append(q.negDepth, q.negateNext)
	q.negateNext = false
	return q
}

// EndGroup closes the innermost subgroup and attaches it to its parent.
func (q *Query) EndGroup() *Query {
	if !q.editable() {
		return q
	}
	if len(q.stack) < 2 {
		q.err = types.NewQueryError(types.CodeParseError, "end group without begin group")
		return q
	}
	sub := q.stack[len(q.stack)-1]
	if sub.danglingOr() {
		q.err = types.NewQueryError(types.CodeParseError, "or with no following condition")
		return q
	}
	q.stack = q.stack[:len(q.stack)-1]
	negated := q.negDepth[len(q.negDepth)-1]
	q.negDepth = q.negDepth[:len(q.negDepth)-1]

	var n node = sub
	if negated {
		n = &not{child: n}
	}
	q.attach(n)
	return q
}

// Sort orders the result by the given column before the view is built.
// Execution order is otherwise the scope's physical order.
func (q *Query) Sort(column int, desc bool) *Query {
	if !q.editable() {
		return q
	}
	if column < 0 || column >= q.t.ColumnCount() {
		q.err = types.NewSchemaError(types.CodeInvalidColumn,
			fmt.Sprintf("sort column %d outside [0, %d)", column, q.t.ColumnCount()))
		return q
	}
	q.sortColumn = column
	q.sortDesc = desc
	q.hasSort = true
	return q
}

// Run evaluates the predicate in a single linear pass over the scope and
// returns the matching rows as a View, in encounter order unless Sort was
// requested. After Run the query is frozen: further composition fails.
func (q *Query) Run() (*View, error) {
	if err := q.checkRunnable(); err != nil {
		return nil, err
	}
	q.frozen = true
	start := time.Now()

	// A lone equality clause can be answered negatively by the column's
	// membership filter without touching a single row.
	if q.scope == nil {
		if c := q.root.singleEquality(); c != nil {
			if f := q.t.Filter(c.column); f != nil && !f.MayContain(c.value) {
				q.record(true)
				return &View{t: q.t, gen: q.gen}, nil
			}
		}
	}

	var matched []types.RowID
	scanned := 0
	if q.scope == nil {
		q.t.Scan(func(id types.RowID, values []interface{}) bool {
			scanned++
			if q.root.match(values) {
				matched = append(matched, id)
			}
			return true
		})
	} else {
		for _, id := range q.scope {
			values, ok := q.t.Values(id)
			if !ok {
				// Row deleted since the owning view was built.
				continue
			}
			scanned++
			if q.root.match(values) {
				matched = append(matched, id)
			}
		}
	}

	if q.hasSort {
		q.sortRows(matched)
	}

	q.record(false)
	if q.stats != nil {
		q.stats.RecordExecution(time.Since(start), scanned, len(matched))
	}

	return &View{t: q.t, rows: matched, gen: q.gen}, nil
}

// Count evaluates the predicate and returns the number of matching rows.
func (q *Query) Count() (int, error) {
	v, err := q.Run()
	if err != nil {
		return 0, err
	}
	return v.RowCount(), nil
}

// checkRunnable validates builder state and the generation stamp.
func (q *Query) checkRunnable() error {
	if q.err != nil {
		return q.err
	}
	if q.frozen {
		return types.NewQueryError(types.CodeQueryFrozen, "query already executed")
	}
	if q.negateNext {
		return types.NewQueryError(types.CodeParseError, "not without a following condition")
	}
	if q.root.danglingOr() {
		return types.NewQueryError(types.CodeParseError, "or with no following condition")
	}
	if len(q.stack) != 1 {
		return types.NewQueryError(types.CodeParseError, "unterminated group")
	}
	if q.t.IsClosed() {
		return types.NewTableError(types.CodeTableClosed, "query on closed table")
	}
	if q.gen != q.t.Generation() {
		return types.NewViewError(types.CodeStaleView,
			"table schema changed since the query was built")
	}
	return nil
}

// addClause validates and attaches one comparison clause.
func (q *Query) addClause(column int, op Op, value, high interface{}) *Query {
	if !q.editable() {
		return q
	}
	if q.t.IsClosed() {
		q.err = types.NewTableError(types.CodeTableClosed, "clause on closed table")
		return q
	}
	if q.gen != q.t.Generation() {
		q.err = types.NewViewError(types.CodeStaleView,
			"table schema changed since the query was built")
		return q
	}

	colType, err := q.t.ColumnType(column)
	if err != nil {
		q.err = err
		return q
	}

	cv, err := q.checkLiteral(column, colType, op, value)
	if err != nil {
		q.err = err
		return q
	}
	var ch interface{}
	if op == OpBetween {
		ch, err = q.checkLiteral(column, colType, op, high)
		if err != nil {
			q.err = err
			return q
		}
	}

	q.attach(&clause{column: column, op: op, value: cv, high: ch})

	name, _ := q.t.ColumnName(column)
	q.recorded = append(q.recorded, recordedClause{column: name, operator: op.String()})
	return q
}

// checkLiteral canonicalizes a clause literal and enforces the build-time
// type rules: string operators need string columns, ordered operators need
// int, float or date columns, and every literal must be assignable to the
// column's type.
func (q *Query) checkLiteral(column int, colType types.Type, op Op, value interface{}) (interface{}, error) {
	if op.stringOp() {
		if colType != types.TypeString {
			return nil, types.NewSchemaError(types.CodeTypeMismatch,
				fmt.Sprintf("%s requires a string column, column %d is %s", op, column, colType))
		}
		return value, nil
	}

	cv, vt, err := types.Canonical(value)
	if err != nil {
		return nil, err
	}

	if op.ordered() {
		switch colType {
		case types.TypeInt, types.TypeFloat, types.TypeDate:
		default:
			return nil, types.NewSchemaError(types.CodeTypeMismatch,
				fmt.Sprintf("%s requires an ordered column, column %d is %s", op, column, colType))
		}
	}

	if !types.AssignableTo(vt, colType) {
		return nil, types.NewSchemaError(types.CodeTypeMismatch,
			fmt.Sprintf("%s literal against %s column %d", vt, colType, column))
	}
	return cv, nil
}

// editable reports whether builder calls may proceed, recording the frozen
// error if not.
func (q *Query) editable() bool {
	if q.err != nil {
		return false
	}
	if q.frozen {
		q.err = types.NewQueryError(types.CodeQueryFrozen, "query already executed")
		return false
	}
	return true
}

func (q *Query) current() *group {
	return q.stack[len(q.stack)-1]
}

// attach adds a node to the current group's open conjunction chain,
// applying a pending negation.
func (q *Query) attach(n node) {
	if q.negateNext {
		n = &not{child: n}
		q.negateNext = false
	}
	g := q.current()
	if len(g.terms) == 0 {
		g.terms = append(g.terms, nil)
	}
	last := len(g.terms) - 1
	g.terms[last] = append(g.terms[last], n)
}

// record reports predicate stats to an attached tracker.
func (q *Query) record(filterSkip bool) {
	if q.stats == nil {
		return
	}
	for _, rc := range q.recorded {
		q.stats.RecordPredicate(rc.column, rc.operator)
	}
	if filterSkip {
		q.stats.RecordFilterSkip()
	}
}

// sortRows stable-sorts row identities by the sort column's value.
func (q *Query) sortRows(rows []types.RowID) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := q.t.Value(rows[i], q.sortColumn)
		b, _ := q.t.Value(rows[j], q.sortColumn)
		if q.sortDesc {
			return types.Compare(a, b) > 0
		}
		return types.Compare(a, b) < 0
	})
}
