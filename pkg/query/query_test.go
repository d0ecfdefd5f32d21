package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tabulon/tabulon/internal/observability"
	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

// newIntTable builds a one-int-column table holding the given values.
func newIntTable(t *testing.T, values ...int) *table.Table {
	t.Helper()
	tbl, err := table.New("numbers", types.Schema{Columns: []types.ColumnDef{
		{Name: "n", Type: types.TypeInt},
	}})
	assert.NoError(t, err)
	for _, v := range values {
		_, err := tbl.Append(v)
		assert.NoError(t, err)
	}
	return tbl
}

func newPeopleTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New("people", types.Schema{Columns: []types.ColumnDef{
		{Name: "name", Type: types.TypeString},
		{Name: "age", Type: types.TypeInt},
		{Name: "height", Type: types.TypeFloat},
	}})
	assert.NoError(t, err)
	for _, p := range []struct {
		name   string
		age    int
		height float64
	}{
		{"ada", 36, 1.62},
		{"alan", 41, 1.78},
		{"grace", 85, 1.70},
		{"edsger", 72, 1.84},
		{"barbara", 41, 1.65},
	} {
		_, err := tbl.Append(p.name, p.age, p.height)
		assert.NoError(t, err)
	}
	return tbl
}

func TestQuery_EmptyPredicateMatchesAllInTableOrder(t *testing.T) {
	tbl := newIntTable(t, 3, 1, 4, 1, 5)

	view, err := New(tbl).Run()
	assert.NoError(t, err)
	assert.Equal(t, 5, view.RowCount())

	all := All(tbl)
	assert.Equal(t, all.IDs(), view.IDs())
}

func TestQuery_EqualScenario(t *testing.T) {
	// Table with column 0 holding [3,1,4,1,5]; n == 1 matches the rows at
	// original positions 1 and 3, in that relative order.
	tbl := newIntTable(t, 3, 1, 4, 1, 5)
	want1, _ := tbl.RowIDAt(1)
	want3, _ := tbl.RowIDAt(3)

	view, err := New(tbl).Equal(0, 1).Run()
	assert.NoError(t, err)
	assert.Equal(t, 2, view.RowCount())

	id0, err := view.RowIDAt(0)
	assert.NoError(t, err)
	id1, err := view.RowIDAt(1)
	assert.NoError(t, err)
	assert.Equal(t, want1, id0)
	assert.Equal(t, want3, id1)

	row0, err := view.RowAt(0)
	assert.NoError(t, err)
	n, err := row0.Int(0)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQuery_ComparisonOperators(t *testing.T) {
	tbl := newIntTable(t, 3, 1, 4, 1, 5)

	count, err := New(tbl).NotEqual(0, 1).Count()
	assert.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = New(tbl).Less(0, 4).Count()
	assert.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = New(tbl).LessOrEqual(0, 4).Count()
	assert.NoError(t, err)
	assert.Equal(t, 4, count)

	count, err = New(tbl).Greater(0, 3).Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = New(tbl).GreaterOrEqual(0, 3).Count()
	assert.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = New(tbl).Between(0, 1, 3).Count()
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestQuery_StringOperators(t *testing.T) {
	tbl := newPeopleTable(t)

	count, err := New(tbl).BeginsWith(0, "a").Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count) // ada, alan

	count, err = New(tbl).EndsWith(0, "a").Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count) // ada, barbara

	count, err = New(tbl).Contains(0, "ar").Count()
	assert.NoError(t, err)
	assert.Equal(t, 1, count) // barbara
}

func TestQuery_ConjunctionAndDisjunction(t *testing.T) {
	tbl := newPeopleTable(t)

	// age == 41 AND name begins "a" → alan only.
	view, err := New(tbl).Equal(1, 41).BeginsWith(0, "a").Run()
	assert.NoError(t, err)
	assert.Equal(t, 1, view.RowCount())
	row, _ := view.FirstRow()
	name, _ := row.String(0)
	assert.Equal(t, "alan", name)

	// age > 80 OR name == "ada" → grace, ada.
	count, err := New(tbl).Greater(1, 80).Or().Equal(0, "ada").Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	// Grouping: age == 41 AND (name begins "a" OR name begins "b").
	count, err = New(tbl).
		Equal(1, 41).
		BeginGroup().BeginsWith(0, "a").Or().BeginsWith(0, "b").EndGroup().
		Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count) // alan, barbara
}

func TestQuery_Negation(t *testing.T) {
	tbl := newPeopleTable(t)

	// NOT name begins "a" → grace, edsger, barbara.
	count, err := New(tbl).Not().BeginsWith(0, "a").Count()
	assert.NoError(t, err)
	assert.Equal(t, 3, count)

	// NOT (age == 41 OR age == 36) → grace, edsger.
	count, err = New(tbl).
		Not().BeginGroup().Equal(1, 41).Or().Equal(1, 36).EndGroup().
		Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestQuery_BuildTimeTypeMismatch(t *testing.T) {
	tbl := newPeopleTable(t)

	q := New(tbl).Equal(1, "not a number")
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(q.Err()))
	_, err := q.Run()
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	// String operators require a string column.
	_, err = New(tbl).Contains(1, "4").Run()
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	// Ordered operators require an ordered column.
	_, err = New(tbl).Less(0, "m").Run()
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	// The first build error sticks.
	q = New(tbl).Equal(1, "bad").Equal(1, 41)
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(q.Err()))
}

func TestQuery_InvalidColumn(t *testing.T) {
	tbl := newPeopleTable(t)

	_, err := New(tbl).Equal(99, 1).Run()
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))

	_, err = New(tbl).Sort(99, false).Run()
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))
}

func TestQuery_MalformedComposition(t *testing.T) {
	tbl := newPeopleTable(t)

	_, err := New(tbl).Or().Equal(1, 41).Run()
	assert.Equal(t, types.CodeParseError, types.GetCode(err))

	_, err = New(tbl).BeginGroup().Equal(1, 41).Run()
	assert.Equal(t, types.CodeParseError, types.GetCode(err))

	_, err = New(tbl).Equal(1, 41).EndGroup().Run()
	assert.Equal(t, types.CodeParseError, types.GetCode(err))

	_, err = New(tbl).Equal(1, 41).Not().Run()
	assert.Equal(t, types.CodeParseError, types.GetCode(err))

	// An Or with no following condition inside a group fails at EndGroup.
	q := New(tbl).BeginGroup().Equal(1, 41).Or().EndGroup()
	assert.Equal(t, types.CodeParseError, types.GetCode(q.Err()))
}

func TestQuery_DanglingOrDoesNotWidenPredicate(t *testing.T) {
	// A trailing Or must fail the build rather than leave an empty
	// alternative that matches every row. On [3,1,4,1,5] a silent match-all
	// would return 5 rows instead of the 2 the equality selects.
	tbl := newIntTable(t, 3, 1, 4, 1, 5)

	view, err := New(tbl).Equal(0, 1).Or().Run()
	assert.Nil(t, view)
	assert.Equal(t, types.CodeParseError, types.GetCode(err))

	// The same composition completed with a condition is valid.
	count, err := New(tbl).Equal(0, 1).Or().Equal(0, 5).Count()
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestQuery_FrozenAfterRun(t *testing.T) {
	tbl := newPeopleTable(t)

	q := New(tbl).Equal(1, 41)
	_, err := q.Run()
	assert.NoError(t, err)

	q.Equal(0, "ada")
	assert.Equal(t, types.CodeQueryFrozen, types.GetCode(q.Err()))
	_, err = q.Run()
	assert.Equal(t, types.CodeQueryFrozen, types.GetCode(err))
}

func TestQuery_Sort(t *testing.T) {
	tbl := newPeopleTable(t)

	view, err := New(tbl).Sort(1, false).Run()
	assert.NoError(t, err)
	var ages []int64
	for i := 0; i < view.RowCount(); i++ {
		row, err := view.RowAt(i)
		assert.NoError(t, err)
		age, _ := row.Int(1)
		ages = append(ages, age)
	}
	assert.Equal(t, []int64{36, 41, 41, 72, 85}, ages)

	// The sort is stable: alan precedes barbara (table order) among the 41s.
	row, _ := view.RowAt(1)
	name, _ := row.String(0)
	assert.Equal(t, "alan", name)

	view, err = New(tbl).Sort(1, true).Run()
	assert.NoError(t, err)
	row, _ = view.FirstRow()
	age, _ := row.Int(1)
	assert.Equal(t, int64(85), age)
}

func TestQuery_DateComparison(t *testing.T) {
	tbl, err := table.New("events", types.Schema{Columns: []types.ColumnDef{
		{Name: "at", Type: types.TypeDate},
	}})
	assert.NoError(t, err)
	base := time.UnixMilli(1700000000000)
	for i := 0; i < 5; i++ {
		_, err := tbl.Append(base.Add(time.Duration(i) * time.Hour))
		assert.NoError(t, err)
	}

	count, err := New(tbl).GreaterOrEqual(0, base.Add(3*time.Hour)).Count()
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestQuery_MembershipFilterFastPath(t *testing.T) {
	tbl := newIntTable(t, 3, 1, 4, 1, 5)
	assert.NoError(t, tbl.BuildFilter(0))

	stats := observability.NewQueryStats(time.Hour)

	// Absent value: answered by the filter without a scan.
	view, err := New(tbl).Observe(stats).Equal(0, 12345).Run()
	assert.NoError(t, err)
	assert.Equal(t, 0, view.RowCount())
	assert.Equal(t, int64(1), stats.Exec().FilterSkips)
	assert.Equal(t, int64(0), stats.Exec().RowsScanned)

	// Present value: the filter cannot prove absence, so the scan runs.
	count, err := New(tbl).Observe(stats).Equal(0, 4).Count()
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(5), stats.Exec().RowsScanned)
}

func TestQuery_StatsRecording(t *testing.T) {
	tbl := newPeopleTable(t)
	stats := observability.NewQueryStats(time.Hour)

	_, err := New(tbl).Observe(stats).Equal(1, 41).Greater(2, 1.6).Run()
	assert.NoError(t, err)

	top := stats.TopPredicates(10)
	assert.Len(t, top, 2)
	cols := map[string]bool{top[0].Column: true, top[1].Column: true}
	assert.True(t, cols["age"])
	assert.True(t, cols["height"])

	exec := stats.Exec()
	assert.Equal(t, int64(1), exec.Executions)
	assert.Equal(t, int64(5), exec.RowsScanned)
	assert.Equal(t, int64(2), exec.RowsMatched) // alan and barbara
}

func TestQuery_StaleAfterSchemaChange(t *testing.T) {
	tbl := newPeopleTable(t)

	q := New(tbl)
	assert.NoError(t, tbl.AddColumn(types.ColumnDef{Name: "extra", Type: types.TypeBool}))

	_, err := q.Run()
	assert.Equal(t, types.CodeStaleView, types.GetCode(err))

	// Build-time staleness is reported on the first clause, too.
	q2 := New(tbl)
	assert.NoError(t, tbl.RemoveColumn(3))
	q2.Equal(0, "ada")
	assert.Equal(t, types.CodeStaleView, types.GetCode(q2.Err()))
}

func TestQuery_ClosedTable(t *testing.T) {
	tbl := newPeopleTable(t)
	tbl.Close()

	_, err := New(tbl).Run()
	assert.Equal(t, types.CodeTableClosed, types.GetCode(err))
}
