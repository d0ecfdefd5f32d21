package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tabulon/tabulon/pkg/types"
)

func testSchema() types.Schema {
	return types.Schema{Columns: []types.ColumnDef{
		{Name: "id", Type: types.TypeInt},
		{Name: "name", Type: types.TypeString},
		{Name: "score", Type: types.TypeFloat},
	}}
}

func TestTable_AppendAndScan(t *testing.T) {
	tbl, err := New("players", testSchema())
	assert.NoError(t, err)

	id1, err := tbl.Append(1, "ada", 9.5)
	assert.NoError(t, err)
	id2, err := tbl.Append(2, "bob", 7.25)
	assert.NoError(t, err)

	assert.Equal(t, 2, tbl.RowCount())
	assert.Equal(t, 3, tbl.ColumnCount())

	var ids []types.RowID
	tbl.Scan(func(id types.RowID, values []interface{}) bool {
		ids = append(ids, id)
		return true
	})
	assert.Equal(t, []types.RowID{id1, id2}, ids)

	// Identities are assigned in increasing order.
	assert.Equal(t, -1, id1.Compare(id2))
}

func TestTable_AppendTypeChecks(t *testing.T) {
	tbl, err := New("players", testSchema())
	assert.NoError(t, err)

	_, err = tbl.Append(1, "ada")
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	_, err = tbl.Append("one", "ada", 9.5)
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	// Int literals widen into float columns.
	_, err = tbl.Append(1, "ada", 9)
	assert.NoError(t, err)
	id, _ := tbl.RowIDAt(0)
	v, err := tbl.Value(id, 2)
	assert.NoError(t, err)
	assert.Equal(t, float64(9), v)
}

func TestTable_DeleteRowShiftsPositions(t *testing.T) {
	tbl, _ := New("players", testSchema())
	var ids []types.RowID
	for i := 0; i < 5; i++ {
		id, err := tbl.Append(i, "n", 0.0)
		assert.NoError(t, err)
		ids = append(ids, id)
	}

	assert.NoError(t, tbl.DeleteRow(ids[1]))
	assert.Equal(t, 4, tbl.RowCount())

	// ids[2] shifted from position 2 to 1; identity unchanged.
	p, err := tbl.PositionOf(ids[2])
	assert.NoError(t, err)
	assert.Equal(t, 1, p)

	assert.False(t, tbl.HasRow(ids[1]))
	err = tbl.DeleteRow(ids[1])
	assert.Equal(t, types.CodeRowNotFound, types.GetCode(err))

	// Row deletion does not bump the generation.
	assert.Equal(t, uint64(0), tbl.Generation())
}

func TestTable_SchemaChangesBumpGeneration(t *testing.T) {
	tbl, _ := New("players", testSchema())
	id, _ := tbl.Append(1, "ada", 9.5)

	gen := tbl.Generation()
	assert.NoError(t, tbl.AddColumn(types.ColumnDef{Name: "active", Type: types.TypeBool}))
	assert.Equal(t, gen+1, tbl.Generation())
	assert.Equal(t, 4, tbl.ColumnCount())

	// Existing rows are filled with the zero value.
	v, err := tbl.Value(id, 3)
	assert.NoError(t, err)
	assert.Equal(t, false, v)

	assert.NoError(t, tbl.RemoveColumn(1))
	assert.Equal(t, gen+2, tbl.Generation())
	v, err = tbl.Value(id, 1)
	assert.NoError(t, err)
	assert.Equal(t, 9.5, v)

	err = tbl.AddColumn(types.ColumnDef{Name: "active", Type: types.TypeBool})
	assert.Equal(t, types.CodeInvalidSchema, types.GetCode(err))

	err = tbl.RemoveColumn(99)
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))
}

func TestTable_ColumnMetadata(t *testing.T) {
	tbl, _ := New("players", testSchema())

	typ, err := tbl.ColumnType(1)
	assert.NoError(t, err)
	assert.Equal(t, types.TypeString, typ)

	_, err = tbl.ColumnType(99)
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))

	name, err := tbl.ColumnName(2)
	assert.NoError(t, err)
	assert.Equal(t, "score", name)

	idx, err := tbl.ColumnIndex("name")
	assert.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = tbl.ColumnIndex("missing")
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))
}

func TestTable_Close(t *testing.T) {
	tbl, _ := New("players", testSchema())
	gen := tbl.Generation()
	tbl.Close()

	assert.True(t, tbl.IsClosed())
	assert.Equal(t, gen+1, tbl.Generation())

	_, err := tbl.Append(1, "x", 0.0)
	assert.Equal(t, types.CodeTableClosed, types.GetCode(err))

	// Close is idempotent.
	tbl.Close()
	assert.Equal(t, gen+1, tbl.Generation())
}

func TestTable_MembershipFilter(t *testing.T) {
	tbl, _ := New("players", testSchema())
	for i := 0; i < 100; i++ {
		_, err := tbl.Append(i, "n", 0.0)
		assert.NoError(t, err)
	}

	assert.Nil(t, tbl.Filter(0))
	assert.NoError(t, tbl.BuildFilter(0))
	f := tbl.Filter(0)
	assert.NotNil(t, f)

	for i := 0; i < 100; i++ {
		assert.True(t, f.MayContain(i))
	}

	// Appends keep the filter current.
	_, err := tbl.Append(12345, "n", 0.0)
	assert.NoError(t, err)
	assert.True(t, tbl.Filter(0).MayContain(12345))

	// Schema changes drop filters: indices no longer line up.
	assert.NoError(t, tbl.AddColumn(types.ColumnDef{Name: "extra", Type: types.TypeInt}))
	assert.Nil(t, tbl.Filter(0))

	err = tbl.BuildFilter(99)
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))
}

func TestRow_TypedAccessors(t *testing.T) {
	schema := types.Schema{Columns: []types.ColumnDef{
		{Name: "n", Type: types.TypeInt},
		{Name: "f", Type: types.TypeFloat},
		{Name: "s", Type: types.TypeString},
		{Name: "b", Type: types.TypeBool},
		{Name: "d", Type: types.TypeDate},
		{Name: "x", Type: types.TypeBinary},
		{Name: "l", Type: types.TypeLink},
	}}
	tbl, err := New("all", schema)
	assert.NoError(t, err)

	when := time.UnixMilli(1700000000000)
	link := types.RowID{7}
	id, err := tbl.Append(42, 2.5, "hi", true, when, []byte{0xDE}, link)
	assert.NoError(t, err)

	row, err := NewRow(tbl, id)
	assert.NoError(t, err)
	assert.Equal(t, id, row.ID())
	assert.Same(t, tbl, row.Table())

	n, err := row.Int(0)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), n)

	f, err := row.Float(1)
	assert.NoError(t, err)
	assert.Equal(t, 2.5, f)

	s, err := row.String(2)
	assert.NoError(t, err)
	assert.Equal(t, "hi", s)

	b, err := row.Bool(3)
	assert.NoError(t, err)
	assert.True(t, b)

	d, err := row.Date(4)
	assert.NoError(t, err)
	assert.True(t, d.Equal(when))

	x, err := row.Bytes(5)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xDE}, x)

	l, err := row.Link(6)
	assert.NoError(t, err)
	assert.Equal(t, link, l)

	// Wrong-typed access reports TYPE_MISMATCH.
	_, err = row.Int(2)
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))
	_, err = row.String(0)
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	// Out-of-range column reports INVALID_COLUMN.
	_, err = row.Get(99)
	assert.Equal(t, types.CodeInvalidColumn, types.GetCode(err))
}

func TestRow_SetValue(t *testing.T) {
	tbl, _ := New("players", testSchema())
	id, _ := tbl.Append(1, "ada", 9.5)

	row, err := NewRow(tbl, id)
	assert.NoError(t, err)

	assert.NoError(t, row.Set(1, "grace"))
	s, _ := row.String(1)
	assert.Equal(t, "grace", s)

	err = row.Set(0, "not an int")
	assert.Equal(t, types.CodeTypeMismatch, types.GetCode(err))

	// Materializing a deleted row fails.
	assert.NoError(t, tbl.DeleteRow(id))
	_, err = NewRow(tbl, id)
	assert.Equal(t, types.CodeRowNotFound, types.GetCode(err))
}
