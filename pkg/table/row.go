package table

import (
	"fmt"
	"time"

	"github.com/tabulon/tabulon/pkg/types"
)

// Row materializes one row of a table by identity. It holds no copied
// data: accessors read through to the table, so a Row stays valid across
// position shifts caused by deleting other rows.
type Row struct {
	t  *Table
	id types.RowID
}

// NewRow materializes the row with the given identity.
func NewRow(t *Table, id types.RowID) (*Row, error) {
	if !t.HasRow(id) {
		return nil, types.NewTableError(types.CodeRowNotFound,
			fmt.Sprintf("no row with identity %s", id))
	}
	return &Row{t: t, id: id}, nil
}

// Table returns the row's table.
func (r *Row) Table() *Table {
	return r.t
}

// ID returns the row's stable identity.
func (r *Row) ID() types.RowID {
	return r.id
}

// Get returns the cell at the given column with no type assertion.
func (r *Row) Get(column int) (interface{}, error) {
	return r.t.Value(r.id, column)
}

// Set replaces the cell at the given column, type checked against the schema.
func (r *Row) Set(column int, value interface{}) error {
	return r.t.SetValue(r.id, column, value)
}

// Int returns an int column cell.
func (r *Row) Int(column int) (int64, error) {
	v, err := r.Get(column)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, r.mismatch(column, types.TypeInt, v)
	}
	return n, nil
}

// Float returns a float column cell.
func (r *Row) Float(column int) (float64, error) {
	v, err := r.Get(column)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, r.mismatch(column, types.TypeFloat, v)
	}
	return f, nil
}

// String returns a string column cell.
func (r *Row) String(column int) (string, error) {
	v, err := r.Get(column)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", r.mismatch(column, types.TypeString, v)
	}
	return s, nil
}

// Bool returns a bool column cell.
func (r *Row) Bool(column int) (bool, error) {
	v, err := r.Get(column)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, r.mismatch(column, types.TypeBool, v)
	}
	return b, nil
}

// Date returns a date column cell.
func (r *Row) Date(column int) (time.Time, error) {
	v, err := r.Get(column)
	if err != nil {
		return time.Time{}, err
	}
	d, ok := v.(time.Time)
	if !ok {
		return time.Time{}, r.mismatch(column, types.TypeDate, v)
	}
	return d, nil
}

// Bytes returns a binary column cell.
func (r *Row) Bytes(column int) ([]byte, error) {
	v, err := r.Get(column)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, r.mismatch(column, types.TypeBinary, v)
	}
	return b, nil
}

// Link returns a link column cell: the identity of the linked row.
func (r *Row) Link(column int) (types.RowID, error) {
	v, err := r.Get(column)
	if err != nil {
		return types.ZeroRowID, err
	}
	id, ok := v.(types.RowID)
	if !ok {
		return types.ZeroRowID, r.mismatch(column, types.TypeLink, v)
	}
	return id, nil
}

func (r *Row) mismatch(column int, want types.Type, got interface{}) error {
	_, gt, _ := types.Canonical(got)
	return types.NewSchemaError(types.CodeTypeMismatch,
		fmt.Sprintf("column %d holds %s, accessed as %s", column, gt, want))
}
