package types

import "fmt"

// Schema defines the column structure of a table.
type Schema struct {
	// Columns defines the columns in schema order
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the fixed column type
	Type Type `json:"type"`
}

// Validate checks the schema for duplicate or empty column names.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Columns))
	for i, col := range s.Columns {
		if col.Name == "" {
			return NewSchemaError(CodeInvalidSchema,
				fmt.Sprintf("column %d has an empty name", i))
		}
		if seen[col.Name] {
			return NewSchemaError(CodeInvalidSchema,
				fmt.Sprintf("duplicate column name %q", col.Name))
		}
		seen[col.Name] = true
	}
	return nil
}

// ColumnIndex returns the index of the named column, or -1 if absent.
func (s Schema) ColumnIndex(name string) int {
	for i, col := range s.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in schema order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Equal reports structural equality of two schemas.
func (s Schema) Equal(other Schema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}
