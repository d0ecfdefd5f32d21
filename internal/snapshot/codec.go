// Package snapshot persists and restores tables as compressed snapshot
// objects. A snapshot is the full row set of one table at one point in
// time, with row identities preserved, so a restored table serves the same
// identities it served before.
package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

// FormatVersion is bumped on incompatible snapshot layout changes.
const FormatVersion = 1

// Snapshot is the persisted form of a table.
type Snapshot struct {
	FormatVersion int           `json:"format_version"`
	Table         string        `json:"table"`
	Generation    uint64        `json:"generation"`
	CreatedAt     time.Time     `json:"created_at"`
	Schema        types.Schema  `json:"schema"`
	Rows          []snapshotRow `json:"rows"`
}

type snapshotRow struct {
	ID     string            `json:"id"`
	Values []json.RawMessage `json:"v"`
}

// mixedCell tags a value in a mixed column with its runtime type.
type mixedCell struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// Encode serializes the table into a snappy-compressed snapshot blob.
func Encode(t *table.Table) ([]byte, error) {
	if t.IsClosed() {
		return nil, types.NewTableError(types.CodeTableClosed, "snapshot of closed table")
	}

	schema := t.Schema()
	snap := Snapshot{
		FormatVersion: FormatVersion,
		Table:         t.Name(),
		Generation:    t.Generation(),
		CreatedAt:     time.Now().UTC(),
		Schema:        schema,
		Rows:          make([]snapshotRow, 0, t.RowCount()),
	}

	var encodeErr error
	t.Scan(func(id types.RowID, values []interface{}) bool {
		row := snapshotRow{
			ID:     id.String(),
			Values: make([]json.RawMessage, len(values)),
		}
		for i, v := range values {
			raw, err := encodeCell(v, schema.Columns[i].Type)
			if err != nil {
				encodeErr = err
				return false
			}
			row.Values[i] = raw
		}
		snap.Rows = append(snap.Rows, row)
		return true
	})
	if encodeErr != nil {
		return nil, encodeErr
	}

	plain, err := json.Marshal(snap)
	if err != nil {
		return nil, types.NewStorageError(types.CodeSnapshotFailed, "encode snapshot", err)
	}
	return snappy.Encode(nil, plain), nil
}

// Decode rebuilds a table from a snapshot blob. Row identities, physical
// order and the generation stamp match the encoded table.
func Decode(blob []byte) (*table.Table, error) {
	plain, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, types.NewStorageError(types.CodeSnapshotFailed, "decompress snapshot", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return nil, types.NewStorageError(types.CodeSnapshotFailed, "decode snapshot", err)
	}
	if snap.FormatVersion != FormatVersion {
		return nil, types.NewStorageError(types.CodeSnapshotFailed,
			fmt.Sprintf("unsupported snapshot format version %d", snap.FormatVersion), nil)
	}

	t, err := table.Restore(snap.Table, snap.Schema, snap.Generation)
	if err != nil {
		return nil, err
	}

	for _, row := range snap.Rows {
		id, err := types.ParseRowID(row.ID)
		if err != nil {
			return nil, types.NewStorageError(types.CodeSnapshotFailed,
				fmt.Sprintf("bad row identity %q", row.ID), err)
		}
		if len(row.Values) != len(snap.Schema.Columns) {
			return nil, types.NewStorageError(types.CodeSnapshotFailed,
				fmt.Sprintf("row %s has %d values for %d columns", row.ID, len(row.Values), len(snap.Schema.Columns)), nil)
		}

		values := make([]interface{}, len(row.Values))
		for i, raw := range row.Values {
			v, err := decodeCell(raw, snap.Schema.Columns[i].Type)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		if err := t.RestoreRow(id, values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Info decodes only the snapshot header, without materializing rows.
func Info(blob []byte) (Snapshot, error) {
	plain, err := snappy.Decode(nil, blob)
	if err != nil {
		return Snapshot{}, types.NewStorageError(types.CodeSnapshotFailed, "decompress snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return Snapshot{}, types.NewStorageError(types.CodeSnapshotFailed, "decode snapshot", err)
	}
	return snap, nil
}

func encodeCell(v interface{}, ct types.Type) (json.RawMessage, error) {
	if ct == types.TypeMixed {
		cv, vt, err := types.Canonical(v)
		if err != nil {
			return nil, err
		}
		inner, err := encodeCell(cv, vt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(mixedCell{Type: vt.String(), Value: inner})
	}

	switch ct {
	case types.TypeDate:
		d, ok := v.(time.Time)
		if !ok {
			return nil, types.NewStorageError(types.CodeSnapshotFailed,
				fmt.Sprintf("non-date value %T in date column", v), nil)
		}
		return json.Marshal(d.UTC().Format(time.RFC3339Nano))
	case types.TypeBinary:
		b, ok := v.([]byte)
		if !ok {
			return nil, types.NewStorageError(types.CodeSnapshotFailed,
				fmt.Sprintf("non-binary value %T in binary column", v), nil)
		}
		return json.Marshal(base64.StdEncoding.EncodeToString(b))
	case types.TypeLink:
		id, ok := v.(types.RowID)
		if !ok {
			return nil, types.NewStorageError(types.CodeSnapshotFailed,
				fmt.Sprintf("non-link value %T in link column", v), nil)
		}
		return json.Marshal(id.String())
	default:
		return json.Marshal(v)
	}
}

func decodeCell(raw json.RawMessage, ct types.Type) (interface{}, error) {
	badCell := func(err error) error {
		return types.NewStorageError(types.CodeSnapshotFailed,
			fmt.Sprintf("bad %s cell %s", ct, string(raw)), err)
	}

	switch ct {
	case types.TypeInt:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, badCell(err)
		}
		return n, nil
	case types.TypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, badCell(err)
		}
		return f, nil
	case types.TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, badCell(err)
		}
		return s, nil
	case types.TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, badCell(err)
		}
		return b, nil
	case types.TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, badCell(err)
		}
		d, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, badCell(err)
		}
		return d, nil
	case types.TypeBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, badCell(err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, badCell(err)
		}
		return b, nil
	case types.TypeLink:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, badCell(err)
		}
		id, err := types.ParseRowID(s)
		if err != nil {
			return nil, badCell(err)
		}
		return id, nil
	case types.TypeMixed:
		var cell mixedCell
		if err := json.Unmarshal(raw, &cell); err != nil {
			return nil, badCell(err)
		}
		vt, err := types.ParseType(cell.Type)
		if err != nil {
			return nil, badCell(err)
		}
		return decodeCell(cell.Value, vt)
	default:
		return nil, badCell(nil)
	}
}
