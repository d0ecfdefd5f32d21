package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tabulon/tabulon/internal/engine"
	"github.com/tabulon/tabulon/pkg/types"
)

// API serves the table and query endpoints over one engine.
type API struct {
	eng *engine.Engine
}

// NewAPI creates the API over the given engine.
func NewAPI(eng *engine.Engine) *API {
	return &API{eng: eng}
}

// Handler returns the routed handler with the default middleware applied.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /v1/tables", a.handleListTables)
	mux.HandleFunc("POST /v1/tables", a.handleCreateTable)
	mux.HandleFunc("GET /v1/tables/{name}", a.handleGetTable)
	mux.HandleFunc("DELETE /v1/tables/{name}", a.handleDropTable)
	mux.HandleFunc("POST /v1/tables/{name}/rows", a.handleAppendRow)
	mux.HandleFunc("DELETE /v1/tables/{name}/rows", a.handleRemoveRows)
	mux.HandleFunc("POST /v1/tables/{name}/snapshot", a.handleSnapshot)
	mux.HandleFunc("POST /v1/query", a.handleQuery)
	mux.HandleFunc("GET /v1/stats", a.handleStats)
	return DefaultMiddleware()(mux)
}

// CreateTableRequest creates a table.
type CreateTableRequest struct {
	Name    string            `json:"name"`
	Columns []types.ColumnDef `json:"columns"`
}

// AppendRowRequest appends one row, values in schema order.
type AppendRowRequest struct {
	Values []json.RawMessage `json:"values"`
}

// AppendRowResponse returns the new row's identity.
type AppendRowResponse struct {
	RowID string `json:"row_id"`
}

// RemoveRowsRequest deletes every row matching the filter.
type RemoveRowsRequest struct {
	Filter string `json:"filter"`
}

// RemoveRowsResponse reports how many rows were removed.
type RemoveRowsResponse struct {
	Removed int `json:"removed"`
}

// QueryRequest runs a filter expression against a table.
type QueryRequest struct {
	Table      string `json:"table"`
	Filter     string `json:"filter"`
	Sort       string `json:"sort,omitempty"`
	Descending bool   `json:"descending,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// QueryResponse carries the materialized rows plus the request ID.
type QueryResponse struct {
	*engine.Result
	RequestID string `json:"request_id"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleListTables(w http.ResponseWriter, r *http.Request) {
	records, err := a.eng.ListTables(r.Context())
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}

	type tableInfo struct {
		Name       string       `json:"name"`
		Schema     types.Schema `json:"schema"`
		Generation uint64       `json:"generation"`
		RowCount   int          `json:"row_count"`
	}
	infos := make([]tableInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, tableInfo{
			Name:       rec.Name,
			Schema:     rec.Schema,
			Generation: rec.Generation,
			RowCount:   rec.RowCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": infos})
}

func (a *API) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "", requestID)
		return
	}

	schema := types.Schema{Columns: req.Columns}
	if err := a.eng.CreateTable(r.Context(), req.Name, schema); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (a *API) handleGetTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	schema, err := a.eng.TableSchema(r.Context(), name)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":   name,
		"schema": schema,
	})
}

func (a *API) handleDropTable(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.DropTable(r.Context(), r.PathValue("name")); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
}

func (a *API) handleAppendRow(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	name := r.PathValue("name")

	var req AppendRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}

	schema, err := a.eng.TableSchema(r.Context(), name)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	if len(req.Values) != len(schema.Columns) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("got %d values for %d columns", len(req.Values), len(schema.Columns)),
			types.CodeTypeMismatch, requestID)
		return
	}

	values := make([]interface{}, len(req.Values))
	for i, raw := range req.Values {
		v, err := decodeValue(raw, schema.Columns[i].Type)
		if err != nil {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("column %q: %v", schema.Columns[i].Name, err),
				types.CodeTypeMismatch, requestID)
			return
		}
		values[i] = v
	}

	id, err := a.eng.Append(r.Context(), name, values...)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AppendRowResponse{RowID: id.String()})
}

func (a *API) handleRemoveRows(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req RemoveRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}

	removed, err := a.eng.RemoveRows(r.Context(), r.PathValue("name"), req.Filter)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RemoveRowsResponse{Removed: removed})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Snapshot(r.Context(), r.PathValue("name")); err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	if req.Table == "" {
		writeError(w, http.StatusBadRequest, "table is required", "", requestID)
		return
	}

	result, err := a.eng.Query(r.Context(), req.Table, req.Filter, req.Sort, req.Descending, req.Limit)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Result: result, RequestID: requestID})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.eng.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exec":           stats.Exec(),
		"top_predicates": stats.TopPredicates(10),
	})
}

// writeEngineError maps engine error codes onto HTTP status codes.
func (a *API) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())

	var terr *types.TabulonError
	if !errors.As(err, &terr) {
		writeError(w, http.StatusInternalServerError, err.Error(), "", requestID)
		return
	}

	status := http.StatusInternalServerError
	switch terr.Code {
	case types.CodeTableNotFound, types.CodeRowNotFound:
		status = http.StatusNotFound
	case types.CodeParseError, types.CodeTypeMismatch, types.CodeInvalidColumn,
		types.CodeInvalidSchema, types.CodeOutOfRange:
		status = http.StatusBadRequest
	case types.CodeStaleView, types.CodeTableClosed, types.CodeQueryFrozen:
		status = http.StatusConflict
	}
	writeError(w, status, terr.Error(), terr.Code, requestID)
}

// decodeValue converts a JSON value into the Go value a column expects.
func decodeValue(raw json.RawMessage, ct types.Type) (interface{}, error) {
	switch ct {
	case types.TypeInt:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("expected integer")
		}
		return n, nil
	case types.TypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("expected number")
		}
		return f, nil
	case types.TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil
	case types.TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("expected boolean")
		}
		return b, nil
	case types.TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected RFC 3339 timestamp string")
		}
		d, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("expected RFC 3339 timestamp: %v", err)
		}
		return d, nil
	case types.TypeBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected base64 string")
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("expected base64 string: %v", err)
		}
		return b, nil
	case types.TypeLink:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected row identity string")
		}
		id, err := types.ParseRowID(s)
		if err != nil {
			return nil, fmt.Errorf("expected row identity: %v", err)
		}
		return id, nil
	case types.TypeMixed:
		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("bad value")
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("bad number")
			}
			return f, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", ct)
	}
}
