package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tabulon/tabulon/internal/catalog"
	"github.com/tabulon/tabulon/internal/engine"
	"github.com/tabulon/tabulon/internal/snapshot"
	"github.com/tabulon/tabulon/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cat, err := catalog.NewCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	assert.NoError(t, err)
	store, err := storage.NewLocalStorage(t.TempDir())
	assert.NoError(t, err)
	snapper, err := snapshot.NewSnapshotter(store, 1)
	assert.NoError(t, err)
	eng := engine.New(cat, snapper)

	srv := httptest.NewServer(NewAPI(eng).Handler())
	t.Cleanup(func() {
		srv.Close()
		eng.Close()
		snapper.Close()
		cat.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	assert.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func createPeople(t *testing.T, base string) {
	t.Helper()

	resp, _ := doJSON(t, http.MethodPost, base+"/v1/tables", map[string]interface{}{
		"name": "people",
		"columns": []map[string]string{
			{"name": "name", "type": "string"},
			{"name": "age", "type": "int"},
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, row := range [][]interface{}{
		{"alan", 41}, {"barbara", 41}, {"carol", 29},
	} {
		resp, body := doJSON(t, http.MethodPost, base+"/v1/tables/people/rows",
			map[string]interface{}{"values": row})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.NotEmpty(t, body["row_id"])
	}
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAPI_CreateListAndGet(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/tables", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	tables := body["tables"].([]interface{})
	assert.Len(t, tables, 1)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/tables/people", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "people", body["name"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tables/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Query(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{
		Table:  "people",
		Filter: "age == 41",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
	rows := body["rows"].([]interface{})
	assert.Len(t, rows, 2)
	first := rows[0].([]interface{})
	assert.Equal(t, "alan", first[0])
	assert.NotEmpty(t, body["request_id"])

	// Sorted descending with limit.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{
		Table:      "people",
		Sort:       "age",
		Descending: true,
		Limit:      1,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])
	rows = body["rows"].([]interface{})
	assert.Len(t, rows, 1)
}

func TestAPI_QueryErrors(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{
		Table:  "people",
		Filter: "age == 'forty'",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "TYPE_MISMATCH", body["code"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{
		Table:  "people",
		Filter: "(age == 41",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "PARSE_ERROR", body["code"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{
		Table: "ghost",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TABLE_NOT_FOUND", body["code"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_AppendValidation(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	// Wrong arity.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tables/people/rows",
		map[string]interface{}{"values": []interface{}{"x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Wrong type.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/tables/people/rows",
		map[string]interface{}{"values": []interface{}{"x", "not-a-number"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "TYPE_MISMATCH", body["code"])
}

func TestAPI_RemoveRows(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	resp, body := doJSON(t, http.MethodDelete, srv.URL+"/v1/tables/people/rows",
		RemoveRowsRequest{Filter: "age == 41"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["removed"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{Table: "people"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])
}

func TestAPI_SnapshotAndDrop(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tables/people/snapshot", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/tables/people", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tables/people", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Stats(t *testing.T) {
	srv := newTestServer(t)
	createPeople(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/query", QueryRequest{
		Table:  "people",
		Filter: "age > 30",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	exec := body["exec"].(map[string]interface{})
	assert.Equal(t, float64(1), exec["executions"])
}
