// Package integration provides end-to-end tests of the Tabulon stack:
// HTTP API → engine → snapshot storage → catalog.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	apihttp "github.com/tabulon/tabulon/internal/api/http"
	"github.com/tabulon/tabulon/internal/catalog"
	"github.com/tabulon/tabulon/internal/engine"
	"github.com/tabulon/tabulon/internal/snapshot"
	"github.com/tabulon/tabulon/internal/storage"
)

type env struct {
	dir     string
	cat     *catalog.SQLiteCatalog
	store   *storage.LocalStorage
	snapper *snapshot.Snapshotter
	eng     *engine.Engine
	srv     *httptest.Server
}

func newEnv(t *testing.T, dir string) *env {
	t.Helper()

	cat, err := catalog.NewCatalog(filepath.Join(dir, "catalog.db"))
	assert.NoError(t, err)
	store, err := storage.NewLocalStorage(filepath.Join(dir, "storage"))
	assert.NoError(t, err)
	snapper, err := snapshot.NewSnapshotter(store, 2)
	assert.NoError(t, err)
	eng := engine.New(cat, snapper)

	return &env{
		dir:     dir,
		cat:     cat,
		store:   store,
		snapper: snapper,
		eng:     eng,
		srv:     httptest.NewServer(apihttp.NewAPI(eng).Handler()),
	}
}

func (e *env) close(t *testing.T) {
	t.Helper()
	e.srv.Close()
	assert.NoError(t, e.eng.Close())
	e.snapper.Close()
	assert.NoError(t, e.cat.Close())
}

func (e *env) post(t *testing.T, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	return e.request(t, http.MethodPost, path, body)
}

func (e *env) request(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	assert.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

// TestTableLifecycle walks a table from creation through query, destructive
// removal, snapshot, process restart, and recovery from storage.
func TestTableLifecycle(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)

	// Create a table and fill it over HTTP.
	status, _ := e.post(t, "/v1/tables", map[string]interface{}{
		"name": "employees",
		"columns": []map[string]string{
			{"name": "name", "type": "string"},
			{"name": "dept", "type": "string"},
			{"name": "age", "type": "int"},
			{"name": "rate", "type": "float"},
		},
	})
	assert.Equal(t, http.StatusCreated, status)

	rows := [][]interface{}{
		{"alan", "eng", 41, 92.5},
		{"barbara", "eng", 41, 88.0},
		{"carol", "ops", 29, 61.25},
		{"dave", "ops", 63, 79.0},
		{"erin", "eng", 17, 45.5},
	}
	for _, row := range rows {
		status, _ = e.post(t, "/v1/tables/employees/rows", map[string]interface{}{"values": row})
		assert.Equal(t, http.StatusCreated, status)
	}

	// Compound filter with sort.
	status, body := e.post(t, "/v1/query", map[string]interface{}{
		"table":  "employees",
		"filter": "dept == 'eng' and age >= 21",
		"sort":   "rate",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])
	first := body["rows"].([]interface{})[0].([]interface{})
	assert.Equal(t, "barbara", first[0])

	// Destructive removal through a filtered view.
	status, body = e.request(t, http.MethodDelete, "/v1/tables/employees/rows",
		map[string]interface{}{"filter": "age < 21"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["removed"])

	// Persist and shut down.
	status, _ = e.post(t, "/v1/tables/employees/snapshot", nil)
	assert.Equal(t, http.StatusOK, status)
	e.close(t)

	// A new process over the same data directory serves the same rows.
	e2 := newEnv(t, dir)
	defer e2.close(t)

	status, body = e2.post(t, "/v1/query", map[string]interface{}{"table": "employees"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(4), body["total"])

	status, body = e2.post(t, "/v1/query", map[string]interface{}{
		"table":  "employees",
		"filter": "name begins 'ca'",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
}

// TestSnapshotSurvivesUncleanCatalogState exercises the engine directly:
// unsnapshotted mutations flush on Close and reload cleanly.
func TestCloseFlushPersistsMutations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e := newEnv(t, dir)
	status, _ := e.post(t, "/v1/tables", map[string]interface{}{
		"name":    "notes",
		"columns": []map[string]string{{"name": "text", "type": "string"}},
	})
	assert.Equal(t, http.StatusCreated, status)

	_, err := e.eng.Append(ctx, "notes", "first")
	assert.NoError(t, err)
	_, err = e.eng.Append(ctx, "notes", "second")
	assert.NoError(t, err)

	// No explicit snapshot; Close must flush the dirty table.
	e.close(t)

	e2 := newEnv(t, dir)
	defer e2.close(t)

	res, err := e2.eng.Query(ctx, "notes", "", "", false, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}
