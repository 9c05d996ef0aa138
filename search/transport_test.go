package search

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_EncodesNDJSONWithGzip(t *testing.T) {
	var lines []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		require.Equal(t, "gzip", r.Header.Get("Content-Encoding"))

		zr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		sc := bufio.NewScanner(zr)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":false,"items":[{"index":{"status":200}},{"delete":{"status":200}}]}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL, "catalyst-entities")
	require.NoError(t, err)

	result, err := tr.Bulk(context.Background(), []WriteOp{
		{ID: "e1", EntityType: "table", Action: ActionIndex, Document: map[string]any{"name": "orders"}},
		{ID: "e2", EntityType: "table", Action: ActionDelete},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.False(t, result.Items[0].Failed)
	assert.False(t, result.Items[1].Failed)

	// Index carries an action line plus a document line, delete only the
	// action line
	require.Len(t, lines, 3)
	var action map[string]bulkActionMeta
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &action))
	assert.Equal(t, "e1", action["index"].ID)
	assert.Equal(t, "catalyst-entities", action["index"].Index)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &doc))
	assert.Equal(t, "orders", doc["name"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &action))
	assert.Equal(t, "e2", action["delete"].ID)
}

func TestHTTPTransport_MapsItemFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":true,"items":[` +
			`{"index":{"status":200}},` +
			`{"index":{"status":400,"error":{"reason":"mapping conflict"}}}]}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL, "idx")
	require.NoError(t, err)

	result, err := tr.Bulk(context.Background(), []WriteOp{
		{ID: "e1", Action: ActionIndex, Document: map[string]any{}},
		{ID: "e2", Action: ActionIndex, Document: map[string]any{}},
	})
	require.NoError(t, err)
	assert.False(t, result.Items[0].Failed)
	assert.True(t, result.Items[1].Failed)
	assert.Equal(t, "mapping conflict", result.Items[1].Message)
}

func TestHTTPTransport_NonSuccessStatusIsCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL, "idx")
	require.NoError(t, err)

	_, err = tr.Bulk(context.Background(), []WriteOp{{ID: "e1", Action: ActionDelete}})
	assert.Error(t, err)
}

func TestNewHTTPTransport_Validation(t *testing.T) {
	_, err := NewHTTPTransport("", "idx")
	assert.Error(t, err)
	_, err = NewHTTPTransport("http://localhost:9200", "")
	assert.Error(t, err)
}
