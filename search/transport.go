package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
)

const bulkHTTPTimeout = 30 * time.Second

// HTTPTransport submits bulk calls to a search engine speaking the NDJSON
// bulk protocol: one action line per record, followed by the document line
// for index and update actions. Request bodies are gzip-compressed.
type HTTPTransport struct {
	endpoint string
	index    string
	client   *http.Client
}

// NewHTTPTransport creates a transport writing to one index of the engine at
// endpoint.
func NewHTTPTransport(endpoint, index string) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if index == "" {
		return nil, fmt.Errorf("search index name is required")
	}
	return &HTTPTransport{
		endpoint: endpoint,
		index:    index,
		client:   &http.Client{Timeout: bulkHTTPTimeout},
	}, nil
}

type bulkActionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkItemStatus struct {
	Status int `json:"status"`
	Error  *struct {
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemStatus `json:"items"`
}

// Bulk encodes the operations as NDJSON, compresses the body and posts it to
// the engine's _bulk endpoint.
func (t *HTTPTransport) Bulk(ctx context.Context, ops []WriteOp) (*BulkResult, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)

	for _, op := range ops {
		action := map[string]bulkActionMeta{
			string(op.Action): {Index: t.index, ID: op.ID},
		}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		switch op.Action {
		case ActionIndex:
			if err := enc.Encode(op.Document); err != nil {
				return nil, fmt.Errorf("failed to encode document %s: %w", op.ID, err)
			}
		case ActionUpdate:
			if err := enc.Encode(map[string]any{"doc": op.Document, "doc_as_upsert": true}); err != nil {
				return nil, fmt.Errorf("failed to encode document %s: %w", op.ID, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress bulk payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/_bulk", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search engine returned status %d", resp.StatusCode)
	}

	var body bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	result := &BulkResult{Items: make([]ItemResult, len(ops))}
	for i := range ops {
		if i >= len(body.Items) {
			break
		}
		// The response nests each item under its action name
		for _, st := range body.Items[i] {
			if st.Status >= 400 {
				msg := fmt.Sprintf("status %d", st.Status)
				if st.Error != nil {
					msg = st.Error.Reason
				}
				result.Items[i] = ItemResult{Failed: true, Message: msg}
			}
		}
	}
	return result, nil
}
