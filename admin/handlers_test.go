package admin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalyst/catalyst/audit"
	"github.com/opencatalyst/catalyst/bus"
	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/notify"
	"github.com/opencatalyst/catalyst/registry"
	"github.com/opencatalyst/catalyst/rules"
	"github.com/opencatalyst/catalyst/subject"
)

func testServer(t *testing.T) (*httptest.Server, *bus.Bus, *audit.Log) {
	t.Helper()

	b, err := bus.New(64)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	dir := subject.NewStaticDirectory(nil)
	eval := rules.NewEvaluator(subject.NewResolver(dir, 64, time.Minute))
	reg := registry.New(b, eval)
	t.Cleanup(reg.Close)

	auditLog, err := audit.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	hub := notify.NewHub()
	_, err = b.Subscribe("notify", hub)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(NewHandlers(b, reg, auditLog, nil, hub), false))
	t.Cleanup(srv.Close)
	return srv, b, auditLog
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	var body struct {
		Data map[string]string `json:"data"`
	}
	resp := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body.Data["status"])
}

func TestIngestPublishesToBus(t *testing.T) {
	srv, _, auditLog := testServer(t)

	resp := postJSON(t, srv.URL+"/api/events", map[string]any{
		"id":         "ev-1",
		"eventType":  "entityCreated",
		"entityType": "table",
		"entityId":   "e-1",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// An event without ids is rejected before touching the bus
	resp = postJSON(t, srv.URL+"/api/events", map[string]any{"eventType": "entityCreated"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Keep the audit log referenced so closing order matches production
	_ = auditLog
}

func TestSubscriptionLifecycle(t *testing.T) {
	srv, _, _ := testServer(t)

	sub := map[string]any{
		"id":      "s1",
		"name":    "Test",
		"enabled": true,
		"destinations": []map[string]any{
			{"id": "wh", "type": "webhook", "enabled": false},
		},
	}
	resp := postJSON(t, srv.URL+"/api/subscriptions/", sub)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Data []string `json:"data"`
	}
	getJSON(t, srv.URL+"/api/subscriptions/", &list)
	assert.Equal(t, []string{"s1"}, list.Data)

	resp = getJSON(t, srv.URL+"/api/subscriptions/s1/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/subscriptions/s1", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	resp = getJSON(t, srv.URL+"/api/subscriptions/s1/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpsertRejectsInvalidSubscription(t *testing.T) {
	srv, _, _ := testServer(t)

	// Missing destinations
	resp := postJSON(t, srv.URL+"/api/subscriptions/", map[string]any{"id": "s1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditRangeEndpoint(t *testing.T) {
	srv, _, auditLog := testServer(t)

	for i := 1; i <= 3; i++ {
		_, err := auditLog.Append(&event.ChangeEvent{
			ID:         fmt.Sprintf("ev-%d", i),
			EventType:  event.TypeCreated,
			EntityType: "table",
			EntityID:   fmt.Sprintf("e-%d", i),
		})
		require.NoError(t, err)
	}

	var body struct {
		Data struct {
			Entries []audit.Entry `json:"entries"`
			LastSeq uint64        `json:"last_seq"`
		} `json:"data"`
	}
	resp := getJSON(t, srv.URL+"/api/audit?from=1&limit=10", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Data.Entries, 2)
	assert.Equal(t, uint64(3), body.Data.LastSeq)

	resp = getJSON(t, srv.URL+"/api/audit?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndexStatsDisabled(t *testing.T) {
	srv, _, _ := testServer(t)
	resp := getJSON(t, srv.URL+"/api/index/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisableDestinationEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/subscriptions/nope/destinations/wh/disable", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisableDestinationGloballyEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(target.Close)

	// Two subscriptions share destination id "ops-slack"
	for _, id := range []string{"a", "b"} {
		resp := postJSON(t, srv.URL+"/api/subscriptions/", map[string]any{
			"id":      id,
			"name":    id,
			"enabled": true,
			"destinations": []map[string]any{
				{"id": "ops-slack", "type": "webhook", "enabled": true, "endpoint": target.URL},
			},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Data struct {
			Disabled int `json:"disabled"`
		} `json:"data"`
	}
	resp := postJSON(t, srv.URL+"/api/destinations/ops-slack/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Data.Disabled)

	for _, id := range []string{"a", "b"} {
		var status struct {
			Data map[string]struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		getJSON(t, srv.URL+"/api/subscriptions/"+id+"/status", &status)
		assert.Equal(t, "disabled", status.Data["ops-slack"].Status)
	}

	resp = postJSON(t, srv.URL+"/api/destinations/unknown/disable", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationsStreamEndpoint(t *testing.T) {
	srv, b, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications/stream?entity_type=table", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// A dashboard event is filtered out, the table event comes through
	require.NoError(t, b.Publish(&event.ChangeEvent{
		ID: "ev-dash", EventType: event.TypeCreated, EntityType: "dashboard", EntityID: "d-1",
	}))
	require.NoError(t, b.Publish(&event.ChangeEvent{
		ID: "ev-1", EventType: event.TypeCreated, EntityType: "table", EntityID: "e-1",
	}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var ev event.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "table", ev.EntityType)
}

func TestNotificationsStreamDisabled(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHandlers(nil, nil, nil, nil, nil), false))
	t.Cleanup(srv.Close)

	resp := getJSON(t, srv.URL+"/api/notifications/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
