package destination

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalyst/catalyst/event"
)

func sampleBatch() []*event.ChangeEvent {
	return []*event.ChangeEvent{
		{ID: "ev-1", EventType: event.TypeCreated, EntityType: "table", EntityID: "t-1", EntityFQN: "wh.sales.orders", UserName: "alice"},
	}
}

func TestWebhook_DeliverSuccess(t *testing.T) {
	var gotBody webhookPayload
	var gotHash, gotSecret string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHash = r.Header.Get("X-Catalyst-Delivery")
		gotSecret = r.Header.Get("X-Catalyst-Secret")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := NewWebhook(Config{Type: TypeWebhook, Endpoint: srv.URL, Secret: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, wh.Deliver(context.Background(), sampleBatch()))
	require.Len(t, gotBody.Events, 1)
	assert.Equal(t, "ev-1", gotBody.Events[0].ID)
	assert.NotEmpty(t, gotHash)
	assert.Equal(t, "s3cret", gotSecret)
}

func TestWebhook_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"server error is retriable", http.StatusInternalServerError, false},
		{"bad gateway is retriable", http.StatusBadGateway, false},
		{"bad request is permanent", http.StatusBadRequest, true},
		{"not found is permanent", http.StatusNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			wh, err := NewWebhook(Config{Type: TypeWebhook, Endpoint: srv.URL})
			require.NoError(t, err)

			err = wh.Deliver(context.Background(), sampleBatch())
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestWebhook_NetworkErrorIsRetriable(t *testing.T) {
	wh, err := NewWebhook(Config{Type: TypeWebhook, Endpoint: "http://127.0.0.1:1/hook"})
	require.NoError(t, err)

	err = wh.Deliver(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestSlack_MessageFormat(t *testing.T) {
	var msg slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sl, err := NewSlack(Config{Type: TypeSlack, Endpoint: srv.URL})
	require.NoError(t, err)

	require.NoError(t, sl.Deliver(context.Background(), sampleBatch()))
	assert.Equal(t, "[table] wh.sales.orders created by alice", msg.Text)
}

func TestNew_ClosedTypeSet(t *testing.T) {
	_, err := New(Config{Type: "pagerduty"})
	assert.Error(t, err)

	_, err = New(Config{Type: TypeWebhook})
	assert.Error(t, err, "webhook without endpoint must fail")

	_, err = New(Config{Type: TypeKafka, Topic: "changes"})
	assert.Error(t, err, "kafka without brokers must fail")
}
