package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalyst/catalyst/alert/destination"
	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/rules"
	"github.com/opencatalyst/catalyst/subject"
)

var testRungs = []time.Duration{0, time.Millisecond, 5 * time.Millisecond}

func testPublisher(t *testing.T, sub Subscription, dest destination.Destination) *Publisher {
	t.Helper()
	dir := subject.NewStaticDirectory([]subject.Subject{
		{ID: "team-1", Name: "Data", Kind: subject.KindTeam},
	})
	eval := rules.NewEvaluator(subject.NewResolver(dir, 64, time.Minute))

	p, err := NewPublisher(PublisherConfig{
		Subscription: sub,
		Destination:  destination.Config{ID: "d1", Type: destination.TypeWebhook},
		Dest:         dest,
		Evaluator:    eval,
		Rungs:        testRungs,
	})
	require.NoError(t, err)
	return p
}

func tableEvent(id string) *event.ChangeEvent {
	return &event.ChangeEvent{
		ID:         id,
		EventType:  event.TypeUpdated,
		EntityType: "table",
		EntityID:   "e-" + id,
		EntityFQN:  "warehouse.sales.orders",
		UserName:   "alice",
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestPublisher_FlushesAtBatchSize(t *testing.T) {
	mock := &destination.Mock{}
	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 3}, mock)

	p.OnEvent(tableEvent("1"), 1, false)
	p.OnEvent(tableEvent("2"), 2, false)
	assert.Equal(t, 0, mock.BatchCount())

	p.OnEvent(tableEvent("3"), 3, false)
	require.Equal(t, 1, mock.BatchCount())
	assert.Len(t, mock.Batches()[0], 3)
}

func TestPublisher_FlushesOnEndOfBatch(t *testing.T) {
	mock := &destination.Mock{}
	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 10}, mock)

	p.OnEvent(tableEvent("1"), 1, false)
	p.OnEvent(tableEvent("2"), 2, true)

	require.Equal(t, 1, mock.BatchCount())
	assert.Len(t, mock.Batches()[0], 2)
}

func TestPublisher_EndOfBatchWithEmptyBatchDoesNotDeliver(t *testing.T) {
	mock := &destination.Mock{}
	p := testPublisher(t, Subscription{
		ID:                 "s1",
		TriggerEntityTypes: []string{"dashboard"},
	}, mock)

	// Filtered out by the trigger set, so nothing accumulates
	p.OnEvent(tableEvent("1"), 1, true)
	assert.Equal(t, 0, mock.BatchCount())
}

func TestPublisher_TriggerAndRuleFiltering(t *testing.T) {
	mock := &destination.Mock{}
	p := testPublisher(t, Subscription{
		ID:                 "s1",
		TriggerEntityTypes: []string{"table"},
		Rules: []rules.Spec{
			{Name: rules.MatchUpdatedBy, Args: []string{"alice"}, Effect: rules.EffectInclude},
		},
	}, mock)

	accepted := tableEvent("1")
	wrongType := tableEvent("2")
	wrongType.EntityType = "pipeline"
	wrongUser := tableEvent("3")
	wrongUser.UserName = "bot"

	p.OnEvent(accepted, 1, false)
	p.OnEvent(wrongType, 2, false)
	p.OnEvent(wrongUser, 3, true)

	require.Equal(t, 1, mock.BatchCount())
	events := mock.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "1", events[0].ID)
}

func TestPublisher_RetriableFailureRetainsBatchAndRetries(t *testing.T) {
	mock := &destination.Mock{}
	mock.FailWith(
		destination.Retriable(fmt.Errorf("connection refused")),
		destination.Retriable(fmt.Errorf("connection refused")),
	)
	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 2}, mock)

	p.OnEvent(tableEvent("1"), 1, false)
	p.OnEvent(tableEvent("2"), 2, false)

	// Two failed attempts climbed two rungs before the third succeeded,
	// and success reset the ladder.
	require.Equal(t, 1, mock.BatchCount())
	assert.Len(t, mock.Batches()[0], 2)
	assert.Equal(t, 0, p.BackoffLevel())
	assert.Equal(t, StatusActive, p.Status().Status)
}

func TestPublisher_DropFailedBatchPolicy(t *testing.T) {
	mock := &destination.Mock{}
	mock.FailWith(destination.Retriable(fmt.Errorf("connection refused")))
	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 1, DropFailedBatch: true}, mock)

	p.OnEvent(tableEvent("1"), 1, false)

	// The failed batch was dropped after the backoff sleep; nothing delivered
	assert.Equal(t, 0, mock.BatchCount())
	assert.Equal(t, 1, p.BackoffLevel())
	assert.Equal(t, StatusActiveWithError, p.Status().Status)

	// The next event goes through and resets the ladder
	p.OnEvent(tableEvent("2"), 2, false)
	require.Equal(t, 1, mock.BatchCount())
	assert.Equal(t, 0, p.BackoffLevel())
}

func TestPublisher_PermanentFailureDropsBatchImmediately(t *testing.T) {
	mock := &destination.Mock{}
	mock.FailWith(destination.Permanent(fmt.Errorf("bad request")))
	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 1}, mock)

	p.OnEvent(tableEvent("1"), 1, false)

	assert.Equal(t, 0, mock.BatchCount())
	// Permanent failures do not climb the ladder
	assert.Equal(t, 0, p.BackoffLevel())
	st := p.Status()
	assert.Equal(t, StatusActiveWithError, st.Status)
	assert.Contains(t, st.FailureReason, "bad request")
}

func TestPublisher_HaltInterruptsBackoffSleep(t *testing.T) {
	mock := &destination.Mock{}
	// Enough failures to keep the publisher sleeping forever without halt
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = destination.Retriable(fmt.Errorf("connection refused"))
	}
	mock.FailWith(errs...)

	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 1}, mock)
	// Long rungs so the test only passes if halt interrupts the sleep
	p.backoff = NewBackoff([]time.Duration{0, time.Hour})

	done := make(chan struct{})
	go func() {
		p.OnEvent(tableEvent("1"), 1, false)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Halt()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("halt did not interrupt backoff sleep")
	}

	// Halted publishers ignore further events
	p.OnEvent(tableEvent("2"), 2, true)
	assert.Equal(t, 0, mock.BatchCount())
}

func TestPublisher_DrainDeliversRetainedBatchAndCloses(t *testing.T) {
	mock := &destination.Mock{}
	p := testPublisher(t, Subscription{ID: "s1", BatchSize: 10}, mock)

	p.OnEvent(tableEvent("1"), 1, false)
	p.Halt()
	p.Drain()

	require.Equal(t, 1, mock.BatchCount())
	assert.Len(t, mock.Batches()[0], 1)
	assert.True(t, mock.Closed())
}

func TestPublisher_MarkDisabled(t *testing.T) {
	mock := &destination.Mock{}
	p := testPublisher(t, Subscription{ID: "s1"}, mock)

	p.MarkDisabled()
	assert.Equal(t, StatusDisabled, p.Status().Status)
}

func TestPublisher_RequiresEvaluator(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{Subscription: Subscription{ID: "s1"}})
	assert.Error(t, err)
}
