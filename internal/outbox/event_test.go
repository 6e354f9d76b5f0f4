package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/txrelay/internal/integration"
)

type accountOpened struct {
	AccountID string `json:"accountId"`
}

func (accountOpened) EventName() string { return "ledger.account.opened" }

func TestNewEvent(t *testing.T) {
	e, err := NewEvent("ledger.account.opened", "ledger-events", []byte(`{"a":1}`))
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, NeverProcessed, e.ProcessedAt)
	assert.False(t, e.IsProcessed())
	assert.Equal(t, DefaultMaxRetries, e.MaxRetries)
	assert.Equal(t, e.CreatedAt, e.CreatedAt.Truncate(time.Millisecond))
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
}

func TestNewEventValidation(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		id      string
		event   string
		topic   string
		payload string
		at      time.Time
		want    error
	}{
		{"missing id", " ", "e", "t", `{}`, at, ErrEventIDRequired},
		{"missing name", "1", "", "t", `{}`, at, ErrEventNameRequired},
		{"missing topic", "1", "e", "  ", `{}`, at, ErrTopicRequired},
		{"missing payload", "1", "e", "t", ``, at, ErrPayloadRequired},
		{"payload not json", "1", "e", "t", `{nope`, at, ErrPayloadNotJSON},
		{"missing created at", "1", "e", "t", `{}`, time.Time{}, ErrCreatedAtRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEventWithID(tt.id, tt.event, tt.topic, []byte(tt.payload), tt.at)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewIntegrationEvent(t *testing.T) {
	e, err := NewIntegrationEvent("ledger-events", accountOpened{AccountID: "acc_1"})
	require.NoError(t, err)

	assert.Equal(t, "ledger.account.opened", e.EventName)
	assert.Equal(t, "ledger-events", e.Topic)

	var env integration.Envelope
	require.NoError(t, json.Unmarshal([]byte(e.Payload), &env))
	assert.Equal(t, e.ID, env.ID)
	assert.Equal(t, e.EventName, env.Name)
	assert.JSONEq(t, `{"accountId":"acc_1"}`, string(env.Data))
}

func TestMarkProcessedIsTerminal(t *testing.T) {
	e, err := NewEvent("e", "t", []byte(`{}`))
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	require.NoError(t, e.MarkProcessed(at))
	assert.True(t, e.IsProcessed())
	assert.Equal(t, at.Truncate(time.Millisecond), e.ProcessedAt)

	require.ErrorIs(t, e.MarkProcessed(at.Add(time.Hour)), ErrAlreadyProcessed)
	assert.Equal(t, at.Truncate(time.Millisecond), e.ProcessedAt)
}

func TestMarkProcessedRejectsSentinel(t *testing.T) {
	e, err := NewEvent("e", "t", []byte(`{}`))
	require.NoError(t, err)

	require.ErrorIs(t, e.MarkProcessed(NeverProcessed), ErrInvalidProcessedAt)
	require.ErrorIs(t, e.MarkProcessed(time.Time{}), ErrInvalidProcessedAt)
	assert.False(t, e.IsProcessed())
}

func TestZeroProcessedAtCountsAsUnprocessed(t *testing.T) {
	assert.False(t, Event{}.IsProcessed())
}

func TestProcessedBefore(t *testing.T) {
	cutoff := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	unprocessed, err := NewEvent("e", "t", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, unprocessed.ProcessedBefore(cutoff))

	older := unprocessed
	require.NoError(t, older.MarkProcessed(cutoff.Add(-time.Second)))
	assert.True(t, older.ProcessedBefore(cutoff))

	exact := unprocessed
	require.NoError(t, exact.MarkProcessed(cutoff))
	assert.False(t, exact.ProcessedBefore(cutoff))
}

func TestCutoff(t *testing.T) {
	base := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"whole millisecond", base, base},
		{"sub millisecond rounds up", base.Add(500 * time.Microsecond), base.Add(time.Millisecond)},
		{"one nanosecond past", base.Add(time.Nanosecond), base.Add(time.Millisecond)},
		{"other zone", base.In(time.FixedZone("UTC+2", 2*60*60)), base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cutoff(tt.in)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestRecordFailure(t *testing.T) {
	e, err := NewEvent("e", "t", []byte(`{}`))
	require.NoError(t, err)
	e.MaxRetries = 2

	require.NoError(t, e.RecordFailure())
	require.NoError(t, e.RecordFailure())
	assert.True(t, e.RetriesExhausted())
	require.ErrorIs(t, e.RecordFailure(), ErrRetriesExhausted)
	assert.Equal(t, 2, e.RetryCount)

	e.MaxRetries = 0
	require.NoError(t, e.RecordFailure())
	assert.False(t, e.RetriesExhausted())
}
