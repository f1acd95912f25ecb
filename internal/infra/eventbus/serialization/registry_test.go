package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := queue.Job{ModelID: "org-clip", BenchmarkName: "violence", PromptCfgName: "cfg_a"}

	tests := []struct {
		name string
		evt  events.DomainEvent
	}{
		{name: "submitted", evt: queue.JobSubmittedEvent{Timestamp: at, Job: job, Row: 4}},
		{name: "cancelled", evt: queue.JobCancelledEvent{Timestamp: at, ModelID: "org-clip", Rows: []int{2, 5}}},
		{name: "dispatched", evt: queue.JobDispatchedEvent{Timestamp: at, JobID: "j-1", Job: job}},
		{name: "completed", evt: queue.JobCompletedEvent{Timestamp: at, JobID: "j-1", Job: job, Duration: 1500 * time.Millisecond}},
		{name: "failed", evt: queue.JobFailedEvent{Timestamp: at, JobID: "j-1", Job: job, Reason: "exit status 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := events.NewEnvelope(tt.evt, events.WithKey("org-clip"), events.WithHeaders(map[string]string{"source": "worker"}))

			data, err := SerializeEventEnvelope(env)
			require.NoError(t, err)

			got, err := UnmarshalUniversalEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, env.Type, got.Type)
			assert.Equal(t, "org-clip", got.Key)
			assert.Equal(t, map[string]string{"source": "worker"}, got.Headers)
			assert.True(t, at.Equal(got.Timestamp))
			assert.Equal(t, tt.evt, got.Payload)
		})
	}
}

type unknownEvent struct{}

func (unknownEvent) EventType() events.EventType { return "Unknown" }
func (unknownEvent) OccurredAt() time.Time       { return time.Time{} }

func TestSerializeUnknownType(t *testing.T) {
	_, err := SerializeEventEnvelope(events.NewEnvelope(unknownEvent{}))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := UnmarshalUniversalEnvelope([]byte{0xff, 0x01})
	assert.Error(t, err)
}
