package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/events"
	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
)

// RegisterEventSerializers registers codecs for every job lifecycle event.
func RegisterEventSerializers() {
	RegisterSerializeFunc(queue.EventTypeJobSubmitted, serializeJobSubmitted)
	RegisterDeserializeFunc(queue.EventTypeJobSubmitted, deserializeJobSubmitted)

	RegisterSerializeFunc(queue.EventTypeJobCancelled, serializeJobCancelled)
	RegisterDeserializeFunc(queue.EventTypeJobCancelled, deserializeJobCancelled)

	RegisterSerializeFunc(queue.EventTypeJobDispatched, serializeJobDispatched)
	RegisterDeserializeFunc(queue.EventTypeJobDispatched, deserializeJobDispatched)

	RegisterSerializeFunc(queue.EventTypeJobCompleted, serializeJobCompleted)
	RegisterDeserializeFunc(queue.EventTypeJobCompleted, deserializeJobCompleted)

	RegisterSerializeFunc(queue.EventTypeJobFailed, serializeJobFailed)
	RegisterDeserializeFunc(queue.EventTypeJobFailed, deserializeJobFailed)
}

func jobFields(job queue.Job, extra map[string]*structpb.Value) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"model_id":        structpb.NewStringValue(job.ModelID),
		"benchmark_name":  structpb.NewStringValue(job.BenchmarkName),
		"prompt_cfg_name": structpb.NewStringValue(job.PromptCfgName),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &structpb.Struct{Fields: fields}
}

func jobFromFields(s *structpb.Struct) queue.Job {
	return queue.Job{
		ModelID:       s.GetFields()["model_id"].GetStringValue(),
		BenchmarkName: s.GetFields()["benchmark_name"].GetStringValue(),
		PromptCfgName: s.GetFields()["prompt_cfg_name"].GetStringValue(),
	}
}

func str(s *structpb.Struct, key string) string { return s.GetFields()[key].GetStringValue() }

func serializeJobSubmitted(evt events.DomainEvent) (*structpb.Struct, error) {
	e, ok := evt.(queue.JobSubmittedEvent)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not JobSubmittedEvent", evt)
	}
	return jobFields(e.Job, map[string]*structpb.Value{
		"row": structpb.NewNumberValue(float64(e.Row)),
	}), nil
}

func deserializeJobSubmitted(s *structpb.Struct, at time.Time) (events.DomainEvent, error) {
	return queue.JobSubmittedEvent{
		Timestamp: at,
		Job:       jobFromFields(s),
		Row:       int(s.GetFields()["row"].GetNumberValue()),
	}, nil
}

func serializeJobCancelled(evt events.DomainEvent) (*structpb.Struct, error) {
	e, ok := evt.(queue.JobCancelledEvent)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not JobCancelledEvent", evt)
	}
	rows := make([]*structpb.Value, len(e.Rows))
	for i, r := range e.Rows {
		rows[i] = structpb.NewNumberValue(float64(r))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(e.ModelID),
		"rows":     structpb.NewListValue(&structpb.ListValue{Values: rows}),
	}}, nil
}

func deserializeJobCancelled(s *structpb.Struct, at time.Time) (events.DomainEvent, error) {
	var rows []int
	for _, v := range s.GetFields()["rows"].GetListValue().GetValues() {
		rows = append(rows, int(v.GetNumberValue()))
	}
	return queue.JobCancelledEvent{Timestamp: at, ModelID: str(s, "model_id"), Rows: rows}, nil
}

func serializeJobDispatched(evt events.DomainEvent) (*structpb.Struct, error) {
	e, ok := evt.(queue.JobDispatchedEvent)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not JobDispatchedEvent", evt)
	}
	return jobFields(e.Job, map[string]*structpb.Value{
		"job_id": structpb.NewStringValue(e.JobID),
	}), nil
}

func deserializeJobDispatched(s *structpb.Struct, at time.Time) (events.DomainEvent, error) {
	return queue.JobDispatchedEvent{Timestamp: at, JobID: str(s, "job_id"), Job: jobFromFields(s)}, nil
}

func serializeJobCompleted(evt events.DomainEvent) (*structpb.Struct, error) {
	e, ok := evt.(queue.JobCompletedEvent)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not JobCompletedEvent", evt)
	}
	return jobFields(e.Job, map[string]*structpb.Value{
		"job_id":      structpb.NewStringValue(e.JobID),
		"duration_ms": structpb.NewNumberValue(float64(e.Duration.Milliseconds())),
	}), nil
}

func deserializeJobCompleted(s *structpb.Struct, at time.Time) (events.DomainEvent, error) {
	return queue.JobCompletedEvent{
		Timestamp: at,
		JobID:     str(s, "job_id"),
		Job:       jobFromFields(s),
		Duration:  time.Duration(s.GetFields()["duration_ms"].GetNumberValue()) * time.Millisecond,
	}, nil
}

func serializeJobFailed(evt events.DomainEvent) (*structpb.Struct, error) {
	e, ok := evt.(queue.JobFailedEvent)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not JobFailedEvent", evt)
	}
	return jobFields(e.Job, map[string]*structpb.Value{
		"job_id": structpb.NewStringValue(e.JobID),
		"reason": structpb.NewStringValue(e.Reason),
	}), nil
}

func deserializeJobFailed(s *structpb.Struct, at time.Time) (events.DomainEvent, error) {
	return queue.JobFailedEvent{
		Timestamp: at,
		JobID:     str(s, "job_id"),
		Job:       jobFromFields(s),
		Reason:    str(s, "reason"),
	}, nil
}
