// Package queue holds the domain types exchanged between the sheet-backed job
// queue and the benchmark pipeline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Default column names of the job queue worksheet.
const (
	DefaultModelColumn     = "huggingface_id"
	DefaultBenchmarkColumn = "benchmark_name"
	DefaultPromptCfgColumn = "prompt_cfg_name"
)

// Job is one unit of work: the values of the aligned queue columns that
// shared a row.
type Job struct {
	ModelID       string
	BenchmarkName string
	PromptCfgName string
}

// Validate reports an error if any field is blank.
func (j Job) Validate() error {
	var missing []string
	if strings.TrimSpace(j.ModelID) == "" {
		missing = append(missing, "model id")
	}
	if strings.TrimSpace(j.BenchmarkName) == "" {
		missing = append(missing, "benchmark name")
	}
	if strings.TrimSpace(j.PromptCfgName) == "" {
		missing = append(missing, "prompt config name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteJob, strings.Join(missing, ", "))
	}
	return nil
}

func (j Job) String() string {
	return fmt.Sprintf("%s/%s/%s", j.ModelID, j.BenchmarkName, j.PromptCfgName)
}

// ErrIncompleteJob is returned when a job is missing one of its fields.
var ErrIncompleteJob = errors.New("incomplete job")

// JobHandler processes a dequeued job. Returned errors are logged by the
// dispatcher and never re-queue the job.
type JobHandler func(ctx context.Context, job Job) error

// HandlerFunc3 adapts a function with the fixed three argument shape
// (model id, benchmark name, prompt config name) to a JobHandler.
func HandlerFunc3(fn func(modelID, benchmarkName, promptCfgName string) error) JobHandler {
	if fn == nil {
		return nil
	}
	return func(_ context.Context, job Job) error {
		return fn(job.ModelID, job.BenchmarkName, job.PromptCfgName)
	}
}
