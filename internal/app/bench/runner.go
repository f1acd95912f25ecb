// Package bench runs benchmarks for dequeued jobs and records their results
// on the leaderboard.
package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jungseoik/abnormal-leaderboard/internal/domain/queue"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// Result is what a benchmark run produced.
type Result struct {
	Score   string
	Metrics map[string]any
}

// Runner executes one benchmark for a job.
type Runner interface {
	Run(ctx context.Context, job queue.Job) (Result, error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, job queue.Job) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, job queue.Job) (Result, error) { return f(ctx, job) }

// ErrNoResult is returned when the command prints no result line.
var ErrNoResult = errors.New("benchmark produced no result")

// CommandConfig configures CommandRunner.
type CommandConfig struct {
	// Command is the program and leading arguments. The job is appended as
	// --model, --benchmark and --prompt-cfg flags.
	Command []string
	WorkDir string
	Env     []string
	// Timeout bounds one run. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// CommandRunner runs an external benchmark process. The process reports its
// result as a JSON object on the last non-empty line of stdout:
//
//	{"score": 0.91, "metrics": {"f1": 0.88}}
type CommandRunner struct {
	cfg    CommandConfig
	logger *logger.Logger
	tracer trace.Tracer
}

var _ Runner = (*CommandRunner)(nil)

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner(cfg CommandConfig, logger *logger.Logger, tracer trace.Tracer) (*CommandRunner, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("bench command is required")
	}
	return &CommandRunner{
		cfg:    cfg,
		logger: logger.With("component", "bench_runner"),
		tracer: tracer,
	}, nil
}

func (r *CommandRunner) Run(ctx context.Context, job queue.Job) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "bench_runner.run",
		trace.WithAttributes(
			attribute.String("model", job.ModelID),
			attribute.String("benchmark", job.BenchmarkName),
			attribute.String("prompt_cfg", job.PromptCfgName),
		))
	defer span.End()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), r.cfg.Command[1:]...),
		"--model", job.ModelID,
		"--benchmark", job.BenchmarkName,
		"--prompt-cfg", job.PromptCfgName,
	)
	cmd := exec.CommandContext(ctx, r.cfg.Command[0], args...)
	cmd.Dir = r.cfg.WorkDir
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.cfg.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Info(ctx, "Starting benchmark", "job", job.String())
	if err := cmd.Run(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "benchmark command failed")
		r.logger.Error(ctx, "Benchmark command failed",
			"job", job.String(),
			"stderr", tail(stderr.String(), 2048),
			"error", err,
		)
		return Result{}, fmt.Errorf("run benchmark %s: %w", job, err)
	}

	res, err := parseResult(stdout.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid benchmark output")
		return Result{}, fmt.Errorf("benchmark %s: %w", job, err)
	}

	span.SetAttributes(attribute.String("score", res.Score))
	r.logger.Info(ctx, "Benchmark finished", "job", job.String(), "score", res.Score, "duration", time.Since(start))
	return res, nil
}

type resultLine struct {
	Score   json.RawMessage `json:"score"`
	Metrics map[string]any  `json:"metrics"`
}

func parseResult(out []byte) (Result, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return Result{}, ErrNoResult
	}

	var line resultLine
	if err := json.Unmarshal([]byte(last), &line); err != nil {
		return Result{}, fmt.Errorf("decode result line: %w", err)
	}
	if len(line.Score) == 0 || string(line.Score) == "null" {
		return Result{}, ErrNoResult
	}

	score, err := scoreString(line.Score)
	if err != nil {
		return Result{}, err
	}
	return Result{Score: score, Metrics: line.Metrics}, nil
}

// scoreString accepts a JSON number or string.
func scoreString(raw json.RawMessage) (string, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("score must be a number or string, got %s", raw)
	}
	return s, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
