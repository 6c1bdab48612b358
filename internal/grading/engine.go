// Package grading scores coding answers by running them against every test case of a question.
package grading

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/executor"
	"github.com/stemsi/codexam/internal/metrics"
	"github.com/stemsi/codexam/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Messages recorded on test results. Raw interpreter output stays in TestResult.Stderr.
const (
	msgUnavailable = "code execution is temporarily unavailable"
	msgTimeout     = "time limit exceeded"
)

// Config tunes evaluation.
type Config struct {
	// TestTimeout is the budget for a single test case run.
	TestTimeout time.Duration
	// Parallelism bounds concurrent test case runs per evaluation.
	Parallelism int
}

// Engine grades coding answers.
type Engine struct {
	exec   executor.Executor
	cfg    Config
	log    zerolog.Logger
	tracer trace.Tracer
}

// NewEngine creates an Engine backed by exec.
func NewEngine(exec executor.Executor, cfg Config, log zerolog.Logger) *Engine {
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = 5 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Engine{
		exec:   exec,
		cfg:    cfg,
		log:    log.With().Str("component", "grading_engine").Logger(),
		tracer: otel.Tracer("github.com/stemsi/codexam/internal/grading"),
	}
}

// Evaluate runs code against all test cases of q, hidden ones included.
// Per-test failures never abort the evaluation; the verdicts depend only on q and code.
func (e *Engine) Evaluate(ctx context.Context, q *model.Question, code string) model.EvaluationResult {
	result := model.EvaluationResult{
		QuestionID:  q.ID,
		Code:        code,
		TestResults: []model.TestResult{},
		TotalTests:  len(q.TestCases),
	}

	// Unanswered questions are not executed.
	if strings.TrimSpace(code) == "" {
		return result
	}

	ctx, span := e.tracer.Start(ctx, "grading.evaluate", trace.WithAttributes(
		attribute.String("question.id", q.ID.String()),
		attribute.Int("question.tests", len(q.TestCases)),
	))
	defer span.End()

	start := time.Now()
	results := make([]model.TestResult, len(q.TestCases))
	unavailable := make([]bool, len(q.TestCases))

	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for i := range q.TestCases {
		tc := q.TestCases[i]
		g.Go(func() error {
			results[i], unavailable[i] = e.runTest(ctx, tc, code)
			return nil
		})
	}
	_ = g.Wait()

	result.TestResults = results
	for i, tr := range results {
		if tr.Passed {
			result.PassedTests++
		}
		if unavailable[i] {
			result.HasError = true
		}
		if result.ErrorMessage == "" && tr.Error != "" {
			result.ErrorMessage = tr.Error
		}
	}
	if result.HasError {
		result.ErrorMessage = msgUnavailable
	}
	result.Score = Score(result.PassedTests, result.TotalTests)

	elapsed := time.Since(start)
	result.ExecutionTime = elapsed.Milliseconds()
	metrics.GradingDuration.Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("grading.score", result.Score))

	e.log.Debug().
		Str("question_id", q.ID.String()).
		Int("passed", result.PassedTests).
		Int("total", result.TotalTests).
		Bool("has_error", result.HasError).
		Dur("elapsed", elapsed).
		Msg("Answer graded")

	return result
}

func (e *Engine) runTest(ctx context.Context, tc model.TestCase, code string) (model.TestResult, bool) {
	tr := model.TestResult{
		TestCaseID:     tc.ID,
		ExpectedOutput: tc.ExpectedOutput,
	}

	res, err := e.exec.Execute(ctx, executor.Request{
		Code:    code,
		Stdin:   tc.Input,
		Timeout: e.cfg.TestTimeout,
	})
	tr.ExecutionTime = res.Duration.Milliseconds()
	if err != nil {
		e.log.Error().Err(err).Str("test_case_id", tc.ID.String()).Msg("Executor invocation failed")
		tr.Error = msgUnavailable
		return tr, true
	}

	tr.ActualOutput = strings.TrimSpace(res.Stdout)
	tr.Stderr = res.Stderr
	switch {
	case res.TimedOut:
		tr.Error = fmt.Sprintf("%s (%s)", msgTimeout, e.cfg.TestTimeout)
	case res.ExitCode != 0:
		tr.Error = runtimeError(res)
	default:
		tr.Passed = tr.ActualOutput == strings.TrimSpace(tc.ExpectedOutput)
	}
	return tr, false
}

// runtimeError condenses stderr to its last line, which carries the exception for Python.
func runtimeError(res executor.Result) string {
	lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fmt.Sprintf("program exited with status %d", res.ExitCode)
}

// Score is round(passed/total*100), or 0 when there are no tests.
func Score(passed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(passed) / float64(total) * 100))
}
