package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/learnsphere/test-engine/internal/evaluation"
	"github.com/learnsphere/test-engine/internal/models"
)

type fakeEvaluator struct {
	calls    atomic.Int64
	evaluate func(ctx context.Context, question, answer, criteria string) (*evaluation.Result, error)
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, question, answer, criteria string) (*evaluation.Result, error) {
	f.calls.Add(1)
	return f.evaluate(ctx, question, answer, criteria)
}

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Workers:     2,
		CallTimeout: time.Second,
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
	}
}

func makeJobs(n int) []EvaluationJob {
	jobs := make([]EvaluationJob, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, EvaluationJob{
			AnswerIndex: i,
			Question:    models.SnapshotQuestion{Type: models.OpenEnded, Points: 5, Text: "Explain."},
			Answer:      "some answer",
		})
	}
	return jobs
}

func TestEvaluateBatch(t *testing.T) {
	evaluator := &fakeEvaluator{
		evaluate: func(ctx context.Context, question, answer, criteria string) (*evaluation.Result, error) {
			return &evaluation.Result{Score: 0.8, Feedback: "ok"}, nil
		},
	}
	c := NewEvaluationCoordinator(evaluator, testCoordinatorConfig(), testLogger())

	outcomes := c.EvaluateBatch(context.Background(), makeJobs(5))
	if len(outcomes) != 5 {
		t.Fatalf("expected 5 outcomes, got %d", len(outcomes))
	}

	seen := make(map[int]bool)
	for _, o := range outcomes {
		if o.Degraded {
			t.Errorf("outcome %d unexpectedly degraded", o.AnswerIndex)
		}
		if o.Score != 0.8 {
			t.Errorf("outcome %d score = %v, want 0.8", o.AnswerIndex, o.Score)
		}
		seen[o.AnswerIndex] = true
	}
	for i := 0; i < 5; i++ {
		if !seen[i] {
			t.Errorf("missing outcome for job %d", i)
		}
	}
}

func TestEvaluateBatch_EmptyJobs(t *testing.T) {
	c := NewEvaluationCoordinator(&fakeEvaluator{}, testCoordinatorConfig(), testLogger())
	if outcomes := c.EvaluateBatch(context.Background(), nil); outcomes != nil {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}
}

func TestEvaluateBatch_DegradesAfterRetries(t *testing.T) {
	evaluator := &fakeEvaluator{
		evaluate: func(ctx context.Context, question, answer, criteria string) (*evaluation.Result, error) {
			return nil, errors.New("connection refused")
		},
	}
	c := NewEvaluationCoordinator(evaluator, testCoordinatorConfig(), testLogger())

	outcomes := c.EvaluateBatch(context.Background(), makeJobs(1))
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if !outcomes[0].Degraded {
		t.Error("outcome should be degraded after all retries fail")
	}
	if outcomes[0].Score != 0 {
		t.Errorf("degraded score = %v, want 0", outcomes[0].Score)
	}
	if outcomes[0].Feedback != degradedFeedback {
		t.Errorf("degraded feedback = %q, want %q", outcomes[0].Feedback, degradedFeedback)
	}

	// Initial call plus one retry
	if got := evaluator.calls.Load(); got != 2 {
		t.Errorf("evaluator called %d times, want 2", got)
	}
}

func TestEvaluateBatch_PartialFailure(t *testing.T) {
	evaluator := &fakeEvaluator{
		evaluate: func(ctx context.Context, question, answer, criteria string) (*evaluation.Result, error) {
			if question == "fail" {
				return nil, errors.New("boom")
			}
			return &evaluation.Result{Score: 1.0}, nil
		},
	}
	c := NewEvaluationCoordinator(evaluator, testCoordinatorConfig(), testLogger())

	jobs := makeJobs(2)
	jobs[1].Question.Text = "fail"

	outcomes := c.EvaluateBatch(context.Background(), jobs)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	byIndex := make(map[int]EvaluationOutcome)
	for _, o := range outcomes {
		byIndex[o.AnswerIndex] = o
	}
	if byIndex[0].Degraded {
		t.Error("healthy job should not degrade because another failed")
	}
	if !byIndex[1].Degraded {
		t.Error("failing job should degrade")
	}
}

func TestEvaluateBatch_CancelledContext(t *testing.T) {
	evaluator := &fakeEvaluator{
		evaluate: func(ctx context.Context, question, answer, criteria string) (*evaluation.Result, error) {
			return nil, ctx.Err()
		},
	}
	c := NewEvaluationCoordinator(evaluator, testCoordinatorConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := c.EvaluateBatch(ctx, makeJobs(4))
	if len(outcomes) != 4 {
		t.Fatalf("expected an outcome per job, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Degraded {
			t.Errorf("outcome %d should be degraded under a cancelled context", o.AnswerIndex)
		}
	}
}
