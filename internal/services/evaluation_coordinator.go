package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/learnsphere/test-engine/internal/evaluation"
)

// degradedFeedback is what the test taker sees when the evaluator could
// not be reached. The answer keeps zero points and is flagged for
// manual review instead of blocking the submission.
const degradedFeedback = "automatic evaluation unavailable"

// CoordinatorConfig bounds the evaluator fan-out.
type CoordinatorConfig struct {
	Workers     int
	CallTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Workers:     4,
		CallTimeout: 30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  500 * time.Millisecond,
	}
}

type evaluationCoordinator struct {
	evaluator evaluation.Evaluator
	config    CoordinatorConfig
	logger    *slog.Logger
}

func NewEvaluationCoordinator(evaluator evaluation.Evaluator, config CoordinatorConfig, logger *slog.Logger) EvaluationCoordinator {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &evaluationCoordinator{
		evaluator: evaluator,
		config:    config,
		logger:    logger,
	}
}

// EvaluateBatch runs all jobs through a bounded worker pool and waits
// for every outcome. It never returns an error: jobs that fail after
// retries come back degraded.
func (c *evaluationCoordinator) EvaluateBatch(ctx context.Context, jobs []EvaluationJob) []EvaluationOutcome {
	if len(jobs) == 0 {
		return nil
	}

	jobCh := make(chan EvaluationJob)
	outcomeCh := make(chan EvaluationOutcome, len(jobs))

	workers := c.config.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				outcomeCh <- c.evaluateOne(ctx, job)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				// Remaining jobs degrade below
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomeCh)
	}()

	outcomes := make([]EvaluationOutcome, 0, len(jobs))
	seen := make(map[int]bool, len(jobs))
	for outcome := range outcomeCh {
		outcomes = append(outcomes, outcome)
		seen[outcome.AnswerIndex] = true
	}

	// Jobs dropped by cancellation still need a degraded outcome
	for _, job := range jobs {
		if !seen[job.AnswerIndex] {
			outcomes = append(outcomes, EvaluationOutcome{
				AnswerIndex: job.AnswerIndex,
				Feedback:    degradedFeedback,
				Degraded:    true,
			})
		}
	}

	return outcomes
}

// evaluateOne calls the evaluator with a per-call timeout and bounded
// retries, degrading when every attempt fails.
func (c *evaluationCoordinator) evaluateOne(ctx context.Context, job EvaluationJob) EvaluationOutcome {
	criteria := ""
	if job.Question.EvaluationCriteria != nil {
		criteria = *job.Question.EvaluationCriteria
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if c.config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		}

		result, err := c.evaluator.Evaluate(callCtx, job.Question.Text, job.Answer, criteria)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return EvaluationOutcome{
				AnswerIndex: job.AnswerIndex,
				Score:       result.Score,
				Feedback:    result.Feedback,
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	c.logger.Warn("Evaluation degraded after retries",
		"question_index", job.AnswerIndex,
		"retries", c.config.MaxRetries,
		"error", lastErr)

	return EvaluationOutcome{
		AnswerIndex: job.AnswerIndex,
		Feedback:    degradedFeedback,
		Degraded:    true,
	}
}
