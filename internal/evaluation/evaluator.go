package evaluation

import (
	"context"
	"fmt"
)

// Result is the structured outcome of evaluating one open-ended answer.
type Result struct {
	Score    float64 `json:"score"` // [0,1]
	Feedback string  `json:"feedback"`
}

// Evaluator scores a free-text answer against evaluation criteria.
type Evaluator interface {
	Evaluate(ctx context.Context, question, answer, criteria string) (*Result, error)
}

// EvaluationError distinguishes "the model returned something unusable"
// from transport failures, so callers can decide whether to retry.
type EvaluationError struct {
	Reason  string
	Wrapped error
}

func (e *EvaluationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("evaluation failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("evaluation failed: %s", e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return e.Wrapped
}
