package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

type gradingService struct {
	repo        repositories.Repository
	logger      *slog.Logger
	coordinator EvaluationCoordinator
}

func NewGradingService(repo repositories.Repository, logger *slog.Logger, coordinator EvaluationCoordinator) GradingService {
	return &gradingService{
		repo:        repo,
		logger:      logger,
		coordinator: coordinator,
	}
}

// GradeAttempt grades all answers of a submitted attempt. Deterministic
// question types are scored locally; open-ended answers with AI
// evaluation enabled are sent through the coordinator. Reads only the
// frozen snapshot, never the live test.
func (s *gradingService) GradeAttempt(ctx context.Context, attemptID uint) error {
	s.logger.Info("Grading attempt", "attempt_id", attemptID)

	attempt, err := s.repo.Attempt().GetByIDWithAnswers(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	// Re-grading an already evaluated attempt is a no-op
	if attempt.Status == models.AttemptEvaluated || attempt.Status == models.AttemptFinalized {
		return nil
	}
	if attempt.Status != models.AttemptSubmitted {
		return ErrAttemptNotActive
	}

	snapshot, err := decodeSnapshot(attempt)
	if err != nil {
		return err
	}

	answers := make([]*models.AttemptAnswer, len(attempt.Answers))
	for i := range attempt.Answers {
		answers[i] = &attempt.Answers[i]
	}

	jobs := s.gradeDeterministic(snapshot, answers)

	if len(jobs) > 0 {
		outcomes := s.coordinator.EvaluateBatch(ctx, jobs)
		s.applyEvaluationOutcomes(snapshot, answers, outcomes)
	}

	var score float64
	for _, answer := range answers {
		score += answer.PointsAwarded
	}
	maxScore := snapshotMaxScore(snapshot)

	attempt.Score = roundPoints(score)
	attempt.MaxScore = maxScore
	attempt.PercentageScore = percentageScore(score, maxScore)
	attempt.Passed = attempt.PercentageScore >= attempt.PassingScorePercent
	attempt.Status = models.AttemptEvaluated

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		for _, answer := range answers {
			if err := txRepo.Attempt().UpdateAnswer(ctx, nil, answer); err != nil {
				return fmt.Errorf("failed to update answer %d: %w", answer.QuestionIndex, err)
			}
		}
		// Guarded by status: a racing grader makes the whole write,
		// answers included, roll back
		return txRepo.Attempt().TransitionStatus(ctx, nil, attempt, models.AttemptSubmitted)
	})
	if errors.Is(err, repositories.ErrStatusConflict) {
		s.logger.Info("Attempt graded by another writer", "attempt_id", attemptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to persist grading: %w", err)
	}

	s.logger.Info("Attempt graded",
		"attempt_id", attemptID,
		"score", attempt.Score,
		"max_score", attempt.MaxScore,
		"percentage", attempt.PercentageScore,
		"passed", attempt.Passed)

	return nil
}

// gradeDeterministic scores choice answers in place and returns the
// jobs that still need the AI evaluator.
func (s *gradingService) gradeDeterministic(snapshot []models.SnapshotQuestion, answers []*models.AttemptAnswer) []EvaluationJob {
	var jobs []EvaluationJob

	for _, answer := range answers {
		if answer.QuestionIndex < 0 || answer.QuestionIndex >= len(snapshot) {
			continue
		}
		question := snapshot[answer.QuestionIndex]
		answer.MaxPoints = question.Points

		switch question.Type {
		case models.MultipleChoice, models.TrueFalse:
			correct := gradeChoiceAnswer(question, answer.Answer)
			answer.IsCorrect = boolPtr(correct)
			if correct {
				answer.PointsAwarded = question.Points
			} else {
				answer.PointsAwarded = 0
			}

		case models.OpenEnded:
			if strings.TrimSpace(answer.Answer) == "" {
				answer.IsCorrect = boolPtr(false)
				answer.PointsAwarded = 0
				continue
			}
			if !question.AIEvaluation {
				// Scored by a human later
				answer.PointsAwarded = 0
				answer.RequiresManualReview = true
				continue
			}
			jobs = append(jobs, EvaluationJob{
				AnswerIndex: answer.QuestionIndex,
				Question:    question,
				Answer:      answer.Answer,
			})
		}
	}

	return jobs
}

// applyEvaluationOutcomes writes coordinator results back onto the
// matching answers.
func (s *gradingService) applyEvaluationOutcomes(snapshot []models.SnapshotQuestion, answers []*models.AttemptAnswer, outcomes []EvaluationOutcome) {
	byIndex := make(map[int]*models.AttemptAnswer, len(answers))
	for _, answer := range answers {
		byIndex[answer.QuestionIndex] = answer
	}

	for _, outcome := range outcomes {
		answer, ok := byIndex[outcome.AnswerIndex]
		if !ok || outcome.AnswerIndex >= len(snapshot) {
			continue
		}
		question := snapshot[outcome.AnswerIndex]

		if outcome.Degraded {
			answer.PointsAwarded = 0
			answer.Feedback = strPtr(outcome.Feedback)
			answer.RequiresManualReview = true
			continue
		}

		score := outcome.Score
		answer.EvaluationScore = &score
		answer.IsCorrect = boolPtr(score >= aiCorrectThreshold)
		answer.PointsAwarded = roundPoints(question.Points * score)
		if outcome.Feedback != "" {
			answer.Feedback = strPtr(outcome.Feedback)
		}
	}
}
