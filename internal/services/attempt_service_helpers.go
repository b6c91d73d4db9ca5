package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"gorm.io/datatypes"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

// buildQuestionSnapshot freezes the test's current questions into the
// attempt, shuffling the order when the test asks for it. The snapshot
// keeps correct answers and criteria so grading never reads the live
// test again.
func buildQuestionSnapshot(test *models.Test) (datatypes.JSON, error) {
	snapshot := make([]models.SnapshotQuestion, 0, len(test.Questions))
	for _, q := range test.Questions {
		var options []string
		if len(q.Options) > 0 {
			if err := json.Unmarshal(q.Options, &options); err != nil {
				return nil, fmt.Errorf("failed to decode options for question %d: %w", q.ID, err)
			}
		}
		snapshot = append(snapshot, models.SnapshotQuestion{
			QuestionID:         q.ID,
			Position:           q.Position,
			Type:               q.Type,
			Text:               q.Text,
			Options:            options,
			CorrectAnswer:      q.CorrectAnswer,
			Points:             q.Points,
			AIEvaluation:       q.AIEvaluation,
			EvaluationCriteria: q.EvaluationCriteria,
		})
	}

	if test.RandomizeQuestions {
		rand.Shuffle(len(snapshot), func(i, j int) {
			snapshot[i], snapshot[j] = snapshot[j], snapshot[i]
		})
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode question snapshot: %w", err)
	}
	return data, nil
}

// validateSubmission checks every answer against the snapshot before
// anything is written. One bad index rejects the whole submission.
func validateSubmission(req *SubmitAttemptRequest, snapshot []models.SnapshotQuestion) error {
	seen := make(map[int]bool, len(req.Answers))
	for _, a := range req.Answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(snapshot) {
			return fmt.Errorf("%w: question index %d is out of range", ErrInvalidAnswer, a.QuestionIndex)
		}
		if seen[a.QuestionIndex] {
			return fmt.Errorf("%w: duplicate answer for question index %d", ErrInvalidAnswer, a.QuestionIndex)
		}
		seen[a.QuestionIndex] = true
	}
	return nil
}

// buildAnswerRows creates one row per snapshot question, blank for
// questions the taker skipped, so grading sees the full set.
func buildAnswerRows(attemptID uint, req *SubmitAttemptRequest, snapshot []models.SnapshotQuestion) []*models.AttemptAnswer {
	byIndex := make(map[int]string, len(req.Answers))
	for _, a := range req.Answers {
		byIndex[a.QuestionIndex] = a.Answer
	}

	rows := make([]*models.AttemptAnswer, 0, len(snapshot))
	for i, q := range snapshot {
		rows = append(rows, &models.AttemptAnswer{
			AttemptID:     attemptID,
			QuestionIndex: i,
			Answer:        byIndex[i],
			MaxPoints:     q.Points,
		})
	}
	return rows
}

// ===== TIMING =====

func attemptDeadline(attempt *models.TestAttempt) time.Time {
	return attempt.StartedAt.Add(time.Duration(attempt.TimeLimitSeconds) * time.Second)
}

func attemptDeadlinePassed(attempt *models.TestAttempt, now time.Time) bool {
	if attempt.TimeLimitSeconds == 0 {
		return false
	}
	return now.After(attemptDeadline(attempt))
}

func attemptTimeRemaining(attempt *models.TestAttempt, now time.Time) int {
	remaining := attemptDeadline(attempt).Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}

// timeSpentSeconds measures from the server-recorded start, capped at
// the time limit so the stored value never exceeds it.
func timeSpentSeconds(attempt *models.TestAttempt, now time.Time) int {
	spent := int(now.Sub(attempt.StartedAt).Seconds())
	if spent < 0 {
		return 0
	}
	if attempt.TimeLimitSeconds > 0 && spent > attempt.TimeLimitSeconds {
		return attempt.TimeLimitSeconds
	}
	return spent
}

// ===== RESPONSE BUILDING =====

func (s *attemptService) getOwnedAttempt(ctx context.Context, attemptID uint, userID string) (*models.TestAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, ErrAttemptAccessDenied
	}
	return attempt, nil
}

func (s *attemptService) buildAttemptResponse(attempt *models.TestAttempt, testTitle string) (*AttemptResponse, error) {
	snapshot, err := decodeSnapshot(attempt)
	if err != nil {
		return nil, err
	}

	resp := &AttemptResponse{
		ID:               attempt.ID,
		TestID:           attempt.TestID,
		TestTitle:        testTitle,
		AttemptNumber:    attempt.AttemptNumber,
		Status:           attempt.Status,
		StartedAt:        attempt.StartedAt,
		TimeLimitSeconds: attempt.TimeLimitSeconds,
		Questions:        make([]AttemptQuestionView, 0, len(snapshot)),
	}
	if attempt.TimeLimitSeconds > 0 {
		resp.TimeRemainingSeconds = intPtr(attemptTimeRemaining(attempt, time.Now()))
	}
	for i, q := range snapshot {
		resp.Questions = append(resp.Questions, AttemptQuestionView{
			QuestionIndex: i,
			Type:          q.Type,
			Text:          q.Text,
			Options:       q.Options,
			Points:        q.Points,
		})
	}
	return resp, nil
}

func (s *attemptService) buildResultResponse(ctx context.Context, attempt *models.TestAttempt) (*AttemptResultResponse, error) {
	snapshot, err := decodeSnapshot(attempt)
	if err != nil {
		return nil, err
	}

	showCorrect := false
	if test, err := s.repo.Test().GetByID(ctx, nil, attempt.TestID); err == nil {
		showCorrect = test.ShowCorrectAnswers
	}

	resp := &AttemptResultResponse{
		AttemptID:        attempt.ID,
		TestID:           attempt.TestID,
		AttemptNumber:    attempt.AttemptNumber,
		Status:           attempt.Status,
		Score:            attempt.Score,
		MaxScore:         attempt.MaxScore,
		PercentageScore:  attempt.PercentageScore,
		Passed:           attempt.Passed,
		SubmittedAt:      attempt.SubmittedAt,
		FinalizedAt:      attempt.FinalizedAt,
		TimeSpentSeconds: attempt.TimeSpentSeconds,
		Questions:        make([]QuestionResult, 0, len(attempt.Answers)),
	}
	for _, a := range attempt.Answers {
		result := QuestionResult{
			QuestionIndex:        a.QuestionIndex,
			Answer:               a.Answer,
			IsCorrect:            a.IsCorrect,
			PointsAwarded:        a.PointsAwarded,
			MaxPoints:            a.MaxPoints,
			Feedback:             a.Feedback,
			RequiresManualReview: a.RequiresManualReview,
		}
		if a.RequiresManualReview {
			resp.RequiresManualReview = true
		}
		if showCorrect && a.QuestionIndex < len(snapshot) {
			result.CorrectAnswer = snapshot[a.QuestionIndex].CorrectAnswer
		}
		resp.Questions = append(resp.Questions, result)
	}
	return resp, nil
}

func intPtr(i int) *int {
	return &i
}
