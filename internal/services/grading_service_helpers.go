package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/learnsphere/test-engine/internal/models"
)

// aiCorrectThreshold is the evaluator score at or above which an
// open-ended answer counts as correct.
const aiCorrectThreshold = 0.7

// normalizeAnswer lowercases and trims so "  True " matches "true".
func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// gradeChoiceAnswer grades multiple-choice and true/false answers by
// normalized exact match against the snapshot's correct answer.
func gradeChoiceAnswer(question models.SnapshotQuestion, answer string) bool {
	if question.CorrectAnswer == nil {
		return false
	}
	if strings.TrimSpace(answer) == "" {
		return false
	}
	return normalizeAnswer(answer) == normalizeAnswer(*question.CorrectAnswer)
}

// roundPoints rounds awarded points to two decimal places.
func roundPoints(points float64) float64 {
	return math.Round(points*100) / 100
}

// percentageScore converts a raw score into a whole percentage,
// rounding .5 upward. A zero max score yields zero.
func percentageScore(score, maxScore float64) int {
	if maxScore <= 0 {
		return 0
	}
	return int(math.Round(score / maxScore * 100))
}

// decodeSnapshot unmarshals the frozen question set of an attempt.
func decodeSnapshot(attempt *models.TestAttempt) ([]models.SnapshotQuestion, error) {
	var snapshot []models.SnapshotQuestion
	if err := json.Unmarshal(attempt.QuestionSnapshot, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode question snapshot: %w", err)
	}
	return snapshot, nil
}

// snapshotMaxScore sums the points of every snapshot question.
func snapshotMaxScore(snapshot []models.SnapshotQuestion) float64 {
	var total float64
	for _, q := range snapshot {
		total += q.Points
	}
	return total
}

func boolPtr(b bool) *bool {
	return &b
}

func strPtr(s string) *string {
	return &s
}
