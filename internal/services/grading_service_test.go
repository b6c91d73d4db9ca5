package services

import (
	"log/slog"
	"os"
	"testing"

	"github.com/learnsphere/test-engine/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestGradeChoiceAnswer(t *testing.T) {
	tests := []struct {
		name    string
		correct *string
		answer  string
		want    bool
	}{
		{name: "exact match", correct: strPtr("Paris"), answer: "Paris", want: true},
		{name: "case and whitespace normalized", correct: strPtr("Paris"), answer: "  pArIs ", want: true},
		{name: "wrong answer", correct: strPtr("Paris"), answer: "London", want: false},
		{name: "empty answer", correct: strPtr("Paris"), answer: "", want: false},
		{name: "whitespace only answer", correct: strPtr("Paris"), answer: "   ", want: false},
		{name: "no correct answer on question", correct: nil, answer: "Paris", want: false},
		{name: "true false normalized", correct: strPtr("True"), answer: "true", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := models.SnapshotQuestion{Type: models.MultipleChoice, CorrectAnswer: tt.correct}
			if got := gradeChoiceAnswer(q, tt.answer); got != tt.want {
				t.Errorf("gradeChoiceAnswer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPercentageScore(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		maxScore float64
		want     int
	}{
		{name: "full marks", score: 10, maxScore: 10, want: 100},
		{name: "zero", score: 0, maxScore: 10, want: 0},
		{name: "rounds half up", score: 1, maxScore: 8, want: 13}, // 12.5
		{name: "rounds down", score: 1, maxScore: 3, want: 33},
		{name: "zero max score", score: 5, maxScore: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentageScore(tt.score, tt.maxScore); got != tt.want {
				t.Errorf("percentageScore(%v, %v) = %d, want %d", tt.score, tt.maxScore, got, tt.want)
			}
		})
	}
}

func TestRoundPoints(t *testing.T) {
	if got := roundPoints(2.5 * 0.85); got != 2.13 {
		t.Errorf("roundPoints(2.125) = %v, want 2.13", got)
	}
	if got := roundPoints(3.0); got != 3.0 {
		t.Errorf("roundPoints(3.0) = %v, want 3.0", got)
	}
}

func TestGradeDeterministic(t *testing.T) {
	s := &gradingService{logger: testLogger()}

	snapshot := []models.SnapshotQuestion{
		{Type: models.MultipleChoice, CorrectAnswer: strPtr("B"), Points: 2},
		{Type: models.TrueFalse, CorrectAnswer: strPtr("true"), Points: 1},
		{Type: models.OpenEnded, Points: 5, AIEvaluation: true, Text: "Explain."},
		{Type: models.OpenEnded, Points: 3, AIEvaluation: false},
		{Type: models.OpenEnded, Points: 4, AIEvaluation: true},
	}
	answers := []*models.AttemptAnswer{
		{QuestionIndex: 0, Answer: "b"},
		{QuestionIndex: 1, Answer: "False"},
		{QuestionIndex: 2, Answer: "Because of gravity."},
		{QuestionIndex: 3, Answer: "Essay text"},
		{QuestionIndex: 4, Answer: "   "},
	}

	jobs := s.gradeDeterministic(snapshot, answers)

	if answers[0].IsCorrect == nil || !*answers[0].IsCorrect {
		t.Error("normalized choice answer should be correct")
	}
	if answers[0].PointsAwarded != 2 {
		t.Errorf("correct choice should award full points, got %v", answers[0].PointsAwarded)
	}

	if answers[1].IsCorrect == nil || *answers[1].IsCorrect {
		t.Error("wrong true/false answer should be incorrect")
	}
	if answers[1].PointsAwarded != 0 {
		t.Errorf("wrong answer should award 0 points, got %v", answers[1].PointsAwarded)
	}

	// AI-enabled answer goes to the evaluator, not graded locally
	if len(jobs) != 1 {
		t.Fatalf("expected 1 evaluation job, got %d", len(jobs))
	}
	if jobs[0].AnswerIndex != 2 {
		t.Errorf("expected job for index 2, got %d", jobs[0].AnswerIndex)
	}

	// Open-ended without AI evaluation waits for a human
	if !answers[3].RequiresManualReview {
		t.Error("open-ended answer without AI evaluation should require manual review")
	}
	if answers[3].PointsAwarded != 0 {
		t.Errorf("manual review answer should hold 0 points, got %v", answers[3].PointsAwarded)
	}
	if answers[3].IsCorrect != nil {
		t.Error("manual review answer should stay ungraded")
	}

	// Blank open-ended answer never reaches the evaluator
	if answers[4].IsCorrect == nil || *answers[4].IsCorrect {
		t.Error("blank open-ended answer should be incorrect")
	}
	if answers[4].RequiresManualReview {
		t.Error("blank answer needs no manual review")
	}
}

func TestApplyEvaluationOutcomes(t *testing.T) {
	s := &gradingService{logger: testLogger()}

	snapshot := []models.SnapshotQuestion{
		{Type: models.OpenEnded, Points: 4, AIEvaluation: true},
		{Type: models.OpenEnded, Points: 10, AIEvaluation: true},
		{Type: models.OpenEnded, Points: 5, AIEvaluation: true},
	}
	answers := []*models.AttemptAnswer{
		{QuestionIndex: 0, Answer: "good answer"},
		{QuestionIndex: 1, Answer: "weak answer"},
		{QuestionIndex: 2, Answer: "whatever"},
	}
	outcomes := []EvaluationOutcome{
		{AnswerIndex: 0, Score: 0.85, Feedback: "solid reasoning"},
		{AnswerIndex: 1, Score: 0.5, Feedback: "misses key points"},
		{AnswerIndex: 2, Degraded: true, Feedback: degradedFeedback},
	}

	s.applyEvaluationOutcomes(snapshot, answers, outcomes)

	if answers[0].IsCorrect == nil || !*answers[0].IsCorrect {
		t.Error("score above threshold should be correct")
	}
	if answers[0].PointsAwarded != 3.4 {
		t.Errorf("expected 3.4 points (4 x 0.85), got %v", answers[0].PointsAwarded)
	}
	if answers[0].Feedback == nil || *answers[0].Feedback != "solid reasoning" {
		t.Error("feedback should be stored on the answer")
	}

	if answers[1].IsCorrect == nil || *answers[1].IsCorrect {
		t.Error("score below threshold should be incorrect")
	}
	if answers[1].PointsAwarded != 5 {
		t.Errorf("partial credit should still apply, got %v", answers[1].PointsAwarded)
	}

	if answers[2].PointsAwarded != 0 {
		t.Errorf("degraded outcome should award 0 points, got %v", answers[2].PointsAwarded)
	}
	if !answers[2].RequiresManualReview {
		t.Error("degraded outcome should require manual review")
	}
	if answers[2].Feedback == nil || *answers[2].Feedback != degradedFeedback {
		t.Error("degraded outcome should carry the unavailable-feedback text")
	}
	if answers[2].EvaluationScore != nil {
		t.Error("degraded outcome should not record an evaluation score")
	}
}

func TestAiCorrectThresholdBoundary(t *testing.T) {
	s := &gradingService{logger: testLogger()}

	snapshot := []models.SnapshotQuestion{{Type: models.OpenEnded, Points: 2, AIEvaluation: true}}
	answers := []*models.AttemptAnswer{{QuestionIndex: 0, Answer: "x"}}

	s.applyEvaluationOutcomes(snapshot, answers, []EvaluationOutcome{{AnswerIndex: 0, Score: 0.7}})
	if answers[0].IsCorrect == nil || !*answers[0].IsCorrect {
		t.Error("score exactly at threshold counts as correct")
	}

	answers = []*models.AttemptAnswer{{QuestionIndex: 0, Answer: "x"}}
	s.applyEvaluationOutcomes(snapshot, answers, []EvaluationOutcome{{AnswerIndex: 0, Score: 0.69}})
	if answers[0].IsCorrect == nil || *answers[0].IsCorrect {
		t.Error("score just below threshold counts as incorrect")
	}
}
