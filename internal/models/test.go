package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	OpenEnded      QuestionType = "open_ended"
)

func (qt QuestionType) IsValid() bool {
	switch qt {
	case MultipleChoice, TrueFalse, OpenEnded:
		return true
	}
	return false
}

// DeterministicallyGradable reports whether answers of this type can be
// scored without an external evaluator.
func (qt QuestionType) DeterministicallyGradable() bool {
	return qt == MultipleChoice || qt == TrueFalse
}

type Test struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	CourseID    uint    `json:"course_id" gorm:"not null;index"`
	Title       string  `json:"title" gorm:"not null;size:255"`
	Description *string `json:"description" gorm:"type:text"`

	// Settings
	TimeLimitMinutes    int `json:"time_limit_minutes" gorm:"not null"` // 0 = unlimited
	PassingScorePercent int `json:"passing_score_percent" gorm:"not null;default:70"`
	MaxAttempts         int `json:"max_attempts" gorm:"not null;default:1"`
	// AllowRetake only tells clients whether to offer a retake after a
	// finished attempt; the MaxAttempts cap alone decides eligibility.
	AllowRetake        bool `json:"allow_retake" gorm:"default:false"`
	RandomizeQuestions bool `json:"randomize_questions" gorm:"default:false"`
	ShowCorrectAnswers bool `json:"show_correct_answers" gorm:"default:false"`
	Published          bool `json:"published" gorm:"default:false;index"`

	// Aggregate statistics, maintained by the stats updater. StatsVersion
	// backs the optimistic concurrency check on every stats write.
	TotalAttempts int     `json:"total_attempts" gorm:"default:0"`
	AverageScore  float64 `json:"average_score" gorm:"default:0"`
	PassRate      float64 `json:"pass_rate" gorm:"default:0"` // percent in [0,100]
	StatsVersion  int64   `json:"-" gorm:"default:0"`

	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []Question `json:"questions" gorm:"foreignKey:TestID"`
	Creator   User       `json:"creator" gorm:"foreignKey:CreatedBy"`
}

type Question struct {
	ID       uint         `json:"id" gorm:"primaryKey"`
	TestID   uint         `json:"test_id" gorm:"not null;index"`
	Position int          `json:"position" gorm:"not null"`
	Type     QuestionType `json:"type" gorm:"not null;size:20"`
	Text     string       `json:"text" gorm:"not null;type:text"`
	Points   float64      `json:"points" gorm:"not null"`

	// Choice questions
	Options       datatypes.JSON `json:"options" gorm:"type:jsonb"` // []string
	CorrectAnswer *string        `json:"correct_answer" gorm:"type:text"`

	// Open-ended questions
	AIEvaluation       bool    `json:"ai_evaluation" gorm:"default:false"`
	EvaluationCriteria *string `json:"evaluation_criteria" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Test Test `json:"-" gorm:"foreignKey:TestID"`
}
