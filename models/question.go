package models

import (
	"time"

	"gorm.io/gorm"
)

type Question struct {
	ID            string         `json:"id" gorm:"primaryKey"`
	QuizID        string         `json:"quiz_id" gorm:"not null;uniqueIndex:idx_quiz_question_order"`
	Text          string         `json:"text" gorm:"not null"`
	OptionA       string         `json:"option_a" gorm:"not null"`
	OptionB       string         `json:"option_b" gorm:"not null"`
	OptionC       string         `json:"option_c" gorm:"not null"`
	OptionD       string         `json:"option_d" gorm:"not null"`
	CorrectAnswer string         `json:"correct_answer" gorm:"not null"`
	Explanation   string         `json:"explanation"`
	QuestionOrder int            `json:"question_order" gorm:"not null;uniqueIndex:idx_quiz_question_order"` // 1-based
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Quiz Quiz `json:"quiz,omitempty"`
}

// Options returns the four answer options in display order.
func (q *Question) Options() []string {
	return []string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}
