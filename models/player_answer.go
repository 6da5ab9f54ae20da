package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerAnswer is append-only. The composite unique index makes the
// one-answer-per-question rule a hard constraint instead of a convention.
type PlayerAnswer struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	PlayerID       string         `json:"player_id" gorm:"not null;uniqueIndex:idx_player_question"`
	QuestionID     string         `json:"question_id" gorm:"not null;uniqueIndex:idx_player_question"`
	SelectedAnswer string         `json:"selected_answer" gorm:"not null"`
	IsCorrect      bool           `json:"is_correct" gorm:"not null"`
	PointsEarned   int            `json:"points_earned" gorm:"not null"`
	AnsweredAt     time.Time      `json:"answered_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Player   Player   `json:"player,omitempty"`
	Question Question `json:"question,omitempty"`
}
