package models

import (
	"time"

	"gorm.io/gorm"
)

// Session status values. Transitions are waiting -> active -> completed,
// with completed -> waiting permitted only through an explicit restart.
const (
	SessionStatusWaiting   = "waiting"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

type Session struct {
	ID                string         `json:"id" gorm:"primaryKey"`
	QuizID            string         `json:"quiz_id" gorm:"not null;index"`
	HostID            string         `json:"host_id" gorm:"not null"`
	JoinCode          string         `json:"join_code" gorm:"uniqueIndex;not null"` // 6 chars
	Status            string         `json:"status" gorm:"not null;default:'waiting'"`
	CurrentQuestionID *string        `json:"current_question_id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Quiz    Quiz     `json:"quiz,omitempty"`
	Players []Player `json:"players,omitempty" gorm:"foreignKey:SessionID"`
}
