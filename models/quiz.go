package models

import (
	"time"

	"gorm.io/gorm"
)

type Quiz struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	UserID    string         `json:"user_id" gorm:"not null;index"`
	Title     string         `json:"title" gorm:"not null"`
	SourceURL string         `json:"source_url"` // Wikipedia/YouTube URL the questions were generated from
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	User      User       `json:"user,omitempty"`
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:QuizID"`
	Sessions  []Session  `json:"sessions,omitempty" gorm:"foreignKey:QuizID"`
}
